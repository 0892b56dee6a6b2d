package tui

import "github.com/mattn/go-runewidth"

// InputField is an immutable single-line editor. Cursor counts runes.
type InputField struct {
	Content []rune
	Cursor  int
	Width   int
}

func NewInputField(width int) InputField {
	return InputField{Width: width}
}

func (inf InputField) Value() string {
	return string(inf.Content)
}

func (inf InputField) WithContent(content string) InputField {
	runes := []rune(content)
	return InputField{
		Content: runes,
		Cursor:  len(runes),
		Width:   inf.Width,
	}
}

func (inf InputField) WithCursor(cursor int) InputField {
	if cursor < 0 {
		cursor = 0
	}
	if cursor > len(inf.Content) {
		cursor = len(inf.Content)
	}
	return InputField{
		Content: inf.Content,
		Cursor:  cursor,
		Width:   inf.Width,
	}
}

func (inf InputField) WithWidth(width int) InputField {
	return InputField{
		Content: inf.Content,
		Cursor:  inf.Cursor,
		Width:   width,
	}
}

func (inf InputField) InsertRune(r rune) InputField {
	content := make([]rune, 0, len(inf.Content)+1)
	content = append(content, inf.Content[:inf.Cursor]...)
	content = append(content, r)
	content = append(content, inf.Content[inf.Cursor:]...)

	return InputField{
		Content: content,
		Cursor:  inf.Cursor + 1,
		Width:   inf.Width,
	}
}

func (inf InputField) DeleteBackward() InputField {
	if inf.Cursor == 0 {
		return inf
	}

	content := make([]rune, 0, len(inf.Content)-1)
	content = append(content, inf.Content[:inf.Cursor-1]...)
	content = append(content, inf.Content[inf.Cursor:]...)

	return InputField{
		Content: content,
		Cursor:  inf.Cursor - 1,
		Width:   inf.Width,
	}
}

func (inf InputField) DeleteForward() InputField {
	if inf.Cursor >= len(inf.Content) {
		return inf
	}

	content := make([]rune, 0, len(inf.Content)-1)
	content = append(content, inf.Content[:inf.Cursor]...)
	content = append(content, inf.Content[inf.Cursor+1:]...)

	return InputField{
		Content: content,
		Cursor:  inf.Cursor,
		Width:   inf.Width,
	}
}

func (inf InputField) MoveLeft() InputField {
	return inf.WithCursor(inf.Cursor - 1)
}

func (inf InputField) MoveRight() InputField {
	return inf.WithCursor(inf.Cursor + 1)
}

func (inf InputField) Home() InputField {
	return inf.WithCursor(0)
}

func (inf InputField) End() InputField {
	return inf.WithCursor(len(inf.Content))
}

func (inf InputField) Clear() InputField {
	return InputField{Width: inf.Width}
}

// Visible returns the part of the content that fits Width and the cursor
// column within it. The view scrolls to keep the cursor visible.
func (inf InputField) Visible() (string, int) {
	if inf.Width <= 0 {
		return "", 0
	}

	start := 0
	for runewidth.StringWidth(string(inf.Content[start:inf.Cursor])) >= inf.Width {
		start++
	}

	visible := runewidth.Truncate(string(inf.Content[start:]), inf.Width, "")
	return visible, runewidth.StringWidth(string(inf.Content[start:inf.Cursor]))
}
