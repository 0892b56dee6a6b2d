package tui

import (
	"fmt"
	"strings"

	"github.com/gdamore/tcell/v2"
	"github.com/killallgit/threadline/pkg/chat"
	"github.com/killallgit/threadline/pkg/controllers"
	"github.com/killallgit/threadline/pkg/render"
	"github.com/mattn/go-runewidth"
	"github.com/muesli/reflow/wordwrap"
	"github.com/muesli/reflow/wrap"
)

const inputPrompt = "> "

var (
	styleDefault   = tcell.StyleDefault
	styleUser      = tcell.StyleDefault.Foreground(tcell.ColorGreen).Bold(true)
	styleAssistant = tcell.StyleDefault.Foreground(tcell.ColorDodgerBlue).Bold(true)
	styleError     = tcell.StyleDefault.Foreground(tcell.ColorRed).Bold(true)
	styleSystem    = tcell.StyleDefault.Foreground(tcell.ColorYellow)
	styleStatus    = tcell.StyleDefault.Reverse(true)
	styleTool      = tcell.StyleDefault.Foreground(tcell.ColorGray)
)

type renderedMessage struct {
	width int
	lines []string
}

type line struct {
	text  string
	style tcell.Style
}

func (a *App) draw() {
	a.screen.Clear()
	w, h := a.screen.Size()
	if w <= 0 || h <= 0 {
		return
	}

	a.drawInput(w, h-1)
	if h < 2 {
		a.screen.Show()
		return
	}
	a.drawText(0, h-2, w, a.statusLine(), styleStatus, true)

	top := h - 2
	toolLines := a.toolLines(w, (h-2)/3)
	for i := len(toolLines) - 1; i >= 0 && top > 0; i-- {
		top--
		a.drawText(0, top, w, toolLines[i], styleTool, false)
	}

	body := a.messageLines(w)
	end := len(body) - a.scroll
	if end < 0 {
		end = 0
	}
	y := top
	for i := end - 1; i >= 0 && y > 0; i-- {
		y--
		a.drawText(0, y, w, body[i].text, body[i].style, false)
	}

	a.screen.Show()
}

func (a *App) drawInput(w, y int) {
	if y < 0 {
		return
	}
	prompt := inputPrompt
	if a.attachment != nil {
		prompt = "[img] " + inputPrompt
	}
	pw := runewidth.StringWidth(prompt)
	a.drawText(0, y, w, prompt, styleUser, false)

	a.input = a.input.WithWidth(w - pw)
	text, cursor := a.input.Visible()
	a.drawText(pw, y, w-pw, text, styleDefault, false)
	a.screen.ShowCursor(pw+cursor, y)
}

func (a *App) statusLine() string {
	parts := []string{a.model, a.state.String()}
	if a.contextLen > 0 {
		parts = append(parts, fmt.Sprintf("%d in context", a.contextLen))
	}
	if a.info != nil {
		parts = append(parts, a.info.text)
	}
	if a.status != "" {
		parts = append(parts, a.status)
	}
	return " " + strings.Join(parts, " | ")
}

func (a *App) toolLines(w, limit int) []string {
	if len(a.tools) == 0 || limit <= 0 {
		return nil
	}
	rendered := render.StripANSI(render.ToolList(a.tools, w))
	lines := strings.Split(strings.TrimRight(rendered, "\n"), "\n")
	if len(lines) > limit {
		lines = lines[len(lines)-limit:]
	}
	return lines
}

func (a *App) messageLines(w int) []line {
	var out []line
	for _, msg := range a.messages {
		if a.live != nil && msg.ID == a.live.MessageID {
			continue
		}
		out = append(out, a.header(msg.Role, msg.Attachment))
		style := styleDefault
		if msg.IsError() {
			style = styleError
		}
		for _, text := range a.cachedBody(msg, w) {
			out = append(out, line{text: text, style: style})
		}
		out = append(out, line{})
	}

	if a.live != nil {
		out = append(out, a.header(chat.RoleAssistant, nil))
		for _, text := range a.body(chat.RoleAssistant, a.live.Content, w) {
			out = append(out, line{text: text, style: styleDefault})
		}
	} else if a.state == controllers.StateGenerating {
		out = append(out, line{text: "...", style: styleSystem})
	}
	return out
}

func (a *App) header(role string, att *chat.AttachmentRef) line {
	switch role {
	case chat.RoleUser:
		text := "You:"
		if att != nil {
			text += " [image: " + att.Name + "]"
		}
		return line{text: text, style: styleUser}
	case chat.RoleAssistant:
		return line{text: "Assistant:", style: styleAssistant}
	case chat.RoleError:
		return line{text: "Error:", style: styleError}
	default:
		return line{text: "System:", style: styleSystem}
	}
}

func (a *App) cachedBody(msg chat.Message, w int) []string {
	if cached, ok := a.cache[msg.ID]; ok && cached.width == w {
		return cached.lines
	}
	lines := a.body(msg.Role, msg.Content, w)
	a.cache[msg.ID] = renderedMessage{width: w, lines: lines}
	return lines
}

func (a *App) body(role, content string, w int) []string {
	text := content
	if role == chat.RoleAssistant && a.renderer != nil {
		text = a.renderer.Render(content)
	}
	text = wrap.String(wordwrap.String(text, w), w)
	return strings.Split(strings.TrimRight(text, "\n"), "\n")
}

// drawText writes s at (x, y), clipped to width columns. With fill the rest
// of the row takes the style too.
func (a *App) drawText(x, y, width int, s string, style tcell.Style, fill bool) {
	col := 0
	for _, r := range s {
		rw := runewidth.RuneWidth(r)
		if rw == 0 {
			continue
		}
		if col+rw > width {
			break
		}
		a.screen.SetContent(x+col, y, r, nil, style)
		col += rw
	}
	if fill {
		for ; col < width; col++ {
			a.screen.SetContent(x+col, y, ' ', nil, style)
		}
	}
}
