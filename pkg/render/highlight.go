package render

import (
	"regexp"
	"strings"

	"github.com/alecthomas/chroma/v2"
	"github.com/alecthomas/chroma/v2/formatters"
	"github.com/alecthomas/chroma/v2/lexers"
	"github.com/alecthomas/chroma/v2/styles"
)

var fencePattern = regexp.MustCompile("(?s)```([\\w+#.-]*)[ \\t]*\\n(.*?)\\n?```")

// Highlighter colours code with chroma
type Highlighter struct {
	formatter chroma.Formatter
	style     *chroma.Style
}

// NewHighlighter looks up the named formatter and style, falling back to
// chroma's defaults for unknown names
func NewHighlighter(styleName, formatterName string) *Highlighter {
	formatter := formatters.Get(formatterName)
	if formatter == nil {
		formatter = formatters.Fallback
	}
	style := styles.Get(styleName)
	if style == nil {
		style = styles.Fallback
	}
	return &Highlighter{formatter: formatter, style: style}
}

// Highlight colours code written in language. An empty or unknown language
// is guessed from the content. On failure the code is returned unchanged.
func (h *Highlighter) Highlight(code, language string) string {
	if code == "" {
		return ""
	}

	var lexer chroma.Lexer
	if language != "" {
		lexer = lexers.Get(language)
	}
	if lexer == nil {
		lexer = lexers.Analyse(code)
	}
	if lexer == nil {
		lexer = lexers.Fallback
	}
	lexer = chroma.Coalesce(lexer)

	iterator, err := lexer.Tokenise(nil, code)
	if err != nil {
		return code
	}

	var buf strings.Builder
	if err := h.formatter.Format(&buf, h.style, iterator); err != nil {
		return code
	}
	return strings.TrimRight(buf.String(), "\n")
}

// HighlightFences colours every fenced code block in text and leaves the
// rest untouched. The fence markers are dropped.
func (h *Highlighter) HighlightFences(text string, wrapProse func(string) string) string {
	var b strings.Builder
	last := 0
	for _, loc := range fencePattern.FindAllStringSubmatchIndex(text, -1) {
		b.WriteString(wrapProse(text[last:loc[0]]))
		language := text[loc[2]:loc[3]]
		code := text[loc[4]:loc[5]]
		b.WriteString(h.Highlight(code, language))
		last = loc[1]
	}
	b.WriteString(wrapProse(text[last:]))
	return b.String()
}
