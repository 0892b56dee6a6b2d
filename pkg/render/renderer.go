// Package render turns assistant content and tool invocations into terminal
// text.
package render

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/glamour"
	"github.com/killallgit/threadline/pkg/config"
	"github.com/killallgit/threadline/pkg/logger"
	"github.com/muesli/reflow/wordwrap"
)

// Renderer renders message content as markdown or as wrapped plain text with
// highlighted code blocks, then applies its hooks
type Renderer struct {
	markdown bool
	style    string
	wordWrap int
	hooks    []Hook

	highlightStyle     string
	highlightFormatter string

	glamour     *glamour.TermRenderer
	highlighter *Highlighter
	log         *logger.ComponentLogger
}

// Option configures a Renderer
type Option func(*Renderer)

// WithMarkdown toggles glamour rendering
func WithMarkdown(enabled bool) Option {
	return func(r *Renderer) { r.markdown = enabled }
}

// WithStyle sets the glamour style name or path
func WithStyle(style string) Option {
	return func(r *Renderer) { r.style = style }
}

// WithWordWrap sets the wrap width. Zero disables wrapping.
func WithWordWrap(width int) Option {
	return func(r *Renderer) { r.wordWrap = width }
}

// WithHighlight sets the chroma style and formatter used in plain mode
func WithHighlight(style, formatter string) Option {
	return func(r *Renderer) {
		r.highlightStyle = style
		r.highlightFormatter = formatter
	}
}

// WithHooks appends post-render hooks
func WithHooks(hooks ...Hook) Option {
	return func(r *Renderer) { r.hooks = append(r.hooks, hooks...) }
}

// New creates a renderer. Markdown with the notty style is the default.
func New(opts ...Option) (*Renderer, error) {
	r := &Renderer{
		markdown:           true,
		style:              "notty",
		wordWrap:           100,
		highlightStyle:     "monokai",
		highlightFormatter: "terminal16m",
		log:                logger.WithComponent("render"),
	}
	for _, opt := range opts {
		opt(r)
	}

	r.highlighter = NewHighlighter(r.highlightStyle, r.highlightFormatter)

	if r.markdown {
		tr, err := glamour.NewTermRenderer(
			glamour.WithStylePath(r.style),
			glamour.WithWordWrap(r.wordWrap),
		)
		if err != nil {
			return nil, fmt.Errorf("failed to create markdown renderer: %w", err)
		}
		r.glamour = tr
	}
	return r, nil
}

// FromConfig creates a renderer from the render section of the config
func FromConfig(cfg config.RenderConfig, hooks ...Hook) (*Renderer, error) {
	return New(
		WithMarkdown(cfg.Markdown),
		WithStyle(cfg.Style),
		WithWordWrap(cfg.WordWrap),
		WithHighlight(cfg.HighlightStyle, cfg.HighlightFormatter),
		WithHooks(hooks...),
	)
}

// Render renders content and runs the hooks over the result
func (r *Renderer) Render(content string) string {
	out := r.body(content)
	for _, hook := range r.hooks {
		out = hook(out)
	}
	return out
}

func (r *Renderer) body(content string) string {
	if content == "" {
		return ""
	}
	if r.glamour != nil {
		rendered, err := r.glamour.Render(content)
		if err == nil {
			return strings.Trim(rendered, "\n")
		}
		r.log.Warn("Markdown rendering failed, using plain text", "error", err)
	}
	return r.highlighter.HighlightFences(content, r.wrap)
}

func (r *Renderer) wrap(text string) string {
	if r.wordWrap <= 0 {
		return text
	}
	return wordwrap.String(text, r.wordWrap)
}

// Markdown reports whether glamour rendering is enabled
func (r *Renderer) Markdown() bool {
	return r.glamour != nil
}
