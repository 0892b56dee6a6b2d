package headless

import (
	"fmt"
	"io"

	"github.com/fatih/color"
	"github.com/killallgit/threadline/pkg/tools"
)

// Output writes headless console output. Streamed content and tool lines go
// to out, errors go to errOut.
type Output struct {
	out    io.Writer
	errOut io.Writer

	errorColor *color.Color
	infoColor  *color.Color
	toolColor  *color.Color
	okColor    *color.Color
	dimColor   *color.Color
}

// NewOutput creates an output handler
func NewOutput(out, errOut io.Writer) *Output {
	return &Output{
		out:        out,
		errOut:     errOut,
		errorColor: color.New(color.FgRed, color.Bold),
		infoColor:  color.New(color.FgCyan),
		toolColor:  color.New(color.FgYellow),
		okColor:    color.New(color.FgGreen),
		dimColor:   color.New(color.Faint),
	}
}

// Content prints a streamed content delta as is
func (o *Output) Content(delta string) {
	fmt.Fprint(o.out, delta)
}

// Break separates two assistant messages
func (o *Output) Break() {
	fmt.Fprint(o.out, "\n\n")
}

// Error prints an error message in red
func (o *Output) Error(msg string) {
	o.errorColor.Fprintf(o.errOut, "Error: %s\n", msg)
}

// Info prints a server notice
func (o *Output) Info(text string) {
	o.infoColor.Fprintf(o.out, "\n[info] %s\n", text)
}

// Tool prints one tool status transition
func (o *Output) Tool(inv tools.Invocation) {
	c := o.toolColor
	switch inv.Status {
	case tools.StatusCompleted:
		c = o.okColor
	case tools.StatusError:
		c = o.errorColor
	}

	name := inv.Name
	if name == "" {
		name = inv.ID
	}
	c.Fprintf(o.out, "\n[tool] %s %s\n", name, inv.Status)
	if inv.Status == tools.StatusError && inv.HasResult() {
		o.dimColor.Fprintf(o.out, "%s\n", inv.FormattedResult())
	}
}

// Summary prints the token totals of the session
func (o *Output) Summary(sent, received int, exact bool) {
	suffix := ""
	if !exact {
		suffix = " (estimated)"
	}
	o.dimColor.Fprintf(o.out, "\n[Tokens - Sent: %d, Received: %d, Total: %d]%s\n", sent, received, sent+received, suffix)
}
