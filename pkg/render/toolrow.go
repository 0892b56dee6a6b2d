package render

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/killallgit/threadline/pkg/tools"
)

var (
	colorMuted   = lipgloss.Color("#5c5044")
	colorSuccess = lipgloss.Color("#93b56b")
	colorWarning = lipgloss.Color("#f5b761")
	colorError   = lipgloss.Color("#d95f5f")
	colorBorder  = lipgloss.Color("#83715f")

	labelStyle = lipgloss.NewStyle().Foreground(colorMuted).Bold(true)
	nameStyle  = lipgloss.NewStyle().Bold(true)
	boxStyle   = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(colorBorder).
			Padding(0, 1)
)

// StatusIcon returns the one-character marker for status
func StatusIcon(status tools.Status) string {
	switch status {
	case tools.StatusCompleted:
		return "✓"
	case tools.StatusError:
		return "✗"
	default:
		return "…"
	}
}

func statusStyle(status tools.Status) lipgloss.Style {
	switch status {
	case tools.StatusCompleted:
		return lipgloss.NewStyle().Foreground(colorSuccess)
	case tools.StatusError:
		return lipgloss.NewStyle().Foreground(colorError)
	default:
		return lipgloss.NewStyle().Foreground(colorWarning)
	}
}

// ToolRow renders inv as a one-line summary when collapsed or as a bordered
// box with arguments and result when expanded
func ToolRow(inv tools.Invocation, width int) string {
	header := fmt.Sprintf("%s %s %s",
		statusStyle(inv.Status).Render(StatusIcon(inv.Status)),
		nameStyle.Render(displayName(inv)),
		lipgloss.NewStyle().Foreground(colorMuted).Render(string(inv.Status)),
	)
	if d := inv.Duration(); inv.Status.IsTerminal() && d > 0 {
		header += lipgloss.NewStyle().Foreground(colorMuted).Render(fmt.Sprintf(" (%s)", d.Round(time.Millisecond)))
	}

	if !inv.Expanded {
		if summary := truncate(oneLine(inv.ArgsJSON), width-lipgloss.Width(header)-1); summary != "" {
			header += " " + lipgloss.NewStyle().Foreground(colorMuted).Render(summary)
		}
		return header
	}

	var body strings.Builder
	body.WriteString(header)
	if args := inv.FormattedArgs(); strings.TrimSpace(args) != "" {
		body.WriteString("\n")
		body.WriteString(labelStyle.Render("args"))
		body.WriteString("\n")
		body.WriteString(args)
	}
	if inv.HasResult() {
		body.WriteString("\n")
		body.WriteString(labelStyle.Render("result"))
		body.WriteString("\n")
		body.WriteString(inv.FormattedResult())
	}

	style := boxStyle
	if inv.Status == tools.StatusError {
		style = style.BorderForeground(colorError)
	}
	if width > 4 {
		style = style.Width(width - 2)
	}
	return style.Render(body.String())
}

// ToolList renders every invocation in order, one row or box each
func ToolList(invs []tools.Invocation, width int) string {
	rows := make([]string, 0, len(invs))
	for _, inv := range invs {
		rows = append(rows, ToolRow(inv, width))
	}
	return strings.Join(rows, "\n")
}

func displayName(inv tools.Invocation) string {
	if inv.Name == "" {
		return inv.ID
	}
	return inv.Name
}

func oneLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func truncate(s string, width int) string {
	if width <= 1 {
		return ""
	}
	runes := []rune(s)
	if len(runes) <= width {
		return s
	}
	return string(runes[:width-1]) + "…"
}
