package render

import (
	"strings"

	"github.com/charmbracelet/x/ansi"
)

// Hook post-processes rendered text. Hooks run in the order they were
// configured.
type Hook func(string) string

// StripANSI removes terminal escape sequences, for surfaces that apply their
// own styling
func StripANSI(s string) string {
	return ansi.Strip(s)
}

// TrimTrailingSpace removes trailing blanks from every line and trailing
// blank lines from the text
func TrimTrailingSpace(s string) string {
	lines := strings.Split(s, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimRight(line, " \t")
	}
	return strings.TrimRight(strings.Join(lines, "\n"), "\n")
}
