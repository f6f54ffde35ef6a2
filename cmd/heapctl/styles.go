package main

import (
	"fmt"

	"github.com/charmbracelet/lipgloss"
)

var (
	primaryColor = lipgloss.Color("#7D56F4")
	successColor = lipgloss.Color("#04B575")
	mutedColor   = lipgloss.Color("#666666")

	headerStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(primaryColor)

	okStyle = lipgloss.NewStyle().
		Foreground(successColor).
		Bold(true)

	labelStyle = lipgloss.NewStyle().
			Foreground(mutedColor)
)

// styled renders s with st unless colors are disabled.
func styled(st lipgloss.Style, s string) string {
	if noColor {
		return s
	}
	return st.Render(s)
}

// heading prints a section title.
func heading(title string) {
	printInfo("\n%s\n", styled(headerStyle, title))
}

// field prints one aligned "label: value" line.
func field(label, format string, args ...any) {
	label = fmt.Sprintf("%-18s", label+":")
	printInfo("  %s "+format+"\n", append([]any{styled(labelStyle, label)}, args...)...)
}
