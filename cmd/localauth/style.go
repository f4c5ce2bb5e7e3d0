package main

import (
	"fmt"

	"github.com/charmbracelet/lipgloss"
)

var (
	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#00d7ff"))
	okStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#00af5f"))
	warnStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#ffaf00"))
	failStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#ff5f5f"))
	labelStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#808080")).Width(22)
)

func printTitle(s string) {
	fmt.Println(titleStyle.Render(s))
}

func printOK(format string, args ...any) {
	fmt.Println(okStyle.Render("✓ ") + fmt.Sprintf(format, args...))
}

func printWarn(format string, args ...any) {
	fmt.Println(warnStyle.Render("⚠ ") + fmt.Sprintf(format, args...))
}

// printFail writes the one-line fatal diagnostic to stderr.
func printFail(format string, args ...any) {
	fmt.Fprintln(stderr, failStyle.Render("✗ ")+fmt.Sprintf(format, args...))
}

func printField(label string, value any) {
	fmt.Printf("  %s %v\n", labelStyle.Render(label), value)
}
