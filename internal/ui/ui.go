// Package ui provides terminal styling for reel command output.
//
// Styles degrade to plain text when stdout is not a terminal, when the
// terminal reports no color support, or when NO_COLOR is set, so piped
// output stays clean.
package ui

import (
	"os"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
	"golang.org/x/term"
)

var (
	accentStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("12")).Bold(true)
	passStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	warnStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
	failStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Bold(true)
	mutedStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	headerStyle = lipgloss.NewStyle().Bold(true).Underline(true)
)

var colorEnabled = detectColor()

func detectColor() bool {
	if os.Getenv("NO_COLOR") != "" {
		return false
	}
	if !term.IsTerminal(int(os.Stdout.Fd())) {
		return false
	}
	return termenv.ColorProfile() != termenv.Ascii
}

func render(style lipgloss.Style, s string) string {
	if !colorEnabled {
		return s
	}
	return style.Render(s)
}

// RenderAccent highlights a status marker or heading fragment.
func RenderAccent(s string) string { return render(accentStyle, s) }

// RenderPass marks success output.
func RenderPass(s string) string { return render(passStyle, s) }

// RenderWarn marks warnings and partial results.
func RenderWarn(s string) string { return render(warnStyle, s) }

// RenderFail marks failures.
func RenderFail(s string) string { return render(failStyle, s) }

// RenderMuted dims secondary detail like ids and timestamps.
func RenderMuted(s string) string { return render(mutedStyle, s) }

// RenderHeader styles a section heading.
func RenderHeader(s string) string { return render(headerStyle, s) }
