// Package ui renders terminal output for inksync commands.
package ui

import (
	"io"
	"os"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
)

var (
	// Accent highlights keys, paths and counts.
	Accent = lipgloss.NewStyle().Foreground(lipgloss.Color("#A78BFA"))

	// Muted is used for secondary details.
	Muted = lipgloss.NewStyle().Foreground(lipgloss.Color("#6C7086"))

	// Bold is used for headings.
	Bold = lipgloss.NewStyle().Bold(true)

	Pass = lipgloss.NewStyle().Foreground(lipgloss.Color("#A6E3A1"))
	Warn = lipgloss.NewStyle().Foreground(lipgloss.Color("#F9E2AF"))
	Fail = lipgloss.NewStyle().Foreground(lipgloss.Color("#F38BA8"))
)

// Symbols prefixed to status lines.
const (
	SymbolPass = "✓"
	SymbolWarn = "!"
	SymbolFail = "✗"
)

// Init selects the color profile for w. Colors are disabled when noColor is
// set, NO_COLOR is present, or w is not a terminal.
func Init(w io.Writer, noColor bool) {
	if _, ok := os.LookupEnv("NO_COLOR"); ok || noColor {
		lipgloss.SetColorProfile(termenv.Ascii)
		return
	}
	lipgloss.SetColorProfile(termenv.NewOutput(w).EnvColorProfile())
}

func RenderAccent(s string) string { return Accent.Render(s) }
func RenderMuted(s string) string  { return Muted.Render(s) }
func RenderBold(s string) string   { return Bold.Render(s) }

// RenderPass renders a success line.
func RenderPass(s string) string { return Pass.Render(SymbolPass + " " + s) }

// RenderWarn renders a warning line.
func RenderWarn(s string) string { return Warn.Render(SymbolWarn + " " + s) }

// RenderFail renders a failure line.
func RenderFail(s string) string { return Fail.Render(SymbolFail + " " + s) }
