package ui

import (
	"github.com/charmbracelet/lipgloss"

	"github.com/abdul-hamid-achik/toolloop/internal/tools"
)

var (
	cyan   = lipgloss.Color("39")
	green  = lipgloss.Color("82")
	amber  = lipgloss.Color("214")
	red    = lipgloss.Color("196")
	gray   = lipgloss.Color("240")
	plain  = lipgloss.NewStyle()
	bold   = plain.Bold(true)
	dim    = plain.Foreground(gray)
	accent = plain.Foreground(cyan)
)

var (
	toolStyle    = accent.Bold(true)
	okStyle      = plain.Foreground(green)
	failStyle    = plain.Foreground(red)
	errorStyle   = failStyle.Bold(true)
	warningStyle = plain.Foreground(amber).Bold(true)
	successStyle = okStyle.Bold(true)
	waitStyle    = plain.Foreground(amber)
)

// levelStyles colors permission prompts by how much a tool can change.
var levelStyles = map[tools.PermissionLevel]lipgloss.Style{
	tools.PermissionRead:    accent.Bold(true),
	tools.PermissionWrite:   warningStyle,
	tools.PermissionExecute: errorStyle,
}

const (
	iconTool    = "⚡"
	iconOK      = "✓"
	iconFail    = "✗"
	iconInfo    = "ℹ"
	iconWarning = "⚠"
	gutter      = "│"
)

var spinnerFrames = []string{"⠋", "⠙", "⠹", "⠸", "⠼", "⠴", "⠦", "⠧", "⠇", "⠏"}

// clearLine erases the current terminal line and returns the cursor to
// column zero.
const clearLine = "\033[2K\r"
