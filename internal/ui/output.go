// Package ui renders agent progress on a terminal.
package ui

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/abdul-hamid-achik/toolloop/internal/tools"
)

const (
	resultPreviewBytes = 500
	resultPreviewLines = 10
)

// OutputHandler writes streamed model text and tool activity to out, and
// warnings, errors and wait indicators to errOut.
type OutputHandler struct {
	out    io.Writer
	errOut io.Writer
	color  bool
}

// NewOutputHandler writes to stdout and stderr, with colors only when stdout
// is a terminal and NO_COLOR is unset.
func NewOutputHandler() *OutputHandler {
	color := os.Getenv("NO_COLOR") == ""
	if fi, err := os.Stdout.Stat(); err != nil || fi.Mode()&os.ModeCharDevice == 0 {
		color = false
	}
	return NewOutputHandlerWithWriters(os.Stdout, os.Stderr, color)
}

func NewOutputHandlerWithWriters(out, errOut io.Writer, color bool) *OutputHandler {
	return &OutputHandler{out: out, errOut: errOut, color: color}
}

func (o *OutputHandler) paint(style lipgloss.Style, text string) string {
	if !o.color {
		return text
	}
	return style.Render(text)
}

// IsTTY reports whether the handler may draw transient status lines.
func (o *OutputHandler) IsTTY() bool { return o.color }

func (o *OutputHandler) StreamText(text string) { fmt.Fprint(o.out, text) }
func (o *OutputHandler) StreamDone()            { fmt.Fprintln(o.out) }
func (o *OutputHandler) Done()                  { fmt.Fprintln(o.out) }

func (o *OutputHandler) ToolCall(name, description string) {
	line := o.paint(toolStyle, iconTool+" "+name)
	if description != "" {
		line += o.paint(dim, " - "+description)
	}
	fmt.Fprintln(o.out, line)
}

// ToolResult prints a failure as its first line, and a success as up to ten
// indented lines of its first 500 bytes.
func (o *OutputHandler) ToolResult(name, result string, isError bool) {
	if isError {
		first, _, _ := strings.Cut(result, "\n")
		fmt.Fprintln(o.out, o.paint(failStyle, iconFail+" "+name+": ")+first)
		return
	}

	fmt.Fprintln(o.out, o.paint(okStyle, iconOK+" "+name))
	if result == "" || result == "(no output)" {
		return
	}
	if len(result) > resultPreviewBytes {
		result = result[:resultPreviewBytes] + "..."
	}
	lines := strings.Split(strings.TrimRight(result, "\n"), "\n")
	if len(lines) > resultPreviewLines {
		lines = append(lines[:resultPreviewLines], "... (truncated)")
	}
	prefix := o.paint(dim, "  "+gutter+" ")
	for _, l := range lines {
		fmt.Fprintln(o.out, prefix+l)
	}
}

func (o *OutputHandler) Error(err error) {
	fmt.Fprintln(o.errOut, o.paint(errorStyle, "Error: ")+err.Error())
}

func (o *OutputHandler) Warning(msg string) {
	fmt.Fprintln(o.errOut, o.paint(warningStyle, iconWarning+" Warning: ")+msg)
}

func (o *OutputHandler) Success(msg string) {
	fmt.Fprintln(o.out, o.paint(successStyle, iconOK+" ")+msg)
}

func (o *OutputHandler) Info(msg string) {
	fmt.Fprintln(o.out, o.paint(accent, iconInfo+" ")+msg)
}

// PermissionPrompt shows what an approval question is about. The question
// itself is asked by the input handler.
func (o *OutputHandler) PermissionPrompt(toolName string, level tools.PermissionLevel, description string) {
	style, ok := levelStyles[level]
	if !ok {
		style = errorStyle
	}
	fmt.Fprintln(o.out)
	fmt.Fprintln(o.out, o.paint(style, "Permission Required: "+toolName))
	fmt.Fprintln(o.out, o.paint(dim, "   Level: ")+o.paint(style, level.String()))
	if description != "" {
		fmt.Fprintln(o.out, o.paint(dim, "   Action: ")+description)
	}
}

func (o *OutputHandler) ModelInfo(model string) {
	fmt.Fprintln(o.out, o.paint(dim, "Using model: ")+o.paint(accent, model))
}

// Usage prints token counts and, when known, the cost.
func (o *OutputHandler) Usage(inputTokens, outputTokens, cacheReadTokens int, cost float64) {
	line := fmt.Sprintf("tokens: %d in / %d out", inputTokens, outputTokens)
	if cacheReadTokens > 0 {
		line += fmt.Sprintf(" (%d cached)", cacheReadTokens)
	}
	if cost > 0 {
		line += fmt.Sprintf(" · $%.4f", cost)
	}
	fmt.Fprintln(o.out, o.paint(dim, line))
}

func (o *OutputHandler) status(line string) { fmt.Fprint(o.errOut, clearLine+line) }
func (o *OutputHandler) clearStatus()       { fmt.Fprint(o.errOut, clearLine) }
