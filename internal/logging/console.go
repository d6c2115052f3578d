package logging

import (
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/charmbracelet/lipgloss"
)

var levelStyles = map[Level]lipgloss.Style{
	LevelDebug: lipgloss.NewStyle().Foreground(lipgloss.Color("8")),
	LevelInfo:  lipgloss.NewStyle().Foreground(lipgloss.Color("12")),
	LevelWarn:  lipgloss.NewStyle().Foreground(lipgloss.Color("11")).Bold(true),
	LevelError: lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Bold(true),
}

// ConsoleWriter prints entries at or above its level to stderr.
type ConsoleWriter struct {
	mu    sync.Mutex
	out   io.Writer
	level Level
	color bool
}

func NewConsoleWriter(level Level, color bool) *ConsoleWriter {
	return &ConsoleWriter{out: os.Stderr, level: level, color: color}
}

// SetOutput redirects the writer, used by tests.
func (c *ConsoleWriter) SetOutput(w io.Writer) {
	c.mu.Lock()
	c.out = w
	c.mu.Unlock()
}

// Enabled reports whether entries at level are printed.
func (c *ConsoleWriter) Enabled(level Level) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return level >= c.level
}

func (c *ConsoleWriter) write(e entry) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e.level < c.level {
		return
	}
	label := fmt.Sprintf("%-5s", e.level)
	if c.color {
		label = levelStyles[e.level].Render(label)
	}
	_, _ = io.WriteString(c.out, e.text(label))
}
