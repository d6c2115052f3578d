package main

import (
	"bytes"
	"strings"
	"testing"
	"time"

	ctxmgr "github.com/abdul-hamid-achik/toolloop/internal/context"
	"github.com/abdul-hamid-achik/toolloop/internal/llm"
	"github.com/abdul-hamid-achik/toolloop/internal/session"
)

func TestRenderConversation(t *testing.T) {
	msgs := []llm.Message{
		llm.UserMessage("fix the build"),
		llm.BlocksMessage(llm.RoleAssistant,
			llm.ToolUseBlock("t1", "execute_command", map[string]any{"command": "make", "timeout": 30}),
			llm.TextBlock("Running make."),
		),
		llm.BlocksMessage(llm.RoleUser, llm.ToolResultBlock("t1", "exit status 2", true)),
	}

	var buf bytes.Buffer
	renderConversation(&buf, msgs)
	got := buf.String()

	for _, want := range []string{
		"--- #1 user ---\nfix the build\n",
		`[tool_use t1] execute_command(command="make", timeout="30")`,
		"Running make.",
		"[tool_result error t1] exit status 2",
	} {
		if !strings.Contains(got, want) {
			t.Errorf("output missing %q:\n%s", want, got)
		}
	}
}

func TestPreview(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"short", "  hello  ", "hello"},
		{"exact", strings.Repeat("a", previewLen), strings.Repeat("a", previewLen)},
		{"long", strings.Repeat("é", previewLen+5), strings.Repeat("é", previewLen) + "... (5 more characters)"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := preview(tt.in); got != tt.want {
				t.Errorf("preview() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestPrintSessions(t *testing.T) {
	var buf bytes.Buffer
	printSessions(&buf, nil)
	if !strings.Contains(buf.String(), "No saved sessions") {
		t.Errorf("empty list output = %q", buf.String())
	}

	buf.Reset()
	printSessions(&buf, []session.SessionInfo{{
		ID:        "0123456789abcdef",
		UpdatedAt: time.Now(),
		MsgCount:  4,
		Format:    "json",
		Preview:   "fix the build",
	}})
	out := buf.String()
	if !strings.Contains(out, "01234567 ") || strings.Contains(out, "0123456789") {
		t.Errorf("id not shortened: %q", out)
	}
	if !strings.Contains(out, "fix the build") {
		t.Errorf("preview missing: %q", out)
	}
}

func TestPrintStats(t *testing.T) {
	sess := &session.Session{
		ID:          "abc",
		Model:       "claude-sonnet-4-5-20250929",
		UpdatedAt:   time.Now(),
		Usage:       llm.Usage{InputTokens: 1000, OutputTokens: 200},
		Calibration: 0.5,
	}
	stats := ctxmgr.ContextStats{ContextWindow: 1000, MessageCount: 2}
	b := ctxmgr.MessageBreakdown{SystemPrompt: 100, UserMessages: 150, Total: 250}

	var buf bytes.Buffer
	printStats(&buf, sess, stats, b)
	out := buf.String()
	for _, want := range []string{"Messages:", "Total (estimate):  250", "25.0% of 1000", "0.50 estimated/actual, ~500 actual", "Input tokens:", "Cost:"} {
		if !strings.Contains(out, want) {
			t.Errorf("stats missing %q:\n%s", want, out)
		}
	}
}
