package main

import (
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/abdul-hamid-achik/toolloop/internal/llm"
)

const previewLen = 200

// renderConversation prints a conversation one message per section, with
// tool blocks summarized on a single line.
func renderConversation(w io.Writer, messages []llm.Message) {
	for i, msg := range messages {
		fmt.Fprintf(w, "--- #%d %s ---\n", i+1, msg.Role)
		if !msg.HasBlocks() {
			fmt.Fprintln(w, preview(msg.Content))
			continue
		}
		for _, b := range msg.Blocks {
			fmt.Fprintln(w, renderBlock(b))
		}
	}
}

func renderBlock(b llm.ContentBlock) string {
	switch b.Type {
	case llm.BlockToolUse:
		return fmt.Sprintf("[tool_use %s] %s(%s)", b.ID, b.Name, renderInput(b.Input))
	case llm.BlockToolResult:
		tag := "tool_result"
		if b.IsError {
			tag = "tool_result error"
		}
		text := b.Text
		for _, c := range b.Content {
			if c.Type == llm.BlockText {
				text += c.Text
			}
		}
		return fmt.Sprintf("[%s %s] %s", tag, b.ToolUseID, preview(text))
	case llm.BlockImage:
		return fmt.Sprintf("[image %s]", b.MediaType)
	default:
		return preview(b.Text)
	}
}

// renderInput lists parameters sorted by name so output is stable.
func renderInput(input map[string]any) string {
	keys := make([]string, 0, len(input))
	for k := range input {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%q", k, preview(fmt.Sprint(input[k]))))
	}
	return strings.Join(parts, ", ")
}

func preview(s string) string {
	s = strings.TrimSpace(s)
	r := []rune(s)
	if len(r) <= previewLen {
		return s
	}
	return string(r[:previewLen]) + fmt.Sprintf("... (%d more characters)", len(r)-previewLen)
}
