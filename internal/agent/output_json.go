package agent

import (
	"encoding/json"
	"io"
	"strings"
)

// JSONOutput collects a run and writes it as one JSON document with Emit.
type JSONOutput struct {
	discard
	text   strings.Builder
	calls  []jsonToolCall
	errors []string
	usage  *jsonUsage
}

type jsonToolCall struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Result      string `json:"result,omitempty"`
	IsError     bool   `json:"is_error,omitempty"`
	done        bool
}

type jsonUsage struct {
	InputTokens     int     `json:"input_tokens"`
	OutputTokens    int     `json:"output_tokens"`
	CacheReadTokens int     `json:"cache_read_tokens,omitempty"`
	CostUSD         float64 `json:"cost_usd,omitempty"`
}

func (j *JSONOutput) StreamText(text string) { j.text.WriteString(text) }
func (j *JSONOutput) Error(err error)        { j.errors = append(j.errors, err.Error()) }

func (j *JSONOutput) ToolCall(name, description string) {
	j.calls = append(j.calls, jsonToolCall{Name: name, Description: description})
}

// ToolResult fills in the most recent call to name that has no result yet.
func (j *JSONOutput) ToolResult(name, result string, isError bool) {
	for i := len(j.calls) - 1; i >= 0; i-- {
		if c := &j.calls[i]; c.Name == name && !c.done {
			c.Result, c.IsError, c.done = result, isError, true
			return
		}
	}
}

func (j *JSONOutput) Usage(in, out, cacheRead int, cost float64) {
	j.usage = &jsonUsage{InputTokens: in, OutputTokens: out, CacheReadTokens: cacheRead, CostUSD: cost}
}

// Emit writes the collected run to w. With a nil result only the text,
// tool calls, usage and errors are reported.
func (j *JSONOutput) Emit(w io.Writer, res *TaskResult) error {
	doc := struct {
		SessionID  string         `json:"session_id,omitempty"`
		Completed  bool           `json:"completed"`
		Completion string         `json:"completion,omitempty"`
		Iterations int            `json:"iterations,omitempty"`
		Text       string         `json:"text"`
		ToolCalls  []jsonToolCall `json:"tool_calls,omitempty"`
		Usage      *jsonUsage     `json:"usage,omitempty"`
		Errors     []string       `json:"errors,omitempty"`
	}{
		Text:      j.text.String(),
		ToolCalls: j.calls,
		Usage:     j.usage,
		Errors:    j.errors,
	}
	if res != nil {
		doc.SessionID = res.SessionID
		doc.Completed = res.Completed
		doc.Completion = res.Completion
		doc.Iterations = res.Iterations
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(doc)
}
