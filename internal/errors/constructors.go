package errors

import (
	"sort"
	"strings"
)

// Model client. Only a rejected request is final.

func LLMUnavailable(cause error) *LoopError {
	return newError(CategoryLLM, "llm_unavailable", true, cause, "LLM service is unavailable")
}

func LLMRequestFailed(cause error) *LoopError {
	return newError(CategoryLLM, "llm_request_failed", true, cause, "LLM request failed")
}

func LLMTimeout(cause error) *LoopError {
	return newError(CategoryLLM, "llm_timeout", true, cause, "LLM request timed out")
}

// LLMRequestRejected is a request the provider refused outright, such as a
// prompt larger than the context window.
func LLMRequestRejected(cause error) *LoopError {
	return newError(CategoryLLM, "llm_request_rejected", false, cause, "LLM request rejected")
}

// Tag stream.

// MalformedToolTag is a tool container without a name attribute.
func MalformedToolTag(tag string) *LoopError {
	return newError(CategoryParser, "malformed_tool_tag", false, nil, "<%s> tag is missing the name attribute", tag)
}

func MismatchedClosingTag(expected, got string) *LoopError {
	return newError(CategoryParser, "mismatched_closing_tag", false, nil, "expected </%s>, got </%s>", expected, got)
}

func UnclosedToolTag(tag string) *LoopError {
	return newError(CategoryParser, "unclosed_tool_tag", false, nil, "stream ended before </%s>", tag)
}

// Tools.

func ToolNotFound(name string) *LoopError {
	return newError(CategoryTool, "tool_not_found", false, nil, "tool %q not found", name)
}

// ToolValidationFailed lists the field messages in name order so the text
// is stable.
func ToolValidationFailed(name string, fields map[string]string) *LoopError {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for i, k := range keys {
		keys[i] = k + ": " + fields[k]
	}
	err := newError(CategoryTool, "tool_validation_failed", false, nil,
		"invalid parameters for tool %q: %s", name, strings.Join(keys, "; "))
	err.Fields = fields
	return err
}

// ToolExecutionFailed is retryable when its cause is.
func ToolExecutionFailed(name string, cause error) *LoopError {
	return newError(CategoryTool, "tool_execution_failed", IsRetryable(cause), cause, "tool %q execution failed", name)
}

func ToolCancelled(name string, cause error) *LoopError {
	return newError(CategoryTool, "tool_cancelled", false, cause, "tool %q was cancelled", name)
}

func ToolDenied(name string) *LoopError {
	return newError(CategoryTool, "tool_denied", false, nil, "tool %q was denied by the user", name)
}

// Loop, context and persistence.

func MaxIterationsReached(iterations int) *LoopError {
	return newError(CategoryAgent, "max_iterations_reached", false, nil, "agent loop exceeded %d iterations", iterations)
}

// NoProgress stops a task after turns in a row without a successful tool.
func NoProgress(turns int) *LoopError {
	return newError(CategoryAgent, "no_progress", false, nil, "the model made no progress in %d consecutive turns", turns)
}

// ContextWindowExceeded means the conversation does not fit even after
// truncation.
func ContextWindowExceeded(used, limit int) *LoopError {
	return newError(CategoryContext, "context_window_exceeded", false, nil,
		"chat finished: context window exceeded (%d/%d tokens used)", used, limit)
}

func ConfigLoadFailed(path string, cause error) *LoopError {
	return newError(CategoryConfig, "config_load_failed", false, cause, "failed to load config from %q", path)
}

func SessionLoadFailed(id string, cause error) *LoopError {
	return newError(CategorySession, "session_load_failed", false, cause, "failed to load session %q", id)
}

func SessionSaveFailed(id string, cause error) *LoopError {
	return newError(CategorySession, "session_save_failed", true, cause, "failed to save session %q", id)
}
