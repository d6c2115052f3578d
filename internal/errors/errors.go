// Package errors defines the structured error shared by the loop, its
// tools and the model client.
package errors

import (
	"errors"
	"fmt"
)

// Category names the subsystem an error comes from.
type Category string

const (
	CategoryLLM     Category = "llm"
	CategoryTool    Category = "tool"
	CategoryParser  Category = "parser"
	CategoryAgent   Category = "agent"
	CategoryConfig  Category = "config"
	CategoryContext Category = "context"
	CategorySession Category = "session"
)

// LoopError carries a stable code next to a message fit for the user.
// Two LoopErrors match with errors.Is when category and code agree.
type LoopError struct {
	Category  Category
	Code      string
	Message   string
	Retryable bool
	Cause     error
	// Fields maps a parameter name to what is wrong with it.
	Fields map[string]string
}

func newError(cat Category, code string, retryable bool, cause error, format string, args ...any) *LoopError {
	return &LoopError{
		Category:  cat,
		Code:      code,
		Message:   fmt.Sprintf(format, args...),
		Retryable: retryable,
		Cause:     cause,
	}
}

func (e *LoopError) Error() string {
	s := fmt.Sprintf("[%s] %s: %s", e.Category, e.Code, e.Message)
	if e.Cause != nil {
		s += ": " + e.Cause.Error()
	}
	return s
}

func (e *LoopError) Unwrap() error { return e.Cause }

func (e *LoopError) Is(target error) bool {
	t, ok := target.(*LoopError)
	return ok && t.Category == e.Category && t.Code == e.Code
}

func as(err error) (*LoopError, bool) {
	var le *LoopError
	ok := errors.As(err, &le)
	return le, ok
}

// IsRetryable is false for nil and for errors outside this package.
func IsRetryable(err error) bool {
	le, ok := as(err)
	return ok && le.Retryable
}

func GetCategory(err error) Category {
	if le, ok := as(err); ok {
		return le.Category
	}
	return ""
}

func GetCode(err error) string {
	if le, ok := as(err); ok {
		return le.Code
	}
	return ""
}

// GetUserMessage prefers the LoopError message over the full chain.
func GetUserMessage(err error) string {
	if err == nil {
		return ""
	}
	if le, ok := as(err); ok {
		return le.Message
	}
	return err.Error()
}

// GetFields returns the per-parameter messages of a validation failure.
func GetFields(err error) map[string]string {
	if le, ok := as(err); ok {
		return le.Fields
	}
	return nil
}
