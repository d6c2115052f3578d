package agent

import "github.com/abdul-hamid-achik/toolloop/internal/tools"

// AgentOutput receives everything the loop reports while it runs. The
// terminal, headless and JSON front ends implement it.
type AgentOutput interface {
	StreamText(text string)
	StreamDone()
	ToolCall(name, description string)
	ToolResult(name, result string, isError bool)
	PermissionPrompt(toolName string, level tools.PermissionLevel, description string)

	Error(err error)
	Warning(msg string)
	Success(msg string)
	Info(msg string)

	ModelInfo(model string)
	Usage(inputTokens, outputTokens, cacheReadTokens int, cost float64)
	Done()
}

// AgentInput answers approval prompts.
type AgentInput interface {
	ReadLine(prompt string) (string, error)
}

// discard is used when no output is configured.
type discard struct{}

func (discard) StreamText(string)                                      {}
func (discard) StreamDone()                                            {}
func (discard) ToolCall(string, string)                                {}
func (discard) ToolResult(string, string, bool)                        {}
func (discard) PermissionPrompt(string, tools.PermissionLevel, string) {}
func (discard) Error(error)                                            {}
func (discard) Warning(string)                                         {}
func (discard) Success(string)                                         {}
func (discard) Info(string)                                            {}
func (discard) ModelInfo(string)                                       {}
func (discard) Usage(int, int, int, float64)                           {}
func (discard) Done()                                                  {}
