package logging

// Trace event names, grouped by the component that emits them.
const (
	EventSessionStart  = "session.start"
	EventSessionEnd    = "session.end"
	EventSessionLoad   = "session.load"
	EventSessionResume = "session.resume"
	EventSessionSave   = "session.save"

	EventTaskStart     = "task.start"
	EventTaskIteration = "task.iteration"
	EventTaskComplete  = "task.complete"
	EventTaskAbort     = "task.abort"

	EventContextTruncate = "context.truncate"
	EventContextWarning  = "context.warning"
	EventContextExceeded = "context.exceeded"

	EventLLMStreamStart = "llm.stream.start"
	EventLLMStreamEnd   = "llm.stream.end"
	EventLLMError       = "llm.error"
	EventLLMRateLimit   = "llm.rate_limit"

	EventParserInvocation = "parser.invocation"
	EventParserError      = "parser.error"

	EventToolStart    = "tool.start"
	EventToolComplete = "tool.complete"
	EventToolInvalid  = "tool.invalid"
	EventToolError    = "tool.error"
)
