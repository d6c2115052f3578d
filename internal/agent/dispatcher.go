package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	looperr "github.com/abdul-hamid-achik/toolloop/internal/errors"
	"github.com/abdul-hamid-achik/toolloop/internal/llm"
	"github.com/abdul-hamid-achik/toolloop/internal/logging"
	"github.com/abdul-hamid-achik/toolloop/internal/parser"
	"github.com/abdul-hamid-achik/toolloop/internal/tools"
)

// Texts recorded as tool results when a call does not run normally.
const (
	ResultDenied      = "The user denied this operation."
	ResultInterrupted = "Tool execution was interrupted"
	ResultSkippedFmt  = "Skipping tool %s due to user rejecting a previous tool."
	ResultAfterDone   = "Skipping tool %s because the task was already completed."
)

// ToolSet is the view of the tool registry the dispatcher needs.
type ToolSet interface {
	parser.Registry
	Get(name string) (tools.Tool, bool)
	List() []tools.Tool
	Execute(ctx context.Context, name string, params tools.Params) (string, error)
}

// Approver decides whether a validated invocation may run.
// *permissions.Policy implements it.
type Approver interface {
	Check(toolName string, level tools.PermissionLevel, description string) (bool, error)
}

// ResultSink receives the tool_result blocks produced by Execute.
// *context.ContextManager implements it.
type ResultSink interface {
	AppendToolResult(block llm.ContentBlock)
}

type callState int

const (
	callReady     callState = iota // validated, waiting to run
	callInvalid                    // failed validation
	callAbandoned                  // cut off by a closing error
)

// call is one invocation read from a response.
type call struct {
	inv    parser.Invocation
	params tools.Params
	err    error
	state  callState
}

// DispatchResult summarizes one Execute pass.
type DispatchResult struct {
	Calls      int // results recorded
	Succeeded  int // tools that ran without error
	Denied     bool
	Completed  bool
	Completion string
}

// DispatcherConfig wires a Dispatcher.
type DispatcherConfig struct {
	Tools    ToolSet
	Approver Approver // nil approves everything
	Sink     ResultSink
	Output   AgentOutput
	Logger   *logging.Logger
	Parser   parser.Options
}

// Dispatcher feeds a model response through the tag parser, collects the
// invocations it yields and runs them once the response has ended. It
// implements parser.Handler. It is not safe for concurrent use.
type Dispatcher struct {
	tools    ToolSet
	approver Approver
	sink     ResultSink
	output   AgentOutput
	log      *logging.Logger
	opts     parser.Options

	parser    *parser.Parser
	calls     []*call
	malformed int
	executed  map[string]bool
}

var _ parser.Handler = (*Dispatcher)(nil)

// NewDispatcher creates a dispatcher.
func NewDispatcher(cfg DispatcherConfig) *Dispatcher {
	out := cfg.Output
	if out == nil {
		out = discard{}
	}
	d := &Dispatcher{
		tools:    cfg.Tools,
		approver: cfg.Approver,
		sink:     cfg.Sink,
		output:   out,
		log:      cfg.Logger.WithPrefix("dispatch"),
		opts:     cfg.Parser,
		executed: make(map[string]bool),
	}
	d.Begin()
	return d
}

// Begin starts a new response with a fresh parser.
func (d *Dispatcher) Begin() {
	d.parser = parser.New(d.tools, d, d.opts)
	d.calls = nil
	d.malformed = 0
}

// Feed passes a chunk of model text to the parser and returns the part of
// it that is meant for display.
func (d *Dispatcher) Feed(chunk string) string {
	return d.parser.AppendText(chunk)
}

// End flushes the parser. An invocation still open is abandoned.
func (d *Dispatcher) End() string {
	return d.parser.EndParsing()
}

// Pending returns the number of invocations collected from the current
// response.
func (d *Dispatcher) Pending() int {
	return len(d.calls)
}

// Malformed returns the number of tool tags in the current response that
// could not be attributed to a tool.
func (d *Dispatcher) Malformed() int {
	return d.malformed
}

// ToolUses returns a tool_use block for every invocation collected from the
// current response, in stream order.
func (d *Dispatcher) ToolUses() []llm.ContentBlock {
	blocks := make([]llm.ContentBlock, 0, len(d.calls))
	for _, c := range d.calls {
		input := make(map[string]any, len(c.inv.Params))
		for k, v := range c.inv.Params {
			input[k] = v
		}
		blocks = append(blocks, llm.ToolUseBlock(c.inv.ID, c.inv.Name, input))
	}
	return blocks
}

// --- parser.Handler ---

func (d *Dispatcher) OnParameterUpdate(inv parser.Invocation) {
	d.log.Debug("parameter update", logging.ToolName(inv.Name), logging.InvocationID(inv.ID), logging.Count(len(inv.Params)))
}

func (d *Dispatcher) OnInvocationComplete(inv parser.Invocation, params tools.Params) {
	d.calls = append(d.calls, &call{inv: inv, params: params, state: callReady})
	d.log.Event(logging.EventParserInvocation,
		logging.ToolName(inv.Name),
		logging.InvocationID(inv.ID),
		logging.Duration(inv.UpdatedAt.Sub(inv.StartedAt)),
	)
}

func (d *Dispatcher) OnValidationError(inv parser.Invocation, err error) {
	d.calls = append(d.calls, &call{inv: inv, err: err, state: callInvalid})
	d.log.Metrics().RecordToolInvalid(inv.Name)
	d.log.Event(logging.EventToolInvalid, logging.ToolName(inv.Name), logging.InvocationID(inv.ID), logging.Error(err))
}

func (d *Dispatcher) OnUnknownToolError(err error) {
	d.malformed++
	d.log.Metrics().RecordParserError()
	d.log.Event(logging.EventParserError, logging.Error(err))
	d.output.Warning(looperr.GetUserMessage(err))
}

func (d *Dispatcher) OnStreamClosingError(inv parser.Invocation, err error) {
	d.calls = append(d.calls, &call{inv: inv, err: err, state: callAbandoned})
	d.log.Metrics().RecordParserError()
	d.log.Event(logging.EventParserError, logging.ToolName(inv.Name), logging.InvocationID(inv.ID), logging.Error(err))
}

// Execute runs the collected invocations one after another and records a
// result for each through the sink. An invocation runs at most once, even
// if Execute is called again. After a denial every later call is skipped;
// after attempt_completion, so is every later call.
func (d *Dispatcher) Execute(ctx context.Context) DispatchResult {
	var res DispatchResult
	for _, c := range d.calls {
		if d.executed[c.inv.ID] {
			continue
		}
		d.executed[c.inv.ID] = true
		res.Calls++

		var text string
		isError := true
		switch {
		case c.state == callAbandoned:
			text = fmt.Sprintf("Error: the %s call was cut off (%s) and was not executed.", c.inv.Name, looperr.GetUserMessage(c.err))
			d.output.ToolResult(c.inv.Name, text, true)
		case c.state == callInvalid:
			text = d.invalidResult(c)
			d.output.ToolResult(c.inv.Name, looperr.GetUserMessage(c.err), true)
		case res.Completed:
			text = fmt.Sprintf(ResultAfterDone, c.inv.Name)
		case res.Denied:
			text = fmt.Sprintf(ResultSkippedFmt, c.inv.Name)
		case ctx.Err() != nil:
			text = ResultInterrupted
		default:
			text, isError = d.run(ctx, c, &res)
		}

		d.sink.AppendToolResult(llm.ToolResultBlock(c.inv.ID, text, isError))
	}
	return res
}

// run approves and executes one valid call.
func (d *Dispatcher) run(ctx context.Context, c *call, res *DispatchResult) (string, bool) {
	name := c.inv.Name
	tool, ok := d.tools.Get(name)
	if !ok {
		// The parser validated against the same registry.
		err := looperr.ToolNotFound(name)
		return "Error: " + looperr.GetUserMessage(err), true
	}

	desc := describeCall(c.inv.Params)
	d.output.ToolCall(name, desc)

	if d.approver != nil {
		allowed, err := d.approver.Check(name, tool.Permission(), desc)
		if err != nil {
			d.log.Warn("approval failed", logging.ToolName(name), logging.Error(err))
		}
		if err != nil || !allowed {
			res.Denied = true
			d.log.Event(logging.EventToolError, logging.ToolName(name), logging.InvocationID(c.inv.ID), logging.Error(looperr.ToolDenied(name)))
			d.output.ToolResult(name, ResultDenied, true)
			return ResultDenied, true
		}
	}

	d.log.Event(logging.EventToolStart, logging.ToolName(name), logging.InvocationID(c.inv.ID))
	start := time.Now()
	out, err := d.tools.Execute(ctx, name, c.params)
	elapsed := time.Since(start)
	d.log.Metrics().RecordToolCall(name, elapsed, err)

	if err != nil {
		if ctx.Err() != nil {
			err = looperr.ToolCancelled(name, ctx.Err())
			d.log.Event(logging.EventToolError, logging.ToolName(name), logging.InvocationID(c.inv.ID), logging.Error(err))
			d.output.ToolResult(name, ResultInterrupted, true)
			return ResultInterrupted, true
		}
		err = looperr.ToolExecutionFailed(name, err)
		d.log.Event(logging.EventToolError, logging.ToolName(name), logging.InvocationID(c.inv.ID), logging.Duration(elapsed), logging.Error(err))
		text := "Error: " + errorDetail(err)
		d.output.ToolResult(name, text, true)
		return text, true
	}

	d.log.Event(logging.EventToolComplete, logging.ToolName(name), logging.InvocationID(c.inv.ID), logging.Duration(elapsed), logging.Success(true))
	res.Succeeded++
	if c.params.Kind() == tools.KindAttemptCompletion {
		res.Completed = true
		res.Completion = out
		return out, false
	}
	d.output.ToolResult(name, out, false)
	return out, false
}

// invalidResult tells the model what was wrong and how the tool is called.
func (d *Dispatcher) invalidResult(c *call) string {
	text := "Error: " + looperr.GetUserMessage(c.err)
	if schema, ok := d.tools.Lookup(c.inv.Name); ok {
		text += "\n\n" + schema.Usage(d.containerTag())
	}
	return text
}

func (d *Dispatcher) containerTag() string {
	if d.opts.ContainerTag == "" {
		return parser.DefaultContainerTag
	}
	return d.opts.ContainerTag
}

// errorDetail renders the cause of a tool failure without the category
// prefix, which means nothing to the model.
func errorDetail(err error) string {
	var le *looperr.LoopError
	if errors.As(err, &le) && le.Cause != nil {
		return le.Cause.Error()
	}
	return looperr.GetUserMessage(err)
}

// describeCall picks the parameter that best identifies what a call does.
func describeCall(params map[string]string) string {
	for _, key := range []string{"command", "path", "regex", "result"} {
		if v := strings.TrimSpace(params[key]); v != "" {
			line, _, _ := strings.Cut(v, "\n")
			if r := []rune(line); len(r) > 80 {
				line = string(r[:77]) + "..."
			}
			return line
		}
	}
	return ""
}
