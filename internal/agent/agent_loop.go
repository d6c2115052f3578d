package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	ctxmgr "github.com/abdul-hamid-achik/toolloop/internal/context"
	looperr "github.com/abdul-hamid-achik/toolloop/internal/errors"
	"github.com/abdul-hamid-achik/toolloop/internal/llm"
	"github.com/abdul-hamid-achik/toolloop/internal/logging"
)

// Texts the loop adds to the conversation on the model's behalf.
const (
	emptyResponseText = "Failure: I did not have a response to provide."
	noToolNudge       = "It seems like you forgot to call a tool. If you have completed the task, you must use the attempt_completion tool with the result. Otherwise, proceed with the task by calling the next tool."
	malformedToolHint = "A tool tag in your last response could not be read: the container tag needs a name attribute naming a known tool."
	streamErrorText   = "[Response interrupted by an API error]"
)

// turn is what one streamed model response produced.
type turn struct {
	raw        string
	usage      llm.Usage
	stopReason string
	estimated  int
	err        error
}

// runLoop drives the conversation until attempt_completion succeeds, the
// model stops making progress, the iteration budget runs out, the context
// window is exhausted or ctx is cancelled. The session is saved after every
// turn.
func (a *Agent) runLoop(ctx context.Context) (*TaskResult, error) {
	maxIterations := a.config.Agent.MaxIterations
	if maxIterations <= 0 {
		maxIterations = 50
	}
	loopStart := time.Now()

	result := &TaskResult{}
	if sess := a.currentSessionID(); sess != "" {
		result.SessionID = sess
	}

	noProgress := 0
	tooLongRetries := 0

	for i := 0; i < maxIterations; i++ {
		if err := ctx.Err(); err != nil {
			return a.abort(result, err)
		}
		result.Iterations = i + 1
		a.log.Metrics().RecordIteration()
		a.log.Event(logging.EventTaskIteration, logging.Iteration(i+1))

		prep, err := a.contextMgr.Prepare()
		a.reportPrepare(prep)
		if err != nil {
			a.log.Event(logging.EventContextExceeded, logging.Tokens(prep.TokensAfter), logging.Error(err))
			a.output.Error(err)
			a.persist()
			return result, err
		}

		t := a.streamTurn(ctx, prep.Messages)
		a.recordUsage(result, t)

		if t.err != nil {
			if ctx.Err() != nil {
				a.recordPartial(t)
				return a.abort(result, ctx.Err())
			}
			if llm.IsPromptTooLong(t.err) && tooLongRetries < a.config.Agent.PromptTooLongRetries {
				tooLongRetries++
				a.log.Warn("prompt too long, truncating", logging.Count(tooLongRetries))
				forced, ferr := a.contextMgr.ForceTruncate()
				a.reportPrepare(forced)
				if ferr != nil {
					a.output.Error(ferr)
					a.persist()
					return result, ferr
				}
				continue
			}
			a.recordPartial(t)
			a.persist()
			a.log.Event(logging.EventTaskAbort, logging.Error(t.err))
			a.output.Error(t.err)
			return result, t.err
		}
		tooLongRetries = 0

		a.contextMgr.AddMessage(a.assistantMessage(t.raw))

		res := a.dispatcher.Execute(ctx)
		if err := ctx.Err(); err != nil {
			return a.abort(result, err)
		}
		a.persist()
		a.checkContextWarning()

		if res.Completed {
			result.Completed = true
			result.Completion = res.Completion
			a.log.Event(logging.EventTaskComplete,
				logging.Iteration(result.Iterations),
				logging.DurationSince(loopStart),
				logging.Cost(result.Cost),
			)
			a.output.Success(res.Completion)
			a.reportUsage(result)
			return result, nil
		}

		switch {
		case res.Calls == 0:
			noProgress++
			nudge := noToolNudge
			if a.dispatcher.Malformed() > 0 {
				nudge = malformedToolHint + "\n\n" + nudge
			}
			a.contextMgr.AddMessage(llm.UserMessage(nudge))
		case res.Succeeded == 0:
			noProgress++
		default:
			noProgress = 0
		}

		if noProgress >= maxNoProgressTurns {
			err := looperr.NoProgress(noProgress)
			a.log.Event(logging.EventTaskAbort, logging.Error(err))
			a.output.Error(err)
			a.reportUsage(result)
			return result, err
		}
	}

	err := looperr.MaxIterationsReached(maxIterations)
	a.log.Event(logging.EventTaskAbort, logging.Error(err))
	a.output.Error(err)
	a.reportUsage(result)
	return result, err
}

// streamTurn sends the prepared conversation and feeds the response through
// the dispatcher, forwarding display text to the output as it arrives.
func (a *Agent) streamTurn(ctx context.Context, messages []llm.Message) turn {
	t := turn{
		estimated: ctxmgr.EstimateTokens(messages) + ctxmgr.EstimateTextTokens(a.systemPrompt),
	}
	a.dispatcher.Begin()

	requestID := a.log.NewRequestID()
	a.log.Event(logging.EventLLMStreamStart,
		logging.RequestID(requestID),
		logging.MessageCount(len(messages)),
		logging.Tokens(t.estimated),
	)
	start := time.Now()

	var raw strings.Builder
	for chunk := range a.llm.ChatStream(ctx, messages, a.systemPrompt) {
		switch chunk.Type {
		case llm.ChunkText:
			raw.WriteString(chunk.Text)
			if display := a.dispatcher.Feed(chunk.Text); display != "" {
				a.output.StreamText(display)
			}
		case llm.ChunkUsage:
			if chunk.Usage != nil {
				t.usage = t.usage.Add(*chunk.Usage)
			}
		case llm.ChunkDone:
			t.stopReason = chunk.StopReason
		case llm.ChunkError:
			if t.err == nil {
				t.err = chunk.Error
			}
		}
	}
	if tail := a.dispatcher.End(); tail != "" {
		a.output.StreamText(tail)
	}
	a.output.StreamDone()
	t.raw = raw.String()

	if t.err == nil && ctx.Err() != nil {
		t.err = ctx.Err()
	}

	a.log.Metrics().RecordLLMRequest(t.usage.InputTokens, t.usage.OutputTokens, t.err)
	a.log.Metrics().RecordCacheTokens(t.usage.CacheReadTokens, t.usage.CacheWriteTokens)
	if t.err != nil {
		a.log.Event(logging.EventLLMError, logging.RequestID(requestID), logging.Error(t.err))
	}
	a.log.Event(logging.EventLLMStreamEnd,
		logging.RequestID(requestID),
		logging.InputTokens(t.usage.InputTokens),
		logging.OutputTokens(t.usage.OutputTokens),
		logging.DurationSince(start),
		logging.Reason(t.stopReason),
	)
	return t
}

// assistantMessage records a completed response: the tool_use blocks of
// every collected invocation, then the raw text.
func (a *Agent) assistantMessage(raw string) llm.Message {
	blocks := a.dispatcher.ToolUses()
	if strings.TrimSpace(raw) != "" {
		blocks = append(blocks, llm.TextBlock(raw))
	}
	if len(blocks) == 0 {
		return llm.AssistantMessage(emptyResponseText)
	}
	return llm.BlocksMessage(llm.RoleAssistant, blocks...)
}

// recordPartial keeps the text of a response that was cut off. Its tool
// calls are dropped: they never ran and the model will not see results
// for them.
func (a *Agent) recordPartial(t turn) {
	if strings.TrimSpace(t.raw) == "" {
		return
	}
	text := t.raw
	if t.err != nil && !errors.Is(t.err, context.Canceled) {
		text += "\n\n" + streamErrorText
	}
	a.contextMgr.AddMessage(llm.AssistantMessage(text))
}

// recordUsage accumulates a turn's usage on the result and the session and
// feeds the calibrator.
func (a *Agent) recordUsage(result *TaskResult, t turn) {
	if t.usage == (llm.Usage{}) {
		return
	}
	result.Usage = result.Usage.Add(t.usage)
	if pricing, ok := llm.PricingFor(a.llm.GetModel()); ok {
		result.Cost += pricing.Cost(t.usage)
	}
	if a.sessions != nil {
		a.sessions.AddUsage(t.usage)
	}
	actual := t.usage.InputTokens + t.usage.CacheReadTokens + t.usage.CacheWriteTokens
	if actual > 0 {
		a.contextMgr.RecordUsage(t.estimated, actual)
		cal := a.contextMgr.Calibrator()
		a.log.Debug("token estimate calibrated",
			logging.Tokens(t.estimated),
			logging.InputTokens(actual),
			logging.F("ratio", cal.Ratio()),
			logging.Count(cal.SampleCount()),
		)
		if a.sessions != nil {
			a.sessions.SetCalibration(cal.Ratio())
		}
	}
}

// reportPrepare logs what Prepare did to the conversation.
func (a *Agent) reportPrepare(prep ctxmgr.PrepareResult) {
	a.log.Metrics().RecordContextHeal()
	if !prep.Truncated {
		return
	}
	a.log.Metrics().RecordContextTruncation()
	a.log.Event(logging.EventContextTruncate,
		logging.Count(prep.RemovedMessages),
		logging.F("tokens_before", prep.TokensBefore),
		logging.F("tokens_after", prep.TokensAfter),
	)
	a.output.Info(fmt.Sprintf("Context truncated: removed %d messages (%d → %d tokens)",
		prep.RemovedMessages, prep.TokensBefore, prep.TokensAfter))
}

// checkContextWarning warns once per task when usage crosses the warning
// threshold.
func (a *Agent) checkContextWarning() {
	stats := a.contextMgr.GetStats()
	if !stats.NeedsWarning || a.shownContextWarning {
		return
	}
	a.shownContextWarning = true
	a.log.Metrics().RecordContextWarning()
	a.log.Event(logging.EventContextWarning, logging.UsagePercent(stats.UsagePercent*100))
	a.output.Warning(fmt.Sprintf("Context at %.0f%% of the window; older messages will be truncated", stats.UsagePercent*100))
}

// persist saves the healed conversation. Failures are reported, not fatal.
func (a *Agent) persist() {
	if a.sessions == nil {
		return
	}
	msgs := ctxmgr.Heal(a.contextMgr.GetMessages())
	if err := a.sessions.Save(msgs, a.llm.GetModel()); err != nil {
		a.log.Warn("failed to save session", logging.Error(err))
		a.output.Warning("Failed to save session: " + looperr.GetUserMessage(err))
	}
}

// abort ends a cancelled task. Tool results already recorded stay; the
// conversation is healed and saved so it can be resumed.
func (a *Agent) abort(result *TaskResult, err error) (*TaskResult, error) {
	a.persist()
	a.log.Event(logging.EventTaskAbort, logging.Reason("cancelled"), logging.Error(err))
	a.output.Warning("Interrupted")
	a.reportUsage(result)
	return result, err
}

func (a *Agent) reportUsage(result *TaskResult) {
	u := result.Usage
	if u == (llm.Usage{}) {
		return
	}
	a.output.Usage(u.InputTokens, u.OutputTokens, u.CacheReadTokens, result.Cost)
}

func (a *Agent) currentSessionID() string {
	if a.sessions == nil {
		return ""
	}
	if s := a.sessions.GetCurrentSession(); s != nil {
		return s.ID
	}
	return ""
}
