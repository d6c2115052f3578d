package logging

import (
	"fmt"
	"strings"
	"time"
)

// Field is one key=value pair attached to a log line or trace event.
type Field struct {
	Key   string
	Value any
}

// F builds an arbitrary field.
func F(key string, value any) Field { return Field{Key: key, Value: value} }

// Fields shared by the agent, dispatcher and session store.
func SessionID(id string) Field       { return F("session_id", id) }
func RequestID(id string) Field       { return F("request_id", id) }
func InvocationID(id string) Field    { return F("invocation_id", id) }
func ToolName(name string) Field      { return F("tool", name) }
func Model(name string) Field         { return F("model", name) }
func Tokens(n int) Field              { return F("tokens", n) }
func InputTokens(n int) Field         { return F("input_tokens", n) }
func OutputTokens(n int) Field        { return F("output_tokens", n) }
func MessageCount(n int) Field        { return F("msg_count", n) }
func Iteration(n int) Field           { return F("iteration", n) }
func Count(n int) Field               { return F("count", n) }
func Cost(usd float64) Field          { return F("cost_usd", usd) }
func UsagePercent(pct float64) Field  { return F("usage_pct", pct) }
func Reason(r string) Field           { return F("reason", r) }
func Success(ok bool) Field           { return F("success", ok) }
func Duration(d time.Duration) Field  { return F("duration_ms", d.Milliseconds()) }
func DurationSince(t time.Time) Field { return Duration(time.Since(t)) }

// Task records the task text, cut to 200 bytes.
func Task(text string) Field {
	if len(text) > 200 {
		text = text[:197] + "..."
	}
	return F("task", text)
}

// Error records err's message, or nil when err is nil.
func Error(err error) Field {
	if err == nil {
		return F("error", nil)
	}
	return F("error", err.Error())
}

// entry is a single log line before it is rendered for a sink.
type entry struct {
	at        time.Time
	level     Level
	component string
	msg       string
	fields    []Field
}

// text renders e as "15:04:05 LEVEL [component] msg key=value ...". The
// level column is passed in so the console can style it.
func (e entry) text(level string) string {
	var sb strings.Builder
	sb.WriteString(e.at.Format("15:04:05"))
	sb.WriteByte(' ')
	sb.WriteString(level)
	sb.WriteByte(' ')
	if e.component != "" {
		sb.WriteString("[" + e.component + "] ")
	}
	sb.WriteString(e.msg)
	for _, f := range e.fields {
		sb.WriteString(" " + f.Key + "=" + formatValue(f.Value))
	}
	sb.WriteByte('\n')
	return sb.String()
}

func formatValue(v any) string {
	switch val := v.(type) {
	case nil:
		return "<nil>"
	case string:
		if strings.ContainsAny(val, " \t\n\"") {
			return fmt.Sprintf("%q", val)
		}
		return val
	case error:
		return fmt.Sprintf("%q", val.Error())
	default:
		return fmt.Sprint(val)
	}
}

func fieldMap(fields []Field) map[string]any {
	if len(fields) == 0 {
		return nil
	}
	m := make(map[string]any, len(fields))
	for _, f := range fields {
		m[f.Key] = f.Value
	}
	return m
}
