// Package logging is the leveled logger shared by every toolloop component.
//
// Each entry goes to stderr (filtered by level) and to a rotated session log
// under .toolloop/logs that keeps every level. With TOOLLOOP_DEBUG=1 the
// agent loop, dispatcher and session store also emit structured events to a
// JSONL trace, closed with a metrics summary.
//
//	log, err := logging.Init(logging.ConfigFromEnv())
//	if err != nil {
//		return err
//	}
//	defer log.Close()
//
//	agentLog := log.WithPrefix("agent")
//	agentLog.Debug("request sent", logging.MessageCount(len(msgs)))
//	agentLog.Event(logging.EventToolStart, logging.ToolName("read_file"))
//
// Every method is safe on a nil *Logger, so components take one by
// injection and tests may pass nil.
package logging

import (
	"time"

	"github.com/google/uuid"
)

// sinks is shared by a Logger and every logger derived from it.
type sinks struct {
	console *ConsoleWriter
	file    *FileWriter
	tracer  *Tracer
	metrics *Metrics
}

// Logger writes entries tagged with a component name.
type Logger struct {
	*sinks
	component string
}

// New builds a Logger from cfg. The session log is opened lazily; the trace
// file, when enabled, is created immediately.
func New(cfg Config) (*Logger, error) {
	tracer, err := newTracer(cfg)
	if err != nil {
		return nil, err
	}
	return &Logger{sinks: &sinks{
		console: NewConsoleWriter(cfg.consoleLevel(), cfg.Color),
		file:    newFileWriter(cfg),
		tracer:  tracer,
		metrics: NewMetrics(),
	}}, nil
}

// Init is New followed by a debug line naming where output goes.
func Init(cfg Config) (*Logger, error) {
	l, err := New(cfg)
	if err != nil {
		return nil, err
	}
	fields := []Field{SessionID(l.tracer.session), F("log_dir", cfg.LogDir)}
	if p := l.tracer.Path(); p != "" {
		fields = append(fields, F("trace", p))
	}
	l.Debug("logging started", fields...)
	return l, nil
}

// WithPrefix returns a logger whose entries and events carry component.
func (l *Logger) WithPrefix(component string) *Logger {
	if l == nil {
		return nil
	}
	return &Logger{sinks: l.sinks, component: component}
}

func (l *Logger) Debug(msg string, fields ...Field) { l.log(LevelDebug, msg, fields) }
func (l *Logger) Info(msg string, fields ...Field)  { l.log(LevelInfo, msg, fields) }
func (l *Logger) Warn(msg string, fields ...Field)  { l.log(LevelWarn, msg, fields) }
func (l *Logger) Error(msg string, fields ...Field) { l.log(LevelError, msg, fields) }

func (l *Logger) log(level Level, msg string, fields []Field) {
	if l == nil {
		return
	}
	e := entry{at: time.Now(), level: level, component: l.component, msg: msg, fields: fields}
	l.console.write(e)
	// Session log failures are dropped.
	_ = l.file.write(e)
}

// Event records a structured trace event. It is a no-op unless tracing
// is enabled.
func (l *Logger) Event(event string, fields ...Field) {
	if l == nil {
		return
	}
	l.tracer.emit(event, l.component, fieldMap(fields))
}

// NewRequestID starts a correlation id that subsequent events carry.
func (l *Logger) NewRequestID() string {
	if l == nil {
		return "req_" + uuid.NewString()
	}
	return l.tracer.beginRequest()
}

// Metrics returns the shared collector; nil for a nil Logger.
func (l *Logger) Metrics() *Metrics {
	if l == nil {
		return nil
	}
	return l.metrics
}

// Session is the id stamped on every trace event of this process.
func (l *Logger) Session() string {
	if l == nil {
		return ""
	}
	return l.tracer.session
}

// TracePath is the JSONL trace file, or "" when tracing is off.
func (l *Logger) TracePath() string {
	if l == nil {
		return ""
	}
	return l.tracer.Path()
}

// Close writes the metrics summary to the session log and the trace, then
// closes both.
func (l *Logger) Close() error {
	if l == nil {
		return nil
	}
	sum := l.metrics.Summary()
	calls, toolErrs := sum.ToolCalls()
	if sum.Tasks > 0 {
		_ = l.file.write(entry{at: time.Now(), level: LevelInfo, msg: "summary", fields: []Field{
			F("tasks", sum.Tasks),
			Iteration(sum.Iterations),
			F("tool_calls", calls),
			F("tool_errors", toolErrs),
			InputTokens(sum.InputTokens),
			OutputTokens(sum.OutputTokens),
			Duration(sum.Duration),
		}})
	}

	traceErr := l.tracer.close(sum)
	if err := l.file.Close(); err != nil {
		return err
	}
	return traceErr
}
