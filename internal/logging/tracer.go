package logging

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
)

// TraceEvent is one line of the JSONL trace.
type TraceEvent struct {
	Time      time.Time      `json:"ts"`
	Event     string         `json:"event"`
	Session   string         `json:"session"`
	Component string         `json:"component,omitempty"`
	RequestID string         `json:"request_id,omitempty"`
	Data      map[string]any `json:"data,omitempty"`
}

// Tracer appends TraceEvents to trace_<timestamp>.jsonl and points
// latest.jsonl at it. A disabled tracer accepts events and drops them.
type Tracer struct {
	session string

	mu        sync.Mutex
	file      *os.File
	enc       *json.Encoder
	requestID string
}

func newTracer(cfg Config) (*Tracer, error) {
	t := &Tracer{session: "sess_" + uuid.NewString()}
	if !cfg.Trace {
		return t, nil
	}

	if err := os.MkdirAll(cfg.TraceDir, 0o755); err != nil {
		return nil, fmt.Errorf("create trace directory: %w", err)
	}
	path := filepath.Join(cfg.TraceDir, "trace_"+time.Now().Format("2006-01-02_15-04-05")+".jsonl")
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open trace file: %w", err)
	}
	latest := filepath.Join(cfg.TraceDir, "latest.jsonl")
	_ = os.Remove(latest)
	_ = os.Symlink(path, latest)

	t.file = f
	t.enc = json.NewEncoder(f)
	t.emit(EventSessionStart, "", map[string]any{"pid": os.Getpid()})
	return t, nil
}

// Enabled reports whether events reach a file.
func (t *Tracer) Enabled() bool {
	if t == nil {
		return false
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.file != nil
}

// Path is the trace file, or "" when tracing is off.
func (t *Tracer) Path() string {
	if t == nil {
		return ""
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.file == nil {
		return ""
	}
	return t.file.Name()
}

// beginRequest starts a new correlation id that later events carry.
func (t *Tracer) beginRequest() string {
	id := "req_" + uuid.NewString()
	t.mu.Lock()
	t.requestID = id
	t.mu.Unlock()
	return id
}

func (t *Tracer) emit(event, component string, data map[string]any) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.enc == nil {
		return
	}
	_ = t.enc.Encode(TraceEvent{
		Time:      time.Now().UTC(),
		Event:     event,
		Session:   t.session,
		Component: component,
		RequestID: t.requestID,
		Data:      data,
	})
}

// close records the metrics summary as the final event.
func (t *Tracer) close(summary MetricsSummary) error {
	if !t.Enabled() {
		return nil
	}
	var data map[string]any
	if raw, err := json.Marshal(summary); err == nil {
		_ = json.Unmarshal(raw, &data)
	}
	t.emit(EventSessionEnd, "", data)

	t.mu.Lock()
	defer t.mu.Unlock()
	err := t.file.Close()
	t.file, t.enc = nil, nil
	return err
}
