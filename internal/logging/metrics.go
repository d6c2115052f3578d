package logging

import (
	"sync"
	"time"
)

// ToolStats counts the invocations of one tool.
type ToolStats struct {
	Calls   int           `json:"calls"`
	Errors  int           `json:"errors"`
	Invalid int           `json:"invalid"`
	Time    time.Duration `json:"time_ns"`
}

// MetricsSummary is a point-in-time copy of Metrics.
type MetricsSummary struct {
	Duration     time.Duration `json:"duration_ns"`
	Tasks        int           `json:"tasks"`
	Iterations   int           `json:"iterations"`
	Requests     int           `json:"llm_requests"`
	LLMErrors    int           `json:"llm_errors"`
	InputTokens  int           `json:"input_tokens"`
	OutputTokens int           `json:"output_tokens"`
	CacheRead    int           `json:"cache_read_tokens"`
	CacheWrite   int           `json:"cache_write_tokens"`
	ParseErrors  int           `json:"parser_errors"`
	Truncations  int           `json:"context_truncations"`
	Heals        int           `json:"context_heals"`
	Warnings     int           `json:"context_warnings"`

	Tools map[string]ToolStats `json:"tools,omitempty"`
}

// ToolCalls sums calls across every tool.
func (s MetricsSummary) ToolCalls() (calls, errors int) {
	for _, t := range s.Tools {
		calls += t.Calls
		errors += t.Errors
	}
	return calls, errors
}

// Metrics accumulates counters for one process. A nil *Metrics ignores
// every Record call.
type Metrics struct {
	start time.Time

	mu sync.Mutex
	s  MetricsSummary
}

func NewMetrics() *Metrics {
	return &Metrics{start: time.Now(), s: MetricsSummary{Tools: map[string]ToolStats{}}}
}

func (m *Metrics) update(fn func(s *MetricsSummary)) {
	if m == nil {
		return
	}
	m.mu.Lock()
	fn(&m.s)
	m.mu.Unlock()
}

func (m *Metrics) updateTool(name string, fn func(t *ToolStats)) {
	m.update(func(s *MetricsSummary) {
		t := s.Tools[name]
		fn(&t)
		s.Tools[name] = t
	})
}

func (m *Metrics) RecordTask()              { m.update(func(s *MetricsSummary) { s.Tasks++ }) }
func (m *Metrics) RecordIteration()         { m.update(func(s *MetricsSummary) { s.Iterations++ }) }
func (m *Metrics) RecordParserError()       { m.update(func(s *MetricsSummary) { s.ParseErrors++ }) }
func (m *Metrics) RecordContextTruncation() { m.update(func(s *MetricsSummary) { s.Truncations++ }) }
func (m *Metrics) RecordContextHeal()       { m.update(func(s *MetricsSummary) { s.Heals++ }) }
func (m *Metrics) RecordContextWarning()    { m.update(func(s *MetricsSummary) { s.Warnings++ }) }

// RecordToolCall counts an executed tool call; err marks it failed.
func (m *Metrics) RecordToolCall(name string, d time.Duration, err error) {
	m.updateTool(name, func(t *ToolStats) {
		t.Calls++
		t.Time += d
		if err != nil {
			t.Errors++
		}
	})
}

// RecordToolInvalid counts a call rejected before execution.
func (m *Metrics) RecordToolInvalid(name string) {
	m.updateTool(name, func(t *ToolStats) { t.Invalid++ })
}

// RecordLLMRequest counts one model turn and its token usage.
func (m *Metrics) RecordLLMRequest(input, output int, err error) {
	m.update(func(s *MetricsSummary) {
		s.Requests++
		s.InputTokens += input
		s.OutputTokens += output
		if err != nil {
			s.LLMErrors++
		}
	})
}

func (m *Metrics) RecordCacheTokens(read, write int) {
	m.update(func(s *MetricsSummary) {
		s.CacheRead += read
		s.CacheWrite += write
	})
}

// Summary copies the counters. A nil *Metrics yields the zero summary.
func (m *Metrics) Summary() MetricsSummary {
	if m == nil {
		return MetricsSummary{}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	out := m.s
	out.Duration = time.Since(m.start)
	out.Tools = make(map[string]ToolStats, len(m.s.Tools))
	for k, v := range m.s.Tools {
		out.Tools[k] = v
	}
	return out
}
