package agent

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/abdul-hamid-achik/toolloop/internal/config"
	"github.com/abdul-hamid-achik/toolloop/internal/llm"
	"github.com/abdul-hamid-achik/toolloop/internal/session"
	"github.com/abdul-hamid-achik/toolloop/internal/tools"
)

// --- Mock output for tests ---

type mockOutput struct {
	mu              sync.Mutex
	streamed        string
	toolCallCalls   []string
	toolResultCalls []string
	errorCalls      []string
	warningCalls    []string
	successCalls    []string
}

func (m *mockOutput) StreamText(text string) { m.mu.Lock(); m.streamed += text; m.mu.Unlock() }
func (m *mockOutput) StreamDone()            {}
func (m *mockOutput) Info(_ string)          {}
func (m *mockOutput) ModelInfo(_ string)     {}
func (m *mockOutput) Done()                  {}

func (m *mockOutput) Usage(_, _, _ int, _ float64)                                 {}
func (m *mockOutput) PermissionPrompt(_ string, _ tools.PermissionLevel, _ string) {}

func (m *mockOutput) Error(err error) {
	m.mu.Lock()
	m.errorCalls = append(m.errorCalls, err.Error())
	m.mu.Unlock()
}

func (m *mockOutput) Warning(msg string) {
	m.mu.Lock()
	m.warningCalls = append(m.warningCalls, msg)
	m.mu.Unlock()
}

func (m *mockOutput) Success(msg string) {
	m.mu.Lock()
	m.successCalls = append(m.successCalls, msg)
	m.mu.Unlock()
}

func (m *mockOutput) ToolCall(name, description string) {
	m.mu.Lock()
	m.toolCallCalls = append(m.toolCallCalls, name+":"+description)
	m.mu.Unlock()
}

func (m *mockOutput) ToolResult(name, result string, isError bool) {
	m.mu.Lock()
	tag := "ok"
	if isError {
		tag = "err"
	}
	m.toolResultCalls = append(m.toolResultCalls, fmt.Sprintf("%s:%s:%s", name, tag, result))
	m.mu.Unlock()
}

// --- Mock approver ---

type mockApprover struct {
	deny  map[string]bool
	calls []string
}

func (m *mockApprover) Check(toolName string, _ tools.PermissionLevel, _ string) (bool, error) {
	m.calls = append(m.calls, toolName)
	return !m.deny[toolName], nil
}

// --- Recording sink ---

type recordingSink struct {
	blocks []llm.ContentBlock
}

func (s *recordingSink) AppendToolResult(block llm.ContentBlock) {
	s.blocks = append(s.blocks, block)
}

// --- Stub tools ---

// stubTool borrows the schema of a real tool so validation behaves the
// same, and records what it is asked to run.
type stubTool struct {
	schema tools.Schema
	level  tools.PermissionLevel
	run    func(ctx context.Context, p tools.Params) (string, error)

	mu    sync.Mutex
	calls []tools.Params
}

func (t *stubTool) Schema() tools.Schema              { return t.schema }
func (t *stubTool) Permission() tools.PermissionLevel { return t.level }

func (t *stubTool) Execute(ctx context.Context, p tools.Params) (string, error) {
	t.mu.Lock()
	t.calls = append(t.calls, p)
	t.mu.Unlock()
	if t.run != nil {
		return t.run(ctx, p)
	}
	return t.schema.Name + " ok", nil
}

func (t *stubTool) Calls() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.calls)
}

type testTools struct {
	registry *tools.Registry
	read     *stubTool
	write    *stubTool
	exec     *stubTool
}

func newTestTools() *testTools {
	tt := &testTools{
		registry: tools.NewRegistry(),
		read:     &stubTool{schema: (&tools.ReadFileTool{}).Schema(), level: tools.PermissionRead},
		write:    &stubTool{schema: (&tools.WriteToFileTool{}).Schema(), level: tools.PermissionWrite},
		exec:     &stubTool{schema: (&tools.ExecuteCommandTool{}).Schema(), level: tools.PermissionExecute},
	}
	tt.registry.Register(tt.read)
	tt.registry.Register(tt.write)
	tt.registry.Register(tt.exec)
	tt.registry.Register(&tools.AttemptCompletionTool{})
	return tt
}

type testAgent struct {
	*Agent
	mock     *llm.MockLLMClient
	tools    *testTools
	output   *mockOutput
	sessions *session.Manager
}

// newTestAgent creates an Agent wired with mock dependencies for testing.
// The scripted responses are replayed one per model turn.
func newTestAgent(t *testing.T, approver Approver, responses ...[]llm.StreamChunk) *testAgent {
	t.Helper()
	return newTestAgentWithConfig(t, config.DefaultConfig(), approver, responses...)
}

func newTestAgentWithConfig(t *testing.T, cfg *config.Config, approver Approver, responses ...[]llm.StreamChunk) *testAgent {
	t.Helper()

	if cfg.Session.Dir == "" {
		cfg.Session.Dir = t.TempDir()
	}

	sessions, err := session.NewManager(cfg.Session, nil)
	if err != nil {
		t.Fatalf("NewManager() error = %v", err)
	}

	mock := llm.NewMockLLMClient(responses...)
	tt := newTestTools()
	output := &mockOutput{}

	a := New(Config{
		LLM:      mock,
		Tools:    tt.registry,
		Approver: approver,
		Sessions: sessions,
		Output:   output,
		Config:   cfg,
		WorkDir:  t.TempDir(),
	})
	return &testAgent{Agent: a, mock: mock, tools: tt, output: output, sessions: sessions}
}

// toolCall renders a tool invocation in tag form.
func toolCall(name string, params ...string) string {
	s := fmt.Sprintf("<tool name=%q>", name)
	for i := 0; i+1 < len(params); i += 2 {
		s += fmt.Sprintf("<%s>%s</%s>", params[i], params[i+1], params[i])
	}
	return s + "</tool>"
}
