package llm

import (
	"context"
	"sync"
)

// MockLLMClient replays scripted streams. Each ChatStream call consumes the
// next entry of Responses; once they run out it streams "mock response".
// ChatStreamFunc, when set, replaces replay but calls are still recorded.
type MockLLMClient struct {
	Responses      [][]StreamChunk
	ChatStreamFunc func(ctx context.Context, messages []Message, systemPrompt string) <-chan StreamChunk

	mu              sync.Mutex
	model           string
	ChatStreamCalls []ChatStreamCall
}

// ChatStreamCall is a copy of one request's arguments.
type ChatStreamCall struct {
	Messages     []Message
	SystemPrompt string
}

func NewMockLLMClient(responses ...[]StreamChunk) *MockLLMClient {
	return &MockLLMClient{Responses: responses, model: "mock-model"}
}

// TextResponse streams each chunk as text, then usage and an end_turn stop.
// Output tokens are counted as one per byte.
func TextResponse(chunks ...string) []StreamChunk {
	var script []StreamChunk
	n := 0
	for _, c := range chunks {
		script = append(script, StreamChunk{Type: ChunkText, Text: c})
		n += len(c)
	}
	return append(script,
		StreamChunk{Type: ChunkUsage, Usage: &Usage{InputTokens: 100, OutputTokens: n}},
		StreamChunk{Type: ChunkDone, StopReason: "end_turn"},
	)
}

// ErrorResponse fails before any text.
func ErrorResponse(err error) []StreamChunk {
	return []StreamChunk{{Type: ChunkError, Error: err}}
}

func (m *MockLLMClient) ChatStream(ctx context.Context, messages []Message, systemPrompt string) <-chan StreamChunk {
	m.mu.Lock()
	idx := len(m.ChatStreamCalls)
	m.ChatStreamCalls = append(m.ChatStreamCalls, ChatStreamCall{Messages: CloneMessages(messages), SystemPrompt: systemPrompt})
	m.mu.Unlock()

	if m.ChatStreamFunc != nil {
		return m.ChatStreamFunc(ctx, messages, systemPrompt)
	}
	if idx < len(m.Responses) {
		return play(ctx, m.Responses[idx])
	}
	return play(ctx, TextResponse("mock response"))
}

// play sends script on a buffered channel. Once ctx ends nothing more is
// sent, so a cancelled request closes without a terminal chunk.
func play(ctx context.Context, script []StreamChunk) <-chan StreamChunk {
	ch := make(chan StreamChunk, len(script))
	go func() {
		defer close(ch)
		for _, c := range script {
			if ctx.Err() != nil {
				return
			}
			select {
			case ch <- c:
			case <-ctx.Done():
				return
			}
		}
	}()
	return ch
}

func (m *MockLLMClient) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.ChatStreamCalls)
}

func (m *MockLLMClient) SetModel(model string) {
	m.mu.Lock()
	m.model = model
	m.mu.Unlock()
}

func (m *MockLLMClient) GetModel() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.model
}
