package context

import (
	"errors"
	"strings"
	"testing"

	looperrors "github.com/abdul-hamid-achik/toolloop/internal/errors"
	"github.com/abdul-hamid-achik/toolloop/internal/llm"
)

func TestNewContextManager(t *testing.T) {
	cm := NewContextManager("test system prompt", DefaultContextConfig())

	stats := cm.GetStats()
	if stats.MessageCount != 0 {
		t.Errorf("expected 0 messages, got %d", stats.MessageCount)
	}
	if stats.ContextWindow != DefaultContextWindow {
		t.Errorf("expected context window %d, got %d", DefaultContextWindow, stats.ContextWindow)
	}
}

func TestAddMessageAndClear(t *testing.T) {
	cm := NewContextManager("test prompt", DefaultContextConfig())

	cm.AddMessage(llm.UserMessage("Hello"))
	cm.AddMessage(llm.AssistantMessage("Hi there!"))

	if got := len(cm.GetMessages()); got != 2 {
		t.Errorf("expected 2 messages, got %d", got)
	}
	if got := cm.GetStats().UsedTokens; got != 3+5 {
		t.Errorf("expected 8 used tokens, got %d", got)
	}

	cm.Clear()
	if got := cm.GetStats().MessageCount; got != 0 {
		t.Errorf("expected 0 messages after clear, got %d", got)
	}
}

func TestGetMessagesReturnsCopy(t *testing.T) {
	cm := NewContextManager("", DefaultContextConfig())
	cm.AddMessage(llm.BlocksMessage(llm.RoleUser, llm.TextBlock("original")))

	msgs := cm.GetMessages()
	msgs[0].Blocks[0].Text = "changed"

	if got := cm.GetMessages()[0].Blocks[0].Text; got != "original" {
		t.Errorf("canonical conversation changed through a copy: %q", got)
	}
}

func TestMergeIntoUserTurn(t *testing.T) {
	result := llm.ToolResultBlock("t1", "ok", false)

	t.Run("after assistant", func(t *testing.T) {
		in := []llm.Message{llm.UserMessage("q"), llm.AssistantMessage("a")}
		out := MergeIntoUserTurn(in, result)
		if len(out) != 3 || !out[2].HasToolResult("t1") {
			t.Errorf("MergeIntoUserTurn() = %+v, want a new user turn with the result", out)
		}
	})

	t.Run("into pending user turn", func(t *testing.T) {
		in := []llm.Message{llm.UserMessage("q"), llm.AssistantMessage("a"), llm.UserMessage("more")}
		out := MergeIntoUserTurn(in, result)
		if len(out) != 3 {
			t.Fatalf("len = %d, want 3", len(out))
		}
		if !out[2].HasToolResult("t1") || out[2].Text() != "more" {
			t.Errorf("out[2] = %+v, want text and result merged", out[2])
		}
		if in[2].HasBlocks() {
			t.Error("input was modified")
		}
	})

	t.Run("empty string turn", func(t *testing.T) {
		out := MergeIntoUserTurn([]llm.Message{llm.UserMessage("")}, result)
		if len(out[0].Blocks) != 1 {
			t.Errorf("blocks = %+v, want only the result", out[0].Blocks)
		}
	})
}

func TestPrepare_HealsAndReplacesCanonical(t *testing.T) {
	cm := NewContextManager("", DefaultContextConfig())
	cm.AddMessage(llm.UserMessage("q"))
	cm.AddMessage(llm.BlocksMessage(llm.RoleAssistant, llm.ToolUseBlock("w1", "write_to_file", nil)))

	res, err := cm.Prepare()
	if err != nil {
		t.Fatalf("Prepare() error = %v", err)
	}
	if res.Truncated {
		t.Error("Prepare() truncated a small conversation")
	}
	if len(res.Messages) != 3 || !res.Messages[2].HasToolResult("w1") {
		t.Fatalf("Prepare() messages = %+v", res.Messages)
	}
	if got := cm.GetMessageCount(); got != 3 {
		t.Errorf("canonical conversation has %d messages, want 3", got)
	}
	if got := cm.GetStats().Heals; got != 1 {
		t.Errorf("Heals = %d, want 1", got)
	}
}

func TestPrepare_Truncates(t *testing.T) {
	cfg := DefaultContextConfig()
	cfg.ContextWindow = 100
	cfg.HardLimitReserve = 0
	cm := NewContextManager("", cfg)
	cm.SetMessages(numbered(12)) // 120 tokens

	res, err := cm.Prepare()
	if err != nil {
		t.Fatalf("Prepare() error = %v", err)
	}
	if !res.Truncated || res.RemovedMessages != 6 {
		t.Errorf("Prepare() = truncated %v removed %d, want true 6", res.Truncated, res.RemovedMessages)
	}
	if res.TokensBefore != 120 {
		t.Errorf("TokensBefore = %d, want 120", res.TokensBefore)
	}
	if err := checkHealed(res.Messages); err != nil {
		t.Errorf("prepared conversation is not healed: %v", err)
	}
	if !strings.HasPrefix(res.Messages[0].Content, "m00") {
		t.Errorf("first message = %q, want m00", res.Messages[0].Content)
	}
	if cm.GetStats().Truncations != 1 {
		t.Errorf("Truncations = %d, want 1", cm.GetStats().Truncations)
	}
}

func TestPrepare_HardLimit(t *testing.T) {
	cfg := DefaultContextConfig()
	cfg.ContextWindow = 1000
	cfg.HardLimitReserve = 900
	cm := NewContextManager("", cfg)
	cm.AddMessage(llm.UserMessage(strings.Repeat("x", 400))) // 200 tokens, cannot be truncated

	_, err := cm.Prepare()

	var le *looperrors.LoopError
	if !errors.As(err, &le) || le.Code != "context_window_exceeded" {
		t.Fatalf("Prepare() error = %v, want context_window_exceeded", err)
	}
}

func TestForceTruncate(t *testing.T) {
	cm := NewContextManager("", DefaultContextConfig())
	cm.SetMessages(numbered(8))

	res, err := cm.ForceTruncate()
	if err != nil {
		t.Fatalf("ForceTruncate() error = %v", err)
	}
	// head plus messages 5..7, then a placeholder user turn from healing
	if !res.Truncated || len(res.Messages) != 5 {
		t.Errorf("ForceTruncate() kept %d messages, truncated=%v; want 5, true", len(res.Messages), res.Truncated)
	}
}

func TestGetBreakdown(t *testing.T) {
	cm := NewContextManager("system", DefaultContextConfig())

	cm.AddMessage(llm.UserMessage("Hello world"))
	cm.AddMessage(llm.BlocksMessage(llm.RoleAssistant, llm.TextBlock("Hi there!"), llm.ToolUseBlock("t1", "read_file", nil)))
	cm.AddMessage(llm.BlocksMessage(llm.RoleUser, llm.ToolResultBlock("t1", "Some output", false), llm.ImageBlock("image/png", "AA")))

	b := cm.GetBreakdown()

	if b.SystemPrompt != 2 {
		t.Errorf("SystemPrompt = %d, want 2", b.SystemPrompt)
	}
	if b.UserMessages != 6 {
		t.Errorf("UserMessages = %d, want 6", b.UserMessages)
	}
	// tool_use blocks cost nothing; their markup lives in the text.
	if b.AssistantMsgs != 3 {
		t.Errorf("AssistantMsgs = %d, want 3", b.AssistantMsgs)
	}
	if b.ToolResults != 4 {
		t.Errorf("ToolResults = %d, want 4", b.ToolResults)
	}
	if b.Images != ImageTokens {
		t.Errorf("Images = %d, want %d", b.Images, ImageTokens)
	}
	if b.Total != 2+6+3+4+ImageTokens {
		t.Errorf("Total = %d", b.Total)
	}
}

func TestStatsThresholds(t *testing.T) {
	cfg := DefaultContextConfig()
	cfg.ContextWindow = 100
	cfg.WarnThreshold = 0.5
	cm := NewContextManager("", cfg)

	cm.SetMessages(numbered(6)) // 60 tokens
	stats := cm.GetStats()
	if !stats.NeedsWarning || stats.NeedsTruncation {
		t.Errorf("at 60%%: warning=%v truncation=%v, want true false", stats.NeedsWarning, stats.NeedsTruncation)
	}

	cm.SetMessages(numbered(10)) // 100 tokens
	if !cm.GetStats().NeedsTruncation {
		t.Error("at 100%: expected NeedsTruncation")
	}
}

func TestSetContextWindow(t *testing.T) {
	cm := NewContextManager("", DefaultContextConfig())
	cm.SetContextWindow(0)
	if cm.GetContextWindow() != DefaultContextWindow {
		t.Errorf("SetContextWindow(0) changed the window to %d", cm.GetContextWindow())
	}
	cm.SetContextWindow(5000)
	if cm.GetContextWindow() != 5000 {
		t.Errorf("GetContextWindow() = %d, want 5000", cm.GetContextWindow())
	}
}

func TestDefaultContextConfig(t *testing.T) {
	cfg := DefaultContextConfig()

	if cfg.TruncateThreshold != 0.9 {
		t.Errorf("expected TruncateThreshold 0.9, got %f", cfg.TruncateThreshold)
	}
	if cfg.TruncateDivisor != 4 {
		t.Errorf("expected TruncateDivisor 4, got %d", cfg.TruncateDivisor)
	}
	if cfg.ContextWindow != DefaultContextWindow {
		t.Errorf("expected ContextWindow %d, got %d", DefaultContextWindow, cfg.ContextWindow)
	}
}
