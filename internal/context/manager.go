package context

import (
	"sync"

	"github.com/abdul-hamid-achik/toolloop/internal/errors"
	"github.com/abdul-hamid-achik/toolloop/internal/llm"
)

const (
	// DefaultContextWindow is the default context window size for Claude models (200K tokens)
	DefaultContextWindow = 200000
	// DefaultHardLimitReserve is the headroom that must remain free after
	// truncation for the task to continue.
	DefaultHardLimitReserve = 13314
	// DefaultWarnThreshold is the usage share at which a warning is shown.
	DefaultWarnThreshold = 0.8
)

// ContextConfig holds configuration for context management
type ContextConfig struct {
	ContextWindow     int     `yaml:"context_window"`     // Default: 200000
	TruncateThreshold float64 `yaml:"truncate_threshold"` // Default: 0.9
	TruncateDivisor   int     `yaml:"truncate_divisor"`   // Default: 4
	HardLimitReserve  int     `yaml:"hard_limit_reserve"` // Default: 13314
	WarnThreshold     float64 `yaml:"warn_threshold"`     // Default: 0.80
}

// DefaultContextConfig returns the default context configuration
func DefaultContextConfig() ContextConfig {
	return ContextConfig{
		ContextWindow:     DefaultContextWindow,
		TruncateThreshold: DefaultTruncateThreshold,
		TruncateDivisor:   DefaultTruncateDivisor,
		HardLimitReserve:  DefaultHardLimitReserve,
		WarnThreshold:     DefaultWarnThreshold,
	}
}

// ContextStats contains statistics about context usage
type ContextStats struct {
	UsedTokens       int
	ContextWindow    int
	UsagePercent     float64
	MessageCount     int
	Truncations      int
	Heals            int
	NeedsTruncation  bool
	NeedsWarning     bool
	CalibrationRatio float64
}

// MessageBreakdown contains token counts by message type
type MessageBreakdown struct {
	SystemPrompt  int
	UserMessages  int
	AssistantMsgs int
	ToolResults   int
	Images        int
	Total         int
}

// PrepareResult describes what Prepare did to the conversation.
type PrepareResult struct {
	Messages        []llm.Message
	Truncated       bool
	TokensBefore    int
	TokensAfter     int
	RemovedMessages int
}

// ContextManager owns the canonical conversation of one task. Every
// outbound request goes through Prepare, which truncates, heals and
// enforces the hard limit.
type ContextManager struct {
	mu sync.RWMutex

	messages      []llm.Message
	systemPrompt  string
	contextWindow int
	reserve       int
	warnThreshold float64

	truncator  *Truncator
	calibrator *TokenCalibrator

	truncations int
	heals       int

	// Cached stats
	cachedTokens int
	statsDirty   bool
}

// NewContextManager creates a new context manager
func NewContextManager(systemPrompt string, cfg ContextConfig) *ContextManager {
	contextWindow := cfg.ContextWindow
	if contextWindow <= 0 {
		contextWindow = DefaultContextWindow
	}
	reserve := cfg.HardLimitReserve
	if reserve < 0 || reserve >= contextWindow {
		reserve = 0
	}
	warn := cfg.WarnThreshold
	if warn <= 0 {
		warn = DefaultWarnThreshold
	}

	return &ContextManager{
		messages:      []llm.Message{},
		systemPrompt:  systemPrompt,
		contextWindow: contextWindow,
		reserve:       reserve,
		warnThreshold: warn,
		truncator: NewTruncator(TruncationPolicy{
			Threshold: cfg.TruncateThreshold,
			Divisor:   cfg.TruncateDivisor,
		}),
		calibrator: NewTokenCalibrator(50),
		statsDirty: true,
	}
}

// AddMessage adds a message to the conversation
func (cm *ContextManager) AddMessage(msg llm.Message) {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	cm.messages = append(cm.messages, msg.Clone())
	cm.statsDirty = true
}

// AppendToolResult attaches a tool_result block to the trailing user
// message, creating that message when the conversation ends with an
// assistant turn.
func (cm *ContextManager) AppendToolResult(block llm.ContentBlock) {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	cm.messages = MergeIntoUserTurn(cm.messages, block)
	cm.statsDirty = true
}

// MergeIntoUserTurn appends block to the last message when it is a user
// turn, otherwise appends a new user turn holding it. The input slice is
// not modified.
func MergeIntoUserTurn(messages []llm.Message, blocks ...llm.ContentBlock) []llm.Message {
	out := llm.CloneMessages(messages)
	if n := len(out); n > 0 && out[n-1].Role == llm.RoleUser {
		last := out[n-1]
		merged := last.AsBlocks()
		if !last.HasBlocks() && last.Content == "" {
			merged = nil
		}
		last.Blocks = append(merged, blocks...)
		last.Content = ""
		out[n-1] = last
		return out
	}
	return append(out, llm.BlocksMessage(llm.RoleUser, blocks...))
}

// GetMessages returns all messages
func (cm *ContextManager) GetMessages() []llm.Message {
	cm.mu.RLock()
	defer cm.mu.RUnlock()

	// Return a copy to prevent external modification
	return llm.CloneMessages(cm.messages)
}

// SetMessages replaces the conversation, as when a session is resumed.
func (cm *ContextManager) SetMessages(msgs []llm.Message) {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	cm.messages = llm.CloneMessages(msgs)
	if cm.messages == nil {
		cm.messages = []llm.Message{}
	}
	cm.statsDirty = true
}

// GetMessageCount returns the number of messages
func (cm *ContextManager) GetMessageCount() int {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	return len(cm.messages)
}

// Prepare turns the canonical conversation into the one to send: history is
// truncated when over the threshold, then healed, and the result becomes
// the new canonical conversation. If the healed conversation still does not
// fit the window minus the reserve, a context_window_exceeded error is
// returned together with the result.
func (cm *ContextManager) Prepare() (PrepareResult, error) {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	return cm.prepare(false)
}

// ForceTruncate removes one slice of history regardless of the threshold.
// It is used when the provider rejects a prompt as too long.
func (cm *ContextManager) ForceTruncate() (PrepareResult, error) {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	return cm.prepare(true)
}

func (cm *ContextManager) prepare(force bool) (PrepareResult, error) {
	before := EstimateTokens(cm.messages)
	result := PrepareResult{TokensBefore: before}

	msgs := cm.messages
	var truncated bool
	if force {
		msgs, truncated = cm.truncator.Truncate(msgs)
	} else {
		msgs, truncated = cm.truncator.TruncateIfNeeded(msgs, cm.contextWindow)
	}
	if truncated {
		result.Truncated = true
		result.RemovedMessages = len(cm.messages) - len(msgs)
		cm.truncations++
	}

	healed := Heal(msgs)
	cm.heals++
	cm.messages = healed
	cm.statsDirty = true

	result.TokensAfter = EstimateTokens(healed)
	result.Messages = llm.CloneMessages(healed)

	if limit := cm.contextWindow - cm.reserve; result.TokensAfter > limit {
		return result, errors.ContextWindowExceeded(result.TokensAfter, limit)
	}
	return result, nil
}

// RecordUsage feeds the provider-reported input token count of the last
// request into the calibrator.
func (cm *ContextManager) RecordUsage(estimated, actualInputTokens int) {
	cm.calibrator.Record(estimated, actualInputTokens)
}

// Calibrator returns the estimate calibrator.
func (cm *ContextManager) Calibrator() *TokenCalibrator {
	return cm.calibrator
}

// GetStats returns current context statistics
func (cm *ContextManager) GetStats() ContextStats {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	if cm.statsDirty {
		cm.cachedTokens = EstimateTokens(cm.messages)
		cm.statsDirty = false
	}

	usagePercent := float64(cm.cachedTokens) / float64(cm.contextWindow)

	return ContextStats{
		UsedTokens:       cm.cachedTokens,
		ContextWindow:    cm.contextWindow,
		UsagePercent:     usagePercent,
		MessageCount:     len(cm.messages),
		Truncations:      cm.truncations,
		Heals:            cm.heals,
		NeedsTruncation:  cm.cachedTokens > cm.truncator.Limit(cm.contextWindow),
		NeedsWarning:     usagePercent >= cm.warnThreshold,
		CalibrationRatio: cm.calibrator.Ratio(),
	}
}

// GetBreakdown returns token counts by message type
func (cm *ContextManager) GetBreakdown() MessageBreakdown {
	cm.mu.RLock()
	defer cm.mu.RUnlock()

	return Breakdown(cm.systemPrompt, cm.messages)
}

// Breakdown splits the estimate of a conversation by origin.
func Breakdown(systemPrompt string, messages []llm.Message) MessageBreakdown {
	breakdown := MessageBreakdown{
		SystemPrompt: EstimateTextTokens(systemPrompt),
	}

	for _, msg := range messages {
		if !msg.HasBlocks() {
			addByRole(&breakdown, msg.Role, EstimateMessageTokens(msg))
			continue
		}
		for _, b := range msg.Blocks {
			tokens := EstimateBlockTokens(b)
			switch b.Type {
			case llm.BlockToolResult:
				breakdown.ToolResults += tokens
			case llm.BlockImage:
				breakdown.Images += tokens
			default:
				addByRole(&breakdown, msg.Role, tokens)
			}
		}
	}

	breakdown.Total = breakdown.SystemPrompt + breakdown.UserMessages +
		breakdown.AssistantMsgs + breakdown.ToolResults + breakdown.Images

	return breakdown
}

func addByRole(b *MessageBreakdown, role llm.Role, tokens int) {
	if role == llm.RoleAssistant {
		b.AssistantMsgs += tokens
	} else {
		b.UserMessages += tokens
	}
}

// Clear clears all messages
func (cm *ContextManager) Clear() {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	cm.messages = []llm.Message{}
	cm.cachedTokens = 0
	cm.statsDirty = true
}

// SetContextWindow updates the context window size
func (cm *ContextManager) SetContextWindow(size int) {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	if size <= 0 {
		return
	}
	cm.contextWindow = size
	if cm.reserve >= size {
		cm.reserve = 0
	}
	cm.statsDirty = true
}

// GetContextWindow returns the configured window size
func (cm *ContextManager) GetContextWindow() int {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	return cm.contextWindow
}
