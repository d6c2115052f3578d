package context

import (
	"github.com/abdul-hamid-achik/toolloop/internal/llm"
)

const (
	// DefaultTruncateThreshold is the share of the context window that
	// triggers truncation.
	DefaultTruncateThreshold = 0.9
	// DefaultTruncateDivisor controls how much history one truncation drops:
	// floor(n/divisor)*2 messages.
	DefaultTruncateDivisor = 4
	// minTruncatableMessages is the shortest conversation that loses anything.
	minTruncatableMessages = 4
)

// TruncationPolicy holds the tunable constants of the truncator.
type TruncationPolicy struct {
	Threshold float64 `yaml:"truncate_threshold"`
	Divisor   int     `yaml:"truncate_divisor"`
}

// DefaultTruncationPolicy returns the default truncation constants
func DefaultTruncationPolicy() TruncationPolicy {
	return TruncationPolicy{
		Threshold: DefaultTruncateThreshold,
		Divisor:   DefaultTruncateDivisor,
	}
}

func (p TruncationPolicy) normalized() TruncationPolicy {
	if p.Threshold <= 0 || p.Threshold > 1 {
		p.Threshold = DefaultTruncateThreshold
	}
	if p.Divisor < 2 {
		p.Divisor = DefaultTruncateDivisor
	}
	return p
}

// Truncator drops the oldest history (after the first message) once a
// conversation approaches the context window. Its output must be healed
// before it is sent.
type Truncator struct {
	policy   TruncationPolicy
	estimate func([]llm.Message) int
}

// NewTruncator creates a truncator with the given policy and the default
// estimator.
func NewTruncator(policy TruncationPolicy) *Truncator {
	return &Truncator{
		policy:   policy.normalized(),
		estimate: EstimateTokens,
	}
}

// Policy returns the effective policy.
func (t *Truncator) Policy() TruncationPolicy {
	return t.policy
}

// Limit returns the token count above which truncation happens.
func (t *Truncator) Limit(contextWindow int) int {
	return int(t.policy.Threshold * float64(contextWindow))
}

// NeedsTruncation reports whether the conversation is over the limit.
func (t *Truncator) NeedsTruncation(messages []llm.Message, contextWindow int) bool {
	return t.estimate(messages) > t.Limit(contextWindow)
}

// RemovalCount returns how many messages one truncation removes from a
// conversation of n messages. The count is even so role alternation after
// the kept head is preserved, and never reaches past the last message.
func (t *Truncator) RemovalCount(n int) int {
	if n < minTruncatableMessages {
		return 0
	}
	remove := (n / t.policy.Divisor) * 2
	if remove > n-1 {
		remove = n - 1
		remove -= remove % 2
	}
	return remove
}

// TruncateIfNeeded returns the conversation with one slice of history
// removed when it is over the limit, and whether anything was removed.
// The input is not modified.
func (t *Truncator) TruncateIfNeeded(messages []llm.Message, contextWindow int) ([]llm.Message, bool) {
	if !t.NeedsTruncation(messages, contextWindow) {
		return llm.CloneMessages(messages), false
	}
	return t.Truncate(messages)
}

// Truncate unconditionally removes one slice of history: message 0 is kept,
// then RemovalCount messages starting at index 1 are dropped.
func (t *Truncator) Truncate(messages []llm.Message) ([]llm.Message, bool) {
	remove := t.RemovalCount(len(messages))
	if remove == 0 {
		return llm.CloneMessages(messages), false
	}
	out := make([]llm.Message, 0, len(messages)-remove)
	out = append(out, messages[0].Clone())
	for _, m := range messages[1+remove:] {
		out = append(out, m.Clone())
	}
	return out, true
}

var defaultTruncator = NewTruncator(DefaultTruncationPolicy())

// TruncateIfNeeded applies the default policy.
func TruncateIfNeeded(messages []llm.Message, contextWindow int) []llm.Message {
	out, _ := defaultTruncator.TruncateIfNeeded(messages, contextWindow)
	return out
}
