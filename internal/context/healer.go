package context

import (
	"slices"

	"github.com/abdul-hamid-achik/toolloop/internal/llm"
)

// Placeholder texts used when the healer has to synthesize content.
const (
	PlaceholderInterrupted    = llm.PlaceholderInterrupted
	PlaceholderToolResult     = "Placeholder: tool_result missing or user did not respond."
	PlaceholderHistoryOmitted = "Placeholder: earlier conversation was omitted."
)

type pendingInvocation struct {
	id   string
	name string
}

// Heal rewrites a conversation so that it satisfies the provider's structural
// rules: roles alternate, the first and last messages are user turns, every
// tool_use is answered by a tool_result in the next message, and tool blocks
// precede text and image blocks. The input is never modified and healing an
// already healed conversation returns an equal conversation.
func Heal(messages []llm.Message) []llm.Message {
	if len(messages) == 0 {
		return []llm.Message{}
	}

	out := make([]llm.Message, 0, len(messages)+2)
	var pending *pendingInvocation

	for _, src := range messages {
		msg := src.Clone()

		if len(out) == 0 && msg.Role == llm.RoleAssistant {
			out = append(out, llm.BlocksMessage(llm.RoleUser, llm.TextBlock(PlaceholderHistoryOmitted)))
		}

		if len(out) > 0 && out[len(out)-1].Role == msg.Role {
			if msg.Role == llm.RoleUser {
				out = append(out, placeholderAssistant())
			} else {
				out = append(out, placeholderUser(pending))
				pending = nil
			}
		}

		if msg.Role == llm.RoleUser && pending != nil {
			if !msg.HasToolResult(pending.id) {
				blocks := msg.AsBlocks()
				blocks = append(blocks, llm.ToolResultBlock(pending.id, PlaceholderToolResult, false))
				msg.Blocks = blocks
				msg.Content = ""
			}
			pending = nil
		}

		if msg.Role == llm.RoleAssistant {
			pending = nil
			if b, ok := msg.FirstToolUse(); ok {
				pending = &pendingInvocation{id: b.ID, name: b.Name}
			}
		}

		out = append(out, msg)
	}

	if out[len(out)-1].Role != llm.RoleUser {
		out = append(out, placeholderUser(pending))
	}

	for i := range out {
		if out[i].Blocks != nil {
			sortToolBlocksFirst(out[i].Blocks)
		}
	}
	return out
}

// sortToolBlocksFirst moves tool_use/tool_result blocks ahead of text and
// image blocks, keeping the relative order inside each group.
func sortToolBlocksFirst(blocks []llm.ContentBlock) {
	slices.SortStableFunc(blocks, func(a, b llm.ContentBlock) int {
		return toolRank(a) - toolRank(b)
	})
}

func toolRank(b llm.ContentBlock) int {
	if b.IsTool() {
		return 0
	}
	return 1
}

func placeholderAssistant() llm.Message {
	return llm.BlocksMessage(llm.RoleAssistant, llm.TextBlock(PlaceholderInterrupted))
}

// placeholderUser builds a synthetic user turn. When an invocation is still
// unanswered the turn carries its placeholder result.
func placeholderUser(pending *pendingInvocation) llm.Message {
	if pending != nil {
		return llm.BlocksMessage(llm.RoleUser,
			llm.ToolResultBlock(pending.id, PlaceholderToolResult, false))
	}
	return llm.BlocksMessage(llm.RoleUser, llm.TextBlock(PlaceholderInterrupted))
}
