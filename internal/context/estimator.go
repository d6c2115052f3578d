package context

import (
	"unicode/utf8"

	"github.com/abdul-hamid-achik/toolloop/internal/llm"
)

const (
	// CharsPerTokenBlock is the divisor applied to text inside content blocks.
	CharsPerTokenBlock = 3
	// CharsPerTokenString is the divisor applied to plain string content.
	CharsPerTokenString = 2
	// ImageTokens is the flat cost of one image block.
	ImageTokens = 2000
)

// EstimateTokens returns the approximate token count of a conversation.
func EstimateTokens(messages []llm.Message) int {
	total := 0
	for _, msg := range messages {
		total += EstimateMessageTokens(msg)
	}
	return total
}

// EstimateMessageTokens returns the approximate token count of one message.
// Plain string bodies are charged more heavily than text blocks.
func EstimateMessageTokens(msg llm.Message) int {
	if !msg.HasBlocks() {
		return ceilDiv(utf8.RuneCountInString(msg.Content), CharsPerTokenString)
	}
	return estimateBlocks(msg.Blocks)
}

// EstimateBlockTokens returns the approximate token count of one block.
func EstimateBlockTokens(b llm.ContentBlock) int {
	switch b.Type {
	case llm.BlockText:
		return estimateText(b.Text)
	case llm.BlockImage:
		return ImageTokens
	case llm.BlockToolUse:
		// The invocation markup is already counted in the assistant text,
		// and tool_use blocks are never sent.
		return 0
	case llm.BlockToolResult:
		return estimateText(b.Text) + estimateBlocks(b.Content)
	}
	return 0
}

// EstimateTextTokens estimates a bare string the way text blocks are charged.
func EstimateTextTokens(text string) int {
	return estimateText(text)
}

func estimateBlocks(blocks []llm.ContentBlock) int {
	total := 0
	for _, b := range blocks {
		total += EstimateBlockTokens(b)
	}
	return total
}

func estimateText(text string) int {
	return ceilDiv(utf8.RuneCountInString(text), CharsPerTokenBlock)
}

func ceilDiv(n, d int) int {
	if n <= 0 {
		return 0
	}
	return (n + d - 1) / d
}
