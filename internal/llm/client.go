package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/abdul-hamid-achik/toolloop/internal/config"
	looperr "github.com/abdul-hamid-achik/toolloop/internal/errors"
	"github.com/abdul-hamid-achik/toolloop/internal/logging"
)

// Chunk types carried by StreamChunk.Type.
const (
	ChunkText  = "text"
	ChunkUsage = "usage"
	ChunkDone  = "done"
	ChunkError = "error"
)

// DefaultChunkTimeout bounds the silence between two stream events.
const DefaultChunkTimeout = 2 * time.Minute

// StreamChunk represents a chunk of streamed response
type StreamChunk struct {
	Type       string // "text", "usage", "done", "error"
	Text       string
	Usage      *Usage // set on "usage" chunks
	StopReason string // set on "done" chunks
	Error      error
}

// LLMClient is the interface for LLM clients. The response is delivered as
// text chunks followed by exactly one "done" or "error" chunk, after which
// the channel is closed.
type LLMClient interface {
	ChatStream(ctx context.Context, messages []Message, systemPrompt string) <-chan StreamChunk
	SetModel(model string)
	GetModel() string
}

// Client wraps the Anthropic SDK
type Client struct {
	client       *anthropic.Client
	config       *config.Config
	model        string
	chunkTimeout time.Duration
	log          *logging.Logger
}

// NewClient creates a new LLM client
func NewClient(cfg *config.Config, log *logging.Logger) *Client {
	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		// Retries are handled by RateLimitedClient and ResilientClient.
		option.WithMaxRetries(0),
	}
	client := anthropic.NewClient(opts...)
	return &Client{
		client:       &client,
		config:       cfg,
		model:        cfg.GetDefaultModel(),
		chunkTimeout: DefaultChunkTimeout,
		log:          log.WithPrefix("llm"),
	}
}

// SetModel changes the current model
func (c *Client) SetModel(model string) {
	c.model = model
}

// SetTier changes the model tier
func (c *Client) SetTier(tier config.ModelTier) {
	c.model = c.config.GetModel(tier)
}

// GetModel returns the current model
func (c *Client) GetModel() string {
	return c.model
}

// ChatStream sends the conversation and streams the response
func (c *Client) ChatStream(ctx context.Context, messages []Message, systemPrompt string) <-chan StreamChunk {
	ch := make(chan StreamChunk, 100)

	go func() {
		defer close(ch)

		params := c.buildParams(messages, systemPrompt)
		c.log.Debug("sending request", logging.Model(c.model), logging.MessageCount(len(messages)))

		stream := watchStream[anthropic.MessageStreamEventUnion](ctx, c.client.Messages.NewStreaming(ctx, params), c.chunkTimeout)
		defer stream.Close()

		var usage Usage
		var stopReason string
		for {
			event, more, err := stream.Next()
			if err != nil {
				c.log.Error("stream failed", logging.Error(err))
				ch <- StreamChunk{Type: ChunkError, Error: classifyError(ctx, err)}
				return
			}
			if !more {
				break
			}

			switch e := event.AsAny().(type) {
			case anthropic.MessageStartEvent:
				usage.InputTokens = int(e.Message.Usage.InputTokens)
				usage.OutputTokens = int(e.Message.Usage.OutputTokens)
				usage.CacheReadTokens = int(e.Message.Usage.CacheReadInputTokens)
				usage.CacheWriteTokens = int(e.Message.Usage.CacheCreationInputTokens)

			case anthropic.ContentBlockDeltaEvent:
				if delta, ok := e.Delta.AsAny().(anthropic.TextDelta); ok && delta.Text != "" {
					ch <- StreamChunk{Type: ChunkText, Text: delta.Text}
				}

			case anthropic.MessageDeltaEvent:
				// Delta usage is cumulative for the message.
				usage.OutputTokens = int(e.Usage.OutputTokens)
				if e.Usage.InputTokens > 0 {
					usage.InputTokens = int(e.Usage.InputTokens)
				}
				stopReason = string(e.Delta.StopReason)
			}
		}

		u := usage
		ch <- StreamChunk{Type: ChunkUsage, Usage: &u}
		ch <- StreamChunk{Type: ChunkDone, StopReason: stopReason}
	}()

	return ch
}

func (c *Client) buildParams(messages []Message, systemPrompt string) anthropic.MessageNewParams {
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(c.model),
		MaxTokens: int64(c.config.Model.MaxTokens),
		Messages:  toAPIMessages(messages),
	}

	if systemPrompt != "" {
		params.System = []anthropic.TextBlockParam{
			{
				Text:         systemPrompt,
				CacheControl: anthropic.NewCacheControlEphemeralParam(),
			},
		}
	}

	return params
}

// toAPIMessages converts the conversation to SDK params. Tools are invoked
// through tags in the assistant text, so tool_use blocks are not sent (the
// tag is already in the text) and tool_result blocks are sent as text. The
// last block of the first message carries an ephemeral cache marker.
func toAPIMessages(messages []Message) []anthropic.MessageParam {
	out := make([]anthropic.MessageParam, 0, len(messages))
	for i, msg := range messages {
		blocks := toAPIBlocks(msg)
		if len(blocks) == 0 {
			blocks = append(blocks, anthropic.NewTextBlock(PlaceholderInterrupted))
		}
		if i == 0 {
			if cc := blocks[len(blocks)-1].GetCacheControl(); cc != nil {
				*cc = anthropic.NewCacheControlEphemeralParam()
			}
		}
		if msg.Role == RoleAssistant {
			out = append(out, anthropic.NewAssistantMessage(blocks...))
		} else {
			out = append(out, anthropic.NewUserMessage(blocks...))
		}
	}
	return out
}

func toAPIBlocks(msg Message) []anthropic.ContentBlockParamUnion {
	if !msg.HasBlocks() {
		if msg.Content == "" {
			return nil
		}
		return []anthropic.ContentBlockParamUnion{anthropic.NewTextBlock(msg.Content)}
	}

	blocks := make([]anthropic.ContentBlockParamUnion, 0, len(msg.Blocks))
	for _, b := range msg.Blocks {
		switch b.Type {
		case BlockText:
			if b.Text != "" {
				blocks = append(blocks, anthropic.NewTextBlock(b.Text))
			}
		case BlockImage:
			if img, ok := toAPIImage(b); ok {
				blocks = append(blocks, img)
			}
		case BlockToolResult:
			blocks = append(blocks, anthropic.NewTextBlock(renderToolResult(b)))
			for _, nested := range b.Content {
				if img, ok := toAPIImage(nested); ok {
					blocks = append(blocks, img)
				}
			}
		}
	}
	return blocks
}

func toAPIImage(b ContentBlock) (anthropic.ContentBlockParamUnion, bool) {
	if b.Type != BlockImage {
		return anthropic.ContentBlockParamUnion{}, false
	}
	if b.Data != "" {
		mediaType := b.MediaType
		if mediaType == "" {
			mediaType = "image/png"
		}
		return anthropic.NewImageBlockBase64(mediaType, b.Data), true
	}
	if b.URL != "" {
		return anthropic.NewImageBlock(anthropic.URLImageSourceParam{URL: b.URL}), true
	}
	return anthropic.ContentBlockParamUnion{}, false
}

// renderToolResult formats a tool_result for a text-only transport.
func renderToolResult(b ContentBlock) string {
	var sb strings.Builder
	if b.IsError {
		fmt.Fprintf(&sb, "[tool_result %s] Error:\n", b.ToolUseID)
	} else {
		fmt.Fprintf(&sb, "[tool_result %s]\n", b.ToolUseID)
	}
	sb.WriteString(b.Text)
	for _, nested := range b.Content {
		if nested.Type == BlockText {
			if sb.Len() > 0 && !strings.HasSuffix(sb.String(), "\n") {
				sb.WriteString("\n")
			}
			sb.WriteString(nested.Text)
		}
	}
	return sb.String()
}

// classifyError maps transport failures onto the error taxonomy.
func classifyError(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if errors.Is(err, ErrChunkTimeout) {
		return looperr.LLMTimeout(err)
	}
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.StatusCode == 429, apiErr.StatusCode >= 500:
			return looperr.LLMRequestFailed(err)
		default:
			return looperr.LLMRequestRejected(err)
		}
	}
	return looperr.LLMUnavailable(err)
}

// IsPromptTooLong reports whether the provider rejected the request because
// the prompt exceeds the model's context window.
func IsPromptTooLong(err error) bool {
	return err != nil && strings.Contains(strings.ToLower(err.Error()), "prompt is too long")
}
