package llm

import (
	"encoding/json"
	"fmt"
	"reflect"

	"github.com/fxamacker/cbor/v2"
)

// Role identifies the author of a message
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// PlaceholderInterrupted stands in for a turn that has no content, whether
// it was synthesized while healing or had nothing sendable.
const PlaceholderInterrupted = "Placeholder: Assistant was interrupted or did not respond to the last message."

// BlockType is the discriminator of a ContentBlock
type BlockType string

const (
	BlockText       BlockType = "text"
	BlockImage      BlockType = "image"
	BlockToolUse    BlockType = "tool_use"
	BlockToolResult BlockType = "tool_result"
)

// ContentBlock is one typed unit of a message body.
//
// Which fields are meaningful depends on Type:
//   - text: Text
//   - image: MediaType with either Data (base64) or URL
//   - tool_use: ID, Name, Input (assistant messages only)
//   - tool_result: ToolUseID, IsError, and the payload as either Text or
//     Content (user messages only)
type ContentBlock struct {
	Type BlockType `json:"type" cbor:"type"`
	Text string    `json:"text,omitempty" cbor:"text,omitempty"`

	MediaType string `json:"media_type,omitempty" cbor:"media_type,omitempty"`
	Data      string `json:"data,omitempty" cbor:"data,omitempty"`
	URL       string `json:"url,omitempty" cbor:"url,omitempty"`

	ID    string         `json:"id,omitempty" cbor:"id,omitempty"`
	Name  string         `json:"name,omitempty" cbor:"name,omitempty"`
	Input map[string]any `json:"input,omitempty" cbor:"input,omitempty"`

	ToolUseID string         `json:"tool_use_id,omitempty" cbor:"tool_use_id,omitempty"`
	Content   []ContentBlock `json:"content,omitempty" cbor:"content,omitempty"`
	IsError   bool           `json:"is_error,omitempty" cbor:"is_error,omitempty"`
}

// IsTool reports whether the block is a tool_use or tool_result.
func (b ContentBlock) IsTool() bool {
	return b.Type == BlockToolUse || b.Type == BlockToolResult
}

// TextBlock creates a text block
func TextBlock(text string) ContentBlock {
	return ContentBlock{Type: BlockText, Text: text}
}

// ImageBlock creates a base64 image block
func ImageBlock(mediaType, data string) ContentBlock {
	return ContentBlock{Type: BlockImage, MediaType: mediaType, Data: data}
}

// ImageURLBlock creates an image block referencing a URL
func ImageURLBlock(url string) ContentBlock {
	return ContentBlock{Type: BlockImage, URL: url}
}

// ToolUseBlock creates a tool invocation block
func ToolUseBlock(id, name string, input map[string]any) ContentBlock {
	return ContentBlock{Type: BlockToolUse, ID: id, Name: name, Input: input}
}

// ToolResultBlock creates a tool result block with a string payload
func ToolResultBlock(toolUseID, content string, isError bool) ContentBlock {
	return ContentBlock{Type: BlockToolResult, ToolUseID: toolUseID, Text: content, IsError: isError}
}

// Message is one turn of the conversation.
//
// The body is either the plain string Content or, when Blocks is non-nil,
// the ordered block array. An empty non-nil Blocks is a valid block body.
type Message struct {
	Role    Role
	Content string
	Blocks  []ContentBlock
}

// UserMessage creates a user message with plain string content
func UserMessage(text string) Message {
	return Message{Role: RoleUser, Content: text}
}

// AssistantMessage creates an assistant message with plain string content
func AssistantMessage(text string) Message {
	return Message{Role: RoleAssistant, Content: text}
}

// BlocksMessage creates a message whose body is a block array
func BlocksMessage(role Role, blocks ...ContentBlock) Message {
	if blocks == nil {
		blocks = []ContentBlock{}
	}
	return Message{Role: role, Blocks: blocks}
}

// HasBlocks reports whether the body is a block array.
func (m Message) HasBlocks() bool {
	return m.Blocks != nil
}

// AsBlocks returns the body as blocks, converting plain string content into
// a one-element text array. The returned slice is always a fresh copy.
func (m Message) AsBlocks() []ContentBlock {
	if m.Blocks != nil {
		return cloneBlocks(m.Blocks)
	}
	return []ContentBlock{TextBlock(m.Content)}
}

// FirstToolUse returns the first tool_use block of the message, if any.
func (m Message) FirstToolUse() (ContentBlock, bool) {
	for _, b := range m.Blocks {
		if b.Type == BlockToolUse {
			return b, true
		}
	}
	return ContentBlock{}, false
}

// HasToolResult reports whether the message carries a tool_result for id.
func (m Message) HasToolResult(id string) bool {
	for _, b := range m.Blocks {
		if b.Type == BlockToolResult && b.ToolUseID == id {
			return true
		}
	}
	return false
}

// Text concatenates the text of the message for display and logging.
func (m Message) Text() string {
	if m.Blocks == nil {
		return m.Content
	}
	var s string
	for _, b := range m.Blocks {
		if b.Type == BlockText {
			s += b.Text
		}
	}
	return s
}

// Clone returns a deep copy of the message.
func (m Message) Clone() Message {
	out := Message{Role: m.Role, Content: m.Content}
	if m.Blocks != nil {
		out.Blocks = cloneBlocks(m.Blocks)
	}
	return out
}

// CloneMessages deep-copies a conversation.
func CloneMessages(msgs []Message) []Message {
	if msgs == nil {
		return nil
	}
	out := make([]Message, len(msgs))
	for i, m := range msgs {
		out[i] = m.Clone()
	}
	return out
}

func cloneBlocks(blocks []ContentBlock) []ContentBlock {
	out := make([]ContentBlock, len(blocks))
	for i, b := range blocks {
		out[i] = b
		if b.Input != nil {
			out[i].Input = cloneMap(b.Input)
		}
		if b.Content != nil {
			out[i].Content = cloneBlocks(b.Content)
		}
	}
	return out
}

func cloneMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = cloneValue(v)
	}
	return out
}

// cloneValue copies the maps and slices a decoded tool input can hold.
func cloneValue(v any) any {
	switch v := v.(type) {
	case map[string]any:
		return cloneMap(v)
	case []any:
		out := make([]any, len(v))
		for i, e := range v {
			out[i] = cloneValue(e)
		}
		return out
	}
	return v
}

// wireMessage is the serialized shape shared by the JSON and CBOR codecs:
// content is a string or an array of blocks, as in the provider API.
type wireMessage struct {
	Role    Role `json:"role" cbor:"role"`
	Content any  `json:"content" cbor:"content"`
}

type rawJSONMessage struct {
	Role    Role            `json:"role"`
	Content json.RawMessage `json:"content"`
}

var (
	cborEnc, _ = cbor.CoreDetEncOptions().EncMode()
	cborDec, _ = cbor.DecOptions{
		DefaultMapType: reflect.TypeOf(map[string]any(nil)),
	}.DecMode()
)

type rawCBORMessage struct {
	Role    Role            `cbor:"role"`
	Content cbor.RawMessage `cbor:"content"`
}

func (m Message) wire() wireMessage {
	if m.Blocks != nil {
		return wireMessage{Role: m.Role, Content: m.Blocks}
	}
	return wireMessage{Role: m.Role, Content: m.Content}
}

// MarshalJSON encodes the message in provider shape.
func (m Message) MarshalJSON() ([]byte, error) {
	return json.Marshal(m.wire())
}

// UnmarshalJSON decodes string or block-array content.
func (m *Message) UnmarshalJSON(data []byte) error {
	var raw rawJSONMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*m = Message{Role: raw.Role}
	if len(raw.Content) == 0 || string(raw.Content) == "null" {
		return nil
	}
	if raw.Content[0] == '"' {
		return json.Unmarshal(raw.Content, &m.Content)
	}
	var blocks []ContentBlock
	if err := json.Unmarshal(raw.Content, &blocks); err != nil {
		return fmt.Errorf("decode content of %s message: %w", raw.Role, err)
	}
	if blocks == nil {
		blocks = []ContentBlock{}
	}
	m.Blocks = blocks
	return nil
}

// MarshalCBOR encodes the message in provider shape.
func (m Message) MarshalCBOR() ([]byte, error) {
	return cborEnc.Marshal(m.wire())
}

// UnmarshalCBOR decodes string or block-array content.
func (m *Message) UnmarshalCBOR(data []byte) error {
	var raw rawCBORMessage
	if err := cborDec.Unmarshal(data, &raw); err != nil {
		return err
	}
	*m = Message{Role: raw.Role}
	if len(raw.Content) == 0 {
		return nil
	}
	var text string
	if err := cborDec.Unmarshal(raw.Content, &text); err == nil {
		m.Content = text
		return nil
	}
	var blocks []ContentBlock
	if err := cborDec.Unmarshal(raw.Content, &blocks); err != nil {
		return fmt.Errorf("decode content of %s message: %w", raw.Role, err)
	}
	if blocks == nil {
		blocks = []ContentBlock{}
	}
	m.Blocks = blocks
	return nil
}
