// Package message defines the polymorphic content-block and conversation
// message types shared by the session store, the backend client, and the
// agent loop.
package message

import (
	"encoding/json"
	"fmt"
)

// BlockType discriminates the closed set of content block variants.
type BlockType string

const (
	BlockText       BlockType = "text"
	BlockToolUse    BlockType = "tool_use"
	BlockToolResult BlockType = "tool_result"
)

// Block is one piece of an assistant or user message: a text run, a
// tool invocation request, or a tool invocation result. Exactly one of
// the type-specific fields is populated, selected by Type.
type Block struct {
	Type BlockType `json:"type"`

	// BlockText
	Text string `json:"text,omitempty"`

	// BlockToolUse
	ToolUseID string         `json:"id,omitempty"`
	Name      string         `json:"name,omitempty"`
	Input     map[string]any `json:"input,omitempty"`

	// BlockToolResult
	ToolResultID string `json:"tool_use_id,omitempty"`
	Output       string `json:"content,omitempty"`
}

func TextBlock(text string) Block {
	return Block{Type: BlockText, Text: text}
}

func ToolUseBlock(id, name string, input map[string]any) Block {
	return Block{Type: BlockToolUse, ToolUseID: id, Name: name, Input: input}
}

func ToolResultBlock(toolUseID, output string) Block {
	return Block{Type: BlockToolResult, ToolResultID: toolUseID, Output: output}
}

// Role is the speaker of a Message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one turn in a conversation. Content is a union: either plain
// string text, or an ordered list of content blocks. Exactly one of Text
// or Blocks is meaningful at a time; HasBlocks reports which.
type Message struct {
	Role   Role
	Text   string
	Blocks []Block
}

// HasBlocks reports whether this message carries structured content
// blocks rather than a plain string.
func (m Message) HasBlocks() bool { return m.Blocks != nil }

func UserText(text string) Message {
	return Message{Role: RoleUser, Text: text}
}

func UserBlocks(blocks []Block) Message {
	return Message{Role: RoleUser, Blocks: blocks}
}

func AssistantText(text string) Message {
	return Message{Role: RoleAssistant, Text: text}
}

func AssistantBlocks(blocks []Block) Message {
	return Message{Role: RoleAssistant, Blocks: blocks}
}

// LastBlock returns the final content block, or the zero Block if the
// message has no blocks.
func (m Message) LastBlock() (Block, bool) {
	if len(m.Blocks) == 0 {
		return Block{}, false
	}
	return m.Blocks[len(m.Blocks)-1], true
}

// ToolUseBlocks returns the subsequence of Blocks with Type==BlockToolUse.
func (m Message) ToolUseBlocks() []Block {
	var out []Block
	for _, b := range m.Blocks {
		if b.Type == BlockToolUse {
			out = append(out, b)
		}
	}
	return out
}

// ConcatText concatenates the Text field of every BlockText entry, in order.
func (m Message) ConcatText() string {
	if !m.HasBlocks() {
		return m.Text
	}
	var out string
	for _, b := range m.Blocks {
		if b.Type == BlockText {
			out += b.Text
		}
	}
	return out
}

// rawMessage is the JSON encoding used for transcript lines and wire
// payloads. Content is emitted as a bare string when the message has no
// blocks, or as an array of blocks otherwise — the discriminator is the
// JSON shape itself, not an extra tag field.
type rawMessage struct {
	Role    Role            `json:"role"`
	Content json.RawMessage `json:"content"`
}

func (m Message) MarshalJSON() ([]byte, error) {
	var content json.RawMessage
	var err error
	if m.HasBlocks() {
		content, err = json.Marshal(m.Blocks)
	} else {
		content, err = json.Marshal(m.Text)
	}
	if err != nil {
		return nil, fmt.Errorf("message: marshal content: %w", err)
	}
	return json.Marshal(rawMessage{Role: m.Role, Content: content})
}

func (m *Message) UnmarshalJSON(data []byte) error {
	var raw rawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("message: unmarshal: %w", err)
	}
	m.Role = raw.Role

	if len(raw.Content) == 0 {
		return nil
	}
	switch raw.Content[0] {
	case '"':
		return json.Unmarshal(raw.Content, &m.Text)
	case '[':
		return json.Unmarshal(raw.Content, &m.Blocks)
	default:
		return fmt.Errorf("message: unrecognized content shape %q", raw.Content)
	}
}
