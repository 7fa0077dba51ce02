package llm

import (
	"encoding/json"
	"errors"
	"fmt"
)

const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"

	PartTypeText  = "text"
	PartTypeImage = "image_url"
	PartTypeAudio = "input_audio"

	FinishStop      = "stop"
	FinishLength    = "length"
	FinishToolCalls = "tool_calls"
)

// ContentPart is one typed element of a multimodal message.
type ContentPart struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL *ImageRef `json:"image_url,omitempty"`
	Audio    *AudioRef `json:"input_audio,omitempty"`
}

type ImageRef struct {
	URL    string `json:"url"`
	Detail string `json:"detail,omitempty"`
}

type AudioRef struct {
	Data   string `json:"data"`
	Format string `json:"format,omitempty"`
}

// Content holds either plain text or a list of typed parts. It marshals
// to a JSON string in the plain case and to an array otherwise, matching
// the OpenAI wire shape.
type Content struct {
	Text  string
	Parts []ContentPart
}

func TextContent(s string) Content {
	return Content{Text: s}
}

func (c Content) IsMultimodal() bool {
	return len(c.Parts) > 0
}

// PlainText returns the textual content, concatenating text parts for
// multimodal messages.
func (c Content) PlainText() string {
	if len(c.Parts) == 0 {
		return c.Text
	}

	var out string
	for _, p := range c.Parts {
		if p.Type == PartTypeText {
			out += p.Text
		}
	}

	return out
}

func (c Content) MarshalJSON() ([]byte, error) {
	if len(c.Parts) > 0 {
		return json.Marshal(c.Parts)
	}

	return json.Marshal(c.Text)
}

func (c *Content) UnmarshalJSON(data []byte) error {
	var text string
	if err := json.Unmarshal(data, &text); err == nil {
		c.Text = text
		c.Parts = nil

		return nil
	}

	var parts []ContentPart
	if err := json.Unmarshal(data, &parts); err == nil {
		c.Parts = parts
		c.Text = ""

		return nil
	}

	// Some backends send null for tool-call-only messages.
	if string(data) == "null" {
		*c = Content{}
		return nil
	}

	return fmt.Errorf("message content is neither string nor part list: %s", data)
}

type Message struct {
	Role       string     `json:"role"`
	Content    Content    `json:"content"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
}

func UserMessage(text string) Message {
	return Message{Role: RoleUser, Content: TextContent(text)}
}

func SystemMessage(text string) Message {
	return Message{Role: RoleSystem, Content: TextContent(text)}
}

func AssistantMessage(text string) Message {
	return Message{Role: RoleAssistant, Content: TextContent(text)}
}

type Tool struct {
	Type     string   `json:"type"`
	Function Function `json:"function"`
}

type Function struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Parameters  json.RawMessage `json:"parameters,omitempty"`
}

type ToolCall struct {
	ID       string       `json:"id"`
	Type     string       `json:"type"`
	Function FunctionCall `json:"function"`
}

type FunctionCall struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// ChatRequest is the provider-agnostic request shape. Every outgoing
// request is built from it, whatever the upstream wire format.
type ChatRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	MaxTokens   *int      `json:"max_tokens,omitempty"`
	Temperature *float64  `json:"temperature,omitempty"`
	Tools       []Tool    `json:"tools,omitempty"`
	Stream      bool      `json:"stream,omitempty"`
}

var ErrNoMessages = errors.New("chat request has no messages")

// Validate rejects requests that must never reach the network.
func (r *ChatRequest) Validate() error {
	if len(r.Messages) == 0 {
		return ErrNoMessages
	}

	return nil
}

type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
	TotalTokens  int `json:"total_tokens"`
}

// ChatResponse is the provider-agnostic response shape.
type ChatResponse struct {
	ID           string     `json:"id,omitempty"`
	Model        string     `json:"model,omitempty"`
	Role         string     `json:"role"`
	Content      string     `json:"content"`
	ToolCalls    []ToolCall `json:"tool_calls,omitempty"`
	FinishReason string     `json:"finish_reason,omitempty"`
	Usage        *Usage     `json:"usage,omitempty"`
}

// ChatChunk is one element of a finite, non-restartable stream. Done is
// set exactly once, on the terminating chunk.
type ChatChunk struct {
	Content      string     `json:"content,omitempty"`
	ToolCalls    []ToolCall `json:"tool_calls,omitempty"`
	FinishReason string     `json:"finish_reason,omitempty"`
	Usage        *Usage     `json:"usage,omitempty"`
	Done         bool       `json:"-"`
}

// ModelInfo is one entry of a provider's model listing.
type ModelInfo struct {
	ID            string   `json:"id"`
	Provider      string   `json:"provider,omitempty"`
	DisplayName   string   `json:"display_name,omitempty"`
	ContextLength int      `json:"context_length,omitempty"`
	Capabilities  []string `json:"capabilities,omitempty"`
	InputPrice    float64  `json:"input_price,omitempty"`
	OutputPrice   float64  `json:"output_price,omitempty"`
}
