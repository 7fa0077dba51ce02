package llm

import (
	"encoding/json"
)

// Format identifies one of the known upstream response shapes.
type Format string

const (
	// FormatOpenAI is the dominant `choices[0].message` shape.
	FormatOpenAI Format = "openai"
	// FormatCompletionMessage is the `completion_message.content.{type,text}` shape.
	FormatCompletionMessage Format = "completion_message"
	// FormatNestedMessage is the `message.content[].text` shape.
	FormatNestedMessage Format = "nested_message"
	// FormatContentBlocks is the `content[].{type,text}` shape with a stop reason.
	FormatContentBlocks Format = "content_blocks"
)

// detectOrder is the fixed trial order. The first structurally valid
// parse wins; partial matches are never merged across formats.
var detectOrder = []Format{
	FormatOpenAI,
	FormatCompletionMessage,
	FormatNestedMessage,
	FormatContentBlocks,
}

// ParseResponse tries each known format in order and returns the first
// structurally valid parse. Failing all formats yields a *FormatError,
// never a best-effort guess.
func ParseResponse(provider string, data []byte) (*ChatResponse, Format, error) {
	for _, f := range detectOrder {
		if resp, ok := parseAs(f, data); ok {
			return resp, f, nil
		}
	}

	return nil, "", &FormatError{Provider: provider, Body: data}
}

func parseAs(f Format, data []byte) (*ChatResponse, bool) {
	switch f {
	case FormatOpenAI:
		return parseOpenAI(data)
	case FormatCompletionMessage:
		return parseCompletionMessage(data)
	case FormatNestedMessage:
		return parseNestedMessage(data)
	case FormatContentBlocks:
		return parseContentBlocks(data)
	}

	return nil, false
}

type openAIResponse struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Choices []struct {
		Message *struct {
			Role      string     `json:"role"`
			Content   *string    `json:"content"`
			ToolCalls []ToolCall `json:"tool_calls"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage json.RawMessage `json:"usage"`
}

func parseOpenAI(data []byte) (*ChatResponse, bool) {
	var raw openAIResponse
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, false
	}

	if len(raw.Choices) == 0 || raw.Choices[0].Message == nil {
		return nil, false
	}

	choice := raw.Choices[0]

	resp := &ChatResponse{
		ID:           raw.ID,
		Model:        raw.Model,
		Role:         choice.Message.Role,
		ToolCalls:    choice.Message.ToolCalls,
		FinishReason: normalizeFinishReason(choice.FinishReason),
		Usage:        extractUsage(raw.Usage),
	}
	if choice.Message.Content != nil {
		resp.Content = *choice.Message.Content
	}

	if resp.Role == "" {
		resp.Role = RoleAssistant
	}

	return resp, true
}

type completionMessageResponse struct {
	CompletionMessage *struct {
		Role    string `json:"role"`
		Content *struct {
			Type string `json:"type"`
			Text string `json:"text"`
		} `json:"content"`
		StopReason string     `json:"stop_reason"`
		ToolCalls  []ToolCall `json:"tool_calls"`
	} `json:"completion_message"`
	Usage json.RawMessage `json:"usage"`
}

func parseCompletionMessage(data []byte) (*ChatResponse, bool) {
	var raw completionMessageResponse
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, false
	}

	cm := raw.CompletionMessage
	if cm == nil || cm.Content == nil {
		return nil, false
	}

	role := cm.Role
	if role == "" {
		role = RoleAssistant
	}

	return &ChatResponse{
		Role:         role,
		Content:      cm.Content.Text,
		ToolCalls:    cm.ToolCalls,
		FinishReason: normalizeFinishReason(cm.StopReason),
		Usage:        extractUsage(raw.Usage),
	}, true
}

type nestedMessageResponse struct {
	ID      string `json:"id"`
	Message *struct {
		Role    string `json:"role"`
		Content []struct {
			Type string `json:"type"`
			Text string `json:"text"`
		} `json:"content"`
		ToolCalls []ToolCall `json:"tool_calls"`
	} `json:"message"`
	FinishReason string          `json:"finish_reason"`
	Usage        json.RawMessage `json:"usage"`
}

func parseNestedMessage(data []byte) (*ChatResponse, bool) {
	var raw nestedMessageResponse
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, false
	}

	if raw.Message == nil || len(raw.Message.Content) == 0 {
		return nil, false
	}

	var text string
	for _, block := range raw.Message.Content {
		if block.Type == PartTypeText || block.Type == "" {
			text += block.Text
		}
	}

	role := raw.Message.Role
	if role == "" {
		role = RoleAssistant
	}

	return &ChatResponse{
		ID:           raw.ID,
		Role:         role,
		Content:      text,
		ToolCalls:    raw.Message.ToolCalls,
		FinishReason: normalizeFinishReason(raw.FinishReason),
		Usage:        extractUsage(raw.Usage),
	}, true
}

type contentBlocksResponse struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Role    string `json:"role"`
	Content []struct {
		Type  string          `json:"type"`
		Text  string          `json:"text"`
		ID    string          `json:"id"`
		Name  string          `json:"name"`
		Input json.RawMessage `json:"input"`
	} `json:"content"`
	StopReason *string         `json:"stop_reason"`
	Usage      json.RawMessage `json:"usage"`
}

func parseContentBlocks(data []byte) (*ChatResponse, bool) {
	var raw contentBlocksResponse
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, false
	}

	// A top-level content array with a stop reason field is the
	// distinguishing mark of this shape.
	if len(raw.Content) == 0 || raw.StopReason == nil {
		return nil, false
	}

	resp := &ChatResponse{
		ID:           raw.ID,
		Model:        raw.Model,
		Role:         raw.Role,
		FinishReason: normalizeFinishReason(*raw.StopReason),
		Usage:        extractUsage(raw.Usage),
	}
	if resp.Role == "" {
		resp.Role = RoleAssistant
	}

	for _, block := range raw.Content {
		switch block.Type {
		case PartTypeText:
			resp.Content += block.Text
		case "tool_use":
			resp.ToolCalls = append(resp.ToolCalls, ToolCall{
				ID:   block.ID,
				Type: "function",
				Function: FunctionCall{
					Name:      block.Name,
					Arguments: string(block.Input),
				},
			})
		}
	}

	return resp, true
}

// normalizeFinishReason folds provider-specific stop reasons into the
// canonical set. Unknown values pass through unchanged.
func normalizeFinishReason(reason string) string {
	switch reason {
	case "", "null":
		return ""
	case "stop", "end_turn", "COMPLETE", "complete":
		return FinishStop
	case "length", "max_tokens", "MAX_TOKENS":
		return FinishLength
	case "tool_calls", "tool_use", "TOOL_CALL", "function_call":
		return FinishToolCalls
	}

	return reason
}

// extractUsage normalizes token accounting across the known field-name
// variants. Absence of usage data is not an error.
func extractUsage(raw json.RawMessage) *Usage {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil
	}

	// Some backends nest counts one level down (e.g. usage.tokens).
	if tokens, ok := fields["tokens"]; ok {
		if u := extractUsage(tokens); u != nil {
			return u
		}
	}

	in, inOK := usageInt(fields, "prompt_tokens", "input_tokens")
	out, outOK := usageInt(fields, "completion_tokens", "output_tokens")
	if !inOK && !outOK {
		return nil
	}

	total, totalOK := usageInt(fields, "total_tokens")
	if !totalOK {
		total = in + out
	}

	return &Usage{InputTokens: in, OutputTokens: out, TotalTokens: total}
}

func usageInt(fields map[string]json.RawMessage, names ...string) (int, bool) {
	for _, name := range names {
		raw, ok := fields[name]
		if !ok {
			continue
		}

		var n int
		if err := json.Unmarshal(raw, &n); err == nil {
			return n, true
		}
	}

	return 0, false
}
