package llm

import (
	"encoding/json"
	"errors"
)

// ErrChunkSkip marks an SSE frame that carries no content for the
// client (pings, block boundaries). The stream continues.
var ErrChunkSkip = errors.New("chunk carries no content")

// ParseChunk decodes one SSE data frame into a canonical chunk, trying
// the same format order as ParseResponse. Frames are detected
// independently; the format is assumed stable within one stream but
// never enforced.
func ParseChunk(provider string, data []byte) (*ChatChunk, error) {
	if chunk, ok := parseOpenAIChunk(data); ok {
		return chunk, nil
	}

	if chunk, ok := parseCompletionMessageChunk(data); ok {
		return chunk, nil
	}

	if chunk, ok := parseNestedMessageChunk(data); ok {
		return chunk, nil
	}

	if chunk, ok, skip := parseContentBlocksChunk(data); ok {
		return chunk, nil
	} else if skip {
		return nil, ErrChunkSkip
	}

	return nil, &FormatError{Provider: provider, Body: data}
}

type openAIChunk struct {
	Choices []struct {
		Delta *struct {
			Content   *string    `json:"content"`
			ToolCalls []ToolCall `json:"tool_calls"`
		} `json:"delta"`
		FinishReason *string `json:"finish_reason"`
	} `json:"choices"`
	Usage json.RawMessage `json:"usage"`
}

func parseOpenAIChunk(data []byte) (*ChatChunk, bool) {
	var raw openAIChunk
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, false
	}

	if len(raw.Choices) == 0 {
		// A usage-only trailer chunk still belongs to this format.
		if usage := extractUsage(raw.Usage); usage != nil {
			return &ChatChunk{Usage: usage}, true
		}

		return nil, false
	}

	choice := raw.Choices[0]
	if choice.Delta == nil && choice.FinishReason == nil {
		return nil, false
	}

	chunk := &ChatChunk{Usage: extractUsage(raw.Usage)}
	if choice.Delta != nil {
		if choice.Delta.Content != nil {
			chunk.Content = *choice.Delta.Content
		}

		chunk.ToolCalls = choice.Delta.ToolCalls
	}

	if choice.FinishReason != nil && *choice.FinishReason != "" {
		chunk.FinishReason = normalizeFinishReason(*choice.FinishReason)
		chunk.Done = true
	}

	return chunk, true
}

type completionMessageChunk struct {
	Event *struct {
		EventType string `json:"event_type"`
		Delta     *struct {
			Type string `json:"type"`
			Text string `json:"text"`
		} `json:"delta"`
		StopReason string          `json:"stop_reason"`
		Usage      json.RawMessage `json:"usage"`
	} `json:"event"`
}

func parseCompletionMessageChunk(data []byte) (*ChatChunk, bool) {
	var raw completionMessageChunk
	if err := json.Unmarshal(data, &raw); err != nil || raw.Event == nil {
		return nil, false
	}

	chunk := &ChatChunk{Usage: extractUsage(raw.Event.Usage)}
	if raw.Event.Delta != nil {
		chunk.Content = raw.Event.Delta.Text
	}

	if raw.Event.EventType == "complete" || raw.Event.StopReason != "" {
		chunk.FinishReason = normalizeFinishReason(raw.Event.StopReason)
		if chunk.FinishReason == "" {
			chunk.FinishReason = FinishStop
		}

		chunk.Done = true
	}

	return chunk, true
}

type nestedMessageChunk struct {
	Type  string `json:"type"`
	Delta *struct {
		Message *struct {
			Content *struct {
				Text string `json:"text"`
			} `json:"content"`
		} `json:"message"`
		FinishReason string          `json:"finish_reason"`
		Usage        json.RawMessage `json:"usage"`
	} `json:"delta"`
}

func parseNestedMessageChunk(data []byte) (*ChatChunk, bool) {
	var raw nestedMessageChunk
	if err := json.Unmarshal(data, &raw); err != nil || raw.Delta == nil {
		return nil, false
	}

	switch raw.Type {
	case "content-delta":
		if raw.Delta.Message == nil || raw.Delta.Message.Content == nil {
			return nil, false
		}

		return &ChatChunk{Content: raw.Delta.Message.Content.Text}, true
	case "message-end":
		return &ChatChunk{
			FinishReason: normalizeFinishReason(raw.Delta.FinishReason),
			Usage:        extractUsage(raw.Delta.Usage),
			Done:         true,
		}, true
	}

	return nil, false
}

type contentBlocksChunk struct {
	Type  string `json:"type"`
	Delta *struct {
		Type       string  `json:"type"`
		Text       string  `json:"text"`
		StopReason *string `json:"stop_reason"`
	} `json:"delta"`
	Usage json.RawMessage `json:"usage"`
}

// parseContentBlocksChunk handles the event-typed block stream. The
// third return marks frames that are valid for this format but carry
// nothing for the client (message_start, content_block_start/stop).
func parseContentBlocksChunk(data []byte) (*ChatChunk, bool, bool) {
	var raw contentBlocksChunk
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, false, false
	}

	switch raw.Type {
	case "content_block_delta":
		if raw.Delta == nil {
			return nil, false, false
		}

		return &ChatChunk{Content: raw.Delta.Text}, true, false
	case "message_delta":
		chunk := &ChatChunk{Usage: extractUsage(raw.Usage)}
		if raw.Delta != nil && raw.Delta.StopReason != nil {
			chunk.FinishReason = normalizeFinishReason(*raw.Delta.StopReason)
		}

		return chunk, true, false
	case "message_stop":
		return &ChatChunk{FinishReason: FinishStop, Done: true}, true, false
	case "message_start", "content_block_start", "content_block_stop", "ping":
		return nil, false, true
	}

	return nil, false, false
}
