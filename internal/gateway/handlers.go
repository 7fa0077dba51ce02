package gateway

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/llmc-dev/llmc/internal/llm"
)

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// openAIModel is one entry of the /models listing.
type openAIModel struct {
	ID      string `json:"id"`
	Object  string `json:"object"`
	Created int64  `json:"created"`
	OwnedBy string `json:"owned_by"`
}

// handleModels lists models across all configured providers in the
// OpenAI list shape. IDs are provider-qualified so they round-trip
// through /chat/completions; with a pinned provider the bare upstream
// names are returned instead.
func (s *Server) handleModels(w http.ResponseWriter, r *http.Request) {
	providers := s.registry.ProviderNames()
	if s.filter.Provider != "" {
		providers = []string{s.filter.Provider}
	}

	now := time.Now().Unix()
	data := make([]openAIModel, 0, 16)

	for _, name := range providers {
		models, err := s.cache.Models(r.Context(), name)
		if err != nil {
			s.logger.Warn("Skipping provider in model listing", "provider", name, "error", err)
			continue
		}

		for _, m := range models {
			id := name + ":" + m.ID
			if s.filter.Provider != "" {
				id = m.ID
			}

			data = append(data, openAIModel{
				ID:      id,
				Object:  "model",
				Created: now,
				OwnedBy: name,
			})
		}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"object": "list",
		"data":   data,
	})
}

// handleChatCompletions accepts the OpenAI request shape, routes it to
// the resolved provider, and always answers in the OpenAI shape no
// matter what the upstream spoke.
func (s *Server) handleChatCompletions(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, 10<<20))
	if err != nil {
		writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
		return
	}

	var req llm.ChatRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
		return
	}

	if err := req.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	provider, model, err := s.resolveModel(req.Model)
	if err != nil {
		writeTypedError(w, err)
		return
	}

	if req.Stream {
		s.streamCompletion(w, r, provider, model, &req)
		return
	}

	// r.Context() is canceled when the client disconnects, which
	// aborts the upstream call instead of letting it run to waste.
	resp, err := s.client.Chat(r.Context(), provider, model, &req)
	if err != nil {
		writeTypedError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, toOpenAIResponse(provider, model, resp))
}

func toOpenAIResponse(provider, model string, resp *llm.ChatResponse) map[string]any {
	id := resp.ID
	if id == "" {
		id = "chatcmpl-" + uuid.NewString()
	}

	finish := resp.FinishReason
	if finish == "" {
		finish = llm.FinishStop
	}

	out := map[string]any{
		"id":      id,
		"object":  "chat.completion",
		"created": time.Now().Unix(),
		"model":   provider + ":" + model,
		"choices": []map[string]any{{
			"index": 0,
			"message": map[string]any{
				"role":       llm.RoleAssistant,
				"content":    resp.Content,
				"tool_calls": nilIfEmpty(resp.ToolCalls),
			},
			"finish_reason": finish,
		}},
	}

	if resp.Usage != nil {
		out["usage"] = map[string]int{
			"prompt_tokens":     resp.Usage.InputTokens,
			"completion_tokens": resp.Usage.OutputTokens,
			"total_tokens":      resp.Usage.TotalTokens,
		}
	}

	return out
}

func nilIfEmpty(calls []llm.ToolCall) []llm.ToolCall {
	if len(calls) == 0 {
		return nil
	}

	return calls
}

// streamCompletion re-emits the upstream stream as OpenAI chat chunks.
// Whatever format the provider streams in, clients see one dialect.
func (s *Server) streamCompletion(w http.ResponseWriter, r *http.Request, provider, model string, req *llm.ChatRequest) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported by server")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	id := "chatcmpl-" + uuid.NewString()
	created := time.Now().Unix()
	wroteHeader := false

	emit := func(chunk *llm.ChatChunk) error {
		if !wroteHeader {
			w.WriteHeader(http.StatusOK)
			wroteHeader = true
		}

		delta := map[string]any{}
		if chunk.Content != "" {
			delta["content"] = chunk.Content
		}

		if len(chunk.ToolCalls) > 0 {
			delta["tool_calls"] = chunk.ToolCalls
		}

		frame := map[string]any{
			"id":      id,
			"object":  "chat.completion.chunk",
			"created": created,
			"model":   provider + ":" + model,
			"choices": []map[string]any{{
				"index":         0,
				"delta":         delta,
				"finish_reason": finishOrNil(chunk),
			}},
		}

		data, err := json.Marshal(frame)
		if err != nil {
			return err
		}

		if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
			return err
		}

		flusher.Flush()

		return nil
	}

	err := s.client.ChatStream(r.Context(), provider, model, req, emit)
	if err != nil {
		if !wroteHeader {
			writeTypedError(w, err)
			return
		}

		// Headers already sent; the best we can do is log and drop.
		s.logger.Error("Stream aborted mid-flight", "provider", provider, "error", err)

		return
	}

	fmt.Fprint(w, "data: [DONE]\n\n")
	flusher.Flush()
}

func finishOrNil(chunk *llm.ChatChunk) any {
	if chunk.FinishReason == "" {
		return nil
	}

	return chunk.FinishReason
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	_ = json.NewEncoder(w).Encode(payload)
}

// writeError emits the OpenAI error envelope.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]any{
		"error": map[string]any{
			"message": message,
			"type":    errorType(status),
			"code":    status,
		},
	})
}

func errorType(status int) string {
	switch {
	case status == http.StatusUnauthorized:
		return "authentication_error"
	case status == http.StatusTooManyRequests:
		return "rate_limit_error"
	case status >= 500:
		return "api_error"
	default:
		return "invalid_request_error"
	}
}

// writeTypedError maps pipeline errors onto HTTP statuses.
func writeTypedError(w http.ResponseWriter, err error) {
	var (
		gatewayErr  *llm.GatewayError
		configErr   *llm.ConfigError
		authErr     *llm.AuthError
		upstreamErr *llm.UpstreamError
		formatErr   *llm.FormatError
	)

	switch {
	case errors.As(err, &gatewayErr):
		writeError(w, gatewayErr.Status, gatewayErr.Reason)
	case errors.As(err, &configErr):
		writeError(w, http.StatusBadRequest, configErr.Error())
	case errors.As(err, &authErr):
		writeError(w, http.StatusBadGateway, authErr.Error())
	case errors.As(err, &upstreamErr):
		status := upstreamErr.Status
		if status < 400 || status > 599 {
			status = http.StatusBadGateway
		}

		writeError(w, status, upstreamErr.Error())
	case errors.As(err, &formatErr):
		writeError(w, http.StatusBadGateway, formatErr.Error())
	case errors.Is(err, llm.ErrNoMessages):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		writeError(w, http.StatusBadGateway, err.Error())
	}
}
