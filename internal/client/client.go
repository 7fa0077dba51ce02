// Package client runs the full request pipeline for one upstream call:
// resolve provider, build URL and body, attach credentials, send, and
// normalize whatever shape comes back.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"

	"github.com/llmc-dev/llmc/internal/auth"
	"github.com/llmc-dev/llmc/internal/config"
	"github.com/llmc-dev/llmc/internal/llm"
	"github.com/llmc-dev/llmc/internal/template"
	"github.com/llmc-dev/llmc/internal/transport"
)

// UsageRecorder receives one record per completed call. Implementations
// must be safe for concurrent use.
type UsageRecorder interface {
	Record(ctx context.Context, provider, model string, usage llm.Usage) error
}

// Client is the pipeline entry point shared by the CLI and the gateway.
type Client struct {
	registry *config.Registry
	resolver *auth.Resolver
	http     *transport.Client
	logger   *slog.Logger
	usage    UsageRecorder

	mu    sync.Mutex
	slots map[string]chan struct{}
}

func New(registry *config.Registry, resolver *auth.Resolver, httpClient *transport.Client, logger *slog.Logger) *Client {
	return &Client{
		registry: registry,
		resolver: resolver,
		http:     httpClient,
		logger:   logger,
		slots:    make(map[string]chan struct{}),
	}
}

// SetUsageRecorder wires an optional recorder; nil disables recording.
func (c *Client) SetUsageRecorder(r UsageRecorder) {
	c.usage = r
}

// acquire claims a concurrency slot for the provider, failing fast when
// the provider is saturated rather than queueing callers.
func (c *Client) acquire(provider string, limit int) (release func(), err error) {
	if limit <= 0 {
		limit = config.DefaultMaxConcurrent
	}

	c.mu.Lock()
	slot, ok := c.slots[provider]
	if !ok || cap(slot) != limit {
		slot = make(chan struct{}, limit)
		c.slots[provider] = slot
	}
	c.mu.Unlock()

	select {
	case slot <- struct{}{}:
		return func() { <-slot }, nil
	default:
		return nil, &llm.TransportError{
			Op:       "acquire",
			Provider: provider,
			Err:      errors.New("provider concurrency limit reached"),
		}
	}
}

// prepare resolves everything needed to hit the chat endpoint: final
// URL, rendered body and merged headers. Custom credential headers that
// carry their own Authorization suppress the default bearer header.
func (c *Client) prepare(ctx context.Context, providerName, modelName string, req *llm.ChatRequest) (p config.ProviderConfig, url string, body []byte, headers map[string]string, err error) {
	p, err = c.registry.Provider(providerName)
	if err != nil {
		return p, "", nil, nil, err
	}

	url = template.ResolveURL(&p, config.OpChat, modelName)

	body, err = template.RenderBody(&p, modelName, req)
	if err != nil {
		return p, "", nil, nil, err
	}

	headers, err = c.resolver.Headers(ctx, providerName, p.TokenURL)
	if err != nil {
		return p, "", nil, nil, err
	}

	// Provider-level headers from config apply underneath credential
	// headers, never overriding them.
	for name, value := range p.Headers {
		if _, exists := headers[name]; !exists {
			headers[name] = value
		}
	}

	return p, url, body, headers, nil
}

// Chat sends one non-streaming chat completion and returns the
// normalized response.
func (c *Client) Chat(ctx context.Context, providerName, modelName string, req *llm.ChatRequest) (*llm.ChatResponse, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	req.Stream = false

	p, url, body, headers, err := c.prepare(ctx, providerName, modelName, req)
	if err != nil {
		return nil, err
	}

	release, err := c.acquire(providerName, p.MaxConcurrent)
	if err != nil {
		return nil, err
	}
	defer release()

	c.logger.Debug("Sending chat request", "provider", providerName, "model", modelName, "url", url)

	respBody, status, err := c.http.Post(ctx, url, headers, body)
	if err != nil {
		return nil, &llm.TransportError{Op: "chat", Provider: providerName, Err: err}
	}

	if status < 200 || status >= 300 {
		return nil, &llm.UpstreamError{Provider: providerName, Status: status, Body: respBody}
	}

	resp, format, err := llm.ParseResponse(providerName, respBody)
	if err != nil {
		return nil, err
	}

	c.logger.Debug("Normalized chat response", "provider", providerName, "format", format)

	c.record(ctx, providerName, modelName, req, resp)

	return resp, nil
}

// ChatStream opens a streaming chat completion and invokes onChunk for
// every normalized delta. Canceling ctx aborts the upstream request.
func (c *Client) ChatStream(ctx context.Context, providerName, modelName string, req *llm.ChatRequest, onChunk func(*llm.ChatChunk) error) error {
	if err := req.Validate(); err != nil {
		return err
	}

	req.Stream = true

	p, url, body, headers, err := c.prepare(ctx, providerName, modelName, req)
	if err != nil {
		return err
	}

	release, err := c.acquire(providerName, p.MaxConcurrent)
	if err != nil {
		return err
	}
	defer release()

	c.logger.Debug("Opening chat stream", "provider", providerName, "model", modelName, "url", url)

	stream, err := c.http.OpenStream(ctx, url, headers, body)
	if err != nil {
		return &llm.TransportError{Op: "stream", Provider: providerName, Err: err}
	}
	defer stream.Close()

	if stream.StatusCode() != http.StatusOK {
		return &llm.UpstreamError{
			Provider: providerName,
			Status:   stream.StatusCode(),
			Body:     stream.Body(),
		}
	}

	var (
		total llm.Usage
		text  strings.Builder
	)

	for {
		frame, err := stream.Next()
		if errors.Is(err, io.EOF) {
			break
		}

		if err != nil {
			return &llm.TransportError{Op: "stream", Provider: providerName, Err: err}
		}

		if string(frame) == "[DONE]" {
			break
		}

		chunk, err := llm.ParseChunk(providerName, frame)
		if errors.Is(err, llm.ErrChunkSkip) {
			continue
		}

		// A single malformed frame does not kill the stream.
		if err != nil {
			c.logger.Warn("Skipping unrecognized stream frame", "provider", providerName, "error", err)
			continue
		}

		if chunk.Usage != nil {
			total = *chunk.Usage
		}

		if c.usage != nil {
			text.WriteString(chunk.Content)
		}

		if err := onChunk(chunk); err != nil {
			return err
		}

		if chunk.Done {
			break
		}
	}

	if c.usage != nil {
		// Streams without a usage trailer get the same local estimate
		// as non-streaming calls.
		if total.TotalTokens == 0 {
			total = estimateUsage(req, &llm.ChatResponse{Content: text.String()})
		}

		if err := c.usage.Record(ctx, providerName, modelName, total); err != nil {
			c.logger.Warn("Failed to record usage", "provider", providerName, "error", err)
		}
	}

	return nil
}

// ListModels fetches the provider's model listing and extracts IDs from
// either the OpenAI "data" list or a bare "models" list.
func (c *Client) ListModels(ctx context.Context, providerName string) ([]llm.ModelInfo, error) {
	p, err := c.registry.Provider(providerName)
	if err != nil {
		return nil, err
	}

	url := template.ResolveURL(&p, config.OpModels, "")

	headers, err := c.resolver.Headers(ctx, providerName, p.TokenURL)
	if err != nil {
		return nil, err
	}

	for name, value := range p.Headers {
		if _, exists := headers[name]; !exists {
			headers[name] = value
		}
	}

	body, status, err := c.http.Get(ctx, url, headers)
	if err != nil {
		return nil, &llm.TransportError{Op: "models", Provider: providerName, Err: err}
	}

	if status < 200 || status >= 300 {
		return nil, &llm.UpstreamError{Provider: providerName, Status: status, Body: body}
	}

	models, err := parseModelList(providerName, body)
	if err != nil {
		return nil, err
	}

	return models, nil
}

func parseModelList(provider string, body []byte) ([]llm.ModelInfo, error) {
	var listing struct {
		Data []struct {
			ID string `json:"id"`
		} `json:"data"`
		Models []struct {
			ID   string `json:"id"`
			Name string `json:"name"`
		} `json:"models"`
	}

	if err := json.Unmarshal(body, &listing); err != nil {
		return nil, &llm.FormatError{Provider: provider, Body: body}
	}

	var models []llm.ModelInfo

	for _, m := range listing.Data {
		if m.ID != "" {
			models = append(models, llm.ModelInfo{ID: m.ID, Provider: provider})
		}
	}

	for _, m := range listing.Models {
		id := m.ID
		if id == "" {
			id = m.Name
		}

		if id != "" {
			models = append(models, llm.ModelInfo{ID: id, Provider: provider})
		}
	}

	if models == nil {
		return nil, &llm.FormatError{Provider: provider, Body: body}
	}

	return models, nil
}

func (c *Client) record(ctx context.Context, provider, model string, req *llm.ChatRequest, resp *llm.ChatResponse) {
	if c.usage == nil {
		return
	}

	var usage llm.Usage
	if resp.Usage != nil {
		usage = *resp.Usage
	}

	if usage.TotalTokens == 0 {
		usage = estimateUsage(req, resp)
	}

	if err := c.usage.Record(ctx, provider, model, usage); err != nil {
		c.logger.Warn("Failed to record usage", "provider", provider, "error", err)
	}
}
