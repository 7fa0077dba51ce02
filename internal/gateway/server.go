// Package gateway exposes the provider fleet behind one
// OpenAI-compatible HTTP surface.
package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/llmc-dev/llmc/internal/client"
	"github.com/llmc-dev/llmc/internal/config"
	"github.com/llmc-dev/llmc/internal/llm"
	"github.com/llmc-dev/llmc/internal/modelcache"
)

// Filter optionally pins the gateway to one provider and/or model. A
// pinned provider lets clients send bare model names; a pinned model
// overrides whatever the client asked for.
type Filter struct {
	Provider string
	Model    string
}

// Server is the gateway HTTP server.
type Server struct {
	registry *config.Registry
	client   *client.Client
	cache    *modelcache.Cache
	logger   *slog.Logger
	filter   Filter
	apiKey   string

	httpServer *http.Server
}

type ServerOption func(*Server)

// WithFilter restricts the gateway to a provider and/or model.
func WithFilter(f Filter) ServerOption {
	return func(s *Server) { s.filter = f }
}

// WithAPIKey sets the inbound bearer key. With no key configured, one
// is generated at startup and printed once.
func WithAPIKey(key string) ServerOption {
	return func(s *Server) { s.apiKey = key }
}

func NewServer(registry *config.Registry, cl *client.Client, cache *modelcache.Cache, logger *slog.Logger, opts ...ServerOption) *Server {
	s := &Server{
		registry: registry,
		client:   cl,
		cache:    cache,
		logger:   logger,
	}

	for _, opt := range opts {
		opt(s)
	}

	if s.apiKey == "" {
		s.apiKey = GenerateKey()
		fmt.Printf("Generated gateway API key: %s\n", s.apiKey)
	}

	return s
}

// GenerateKey mints a client-facing gateway key.
func GenerateKey() string {
	return "sk-" + strings.ReplaceAll(uuid.NewString(), "-", "")
}

// APIKey returns the key clients must present.
func (s *Server) APIKey() string {
	return s.apiKey
}

// Handler builds the full route table with middleware applied. The
// health endpoint stays unauthenticated so probes need no key; every
// OpenAI-surface route requires the bearer key. Each route is mounted
// both bare and under /v1 because SDKs disagree on the prefix.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", s.handleHealth)

	authed := chain(s.requireKey, s.logRequests)

	for _, prefix := range []string{"", "/v1"} {
		mux.Handle("GET "+prefix+"/models", authed(http.HandlerFunc(s.handleModels)))
		mux.Handle("POST "+prefix+"/chat/completions", authed(http.HandlerFunc(s.handleChatCompletions)))
	}

	return mux
}

// ListenAndServe runs the gateway until ctx is canceled, then shuts
// down gracefully.
func (s *Server) ListenAndServe(ctx context.Context, host string, port int) error {
	s.httpServer = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", host, port),
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)

	go func() {
		s.logger.Info("Gateway listening", "addr", s.httpServer.Addr)
		errCh <- s.httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}

		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		s.logger.Info("Gateway shutting down")

		return s.httpServer.Shutdown(shutdownCtx)
	}
}

// resolveModel maps a client-supplied model string to a provider and
// upstream model name. Aliases win, then explicit provider:model, then
// the filter's pinned provider. Anything else is ambiguous.
func (s *Server) resolveModel(requested string) (provider, model string, err error) {
	if s.filter.Model != "" {
		requested = s.filter.Model
	}

	if p, m, ok := s.registry.ResolveAlias(requested); ok {
		requested = p + ":" + m
	}

	// A split is authoritative only when the prefix names a configured
	// provider; otherwise the whole string is a bare model name, since
	// model tags may themselves contain colons.
	if p, m, ok := splitModelRef(requested); ok && s.registry.Has(p) {
		if s.filter.Provider != "" && p != s.filter.Provider {
			return "", "", &llm.GatewayError{Status: http.StatusForbidden, Reason: fmt.Sprintf("gateway is restricted to provider %q", s.filter.Provider)}
		}

		return p, m, nil
	}

	if s.filter.Provider != "" {
		return s.filter.Provider, requested, nil
	}

	if def, defModel := s.registry.Defaults(); def != "" {
		if requested == "" {
			return def, defModel, nil
		}

		return def, requested, nil
	}

	return "", "", &llm.GatewayError{Status: http.StatusBadRequest, Reason: fmt.Sprintf("ambiguous model %q: use provider:model or configure a default", requested)}
}

// splitModelRef parses "provider:model". Model names may themselves
// contain colons, so only the first separates.
func splitModelRef(ref string) (provider, model string, ok bool) {
	provider, model, ok = strings.Cut(ref, ":")
	if !ok || provider == "" || model == "" {
		return "", "", false
	}

	return provider, model, true
}
