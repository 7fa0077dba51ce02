// Package modelcache persists per-provider model listings so repeated
// CLI invocations do not hammer upstream /models endpoints.
package modelcache

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/llmc-dev/llmc/internal/llm"
)

// DefaultTTL is how long a cached listing stays fresh.
const DefaultTTL = 24 * time.Hour

const cacheFilename = "models_cache.json"

// Fetcher retrieves the live model listing for one provider.
type Fetcher func(ctx context.Context, provider string) ([]llm.ModelInfo, error)

type entry struct {
	Models    []llm.ModelInfo `json:"models"`
	FetchedAt time.Time       `json:"fetched_at"`
}

// Cache is a lazy, file-backed model listing cache. Entries refresh on
// demand when older than the TTL; a refresh failure falls back to the
// stale entry when one exists.
type Cache struct {
	path   string
	ttl    time.Duration
	fetch  Fetcher
	logger *slog.Logger
	now    func() time.Time

	mu      sync.Mutex
	entries map[string]entry
	loaded  bool
}

func New(baseDir string, fetch Fetcher, logger *slog.Logger) *Cache {
	return &Cache{
		path:    filepath.Join(baseDir, cacheFilename),
		ttl:     DefaultTTL,
		fetch:   fetch,
		logger:  logger,
		now:     time.Now,
		entries: make(map[string]entry),
	}
}

// Models returns the provider's model listing, refreshing from upstream
// when the cached entry is missing or stale. The lock covers only map
// and file access; the fetch runs outside it, so one provider's slow
// refresh never blocks reads for the others.
func (c *Cache) Models(ctx context.Context, provider string) ([]llm.ModelInfo, error) {
	c.mu.Lock()
	c.loadLocked()
	cached, ok := c.entries[provider]
	c.mu.Unlock()

	if ok && c.now().Sub(cached.FetchedAt) < c.ttl {
		return cached.Models, nil
	}

	models, err := c.fetch(ctx, provider)
	if err != nil {
		if ok {
			c.logger.Warn("Model refresh failed, serving stale cache",
				"provider", provider,
				"age", c.now().Sub(cached.FetchedAt).Round(time.Minute),
				"error", err,
			)

			return cached.Models, nil
		}

		return nil, err
	}

	c.mu.Lock()
	c.entries[provider] = entry{Models: models, FetchedAt: c.now()}
	saveErr := c.saveLocked()
	c.mu.Unlock()

	if saveErr != nil {
		c.logger.Warn("Failed to persist model cache", "error", saveErr)
	}

	return models, nil
}

// Invalidate drops one provider's entry, or all entries when provider
// is empty.
func (c *Cache) Invalidate(provider string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.loadLocked()

	if provider == "" {
		c.entries = make(map[string]entry)
	} else {
		delete(c.entries, provider)
	}

	return c.saveLocked()
}

func (c *Cache) loadLocked() {
	if c.loaded {
		return
	}

	c.loaded = true

	data, err := os.ReadFile(c.path)
	if err != nil {
		return
	}

	entries := make(map[string]entry)
	if err := json.Unmarshal(data, &entries); err != nil {
		c.logger.Warn("Discarding corrupt model cache", "path", c.path, "error", err)
		return
	}

	c.entries = entries
}

func (c *Cache) saveLocked() error {
	if err := os.MkdirAll(filepath.Dir(c.path), 0o755); err != nil {
		return fmt.Errorf("create cache dir: %w", err)
	}

	data, err := json.MarshalIndent(c.entries, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal cache: %w", err)
	}

	return os.WriteFile(c.path, data, 0o644)
}
