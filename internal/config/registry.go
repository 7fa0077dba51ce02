package config

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/llmc-dev/llmc/internal/llm"
)

// Registry holds provider configurations and aliases. Reads take a
// snapshot under a short read lock; writers swap state without ever
// blocking in-flight readers for long.
type Registry struct {
	mu  sync.RWMutex
	cfg *Config
}

func NewRegistry(cfg *Config) *Registry {
	if cfg.Aliases == nil {
		cfg.Aliases = make(map[string]string)
	}

	return &Registry{cfg: cfg}
}

// Provider returns a copy of the named provider's configuration.
func (r *Registry) Provider(name string) (ProviderConfig, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.cfg.provider(name)
	if !ok {
		return ProviderConfig{}, &llm.ConfigError{Provider: name, Reason: "unknown provider"}
	}

	return *p, nil
}

// Has reports whether a provider is configured.
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	_, ok := r.cfg.provider(name)

	return ok
}

// ProviderNames returns all configured provider names, sorted.
func (r *Registry) ProviderNames() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.cfg.Providers))
	for i := range r.cfg.Providers {
		names = append(names, r.cfg.Providers[i].Name)
	}

	sort.Strings(names)

	return names
}

// AddProvider registers a new provider. Adding an existing name fails;
// use UpdateProvider for that.
func (r *Registry) AddProvider(p ProviderConfig) error {
	if err := p.Validate(); err != nil {
		return &llm.ConfigError{Provider: p.Name, Reason: err.Error()}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.cfg.provider(p.Name); ok {
		return &llm.ConfigError{Provider: p.Name, Reason: "provider already exists"}
	}

	r.cfg.Providers = append(r.cfg.Providers, p)

	return nil
}

// UpdateProvider replaces an existing provider's configuration.
func (r *Registry) UpdateProvider(p ProviderConfig) error {
	if err := p.Validate(); err != nil {
		return &llm.ConfigError{Provider: p.Name, Reason: err.Error()}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	existing, ok := r.cfg.provider(p.Name)
	if !ok {
		return &llm.ConfigError{Provider: p.Name, Reason: "unknown provider"}
	}

	*existing = p

	return nil
}

// RemoveProvider deletes a provider and any aliases pointing at it.
func (r *Registry) RemoveProvider(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i := range r.cfg.Providers {
		if r.cfg.Providers[i].Name != name {
			continue
		}

		r.cfg.Providers = append(r.cfg.Providers[:i], r.cfg.Providers[i+1:]...)

		for alias, target := range r.cfg.Aliases {
			if provider, _, ok := splitTarget(target); ok && provider == name {
				delete(r.cfg.Aliases, alias)
			}
		}

		return nil
	}

	return &llm.ConfigError{Provider: name, Reason: "unknown provider"}
}

// SetAlias maps a short name to a provider:model target. Targets must
// name a configured provider directly; alias chains are rejected.
func (r *Registry) SetAlias(name, target string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	provider, _, ok := splitTarget(target)
	if !ok {
		return &llm.ConfigError{Reason: fmt.Sprintf("alias target %q must be provider:model", target)}
	}

	if _, exists := r.cfg.Aliases[provider]; exists {
		return &llm.ConfigError{Reason: fmt.Sprintf("alias target %q references another alias", target)}
	}

	if _, exists := r.cfg.provider(provider); !exists {
		return &llm.ConfigError{Provider: provider, Reason: "alias target names an unknown provider"}
	}

	r.cfg.Aliases[name] = target

	return nil
}

// RemoveAlias deletes an alias; removing a missing alias is an error.
func (r *Registry) RemoveAlias(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.cfg.Aliases[name]; !ok {
		return &llm.ConfigError{Reason: fmt.Sprintf("unknown alias %q", name)}
	}

	delete(r.cfg.Aliases, name)

	return nil
}

// ResolveAlias looks a name up once; alias targets never resolve
// through further aliases.
func (r *Registry) ResolveAlias(name string) (provider, model string, ok bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	target, exists := r.cfg.Aliases[name]
	if !exists {
		return "", "", false
	}

	provider, model, ok = splitTarget(target)

	return provider, model, ok
}

// Aliases returns a copy of the alias map.
func (r *Registry) Aliases() map[string]string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[string]string, len(r.cfg.Aliases))
	for k, v := range r.cfg.Aliases {
		out[k] = v
	}

	return out
}

// Snapshot returns a deep-enough copy of the configuration for
// persistence; callers must not mutate the returned providers.
func (r *Registry) Snapshot() Config {
	r.mu.RLock()
	defer r.mu.RUnlock()

	cfg := *r.cfg
	cfg.Providers = append([]ProviderConfig(nil), r.cfg.Providers...)
	cfg.Aliases = make(map[string]string, len(r.cfg.Aliases))

	for k, v := range r.cfg.Aliases {
		cfg.Aliases[k] = v
	}

	return cfg
}

// Defaults returns the configured default provider and model.
func (r *Registry) Defaults() (provider, model string) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return r.cfg.DefaultProvider, r.cfg.DefaultModel
}

func splitTarget(target string) (provider, model string, ok bool) {
	parts := strings.SplitN(target, ":", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", false
	}

	return parts[0], parts[1], true
}
