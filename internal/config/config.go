package config

import (
	"fmt"
	"regexp"
	"strings"
)

const (
	DefaultPort           = 6820
	DefaultHost           = "127.0.0.1"
	DefaultConfigFilename = "config.json"

	// Documented default operation paths, appended to the provider
	// endpoint when no explicit path is configured.
	DefaultChatPath       = "/chat/completions"
	DefaultModelsPath     = "/models"
	DefaultImagesPath     = "/images/generations"
	DefaultEmbeddingsPath = "/embeddings"
	DefaultSpeechPath     = "/audio/speech"
	DefaultAudioPath      = "/audio/transcriptions"

	// DefaultMaxConcurrent caps concurrent outbound calls per provider.
	DefaultMaxConcurrent = 8
)

// Operation names the per-provider endpoints a request can target.
type Operation string

const (
	OpChat       Operation = "chat"
	OpModels     Operation = "models"
	OpImages     Operation = "images"
	OpEmbeddings Operation = "embeddings"
	OpSpeech     Operation = "speech"
	OpAudio      Operation = "audio"
)

// DefaultPath returns the documented default path for an operation.
func (op Operation) DefaultPath() string {
	switch op {
	case OpChat:
		return DefaultChatPath
	case OpModels:
		return DefaultModelsPath
	case OpImages:
		return DefaultImagesPath
	case OpEmbeddings:
		return DefaultEmbeddingsPath
	case OpSpeech:
		return DefaultSpeechPath
	case OpAudio:
		return DefaultAudioPath
	}

	return ""
}

// ChatTemplate pairs a model-name regex with a request-body template.
// The list order is the match order; the first matching pattern wins.
type ChatTemplate struct {
	Pattern  string `json:"pattern" yaml:"pattern"`
	Template string `json:"template" yaml:"template"`
}

// ProviderConfig describes one backend. Mutated only through explicit
// registry operations; read-mostly otherwise.
type ProviderConfig struct {
	Name     string `json:"name" yaml:"name"`
	Endpoint string `json:"endpoint" yaml:"endpoint"`

	ChatPath       string `json:"chat_path,omitempty" yaml:"chat_path,omitempty"`
	ModelsPath     string `json:"models_path,omitempty" yaml:"models_path,omitempty"`
	ImagesPath     string `json:"images_path,omitempty" yaml:"images_path,omitempty"`
	EmbeddingsPath string `json:"embeddings_path,omitempty" yaml:"embeddings_path,omitempty"`
	SpeechPath     string `json:"speech_path,omitempty" yaml:"speech_path,omitempty"`
	AudioPath      string `json:"audio_path,omitempty" yaml:"audio_path,omitempty"`

	Headers map[string]string `json:"headers,omitempty" yaml:"headers,omitempty"`
	Vars    map[string]string `json:"vars,omitempty" yaml:"vars,omitempty"`

	ChatTemplates []ChatTemplate `json:"chat_templates,omitempty" yaml:"chat_templates,omitempty"`

	// TokenURL overrides the token-exchange endpoint for service
	// account credentials.
	TokenURL string `json:"token_url,omitempty" yaml:"token_url,omitempty"`

	MaxConcurrent int `json:"max_concurrent,omitempty" yaml:"max_concurrent,omitempty"`
}

// Path returns the configured path for an operation, falling back to
// the documented default.
func (p *ProviderConfig) Path(op Operation) string {
	var path string

	switch op {
	case OpChat:
		path = p.ChatPath
	case OpModels:
		path = p.ModelsPath
	case OpImages:
		path = p.ImagesPath
	case OpEmbeddings:
		path = p.EmbeddingsPath
	case OpSpeech:
		path = p.SpeechPath
	case OpAudio:
		path = p.AudioPath
	}

	if path == "" {
		path = op.DefaultPath()
	}

	return path
}

// TemplateFor scans the ordered template list and returns the first
// entry whose pattern matches the model name.
func (p *ProviderConfig) TemplateFor(modelName string) (string, bool) {
	for _, ct := range p.ChatTemplates {
		re, err := regexp.Compile(ct.Pattern)
		if err != nil {
			continue
		}

		if re.MatchString(modelName) {
			return ct.Template, true
		}
	}

	return "", false
}

// Validate checks the fields that would otherwise fail at request time.
func (p *ProviderConfig) Validate() error {
	if p.Name == "" {
		return fmt.Errorf("provider name is required")
	}

	if p.Endpoint == "" {
		return fmt.Errorf("provider %q has no endpoint", p.Name)
	}

	if !strings.HasPrefix(p.Endpoint, "http://") && !strings.HasPrefix(p.Endpoint, "https://") {
		return fmt.Errorf("provider %q endpoint must be an http(s) URL", p.Name)
	}

	for _, ct := range p.ChatTemplates {
		if _, err := regexp.Compile(ct.Pattern); err != nil {
			return fmt.Errorf("provider %q template pattern %q: %w", p.Name, ct.Pattern, err)
		}
	}

	return nil
}

// Config is the persisted configuration root.
type Config struct {
	Host            string            `json:"host,omitempty" yaml:"host,omitempty"`
	Port            int               `json:"port,omitempty" yaml:"port,omitempty"`
	DefaultProvider string            `json:"default_provider,omitempty" yaml:"default_provider,omitempty"`
	DefaultModel    string            `json:"default_model,omitempty" yaml:"default_model,omitempty"`
	Providers       []ProviderConfig  `json:"providers" yaml:"providers"`
	Aliases         map[string]string `json:"aliases,omitempty" yaml:"aliases,omitempty"`
}

func (c *Config) provider(name string) (*ProviderConfig, bool) {
	for i := range c.Providers {
		if c.Providers[i].Name == name {
			return &c.Providers[i], true
		}
	}

	return nil, false
}
