package template

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/llmc-dev/llmc/internal/config"
)

func TestResolveURL_DefaultChatPath(t *testing.T) {
	p := &config.ProviderConfig{
		Name:     "openai",
		Endpoint: "https://api.openai.com/v1",
	}

	url := ResolveURL(p, config.OpChat, "gpt-4")
	assert.Equal(t, "https://api.openai.com/v1/chat/completions", url)
}

func TestResolveURL_NoDoubleSlash(t *testing.T) {
	testCases := []struct {
		name     string
		endpoint string
		path     string
	}{
		{"trailing slash on endpoint", "https://api.example.com/v1/", "/chat/completions"},
		{"no leading slash on path", "https://api.example.com/v1", "chat/completions"},
		{"both", "https://api.example.com/v1/", "chat/completions"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			p := &config.ProviderConfig{
				Name:     "example",
				Endpoint: tc.endpoint,
				ChatPath: tc.path,
			}

			url := ResolveURL(p, config.OpChat, "m")
			assert.Equal(t, "https://api.example.com/v1/chat/completions", url)
		})
	}
}

func TestResolveURL_ModelPlaceholder(t *testing.T) {
	p := &config.ProviderConfig{
		Name:     "google",
		Endpoint: "https://us-central1-aiplatform.googleapis.com/v1",
		ChatPath: "/projects/{project}/models/{model}:generateContent",
		Vars:     map[string]string{"project": "my-project"},
	}

	url := ResolveURL(p, config.OpChat, "gemini-pro")
	assert.Equal(t, "https://us-central1-aiplatform.googleapis.com/v1/projects/my-project/models/gemini-pro:generateContent", url)
}

func TestResolveURL_AbsolutePathIgnoresEndpoint(t *testing.T) {
	p := &config.ProviderConfig{
		Name:     "special",
		Endpoint: "https://unused.example.com",
		ChatPath: "https://direct.example.com/{model_name}/chat",
	}

	url := ResolveURL(p, config.OpChat, "llama-3")
	assert.Equal(t, "https://direct.example.com/llama-3/chat", url)
}

func TestResolveURL_UnresolvedTokensLeftIntact(t *testing.T) {
	p := &config.ProviderConfig{
		Name:     "partial",
		Endpoint: "https://api.example.com",
		ChatPath: "/{region}/chat",
	}

	url := ResolveURL(p, config.OpChat, "m")
	assert.Equal(t, "https://api.example.com/{region}/chat", url)
}

func TestResolveURL_OtherOperations(t *testing.T) {
	p := &config.ProviderConfig{
		Name:     "openai",
		Endpoint: "https://api.openai.com/v1",
	}

	assert.Equal(t, "https://api.openai.com/v1/models", ResolveURL(p, config.OpModels, ""))
	assert.Equal(t, "https://api.openai.com/v1/embeddings", ResolveURL(p, config.OpEmbeddings, ""))
	assert.Equal(t, "https://api.openai.com/v1/images/generations", ResolveURL(p, config.OpImages, ""))
}

func TestModelInPath(t *testing.T) {
	withModel := &config.ProviderConfig{
		Name:     "google",
		Endpoint: "https://example.com",
		ChatPath: "/models/{model}:generate",
	}
	assert.True(t, ModelInPath(withModel))

	without := &config.ProviderConfig{
		Name:     "openai",
		Endpoint: "https://example.com",
	}
	assert.False(t, ModelInPath(without))
}
