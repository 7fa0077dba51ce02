// Package template resolves per-provider operation URLs and renders
// outgoing request bodies from a canonical chat request.
package template

import (
	"strings"

	"github.com/llmc-dev/llmc/internal/config"
)

// ResolveURL builds the full URL for one operation against a provider.
//
// If the configured path is itself an absolute URL it is used verbatim,
// ignoring the provider endpoint; this supports backends whose chat URL
// embeds the model in the path. Otherwise the path is appended to the
// endpoint with exactly one separating slash.
//
// Substitution runs in two passes: first the literal {model} and
// {model_name} tokens, then each {key} from the provider's variable
// map. Expansion is single-pass per token; unresolved tokens are left
// intact since some backends consume them downstream.
func ResolveURL(p *config.ProviderConfig, op config.Operation, modelName string) string {
	path := p.Path(op)
	path = substitute(path, modelName, p.Vars)

	if isAbsoluteURL(path) {
		return path
	}

	endpoint := strings.TrimRight(p.Endpoint, "/")
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}

	return endpoint + path
}

func substitute(path, modelName string, vars map[string]string) string {
	path = strings.ReplaceAll(path, "{model}", modelName)
	path = strings.ReplaceAll(path, "{model_name}", modelName)

	for key, value := range vars {
		path = strings.ReplaceAll(path, "{"+key+"}", value)
	}

	return path
}

func isAbsoluteURL(path string) bool {
	return strings.HasPrefix(path, "http://") || strings.HasPrefix(path, "https://")
}

// ModelInPath reports whether the provider's chat URL carries the model
// itself, in which case the request body must omit the model field.
func ModelInPath(p *config.ProviderConfig) bool {
	path := p.Path(config.OpChat)
	return strings.Contains(path, "{model}") || strings.Contains(path, "{model_name}")
}
