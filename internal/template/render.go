package template

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/llmc-dev/llmc/internal/config"
	"github.com/llmc-dev/llmc/internal/llm"
)

// The body template language is a closed token set, deliberately
// format-only:
//
//	literal text        copied through unchanged
//	{{var}}             interpolate as a JSON-escaped string fragment
//	{{var|json}}        emit the value as JSON (arrays, numbers, bools)
//	{{#var}}...{{/var}} include the block only when var is present
//
// There is no expression language and no recursion beyond block
// nesting. Templates must produce valid JSON.

// RenderBody renders the outgoing request body for a provider/model.
// The provider's ordered template list is scanned top to bottom and the
// first pattern matching the model name wins; with no match, the
// built-in default emits the canonical OpenAI-style body.
func RenderBody(p *config.ProviderConfig, modelName string, req *llm.ChatRequest) ([]byte, error) {
	tmpl, ok := p.TemplateFor(modelName)
	if !ok {
		return defaultBody(p, modelName, req)
	}

	ctx := buildContext(modelName, req, p.Vars)

	rendered, err := render(tmpl, ctx)
	if err != nil {
		return nil, &llm.ConfigError{Provider: p.Name, Reason: fmt.Sprintf("chat template: %v", err)}
	}

	if !json.Valid([]byte(rendered)) {
		return nil, &llm.ConfigError{Provider: p.Name, Reason: "chat template did not produce valid JSON"}
	}

	return []byte(rendered), nil
}

// defaultBody marshals the canonical request directly. When the chat
// URL embeds the model, the body omits the model field.
func defaultBody(p *config.ProviderConfig, modelName string, req *llm.ChatRequest) ([]byte, error) {
	body := *req
	body.Model = modelName

	if ModelInPath(p) {
		type bodyWithoutModel struct {
			Messages    []llm.Message `json:"messages"`
			MaxTokens   *int          `json:"max_tokens,omitempty"`
			Temperature *float64      `json:"temperature,omitempty"`
			Tools       []llm.Tool    `json:"tools,omitempty"`
			Stream      bool          `json:"stream,omitempty"`
		}

		return json.Marshal(bodyWithoutModel{
			Messages:    body.Messages,
			MaxTokens:   body.MaxTokens,
			Temperature: body.Temperature,
			Tools:       body.Tools,
			Stream:      body.Stream,
		})
	}

	return json.Marshal(&body)
}

func buildContext(modelName string, req *llm.ChatRequest, vars map[string]string) map[string]any {
	ctx := map[string]any{
		"model":    modelName,
		"messages": req.Messages,
	}

	if req.MaxTokens != nil {
		ctx["max_tokens"] = *req.MaxTokens
	}

	if req.Temperature != nil {
		ctx["temperature"] = *req.Temperature
	}

	if len(req.Tools) > 0 {
		ctx["tools"] = req.Tools
	}

	if req.Stream {
		ctx["stream"] = true
	}

	for _, msg := range req.Messages {
		if msg.Role == llm.RoleSystem {
			ctx["system_prompt"] = msg.Content.PlainText()
			break
		}
	}

	for key, value := range vars {
		ctx[key] = value
	}

	return ctx
}

// render walks the template once, expanding tokens against ctx.
// Conditional blocks nest; nothing else does.
func render(tmpl string, ctx map[string]any) (string, error) {
	var out strings.Builder

	for len(tmpl) > 0 {
		open := strings.Index(tmpl, "{{")
		if open < 0 {
			out.WriteString(tmpl)
			break
		}

		out.WriteString(tmpl[:open])
		tmpl = tmpl[open:]

		closeIdx := strings.Index(tmpl, "}}")
		if closeIdx < 0 {
			return "", fmt.Errorf("unterminated token near %q", truncate(tmpl))
		}

		token := strings.TrimSpace(tmpl[2:closeIdx])
		tmpl = tmpl[closeIdx+2:]

		switch {
		case strings.HasPrefix(token, "#"):
			name := strings.TrimSpace(token[1:])

			body, rest, err := splitBlock(tmpl, name)
			if err != nil {
				return "", err
			}

			tmpl = rest

			if !present(ctx[name]) {
				continue
			}

			inner, err := render(body, ctx)
			if err != nil {
				return "", err
			}

			out.WriteString(inner)
		case strings.HasPrefix(token, "/"):
			return "", fmt.Errorf("unmatched closing block {{%s}}", token)
		default:
			expanded, err := expand(token, ctx)
			if err != nil {
				return "", err
			}

			out.WriteString(expanded)
		}
	}

	return out.String(), nil
}

// splitBlock finds the matching {{/name}} for an opened block, honoring
// nested blocks of the same name.
func splitBlock(tmpl, name string) (body, rest string, err error) {
	openTag := "{{#" + name + "}}"
	closeTag := "{{/" + name + "}}"
	depth := 1
	pos := 0

	for {
		nextOpen := strings.Index(tmpl[pos:], openTag)
		nextClose := strings.Index(tmpl[pos:], closeTag)

		if nextClose < 0 {
			return "", "", fmt.Errorf("block {{#%s}} is never closed", name)
		}

		if nextOpen >= 0 && nextOpen < nextClose {
			depth++
			pos += nextOpen + len(openTag)

			continue
		}

		depth--
		if depth == 0 {
			end := pos + nextClose
			return tmpl[:end], tmpl[end+len(closeTag):], nil
		}

		pos += nextClose + len(closeTag)
	}
}

func expand(token string, ctx map[string]any) (string, error) {
	name, filter, hasFilter := strings.Cut(token, "|")
	name = strings.TrimSpace(name)

	value, ok := ctx[name]

	if hasFilter {
		if strings.TrimSpace(filter) != "json" {
			return "", fmt.Errorf("unknown filter %q in token {{%s}}", filter, token)
		}

		if !ok {
			return "null", nil
		}

		data, err := json.Marshal(value)
		if err != nil {
			return "", fmt.Errorf("marshal %q: %w", name, err)
		}

		return string(data), nil
	}

	if !ok || value == nil {
		return "", nil
	}

	switch v := value.(type) {
	case string:
		return escapeJSONString(v), nil
	case bool:
		return strconv.FormatBool(v), nil
	case int:
		return strconv.Itoa(v), nil
	case float64:
		return strconv.FormatFloat(v, 'g', -1, 64), nil
	default:
		data, err := json.Marshal(v)
		if err != nil {
			return "", fmt.Errorf("marshal %q: %w", name, err)
		}

		return string(data), nil
	}
}

// escapeJSONString escapes a value for insertion inside a quoted JSON
// string, without adding the surrounding quotes.
func escapeJSONString(s string) string {
	data, _ := json.Marshal(s)
	return string(data[1 : len(data)-1])
}

func present(value any) bool {
	switch v := value.(type) {
	case nil:
		return false
	case string:
		return v != ""
	case bool:
		return v
	case []llm.Message:
		return len(v) > 0
	case []llm.Tool:
		return len(v) > 0
	}

	return true
}

func truncate(s string) string {
	if len(s) > 24 {
		return s[:24]
	}

	return s
}
