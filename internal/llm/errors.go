package llm

import "fmt"

// ConfigError reports a configuration problem (unknown provider,
// malformed template or path). Never retried.
type ConfigError struct {
	Provider string
	Reason   string
}

func (e *ConfigError) Error() string {
	if e.Provider == "" {
		return fmt.Sprintf("config error: %s", e.Reason)
	}

	return fmt.Sprintf("config error for provider %q: %s", e.Provider, e.Reason)
}

// AuthError reports a missing or invalid credential, or a failed token
// exchange. Never retried.
type AuthError struct {
	Provider string
	Reason   string
	Err      error
}

func (e *AuthError) Error() string {
	msg := fmt.Sprintf("auth error for provider %q: %s", e.Provider, e.Reason)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}

	return msg
}

func (e *AuthError) Unwrap() error { return e.Err }

// TransportError wraps network-level failures. Retried only for
// idempotent calls, or for POSTs that verifiably failed before any byte
// was written.
type TransportError struct {
	Op       string
	Provider string
	Err      error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport error during %s for provider %q: %v", e.Op, e.Provider, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// FormatError means no known upstream response shape matched. The raw
// body is preserved so the caller can surface it instead of guessing.
type FormatError struct {
	Provider string
	Body     []byte
}

func (e *FormatError) Error() string {
	body := string(e.Body)
	if len(body) > 512 {
		body = body[:512] + "..."
	}

	return fmt.Sprintf("unrecognized response format from provider %q: %s", e.Provider, body)
}

// GatewayError is surfaced by the proxy server and maps directly to an
// HTTP status.
type GatewayError struct {
	Status int
	Reason string
}

func (e *GatewayError) Error() string {
	return fmt.Sprintf("gateway error (%d): %s", e.Status, e.Reason)
}

// UpstreamError carries a non-2xx upstream status and the raw error body
// so user-visible failures keep the detail.
type UpstreamError struct {
	Provider string
	Status   int
	Body     []byte
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("provider %q returned status %d: %s", e.Provider, e.Status, e.Body)
}
