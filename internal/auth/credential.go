// Package auth resolves per-provider request credentials, including the
// two-legged JWT-bearer exchange used by service accounts.
package auth

import (
	"time"
)

// Kind discriminates the credential union.
type Kind string

const (
	KindNone           Kind = ""
	KindAPIKey         Kind = "api_key"
	KindCustomHeader   Kind = "custom_header"
	KindOAuthToken     Kind = "oauth_token"
	KindServiceAccount Kind = "service_account"
)

// Credential is a tagged union over the supported auth mechanisms.
// Exactly the fields for its Kind are set.
type Credential struct {
	Kind Kind `json:"kind"`

	// KindAPIKey
	APIKey string `json:"api_key,omitempty"`

	// KindCustomHeader
	Headers map[string]string `json:"headers,omitempty"`

	// KindOAuthToken
	Token       string    `json:"token,omitempty"`
	TokenExpiry time.Time `json:"token_expiry,omitzero"`

	// KindServiceAccount holds the raw service-account JSON (signing
	// material and claim identity).
	ServiceAccountJSON string `json:"service_account_json,omitempty"`
}

func APIKeyBearer(key string) Credential {
	return Credential{Kind: KindAPIKey, APIKey: key}
}

func CustomHeader(name, value string) Credential {
	return Credential{Kind: KindCustomHeader, Headers: map[string]string{name: value}}
}

func OAuthToken(token string, expiry time.Time) Credential {
	return Credential{Kind: KindOAuthToken, Token: token, TokenExpiry: expiry}
}

func ServiceAccount(saJSON string) Credential {
	return Credential{Kind: KindServiceAccount, ServiceAccountJSON: saJSON}
}

// Store supplies one credential per provider name. The gateway core
// never persists secrets itself.
type Store interface {
	Credential(provider string) (Credential, bool)
}

// StaticStore is a fixed in-memory Store, mostly for tests and
// single-shot CLI invocations.
type StaticStore map[string]Credential

func (s StaticStore) Credential(provider string) (Credential, bool) {
	c, ok := s[provider]
	return c, ok
}
