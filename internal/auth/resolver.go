package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v4"

	"github.com/llmc-dev/llmc/internal/llm"
)

const (
	// DefaultTokenURL is the exchange endpoint used when a provider
	// does not configure its own.
	DefaultTokenURL = "https://oauth2.googleapis.com/token"

	// DefaultScope is the claim scope for service-account assertions.
	DefaultScope = "https://www.googleapis.com/auth/cloud-platform"

	// refreshMargin refreshes cached tokens this long before expiry.
	refreshMargin = 60 * time.Second

	assertionLifetime = time.Hour
	grantTypeJWT      = "urn:ietf:params:oauth:grant-type:jwt-bearer"
)

type cachedToken struct {
	token     string
	expiresAt time.Time
}

func (t cachedToken) valid(now time.Time) bool {
	return t.token != "" && now.Before(t.expiresAt.Add(-refreshMargin))
}

// tokenState holds one provider's cached token behind its own lock, so
// a slow exchange for one provider never stalls the others.
type tokenState struct {
	mu    sync.Mutex
	token cachedToken
}

// Resolver produces request headers for a provider's credential and
// owns the per-provider token cache for exchanged service-account
// tokens.
type Resolver struct {
	store  Store
	client *http.Client
	logger *slog.Logger
	now    func() time.Time

	mu     sync.Mutex
	tokens map[string]*tokenState
}

func NewResolver(store Store, client *http.Client, logger *slog.Logger) *Resolver {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}

	return &Resolver{
		store:  store,
		client: client,
		logger: logger,
		now:    time.Now,
		tokens: make(map[string]*tokenState),
	}
}

// Headers resolves the auth headers for one outgoing request,
// dispatching on the credential kind.
func (r *Resolver) Headers(ctx context.Context, provider, tokenURL string) (map[string]string, error) {
	cred, ok := r.store.Credential(provider)
	if !ok || cred.Kind == KindNone {
		return nil, &llm.AuthError{Provider: provider, Reason: "no credential configured"}
	}

	switch cred.Kind {
	case KindAPIKey:
		if cred.APIKey == "" {
			return nil, &llm.AuthError{Provider: provider, Reason: "empty API key"}
		}

		return map[string]string{"Authorization": "Bearer " + cred.APIKey}, nil

	case KindCustomHeader:
		if len(cred.Headers) == 0 {
			return nil, &llm.AuthError{Provider: provider, Reason: "no custom headers configured"}
		}

		headers := make(map[string]string, len(cred.Headers))
		for name, value := range cred.Headers {
			headers[name] = value
		}

		return headers, nil

	case KindOAuthToken:
		if cred.Token == "" {
			return nil, &llm.AuthError{Provider: provider, Reason: "empty OAuth token"}
		}

		if !cred.TokenExpiry.IsZero() && !r.now().Before(cred.TokenExpiry) {
			return nil, &llm.AuthError{Provider: provider, Reason: "OAuth token expired"}
		}

		return map[string]string{"Authorization": "Bearer " + cred.Token}, nil

	case KindServiceAccount:
		token, err := r.serviceAccountToken(ctx, provider, cred.ServiceAccountJSON, tokenURL)
		if err != nil {
			return nil, err
		}

		return map[string]string{"Authorization": "Bearer " + token}, nil
	}

	return nil, &llm.AuthError{Provider: provider, Reason: fmt.Sprintf("unsupported credential kind %q", cred.Kind)}
}

type serviceAccountKey struct {
	Type        string `json:"type"`
	ClientEmail string `json:"client_email"`
	PrivateKey  string `json:"private_key"`
	TokenURI    string `json:"token_uri"`
}

// tokenState returns the provider's token slot, creating it on first
// use. The resolver-wide lock guards only the map, never an exchange.
func (r *Resolver) tokenState(provider string) *tokenState {
	r.mu.Lock()
	defer r.mu.Unlock()

	st, ok := r.tokens[provider]
	if !ok {
		st = &tokenState{}
		r.tokens[provider] = st
	}

	return st
}

// serviceAccountToken returns a cached access token for the provider,
// minting a fresh one via the JWT-bearer exchange when the cache is
// empty or inside the refresh margin. The check-refresh-store sequence
// runs under the provider's own lock, so at most one exchange occurs
// per validity window and concurrent callers for the same provider
// share it, while other providers resolve unblocked.
func (r *Resolver) serviceAccountToken(ctx context.Context, provider, saJSON, tokenURL string) (string, error) {
	st := r.tokenState(provider)

	st.mu.Lock()
	defer st.mu.Unlock()

	if st.token.valid(r.now()) {
		return st.token.token, nil
	}

	var sa serviceAccountKey
	if err := json.Unmarshal([]byte(saJSON), &sa); err != nil {
		return "", &llm.AuthError{Provider: provider, Reason: "invalid service account JSON", Err: err}
	}

	if sa.Type != "service_account" {
		return "", &llm.AuthError{Provider: provider, Reason: "credential is not a service_account key"}
	}

	if sa.PrivateKey == "" || sa.ClientEmail == "" {
		return "", &llm.AuthError{Provider: provider, Reason: "service account key is missing private_key or client_email"}
	}

	if tokenURL == "" {
		tokenURL = sa.TokenURI
	}

	if tokenURL == "" {
		tokenURL = DefaultTokenURL
	}

	assertion, err := r.signAssertion(&sa, tokenURL)
	if err != nil {
		return "", &llm.AuthError{Provider: provider, Reason: "failed to sign assertion", Err: err}
	}

	token, expiresIn, err := r.exchange(ctx, tokenURL, assertion)
	if err != nil {
		return "", &llm.AuthError{Provider: provider, Reason: "token exchange failed", Err: err}
	}

	st.token = cachedToken{
		token:     token,
		expiresAt: r.now().Add(time.Duration(expiresIn) * time.Second),
	}

	if r.logger != nil {
		r.logger.Debug("Minted service account token",
			"provider", provider,
			"expires_in", expiresIn,
		)
	}

	return token, nil
}

func (r *Resolver) signAssertion(sa *serviceAccountKey, audience string) (string, error) {
	key, err := jwt.ParseRSAPrivateKeyFromPEM([]byte(sa.PrivateKey))
	if err != nil {
		return "", fmt.Errorf("parse RSA key: %w", err)
	}

	now := r.now()
	claims := jwt.MapClaims{
		"iss":   sa.ClientEmail,
		"scope": DefaultScope,
		"aud":   audience,
		"iat":   now.Unix(),
		"exp":   now.Add(assertionLifetime).Unix(),
	}

	return jwt.NewWithClaims(jwt.SigningMethodRS256, claims).SignedString(key)
}

func (r *Resolver) exchange(ctx context.Context, tokenURL, assertion string) (string, int64, error) {
	form := url.Values{
		"grant_type": {grantTypeJWT},
		"assertion":  {assertion},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, tokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return "", 0, err
	}

	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := r.client.Do(req)
	if err != nil {
		return "", 0, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", 0, err
	}

	if resp.StatusCode != http.StatusOK {
		return "", 0, fmt.Errorf("token endpoint returned %d: %s", resp.StatusCode, body)
	}

	var parsed struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int64  `json:"expires_in"`
	}

	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", 0, fmt.Errorf("parse token response: %w", err)
	}

	if parsed.AccessToken == "" {
		return "", 0, fmt.Errorf("token response has no access_token")
	}

	return parsed.AccessToken, parsed.ExpiresIn, nil
}

// Invalidate drops the cached token for a provider, forcing a fresh
// exchange on the next request.
func (r *Resolver) Invalidate(provider string) {
	st := r.tokenState(provider)

	st.mu.Lock()
	st.token = cachedToken{}
	st.mu.Unlock()
}
