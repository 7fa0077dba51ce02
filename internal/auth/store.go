package auth

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

const keysFilename = "keys.json"

// FileStore persists credentials separately from provider configs so
// configs can be shared without exposing secrets. The file is written
// with owner-only permissions.
type FileStore struct {
	path string

	mu    sync.RWMutex
	creds map[string]Credential
}

func NewFileStore(baseDir string) *FileStore {
	return &FileStore{
		path:  filepath.Join(baseDir, keysFilename),
		creds: make(map[string]Credential),
	}
}

func (s *FileStore) Load() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return nil
	}

	if err != nil {
		return fmt.Errorf("read keys file: %w", err)
	}

	creds := make(map[string]Credential)
	if err := json.Unmarshal(data, &creds); err != nil {
		return fmt.Errorf("unmarshal keys file: %w", err)
	}

	s.creds = creds

	return nil
}

func (s *FileStore) save() error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return fmt.Errorf("create keys dir: %w", err)
	}

	data, err := json.MarshalIndent(s.creds, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal keys: %w", err)
	}

	if err := os.WriteFile(s.path, data, 0o600); err != nil {
		return fmt.Errorf("write keys file: %w", err)
	}

	return nil
}

func (s *FileStore) Credential(provider string) (Credential, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.creds[provider]

	return c, ok
}

func (s *FileStore) Set(provider string, cred Credential) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.creds[provider] = cred

	return s.save()
}

// SetHeader adds one custom header to a provider's credential,
// converting it to the custom-header kind if needed.
func (s *FileStore) SetHeader(provider, name, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cred := s.creds[provider]
	if cred.Kind != KindCustomHeader || cred.Headers == nil {
		cred = Credential{Kind: KindCustomHeader, Headers: make(map[string]string)}
	}

	cred.Headers[name] = value
	s.creds[provider] = cred

	return s.save()
}

func (s *FileStore) Remove(provider string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.creds[provider]; !ok {
		return false, nil
	}

	delete(s.creds, provider)

	return true, s.save()
}

// Providers lists provider names with stored credentials.
func (s *FileStore) Providers() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	names := make([]string, 0, len(s.creds))
	for name := range s.creds {
		names = append(names, name)
	}

	return names
}

// ExpiresSoon reports whether an OAuth credential expires within the
// given window; other kinds never do.
func (c Credential) ExpiresSoon(window time.Duration) bool {
	if c.Kind != KindOAuthToken || c.TokenExpiry.IsZero() {
		return false
	}

	return time.Now().Add(window).After(c.TokenExpiry)
}
