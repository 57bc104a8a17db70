// Package credentials persists the API bearer token between CLI runs
package credentials

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

const (
	// FileName is the credentials file inside the launchpad home directory
	FileName = "credentials.yaml"
	// TokenKey is the fixed key the token is stored under
	TokenKey = "auth_token"
)

// Source tells where a resolved token came from
type Source string

const (
	SourceNone   Source = "none"
	SourceConfig Source = "flag/env/config"
	SourceStore  Source = "credentials file"
)

// Store reads and writes the credentials file
type Store struct {
	mu   sync.Mutex
	path string
}

// DefaultPath returns $HOME/.launchpad/credentials.yaml
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to locate home directory: %w", err)
	}
	return filepath.Join(home, ".launchpad", FileName), nil
}

// NewStore returns a store backed by path
func NewStore(path string) *Store {
	return &Store{path: path}
}

// Default returns the store at DefaultPath
func Default() (*Store, error) {
	path, err := DefaultPath()
	if err != nil {
		return nil, err
	}
	return NewStore(path), nil
}

// Path returns the backing file
func (s *Store) Path() string {
	return s.path
}

// Token returns the stored token, or "" when none is stored
func (s *Store) Token() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	values, err := s.read()
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(values[TokenKey]), nil
}

// SetToken stores token, keeping any other keys in the file
func (s *Store) SetToken(token string) error {
	token = strings.TrimSpace(token)
	if token == "" {
		return errors.New("token must not be empty")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	values, err := s.read()
	if err != nil {
		return err
	}
	values[TokenKey] = token
	return s.write(values)
}

// Clear removes the stored token. Clearing an absent token is not an error.
func (s *Store) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	values, err := s.read()
	if err != nil {
		return err
	}
	if _, ok := values[TokenKey]; !ok {
		return nil
	}
	delete(values, TokenKey)
	if len(values) == 0 {
		if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("failed to remove credentials: %w", err)
		}
		return nil
	}
	return s.write(values)
}

func (s *Store) read() (map[string]string, error) {
	values := make(map[string]string)

	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return values, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read credentials: %w", err)
	}
	if err := yaml.Unmarshal(data, &values); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", s.path, err)
	}
	if values == nil {
		values = make(map[string]string)
	}
	return values, nil
}

func (s *Store) write(values map[string]string) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0700); err != nil {
		return fmt.Errorf("failed to create credentials directory: %w", err)
	}

	data, err := yaml.Marshal(values)
	if err != nil {
		return fmt.Errorf("failed to encode credentials: %w", err)
	}

	// Write to temp file first, then rename
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return fmt.Errorf("failed to write credentials: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to save credentials: %w", err)
	}
	return nil
}

// Resolve picks the token to use. An explicit token (from --token,
// LAUNCHPAD_TOKEN or the config file) wins over the stored one.
func Resolve(explicit string, store *Store) (string, Source, error) {
	if t := strings.TrimSpace(explicit); t != "" {
		return t, SourceConfig, nil
	}
	if store == nil {
		return "", SourceNone, nil
	}
	t, err := store.Token()
	if err != nil {
		return "", SourceNone, err
	}
	if t == "" {
		return "", SourceNone, nil
	}
	return t, SourceStore, nil
}

// Mask hides most of a token for display
func Mask(token string) string {
	n := len(token)
	switch {
	case n == 0:
		return ""
	case n <= 4:
		return "[REDACTED]"
	case n <= 8:
		return fmt.Sprintf("%c***", token[0])
	default:
		return fmt.Sprintf("%s***%s", token[:2], token[n-2:])
	}
}
