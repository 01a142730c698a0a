// Package tokens holds the named upload tokens and which one is active.
package tokens

import (
	"errors"
	"fmt"
	"strings"
	"sync"
)

var (
	// ErrNotFound is returned when no token has the given name.
	ErrNotFound = errors.New("token not found")
	// ErrDuplicate is returned when adding a name or secret that is already saved.
	ErrDuplicate = errors.New("token already saved")
)

// Token is a named upload credential.
type Token struct {
	Name     string `json:"name" yaml:"name"`
	Secret   string `json:"token" yaml:"token"`
	IsActive bool   `json:"active" yaml:"-"`
}

// Masked returns the secret with only its first and last four characters visible.
func (t Token) Masked() string {
	return Mask(t.Secret)
}

// Mask hides all but the edges of a secret.
func Mask(secret string) string {
	if len(secret) <= 8 {
		return "****"
	}
	return secret[:4] + "..." + secret[len(secret)-4:]
}

// Store is safe for concurrent use. Readers never observe two active tokens.
type Store struct {
	mu     sync.RWMutex
	tokens []Token
	active string
}

// NewStore creates a store from saved tokens. active may be empty or must name one of them.
func NewStore(saved []Token, active string) (*Store, error) {
	s := &Store{}
	for _, t := range saved {
		if err := s.Add(t.Name, t.Secret); err != nil {
			return nil, err
		}
	}
	if active != "" {
		if err := s.SetActive(active); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// Add saves a new token. The first token added becomes active.
func (s *Store) Add(name, secret string) error {
	name = strings.TrimSpace(name)
	secret = strings.TrimSpace(secret)
	if name == "" || secret == "" {
		return fmt.Errorf("token name and secret are required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, t := range s.tokens {
		if t.Name == name {
			return fmt.Errorf("%w: name %q", ErrDuplicate, name)
		}
		if t.Secret == secret {
			return fmt.Errorf("%w: same secret saved as %q", ErrDuplicate, t.Name)
		}
	}

	s.tokens = append(s.tokens, Token{Name: name, Secret: secret})
	if s.active == "" {
		s.active = name
	}
	return nil
}

// Remove deletes a token. Removing the active token leaves no token active.
func (s *Store) Remove(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx := s.indexLocked(name)
	if idx < 0 {
		return fmt.Errorf("%w: %q", ErrNotFound, name)
	}

	s.tokens = append(s.tokens[:idx], s.tokens[idx+1:]...)
	if s.active == name {
		s.active = ""
	}
	return nil
}

// SetActive makes name the only active token.
// An unknown name fails with ErrNotFound and leaves the store unchanged.
func (s *Store) SetActive(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.indexLocked(name) < 0 {
		return fmt.Errorf("%w: %q", ErrNotFound, name)
	}
	s.active = name
	return nil
}

// Active returns the active token, if any.
func (s *Store) Active() (Token, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	idx := s.indexLocked(s.active)
	if idx < 0 {
		return Token{}, false
	}
	t := s.tokens[idx]
	t.IsActive = true
	return t, true
}

// Get returns a token by name.
func (s *Store) Get(name string) (Token, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	idx := s.indexLocked(name)
	if idx < 0 {
		return Token{}, fmt.Errorf("%w: %q", ErrNotFound, name)
	}
	t := s.tokens[idx]
	t.IsActive = t.Name == s.active
	return t, nil
}

// List returns a copy of all tokens in insertion order with IsActive filled in.
func (s *Store) List() []Token {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Token, len(s.tokens))
	for i, t := range s.tokens {
		t.IsActive = t.Name == s.active
		out[i] = t
	}
	return out
}

// ActiveName returns the name of the active token or "".
func (s *Store) ActiveName() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.active
}

func (s *Store) indexLocked(name string) int {
	if name == "" {
		return -1
	}
	for i, t := range s.tokens {
		if t.Name == name {
			return i
		}
	}
	return -1
}
