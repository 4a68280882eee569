package fs

import (
	"os"
	"path/filepath"
	"sync"
	"time"

	ra "github.com/panyam/realtyauth"
)

// FSTokenStore keeps outstanding verification tokens in a single
// {StoragePath}/verification.json file, keyed by normalized email. It is meant
// for development and small deployments: every call reads and rewrites the
// whole file.
type FSTokenStore struct {
	StoragePath string

	mu sync.Mutex
}

// NewFSTokenStore creates a new filesystem-backed ra.VerificationTokenStore
func NewFSTokenStore(storagePath string) *FSTokenStore {
	return &FSTokenStore{StoragePath: storagePath}
}

func (s *FSTokenStore) path() string {
	return filepath.Join(s.StoragePath, "verification.json")
}

func (s *FSTokenStore) load() (map[string]*ra.VerificationToken, error) {
	tokens := map[string]*ra.VerificationToken{}
	if err := readJSON(s.path(), &tokens); err != nil && !os.IsNotExist(err) {
		return nil, err
	}
	return tokens, nil
}

func (s *FSTokenStore) IssueToken(email string, ttl time.Duration) (*ra.VerificationToken, error) {
	tok, err := ra.NewVerificationToken(email, ttl)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	tokens, err := s.load()
	if err != nil {
		return nil, err
	}
	for key, t := range tokens {
		if t.Expired() {
			delete(tokens, key)
		}
	}
	tokens[tok.Email] = tok
	if err := writeJSON(s.path(), tokens); err != nil {
		return nil, err
	}
	return tok, nil
}

func (s *FSTokenStore) ConsumeToken(token string) (*ra.VerificationToken, error) {
	if token == "" {
		return nil, ra.ErrTokenNotFound
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	tokens, err := s.load()
	if err != nil {
		return nil, err
	}
	for key, t := range tokens {
		if t.Token != token {
			continue
		}
		delete(tokens, key)
		if err := writeJSON(s.path(), tokens); err != nil {
			return nil, err
		}
		if t.Expired() {
			return nil, ra.ErrTokenExpired
		}
		return t, nil
	}
	return nil, ra.ErrTokenNotFound
}
