package client

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	ra "github.com/panyam/realtyauth"
)

// Session Store keys
const (
	KeyAuthenticated = "authenticated"
	KeyUserType      = "userType"
	KeyUserEmail     = "userEmail"
	KeySessionToken  = "firebaseToken"
	KeyPendingUpload = "pendingUpload"
	KeyProfile       = "profile"
)

// sessionKeys are the keys that make up the persisted session record
var sessionKeys = []string{KeyAuthenticated, KeyUserType, KeyUserEmail, KeySessionToken}

// SessionStore is a durable key/value record that survives restarts.
// Only the SessionManager writes to it.
type SessionStore interface {
	// Get returns the value of key and whether it was present
	Get(key string) (string, bool, error)

	Set(key, value string) error

	// Remove deletes keys, ignoring ones that are absent
	Remove(keys ...string) error

	// Save persists pending changes (for stores that batch writes)
	Save() error
}

// sessionRecord is the typed view of the session keys
type sessionRecord struct {
	Authenticated bool
	UserType      ra.UserType
	UserEmail     string
	Token         string
}

// matches reports whether the record vouches for a session of the given email
func (r sessionRecord) matches(email string) bool {
	return r.Authenticated && r.UserType.Valid() && r.UserEmail != "" &&
		ra.NormalizeEmail(r.UserEmail) == ra.NormalizeEmail(email)
}

func readRecord(store SessionStore) (sessionRecord, error) {
	var rec sessionRecord
	var errs []error
	get := func(key string) string {
		v, _, err := store.Get(key)
		if err != nil {
			errs = append(errs, fmt.Errorf("reading %s: %w", key, err))
		}
		return v
	}
	rec.Authenticated = get(KeyAuthenticated) == "true"
	rec.UserType = ra.UserType(strings.ToLower(get(KeyUserType)))
	rec.UserEmail = get(KeyUserEmail)
	rec.Token = get(KeySessionToken)
	return rec, errors.Join(errs...)
}

func writeRecord(store SessionStore, rec sessionRecord) error {
	for _, kv := range [][2]string{
		{KeySessionToken, rec.Token},
		{KeyAuthenticated, "true"},
		{KeyUserType, string(rec.UserType)},
		{KeyUserEmail, rec.UserEmail},
	} {
		if err := store.Set(kv[0], kv[1]); err != nil {
			return fmt.Errorf("writing %s: %w", kv[0], err)
		}
	}
	return store.Save()
}

func clearRecord(store SessionStore) error {
	if err := store.Remove(sessionKeys...); err != nil {
		return err
	}
	return store.Save()
}

// MemoryStore is a SessionStore that lives only as long as the process.
// Useful in tests and for short lived CLI invocations.
type MemoryStore struct {
	mu     sync.RWMutex
	values map[string]string
	saves  int
}

// NewMemoryStore creates a MemoryStore with optional initial values
func NewMemoryStore(initial map[string]string) *MemoryStore {
	values := make(map[string]string, len(initial))
	for k, v := range initial {
		values[k] = v
	}
	return &MemoryStore{values: values}
}

func (s *MemoryStore) Get(key string) (string, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.values[key]
	return v, ok, nil
}

func (s *MemoryStore) Set(key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[key] = value
	return nil
}

func (s *MemoryStore) Remove(keys ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, k := range keys {
		delete(s.values, k)
	}
	return nil
}

func (s *MemoryStore) Save() error {
	s.mu.Lock()
	s.saves++
	s.mu.Unlock()
	return nil
}

// Snapshot returns a copy of every key currently stored
func (s *MemoryStore) Snapshot() map[string]string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]string, len(s.values))
	for k, v := range s.values {
		out[k] = v
	}
	return out
}
