// Package fs provides a file system-based SessionStore for the realtyauth client.
package fs

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// FSSessionStore keeps the session record as a JSON file readable only by its owner.
// Writes are batched in memory until Save.
type FSSessionStore struct {
	mu       sync.RWMutex
	path     string
	values   map[string]string
	modified bool
}

// sessionFile is the JSON structure stored on disk
type sessionFile struct {
	Session map[string]string `json:"session"`
}

// DefaultPath is where an app keeps its session when no path is configured:
// <user config dir>/<appName>/session.json
func DefaultPath(appName string) (string, error) {
	if appName == "" {
		appName = "realty"
	}
	dir, err := os.UserConfigDir()
	if err != nil {
		home, herr := os.UserHomeDir()
		if herr != nil {
			return "", fmt.Errorf("no config directory for %s: %w", appName, err)
		}
		dir = filepath.Join(home, ".config")
	}
	return filepath.Join(dir, appName, "session.json"), nil
}

// NewFSSessionStore opens the session file at path, or at DefaultPath(appName)
// when path is empty. A missing file is an empty session.
func NewFSSessionStore(path string, appName string) (*FSSessionStore, error) {
	if path == "" {
		var err error
		if path, err = DefaultPath(appName); err != nil {
			return nil, err
		}
	}

	store := &FSSessionStore{path: path, values: map[string]string{}}
	if err := store.load(); err != nil && !os.IsNotExist(err) {
		return nil, err
	}
	return store, nil
}

func (s *FSSessionStore) load() error {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return err
	}

	var file sessionFile
	if err := json.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("corrupt session file %s: %w", s.path, err)
	}
	if file.Session != nil {
		s.values = file.Session
	}
	return nil
}

// Get returns the value of key and whether it was present
func (s *FSSessionStore) Get(key string) (string, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.values[key]
	return v, ok, nil
}

// Set stores a value. It is written to disk on Save.
func (s *FSSessionStore) Set(key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if old, ok := s.values[key]; !ok || old != value {
		s.values[key] = value
		s.modified = true
	}
	return nil
}

// Remove deletes keys. The change is written to disk on Save.
func (s *FSSessionStore) Remove(keys ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, k := range keys {
		if _, ok := s.values[k]; ok {
			delete(s.values, k)
			s.modified = true
		}
	}
	return nil
}

// Save persists the session to disk
func (s *FSSessionStore) Save() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.modified {
		return nil
	}

	data, err := json.MarshalIndent(sessionFile{Session: s.values}, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding session: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0700); err != nil {
		return fmt.Errorf("creating session directory: %w", err)
	}

	// CreateTemp opens with 0600, so the token is never world readable
	tmp, err := os.CreateTemp(filepath.Dir(s.path), ".session-*")
	if err != nil {
		return fmt.Errorf("writing session: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("writing session: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("writing session: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return fmt.Errorf("writing session: %w", err)
	}

	s.modified = false
	return nil
}

// Path returns the path to the session file
func (s *FSSessionStore) Path() string {
	return s.path
}
