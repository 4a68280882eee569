package fs

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	ra "github.com/panyam/realtyauth"
)

// FSUserStore implements ra.UserStore with one JSON file per user.
//
// # File Structure
//
//	{StoragePath}/
//	└── users/
//	    ├── alice%40example.com.json
//	    └── ...
//
// Files are keyed by the normalized email so lookups are case-insensitive.
// Writes go through a temp file and a rename, and a mutex serializes
// create-if-absent within one process.
type FSUserStore struct {
	StoragePath string

	mu sync.Mutex
}

// NewFSUserStore creates a new filesystem-backed UserStore
func NewFSUserStore(storagePath string) *FSUserStore {
	return &FSUserStore{StoragePath: storagePath}
}

func (s *FSUserStore) usersDir() string {
	return filepath.Join(s.StoragePath, "users")
}

func (s *FSUserStore) getUserPath(email string) string {
	return filepath.Join(s.usersDir(), url.PathEscape(ra.NormalizeEmail(email))+".json")
}

// CreateUser stores a new user, failing with ra.ErrUserExists if the email is taken
func (s *FSUserStore) CreateUser(user *ra.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.readUser(user.Email); err == nil {
		return ra.ErrUserExists
	} else if !errors.Is(err, ra.ErrUserNotFound) {
		return err
	}

	if user.ID == "" {
		user.ID = uuid.NewString()
	}
	now := time.Now()
	if user.CreatedAt.IsZero() {
		user.CreatedAt = now
	}
	user.UpdatedAt = now
	return s.writeUser(user)
}

// GetUserByEmail retrieves a user by email
func (s *FSUserStore) GetUserByEmail(email string) (*ra.User, error) {
	return s.readUser(email)
}

// SaveUser creates or replaces the user stored under the user's email
func (s *FSUserStore) SaveUser(user *ra.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if user.ID == "" {
		user.ID = uuid.NewString()
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now()
	}
	user.UpdatedAt = time.Now()
	return s.writeUser(user)
}

// ListUsers returns users sorted by email, optionally filtered by type
func (s *FSUserStore) ListUsers(userType ra.UserType) ([]*ra.User, error) {
	entries, err := os.ReadDir(s.usersDir())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var users []*ra.User
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		var user ra.User
		if err := readJSON(filepath.Join(s.usersDir(), entry.Name()), &user); err != nil {
			continue
		}
		if userType != "" && user.UserType != userType {
			continue
		}
		users = append(users, &user)
	}
	sort.Slice(users, func(i, j int) bool { return users[i].Email < users[j].Email })
	return users, nil
}

func (s *FSUserStore) readUser(email string) (*ra.User, error) {
	var user ra.User
	if err := readJSON(s.getUserPath(email), &user); err != nil {
		if os.IsNotExist(err) {
			return nil, ra.ErrUserNotFound
		}
		return nil, fmt.Errorf("reading user %s: %w", email, err)
	}
	return &user, nil
}

func (s *FSUserStore) writeUser(user *ra.User) error {
	return writeJSON(s.getUserPath(user.Email), user)
}
