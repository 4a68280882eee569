package realtyauth

import (
	"errors"
	"strings"
	"time"
)

var (
	// ErrUserNotFound is returned by user stores when no user has the given email or id
	ErrUserNotFound = errors.New("user not found")

	// ErrUserExists is returned when creating a user whose email is already registered
	ErrUserExists = errors.New("email already registered")

	// ErrTokenNotFound is returned for verification tokens that were never
	// issued, were already used or were replaced by a newer one
	ErrTokenNotFound = errors.New("verification token not found")

	ErrTokenExpired = errors.New("verification token expired")
)

// User is a marketplace account in the backend's user directory
type User struct {
	ID            string    `json:"id"`
	Name          string    `json:"name"`
	Email         string    `json:"email"`
	UserType      UserType  `json:"userType"`
	CompanyName   string    `json:"companyName,omitempty"`   // builders only
	LicenseNumber string    `json:"licenseNumber,omitempty"` // brokers only
	CreatedAt     time.Time `json:"createdAt"`
	UpdatedAt     time.Time `json:"updatedAt"`
}

// NormalizeEmail returns the canonical form used as the lookup key for an email
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// UserStore manages the user directory
type UserStore interface {
	// CreateUser stores a new user. Returns ErrUserExists if the email is taken.
	CreateUser(user *User) error

	// GetUserByEmail retrieves a user by email (case-insensitive).
	// Returns ErrUserNotFound if there is none.
	GetUserByEmail(email string) (*User, error)

	// SaveUser creates or updates a user (upsert)
	SaveUser(user *User) error

	// ListUsers returns all users, optionally restricted to a user type ("" for all)
	ListUsers(userType UserType) ([]*User, error)
}
