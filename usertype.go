package realtyauth

import (
	"fmt"
	"strings"
)

// UserType is the role that decides which areas of the marketplace a session may access
type UserType string

// Built-in user types
const (
	UserTypeUser    UserType = "user"    // Buyers and renters
	UserTypeBuilder UserType = "builder" // Builders listing projects
	UserTypeBroker  UserType = "broker"  // Licensed brokers
	UserTypeAdmin   UserType = "admin"   // Back-office staff
)

// AllUserTypes returns every known user type
func AllUserTypes() []UserType {
	return []UserType{UserTypeUser, UserTypeBuilder, UserTypeBroker, UserTypeAdmin}
}

// ParseUserType parses a user type, ignoring case and surrounding space
func ParseUserType(s string) (UserType, error) {
	t := UserType(strings.ToLower(strings.TrimSpace(s)))
	if !t.Valid() {
		return "", fmt.Errorf("unknown user type %q", s)
	}
	return t, nil
}

// Valid returns true for the four built-in user types
func (t UserType) Valid() bool {
	switch t {
	case UserTypeUser, UserTypeBuilder, UserTypeBroker, UserTypeAdmin:
		return true
	}
	return false
}

// SelfRegistrable returns true if accounts of this type can be created through signup.
// Admin accounts are provisioned out of band.
func (t UserType) SelfRegistrable() bool {
	return t.Valid() && t != UserTypeAdmin
}

// HomeRoute is where a freshly logged in user of this type lands
func (t UserType) HomeRoute() string {
	if !t.Valid() {
		return "/"
	}
	return "/" + string(t)
}

// String implements fmt.Stringer
func (t UserType) String() string {
	return string(t)
}

// ContainsUserType checks if t is one of the allowed types
func ContainsUserType(allowed []UserType, t UserType) bool {
	for _, a := range allowed {
		if a == t {
			return true
		}
	}
	return false
}
