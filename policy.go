package realtyauth

import (
	"fmt"
	"regexp"
	"strings"
)

var emailRegex = regexp.MustCompile(`^[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}$`)

// SignupPolicy defines what a signup request must contain
type SignupPolicy struct {
	// MinPasswordLength defaults to 6, the identity provider's own minimum
	MinPasswordLength int

	// AllowedUserTypes restricts which types may self-register.
	// Defaults to every self-registrable type.
	AllowedUserTypes []UserType

	// RequireCompanyName requires companyName for builders
	RequireCompanyName bool

	// RequireLicenseNumber requires licenseNumber for brokers
	RequireLicenseNumber bool
}

// DefaultSignupPolicy returns the policy the marketplace signs users up with
func DefaultSignupPolicy() SignupPolicy {
	return SignupPolicy{
		MinPasswordLength:    6,
		AllowedUserTypes:     []UserType{UserTypeUser, UserTypeBuilder, UserTypeBroker},
		RequireCompanyName:   true,
		RequireLicenseNumber: true,
	}
}

// GetMinPasswordLength returns the minimum password length, defaulting to 6
func (p SignupPolicy) GetMinPasswordLength() int {
	if p.MinPasswordLength <= 0 {
		return 6
	}
	return p.MinPasswordLength
}

// IsValidEmail does a basic format check
func IsValidEmail(email string) bool {
	return emailRegex.MatchString(email)
}

// Validate checks a signup request against the policy.
// Strings are trimmed in place and the user type is normalized.
func (p SignupPolicy) Validate(req *SignupRequest) *AuthError {
	req.Name = strings.TrimSpace(req.Name)
	req.Email = strings.TrimSpace(req.Email)
	req.CompanyName = strings.TrimSpace(req.CompanyName)
	req.LicenseNumber = strings.TrimSpace(req.LicenseNumber)

	if req.Name == "" {
		return NewAuthError(ErrCodeMissingField, "Name is required", "name")
	}
	if req.Email == "" {
		return NewAuthError(ErrCodeMissingField, "Email is required", "email")
	}
	if req.Password == "" {
		return NewAuthError(ErrCodeMissingField, "Password is required", "password")
	}
	if req.UserType == "" {
		return NewAuthError(ErrCodeMissingField, "User type is required", "userType")
	}

	if !IsValidEmail(req.Email) {
		return NewAuthError(ErrCodeInvalidEmail, "Invalid email format", "email")
	}

	if minLen := p.GetMinPasswordLength(); len(req.Password) < minLen {
		return NewAuthError(ErrCodeWeakPassword, fmt.Sprintf("Password must be at least %d characters", minLen), "password")
	}

	userType, err := ParseUserType(string(req.UserType))
	if err != nil {
		return NewAuthError(ErrCodeInvalidUserType, "Invalid user type", "userType")
	}
	allowed := p.AllowedUserTypes
	if len(allowed) == 0 {
		allowed = DefaultSignupPolicy().AllowedUserTypes
	}
	if !userType.SelfRegistrable() || !ContainsUserType(allowed, userType) {
		return NewAuthError(ErrCodeInvalidUserType, fmt.Sprintf("Cannot sign up as %s", userType), "userType")
	}
	req.UserType = userType

	if userType == UserTypeBuilder && p.RequireCompanyName && req.CompanyName == "" {
		return NewAuthError(ErrCodeMissingField, "Company name is required for builders", "companyName")
	}
	if userType == UserTypeBroker && p.RequireLicenseNumber && req.LicenseNumber == "" {
		return NewAuthError(ErrCodeMissingField, "License number is required for brokers", "licenseNumber")
	}

	// Role specific fields only make sense for their role
	if userType != UserTypeBuilder {
		req.CompanyName = ""
	}
	if userType != UserTypeBroker {
		req.LicenseNumber = ""
	}
	return nil
}
