package realtyauth

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"time"
)

// VerificationTTL is how long a verification link stays valid
const VerificationTTL = 24 * time.Hour

// VerificationToken proves that whoever holds the link can read mail sent to
// Email. Tokens are single use.
type VerificationToken struct {
	Token     string    `json:"token"`
	Email     string    `json:"email"`
	IssuedAt  time.Time `json:"issued_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// NewVerificationToken mints a random token for the normalized email
func NewVerificationToken(email string, ttl time.Duration) (*VerificationToken, error) {
	var b [32]byte
	if _, err := rand.Read(b[:]); err != nil {
		return nil, fmt.Errorf("minting verification token: %w", err)
	}
	now := time.Now()
	return &VerificationToken{
		Token:     base64.RawURLEncoding.EncodeToString(b[:]),
		Email:     NormalizeEmail(email),
		IssuedAt:  now,
		ExpiresAt: now.Add(ttl),
	}, nil
}

func (t *VerificationToken) Expired() bool {
	return !time.Now().Before(t.ExpiresAt)
}

// VerificationTokenStore keeps the outstanding verification token of each
// email. An email has at most one, so a resend invalidates earlier links.
type VerificationTokenStore interface {
	// IssueToken replaces any outstanding token for email with a new one
	IssueToken(email string, ttl time.Duration) (*VerificationToken, error)

	// ConsumeToken removes the token and returns it. Unknown tokens fail with
	// ErrTokenNotFound and expired ones with ErrTokenExpired.
	ConsumeToken(token string) (*VerificationToken, error)
}
