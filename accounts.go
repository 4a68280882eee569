package realtyauth

import (
	"context"
	"errors"
)

// ErrAccountExists is returned by AccountAdmin.CreateAccount for an email the provider already knows
var ErrAccountExists = errors.New("account already exists")

// AccountAdmin is the backend's side of the identity provider: it owns password
// accounts and email verification, the backend only keeps the user directory.
type AccountAdmin interface {
	// CreateAccount registers an email/password account and returns the provider's user id
	CreateAccount(ctx context.Context, email, password string) (uid string, err error)

	// SendVerification (re)sends the verification email for an account
	SendVerification(ctx context.Context, email string) error

	// DeleteAccount removes an account returned by CreateAccount. Unknown ids
	// are not an error.
	DeleteAccount(ctx context.Context, uid string) error
}
