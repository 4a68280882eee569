package client

import (
	"context"
	"errors"
	"fmt"
)

// Account is the identity provider's currently signed in account
type Account interface {
	UID() string
	Email() string
	EmailVerified() bool

	// Reload refreshes the account's attributes (notably EmailVerified) from the provider
	Reload(ctx context.Context) error

	// IDToken returns a short lived ID token, minting a fresh one if forceRefresh is set
	IDToken(ctx context.Context, forceRefresh bool) (string, error)
}

// IdentityProvider is the external service doing password checks, email
// verification tracking and token issuance.
type IdentityProvider interface {
	SignIn(ctx context.Context, email, password string) (Account, error)

	// SignOut signs the current account out. Subscribers are notified asynchronously.
	SignOut(ctx context.Context) error

	// OnAuthStateChanged registers a listener called with the current account (nil
	// when signed out) once after subscribing and then on every sign-in, sign-out
	// and token refresh. Listeners must not block.
	OnAuthStateChanged(listener func(Account)) (unsubscribe func())
}

// AccountReporter is implemented by providers that can say who is signed in
// right now. The session manager uses it to drop notifications that arrive
// after the provider has already moved on, such as a sign-out delivered after
// the next sign-in.
type AccountReporter interface {
	CurrentAccount() Account
}

// Provider error codes, named after the hosted provider's client error codes
const (
	CodeInvalidCredential = "auth/invalid-credential"
	CodeUserNotFound      = "auth/user-not-found"
	CodeWrongPassword     = "auth/wrong-password"
	CodeInvalidEmail      = "auth/invalid-email"
	CodeUserDisabled      = "auth/user-disabled"
	CodeTooManyRequests   = "auth/too-many-requests"
	CodeNetworkFailed     = "auth/network-request-failed"
	CodeInternalError     = "auth/internal-error"
)

// ProviderError is returned by IdentityProvider implementations
type ProviderError struct {
	Code    string
	Message string
	Err     error
}

func (e *ProviderError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
	return e.Code
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

// ProviderErrorCode returns the code of a ProviderError anywhere in err's chain, or ""
func ProviderErrorCode(err error) string {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.Code
	}
	return ""
}

// loginFailure maps a provider sign-in failure to what the user is told
func loginFailure(err error) Result {
	switch ProviderErrorCode(err) {
	case CodeInvalidCredential, CodeUserNotFound, CodeWrongPassword, CodeInvalidEmail:
		return failure(KindInvalidCredentials, MsgInvalidCredentials)
	case CodeTooManyRequests:
		return failure(KindNetworkOrUnknown, MsgTooManyRequests)
	}
	return failure(KindNetworkOrUnknown, MsgLoginFailed)
}
