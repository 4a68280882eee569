package local

import (
	"context"
	"sync"
)

// Account is a snapshot of a local account. EmailVerified reflects the state
// at sign-in or at the last Reload.
type Account struct {
	provider *Provider
	uid      string
	email    string

	mu       sync.RWMutex
	verified bool
}

func (a *Account) UID() string   { return a.uid }
func (a *Account) Email() string { return a.email }

func (a *Account) EmailVerified() bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.verified
}

// Reload refreshes the verification flag from the provider
func (a *Account) Reload(ctx context.Context) error {
	rec, err := a.provider.lookup(a.email)
	if err != nil {
		return err
	}
	a.mu.Lock()
	a.verified = rec.Verified
	a.mu.Unlock()
	return nil
}

// IDToken mints a token for the account. Tokens are cheap to mint so a fresh
// one is returned regardless of forceRefresh.
func (a *Account) IDToken(ctx context.Context, forceRefresh bool) (string, error) {
	return a.provider.mintIDToken(a.uid, a.email, a.EmailVerified())
}
