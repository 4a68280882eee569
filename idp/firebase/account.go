package firebase

import (
	"context"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/panyam/realtyauth/client"
)

// Account is a signed in Firebase account
type Account struct {
	provider *Provider

	mu           sync.Mutex
	uid          string
	email        string
	verified     bool
	idToken      string
	expiry       time.Time
	refreshToken string
}

func (a *Account) UID() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.uid
}

func (a *Account) Email() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.email
}

func (a *Account) EmailVerified() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.verified
}

// Reload looks the account up again, picking up a verification done elsewhere
func (a *Account) Reload(ctx context.Context) error {
	token, err := a.IDToken(ctx, false)
	if err != nil {
		return err
	}
	info, err := a.provider.lookup(ctx, token)
	if err != nil {
		return err
	}

	a.mu.Lock()
	changed := a.verified != info.EmailVerified
	a.verified = info.EmailVerified
	if info.Email != "" {
		a.email = info.Email
	}
	if info.LocalId != "" {
		a.uid = info.LocalId
	}
	a.mu.Unlock()

	if changed {
		a.provider.persist(a)
	}
	return nil
}

// IDToken returns the cached ID token while it has more than the refresh
// margin left, refreshing it otherwise or when forceRefresh is set.
// ID tokens carry email_verified as of minting, so callers that just saw the
// email get verified should force a refresh.
func (a *Account) IDToken(ctx context.Context, forceRefresh bool) (string, error) {
	a.mu.Lock()
	if !forceRefresh && a.idToken != "" && time.Now().Add(a.provider.cfg.RefreshMargin).Before(a.expiry) {
		defer a.mu.Unlock()
		return a.idToken, nil
	}
	refreshToken := a.refreshToken
	a.mu.Unlock()

	if refreshToken == "" {
		return "", &client.ProviderError{Code: client.CodeInvalidCredential, Message: "no refresh token"}
	}
	tok, err := a.provider.refresh(ctx, refreshToken)
	if err != nil {
		return "", err
	}
	idToken, _ := tok.Extra("id_token").(string)
	if idToken == "" {
		idToken = tok.AccessToken
	}

	a.mu.Lock()
	rotated := tok.RefreshToken != "" && tok.RefreshToken != a.refreshToken
	if rotated {
		a.refreshToken = tok.RefreshToken
	}
	a.setIDTokenLocked(idToken, tok.Expiry)
	a.mu.Unlock()

	if rotated {
		a.provider.persist(a)
	}
	a.provider.tokenRefreshed(a)
	return idToken, nil
}

func (a *Account) setIDToken(token string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.setIDTokenLocked(token, time.Time{})
}

// setIDTokenLocked caches token, taking the expiry from its exp claim when it
// has one
func (a *Account) setIDTokenLocked(token string, fallback time.Time) {
	a.idToken = token
	a.expiry = fallback
	claims := &jwt.RegisteredClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err == nil && claims.ExpiresAt != nil {
		a.expiry = claims.ExpiresAt.Time
	}
}
