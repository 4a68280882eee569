package firebase

import (
	"context"
	"errors"
	"fmt"

	"github.com/coreos/go-oidc/v3/oidc"

	ra "github.com/panyam/realtyauth"
)

// OIDCVerifier verifies Firebase ID tokens for the backend
type OIDCVerifier struct {
	verifier *oidc.IDTokenVerifier
}

// NewOIDCVerifier verifies tokens for projectID against Google's published
// signing keys. Keys are fetched lazily and cached.
func NewOIDCVerifier(ctx context.Context, projectID string) *OIDCVerifier {
	return NewOIDCVerifierWithKeySet(projectID, oidc.NewRemoteKeySet(ctx, googleJWKSURL))
}

// NewOIDCVerifierWithKeySet verifies tokens for projectID against keys
func NewOIDCVerifierWithKeySet(projectID string, keys oidc.KeySet) *OIDCVerifier {
	return &OIDCVerifier{
		verifier: oidc.NewVerifier(issuerPrefix+projectID, keys, &oidc.Config{ClientID: projectID}),
	}
}

// NewEmulatorVerifier accepts the unsigned tokens the Auth emulator mints.
// Never use it against production.
func NewEmulatorVerifier(projectID string) *OIDCVerifier {
	return &OIDCVerifier{
		verifier: oidc.NewVerifier(issuerPrefix+projectID, &oidc.StaticKeySet{}, &oidc.Config{
			ClientID:                   projectID,
			InsecureSkipSignatureCheck: true,
		}),
	}
}

// Verify checks signature, issuer, audience and expiry
func (v *OIDCVerifier) Verify(ctx context.Context, raw string) (*ra.VerifiedToken, error) {
	if raw == "" {
		return nil, errors.New("empty token")
	}
	tok, err := v.verifier.Verify(ctx, raw)
	if err != nil {
		return nil, fmt.Errorf("invalid token: %w", err)
	}

	var claims ra.IDTokenClaims
	if err := tok.Claims(&claims); err != nil {
		return nil, fmt.Errorf("invalid claims: %w", err)
	}
	if tok.Subject == "" {
		return nil, errors.New("subject not found")
	}
	return &ra.VerifiedToken{
		Subject:       tok.Subject,
		Email:         claims.Email,
		EmailVerified: claims.EmailVerified,
		IssuedAt:      tok.IssuedAt,
		ExpiresAt:     tok.Expiry,
	}, nil
}
