// Package firebase binds the session manager and the reference backend to
// Firebase Authentication.
//
// Provider is the client side: email/password sign-in through the Identity
// Toolkit REST API, ID token refresh through the Secure Token service, and an
// optional file that keeps the refresh token so a restarted process comes back
// signed in. Admin is the backend side (account creation and verification
// emails) and OIDCVerifier checks ID tokens against Google's signing keys.
package firebase

import (
	"log/slog"
	"net/http"
	"strings"
	"time"
)

const (
	identityToolkitEndpoint = "https://identitytoolkit.googleapis.com/"
	secureTokenEndpoint     = "https://securetoken.googleapis.com/v1/token"
	issuerPrefix            = "https://securetoken.google.com/"
	googleJWKSURL           = "https://www.googleapis.com/service_accounts/v1/jwk/securetoken@system.gserviceaccount.com"
)

// Config configures the Firebase binding
type Config struct {
	// APIKey is the web API key of the Firebase project
	APIKey string

	// ProjectID is the audience of the project's ID tokens
	ProjectID string

	// CredentialsFile is a service account key. Only Admin uses it, to request
	// verification links it then delivers itself.
	CredentialsFile string

	// EmulatorHost (host:port) points everything at the Auth emulator
	EmulatorHost string

	// Endpoint and TokenURL override the Identity Toolkit and Secure Token URLs
	Endpoint string
	TokenURL string

	// Path of the file the signed in account is kept in. Empty keeps it in memory.
	Path string

	// ContinueURL is where verification links send the user afterwards
	ContinueURL string

	// RefreshMargin is how long before expiry a cached ID token is refreshed.
	// Defaults to 5 minutes.
	RefreshMargin time.Duration

	// HTTPClient is used for all calls when set
	HTTPClient *http.Client

	Logger *slog.Logger
}

// EnsureDefaults fills in defaults for unset optional fields
func (c *Config) EnsureDefaults() {
	if c.EmulatorHost != "" {
		host := strings.TrimSuffix(c.EmulatorHost, "/")
		if c.Endpoint == "" {
			c.Endpoint = "http://" + host + "/identitytoolkit.googleapis.com/"
		}
		if c.TokenURL == "" {
			c.TokenURL = "http://" + host + "/securetoken.googleapis.com/v1/token"
		}
	}
	if c.Endpoint == "" {
		c.Endpoint = identityToolkitEndpoint
	}
	if !strings.HasSuffix(c.Endpoint, "/") {
		c.Endpoint += "/"
	}
	if c.TokenURL == "" {
		c.TokenURL = secureTokenEndpoint
	}
	if c.RefreshMargin <= 0 {
		c.RefreshMargin = 5 * time.Minute
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}
