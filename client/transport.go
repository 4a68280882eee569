package client

import "net/http"

// AuthTransport sends the current session token as a bearer token. Requests
// that already carry an Authorization header go out unchanged.
type AuthTransport struct {
	// Base defaults to http.DefaultTransport
	Base http.RoundTripper

	// Token is called once per request; "" sends the request anonymously
	Token func() string
}

// StaticToken is a Token func for a fixed token, e.g. a service credential
func StaticToken(token string) func() string {
	return func() string { return token }
}

// SessionToken is a Token func that follows the manager's projection. Only an
// authenticated session contributes its token.
func SessionToken(m *SessionManager) func() string {
	return func() string {
		if s := m.Session(); s.IsAuthenticated() {
			return s.SessionToken
		}
		return ""
	}
}

func (t *AuthTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	base := t.Base
	if base == nil {
		base = http.DefaultTransport
	}
	if t.Token == nil || req.Header.Get("Authorization") != "" {
		return base.RoundTrip(req)
	}
	if token := t.Token(); token != "" {
		// RoundTrippers must not modify the caller's request
		req = req.Clone(req.Context())
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return base.RoundTrip(req)
}
