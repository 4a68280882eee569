package realtyauth

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
)

type contextKey string

const (
	userContextKey  contextKey = "realtyauth.user"
	tokenContextKey contextKey = "realtyauth.token"
)

// UserFromContext returns the user set by Middleware.RequireUser, or nil
func UserFromContext(ctx context.Context) *User {
	user, _ := ctx.Value(userContextKey).(*User)
	return user
}

// TokenFromContext returns the verified ID token set by Middleware.RequireUser, or nil
func TokenFromContext(ctx context.Context) *VerifiedToken {
	tok, _ := ctx.Value(tokenContextKey).(*VerifiedToken)
	return tok
}

// Middleware authenticates backend requests with the identity provider's ID token
// sent as "Authorization: Bearer <token>".
type Middleware struct {
	Verifier TokenVerifier
	Users    UserStore

	// AuthTokenHeaderName defaults to "Authorization"
	AuthTokenHeaderName string

	Logger *slog.Logger
}

// EnsureReasonableDefaults makes sure config values have reasonable defaults
func (m *Middleware) EnsureReasonableDefaults() {
	if m.AuthTokenHeaderName == "" {
		m.AuthTokenHeaderName = "Authorization"
	}
	if m.Logger == nil {
		m.Logger = slog.Default()
	}
}

// RequireUser rejects requests without a valid, email-verified ID token belonging to a
// known user. The user and token are made available through UserFromContext/TokenFromContext.
func (m *Middleware) RequireUser(next http.Handler) http.Handler {
	m.EnsureReasonableDefaults()
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, tok, err := m.authenticate(r)
		if err != nil {
			m.Logger.Warn("rejecting request", "path", r.URL.Path, "err", err)
			var authErr *AuthError
			if errors.As(err, &authErr) {
				authErr.Write(w)
			} else {
				NewAuthError(ErrCodeInvalidToken, "Authentication required", "").WithStatus(http.StatusUnauthorized).Write(w)
			}
			return
		}
		ctx := context.WithValue(r.Context(), userContextKey, user)
		ctx = context.WithValue(ctx, tokenContextKey, tok)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequireUserType ensures the authenticated user has one of the given types.
// Must be chained after RequireUser.
func (m *Middleware) RequireUserType(types ...UserType) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			user := UserFromContext(r.Context())
			if user == nil {
				NewAuthError(ErrCodeInvalidToken, "Authentication required", "").WithStatus(http.StatusUnauthorized).Write(w)
				return
			}
			if !ContainsUserType(types, user.UserType) {
				NewAuthError(ErrCodeForbidden, "Access Denied", "").WithStatus(http.StatusForbidden).Write(w)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func (m *Middleware) authenticate(r *http.Request) (*User, *VerifiedToken, error) {
	raw := bearerToken(r.Header.Get(m.AuthTokenHeaderName))
	if raw == "" {
		return nil, nil, NewAuthError(ErrCodeInvalidToken, "Authentication required", "").WithStatus(http.StatusUnauthorized)
	}

	tok, err := m.Verifier.Verify(r.Context(), raw)
	if err != nil {
		return nil, nil, NewAuthError(ErrCodeInvalidToken, "Invalid or expired token", "").WithStatus(http.StatusUnauthorized)
	}
	if !tok.EmailVerified {
		return nil, nil, NewAuthError(ErrCodeEmailNotVerified, "Email not verified", "").WithStatus(http.StatusForbidden)
	}

	user, err := m.Users.GetUserByEmail(tok.Email)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return nil, nil, NewAuthError(ErrCodeUserNotFound, "User not found", "").WithStatus(http.StatusNotFound)
		}
		return nil, nil, err
	}
	return user, tok, nil
}

func bearerToken(header string) string {
	header = strings.TrimSpace(header)
	if len(header) > 7 && strings.EqualFold(header[:7], "bearer ") {
		return strings.TrimSpace(header[7:])
	}
	return ""
}
