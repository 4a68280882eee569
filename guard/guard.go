// Package guard protects areas of the front end by user type.
//
// A Guard evaluates the session projection and decides whether to wait (the
// session is still loading), deny (notify and redirect home) or allow. Guards
// evaluate on every request through Middleware and on every projection change
// through Events, so a logout while a protected page is open sends it home.
package guard

import (
	"context"
	"log/slog"
	"net/http"

	ra "github.com/panyam/realtyauth"
	"github.com/panyam/realtyauth/client"
)

// Source provides the session projection. *client.SessionManager is one.
type Source interface {
	Session() client.Session
	Watch(ctx context.Context) <-chan client.Session
}

// SourceFunc picks the session projection serving a request. A front end with
// one session per visitor resolves it from the visitor's cookie.
type SourceFunc func(r *http.Request) Source

// Predicate decides whether a settled session may enter
type Predicate func(client.Session) bool

// AdminOnly admits sessions whose user type is admin
func AdminOnly() Predicate {
	return func(s client.Session) bool {
		return s.UserType == ra.UserTypeAdmin
	}
}

// RequireUserType admits authenticated sessions of user type t
func RequireUserType(t ra.UserType) Predicate {
	return func(s client.Session) bool {
		return s.IsAuthenticated() && s.UserType == t
	}
}

// Decision is the outcome of evaluating a guard
type Decision int

const (
	DecisionWait Decision = iota
	DecisionDeny
	DecisionAllow
)

func (d Decision) String() string {
	switch d {
	case DecisionWait:
		return "wait"
	case DecisionDeny:
		return "deny"
	case DecisionAllow:
		return "allow"
	}
	return "invalid"
}

// Notifier tells the user why they were sent away
type Notifier interface {
	Notify(r *http.Request, message string)
}

// Guard protects one area
type Guard struct {
	Name  string
	Allow Predicate

	// RedirectTo is where denied requests are sent. Defaults to "/".
	RedirectTo string

	// Message shown on denial. Defaults to "Access Denied".
	Message string

	Notifier Notifier

	// OnAllow runs before the protected handler is entered, with the source
	// the session came from. Errors are logged and do not block entry.
	OnAllow func(ctx context.Context, src Source, s client.Session) error

	// Placeholder is served while the session is loading. Defaults to a short
	// "Loading..." page that refreshes itself.
	Placeholder http.Handler

	Logger *slog.Logger
}

// EnsureDefaults fills in defaults for unset optional fields
func (g *Guard) EnsureDefaults() *Guard {
	if g.RedirectTo == "" {
		g.RedirectTo = "/"
	}
	if g.Message == "" {
		g.Message = "Access Denied"
	}
	if g.Placeholder == nil {
		g.Placeholder = http.HandlerFunc(loadingPlaceholder)
	}
	if g.Logger == nil {
		g.Logger = slog.Default()
	}
	if g.Allow == nil {
		g.Allow = func(client.Session) bool { return false }
	}
	return g
}

// Evaluate decides what to do with a session. Loading sessions are never
// judged: their provisional user type may still change.
func (g *Guard) Evaluate(s client.Session) Decision {
	if s.Loading {
		return DecisionWait
	}
	if g.Allow != nil && g.Allow(s) {
		return DecisionAllow
	}
	return DecisionDeny
}

// Middleware guards next with the session from src
func (g *Guard) Middleware(src Source) func(http.Handler) http.Handler {
	return g.MiddlewareFunc(func(*http.Request) Source { return src })
}

// MiddlewareFunc guards next with the session of whatever source resolve
// picks for the request
func (g *Guard) MiddlewareFunc(resolve SourceFunc) func(http.Handler) http.Handler {
	g.EnsureDefaults()
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			src := resolve(r)
			s := src.Session()
			switch g.Evaluate(s) {
			case DecisionWait:
				g.Placeholder.ServeHTTP(w, r)
			case DecisionDeny:
				g.deny(w, r, s)
			case DecisionAllow:
				g.allow(r.Context(), src, s)
				next.ServeHTTP(w, r)
			}
		})
	}
}

func (g *Guard) deny(w http.ResponseWriter, r *http.Request, s client.Session) {
	g.Logger.Info("guard denied access", "guard", g.Name, "path", r.URL.Path, "state", s.State, "userType", s.UserType)
	if g.Notifier != nil {
		g.Notifier.Notify(r, g.Message)
	}
	http.Redirect(w, r, g.RedirectTo, http.StatusFound)
}

func (g *Guard) allow(ctx context.Context, src Source, s client.Session) {
	if g.OnAllow == nil {
		return
	}
	if err := g.OnAllow(ctx, src, s); err != nil {
		g.Logger.Warn("guard entry hook failed", "guard", g.Name, "err", err)
	}
}

func loadingPlaceholder(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("Refresh", "1")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("<!doctype html><title>Loading</title><p>Loading...</p>\n"))
}
