package realtyauth

import (
	"log/slog"
	"net/http"

	"github.com/gorilla/mux"
)

// Backend serves the auth endpoints the marketplace front-end talks to:
//
//	POST /api/auth/login                {email, token} -> {userType, user}
//	POST /api/auth/signup               SignupRequest  -> {success, message}
//	POST /api/auth/resend-verification  {email}        -> {success, message}
//	GET  /api/auth/me                   bearer ID token -> User
//	GET  /api/users                     bearer ID token of an admin -> [User]
type Backend struct {
	router *mux.Router

	// Must be passed in
	Users    UserStore
	Accounts AccountAdmin
	Verifier TokenVerifier

	// SignupPolicy defaults to DefaultSignupPolicy()
	SignupPolicy *SignupPolicy

	// Optional hooks for logging/analytics
	OnLoginSuccess func(user *User, r *http.Request)
	OnLoginFailure func(email string, r *http.Request, err error)

	// Prefix all routes are mounted under. Defaults to "/api"
	PathPrefix string

	Logger *slog.Logger

	middleware *Middleware
}

// NewBackend creates a backend with the required collaborators
func NewBackend(users UserStore, accounts AccountAdmin, verifier TokenVerifier) *Backend {
	return (&Backend{Users: users, Accounts: accounts, Verifier: verifier}).EnsureDefaults()
}

// EnsureDefaults fills in defaults for unset optional fields
func (b *Backend) EnsureDefaults() *Backend {
	if b.Logger == nil {
		b.Logger = slog.Default()
	}
	if b.PathPrefix == "" {
		b.PathPrefix = "/api"
	}
	if b.middleware == nil {
		b.middleware = &Middleware{Verifier: b.Verifier, Users: b.Users, Logger: b.Logger}
	}
	return b
}

// Middleware returns the bearer token middleware used by the protected routes
func (b *Backend) Middleware() *Middleware {
	b.EnsureDefaults()
	return b.middleware
}

// Handler returns the router serving all backend routes
func (b *Backend) Handler() http.Handler {
	return b.setupRoutes().router
}

func (b *Backend) setupRoutes() *Backend {
	if b.router != nil {
		return b
	}
	b.EnsureDefaults()

	r := mux.NewRouter()
	api := r.PathPrefix(b.PathPrefix).Subrouter()

	auth := api.PathPrefix("/auth").Subrouter()
	auth.HandleFunc("/login", b.HandleLogin).Methods(http.MethodPost)
	auth.HandleFunc("/signup", b.HandleSignup).Methods(http.MethodPost)
	auth.HandleFunc("/resend-verification", b.HandleResendVerification).Methods(http.MethodPost)
	auth.Handle("/me", b.middleware.RequireUser(http.HandlerFunc(b.HandleMe))).Methods(http.MethodGet)

	admin := b.middleware.RequireUserType(UserTypeAdmin)
	api.Handle("/users", b.middleware.RequireUser(admin(http.HandlerFunc(b.HandleListUsers)))).Methods(http.MethodGet)

	r.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		NewAuthError(ErrCodeInvalidRequest, "Method not allowed", "").WithStatus(http.StatusMethodNotAllowed).Write(w)
	})

	b.router = r
	return b
}

// HandleMe returns the user record of the bearer
func (b *Backend) HandleMe(w http.ResponseWriter, r *http.Request) {
	user := UserFromContext(r.Context())
	if user == nil {
		NewAuthError(ErrCodeInvalidToken, "Authentication required", "").WithStatus(http.StatusUnauthorized).Write(w)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

// HandleListUsers lists the user directory, optionally filtered by ?userType=
func (b *Backend) HandleListUsers(w http.ResponseWriter, r *http.Request) {
	var filter UserType
	if q := r.URL.Query().Get("userType"); q != "" {
		t, err := ParseUserType(q)
		if err != nil {
			NewAuthError(ErrCodeInvalidUserType, "Invalid user type", "userType").Write(w)
			return
		}
		filter = t
	}

	users, err := b.Users.ListUsers(filter)
	if err != nil {
		b.Logger.Error("error listing users", "err", err)
		NewAuthError(ErrCodeServerError, "Failed to list users", "").WithStatus(http.StatusInternalServerError).Write(w)
		return
	}
	if users == nil {
		users = []*User{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"users": users})
}
