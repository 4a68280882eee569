package ui

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/alexedwards/scs/v2"
	"github.com/gorilla/mux"

	ra "github.com/panyam/realtyauth"
	"github.com/panyam/realtyauth/client"
	"github.com/panyam/realtyauth/guard"
)

// SessionManager is everything the front end uses from the session manager.
// *client.SessionManager is one.
type SessionManager interface {
	Auth
	guard.Source
	guard.ProfileInitializer
}

// ManagerFactory opens the session manager of one visitor. The manager lives
// past the request that opened it, so ctx carries values but no deadline.
type ManagerFactory func(ctx context.Context, visitor string) (SessionManager, error)

// Server is the web front end: the auth dialogs as JSON endpoints, the
// session projection, and the guarded areas.
//
// Every browser is a visitor with a session manager of its own. The visitor id
// lives in the scs session and is handed out on the first auth action, so
// browsing without one is simply anonymous.
type Server struct {
	NewManager ManagerFactory
	Sessions   *scs.SessionManager

	// IdleTimeout closes the manager of a visitor not seen for this long.
	// Defaults to 30 minutes. The visitor's session survives in its store.
	IdleTimeout time.Duration

	// VerifyEmail serves verification links when the identity provider hands
	// them out itself (the local provider does)
	VerifyEmail http.Handler

	// Areas maps each guarded area to its page. Missing areas get a placeholder.
	Areas map[ra.UserType]http.Handler

	Logger *slog.Logger

	flash  *guard.FlashNotifier
	guards map[ra.UserType]*guard.Guard
	router *mux.Router

	mu       sync.Mutex
	visitors map[string]*visitor
}

// NewServer creates a front end opening visitor managers with newManager
func NewServer(newManager ManagerFactory) *Server {
	return (&Server{NewManager: newManager}).EnsureDefaults()
}

// EnsureDefaults fills in defaults for unset optional fields
func (s *Server) EnsureDefaults() *Server {
	if s.Sessions == nil {
		s.Sessions = scs.New()
	}
	if s.Logger == nil {
		s.Logger = slog.Default()
	}
	if s.IdleTimeout <= 0 {
		s.IdleTimeout = 30 * time.Minute
	}
	if s.visitors == nil {
		s.visitors = make(map[string]*visitor)
	}
	if s.flash == nil {
		s.flash = &guard.FlashNotifier{Sessions: s.Sessions}
	}
	if s.guards == nil {
		s.guards = map[ra.UserType]*guard.Guard{
			ra.UserTypeAdmin:   guard.NewAdminGuard(s.flash),
			ra.UserTypeBroker:  guard.NewAreaGuard(ra.UserTypeBroker, s.flash),
			ra.UserTypeBuilder: guard.NewBuilderGuard(nil, s.flash),
			ra.UserTypeUser:    guard.NewAreaGuard(ra.UserTypeUser, s.flash),
		}
	}
	return s
}

// Guard returns the guard of an area
func (s *Server) Guard(t ra.UserType) *guard.Guard {
	s.EnsureDefaults()
	return s.guards[t]
}

// Handler returns the router wrapped in session handling
func (s *Server) Handler() http.Handler {
	return s.Sessions.LoadAndSave(s.withVisitor(s.setupRoutes().router))
}

// Close closes the manager of every visitor
func (s *Server) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, v := range s.visitors {
		closeManager(v.manager)
		delete(s.visitors, id)
	}
}

func (s *Server) setupRoutes() *Server {
	if s.router != nil {
		return s
	}
	s.EnsureDefaults()

	r := mux.NewRouter()
	r.HandleFunc("/", s.HandleHome).Methods(http.MethodGet)
	r.HandleFunc("/session", s.HandleSession).Methods(http.MethodGet)

	auth := r.PathPrefix("/auth").Subrouter()
	auth.HandleFunc("/login", s.HandleLogin).Methods(http.MethodPost)
	auth.HandleFunc("/signup", s.HandleSignup).Methods(http.MethodPost)
	auth.HandleFunc("/resend-verification", s.HandleResend).Methods(http.MethodPost)
	auth.HandleFunc("/logout", s.HandleLogout).Methods(http.MethodPost)
	if s.VerifyEmail != nil {
		auth.Handle("/verify-email", s.VerifyEmail).Methods(http.MethodGet)
	}

	for _, t := range ra.AllUserTypes() {
		g := s.guards[t]
		page := s.Areas[t]
		if page == nil {
			page = areaPlaceholder(t)
		}
		area := "/" + string(t)
		guarded := g.MiddlewareFunc(s.source)(page)
		r.Handle(area+"/events", g.EventsFunc(s.source)).Methods(http.MethodGet)
		r.Handle(area, guarded).Methods(http.MethodGet)
		r.PathPrefix(area + "/").Handler(guarded).Methods(http.MethodGet)
	}

	s.router = r
	return s
}

// SessionView is the JSON form of the session projection
type SessionView struct {
	State           string      `json:"state"`
	IsAuthenticated bool        `json:"isAuthenticated"`
	UserType        ra.UserType `json:"userType,omitempty"`
	UserEmail       string      `json:"userEmail,omitempty"`
	Loading         bool        `json:"loading"`
}

func viewOf(sess client.Session) SessionView {
	v := SessionView{State: sess.State.String(), IsAuthenticated: sess.IsAuthenticated(), Loading: sess.Loading}
	// Provisional values are not shown until the session settles
	if v.IsAuthenticated {
		v.UserType = sess.UserType
		v.UserEmail = sess.UserEmail
	}
	return v
}

// HandleHome shows the session and any pending flash message
func (s *Server) HandleHome(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"session": viewOf(s.source(r).Session()),
		"flash":   s.flash.Pop(r),
	})
}

// HandleSession returns the session projection
func (s *Server) HandleSession(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, viewOf(s.source(r).Session()))
}

// HandleLogin submits the login dialog
func (s *Server) HandleLogin(w http.ResponseWriter, r *http.Request) {
	var form LoginForm
	if !decodeForm(w, r, &form) {
		return
	}
	m, done, ok := s.visitorManager(w, r)
	if !ok {
		return
	}
	defer done()
	out := form.Submit(r.Context(), m)
	if out.Success {
		// New identity, new session token
		if err := s.Sessions.RenewToken(r.Context()); err != nil {
			s.Logger.Warn("could not renew session token", "err", err)
		}
	}
	writeOutcome(w, out)
}

// HandleSignup submits the signup dialog
func (s *Server) HandleSignup(w http.ResponseWriter, r *http.Request) {
	var form SignupForm
	if !decodeForm(w, r, &form) {
		return
	}
	m, done, ok := s.visitorManager(w, r)
	if !ok {
		return
	}
	defer done()
	writeOutcome(w, form.Submit(r.Context(), m))
}

// HandleResend is the verification prompt's resend action
func (s *Server) HandleResend(w http.ResponseWriter, r *http.Request) {
	var prompt VerificationPrompt
	if !decodeForm(w, r, &prompt) {
		return
	}
	m, done, ok := s.visitorManager(w, r)
	if !ok {
		return
	}
	defer done()
	writeOutcome(w, prompt.Resend(r.Context(), m))
}

// HandleLogout logs out and returns the settled projection
func (s *Server) HandleLogout(w http.ResponseWriter, r *http.Request) {
	src := s.source(r)
	if m, ok := src.(SessionManager); ok {
		m.Logout(r.Context())
	}
	if err := s.Sessions.RenewToken(r.Context()); err != nil {
		s.Logger.Warn("could not renew session token", "err", err)
	}
	writeJSON(w, http.StatusOK, viewOf(src.Session()))
}

func areaPlaceholder(t ra.UserType) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		fmt.Fprintf(w, "<!doctype html><title>%s</title><h1>%s area</h1>\n", t, strings.ToUpper(string(t[:1]))+string(t[1:]))
	})
}

// decodeForm reads a JSON or form encoded body into v
func decodeForm(w http.ResponseWriter, r *http.Request, v any) bool {
	if strings.HasPrefix(r.Header.Get("Content-Type"), "application/x-www-form-urlencoded") {
		if err := r.ParseForm(); err != nil {
			writeJSON(w, http.StatusBadRequest, Outcome{Message: "Invalid request body", Kind: "validation"})
			return false
		}
		fields := make(map[string]string, len(r.PostForm))
		for k := range r.PostForm {
			fields[k] = r.PostForm.Get(k)
		}
		data, _ := json.Marshal(fields)
		if err := json.Unmarshal(data, v); err != nil {
			writeJSON(w, http.StatusBadRequest, Outcome{Message: "Invalid request body", Kind: "validation"})
			return false
		}
		return true
	}
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeJSON(w, http.StatusBadRequest, Outcome{Message: "Invalid request body", Kind: "validation"})
		return false
	}
	return true
}

// writeOutcome renders an outcome. Failures are still 200: the dialog shows
// the message inline.
func writeOutcome(w http.ResponseWriter, out Outcome) {
	writeJSON(w, http.StatusOK, out)
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}
