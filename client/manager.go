package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	ra "github.com/panyam/realtyauth"
)

const (
	defaultRequestTimeout = 30 * time.Second
	defaultSignOutTimeout = 10 * time.Second
)

// ManagerOption configures a SessionManager
type ManagerOption func(*SessionManager)

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) ManagerOption {
	return func(m *SessionManager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// WithSignOutTimeout bounds the forced sign-outs the manager issues on its own
func WithSignOutTimeout(d time.Duration) ManagerOption {
	return func(m *SessionManager) {
		if d > 0 {
			m.signOutTimeout = d
		}
	}
}

// WithBaseTransport sets the transport wrapped by HTTPClient
func WithBaseTransport(t http.RoundTripper) ManagerOption {
	return func(m *SessionManager) {
		m.baseTransport = t
	}
}

// SessionManager reconciles the identity provider, the SessionStore and the
// backend into one Session projection.
//
// All state is owned by a single reducer goroutine that applies events one at a
// time: provider notifications, login commits, logouts. Provider notifications
// raised while an event is being applied (e.g. by a forced sign-out) are queued
// behind it, never interleaved.
//
// Optimistic transitions (login, failed login, logout) bump an epoch. Provider
// notifications are stamped with the epoch current when they arrive and are
// dropped if a newer optimistic transition has happened since, so a late
// notification cannot undo a login or logout. Providers implementing
// AccountReporter are also asked who is signed in, which catches notifications
// delivered late enough to carry a current stamp.
type SessionManager struct {
	provider IdentityProvider
	backend  Backend
	store    SessionStore

	logger         *slog.Logger
	signOutTimeout time.Duration
	baseTransport  http.RoundTripper

	// Owned by the reducer goroutine
	state reducerState

	// Mirrors state.epoch for stamping notifications from other goroutines
	epoch atomic.Uint64

	mailbox mailbox
	stop    chan struct{}
	stopped chan struct{}

	mu       sync.RWMutex
	current  Session
	watchers map[chan Session]struct{}

	unsubscribe func()
	closeOnce   sync.Once
}

type reducerState struct {
	session Session
	record  sessionRecord
	epoch   uint64

	loginsInFlight int
	deferred       []authEvent
}

type authEvent struct {
	account Account
	stamp   uint64
}

// NewSessionManager reads the persisted session into a provisional projection,
// starts the reducer and subscribes to the provider. The returned manager
// starts Loading until the provider reports its current state.
func NewSessionManager(provider IdentityProvider, backend Backend, store SessionStore, opts ...ManagerOption) *SessionManager {
	m := &SessionManager{
		provider:       provider,
		backend:        backend,
		store:          store,
		logger:         slog.Default(),
		signOutTimeout: defaultSignOutTimeout,
		baseTransport:  http.DefaultTransport,
		stop:           make(chan struct{}),
		stopped:        make(chan struct{}),
		watchers:       make(map[chan Session]struct{}),
	}
	m.mailbox.notify = make(chan struct{}, 1)
	for _, opt := range opts {
		opt(m)
	}

	rec, err := readRecord(store)
	if err != nil {
		m.logger.Warn("could not read persisted session", "err", err)
	}
	m.state.record = rec
	m.state.session = Session{
		State:     StateUnknown,
		UserType:  rec.UserType,
		UserEmail: rec.UserEmail,
		Loading:   true,
	}
	m.current = m.state.session

	go m.run()
	m.unsubscribe = provider.OnAuthStateChanged(m.onAuthStateChanged)
	return m
}

// Session returns the current projection
func (m *SessionManager) Session() Session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// Watch returns a channel carrying the latest projection. The current one is
// delivered immediately. Slow readers only ever see the newest value. The
// channel is closed when ctx is done or the manager is closed.
func (m *SessionManager) Watch(ctx context.Context) <-chan Session {
	ch := make(chan Session, 1)

	m.mu.Lock()
	ch <- m.current
	select {
	case <-m.stopped:
		m.mu.Unlock()
		close(ch)
		return ch
	default:
	}
	m.watchers[ch] = struct{}{}
	m.mu.Unlock()

	go func() {
		select {
		case <-ctx.Done():
		case <-m.stopped:
		}
		m.mu.Lock()
		if _, ok := m.watchers[ch]; ok {
			delete(m.watchers, ch)
			close(ch)
		}
		m.mu.Unlock()
	}()
	return ch
}

// WaitSettled blocks until the projection is no longer Loading
func (m *SessionManager) WaitSettled(ctx context.Context) (Session, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	for s := range m.Watch(ctx) {
		if !s.Loading {
			return s, nil
		}
	}
	if err := ctx.Err(); err != nil {
		return m.Session(), err
	}
	return m.Session(), errors.New("session manager closed")
}

// Login signs in at the provider, insists on a verified email, and asks the
// backend for the user's type. On success the session is persisted and the
// projection is Authenticated before Login returns. Any failure clears the
// session.
func (m *SessionManager) Login(ctx context.Context, email, password string) Result {
	if !m.do(func(s *reducerState) { s.loginsInFlight++ }) {
		return failure(KindNetworkOrUnknown, MsgLoginFailed)
	}
	defer m.do(m.endLogin)

	rec, res := m.attemptLogin(ctx, email, password)
	if !res.Success {
		m.logger.Info("login failed", "email", email, "kind", res.Kind)
		m.do(func(s *reducerState) {
			m.bumpEpoch(s)
			m.clearSession(s)
			s.session = anonymousSession(s.epoch)
		})
		return res
	}

	var commitErr error
	m.do(func(s *reducerState) {
		m.bumpEpoch(s)
		if commitErr = writeRecord(m.store, rec); commitErr != nil {
			m.clearSession(s)
			s.session = anonymousSession(s.epoch)
			return
		}
		s.record = rec
		s.session = authenticatedSession(rec, s.epoch)
	})
	if commitErr != nil {
		m.logger.Error("could not persist session", "email", email, "err", commitErr)
		return failure(KindNetworkOrUnknown, MsgLoginFailed)
	}

	m.logger.Info("user logged in", "email", rec.UserEmail, "userType", rec.UserType)
	return Result{Success: true, UserType: rec.UserType, Email: rec.UserEmail}
}

// attemptLogin runs the provider and backend steps of a login. Panics in any
// collaborator are reported as KindNetworkOrUnknown.
func (m *SessionManager) attemptLogin(ctx context.Context, email, password string) (rec sessionRecord, res Result) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("panic during login", "email", email, "panic", r)
			rec, res = sessionRecord{}, failure(KindNetworkOrUnknown, MsgLoginFailed)
		}
	}()

	account, err := m.provider.SignIn(ctx, email, password)
	if err != nil {
		m.logger.Debug("provider sign-in failed", "email", email, "err", err)
		return rec, loginFailure(err)
	}
	if account == nil {
		return rec, failure(KindNetworkOrUnknown, MsgLoginFailed)
	}

	if err := account.Reload(ctx); err != nil {
		m.logger.Warn("could not reload account", "email", email, "err", err)
		return rec, failure(KindNetworkOrUnknown, MsgLoginFailed)
	}
	if !account.EmailVerified() {
		if err := m.provider.SignOut(ctx); err != nil {
			m.logger.Warn("could not sign out unverified account", "email", email, "err", err)
		}
		return rec, failure(KindEmailNotVerified, MsgEmailNotVerified)
	}

	token, err := account.IDToken(ctx, true)
	if err != nil {
		m.logger.Warn("could not get ID token", "email", email, "err", err)
		return rec, failure(KindNetworkOrUnknown, MsgLoginFailed)
	}

	resp, err := m.backend.Login(ctx, email, token)
	if err != nil {
		var berr *BackendError
		if errors.As(err, &berr) {
			msg := berr.Message
			if msg == "" {
				msg = MsgLoginFailed
			}
			return rec, failure(KindBackendRejected, msg)
		}
		m.logger.Warn("backend login failed", "email", email, "err", err)
		return rec, failure(KindNetworkOrUnknown, MsgLoginFailed)
	}
	if resp == nil || !resp.UserType.Valid() {
		return rec, failure(KindBackendRejected, MsgLoginFailed)
	}

	userEmail := account.Email()
	if userEmail == "" {
		userEmail = email
	}
	return sessionRecord{
		Authenticated: true,
		UserType:      resp.UserType,
		UserEmail:     userEmail,
		Token:         token,
	}, Result{Success: true}
}

func (m *SessionManager) endLogin(s *reducerState) {
	s.loginsInFlight--
	if s.loginsInFlight > 0 || len(s.deferred) == 0 {
		return
	}
	deferred := s.deferred
	s.deferred = nil
	for _, ev := range deferred {
		m.applyAuthState(s, ev)
	}
}

// Signup registers an account with the backend. It never changes the session:
// the new user has to verify their email and log in.
func (m *SessionManager) Signup(ctx context.Context, payload SignupPayload) (res Result) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("panic during signup", "email", payload.Email, "panic", r)
			res = failure(KindNetworkOrUnknown, MsgSignupFailed)
		}
	}()

	resp, err := m.backend.Signup(ctx, payload)
	if err != nil {
		var berr *BackendError
		if errors.As(err, &berr) && berr.Message != "" {
			return failure(KindBackendRejected, berr.Message)
		}
		m.logger.Warn("signup failed", "email", payload.Email, "err", err)
		return failure(KindNetworkOrUnknown, MsgSignupFailed)
	}
	if resp == nil || !resp.Success {
		msg := MsgSignupFailed
		if resp != nil && resp.Message != "" {
			msg = resp.Message
		} else if resp != nil && resp.Error != "" {
			msg = resp.Error
		}
		return failure(KindBackendRejected, msg)
	}

	msg := resp.Message
	if msg == "" {
		msg = MsgSignupSucceeded
	}
	return Result{Success: true, Message: msg, RequiresVerification: true, Email: payload.Email}
}

// ResendVerification asks the backend to send the verification email again
func (m *SessionManager) ResendVerification(ctx context.Context, email string) Result {
	if err := m.backend.ResendVerification(ctx, email); err != nil {
		var berr *BackendError
		if errors.As(err, &berr) && berr.Message != "" {
			return failure(KindBackendRejected, berr.Message)
		}
		m.logger.Warn("resend verification failed", "email", email, "err", err)
		return failure(KindNetworkOrUnknown, MsgResendFailed)
	}
	return Result{Success: true, Message: MsgResendSucceeded, Email: email}
}

// Logout clears the session immediately and then signs out at the provider.
// Provider failures are only logged. Calling it repeatedly is harmless.
func (m *SessionManager) Logout(ctx context.Context) {
	m.do(func(s *reducerState) {
		m.bumpEpoch(s)
		m.clearSession(s)
		s.session = anonymousSession(s.epoch)
	})
	if err := m.provider.SignOut(ctx); err != nil {
		m.logger.Warn("provider sign-out failed", "err", err)
	}
}

// PendingUpload reports the flag features set to resume an upload after login
func (m *SessionManager) PendingUpload() bool {
	v, _, err := m.store.Get(KeyPendingUpload)
	if err != nil {
		m.logger.Warn("could not read pending upload flag", "err", err)
	}
	return v == "true"
}

// SetPendingUpload sets or clears the pending upload flag
func (m *SessionManager) SetPendingUpload(pending bool) error {
	var err error
	if !m.do(func(s *reducerState) {
		if pending {
			err = m.store.Set(KeyPendingUpload, "true")
		} else {
			err = m.store.Remove(KeyPendingUpload)
		}
		if err == nil {
			err = m.store.Save()
		}
	}) {
		return errors.New("session manager closed")
	}
	return err
}

// Profile is the per-user record kept next to the session, e.g. a builder's
// default listing profile.
type Profile struct {
	Email       string      `json:"email"`
	UserType    ra.UserType `json:"userType"`
	DisplayName string      `json:"displayName,omitempty"`
	CompanyName string      `json:"companyName,omitempty"`
	Bio         string      `json:"bio,omitempty"`
	Listings    []string    `json:"listings"`
	CreatedAt   time.Time   `json:"createdAt"`
}

// Profile returns the stored profile, or nil if there is none
func (m *SessionManager) Profile() (*Profile, error) {
	v, ok, err := m.store.Get(KeyProfile)
	if err != nil || !ok || v == "" {
		return nil, err
	}
	var p Profile
	if err := json.Unmarshal([]byte(v), &p); err != nil {
		return nil, fmt.Errorf("corrupt profile: %w", err)
	}
	return &p, nil
}

// EnsureProfile stores def as the profile of the authenticated user unless one
// already exists for them. It is a no-op unless the session is authenticated
// as def.UserType. Returns true if a profile was written.
func (m *SessionManager) EnsureProfile(def Profile) (bool, error) {
	var created bool
	var err error
	ok := m.do(func(s *reducerState) {
		sess := s.session
		if !sess.IsAuthenticated() || sess.UserType != def.UserType {
			return
		}
		if v, found, gerr := m.store.Get(KeyProfile); gerr == nil && found {
			var existing Profile
			if json.Unmarshal([]byte(v), &existing) == nil &&
				existing.UserType == sess.UserType &&
				ra.NormalizeEmail(existing.Email) == ra.NormalizeEmail(sess.UserEmail) {
				return
			}
		}

		def.Email = sess.UserEmail
		if def.CreatedAt.IsZero() {
			def.CreatedAt = time.Now()
		}
		if def.Listings == nil {
			def.Listings = []string{}
		}
		data, merr := json.Marshal(def)
		if merr != nil {
			err = merr
			return
		}
		if err = m.store.Set(KeyProfile, string(data)); err == nil {
			err = m.store.Save()
		}
		created = err == nil
	})
	if !ok {
		return false, errors.New("session manager closed")
	}
	if created {
		m.logger.Info("initialised default profile", "email", def.Email, "userType", def.UserType)
	}
	return created, err
}

// HTTPClient returns a client that sends the session token as a bearer token
func (m *SessionManager) HTTPClient() *http.Client {
	return &http.Client{
		Timeout: defaultRequestTimeout,
		Transport: &AuthTransport{Base: m.baseTransport, Token: SessionToken(m)},
	}
}

// Close unsubscribes from the provider and stops the reducer. The persisted
// session is left untouched.
func (m *SessionManager) Close() {
	m.closeOnce.Do(func() {
		if m.unsubscribe != nil {
			m.unsubscribe()
		}
		close(m.stop)
		<-m.stopped
	})
}

// onAuthStateChanged is the provider listener. It may be called from any
// goroutine, including the reducer's own (during a forced sign-out), so it only
// enqueues.
func (m *SessionManager) onAuthStateChanged(account Account) {
	ev := authEvent{account: account, stamp: m.epoch.Load()}
	m.mailbox.push(func() {
		m.applyAuthState(&m.state, ev)
		m.publish()
	})
}

func (m *SessionManager) applyAuthState(s *reducerState, ev authEvent) {
	if ev.stamp < s.epoch {
		m.logger.Debug("dropping stale auth state notification", "stamp", ev.stamp, "epoch", s.epoch)
		return
	}
	if m.superseded(ev.account) {
		m.logger.Debug("dropping auth state notification the provider has moved past", "epoch", s.epoch)
		return
	}

	account := ev.account
	switch {
	case account == nil:
		m.clearSession(s)
		s.session = anonymousSession(s.epoch)

	case !account.EmailVerified():
		if s.claimsAuthenticated() {
			m.logger.Info("signing out unverified account", "email", account.Email())
			m.clearSession(s)
			s.session = Session{State: StateUnknown, Loading: true, Epoch: s.epoch}
			if err := m.forceSignOut(); err != nil {
				s.session = anonymousSession(s.epoch)
			}
		} else {
			m.clearSession(s)
			s.session = anonymousSession(s.epoch)
		}

	case s.loginsInFlight > 0:
		// Decided once the login finishes, by which time it is normally stale
		s.deferred = append(s.deferred, ev)

	default:
		rec := s.record
		if fresh, err := readRecord(m.store); err != nil {
			m.logger.Warn("could not re-read persisted session, using cached copy", "err", err)
		} else {
			rec = fresh
		}

		if rec.matches(account.Email()) {
			s.record = rec
			s.session = authenticatedSession(rec, s.epoch)
			return
		}

		m.logger.Warn("persisted session does not match provider account, signing out",
			"kind", KindSessionMismatch, "providerEmail", account.Email(), "storedEmail", rec.UserEmail)
		m.clearSession(s)
		s.session = anonymousSession(s.epoch)
		m.forceSignOut()
	}
}

// superseded reports whether the provider's current account disagrees with a
// notification. The notification for the current state is then already applied
// or still queued.
func (m *SessionManager) superseded(account Account) bool {
	r, ok := m.provider.(AccountReporter)
	if !ok {
		return false
	}
	cur := r.CurrentAccount()
	switch {
	case account == nil:
		return cur != nil
	case cur == nil:
		return true
	}
	return ra.NormalizeEmail(cur.Email()) != ra.NormalizeEmail(account.Email())
}

// claimsAuthenticated is true if the projection, provisional or settled, says
// someone is logged in
func (s *reducerState) claimsAuthenticated() bool {
	if s.session.State == StateAuthenticated {
		return true
	}
	return s.session.State == StateUnknown && s.record.Authenticated
}

func (m *SessionManager) forceSignOut() error {
	ctx, cancel := context.WithTimeout(context.Background(), m.signOutTimeout)
	defer cancel()
	err := m.provider.SignOut(ctx)
	if err != nil {
		m.logger.Warn("forced sign-out failed", "err", err)
	}
	return err
}

func (m *SessionManager) clearSession(s *reducerState) {
	if err := clearRecord(m.store); err != nil {
		m.logger.Error("could not clear persisted session", "err", err)
	}
	s.record = sessionRecord{}
}

func (m *SessionManager) bumpEpoch(s *reducerState) {
	s.epoch++
	m.epoch.Store(s.epoch)
}

// do applies fn on the reducer goroutine and waits for it, including the
// publication of the resulting projection. Returns false if the manager is closed.
// Must not be called from the reducer goroutine.
func (m *SessionManager) do(fn func(*reducerState)) bool {
	done := make(chan struct{})
	m.mailbox.push(func() {
		fn(&m.state)
		m.publish()
		close(done)
	})
	select {
	case <-done:
		return true
	case <-m.stopped:
		return false
	}
}

func (m *SessionManager) run() {
	defer close(m.stopped)
	for {
		select {
		case <-m.stop:
			return
		case <-m.mailbox.notify:
			for _, fn := range m.mailbox.drain() {
				fn()
			}
		}
	}
}

// publish makes the reducer's projection visible and wakes watchers if it changed
func (m *SessionManager) publish() {
	next := m.state.session
	next.Epoch = m.state.epoch
	if next.State != StateUnknown {
		next.Loading = false
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if next == m.current {
		return
	}
	m.current = next
	for ch := range m.watchers {
		select {
		case <-ch:
		default:
		}
		ch <- next
	}
}

// mailbox is an unbounded FIFO of reducer events. Pushing never blocks so
// provider listeners can enqueue from inside the reducer.
type mailbox struct {
	mu     sync.Mutex
	queue  []func()
	notify chan struct{}
}

func (mb *mailbox) push(fn func()) {
	mb.mu.Lock()
	mb.queue = append(mb.queue, fn)
	mb.mu.Unlock()
	select {
	case mb.notify <- struct{}{}:
	default:
	}
}

func (mb *mailbox) drain() []func() {
	mb.mu.Lock()
	defer mb.mu.Unlock()
	q := mb.queue
	mb.queue = nil
	return q
}
