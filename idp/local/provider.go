// Package local is an in-process identity provider for development and tests.
//
// It keeps email/password accounts (bcrypt hashed), tracks email verification
// through single-use links, mints HS256 ID tokens carrying the email and
// email_verified claims, and notifies subscribers asynchronously on sign-in and
// sign-out. With Config.Path set, accounts and who is signed in are kept in a
// JSON file so a CLI and a dev server can share them.
//
// Sign-in state lives in seats. The Provider itself is the default seat, which
// the CLI uses; Seat(name) gives every web visitor a seat of its own so one
// visitor signing in never signs in another.
//
// The same Provider serves both sides: the client side through
// client.IdentityProvider and the backend through realtyauth.AccountAdmin.
package local

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	ra "github.com/panyam/realtyauth"
	"github.com/panyam/realtyauth/client"
	"github.com/panyam/realtyauth/idp/internal/notify"
)

// Config configures the provider
type Config struct {
	// SecretKey signs ID tokens. Required.
	SecretKey string

	// Issuer and Audience are stamped into ID tokens
	Issuer   string
	Audience string

	// TokenTTL is the lifetime of ID tokens. Defaults to 1 hour.
	TokenTTL time.Duration

	// Path of the JSON file accounts are kept in. Empty keeps them in memory.
	Path string

	// BaseURL verification links point at, e.g. "http://localhost:8080"
	BaseURL string

	// VerifyPath is appended to BaseURL. Defaults to "/auth/verify-email".
	VerifyPath string

	// MaxFailedAttempts before sign-in is refused for LockoutDuration. Defaults to 5.
	MaxFailedAttempts int
	LockoutDuration   time.Duration

	Logger *slog.Logger
}

// EnsureDefaults fills in defaults for unset optional fields
func (c *Config) EnsureDefaults() {
	if c.Issuer == "" {
		c.Issuer = "realtyauth-local"
	}
	if c.TokenTTL <= 0 {
		c.TokenTTL = time.Hour
	}
	if c.VerifyPath == "" {
		c.VerifyPath = "/auth/verify-email"
	}
	if c.MaxFailedAttempts <= 0 {
		c.MaxFailedAttempts = 5
	}
	if c.LockoutDuration <= 0 {
		c.LockoutDuration = time.Minute
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// accountRecord is an account as kept by the provider
type accountRecord struct {
	UID          string    `json:"uid"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"password_hash"`
	Verified     bool      `json:"verified"`
	CreatedAt    time.Time `json:"created_at"`
}

type providerFile struct {
	Accounts map[string]*accountRecord `json:"accounts"`
	Current  string                    `json:"current,omitempty"` // default seat
	Seats    map[string]string         `json:"seats,omitempty"`   // named seats
}

type failedAttempts struct {
	count       int
	lockedUntil time.Time
}

// Provider is the local identity provider
type Provider struct {
	cfg    Config
	tokens ra.VerificationTokenStore
	email  ra.SendEmail

	mu       sync.Mutex
	accounts map[string]*accountRecord // by normalized email
	signedIn map[string]string         // seat -> normalized email
	failures map[string]*failedAttempts
	events   map[string]*notify.Registry // seat -> subscribers
}

// NewProvider creates a provider. tokens and sender are only needed for email
// verification and may be nil otherwise.
func NewProvider(cfg Config, tokens ra.VerificationTokenStore, sender ra.SendEmail) (*Provider, error) {
	cfg.EnsureDefaults()
	if cfg.SecretKey == "" {
		return nil, errors.New("local provider: secret key is required")
	}

	p := &Provider{
		cfg:      cfg,
		tokens:   tokens,
		email:    sender,
		accounts: make(map[string]*accountRecord),
		signedIn: make(map[string]string),
		failures: make(map[string]*failedAttempts),
		events:   map[string]*notify.Registry{"": notify.New()},
	}
	if err := p.load(); err != nil && !os.IsNotExist(err) {
		p.Close()
		return nil, err
	}
	return p, nil
}

// Verifier returns a token verifier accepting the ID tokens this provider mints
func (p *Provider) Verifier() *ra.JWTVerifier {
	return &ra.JWTVerifier{SecretKey: p.cfg.SecretKey, Issuer: p.cfg.Issuer, Audience: p.cfg.Audience}
}

// Close stops notification delivery on every seat
func (p *Provider) Close() {
	p.mu.Lock()
	registries := p.events
	p.events = make(map[string]*notify.Registry)
	p.mu.Unlock()
	for _, r := range registries {
		r.Close()
	}
}

// registry returns the subscribers of a seat, creating them on first use
func (p *Provider) registry(seat string) *notify.Registry {
	p.mu.Lock()
	defer p.mu.Unlock()
	r, ok := p.events[seat]
	if !ok {
		r = notify.New()
		p.events[seat] = r
	}
	return r
}

// Seat is a named sign-in slot. It implements client.IdentityProvider over
// the provider's accounts; signing in on one seat leaves the others alone.
// Seats are persisted with the accounts, so a seat reopened after a restart
// is still signed in.
type Seat struct {
	p    *Provider
	name string
}

// Seat returns the seat called name. The empty name is the default seat.
func (p *Provider) Seat(name string) *Seat {
	return &Seat{p: p, name: name}
}

func (s *Seat) SignIn(ctx context.Context, email, password string) (client.Account, error) {
	return s.p.signIn(s.name, email, password)
}

func (s *Seat) SignOut(ctx context.Context) error {
	return s.p.signOut(s.name)
}

func (s *Seat) OnAuthStateChanged(listener func(client.Account)) func() {
	return s.p.registry(s.name).Subscribe(listener, s.CurrentAccount())
}

// CurrentAccount returns the account signed in on the seat, or nil
func (s *Seat) CurrentAccount() client.Account {
	p := s.p
	p.mu.Lock()
	defer p.mu.Unlock()
	p.loadLocked()
	return p.currentLocked(s.name)
}

// Close stops notification delivery for the seat. Its sign-in is kept.
func (s *Seat) Close() {
	if s.name == "" {
		return
	}
	p := s.p
	p.mu.Lock()
	r, ok := p.events[s.name]
	delete(p.events, s.name)
	p.mu.Unlock()
	if ok {
		r.Close()
	}
}

// =============================================================================
// client.IdentityProvider
// =============================================================================

// SignIn checks the password and makes the account current on the default seat
func (p *Provider) SignIn(ctx context.Context, email, password string) (client.Account, error) {
	return p.signIn("", email, password)
}

func (p *Provider) signIn(seat, email, password string) (client.Account, error) {
	key := ra.NormalizeEmail(email)
	if !ra.IsValidEmail(key) {
		return nil, &client.ProviderError{Code: client.CodeInvalidEmail, Message: "malformed email"}
	}

	p.mu.Lock()
	if err := p.loadLocked(); err != nil {
		p.mu.Unlock()
		return nil, &client.ProviderError{Code: client.CodeInternalError, Err: err}
	}

	if f := p.failures[key]; f != nil && time.Now().Before(f.lockedUntil) {
		p.mu.Unlock()
		return nil, &client.ProviderError{Code: client.CodeTooManyRequests}
	}

	rec, ok := p.accounts[key]
	if !ok || bcrypt.CompareHashAndPassword([]byte(rec.PasswordHash), []byte(password)) != nil {
		p.recordFailureLocked(key)
		p.mu.Unlock()
		return nil, &client.ProviderError{Code: client.CodeInvalidCredential}
	}

	delete(p.failures, key)
	changed := p.signedIn[seat] != key
	p.signedIn[seat] = key
	err := p.saveLocked()
	acct := p.accountLocked(rec)
	p.mu.Unlock()

	if err != nil {
		return nil, &client.ProviderError{Code: client.CodeInternalError, Err: err}
	}
	if changed {
		p.registry(seat).Notify(acct)
	}
	p.cfg.Logger.Debug("signed in", "email", rec.Email, "seat", seat)
	return acct, nil
}

// SignOut clears the default seat. Subscribers are notified asynchronously.
func (p *Provider) SignOut(ctx context.Context) error {
	return p.signOut("")
}

func (p *Provider) signOut(seat string) error {
	p.mu.Lock()
	if err := p.loadLocked(); err != nil {
		p.mu.Unlock()
		return err
	}
	if p.signedIn[seat] == "" {
		p.mu.Unlock()
		return nil
	}
	delete(p.signedIn, seat)
	err := p.saveLocked()
	p.mu.Unlock()

	p.registry(seat).Notify(nil)
	return err
}

// OnAuthStateChanged subscribes to sign-in and sign-out. The current account is
// delivered first.
func (p *Provider) OnAuthStateChanged(listener func(client.Account)) func() {
	return p.Seat("").OnAuthStateChanged(listener)
}

// CurrentAccount returns the account signed in on the default seat, or nil
func (p *Provider) CurrentAccount() client.Account {
	return p.Seat("").CurrentAccount()
}

// currentLocked returns the seat's account as a nil interface when signed out
func (p *Provider) currentLocked(seat string) client.Account {
	email := p.signedIn[seat]
	if email == "" {
		return nil
	}
	rec, ok := p.accounts[email]
	if !ok {
		return nil
	}
	return p.accountLocked(rec)
}

func (p *Provider) accountLocked(rec *accountRecord) *Account {
	return &Account{provider: p, uid: rec.UID, email: rec.Email, verified: rec.Verified}
}

func (p *Provider) recordFailureLocked(key string) {
	f := p.failures[key]
	if f == nil {
		f = &failedAttempts{}
		p.failures[key] = f
	}
	f.count++
	if f.count >= p.cfg.MaxFailedAttempts {
		f.count = 0
		f.lockedUntil = time.Now().Add(p.cfg.LockoutDuration)
		p.cfg.Logger.Warn("too many failed sign-in attempts", "email", key, "until", f.lockedUntil)
	}
}

// mintIDToken issues an ID token for the account's current state
func (p *Provider) mintIDToken(uid, email string, verified bool) (string, error) {
	now := time.Now()
	claims := ra.IDTokenClaims{
		Email:         email,
		EmailVerified: verified,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   uid,
			Issuer:    p.cfg.Issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(p.cfg.TokenTTL)),
			ID:        uuid.NewString(),
		},
	}
	if p.cfg.Audience != "" {
		claims.Audience = jwt.ClaimStrings{p.cfg.Audience}
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(p.cfg.SecretKey))
}

// lookup returns a copy of the account record for an email
func (p *Provider) lookup(email string) (accountRecord, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.loadLocked(); err != nil {
		return accountRecord{}, err
	}
	rec, ok := p.accounts[ra.NormalizeEmail(email)]
	if !ok {
		return accountRecord{}, &client.ProviderError{Code: client.CodeUserNotFound}
	}
	return *rec, nil
}

// =============================================================================
// realtyauth.AccountAdmin
// =============================================================================

// CreateAccount registers a new, unverified account
func (p *Provider) CreateAccount(ctx context.Context, email, password string) (string, error) {
	key := ra.NormalizeEmail(email)
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("failed to hash password: %w", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.loadLocked(); err != nil {
		return "", err
	}
	if _, exists := p.accounts[key]; exists {
		return "", ra.ErrAccountExists
	}

	rec := &accountRecord{
		UID:          uuid.NewString(),
		Email:        key,
		PasswordHash: string(hash),
		CreatedAt:    time.Now(),
	}
	p.accounts[key] = rec
	if err := p.saveLocked(); err != nil {
		delete(p.accounts, key)
		return "", err
	}
	p.cfg.Logger.Info("created account", "email", key, "uid", rec.UID)
	return rec.UID, nil
}

// DeleteAccount removes the account with the given uid and signs it out of
// every seat. Unknown uids are ignored.
func (p *Provider) DeleteAccount(ctx context.Context, uid string) error {
	p.mu.Lock()
	if err := p.loadLocked(); err != nil {
		p.mu.Unlock()
		return err
	}
	var signedOut []string
	var err error
	for key, rec := range p.accounts {
		if rec.UID != uid {
			continue
		}
		delete(p.accounts, key)
		for seat, email := range p.signedIn {
			if email == key {
				delete(p.signedIn, seat)
				signedOut = append(signedOut, seat)
			}
		}
		p.cfg.Logger.Info("deleted account", "email", rec.Email, "uid", uid)
		err = p.saveLocked()
		break
	}
	p.mu.Unlock()

	for _, seat := range signedOut {
		p.registry(seat).Notify(nil)
	}
	return err
}

// SendVerification emails a single-use verification link. Earlier links for
// the same email stop working.
func (p *Provider) SendVerification(ctx context.Context, email string) error {
	if p.tokens == nil || p.email == nil {
		return errors.New("local provider: email verification not configured")
	}
	rec, err := p.lookup(email)
	if err != nil {
		return err
	}
	if rec.Verified {
		return nil
	}

	token, err := p.tokens.IssueToken(rec.Email, ra.VerificationTTL)
	if err != nil {
		return fmt.Errorf("issuing verification token: %w", err)
	}

	link := fmt.Sprintf("%s%s?token=%s", p.cfg.BaseURL, p.cfg.VerifyPath, url.QueryEscape(token.Token))
	return p.email.SendVerificationEmail(rec.Email, link)
}

// VerifyEmail consumes a verification token and marks its account verified
func (p *Provider) VerifyEmail(token string) error {
	if p.tokens == nil {
		return errors.New("local provider: email verification not configured")
	}
	tok, err := p.tokens.ConsumeToken(token)
	if err != nil {
		return fmt.Errorf("verifying email: %w", err)
	}
	return p.MarkVerified(tok.Email)
}

// MarkVerified flags an account's email as verified. Used by VerifyEmail and to
// seed accounts (e.g. admins) out of band.
func (p *Provider) MarkVerified(email string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.loadLocked(); err != nil {
		return err
	}
	rec, ok := p.accounts[ra.NormalizeEmail(email)]
	if !ok {
		return &client.ProviderError{Code: client.CodeUserNotFound}
	}
	rec.Verified = true
	p.cfg.Logger.Info("email verified", "email", rec.Email)
	return p.saveLocked()
}

// =============================================================================
// Persistence
// =============================================================================

func (p *Provider) load() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.loadLocked()
}

// loadLocked re-reads the accounts file so changes made by other processes
// (e.g. a verification link opened against the dev server) are picked up
func (p *Provider) loadLocked() error {
	if p.cfg.Path == "" {
		return nil
	}
	data, err := os.ReadFile(p.cfg.Path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	var file providerFile
	if err := json.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("failed to parse accounts file: %w", err)
	}
	if file.Accounts == nil {
		file.Accounts = make(map[string]*accountRecord)
	}
	p.accounts = file.Accounts
	p.signedIn = make(map[string]string, len(file.Seats)+1)
	for seat, email := range file.Seats {
		p.signedIn[seat] = email
	}
	if file.Current != "" {
		p.signedIn[""] = file.Current
	}
	return nil
}

func (p *Provider) saveLocked() error {
	if p.cfg.Path == "" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(p.cfg.Path), 0700); err != nil {
		return err
	}
	file := providerFile{Accounts: p.accounts, Current: p.signedIn[""]}
	for seat, email := range p.signedIn {
		if seat == "" {
			continue
		}
		if file.Seats == nil {
			file.Seats = make(map[string]string)
		}
		file.Seats[seat] = email
	}
	data, err := json.MarshalIndent(file, "", "  ")
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(filepath.Dir(p.cfg.Path), ".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to write to temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), p.cfg.Path)
}

// VerifyHandler serves verification links: GET ?token=...
func (p *Provider) VerifyHandler(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	if token == "" {
		http.Error(w, "Missing token", http.StatusBadRequest)
		return
	}
	if err := p.VerifyEmail(token); err != nil {
		p.cfg.Logger.Info("email verification failed", "err", err)
		http.Error(w, "Invalid or expired verification link", http.StatusBadRequest)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	fmt.Fprintln(w, "Email verified. You can now log in.")
}

var (
	_ client.IdentityProvider = (*Provider)(nil)
	_ client.IdentityProvider = (*Seat)(nil)
	_ client.AccountReporter  = (*Seat)(nil)
)
