package firebase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"sync"

	"golang.org/x/oauth2"
	identitytoolkit "google.golang.org/api/identitytoolkit/v1"
	"google.golang.org/api/option"

	"github.com/panyam/realtyauth/client"
	"github.com/panyam/realtyauth/idp/internal/notify"
)

// Provider signs users in with Firebase email/password accounts
type Provider struct {
	cfg   Config
	svc   *identitytoolkit.Service
	oauth *oauth2.Config

	mu      sync.Mutex
	current *Account

	events *notify.Registry
}

// persistedAccount is what Config.Path holds
type persistedAccount struct {
	UID           string `json:"uid"`
	Email         string `json:"email"`
	EmailVerified bool   `json:"email_verified"`
	RefreshToken  string `json:"refresh_token"`
}

// NewProvider creates a provider, restoring the account kept at cfg.Path
func NewProvider(ctx context.Context, cfg Config) (*Provider, error) {
	cfg.EnsureDefaults()
	if cfg.APIKey == "" && cfg.EmulatorHost == "" && cfg.HTTPClient == nil {
		return nil, errors.New("firebase: API key is required")
	}

	svc, err := newService(ctx, cfg, false)
	if err != nil {
		return nil, fmt.Errorf("firebase: creating identity toolkit client: %w", err)
	}

	tokenURL := cfg.TokenURL
	if cfg.APIKey != "" {
		tokenURL += "?key=" + url.QueryEscape(cfg.APIKey)
	}

	p := &Provider{
		cfg: cfg,
		svc: svc,
		oauth: &oauth2.Config{
			Endpoint: oauth2.Endpoint{TokenURL: tokenURL, AuthStyle: oauth2.AuthStyleInParams},
		},
		events: notify.New(),
	}
	if err := p.restore(); err != nil {
		cfg.Logger.Warn("firebase: could not restore signed in account", "path", cfg.Path, "err", err)
	}
	return p, nil
}

func newService(ctx context.Context, cfg Config, admin bool) (*identitytoolkit.Service, error) {
	opts := []option.ClientOption{option.WithEndpoint(cfg.Endpoint)}
	switch {
	case cfg.HTTPClient != nil:
		opts = append(opts, option.WithHTTPClient(cfg.HTTPClient))
	case admin && cfg.CredentialsFile != "":
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	case cfg.APIKey != "":
		opts = append(opts, option.WithAPIKey(cfg.APIKey))
	default:
		// The emulator accepts any key
		opts = append(opts, option.WithAPIKey("emulator"))
	}
	return identitytoolkit.NewService(ctx, opts...)
}

// Close stops notification delivery
func (p *Provider) Close() {
	p.events.Close()
}

// SignIn checks the password with Firebase and makes the account current.
// The account's verification state is looked up before returning.
func (p *Provider) SignIn(ctx context.Context, email, password string) (client.Account, error) {
	resp, err := p.svc.Accounts.SignInWithPassword(&identitytoolkit.GoogleCloudIdentitytoolkitV1SignInWithPasswordRequest{
		Email:             email,
		Password:          password,
		ReturnSecureToken: true,
	}).Context(ctx).Do()
	if err != nil {
		return nil, providerError(err)
	}

	acct := &Account{
		provider:     p,
		uid:          resp.LocalId,
		email:        resp.Email,
		refreshToken: resp.RefreshToken,
	}
	acct.setIDToken(resp.IdToken)
	if err := acct.Reload(ctx); err != nil {
		return nil, err
	}

	p.mu.Lock()
	p.current = acct
	p.mu.Unlock()
	p.persist(acct)

	p.events.Notify(acct)
	return acct, nil
}

// SignOut forgets the current account. Firebase keeps no server side session
// for password sign-ins, so this never fails remotely.
func (p *Provider) SignOut(ctx context.Context) error {
	p.mu.Lock()
	had := p.current != nil
	p.current = nil
	p.mu.Unlock()
	if !had {
		return nil
	}

	var err error
	if p.cfg.Path != "" {
		if rerr := os.Remove(p.cfg.Path); rerr != nil && !os.IsNotExist(rerr) {
			err = rerr
		}
	}
	p.events.Notify(nil)
	return err
}

// OnAuthStateChanged subscribes to sign-in and sign-out, starting with the
// current account
func (p *Provider) OnAuthStateChanged(listener func(client.Account)) func() {
	return p.events.Subscribe(listener, p.CurrentAccount())
}

// CurrentAccount returns the signed in account, or nil
func (p *Provider) CurrentAccount() client.Account {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.current == nil {
		return nil
	}
	return p.current
}

// tokenRefreshed tells subscribers about a fresh ID token of the signed in
// account. Refreshes of other accounts are not announced.
func (p *Provider) tokenRefreshed(acct *Account) {
	p.mu.Lock()
	current := p.current == acct
	p.mu.Unlock()
	if current {
		p.events.Notify(acct)
	}
}

func (p *Provider) lookup(ctx context.Context, idToken string) (*identitytoolkit.GoogleCloudIdentitytoolkitV1UserInfo, error) {
	resp, err := p.svc.Accounts.Lookup(&identitytoolkit.GoogleCloudIdentitytoolkitV1GetAccountInfoRequest{
		IdToken: idToken,
	}).Context(ctx).Do()
	if err != nil {
		return nil, providerError(err)
	}
	if len(resp.Users) == 0 {
		return nil, &client.ProviderError{Code: client.CodeUserNotFound}
	}
	return resp.Users[0], nil
}

// refresh exchanges a refresh token for a new ID token
func (p *Provider) refresh(ctx context.Context, refreshToken string) (*oauth2.Token, error) {
	if p.cfg.HTTPClient != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, p.cfg.HTTPClient)
	}
	tok, err := p.oauth.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken}).Token()
	if err != nil {
		return nil, providerError(err)
	}
	return tok, nil
}

// persist writes the account to cfg.Path if it is still the current one
func (p *Provider) persist(acct *Account) {
	if p.cfg.Path == "" {
		return
	}
	p.mu.Lock()
	current := p.current == acct
	p.mu.Unlock()
	if !current {
		return
	}

	acct.mu.Lock()
	rec := persistedAccount{
		UID:           acct.uid,
		Email:         acct.email,
		EmailVerified: acct.verified,
		RefreshToken:  acct.refreshToken,
	}
	acct.mu.Unlock()

	if err := writeFile(p.cfg.Path, rec); err != nil {
		p.cfg.Logger.Warn("firebase: could not persist account", "path", p.cfg.Path, "err", err)
	}
}

func (p *Provider) restore() error {
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
	var rec persistedAccount
	if err := json.Unmarshal(data, &rec); err != nil {
		return err
	}
	if rec.RefreshToken == "" {
		return nil
	}

	p.current = &Account{
		provider:     p,
		uid:          rec.UID,
		email:        rec.Email,
		verified:     rec.EmailVerified,
		refreshToken: rec.RefreshToken,
	}
	return nil
}

func writeFile(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return err
	}
	if err := tmp.Chmod(0600); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), path)
}

var _ client.AccountReporter = (*Provider)(nil)
