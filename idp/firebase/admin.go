package firebase

import (
	"context"
	"errors"
	"fmt"
	"sync"

	identitytoolkit "google.golang.org/api/identitytoolkit/v1"

	ra "github.com/panyam/realtyauth"
)

// ErrVerificationUnavailable is returned by Admin.SendVerification when neither
// a service account nor a fresh signup token is available for the email
var ErrVerificationUnavailable = errors.New("firebase: cannot send verification email for this account")

// Admin is the backend's side of Firebase: it creates password accounts and
// sends verification emails.
//
// With a service account (Config.CredentialsFile) Admin requests verification
// links and hands them to the email sender. Without one it asks Firebase to
// mail the link itself, which needs the ID token returned at account creation.
type Admin struct {
	cfg    Config
	svc    *identitytoolkit.Service
	sender ra.SendEmail

	mu      sync.Mutex
	pending map[string]string // normalized email -> ID token from signUp
	signups map[string]string // uid -> normalized email
}

// NewAdmin creates an Admin. sender is only used with a service account.
func NewAdmin(ctx context.Context, cfg Config, sender ra.SendEmail) (*Admin, error) {
	cfg.EnsureDefaults()
	svc, err := newService(ctx, cfg, true)
	if err != nil {
		return nil, fmt.Errorf("firebase: creating identity toolkit client: %w", err)
	}
	return &Admin{cfg: cfg, svc: svc, sender: sender, pending: make(map[string]string), signups: make(map[string]string)}, nil
}

func (a *Admin) serviceAccount() bool {
	return a.cfg.CredentialsFile != "" && a.sender != nil
}

// CreateAccount registers an email/password account
func (a *Admin) CreateAccount(ctx context.Context, email, password string) (string, error) {
	resp, err := a.svc.Accounts.SignUp(&identitytoolkit.GoogleCloudIdentitytoolkitV1SignUpRequest{
		Email:    email,
		Password: password,
	}).Context(ctx).Do()
	if err != nil {
		switch reason(err) {
		case "EMAIL_EXISTS":
			return "", ra.ErrAccountExists
		case "WEAK_PASSWORD":
			return "", ra.NewAuthError(ra.ErrCodeWeakPassword, "Password is too weak", "password")
		case "INVALID_EMAIL":
			return "", ra.NewAuthError(ra.ErrCodeInvalidEmail, "Invalid email format", "email")
		}
		return "", fmt.Errorf("firebase signUp: %w", err)
	}

	if resp.IdToken != "" {
		a.mu.Lock()
		a.pending[ra.NormalizeEmail(email)] = resp.IdToken
		a.signups[resp.LocalId] = ra.NormalizeEmail(email)
		a.mu.Unlock()
	}
	return resp.LocalId, nil
}

// DeleteAccount removes an account. Accounts created by this Admin are deleted
// with their signup token; any other needs a service account.
func (a *Admin) DeleteAccount(ctx context.Context, uid string) error {
	req := &identitytoolkit.GoogleCloudIdentitytoolkitV1DeleteAccountRequest{LocalId: uid}
	a.mu.Lock()
	email, own := a.signups[uid]
	if own {
		if idToken, ok := a.pending[email]; ok {
			req = &identitytoolkit.GoogleCloudIdentitytoolkitV1DeleteAccountRequest{IdToken: idToken}
		}
	}
	a.mu.Unlock()

	if _, err := a.svc.Accounts.Delete(req).Context(ctx).Do(); err != nil {
		if reason(err) == "USER_NOT_FOUND" {
			return nil
		}
		return fmt.Errorf("firebase delete: %w", err)
	}
	if own {
		a.mu.Lock()
		delete(a.pending, email)
		delete(a.signups, uid)
		a.mu.Unlock()
	}
	return nil
}

// SendVerification sends the email verification link for an account
func (a *Admin) SendVerification(ctx context.Context, email string) error {
	req := &identitytoolkit.GoogleCloudIdentitytoolkitV1GetOobCodeRequest{
		RequestType: "VERIFY_EMAIL",
		ContinueUrl: a.cfg.ContinueURL,
	}

	if a.serviceAccount() {
		req.Email = email
		req.ReturnOobLink = true
		resp, err := a.svc.Accounts.SendOobCode(req).Context(ctx).Do()
		if err != nil {
			return fmt.Errorf("firebase sendOobCode: %w", err)
		}
		return a.sender.SendVerificationEmail(email, resp.OobLink)
	}

	a.mu.Lock()
	idToken, ok := a.pending[ra.NormalizeEmail(email)]
	a.mu.Unlock()
	if !ok {
		return ErrVerificationUnavailable
	}

	req.IdToken = idToken
	if _, err := a.svc.Accounts.SendOobCode(req).Context(ctx).Do(); err != nil {
		if r := reason(err); r == "INVALID_ID_TOKEN" || r == "TOKEN_EXPIRED" {
			a.mu.Lock()
			delete(a.pending, ra.NormalizeEmail(email))
			a.mu.Unlock()
			return ErrVerificationUnavailable
		}
		return fmt.Errorf("firebase sendOobCode: %w", err)
	}
	return nil
}
