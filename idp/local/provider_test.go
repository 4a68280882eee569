package local

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"testing"
	"time"

	ra "github.com/panyam/realtyauth"
	"github.com/panyam/realtyauth/client"
	fsstore "github.com/panyam/realtyauth/stores/fs"
)

func newTestProvider(t *testing.T, path string) (*Provider, *ra.ConsoleEmailSender) {
	t.Helper()
	sender := &ra.ConsoleEmailSender{}
	p, err := NewProvider(Config{
		SecretKey: "test-secret",
		BaseURL:   "http://localhost:8080",
		Path:      path,
	}, fsstore.NewFSTokenStore(t.TempDir()), sender)
	if err != nil {
		t.Fatalf("NewProvider failed: %v", err)
	}
	t.Cleanup(p.Close)
	return p, sender
}

// tokenFromLink pulls the token query parameter out of a verification link
func tokenFromLink(t *testing.T, link string) string {
	t.Helper()
	u, err := url.Parse(link)
	if err != nil {
		t.Fatalf("bad link %q: %v", link, err)
	}
	return u.Query().Get("token")
}

func TestNewProvider_RequiresSecret(t *testing.T) {
	if _, err := NewProvider(Config{}, nil, nil); err == nil {
		t.Fatal("expected an error without a secret key")
	}
}

func TestSignIn(t *testing.T) {
	p, _ := newTestProvider(t, "")
	ctx := context.Background()

	if _, err := p.CreateAccount(ctx, "Alice@Example.com", "secret123"); err != nil {
		t.Fatalf("CreateAccount failed: %v", err)
	}

	tests := []struct {
		name     string
		email    string
		password string
		code     string
	}{
		{"wrong password", "alice@example.com", "nope", client.CodeInvalidCredential},
		{"unknown email", "bob@example.com", "secret123", client.CodeInvalidCredential},
		{"malformed email", "not-an-email", "secret123", client.CodeInvalidEmail},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := p.SignIn(ctx, tt.email, tt.password)
			if code := client.ProviderErrorCode(err); code != tt.code {
				t.Errorf("Expected code %q, got %q (err %v)", tt.code, code, err)
			}
		})
	}

	acct, err := p.SignIn(ctx, "ALICE@example.com", "secret123")
	if err != nil {
		t.Fatalf("SignIn failed: %v", err)
	}
	if acct.Email() != "alice@example.com" {
		t.Errorf("Expected normalized email, got %q", acct.Email())
	}
	if acct.EmailVerified() {
		t.Error("New accounts should not be verified")
	}
	if p.CurrentAccount() == nil {
		t.Error("Expected a current account after SignIn")
	}
}

func TestCreateAccount_Duplicate(t *testing.T) {
	p, _ := newTestProvider(t, "")
	ctx := context.Background()

	if _, err := p.CreateAccount(ctx, "alice@example.com", "secret123"); err != nil {
		t.Fatalf("CreateAccount failed: %v", err)
	}
	if _, err := p.CreateAccount(ctx, "ALICE@example.com", "other123"); err != ra.ErrAccountExists {
		t.Errorf("Expected ErrAccountExists, got %v", err)
	}
}

func TestSignIn_Lockout(t *testing.T) {
	p, _ := newTestProvider(t, "")
	p.cfg.MaxFailedAttempts = 2
	p.cfg.LockoutDuration = time.Hour
	ctx := context.Background()
	p.CreateAccount(ctx, "alice@example.com", "secret123")

	p.SignIn(ctx, "alice@example.com", "bad")
	p.SignIn(ctx, "alice@example.com", "bad")

	_, err := p.SignIn(ctx, "alice@example.com", "secret123")
	if code := client.ProviderErrorCode(err); code != client.CodeTooManyRequests {
		t.Errorf("Expected %q while locked out, got %q", client.CodeTooManyRequests, code)
	}
}

func TestVerifyEmail(t *testing.T) {
	p, sender := newTestProvider(t, "")
	ctx := context.Background()
	p.CreateAccount(ctx, "alice@example.com", "secret123")

	if err := p.SendVerification(ctx, "alice@example.com"); err != nil {
		t.Fatalf("SendVerification failed: %v", err)
	}
	first := tokenFromLink(t, sender.LastLink("alice@example.com"))

	// A resend invalidates the earlier link
	if err := p.SendVerification(ctx, "alice@example.com"); err != nil {
		t.Fatalf("SendVerification failed: %v", err)
	}
	second := tokenFromLink(t, sender.LastLink("alice@example.com"))
	if first == second {
		t.Fatal("Expected a fresh token on resend")
	}
	if err := p.VerifyEmail(first); err == nil {
		t.Error("Expected the superseded token to be rejected")
	}

	acct, err := p.SignIn(ctx, "alice@example.com", "secret123")
	if err != nil {
		t.Fatalf("SignIn failed: %v", err)
	}

	if err := p.VerifyEmail(second); err != nil {
		t.Fatalf("VerifyEmail failed: %v", err)
	}
	if err := p.VerifyEmail(second); err == nil {
		t.Error("Verification tokens should be single use")
	}

	// The account snapshot only changes on Reload
	if acct.EmailVerified() {
		t.Error("Snapshot should not change before Reload")
	}
	if err := acct.Reload(ctx); err != nil {
		t.Fatalf("Reload failed: %v", err)
	}
	if !acct.EmailVerified() {
		t.Error("Expected verified after Reload")
	}
}

func TestVerifyHandler(t *testing.T) {
	p, sender := newTestProvider(t, "")
	ctx := context.Background()
	p.CreateAccount(ctx, "alice@example.com", "secret123")
	p.SendVerification(ctx, "alice@example.com")
	token := tokenFromLink(t, sender.LastLink("alice@example.com"))

	rr := httptest.NewRecorder()
	p.VerifyHandler(rr, httptest.NewRequest(http.MethodGet, "/auth/verify-email?token=bogus", nil))
	if rr.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 for a bogus token, got %d", rr.Code)
	}

	rr = httptest.NewRecorder()
	p.VerifyHandler(rr, httptest.NewRequest(http.MethodGet, "/auth/verify-email?token="+url.QueryEscape(token), nil))
	if rr.Code != http.StatusOK {
		t.Errorf("Expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
}

func TestIDToken_VerifiesWithProviderVerifier(t *testing.T) {
	p, _ := newTestProvider(t, "")
	ctx := context.Background()
	uid, _ := p.CreateAccount(ctx, "alice@example.com", "secret123")
	p.MarkVerified("alice@example.com")

	acct, err := p.SignIn(ctx, "alice@example.com", "secret123")
	if err != nil {
		t.Fatalf("SignIn failed: %v", err)
	}
	token, err := acct.IDToken(ctx, true)
	if err != nil {
		t.Fatalf("IDToken failed: %v", err)
	}

	vt, err := p.Verifier().Verify(ctx, token)
	if err != nil {
		t.Fatalf("Verify failed: %v", err)
	}
	if vt.Subject != uid || vt.Email != "alice@example.com" || !vt.EmailVerified {
		t.Errorf("Unexpected claims: %+v", vt)
	}

	other := &ra.JWTVerifier{SecretKey: "other-secret"}
	if _, err := other.Verify(ctx, token); err == nil {
		t.Error("Expected a verifier with another key to reject the token")
	}
}

func TestOnAuthStateChanged(t *testing.T) {
	p, _ := newTestProvider(t, "")
	ctx := context.Background()
	p.CreateAccount(ctx, "alice@example.com", "secret123")

	events := make(chan client.Account, 10)
	unsubscribe := p.OnAuthStateChanged(func(a client.Account) { events <- a })

	next := func() client.Account {
		t.Helper()
		select {
		case a := <-events:
			return a
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for auth state")
			return nil
		}
	}

	if a := next(); a != nil {
		t.Errorf("Expected initial nil account, got %v", a.Email())
	}

	p.SignIn(ctx, "alice@example.com", "secret123")
	if a := next(); a == nil || a.Email() != "alice@example.com" {
		t.Errorf("Expected sign-in notification, got %v", a)
	}

	p.SignOut(ctx)
	if a := next(); a != nil {
		t.Errorf("Expected sign-out notification, got %v", a.Email())
	}

	// Signing out again is a no-op and not notified
	p.SignOut(ctx)
	unsubscribe()
	p.SignIn(ctx, "alice@example.com", "secret123")

	select {
	case a := <-events:
		t.Errorf("Unexpected notification after unsubscribe: %v", a)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestPersistence_SharedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "accounts.json")
	ctx := context.Background()

	a, _ := newTestProvider(t, path)
	if _, err := a.CreateAccount(ctx, "alice@example.com", "secret123"); err != nil {
		t.Fatalf("CreateAccount failed: %v", err)
	}
	if _, err := a.SignIn(ctx, "alice@example.com", "secret123"); err != nil {
		t.Fatalf("SignIn failed: %v", err)
	}

	// A second process sees the account and the signed in user
	b, _ := newTestProvider(t, path)
	cur := b.CurrentAccount()
	if cur == nil || cur.Email() != "alice@example.com" {
		t.Fatalf("Expected restored current account, got %v", cur)
	}

	// Verification done in one process is visible to the other on Reload
	if err := b.MarkVerified("alice@example.com"); err != nil {
		t.Fatalf("MarkVerified failed: %v", err)
	}
	acct, err := a.SignIn(ctx, "alice@example.com", "secret123")
	if err != nil {
		t.Fatalf("SignIn failed: %v", err)
	}
	if !acct.EmailVerified() {
		t.Error("Expected the verification to be picked up from the file")
	}
}

func TestSeats_AreIndependent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "accounts.json")
	p, _ := newTestProvider(t, path)
	ctx := context.Background()
	p.CreateAccount(ctx, "alice@example.com", "secret123")
	p.CreateAccount(ctx, "bob@example.com", "secret456")

	var _ client.IdentityProvider = p.Seat("visitor-a")

	aliceSeat, bobSeat := p.Seat("visitor-a"), p.Seat("visitor-b")
	defer aliceSeat.Close()
	defer bobSeat.Close()

	bobEvents := make(chan client.Account, 10)
	unsubscribe := bobSeat.OnAuthStateChanged(func(a client.Account) { bobEvents <- a })
	defer unsubscribe()
	<-bobEvents // initial nil

	if _, err := aliceSeat.SignIn(ctx, "alice@example.com", "secret123"); err != nil {
		t.Fatalf("SignIn failed: %v", err)
	}
	if cur := aliceSeat.CurrentAccount(); cur == nil || cur.Email() != "alice@example.com" {
		t.Fatalf("Expected alice on her seat, got %v", cur)
	}
	if cur := bobSeat.CurrentAccount(); cur != nil {
		t.Errorf("Expected bob's seat to stay signed out, got %v", cur.Email())
	}
	if cur := p.CurrentAccount(); cur != nil {
		t.Errorf("Expected the default seat to stay signed out, got %v", cur.Email())
	}
	select {
	case a := <-bobEvents:
		t.Errorf("Unexpected notification on another seat: %v", a)
	case <-time.After(100 * time.Millisecond):
	}

	if _, err := bobSeat.SignIn(ctx, "bob@example.com", "secret456"); err != nil {
		t.Fatalf("SignIn failed: %v", err)
	}
	select {
	case a := <-bobEvents:
		if a == nil || a.Email() != "bob@example.com" {
			t.Errorf("Expected bob's sign-in, got %v", a)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for bob's sign-in")
	}

	if err := aliceSeat.SignOut(ctx); err != nil {
		t.Fatalf("SignOut failed: %v", err)
	}
	if cur := bobSeat.CurrentAccount(); cur == nil || cur.Email() != "bob@example.com" {
		t.Errorf("Expected bob to stay signed in, got %v", cur)
	}

	// Seats survive a restart
	q, _ := newTestProvider(t, path)
	if cur := q.Seat("visitor-b").CurrentAccount(); cur == nil || cur.Email() != "bob@example.com" {
		t.Errorf("Expected bob's seat restored from the file, got %v", cur)
	}
	if cur := q.Seat("visitor-a").CurrentAccount(); cur != nil {
		t.Errorf("Expected alice's seat to be empty after sign-out, got %v", cur.Email())
	}
}

func TestDeleteAccount(t *testing.T) {
	p, _ := newTestProvider(t, filepath.Join(t.TempDir(), "accounts.json"))
	ctx := context.Background()

	uid, err := p.CreateAccount(ctx, "alice@example.com", "secret123")
	if err != nil {
		t.Fatalf("CreateAccount failed: %v", err)
	}
	seat := p.Seat("visitor-a")
	defer seat.Close()
	if _, err := seat.SignIn(ctx, "alice@example.com", "secret123"); err != nil {
		t.Fatalf("SignIn failed: %v", err)
	}

	if err := p.DeleteAccount(ctx, uid); err != nil {
		t.Fatalf("DeleteAccount failed: %v", err)
	}
	if cur := seat.CurrentAccount(); cur != nil {
		t.Errorf("Expected the deleted account signed out, got %v", cur.Email())
	}
	if err := p.DeleteAccount(ctx, uid); err != nil {
		t.Errorf("Deleting an unknown uid should be a no-op, got %v", err)
	}
	if _, err := p.CreateAccount(ctx, "alice@example.com", "secret123"); err != nil {
		t.Errorf("Expected the email to be free again, got %v", err)
	}
}
