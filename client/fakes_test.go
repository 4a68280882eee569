package client

import (
	"context"
	"sync"

	ra "github.com/panyam/realtyauth"
)

type fakeAccount struct {
	uid      string
	email    string
	verified bool
	token    string

	reloadErr error
	tokenErr  error
}

func (a *fakeAccount) UID() string         { return a.uid }
func (a *fakeAccount) Email() string       { return a.email }
func (a *fakeAccount) EmailVerified() bool { return a.verified }

func (a *fakeAccount) Reload(ctx context.Context) error { return a.reloadErr }

func (a *fakeAccount) IDToken(ctx context.Context, forceRefresh bool) (string, error) {
	if a.tokenErr != nil {
		return "", a.tokenErr
	}
	return a.token, nil
}

type fakeCredential struct {
	password string
	account  *fakeAccount
}

// fakeProvider notifies listeners synchronously from SignIn/SignOut, which
// exercises the manager's re-entrancy handling.
type fakeProvider struct {
	mu        sync.Mutex
	accounts  map[string]*fakeCredential
	current   Account
	listeners map[int]func(Account)
	nextID    int

	// silent suppresses the initial notification on subscribe
	silent bool

	signInErr  error
	signOutErr error
	signIns    int
	signOuts   int
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{
		accounts:  make(map[string]*fakeCredential),
		listeners: make(map[int]func(Account)),
	}
}

func (p *fakeProvider) addAccount(email, password string, verified bool) *fakeAccount {
	p.mu.Lock()
	defer p.mu.Unlock()
	acct := &fakeAccount{uid: "uid-" + email, email: email, verified: verified, token: "token-" + email}
	p.accounts[ra.NormalizeEmail(email)] = &fakeCredential{password: password, account: acct}
	return acct
}

func (p *fakeProvider) SignIn(ctx context.Context, email, password string) (Account, error) {
	p.mu.Lock()
	p.signIns++
	if p.signInErr != nil {
		err := p.signInErr
		p.mu.Unlock()
		return nil, err
	}
	cred, ok := p.accounts[ra.NormalizeEmail(email)]
	if !ok {
		p.mu.Unlock()
		return nil, &ProviderError{Code: CodeUserNotFound}
	}
	if cred.password != password {
		p.mu.Unlock()
		return nil, &ProviderError{Code: CodeWrongPassword}
	}
	p.current = cred.account
	p.mu.Unlock()

	p.emit(cred.account)
	return cred.account, nil
}

func (p *fakeProvider) SignOut(ctx context.Context) error {
	p.mu.Lock()
	p.signOuts++
	if p.signOutErr != nil {
		err := p.signOutErr
		p.mu.Unlock()
		return err
	}
	wasSignedIn := p.current != nil
	p.current = nil
	p.mu.Unlock()

	if wasSignedIn {
		p.emit(nil)
	}
	return nil
}

func (p *fakeProvider) OnAuthStateChanged(listener func(Account)) func() {
	p.mu.Lock()
	id := p.nextID
	p.nextID++
	p.listeners[id] = listener
	current, silent := p.current, p.silent
	p.mu.Unlock()

	if !silent {
		listener(current)
	}
	return func() {
		p.mu.Lock()
		delete(p.listeners, id)
		p.mu.Unlock()
	}
}

// emit notifies every listener as if the provider's state had changed
func (p *fakeProvider) emit(account Account) {
	p.mu.Lock()
	listeners := make([]func(Account), 0, len(p.listeners))
	for _, l := range p.listeners {
		listeners = append(listeners, l)
	}
	p.mu.Unlock()

	for _, l := range listeners {
		l(account)
	}
}

func (p *fakeProvider) setCurrent(account *fakeAccount) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.current = account
}

func (p *fakeProvider) counts() (signIns, signOuts int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.signIns, p.signOuts
}

func (p *fakeProvider) listenerCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.listeners)
}

type fakeBackend struct {
	mu sync.Mutex

	userTypes map[string]ra.UserType

	loginErr   error
	loginPanic bool
	signupResp *ra.SignupResponse
	signupErr  error
	resendErr  error

	logins  []ra.LoginRequest
	signups []SignupPayload
	resends []string
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{userTypes: make(map[string]ra.UserType)}
}

func (b *fakeBackend) Login(ctx context.Context, email, token string) (*ra.LoginResponse, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.logins = append(b.logins, ra.LoginRequest{Email: email, Token: token})
	if b.loginPanic {
		panic("backend exploded")
	}
	if b.loginErr != nil {
		return nil, b.loginErr
	}
	t, ok := b.userTypes[ra.NormalizeEmail(email)]
	if !ok {
		return nil, &BackendError{StatusCode: 404, Code: ra.ErrCodeUserNotFound, Message: "User not found"}
	}
	return &ra.LoginResponse{UserType: t, User: &ra.User{Email: email, UserType: t}}, nil
}

func (b *fakeBackend) Signup(ctx context.Context, req SignupPayload) (*ra.SignupResponse, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.signups = append(b.signups, req)
	if b.signupErr != nil {
		return nil, b.signupErr
	}
	if b.signupResp != nil {
		return b.signupResp, nil
	}
	return &ra.SignupResponse{Success: true, Message: "Account created"}, nil
}

func (b *fakeBackend) ResendVerification(ctx context.Context, email string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.resends = append(b.resends, email)
	return b.resendErr
}

// panicProvider blows up on sign-in
type panicProvider struct {
	*fakeProvider
}

func (p panicProvider) SignIn(ctx context.Context, email, password string) (Account, error) {
	panic("provider exploded")
}

// heldProvider queues notifications while holding and delivers them on
// release, like a provider whose listener goroutine has fallen behind. It
// reports its current account.
type heldProvider struct {
	*fakeProvider

	hmu     sync.Mutex
	holding bool
	held    []func()
}

func (p *heldProvider) OnAuthStateChanged(listener func(Account)) func() {
	return p.fakeProvider.OnAuthStateChanged(func(a Account) {
		p.hmu.Lock()
		if p.holding {
			p.held = append(p.held, func() { listener(a) })
			p.hmu.Unlock()
			return
		}
		p.hmu.Unlock()
		listener(a)
	})
}

func (p *heldProvider) CurrentAccount() Account {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.current
}

func (p *heldProvider) hold() {
	p.hmu.Lock()
	defer p.hmu.Unlock()
	p.holding = true
}

func (p *heldProvider) release() {
	p.hmu.Lock()
	held := p.held
	p.held, p.holding = nil, false
	p.hmu.Unlock()
	for _, deliver := range held {
		deliver()
	}
}
