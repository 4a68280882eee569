package ui

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	ra "github.com/panyam/realtyauth"
	"github.com/panyam/realtyauth/client"
)

// fakeManager records calls and answers with canned results
type fakeManager struct {
	mu      sync.Mutex
	session client.Session

	loginResult  client.Result
	signupResult client.Result
	resendResult client.Result

	// userTypes, when set, decides logins: known emails succeed with their
	// type and everything else is rejected
	userTypes map[string]ra.UserType

	logins   []string
	signups  []client.SignupPayload
	resends  []string
	logouts  int
	profiles []client.Profile
	closed   int
}

func (f *fakeManager) Session() client.Session {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.session
}

func (f *fakeManager) Watch(ctx context.Context) <-chan client.Session {
	ch := make(chan client.Session, 1)
	ch <- f.Session()
	go func() {
		<-ctx.Done()
		close(ch)
	}()
	return ch
}

func (f *fakeManager) Login(ctx context.Context, email, password string) client.Result {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.logins = append(f.logins, email)
	if f.userTypes != nil {
		ut, ok := f.userTypes[email]
		if !ok {
			return client.Result{Kind: client.KindInvalidCredentials, Message: client.MsgInvalidCredentials}
		}
		f.session = client.Session{State: client.StateAuthenticated, UserType: ut, UserEmail: email}
		return client.Result{Success: true, UserType: ut, Email: email}
	}
	if f.loginResult.Success {
		f.session = client.Session{State: client.StateAuthenticated, UserType: f.loginResult.UserType, UserEmail: email}
	}
	return f.loginResult
}

func (f *fakeManager) Signup(ctx context.Context, payload client.SignupPayload) client.Result {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.signups = append(f.signups, payload)
	return f.signupResult
}

func (f *fakeManager) ResendVerification(ctx context.Context, email string) client.Result {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resends = append(f.resends, email)
	return f.resendResult
}

func (f *fakeManager) Logout(ctx context.Context) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.logouts++
	f.session = client.Session{State: client.StateAnonymous}
}

func (f *fakeManager) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed++
}

func (f *fakeManager) EnsureProfile(def client.Profile) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.profiles = append(f.profiles, def)
	return true, nil
}

func TestLoginForm_RequiredFields(t *testing.T) {
	m := &fakeManager{}
	for _, f := range []LoginForm{{}, {Email: "a@example.com"}, {Password: "secret"}, {Email: "   ", Password: "x"}} {
		out := f.Submit(context.Background(), m)
		assert.False(t, out.Success)
		assert.Equal(t, MsgFillAllFields, out.Message)
		assert.Equal(t, DialogLogin, out.Dialog)
	}
	assert.Empty(t, m.logins, "invalid forms must not reach the session manager")
}

func TestLoginForm_Success(t *testing.T) {
	m := &fakeManager{loginResult: client.Result{Success: true, UserType: ra.UserTypeBroker, Email: "b@example.com"}}
	out := LoginForm{Email: " b@example.com ", Password: "secret123"}.Submit(context.Background(), m)

	assert.True(t, out.Success)
	assert.True(t, out.Close)
	assert.Equal(t, "/broker", out.Navigate)
	assert.Equal(t, []string{"b@example.com"}, m.logins)
}

func TestLoginForm_Failures(t *testing.T) {
	m := &fakeManager{loginResult: client.Result{Kind: client.KindInvalidCredentials, Message: client.MsgInvalidCredentials}}
	out := LoginForm{Email: "b@example.com", Password: "bad"}.Submit(context.Background(), m)
	assert.False(t, out.Success)
	assert.False(t, out.Close)
	assert.Equal(t, client.MsgInvalidCredentials, out.Message)
	assert.Equal(t, DialogLogin, out.Dialog)

	m.loginResult = client.Result{Kind: client.KindEmailNotVerified, Message: client.MsgEmailNotVerified}
	out = LoginForm{Email: "b@example.com", Password: "secret123"}.Submit(context.Background(), m)
	assert.Equal(t, client.MsgEmailNotVerified, out.Message)
	assert.Equal(t, DialogVerification, out.Dialog)
	assert.Equal(t, "b@example.com", out.Email)
}

func TestSignupForm_Validate(t *testing.T) {
	valid := SignupForm{Name: "Bo", Email: "bo@example.com", Password: "secret123", ConfirmPassword: "secret123", UserType: ra.UserTypeUser}

	tests := []struct {
		name   string
		modify func(f *SignupForm)
		want   string
	}{
		{"valid user", func(f *SignupForm) {}, ""},
		{"missing name", func(f *SignupForm) { f.Name = "" }, MsgFillAllFields},
		{"missing confirmation", func(f *SignupForm) { f.ConfirmPassword = "" }, MsgFillAllFields},
		{"missing type", func(f *SignupForm) { f.UserType = "" }, MsgFillAllFields},
		{"passwords differ", func(f *SignupForm) { f.ConfirmPassword = "other123" }, MsgPasswordsDiffer},
		{"builder without company", func(f *SignupForm) { f.UserType = ra.UserTypeBuilder }, MsgCompanyRequired},
		{"builder with company", func(f *SignupForm) { f.UserType = ra.UserTypeBuilder; f.CompanyName = "Acme" }, ""},
		{"broker without license", func(f *SignupForm) { f.UserType = ra.UserTypeBroker; f.CompanyName = "Acme" }, MsgLicenseRequired},
		{"broker with license", func(f *SignupForm) { f.UserType = ra.UserTypeBroker; f.LicenseNumber = "L-1" }, ""},
		{"admin", func(f *SignupForm) { f.UserType = ra.UserTypeAdmin }, MsgInvalidUserType},
		{"unknown type", func(f *SignupForm) { f.UserType = "landlord" }, MsgInvalidUserType},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := valid
			tt.modify(&f)
			assert.Equal(t, tt.want, f.Validate())
		})
	}
}

func TestSignupForm_PayloadOnlyCarriesRoleField(t *testing.T) {
	f := SignupForm{
		Name: "Bo", Email: "bo@example.com", Password: "secret123", ConfirmPassword: "secret123",
		UserType: "Builder", CompanyName: " Acme ", LicenseNumber: "ignored",
	}
	p := f.Payload()
	assert.Equal(t, ra.UserTypeBuilder, p.UserType)
	assert.Equal(t, "Acme", p.CompanyName)
	assert.Empty(t, p.LicenseNumber)
}

func TestSignupForm_SuccessShowsVerification(t *testing.T) {
	m := &fakeManager{signupResult: client.Result{Success: true, Message: client.MsgSignupSucceeded, RequiresVerification: true, Email: "bo@example.com"}}
	f := SignupForm{Name: "Bo", Email: "bo@example.com", Password: "secret123", ConfirmPassword: "secret123", UserType: ra.UserTypeUser}

	out := f.Submit(context.Background(), m)
	assert.True(t, out.Success)
	assert.True(t, out.ShowVerification)
	assert.False(t, out.Close, "signup keeps the dialog open")
	assert.Equal(t, "bo@example.com", out.Email)
	assert.Empty(t, m.logins, "signup never logs in")

	next := SwitchToLogin(out.Email)
	assert.Equal(t, DialogLogin, next.Dialog)
	assert.Equal(t, "bo@example.com", next.Email)
}

func TestSignupForm_BackendMessage(t *testing.T) {
	m := &fakeManager{signupResult: client.Result{Kind: client.KindBackendRejected, Message: "Email is already registered"}}
	f := SignupForm{Name: "Bo", Email: "bo@example.com", Password: "secret123", ConfirmPassword: "secret123", UserType: ra.UserTypeUser}

	out := f.Submit(context.Background(), m)
	assert.False(t, out.Success)
	assert.Equal(t, "Email is already registered", out.Message)
	assert.Equal(t, "backend_rejected", out.Kind)
}

func TestVerificationPrompt(t *testing.T) {
	m := &fakeManager{resendResult: client.Result{Success: true, Message: client.MsgResendSucceeded}}
	p := VerificationPrompt{Email: "bo@example.com"}

	out := p.Resend(context.Background(), m)
	assert.True(t, out.Success)
	assert.Equal(t, client.MsgResendSucceeded, out.Message)
	assert.Equal(t, []string{"bo@example.com"}, m.resends)

	out = VerificationPrompt{}.Resend(context.Background(), m)
	assert.Equal(t, MsgEmailRequired, out.Message)
	assert.Len(t, m.resends, 1)

	assert.Equal(t, DialogLogin, p.GoToLogin().Dialog)
}

// fakeVisitors opens a fresh fakeManager per visitor and remembers them
type fakeVisitors struct {
	mu      sync.Mutex
	newFake func() *fakeManager
	byID    map[string]*fakeManager
	opened  []string
}

func newFakeVisitors(newFake func() *fakeManager) *fakeVisitors {
	return &fakeVisitors{newFake: newFake, byID: make(map[string]*fakeManager)}
}

func (f *fakeVisitors) open(ctx context.Context, id string) (SessionManager, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	m := f.newFake()
	f.byID[id] = m
	f.opened = append(f.opened, id)
	return m, nil
}

// managers returns the managers opened so far in opening order
func (f *fakeVisitors) managers() []*fakeManager {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*fakeManager, 0, len(f.opened))
	for _, id := range f.opened {
		out = append(out, f.byID[id])
	}
	return out
}

// staffDirectory logs anyone in under the user type their email names
func staffDirectory() *fakeManager {
	return &fakeManager{
		session: client.Session{State: client.StateAnonymous},
		userTypes: map[string]ra.UserType{
			"root@example.com":    ra.UserTypeAdmin,
			"user@example.com":    ra.UserTypeUser,
			"builder@example.com": ra.UserTypeBuilder,
			"broker@example.com":  ra.UserTypeBroker,
		},
	}
}

// browser is one visitor: its own cookie jar, redirects not followed
type browser struct {
	t    *testing.T
	base string
	c    *http.Client
}

func newBrowser(t *testing.T, srv *httptest.Server) *browser {
	t.Helper()
	jar, err := cookiejar.New(nil)
	require.NoError(t, err)
	return &browser{t: t, base: srv.URL, c: &http.Client{
		Jar: jar,
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}}
}

func (b *browser) do(req *http.Request) (int, http.Header, []byte) {
	b.t.Helper()
	resp, err := b.c.Do(req)
	require.NoError(b.t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(b.t, err)
	return resp.StatusCode, resp.Header, body
}

func (b *browser) get(path string) (int, http.Header, []byte) {
	b.t.Helper()
	req, err := http.NewRequest(http.MethodGet, b.base+path, nil)
	require.NoError(b.t, err)
	return b.do(req)
}

func (b *browser) postJSON(path string, body any) (int, []byte) {
	b.t.Helper()
	data, err := json.Marshal(body)
	require.NoError(b.t, err)
	req, err := http.NewRequest(http.MethodPost, b.base+path, strings.NewReader(string(data)))
	require.NoError(b.t, err)
	req.Header.Set("Content-Type", "application/json")
	code, _, out := b.do(req)
	return code, out
}

func (b *browser) login(email string) Outcome {
	b.t.Helper()
	code, body := b.postJSON("/auth/login", LoginForm{Email: email, Password: "secret123"})
	require.Equal(b.t, http.StatusOK, code)
	var out Outcome
	require.NoError(b.t, json.Unmarshal(body, &out))
	return out
}

func (b *browser) session() SessionView {
	b.t.Helper()
	code, _, body := b.get("/session")
	require.Equal(b.t, http.StatusOK, code)
	var view SessionView
	require.NoError(b.t, json.Unmarshal(body, &view))
	return view
}

func newTestServer(t *testing.T, visitors *fakeVisitors) (*Server, *httptest.Server) {
	t.Helper()
	s := NewServer(visitors.open)
	srv := httptest.NewServer(s.Handler())
	t.Cleanup(func() {
		srv.Close()
		s.Close()
	})
	return s, srv
}

func TestServer_LoginAndSession(t *testing.T) {
	_, srv := newTestServer(t, newFakeVisitors(staffDirectory))
	alice := newBrowser(t, srv)

	out := alice.login("root@example.com")
	assert.True(t, out.Success)
	assert.Equal(t, "/admin", out.Navigate)

	view := alice.session()
	assert.True(t, view.IsAuthenticated)
	assert.Equal(t, ra.UserTypeAdmin, view.UserType)

	code, _, body := alice.get("/admin")
	assert.Equal(t, http.StatusOK, code)
	assert.Contains(t, string(body), "Admin area")
}

// TestServer_StrangerDoesNotInheritSession covers a second browser arriving
// while an admin is signed in: it must not see or enter the admin's session.
func TestServer_StrangerDoesNotInheritSession(t *testing.T) {
	visitors := newFakeVisitors(staffDirectory)
	_, srv := newTestServer(t, visitors)
	admin, stranger := newBrowser(t, srv), newBrowser(t, srv)

	require.True(t, admin.login("root@example.com").Success)

	assert.False(t, stranger.session().IsAuthenticated)
	code, header, _ := stranger.get("/admin")
	assert.Equal(t, http.StatusFound, code)
	assert.Equal(t, "/", header.Get("Location"))

	// Browsing never makes a visitor, so only the admin has a manager
	assert.Len(t, visitors.managers(), 1)

	code, _, _ = admin.get("/admin")
	assert.Equal(t, http.StatusOK, code)
}

func TestServer_TwoVisitors(t *testing.T) {
	visitors := newFakeVisitors(staffDirectory)
	_, srv := newTestServer(t, visitors)
	alice, bob := newBrowser(t, srv), newBrowser(t, srv)

	require.True(t, alice.login("root@example.com").Success)
	require.True(t, bob.login("user@example.com").Success)
	require.Len(t, visitors.managers(), 2)

	assert.Equal(t, ra.UserTypeAdmin, alice.session().UserType)
	assert.Equal(t, ra.UserTypeUser, bob.session().UserType)

	code, _, _ := bob.get("/admin")
	assert.Equal(t, http.StatusFound, code)
	code, _, _ = bob.get("/user")
	assert.Equal(t, http.StatusOK, code)

	// Bob logging out leaves alice signed in
	code, _ = bob.postJSON("/auth/logout", nil)
	require.Equal(t, http.StatusOK, code)
	assert.False(t, bob.session().IsAuthenticated)
	assert.True(t, alice.session().IsAuthenticated)

	ms := visitors.managers()
	assert.Equal(t, 0, ms[0].logouts)
	assert.Equal(t, 1, ms[1].logouts)
}

func TestServer_FormEncodedLogin(t *testing.T) {
	visitors := newFakeVisitors(func() *fakeManager {
		return &fakeManager{loginResult: client.Result{Kind: client.KindInvalidCredentials, Message: client.MsgInvalidCredentials}}
	})
	s := NewServer(visitors.open)
	h := s.Handler()
	defer s.Close()

	form := url.Values{"email": {"a@example.com"}, "password": {"bad"}}
	req := httptest.NewRequest(http.MethodPost, "/auth/login", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	var out Outcome
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &out))
	assert.False(t, out.Success)
	assert.Equal(t, client.MsgInvalidCredentials, out.Message)
	ms := visitors.managers()
	require.Len(t, ms, 1)
	assert.Equal(t, []string{"a@example.com"}, ms[0].logins)
}

func TestServer_GuardedAreaRedirectsWithFlash(t *testing.T) {
	_, srv := newTestServer(t, newFakeVisitors(staffDirectory))
	b := newBrowser(t, srv)
	require.True(t, b.login("user@example.com").Success)

	code, header, _ := b.get("/admin")
	require.Equal(t, http.StatusFound, code)
	assert.Equal(t, "/", header.Get("Location"))

	code, _, body := b.get("/")
	require.Equal(t, http.StatusOK, code)
	var home struct {
		Flash string `json:"flash"`
	}
	require.NoError(t, json.Unmarshal(body, &home))
	assert.Equal(t, "Access Denied", home.Flash)
}

func TestServer_BuilderAreaInitialisesProfile(t *testing.T) {
	visitors := newFakeVisitors(staffDirectory)
	_, srv := newTestServer(t, visitors)
	b := newBrowser(t, srv)
	require.True(t, b.login("builder@example.com").Success)

	code, _, _ := b.get("/builder/projects")
	assert.Equal(t, http.StatusOK, code)
	ms := visitors.managers()
	require.Len(t, ms, 1)
	require.Len(t, ms[0].profiles, 1)
	assert.Equal(t, ra.UserTypeBuilder, ms[0].profiles[0].UserType)
	assert.Equal(t, "builder@example.com", ms[0].profiles[0].Email)
}

func TestServer_Logout(t *testing.T) {
	visitors := newFakeVisitors(staffDirectory)
	_, srv := newTestServer(t, visitors)
	b := newBrowser(t, srv)
	require.True(t, b.login("user@example.com").Success)

	code, body := b.postJSON("/auth/logout", nil)
	require.Equal(t, http.StatusOK, code)

	var view SessionView
	require.NoError(t, json.Unmarshal(body, &view))
	assert.False(t, view.IsAuthenticated)
	assert.Equal(t, "anonymous", view.State)
	assert.Equal(t, 1, visitors.managers()[0].logouts)

	// Logging out without ever signing in is harmless
	stranger := newBrowser(t, srv)
	code, body = stranger.postJSON("/auth/logout", nil)
	require.Equal(t, http.StatusOK, code)
	require.NoError(t, json.Unmarshal(body, &view))
	assert.Equal(t, "anonymous", view.State)
	assert.Len(t, visitors.managers(), 1)
}

func TestServer_IdleVisitorsAreClosed(t *testing.T) {
	visitors := newFakeVisitors(staffDirectory)
	s := NewServer(visitors.open)
	s.IdleTimeout = 50 * time.Millisecond
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()
	defer s.Close()

	first := newBrowser(t, srv)
	require.True(t, first.login("user@example.com").Success)
	time.Sleep(100 * time.Millisecond)

	second := newBrowser(t, srv)
	require.True(t, second.login("root@example.com").Success)

	ms := visitors.managers()
	require.Len(t, ms, 2)
	assert.Equal(t, 1, ms[0].closed, "the idle visitor's manager is closed")
	assert.Equal(t, 0, ms[1].closed)
	assert.Equal(t, 1, s.VisitorCount())

	// The first visitor comes back and gets its manager reopened
	first.session()
	assert.Len(t, visitors.managers(), 3)
	assert.Equal(t, 2, s.VisitorCount())
}
