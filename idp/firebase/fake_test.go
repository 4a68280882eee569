package firebase

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	ra "github.com/panyam/realtyauth"
)

const fakeSecret = "fake-toolkit-secret"

type fakeUser struct {
	uid      string
	email    string
	password string
	verified bool
}

// fakeToolkit serves the Identity Toolkit and Secure Token endpoints the
// binding uses
type fakeToolkit struct {
	mu       sync.Mutex
	users    map[string]*fakeUser // by email
	refresh  map[string]string    // refresh token -> email
	oob      []map[string]any
	refreshN int

	// forced error reason for the next signInWithPassword
	signInReason string
}

func newFakeToolkit(t *testing.T) (*fakeToolkit, Config) {
	t.Helper()
	f := &fakeToolkit{users: make(map[string]*fakeUser), refresh: make(map[string]string)}

	mux := http.NewServeMux()
	mux.HandleFunc("/v1/accounts:signInWithPassword", f.signIn)
	mux.HandleFunc("/v1/accounts:lookup", f.lookup)
	mux.HandleFunc("/v1/accounts:signUp", f.signUp)
	mux.HandleFunc("/v1/accounts:sendOobCode", f.sendOobCode)
	mux.HandleFunc("/v1/accounts:delete", f.deleteAccount)
	mux.HandleFunc("/token", f.token)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	return f, Config{
		ProjectID:  "demo-realty",
		Endpoint:   srv.URL + "/",
		TokenURL:   srv.URL + "/token",
		HTTPClient: srv.Client(),
	}
}

func (f *fakeToolkit) addUser(email, password string, verified bool) *fakeUser {
	f.mu.Lock()
	defer f.mu.Unlock()
	u := &fakeUser{uid: uuid.NewString(), email: email, password: password, verified: verified}
	f.users[email] = u
	return u
}

func (f *fakeToolkit) failNextSignIn(reason string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.signInReason = reason
}

func (f *fakeToolkit) setVerified(email string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.users[email].verified = true
}

func (f *fakeToolkit) refreshCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.refreshN
}

func (f *fakeToolkit) oobRequests() []map[string]any {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]map[string]any(nil), f.oob...)
}

// mintLocked issues an ID token and a refresh token for u
func (f *fakeToolkit) mintLocked(u *fakeUser) (idToken, refreshToken string) {
	now := time.Now()
	claims := ra.IDTokenClaims{
		Email:         u.email,
		EmailVerified: u.verified,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   u.uid,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
			ID:        uuid.NewString(),
		},
	}
	idToken, _ = jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(fakeSecret))
	refreshToken = "rt-" + uuid.NewString()
	f.refresh[refreshToken] = u.email
	return idToken, refreshToken
}

func (f *fakeToolkit) userForToken(idToken string) *fakeUser {
	claims := &ra.IDTokenClaims{}
	if _, err := jwt.ParseWithClaims(idToken, claims, func(*jwt.Token) (any, error) { return []byte(fakeSecret), nil }); err != nil {
		return nil
	}
	return f.users[claims.Email]
}

func apiError(w http.ResponseWriter, reason string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusBadRequest)
	fmt.Fprintf(w, `{"error":{"code":400,"message":%q,"errors":[{"message":%q,"domain":"global","reason":"invalid"}]}}`, reason, reason)
}

func reply(w http.ResponseWriter, body any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(body)
}

func (f *fakeToolkit) signIn(w http.ResponseWriter, r *http.Request) {
	var req struct{ Email, Password string }
	json.NewDecoder(r.Body).Decode(&req)

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.signInReason != "" {
		reason := f.signInReason
		f.signInReason = ""
		apiError(w, reason)
		return
	}
	u, ok := f.users[req.Email]
	if !ok || u.password != req.Password {
		apiError(w, "INVALID_LOGIN_CREDENTIALS")
		return
	}
	idToken, refreshToken := f.mintLocked(u)
	reply(w, map[string]any{
		"localId":      u.uid,
		"email":        u.email,
		"idToken":      idToken,
		"refreshToken": refreshToken,
		"expiresIn":    "3600",
		"registered":   true,
	})
}

func (f *fakeToolkit) lookup(w http.ResponseWriter, r *http.Request) {
	var req struct {
		IdToken string `json:"idToken"`
	}
	json.NewDecoder(r.Body).Decode(&req)

	f.mu.Lock()
	defer f.mu.Unlock()
	u := f.userForToken(req.IdToken)
	if u == nil {
		apiError(w, "INVALID_ID_TOKEN")
		return
	}
	reply(w, map[string]any{
		"users": []map[string]any{{"localId": u.uid, "email": u.email, "emailVerified": u.verified}},
	})
}

func (f *fakeToolkit) signUp(w http.ResponseWriter, r *http.Request) {
	var req struct{ Email, Password string }
	json.NewDecoder(r.Body).Decode(&req)

	f.mu.Lock()
	defer f.mu.Unlock()
	if _, exists := f.users[req.Email]; exists {
		apiError(w, "EMAIL_EXISTS")
		return
	}
	if len(req.Password) < 6 {
		apiError(w, "WEAK_PASSWORD : Password should be at least 6 characters")
		return
	}
	u := &fakeUser{uid: uuid.NewString(), email: req.Email, password: req.Password}
	f.users[req.Email] = u
	idToken, refreshToken := f.mintLocked(u)
	reply(w, map[string]any{"localId": u.uid, "email": u.email, "idToken": idToken, "refreshToken": refreshToken})
}

func (f *fakeToolkit) sendOobCode(w http.ResponseWriter, r *http.Request) {
	var req map[string]any
	json.NewDecoder(r.Body).Decode(&req)

	f.mu.Lock()
	defer f.mu.Unlock()
	f.oob = append(f.oob, req)
	email, _ := req["email"].(string)
	if tok, ok := req["idToken"].(string); ok {
		u := f.userForToken(tok)
		if u == nil {
			apiError(w, "INVALID_ID_TOKEN")
			return
		}
		email = u.email
	}
	reply(w, map[string]any{"email": email, "oobLink": "https://example.test/verify?oobCode=" + uuid.NewString()})
}

func (f *fakeToolkit) deleteAccount(w http.ResponseWriter, r *http.Request) {
	var req struct {
		LocalId string `json:"localId"`
		IdToken string `json:"idToken"`
	}
	json.NewDecoder(r.Body).Decode(&req)

	f.mu.Lock()
	defer f.mu.Unlock()
	var u *fakeUser
	if req.IdToken != "" {
		if u = f.userForToken(req.IdToken); u == nil {
			apiError(w, "INVALID_ID_TOKEN")
			return
		}
	} else {
		for _, candidate := range f.users {
			if candidate.uid == req.LocalId {
				u = candidate
			}
		}
		if u == nil {
			apiError(w, "USER_NOT_FOUND")
			return
		}
	}
	delete(f.users, u.email)
	reply(w, map[string]any{})
}

func (f *fakeToolkit) hasUser(email string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.users[email]
	return ok
}

func (f *fakeToolkit) token(w http.ResponseWriter, r *http.Request) {
	r.ParseForm()

	f.mu.Lock()
	defer f.mu.Unlock()
	f.refreshN++
	email, ok := f.refresh[r.Form.Get("refresh_token")]
	if r.Form.Get("grant_type") != "refresh_token" || !ok {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error":{"code":400,"message":"INVALID_REFRESH_TOKEN","status":"INVALID_ARGUMENT"}}`))
		return
	}
	delete(f.refresh, r.Form.Get("refresh_token"))
	u := f.users[email]
	idToken, refreshToken := f.mintLocked(u)
	reply(w, map[string]any{
		"access_token":  idToken,
		"expires_in":    3600,
		"token_type":    "Bearer",
		"refresh_token": refreshToken,
		"id_token":      idToken,
		"user_id":       u.uid,
	})
}

// claimsOf decodes an ID token minted by the fake
func claimsOf(t *testing.T, token string) *ra.IDTokenClaims {
	t.Helper()
	claims := &ra.IDTokenClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		t.Fatalf("bad token %q: %v", strings.SplitN(token, ".", 2)[0], err)
	}
	return claims
}
