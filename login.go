package realtyauth

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
)

// HandleLogin exchanges an identity provider ID token for the user's directory
// record. The token must carry a verified email matching the one in the request.
func (b *Backend) HandleLogin(w http.ResponseWriter, r *http.Request) {
	email, token, authErr := parseLoginBody(r)
	if authErr != nil {
		b.loginFailed(email, w, r, authErr)
		return
	}

	tok, err := b.Verifier.Verify(r.Context(), token)
	if err != nil {
		b.Logger.Warn("login token rejected", "email", email, "err", err)
		b.loginFailed(email, w, r, NewAuthError(ErrCodeInvalidToken, "Invalid or expired token", "token").WithStatus(http.StatusUnauthorized))
		return
	}
	if !tok.EmailVerified {
		b.loginFailed(email, w, r, NewAuthError(ErrCodeEmailNotVerified, "Email not verified", "email").WithStatus(http.StatusForbidden))
		return
	}
	if NormalizeEmail(tok.Email) != NormalizeEmail(email) {
		b.loginFailed(email, w, r, NewAuthError(ErrCodeEmailMismatch, "Token does not belong to this email", "email").WithStatus(http.StatusUnauthorized))
		return
	}

	user, err := b.Users.GetUserByEmail(email)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			b.loginFailed(email, w, r, NewAuthError(ErrCodeUserNotFound, "User not found", "email").WithStatus(http.StatusNotFound))
			return
		}
		b.Logger.Error("error looking up user", "email", email, "err", err)
		b.loginFailed(email, w, r, NewAuthError(ErrCodeServerError, "Login failed. Please try again.", "").WithStatus(http.StatusInternalServerError))
		return
	}
	if !user.UserType.Valid() {
		b.Logger.Error("user has invalid type", "email", email, "userType", user.UserType)
		b.loginFailed(email, w, r, NewAuthError(ErrCodeInvalidUserType, "Account has no valid user type", "").WithStatus(http.StatusForbidden))
		return
	}

	if b.OnLoginSuccess != nil {
		b.OnLoginSuccess(user, r)
	}
	b.Logger.Info("user logged in", "email", user.Email, "userType", user.UserType)
	writeJSON(w, http.StatusOK, LoginResponse{UserType: user.UserType, User: user})
}

func (b *Backend) loginFailed(email string, w http.ResponseWriter, r *http.Request, authErr *AuthError) {
	if b.OnLoginFailure != nil {
		b.OnLoginFailure(email, r, authErr)
	}
	authErr.Write(w)
}

// parseLoginBody accepts both JSON and form encoded bodies
func parseLoginBody(r *http.Request) (email, token string, authErr *AuthError) {
	if strings.HasPrefix(r.Header.Get("Content-Type"), "application/x-www-form-urlencoded") {
		if err := r.ParseForm(); err != nil {
			return "", "", NewAuthError(ErrCodeInvalidRequest, "Error parsing form", "")
		}
		email, token = r.FormValue("email"), r.FormValue("token")
	} else {
		var req LoginRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			return "", "", NewAuthError(ErrCodeInvalidRequest, "Invalid request body", "")
		}
		email, token = req.Email, req.Token
	}

	email = strings.TrimSpace(email)
	if email == "" {
		return "", "", NewAuthError(ErrCodeMissingField, "Email is required", "email")
	}
	if token == "" {
		return email, "", NewAuthError(ErrCodeMissingField, "Token is required", "token").WithStatus(http.StatusUnauthorized)
	}
	return email, token, nil
}
