package realtyauth

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
)

const (
	signupSuccessMessage = "Account created. Please check your email to verify your account."
	resendSuccessMessage = "If an account exists for this email, a verification link has been sent."
)

// HandleSignup registers a new account at the identity provider and records the
// user in the directory. The new user is never logged in: they must verify their
// email first.
func (b *Backend) HandleSignup(w http.ResponseWriter, r *http.Request) {
	var req SignupRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		NewAuthError(ErrCodeInvalidRequest, "Invalid request body", "").Write(w)
		return
	}

	policy := b.getSignupPolicy()
	if authErr := policy.Validate(&req); authErr != nil {
		b.Logger.Info("signup rejected", "email", req.Email, "code", authErr.Code, "field", authErr.Field)
		authErr.Write(w)
		return
	}

	// Check the directory first so we do not leave orphaned provider accounts around
	if _, err := b.Users.GetUserByEmail(req.Email); err == nil {
		NewAuthError(ErrCodeEmailExists, "Email is already registered", "email").WithStatus(http.StatusConflict).Write(w)
		return
	} else if !errors.Is(err, ErrUserNotFound) {
		b.Logger.Error("error looking up user", "email", req.Email, "err", err)
		NewAuthError(ErrCodeServerError, "Signup failed. Please try again.", "").WithStatus(http.StatusInternalServerError).Write(w)
		return
	}

	accountID, err := b.Accounts.CreateAccount(r.Context(), req.Email, req.Password)
	if err != nil {
		if errors.Is(err, ErrAccountExists) {
			NewAuthError(ErrCodeEmailExists, "Email is already registered", "email").WithStatus(http.StatusConflict).Write(w)
			return
		}
		b.Logger.Error("error creating provider account", "email", req.Email, "err", err)
		var authErr *AuthError
		if errors.As(err, &authErr) {
			authErr.Write(w)
			return
		}
		NewAuthError(ErrCodeProviderRejected, "Signup failed. Please try again.", "").WithStatus(http.StatusBadGateway).Write(w)
		return
	}
	uid := accountID
	if uid == "" {
		uid = uuid.NewString()
	}

	now := time.Now()
	user := &User{
		ID:            uid,
		Name:          req.Name,
		Email:         req.Email,
		UserType:      req.UserType,
		CompanyName:   req.CompanyName,
		LicenseNumber: req.LicenseNumber,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := b.Users.CreateUser(user); err != nil {
		b.releaseAccount(r.Context(), accountID, req.Email)
		if errors.Is(err, ErrUserExists) {
			NewAuthError(ErrCodeEmailExists, "Email is already registered", "email").WithStatus(http.StatusConflict).Write(w)
			return
		}
		b.Logger.Error("error saving user", "email", req.Email, "err", err)
		NewAuthError(ErrCodeServerError, "Signup failed. Please try again.", "").WithStatus(http.StatusInternalServerError).Write(w)
		return
	}

	// The account exists at this point, a failed email can be retried via resend
	if err := b.Accounts.SendVerification(r.Context(), req.Email); err != nil {
		b.Logger.Warn("error sending verification email", "email", req.Email, "err", err)
	}

	b.Logger.Info("user signed up", "email", user.Email, "userType", user.UserType, "id", user.ID)
	writeJSON(w, http.StatusCreated, SignupResponse{Success: true, Message: signupSuccessMessage})
}

// releaseAccount deletes a provider account whose directory record could not
// be written, so that signing up again with the email works
func (b *Backend) releaseAccount(ctx context.Context, accountID, email string) {
	if accountID == "" {
		b.Logger.Error("provider account left without a directory record", "email", email)
		return
	}
	if err := b.Accounts.DeleteAccount(ctx, accountID); err != nil {
		b.Logger.Error("could not delete provider account without a directory record", "email", email, "uid", accountID, "err", err)
	}
}

// HandleResendVerification re-sends the verification email. The response is the
// same whether or not the account exists.
func (b *Backend) HandleResendVerification(w http.ResponseWriter, r *http.Request) {
	var req ResendVerificationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		NewAuthError(ErrCodeInvalidRequest, "Invalid request body", "").Write(w)
		return
	}
	email := NormalizeEmail(req.Email)
	if email == "" {
		NewAuthError(ErrCodeMissingField, "Email is required", "email").Write(w)
		return
	}
	if !IsValidEmail(email) {
		NewAuthError(ErrCodeInvalidEmail, "Invalid email format", "email").Write(w)
		return
	}

	if _, err := b.Users.GetUserByEmail(email); err != nil {
		if !errors.Is(err, ErrUserNotFound) {
			b.Logger.Error("error looking up user", "email", email, "err", err)
		}
	} else if err := b.Accounts.SendVerification(r.Context(), email); err != nil {
		b.Logger.Warn("error resending verification email", "email", email, "err", err)
	}

	writeJSON(w, http.StatusOK, SignupResponse{Success: true, Message: resendSuccessMessage})
}

func (b *Backend) getSignupPolicy() SignupPolicy {
	if b.SignupPolicy != nil {
		return *b.SignupPolicy
	}
	return DefaultSignupPolicy()
}
