// Package client is the marketplace front-end's authentication core. The
// SessionManager reconciles the identity provider, the durable SessionStore and
// the backend's verdict into a single Session projection that guards and pages read.
package client

import (
	ra "github.com/panyam/realtyauth"
)

// State is the session state machine's state
type State int

const (
	// StateUnknown means reconciliation is in flight. Callers must treat it as
	// "don't know yet", never as "logged out".
	StateUnknown State = iota
	StateAnonymous
	StateAuthenticated
)

func (s State) String() string {
	switch s {
	case StateUnknown:
		return "unknown"
	case StateAnonymous:
		return "anonymous"
	case StateAuthenticated:
		return "authenticated"
	}
	return "invalid"
}

// Session is the authoritative projection published by the SessionManager.
//
// While Loading the UserType and UserEmail may hold provisional values read from
// the store at startup. They are only trustworthy once IsAuthenticated is true.
type Session struct {
	State        State
	UserType     ra.UserType
	UserEmail    string
	SessionToken string
	Loading      bool

	// Epoch increases on every optimistic transition (login, failed login, logout)
	Epoch uint64
}

// IsAuthenticated is true only when provider, store and backend agree on a
// verified session.
func (s Session) IsAuthenticated() bool {
	return s.State == StateAuthenticated && s.UserType != "" && s.UserEmail != ""
}

func anonymousSession(epoch uint64) Session {
	return Session{State: StateAnonymous, Epoch: epoch}
}

func authenticatedSession(rec sessionRecord, epoch uint64) Session {
	return Session{
		State:        StateAuthenticated,
		UserType:     rec.UserType,
		UserEmail:    rec.UserEmail,
		SessionToken: rec.Token,
		Epoch:        epoch,
	}
}

// ErrorKind classifies why an auth operation failed
type ErrorKind int

const (
	KindNone ErrorKind = iota
	KindInvalidCredentials
	KindEmailNotVerified
	KindBackendRejected
	KindNetworkOrUnknown

	// KindSessionMismatch is only ever logged. It is resolved by a forced sign-out
	// and never returned to callers.
	KindSessionMismatch
)

func (k ErrorKind) String() string {
	switch k {
	case KindNone:
		return "none"
	case KindInvalidCredentials:
		return "invalid_credentials"
	case KindEmailNotVerified:
		return "email_not_verified"
	case KindBackendRejected:
		return "backend_rejected"
	case KindNetworkOrUnknown:
		return "network_or_unknown"
	case KindSessionMismatch:
		return "session_mismatch"
	}
	return "unknown"
}

// User facing messages
const (
	MsgInvalidCredentials = "Invalid email or password."
	MsgEmailNotVerified   = "Email not verified. Please check your inbox and verify your email before logging in."
	MsgTooManyRequests    = "Too many failed attempts. Please try again later."
	MsgLoginFailed        = "Login failed. Please try again."
	MsgSignupFailed       = "Signup failed. Please try again."
	MsgSignupSucceeded    = "Account created. Please check your email to verify your account."
	MsgResendFailed       = "Could not resend the verification email. Please try again."
	MsgResendSucceeded    = "Verification email sent. Please check your inbox."
)

// Result is what every auth operation returns. Expected failures are reported
// here rather than as errors.
type Result struct {
	Success bool
	Message string
	Kind    ErrorKind

	// Set by Signup
	RequiresVerification bool
	Email                string

	// Set by a successful Login
	UserType ra.UserType
}

func failure(kind ErrorKind, message string) Result {
	return Result{Success: false, Kind: kind, Message: message}
}

// SignupPayload is the registration form as sent to the backend
type SignupPayload = ra.SignupRequest
