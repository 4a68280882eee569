// Package ui orchestrates the auth dialogs over the session manager and serves
// the web front end.
//
// The forms hold what the user typed and turn a submission into an Outcome the
// front end renders: an inline message, a dialog switch, or closing the dialog
// and navigating to the user's home area. Field checks run before anything is
// sent; everything else is decided by the session manager.
package ui

import (
	"context"
	"strings"

	ra "github.com/panyam/realtyauth"
	"github.com/panyam/realtyauth/client"
)

// Messages for checks done before submitting
const (
	MsgFillAllFields   = "Please fill in all fields."
	MsgPasswordsDiffer = "Passwords do not match."
	MsgCompanyRequired = "Company name is required for builders."
	MsgLicenseRequired = "License number is required for brokers."
	MsgInvalidUserType = "Please choose a valid account type."
	MsgEmailRequired   = "Email is required."
)

// Auth is what the dialogs need from the session manager
type Auth interface {
	Session() client.Session
	Login(ctx context.Context, email, password string) client.Result
	Signup(ctx context.Context, payload client.SignupPayload) client.Result
	ResendVerification(ctx context.Context, email string) client.Result
	Logout(ctx context.Context)
}

// Dialog names the auth dialogs
type Dialog string

const (
	DialogNone         Dialog = ""
	DialogLogin        Dialog = "login"
	DialogSignup       Dialog = "signup"
	DialogVerification Dialog = "verification"
)

// Outcome is what the front end does after a form action
type Outcome struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`

	// Dialog to show next. DialogNone with Close set closes the dialog.
	Dialog Dialog `json:"dialog,omitempty"`
	Close  bool   `json:"close,omitempty"`

	// Navigate is the route to go to after closing
	Navigate string `json:"navigate,omitempty"`

	// ShowVerification replaces the signup form with the "verify your email" panel
	ShowVerification bool   `json:"showVerification,omitempty"`
	Email            string `json:"email,omitempty"`

	Kind string `json:"kind,omitempty"`
}

func invalid(dialog Dialog, message string) Outcome {
	return Outcome{Message: message, Dialog: dialog, Kind: "validation"}
}

// LoginForm is the login dialog
type LoginForm struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// Validate returns the message for a form that cannot be submitted, or ""
func (f LoginForm) Validate() string {
	if strings.TrimSpace(f.Email) == "" || f.Password == "" {
		return MsgFillAllFields
	}
	return ""
}

// Submit logs in. Success closes the dialog and navigates to the user's area.
// An unverified email switches to the verification prompt.
func (f LoginForm) Submit(ctx context.Context, auth Auth) Outcome {
	if msg := f.Validate(); msg != "" {
		return invalid(DialogLogin, msg)
	}

	email := strings.TrimSpace(f.Email)
	res := auth.Login(ctx, email, f.Password)
	if !res.Success {
		out := Outcome{Message: res.Message, Dialog: DialogLogin, Kind: res.Kind.String()}
		if res.Kind == client.KindEmailNotVerified {
			out.Dialog = DialogVerification
			out.Email = email
		}
		return out
	}
	return Outcome{Success: true, Close: true, Navigate: res.UserType.HomeRoute(), Email: res.Email}
}

// SignupForm is the signup dialog
type SignupForm struct {
	Name            string      `json:"name"`
	Email           string      `json:"email"`
	Password        string      `json:"password"`
	ConfirmPassword string      `json:"confirmPassword"`
	UserType        ra.UserType `json:"userType"`
	CompanyName     string      `json:"companyName,omitempty"`
	LicenseNumber   string      `json:"licenseNumber,omitempty"`
}

// Validate returns the message for a form that cannot be submitted, or ""
func (f SignupForm) Validate() string {
	if strings.TrimSpace(f.Name) == "" || strings.TrimSpace(f.Email) == "" ||
		f.Password == "" || f.ConfirmPassword == "" || f.UserType == "" {
		return MsgFillAllFields
	}
	if f.Password != f.ConfirmPassword {
		return MsgPasswordsDiffer
	}
	t, err := ra.ParseUserType(string(f.UserType))
	if err != nil || !t.SelfRegistrable() {
		return MsgInvalidUserType
	}
	switch t {
	case ra.UserTypeBuilder:
		if strings.TrimSpace(f.CompanyName) == "" {
			return MsgCompanyRequired
		}
	case ra.UserTypeBroker:
		if strings.TrimSpace(f.LicenseNumber) == "" {
			return MsgLicenseRequired
		}
	}
	return ""
}

// Payload is the request sent to the backend. Role specific fields are only
// sent for their role.
func (f SignupForm) Payload() client.SignupPayload {
	t, _ := ra.ParseUserType(string(f.UserType))
	p := client.SignupPayload{
		Name:     strings.TrimSpace(f.Name),
		Email:    strings.TrimSpace(f.Email),
		Password: f.Password,
		UserType: t,
	}
	switch t {
	case ra.UserTypeBuilder:
		p.CompanyName = strings.TrimSpace(f.CompanyName)
	case ra.UserTypeBroker:
		p.LicenseNumber = strings.TrimSpace(f.LicenseNumber)
	}
	return p
}

// Submit registers the account. Success keeps the dialog open on the
// "verify your email" panel; the user is not logged in.
func (f SignupForm) Submit(ctx context.Context, auth Auth) Outcome {
	if msg := f.Validate(); msg != "" {
		return invalid(DialogSignup, msg)
	}
	res := auth.Signup(ctx, f.Payload())
	if !res.Success {
		return Outcome{Message: res.Message, Dialog: DialogSignup, Kind: res.Kind.String()}
	}
	return Outcome{
		Success:          true,
		Message:          res.Message,
		Dialog:           DialogSignup,
		ShowVerification: true,
		Email:            res.Email,
	}
}

// SwitchToLogin moves from the signup success panel to the login dialog
func SwitchToLogin(email string) Outcome {
	return Outcome{Success: true, Dialog: DialogLogin, Email: email}
}

// VerificationPrompt is shown to users who still have to verify their email
type VerificationPrompt struct {
	Email string `json:"email"`
}

// Resend asks the backend to send the verification email again
func (p VerificationPrompt) Resend(ctx context.Context, auth Auth) Outcome {
	email := strings.TrimSpace(p.Email)
	if email == "" {
		return invalid(DialogVerification, MsgEmailRequired)
	}
	res := auth.ResendVerification(ctx, email)
	return Outcome{
		Success: res.Success,
		Message: res.Message,
		Dialog:  DialogVerification,
		Email:   email,
		Kind:    kindOf(res),
	}
}

// GoToLogin leaves the prompt for the login dialog
func (p VerificationPrompt) GoToLogin() Outcome {
	return SwitchToLogin(p.Email)
}

func kindOf(res client.Result) string {
	if res.Success {
		return ""
	}
	return res.Kind.String()
}
