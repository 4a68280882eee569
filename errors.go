package realtyauth

import (
	"encoding/json"
	"net/http"
)

// Error codes reported in ErrorResponse.Error
const (
	ErrCodeMissingField      = "missing_field"
	ErrCodeInvalidEmail      = "invalid_email"
	ErrCodeWeakPassword      = "weak_password"
	ErrCodePasswordMismatch  = "password_mismatch"
	ErrCodeInvalidUserType   = "invalid_user_type"
	ErrCodeEmailExists       = "email_exists"
	ErrCodeInvalidToken      = "invalid_token"
	ErrCodeEmailNotVerified  = "email_not_verified"
	ErrCodeEmailMismatch     = "email_mismatch"
	ErrCodeUserNotFound      = "user_not_found"
	ErrCodeForbidden         = "forbidden"
	ErrCodeInvalidRequest    = "invalid_request"
	ErrCodeServerError       = "server_error"
	ErrCodeProviderRejected  = "provider_rejected"
	ErrCodeVerificationError = "verification_failed"
)

// AuthError is a user facing error with a machine readable code and the form field it concerns
type AuthError struct {
	Code    string
	Message string
	Field   string
	Status  int
}

// NewAuthError creates an AuthError that maps to 400 Bad Request
func NewAuthError(code, message, field string) *AuthError {
	return &AuthError{Code: code, Message: message, Field: field, Status: http.StatusBadRequest}
}

// WithStatus overrides the HTTP status the error is reported with
func (e *AuthError) WithStatus(status int) *AuthError {
	e.Status = status
	return e
}

func (e *AuthError) Error() string {
	return e.Message
}

// Write sends the error as a JSON ErrorResponse
func (e *AuthError) Write(w http.ResponseWriter) {
	status := e.Status
	if status == 0 {
		status = http.StatusBadRequest
	}
	writeJSON(w, status, ErrorResponse{
		Success: false,
		Error:   e.Code,
		Message: e.Message,
		Field:   e.Field,
	})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}
