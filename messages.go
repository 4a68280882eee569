package realtyauth

// Request and response bodies of the auth endpoints. The JSON field names are
// shared by the backend handlers and client.BackendClient.

// LoginRequest is the body of POST /api/auth/login
type LoginRequest struct {
	Email string `json:"email"`
	Token string `json:"token"` // ID token issued by the identity provider
}

// LoginResponse is returned by a successful login
type LoginResponse struct {
	UserType UserType `json:"userType"`
	User     *User    `json:"user"`
}

// SignupRequest is the body of POST /api/auth/signup
type SignupRequest struct {
	Name          string   `json:"name"`
	Email         string   `json:"email"`
	Password      string   `json:"password"`
	UserType      UserType `json:"userType"`
	CompanyName   string   `json:"companyName,omitempty"`
	LicenseNumber string   `json:"licenseNumber,omitempty"`
}

// SignupResponse is returned by the signup and resend endpoints
type SignupResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`
}

// ResendVerificationRequest is the body of POST /api/auth/resend-verification
type ResendVerificationRequest struct {
	Email string `json:"email"`
}

// ErrorResponse is the body of every non-2xx response from the backend
type ErrorResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
	Message string `json:"message"`
	Field   string `json:"field,omitempty"`
}
