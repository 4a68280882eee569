package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	ra "github.com/panyam/realtyauth"
)

// Backend is the REST backend's auth surface
type Backend interface {
	Login(ctx context.Context, email, token string) (*ra.LoginResponse, error)
	Signup(ctx context.Context, req SignupPayload) (*ra.SignupResponse, error)
	ResendVerification(ctx context.Context, email string) error
}

// BackendError is a non-2xx response from the backend
type BackendError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *BackendError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("backend rejected request (HTTP %d): %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("backend rejected request: HTTP %d", e.StatusCode)
}

// BackendClient talks to the backend's /api/auth endpoints over HTTP
type BackendClient struct {
	baseURL    string
	pathPrefix string
	httpClient *http.Client
}

// ClientOption configures a BackendClient
type ClientOption func(*BackendClient)

// WithHTTPClient sets a custom HTTP client (for timeouts, TLS config, etc.)
func WithHTTPClient(client *http.Client) ClientOption {
	return func(c *BackendClient) {
		if client != nil {
			c.httpClient = client
		}
	}
}

// WithTransport sets a custom transport (for connection pooling, proxies, etc.)
func WithTransport(transport http.RoundTripper) ClientOption {
	return func(c *BackendClient) {
		c.httpClient = &http.Client{Transport: transport, Timeout: c.httpClient.Timeout}
	}
}

// WithPathPrefix overrides the "/api" prefix the auth routes are mounted under
func WithPathPrefix(prefix string) ClientOption {
	return func(c *BackendClient) {
		c.pathPrefix = "/" + strings.Trim(prefix, "/")
	}
}

// NewBackendClient creates a client for the backend at baseURL
func NewBackendClient(baseURL string, opts ...ClientOption) *BackendClient {
	u, err := url.Parse(baseURL)
	if err == nil && u.Scheme != "" && u.Host != "" {
		baseURL = fmt.Sprintf("%s://%s", u.Scheme, u.Host)
	}

	c := &BackendClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		pathPrefix: "/api",
		httpClient: &http.Client{Timeout: defaultRequestTimeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// BaseURL returns the server URL this client is configured for
func (c *BackendClient) BaseURL() string {
	return c.baseURL
}

// Login exchanges an ID token for the user's type and record
func (c *BackendClient) Login(ctx context.Context, email, token string) (*ra.LoginResponse, error) {
	var resp ra.LoginResponse
	if err := c.post(ctx, "/auth/login", ra.LoginRequest{Email: email, Token: token}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Signup registers a new account
func (c *BackendClient) Signup(ctx context.Context, req SignupPayload) (*ra.SignupResponse, error) {
	var resp ra.SignupResponse
	if err := c.post(ctx, "/auth/signup", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// ResendVerification asks the backend to send the verification email again
func (c *BackendClient) ResendVerification(ctx context.Context, email string) error {
	return c.post(ctx, "/auth/resend-verification", ra.ResendVerificationRequest{Email: email}, nil)
}

// Me returns the user record for a bearer ID token
func (c *BackendClient) Me(ctx context.Context, token string) (*ra.User, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+c.pathPrefix+"/auth/me", nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+token)

	var user ra.User
	if err := c.do(req, &user); err != nil {
		return nil, err
	}
	return &user, nil
}

func (c *BackendClient) post(ctx context.Context, path string, body, out any) error {
	jsonBody, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+c.pathPrefix+path, bytes.NewReader(jsonBody))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

func (c *BackendClient) do(req *http.Request, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to connect to server: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		berr := &BackendError{StatusCode: resp.StatusCode}
		var errResp ra.ErrorResponse
		if json.Unmarshal(body, &errResp) == nil {
			berr.Code = errResp.Error
			berr.Message = errResp.Message
			if berr.Message == "" {
				berr.Message = errResp.Error
			}
		}
		return berr
	}

	if out == nil || len(body) == 0 {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("invalid response from server: %w", err)
	}
	return nil
}
