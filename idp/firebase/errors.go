package firebase

import (
	"encoding/json"
	"errors"
	"strings"

	"golang.org/x/oauth2"
	"google.golang.org/api/googleapi"

	"github.com/panyam/realtyauth/client"
)

// Identity Toolkit error messages start with one of these reasons, optionally
// followed by " : detail"
var reasonCodes = map[string]string{
	"INVALID_LOGIN_CREDENTIALS":   client.CodeInvalidCredential,
	"INVALID_PASSWORD":            client.CodeWrongPassword,
	"EMAIL_NOT_FOUND":             client.CodeUserNotFound,
	"USER_NOT_FOUND":              client.CodeUserNotFound,
	"INVALID_EMAIL":               client.CodeInvalidEmail,
	"USER_DISABLED":               client.CodeUserDisabled,
	"TOO_MANY_ATTEMPTS_TRY_LATER": client.CodeTooManyRequests,
	"INVALID_ID_TOKEN":            client.CodeInvalidCredential,
	"TOKEN_EXPIRED":               client.CodeInvalidCredential,
	"INVALID_REFRESH_TOKEN":       client.CodeInvalidCredential,
}

// reason extracts the Identity Toolkit reason from an API or token refresh
// error, or ""
func reason(err error) string {
	var msg string
	var gerr *googleapi.Error
	var rerr *oauth2.RetrieveError
	switch {
	case errors.As(err, &gerr):
		msg = gerr.Message
	case errors.As(err, &rerr):
		// Secure Token errors use the {"error": {"message": ...}} shape
		var body struct {
			Error struct {
				Message string `json:"message"`
			} `json:"error"`
		}
		if json.Unmarshal(rerr.Body, &body) == nil {
			msg = body.Error.Message
		}
	}
	if i := strings.IndexAny(msg, " :"); i >= 0 {
		msg = msg[:i]
	}
	return msg
}

// providerError maps an Identity Toolkit failure to a *client.ProviderError
func providerError(err error) error {
	if err == nil {
		return nil
	}
	var pe *client.ProviderError
	if errors.As(err, &pe) {
		return err
	}

	r := reason(err)
	if code, ok := reasonCodes[r]; ok {
		return &client.ProviderError{Code: code, Message: r, Err: err}
	}

	var gerr *googleapi.Error
	var rerr *oauth2.RetrieveError
	if errors.As(err, &gerr) || errors.As(err, &rerr) {
		return &client.ProviderError{Code: client.CodeInternalError, Message: r, Err: err}
	}
	// Anything that never produced an API response is a transport problem
	return &client.ProviderError{Code: client.CodeNetworkFailed, Err: err}
}
