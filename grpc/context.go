// Package grpc carries the marketplace identity into gRPC feature services and
// applies the same user-type predicates the route guards use.
//
// A gateway that already authenticated the caller forwards the identity as
// "x-user-id" and "x-user-type" metadata. A client holding a session sends its
// ID token as "authorization: Bearer <token>" instead, and an interceptor with
// a Verifier turns it into the same metadata.
package grpc

import (
	"context"

	"google.golang.org/grpc/metadata"

	ra "github.com/panyam/realtyauth"
	"github.com/panyam/realtyauth/client"
)

// Default metadata keys
const (
	DefaultMetadataKeyUserID   = "x-user-id"
	DefaultMetadataKeyUserType = "x-user-type"
	MetadataKeyAuthorization   = "authorization"
)

// Config holds the metadata key configuration
type Config struct {
	// MetadataKeyUserID defaults to "x-user-id"
	MetadataKeyUserID string

	// MetadataKeyUserType defaults to "x-user-type"
	MetadataKeyUserType string
}

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	return (&Config{}).EnsureDefaults()
}

// EnsureDefaults fills in default values for any unset fields
func (c *Config) EnsureDefaults() *Config {
	if c.MetadataKeyUserID == "" {
		c.MetadataKeyUserID = DefaultMetadataKeyUserID
	}
	if c.MetadataKeyUserType == "" {
		c.MetadataKeyUserType = DefaultMetadataKeyUserType
	}
	return c
}

// Identity is who a call is made for
type Identity struct {
	UserID   string
	UserType ra.UserType
}

// Authenticated is true when the identity names a user
func (id Identity) Authenticated() bool {
	return id.UserID != ""
}

// IdentityFromContext reads the identity from incoming metadata.
// An unknown user type reads as "".
func IdentityFromContext(ctx context.Context, config *Config) Identity {
	if config == nil {
		config = DefaultConfig()
	}
	config.EnsureDefaults()

	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return Identity{}
	}
	id := Identity{UserID: first(md, config.MetadataKeyUserID)}
	if t, err := ra.ParseUserType(first(md, config.MetadataKeyUserType)); err == nil {
		id.UserType = t
	}
	return id
}

// UserIDFromContext returns the caller's user id, or "" for anonymous calls
func UserIDFromContext(ctx context.Context) string {
	return IdentityFromContext(ctx, nil).UserID
}

// UserTypeFromContext returns the caller's user type, or ""
func UserTypeFromContext(ctx context.Context) ra.UserType {
	return IdentityFromContext(ctx, nil).UserType
}

// IsAuthenticated returns true if the call carries a user
func IsAuthenticated(ctx context.Context) bool {
	return UserIDFromContext(ctx) != ""
}

// UserToOutgoingContext forwards an authenticated backend user to a feature
// service. Used by gateways after Middleware.RequireUser.
func UserToOutgoingContext(ctx context.Context, user *ra.User) context.Context {
	if user == nil {
		return ctx
	}
	return metadata.AppendToOutgoingContext(ctx,
		DefaultMetadataKeyUserID, user.ID,
		DefaultMetadataKeyUserType, string(user.UserType))
}

// SessionToOutgoingContext attaches a client session's ID token. Sessions that
// are not authenticated leave ctx unchanged.
func SessionToOutgoingContext(ctx context.Context, sess client.Session) context.Context {
	if !sess.IsAuthenticated() || sess.SessionToken == "" {
		return ctx
	}
	return metadata.AppendToOutgoingContext(ctx, MetadataKeyAuthorization, "Bearer "+sess.SessionToken)
}

// withIdentity replaces the identity keys of the incoming metadata
func withIdentity(ctx context.Context, config *Config, id Identity) context.Context {
	md, _ := metadata.FromIncomingContext(ctx)
	md = md.Copy()
	md.Set(config.MetadataKeyUserID, id.UserID)
	md.Set(config.MetadataKeyUserType, string(id.UserType))
	return metadata.NewIncomingContext(ctx, md)
}

func first(md metadata.MD, key string) string {
	if values := md.Get(key); len(values) > 0 {
		return values[0]
	}
	return ""
}
