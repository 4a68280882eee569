package grpc

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	ra "github.com/panyam/realtyauth"
)

// InterceptorConfig configures the auth interceptors
type InterceptorConfig struct {
	*Config

	// RequireAuth rejects anonymous calls to methods that are not public
	RequireAuth bool

	// PublicMethods bypass every check. Keys are full method names like
	// "/listings.Listings/Search".
	PublicMethods map[string]bool

	// MethodUserTypes restricts methods to the given user types
	MethodUserTypes map[string][]ra.UserType

	// Verifier, when set, authenticates the bearer ID token in the
	// "authorization" metadata and looks the user up in Users. Identity
	// metadata sent by the caller is then ignored.
	Verifier ra.TokenVerifier
	Users    ra.UserStore

	Logger *slog.Logger
}

// DefaultInterceptorConfig requires authentication for every method
func DefaultInterceptorConfig() *InterceptorConfig {
	return (&InterceptorConfig{RequireAuth: true}).EnsureDefaults()
}

// NewPublicMethodsConfig requires authentication except for the given methods
func NewPublicMethodsConfig(publicMethods ...string) *InterceptorConfig {
	config := DefaultInterceptorConfig()
	for _, method := range publicMethods {
		config.PublicMethods[method] = true
	}
	return config
}

// OptionalAuthConfig lets anonymous calls through unless a method has a user type requirement
func OptionalAuthConfig() *InterceptorConfig {
	return (&InterceptorConfig{}).EnsureDefaults()
}

// EnsureDefaults fills in defaults for unset fields
func (c *InterceptorConfig) EnsureDefaults() *InterceptorConfig {
	if c.Config == nil {
		c.Config = DefaultConfig()
	}
	c.Config.EnsureDefaults()
	if c.PublicMethods == nil {
		c.PublicMethods = make(map[string]bool)
	}
	if c.MethodUserTypes == nil {
		c.MethodUserTypes = make(map[string][]ra.UserType)
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	return c
}

// Require restricts a method to the given user types
func (c *InterceptorConfig) Require(method string, types ...ra.UserType) *InterceptorConfig {
	c.EnsureDefaults()
	c.MethodUserTypes[method] = append(c.MethodUserTypes[method], types...)
	return c
}

// UnaryAuthInterceptor checks the caller of unary methods
func UnaryAuthInterceptor(config *InterceptorConfig) grpc.UnaryServerInterceptor {
	if config == nil {
		config = DefaultInterceptorConfig()
	}
	config.EnsureDefaults()

	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		ctx, err := config.authorize(ctx, info.FullMethod)
		if err != nil {
			return nil, err
		}
		return handler(ctx, req)
	}
}

// StreamAuthInterceptor checks the caller of streaming methods
func StreamAuthInterceptor(config *InterceptorConfig) grpc.StreamServerInterceptor {
	if config == nil {
		config = DefaultInterceptorConfig()
	}
	config.EnsureDefaults()

	return func(srv any, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		ctx, err := config.authorize(ss.Context(), info.FullMethod)
		if err != nil {
			return err
		}
		return handler(srv, &authStream{ServerStream: ss, ctx: ctx})
	}
}

// authorize resolves the caller and applies the method's requirements. The
// returned context carries the resolved identity.
func (c *InterceptorConfig) authorize(ctx context.Context, method string) (context.Context, error) {
	if c.PublicMethods[method] {
		if c.Verifier != nil {
			// Unverified identity metadata never reaches the handler
			return withIdentity(ctx, c.Config, Identity{}), nil
		}
		return ctx, nil
	}

	id := IdentityFromContext(ctx, c.Config)
	if c.Verifier != nil {
		var err error
		if id, err = c.verify(ctx); err != nil {
			return nil, err
		}
		ctx = withIdentity(ctx, c.Config, id)
	}

	required := c.MethodUserTypes[method]
	if !id.Authenticated() {
		if c.RequireAuth || len(required) > 0 {
			return nil, status.Error(codes.Unauthenticated, "authentication required")
		}
		return ctx, nil
	}
	if len(required) > 0 && !ra.ContainsUserType(required, id.UserType) {
		c.Logger.Info("denying call", "method", method, "user", id.UserID, "userType", id.UserType)
		return nil, status.Error(codes.PermissionDenied, "Access Denied")
	}
	return ctx, nil
}

// verify authenticates the bearer ID token. A call without one is anonymous.
func (c *InterceptorConfig) verify(ctx context.Context) (Identity, error) {
	md, _ := metadata.FromIncomingContext(ctx)
	raw := first(md, MetadataKeyAuthorization)
	if len(raw) < 7 || !strings.EqualFold(raw[:7], "bearer ") {
		return Identity{}, nil
	}

	tok, err := c.Verifier.Verify(ctx, strings.TrimSpace(raw[7:]))
	if err != nil {
		return Identity{}, status.Error(codes.Unauthenticated, "invalid or expired token")
	}
	if !tok.EmailVerified {
		return Identity{}, status.Error(codes.PermissionDenied, "email not verified")
	}
	if c.Users == nil {
		return Identity{UserID: tok.Subject}, nil
	}
	user, err := c.Users.GetUserByEmail(tok.Email)
	if errors.Is(err, ra.ErrUserNotFound) {
		return Identity{}, status.Error(codes.NotFound, "user not found")
	} else if err != nil {
		c.Logger.Error("user lookup failed", "email", tok.Email, "err", err)
		return Identity{}, status.Error(codes.Internal, "user lookup failed")
	}
	return Identity{UserID: user.ID, UserType: user.UserType}, nil
}

type authStream struct {
	grpc.ServerStream
	ctx context.Context
}

func (s *authStream) Context() context.Context {
	return s.ctx
}
