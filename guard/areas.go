package guard

import (
	"context"
	"fmt"

	ra "github.com/panyam/realtyauth"
	"github.com/panyam/realtyauth/client"
)

// NewAdminGuard guards the admin area
func NewAdminGuard(n Notifier) *Guard {
	return (&Guard{Name: "admin", Allow: AdminOnly(), Notifier: n}).EnsureDefaults()
}

// NewAreaGuard guards the area of user type t
func NewAreaGuard(t ra.UserType, n Notifier) *Guard {
	return (&Guard{Name: string(t), Allow: RequireUserType(t), Notifier: n}).EnsureDefaults()
}

// ProfileInitializer stores a default profile unless one exists.
// *client.SessionManager is one.
type ProfileInitializer interface {
	EnsureProfile(def client.Profile) (bool, error)
}

// DefaultBuilderProfile is the profile a builder starts with
func DefaultBuilderProfile(s client.Session) client.Profile {
	return client.Profile{
		Email:       s.UserEmail,
		UserType:    ra.UserTypeBuilder,
		DisplayName: s.UserEmail,
		Listings:    []string{},
	}
}

// NewBuilderGuard guards the builder area and gives a builder their default
// profile on first entry. With nil profiles the profile is stored through the
// source the session came from, which must then be a ProfileInitializer.
func NewBuilderGuard(profiles ProfileInitializer, n Notifier) *Guard {
	g := NewAreaGuard(ra.UserTypeBuilder, n)
	g.OnAllow = func(ctx context.Context, src Source, s client.Session) error {
		store := profiles
		if store == nil {
			var ok bool
			if store, ok = src.(ProfileInitializer); !ok {
				return fmt.Errorf("session source %T cannot store profiles", src)
			}
		}
		created, err := store.EnsureProfile(DefaultBuilderProfile(s))
		if err != nil {
			return fmt.Errorf("initialising builder profile: %w", err)
		}
		if created {
			g.Logger.Info("created default builder profile", "email", s.UserEmail)
		}
		return nil
	}
	return g
}
