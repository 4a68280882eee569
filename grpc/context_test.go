package grpc

import (
	"context"
	"testing"

	"google.golang.org/grpc/metadata"

	ra "github.com/panyam/realtyauth"
	"github.com/panyam/realtyauth/client"
)

func TestIdentityFromContext_NoMetadata(t *testing.T) {
	id := IdentityFromContext(context.Background(), nil)
	if id.Authenticated() || id.UserType != "" {
		t.Errorf("expected anonymous identity, got %+v", id)
	}
	if IsAuthenticated(context.Background()) {
		t.Error("expected IsAuthenticated to be false")
	}
}

func TestIdentityFromContext(t *testing.T) {
	md := metadata.Pairs(DefaultMetadataKeyUserID, "u-1", DefaultMetadataKeyUserType, "Broker")
	ctx := metadata.NewIncomingContext(context.Background(), md)

	if got := UserIDFromContext(ctx); got != "u-1" {
		t.Errorf("expected u-1, got %q", got)
	}
	if got := UserTypeFromContext(ctx); got != ra.UserTypeBroker {
		t.Errorf("expected broker, got %q", got)
	}
	if !IsAuthenticated(ctx) {
		t.Error("expected IsAuthenticated to be true")
	}
}

func TestIdentityFromContext_UnknownUserType(t *testing.T) {
	md := metadata.Pairs(DefaultMetadataKeyUserID, "u-1", DefaultMetadataKeyUserType, "landlord")
	ctx := metadata.NewIncomingContext(context.Background(), md)

	id := IdentityFromContext(ctx, nil)
	if id.UserID != "u-1" || id.UserType != "" {
		t.Errorf("expected user without a type, got %+v", id)
	}
}

func TestIdentityFromContext_CustomKeys(t *testing.T) {
	config := &Config{MetadataKeyUserID: "x-custom-user", MetadataKeyUserType: "x-custom-type"}
	md := metadata.Pairs("x-custom-user", "u-2", "x-custom-type", "builder", DefaultMetadataKeyUserID, "ignored")
	ctx := metadata.NewIncomingContext(context.Background(), md)

	id := IdentityFromContext(ctx, config)
	if id.UserID != "u-2" || id.UserType != ra.UserTypeBuilder {
		t.Errorf("expected u-2/builder, got %+v", id)
	}
}

func TestUserToOutgoingContext(t *testing.T) {
	ctx := UserToOutgoingContext(context.Background(), &ra.User{ID: "u-3", UserType: ra.UserTypeAdmin})
	md, ok := metadata.FromOutgoingContext(ctx)
	if !ok {
		t.Fatal("expected outgoing metadata")
	}
	if v := md.Get(DefaultMetadataKeyUserID); len(v) != 1 || v[0] != "u-3" {
		t.Errorf("unexpected user id metadata %v", v)
	}
	if v := md.Get(DefaultMetadataKeyUserType); len(v) != 1 || v[0] != "admin" {
		t.Errorf("unexpected user type metadata %v", v)
	}

	if UserToOutgoingContext(context.Background(), nil) != context.Background() {
		t.Error("nil user should leave the context unchanged")
	}
}

func TestSessionToOutgoingContext(t *testing.T) {
	sess := client.Session{State: client.StateAuthenticated, UserType: ra.UserTypeUser, UserEmail: "u@example.com", SessionToken: "tok"}
	md, _ := metadata.FromOutgoingContext(SessionToOutgoingContext(context.Background(), sess))
	if v := md.Get(MetadataKeyAuthorization); len(v) != 1 || v[0] != "Bearer tok" {
		t.Errorf("unexpected authorization metadata %v", v)
	}

	// Loading sessions with provisional values send nothing
	loading := client.Session{State: client.StateUnknown, UserType: ra.UserTypeUser, UserEmail: "u@example.com", SessionToken: "tok", Loading: true}
	if _, ok := metadata.FromOutgoingContext(SessionToOutgoingContext(context.Background(), loading)); ok {
		t.Error("expected no metadata for a loading session")
	}
}
