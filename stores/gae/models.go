//go:build !wasm
// +build !wasm

package gae

import (
	"time"

	"cloud.google.com/go/datastore"
	ra "github.com/panyam/realtyauth"
)

// UserEntity is the Datastore entity for users, keyed by normalized email
type UserEntity struct {
	Key           *datastore.Key `datastore:"__key__"`
	ID            string         `datastore:"id"`
	Email         string         `datastore:"email"`
	Name          string         `datastore:"name,noindex"`
	UserType      string         `datastore:"user_type"`
	CompanyName   string         `datastore:"company_name,noindex"`
	LicenseNumber string         `datastore:"license_number"`
	CreatedAt     time.Time      `datastore:"created_at"`
	UpdatedAt     time.Time      `datastore:"updated_at"`
	Version       int            `datastore:"version"`
}

func (e *UserEntity) ToUser() *ra.User {
	return &ra.User{
		ID:            e.ID,
		Name:          e.Name,
		Email:         e.Email,
		UserType:      ra.UserType(e.UserType),
		CompanyName:   e.CompanyName,
		LicenseNumber: e.LicenseNumber,
		CreatedAt:     e.CreatedAt,
		UpdatedAt:     e.UpdatedAt,
	}
}

func UserToEntity(u *ra.User, key *datastore.Key) *UserEntity {
	return &UserEntity{
		Key:           key,
		ID:            u.ID,
		Email:         ra.NormalizeEmail(u.Email),
		Name:          u.Name,
		UserType:      string(u.UserType),
		CompanyName:   u.CompanyName,
		LicenseNumber: u.LicenseNumber,
		CreatedAt:     u.CreatedAt,
		UpdatedAt:     u.UpdatedAt,
	}
}

// VerificationEntity holds the outstanding verification token of one email.
// It is keyed by the normalized email, so issuing a new token overwrites the
// previous one.
type VerificationEntity struct {
	Key       *datastore.Key `datastore:"__key__"`
	Token     string         `datastore:"token"`
	IssuedAt  time.Time      `datastore:"issued_at,noindex"`
	ExpiresAt time.Time      `datastore:"expires_at"`
}

func (e *VerificationEntity) ToVerificationToken() *ra.VerificationToken {
	return &ra.VerificationToken{
		Token:     e.Token,
		Email:     e.Key.Name,
		IssuedAt:  e.IssuedAt,
		ExpiresAt: e.ExpiresAt,
	}
}
