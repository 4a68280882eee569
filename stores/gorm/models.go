//go:build !wasm
// +build !wasm

package gorm

import (
	"time"

	ra "github.com/panyam/realtyauth"
)

// UserModel is the GORM model for users
type UserModel struct {
	ID            string      `gorm:"primaryKey;size:64"`
	Email         string      `gorm:"size:255;uniqueIndex"` // normalized
	Name          string      `gorm:"size:255"`
	UserType      ra.UserType `gorm:"size:16;index"`
	CompanyName   string      `gorm:"size:255"`
	LicenseNumber string      `gorm:"size:64"`
	CreatedAt     time.Time   `gorm:"autoCreateTime"`
	UpdatedAt     time.Time   `gorm:"autoUpdateTime"`
}

func (UserModel) TableName() string {
	return "users"
}

func (m *UserModel) ToUser() *ra.User {
	return &ra.User{
		ID:            m.ID,
		Name:          m.Name,
		Email:         m.Email,
		UserType:      m.UserType,
		CompanyName:   m.CompanyName,
		LicenseNumber: m.LicenseNumber,
		CreatedAt:     m.CreatedAt,
		UpdatedAt:     m.UpdatedAt,
	}
}

func UserToModel(u *ra.User) *UserModel {
	return &UserModel{
		ID:            u.ID,
		Email:         ra.NormalizeEmail(u.Email),
		Name:          u.Name,
		UserType:      u.UserType,
		CompanyName:   u.CompanyName,
		LicenseNumber: u.LicenseNumber,
		CreatedAt:     u.CreatedAt,
		UpdatedAt:     u.UpdatedAt,
	}
}

// VerificationModel is the outstanding verification token of one email
type VerificationModel struct {
	Email     string    `gorm:"primaryKey;size:255"`
	Token     string    `gorm:"size:64;uniqueIndex"`
	IssuedAt  time.Time
	ExpiresAt time.Time
}

func (VerificationModel) TableName() string {
	return "email_verifications"
}

func (m *VerificationModel) ToVerificationToken() *ra.VerificationToken {
	return &ra.VerificationToken{
		Token:     m.Token,
		Email:     m.Email,
		IssuedAt:  m.IssuedAt,
		ExpiresAt: m.ExpiresAt,
	}
}
