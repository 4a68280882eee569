//go:build !wasm
// +build !wasm

package gorm

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	ra "github.com/panyam/realtyauth"
)

// AutoMigrate runs database migrations for all realtyauth tables
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&UserModel{},
		&VerificationModel{},
	)
}

// =============================================================================
// UserStore
// =============================================================================

// UserStore implements ra.UserStore using GORM
type UserStore struct {
	db *gorm.DB
}

func NewUserStore(db *gorm.DB) *UserStore {
	return &UserStore{db: db}
}

func (s *UserStore) CreateUser(user *ra.User) error {
	if user.ID == "" {
		user.ID = uuid.NewString()
	}
	return s.db.Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&UserModel{}).Where("email = ?", ra.NormalizeEmail(user.Email)).Count(&count).Error; err != nil {
			return err
		}
		if count > 0 {
			return ra.ErrUserExists
		}
		model := UserToModel(user)
		if err := tx.Create(model).Error; err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				return ra.ErrUserExists
			}
			return err
		}
		user.CreatedAt, user.UpdatedAt = model.CreatedAt, model.UpdatedAt
		return nil
	})
}

func (s *UserStore) GetUserByEmail(email string) (*ra.User, error) {
	var model UserModel
	if err := s.db.First(&model, "email = ?", ra.NormalizeEmail(email)).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ra.ErrUserNotFound
		}
		return nil, fmt.Errorf("looking up %s: %w", email, err)
	}
	return model.ToUser(), nil
}

// SaveUser upserts by email, keeping the existing id when the user is already known
func (s *UserStore) SaveUser(user *ra.User) error {
	model := UserToModel(user)
	var existing UserModel
	err := s.db.First(&existing, "email = ?", model.Email).Error
	switch {
	case err == nil:
		model.ID = existing.ID
		model.CreatedAt = existing.CreatedAt
	case errors.Is(err, gorm.ErrRecordNotFound):
		if model.ID == "" {
			model.ID = uuid.NewString()
		}
	default:
		return err
	}
	if err := s.db.Save(model).Error; err != nil {
		return err
	}
	user.ID, user.CreatedAt, user.UpdatedAt = model.ID, model.CreatedAt, model.UpdatedAt
	return nil
}

func (s *UserStore) ListUsers(userType ra.UserType) ([]*ra.User, error) {
	q := s.db.Order("email")
	if userType != "" {
		q = q.Where("user_type = ?", userType)
	}
	var models []UserModel
	if err := q.Find(&models).Error; err != nil {
		return nil, err
	}

	users := make([]*ra.User, len(models))
	for i := range models {
		users[i] = models[i].ToUser()
	}
	return users, nil
}

// =============================================================================
// TokenStore
// =============================================================================

// TokenStore implements ra.VerificationTokenStore using GORM
type TokenStore struct {
	db *gorm.DB
}

func NewTokenStore(db *gorm.DB) *TokenStore {
	return &TokenStore{db: db}
}

// IssueToken upserts on email, so the new token replaces any earlier one
func (s *TokenStore) IssueToken(email string, ttl time.Duration) (*ra.VerificationToken, error) {
	tok, err := ra.NewVerificationToken(email, ttl)
	if err != nil {
		return nil, err
	}
	model := &VerificationModel{Email: tok.Email, Token: tok.Token, IssuedAt: tok.IssuedAt, ExpiresAt: tok.ExpiresAt}
	if err := s.db.Save(model).Error; err != nil {
		return nil, err
	}
	return tok, nil
}

func (s *TokenStore) ConsumeToken(token string) (*ra.VerificationToken, error) {
	if token == "" {
		return nil, ra.ErrTokenNotFound
	}
	var model VerificationModel
	err := s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.First(&model, "token = ?", token).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ra.ErrTokenNotFound
			}
			return err
		}
		res := tx.Where("email = ? AND token = ?", model.Email, token).Delete(&VerificationModel{})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ra.ErrTokenNotFound
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	tok := model.ToVerificationToken()
	if tok.Expired() {
		return nil, ra.ErrTokenExpired
	}
	return tok, nil
}
