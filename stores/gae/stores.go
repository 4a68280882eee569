//go:build !wasm
// +build !wasm

package gae

import (
	"context"
	"errors"
	"fmt"
	"time"

	"cloud.google.com/go/datastore"
	"github.com/google/uuid"
	"google.golang.org/api/iterator"

	ra "github.com/panyam/realtyauth"
)

// Kind constants for Datastore entities
const (
	KindUser         = "User"
	KindVerification = "EmailVerification"
)

type base struct {
	client    *datastore.Client
	namespace string
	ctx       context.Context
}

func (b base) namespacedKey(kind, name string) *datastore.Key {
	key := datastore.NameKey(kind, name, nil)
	key.Namespace = b.namespace
	return key
}

func (b base) query(kind string) *datastore.Query {
	q := datastore.NewQuery(kind)
	if b.namespace != "" {
		q = q.Namespace(b.namespace)
	}
	return q
}

// ============================================================================
// UserStore
// ============================================================================

// UserStore implements ra.UserStore using Google Cloud Datastore
type UserStore struct {
	base
}

// NewUserStore creates a new Datastore-backed UserStore
func NewUserStore(client *datastore.Client, namespace string) *UserStore {
	return &UserStore{base{client: client, namespace: namespace, ctx: context.Background()}}
}

// WithContext returns a copy of the store with the given context
func (s *UserStore) WithContext(ctx context.Context) *UserStore {
	return &UserStore{base{client: s.client, namespace: s.namespace, ctx: ctx}}
}

func (s *UserStore) CreateUser(user *ra.User) error {
	key := s.namespacedKey(KindUser, ra.NormalizeEmail(user.Email))
	if user.ID == "" {
		user.ID = uuid.NewString()
	}
	now := time.Now()
	if user.CreatedAt.IsZero() {
		user.CreatedAt = now
	}
	user.UpdatedAt = now

	_, err := s.client.RunInTransaction(s.ctx, func(tx *datastore.Transaction) error {
		var existing UserEntity
		err := tx.Get(key, &existing)
		if err == nil {
			return ra.ErrUserExists
		}
		if !errors.Is(err, datastore.ErrNoSuchEntity) {
			return err
		}
		entity := UserToEntity(user, key)
		entity.Version = 1
		_, err = tx.Put(key, entity)
		return err
	})
	return err
}

func (s *UserStore) GetUserByEmail(email string) (*ra.User, error) {
	key := s.namespacedKey(KindUser, ra.NormalizeEmail(email))
	var entity UserEntity
	if err := s.client.Get(s.ctx, key, &entity); err != nil {
		if errors.Is(err, datastore.ErrNoSuchEntity) {
			return nil, ra.ErrUserNotFound
		}
		return nil, fmt.Errorf("looking up %s: %w", email, err)
	}
	return entity.ToUser(), nil
}

func (s *UserStore) SaveUser(user *ra.User) error {
	key := s.namespacedKey(KindUser, ra.NormalizeEmail(user.Email))

	_, err := s.client.RunInTransaction(s.ctx, func(tx *datastore.Transaction) error {
		var existing UserEntity
		version := 0
		if err := tx.Get(key, &existing); err == nil {
			user.ID = existing.ID
			user.CreatedAt = existing.CreatedAt
			version = existing.Version
		} else if !errors.Is(err, datastore.ErrNoSuchEntity) {
			return err
		}
		if user.ID == "" {
			user.ID = uuid.NewString()
		}
		if user.CreatedAt.IsZero() {
			user.CreatedAt = time.Now()
		}
		user.UpdatedAt = time.Now()

		entity := UserToEntity(user, key)
		entity.Version = version + 1
		_, err := tx.Put(key, entity)
		return err
	})
	return err
}

func (s *UserStore) ListUsers(userType ra.UserType) ([]*ra.User, error) {
	query := s.query(KindUser)
	if userType != "" {
		query = query.FilterField("user_type", "=", string(userType))
	}

	var users []*ra.User
	it := s.client.Run(s.ctx, query)
	for {
		var entity UserEntity
		_, err := it.Next(&entity)
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, err
		}
		users = append(users, entity.ToUser())
	}
	return users, nil
}

// ============================================================================
// TokenStore
// ============================================================================

// TokenStore implements ra.VerificationTokenStore using Google Cloud Datastore
type TokenStore struct {
	base
}

// NewTokenStore creates a new Datastore-backed TokenStore
func NewTokenStore(client *datastore.Client, namespace string) *TokenStore {
	return &TokenStore{base{client: client, namespace: namespace, ctx: context.Background()}}
}

// WithContext returns a copy of the store with the given context
func (s *TokenStore) WithContext(ctx context.Context) *TokenStore {
	return &TokenStore{base{client: s.client, namespace: s.namespace, ctx: ctx}}
}

func (s *TokenStore) IssueToken(email string, ttl time.Duration) (*ra.VerificationToken, error) {
	tok, err := ra.NewVerificationToken(email, ttl)
	if err != nil {
		return nil, err
	}
	entity := &VerificationEntity{
		Key:       s.namespacedKey(KindVerification, tok.Email),
		Token:     tok.Token,
		IssuedAt:  tok.IssuedAt,
		ExpiresAt: tok.ExpiresAt,
	}
	if _, err := s.client.Put(s.ctx, entity.Key, entity); err != nil {
		return nil, fmt.Errorf("storing verification token: %w", err)
	}
	return tok, nil
}

// ConsumeToken finds the email owning token, then deletes the entity in a
// transaction that fails if a newer token was issued in between.
func (s *TokenStore) ConsumeToken(token string) (*ra.VerificationToken, error) {
	if token == "" {
		return nil, ra.ErrTokenNotFound
	}
	keys, err := s.client.GetAll(s.ctx, s.query(KindVerification).FilterField("token", "=", token).KeysOnly().Limit(1), nil)
	if err != nil {
		return nil, err
	}
	if len(keys) == 0 {
		return nil, ra.ErrTokenNotFound
	}

	var entity VerificationEntity
	_, err = s.client.RunInTransaction(s.ctx, func(tx *datastore.Transaction) error {
		if err := tx.Get(keys[0], &entity); err != nil {
			if errors.Is(err, datastore.ErrNoSuchEntity) {
				return ra.ErrTokenNotFound
			}
			return err
		}
		if entity.Token != token {
			return ra.ErrTokenNotFound
		}
		return tx.Delete(keys[0])
	})
	if err != nil {
		return nil, err
	}

	entity.Key = keys[0]
	tok := entity.ToVerificationToken()
	if tok.Expired() {
		return nil, ra.ErrTokenExpired
	}
	return tok, nil
}
