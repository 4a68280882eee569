//go:build !wasm
// +build !wasm

// Package gorm provides GORM-based implementations of the realtyauth user
// directory and verification token stores. It works with any database GORM
// supports (PostgreSQL, MySQL, SQLite, etc.).
//
// # Database Schema
//
// AutoMigrate creates:
//   - users: the marketplace user directory, unique on the normalized email
//   - email_verifications: one outstanding verification token per email
//
// # Usage
//
//	db, _ := gorm.Open(postgres.Open(dsn), &gorm.Config{})
//	if err := gormstore.AutoMigrate(db); err != nil { ... }
//	provider, _ := local.NewProvider(cfg, gormstore.NewTokenStore(db), sender)
//	backend := realtyauth.NewBackend(gormstore.NewUserStore(db), provider, provider.Verifier())
package gorm
