//go:build !wasm
// +build !wasm

// Package gae provides Google Cloud Datastore implementations of the realtyauth
// user directory and verification token stores.
//
// # Datastore Kinds
//
//   - User: keyed by the normalized email
//   - EmailVerification: the outstanding verification token, keyed by the
//     normalized email and queried by its token property
//
// Every store takes a Datastore namespace; the realty CLI reads it from
// serve.datastoreNamespace so staging and production can share a project.
//
// # Usage
//
//	client, _ := datastore.NewClient(ctx, projectID)
//	userStore := gae.NewUserStore(client, "").WithContext(ctx)
//	tokenStore := gae.NewTokenStore(client, "").WithContext(ctx)
//	provider, _ := local.NewProvider(cfg, tokenStore, sender)
package gae
