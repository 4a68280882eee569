package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"path/filepath"

	"cloud.google.com/go/datastore"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	ra "github.com/panyam/realtyauth"
	"github.com/panyam/realtyauth/client"
	fsclient "github.com/panyam/realtyauth/client/stores/fs"
	redisclient "github.com/panyam/realtyauth/client/stores/redis"
	"github.com/panyam/realtyauth/idp/firebase"
	"github.com/panyam/realtyauth/idp/local"
	fsstore "github.com/panyam/realtyauth/stores/fs"
	"github.com/panyam/realtyauth/stores/gae"
	"github.com/panyam/realtyauth/ui"
)

// closers runs cleanups in reverse order
type closers []func()

func (c *closers) add(fn func()) { *c = append(*c, fn) }

func (c closers) Close() {
	for i := len(c) - 1; i >= 0; i-- {
		c[i]()
	}
}

// identity is the identity provider as one process sees it
type identity struct {
	// Provider signs the CLI's session in and out
	Provider client.IdentityProvider

	// The rest is only set up for serve
	Accounts    ra.AccountAdmin
	Verifier    ra.TokenVerifier
	VerifyEmail http.Handler

	// Visitor opens the sign-in of one web visitor. The returned func releases it.
	Visitor func(ctx context.Context, id string) (client.IdentityProvider, func(), error)
}

func (c *Config) localProvider(tokens ra.VerificationTokenStore, sender ra.SendEmail, logger *slog.Logger) (*local.Provider, error) {
	if c.Local.SecretKey == "" {
		return nil, errors.New("the local provider needs a secret key (local.secretKey or REALTY_SECRET_KEY)")
	}
	return local.NewProvider(local.Config{
		SecretKey: c.Local.SecretKey,
		Path:      filepath.Join(c.DataDir, "accounts.json"),
		BaseURL:   c.Serve.BaseURL,
		Logger:    logger,
	}, tokens, sender)
}

// firebaseConfig keeps the signed in account in DataDir/accountFile. An empty
// accountFile keeps it in memory.
func (c *Config) firebaseConfig(accountFile string, logger *slog.Logger) firebase.Config {
	path := ""
	if accountFile != "" {
		path = filepath.Join(c.DataDir, accountFile)
	}
	return firebase.Config{
		APIKey:          c.Firebase.APIKey,
		ProjectID:       c.Firebase.ProjectID,
		CredentialsFile: c.Firebase.CredentialsFile,
		EmulatorHost:    c.Firebase.EmulatorHost,
		Path:            path,
		ContinueURL:     c.Serve.BaseURL,
		Logger:          logger,
	}
}

// OpenClientIdentity opens the provider used by the CLI commands
func (c *Config) OpenClientIdentity(ctx context.Context, cl *closers, logger *slog.Logger) (*identity, error) {
	switch c.Provider {
	case "local":
		p, err := c.localProvider(nil, nil, logger)
		if err != nil {
			return nil, err
		}
		cl.add(p.Close)
		return &identity{Provider: p}, nil
	case "firebase":
		p, err := firebase.NewProvider(ctx, c.firebaseConfig("cli-account.json", logger))
		if err != nil {
			return nil, err
		}
		cl.add(p.Close)
		return &identity{Provider: p}, nil
	}
	return nil, fmt.Errorf("unknown provider %q", c.Provider)
}

// OpenServerIdentity opens the provider for serve: account administration and
// token verification for the backend, and a sign-in per web visitor.
func (c *Config) OpenServerIdentity(ctx context.Context, cl *closers, tokens ra.VerificationTokenStore, sender ra.SendEmail, logger *slog.Logger) (*identity, error) {
	switch c.Provider {
	case "local":
		p, err := c.localProvider(tokens, sender, logger)
		if err != nil {
			return nil, err
		}
		cl.add(p.Close)
		return &identity{
			Visitor: func(ctx context.Context, id string) (client.IdentityProvider, func(), error) {
				seat := p.Seat(id)
				return seat, seat.Close, nil
			},
			Accounts:    p,
			Verifier:    p.Verifier(),
			VerifyEmail: http.HandlerFunc(p.VerifyHandler),
		}, nil

	case "firebase":
		admin, err := firebase.NewAdmin(ctx, c.firebaseConfig("", logger), sender)
		if err != nil {
			return nil, err
		}
		out := &identity{
			// Every visitor's sign-in is persisted to a file of its own
			Visitor: func(ctx context.Context, id string) (client.IdentityProvider, func(), error) {
				p, err := firebase.NewProvider(ctx, c.firebaseConfig(filepath.Join("web-accounts", id+".json"), logger))
				if err != nil {
					return nil, nil, err
				}
				return p, p.Close, nil
			},
			Accounts: admin,
		}
		if c.Firebase.EmulatorHost != "" {
			out.Verifier = firebase.NewEmulatorVerifier(c.Firebase.ProjectID)
		} else {
			out.Verifier = firebase.NewOIDCVerifier(ctx, c.Firebase.ProjectID)
		}
		return out, nil
	}
	return nil, fmt.Errorf("unknown provider %q", c.Provider)
}

// OpenSessionStore opens the durable session record named name
func (c *Config) OpenSessionStore(ctx context.Context, cl *closers, name string) (client.SessionStore, error) {
	switch c.Session.Store {
	case "fs":
		return fsclient.NewFSSessionStore(filepath.Join(c.DataDir, name+"-session.json"), "realty")
	case "redis":
		rc, err := c.openRedis(ctx, cl)
		if err != nil {
			return nil, err
		}
		return redisclient.NewRedisSessionStore(rc, name+":"+c.Session.ID, c.Session.TTL).WithContext(ctx), nil
	}
	return nil, fmt.Errorf("unknown session store %q", c.Session.Store)
}

func (c *Config) openRedis(ctx context.Context, cl *closers) (*redis.Client, error) {
	if c.Session.RedisAddr == "" {
		return nil, errors.New("the redis session store needs session.redisAddr or REALTY_REDIS_ADDR")
	}
	rc := redis.NewClient(&redis.Options{Addr: c.Session.RedisAddr})
	cl.add(func() { rc.Close() })
	if err := rc.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connecting to redis: %w", err)
	}
	return rc, nil
}

// visitorManager is one web visitor's session manager together with the
// provider and store opened for it
type visitorManager struct {
	*client.SessionManager
	own closers
}

func (v *visitorManager) Close() { v.own.Close() }

// OpenVisitors returns the front end's ManagerFactory. Each visitor gets its
// own session record, web-sessions/<id>.json or web:<id> in redis, and its own
// sign-in from idp.Visitor.
func (c *Config) OpenVisitors(ctx context.Context, cl *closers, idp *identity, logger *slog.Logger) (ui.ManagerFactory, error) {
	if idp.Visitor == nil {
		return nil, errors.New("the identity provider has no per-visitor sign-in")
	}
	if logger == nil {
		logger = slog.Default()
	}
	var rc *redis.Client
	switch c.Session.Store {
	case "fs":
	case "redis":
		var err error
		if rc, err = c.openRedis(ctx, cl); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("unknown session store %q", c.Session.Store)
	}

	return func(ctx context.Context, id string) (ui.SessionManager, error) {
		// Ids end up in file names and keys
		if _, err := uuid.Parse(id); err != nil {
			return nil, fmt.Errorf("invalid visitor id %q", id)
		}
		var store client.SessionStore
		if rc != nil {
			store = redisclient.NewRedisSessionStore(rc, "web:"+id, c.Session.TTL).WithContext(ctx)
		} else {
			fs, err := fsclient.NewFSSessionStore(filepath.Join(c.DataDir, "web-sessions", id+".json"), "realty")
			if err != nil {
				return nil, err
			}
			store = fs
		}

		provider, release, err := idp.Visitor(ctx, id)
		if err != nil {
			return nil, err
		}
		v := &visitorManager{}
		v.own.add(release)
		v.SessionManager = c.NewManager(provider, store, logger.With("visitor", id))
		v.own.add(v.SessionManager.Close)
		return v, nil
	}, nil
}

// OpenUserStores opens the backend's user directory and verification tokens
func (c *Config) OpenUserStores(ctx context.Context, cl *closers) (ra.UserStore, ra.VerificationTokenStore, error) {
	switch c.Serve.UserStore {
	case "fs":
		return fsstore.NewFSUserStore(c.DataDir), fsstore.NewFSTokenStore(c.DataDir), nil
	case "datastore":
		if c.Serve.DatastoreProject == "" {
			return nil, nil, errors.New("the datastore user store needs serve.datastoreProject or REALTY_DATASTORE_PROJECT")
		}
		dc, err := datastore.NewClient(ctx, c.Serve.DatastoreProject)
		if err != nil {
			return nil, nil, fmt.Errorf("connecting to datastore: %w", err)
		}
		cl.add(func() { dc.Close() })
		ns := c.Serve.DatastoreNamespace
		return gae.NewUserStore(dc, ns).WithContext(ctx), gae.NewTokenStore(dc, ns).WithContext(ctx), nil
	}
	return nil, nil, fmt.Errorf("unknown user store %q", c.Serve.UserStore)
}

// NewManager starts a session manager over the provider and the backend API
func (c *Config) NewManager(provider client.IdentityProvider, store client.SessionStore, logger *slog.Logger) *client.SessionManager {
	return client.NewSessionManager(provider, client.NewBackendClient(c.BackendURL), store, client.WithLogger(logger))
}
