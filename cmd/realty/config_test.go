package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig_Defaults(t *testing.T) {
	t.Setenv("REALTY_PROVIDER", "")
	t.Setenv("REALTY_BACKEND_URL", "")

	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"), false)
	require.NoError(t, err)
	assert.Equal(t, "local", cfg.Provider)
	assert.Equal(t, ":8080", cfg.Serve.Addr)
	assert.Equal(t, "http://localhost:8081", cfg.BackendURL)
	assert.Equal(t, "http://localhost:8080", cfg.Serve.BaseURL)
	assert.Equal(t, "fs", cfg.Session.Store)
	assert.Equal(t, 10*time.Second, cfg.Serve.ShutdownTimeout)
}

func TestLoadConfig_MissingExplicitFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"), true)
	assert.Error(t, err)
}

func TestLoadConfig_FileThenEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
provider: firebase
dataDir: /var/lib/realty
firebase:
  apiKey: file-key
  projectID: realty-dev
serve:
  apiAddr: ":9001"
  shutdownTimeout: 3s
session:
  store: redis
  redisAddr: localhost:6379
  ttl: 24h
log:
  format: json
`), 0600))
	t.Setenv("REALTY_FIREBASE_API_KEY", "env-key")
	t.Setenv("REALTY_PROVIDER", "")
	t.Setenv("REALTY_BACKEND_URL", "")

	cfg, err := LoadConfig(path, true)
	require.NoError(t, err)
	assert.Equal(t, "firebase", cfg.Provider)
	assert.Equal(t, "/var/lib/realty", cfg.DataDir)
	assert.Equal(t, "env-key", cfg.Firebase.APIKey, "environment wins over the file")
	assert.Equal(t, "realty-dev", cfg.Firebase.ProjectID)
	assert.Equal(t, "http://localhost:9001", cfg.BackendURL)
	assert.Equal(t, 3*time.Second, cfg.Serve.ShutdownTimeout)
	assert.Equal(t, "redis", cfg.Session.Store)
	assert.Equal(t, 24*time.Hour, cfg.Session.TTL)
	assert.Equal(t, "json", cfg.Log.Format)
}

func TestLoadConfig_BadYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("provider: [local"), 0600))
	_, err := LoadConfig(path, true)
	assert.Error(t, err)
}

func TestConfig_Logger(t *testing.T) {
	cfg := &Config{Log: LogConfig{Level: "debug", Format: "json"}}
	logger, err := cfg.Logger()
	require.NoError(t, err)
	assert.NotNil(t, logger)

	cfg.Log.Format = "xml"
	_, err = cfg.Logger()
	assert.Error(t, err)

	cfg.Log = LogConfig{Level: "loud", Format: "text"}
	_, err = cfg.Logger()
	assert.Error(t, err)
}

func TestLocalURL(t *testing.T) {
	assert.Equal(t, "http://localhost:8080", localURL(":8080"))
	assert.Equal(t, "http://127.0.0.1:9000", localURL("127.0.0.1:9000"))
}

func TestOpenIdentity_Errors(t *testing.T) {
	cfg := &Config{Provider: "local", DataDir: t.TempDir()}
	cfg.EnsureDefaults()
	var cl closers
	defer cl.Close()

	_, err := cfg.OpenClientIdentity(t.Context(), &cl, nil)
	assert.ErrorContains(t, err, "secret key")

	cfg.Provider = "ldap"
	_, err = cfg.OpenClientIdentity(t.Context(), &cl, nil)
	assert.ErrorContains(t, err, "unknown provider")

	cfg.Session.Store = "redis"
	_, err = cfg.OpenSessionStore(t.Context(), &cl, "cli")
	assert.ErrorContains(t, err, "redisAddr")

	cfg.Serve.UserStore = "datastore"
	_, _, err = cfg.OpenUserStores(t.Context(), &cl)
	assert.ErrorContains(t, err, "datastoreProject")
}

func TestOpenLocalStack(t *testing.T) {
	cfg := &Config{Provider: "local", DataDir: t.TempDir(), Local: LocalConfig{SecretKey: "test-secret"}}
	cfg.EnsureDefaults()
	var cl closers
	defer cl.Close()

	users, tokens, err := cfg.OpenUserStores(t.Context(), &cl)
	require.NoError(t, err)
	idp, err := cfg.OpenServerIdentity(t.Context(), &cl, tokens, nil, nil)
	require.NoError(t, err)
	assert.NotNil(t, users)
	assert.NotNil(t, idp.Accounts)
	assert.NotNil(t, idp.Verifier)
	assert.NotNil(t, idp.VerifyEmail)

	visitors, err := cfg.OpenVisitors(t.Context(), &cl, idp, nil)
	require.NoError(t, err)

	_, err = visitors(t.Context(), "../accounts")
	assert.ErrorContains(t, err, "invalid visitor id")

	id := uuid.NewString()
	m, err := visitors(t.Context(), id)
	require.NoError(t, err)
	defer m.(*visitorManager).Close()
	sess, err := m.(*visitorManager).WaitSettled(t.Context())
	require.NoError(t, err)
	assert.False(t, sess.IsAuthenticated())
}
