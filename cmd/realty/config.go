package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the CLI configuration. Values come from the YAML file, then
// REALTY_* environment variables, then flags.
type Config struct {
	// Provider is "local" or "firebase"
	Provider string `yaml:"provider"`

	// DataDir holds the local provider's accounts, the fs stores and the CLI session
	DataDir string `yaml:"dataDir"`

	// BackendURL is where the CLI and the web front end reach the backend API
	BackendURL string `yaml:"backendURL"`

	Local    LocalConfig    `yaml:"local"`
	Firebase FirebaseConfig `yaml:"firebase"`
	Serve    ServeConfig    `yaml:"serve"`
	Session  SessionConfig  `yaml:"session"`
	Log      LogConfig      `yaml:"log"`
}

type LocalConfig struct {
	SecretKey string `yaml:"secretKey"`
}

type FirebaseConfig struct {
	APIKey          string `yaml:"apiKey"`
	ProjectID       string `yaml:"projectID"`
	CredentialsFile string `yaml:"credentialsFile"`
	EmulatorHost    string `yaml:"emulatorHost"`
}

type ServeConfig struct {
	Addr    string `yaml:"addr"`
	APIAddr string `yaml:"apiAddr"`

	// BaseURL is the public URL of the web front end, used in verification links
	BaseURL string `yaml:"baseURL"`

	// UserStore is "fs" or "datastore"
	UserStore          string `yaml:"userStore"`
	DatastoreProject   string `yaml:"datastoreProject"`
	DatastoreNamespace string `yaml:"datastoreNamespace"`

	ShutdownTimeout time.Duration `yaml:"shutdownTimeout"`
}

type SessionConfig struct {
	// Store is "fs" or "redis"
	Store     string        `yaml:"store"`
	RedisAddr string        `yaml:"redisAddr"`
	ID        string        `yaml:"id"`
	TTL       time.Duration `yaml:"ttl"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// DefaultConfigPath is ~/.config/realty/config.yaml
func DefaultConfigPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "config.yaml"
	}
	return filepath.Join(dir, "realty", "config.yaml")
}

// LoadConfig reads the YAML file at path and applies the environment. A
// missing file is not an error unless the path was given explicitly.
func LoadConfig(path string, explicit bool) (*Config, error) {
	cfg := &Config{}
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing %s: %w", path, err)
		}
	case errors.Is(err, os.ErrNotExist) && !explicit:
	default:
		return nil, fmt.Errorf("reading config: %w", err)
	}
	cfg.applyEnv(os.Getenv)
	cfg.EnsureDefaults()
	return cfg, nil
}

func (c *Config) applyEnv(getenv func(string) string) {
	set := func(dst *string, key string) {
		if v := getenv(key); v != "" {
			*dst = v
		}
	}
	set(&c.Provider, "REALTY_PROVIDER")
	set(&c.DataDir, "REALTY_DATA_DIR")
	set(&c.BackendURL, "REALTY_BACKEND_URL")
	set(&c.Local.SecretKey, "REALTY_SECRET_KEY")
	set(&c.Firebase.APIKey, "REALTY_FIREBASE_API_KEY")
	set(&c.Firebase.ProjectID, "REALTY_FIREBASE_PROJECT_ID")
	set(&c.Firebase.CredentialsFile, "GOOGLE_APPLICATION_CREDENTIALS")
	set(&c.Firebase.EmulatorHost, "FIREBASE_AUTH_EMULATOR_HOST")
	set(&c.Serve.BaseURL, "REALTY_BASE_URL")
	set(&c.Serve.UserStore, "REALTY_USER_STORE")
	set(&c.Serve.DatastoreProject, "REALTY_DATASTORE_PROJECT")
	set(&c.Session.Store, "REALTY_SESSION_STORE")
	set(&c.Session.RedisAddr, "REALTY_REDIS_ADDR")
	set(&c.Log.Level, "REALTY_LOG_LEVEL")
	set(&c.Log.Format, "REALTY_LOG_FORMAT")
}

// EnsureDefaults fills in defaults for unset fields
func (c *Config) EnsureDefaults() {
	if c.Provider == "" {
		c.Provider = "local"
	}
	if c.DataDir == "" {
		c.DataDir = filepath.Join(filepath.Dir(DefaultConfigPath()), "data")
	}
	if c.Serve.Addr == "" {
		c.Serve.Addr = ":8080"
	}
	if c.Serve.APIAddr == "" {
		c.Serve.APIAddr = ":8081"
	}
	if c.Serve.BaseURL == "" {
		c.Serve.BaseURL = localURL(c.Serve.Addr)
	}
	if c.BackendURL == "" {
		c.BackendURL = localURL(c.Serve.APIAddr)
	}
	if c.Serve.UserStore == "" {
		c.Serve.UserStore = "fs"
	}
	if c.Serve.ShutdownTimeout <= 0 {
		c.Serve.ShutdownTimeout = 10 * time.Second
	}
	if c.Session.Store == "" {
		c.Session.Store = "fs"
	}
	if c.Session.ID == "" {
		c.Session.ID = "cli"
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "text"
	}
}

// Logger builds the slog logger the config asks for
func (c *Config) Logger() (*slog.Logger, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.Log.Level)); err != nil {
		return nil, fmt.Errorf("log level %q: %w", c.Log.Level, err)
	}
	opts := &slog.HandlerOptions{Level: level}
	switch strings.ToLower(c.Log.Format) {
	case "json":
		return slog.New(slog.NewJSONHandler(os.Stderr, opts)), nil
	case "text":
		return slog.New(slog.NewTextHandler(os.Stderr, opts)), nil
	}
	return nil, fmt.Errorf("unknown log format %q", c.Log.Format)
}
