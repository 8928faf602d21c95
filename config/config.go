// Package config loads server settings from the environment, an optional
// .env file, and command line flags, in increasing order of precedence.
package config

import (
	"errors"
	"flag"
	"fmt"
	"strings"
	"time"

	"github.com/joeshaw/envdecode"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
)

type Config struct {
	ListenAddr string `env:"LISTEN_ADDR,default=:3002"`
	LogLevel   string `env:"LOG_LEVEL,default=info"`

	StorageType      string `env:"STORAGE_TYPE,default=memory"`
	LocalStoragePath string `env:"LOCAL_STORAGE_PATH,default=./data"`
	DataSourceName   string `env:"DATA_SOURCE_NAME,default=collab.db"`
	S3BucketName     string `env:"S3_BUCKET_NAME"`
	MongoURI         string `env:"MONGO_URI,default=mongodb://localhost:27017"`
	MongoDatabase    string `env:"MONGO_DATABASE,default=collab"`
	RedisURL         string `env:"REDIS_URL,default=redis://localhost:6379/0"`
	RedisKeyPrefix   string `env:"REDIS_KEY_PREFIX,default=collab:"`

	// JWTSecret enables bearer authentication. Without it the server trusts
	// the user ID a client presents, which is only fit for development.
	JWTSecret string        `env:"JWT_SECRET"`
	TokenTTL  time.Duration `env:"TOKEN_TTL,default=168h"`

	GitHubClientID     string `env:"GITHUB_CLIENT_ID"`
	GitHubClientSecret string `env:"GITHUB_CLIENT_SECRET"`
	GitHubRedirectURL  string `env:"GITHUB_REDIRECT_URL"`
	OIDCIssuerURL      string `env:"OIDC_ISSUER_URL"`
	OIDCClientID       string `env:"OIDC_CLIENT_ID"`
	OIDCClientSecret   string `env:"OIDC_CLIENT_SECRET"`
	OIDCRedirectURL    string `env:"OIDC_REDIRECT_URL"`
	FrontendURL        string `env:"FRONTEND_URL,default=/"`

	// AllowedOrigins is a comma separated list; "*" allows any origin.
	AllowedOrigins string `env:"ALLOWED_ORIGINS,default=*"`

	EditTimeout       time.Duration `env:"EDIT_TIMEOUT,default=5s"`
	AnnounceLeave     bool          `env:"ANNOUNCE_LEAVE,default=false"`
	InboxSize         int           `env:"INBOX_SIZE,default=64"`
	OutboxSize        int           `env:"OUTBOX_SIZE,default=256"`
	MaxHTTPBufferSize int64         `env:"MAX_HTTP_BUFFER_SIZE,default=5000000"`
}

var storageTypes = map[string]bool{
	"memory":     true,
	"filesystem": true,
	"sqlite":     true,
	"s3":         true,
	"mongo":      true,
	"redis":      true,
}

// Load reads .env if present, decodes the environment, then applies flags
// from args.
func Load(args []string) (*Config, error) {
	if err := godotenv.Load(); err != nil {
		logrus.Debug("No .env file found")
	}

	var cfg Config
	if err := envdecode.Decode(&cfg); err != nil && !errors.Is(err, envdecode.ErrNoTargetFieldsAreSet) {
		return nil, fmt.Errorf("decoding environment: %w", err)
	}

	fs := flag.NewFlagSet("collab-docs", flag.ContinueOnError)
	fs.StringVar(&cfg.ListenAddr, "listen", cfg.ListenAddr, "The address to listen on.")
	fs.StringVar(&cfg.LogLevel, "loglevel", cfg.LogLevel, "The log level (debug, info, warn, error).")
	fs.StringVar(&cfg.StorageType, "storage", cfg.StorageType, "The storage backend (memory, filesystem, sqlite, s3, mongo, redis).")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	if _, err := logrus.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("invalid log level: %w", err)
	}
	if !storageTypes[c.StorageType] {
		return fmt.Errorf("unknown storage type %q", c.StorageType)
	}
	if c.StorageType == "s3" && c.S3BucketName == "" {
		return errors.New("S3_BUCKET_NAME must be set for s3 storage type")
	}
	if c.EditTimeout < 0 {
		return errors.New("EDIT_TIMEOUT must not be negative")
	}
	if c.InboxSize <= 0 || c.OutboxSize <= 0 {
		return errors.New("INBOX_SIZE and OUTBOX_SIZE must be positive")
	}
	return nil
}

// Origins splits AllowedOrigins into its entries.
func (c *Config) Origins() []string {
	var origins []string
	for _, o := range strings.Split(c.AllowedOrigins, ",") {
		if o = strings.TrimSpace(o); o != "" {
			origins = append(origins, o)
		}
	}
	if len(origins) == 0 {
		return []string{"*"}
	}
	return origins
}

// AuthEnabled reports whether connections must present a signed token.
func (c *Config) AuthEnabled() bool {
	return c.JWTSecret != ""
}
