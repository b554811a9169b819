// Package config loads the service configuration from the environment and
// exposes the token secrets as a reloadable auth.SecretsProvider.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"sync/atomic"
	"time"

	"github.com/caarlos0/env/v11"
	auth "github.com/goliatone/go-session-auth"
	"github.com/joho/godotenv"
)

// Secret holds the key and lifetime of one token kind
type Secret struct {
	Key string        `env:"SECRET"`
	TTL time.Duration `env:"TTL"`
}

// Secrets groups the per kind secrets
type Secrets struct {
	Access          Secret `envPrefix:"ACCESS_"`
	Refresh         Secret `envPrefix:"REFRESH_"`
	ConfirmEmail    Secret `envPrefix:"CONFIRM_EMAIL_"`
	ConfirmNewEmail Secret `envPrefix:"CONFIRM_NEW_EMAIL_"`
	ForgotPassword  Secret `envPrefix:"FORGOT_"`
}

// Config is the process configuration. Every variable is read with the
// AUTH_ prefix, e.g. AUTH_ACCESS_SECRET.
type Config struct {
	Secrets Secrets

	Issuer   string   `env:"ISSUER" envDefault:"go-session-auth"`
	Audience []string `env:"AUDIENCE" envSeparator:","`
	HTTPAddr string   `env:"HTTP_ADDR" envDefault:":8080"`
	DSN      string   `env:"DSN" envDefault:"file:auth.db?cache=shared"`
	Debug    bool     `env:"DEBUG"`

	DBPingTimeout time.Duration `env:"DB_PING_TIMEOUT" envDefault:"5s"`

	RequireConfirmedEmail bool `env:"REQUIRE_CONFIRMED_EMAIL"`
	HashidUserIDs         bool `env:"HASHID_USER_IDS"`

	AMQPURL   string `env:"AMQP_URL"`
	MailQueue string `env:"MAIL_QUEUE" envDefault:"auth.mail"`

	RedisAddr     string        `env:"REDIS_ADDR"`
	RedisPassword string        `env:"REDIS_PASSWORD"`
	RedisDB       int           `env:"REDIS_DB"`
	LimitAttempts int           `env:"LIMIT_ATTEMPTS" envDefault:"10"`
	LimitWindow   time.Duration `env:"LIMIT_WINDOW" envDefault:"15m"`

	PurgeSchedule string `env:"PURGE_SCHEDULE" envDefault:"0 0 * * * *"`
}

const envPrefix = "AUTH_"

var defaultTTLs = map[auth.TokenKind]time.Duration{
	auth.TokenAccess:          15 * time.Minute,
	auth.TokenRefresh:         30 * 24 * time.Hour,
	auth.TokenConfirmEmail:    24 * time.Hour,
	auth.TokenConfirmNewEmail: 24 * time.Hour,
	auth.TokenForgotPassword:  30 * time.Minute,
}

// Load reads the given dotenv files, when present, and parses the
// environment. Variables already set win over the files.
func Load(files ...string) (*Config, error) {
	return load(godotenv.Load, files...)
}

func load(apply func(filenames ...string) error, files ...string) (*Config, error) {
	existing := make([]string, 0, len(files))
	for _, file := range files {
		if _, err := os.Stat(file); err == nil {
			existing = append(existing, file)
		}
	}

	if len(existing) > 0 {
		if err := apply(existing...); err != nil {
			return nil, fmt.Errorf("load env files: %w", err)
		}
	}

	cfg := &Config{}
	if err := env.ParseWithOptions(cfg, env.Options{Prefix: envPrefix}); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	cfg.applyDefaults()

	return cfg, nil
}

func (c *Config) applyDefaults() {
	for kind, ttl := range defaultTTLs {
		secret := c.Secrets.secret(kind)
		if secret.TTL <= 0 {
			secret.TTL = ttl
		}
	}
}

func (s *Secrets) secret(kind auth.TokenKind) *Secret {
	switch kind {
	case auth.TokenAccess:
		return &s.Access
	case auth.TokenRefresh:
		return &s.Refresh
	case auth.TokenConfirmEmail:
		return &s.ConfirmEmail
	case auth.TokenConfirmNewEmail:
		return &s.ConfirmNewEmail
	case auth.TokenForgotPassword:
		return &s.ForgotPassword
	}
	return nil
}

// TokenSecrets converts the configured secrets into auth.StaticSecrets.
func (c *Config) TokenSecrets() auth.StaticSecrets {
	out := auth.StaticSecrets{}
	for _, kind := range auth.TokenKinds {
		if secret := c.Secrets.secret(kind); secret != nil {
			out[kind] = auth.TokenSecret{Key: []byte(secret.Key), TTL: secret.TTL}
		}
	}
	return out
}

// Validate checks every token kind has a distinct usable secret.
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("config is nil")
	}
	return auth.ValidateSecrets(c.TokenSecrets())
}

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// Persistence is the database view of Config handed to the persistence
// client.
type Persistence struct {
	DSN         string
	Debug       bool
	PingTimeout time.Duration
}

// Persistence returns the database settings.
func (c *Config) Persistence() Persistence {
	return Persistence{
		DSN:         c.DSN,
		Debug:       c.Debug,
		PingTimeout: c.DBPingTimeout,
	}
}

func (p Persistence) GetDebug() bool { return p.Debug }

// GetDriver infers the driver from the DSN scheme, anything that is not a
// postgres URL is opened with sqlite.
func (p Persistence) GetDriver() string {
	if strings.HasPrefix(p.DSN, "postgres://") || strings.HasPrefix(p.DSN, "postgresql://") {
		return DriverPostgres
	}
	return DriverSQLite
}

func (p Persistence) GetServer() string { return p.DSN }

func (p Persistence) GetDSN() string { return p.DSN }

func (p Persistence) GetPingTimeout() time.Duration { return p.PingTimeout }

func (p Persistence) GetOtelIdentifier() string { return "" }

// SecretsProvider serves the token secrets of the last loaded Config. A
// Reload swaps the whole set at once, in-flight calls keep the old one.
type SecretsProvider struct {
	files   []string
	current atomic.Pointer[auth.StaticSecrets]
}

var _ auth.SecretsProvider = (*SecretsProvider)(nil)

// NewSecretsProvider validates cfg and serves its secrets. Reload reads
// files again.
func NewSecretsProvider(cfg *Config, files ...string) (*SecretsProvider, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	p := &SecretsProvider{files: files}
	secrets := cfg.TokenSecrets()
	p.current.Store(&secrets)
	return p, nil
}

func (p *SecretsProvider) TokenSecret(kind auth.TokenKind) (auth.TokenSecret, error) {
	return (*p.current.Load()).TokenSecret(kind)
}

// Reload reads the files again, their values win over the environment, and
// swaps the secrets when they are valid. Invalid secrets are rejected and
// the previous set stays in place.
func (p *SecretsProvider) Reload() error {
	cfg, err := load(godotenv.Overload, p.files...)
	if err != nil {
		return err
	}

	if err := cfg.Validate(); err != nil {
		return err
	}

	secrets := cfg.TokenSecrets()
	p.current.Store(&secrets)
	return nil
}
