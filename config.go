package authcore

import (
	"errors"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config is the full engine configuration. Zero value is not usable; start
// from [DefaultConfig] or [ConfigFromEnv] and override.
type Config struct {
	Token     TokenConfig
	Store     StoreConfig
	Password  PasswordConfig
	RateLimit RateLimitConfig
	Metrics   MetricsConfig
}

// TokenConfig drives the access-token codec. TTL is both the access-token
// lifetime and the refresh-session window, matching the single issuance
// window of a session record.
type TokenConfig struct {
	TTL           time.Duration
	SigningMethod string // "hs256" (default) or "ed25519"
	PrivateKey    []byte
	PublicKey     []byte
	Issuer        string
	Leeway        time.Duration
}

// StoreConfig drives the Redis credential store. RevokedRetention is how
// long a revoked or just-expired session record remains visible so replays
// can be told apart from unknown keys.
type StoreConfig struct {
	KeyPrefix        string
	RevokedRetention time.Duration
}

// PasswordConfig holds argon2id cost parameters. Memory is in KB.
type PasswordConfig struct {
	Memory      uint32
	Time        uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32
}

// RateLimitConfig drives login/refresh throttling.
type RateLimitConfig struct {
	Enabled            bool
	MaxLoginAttempts   int
	LoginWindow        time.Duration
	MaxRefreshAttempts int
	RefreshWindow      time.Duration
	ThrottleByIP       bool
}

// MetricsConfig toggles counter collection.
type MetricsConfig struct {
	Enabled bool
}

// DefaultConfig returns the baseline configuration: 1800s token window,
// argon2id at 64 MB / t=3 / p=2, rate limiting and metrics on. Signing
// key material must still be supplied.
func DefaultConfig() Config {
	return Config{
		Token: TokenConfig{
			TTL:           1800 * time.Second,
			SigningMethod: "hs256",
			Issuer:        "authcore",
		},
		Store: StoreConfig{
			KeyPrefix:        "ac",
			RevokedRetention: time.Second,
		},
		Password: PasswordConfig{
			Memory:      64 * 1024,
			Time:        3,
			Parallelism: 2,
			SaltLength:  16,
			KeyLength:   32,
		},
		RateLimit: RateLimitConfig{
			Enabled:            true,
			MaxLoginAttempts:   10,
			LoginWindow:        15 * time.Minute,
			MaxRefreshAttempts: 30,
			RefreshWindow:      time.Minute,
			ThrottleByIP:       true,
		},
		Metrics: MetricsConfig{Enabled: true},
	}
}

type envConfig struct {
	TokenTTL         time.Duration `env:"AUTHCORE_TOKEN_TTL" envDefault:"30m"`
	SigningMethod    string        `env:"AUTHCORE_SIGNING_METHOD" envDefault:"hs256"`
	SigningSecret    string        `env:"AUTHCORE_SIGNING_SECRET"`
	Issuer           string        `env:"AUTHCORE_ISSUER" envDefault:"authcore"`
	KeyPrefix        string        `env:"AUTHCORE_KEY_PREFIX" envDefault:"ac"`
	RevokedRetention time.Duration `env:"AUTHCORE_REVOKED_RETENTION" envDefault:"1s"`
	RateLimit        bool          `env:"AUTHCORE_RATE_LIMIT" envDefault:"true"`
	Metrics          bool          `env:"AUTHCORE_METRICS" envDefault:"true"`
}

// ConfigFromEnv builds a config from AUTHCORE_* environment variables on
// top of [DefaultConfig]. Only hs256 secrets can be passed this way; for
// ed25519 deployments set the key material in code.
func ConfigFromEnv() (Config, error) {
	var e envConfig
	if err := env.Parse(&e); err != nil {
		return Config{}, err
	}

	cfg := DefaultConfig()
	cfg.Token.TTL = e.TokenTTL
	cfg.Token.SigningMethod = e.SigningMethod
	cfg.Token.Issuer = e.Issuer
	if e.SigningSecret != "" {
		cfg.Token.PrivateKey = []byte(e.SigningSecret)
	}
	cfg.Store.KeyPrefix = e.KeyPrefix
	cfg.Store.RevokedRetention = e.RevokedRetention
	cfg.RateLimit.Enabled = e.RateLimit
	cfg.Metrics.Enabled = e.Metrics
	return cfg, cfg.validate()
}

func (c Config) validate() error {
	if c.Token.TTL <= 0 {
		return errors.New("authcore: token TTL must be positive")
	}
	if c.Store.KeyPrefix == "" {
		return errors.New("authcore: store key prefix must not be empty")
	}
	if c.Store.RevokedRetention <= 0 {
		return errors.New("authcore: revoked retention must be positive")
	}
	if c.RateLimit.Enabled {
		if c.RateLimit.MaxLoginAttempts < 1 || c.RateLimit.MaxRefreshAttempts < 1 {
			return errors.New("authcore: rate limit budgets must be >= 1")
		}
		if c.RateLimit.LoginWindow <= 0 || c.RateLimit.RefreshWindow <= 0 {
			return errors.New("authcore: rate limit windows must be positive")
		}
	}
	return nil
}
