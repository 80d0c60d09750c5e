package authcore

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/togglebay/authcore/internal/rate"
	"github.com/togglebay/authcore/password"
	"github.com/togglebay/authcore/store"
	"github.com/togglebay/authcore/token"
)

// Builder wires a [Manager]. Construction is allocation-only until Build,
// which validates the configuration and performs one connectivity check
// against Redis.
type Builder struct {
	config Config
	redis  redis.UniversalClient
	clock  func() time.Time
}

// New returns a [Builder] seeded with [DefaultConfig].
func New() *Builder {
	return &Builder{config: DefaultConfig()}
}

// WithConfig replaces the builder's configuration.
func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cfg
	return b
}

// WithRedis sets the Redis client backing the credential store and rate
// limiter.
func (b *Builder) WithRedis(client redis.UniversalClient) *Builder {
	b.redis = client
	return b
}

// WithClock overrides the time source for the whole engine: session record
// timestamps, token iat/exp claims, and the store's expiry comparisons all
// read from it. Tests use this; production code never should.
func (b *Builder) WithClock(now func() time.Time) *Builder {
	b.clock = now
	return b
}

// Build validates configuration, constructs the codec, hasher, store, and
// limiter, pings Redis, and returns the ready [Manager].
func (b *Builder) Build(ctx context.Context) (*Manager, error) {
	if b.redis == nil {
		return nil, errors.New("authcore: a Redis client is required")
	}
	if err := b.config.validate(); err != nil {
		return nil, err
	}

	clock := b.clock
	if clock == nil {
		clock = time.Now
	}

	codec, err := token.NewCodec(token.Config{
		TTL:           b.config.Token.TTL,
		SigningMethod: token.SigningMethod(b.config.Token.SigningMethod),
		PrivateKey:    b.config.Token.PrivateKey,
		PublicKey:     b.config.Token.PublicKey,
		Issuer:        b.config.Token.Issuer,
		Leeway:        b.config.Token.Leeway,
		Clock:         clock,
	})
	if err != nil {
		return nil, err
	}

	hasher, err := password.New(password.Config{
		Memory:      b.config.Password.Memory,
		Time:        b.config.Password.Time,
		Parallelism: b.config.Password.Parallelism,
		SaltLength:  b.config.Password.SaltLength,
		KeyLength:   b.config.Password.KeyLength,
	})
	if err != nil {
		return nil, err
	}

	st := store.New(b.redis, b.config.Store.KeyPrefix, b.config.Store.RevokedRetention).WithClock(clock)
	if _, err := st.Ping(ctx); err != nil {
		return nil, err
	}

	var limiter *rate.Limiter
	if b.config.RateLimit.Enabled {
		limiter = rate.New(b.redis, rate.Config{
			MaxLoginAttempts:   b.config.RateLimit.MaxLoginAttempts,
			LoginWindow:        b.config.RateLimit.LoginWindow,
			MaxRefreshAttempts: b.config.RateLimit.MaxRefreshAttempts,
			RefreshWindow:      b.config.RateLimit.RefreshWindow,
			ThrottleByIP:       b.config.RateLimit.ThrottleByIP,
		})
	}

	return &Manager{
		config:  b.config,
		store:   st,
		codec:   codec,
		hasher:  hasher,
		limiter: limiter,
		metrics: newMetrics(b.config.Metrics.Enabled),
		now:     clock,
	}, nil
}
