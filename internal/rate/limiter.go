package rate

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrLimited is returned when an identifier or IP has exhausted its
// attempt budget for the current window.
var ErrLimited = errors.New("rate limited")

// ErrUnavailable wraps Redis transport failures.
var ErrUnavailable = errors.New("rate limiter unavailable")

// Config holds rate limiter tuning parameters.
type Config struct {
	MaxLoginAttempts   int
	LoginWindow        time.Duration
	MaxRefreshAttempts int
	RefreshWindow      time.Duration
	ThrottleByIP       bool
}

// Limiter enforces fixed-window attempt budgets for login (per e-mail and
// optionally per IP) and refresh (per refresh key) using Redis counters.
type Limiter struct {
	redis  redis.UniversalClient
	config Config
}

// New creates a [Limiter] backed by the given Redis client.
func New(client redis.UniversalClient, cfg Config) *Limiter {
	return &Limiter{redis: client, config: cfg}
}

func loginEmailKey(email string) string {
	return "arl:l:e:" + strings.ToLower(email)
}

func loginIPKey(ip string) string {
	return "arl:l:ip:" + ip
}

func refreshKey(key string) string {
	return "arl:r:" + key
}

// CheckLogin reports whether the e-mail+IP pair is still within the login
// attempt budget without consuming an attempt.
func (l *Limiter) CheckLogin(ctx context.Context, email, ip string) error {
	if err := l.check(ctx, loginEmailKey(email), l.config.MaxLoginAttempts); err != nil {
		return err
	}
	if l.config.ThrottleByIP && ip != "" {
		return l.check(ctx, loginIPKey(ip), l.config.MaxLoginAttempts)
	}
	return nil
}

// RecordLoginFailure counts a failed login attempt against the e-mail+IP
// pair. Returns [ErrLimited] when the budget is now exhausted.
func (l *Limiter) RecordLoginFailure(ctx context.Context, email, ip string) error {
	count, err := l.increment(ctx, loginEmailKey(email), l.config.LoginWindow)
	if err != nil {
		return err
	}
	if count > int64(l.config.MaxLoginAttempts) {
		return ErrLimited
	}

	if l.config.ThrottleByIP && ip != "" {
		count, err = l.increment(ctx, loginIPKey(ip), l.config.LoginWindow)
		if err != nil {
			return err
		}
		if count > int64(l.config.MaxLoginAttempts) {
			return ErrLimited
		}
	}
	return nil
}

// ResetLogin clears the failure counters after a successful login.
func (l *Limiter) ResetLogin(ctx context.Context, email, ip string) error {
	keys := []string{loginEmailKey(email)}
	if l.config.ThrottleByIP && ip != "" {
		keys = append(keys, loginIPKey(ip))
	}
	if err := l.redis.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

// CheckRefresh consumes one refresh attempt for the given refresh key and
// returns [ErrLimited] when the window budget is exceeded. Counting every
// attempt is intentional: a hot refresh key is either a broken client or a
// replay probe.
func (l *Limiter) CheckRefresh(ctx context.Context, key string) error {
	count, err := l.increment(ctx, refreshKey(key), l.config.RefreshWindow)
	if err != nil {
		return err
	}
	if count > int64(l.config.MaxRefreshAttempts) {
		return ErrLimited
	}
	return nil
}

func (l *Limiter) check(ctx context.Context, key string, max int) error {
	count, err := l.redis.Get(ctx, key).Int64()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil
		}
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if count >= int64(max) {
		return ErrLimited
	}
	return nil
}

func (l *Limiter) increment(ctx context.Context, key string, window time.Duration) (int64, error) {
	count, err := l.redis.Incr(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if count == 1 {
		if err := l.redis.Expire(ctx, key, window).Err(); err != nil {
			return 0, fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
	}
	return count, nil
}
