package authcore

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/togglebay/authcore/internal/rate"
	"github.com/togglebay/authcore/password"
	"github.com/togglebay/authcore/store"
	"github.com/togglebay/authcore/token"
)

const (
	unauthorizedTitle   = "Unauthorized"
	badCredentialDetail = "Incorrect e-mail or password."
	tokenExpiredTitle   = "The access token expired"
	conflictTitle       = "User already exists"
	invalidRequestTitle = "Invalid request"
	throttledTitle      = "Too many attempts"
)

// Manager orchestrates the session lifecycle: login, refresh-token
// rotation, and explicit revocation. Construct through [Builder]; safe for
// concurrent use afterwards.
//
// Expected failures never surface as errors. Login and Refresh return
// (nil, nil) and record the reason on the request's [Notifier]; returned
// errors mean infrastructure trouble (store down, signing failure).
type Manager struct {
	config  Config
	store   *store.Store
	codec   *token.Codec
	hasher  *password.Hasher
	limiter *rate.Limiter
	metrics *Metrics
	now     func() time.Time
}

// Login verifies the e-mail/password pair and, on success, persists a new
// session record under the credential's partition and returns its token
// bundle. originIP is recorded on the session for audit.
func (m *Manager) Login(ctx context.Context, in LoginInput, originIP string) (*TokenPair, error) {
	if m == nil || m.store == nil {
		return nil, ErrNotReady
	}
	notifier := notifierFromContext(ctx)

	if fieldErrs := ValidateLogin(in); len(fieldErrs) > 0 {
		for _, fe := range fieldErrs {
			notifier.Add(http.StatusBadRequest, invalidRequestTitle, fe.Field+" "+fe.Message)
		}
		m.metrics.inc(MetricLoginFailure)
		return nil, nil
	}

	if m.limiter != nil {
		if err := m.limiter.CheckLogin(ctx, in.Email, originIP); err != nil {
			if errors.Is(err, rate.ErrLimited) {
				notifier.Add(http.StatusTooManyRequests, throttledTitle, "")
				m.metrics.inc(MetricLoginRateLimited)
				return nil, nil
			}
			return nil, err
		}
	}

	cred, err := m.store.FindCredentialByEmail(ctx, in.Email)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, m.failLogin(ctx, notifier, in.Email, originIP)
		}
		return nil, err
	}

	ok, err := m.hasher.Verify(in.Password, cred.PasswordHash)
	if err != nil || !ok {
		return nil, m.failLogin(ctx, notifier, in.Email, originIP)
	}

	if m.limiter != nil {
		// Counter reset is best-effort; a failed reset only shortens the
		// window for legitimate retries.
		_ = m.limiter.ResetLogin(ctx, in.Email, originIP)
	}

	pair, err := m.issue(ctx, cred.ID, cred.Name, cred.Email, originIP)
	if err != nil {
		m.metrics.inc(MetricLoginFailure)
		return nil, err
	}
	m.metrics.inc(MetricLoginSuccess)
	return pair, nil
}

func (m *Manager) failLogin(ctx context.Context, notifier Notifier, email, originIP string) error {
	if m.limiter != nil {
		_ = m.limiter.RecordLoginFailure(ctx, email, originIP)
	}
	m.metrics.inc(MetricLoginFailure)
	notifier.Add(http.StatusUnauthorized, unauthorizedTitle, badCredentialDetail)
	return nil
}

// Refresh rotates the (key, userID) session: the existing record is
// atomically revoked with originIP stamped, identity claims are recovered
// from the access token stored alongside it, and a fresh session with a
// new key and token is persisted and returned. A key can win that race
// exactly once; replays and unknown keys yield (nil, nil) with one
// unauthorized notification.
func (m *Manager) Refresh(ctx context.Context, key, userID, originIP string) (*TokenPair, error) {
	if m == nil || m.store == nil {
		return nil, ErrNotReady
	}
	notifier := notifierFromContext(ctx)

	if key == "" || userID == "" {
		notifier.Add(http.StatusUnauthorized, tokenExpiredTitle, "")
		m.metrics.inc(MetricRefreshFailure)
		return nil, nil
	}

	if m.limiter != nil {
		if err := m.limiter.CheckRefresh(ctx, key); err != nil {
			if errors.Is(err, rate.ErrLimited) {
				notifier.Add(http.StatusTooManyRequests, throttledTitle, "")
				m.metrics.inc(MetricRefreshFailure)
				return nil, nil
			}
			return nil, err
		}
	}

	old, err := m.store.RevokeSession(ctx, key, userID, originIP)
	if err != nil {
		switch {
		case errors.Is(err, store.ErrSessionRevoked):
			m.metrics.inc(MetricRefreshReuseDetected)
			fallthrough
		case errors.Is(err, store.ErrNotFound), errors.Is(err, store.ErrSessionExpired):
			notifier.Add(http.StatusUnauthorized, tokenExpiredTitle, "")
			m.metrics.inc(MetricRefreshFailure)
			return nil, nil
		default:
			return nil, err
		}
	}
	m.metrics.inc(MetricSessionRevoked)

	// The old record's access token is the claims carrier for rotation.
	// Signature is verified, expiry is not: the token is normally already
	// past its access window here.
	claims, err := m.codec.DecodeClaims(old.JWT)
	if err != nil {
		m.metrics.inc(MetricTokenDecodeFailure)
		m.metrics.inc(MetricRefreshFailure)
		notifier.Add(http.StatusUnauthorized, unauthorizedTitle, "Stored access token failed verification.")
		return nil, nil
	}

	pair, err := m.issue(ctx, claims.Subject, claims.Name, claims.Email, originIP)
	if err != nil {
		m.metrics.inc(MetricRefreshFailure)
		return nil, err
	}
	m.metrics.inc(MetricRefreshSuccess)
	return pair, nil
}

// issue mints a refresh key plus access token and persists the session
// record under the user's partition with expires = created + TTL.
func (m *Manager) issue(ctx context.Context, userID, name, email, originIP string) (*TokenPair, error) {
	key, err := token.NewKey()
	if err != nil {
		return nil, err
	}
	accessToken, err := m.codec.CreateAccessToken(userID, name, email)
	if err != nil {
		return nil, err
	}

	now := m.now()
	sess := &store.Session{
		Key:       key,
		UserID:    userID,
		JWT:       accessToken,
		CreatedAt: now.Unix(),
		CreatedIP: originIP,
		ExpiresAt: now.Add(m.config.Token.TTL).Unix(),
	}
	if err := m.store.InsertSession(ctx, sess); err != nil {
		return nil, err
	}
	m.metrics.inc(MetricSessionCreated)

	return &TokenPair{AccessToken: accessToken, RefreshKey: key}, nil
}

// Revoke invalidates the (key, userID) session without issuing a
// successor. Revoking an already-revoked session is a no-op; an unknown or
// expired key returns [ErrUnauthorized].
func (m *Manager) Revoke(ctx context.Context, key, userID, originIP string) error {
	if m == nil || m.store == nil {
		return ErrNotReady
	}

	_, err := m.store.RevokeSession(ctx, key, userID, originIP)
	switch {
	case err == nil:
		m.metrics.inc(MetricSessionRevoked)
		return nil
	case errors.Is(err, store.ErrSessionRevoked):
		return nil
	case errors.Is(err, store.ErrNotFound), errors.Is(err, store.ErrSessionExpired):
		return ErrUnauthorized
	default:
		return err
	}
}

// RegisterCredential provisions a credential with a hashed password and a
// fresh ID. A taken e-mail records one conflict notification and returns
// (nil, nil); invalid input records field notifications.
func (m *Manager) RegisterCredential(ctx context.Context, name, email, passwd string) (*store.Credential, error) {
	if m == nil || m.store == nil {
		return nil, ErrNotReady
	}
	notifier := notifierFromContext(ctx)

	if fieldErrs := ValidateRegistration(name, LoginInput{Email: email, Password: passwd}); len(fieldErrs) > 0 {
		for _, fe := range fieldErrs {
			notifier.Add(http.StatusBadRequest, invalidRequestTitle, fe.Field+" "+fe.Message)
		}
		return nil, nil
	}

	hash, err := m.hasher.Hash(passwd)
	if err != nil {
		return nil, err
	}

	cred := &store.Credential{
		ID:           uuid.NewString(),
		Name:         name,
		Email:        email,
		PasswordHash: hash,
	}
	if err := m.store.InsertCredential(ctx, cred); err != nil {
		if errors.Is(err, store.ErrCredentialExists) {
			notifier.Add(http.StatusConflict, conflictTitle, "")
			return nil, nil
		}
		return nil, err
	}
	return cred, nil
}

// SessionCount returns the number of live session records in the user's
// partition. Multiple concurrent sessions per user are allowed; each login
// adds one.
func (m *Manager) SessionCount(ctx context.Context, userID string) (int, error) {
	if m == nil || m.store == nil {
		return 0, ErrNotReady
	}
	return m.store.ActiveSessionCount(ctx, userID)
}

// MetricsSnapshot returns a point-in-time copy of the engine counters.
func (m *Manager) MetricsSnapshot() MetricsSnapshot {
	return m.metrics.Snapshot()
}

// Metrics exposes the counter set, e.g. for the Prometheus text renderer.
func (m *Manager) Metrics() *Metrics {
	return m.metrics
}
