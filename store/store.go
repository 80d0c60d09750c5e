package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrNotFound is returned when the requested credential or session record
// does not exist.
var ErrNotFound = errors.New("record not found")

// ErrCredentialExists is returned when inserting a credential whose e-mail
// is already claimed.
var ErrCredentialExists = errors.New("credential already exists")

// ErrSessionExpired is returned when the revoke target session exists but
// its expiry has passed.
var ErrSessionExpired = errors.New("session expired")

// ErrSessionRevoked is returned when the revoke target session was already
// revoked. On the refresh path this is the replay signal.
var ErrSessionRevoked = errors.New("session already revoked")

// ErrSessionCorrupt is returned when a stored session blob fails to decode.
var ErrSessionCorrupt = errors.New("session record corrupt")

// ErrUnavailable wraps Redis transport failures.
var ErrUnavailable = errors.New("store unavailable")

const (
	revokeStatusNotFound int64 = 0
	revokeStatusExpired  int64 = 1
	revokeStatusRevoked  int64 = 2
	revokeStatusOK       int64 = 3
	revokeStatusCorrupt  int64 = 4
)

// revokeSessionScript is the conditional revoke: it rejects absent,
// expired, and already-revoked records before mutating, so exactly one of
// any number of concurrent callers can win a rotation. A revoked record is
// kept for a short grace TTL (ARGV[4], ms) so replays inside the window are
// classified as reuse rather than not-found.
const revokeSessionScript = `
local data = redis.call("GET", KEYS[1])
if not data then
  return {0}
end

local ok, sess = pcall(cjson.decode, data)
if not ok or type(sess) ~= "table" or not sess.expiresAt then
  return {4}
end

local now = tonumber(ARGV[1])
if sess.expiresAt <= now then
  redis.call("DEL", KEYS[1])
  redis.call("SREM", KEYS[2], ARGV[3])
  return {1}
end

if sess.revokedAt then
  return {2}
end

sess.revokedAt = now
sess.revokedIp = ARGV[2]
local updated = cjson.encode(sess)
redis.call("SET", KEYS[1], updated, "PX", tonumber(ARGV[4]))
redis.call("SREM", KEYS[2], ARGV[3])
return {3, updated}
`

var revokeSessionLua = redis.NewScript(revokeSessionScript)

// Store persists credentials and refresh-session records in Redis as JSON
// documents. Session keys embed the owning user ID in a hash tag, so every
// session read/write for one user lands in the same cluster slot — the
// partition-key contract of the backing store.
type Store struct {
	redis     redis.UniversalClient
	prefix    string
	retention time.Duration
	now       func() time.Time
}

// New creates a [Store]. prefix namespaces all keys; retention bounds how
// long revoked or just-expired records stay visible for replay
// classification.
func New(client redis.UniversalClient, prefix string, retention time.Duration) *Store {
	if retention <= 0 {
		retention = time.Second
	}
	return &Store{
		redis:     client,
		prefix:    prefix,
		retention: retention,
		now:       time.Now,
	}
}

// WithClock overrides the time source used for session TTLs and expiry
// decisions. Record timestamps, Redis TTLs, and the revoke script's expiry
// comparison all read from it.
func (s *Store) WithClock(now func() time.Time) *Store {
	if now != nil {
		s.now = now
	}
	return s
}

func (s *Store) credentialKey(id string) string {
	return s.prefix + ":cred:{" + id + "}"
}

func (s *Store) emailKey(email string) string {
	return s.prefix + ":email:" + strings.ToLower(email)
}

func (s *Store) sessionKey(userID, key string) string {
	return s.prefix + ":rt:{" + userID + "}:" + key
}

func (s *Store) userSessionsKey(userID string) string {
	return s.prefix + ":rts:{" + userID + "}"
}

// InsertCredential stores a new credential and claims its e-mail. Returns
// [ErrCredentialExists] when the e-mail is already taken.
//
// The document is written before the e-mail claim: the document key is a
// fresh ID and cannot conflict, so a failure on either step never leaves
// an e-mail claimed without a credential behind it. A failed claim rolls
// the document back.
func (s *Store) InsertCredential(ctx context.Context, cred *Credential) error {
	data, err := json.Marshal(cred)
	if err != nil {
		return err
	}

	if err := s.redis.Set(ctx, s.credentialKey(cred.ID), data, 0).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	claimed, err := s.redis.SetNX(ctx, s.emailKey(cred.Email), cred.ID, 0).Result()
	if err != nil {
		s.redis.Del(ctx, s.credentialKey(cred.ID))
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if !claimed {
		if err := s.redis.Del(ctx, s.credentialKey(cred.ID)).Err(); err != nil {
			return fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
		return ErrCredentialExists
	}
	return nil
}

// FindCredentialByEmail resolves the e-mail index and loads the credential
// document. Returns [ErrNotFound] when no credential claims the address.
func (s *Store) FindCredentialByEmail(ctx context.Context, email string) (*Credential, error) {
	id, err := s.redis.Get(ctx, s.emailKey(email)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return s.FindCredentialByID(ctx, id)
}

// FindCredentialByID loads a credential document from its partition.
func (s *Store) FindCredentialByID(ctx context.Context, id string) (*Credential, error) {
	data, err := s.redis.Get(ctx, s.credentialKey(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	var cred Credential
	if err := json.Unmarshal(data, &cred); err != nil {
		return nil, fmt.Errorf("credential record corrupt: %w", err)
	}
	return &cred, nil
}

// InsertSession persists a new session record under the owning user's
// partition and indexes it in the user's session set. The record's Redis
// TTL runs to its expiry plus the retention grace window.
func (s *Store) InsertSession(ctx context.Context, sess *Session) error {
	data, err := json.Marshal(sess)
	if err != nil {
		return err
	}

	ttl := time.Unix(sess.ExpiresAt, 0).Sub(s.now()) + s.retention
	if ttl < s.retention {
		ttl = s.retention
	}

	sessionKey := s.sessionKey(sess.UserID, sess.Key)
	_, err = s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, sessionKey, data, ttl)
		pipe.SAdd(ctx, s.userSessionsKey(sess.UserID), sess.Key)
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

// FindSessionByKeyAndUser loads the session record for the exact
// (key, userID) pair, regardless of its revoked/expired state. Policy
// checks belong to [Store.RevokeSession] and the caller.
func (s *Store) FindSessionByKeyAndUser(ctx context.Context, key, userID string) (*Session, error) {
	data, err := s.redis.Get(ctx, s.sessionKey(userID, key)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	var sess Session
	if err := json.Unmarshal(data, &sess); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSessionCorrupt, err)
	}
	return &sess, nil
}

// RevokeSession atomically marks the (key, userID) session revoked with
// origin ip, shrinking its remaining TTL to the retention grace window,
// and returns the updated record. The compare-and-swap runs server-side:
// absent records return [ErrNotFound], expired ones [ErrSessionExpired],
// already-revoked ones [ErrSessionRevoked]. Concurrent callers racing on
// the same key see exactly one success.
func (s *Store) RevokeSession(ctx context.Context, key, userID, ip string) (*Session, error) {
	result, err := revokeSessionLua.Run(
		ctx,
		s.redis,
		[]string{s.sessionKey(userID, key), s.userSessionsKey(userID)},
		s.now().Unix(),
		ip,
		key,
		s.retention.Milliseconds(),
	).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	parts, ok := result.([]interface{})
	if !ok || len(parts) == 0 {
		return nil, fmt.Errorf("%w: invalid revoke script response", ErrUnavailable)
	}
	code, ok := parts[0].(int64)
	if !ok {
		return nil, fmt.Errorf("%w: invalid revoke script status", ErrUnavailable)
	}

	switch code {
	case revokeStatusNotFound:
		return nil, ErrNotFound
	case revokeStatusExpired:
		return nil, ErrSessionExpired
	case revokeStatusRevoked:
		return nil, ErrSessionRevoked
	case revokeStatusCorrupt:
		return nil, ErrSessionCorrupt
	case revokeStatusOK:
		if len(parts) < 2 {
			return nil, fmt.Errorf("%w: missing revoked session payload", ErrUnavailable)
		}
		var blob []byte
		switch v := parts[1].(type) {
		case string:
			blob = []byte(v)
		case []byte:
			blob = v
		default:
			return nil, fmt.Errorf("%w: invalid revoked session payload", ErrUnavailable)
		}
		var sess Session
		if err := json.Unmarshal(blob, &sess); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrSessionCorrupt, err)
		}
		return &sess, nil
	default:
		return nil, fmt.Errorf("%w: unknown revoke script status %d", ErrUnavailable, code)
	}
}

// SessionKeysForUser returns the refresh keys in a user's partition whose
// records still exist. Index entries whose records have lapsed are skipped.
func (s *Store) SessionKeysForUser(ctx context.Context, userID string) ([]string, error) {
	keys, err := s.redis.SMembers(ctx, s.userSessionsKey(userID)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if len(keys) == 0 {
		return nil, nil
	}

	pipe := s.redis.Pipeline()
	existsCmds := make([]*redis.IntCmd, len(keys))
	for i, key := range keys {
		existsCmds[i] = pipe.Exists(ctx, s.sessionKey(userID, key))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	live := make([]string, 0, len(keys))
	for i, cmd := range existsCmds {
		n, cmdErr := cmd.Result()
		if cmdErr != nil {
			return nil, fmt.Errorf("%w: %v", ErrUnavailable, cmdErr)
		}
		if n > 0 {
			live = append(live, keys[i])
		}
	}
	return live, nil
}

// ActiveSessionCount returns the number of live session records in a
// user's partition.
func (s *Store) ActiveSessionCount(ctx context.Context, userID string) (int, error) {
	keys, err := s.SessionKeysForUser(ctx, userID)
	if err != nil {
		return 0, err
	}
	return len(keys), nil
}

// Ping returns a point-in-time Redis availability check and latency.
func (s *Store) Ping(ctx context.Context) (time.Duration, error) {
	start := time.Now()
	if err := s.redis.Ping(ctx).Err(); err != nil {
		return time.Since(start), fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return time.Since(start), nil
}
