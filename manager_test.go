package authcore

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/togglebay/authcore/store"
)

const testOriginIP = "203.0.113.5"

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Token.PrivateKey = []byte("0123456789abcdef0123456789abcdef")
	// Keep hashing cheap in tests.
	cfg.Password.Memory = 8 * 1024
	cfg.Password.Time = 1
	cfg.Password.Parallelism = 1
	// Wide enough that replays classify as reuse, not not-found.
	cfg.Store.RevokedRetention = time.Minute
	return cfg
}

func newTestManager(t *testing.T, mutate func(*Config)) (*Manager, *store.Store) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	cfg := testConfig()
	if mutate != nil {
		mutate(&cfg)
	}

	m, err := New().WithConfig(cfg).WithRedis(client).Build(context.Background())
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	return m, store.New(client, cfg.Store.KeyPrefix, cfg.Store.RevokedRetention)
}

func registerTestUser(t *testing.T, m *Manager) *store.Credential {
	t.Helper()
	collector := &Collector{}
	ctx := WithNotifier(context.Background(), collector)
	cred, err := m.RegisterCredential(ctx, "Ana", "ana@example.com", "hunter2hunter2")
	if err != nil {
		t.Fatalf("RegisterCredential failed: %v", err)
	}
	if cred == nil {
		t.Fatalf("RegisterCredential rejected: %+v", collector.Notifications())
	}
	return cred
}

func loginTestUser(t *testing.T, m *Manager) (*TokenPair, *store.Credential) {
	t.Helper()
	cred := registerTestUser(t, m)
	collector := &Collector{}
	ctx := WithNotifier(context.Background(), collector)
	pair, err := m.Login(ctx, LoginInput{Email: "ana@example.com", Password: "hunter2hunter2"}, testOriginIP)
	if err != nil {
		t.Fatalf("Login failed: %v", err)
	}
	if pair == nil {
		t.Fatalf("Login rejected: %+v", collector.Notifications())
	}
	return pair, cred
}

func TestLoginPersistsSession(t *testing.T) {
	m, st := newTestManager(t, nil)
	pair, cred := loginTestUser(t, m)

	if pair.AccessToken == "" || pair.RefreshKey == "" {
		t.Fatalf("incomplete token pair: %+v", pair)
	}

	ctx := context.Background()
	sess, err := st.FindSessionByKeyAndUser(ctx, pair.RefreshKey, cred.ID)
	if err != nil {
		t.Fatalf("FindSessionByKeyAndUser failed: %v", err)
	}
	if sess.CreatedIP != testOriginIP {
		t.Fatalf("CreatedIP = %q, want %q", sess.CreatedIP, testOriginIP)
	}
	if sess.JWT != pair.AccessToken {
		t.Fatal("stored session does not carry the issued access token")
	}
	if got, want := sess.ExpiresAt-sess.CreatedAt, int64(1800); got != want {
		t.Fatalf("session window = %ds, want %ds", got, want)
	}
	if sess.Revoked() {
		t.Fatal("fresh session reports revoked")
	}

	n, err := m.SessionCount(ctx, cred.ID)
	if err != nil {
		t.Fatalf("SessionCount failed: %v", err)
	}
	if n != 1 {
		t.Fatalf("SessionCount = %d, want 1", n)
	}
}

func TestLoginSupportsConcurrentSessions(t *testing.T) {
	m, _ := newTestManager(t, nil)
	cred := registerTestUser(t, m)

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		pair, err := m.Login(ctx, LoginInput{Email: "ana@example.com", Password: "hunter2hunter2"}, testOriginIP)
		if err != nil || pair == nil {
			t.Fatalf("login %d failed: pair=%v err=%v", i, pair, err)
		}
	}

	n, err := m.SessionCount(ctx, cred.ID)
	if err != nil {
		t.Fatalf("SessionCount failed: %v", err)
	}
	if n != 3 {
		t.Fatalf("SessionCount = %d, want 3", n)
	}
}

func TestLoginWrongCredentials(t *testing.T) {
	m, _ := newTestManager(t, nil)
	registerTestUser(t, m)

	cases := []struct {
		name  string
		input LoginInput
	}{
		{"wrong password", LoginInput{Email: "ana@example.com", Password: "not-the-password"}},
		{"unknown email", LoginInput{Email: "nobody@example.com", Password: "hunter2hunter2"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			collector := &Collector{}
			ctx := WithNotifier(context.Background(), collector)

			pair, err := m.Login(ctx, tc.input, testOriginIP)
			if err != nil {
				t.Fatalf("Login returned an error for an expected failure: %v", err)
			}
			if pair != nil {
				t.Fatal("Login issued tokens for bad credentials")
			}

			notes := collector.Notifications()
			if len(notes) != 1 {
				t.Fatalf("got %d notifications, want 1: %+v", len(notes), notes)
			}
			want := Notification{Status: http.StatusUnauthorized, Title: "Unauthorized", Detail: "Incorrect e-mail or password."}
			if notes[0] != want {
				t.Fatalf("notification = %+v, want %+v", notes[0], want)
			}
		})
	}
}

func TestLoginInvalidInput(t *testing.T) {
	m, _ := newTestManager(t, nil)

	collector := &Collector{}
	ctx := WithNotifier(context.Background(), collector)

	pair, err := m.Login(ctx, LoginInput{Email: "not-an-address", Password: ""}, testOriginIP)
	if err != nil || pair != nil {
		t.Fatalf("expected (nil, nil), got pair=%v err=%v", pair, err)
	}

	notes := collector.Notifications()
	if len(notes) != 2 {
		t.Fatalf("got %d notifications, want 2: %+v", len(notes), notes)
	}
	for _, n := range notes {
		if n.Status != http.StatusBadRequest || n.Title != "Invalid request" {
			t.Fatalf("unexpected notification: %+v", n)
		}
	}
}

func TestLoginRateLimited(t *testing.T) {
	m, _ := newTestManager(t, func(cfg *Config) {
		cfg.RateLimit.MaxLoginAttempts = 2
	})
	registerTestUser(t, m)

	bad := LoginInput{Email: "ana@example.com", Password: "not-the-password"}
	ctx := context.Background()
	for i := 0; i < 2; i++ {
		if pair, err := m.Login(ctx, bad, testOriginIP); pair != nil || err != nil {
			t.Fatalf("attempt %d: pair=%v err=%v", i, pair, err)
		}
	}

	collector := &Collector{}
	pair, err := m.Login(WithNotifier(ctx, collector), bad, testOriginIP)
	if err != nil || pair != nil {
		t.Fatalf("expected throttled (nil, nil), got pair=%v err=%v", pair, err)
	}
	notes := collector.Notifications()
	if len(notes) != 1 || notes[0].Status != http.StatusTooManyRequests {
		t.Fatalf("expected one 429 notification, got %+v", notes)
	}

	if got := m.MetricsSnapshot().Counters["authcore_login_rate_limited_total"]; got != 1 {
		t.Fatalf("rate limited counter = %d, want 1", got)
	}
}

func TestRefreshRotates(t *testing.T) {
	m, st := newTestManager(t, nil)
	pair, cred := loginTestUser(t, m)

	collector := &Collector{}
	ctx := WithNotifier(context.Background(), collector)

	next, err := m.Refresh(ctx, pair.RefreshKey, cred.ID, "203.0.113.9")
	if err != nil {
		t.Fatalf("Refresh failed: %v", err)
	}
	if next == nil {
		t.Fatalf("Refresh rejected: %+v", collector.Notifications())
	}
	if next.RefreshKey == pair.RefreshKey {
		t.Fatal("rotation reissued the same refresh key")
	}
	if collector.HasNotifications() {
		t.Fatalf("unexpected notifications: %+v", collector.Notifications())
	}

	old, err := st.FindSessionByKeyAndUser(context.Background(), pair.RefreshKey, cred.ID)
	if err != nil {
		t.Fatalf("old session lookup failed: %v", err)
	}
	if !old.Revoked() || old.RevokedIP != "203.0.113.9" {
		t.Fatalf("old session not revoked with origin ip: %+v", old)
	}

	fresh, err := st.FindSessionByKeyAndUser(context.Background(), next.RefreshKey, cred.ID)
	if err != nil {
		t.Fatalf("new session lookup failed: %v", err)
	}
	if fresh.Revoked() || fresh.JWT != next.AccessToken {
		t.Fatalf("new session malformed: %+v", fresh)
	}
}

func TestRefreshReplayIsRejected(t *testing.T) {
	m, _ := newTestManager(t, nil)
	pair, cred := loginTestUser(t, m)

	ctx := context.Background()
	if next, err := m.Refresh(ctx, pair.RefreshKey, cred.ID, testOriginIP); next == nil || err != nil {
		t.Fatalf("first refresh: pair=%v err=%v", next, err)
	}

	collector := &Collector{}
	replayed, err := m.Refresh(WithNotifier(ctx, collector), pair.RefreshKey, cred.ID, testOriginIP)
	if err != nil {
		t.Fatalf("Refresh returned an error for a replay: %v", err)
	}
	if replayed != nil {
		t.Fatal("replayed refresh key was honored")
	}

	notes := collector.Notifications()
	if len(notes) != 1 {
		t.Fatalf("got %d notifications, want 1: %+v", len(notes), notes)
	}
	want := Notification{Status: http.StatusUnauthorized, Title: "The access token expired"}
	if notes[0] != want {
		t.Fatalf("notification = %+v, want %+v", notes[0], want)
	}

	if got := m.MetricsSnapshot().Counters["authcore_refresh_reuse_detected_total"]; got != 1 {
		t.Fatalf("reuse counter = %d, want 1", got)
	}
}

func TestRefreshUnknownKey(t *testing.T) {
	m, _ := newTestManager(t, nil)
	cred := registerTestUser(t, m)

	collector := &Collector{}
	ctx := WithNotifier(context.Background(), collector)

	pair, err := m.Refresh(ctx, "no-such-key", cred.ID, testOriginIP)
	if err != nil || pair != nil {
		t.Fatalf("expected (nil, nil), got pair=%v err=%v", pair, err)
	}
	notes := collector.Notifications()
	if len(notes) != 1 || notes[0].Title != "The access token expired" {
		t.Fatalf("unexpected notifications: %+v", notes)
	}
}

func TestRefreshTamperedStoredToken(t *testing.T) {
	m, st := newTestManager(t, nil)
	cred := registerTestUser(t, m)

	// A session whose stored access token was corrupted or swapped out
	// from under the engine.
	now := time.Now().Unix()
	sess := &store.Session{
		Key:       "K-bad-jwt",
		UserID:    cred.ID,
		JWT:       "eyJhbGciOiJIUzI1NiJ9.not-real-claims.not-a-signature",
		CreatedAt: now,
		CreatedIP: testOriginIP,
		ExpiresAt: now + 1800,
	}
	if err := st.InsertSession(context.Background(), sess); err != nil {
		t.Fatalf("InsertSession failed: %v", err)
	}

	collector := &Collector{}
	pair, err := m.Refresh(WithNotifier(context.Background(), collector), "K-bad-jwt", cred.ID, testOriginIP)
	if err != nil {
		t.Fatalf("Refresh returned an error for a tampered token: %v", err)
	}
	if pair != nil {
		t.Fatal("rotation succeeded with an unverifiable stored token")
	}

	notes := collector.Notifications()
	if len(notes) != 1 {
		t.Fatalf("got %d notifications, want 1: %+v", len(notes), notes)
	}
	want := Notification{Status: http.StatusUnauthorized, Title: "Unauthorized", Detail: "Stored access token failed verification."}
	if notes[0] != want {
		t.Fatalf("notification = %+v, want %+v", notes[0], want)
	}

	snap := m.MetricsSnapshot().Counters
	if snap["authcore_token_decode_failure_total"] != 1 {
		t.Fatalf("decode failure counter = %d, want 1", snap["authcore_token_decode_failure_total"])
	}

	// The failed rotation still consumed the session: a retry is a replay.
	pair, err = m.Refresh(context.Background(), "K-bad-jwt", cred.ID, testOriginIP)
	if err != nil || pair != nil {
		t.Fatalf("consumed session rotated: pair=%v err=%v", pair, err)
	}
	if got := m.MetricsSnapshot().Counters["authcore_refresh_reuse_detected_total"]; got != 1 {
		t.Fatalf("reuse counter = %d, want 1", got)
	}
}

func TestRefreshAfterWindowWithClock(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	cfg := testConfig()
	current := time.Date(2026, time.March, 1, 12, 0, 0, 0, time.UTC)
	m, err := New().
		WithConfig(cfg).
		WithRedis(client).
		WithClock(func() time.Time { return current }).
		Build(context.Background())
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}

	pair, cred := loginTestUser(t, m)

	st := store.New(client, cfg.Store.KeyPrefix, cfg.Store.RevokedRetention)
	sess, err := st.FindSessionByKeyAndUser(context.Background(), pair.RefreshKey, cred.ID)
	if err != nil {
		t.Fatalf("FindSessionByKeyAndUser failed: %v", err)
	}
	if sess.CreatedAt != current.Unix() {
		t.Fatalf("CreatedAt = %d, want %d", sess.CreatedAt, current.Unix())
	}

	// Advancing the injected clock past the issuance window expires the
	// session without waiting out the real TTL.
	current = current.Add(cfg.Token.TTL + time.Second)

	collector := &Collector{}
	next, err := m.Refresh(WithNotifier(context.Background(), collector), pair.RefreshKey, cred.ID, testOriginIP)
	if err != nil || next != nil {
		t.Fatalf("expired session rotated: pair=%v err=%v", next, err)
	}
	notes := collector.Notifications()
	if len(notes) != 1 || notes[0].Title != "The access token expired" {
		t.Fatalf("unexpected notifications: %+v", notes)
	}
}

func TestRefreshMissingArguments(t *testing.T) {
	m, _ := newTestManager(t, nil)

	collector := &Collector{}
	ctx := WithNotifier(context.Background(), collector)
	pair, err := m.Refresh(ctx, "", "", testOriginIP)
	if err != nil || pair != nil {
		t.Fatalf("expected (nil, nil), got pair=%v err=%v", pair, err)
	}
	if len(collector.Notifications()) != 1 {
		t.Fatalf("unexpected notifications: %+v", collector.Notifications())
	}
}

func TestConcurrentRefreshSingleWinner(t *testing.T) {
	m, _ := newTestManager(t, nil)
	pair, cred := loginTestUser(t, m)

	const workers = 16
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		winners []*TokenPair
	)
	errs := make(chan error, workers)

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			next, err := m.Refresh(context.Background(), pair.RefreshKey, cred.ID, testOriginIP)
			if err != nil {
				errs <- err
				return
			}
			if next != nil {
				mu.Lock()
				winners = append(winners, next)
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		t.Fatalf("concurrent refresh errored: %v", err)
	}
	if len(winners) != 1 {
		t.Fatalf("%d rotations won, want exactly 1", len(winners))
	}
	if winners[0].RefreshKey == pair.RefreshKey {
		t.Fatal("winning rotation reissued the same refresh key")
	}

	snap := m.MetricsSnapshot().Counters
	if snap["authcore_refresh_success_total"] != 1 {
		t.Fatalf("refresh success counter = %d, want 1", snap["authcore_refresh_success_total"])
	}
}

func TestRevoke(t *testing.T) {
	m, _ := newTestManager(t, nil)
	pair, cred := loginTestUser(t, m)

	ctx := context.Background()
	if err := m.Revoke(ctx, pair.RefreshKey, cred.ID, testOriginIP); err != nil {
		t.Fatalf("Revoke failed: %v", err)
	}

	// Revoking twice is a no-op.
	if err := m.Revoke(ctx, pair.RefreshKey, cred.ID, testOriginIP); err != nil {
		t.Fatalf("second Revoke not idempotent: %v", err)
	}

	// The consumed key cannot rotate anymore.
	collector := &Collector{}
	next, err := m.Refresh(WithNotifier(ctx, collector), pair.RefreshKey, cred.ID, testOriginIP)
	if err != nil || next != nil {
		t.Fatalf("revoked key rotated: pair=%v err=%v", next, err)
	}

	if err := m.Revoke(ctx, "no-such-key", cred.ID, testOriginIP); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
}

func TestRegisterCredentialConflict(t *testing.T) {
	m, _ := newTestManager(t, nil)
	registerTestUser(t, m)

	collector := &Collector{}
	ctx := WithNotifier(context.Background(), collector)

	dup, err := m.RegisterCredential(ctx, "Impostor", "ana@example.com", "hunter2hunter2")
	if err != nil {
		t.Fatalf("RegisterCredential returned an error for a conflict: %v", err)
	}
	if dup != nil {
		t.Fatal("duplicate registration succeeded")
	}

	notes := collector.Notifications()
	if len(notes) != 1 {
		t.Fatalf("got %d notifications, want 1: %+v", len(notes), notes)
	}
	want := Notification{Status: http.StatusConflict, Title: "User already exists"}
	if notes[0] != want {
		t.Fatalf("notification = %+v, want %+v", notes[0], want)
	}
}

func TestRegisterCredentialHashesPassword(t *testing.T) {
	m, st := newTestManager(t, nil)
	cred := registerTestUser(t, m)

	stored, err := st.FindCredentialByID(context.Background(), cred.ID)
	if err != nil {
		t.Fatalf("FindCredentialByID failed: %v", err)
	}
	if stored.PasswordHash == "hunter2hunter2" {
		t.Fatal("password stored in the clear")
	}
	if len(stored.PasswordHash) == 0 || stored.PasswordHash[0] != '$' {
		t.Fatalf("password hash not PHC-encoded: %q", stored.PasswordHash)
	}
}

func TestBuildValidation(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	if _, err := New().Build(context.Background()); err == nil {
		t.Fatal("Build accepted a missing Redis client")
	}

	cfg := testConfig()
	cfg.Token.TTL = 0
	if _, err := New().WithConfig(cfg).WithRedis(client).Build(context.Background()); err == nil {
		t.Fatal("Build accepted a zero token TTL")
	}

	cfg = testConfig()
	cfg.Token.PrivateKey = nil
	if _, err := New().WithConfig(cfg).WithRedis(client).Build(context.Background()); err == nil {
		t.Fatal("Build accepted a missing signing secret")
	}
}
