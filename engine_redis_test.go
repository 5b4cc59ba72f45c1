package healthauth

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/ppulimamidy/PersonalHealthAssistant-sub005/audit"
	"github.com/ppulimamidy/PersonalHealthAssistant-sub005/store/memstore"
	"github.com/ppulimamidy/PersonalHealthAssistant-sub005/store/redisstore"
)

// newRedisEnv serves sessions, revocations and secrets from Redis and keeps
// principals in memory, the split a production deployment uses.
func newRedisEnv(t *testing.T, mutate ...func(*Config)) *testEnv {
	t.Helper()
	cfg := testConfig(t)
	cfg.RateLimit.Enabled = true
	cfg.RateLimit.Backend = "redis"
	for _, fn := range mutate {
		fn(&cfg)
	}

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	env := &testEnv{
		store:    memstore.New(),
		clock:    newFakeClock(),
		sink:     audit.NewChannelSink(4096),
		notifier: &captureNotifier{},
	}
	hot := redisstore.New(rdb, redisstore.Options{Clock: env.clock.Now})
	engine, err := New().
		WithConfig(cfg).
		WithBackend(hot.Backend(env.store.Backend())).
		WithRedis(rdb).
		WithClock(env.clock.Now).
		WithAuditSink(env.sink).
		WithNotifier(env.notifier).
		Build()
	if err != nil {
		t.Fatalf("build engine: %v", err)
	}
	t.Cleanup(engine.Close)
	env.engine = engine
	return env
}

func TestRedisBackedRefreshReuse(t *testing.T) {
	env := newRedisEnv(t)
	p := env.createActive(t, "ada@example.com")
	ctx := context.Background()

	a := env.login(t, "ada@example.com").Tokens
	env.clock.Advance(time.Minute)
	b, err := env.engine.Refresh(ctx, a.RefreshToken)
	if err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if _, err := env.engine.ValidateAccessStrict(ctx, b.AccessToken); err != nil {
		t.Fatalf("validate rotated access: %v", err)
	}

	_, err = env.engine.Refresh(ctx, a.RefreshToken)
	wantErr(t, err, ErrTokenReused)

	_, err = env.engine.Refresh(ctx, b.RefreshToken)
	wantErr(t, err, ErrTokenInvalid)
	_, err = env.engine.ValidateAccessStrict(ctx, b.AccessToken)
	wantErr(t, err, ErrTokenInvalid)

	sessions, err := env.engine.ListSessions(ctx, p.ID)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(sessions) != 0 {
		t.Fatalf("reuse must leave no live session, got %d", len(sessions))
	}
}

func TestRedisBackedPasswordResetAndSweep(t *testing.T) {
	env := newRedisEnv(t)
	env.createActive(t, "ada@example.com")
	ctx := context.Background()

	env.requestReset(t, "ada@example.com")
	secret := env.notifier.last(t).Secret
	if err := env.engine.ConfirmPasswordReset(ctx, secret, "reset to something new"); err != nil {
		t.Fatalf("confirm: %v", err)
	}
	err := env.engine.ConfirmPasswordReset(ctx, secret, "reset to something else")
	wantErr(t, err, ErrTokenInvalid)

	if _, err := env.engine.Login(ctx, "ada@example.com", "reset to something new"); err != nil {
		t.Fatalf("login: %v", err)
	}
	env.clock.Advance(env.engine.config.Session.RefreshTTL + time.Minute)
	report, err := env.engine.Sweep(ctx)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if report.SessionsExpired != 1 || report.SecretsPruned != 1 {
		t.Fatalf("unexpected sweep report %+v", report)
	}
}
