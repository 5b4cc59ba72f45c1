package healthauth

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/ppulimamidy/PersonalHealthAssistant-sub005/audit"
	"github.com/ppulimamidy/PersonalHealthAssistant-sub005/notify"
	"github.com/ppulimamidy/PersonalHealthAssistant-sub005/password"
	"github.com/ppulimamidy/PersonalHealthAssistant-sub005/store"
	"github.com/ppulimamidy/PersonalHealthAssistant-sub005/store/memstore"
)

const testPassword = "correct horse battery"

var testEpoch = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: testEpoch}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type captureNotifier struct {
	mu   sync.Mutex
	sent []notify.Notification
	err  error
}

func (n *captureNotifier) Deliver(_ context.Context, msg notify.Notification) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, msg)
	return n.err
}

func (n *captureNotifier) last(t *testing.T) notify.Notification {
	t.Helper()
	n.mu.Lock()
	defer n.mu.Unlock()
	if len(n.sent) == 0 {
		t.Fatalf("expected a notification")
	}
	return n.sent[len(n.sent)-1]
}

func (n *captureNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.sent)
}

type testEnv struct {
	engine   *Engine
	store    *memstore.Store
	clock    *fakeClock
	sink     *audit.ChannelSink
	notifier *captureNotifier
}

func fastPasswordConfig() password.Config {
	cfg := password.DefaultConfig()
	cfg.Memory = 8 * 1024
	cfg.Time = 1
	cfg.Parallelism = 1
	return cfg
}

func testConfig(t *testing.T) Config {
	t.Helper()
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	sealKey := make([]byte, 32)
	if _, err := rand.Read(sealKey); err != nil {
		t.Fatalf("generate seal key: %v", err)
	}
	cfg := DefaultConfig()
	cfg.JWT.PrivateKey = priv
	cfg.MFA.SecretKey = sealKey
	cfg.Password = fastPasswordConfig()
	cfg.Audit.BufferSize = 4096
	return cfg
}

func newTestEnv(t *testing.T, mutate ...func(*Config)) *testEnv {
	t.Helper()
	cfg := testConfig(t)
	for _, fn := range mutate {
		fn(&cfg)
	}

	env := &testEnv{
		store:    memstore.New(),
		clock:    newFakeClock(),
		sink:     audit.NewChannelSink(4096),
		notifier: &captureNotifier{},
	}
	engine, err := New().
		WithConfig(cfg).
		WithBackend(env.store.Backend()).
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

func (env *testEnv) createActive(t *testing.T, email string) *store.Principal {
	t.Helper()
	p, err := env.engine.CreatePrincipal(context.Background(), NewPrincipal{
		Email:    email,
		Password: testPassword,
		Status:   store.PrincipalActive,
	})
	if err != nil {
		t.Fatalf("create principal: %v", err)
	}
	return p
}

// enrollTOTP activates a TOTP device for the principal and moves the clock
// one period on, so the next code is not a replay of the enrollment code.
func (env *testEnv) enrollTOTP(t *testing.T, principalID string) *TOTPEnrollment {
	t.Helper()
	ctx := context.Background()
	enr, err := env.engine.BeginTOTPEnrollment(ctx, principalID)
	if err != nil {
		t.Fatalf("begin enrollment: %v", err)
	}
	code := env.code(t, enr.Secret, 0)
	if err := env.engine.ConfirmTOTPEnrollment(ctx, principalID, enr.DeviceID, code); err != nil {
		t.Fatalf("confirm enrollment: %v", err)
	}
	env.clock.Advance(env.engine.totp.Period())
	return enr
}

// code returns the TOTP code offset periods away from the fake clock.
func (env *testEnv) code(t *testing.T, secret string, offset int) string {
	t.Helper()
	at := env.clock.Now().Add(time.Duration(offset) * env.engine.totp.Period())
	c, err := env.engine.totp.Code(secret, at)
	if err != nil {
		t.Fatalf("totp code: %v", err)
	}
	return c
}

// windowCodes returns the codes the verifier accepts at the fake clock.
func (env *testEnv) windowCodes(t *testing.T, secret string) map[string]bool {
	t.Helper()
	out := make(map[string]bool, 3)
	for off := -1; off <= 1; off++ {
		out[env.code(t, secret, off)] = true
	}
	return out
}

// badCode returns a six digit code that no accepted step produces.
func (env *testEnv) badCode(t *testing.T, secret string) string {
	t.Helper()
	valid := env.windowCodes(t, secret)
	for i := 1; ; i++ {
		c := fmt.Sprintf("%06d", (i*7919)%1000000)
		if !valid[c] {
			return c
		}
	}
}

// requestReset asks for a reset secret and waits until it has been handed
// to the notifier.
func (env *testEnv) requestReset(t *testing.T, email string) {
	t.Helper()
	if err := env.engine.RequestPasswordReset(context.Background(), email); err != nil {
		t.Fatalf("request reset: %v", err)
	}
	env.engine.detached.Wait()
}

func (env *testEnv) login(t *testing.T, email string) *LoginResult {
	t.Helper()
	res, err := env.engine.Login(context.Background(), email, testPassword)
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	return res
}

// drainAudit closes the engine and returns every event it emitted.
func (env *testEnv) drainAudit() []audit.Event {
	env.engine.Close()
	var out []audit.Event
	for {
		select {
		case ev := <-env.sink.Events():
			out = append(out, ev)
		default:
			return out
		}
	}
}

func findEvents(events []audit.Event, kind string) []audit.Event {
	var out []audit.Event
	for _, ev := range events {
		if ev.Kind == kind {
			out = append(out, ev)
		}
	}
	return out
}

func wantErr(t *testing.T, got, want error) {
	t.Helper()
	if !errors.Is(got, want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
}
