package healthauth

import (
	"context"
	"errors"
	"testing"

	"github.com/ppulimamidy/PersonalHealthAssistant-sub005/federated"
	"github.com/ppulimamidy/PersonalHealthAssistant-sub005/store"
	"github.com/ppulimamidy/PersonalHealthAssistant-sub005/store/memstore"
)

type stubVerifier struct {
	tokenType  string
	identities map[string]*federated.ExternalIdentity
	err        error
}

func (v *stubVerifier) TokenType() string { return v.tokenType }

func (v *stubVerifier) VerifyExternalToken(_ context.Context, token string) (*federated.ExternalIdentity, error) {
	if v.err != nil {
		return nil, v.err
	}
	id, ok := v.identities[token]
	if !ok {
		return nil, federated.ErrRejected
	}
	return id, nil
}

func newFederatedEnv(t *testing.T, v *stubVerifier) *testEnv {
	t.Helper()
	env := &testEnv{store: memstore.New(), clock: newFakeClock(), notifier: &captureNotifier{}}
	engine, err := New().
		WithConfig(testConfig(t)).
		WithBackend(env.store.Backend()).
		WithClock(env.clock.Now).
		WithFederatedVerifier(v).
		Build()
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	t.Cleanup(engine.Close)
	env.engine = engine
	return env
}

func TestLoginFederatedProvisionsOnce(t *testing.T) {
	v := &stubVerifier{
		tokenType: "google_id_token",
		identities: map[string]*federated.ExternalIdentity{
			"tok-1": {Provider: "google", Subject: "1001", Email: "Ada@Example.com", EmailVerified: true},
		},
	}
	env := newFederatedEnv(t, v)
	ctx := context.Background()

	first, err := env.engine.LoginFederated(ctx, "google_id_token", "tok-1")
	if err != nil {
		t.Fatalf("first login: %v", err)
	}
	if !first.Created || first.Tokens == nil {
		t.Fatalf("expected a provisioned principal with tokens, got %+v", first)
	}
	second, err := env.engine.LoginFederated(ctx, "google_id_token", "tok-1")
	if err != nil {
		t.Fatalf("second login: %v", err)
	}
	if second.Created || second.PrincipalID != first.PrincipalID {
		t.Fatalf("second login must reuse the principal")
	}

	p, err := env.store.GetPrincipalByExternalID(ctx, "google:1001")
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if p.Email != "ada@example.com" || p.PasswordHash != "" {
		t.Fatalf("unexpected principal %+v", p)
	}

	// no password was ever set, so password login must fail generically
	_, err = env.engine.Login(ctx, "ada@example.com", testPassword)
	wantErr(t, err, ErrInvalidCredential)
}

func TestLoginFederatedRejections(t *testing.T) {
	v := &stubVerifier{tokenType: "google_id_token"}
	env := newFederatedEnv(t, v)
	ctx := context.Background()

	_, err := env.engine.LoginFederated(ctx, "apple_id_token", "x")
	wantErr(t, err, ErrInvalidCredential)

	_, err = env.engine.LoginFederated(ctx, "google_id_token", "forged")
	wantErr(t, err, ErrInvalidCredential)

	v.err = errors.New("jwks fetch failed")
	_, err = env.engine.LoginFederated(ctx, "google_id_token", "forged")
	wantErr(t, err, ErrUnavailable)
}

func TestLoginFederatedUnverifiedEmailNotClaimed(t *testing.T) {
	v := &stubVerifier{
		tokenType: "google_id_token",
		identities: map[string]*federated.ExternalIdentity{
			"tok": {Provider: "google", Subject: "2002", Email: "ada@example.com", EmailVerified: false},
		},
	}
	env := newFederatedEnv(t, v)
	ctx := context.Background()
	if _, err := env.engine.CreatePrincipal(ctx, NewPrincipal{
		Email:    "ada@example.com",
		Password: testPassword,
		Status:   store.PrincipalActive,
	}); err != nil {
		t.Fatalf("create: %v", err)
	}

	res, err := env.engine.LoginFederated(ctx, "google_id_token", "tok")
	if err != nil {
		t.Fatalf("federated login: %v", err)
	}
	p, _ := env.engine.GetPrincipal(ctx, res.PrincipalID)
	if p.Email != "" {
		t.Fatalf("unverified email must not be stored, got %q", p.Email)
	}
}

func TestLoginFederatedVerifiedEmailConflict(t *testing.T) {
	v := &stubVerifier{
		tokenType: "google_id_token",
		identities: map[string]*federated.ExternalIdentity{
			"tok": {Provider: "google", Subject: "3003", Email: "ada@example.com", EmailVerified: true},
		},
	}
	env := newFederatedEnv(t, v)
	ctx := context.Background()
	if _, err := env.engine.CreatePrincipal(ctx, NewPrincipal{Email: "ada@example.com", Password: testPassword}); err != nil {
		t.Fatalf("create: %v", err)
	}

	_, err := env.engine.LoginFederated(ctx, "google_id_token", "tok")
	wantErr(t, err, ErrAccountExists)
}

func TestDuplicateVerifierRejectedAtBuild(t *testing.T) {
	v := &stubVerifier{tokenType: "google_id_token"}
	_, err := New().
		WithConfig(testConfig(t)).
		WithBackend(memstore.New().Backend()).
		WithFederatedVerifier(v).
		WithFederatedVerifier(v).
		Build()
	if err == nil {
		t.Fatalf("expected duplicate verifier error")
	}
}
