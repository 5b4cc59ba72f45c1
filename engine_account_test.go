package healthauth

import (
	"context"
	"testing"

	"github.com/ppulimamidy/PersonalHealthAssistant-sub005/store"
)

func TestCreatePrincipalDefaultsAndDuplicates(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	p, err := env.engine.CreatePrincipal(ctx, NewPrincipal{Email: " Ada@Example.com", Password: testPassword})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if p.Email != "ada@example.com" {
		t.Fatalf("email not normalized: %q", p.Email)
	}
	if p.Status != store.PrincipalPendingVerification || p.MFAStatus != store.MFADisabled {
		t.Fatalf("unexpected defaults %s/%s", p.Status, p.MFAStatus)
	}
	if p.PasswordHash == "" || p.PasswordHash == testPassword {
		t.Fatalf("password not hashed")
	}

	_, err = env.engine.CreatePrincipal(ctx, NewPrincipal{Email: "ada@example.com", Password: testPassword})
	wantErr(t, err, ErrAccountExists)

	_, err = env.engine.CreatePrincipal(ctx, NewPrincipal{Email: "short@example.com", Password: "short"})
	wantErr(t, err, ErrPasswordPolicy)
}

func TestChangePassword(t *testing.T) {
	env := newTestEnv(t)
	p := env.createActive(t, "ada@example.com")
	ctx := context.Background()
	old := env.login(t, "ada@example.com").Tokens

	err := env.engine.ChangePassword(ctx, p.ID, "wrong password!", "a brand new secret")
	wantErr(t, err, ErrInvalidCredential)

	if err := env.engine.ChangePassword(ctx, p.ID, testPassword, "a brand new secret"); err != nil {
		t.Fatalf("change: %v", err)
	}
	_, err = env.engine.Login(ctx, "ada@example.com", testPassword)
	wantErr(t, err, ErrInvalidCredential)
	if _, err := env.engine.Login(ctx, "ada@example.com", "a brand new secret"); err != nil {
		t.Fatalf("login with new password: %v", err)
	}

	_, err = env.engine.Refresh(ctx, old.RefreshToken)
	wantErr(t, err, ErrTokenInvalid)
}

func TestSetAccountStatusRevokesSessions(t *testing.T) {
	env := newTestEnv(t)
	p := env.createActive(t, "ada@example.com")
	ctx := context.Background()
	pair := env.login(t, "ada@example.com").Tokens

	if err := env.engine.SetAccountStatus(ctx, p.ID, store.PrincipalSuspended); err != nil {
		t.Fatalf("suspend: %v", err)
	}
	_, err := env.engine.ValidateAccessStrict(ctx, pair.AccessToken)
	wantErr(t, err, ErrTokenInvalid)
	_, err = env.engine.Login(ctx, "ada@example.com", testPassword)
	wantErr(t, err, ErrAccountInactive)

	err = env.engine.SetAccountStatus(ctx, p.ID, store.PrincipalStatus("banished"))
	if err == nil {
		t.Fatalf("expected unknown status to fail")
	}

	if err := env.engine.SetAccountStatus(ctx, p.ID, store.PrincipalActive); err != nil {
		t.Fatalf("reactivate: %v", err)
	}
	env.login(t, "ada@example.com")
}

func TestUnlockPrincipal(t *testing.T) {
	env := newTestEnv(t)
	p := env.createActive(t, "ada@example.com")
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, _ = env.engine.Login(ctx, "ada@example.com", "wrong password!")
	}
	_, err := env.engine.Login(ctx, "ada@example.com", testPassword)
	wantErr(t, err, ErrAccountLocked)

	if err := env.engine.UnlockPrincipal(ctx, p.ID); err != nil {
		t.Fatalf("unlock: %v", err)
	}
	env.login(t, "ada@example.com")
}

func TestAdministrativeLockStatus(t *testing.T) {
	env := newTestEnv(t)
	p := env.createActive(t, "ada@example.com")
	ctx := context.Background()

	if err := env.engine.SetAccountStatus(ctx, p.ID, store.PrincipalLocked); err != nil {
		t.Fatalf("lock: %v", err)
	}
	_, err := env.engine.Login(ctx, "ada@example.com", testPassword)
	wantErr(t, err, ErrAccountLocked)

	if err := env.engine.UnlockPrincipal(ctx, p.ID); err != nil {
		t.Fatalf("unlock: %v", err)
	}
	stored, _ := env.engine.GetPrincipal(ctx, p.ID)
	if stored.Status != store.PrincipalActive {
		t.Fatalf("expected active after unlock, got %s", stored.Status)
	}
}
