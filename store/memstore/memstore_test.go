package memstore

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ppulimamidy/PersonalHealthAssistant-sub005/lockout"
	"github.com/ppulimamidy/PersonalHealthAssistant-sub005/store"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func seedSession(t *testing.T, s *Store) {
	t.Helper()
	err := s.CreateSession(context.Background(), &store.Session{
		ID:               "s1",
		PrincipalID:      "p1",
		RefreshHash:      "h1",
		AccessHash:       "a1",
		AccessExpiresAt:  t0.Add(15 * time.Minute),
		RefreshExpiresAt: t0.Add(24 * time.Hour),
		Status:           store.SessionActive,
		CreatedAt:        t0,
	}, &store.RefreshRecord{Hash: "h1", SessionID: "s1", PrincipalID: "p1", IssuedAt: t0, ExpiresAt: t0.Add(24 * time.Hour)})
	require.NoError(t, err)
}

func TestPrincipalIndexesAndVersioning(t *testing.T) {
	ctx := context.Background()
	s := New()

	p := &store.Principal{ID: "p1", Email: "a@example.com", ExternalID: "oidc:1", Status: store.PrincipalActive}
	require.NoError(t, s.CreatePrincipal(ctx, p))
	require.ErrorIs(t, s.CreatePrincipal(ctx, &store.Principal{ID: "p2", Email: "a@example.com"}), store.ErrConflict)

	got, err := s.GetPrincipalByEmail(ctx, "a@example.com")
	require.NoError(t, err)
	require.Equal(t, "p1", got.ID)

	got, err = s.GetPrincipalByExternalID(ctx, "oidc:1")
	require.NoError(t, err)
	require.Equal(t, int64(1), got.Version)

	stale := got.Clone()
	got.Status = store.PrincipalSuspended
	require.NoError(t, s.UpdatePrincipal(ctx, got))
	require.Equal(t, int64(2), got.Version)
	require.ErrorIs(t, s.UpdatePrincipal(ctx, stale), store.ErrConflict)

	_, err = s.GetPrincipal(ctx, "missing")
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestGetOrCreateByExternalID(t *testing.T) {
	ctx := context.Background()
	s := New()

	p, created, err := s.GetOrCreateByExternalID(ctx, "google:42", &store.Principal{ID: "p1", Email: "x@example.com"})
	require.NoError(t, err)
	require.True(t, created)
	require.Equal(t, "google:42", p.ExternalID)

	p, created, err = s.GetOrCreateByExternalID(ctx, "google:42", &store.Principal{ID: "p2"})
	require.NoError(t, err)
	require.False(t, created)
	require.Equal(t, "p1", p.ID)
}

func TestUpdateLockoutIsSerialized(t *testing.T) {
	ctx := context.Background()
	s := New()
	require.NoError(t, s.CreatePrincipal(ctx, &store.Principal{ID: "p1"}))

	policy := lockout.DefaultPolicy()
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = s.UpdateLockout(ctx, "p1", func(st lockout.State) lockout.State {
				return policy.Failure(st, t0)
			})
		}()
	}
	wg.Wait()

	p, err := s.GetPrincipal(ctx, "p1")
	require.NoError(t, err)
	require.Equal(t, lockout.DefaultMaxAttempts, p.Lockout.FailedAttempts)
	require.True(t, p.Lockout.Locked(t0))
}

func TestRotateRefreshSingleWinner(t *testing.T) {
	ctx := context.Background()
	s := New()
	seedSession(t, s)

	var wins, superseded atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			err := s.RotateRefresh(ctx, store.RotateRequest{
				SessionID: "s1",
				OldHash:   "h1",
				Next:      store.RefreshRecord{Hash: "next-" + string(rune('a'+i)), SessionID: "s1", ExpiresAt: t0.Add(time.Hour)},
				Now:       t0,
			})
			switch {
			case err == nil:
				wins.Add(1)
			case err == store.ErrRefreshSuperseded:
				superseded.Add(1)
			}
		}(i)
	}
	wg.Wait()

	require.Equal(t, int32(1), wins.Load())
	require.Equal(t, int32(15), superseded.Load())

	old, err := s.GetRefresh(ctx, "h1")
	require.NoError(t, err)
	require.True(t, old.Superseded())
	require.True(t, old.Revoked)
}

func TestRevokeSessionReturnsPriorState(t *testing.T) {
	ctx := context.Background()
	s := New()
	seedSession(t, s)

	before, err := s.RevokeSession(ctx, "s1", store.SessionRevoked, "logout", t0)
	require.NoError(t, err)
	require.Equal(t, store.SessionActive, before.Status)
	require.Equal(t, "h1", before.RefreshHash)

	sess, err := s.GetSession(ctx, "s1")
	require.NoError(t, err)
	require.Equal(t, store.SessionRevoked, sess.Status)

	rec, err := s.GetRefresh(ctx, "h1")
	require.NoError(t, err)
	require.True(t, rec.Revoked)
	require.False(t, rec.Superseded())

	_, err = s.RevokeSession(ctx, "s1", store.SessionRevoked, "again", t0)
	require.NoError(t, err)
}

func TestConsumeBackupCodeOnce(t *testing.T) {
	ctx := context.Background()
	s := New()
	require.NoError(t, s.ReplaceBackupCodes(ctx, "p1", []store.BackupCode{
		{ID: "c1", PrincipalID: "p1", Hash: "x"},
		{ID: "c2", PrincipalID: "p1", Hash: "y", ExpiresAt: t0},
	}))

	var ok atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if s.ConsumeBackupCode(ctx, "p1", "x", t0) == nil {
				ok.Add(1)
			}
		}()
	}
	wg.Wait()
	require.Equal(t, int32(1), ok.Load())
	require.ErrorIs(t, s.ConsumeBackupCode(ctx, "p1", "y", t0), store.ErrNotFound)

	n, err := s.PruneBackupCodes(ctx, t0)
	require.NoError(t, err)
	require.Equal(t, 2, n)
}

func TestBlacklistExpiry(t *testing.T) {
	ctx := context.Background()
	s := New()
	require.NoError(t, s.Blacklist(ctx, store.BlacklistEntry{TokenHash: "t", Kind: store.TokenAccess, ExpiresAt: t0.Add(time.Minute)}))

	hit, err := s.IsBlacklisted(ctx, "t", t0)
	require.NoError(t, err)
	require.True(t, hit)

	hit, err = s.IsBlacklisted(ctx, "t", t0.Add(time.Minute))
	require.NoError(t, err)
	require.False(t, hit)

	n, err := s.PruneBlacklist(ctx, t0.Add(time.Minute))
	require.NoError(t, err)
	require.Equal(t, 1, n)
}

func TestBlacklistOnceUntilExpiry(t *testing.T) {
	ctx := context.Background()
	s := New()
	e := store.BlacklistEntry{TokenHash: "c", Kind: store.TokenChallenge, ExpiresAt: t0.Add(5 * time.Minute)}

	require.NoError(t, s.BlacklistOnce(ctx, e, t0))
	require.ErrorIs(t, s.BlacklistOnce(ctx, e, t0.Add(time.Minute)), store.ErrConflict)

	e.ExpiresAt = t0.Add(10 * time.Minute)
	require.NoError(t, s.BlacklistOnce(ctx, e, t0.Add(5*time.Minute)))
	hit, err := s.IsBlacklisted(ctx, "c", t0.Add(6*time.Minute))
	require.NoError(t, err)
	require.True(t, hit)
}

func TestConsumeSecret(t *testing.T) {
	ctx := context.Background()
	s := New()
	require.NoError(t, s.PutSecret(ctx, store.VerificationSecret{Hash: "h", PrincipalID: "p1", Purpose: store.PurposePasswordReset, ExpiresAt: t0.Add(time.Hour)}))

	_, err := s.ConsumeSecret(ctx, store.PurposeEmailVerification, "h", t0)
	require.ErrorIs(t, err, store.ErrNotFound)

	v, err := s.ConsumeSecret(ctx, store.PurposePasswordReset, "h", t0)
	require.NoError(t, err)
	require.Equal(t, "p1", v.PrincipalID)

	_, err = s.ConsumeSecret(ctx, store.PurposePasswordReset, "h", t0)
	require.ErrorIs(t, err, store.ErrNotFound)
}
