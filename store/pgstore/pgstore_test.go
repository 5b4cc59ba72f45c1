package pgstore

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ppulimamidy/PersonalHealthAssistant-sub005/lockout"
	"github.com/ppulimamidy/PersonalHealthAssistant-sub005/store"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newMockStore(t *testing.T, opts ...sqlmock.QueryMatcher) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	var (
		db   *sql.DB
		mock sqlmock.Sqlmock
		err  error
	)
	if len(opts) > 0 {
		db, mock, err = sqlmock.New(sqlmock.QueryMatcherOption(opts[0]))
	} else {
		db, mock, err = sqlmock.New()
	}
	require.NoError(t, err)
	t.Cleanup(func() {
		assert.NoError(t, mock.ExpectationsWereMet())
		_ = db.Close()
	})
	return New(db, "pgx"), mock
}

func TestCreatePrincipalUniqueViolationIsConflict(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectExec("INSERT INTO principals").
		WillReturnError(&pgconn.PgError{Code: pgUniqueViolation, ConstraintName: "principals_email_key"})

	err := s.CreatePrincipal(context.Background(), &store.Principal{ID: "p1", Email: "a@example.com", CreatedAt: t0, UpdatedAt: t0})
	assert.ErrorIs(t, err, store.ErrConflict)
}

func TestCreatePrincipalStartsAtVersionOne(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectExec("INSERT INTO principals").WillReturnResult(sqlmock.NewResult(0, 1))

	p := &store.Principal{ID: "p1", Status: store.PrincipalActive, CreatedAt: t0, UpdatedAt: t0}
	require.NoError(t, s.CreatePrincipal(context.Background(), p))
	assert.Equal(t, int64(1), p.Version)
}

func TestGetPrincipalNotFound(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectQuery("FROM principals WHERE email = \\$1").
		WithArgs("ghost@example.com").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	_, err := s.GetPrincipalByEmail(context.Background(), "ghost@example.com")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestUpdatePrincipalLeavesLockoutColumns(t *testing.T) {
	guard := sqlmock.QueryMatcherFunc(func(expected, actual string) error {
		if strings.Contains(actual, "UPDATE principals") && strings.Contains(actual, "failed_attempts") {
			return errors.New("UpdatePrincipal must not write lockout columns")
		}
		return sqlmock.QueryMatcherRegexp.Match(expected, actual)
	})
	s, mock := newMockStore(t, guard)
	mock.ExpectQuery("UPDATE principals").
		WithArgs("p1", sqlmock.AnyArg(), sqlmock.AnyArg(), "", "hash", "active", "enabled", sqlmock.AnyArg(), int64(3)).
		WillReturnRows(sqlmock.NewRows([]string{"version"}).AddRow(int64(4)))

	p := &store.Principal{ID: "p1", Email: "a@example.com", PasswordHash: "hash", Status: store.PrincipalActive, MFAStatus: store.MFAEnabled, Version: 3}
	require.NoError(t, s.UpdatePrincipal(context.Background(), p))
	assert.Equal(t, int64(4), p.Version)
}

func TestUpdatePrincipalStaleVersion(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectQuery("UPDATE principals").WillReturnRows(sqlmock.NewRows([]string{"version"}))
	mock.ExpectQuery("SELECT EXISTS").WithArgs("p1").WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))

	err := s.UpdatePrincipal(context.Background(), &store.Principal{ID: "p1", Version: 1})
	assert.ErrorIs(t, err, store.ErrConflict)

	mock.ExpectQuery("UPDATE principals").WillReturnRows(sqlmock.NewRows([]string{"version"}))
	mock.ExpectQuery("SELECT EXISTS").WithArgs("p9").WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))
	err = s.UpdatePrincipal(context.Background(), &store.Principal{ID: "p9", Version: 1})
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestUpdateLockoutHoldsRowLock(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectBegin()
	mock.ExpectQuery("SELECT failed_attempts, last_failure_at, locked_until FROM principals WHERE id = \\$1 FOR UPDATE").
		WithArgs("p1").
		WillReturnRows(sqlmock.NewRows([]string{"failed_attempts", "last_failure_at", "locked_until"}).AddRow(4, t0, nil))
	mock.ExpectExec("UPDATE principals SET failed_attempts").
		WithArgs("p1", 5, sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	st, err := s.UpdateLockout(context.Background(), "p1", func(cur lockout.State) lockout.State {
		cur.FailedAttempts++
		cur.LockedUntil = t0.Add(30 * time.Minute)
		return cur
	})
	require.NoError(t, err)
	assert.Equal(t, 5, st.FailedAttempts)
	assert.True(t, st.LockedUntil.Equal(t0.Add(30*time.Minute)))
}

func TestUpdateLockoutMissingRowRollsBack(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectBegin()
	mock.ExpectQuery("FROM mfa_devices WHERE id = \\$1 FOR UPDATE").
		WillReturnRows(sqlmock.NewRows([]string{"failed_attempts", "last_failure_at", "locked_until"}))
	mock.ExpectRollback()

	_, err := s.UpdateDeviceLockout(context.Background(), "d1", func(cur lockout.State) lockout.State { return cur })
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestRotateRefreshSupersededRollsBack(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectBegin()
	mock.ExpectQuery("FROM refresh_tokens WHERE hash = \\$1 FOR UPDATE").
		WithArgs("h1").
		WillReturnRows(sqlmock.NewRows([]string{"hash", "session_id", "revoked", "replaced_by"}).AddRow("h1", "s1", true, "h2"))
	mock.ExpectRollback()

	err := s.RotateRefresh(context.Background(), store.RotateRequest{SessionID: "s1", OldHash: "h1", Next: store.RefreshRecord{Hash: "h3"}})
	assert.ErrorIs(t, err, store.ErrRefreshSuperseded)
}

func TestRotateRefreshLinksChain(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectBegin()
	mock.ExpectQuery("FROM refresh_tokens WHERE hash = \\$1 FOR UPDATE").
		WithArgs("h1").
		WillReturnRows(sqlmock.NewRows([]string{"hash", "session_id", "revoked", "replaced_by"}).AddRow("h1", "s1", false, ""))
	mock.ExpectQuery("SELECT status, refresh_hash FROM sessions WHERE id = \\$1 FOR UPDATE").
		WithArgs("s1").
		WillReturnRows(sqlmock.NewRows([]string{"status", "refresh_hash"}).AddRow("active", "h1"))
	mock.ExpectExec("UPDATE refresh_tokens SET replaced_by").
		WithArgs("h1", "h2").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO refresh_tokens").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE sessions").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := s.RotateRefresh(context.Background(), store.RotateRequest{
		SessionID:        "s1",
		OldHash:          "h1",
		Next:             store.RefreshRecord{Hash: "h2", SessionID: "s1", IssuedAt: t0, ExpiresAt: t0.Add(time.Hour)},
		AccessHash:       "a2",
		AccessExpiresAt:  t0.Add(15 * time.Minute),
		RefreshExpiresAt: t0.Add(time.Hour),
		Now:              t0,
	})
	require.NoError(t, err)
}

func TestConsumeBackupCodeNoRowIsNotFound(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectExec("UPDATE backup_codes SET used = TRUE").
		WithArgs("p1", "x", t0).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := s.ConsumeBackupCode(context.Background(), "p1", "x", t0)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestRecordDeviceUseReplayIsConflict(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectExec("UPDATE mfa_devices").
		WithArgs("d1", int64(100), t0).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT EXISTS").WithArgs("d1").WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))

	err := s.RecordDeviceUse(context.Background(), "d1", 100, t0)
	assert.ErrorIs(t, err, store.ErrConflict)
}

func TestConsumeSecret(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectQuery("UPDATE verification_secrets").
		WithArgs("password_reset", "sh", t0).
		WillReturnRows(sqlmock.NewRows([]string{"principal_id", "expires_at", "created_at"}).AddRow("p1", t0.Add(time.Hour), t0))
	mock.ExpectQuery("UPDATE verification_secrets").
		WithArgs("password_reset", "sh", t0).
		WillReturnRows(sqlmock.NewRows([]string{"principal_id", "expires_at", "created_at"}))

	v, err := s.ConsumeSecret(context.Background(), store.PurposePasswordReset, "sh", t0)
	require.NoError(t, err)
	assert.Equal(t, "p1", v.PrincipalID)
	assert.True(t, v.Used)

	_, err = s.ConsumeSecret(context.Background(), store.PurposePasswordReset, "sh", t0)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestGrantsScansJoinedRows(t *testing.T) {
	s, mock := newMockStore(t)
	cols := []string{
		"permission_id", "resource_type", "action", "scope", "role_id", "role_active",
		"assignment_active", "assignment_expires_at", "grant_active", "grant_expires_at",
	}
	mock.ExpectQuery("FROM role_assignments ra").
		WithArgs("p1").
		WillReturnRows(sqlmock.NewRows(cols).
			AddRow("perm1", "health_record", "read", "", "r1", true, true, t0.Add(time.Hour), true, nil))

	grants, err := s.Grants(context.Background(), "p1")
	require.NoError(t, err)
	require.Len(t, grants, 1)
	g := grants[0]
	assert.Equal(t, "health_record", g.Permission.ResourceType)
	assert.True(t, g.AssignmentExpiresAt.Equal(t0.Add(time.Hour)))
	assert.True(t, g.GrantExpiresAt.IsZero())
}

func TestAssignRoleMissingRoleIsNotFound(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectExec("INSERT INTO role_assignments").
		WillReturnError(&pgconn.PgError{Code: pgForeignKeyViolation})

	err := s.AssignRole(context.Background(), store.RoleAssignment{PrincipalID: "p1", RoleID: "nope", AssignedAt: t0})
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestExpireSessionsCountsRows(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectExec("UPDATE sessions SET status = 'expired'").
		WithArgs(t0).
		WillReturnResult(sqlmock.NewResult(0, 3))

	n, err := s.ExpireSessions(context.Background(), t0)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}

func TestBlacklistOnceLiveEntryIsConflict(t *testing.T) {
	s, mock := newMockStore(t)
	e := store.BlacklistEntry{TokenHash: "c", Kind: store.TokenChallenge, ExpiresAt: t0.Add(5 * time.Minute), Reason: "mfa_completed"}
	mock.ExpectExec("INSERT INTO token_blacklist").
		WithArgs("c", string(store.TokenChallenge), "", e.ExpiresAt, "mfa_completed", t0).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("WHERE token_blacklist.expires_at <= \\$6").
		WillReturnResult(sqlmock.NewResult(0, 0))

	require.NoError(t, s.BlacklistOnce(context.Background(), e, t0))
	assert.ErrorIs(t, s.BlacklistOnce(context.Background(), e, t0), store.ErrConflict)
}

func TestDriverFailureIsUnavailable(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectQuery("SELECT EXISTS").WillReturnError(errors.New("connection reset"))

	_, err := s.IsBlacklisted(context.Background(), "h", t0)
	assert.ErrorIs(t, err, store.ErrUnavailable)
}

func TestSchemaDeclaresEveryTable(t *testing.T) {
	for _, table := range []string{
		"principals", "sessions", "refresh_tokens", "mfa_devices", "backup_codes",
		"roles", "permissions", "role_assignments", "permission_grants",
		"token_blacklist", "verification_secrets",
	} {
		assert.Contains(t, Schema(), "CREATE TABLE IF NOT EXISTS "+table+" (")
	}
}
