package pgstore

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/ppulimamidy/PersonalHealthAssistant-sub005/store"
)

const insertSessionSQL = `INSERT INTO sessions (` + sessionColumns + `)
VALUES (:id, :principal_id, :access_hash, :refresh_hash, :access_expires_at,
	:refresh_expires_at, :mfa_verified, :mfa_required, :status, :revoked_reason, :ip,
	:user_agent, :last_activity_at, :created_at)`

const insertRefreshSQL = `INSERT INTO refresh_tokens (` + refreshColumns + `)
VALUES (:hash, :session_id, :principal_id, :issued_at, :expires_at, :revoked,
	:revoked_reason, :replaces, :replaced_by)`

func (s *Store) CreateSession(ctx context.Context, sess *store.Session, first *store.RefreshRecord) error {
	const op = "create session"
	return s.withTx(ctx, op, func(tx *sqlx.Tx) error {
		if _, err := tx.NamedExecContext(ctx, insertSessionSQL, toSessionRow(sess)); err != nil {
			return mapErr(op, err)
		}
		_, err := tx.NamedExecContext(ctx, insertRefreshSQL, toRefreshRow(first))
		return mapErr(op, err)
	})
}

func (s *Store) GetSession(ctx context.Context, id string) (*store.Session, error) {
	var row sessionRow
	if err := s.db.GetContext(ctx, &row, `SELECT `+sessionColumns+` FROM sessions WHERE id = $1`, id); err != nil {
		return nil, mapErr("get session", err)
	}
	return row.session(), nil
}

func (s *Store) ListSessions(ctx context.Context, principalID string) ([]*store.Session, error) {
	var rows []sessionRow
	err := s.db.SelectContext(ctx, &rows,
		`SELECT `+sessionColumns+` FROM sessions WHERE principal_id = $1 ORDER BY created_at`, principalID)
	if err != nil {
		return nil, mapErr("list sessions", err)
	}
	out := make([]*store.Session, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.session())
	}
	return out, nil
}

func (s *Store) GetRefresh(ctx context.Context, hash string) (*store.RefreshRecord, error) {
	var row refreshRow
	if err := s.db.GetContext(ctx, &row, `SELECT `+refreshColumns+` FROM refresh_tokens WHERE hash = $1`, hash); err != nil {
		return nil, mapErr("get refresh", err)
	}
	return row.record(), nil
}

// RotateRefresh locks the presented link first; concurrent rotators queue on
// that row and then observe replaced_by.
func (s *Store) RotateRefresh(ctx context.Context, req store.RotateRequest) error {
	const op = "rotate refresh"
	return s.withTx(ctx, op, func(tx *sqlx.Tx) error {
		var old refreshRow
		err := tx.GetContext(ctx, &old, `SELECT `+refreshColumns+` FROM refresh_tokens WHERE hash = $1 FOR UPDATE`, req.OldHash)
		if err != nil {
			return mapErr(op, err)
		}
		if old.ReplacedBy != "" || old.Revoked {
			return store.ErrRefreshSuperseded
		}
		if old.SessionID != req.SessionID {
			return store.ErrNotFound
		}

		var sess struct {
			Status      string `db:"status"`
			RefreshHash string `db:"refresh_hash"`
		}
		err = tx.GetContext(ctx, &sess, `SELECT status, refresh_hash FROM sessions WHERE id = $1 FOR UPDATE`, req.SessionID)
		if err != nil {
			return mapErr(op, err)
		}
		if sess.Status != string(store.SessionActive) || sess.RefreshHash != req.OldHash {
			return store.ErrRefreshSuperseded
		}

		if _, err := tx.ExecContext(ctx,
			`UPDATE refresh_tokens SET replaced_by = $2, revoked = TRUE, revoked_reason = 'rotated' WHERE hash = $1`,
			req.OldHash, req.Next.Hash); err != nil {
			return mapErr(op, err)
		}
		next := req.Next
		next.Replaces = req.OldHash
		if _, err := tx.NamedExecContext(ctx, insertRefreshSQL, toRefreshRow(&next)); err != nil {
			return mapErr(op, err)
		}
		_, err = tx.ExecContext(ctx, `
			UPDATE sessions
			SET refresh_hash = $2, access_hash = $3, access_expires_at = $4,
				refresh_expires_at = $5, last_activity_at = $6
			WHERE id = $1`,
			req.SessionID, next.Hash, req.AccessHash, req.AccessExpiresAt, req.RefreshExpiresAt, req.Now)
		return mapErr(op, err)
	})
}

func (s *Store) RevokeSession(ctx context.Context, id string, status store.SessionStatus, reason string, _ time.Time) (*store.Session, error) {
	const op = "revoke session"
	var before *store.Session
	err := s.withTx(ctx, op, func(tx *sqlx.Tx) error {
		var row sessionRow
		if err := tx.GetContext(ctx, &row, `SELECT `+sessionColumns+` FROM sessions WHERE id = $1 FOR UPDATE`, id); err != nil {
			return mapErr(op, err)
		}
		before = row.session()
		if _, err := tx.ExecContext(ctx,
			`UPDATE sessions SET status = $2, revoked_reason = $3 WHERE id = $1 AND status IN ('active', 'suspicious')`,
			id, string(status), reason); err != nil {
			return mapErr(op, err)
		}
		_, err := tx.ExecContext(ctx,
			`UPDATE refresh_tokens SET revoked = TRUE, revoked_reason = $2 WHERE hash = $1 AND NOT revoked`,
			row.RefreshHash, reason)
		return mapErr(op, err)
	})
	if err != nil {
		return nil, err
	}
	return before, nil
}

func (s *Store) ExpireSessions(ctx context.Context, now time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET status = 'expired' WHERE status = 'active' AND refresh_expires_at <= $1`, now)
	if err != nil {
		return 0, mapErr("expire sessions", err)
	}
	n, err := affected("expire sessions", res)
	return int(n), err
}
