package pgstore

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/ppulimamidy/PersonalHealthAssistant-sub005/store"
)

// Revocation list

func (s *Store) Blacklist(ctx context.Context, entries ...store.BlacklistEntry) error {
	const op = "blacklist"
	return s.withTx(ctx, op, func(tx *sqlx.Tx) error {
		for _, e := range entries {
			if e.TokenHash == "" {
				continue
			}
			_, err := tx.ExecContext(ctx, `
				INSERT INTO token_blacklist (token_hash, kind, session_id, expires_at, reason)
				VALUES ($1, $2, $3, $4, $5)
				ON CONFLICT (token_hash) DO UPDATE
				SET expires_at = GREATEST(token_blacklist.expires_at, EXCLUDED.expires_at)`,
				e.TokenHash, string(e.Kind), e.SessionID, e.ExpiresAt, e.Reason)
			if err != nil {
				return mapErr(op, err)
			}
		}
		return nil
	})
}

func (s *Store) BlacklistOnce(ctx context.Context, e store.BlacklistEntry, now time.Time) error {
	const op = "blacklist once"
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO token_blacklist (token_hash, kind, session_id, expires_at, reason)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (token_hash) DO UPDATE
		SET kind = EXCLUDED.kind, session_id = EXCLUDED.session_id,
		    expires_at = EXCLUDED.expires_at, reason = EXCLUDED.reason
		WHERE token_blacklist.expires_at <= $6`,
		e.TokenHash, string(e.Kind), e.SessionID, e.ExpiresAt, e.Reason, now)
	if err != nil {
		return mapErr(op, err)
	}
	n, err := affected(op, res)
	if err != nil {
		return err
	}
	if n == 0 {
		return store.ErrConflict
	}
	return nil
}

func (s *Store) IsBlacklisted(ctx context.Context, tokenHash string, now time.Time) (bool, error) {
	var hit bool
	err := s.db.GetContext(ctx, &hit,
		`SELECT EXISTS (SELECT 1 FROM token_blacklist WHERE token_hash = $1 AND expires_at > $2)`, tokenHash, now)
	if err != nil {
		return false, mapErr("blacklist lookup", err)
	}
	return hit, nil
}

func (s *Store) PruneBlacklist(ctx context.Context, now time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM token_blacklist WHERE expires_at <= $1`, now)
	if err != nil {
		return 0, mapErr("prune blacklist", err)
	}
	n, err := affected("prune blacklist", res)
	return int(n), err
}

// Secrets

func (s *Store) PutSecret(ctx context.Context, v store.VerificationSecret) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO verification_secrets (purpose, hash, principal_id, expires_at, used, used_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		string(v.Purpose), v.Hash, v.PrincipalID, v.ExpiresAt, v.Used, nullTime(v.UsedAt), v.CreatedAt)
	return mapErr("put secret", err)
}

func (s *Store) ConsumeSecret(ctx context.Context, purpose store.SecretPurpose, hash string, at time.Time) (*store.VerificationSecret, error) {
	var row struct {
		PrincipalID string    `db:"principal_id"`
		ExpiresAt   time.Time `db:"expires_at"`
		CreatedAt   time.Time `db:"created_at"`
	}
	err := s.db.GetContext(ctx, &row, `
		UPDATE verification_secrets SET used = TRUE, used_at = $3
		WHERE purpose = $1 AND hash = $2 AND NOT used AND expires_at > $3
		RETURNING principal_id, expires_at, created_at`,
		string(purpose), hash, at)
	if err != nil {
		return nil, mapErr("consume secret", err)
	}
	return &store.VerificationSecret{
		Hash:        hash,
		PrincipalID: row.PrincipalID,
		Purpose:     purpose,
		ExpiresAt:   row.ExpiresAt.UTC(),
		Used:        true,
		UsedAt:      at,
		CreatedAt:   row.CreatedAt.UTC(),
	}, nil
}

func (s *Store) PruneSecrets(ctx context.Context, now time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM verification_secrets WHERE used OR expires_at <= $1`, now)
	if err != nil {
		return 0, mapErr("prune secrets", err)
	}
	n, err := affected("prune secrets", res)
	return int(n), err
}
