package pgstore

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jmoiron/sqlx"

	"github.com/ppulimamidy/PersonalHealthAssistant-sub005/lockout"
	"github.com/ppulimamidy/PersonalHealthAssistant-sub005/store"
)

const insertPrincipalSQL = `INSERT INTO principals (` + principalColumns + `)
VALUES (:id, :external_id, :email, :phone, :password_hash, :status, :mfa_status,
	:failed_attempts, :last_failure_at, :locked_until, :version, :created_at, :updated_at)`

func (s *Store) CreatePrincipal(ctx context.Context, p *store.Principal) error {
	row := toPrincipalRow(p)
	if row.Version == 0 {
		row.Version = 1
	}
	if _, err := s.db.NamedExecContext(ctx, insertPrincipalSQL, row); err != nil {
		return mapErr("create principal", err)
	}
	p.Version = row.Version
	return nil
}

func (s *Store) getPrincipal(ctx context.Context, q sqlx.QueryerContext, where string, arg interface{}) (*store.Principal, error) {
	var row principalRow
	err := sqlx.GetContext(ctx, q, &row, `SELECT `+principalColumns+` FROM principals WHERE `+where+` = $1`, arg)
	if err != nil {
		return nil, mapErr("get principal", err)
	}
	return row.principal(), nil
}

func (s *Store) GetPrincipal(ctx context.Context, id string) (*store.Principal, error) {
	return s.getPrincipal(ctx, s.db, "id", id)
}

func (s *Store) GetPrincipalByEmail(ctx context.Context, email string) (*store.Principal, error) {
	return s.getPrincipal(ctx, s.db, "email", email)
}

func (s *Store) GetPrincipalByExternalID(ctx context.Context, externalID string) (*store.Principal, error) {
	return s.getPrincipal(ctx, s.db, "external_id", externalID)
}

// GetOrCreateByExternalID inserts with ON CONFLICT on the external id so two
// concurrent first logins provision one principal.
func (s *Store) GetOrCreateByExternalID(ctx context.Context, externalID string, template *store.Principal) (*store.Principal, bool, error) {
	p := template.Clone()
	p.ExternalID = externalID
	row := toPrincipalRow(p)
	if row.Version == 0 {
		row.Version = 1
	}

	query, args, err := sqlx.Named(insertPrincipalSQL+` ON CONFLICT (external_id) DO NOTHING RETURNING id`, row)
	if err != nil {
		return nil, false, mapErr("provision principal", err)
	}
	var id string
	err = s.db.QueryRowxContext(ctx, s.db.Rebind(query), args...).Scan(&id)
	switch {
	case err == nil:
		p.Version = row.Version
		return p, true, nil
	case errors.Is(err, sql.ErrNoRows):
		existing, err := s.GetPrincipalByExternalID(ctx, externalID)
		if err != nil {
			return nil, false, err
		}
		return existing, false, nil
	default:
		return nil, false, mapErr("provision principal", err)
	}
}

// UpdatePrincipal never writes the lockout columns; UpdateLockout owns them.
func (s *Store) UpdatePrincipal(ctx context.Context, p *store.Principal) error {
	var version int64
	err := s.db.QueryRowxContext(ctx, `
		UPDATE principals
		SET external_id = $2, email = $3, phone = $4, password_hash = $5,
			status = $6, mfa_status = $7, updated_at = $8, version = version + 1
		WHERE id = $1 AND version = $9
		RETURNING version`,
		p.ID, nullString(p.ExternalID), nullString(p.Email), p.Phone, p.PasswordHash,
		string(p.Status), string(p.MFAStatus), p.UpdatedAt, p.Version,
	).Scan(&version)
	if errors.Is(err, sql.ErrNoRows) {
		var exists bool
		if err := s.db.GetContext(ctx, &exists, `SELECT EXISTS (SELECT 1 FROM principals WHERE id = $1)`, p.ID); err != nil {
			return mapErr("update principal", err)
		}
		if !exists {
			return store.ErrNotFound
		}
		return store.ErrConflict
	}
	if err != nil {
		return mapErr("update principal", err)
	}
	p.Version = version
	return nil
}

func (s *Store) UpdateLockout(ctx context.Context, id string, fn func(lockout.State) lockout.State) (lockout.State, error) {
	return s.updateLockout(ctx, "principals", id, fn)
}

// updateLockout applies fn under SELECT ... FOR UPDATE on table.
func (s *Store) updateLockout(ctx context.Context, table, id string, fn func(lockout.State) lockout.State) (lockout.State, error) {
	var next lockout.State
	op := "update lockout"
	err := s.withTx(ctx, op, func(tx *sqlx.Tx) error {
		var cur lockoutCols
		err := tx.GetContext(ctx, &cur, `SELECT failed_attempts, last_failure_at, locked_until FROM `+table+` WHERE id = $1 FOR UPDATE`, id)
		if err != nil {
			return mapErr(op, err)
		}
		next = fn(cur.state())
		cols := toLockoutCols(next)
		_, err = tx.ExecContext(ctx, `UPDATE `+table+` SET failed_attempts = $2, last_failure_at = $3, locked_until = $4 WHERE id = $1`,
			id, cols.FailedAttempts, cols.LastFailureAt, cols.LockedUntil)
		return mapErr(op, err)
	})
	if err != nil {
		return lockout.State{}, err
	}
	return next, nil
}
