package pgstore

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/ppulimamidy/PersonalHealthAssistant-sub005/lockout"
	"github.com/ppulimamidy/PersonalHealthAssistant-sub005/store"
)

// Devices

func (s *Store) CreateDevice(ctx context.Context, d *store.MFADevice) error {
	_, err := s.db.NamedExecContext(ctx, `INSERT INTO mfa_devices (`+deviceColumns+`)
		VALUES (:id, :principal_id, :type, :name, :sealed_secret, :status, :is_primary,
			:failed_attempts, :last_failure_at, :locked_until, :last_used_at, :last_used_step, :created_at)`,
		toDeviceRow(d))
	return mapErr("create device", err)
}

func (s *Store) GetDevice(ctx context.Context, id string) (*store.MFADevice, error) {
	var row deviceRow
	if err := s.db.GetContext(ctx, &row, `SELECT `+deviceColumns+` FROM mfa_devices WHERE id = $1`, id); err != nil {
		return nil, mapErr("get device", err)
	}
	return row.device(), nil
}

func (s *Store) ListDevices(ctx context.Context, principalID string) ([]*store.MFADevice, error) {
	var rows []deviceRow
	err := s.db.SelectContext(ctx, &rows,
		`SELECT `+deviceColumns+` FROM mfa_devices WHERE principal_id = $1 ORDER BY created_at`, principalID)
	if err != nil {
		return nil, mapErr("list devices", err)
	}
	out := make([]*store.MFADevice, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.device())
	}
	return out, nil
}

// UpdateDevice leaves the lockout and last-use columns to the conditional
// operations.
func (s *Store) UpdateDevice(ctx context.Context, d *store.MFADevice) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE mfa_devices
		SET type = $2, name = $3, sealed_secret = $4, status = $5, is_primary = $6
		WHERE id = $1`,
		d.ID, string(d.Type), d.Name, d.SealedSecret, string(d.Status), d.Primary)
	if err != nil {
		return mapErr("update device", err)
	}
	n, err := affected("update device", res)
	if err != nil {
		return err
	}
	if n == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) UpdateDeviceLockout(ctx context.Context, id string, fn func(lockout.State) lockout.State) (lockout.State, error) {
	return s.updateLockout(ctx, "mfa_devices", id, fn)
}

func (s *Store) RecordDeviceUse(ctx context.Context, id string, step int64, at time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE mfa_devices
		SET last_used_step = $2, last_used_at = $3,
			failed_attempts = 0, last_failure_at = NULL, locked_until = NULL
		WHERE id = $1 AND last_used_step < $2`,
		id, step, at)
	if err != nil {
		return mapErr("record device use", err)
	}
	n, err := affected("record device use", res)
	if err != nil {
		return err
	}
	if n == 1 {
		return nil
	}
	var exists bool
	if err := s.db.GetContext(ctx, &exists, `SELECT EXISTS (SELECT 1 FROM mfa_devices WHERE id = $1)`, id); err != nil {
		return mapErr("record device use", err)
	}
	if !exists {
		return store.ErrNotFound
	}
	return store.ErrConflict
}

// Backup codes

func (s *Store) ReplaceBackupCodes(ctx context.Context, principalID string, codes []store.BackupCode) error {
	const op = "replace backup codes"
	return s.withTx(ctx, op, func(tx *sqlx.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM backup_codes WHERE principal_id = $1`, principalID); err != nil {
			return mapErr(op, err)
		}
		for _, c := range codes {
			_, err := tx.ExecContext(ctx, `
				INSERT INTO backup_codes (id, principal_id, hash, used, used_at, expires_at, created_at)
				VALUES ($1, $2, $3, $4, $5, $6, $7)`,
				c.ID, principalID, c.Hash, c.Used, nullTime(c.UsedAt), nullTime(c.ExpiresAt), c.CreatedAt)
			if err != nil {
				return mapErr(op, err)
			}
		}
		return nil
	})
}

func (s *Store) ListBackupCodes(ctx context.Context, principalID string) ([]store.BackupCode, error) {
	var rows []backupCodeRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT id, principal_id, hash, used, used_at, expires_at, created_at
		FROM backup_codes WHERE principal_id = $1 ORDER BY created_at, id`, principalID)
	if err != nil {
		return nil, mapErr("list backup codes", err)
	}
	out := make([]store.BackupCode, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.code())
	}
	return out, nil
}

// ConsumeBackupCode is a single conditional UPDATE; of two racing callers
// only one sees a row affected.
func (s *Store) ConsumeBackupCode(ctx context.Context, principalID, hash string, at time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE backup_codes SET used = TRUE, used_at = $3
		WHERE principal_id = $1 AND hash = $2 AND NOT used
			AND (expires_at IS NULL OR expires_at > $3)`,
		principalID, hash, at)
	if err != nil {
		return mapErr("consume backup code", err)
	}
	n, err := affected("consume backup code", res)
	if err != nil {
		return err
	}
	if n == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) PruneBackupCodes(ctx context.Context, now time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM backup_codes WHERE used OR (expires_at IS NOT NULL AND expires_at <= $1)`, now)
	if err != nil {
		return 0, mapErr("prune backup codes", err)
	}
	n, err := affected("prune backup codes", res)
	return int(n), err
}
