// Package store defines the persistence contracts of the authentication core
// and the entities that flow through them.
//
// Implementations live in subpackages: memstore (in-process), pgstore
// (PostgreSQL through sqlx) and redisstore (sessions, refresh chains and the
// revocation list in Redis). Operations marked conditional must be atomic in
// every implementation; the engine relies on them for lockout counters,
// refresh rotation and backup-code consumption.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/ppulimamidy/PersonalHealthAssistant-sub005/lockout"
)

var (
	// ErrNotFound is returned when a lookup or conditional update matches nothing.
	ErrNotFound = errors.New("store: not found")
	// ErrConflict is returned on unique-key collisions and failed version checks.
	ErrConflict = errors.New("store: conflict")
	// ErrRefreshSuperseded is returned by RotateRefresh when the presented
	// record was already replaced or revoked.
	ErrRefreshSuperseded = errors.New("store: refresh record superseded")
	// ErrUnavailable wraps backend failures.
	ErrUnavailable = errors.New("store: backend unavailable")
)

// PrincipalStore persists principals.
type PrincipalStore interface {
	CreatePrincipal(ctx context.Context, p *Principal) error
	GetPrincipal(ctx context.Context, id string) (*Principal, error)
	GetPrincipalByEmail(ctx context.Context, email string) (*Principal, error)
	GetPrincipalByExternalID(ctx context.Context, externalID string) (*Principal, error)
	// GetOrCreateByExternalID returns the principal bound to externalID,
	// creating it from template when none exists. created reports which
	// branch ran.
	GetOrCreateByExternalID(ctx context.Context, externalID string, template *Principal) (p *Principal, created bool, err error)
	// UpdatePrincipal writes p when the stored version equals p.Version and
	// bumps the version. Returns ErrConflict otherwise. The lockout state is
	// left untouched; only UpdateLockout writes it.
	UpdatePrincipal(ctx context.Context, p *Principal) error
	// UpdateLockout applies fn to the stored lockout state under a row lock.
	UpdateLockout(ctx context.Context, id string, fn func(lockout.State) lockout.State) (lockout.State, error)
}

// SessionStore persists sessions and their refresh chains.
type SessionStore interface {
	CreateSession(ctx context.Context, s *Session, first *RefreshRecord) error
	GetSession(ctx context.Context, id string) (*Session, error)
	ListSessions(ctx context.Context, principalID string) ([]*Session, error)
	GetRefresh(ctx context.Context, hash string) (*RefreshRecord, error)
	// RotateRefresh links req.Next after req.OldHash. Exactly one caller wins
	// for a given OldHash; the rest get ErrRefreshSuperseded.
	RotateRefresh(ctx context.Context, req RotateRequest) error
	// RevokeSession sets status to revoked (or suspicious when reason calls
	// for it), revokes the current refresh record and returns the session as
	// it was before revocation. Revoking twice is not an error.
	RevokeSession(ctx context.Context, id string, status SessionStatus, reason string, at time.Time) (*Session, error)
	// ExpireSessions marks active sessions past their refresh expiry as
	// expired and returns how many changed.
	ExpireSessions(ctx context.Context, now time.Time) (int, error)
}

// DeviceStore persists MFA devices.
type DeviceStore interface {
	CreateDevice(ctx context.Context, d *MFADevice) error
	GetDevice(ctx context.Context, id string) (*MFADevice, error)
	ListDevices(ctx context.Context, principalID string) ([]*MFADevice, error)
	UpdateDevice(ctx context.Context, d *MFADevice) error
	UpdateDeviceLockout(ctx context.Context, id string, fn func(lockout.State) lockout.State) (lockout.State, error)
	// RecordDeviceUse stores a successful TOTP step and resets the device
	// lockout. It returns ErrConflict when step is not newer than the last
	// accepted step.
	RecordDeviceUse(ctx context.Context, id string, step int64, at time.Time) error
}

// BackupCodeStore persists hashed backup codes.
type BackupCodeStore interface {
	// ReplaceBackupCodes drops every code of the principal and stores codes.
	ReplaceBackupCodes(ctx context.Context, principalID string, codes []BackupCode) error
	ListBackupCodes(ctx context.Context, principalID string) ([]BackupCode, error)
	// ConsumeBackupCode marks the unused, unexpired code with hash as used.
	// It returns ErrNotFound when no such code exists.
	ConsumeBackupCode(ctx context.Context, principalID, hash string, at time.Time) error
	// PruneBackupCodes deletes used and expired codes.
	PruneBackupCodes(ctx context.Context, now time.Time) (int, error)
}

// RBACStore persists roles, permissions and their assignments.
type RBACStore interface {
	CreateRole(ctx context.Context, r Role) error
	CreatePermission(ctx context.Context, p Permission) error
	AssignRole(ctx context.Context, a RoleAssignment) error
	RevokeRole(ctx context.Context, principalID, roleID string) error
	GrantPermission(ctx context.Context, g PermissionGrant) error
	RevokePermission(ctx context.Context, roleID, permissionID string) error
	// Grants returns every (assignment, grant, permission) row reachable from
	// the principal, regardless of active flags or expiry.
	Grants(ctx context.Context, principalID string) ([]Grant, error)
}

// BlacklistStore persists revoked token hashes.
type BlacklistStore interface {
	Blacklist(ctx context.Context, entries ...BlacklistEntry) error
	// BlacklistOnce adds e unless an unexpired entry for the same hash
	// exists, in which case it returns ErrConflict.
	BlacklistOnce(ctx context.Context, e BlacklistEntry, now time.Time) error
	IsBlacklisted(ctx context.Context, tokenHash string, now time.Time) (bool, error)
	PruneBlacklist(ctx context.Context, now time.Time) (int, error)
}

// SecretStore persists hashed password-reset and email-verification secrets.
type SecretStore interface {
	PutSecret(ctx context.Context, s VerificationSecret) error
	// ConsumeSecret marks the unused, unexpired secret as used and returns it.
	ConsumeSecret(ctx context.Context, purpose SecretPurpose, hash string, at time.Time) (*VerificationSecret, error)
	PruneSecrets(ctx context.Context, now time.Time) (int, error)
}

// Backend groups the stores the engine needs.
type Backend struct {
	Principals  PrincipalStore
	Sessions    SessionStore
	Devices     DeviceStore
	BackupCodes BackupCodeStore
	RBAC        RBACStore
	Blacklist   BlacklistStore
	Secrets     SecretStore
}

// Validate reports the first missing store.
func (b Backend) Validate() error {
	switch {
	case b.Principals == nil:
		return errors.New("store: principal store is required")
	case b.Sessions == nil:
		return errors.New("store: session store is required")
	case b.Devices == nil:
		return errors.New("store: device store is required")
	case b.BackupCodes == nil:
		return errors.New("store: backup code store is required")
	case b.RBAC == nil:
		return errors.New("store: rbac store is required")
	case b.Blacklist == nil:
		return errors.New("store: blacklist store is required")
	case b.Secrets == nil:
		return errors.New("store: secret store is required")
	}
	return nil
}
