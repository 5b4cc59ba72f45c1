package pgstore

import (
	"database/sql"
	"time"

	"github.com/ppulimamidy/PersonalHealthAssistant-sub005/lockout"
	"github.com/ppulimamidy/PersonalHealthAssistant-sub005/store"
)

func nullTime(t time.Time) sql.NullTime {
	return sql.NullTime{Time: t, Valid: !t.IsZero()}
}

func fromNullTime(t sql.NullTime) time.Time {
	if !t.Valid {
		return time.Time{}
	}
	return t.Time.UTC()
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

type lockoutCols struct {
	FailedAttempts int          `db:"failed_attempts"`
	LastFailureAt  sql.NullTime `db:"last_failure_at"`
	LockedUntil    sql.NullTime `db:"locked_until"`
}

func (c lockoutCols) state() lockout.State {
	return lockout.State{
		FailedAttempts: c.FailedAttempts,
		LastFailureAt:  fromNullTime(c.LastFailureAt),
		LockedUntil:    fromNullTime(c.LockedUntil),
	}
}

func toLockoutCols(st lockout.State) lockoutCols {
	return lockoutCols{
		FailedAttempts: st.FailedAttempts,
		LastFailureAt:  nullTime(st.LastFailureAt),
		LockedUntil:    nullTime(st.LockedUntil),
	}
}

const principalColumns = `id, external_id, email, phone, password_hash, status, mfa_status,
	failed_attempts, last_failure_at, locked_until, version, created_at, updated_at`

type principalRow struct {
	ID           string         `db:"id"`
	ExternalID   sql.NullString `db:"external_id"`
	Email        sql.NullString `db:"email"`
	Phone        string         `db:"phone"`
	PasswordHash string         `db:"password_hash"`
	Status       string         `db:"status"`
	MFAStatus    string         `db:"mfa_status"`
	lockoutCols
	Version   int64     `db:"version"`
	CreatedAt time.Time `db:"created_at"`
	UpdatedAt time.Time `db:"updated_at"`
}

func toPrincipalRow(p *store.Principal) principalRow {
	return principalRow{
		ID:           p.ID,
		ExternalID:   nullString(p.ExternalID),
		Email:        nullString(p.Email),
		Phone:        p.Phone,
		PasswordHash: p.PasswordHash,
		Status:       string(p.Status),
		MFAStatus:    string(p.MFAStatus),
		lockoutCols:  toLockoutCols(p.Lockout),
		Version:      p.Version,
		CreatedAt:    p.CreatedAt,
		UpdatedAt:    p.UpdatedAt,
	}
}

func (r principalRow) principal() *store.Principal {
	return &store.Principal{
		ID:           r.ID,
		ExternalID:   r.ExternalID.String,
		Email:        r.Email.String,
		Phone:        r.Phone,
		PasswordHash: r.PasswordHash,
		Status:       store.PrincipalStatus(r.Status),
		MFAStatus:    store.MFAStatus(r.MFAStatus),
		Lockout:      r.state(),
		Version:      r.Version,
		CreatedAt:    r.CreatedAt.UTC(),
		UpdatedAt:    r.UpdatedAt.UTC(),
	}
}

const sessionColumns = `id, principal_id, access_hash, refresh_hash, access_expires_at,
	refresh_expires_at, mfa_verified, mfa_required, status, revoked_reason, ip,
	user_agent, last_activity_at, created_at`

type sessionRow struct {
	ID               string       `db:"id"`
	PrincipalID      string       `db:"principal_id"`
	AccessHash       string       `db:"access_hash"`
	RefreshHash      string       `db:"refresh_hash"`
	AccessExpiresAt  time.Time    `db:"access_expires_at"`
	RefreshExpiresAt time.Time    `db:"refresh_expires_at"`
	MFAVerified      bool         `db:"mfa_verified"`
	MFARequired      bool         `db:"mfa_required"`
	Status           string       `db:"status"`
	RevokedReason    string       `db:"revoked_reason"`
	IP               string       `db:"ip"`
	UserAgent        string       `db:"user_agent"`
	LastActivityAt   sql.NullTime `db:"last_activity_at"`
	CreatedAt        time.Time    `db:"created_at"`
}

func toSessionRow(s *store.Session) sessionRow {
	return sessionRow{
		ID:               s.ID,
		PrincipalID:      s.PrincipalID,
		AccessHash:       s.AccessHash,
		RefreshHash:      s.RefreshHash,
		AccessExpiresAt:  s.AccessExpiresAt,
		RefreshExpiresAt: s.RefreshExpiresAt,
		MFAVerified:      s.MFAVerified,
		MFARequired:      s.MFARequired,
		Status:           string(s.Status),
		RevokedReason:    s.RevokedReason,
		IP:               s.IP,
		UserAgent:        s.UserAgent,
		LastActivityAt:   nullTime(s.LastActivityAt),
		CreatedAt:        s.CreatedAt,
	}
}

func (r sessionRow) session() *store.Session {
	return &store.Session{
		ID:               r.ID,
		PrincipalID:      r.PrincipalID,
		AccessHash:       r.AccessHash,
		RefreshHash:      r.RefreshHash,
		AccessExpiresAt:  r.AccessExpiresAt.UTC(),
		RefreshExpiresAt: r.RefreshExpiresAt.UTC(),
		MFAVerified:      r.MFAVerified,
		MFARequired:      r.MFARequired,
		Status:           store.SessionStatus(r.Status),
		RevokedReason:    r.RevokedReason,
		IP:               r.IP,
		UserAgent:        r.UserAgent,
		LastActivityAt:   fromNullTime(r.LastActivityAt),
		CreatedAt:        r.CreatedAt.UTC(),
	}
}

const refreshColumns = `hash, session_id, principal_id, issued_at, expires_at, revoked,
	revoked_reason, replaces, replaced_by`

type refreshRow struct {
	Hash          string    `db:"hash"`
	SessionID     string    `db:"session_id"`
	PrincipalID   string    `db:"principal_id"`
	IssuedAt      time.Time `db:"issued_at"`
	ExpiresAt     time.Time `db:"expires_at"`
	Revoked       bool      `db:"revoked"`
	RevokedReason string    `db:"revoked_reason"`
	Replaces      string    `db:"replaces"`
	ReplacedBy    string    `db:"replaced_by"`
}

func toRefreshRow(r *store.RefreshRecord) refreshRow {
	return refreshRow{
		Hash:          r.Hash,
		SessionID:     r.SessionID,
		PrincipalID:   r.PrincipalID,
		IssuedAt:      r.IssuedAt,
		ExpiresAt:     r.ExpiresAt,
		Revoked:       r.Revoked,
		RevokedReason: r.RevokedReason,
		Replaces:      r.Replaces,
		ReplacedBy:    r.ReplacedBy,
	}
}

func (r refreshRow) record() *store.RefreshRecord {
	return &store.RefreshRecord{
		Hash:          r.Hash,
		SessionID:     r.SessionID,
		PrincipalID:   r.PrincipalID,
		IssuedAt:      r.IssuedAt.UTC(),
		ExpiresAt:     r.ExpiresAt.UTC(),
		Revoked:       r.Revoked,
		RevokedReason: r.RevokedReason,
		Replaces:      r.Replaces,
		ReplacedBy:    r.ReplacedBy,
	}
}

const deviceColumns = `id, principal_id, type, name, sealed_secret, status, is_primary,
	failed_attempts, last_failure_at, locked_until, last_used_at, last_used_step, created_at`

type deviceRow struct {
	ID           string `db:"id"`
	PrincipalID  string `db:"principal_id"`
	Type         string `db:"type"`
	Name         string `db:"name"`
	SealedSecret string `db:"sealed_secret"`
	Status       string `db:"status"`
	Primary      bool   `db:"is_primary"`
	lockoutCols
	LastUsedAt   sql.NullTime `db:"last_used_at"`
	LastUsedStep int64        `db:"last_used_step"`
	CreatedAt    time.Time    `db:"created_at"`
}

func toDeviceRow(d *store.MFADevice) deviceRow {
	return deviceRow{
		ID:           d.ID,
		PrincipalID:  d.PrincipalID,
		Type:         string(d.Type),
		Name:         d.Name,
		SealedSecret: d.SealedSecret,
		Status:       string(d.Status),
		Primary:      d.Primary,
		lockoutCols:  toLockoutCols(d.Lockout),
		LastUsedAt:   nullTime(d.LastUsedAt),
		LastUsedStep: d.LastUsedStep,
		CreatedAt:    d.CreatedAt,
	}
}

func (r deviceRow) device() *store.MFADevice {
	return &store.MFADevice{
		ID:           r.ID,
		PrincipalID:  r.PrincipalID,
		Type:         store.DeviceType(r.Type),
		Name:         r.Name,
		SealedSecret: r.SealedSecret,
		Status:       store.DeviceStatus(r.Status),
		Primary:      r.Primary,
		Lockout:      r.state(),
		LastUsedAt:   fromNullTime(r.LastUsedAt),
		LastUsedStep: r.LastUsedStep,
		CreatedAt:    r.CreatedAt.UTC(),
	}
}

type backupCodeRow struct {
	ID          string       `db:"id"`
	PrincipalID string       `db:"principal_id"`
	Hash        string       `db:"hash"`
	Used        bool         `db:"used"`
	UsedAt      sql.NullTime `db:"used_at"`
	ExpiresAt   sql.NullTime `db:"expires_at"`
	CreatedAt   time.Time    `db:"created_at"`
}

func (r backupCodeRow) code() store.BackupCode {
	return store.BackupCode{
		ID:          r.ID,
		PrincipalID: r.PrincipalID,
		Hash:        r.Hash,
		Used:        r.Used,
		UsedAt:      fromNullTime(r.UsedAt),
		ExpiresAt:   fromNullTime(r.ExpiresAt),
		CreatedAt:   r.CreatedAt.UTC(),
	}
}

type grantRow struct {
	PermissionID        string       `db:"permission_id"`
	ResourceType        string       `db:"resource_type"`
	Action              string       `db:"action"`
	Scope               string       `db:"scope"`
	RoleID              string       `db:"role_id"`
	RoleActive          bool         `db:"role_active"`
	AssignmentActive    bool         `db:"assignment_active"`
	AssignmentExpiresAt sql.NullTime `db:"assignment_expires_at"`
	GrantActive         bool         `db:"grant_active"`
	GrantExpiresAt      sql.NullTime `db:"grant_expires_at"`
}

func (r grantRow) grant() store.Grant {
	return store.Grant{
		Permission: store.Permission{
			ID:           r.PermissionID,
			ResourceType: r.ResourceType,
			Action:       r.Action,
			Scope:        r.Scope,
		},
		RoleID:              r.RoleID,
		RoleActive:          r.RoleActive,
		AssignmentActive:    r.AssignmentActive,
		AssignmentExpiresAt: fromNullTime(r.AssignmentExpiresAt),
		GrantActive:         r.GrantActive,
		GrantExpiresAt:      fromNullTime(r.GrantExpiresAt),
	}
}
