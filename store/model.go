package store

import (
	"time"

	"github.com/ppulimamidy/PersonalHealthAssistant-sub005/lockout"
)

// PrincipalStatus is the account lifecycle state.
type PrincipalStatus string

const (
	PrincipalActive              PrincipalStatus = "active"
	PrincipalInactive            PrincipalStatus = "inactive"
	PrincipalSuspended           PrincipalStatus = "suspended"
	PrincipalPendingVerification PrincipalStatus = "pending_verification"
	PrincipalLocked              PrincipalStatus = "locked"
)

// Valid reports whether s is a known status.
func (s PrincipalStatus) Valid() bool {
	switch s {
	case PrincipalActive, PrincipalInactive, PrincipalSuspended, PrincipalPendingVerification, PrincipalLocked:
		return true
	}
	return false
}

// MFAStatus describes whether a principal must present a second factor.
type MFAStatus string

const (
	MFADisabled      MFAStatus = "disabled"
	MFASetupRequired MFAStatus = "setup_required"
	MFAEnabled       MFAStatus = "enabled"
	MFARequired      MFAStatus = "required"
)

// Challenges reports whether login must stop at an MFA challenge.
func (s MFAStatus) Challenges() bool {
	return s == MFAEnabled || s == MFARequired
}

// Principal is an authenticatable identity.
type Principal struct {
	ID           string
	ExternalID   string
	Email        string
	Phone        string
	PasswordHash string
	Status       PrincipalStatus
	MFAStatus    MFAStatus
	Lockout      lockout.State
	Version      int64
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Clone returns a copy safe to mutate.
func (p *Principal) Clone() *Principal {
	if p == nil {
		return nil
	}
	out := *p
	return &out
}

// SessionStatus is the session lifecycle state.
type SessionStatus string

const (
	SessionActive     SessionStatus = "active"
	SessionExpired    SessionStatus = "expired"
	SessionRevoked    SessionStatus = "revoked"
	SessionSuspicious SessionStatus = "suspicious"
)

// Session binds a principal to its current access/refresh credentials.
type Session struct {
	ID               string
	PrincipalID      string
	AccessHash       string
	RefreshHash      string
	AccessExpiresAt  time.Time
	RefreshExpiresAt time.Time
	MFAVerified      bool
	MFARequired      bool
	Status           SessionStatus
	RevokedReason    string
	IP               string
	UserAgent        string
	LastActivityAt   time.Time
	CreatedAt        time.Time
}

// Clone returns a copy safe to mutate.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	out := *s
	return &out
}

// AccessValid reports whether the session still honours its access token.
func (s *Session) AccessValid(now time.Time) bool {
	return s != nil && s.Status == SessionActive && now.Before(s.AccessExpiresAt)
}

// RefreshValid reports whether the session may be refreshed.
func (s *Session) RefreshValid(now time.Time) bool {
	if s == nil || s.Status != SessionActive || !now.Before(s.RefreshExpiresAt) {
		return false
	}
	return !s.MFARequired || s.MFAVerified
}

// RefreshRecord is one link of a session's refresh rotation chain.
type RefreshRecord struct {
	Hash          string
	SessionID     string
	PrincipalID   string
	IssuedAt      time.Time
	ExpiresAt     time.Time
	Revoked       bool
	RevokedReason string
	Replaces      string
	ReplacedBy    string
}

// Superseded reports whether a newer link replaced this record.
func (r *RefreshRecord) Superseded() bool {
	return r != nil && r.ReplacedBy != ""
}

// RotateRequest describes one refresh rotation step.
type RotateRequest struct {
	SessionID        string
	OldHash          string
	Next             RefreshRecord
	AccessHash       string
	AccessExpiresAt  time.Time
	RefreshExpiresAt time.Time
	Now              time.Time
}

// DeviceType is the kind of second factor.
type DeviceType string

const (
	DeviceTOTP   DeviceType = "totp"
	DeviceSMS    DeviceType = "sms"
	DeviceEmail  DeviceType = "email"
	DeviceBackup DeviceType = "backup"
)

// DeviceStatus is the MFA device lifecycle state.
type DeviceStatus string

const (
	DeviceUnverified DeviceStatus = "unverified"
	DeviceActive     DeviceStatus = "active"
	DeviceInactive   DeviceStatus = "inactive"
	DeviceSuspended  DeviceStatus = "suspended"
	DeviceLost       DeviceStatus = "lost"
)

// MFADevice is an enrolled second factor.
type MFADevice struct {
	ID           string
	PrincipalID  string
	Type         DeviceType
	Name         string
	SealedSecret string
	Status       DeviceStatus
	Primary      bool
	Lockout      lockout.State
	LastUsedAt   time.Time
	LastUsedStep int64
	CreatedAt    time.Time
}

// Clone returns a copy safe to mutate.
func (d *MFADevice) Clone() *MFADevice {
	if d == nil {
		return nil
	}
	out := *d
	return &out
}

// BackupCode is the stored form of a single-use recovery code.
type BackupCode struct {
	ID          string
	PrincipalID string
	Hash        string
	Used        bool
	UsedAt      time.Time
	ExpiresAt   time.Time
	CreatedAt   time.Time
}

// Usable reports whether the code can still be redeemed at now.
func (c BackupCode) Usable(now time.Time) bool {
	if c.Used {
		return false
	}
	return c.ExpiresAt.IsZero() || now.Before(c.ExpiresAt)
}

// Role is a named bundle of permissions.
type Role struct {
	ID          string
	Name        string
	Description string
	IsActive    bool
}

// Permission is a (resource type, action, scope) triple.
type Permission struct {
	ID           string
	ResourceType string
	Action       string
	Scope        string
}

// RoleAssignment links a principal to a role.
type RoleAssignment struct {
	PrincipalID string
	RoleID      string
	IsActive    bool
	ExpiresAt   time.Time
	AssignedAt  time.Time
}

// PermissionGrant links a role to a permission.
type PermissionGrant struct {
	RoleID       string
	PermissionID string
	IsActive     bool
	ExpiresAt    time.Time
	GrantedAt    time.Time
}

// Grant is the joined row the RBAC engine evaluates: one permission reached
// through one role assignment.
type Grant struct {
	Permission          Permission
	RoleID              string
	RoleActive          bool
	AssignmentActive    bool
	AssignmentExpiresAt time.Time
	GrantActive         bool
	GrantExpiresAt      time.Time
}

// TokenKind distinguishes revoked credential types.
type TokenKind string

const (
	TokenAccess    TokenKind = "access"
	TokenRefresh   TokenKind = "refresh"
	TokenChallenge TokenKind = "challenge"
)

// BlacklistEntry keeps a revoked token hash until its original expiry.
type BlacklistEntry struct {
	TokenHash string
	Kind      TokenKind
	SessionID string
	ExpiresAt time.Time
	Reason    string
}

// SecretPurpose names what a verification secret unlocks.
type SecretPurpose string

const (
	PurposePasswordReset     SecretPurpose = "password_reset"
	PurposeEmailVerification SecretPurpose = "email_verification"
)

// VerificationSecret is the stored, hashed form of an emailed secret.
type VerificationSecret struct {
	Hash        string
	PrincipalID string
	Purpose     SecretPurpose
	ExpiresAt   time.Time
	Used        bool
	UsedAt      time.Time
	CreatedAt   time.Time
}
