package healthauth

import (
	"context"
	"time"

	"github.com/ppulimamidy/PersonalHealthAssistant-sub005/federated"
	"github.com/ppulimamidy/PersonalHealthAssistant-sub005/notify"
	"github.com/ppulimamidy/PersonalHealthAssistant-sub005/store"
)

// TokenPair is what a client holds for an authenticated session.
type TokenPair struct {
	SessionID        string
	AccessToken      string
	AccessExpiresAt  time.Time
	RefreshToken     string
	RefreshExpiresAt time.Time
	MFAVerified      bool
}

// LoginResult is returned by Login, LoginFederated and CompleteMFA.
//
// Exactly one of Tokens and Challenge is set. When MFARequired is true the
// caller must pass Challenge and a code to CompleteMFA.
type LoginResult struct {
	PrincipalID string
	Tokens      *TokenPair

	MFARequired bool
	Challenge   string
	// ChallengeExpiresAt bounds how long CompleteMFA accepts Challenge.
	ChallengeExpiresAt time.Time

	// MFASetupRequired flags a session that was minted while the principal
	// still has to enroll a second factor.
	MFASetupRequired bool
	// Created is set by LoginFederated when the principal was provisioned
	// by this call.
	Created bool
}

// AccessInfo describes a validated access token.
type AccessInfo struct {
	PrincipalID string
	SessionID   string
	TokenID     string
	MFAVerified bool
	ExpiresAt   time.Time
}

// CredentialReason explains a credential outcome. It is recorded in audit
// events and never returned to the caller as an error message.
type CredentialReason string

const (
	ReasonNone      CredentialReason = ""
	ReasonNotFound  CredentialReason = "not_found"
	ReasonBadSecret CredentialReason = "bad_secret"
	ReasonInactive  CredentialReason = "inactive"
	ReasonLocked    CredentialReason = "locked"
)

// CredentialOutcome is the result of VerifyCredential. A wrong secret is an
// outcome, not an error.
type CredentialOutcome struct {
	OK        bool
	Reason    CredentialReason
	Principal *store.Principal
}

// TOTPEnrollment is returned by BeginTOTPEnrollment. Secret and URL are
// shown to the user once; BackupCodes are in display form and are never
// retrievable again.
type TOTPEnrollment struct {
	DeviceID    string
	Secret      string
	URL         string
	BackupCodes []string
}

// NewPrincipal is the input of CreatePrincipal.
type NewPrincipal struct {
	Email    string
	Phone    string
	Password string
	// Status defaults to pending_verification.
	Status store.PrincipalStatus
	// MFAStatus defaults to disabled.
	MFAStatus store.MFAStatus
}

// SweepReport counts rows touched by Sweep.
type SweepReport struct {
	SessionsExpired   int
	BlacklistPruned   int
	BackupCodesPruned int
	SecretsPruned     int
	Duration          time.Duration
}

// Limiter throttles login and refresh attempts. The engine maps any
// rejection to ErrRateLimited.
type Limiter interface {
	AllowLogin(ctx context.Context, identity, ip string) error
	AllowRefresh(ctx context.Context, sessionID string) error
}

// FederatedVerifier verifies tokens minted by an external identity
// provider.
type FederatedVerifier = federated.Verifier

// Notifier delivers password-reset and email-verification secrets.
type Notifier = notify.Notifier
