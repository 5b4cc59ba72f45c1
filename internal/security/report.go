package security

import (
	"fmt"
	"sort"
	"time"
)

// PasswordReport holds the Argon2id parameters new hashes use.
type PasswordReport struct {
	Memory      uint32
	Time        uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32
}

// Report is a read-only summary of the effective security posture.
type Report struct {
	ProductionMode     bool
	SigningAlgorithm   string
	StrictValidation   bool
	AccessTTL          time.Duration
	RefreshTTL         time.Duration
	MaxSessionLifetime time.Duration
	Argon2             PasswordReport

	PrincipalLockout   string
	DeviceLockout      string
	TOTPSkew           uint
	BackupCodeCount    int
	TOTPSecretsSealed  bool
	TimingEqualized    bool
	LockedMasked       bool
	HashUpgradeOnLogin bool
	RateLimitingActive bool
	RateLimitBackend   string
	AuditEnabled       bool
	MaintenanceActive  bool
	ResetSecretTTL     time.Duration
	VerifySecretTTL    time.Duration

	// Warnings lists settings that weaken the posture, sorted.
	Warnings []string
}

// ReportInput is the flattened configuration BuildReport reads.
type ReportInput struct {
	ProductionMode     bool
	SigningAlgorithm   string
	StrictValidation   bool
	AccessTTL          time.Duration
	RefreshTTL         time.Duration
	MaxSessionLifetime time.Duration
	Password           PasswordReport

	PrincipalMaxAttempts int
	PrincipalLockFor     time.Duration
	DeviceMaxAttempts    int
	DeviceLockFor        time.Duration
	TOTPSkew             uint
	BackupCodeCount      int
	MFASecretKeySet      bool

	EqualizeTiming     bool
	MaskLocked         bool
	HashUpgradeOnLogin bool

	RateLimitEnabled bool
	RateLimitBackend string
	AuditEnabled     bool
	AuditDropIfFull  bool
	SweepInterval    time.Duration
	ResetSecretTTL   time.Duration
	VerifySecretTTL  time.Duration
}

// BuildReport summarizes input and collects warnings.
func BuildReport(input ReportInput) Report {
	r := Report{
		ProductionMode:     input.ProductionMode,
		SigningAlgorithm:   input.SigningAlgorithm,
		StrictValidation:   input.StrictValidation,
		AccessTTL:          input.AccessTTL,
		RefreshTTL:         input.RefreshTTL,
		MaxSessionLifetime: input.MaxSessionLifetime,
		Argon2:             input.Password,
		PrincipalLockout:   lockoutSummary(input.PrincipalMaxAttempts, input.PrincipalLockFor),
		DeviceLockout:      lockoutSummary(input.DeviceMaxAttempts, input.DeviceLockFor),
		TOTPSkew:           input.TOTPSkew,
		BackupCodeCount:    input.BackupCodeCount,
		TOTPSecretsSealed:  input.MFASecretKeySet,
		TimingEqualized:    input.EqualizeTiming,
		LockedMasked:       input.MaskLocked,
		HashUpgradeOnLogin: input.HashUpgradeOnLogin,
		RateLimitingActive: input.RateLimitEnabled,
		AuditEnabled:       input.AuditEnabled,
		MaintenanceActive:  input.SweepInterval > 0,
		ResetSecretTTL:     input.ResetSecretTTL,
		VerifySecretTTL:    input.VerifySecretTTL,
	}
	if input.RateLimitEnabled {
		r.RateLimitBackend = input.RateLimitBackend
	}

	warn := func(msg string) { r.Warnings = append(r.Warnings, msg) }
	if input.SigningAlgorithm == "hs256" {
		warn("access tokens use a shared HMAC secret; every verifier can mint tokens")
	}
	if !input.StrictValidation {
		warn("access tokens are checked by signature only; revocation applies at access expiry")
	}
	if input.AccessTTL > 15*time.Minute {
		warn("access token lifetime exceeds 15m")
	}
	if input.MaxSessionLifetime == 0 {
		warn("sessions have no absolute lifetime cap")
	}
	if !input.MFASecretKeySet {
		warn("TOTP secrets are stored unsealed")
	}
	if input.TOTPSkew > 1 {
		warn("TOTP accepts more than one step of clock skew")
	}
	if !input.EqualizeTiming {
		warn("login timing may reveal whether an account exists")
	}
	if !input.RateLimitEnabled {
		warn("login and refresh rate limiting is disabled")
	}
	if !input.AuditEnabled {
		warn("audit events are disabled")
	} else if !input.AuditDropIfFull {
		warn("a full audit buffer blocks the request path")
	}
	if input.SweepInterval == 0 {
		warn("background sweeping is disabled; expired rows accumulate until Sweep is called")
	}
	if input.ResetSecretTTL > time.Hour {
		warn("password reset secrets live longer than 1h")
	}
	sort.Strings(r.Warnings)
	return r
}

func lockoutSummary(attempts int, lockFor time.Duration) string {
	if attempts <= 0 || lockFor <= 0 {
		return "disabled"
	}
	return fmt.Sprintf("%d failures / %s", attempts, lockFor)
}
