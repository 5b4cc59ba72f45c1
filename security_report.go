package healthauth

import "github.com/ppulimamidy/PersonalHealthAssistant-sub005/internal/security"

// SecurityReport is a read-only snapshot of the security posture a
// configuration produces. Warnings names settings that weaken it.
type SecurityReport = security.Report

// SecurityReport describes the running engine's configuration.
func (e *Engine) SecurityReport() SecurityReport {
	if e == nil {
		return SecurityReport{}
	}
	return ReportConfig(e.config)
}

// ReportConfig builds a SecurityReport without constructing an engine, so
// configuration files can be checked before deployment.
func ReportConfig(cfg Config) SecurityReport {
	return security.BuildReport(security.ReportInput{
		ProductionMode:     cfg.ProductionMode,
		SigningAlgorithm:   cfg.JWT.SigningMethod,
		StrictValidation:   cfg.Hardening.StrictValidation,
		AccessTTL:          cfg.JWT.AccessTTL,
		RefreshTTL:         cfg.Session.RefreshTTL,
		MaxSessionLifetime: cfg.Session.MaxLifetime,
		Password: security.PasswordReport{
			Memory:      cfg.Password.Memory,
			Time:        cfg.Password.Time,
			Parallelism: cfg.Password.Parallelism,
			SaltLength:  cfg.Password.SaltLength,
			KeyLength:   cfg.Password.KeyLength,
		},
		PrincipalMaxAttempts: cfg.Lockout.Principal.MaxAttempts,
		PrincipalLockFor:     cfg.Lockout.Principal.Duration,
		DeviceMaxAttempts:    cfg.Lockout.Device.MaxAttempts,
		DeviceLockFor:        cfg.Lockout.Device.Duration,
		TOTPSkew:             cfg.MFA.TOTP.Skew,
		BackupCodeCount:      cfg.MFA.BackupCodes.Count,
		MFASecretKeySet:      len(cfg.MFA.SecretKey) > 0,
		EqualizeTiming:       cfg.Hardening.EqualizeUnknownPrincipalTiming,
		MaskLocked:           cfg.Hardening.MaskLockedAsInvalid,
		HashUpgradeOnLogin:   cfg.Hardening.UpgradeHashOnLogin,
		RateLimitEnabled:     cfg.RateLimit.Enabled,
		RateLimitBackend:     cfg.RateLimit.Backend,
		AuditEnabled:         cfg.Audit.Enabled,
		AuditDropIfFull:      cfg.Audit.DropIfFull,
		SweepInterval:        cfg.Maintenance.Interval,
		ResetSecretTTL:       cfg.Secrets.ResetTTL,
		VerifySecretTTL:      cfg.Secrets.VerifyTTL,
	})
}
