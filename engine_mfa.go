package healthauth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ppulimamidy/PersonalHealthAssistant-sub005/audit"
	"github.com/ppulimamidy/PersonalHealthAssistant-sub005/internal"
	"github.com/ppulimamidy/PersonalHealthAssistant-sub005/jwt"
	"github.com/ppulimamidy/PersonalHealthAssistant-sub005/lockout"
	"github.com/ppulimamidy/PersonalHealthAssistant-sub005/mfa"
	"github.com/ppulimamidy/PersonalHealthAssistant-sub005/store"
)

const (
	factorTOTP       = "totp"
	factorBackupCode = "backup_code"
)

// CompleteMFA exchanges a challenge from Login for a session once code
// checks out. code is either a TOTP code from the principal's primary
// device or one of its backup codes. Every rejection counts against the
// primary device's lockout state and returns ErrMFARejected; the challenge
// stays usable until it expires or succeeds once.
func (e *Engine) CompleteMFA(ctx context.Context, challenge, code string) (*LoginResult, error) {
	claims, err := e.tokens.ParseChallenge(challenge)
	if err != nil {
		e.metrics.Inc(MetricMFAFailure)
		if errors.Is(err, jwt.ErrExpired) {
			e.emitFailure(ctx, AuditMFAVerify, "", "", "challenge_expired")
			return nil, ErrTokenExpired
		}
		e.emitFailure(ctx, AuditMFAVerify, "", "", "challenge_invalid")
		return nil, ErrTokenInvalid
	}

	now := e.now()
	challengeHash := internal.HashToken(claims.ID)
	used, err := e.backend.Blacklist.IsBlacklisted(ctx, challengeHash, now)
	if err != nil {
		return nil, e.unavailable("check challenge", err)
	}
	if used {
		e.metrics.Inc(MetricMFAFailure)
		e.emitFailure(ctx, AuditMFAVerify, claims.PrincipalID, "", "challenge_replayed")
		return nil, ErrTokenInvalid
	}

	p, err := e.backend.Principals.GetPrincipal(ctx, claims.PrincipalID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			e.emitFailure(ctx, AuditMFAVerify, claims.PrincipalID, "", "principal_missing")
			return nil, ErrTokenInvalid
		}
		return nil, e.unavailable("load principal", err)
	}
	switch {
	case p.Status == store.PrincipalLocked || p.Lockout.Locked(now):
		return nil, e.loginFailed(ctx, AuditMFAVerify, CredentialOutcome{Reason: ReasonLocked, Principal: p})
	case p.Status != store.PrincipalActive:
		return nil, e.loginFailed(ctx, AuditMFAVerify, CredentialOutcome{Reason: ReasonInactive, Principal: p})
	}

	factor := factorTOTP
	var reason string
	if mfa.LooksLikeBackupCode(code, e.totp.Digits()) {
		factor = factorBackupCode
		reason, err = e.verifyBackupCode(ctx, p.ID, code, now)
	} else {
		reason, err = e.verifyTOTP(ctx, p.ID, code, now)
	}
	if err != nil {
		return nil, err
	}
	if reason != "" {
		e.metrics.Inc(MetricMFAFailure)
		e.emit(ctx, auditRecord{
			kind:        AuditMFAVerify,
			principalID: p.ID,
			outcome:     audit.OutcomeFailure,
			reason:      reason,
			metadata:    map[string]string{"factor": factor},
		})
		return nil, ErrMFARejected
	}

	err = e.backend.Blacklist.BlacklistOnce(ctx, store.BlacklistEntry{
		TokenHash: challengeHash,
		Kind:      store.TokenChallenge,
		ExpiresAt: claims.ExpiresAt.Time,
		Reason:    "mfa_completed",
	}, now)
	if err != nil {
		if errors.Is(err, store.ErrConflict) {
			e.metrics.Inc(MetricMFAFailure)
			e.emitFailure(ctx, AuditMFAVerify, p.ID, "", "challenge_replayed")
			return nil, ErrTokenInvalid
		}
		return nil, e.unavailable("consume challenge", err)
	}

	pair, err := e.mintSession(ctx, p, true, true)
	if err != nil {
		return nil, err
	}
	e.metrics.Inc(MetricMFASuccess)
	e.metrics.Inc(MetricLoginSuccess)
	e.emit(ctx, auditRecord{
		kind:        AuditMFAVerify,
		principalID: p.ID,
		sessionID:   pair.SessionID,
		outcome:     audit.OutcomeSuccess,
		metadata:    map[string]string{"factor": factor},
	})
	return &LoginResult{PrincipalID: p.ID, Tokens: pair}, nil
}

// verifyTOTP returns a non-empty rejection reason for a refused code.
func (e *Engine) verifyTOTP(ctx context.Context, principalID, code string, now time.Time) (string, error) {
	dev, err := e.primaryTOTPDevice(ctx, principalID)
	if err != nil {
		return "", err
	}
	if dev == nil {
		return "no_active_device", nil
	}
	if dev.Lockout.Locked(now) {
		return "device_locked", nil
	}

	secret, err := e.openSecret(dev)
	if err != nil {
		return "", err
	}
	step, ok, err := e.totp.Verify(secret, code, now)
	if err != nil {
		return "", fmt.Errorf("verify totp: %w", err)
	}
	if !ok {
		return e.deviceFailure(ctx, dev, now, "bad_code")
	}
	if step <= dev.LastUsedStep {
		e.metrics.Inc(MetricMFAReplayAttempt)
		return e.deviceFailure(ctx, dev, now, "replayed_code")
	}
	if err := e.backend.Devices.RecordDeviceUse(ctx, dev.ID, step, now); err != nil {
		if errors.Is(err, store.ErrConflict) {
			// a concurrent request accepted the same step first
			e.metrics.Inc(MetricMFAReplayAttempt)
			return e.deviceFailure(ctx, dev, now, "replayed_code")
		}
		return "", e.unavailable("record device use", err)
	}
	return "", nil
}

// verifyBackupCode compares code against every usable code in constant
// time, then consumes the match with a conditional update so a code is
// accepted once even under concurrent submissions.
func (e *Engine) verifyBackupCode(ctx context.Context, principalID, code string, now time.Time) (string, error) {
	dev, err := e.primaryTOTPDevice(ctx, principalID)
	if err != nil {
		return "", err
	}
	if dev != nil && dev.Lockout.Locked(now) {
		return "device_locked", nil
	}

	codes, err := e.backend.BackupCodes.ListBackupCodes(ctx, principalID)
	if err != nil {
		return "", e.unavailable("list backup codes", err)
	}
	hashes := make([]string, 0, len(codes))
	for _, c := range codes {
		if c.Usable(now) {
			hashes = append(hashes, c.Hash)
		}
	}

	match, ok := mfa.MatchBackupCode(principalID, code, hashes)
	if ok {
		err = e.backend.BackupCodes.ConsumeBackupCode(ctx, principalID, match, now)
		if err == nil {
			e.metrics.Inc(MetricBackupCodeUsed)
			return "", nil
		}
		if !errors.Is(err, store.ErrNotFound) {
			return "", e.unavailable("consume backup code", err)
		}
	}

	e.metrics.Inc(MetricBackupCodeFailed)
	if dev == nil {
		return "bad_backup_code", nil
	}
	return e.deviceFailure(ctx, dev, now, "bad_backup_code")
}

// deviceFailure applies the device lockout policy and passes reason
// through.
func (e *Engine) deviceFailure(ctx context.Context, dev *store.MFADevice, now time.Time, reason string) (string, error) {
	policy := e.config.Lockout.Device
	justLocked := false
	state, err := e.backend.Devices.UpdateDeviceLockout(ctx, dev.ID, func(s lockout.State) lockout.State {
		next := policy.Failure(s, now)
		justLocked = !s.Locked(now) && next.Locked(now)
		return next
	})
	if err != nil {
		return "", e.unavailable("record device failure", err)
	}
	dev.Lockout = state
	if justLocked {
		e.metrics.Inc(MetricDeviceLocked)
		e.emit(ctx, auditRecord{
			kind:        AuditDeviceLocked,
			principalID: dev.PrincipalID,
			outcome:     audit.OutcomeFailure,
			reason:      "failure_threshold",
			metadata: map[string]string{
				"device_id":    dev.ID,
				"locked_until": state.LockedUntil.UTC().Format(time.RFC3339),
			},
		})
	}
	return reason, nil
}

// primaryTOTPDevice returns the principal's primary active TOTP device,
// falling back to the oldest active one. It returns nil when none exists.
func (e *Engine) primaryTOTPDevice(ctx context.Context, principalID string) (*store.MFADevice, error) {
	devices, err := e.backend.Devices.ListDevices(ctx, principalID)
	if err != nil {
		return nil, e.unavailable("list devices", err)
	}
	var fallback *store.MFADevice
	for _, d := range devices {
		if d.Type != store.DeviceTOTP || d.Status != store.DeviceActive {
			continue
		}
		if d.Primary {
			return d, nil
		}
		if fallback == nil {
			fallback = d
		}
	}
	return fallback, nil
}

func secretAAD(dev *store.MFADevice) string {
	return dev.PrincipalID + "/" + dev.ID
}

func (e *Engine) sealSecret(dev *store.MFADevice, secret string) (string, error) {
	if e.box == nil {
		return secret, nil
	}
	return e.box.Seal(secret, secretAAD(dev))
}

func (e *Engine) openSecret(dev *store.MFADevice) (string, error) {
	if e.box == nil {
		return dev.SealedSecret, nil
	}
	secret, err := e.box.Open(dev.SealedSecret, secretAAD(dev))
	if err != nil {
		e.logger.Error("mfa secret cannot be opened", zap.String("device_id", dev.ID), zap.Error(err))
		return "", fmt.Errorf("%w: open device secret", ErrUnavailable)
	}
	return secret, nil
}

// BeginTOTPEnrollment creates an unverified TOTP device and a fresh batch
// of backup codes. Earlier unfinished enrollments are retired. The device
// becomes usable after ConfirmTOTPEnrollment.
func (e *Engine) BeginTOTPEnrollment(ctx context.Context, principalID string) (*TOTPEnrollment, error) {
	p, err := e.loadPrincipal(ctx, principalID)
	if err != nil {
		return nil, err
	}
	now := e.now()

	devices, err := e.backend.Devices.ListDevices(ctx, p.ID)
	if err != nil {
		return nil, e.unavailable("list devices", err)
	}
	for _, d := range devices {
		if d.Type == store.DeviceTOTP && d.Status == store.DeviceUnverified {
			d.Status = store.DeviceInactive
			if err := e.backend.Devices.UpdateDevice(ctx, d); err != nil {
				return nil, e.unavailable("retire device", err)
			}
		}
	}

	account := p.Email
	if account == "" {
		account = p.ID
	}
	enr, err := e.totp.Generate(account)
	if err != nil {
		return nil, err
	}

	dev := &store.MFADevice{
		ID:          uuid.NewString(),
		PrincipalID: p.ID,
		Type:        store.DeviceTOTP,
		Name:        "authenticator",
		Status:      store.DeviceUnverified,
		CreatedAt:   now,
	}
	dev.SealedSecret, err = e.sealSecret(dev, enr.Secret)
	if err != nil {
		return nil, fmt.Errorf("seal totp secret: %w", err)
	}
	if err := e.backend.Devices.CreateDevice(ctx, dev); err != nil {
		return nil, e.storeErr("create device", err)
	}

	codes, err := e.issueBackupCodes(ctx, p.ID, now)
	if err != nil {
		return nil, err
	}

	e.emit(ctx, auditRecord{
		kind:        AuditMFAEnrollmentStarted,
		principalID: p.ID,
		outcome:     audit.OutcomeSuccess,
		metadata:    map[string]string{"device_id": dev.ID},
	})
	return &TOTPEnrollment{
		DeviceID:    dev.ID,
		Secret:      enr.Secret,
		URL:         enr.URL,
		BackupCodes: codes,
	}, nil
}

// ConfirmTOTPEnrollment activates an unverified device with its first
// valid code and turns MFA on for the principal.
func (e *Engine) ConfirmTOTPEnrollment(ctx context.Context, principalID, deviceID, code string) error {
	dev, err := e.backend.Devices.GetDevice(ctx, deviceID)
	if err != nil {
		return e.storeErr("load device", err)
	}
	if dev.PrincipalID != principalID || dev.Type != store.DeviceTOTP {
		return ErrNotFound
	}
	if dev.Status != store.DeviceUnverified {
		return fmt.Errorf("%w: device is %s", ErrConflict, dev.Status)
	}

	now := e.now()
	if dev.Lockout.Locked(now) {
		e.emitFailure(ctx, AuditMFAEnrolled, principalID, "", "device_locked")
		return ErrMFARejected
	}
	secret, err := e.openSecret(dev)
	if err != nil {
		return err
	}
	step, ok, err := e.totp.Verify(secret, code, now)
	if err != nil {
		return fmt.Errorf("verify totp: %w", err)
	}
	if !ok {
		if _, err := e.deviceFailure(ctx, dev, now, "bad_code"); err != nil {
			return err
		}
		e.metrics.Inc(MetricMFAFailure)
		e.emitFailure(ctx, AuditMFAEnrolled, principalID, "", "bad_code")
		return ErrMFARejected
	}
	if err := e.backend.Devices.RecordDeviceUse(ctx, dev.ID, step, now); err != nil {
		if errors.Is(err, store.ErrConflict) {
			return ErrMFARejected
		}
		return e.unavailable("record device use", err)
	}

	current, err := e.primaryTOTPDevice(ctx, principalID)
	if err != nil {
		return err
	}
	dev.Status = store.DeviceActive
	dev.Primary = current == nil
	if err := e.backend.Devices.UpdateDevice(ctx, dev); err != nil {
		return e.storeErr("activate device", err)
	}

	_, err = e.mutatePrincipal(ctx, principalID, func(p *store.Principal) error {
		if !p.MFAStatus.Challenges() {
			p.MFAStatus = store.MFAEnabled
		}
		return nil
	})
	if err != nil {
		return err
	}

	e.metrics.Inc(MetricMFASuccess)
	e.emit(ctx, auditRecord{
		kind:        AuditMFAEnrolled,
		principalID: principalID,
		outcome:     audit.OutcomeSuccess,
		metadata:    map[string]string{"device_id": dev.ID},
	})
	return nil
}

// RegenerateBackupCodes replaces every backup code of the principal and
// returns the new batch in display form.
func (e *Engine) RegenerateBackupCodes(ctx context.Context, principalID string) ([]string, error) {
	if _, err := e.loadPrincipal(ctx, principalID); err != nil {
		return nil, err
	}
	codes, err := e.issueBackupCodes(ctx, principalID, e.now())
	if err != nil {
		return nil, err
	}
	e.metrics.Inc(MetricBackupCodeRegenerated)
	e.emitSuccess(ctx, AuditBackupCodesGenerated, principalID, "")
	return codes, nil
}

func (e *Engine) issueBackupCodes(ctx context.Context, principalID string, now time.Time) ([]string, error) {
	codes, err := mfa.GenerateBackupCodes(e.config.MFA.BackupCodes)
	if err != nil {
		return nil, fmt.Errorf("generate backup codes: %w", err)
	}
	rows := make([]store.BackupCode, len(codes))
	for i, c := range codes {
		rows[i] = store.BackupCode{
			ID:          uuid.NewString(),
			PrincipalID: principalID,
			Hash:        mfa.HashBackupCode(principalID, c),
			CreatedAt:   now,
		}
		if ttl := e.config.MFA.BackupCodeTTL; ttl > 0 {
			rows[i].ExpiresAt = now.Add(ttl)
		}
	}
	if err := e.backend.BackupCodes.ReplaceBackupCodes(ctx, principalID, rows); err != nil {
		return nil, e.unavailable("store backup codes", err)
	}
	return codes, nil
}

func deviceTransitionAllowed(from, to store.DeviceStatus) bool {
	if from == to {
		return true
	}
	switch from {
	case store.DeviceUnverified:
		return to == store.DeviceInactive
	case store.DeviceActive:
		return to == store.DeviceSuspended || to == store.DeviceLost || to == store.DeviceInactive
	case store.DeviceSuspended:
		return to == store.DeviceActive || to == store.DeviceLost || to == store.DeviceInactive
	}
	// inactive and lost are terminal
	return false
}

// SetDeviceStatus moves a device through its lifecycle. Unverified devices
// only become active through ConfirmTOTPEnrollment; lost and inactive
// devices never come back. When the primary device leaves the active state
// the oldest remaining active TOTP device is promoted.
func (e *Engine) SetDeviceStatus(ctx context.Context, principalID, deviceID string, status store.DeviceStatus) error {
	dev, err := e.backend.Devices.GetDevice(ctx, deviceID)
	if err != nil {
		return e.storeErr("load device", err)
	}
	if dev.PrincipalID != principalID {
		return ErrNotFound
	}
	if !deviceTransitionAllowed(dev.Status, status) {
		return fmt.Errorf("%w: device %s cannot become %s", ErrConflict, dev.Status, status)
	}
	if dev.Status == status {
		return nil
	}

	from := dev.Status
	wasPrimary := dev.Primary
	dev.Status = status
	if status != store.DeviceActive {
		dev.Primary = false
	}
	if err := e.backend.Devices.UpdateDevice(ctx, dev); err != nil {
		return e.storeErr("update device", err)
	}

	if wasPrimary && status != store.DeviceActive {
		next, err := e.primaryTOTPDevice(ctx, principalID)
		if err != nil {
			return err
		}
		if next != nil && !next.Primary {
			next.Primary = true
			if err := e.backend.Devices.UpdateDevice(ctx, next); err != nil {
				return e.storeErr("promote device", err)
			}
		}
	}

	e.emit(ctx, auditRecord{
		kind:        AuditDeviceStatusChanged,
		principalID: principalID,
		outcome:     audit.OutcomeSuccess,
		metadata: map[string]string{
			"device_id": dev.ID,
			"from":      string(from),
			"to":        string(status),
		},
	})
	return nil
}

// DisableMFA deactivates every device and backup code of the principal.
// A principal whose MFA is mandatory drops back to setup_required.
func (e *Engine) DisableMFA(ctx context.Context, principalID string) error {
	devices, err := e.backend.Devices.ListDevices(ctx, principalID)
	if err != nil {
		return e.unavailable("list devices", err)
	}
	for _, d := range devices {
		if d.Status == store.DeviceLost || d.Status == store.DeviceInactive {
			continue
		}
		d.Status = store.DeviceInactive
		d.Primary = false
		if err := e.backend.Devices.UpdateDevice(ctx, d); err != nil {
			return e.storeErr("deactivate device", err)
		}
	}
	if err := e.backend.BackupCodes.ReplaceBackupCodes(ctx, principalID, nil); err != nil {
		return e.unavailable("clear backup codes", err)
	}

	p, err := e.mutatePrincipal(ctx, principalID, func(p *store.Principal) error {
		if p.MFAStatus == store.MFARequired || p.MFAStatus == store.MFASetupRequired {
			p.MFAStatus = store.MFASetupRequired
		} else {
			p.MFAStatus = store.MFADisabled
		}
		return nil
	})
	if err != nil {
		return err
	}
	e.emit(ctx, auditRecord{
		kind:        AuditMFADisabled,
		principalID: principalID,
		outcome:     audit.OutcomeSuccess,
		metadata:    map[string]string{"mfa_status": string(p.MFAStatus)},
	})
	return nil
}
