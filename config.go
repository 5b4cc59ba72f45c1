package healthauth

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/ppulimamidy/PersonalHealthAssistant-sub005/audit"
	"github.com/ppulimamidy/PersonalHealthAssistant-sub005/lockout"
	"github.com/ppulimamidy/PersonalHealthAssistant-sub005/mfa"
	"github.com/ppulimamidy/PersonalHealthAssistant-sub005/password"
	"github.com/ppulimamidy/PersonalHealthAssistant-sub005/rbac"
)

// Config is the complete engine configuration. Build one with
// DefaultConfig, adjust it, and hand it to Builder.WithConfig.
type Config struct {
	JWT         JWTConfig         `yaml:"jwt"`
	Session     SessionConfig     `yaml:"session"`
	Lockout     LockoutConfig     `yaml:"lockout"`
	MFA         MFAConfig         `yaml:"mfa"`
	Password    password.Config   `yaml:"password"`
	Secrets     SecretsConfig     `yaml:"secrets"`
	Audit       audit.Config      `yaml:"audit"`
	Metrics     MetricsConfig     `yaml:"metrics"`
	RBAC        rbac.Config       `yaml:"rbac"`
	Hardening   HardeningConfig   `yaml:"hardening"`
	Maintenance MaintenanceConfig `yaml:"maintenance"`
	RateLimit   RateLimitConfig   `yaml:"rate_limit"`

	// ProductionMode makes Validate reject settings that are only
	// acceptable in development.
	ProductionMode bool `yaml:"production_mode"`
}

/*
====================================
JWT CONFIG
====================================
*/

// JWTConfig configures access and MFA challenge tokens. Key material is
// never read from YAML.
type JWTConfig struct {
	AccessTTL     time.Duration `yaml:"access_ttl"`
	ChallengeTTL  time.Duration `yaml:"challenge_ttl"`
	SigningMethod string        `yaml:"signing_method"` // "ed25519" (default) or "hs256"
	PrivateKey    []byte        `yaml:"-"`
	PublicKey     []byte        `yaml:"-"`
	Issuer        string        `yaml:"issuer"`
	Audience      string        `yaml:"audience"`
	Leeway        time.Duration `yaml:"leeway"`
	KeyID         string        `yaml:"key_id"`
}

/*
====================================
SESSION CONFIG
====================================
*/

// SessionConfig bounds refresh lifetimes.
type SessionConfig struct {
	// RefreshTTL is the sliding refresh window; each rotation extends it.
	RefreshTTL time.Duration `yaml:"refresh_ttl"`
	// MaxLifetime caps how far rotations can push a session past its
	// creation. Zero disables the cap.
	MaxLifetime time.Duration `yaml:"max_lifetime"`
}

// LockoutConfig holds the two independent lockout policies.
type LockoutConfig struct {
	Principal lockout.Policy `yaml:"principal"`
	Device    lockout.Policy `yaml:"device"`
}

// MFAConfig configures TOTP, backup codes and at-rest sealing of TOTP
// secrets.
type MFAConfig struct {
	TOTP        mfa.TOTPConfig       `yaml:"totp"`
	BackupCodes mfa.BackupCodeConfig `yaml:"backup_codes"`
	// BackupCodeTTL, when positive, expires generated codes.
	BackupCodeTTL time.Duration `yaml:"backup_code_ttl"`
	// SecretKey is the 32 byte XChaCha20-Poly1305 key sealing TOTP
	// secrets. Empty stores secrets unsealed.
	SecretKey []byte `yaml:"-"`
}

// SecretsConfig sets lifetimes of emailed single-use secrets.
type SecretsConfig struct {
	ResetTTL  time.Duration `yaml:"reset_ttl"`
	VerifyTTL time.Duration `yaml:"verify_ttl"`
}

// MetricsConfig toggles in-process counters.
type MetricsConfig struct {
	Enabled                 bool `yaml:"enabled"`
	EnableLatencyHistograms bool `yaml:"enable_latency_histograms"`
}

// HardeningConfig holds opt-in defences.
type HardeningConfig struct {
	// EqualizeUnknownPrincipalTiming runs a dummy hash verification when
	// the identity does not resolve, so response time does not reveal
	// whether an account exists.
	EqualizeUnknownPrincipalTiming bool `yaml:"equalize_unknown_principal_timing"`
	// MaskLockedAsInvalid reports locked accounts as ErrInvalidCredential.
	MaskLockedAsInvalid bool `yaml:"mask_locked_as_invalid"`
	// UpgradeHashOnLogin rehashes secrets stored with weaker parameters or
	// legacy bcrypt after a successful login.
	UpgradeHashOnLogin bool `yaml:"upgrade_hash_on_login"`
	// StrictValidation makes ValidateAccess load the session and consult
	// the revocation list for every token.
	StrictValidation bool `yaml:"strict_validation"`
}

// MaintenanceConfig drives StartMaintenance.
type MaintenanceConfig struct {
	Interval time.Duration `yaml:"interval"`
}

// RateLimitConfig throttles login and refresh calls. Backend is "local"
// (in-process token buckets) or "redis" (shared fixed windows, requires
// Builder.WithRedis).
type RateLimitConfig struct {
	Enabled           bool          `yaml:"enabled"`
	Backend           string        `yaml:"backend"`
	LoginPerIdentity  int           `yaml:"login_per_identity"`
	LoginPerIP        int           `yaml:"login_per_ip"`
	RefreshPerSession int           `yaml:"refresh_per_session"`
	Window            time.Duration `yaml:"window"`
}

// DefaultConfig returns a development-ready configuration. JWT key material
// must still be supplied.
func DefaultConfig() Config {
	return Config{
		JWT: JWTConfig{
			AccessTTL:     15 * time.Minute,
			ChallengeTTL:  5 * time.Minute,
			SigningMethod: "ed25519",
			Issuer:        "healthauth",
			Leeway:        30 * time.Second,
		},
		Session: SessionConfig{
			RefreshTTL:  7 * 24 * time.Hour,
			MaxLifetime: 30 * 24 * time.Hour,
		},
		Lockout: LockoutConfig{
			Principal: lockout.DefaultPolicy(),
			Device:    lockout.DefaultPolicy(),
		},
		MFA: MFAConfig{
			TOTP:        mfa.DefaultTOTPConfig(),
			BackupCodes: mfa.DefaultBackupCodeConfig(),
		},
		Password: password.DefaultConfig(),
		Secrets: SecretsConfig{
			ResetTTL:  time.Hour,
			VerifyTTL: 24 * time.Hour,
		},
		Audit: audit.Config{
			Enabled:    true,
			BufferSize: 1024,
			DropIfFull: true,
		},
		Metrics: MetricsConfig{Enabled: true},
		RBAC:    rbac.DefaultConfig(),
		Hardening: HardeningConfig{
			EqualizeUnknownPrincipalTiming: true,
			UpgradeHashOnLogin:             true,
		},
		Maintenance: MaintenanceConfig{Interval: 10 * time.Minute},
		RateLimit: RateLimitConfig{
			Backend:           "local",
			LoginPerIdentity:  10,
			LoginPerIP:        50,
			RefreshPerSession: 30,
			Window:            time.Minute,
		},
	}
}

// LoadConfig reads a YAML file over DefaultConfig. Durations use Go
// syntax ("15m", "24h").
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	raw, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

func cloneConfig(cfg Config) Config {
	out := cfg
	out.JWT.PrivateKey = cloneBytes(cfg.JWT.PrivateKey)
	out.JWT.PublicKey = cloneBytes(cfg.JWT.PublicKey)
	out.MFA.SecretKey = cloneBytes(cfg.MFA.SecretKey)
	return out
}

func cloneBytes(b []byte) []byte {
	if len(b) == 0 {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

/*
====================================
VALIDATION
====================================
*/

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	// JWT
	if c.JWT.AccessTTL <= 0 {
		return errors.New("JWT AccessTTL must be > 0")
	}
	if c.JWT.ChallengeTTL <= 0 || c.JWT.ChallengeTTL > 15*time.Minute {
		return errors.New("JWT ChallengeTTL must be in (0, 15m]")
	}
	switch c.JWT.SigningMethod {
	case "ed25519", "hs256":
	default:
		return errors.New("unsupported JWT signing method")
	}
	if len(c.JWT.PrivateKey) == 0 {
		return errors.New("JWT PrivateKey is required")
	}
	if c.JWT.Leeway < 0 || c.JWT.Leeway > 2*time.Minute {
		return errors.New("JWT Leeway must be in [0, 2m]")
	}
	if c.JWT.Audience != "" && strings.TrimSpace(c.JWT.Audience) == "" {
		return errors.New("JWT Audience must not be blank")
	}

	// Session
	if c.Session.RefreshTTL <= 0 {
		return errors.New("Session RefreshTTL must be > 0")
	}
	if c.Session.RefreshTTL <= c.JWT.AccessTTL {
		return errors.New("Session RefreshTTL must exceed JWT AccessTTL")
	}
	if c.Session.MaxLifetime < 0 {
		return errors.New("Session MaxLifetime must be >= 0")
	}
	if c.Session.MaxLifetime > 0 && c.Session.MaxLifetime < c.Session.RefreshTTL {
		return errors.New("Session MaxLifetime must be >= RefreshTTL")
	}

	// Lockout
	if err := c.Lockout.Principal.Validate(); err != nil {
		return fmt.Errorf("Lockout Principal: %w", err)
	}
	if err := c.Lockout.Device.Validate(); err != nil {
		return fmt.Errorf("Lockout Device: %w", err)
	}

	// MFA
	if err := c.MFA.TOTP.Validate(); err != nil {
		return fmt.Errorf("MFA TOTP: %w", err)
	}
	if err := c.MFA.BackupCodes.Validate(); err != nil {
		return fmt.Errorf("MFA BackupCodes: %w", err)
	}
	if c.MFA.BackupCodeTTL < 0 {
		return errors.New("MFA BackupCodeTTL must be >= 0")
	}
	if len(c.MFA.SecretKey) != 0 && len(c.MFA.SecretKey) != 32 {
		return errors.New("MFA SecretKey must be 32 bytes")
	}

	// Password
	if err := c.Password.Validate(); err != nil {
		return fmt.Errorf("Password: %w", err)
	}

	// Secrets
	if c.Secrets.ResetTTL <= 0 {
		return errors.New("Secrets ResetTTL must be > 0")
	}
	if c.Secrets.VerifyTTL <= 0 {
		return errors.New("Secrets VerifyTTL must be > 0")
	}

	// Audit
	if c.Audit.Enabled && c.Audit.BufferSize <= 0 {
		return errors.New("Audit BufferSize must be > 0 when enabled")
	}

	// RBAC
	if !c.RBAC.DisableCache && c.RBAC.CacheTTL <= 0 {
		return errors.New("RBAC CacheTTL must be > 0 when caching")
	}

	// Maintenance
	if c.Maintenance.Interval < 0 {
		return errors.New("Maintenance Interval must be >= 0")
	}

	// Rate limiting
	if c.RateLimit.Enabled {
		switch c.RateLimit.Backend {
		case "local", "redis":
		default:
			return errors.New("RateLimit Backend must be 'local' or 'redis'")
		}
		if c.RateLimit.Window <= 0 {
			return errors.New("RateLimit Window must be > 0")
		}
		if c.RateLimit.LoginPerIdentity < 0 || c.RateLimit.LoginPerIP < 0 || c.RateLimit.RefreshPerSession < 0 {
			return errors.New("RateLimit budgets must be >= 0")
		}
	}

	if c.ProductionMode {
		if c.JWT.AccessTTL > 15*time.Minute {
			return errors.New("production mode requires JWT AccessTTL <= 15m")
		}
		if len(c.MFA.SecretKey) == 0 {
			return errors.New("production mode requires MFA SecretKey")
		}
		if !c.Audit.Enabled {
			return errors.New("production mode requires Audit to be enabled")
		}
		if !c.Audit.DropIfFull {
			return errors.New("production mode requires Audit DropIfFull")
		}
		if !c.Hardening.EqualizeUnknownPrincipalTiming {
			return errors.New("production mode requires EqualizeUnknownPrincipalTiming")
		}
	}

	return nil
}
