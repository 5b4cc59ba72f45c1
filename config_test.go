package healthauth

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ppulimamidy/PersonalHealthAssistant-sub005/store/memstore"
)

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name      string
		mutate    func(*Config)
		wantValid bool
	}{
		{
			name:      "defaults with key",
			mutate:    func(*Config) {},
			wantValid: true,
		},
		{
			name: "missing private key",
			mutate: func(c *Config) {
				c.JWT.PrivateKey = nil
			},
			wantValid: false,
		},
		{
			name: "jwt leeway too wide",
			mutate: func(c *Config) {
				c.JWT.Leeway = 3 * time.Minute
			},
			wantValid: false,
		},
		{
			name: "jwt audience blank",
			mutate: func(c *Config) {
				c.JWT.Audience = "   "
			},
			wantValid: false,
		},
		{
			name: "jwt signing invalid",
			mutate: func(c *Config) {
				c.JWT.SigningMethod = "rs256"
			},
			wantValid: false,
		},
		{
			name: "challenge ttl too long",
			mutate: func(c *Config) {
				c.JWT.ChallengeTTL = time.Hour
			},
			wantValid: false,
		},
		{
			name: "refresh not longer than access",
			mutate: func(c *Config) {
				c.Session.RefreshTTL = c.JWT.AccessTTL
			},
			wantValid: false,
		},
		{
			name: "max lifetime shorter than refresh",
			mutate: func(c *Config) {
				c.Session.MaxLifetime = time.Hour
			},
			wantValid: false,
		},
		{
			name: "max lifetime disabled",
			mutate: func(c *Config) {
				c.Session.MaxLifetime = 0
			},
			wantValid: true,
		},
		{
			name: "lockout attempts zero",
			mutate: func(c *Config) {
				c.Lockout.Principal.MaxAttempts = 0
			},
			wantValid: false,
		},
		{
			name: "device lockout duration zero",
			mutate: func(c *Config) {
				c.Lockout.Device.Duration = 0
			},
			wantValid: false,
		},
		{
			name: "totp period zero",
			mutate: func(c *Config) {
				c.MFA.TOTP.Period = 0
			},
			wantValid: false,
		},
		{
			name: "backup code count too high",
			mutate: func(c *Config) {
				c.MFA.BackupCodes.Count = 100
			},
			wantValid: false,
		},
		{
			name: "mfa secret key wrong size",
			mutate: func(c *Config) {
				c.MFA.SecretKey = []byte("short")
			},
			wantValid: false,
		},
		{
			name: "password memory below floor",
			mutate: func(c *Config) {
				c.Password.Memory = 1024
			},
			wantValid: false,
		},
		{
			name: "reset ttl zero",
			mutate: func(c *Config) {
				c.Secrets.ResetTTL = 0
			},
			wantValid: false,
		},
		{
			name: "audit buffer zero",
			mutate: func(c *Config) {
				c.Audit.BufferSize = 0
			},
			wantValid: false,
		},
		{
			name: "audit disabled ignores buffer",
			mutate: func(c *Config) {
				c.Audit.Enabled = false
				c.Audit.BufferSize = 0
			},
			wantValid: true,
		},
		{
			name: "rate limit unknown backend",
			mutate: func(c *Config) {
				c.RateLimit.Enabled = true
				c.RateLimit.Backend = "memcached"
			},
			wantValid: false,
		},
		{
			name: "rate limit redis backend",
			mutate: func(c *Config) {
				c.RateLimit.Enabled = true
				c.RateLimit.Backend = "redis"
			},
			wantValid: true,
		},
		{
			name: "production requires sealing key",
			mutate: func(c *Config) {
				c.ProductionMode = true
				c.MFA.SecretKey = nil
			},
			wantValid: false,
		},
		{
			name: "production requires timing equalization",
			mutate: func(c *Config) {
				c.ProductionMode = true
				c.Hardening.EqualizeUnknownPrincipalTiming = false
			},
			wantValid: false,
		},
		{
			name: "production requires non-blocking audit",
			mutate: func(c *Config) {
				c.ProductionMode = true
				c.Audit.DropIfFull = false
			},
			wantValid: false,
		},
		{
			name: "production with hardened defaults",
			mutate: func(c *Config) {
				c.ProductionMode = true
			},
			wantValid: true,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := testConfig(t)
			tc.mutate(&cfg)
			err := cfg.Validate()
			if tc.wantValid && err != nil {
				t.Fatalf("expected valid config, got %v", err)
			}
			if !tc.wantValid && err == nil {
				t.Fatalf("expected invalid config")
			}
		})
	}
}

func TestLoadConfigOverlaysDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "healthauth.yaml")
	raw := []byte(`
jwt:
  access_ttl: 10m
  issuer: clinic-auth
session:
  refresh_ttl: 72h
lockout:
  principal:
    max_attempts: 3
    duration: 15m
hardening:
  strict_validation: true
rate_limit:
  enabled: true
  backend: redis
`)
	if err := os.WriteFile(path, raw, 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.JWT.AccessTTL != 10*time.Minute || cfg.JWT.Issuer != "clinic-auth" {
		t.Fatalf("jwt section not applied: %+v", cfg.JWT)
	}
	if cfg.Session.RefreshTTL != 72*time.Hour {
		t.Fatalf("refresh ttl not applied: %s", cfg.Session.RefreshTTL)
	}
	if cfg.Lockout.Principal.MaxAttempts != 3 || cfg.Lockout.Principal.Duration != 15*time.Minute {
		t.Fatalf("lockout not applied: %+v", cfg.Lockout.Principal)
	}
	if !cfg.Hardening.StrictValidation || !cfg.Hardening.EqualizeUnknownPrincipalTiming {
		t.Fatalf("hardening overlay lost a default: %+v", cfg.Hardening)
	}
	if cfg.RateLimit.Backend != "redis" || cfg.RateLimit.LoginPerIdentity != 10 {
		t.Fatalf("rate limit overlay wrong: %+v", cfg.RateLimit)
	}
	// untouched sections keep their defaults
	if cfg.Secrets.ResetTTL != time.Hour || cfg.Secrets.VerifyTTL != 24*time.Hour {
		t.Fatalf("secrets defaults lost: %+v", cfg.Secrets)
	}
	if cfg.Lockout.Device.MaxAttempts != 5 {
		t.Fatalf("device lockout default lost: %+v", cfg.Lockout.Device)
	}
}

func TestLoadConfigErrors(t *testing.T) {
	if _, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatalf("expected error for missing file")
	}
	path := filepath.Join(t.TempDir(), "bad.yaml")
	if err := os.WriteFile(path, []byte("jwt: [unterminated"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := LoadConfig(path); err == nil {
		t.Fatalf("expected parse error")
	}
}

func TestEngineConfigOmitsKeys(t *testing.T) {
	env := newTestEnv(t)
	cfg := env.engine.Config()
	if cfg.JWT.PrivateKey != nil || cfg.MFA.SecretKey != nil {
		t.Fatalf("key material leaked through Config()")
	}
}

func TestBuilderSingleUseAndValidation(t *testing.T) {
	b := New().WithConfig(testConfig(t)).WithBackend(memstore.New().Backend())
	e, err := b.Build()
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	defer e.Close()
	if _, err := b.Build(); err == nil {
		t.Fatalf("expected second Build to fail")
	}

	_, err = New().WithConfig(testConfig(t)).Build()
	wantErr(t, err, ErrEngineNotReady)

	redisCfg := testConfig(t)
	redisCfg.RateLimit.Enabled = true
	redisCfg.RateLimit.Backend = "redis"
	if _, err := New().WithConfig(redisCfg).WithBackend(memstore.New().Backend()).Build(); err == nil {
		t.Fatalf("expected redis backend without client to fail")
	}
}
