package mfa

import (
	"crypto/subtle"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
)

// TOTPConfig configures code generation and the accepted drift.
type TOTPConfig struct {
	Issuer     string `yaml:"issuer"`
	Period     uint   `yaml:"period"`
	Digits     int    `yaml:"digits"`
	Algorithm  string `yaml:"algorithm"`
	Skew       uint   `yaml:"skew"`
	SecretSize uint   `yaml:"secret_size"`
}

// DefaultTOTPConfig returns 6-digit SHA1 codes on 30 second steps with one
// step of drift either way.
func DefaultTOTPConfig() TOTPConfig {
	return TOTPConfig{
		Issuer:     "healthauth",
		Period:     30,
		Digits:     6,
		Algorithm:  "SHA1",
		Skew:       1,
		SecretSize: 20,
	}
}

// Validate checks bounds.
func (c TOTPConfig) Validate() error {
	if c.Period == 0 {
		return errors.New("totp period must be > 0")
	}
	if c.Digits != 6 && c.Digits != 8 {
		return errors.New("totp digits must be 6 or 8")
	}
	if c.Skew > 2 {
		return errors.New("totp skew must be <= 2")
	}
	if c.SecretSize < 16 {
		return errors.New("totp secret size must be >= 16")
	}
	if _, err := parseAlgorithm(c.Algorithm); err != nil {
		return err
	}
	return nil
}

// TOTP generates and verifies time-based codes.
type TOTP struct {
	cfg  TOTPConfig
	algo otp.Algorithm
}

// Enrollment is a freshly generated TOTP secret.
type Enrollment struct {
	Secret string
	URL    string
}

// NewTOTP validates cfg.
func NewTOTP(cfg TOTPConfig) (*TOTP, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	algo, _ := parseAlgorithm(cfg.Algorithm)
	return &TOTP{cfg: cfg, algo: algo}, nil
}

// Period returns the step length.
func (t *TOTP) Period() time.Duration {
	return time.Duration(t.cfg.Period) * time.Second
}

// Digits returns the code length.
func (t *TOTP) Digits() int { return t.cfg.Digits }

// Generate creates a new secret and its otpauth:// provisioning URL.
func (t *TOTP) Generate(accountName string) (Enrollment, error) {
	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      t.cfg.Issuer,
		AccountName: accountName,
		Period:      t.cfg.Period,
		SecretSize:  t.cfg.SecretSize,
		Digits:      otp.Digits(t.cfg.Digits),
		Algorithm:   t.algo,
	})
	if err != nil {
		return Enrollment{}, fmt.Errorf("generate totp secret: %w", err)
	}
	return Enrollment{Secret: key.Secret(), URL: key.URL()}, nil
}

// Code returns the code for the step containing at.
func (t *TOTP) Code(secret string, at time.Time) (string, error) {
	return totp.GenerateCodeCustom(secret, at, t.opts())
}

// Step returns the step counter containing at.
func (t *TOTP) Step(at time.Time) int64 {
	return at.Unix() / int64(t.cfg.Period)
}

// Verify checks code against the steps around at. On success it returns the
// matched step so callers can refuse to accept the same step twice. Every
// candidate step is compared to keep timing independent of the match.
func (t *TOTP) Verify(secret, code string, at time.Time) (int64, bool, error) {
	code = strings.TrimSpace(code)
	if len(code) != t.cfg.Digits {
		return 0, false, nil
	}

	current := t.Step(at)
	skew := int64(t.cfg.Skew)
	period := int64(t.cfg.Period)

	var matched int64
	found := 0
	for offset := -skew; offset <= skew; offset++ {
		step := current + offset
		expected, err := totp.GenerateCodeCustom(secret, time.Unix(step*period, 0), t.opts())
		if err != nil {
			return 0, false, fmt.Errorf("totp code: %w", err)
		}
		if subtle.ConstantTimeCompare([]byte(expected), []byte(code)) == 1 && found == 0 {
			matched = step
			found = 1
		}
	}
	return matched, found == 1, nil
}

func (t *TOTP) opts() totp.ValidateOpts {
	return totp.ValidateOpts{
		Period:    t.cfg.Period,
		Skew:      0,
		Digits:    otp.Digits(t.cfg.Digits),
		Algorithm: t.algo,
	}
}

func parseAlgorithm(name string) (otp.Algorithm, error) {
	switch strings.ToUpper(name) {
	case "", "SHA1":
		return otp.AlgorithmSHA1, nil
	case "SHA256":
		return otp.AlgorithmSHA256, nil
	case "SHA512":
		return otp.AlgorithmSHA512, nil
	default:
		return otp.AlgorithmSHA1, fmt.Errorf("unsupported totp algorithm %q", name)
	}
}
