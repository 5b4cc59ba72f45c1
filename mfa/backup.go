package mfa

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"math/big"
	"strings"
)

// BackupCodeAlphabet omits characters that read alike (0/O, 1/I).
const BackupCodeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

// BackupCodeConfig sizes a generated batch.
type BackupCodeConfig struct {
	Count  int `yaml:"count"`
	Length int `yaml:"length"`
}

// DefaultBackupCodeConfig returns 10 codes of 10 characters.
func DefaultBackupCodeConfig() BackupCodeConfig {
	return BackupCodeConfig{Count: 10, Length: 10}
}

// Validate checks bounds.
func (c BackupCodeConfig) Validate() error {
	if c.Count <= 0 || c.Count > 32 {
		return errors.New("backup code count must be in [1,32]")
	}
	if c.Length < 8 || c.Length > 32 {
		return errors.New("backup code length must be in [8,32]")
	}
	return nil
}

// GenerateBackupCodes returns cfg.Count codes in display form (XXXXX-XXXXX).
func GenerateBackupCodes(cfg BackupCodeConfig) ([]string, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	out := make([]string, 0, cfg.Count)
	seen := make(map[string]struct{}, cfg.Count)
	for len(out) < cfg.Count {
		raw, err := randomCode(cfg.Length)
		if err != nil {
			return nil, err
		}
		if _, dup := seen[raw]; dup {
			continue
		}
		seen[raw] = struct{}{}
		out = append(out, FormatBackupCode(raw))
	}
	return out, nil
}

func randomCode(length int) (string, error) {
	max := big.NewInt(int64(len(BackupCodeAlphabet)))
	var b strings.Builder
	b.Grow(length)
	for i := 0; i < length; i++ {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		b.WriteByte(BackupCodeAlphabet[n.Int64()])
	}
	return b.String(), nil
}

// FormatBackupCode splits a raw code in two halves with a dash.
func FormatBackupCode(code string) string {
	if len(code) < 8 {
		return code
	}
	mid := len(code) / 2
	return code[:mid] + "-" + code[mid:]
}

// CanonicalizeBackupCode upper-cases and strips dashes and whitespace.
func CanonicalizeBackupCode(code string) string {
	s := strings.ToUpper(strings.TrimSpace(code))
	s = strings.ReplaceAll(s, "-", "")
	s = strings.ReplaceAll(s, " ", "")
	return s
}

// HashBackupCode binds the canonical code to its owner so equal codes of
// different principals never share a hash.
func HashBackupCode(principalID, code string) string {
	canonical := CanonicalizeBackupCode(code)
	data := make([]byte, 0, len(principalID)+1+len(canonical))
	data = append(data, principalID...)
	data = append(data, 0)
	data = append(data, canonical...)
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// MatchBackupCode returns the first stored hash equal to the hash of code,
// comparing all candidates in constant time.
func MatchBackupCode(principalID, code string, hashes []string) (string, bool) {
	want := []byte(HashBackupCode(principalID, code))
	match := ""
	for _, h := range hashes {
		if subtle.ConstantTimeCompare(want, []byte(h)) == 1 && match == "" {
			match = h
		}
	}
	return match, match != ""
}

// LooksLikeBackupCode reports whether code could be a backup code rather
// than a numeric one-time code.
func LooksLikeBackupCode(code string, totpDigits int) bool {
	c := CanonicalizeBackupCode(code)
	if len(c) == totpDigits {
		for i := 0; i < len(c); i++ {
			if c[i] < '0' || c[i] > '9' {
				return true
			}
		}
		return false
	}
	return len(c) >= 8
}
