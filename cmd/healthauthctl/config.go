package main

import (
	"crypto/ed25519"
	"crypto/rand"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	healthauth "github.com/ppulimamidy/PersonalHealthAssistant-sub005"
)

func newConfigCmd(g *globals) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect configuration files",
	}

	check := &cobra.Command{
		Use:   "check",
		Short: "Load and validate a configuration file",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := g.loadConfig()
			if err != nil {
				return err
			}
			filled, err := fillRuntimeKeys(&cfg)
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("invalid config: %w", err)
			}
			w := cmd.OutOrStdout()
			for _, name := range filled {
				fmt.Fprintf(w, "note: %s is supplied at runtime; checked with a generated placeholder\n", name)
			}
			fmt.Fprintln(w, "ok")
			return nil
		},
	}

	report := &cobra.Command{
		Use:   "report",
		Short: "Print the security posture a configuration produces",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := g.loadConfig()
			if err != nil {
				return err
			}
			report := healthauth.ReportConfig(cfg)
			if g.out == "yaml" {
				return writeYAML(cmd.OutOrStdout(), report)
			}
			writeReport(cmd.OutOrStdout(), report)
			return nil
		},
	}

	cmd.AddCommand(check, report)
	return cmd
}

// fillRuntimeKeys generates key material that never comes from YAML so the
// rest of the file can be validated. It returns the names it filled.
func fillRuntimeKeys(cfg *healthauth.Config) ([]string, error) {
	var filled []string
	if len(cfg.JWT.PrivateKey) == 0 {
		if cfg.JWT.SigningMethod == "hs256" {
			key := make([]byte, 32)
			if _, err := rand.Read(key); err != nil {
				return nil, err
			}
			cfg.JWT.PrivateKey = key
		} else {
			_, priv, err := ed25519.GenerateKey(rand.Reader)
			if err != nil {
				return nil, err
			}
			cfg.JWT.PrivateKey = priv
		}
		filled = append(filled, "jwt private key")
	}
	if len(cfg.MFA.SecretKey) == 0 && cfg.ProductionMode {
		key := make([]byte, 32)
		if _, err := rand.Read(key); err != nil {
			return nil, err
		}
		cfg.MFA.SecretKey = key
		filled = append(filled, "mfa sealing key")
	}
	return filled, nil
}

func writeYAML(w io.Writer, v any) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(v); err != nil {
		return err
	}
	return enc.Close()
}

func writeReport(w io.Writer, r healthauth.SecurityReport) {
	row := func(k string, v any) { fmt.Fprintf(w, "%-22s %v\n", k, v) }
	row("production_mode", r.ProductionMode)
	row("signing_algorithm", r.SigningAlgorithm)
	row("strict_validation", r.StrictValidation)
	row("access_ttl", r.AccessTTL)
	row("refresh_ttl", r.RefreshTTL)
	row("max_session_lifetime", r.MaxSessionLifetime)
	row("argon2id", fmt.Sprintf("m=%d t=%d p=%d", r.Argon2.Memory, r.Argon2.Time, r.Argon2.Parallelism))
	row("principal_lockout", r.PrincipalLockout)
	row("device_lockout", r.DeviceLockout)
	row("totp_skew", r.TOTPSkew)
	row("backup_codes", r.BackupCodeCount)
	row("totp_sealed", r.TOTPSecretsSealed)
	row("timing_equalized", r.TimingEqualized)
	row("rate_limiting", r.RateLimitingActive)
	row("audit", r.AuditEnabled)
	row("reset_secret_ttl", r.ResetSecretTTL)
	row("verify_secret_ttl", r.VerifySecretTTL)
	if len(r.Warnings) == 0 {
		return
	}
	fmt.Fprintf(w, "\nwarnings:\n  - %s\n", strings.Join(r.Warnings, "\n  - "))
}
