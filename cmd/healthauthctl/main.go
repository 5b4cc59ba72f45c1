// Command healthauthctl operates a healthauth deployment: it checks
// configuration files, prints the security posture, hashes secrets for
// seeding, applies the Postgres schema, sweeps expired state and runs a
// local refresh benchmark.
package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	healthauth "github.com/ppulimamidy/PersonalHealthAssistant-sub005"
)

type globals struct {
	configPath  string
	databaseURL string
	redisAddr   string
	out         string
	verbose     bool
}

func (g *globals) loadConfig() (healthauth.Config, error) {
	if g.configPath == "" {
		return healthauth.DefaultConfig(), nil
	}
	return healthauth.LoadConfig(g.configPath)
}

func (g *globals) logger() *zap.Logger {
	if !g.verbose {
		return zap.NewNop()
	}
	l, err := zap.NewDevelopment()
	if err != nil {
		return zap.NewNop()
	}
	return l
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	g := &globals{}

	root := &cobra.Command{
		Use:           "healthauthctl",
		Short:         "Operate the healthauth authentication core",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			// a missing .env is normal outside development
			_ = godotenv.Load()
			applyEnv(cmd, "config", "HEALTHAUTH_CONFIG", &g.configPath)
			applyEnv(cmd, "database-url", "HEALTHAUTH_DATABASE_URL", &g.databaseURL)
			applyEnv(cmd, "redis-addr", "HEALTHAUTH_REDIS_ADDR", &g.redisAddr)
			switch g.out {
			case "text", "yaml":
				return nil
			default:
				return fmt.Errorf("--out must be text or yaml, got %q", g.out)
			}
		},
	}

	root.PersistentFlags().StringVar(&g.configPath, "config", "", "YAML config file (env HEALTHAUTH_CONFIG)")
	root.PersistentFlags().StringVar(&g.databaseURL, "database-url", "", "Postgres DSN (env HEALTHAUTH_DATABASE_URL)")
	root.PersistentFlags().StringVar(&g.redisAddr, "redis-addr", "", "Redis address for session state (env HEALTHAUTH_REDIS_ADDR)")
	root.PersistentFlags().StringVar(&g.out, "out", "text", "Output format: text|yaml")
	root.PersistentFlags().BoolVarP(&g.verbose, "verbose", "v", false, "Log engine activity to stderr")

	root.AddCommand(
		newConfigCmd(g),
		newHashPasswordCmd(g),
		newMigrateCmd(g),
		newSweepCmd(g),
		newBenchCmd(g),
	)
	return root
}

// applyEnv fills dst from env unless the flag was set explicitly.
func applyEnv(cmd *cobra.Command, flag, env string, dst *string) {
	if cmd.Flags().Changed(flag) {
		return
	}
	if v := strings.TrimSpace(os.Getenv(env)); v != "" {
		*dst = v
	}
}
