package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newSweepCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Expire stale sessions and prune revocations, backup codes and secrets once",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := g.loadConfig()
			if err != nil {
				return err
			}
			rt, err := openRuntime(cmd.Context(), g, backendPostgres, cfg)
			if err != nil {
				return err
			}
			defer rt.Close()

			report, err := rt.engine.Sweep(cmd.Context())
			if err != nil {
				return err
			}
			if g.out == "yaml" {
				return writeYAML(cmd.OutOrStdout(), report)
			}
			fmt.Fprintf(cmd.OutOrStdout(),
				"sessions_expired=%d blacklist_pruned=%d backup_codes_pruned=%d secrets_pruned=%d duration=%s\n",
				report.SessionsExpired, report.BlacklistPruned, report.BackupCodesPruned,
				report.SecretsPruned, report.Duration,
			)
			return nil
		},
	}
}
