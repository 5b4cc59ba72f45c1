package main

import (
	"bufio"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ppulimamidy/PersonalHealthAssistant-sub005/password"
)

func newHashPasswordCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "hash-password",
		Short: "Hash the first line of stdin with the configured Argon2id parameters",
		Long: "Reads the secret from stdin so it never lands in shell history, " +
			"and prints a PHC string suitable for seeding principals.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := g.loadConfig()
			if err != nil {
				return err
			}
			hasher, err := password.New(cfg.Password)
			if err != nil {
				return err
			}

			sc := bufio.NewScanner(cmd.InOrStdin())
			if !sc.Scan() {
				if err := sc.Err(); err != nil {
					return err
				}
				return errors.New("no secret on stdin")
			}
			secret := strings.TrimRight(sc.Text(), "\r")

			encoded, err := hasher.Hash(secret)
			if err != nil {
				return fmt.Errorf("hash: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), encoded)
			return nil
		},
	}
}
