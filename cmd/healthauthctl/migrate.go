package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ppulimamidy/PersonalHealthAssistant-sub005/store/pgstore"
)

var errNoDatabase = errors.New("--database-url (or HEALTHAUTH_DATABASE_URL) is required")

func newMigrateCmd(g *globals) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the Postgres schema",
	}

	printCmd := &cobra.Command{
		Use:   "print",
		Short: "Print the schema DDL",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := fmt.Fprint(cmd.OutOrStdout(), pgstore.Schema())
			return err
		},
	}

	up := &cobra.Command{
		Use:   "up",
		Short: "Apply the schema. Safe to repeat",
		RunE: func(cmd *cobra.Command, args []string) error {
			if g.databaseURL == "" {
				return errNoDatabase
			}
			db, err := pgstore.Open(g.databaseURL, pgstore.DefaultPoolConfig())
			if err != nil {
				return err
			}
			defer db.Close()

			ctx := cmd.Context()
			if err := db.Ping(ctx); err != nil {
				return fmt.Errorf("connect: %w", err)
			}
			if err := db.Migrate(ctx); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "schema applied")
			return nil
		},
	}

	cmd.AddCommand(printCmd, up)
	return cmd
}
