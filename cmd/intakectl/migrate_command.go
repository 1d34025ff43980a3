package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/hafsaahmed614/DataAnnotation-App/internal/store"
)

func newMigrateCommand(ctx *commandContext) *cobra.Command {
	migrateCmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply or roll back schema migrations",
	}
	migrateCmd.AddCommand(newMigrateUpCommand(ctx))
	migrateCmd.AddCommand(newMigrateDownCommand(ctx))
	migrateCmd.AddCommand(newMigrateStatusCommand(ctx))
	return migrateCmd
}

func newMigrateUpCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "up",
		Short: "Apply all pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			db, dialect, err := store.OpenDB(cmd.Context(), cfg.Database.URL)
			if err != nil {
				return err
			}
			defer db.Close()
			if err := store.ApplyMigrations(cmd.Context(), db, dialect); err != nil {
				return err
			}
			applied, err := store.AppliedMigrations(cmd.Context(), db)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Schema up to date (%d migrations applied)\n", len(applied))
			return nil
		},
	}
}

func newMigrateDownCommand(ctx *commandContext) *cobra.Command {
	var steps int
	cmd := &cobra.Command{
		Use:   "down",
		Short: "Roll back the most recent migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			if steps < 1 {
				return fmt.Errorf("--steps must be at least 1")
			}
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			db, dialect, err := store.OpenDB(cmd.Context(), cfg.Database.URL)
			if err != nil {
				return err
			}
			defer db.Close()
			rolledBack, err := store.RollbackMigrations(cmd.Context(), db, dialect, steps)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(rolledBack) == 0 {
				fmt.Fprintln(out, "Nothing to roll back")
				return nil
			}
			for _, version := range rolledBack {
				fmt.Fprintf(out, "Rolled back %s\n", version)
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&steps, "steps", 1, "Number of migrations to roll back")
	return cmd
}

func newMigrateStatusCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "List applied migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			db, _, err := store.OpenDB(cmd.Context(), cfg.Database.URL)
			if err != nil {
				return err
			}
			defer db.Close()
			applied, err := store.AppliedMigrations(cmd.Context(), db)
			if err != nil {
				return err
			}
			rows := make([][]string, 0, len(applied))
			for _, version := range applied {
				rows = append(rows, []string{version})
			}
			writeTable(cmd.OutOrStdout(), []string{"VERSION"}, rows)
			return nil
		},
	}
}
