package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"pharmatrace/internal/platform/postgres"
)

var migratePrint bool

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply the database schema",
	Long:  `Applies the embedded schema to PHARMATRACE_POSTGRES_DSN. Every statement is idempotent.`,
	Args:  cobra.NoArgs,
	RunE:  runMigrate,
}

func init() {
	migrateCmd.Flags().BoolVar(&migratePrint, "print", false, "print the schema instead of applying it")
	rootCmd.AddCommand(migrateCmd)
}

func runMigrate(cmd *cobra.Command, _ []string) error {
	if migratePrint {
		_, err := fmt.Fprintln(cmd.OutOrStdout(), postgres.Schema())
		return err
	}
	cfg, _, err := loadConfig()
	if err != nil {
		return err
	}
	if cfg.Postgres.DSN == "" {
		return fmt.Errorf("PHARMATRACE_POSTGRES_DSN is not set")
	}
	ctx := cmd.Context()
	db, err := postgres.Open(ctx, cfg.Postgres.DSN, postgres.Options{MaxOpenConns: 1})
	if err != nil {
		return err
	}
	defer db.Close()
	if err := postgres.Migrate(ctx, db); err != nil {
		return err
	}
	_, err = fmt.Fprintln(cmd.OutOrStdout(), "schema applied")
	return err
}
