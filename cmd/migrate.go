package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/pressroom/internal/store/postgres"
)

// migrateFunc applies the schema. Tests swap it out.
type migrateFunc func(dsn string) (uint, error)

func newMigrateCmd() *cobra.Command {
	return newMigrateCmdWith(postgres.Migrate)
}

func newMigrateCmdWith(migrate migrateFunc) *cobra.Command {
	return &cobra.Command{
		Use:         "migrate",
		Short:       "Apply database migrations",
		Args:        cobra.NoArgs,
		Annotations: map[string]string{annotationNoApp: "true"},
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := resolveConfig(cmd.Context())
			if err != nil {
				return err
			}
			if err := cfg.RequireDatabase(); err != nil {
				alertFatal(cmd.Context(), cfg, err)
				return err
			}
			version, err := migrate(cfg.Database.DSN)
			if err != nil {
				return fmt.Errorf("migrate: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "database at schema version %d\n", version)
			return nil
		},
	}
}
