package main

import (
	"github.com/spf13/cobra"

	"github.com/dmitrymomot/sagakit/migrations"
	"github.com/dmitrymomot/sagakit/pkg/config"
	"github.com/dmitrymomot/sagakit/pkg/pg"
)

func newMigrateCommand(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply PostgreSQL migrations",
		Long: `Apply the saga_instances and tasks migrations to the database
at PG_CONN_URL. Migrations are embedded in the binary unless
PG_MIGRATIONS_PATH points at a directory.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()

			cfg, err := config.Load[pg.Config]()
			if err != nil {
				return err
			}

			pool, err := pg.Connect(ctx, cfg)
			if err != nil {
				return err
			}
			defer pool.Close()

			if err := pg.Migrate(ctx, pool, cfg, migrations.FS, root.log); err != nil {
				return err
			}
			root.log.InfoContext(ctx, "migrations applied")
			return nil
		},
	}
}
