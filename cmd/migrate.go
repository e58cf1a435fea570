package cmd

import (
	"errors"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"github.com/becomeliminal/nim-companion/memory/store/postgres"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply the Postgres schema migrations",
	Long:  longMigrate,
	RunE: func(cmd *cobra.Command, args []string) error {
		if cfg.Postgres.DSN == "" {
			return errors.New("postgres.dsn is not set")
		}
		logger := log.Default().WithPrefix("migrate")

		store, err := postgres.Open(cmd.Context(), cfg.Postgres.DSN, nil)
		if err != nil {
			return err
		}
		defer store.Close()

		version, err := postgres.Migrate(cmd.Context(), store.Pool(), logger)
		if err != nil {
			return err
		}
		logger.Info("schema up to date", "version", version)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}

var longMigrate = `
Apply the embedded goose migrations to the database named by postgres.dsn
(COMPANION_POSTGRES_DSN). serve runs the same migrations on start when
postgres.migrate_on_start is set.
`
