package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/custodia-labs/folio/internal/adapters/driven/storage/postgres"
)

var migrateCmd = &cobra.Command{
	Use:         "migrate [up|down]",
	Short:       "Apply Postgres schema migrations",
	Annotations: noServices(),
	Long: `Applies the embedded schema migrations to storage.postgres.url. The
SQLite backend migrates itself when the database is opened.

Examples:
  folio migrate up
  folio migrate down --steps 1`,
	Args:      cobra.ExactArgs(1),
	ValidArgs: []string{"up", "down"},
	RunE:      runMigrate,
}

var migrateSteps int

func init() {
	migrateCmd.Flags().IntVar(&migrateSteps, "steps", 0, "number of migrations to apply (0 = all)")
	rootCmd.AddCommand(migrateCmd)
}

// migrateFunc is replaced in tests.
var migrateFunc = postgres.Migrate

func runMigrate(cmd *cobra.Command, args []string) error {
	direction := args[0]
	if direction != "up" && direction != "down" {
		return fmt.Errorf("unknown direction %q, expected up or down", direction)
	}
	if migrateSteps < 0 {
		return errors.New("--steps must not be negative")
	}

	cfg, err := loadedConfig()
	if err != nil {
		return err
	}
	if cfg.Storage.Driver != "postgres" {
		cmd.Printf("Storage driver is %s; nothing to migrate.\n", cfg.Storage.Driver)
		return nil
	}
	if cfg.Storage.Postgres.URL == "" {
		return errors.New("storage.postgres.url is not set")
	}

	if err := migrateFunc(cfg.Storage.Postgres.URL, direction, migrateSteps); err != nil {
		return fmt.Errorf("migrate %s: %w", direction, err)
	}
	cmd.Printf("Migrations applied (%s).\n", direction)
	return nil
}
