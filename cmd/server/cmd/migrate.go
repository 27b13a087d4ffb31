package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/conduit-foundation/conduit/internal/config"
	"github.com/conduit-foundation/conduit/internal/storage/postgres"
)

var (
	migrationsPath string
	migrateSteps   int
)

var migrateCmd = &cobra.Command{
	Use:   "migrate [up|down]",
	Short: "Run database migrations",
	Long: `Apply or roll back the schema migrations against DATABASE_URL.

Examples:
  # Apply all pending migrations
  conduit migrate up

  # Roll back the most recent migration
  conduit migrate down --steps 1`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return fmt.Errorf("config error: %w", err)
		}

		switch args[0] {
		case "up":
			if err := postgres.MigrateUp(cfg.Database.URL, migrationsPath); err != nil {
				return fmt.Errorf("migrate up: %w", err)
			}
			cmd.Println("migrations applied")
			return nil
		case "down":
			if err := postgres.MigrateDown(cfg.Database.URL, migrationsPath, migrateSteps); err != nil {
				return fmt.Errorf("migrate down: %w", err)
			}
			cmd.Println("migrations rolled back")
			return nil
		default:
			return fmt.Errorf("unknown direction %q, want up or down", args[0])
		}
	},
}

func init() {
	migrateCmd.Flags().StringVar(&migrationsPath, "path", postgres.DefaultMigrationsPath, "migrations directory")
	migrateCmd.Flags().IntVar(&migrateSteps, "steps", 1, "number of migrations to roll back (down only)")
}
