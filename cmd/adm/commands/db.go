package commands

import (
	"fmt"

	"skillmodel/internal/database"

	"github.com/spf13/cobra"
)

// DatabaseCommands returns the database management commands
func DatabaseCommands(env *Env) *cobra.Command {
	dbCmd := &cobra.Command{
		Use:   "db",
		Short: "Database management commands",
		Long: `Database management commands.

Available commands:
  migrate - Apply schema.sql and pending migrations
  info    - Show which database the configuration points at`,
	}

	dbCmd.AddCommand(&cobra.Command{
		Use:   "migrate",
		Short: "Apply schema and pending migrations",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			env.Logger.Info(ctx, "Running migrations", map[string]interface{}{"database_url": maskDatabaseURL(env.Config.Database.URL)})

			db, err := database.NewManager(env.Logger).InitDBWithConfig(env.Config.Database)
			if err != nil {
				return err
			}
			defer func() { _ = db.Close() }()

			fmt.Fprintf(cmd.OutOrStdout(), "migrations applied (%s)\n", getDatabaseInfo(db))
			return nil
		},
	})

	dbCmd.AddCommand(&cobra.Command{
		Use:   "info",
		Short: "Show database connection information",
		RunE: func(cmd *cobra.Command, _ []string) error {
			db, err := env.Database()
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s\n%s\n", maskDatabaseURL(env.Config.Database.URL), getDatabaseInfo(db))
			return nil
		},
	})

	return dbCmd
}
