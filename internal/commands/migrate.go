package commands

import (
	"log/slog"

	"github.com/JonMunkholm/ofximport/internal/app"
	"github.com/JonMunkholm/ofximport/internal/config"
	"github.com/JonMunkholm/ofximport/internal/database"
	"github.com/spf13/cobra"
)

func newMigrateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create the import tables if they do not exist",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}

			pool, err := app.OpenPool(cmd.Context(), cfg.Database, slog.Default())
			if err != nil {
				return err
			}
			defer pool.Close()

			if err := database.Migrate(cmd.Context(), pool); err != nil {
				return err
			}
			slog.Info("schema applied")
			return nil
		},
	}
}
