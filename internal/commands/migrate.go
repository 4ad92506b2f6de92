package commands

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mims-dev/mims/internal/config"
	"github.com/mims-dev/mims/internal/store/postgres"
)

func newMigrateCommand(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply the Postgres schema",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(flags)
			if err != nil {
				return err
			}
			if cfg.Database.URL == "" {
				return errors.New("migrate needs a database: set database.url or " + config.EnvDatabaseURL)
			}

			st, err := postgres.Open(cmd.Context(), cfg.Database.URL)
			if err != nil {
				return err
			}
			defer st.Close()

			if err := st.Migrate(cmd.Context()); err != nil {
				return fmt.Errorf("migrating: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), "schema up to date")
			return nil
		},
	}
}
