package commands

import (
	"errors"
	"io/fs"

	"github.com/spf13/cobra"

	"github.com/mims-dev/mims/internal/buildinfo"
	"github.com/mims-dev/mims/internal/config"
	"github.com/mims-dev/mims/internal/logging"
)

// globalFlags are shared by every subcommand.
type globalFlags struct {
	configPath string
	envFile    string
}

// NewRootCommand creates the root CLI command with all subcommands registered.
func NewRootCommand() *cobra.Command {
	var flags globalFlags

	rootCmd := &cobra.Command{
		Use:     "mims",
		Short:   "Microfinance ledger and loan engine",
		Version: buildinfo.String(),
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd: true,
		},
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringVar(&flags.configPath, "config", "mims.yaml", "config file (skipped if missing)")
	rootCmd.PersistentFlags().StringVar(&flags.envFile, "env-file", ".env", "dotenv file loaded before reading the environment")

	rootCmd.AddCommand(newServeCommand(&flags))
	rootCmd.AddCommand(newMigrateCommand(&flags))
	rootCmd.AddCommand(newSeedCommand(&flags))
	rootCmd.AddCommand(newImportCommand(&flags))
	rootCmd.AddCommand(newQuoteCommand(&flags))

	return rootCmd
}

// loadConfig reads the config file if present, then applies .env and
// environment overrides and validates the result.
func loadConfig(flags *globalFlags) (*config.Config, error) {
	cfg, err := config.Load(flags.configPath)
	if errors.Is(err, fs.ErrNotExist) {
		cfg = config.Default()
	} else if err != nil {
		return nil, err
	}
	if err := config.ApplyEnv(cfg, flags.envFile); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// newLogger builds the logger described by cfg. Logs go to stderr so that
// command output on stdout stays clean.
func newLogger(cfg *config.Config) (*logging.Logger, error) {
	return logging.NewLogger(logging.Config{
		Level:       cfg.Log.Level,
		Format:      cfg.Log.Format,
		OutputPaths: []string{"stderr"},
		Development: cfg.Log.Development,
	})
}
