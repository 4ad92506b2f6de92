package commands

import (
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/mims-dev/mims/internal/accounts"
	"github.com/mims-dev/mims/internal/engine"
	"github.com/mims-dev/mims/internal/ledger"
)

func newSeedCommand(flags *globalFlags) *cobra.Command {
	var demo bool

	cmd := &cobra.Command{
		Use:   "seed [accounts.csv]",
		Short: "Open accounts from a CSV seed file",
		Long: "Open accounts listed in a CSV file with the columns\n" +
			"account_number,customer_ref,account_type,opening_balance.\n" +
			"Accounts that already exist are skipped.",
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var seeds []ledger.OpenParams
			switch {
			case len(args) == 1:
				var err error
				if seeds, err = accounts.Load(args[0]); err != nil {
					return err
				}
			case demo:
				seeds = accounts.DemoSeeds()
			default:
				return errors.New("seed needs a CSV file or --demo")
			}

			cfg, err := loadConfig(flags)
			if err != nil {
				return err
			}
			log, err := newLogger(cfg)
			if err != nil {
				return err
			}
			defer func() { _ = log.Sync() }()

			eng, err := engine.New(cmd.Context(), engine.Options{Config: cfg, Logger: log})
			if err != nil {
				return err
			}
			defer func() {
				if err := eng.Close(); err != nil {
					log.Error("closing engine", zap.Error(err))
				}
			}()

			res, err := accounts.Seed(cmd.Context(), eng.Ledger, seeds)
			printSeedResult(cmd.OutOrStdout(), res)
			return err
		},
	}

	cmd.Flags().BoolVar(&demo, "demo", false, "seed a built-in set of demo accounts")

	return cmd
}

func printSeedResult(w io.Writer, res accounts.Result) {
	for _, n := range res.Opened {
		fmt.Fprintf(w, "opened  %s\n", n)
	}
	for _, n := range res.Skipped {
		fmt.Fprintf(w, "exists  %s\n", n)
	}
	fmt.Fprintf(w, "%d opened, %d skipped\n", len(res.Opened), len(res.Skipped))
}
