package commands

import (
	"fmt"
	"text/tabwriter"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/mims-dev/mims/internal/loan"
)

func newQuoteCommand(flags *globalFlags) *cobra.Command {
	var amount, rate string
	var term int

	cmd := &cobra.Command{
		Use:   "quote",
		Short: "Print the amortization of a loan within the configured bounds",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			principal, err := decimal.NewFromString(amount)
			if err != nil {
				return fmt.Errorf("parsing --amount %q: %w", amount, err)
			}
			r, err := decimal.NewFromString(rate)
			if err != nil {
				return fmt.Errorf("parsing --rate %q: %w", rate, err)
			}

			cfg, err := loadConfig(flags)
			if err != nil {
				return err
			}
			terms, err := loan.Quote(cfg.Loans, principal, r, term)
			if err != nil {
				return err
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintf(tw, "principal\t%s\n", terms.Principal.StringFixed(2))
			fmt.Fprintf(tw, "rate\t%s%%\n", r.String())
			fmt.Fprintf(tw, "term\t%d months\n", term)
			fmt.Fprintf(tw, "monthly payment\t%s\n", terms.MonthlyPayment.StringFixed(2))
			fmt.Fprintf(tw, "total interest\t%s\n", terms.TotalInterest.StringFixed(2))
			fmt.Fprintf(tw, "total amount\t%s\n", terms.TotalAmount.StringFixed(2))
			return tw.Flush()
		},
	}

	cmd.Flags().StringVar(&amount, "amount", "", "principal (required)")
	cmd.Flags().StringVar(&rate, "rate", "", "annual interest rate in percent (required)")
	cmd.Flags().IntVar(&term, "term", 0, "term in months (required)")
	_ = cmd.MarkFlagRequired("amount")
	_ = cmd.MarkFlagRequired("rate")
	_ = cmd.MarkFlagRequired("term")

	return cmd
}
