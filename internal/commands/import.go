package commands

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/mims-dev/mims/internal/engine"
	"github.com/mims-dev/mims/internal/errs"
	"github.com/mims-dev/mims/internal/importer"
)

func newImportCommand(flags *globalFlags) *cobra.Command {
	var format string
	var keep bool

	cmd := &cobra.Command{
		Use:   "import <dir>",
		Short: "Post batch transaction files",
		Long: "Post every CSV file in <dir> through the transaction processor.\n" +
			"Rejected rows are reported and skipped. Files are moved to\n" +
			"<dir>/processed once posted unless --keep is set.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			parser := importer.DefaultRegistry().Get(format)
			if parser == nil {
				return fmt.Errorf("unknown import format %q", format)
			}
			dir := args[0]
			files, err := importer.Scan(dir)
			if err != nil {
				return err
			}
			if len(files) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "nothing to import")
				return nil
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

			out := cmd.OutOrStdout()
			for _, f := range files {
				rep, err := importFile(cmd, parser, eng, f)
				printReport(out, f.Name, rep)
				if err != nil {
					return fmt.Errorf("importing %s: %w", f.Name, err)
				}
				if !keep {
					if err := importer.MarkProcessed(dir, f.Name); err != nil {
						return err
					}
				}
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&format, "format", "batch", "file format: batch or signed")
	cmd.Flags().BoolVar(&keep, "keep", false, "leave files in place after posting")

	return cmd
}

func importFile(cmd *cobra.Command, p importer.Parser, eng *engine.Engine, f importer.FileInfo) (importer.Report, error) {
	r, err := os.Open(f.Path)
	if err != nil {
		return importer.Report{}, err
	}
	defer r.Close()

	reqs, err := p.Parse(r)
	if err != nil {
		return importer.Report{}, err
	}
	return importer.Post(cmd.Context(), eng.Transactions, reqs)
}

func printReport(w io.Writer, name string, rep importer.Report) {
	for _, fe := range rep.Failed {
		fmt.Fprintf(w, "%s row %d: %s (%s)\n", filepath.Base(name), fe.Row, errs.Classify(fe.Err), fe.Err)
	}
	fmt.Fprintf(w, "%s: %d posted, %d rejected\n", filepath.Base(name), len(rep.Posted), len(rep.Failed))
}
