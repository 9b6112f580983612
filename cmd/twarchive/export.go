package main

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	errs "twarchive/pkg/errors"
	"twarchive/pkg/extract"
	"twarchive/pkg/store"
	"twarchive/pkg/ui"
)

var (
	exportAccount string
	exportOutput  string
	exportHeader  bool
)

// exportCmd represents the export command
var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export stored items as CSV",
	Long: `Write every stored item, or one account's items, as CSV rows with derived
fields. Items whose payload lacks a required field are reported on stderr and
skipped; the exit status is the number of skipped rows.`,
	Example: `  # Everything, with a header, to a file
  twarchive export --header --output items.csv

  # One account to stdout
  twarchive export --account jack`,
	Args: cobra.NoArgs,
	RunE: runExport,
}

func init() {
	rootCmd.AddCommand(exportCmd)
	exportCmd.Flags().StringVar(&exportAccount, "account", "", "only export this account")
	exportCmd.Flags().StringVarP(&exportOutput, "output", "o", "", "output file (default: stdout)")
	exportCmd.Flags().BoolVar(&exportHeader, "header", false, "write a header row")
}

func runExport(cmd *cobra.Command, args []string) error {
	a, err := loadApp(nil)
	if err != nil {
		return err
	}
	ctx, cancel := signalContext(cmd.Context())
	defer cancel()

	st, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer st.Close()

	var accountID int64
	if exportAccount != "" {
		acct, err := a.resolverOffline(st).Get(ctx, exportAccount)
		if err != nil {
			return err
		}
		accountID = acct.ID
	}

	out := ui.Stdout
	if exportOutput != "" {
		f, err := os.Create(exportOutput)
		if err != nil {
			return fmt.Errorf("failed to create output file: %w", err)
		}
		defer f.Close()
		out = f
	}

	written, skipped, err := exportItems(out, exportHeader, func(fn func(*store.Item) error) error {
		return st.EachItem(ctx, accountID, fn)
	})
	if err != nil {
		return err
	}

	a.log.InfoWithFields("export finished", map[string]interface{}{
		"rows":    written,
		"skipped": skipped,
	})
	if skipped > 0 {
		return &exitError{
			code: min(skipped, 125),
			err:  fmt.Errorf("%d items skipped for missing fields", skipped),
		}
	}
	return nil
}

// exportItems writes one CSV row per item. Rows that fail with a data
// quality error are reported and counted; any other error stops the export.
func exportItems(w io.Writer, header bool, each func(func(*store.Item) error) error) (written, skipped int, err error) {
	cw := csv.NewWriter(w)
	if header {
		if err := cw.Write(extract.ExportHeader()); err != nil {
			return 0, 0, err
		}
	}

	err = each(func(it *store.Item) error {
		row, err := extract.Wrap(it).ExportRow()
		if err != nil {
			if errs.IsDataQuality(err) {
				ui.PrintWarning(fmt.Sprintf("skipping item %d: %v", it.TwitterID, err))
				skipped++
				return nil
			}
			return err
		}
		written++
		return cw.Write(row)
	})
	cw.Flush()
	if err == nil {
		err = cw.Error()
	}
	return written, skipped, err
}
