package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"twarchive/pkg/bulkfetch"
	"twarchive/pkg/metrics"
	"twarchive/pkg/ui"
)

var (
	fetchInput  string
	fetchOutput string
	fetchResume bool
)

// fetchCmd represents the fetch command
var fetchCmd = &cobra.Command{
	Use:   "fetch",
	Short: "Fetch items by id from a list file",
	Long: `Fetch each item listed in the input file, one id or status URL per line,
and write it as JSON followed by a blank line.

Failures are logged to <input>.log when writing to a file, or printed inline
when writing to stdout. With --resume, lines finished by an interrupted run
are skipped.`,
	Example: `  # Print to stdout
  twarchive fetch --inputfile ids.txt

  # Append to a file, picking up where the last run stopped
  twarchive fetch --inputfile ids.txt --outputfile items.jsonl --resume`,
	Args: cobra.NoArgs,
	RunE: runFetch,
}

func init() {
	rootCmd.AddCommand(fetchCmd)
	fetchCmd.Flags().StringVarP(&fetchInput, "inputfile", "i", "", "file with one item id per line")
	fetchCmd.Flags().StringVarP(&fetchOutput, "outputfile", "o", "", "append items to this file (default: stdout)")
	fetchCmd.Flags().BoolVar(&fetchResume, "resume", false, "skip lines processed by a previous run")
}

func runFetch(cmd *cobra.Command, args []string) error {
	if err := bulkfetch.CheckInput(fetchInput); err != nil {
		return err
	}
	a, err := loadApp(nil)
	if err != nil {
		return err
	}
	ctx, cancel := signalContext(cmd.Context())
	defer cancel()

	m, err := metrics.New()
	if err != nil {
		return err
	}
	c, err := a.client(m)
	if err != nil {
		return err
	}

	res, err := bulkfetch.Run(ctx, c, bulkfetch.Options{
		InputFile:  fetchInput,
		OutputFile: fetchOutput,
		Resume:     fetchResume,
		Stdout:     ui.Stdout,
		Messages:   ui.Stderr,
		Pacer:      a.pacer(c),
		Logger:     a.log,
	})
	if res != nil && fetchOutput != "" {
		ui.PrintInfo("Fetched", fmt.Sprint(res.Fetched))
		if res.Failed > 0 {
			ui.PrintWarning(fmt.Sprintf("%d items failed, see %s", res.Failed, bulkfetch.LogPath(fetchInput)))
		}
	}
	return err
}
