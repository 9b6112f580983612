package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"twarchive/pkg/capture"
	errs "twarchive/pkg/errors"
	"twarchive/pkg/metrics"
	"twarchive/pkg/store"
	"twarchive/pkg/stream"
	"twarchive/pkg/ui"
)

var (
	captureDir      string
	capturePrefix   string
	captureInterval time.Duration
	noCompress      bool
)

// streamCmd represents the stream command
var streamCmd = &cobra.Command{
	Use:   "stream <filter>",
	Short: "Capture a filtered live stream into rotating files",
	Long: `Connect to the filtered stream with the named filter's criteria and append
every record to capture files, switching to a new file once the current one
has been open longer than the interval. Disconnects are retried with
backoff until interrupted.`,
	Example: `  # Stream with the configured capture settings
  twarchive stream elections

  # Hourly uncompressed files under ./captures
  twarchive stream elections --dir ./captures --interval 1h --no-compress`,
	Args: cobra.ExactArgs(1),
	RunE: runStream,
}

var captureCmd = &cobra.Command{
	Use:   "capture",
	Short: "Inspect capture files",
}

var captureListCmd = &cobra.Command{
	Use:   "list",
	Short: "List capture files, oldest first",
	Args:  cobra.NoArgs,
	RunE:  runCaptureList,
}

func init() {
	rootCmd.AddCommand(streamCmd, captureCmd)
	captureCmd.AddCommand(captureListCmd)

	for _, c := range []*cobra.Command{streamCmd, captureListCmd} {
		c.Flags().StringVar(&captureDir, "dir", "", "capture directory (default: capture.data_dir)")
		c.Flags().StringVar(&capturePrefix, "prefix", "", "capture file prefix (default: capture.prefix)")
	}
	streamCmd.Flags().DurationVar(&captureInterval, "interval", 0, "rotation interval (default: capture.save_interval)")
	streamCmd.Flags().BoolVar(&noCompress, "no-compress", false, "write plain text instead of gzip")
	streamCmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address")
}

func runStream(cmd *cobra.Command, args []string) error {
	a, err := loadApp(map[string]interface{}{"metrics-addr": metricsAddr})
	if err != nil {
		return err
	}
	ctx, cancel := signalContext(cmd.Context())
	defer cancel()

	filter, err := loadFilter(ctx, a, args[0])
	if err != nil {
		return err
	}
	creds, err := a.credentials()
	if err != nil {
		return err
	}
	m, err := metrics.New()
	if err != nil {
		return err
	}

	opts := capture.Options{
		Dir:      captureDir,
		Prefix:   capturePrefix,
		Interval: captureInterval,
		Metrics:  m,
	}
	if noCompress {
		compress := false
		opts.Compress = &compress
	}
	w, err := capture.NewWriter(&a.cfg.Capture, opts)
	if err != nil {
		return err
	}
	defer func() {
		if err := w.Close(); err != nil {
			a.log.WithError(err).Error("failed to close capture file")
		}
	}()

	a.serveMetrics(ctx, m)
	ui.PrintInfo("Filter", filter.Name)
	ui.PrintInfo("Writing to", w.Path())

	err = stream.New(a.cfg, creds, m, a.log).Run(ctx, filter, w)
	if errors.Is(err, context.Canceled) {
		ui.PrintSuccess("Stream stopped")
		return nil
	}
	return err
}

// loadFilter reads a filter by name. The store is closed before streaming
// starts since the stream never touches it again.
func loadFilter(ctx context.Context, a *app, name string) (*store.Filter, error) {
	st, err := a.openStore(ctx)
	if err != nil {
		return nil, err
	}
	defer st.Close()

	f, err := st.GetFilter(ctx, name)
	if errors.Is(err, store.ErrNotFound) {
		return nil, errs.Wrap(errs.ErrorTypeNotFound, err, "filter %q", name)
	}
	return f, err
}

func runCaptureList(cmd *cobra.Command, args []string) error {
	a, err := loadApp(nil)
	if err != nil {
		return err
	}
	dir, prefix := captureDir, capturePrefix
	if dir == "" {
		dir = a.cfg.Capture.DataDir
	}
	if prefix == "" {
		prefix = a.cfg.Capture.Prefix
	}

	files, err := capture.ListFiles(dir, prefix)
	if err != nil {
		return err
	}
	if len(files) == 0 {
		ui.PrintInfo("No capture files in", dir)
		return nil
	}

	tw := ui.NewTable()
	fmt.Fprintln(tw, "OPENED\tSIZE\tGZIP\tPATH")
	for _, f := range files {
		fmt.Fprintf(tw, "%s\t%d\t%t\t%s\n", f.OpenedAt.Format(capture.TimeLayout), f.Size, f.Compressed, f.Path)
	}
	return tw.Flush()
}
