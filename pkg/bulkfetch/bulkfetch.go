package bulkfetch

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"twarchive/pkg/checkpoint"
	errs "twarchive/pkg/errors"
	"twarchive/pkg/logger"
)

// Fetcher returns the raw payload of one item.
type Fetcher interface {
	FetchStatus(ctx context.Context, id int64) (json.RawMessage, error)
}

// Waiter blocks for the advised delay after an upstream call.
type Waiter interface {
	Wait(ctx context.Context) error
}

// Options configure one run.
type Options struct {
	InputFile  string
	OutputFile string // empty writes to Stdout
	Resume     bool

	Stdout io.Writer
	// Messages receives operator notices in output-file mode.
	Messages io.Writer
	Pacer    Waiter
	Now      func() time.Time
	Logger   logger.Logger
}

// Result summarizes a run.
type Result struct {
	Fetched int
	Failed  int
	Skipped int // lines covered by a resumed checkpoint
}

var statusURL = regexp.MustCompile(`/status(?:es)?/(\d+)`)

// ParseID accepts a bare numeric id or a status URL.
func ParseID(line string) (int64, error) {
	line = strings.TrimSpace(line)
	if m := statusURL.FindStringSubmatch(line); m != nil {
		line = m[1]
	}
	id, err := strconv.ParseInt(line, 10, 64)
	if err != nil || id <= 0 {
		return 0, errs.Validation("%q is not an item id", line)
	}
	return id, nil
}

// LogPath is the sidecar error log of an input file.
func LogPath(input string) string {
	return input + ".log"
}

type runner struct {
	fetcher Fetcher
	opts    Options
	log     logger.Logger
	out     io.Writer
	errLog  *os.File
	result  Result
}

// CheckInput validates the input path before any credential or network
// work is done.
func CheckInput(path string) error {
	if path == "" {
		return errs.Validation("please specify a valid input file using --inputfile")
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return errs.Validation("input file %s does not exist", path)
	}
	return nil
}

// Run fetches every id listed in the input file and writes each payload as
// compact JSON followed by a blank line. Per-item failures are reported and
// skipped. A checkpoint is saved after every item and removed once the
// whole file has been processed.
func Run(ctx context.Context, f Fetcher, opts Options) (*Result, error) {
	if err := CheckInput(opts.InputFile); err != nil {
		return nil, err
	}
	in, err := os.Open(opts.InputFile)
	if err != nil {
		return nil, fmt.Errorf("failed to open input file: %w", err)
	}
	defer in.Close()

	if opts.Stdout == nil {
		opts.Stdout = os.Stdout
	}
	if opts.Messages == nil {
		opts.Messages = os.Stderr
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	r := &runner{
		fetcher: f,
		opts:    opts,
		log:     logger.OrDefault(opts.Logger).WithField("input", opts.InputFile),
		out:     opts.Stdout,
	}
	if opts.OutputFile != "" {
		out, err := os.OpenFile(opts.OutputFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return nil, fmt.Errorf("failed to open output file: %w", err)
		}
		defer out.Close()
		r.out = out
	}
	defer r.closeErrorLog()

	cpm := checkpoint.NewManager(checkpoint.PathFor(opts.InputFile), r.log)
	cp, err := r.checkpoint(cpm)
	if err != nil {
		return nil, err
	}

	scanner := bufio.NewScanner(in)
	line := 0
	for scanner.Scan() {
		line++
		if line <= cp.Processed {
			r.result.Skipped++
			continue
		}
		raw := strings.TrimSpace(scanner.Text())
		if raw == "" {
			continue
		}
		if err := ctx.Err(); err != nil {
			return &r.result, err
		}

		ok, err := r.fetchOne(ctx, raw)
		if err != nil {
			return &r.result, err
		}
		if err := cpm.Advance(cp, line, ok); err != nil {
			return &r.result, err
		}
	}
	if err := scanner.Err(); err != nil {
		return &r.result, fmt.Errorf("failed to read input file: %w", err)
	}

	if err := cpm.Delete(); err != nil {
		r.log.WithError(err).Warn("failed to remove checkpoint")
	}
	r.log.InfoWithFields("bulk fetch finished", map[string]interface{}{
		"fetched": r.result.Fetched,
		"failed":  r.result.Failed,
		"skipped": r.result.Skipped,
	})
	return &r.result, nil
}

func (r *runner) checkpoint(m *checkpoint.Manager) (*checkpoint.Checkpoint, error) {
	if r.opts.Resume {
		cp, err := m.Load()
		if err != nil {
			return nil, err
		}
		if cp != nil {
			return cp, nil
		}
		r.log.Info("no checkpoint to resume from, starting at the top")
	}
	return m.Create(r.opts.InputFile)
}

// fetchOne reports whether the item was written. A non-nil error aborts the
// run; per-item failures are handled here.
func (r *runner) fetchOne(ctx context.Context, raw string) (bool, error) {
	id, err := ParseID(raw)
	if err != nil {
		return false, r.report(err, raw)
	}

	payload, err := r.fetcher.FetchStatus(ctx, id)
	if waitErr := r.wait(ctx); waitErr != nil {
		return false, waitErr
	}
	if err != nil {
		return false, r.report(err, raw)
	}

	var buf bytes.Buffer
	if err := json.Compact(&buf, payload); err != nil {
		return false, r.report(errs.Wrap(errs.ErrorTypeParsing, err, "malformed payload"), raw)
	}
	buf.WriteString("\n\n")
	if _, err := r.out.Write(buf.Bytes()); err != nil {
		return false, fmt.Errorf("failed to write output: %w", err)
	}
	r.result.Fetched++
	return true, nil
}

func (r *runner) report(cause error, id string) error {
	r.result.Failed++
	r.log.WithError(cause).WarnWithFields("item fetch failed", map[string]interface{}{
		"item": id,
		"type": string(errs.TypeOf(cause)),
	})

	msg := fmt.Sprintf("Error: %v for the tweetid: %s\n", cause, id)
	if r.opts.OutputFile == "" {
		_, err := io.WriteString(r.out, msg)
		return err
	}

	if r.errLog == nil {
		f, err := os.OpenFile(LogPath(r.opts.InputFile), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return fmt.Errorf("failed to open error log: %w", err)
		}
		r.errLog = f
	}
	if _, err := fmt.Fprintf(r.errLog, "%s %s", r.opts.Now().UTC().Format(time.RFC3339), msg); err != nil {
		return fmt.Errorf("failed to write error log: %w", err)
	}
	fmt.Fprintln(r.opts.Messages, "Error: Please view the log file for details")
	return nil
}

func (r *runner) closeErrorLog() {
	if r.errLog != nil {
		r.errLog.Close()
	}
}

func (r *runner) wait(ctx context.Context) error {
	if r.opts.Pacer == nil {
		return ctx.Err()
	}
	return r.opts.Pacer.Wait(ctx)
}
