package capture

import (
	"compress/gzip"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"twarchive/pkg/config"
	"twarchive/pkg/metrics"
)

// ErrClosed is returned by OnRecord once the writer has been closed.
var ErrClosed = errors.New("capture writer is closed")

const (
	// TimeLayout is the UTC open time embedded in every capture filename.
	TimeLayout = "2006-01-02T15:04:05Z"

	DefaultPrefix   = "data"
	DefaultInterval = 15 * time.Minute

	gzipExt = ".gz"
)

// Options override the capture section of the configuration. Zero values
// fall back to it.
type Options struct {
	Dir      string
	Prefix   string
	Interval time.Duration
	// Compress overrides capture.compress when set.
	Compress *bool
	Now      func() time.Time
	Metrics  *metrics.Metrics
}

// Writer appends feed records to a file and switches to a fresh file once
// the current one has been open longer than the interval.
type Writer struct {
	dir      string
	prefix   string
	interval time.Duration
	compress bool
	now      func() time.Time
	metrics  *metrics.Metrics

	mu sync.Mutex
	segment
	closed bool
}

// segment is one open capture file.
type segment struct {
	file     *os.File
	gz       *gzip.Writer
	out      io.Writer
	path     string
	openedAt time.Time
}

// NewWriter resolves the options against cfg and opens the first file.
func NewWriter(cfg *config.CaptureConfig, opts Options) (*Writer, error) {
	if cfg == nil {
		cfg = &config.CaptureConfig{Compress: true}
	}

	w := &Writer{
		dir:      opts.Dir,
		prefix:   opts.Prefix,
		interval: opts.Interval,
		compress: cfg.Compress,
		now:      opts.Now,
		metrics:  opts.Metrics,
	}
	if w.dir == "" {
		w.dir = cfg.DataDir
	}
	if w.dir == "" {
		w.dir = "."
	}
	if w.prefix == "" {
		w.prefix = cfg.Prefix
	}
	if w.prefix == "" {
		w.prefix = DefaultPrefix
	}
	if w.interval <= 0 {
		w.interval = cfg.SaveInterval
	}
	if w.interval <= 0 {
		w.interval = DefaultInterval
	}
	if opts.Compress != nil {
		w.compress = *opts.Compress
	}
	if w.now == nil {
		w.now = time.Now
	}

	if err := os.MkdirAll(w.dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create capture directory: %w", err)
	}
	if err := w.open(); err != nil {
		return nil, err
	}
	return w, nil
}

// Path returns the file currently being written.
func (w *Writer) Path() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.path
}

// OnRecord writes raw plus a newline to the current file, then rotates if
// the file has been open longer than the interval.
func (w *Writer) OnRecord(raw []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return ErrClosed
	}

	line := make([]byte, 0, len(raw)+1)
	line = append(line, raw...)
	line = append(line, '\n')
	if _, err := w.out.Write(line); err != nil {
		return fmt.Errorf("failed to write record to %s: %w", w.path, err)
	}
	w.metrics.RecordWritten(len(line))

	if w.now().Sub(w.openedAt) > w.interval {
		if err := w.rotate(); err != nil {
			return err
		}
	}
	return nil
}

// Close flushes and closes the current file. It is safe to call more than
// once.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return nil
	}
	w.closed = true
	return w.closeFile()
}

// rotate opens the next file before letting go of the current one. If the
// open fails the current file stays in use and the next record retries.
func (w *Writer) rotate() error {
	next, err := w.openSegment()
	if err != nil {
		return err
	}
	closeErr := w.closeFile()
	w.segment = next
	w.metrics.Rotated()
	return closeErr
}

func (w *Writer) open() error {
	seg, err := w.openSegment()
	if err != nil {
		return err
	}
	w.segment = seg
	return nil
}

func (w *Writer) openSegment() (segment, error) {
	openedAt := w.now().UTC()
	path := filepath.Join(w.dir, FileName(w.prefix, openedAt, w.compress))

	// Two opens within one second share a name; append rather than clobber.
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return segment{}, fmt.Errorf("failed to open capture file: %w", err)
	}

	seg := segment{file: f, out: f, path: path, openedAt: openedAt}
	if w.compress {
		seg.gz = gzip.NewWriter(f)
		seg.out = seg.gz
	}
	return seg, nil
}

func (w *Writer) closeFile() error {
	var gzErr error
	if w.gz != nil {
		gzErr = w.gz.Close()
	}
	fileErr := w.file.Close()
	if err := errors.Join(gzErr, fileErr); err != nil {
		return fmt.Errorf("failed to close %s: %w", w.path, err)
	}
	return nil
}

// FileName builds the capture filename for a file opened at t.
func FileName(prefix string, t time.Time, compressed bool) string {
	name := prefix + "-" + t.UTC().Format(TimeLayout)
	if compressed {
		name += gzipExt
	}
	return name
}
