package capture

import (
	"bufio"
	"compress/gzip"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// maxRecordSize bounds a single feed record when reading files back.
const maxRecordSize = 4 << 20

// File is one capture file found on disk.
type File struct {
	Path       string
	OpenedAt   time.Time
	Compressed bool
	Size       int64
}

// ListFiles returns the capture files for prefix in dir, oldest first.
// Names that do not parse as capture files are ignored.
func ListFiles(dir, prefix string) ([]File, error) {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read directory: %w", err)
	}

	var files []File
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		openedAt, compressed, ok := parseName(entry.Name(), prefix)
		if !ok {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			return nil, fmt.Errorf("failed to stat %s: %w", entry.Name(), err)
		}
		files = append(files, File{
			Path:       filepath.Join(dir, entry.Name()),
			OpenedAt:   openedAt,
			Compressed: compressed,
			Size:       info.Size(),
		})
	}

	sort.SliceStable(files, func(i, j int) bool {
		return files[i].OpenedAt.Before(files[j].OpenedAt)
	})
	return files, nil
}

func parseName(name, prefix string) (time.Time, bool, bool) {
	rest, ok := strings.CutPrefix(name, prefix+"-")
	if !ok {
		return time.Time{}, false, false
	}
	stamp, compressed := strings.CutSuffix(rest, gzipExt)
	t, err := time.Parse(TimeLayout, stamp)
	if err != nil {
		return time.Time{}, false, false
	}
	return t, compressed, true
}

// ReadRecords reads every record of a capture file, decompressing gzip
// files transparently.
func ReadRecords(path string) ([][]byte, error) {
	var records [][]byte
	err := EachRecord(path, func(record []byte) error {
		records = append(records, record)
		return nil
	})
	return records, err
}

// EachRecord calls fn for every record of a capture file in order. The
// slice passed to fn is its own copy.
func EachRecord(path string, fn func(record []byte) error) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open capture file: %w", err)
	}
	defer f.Close()

	var r io.Reader = f
	if strings.HasSuffix(path, gzipExt) {
		gz, err := gzip.NewReader(f)
		if err != nil {
			return fmt.Errorf("failed to read gzip header of %s: %w", path, err)
		}
		defer gz.Close()
		r = gz
	}

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxRecordSize)
	for scanner.Scan() {
		record := append([]byte(nil), scanner.Bytes()...)
		if err := fn(record); err != nil {
			return err
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("failed to read %s: %w", path, err)
	}
	return nil
}
