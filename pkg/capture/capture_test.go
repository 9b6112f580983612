package capture

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"twarchive/pkg/config"
	"twarchive/pkg/metrics"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 3, 9, 10, 0, 0, 0, time.UTC)}
}

func boolPtr(b bool) *bool { return &b }

func readAll(t *testing.T, files []File) []string {
	t.Helper()
	var out []string
	for _, f := range files {
		records, err := ReadRecords(f.Path)
		require.NoError(t, err)
		for _, r := range records {
			out = append(out, string(r))
		}
	}
	return out
}

func TestRotationProducesTwoFiles(t *testing.T) {
	for _, compress := range []bool{true, false} {
		t.Run(fmt.Sprintf("compress=%v", compress), func(t *testing.T) {
			dir := t.TempDir()
			clock := newClock()
			w, err := NewWriter(nil, Options{
				Dir:      dir,
				Prefix:   "feed",
				Interval: time.Minute,
				Compress: boolPtr(compress),
				Now:      clock.Now,
			})
			require.NoError(t, err)

			var want []string
			for i := 0; i < 9; i++ {
				record := fmt.Sprintf(`{"id":%d}`, i)
				want = append(want, record)
				require.NoError(t, w.OnRecord([]byte(record)))
				clock.Advance(10 * time.Second)
			}
			require.NoError(t, w.Close())

			files, err := ListFiles(dir, "feed")
			require.NoError(t, err)
			require.Len(t, files, 2)
			assert.Equal(t, compress, files[0].Compressed)
			assert.True(t, files[0].OpenedAt.Before(files[1].OpenedAt))
			assert.Equal(t, "feed-2024-03-09T10:00:00Z", strings.TrimSuffix(filepath.Base(files[0].Path), ".gz"))

			assert.Equal(t, want, readAll(t, files), "no record missing or duplicated")
		})
	}
}

func TestRotationAtExactIntervalWaitsForNextRecord(t *testing.T) {
	dir := t.TempDir()
	clock := newClock()
	w, err := NewWriter(nil, Options{Dir: dir, Interval: time.Minute, Compress: boolPtr(false), Now: clock.Now})
	require.NoError(t, err)
	defer w.Close()

	first := w.Path()
	clock.Advance(time.Minute)
	require.NoError(t, w.OnRecord([]byte("a")))
	assert.Equal(t, first, w.Path(), "elapsed must exceed the interval")

	clock.Advance(time.Second)
	require.NoError(t, w.OnRecord([]byte("b")))
	assert.NotEqual(t, first, w.Path())

	records, err := ReadRecords(first)
	require.NoError(t, err)
	assert.Equal(t, [][]byte{[]byte("a"), []byte("b")}, records)
}

func TestSameSecondAppends(t *testing.T) {
	dir := t.TempDir()
	clock := newClock()

	for _, batch := range []string{"one", "two"} {
		w, err := NewWriter(nil, Options{Dir: dir, Compress: boolPtr(true), Now: clock.Now})
		require.NoError(t, err)
		require.NoError(t, w.OnRecord([]byte(batch)))
		require.NoError(t, w.Close())
	}

	files, err := ListFiles(dir, "")
	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.Equal(t, []string{"one", "two"}, readAll(t, files), "multi-member gzip reads back in order")
}

func TestDefaultsFromConfig(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "capture")
	cfg := &config.CaptureConfig{DataDir: dir, Prefix: "cfg", SaveInterval: 5 * time.Minute, Compress: false}

	w, err := NewWriter(cfg, Options{Now: newClock().Now})
	require.NoError(t, err)
	defer w.Close()

	assert.Equal(t, filepath.Join(dir, "cfg-2024-03-09T10:00:00Z"), w.Path())
	assert.Equal(t, 5*time.Minute, w.interval)

	w2, err := NewWriter(&config.CaptureConfig{DataDir: dir}, Options{})
	require.NoError(t, err)
	defer w2.Close()
	assert.Equal(t, DefaultInterval, w2.interval)
	assert.Equal(t, DefaultPrefix, w2.prefix)
}

func TestFailedRotationKeepsCurrentFile(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "capture")
	clock := newClock()
	w, err := NewWriter(nil, Options{Dir: dir, Interval: time.Second, Compress: boolPtr(false), Now: clock.Now})
	require.NoError(t, err)
	first := w.Path()

	require.NoError(t, os.RemoveAll(dir))
	clock.Advance(2 * time.Second)

	assert.Error(t, w.OnRecord([]byte("a")))
	assert.NotPanics(t, func() {
		assert.Error(t, w.OnRecord([]byte("b")))
	})
	assert.Equal(t, first, w.Path())

	require.NoError(t, os.MkdirAll(dir, 0755))
	require.NoError(t, w.OnRecord([]byte("c")))
	assert.NotEqual(t, first, w.Path())
	require.NoError(t, w.OnRecord([]byte("d")))
	require.NoError(t, w.Close())

	records, err := ReadRecords(w.Path())
	require.NoError(t, err)
	assert.Equal(t, [][]byte{[]byte("d")}, records)
}

func TestCloseIsIdempotent(t *testing.T) {
	w, err := NewWriter(nil, Options{Dir: t.TempDir()})
	require.NoError(t, err)

	require.NoError(t, w.Close())
	require.NoError(t, w.Close())
	assert.ErrorIs(t, w.OnRecord([]byte("late")), ErrClosed)
}

func TestConcurrentRecordsLandOnce(t *testing.T) {
	dir := t.TempDir()
	clock := newClock()
	w, err := NewWriter(nil, Options{Dir: dir, Interval: time.Second, Now: clock.Now})
	require.NoError(t, err)

	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				assert.NoError(t, w.OnRecord([]byte(fmt.Sprintf("%d-%d", g, i))))
				clock.Advance(100 * time.Millisecond)
			}
		}(g)
	}
	wg.Wait()
	require.NoError(t, w.Close())

	files, err := ListFiles(dir, "")
	require.NoError(t, err)
	assert.Greater(t, len(files), 1)

	seen := map[string]int{}
	for _, r := range readAll(t, files) {
		seen[r]++
	}
	assert.Len(t, seen, 400)
	for r, n := range seen {
		assert.Equal(t, 1, n, "record %s", r)
	}
}

func TestMetricsCountRecordsAndRotations(t *testing.T) {
	m, err := metrics.New()
	require.NoError(t, err)
	clock := newClock()
	w, err := NewWriter(nil, Options{Dir: t.TempDir(), Interval: time.Second, Compress: boolPtr(false), Now: clock.Now, Metrics: m})
	require.NoError(t, err)
	defer w.Close()

	require.NoError(t, w.OnRecord([]byte("abc")))
	clock.Advance(2 * time.Second)
	require.NoError(t, w.OnRecord([]byte("de")))

	rr := httptest.NewRecorder()
	m.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	body := rr.Body.String()
	assert.Contains(t, body, "twarchive_capture_records_total 2")
	assert.Contains(t, body, "twarchive_capture_bytes_total 7")
	assert.Contains(t, body, "twarchive_capture_rotations_total 1")
}

func TestListFilesIgnoresStrangers(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{
		"data-2024-01-02T03:04:05Z",
		"data-2024-01-01T00:00:00Z.gz",
		"data-not-a-time",
		"other-2024-01-01T00:00:00Z",
		"notes.txt",
	} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), nil, 0644))
	}
	require.NoError(t, os.Mkdir(filepath.Join(dir, "data-2024-01-03T00:00:00Z"), 0755))

	files, err := ListFiles(dir, "data")
	require.NoError(t, err)
	require.Len(t, files, 2)
	assert.Equal(t, "data-2024-01-01T00:00:00Z.gz", filepath.Base(files[0].Path))
	assert.True(t, files[0].Compressed)
	assert.False(t, files[1].Compressed)
}
