package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func scrape(t *testing.T, m *Metrics) string {
	t.Helper()
	rr := httptest.NewRecorder()
	m.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	return rr.Body.String()
}

func TestMetricsRecorded(t *testing.T) {
	m, err := New()
	require.NoError(t, err)

	m.ItemsStored(3)
	m.DuplicatesSkipped(2)
	m.HarvestError("not_found")
	m.PageFetched()
	m.JobFinished(2 * time.Second)
	m.RecordWritten(10)
	m.RecordWritten(5)
	m.Rotated()
	m.Reconnected()

	body := scrape(t, m)
	assert.Contains(t, body, "twarchive_harvest_items_stored_total 3")
	assert.Contains(t, body, "twarchive_harvest_duplicates_skipped_total 2")
	assert.Contains(t, body, `twarchive_harvest_errors_total{type="not_found"} 1`)
	assert.Contains(t, body, "twarchive_harvest_pages_fetched_total 1")
	assert.Contains(t, body, "twarchive_harvest_job_duration_seconds_count 1")
	assert.Contains(t, body, "twarchive_capture_records_total 2")
	assert.Contains(t, body, "twarchive_capture_bytes_total 15")
	assert.Contains(t, body, "twarchive_capture_rotations_total 1")
	assert.Contains(t, body, "twarchive_stream_reconnects_total 1")
}

func TestTransportInstrumentsUpstream(t *testing.T) {
	m, err := New()
	require.NoError(t, err)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	client := &http.Client{Transport: m.Transport(nil)}
	resp, err := client.Get(srv.URL)
	require.NoError(t, err)
	resp.Body.Close()

	body := scrape(t, m)
	assert.Contains(t, body, `twarchive_upstream_requests_total{code="429",method="get"} 1`)
	assert.Contains(t, body, `twarchive_upstream_request_duration_seconds_count{method="get"} 1`)
}

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.ItemsStored(1)
		m.HarvestError("auth")
		m.RecordWritten(1)
		m.Rotated()
		m.Reconnected()
		m.JobFinished(time.Second)
	})
	assert.Equal(t, http.DefaultTransport, m.Transport(nil))

	rr := httptest.NewRecorder()
	m.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusNotFound, rr.Code)
}
