package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "twarchive"

// Metrics holds every collector the archiver exports. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	upstreamRequests *prometheus.CounterVec
	upstreamDuration *prometheus.HistogramVec

	itemsStored       prometheus.Counter
	duplicatesSkipped prometheus.Counter
	harvestErrors     *prometheus.CounterVec
	pagesFetched      prometheus.Counter
	jobDuration       prometheus.Histogram

	captureRecords   prometheus.Counter
	captureBytes     prometheus.Counter
	captureRotations prometheus.Counter

	streamReconnects prometheus.Counter
}

// New constructs and registers all collectors on a private registry.
func New() (*Metrics, error) {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		upstreamRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "upstream",
			Name:      "requests_total",
			Help:      "Upstream API requests by HTTP method and status code.",
		}, []string{"method", "code"}),
		upstreamDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "upstream",
			Name:      "request_duration_seconds",
			Help:      "Latency distribution for upstream API requests.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method"}),
		itemsStored: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "harvest",
			Name:      "items_stored_total",
			Help:      "Items newly stored by harvests.",
		}),
		duplicatesSkipped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "harvest",
			Name:      "duplicates_skipped_total",
			Help:      "Harvested items skipped because they were already stored.",
		}),
		harvestErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "harvest",
			Name:      "errors_total",
			Help:      "Per-account harvest failures by error type.",
		}, []string{"type"}),
		pagesFetched: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "harvest",
			Name:      "pages_fetched_total",
			Help:      "Timeline pages fetched.",
		}),
		jobDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "harvest",
			Name:      "job_duration_seconds",
			Help:      "Wall-clock duration of harvest jobs.",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 14),
		}),
		captureRecords: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "capture",
			Name:      "records_total",
			Help:      "Records written to capture files.",
		}),
		captureBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "capture",
			Name:      "bytes_total",
			Help:      "Uncompressed bytes written to capture files.",
		}),
		captureRotations: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "capture",
			Name:      "rotations_total",
			Help:      "Capture file rotations.",
		}),
		streamReconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "stream",
			Name:      "reconnects_total",
			Help:      "Streaming connection attempts after the first.",
		}),
	}

	for _, c := range []prometheus.Collector{
		m.upstreamRequests, m.upstreamDuration,
		m.itemsStored, m.duplicatesSkipped, m.harvestErrors, m.pagesFetched, m.jobDuration,
		m.captureRecords, m.captureBytes, m.captureRotations,
		m.streamReconnects,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	} {
		if err := m.registry.Register(c); err != nil {
			return nil, err
		}
	}

	return m, nil
}

// Handler returns an HTTP handler for exposing Prometheus metrics.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Serve exposes Handler on addr under /metrics until ctx is done.
func (m *Metrics) Serve(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
}

// Transport instruments an upstream round tripper.
func (m *Metrics) Transport(next http.RoundTripper) http.RoundTripper {
	if next == nil {
		next = http.DefaultTransport
	}
	if m == nil {
		return next
	}
	return promhttp.InstrumentRoundTripperCounter(m.upstreamRequests,
		promhttp.InstrumentRoundTripperDuration(m.upstreamDuration, next))
}

func (m *Metrics) ItemsStored(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.itemsStored.Add(float64(n))
}

func (m *Metrics) DuplicatesSkipped(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.duplicatesSkipped.Add(float64(n))
}

func (m *Metrics) HarvestError(errorType string) {
	if m == nil {
		return
	}
	m.harvestErrors.WithLabelValues(errorType).Inc()
}

func (m *Metrics) PageFetched() {
	if m == nil {
		return
	}
	m.pagesFetched.Inc()
}

func (m *Metrics) JobFinished(d time.Duration) {
	if m == nil {
		return
	}
	m.jobDuration.Observe(d.Seconds())
}

func (m *Metrics) RecordWritten(bytes int) {
	if m == nil {
		return
	}
	m.captureRecords.Inc()
	m.captureBytes.Add(float64(bytes))
}

func (m *Metrics) Rotated() {
	if m == nil {
		return
	}
	m.captureRotations.Inc()
}

func (m *Metrics) Reconnected() {
	if m == nil {
		return
	}
	m.streamReconnects.Inc()
}
