package stream

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"twarchive/pkg/config"
	errs "twarchive/pkg/errors"
	"twarchive/pkg/logger"
	"twarchive/pkg/metrics"
	"twarchive/pkg/retry"
	"twarchive/pkg/store"
	"twarchive/pkg/twitter"
)

const maxLineSize = 4 << 20

// RecordHandler receives every non-blank line of the stream. raw is only
// valid for the duration of the call.
type RecordHandler interface {
	OnRecord(raw []byte) error
}

// Consumer holds one long-lived filter connection open, reconnecting with
// backoff when it drops.
type Consumer struct {
	httpClient *http.Client
	signer     *twitter.Signer
	baseURL    string
	userAgent  string
	cfg        config.StreamConfig
	backoff    retry.BackoffStrategy
	metrics    *metrics.Metrics
	logger     logger.Logger
}

// New creates a consumer from the api and stream config sections. The HTTP
// client has no overall timeout since the response body never ends.
func New(cfg *config.Config, creds twitter.Credentials, m *metrics.Metrics, log logger.Logger) *Consumer {
	return &Consumer{
		httpClient: &http.Client{Transport: m.Transport(nil)},
		signer:     twitter.NewSigner(creds),
		baseURL:    strings.TrimRight(cfg.API.StreamURL, "/"),
		userAgent:  cfg.API.UserAgent,
		cfg:        cfg.Stream,
		backoff: &retry.ExponentialBackoff{
			BaseDelay:    cfg.Stream.ReconnectBaseDelay,
			MaxDelay:     cfg.Stream.ReconnectMaxDelay,
			Multiplier:   2.0,
			JitterFactor: 0.1,
		},
		metrics: m,
		logger:  logger.OrDefault(log),
	}
}

// SetBaseURL points the consumer at another stream root.
func (c *Consumer) SetBaseURL(u string) {
	c.baseURL = strings.TrimRight(u, "/")
}

// SetBackoff replaces the reconnect backoff.
func (c *Consumer) SetBackoff(b retry.BackoffStrategy) {
	c.backoff = b
}

// Params builds the filter request body. Empty criteria are omitted.
func Params(f *store.Filter) url.Values {
	params := url.Values{}
	for key, value := range map[string]string{
		"track":     f.Words,
		"follow":    f.People,
		"locations": f.Locations,
	} {
		if v := strings.TrimSpace(value); v != "" {
			params.Set(key, v)
		}
	}
	return params
}

// handlerError marks a failure of the record handler, which ends the run
// instead of triggering a reconnect.
type handlerError struct{ err error }

func (e *handlerError) Error() string { return "record handler: " + e.err.Error() }
func (e *handlerError) Unwrap() error { return e.err }

// deliveredError marks a connection that dropped after delivering records.
type deliveredError struct{ err error }

func (e *deliveredError) Error() string { return e.err.Error() }
func (e *deliveredError) Unwrap() error { return e.err }

// errDisconnected is returned when the server closes a healthy stream.
var errDisconnected = errs.New(errs.ErrorTypeNetwork, 0, "stream closed by server")

// Run streams filter into h until ctx is cancelled, the handler fails, the
// upstream rejects the credential, or reconnects are exhausted.
func (c *Consumer) Run(ctx context.Context, filter *store.Filter, h RecordHandler) error {
	if !filter.Active {
		return errs.Validation("filter %q is not active", filter.Name)
	}
	params := Params(filter)
	if len(params) == 0 {
		return errs.Validation("filter %q has no words, people or locations", filter.Name)
	}

	runID := uuid.NewString()
	log := c.logger.WithFields(map[string]interface{}{
		"run_id": runID,
		"filter": filter.Name,
	})

	var records int
	var err error
	for {
		// Each retry.Do run covers one streak of failed connects. A connection
		// that delivered records ends the streak so the count and backoff
		// start over.
		err = retry.Do(ctx, func() error {
			n, err := c.connect(ctx, log, params, h)
			records += n
			if n > 0 && err != nil && retryable(err) {
				return &deliveredError{err: err}
			}
			return err
		}, &retry.Config{
			MaxAttempts: c.maxAttempts(),
			Backoff:     c.backoff,
			RetryIf: func(err error) bool {
				var de *deliveredError
				return !errors.As(err, &de) && retryable(err)
			},
			OnRetry: func(attempt int, err error, delay time.Duration) {
				c.reconnecting(log, attempt, err, delay)
			},
			Logger: log,
		})

		var de *deliveredError
		if !errors.As(err, &de) {
			break
		}
		delay := c.backoff.NextDelay(1)
		c.reconnecting(log, 1, de.err, delay)
		if err = retry.Wait(ctx, delay); err != nil {
			break
		}
	}

	log.InfoWithFields("stream stopped", map[string]interface{}{"records": records})
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return err
}

func (c *Consumer) reconnecting(log logger.Logger, attempt int, err error, delay time.Duration) {
	c.metrics.Reconnected()
	log.WithError(err).WarnWithFields("stream disconnected, reconnecting", map[string]interface{}{
		"attempt": attempt,
		"delay":   delay.String(),
	})
}

func (c *Consumer) maxAttempts() int {
	if c.cfg.MaxReconnects <= 0 {
		return 0
	}
	return c.cfg.MaxReconnects + 1
}

func retryable(err error) bool {
	var he *handlerError
	if errors.As(err, &he) {
		return false
	}
	if errs.IsAuth(err) || errs.IsValidation(err) || errs.IsNotFound(err) {
		return false
	}
	return retry.DefaultRetryIf(err)
}

// connect opens one connection and pumps lines until it drops. It returns
// the number of records delivered.
func (c *Consumer) connect(ctx context.Context, log logger.Logger, params url.Values, h RecordHandler) (int, error) {
	endpoint := c.baseURL + "/" + twitter.EndpointFilter
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(params.Encode()))
	if err != nil {
		return 0, errs.Wrap(errs.ErrorTypeUnknown, err, "failed to create request")
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}
	c.signer.Sign(req, params)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, errs.Wrap(errs.ErrorTypeNetwork, err, "POST %s", twitter.EndpointFilter)
	}
	defer resp.Body.Close()

	if err := twitter.CheckResponse(resp); err != nil {
		return 0, err
	}
	log.Info("stream connected")

	records := 0
	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue // keep-alive
		}
		if err := h.OnRecord(line); err != nil {
			return records, &handlerError{err: err}
		}
		records++
	}
	if err := scanner.Err(); err != nil {
		return records, errs.Wrap(errs.ErrorTypeNetwork, err, "stream read failed")
	}
	return records, fmt.Errorf("after %d records: %w", records, errDisconnected)
}
