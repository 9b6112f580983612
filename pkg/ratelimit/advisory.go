package ratelimit

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"twarchive/pkg/config"
	"twarchive/pkg/logger"
)

// Rate-limit headers sent with every upstream REST response.
const (
	HeaderLimit     = "x-rate-limit-limit"
	HeaderRemaining = "x-rate-limit-remaining"
	HeaderReset     = "x-rate-limit-reset"
)

// Advisory is the upstream's view of the current rate-limit window.
type Advisory struct {
	Limit     int
	Remaining int
	Reset     time.Time
	// Known is false when the response carried no usable headers.
	Known bool
}

// ParseHeaders extracts an Advisory from response headers. Reset is sent as
// epoch seconds. Remaining and Reset are both required for Known.
func ParseHeaders(h http.Header) Advisory {
	remaining, errRemaining := strconv.Atoi(h.Get(HeaderRemaining))
	reset, errReset := strconv.ParseInt(h.Get(HeaderReset), 10, 64)
	if errRemaining != nil || errReset != nil {
		return Advisory{}
	}

	limit, _ := strconv.Atoi(h.Get(HeaderLimit))
	return Advisory{
		Limit:     limit,
		Remaining: remaining,
		Reset:     time.Unix(reset, 0).UTC(),
		Known:     true,
	}
}

// Policy bounds the wait derived from an Advisory.
type Policy struct {
	DefaultDelay time.Duration
	MinDelay     time.Duration
	MaxDelay     time.Duration
}

// PolicyFromConfig maps the rate_limit config section to a Policy.
func PolicyFromConfig(cfg config.RateLimitConfig) Policy {
	return Policy{
		DefaultDelay: cfg.DefaultDelay,
		MinDelay:     cfg.MinDelay,
		MaxDelay:     cfg.MaxDelay,
	}
}

// Delay computes the wait before the next call given the last advisory.
func (p Policy) Delay(a Advisory, now time.Time) time.Duration {
	var d time.Duration
	switch {
	case !a.Known:
		d = p.DefaultDelay
	case a.Remaining <= 0:
		d = a.Reset.Sub(now) + time.Second
	default:
		d = a.Reset.Sub(now) / time.Duration(a.Remaining)
	}

	if d < p.MinDelay {
		d = p.MinDelay
	}
	if p.MaxDelay > 0 && d > p.MaxDelay {
		d = p.MaxDelay
	}
	if d < 0 {
		d = 0
	}
	return d
}

// AdvisorySource reports the advisory from the most recent response.
type AdvisorySource interface {
	RateLimit() Advisory
}

// Pacer waits the advised delay after each upstream call.
type Pacer struct {
	source AdvisorySource
	policy Policy
	logger logger.Logger
	now    func() time.Time
	sleep  func(ctx context.Context, d time.Duration) error
}

// NewPacer creates a pacer reading advisories from source.
func NewPacer(source AdvisorySource, policy Policy, log logger.Logger) *Pacer {
	return &Pacer{
		source: source,
		policy: policy,
		logger: logger.OrDefault(log),
		now:    time.Now,
		sleep:  sleep,
	}
}

// SetSleep replaces the sleep function, for tests.
func (p *Pacer) SetSleep(fn func(ctx context.Context, d time.Duration) error) {
	p.sleep = fn
}

// SetClock replaces the clock, for tests.
func (p *Pacer) SetClock(now func() time.Time) {
	p.now = now
}

// Next returns the delay the pacer would wait right now.
func (p *Pacer) Next() time.Duration {
	return p.policy.Delay(p.source.RateLimit(), p.now())
}

// Wait sleeps for the advised delay. It returns ctx.Err() if ctx is done
// before the delay elapses.
func (p *Pacer) Wait(ctx context.Context) error {
	advisory := p.source.RateLimit()
	d := p.policy.Delay(advisory, p.now())
	if d > 0 {
		p.logger.DebugWithFields("pacing upstream calls", map[string]interface{}{
			"delay":     d.String(),
			"remaining": advisory.Remaining,
			"known":     advisory.Known,
		})
	}
	return p.sleep(ctx, d)
}
