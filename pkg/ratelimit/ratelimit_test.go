package ratelimit

import (
	"context"
	"net/http"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"twarchive/pkg/logger"
)

func TestSlidingWindow(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	sw := NewSlidingWindow(3, time.Minute)
	sw.now = func() time.Time { return now }

	for i := 0; i < 3; i++ {
		assert.True(t, sw.Allow(), "request %d should be allowed", i+1)
	}
	assert.False(t, sw.Allow(), "fourth request in the window is denied")

	now = now.Add(time.Minute)
	assert.True(t, sw.Allow(), "window slid past the first requests")

	sw.Reset()
	assert.Empty(t, sw.requests)
}

func TestSlidingWindowWaitHonorsContext(t *testing.T) {
	sw := NewSlidingWindow(1, time.Hour)
	require.NoError(t, sw.Wait(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := sw.Wait(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestParseHeaders(t *testing.T) {
	h := http.Header{}
	h.Set(HeaderLimit, "900")
	h.Set(HeaderRemaining, "12")
	h.Set(HeaderReset, "1714560000")

	a := ParseHeaders(h)
	assert.True(t, a.Known)
	assert.Equal(t, 900, a.Limit)
	assert.Equal(t, 12, a.Remaining)
	assert.Equal(t, time.Unix(1714560000, 0).UTC(), a.Reset)

	assert.False(t, ParseHeaders(http.Header{}).Known)

	partial := http.Header{}
	partial.Set(HeaderRemaining, "3")
	assert.False(t, ParseHeaders(partial).Known, "reset is required")
}

func TestPolicyDelay(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	policy := Policy{DefaultDelay: 2 * time.Second, MaxDelay: 15 * time.Minute}

	tests := []struct {
		name     string
		advisory Advisory
		policy   Policy
		want     time.Duration
	}{
		{"no headers", Advisory{}, policy, 2 * time.Second},
		{"exhausted waits for reset", Advisory{Remaining: 0, Reset: now.Add(90 * time.Second), Known: true}, policy, 91 * time.Second},
		{"spread across remaining calls", Advisory{Remaining: 10, Reset: now.Add(100 * time.Second), Known: true}, policy, 10 * time.Second},
		{"reset in the past", Advisory{Remaining: 5, Reset: now.Add(-time.Minute), Known: true}, policy, 0},
		{"clamped to max", Advisory{Remaining: 0, Reset: now.Add(time.Hour), Known: true}, policy, 15 * time.Minute},
		{"clamped to min", Advisory{Remaining: 100, Reset: now.Add(time.Second), Known: true}, Policy{MinDelay: time.Second}, time.Second},
		{"zero max is unbounded", Advisory{Remaining: 0, Reset: now.Add(time.Hour), Known: true}, Policy{}, time.Hour + time.Second},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.policy.Delay(tt.advisory, now))
		})
	}
}

type staticSource struct{ a Advisory }

func (s *staticSource) RateLimit() Advisory { return s.a }

func TestPacerWait(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	src := &staticSource{a: Advisory{Remaining: 4, Reset: now.Add(20 * time.Second), Known: true}}

	var slept []time.Duration
	p := NewPacer(src, Policy{}, logger.NewTestLogger())
	p.SetClock(func() time.Time { return now })
	p.SetSleep(func(ctx context.Context, d time.Duration) error {
		slept = append(slept, d)
		return nil
	})

	require.NoError(t, p.Wait(context.Background()))
	assert.Equal(t, []time.Duration{5 * time.Second}, slept)
	assert.Equal(t, 5*time.Second, p.Next())
}

func TestPacerWaitCancelled(t *testing.T) {
	reset := time.Now().Add(time.Hour).Unix()
	h := http.Header{}
	h.Set(HeaderRemaining, "0")
	h.Set(HeaderReset, strconv.FormatInt(reset, 10))
	src := &staticSource{a: ParseHeaders(h)}

	p := NewPacer(src, Policy{}, logger.NewNopLogger())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.ErrorIs(t, p.Wait(ctx), context.Canceled)
}
