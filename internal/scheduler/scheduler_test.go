package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"twarchive/pkg/config"
	errs "twarchive/pkg/errors"
	"twarchive/pkg/logger"
)

func TestNewTimezone(t *testing.T) {
	s, err := New(config.ScheduleConfig{Timezone: "America/New_York"}, nil)
	require.NoError(t, err)
	assert.Equal(t, "America/New_York", s.location.String())

	s, err = New(config.ScheduleConfig{}, nil)
	require.NoError(t, err)
	assert.Equal(t, "UTC", s.location.String())

	_, err = New(config.ScheduleConfig{Timezone: "Invalid/Zone"}, nil)
	assert.True(t, errs.IsValidation(err))
}

func TestScheduleRejectsBadSpec(t *testing.T) {
	s, err := New(config.ScheduleConfig{}, nil)
	require.NoError(t, err)

	for _, spec := range []string{"", "61 * * * *", "every day", "* * * *"} {
		assert.True(t, errs.IsValidation(s.Schedule(spec, nil)), spec)
	}
	require.NoError(t, s.Schedule("@hourly", func(context.Context, string) error { return nil }))
	require.NoError(t, s.Schedule("0 */6 * * *", func(context.Context, string) error { return nil }))
	assert.Len(t, s.cron.Entries(), 1, "rescheduling replaces the entry")
}

func TestOverlappingRunsAreSkipped(t *testing.T) {
	log := logger.NewTestLogger()
	s, err := New(config.ScheduleConfig{}, log)
	require.NoError(t, err)

	var runs int32
	started := make(chan struct{})
	release := make(chan struct{})
	require.NoError(t, s.Schedule("@daily", func(ctx context.Context, runID string) error {
		assert.NotEmpty(t, runID)
		atomic.AddInt32(&runs, 1)
		close(started)
		<-release
		return nil
	}))

	job := s.cron.Entry(s.entryID).WrappedJob
	done := make(chan struct{})
	go func() {
		job.Run()
		close(done)
	}()
	<-started

	job.Run()
	assert.Equal(t, int32(1), atomic.LoadInt32(&runs), "second run skipped while the first is active")

	close(release)
	<-done
	assert.True(t, log.HasMessage("INFO", "scheduled run finished"))
}

func TestFailedRunIsLogged(t *testing.T) {
	log := logger.NewTestLogger()
	s, err := New(config.ScheduleConfig{}, log)
	require.NoError(t, err)
	require.NoError(t, s.Schedule("@daily", func(context.Context, string) error {
		return errors.New("upstream down")
	}))

	s.cron.Entry(s.entryID).WrappedJob.Run()
	assert.True(t, log.HasMessage("ERROR", "scheduled run failed"))
}

func TestRunStopsWithContext(t *testing.T) {
	s, err := New(config.ScheduleConfig{}, nil)
	require.NoError(t, err)
	require.NoError(t, s.Schedule("@every 1h", func(context.Context, string) error { return nil }))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	require.Eventually(t, func() bool { return !s.Next().IsZero() }, time.Second, 10*time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("scheduler did not stop")
	}
}
