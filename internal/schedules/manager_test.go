package schedules

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func noop(context.Context) error { return nil }

func TestRegisterValidation(t *testing.T) {
	m := NewManager(&Config{MinIntervalMins: 60}, zaptest.NewLogger(t))

	tests := []struct {
		name    string
		job     Job
		wantErr error
	}{
		{"valid daily", Job{Name: "visibility-score", Schedule: "0 3 * * *", Run: noop}, nil},
		{"bad expression", Job{Name: "bad", Schedule: "not a cron", Run: noop}, ErrInvalidCronExpression},
		{"too frequent", Job{Name: "often", Schedule: "*/5 * * * *", Run: noop}, ErrIntervalTooShort},
		{"duplicate", Job{Name: "visibility-score", Schedule: "0 4 * * *", Run: noop}, ErrJobExists},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := m.Register(tt.job)
			if tt.wantErr == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}

	assert.Error(t, m.Register(Job{Name: "no-run", Schedule: "0 3 * * *"}))
}

func TestRunNowRecordsStatus(t *testing.T) {
	m := NewManager(nil, zaptest.NewLogger(t))
	now := time.Date(2024, 3, 1, 2, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return now }

	fail := true
	require.NoError(t, m.Register(Job{Name: "url-performance", Schedule: "0 4 * * *", Run: func(context.Context) error {
		if fail {
			return errors.New("store down")
		}
		return nil
	}}))

	err := m.RunNow(context.Background(), "url-performance")
	assert.EqualError(t, err, "store down")
	assert.True(t, m.LastSuccess("url-performance").IsZero())

	fail = false
	require.NoError(t, m.RunNow(context.Background(), "url-performance"))
	assert.True(t, m.LastSuccess("url-performance").Equal(now))

	statuses := m.Statuses()
	require.Len(t, statuses, 1)
	s := statuses[0]
	assert.Equal(t, 2, s.Runs)
	assert.Equal(t, 1, s.Failures)
	assert.Empty(t, s.LastError)
	require.NotNil(t, s.NextRunAt)
	assert.Equal(t, time.Date(2024, 3, 1, 4, 0, 0, 0, time.UTC), *s.NextRunAt)

	assert.ErrorIs(t, m.RunNow(context.Background(), "missing"), ErrJobNotFound)
	assert.True(t, m.LastSuccess("missing").IsZero())
}

func TestRunNowSkipsOverlappingRun(t *testing.T) {
	m := NewManager(nil, zaptest.NewLogger(t))

	started := make(chan struct{})
	release := make(chan struct{})
	require.NoError(t, m.Register(Job{Name: "visibility-score", Schedule: "0 3 * * *", Run: func(context.Context) error {
		close(started)
		<-release
		return nil
	}}))

	done := make(chan error, 1)
	go func() { done <- m.RunNow(context.Background(), "visibility-score") }()
	<-started

	assert.ErrorIs(t, m.RunNow(context.Background(), "visibility-score"), ErrJobRunning)
	statuses := m.Statuses()
	assert.True(t, statuses[0].Running)
	assert.Equal(t, 1, statuses[0].Skipped)

	close(release)
	require.NoError(t, <-done)
	assert.False(t, m.Statuses()[0].Running)
}

func TestJobTimeoutCancelsContext(t *testing.T) {
	m := NewManager(nil, zaptest.NewLogger(t))
	require.NoError(t, m.Register(Job{Name: "slow", Schedule: "0 3 * * *", Timeout: 10 * time.Millisecond, Run: func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}}))

	assert.ErrorIs(t, m.RunNow(context.Background(), "slow"), context.DeadlineExceeded)
}

func TestScheduledRunsFire(t *testing.T) {
	m := NewManager(nil, zaptest.NewLogger(t))
	var runs atomic.Int32
	require.NoError(t, m.Register(Job{Name: "tick", Schedule: "@every 1s", Run: func(context.Context) error {
		runs.Add(1)
		return nil
	}}))

	m.Start()
	require.Eventually(t, func() bool { return runs.Load() > 0 }, 5*time.Second, 50*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, m.Stop(ctx))
}
