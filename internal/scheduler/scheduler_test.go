package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAddJob_InvalidSpec(t *testing.T) {
	s := New()
	defer s.Stop()
	err := s.AddJob("not a cron", "bad", func(context.Context) error { return nil })
	assert.Error(t, err)
	assert.Contains(t, err.Error(), `job "bad"`)
}

func TestAddJob_NilFunc(t *testing.T) {
	s := New()
	defer s.Stop()
	assert.Error(t, s.AddJob("@every 1s", "nil", nil))
}

func TestScheduler_RunsJobs(t *testing.T) {
	s := New()
	var ok, failed atomic.Int32
	require.NoError(t, s.AddJob("@every 1s", "ok", func(ctx context.Context) error {
		ok.Add(1)
		return nil
	}))
	require.NoError(t, s.AddJob("@every 1s", "failing", func(ctx context.Context) error {
		failed.Add(1)
		return errors.New("boom")
	}))

	assert.False(t, s.IsRunning())
	s.Start()
	s.Start()
	assert.True(t, s.IsRunning())

	assert.Eventually(t, func() bool { return ok.Load() > 0 && failed.Load() > 0 }, 5*time.Second, 50*time.Millisecond)

	s.Stop()
	assert.False(t, s.IsRunning())
}

func TestScheduler_StopCancelsJobContext(t *testing.T) {
	s := New()
	s.Stop()
	select {
	case <-s.ctx.Done():
	default:
		t.Fatal("job context not cancelled")
	}
}
