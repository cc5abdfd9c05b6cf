package worker

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwalitptl/stockalert-api/internal/model"
)

type countingDispatcher struct {
	calls atomic.Int32
	refs  chan time.Time
	err   error
}

func (d *countingDispatcher) Run(_ context.Context, ref time.Time) (model.DispatchStats, error) {
	d.calls.Add(1)
	if d.refs != nil {
		select {
		case d.refs <- ref:
		default:
		}
	}
	return model.DispatchStats{UsersProcessed: 1}, d.err
}

func TestNewDispatchRunner_Validation(t *testing.T) {
	_, err := NewDispatchRunner(nil, DispatchRunnerConfig{PollInterval: time.Second}, nil)
	assert.Error(t, err)

	_, err = NewDispatchRunner(&countingDispatcher{}, DispatchRunnerConfig{}, nil)
	assert.Error(t, err)
}

func TestDispatchRunner_RunOnceUsesClock(t *testing.T) {
	d := &countingDispatcher{refs: make(chan time.Time, 1)}
	r, err := NewDispatchRunner(d, DispatchRunnerConfig{PollInterval: time.Minute}, nil)
	require.NoError(t, err)

	fixed := time.Date(2025, 6, 1, 12, 0, 0, 0, time.FixedZone("X", 3600))
	r.now = func() time.Time { return fixed }

	stats, err := r.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, stats.UsersProcessed)
	assert.Equal(t, fixed.UTC(), <-d.refs)
}

func TestDispatchRunner_StartRunsUntilCancelled(t *testing.T) {
	d := &countingDispatcher{err: errors.New("db down")}
	r, err := NewDispatchRunner(d, DispatchRunnerConfig{PollInterval: 10 * time.Millisecond}, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		r.Start(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool { return d.calls.Load() >= 3 }, time.Second, 5*time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("runner did not stop")
	}
}
