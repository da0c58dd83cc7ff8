package worker

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeWorker struct {
	name     string
	startErr error
	stopErr  error
	started  atomic.Bool
	stopped  atomic.Bool
	order    *[]string
}

func (f *fakeWorker) Start(ctx context.Context) error {
	if f.startErr != nil {
		return f.startErr
	}
	f.started.Store(true)
	return nil
}

func (f *fakeWorker) Stop() error {
	f.stopped.Store(true)
	if f.order != nil {
		*f.order = append(*f.order, f.name)
	}
	return f.stopErr
}

func (f *fakeWorker) Name() string { return f.name }

func TestManager_StartAndStop(t *testing.T) {
	var order []string
	a := &fakeWorker{name: "a", order: &order}
	b := &fakeWorker{name: "b", startErr: errors.New("boom"), order: &order}
	c := &fakeWorker{name: "c", order: &order}

	m := NewManager(zap.NewNop())
	m.Register(a)
	m.Register(b)
	m.Register(c)
	assert.Equal(t, 3, m.Count())

	err := m.StartAll(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "start b")
	assert.True(t, a.started.Load())
	assert.True(t, c.started.Load(), "later workers still start")
	assert.True(t, m.IsRunning())

	assert.Error(t, m.StartAll(context.Background()))

	require.NoError(t, m.StopAll())
	assert.Equal(t, []string{"c", "b", "a"}, order)
	assert.False(t, m.IsRunning())
	assert.NoError(t, m.StopAll())
}

func TestManager_StopReportsFailures(t *testing.T) {
	m := NewManager(nil)
	m.Register(&fakeWorker{name: "a", stopErr: errors.New("stuck")})
	require.NoError(t, m.StartAll(context.Background()))

	err := m.StopAll()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to stop 1 workers")
}

func TestLoop(t *testing.T) {
	t.Run("stop cancels run", func(t *testing.T) {
		running := make(chan struct{})
		l := NewLoop("loop", func(ctx context.Context) error {
			close(running)
			<-ctx.Done()
			return ctx.Err()
		}, nil)

		require.NoError(t, l.Start(context.Background()))
		assert.Error(t, l.Start(context.Background()))
		<-running
		assert.NoError(t, l.Stop())
		assert.Nil(t, l.Done())
	})

	t.Run("stop returns run error", func(t *testing.T) {
		boom := errors.New("boom")
		l := NewLoop("loop", func(ctx context.Context) error { return boom }, nil)

		require.NoError(t, l.Start(context.Background()))
		<-l.Done()
		assert.ErrorIs(t, l.Stop(), boom)
	})

	t.Run("stop before start", func(t *testing.T) {
		l := NewLoop("loop", func(ctx context.Context) error { return nil }, nil)
		assert.NoError(t, l.Stop())
	})
}

func TestTicker(t *testing.T) {
	var calls atomic.Int32
	tk := NewTicker("refresh", 5*time.Millisecond, 0, func(ctx context.Context) error {
		if calls.Add(1)%2 == 0 {
			return errors.New("flaky")
		}
		return nil
	}, zap.NewNop())

	require.NoError(t, tk.Start(context.Background()))
	assert.Eventually(t, func() bool { return calls.Load() >= 4 }, time.Second, time.Millisecond)
	require.NoError(t, tk.Stop())

	stats := tk.Stats()
	assert.GreaterOrEqual(t, stats.Runs, 4)
	assert.GreaterOrEqual(t, stats.Failures, 2)
	assert.False(t, stats.LastRun.IsZero())
}

func TestTicker_RejectsZeroInterval(t *testing.T) {
	tk := NewTicker("bad", 0, 0, func(ctx context.Context) error { return nil }, nil)
	assert.Error(t, tk.Start(context.Background()))
}
