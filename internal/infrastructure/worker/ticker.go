package worker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// TaskFunc is one iteration of a periodic job
type TaskFunc func(ctx context.Context) error

// Stats summarizes a ticker's runs
type Stats struct {
	Runs      int
	Failures  int
	LastRun   time.Time
	LastError error
}

// Ticker runs a task on a fixed interval
type Ticker struct {
	name     string
	interval time.Duration
	timeout  time.Duration
	task     TaskFunc
	logger   *zap.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
	stats  Stats
}

// NewTicker creates a ticker. Each run gets at most timeout, or the whole
// interval when timeout is zero.
func NewTicker(name string, interval, timeout time.Duration, task TaskFunc, logger *zap.Logger) *Ticker {
	if logger == nil {
		logger = zap.NewNop()
	}
	if timeout <= 0 {
		timeout = interval
	}
	return &Ticker{
		name:     name,
		interval: interval,
		timeout:  timeout,
		task:     task,
		logger:   logger,
	}
}

// Name implements Worker
func (t *Ticker) Name() string {
	return t.name
}

// Start implements Worker
func (t *Ticker) Start(ctx context.Context) error {
	if t.interval <= 0 {
		return fmt.Errorf("%s: interval must be positive", t.name)
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.done != nil {
		return fmt.Errorf("%s already running", t.name)
	}

	runCtx, cancel := context.WithCancel(ctx)
	t.cancel = cancel
	t.done = make(chan struct{})

	t.logger.Info("Ticker started",
		zap.String("worker_name", t.name),
		zap.Duration("interval", t.interval))

	go t.loop(runCtx, t.done)
	return nil
}

// Stop implements Worker
func (t *Ticker) Stop() error {
	t.mu.Lock()
	cancel, done := t.cancel, t.done
	t.mu.Unlock()
	if done == nil {
		return nil
	}

	cancel()
	<-done

	t.mu.Lock()
	t.done = nil
	t.cancel = nil
	stats := t.stats
	t.mu.Unlock()

	t.logger.Info("Ticker stopped",
		zap.String("worker_name", t.name),
		zap.Int("runs", stats.Runs),
		zap.Int("failures", stats.Failures))
	return nil
}

// Stats returns a snapshot of the run counters
func (t *Ticker) Stats() Stats {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stats
}

func (t *Ticker) loop(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			t.runOnce(ctx)
		}
	}
}

func (t *Ticker) runOnce(ctx context.Context) {
	runCtx, cancel := context.WithTimeout(ctx, t.timeout)
	err := t.task(runCtx)
	cancel()

	t.mu.Lock()
	t.stats.Runs++
	t.stats.LastRun = time.Now()
	t.stats.LastError = err
	if err != nil {
		t.stats.Failures++
	}
	t.mu.Unlock()

	if err != nil && ctx.Err() == nil {
		t.logger.Error("Periodic task failed",
			zap.String("worker_name", t.name),
			zap.Error(err))
	}
}
