package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"
)

// RunFunc blocks until ctx is cancelled or the task fails
type RunFunc func(ctx context.Context) error

// Loop runs a long-lived RunFunc in its own goroutine
type Loop struct {
	name   string
	run    RunFunc
	logger *zap.Logger

	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	lastErr error
}

// NewLoop wraps run as a Worker
func NewLoop(name string, run RunFunc, logger *zap.Logger) *Loop {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Loop{name: name, run: run, logger: logger}
}

// Name implements Worker
func (l *Loop) Name() string {
	return l.name
}

// Start implements Worker
func (l *Loop) Start(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.done != nil {
		return fmt.Errorf("%s already running", l.name)
	}

	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	l.cancel = cancel
	l.done = done

	go func() {
		defer close(done)
		err := l.run(runCtx)
		if err != nil && !errors.Is(err, context.Canceled) {
			l.logger.Error("Worker loop exited", zap.String("worker_name", l.name), zap.Error(err))
		}
		l.mu.Lock()
		l.lastErr = err
		l.mu.Unlock()
	}()
	return nil
}

// Stop cancels the loop and waits for it to return
func (l *Loop) Stop() error {
	l.mu.Lock()
	cancel, done := l.cancel, l.done
	l.mu.Unlock()
	if done == nil {
		return nil
	}

	cancel()
	<-done

	l.mu.Lock()
	defer l.mu.Unlock()
	l.done = nil
	l.cancel = nil
	if errors.Is(l.lastErr, context.Canceled) {
		return nil
	}
	return l.lastErr
}

// Done is closed when the current run returns. It is nil before Start.
func (l *Loop) Done() <-chan struct{} {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.done
}
