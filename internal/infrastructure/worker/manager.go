package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"
)

// Worker is a background task with an explicit lifecycle
type Worker interface {
	Start(ctx context.Context) error
	Stop() error
	Name() string
}

// Manager owns the process's background workers. They share one context
// derived from the one passed to StartAll.
type Manager struct {
	logger *zap.Logger

	mu      sync.RWMutex
	pool    []Worker
	stopCtx context.CancelFunc // nil while stopped
}

func NewManager(logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{logger: logger.Named("workers")}
}

// Register queues w for the next StartAll
func (m *Manager) Register(w Worker) {
	m.mu.Lock()
	m.pool = append(m.pool, w)
	n := len(m.pool)
	m.mu.Unlock()

	m.logger.Debug("Worker registered", zap.String("worker_name", w.Name()), zap.Int("registered", n))
}

// StartAll starts workers in registration order. A failing worker does not
// stop the rest; the first failure is returned.
func (m *Manager) StartAll(ctx context.Context) error {
	m.mu.Lock()
	if m.stopCtx != nil {
		m.mu.Unlock()
		return errors.New("workers already running")
	}
	shared, cancel := context.WithCancel(ctx)
	m.stopCtx = cancel
	pool := m.snapshot()
	m.mu.Unlock()

	var firstErr error
	for _, w := range pool {
		log := m.logger.With(zap.String("worker_name", w.Name()))
		if err := w.Start(shared); err != nil {
			log.Error("Worker failed to start", zap.Error(err))
			if firstErr == nil {
				firstErr = fmt.Errorf("start %s: %w", w.Name(), err)
			}
			continue
		}
		log.Info("Worker started")
	}
	return firstErr
}

// StopAll cancels the shared context, then stops workers newest first
func (m *Manager) StopAll() error {
	m.mu.Lock()
	cancel := m.stopCtx
	m.stopCtx = nil
	pool := m.snapshot()
	m.mu.Unlock()

	if cancel == nil {
		return nil
	}
	cancel()

	var errs []error
	for i := len(pool) - 1; i >= 0; i-- {
		w := pool[i]
		if err := w.Stop(); err != nil {
			m.logger.Error("Worker failed to stop", zap.String("worker_name", w.Name()), zap.Error(err))
			errs = append(errs, fmt.Errorf("%s: %w", w.Name(), err))
			continue
		}
		m.logger.Info("Worker stopped", zap.String("worker_name", w.Name()))
	}
	if len(errs) > 0 {
		return fmt.Errorf("failed to stop %d workers: %w", len(errs), errors.Join(errs...))
	}
	return nil
}

func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.pool)
}

// IsRunning reports whether StartAll has run without a matching StopAll
func (m *Manager) IsRunning() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.stopCtx != nil
}

func (m *Manager) snapshot() []Worker {
	return append([]Worker(nil), m.pool...)
}
