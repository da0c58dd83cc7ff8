package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/garyjia/overturn/internal/domain/event"
)

// ErrClosed is returned when dispatching on a closed dispatcher
var ErrClosed = errors.New("dispatcher is closed")

// Dispatcher is the in-process event bus between the lifecycle manager, the
// live merger and the notifiers
type Dispatcher interface {
	// Subscribe adds a handler under a generated name
	Subscribe(eventType event.Type, handler Handler)
	// SubscribeNamed adds a handler under name
	SubscribeNamed(eventType event.Type, name string, handler Handler)
	// Unsubscribe removes every handler registered under name
	Unsubscribe(eventType event.Type, name string)

	// Dispatch runs the handlers in registration order on the calling
	// goroutine. Every handler runs; their failures are joined.
	Dispatch(ctx context.Context, evt *event.Event) error
	// DispatchAsync runs each handler on its own goroutine
	DispatchAsync(ctx context.Context, evt *event.Event)

	// ListHandlers describes the handlers for eventType, without their funcs
	ListHandlers(eventType event.Type) []HandlerInfo

	// Close refuses further events and waits for running async handlers
	Close() error
}

// Logger is the logging surface the dispatcher needs
type Logger interface {
	Info(msg string, keysAndValues ...interface{})
	Error(msg string, keysAndValues ...interface{})
}

type eventDispatcher struct {
	// mu guards routes, seq and closed. DispatchAsync holds it for reading
	// while adding to inflight so Close cannot start waiting in between.
	mu     sync.RWMutex
	routes map[event.Type][]HandlerInfo
	seq    map[event.Type]int
	closed bool

	inflight sync.WaitGroup
	logger   Logger
	observer Observer
}

// Option configures the dispatcher
type Option func(*eventDispatcher)

// WithLogger logs registrations and handler failures
func WithLogger(logger Logger) Option {
	return func(d *eventDispatcher) {
		d.logger = logger
	}
}

// WithObserver reports every handler outcome to observer
func WithObserver(observer Observer) Option {
	return func(d *eventDispatcher) {
		d.observer = observer
	}
}

// NewDispatcher creates an open dispatcher
func NewDispatcher(opts ...Option) Dispatcher {
	d := &eventDispatcher{
		routes: make(map[event.Type][]HandlerInfo),
		seq:    make(map[event.Type]int),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

func (d *eventDispatcher) Subscribe(eventType event.Type, handler Handler) {
	d.mu.Lock()
	name := fmt.Sprintf("%s#%d", eventType, d.seq[eventType])
	d.add(HandlerInfo{Name: name, EventType: eventType, Handler: handler})
	d.mu.Unlock()

	d.info("Handler registered", "event_type", eventType, "handler_name", name)
}

func (d *eventDispatcher) SubscribeNamed(eventType event.Type, name string, handler Handler) {
	d.mu.Lock()
	d.add(HandlerInfo{Name: name, EventType: eventType, Handler: handler})
	d.mu.Unlock()

	d.info("Handler registered", "event_type", eventType, "handler_name", name)
}

// add appends under d.mu. Routes are copied on write so a snapshot taken
// by a running dispatch never changes under it.
func (d *eventDispatcher) add(h HandlerInfo) {
	cur := d.routes[h.EventType]
	next := make([]HandlerInfo, len(cur), len(cur)+1)
	copy(next, cur)
	d.routes[h.EventType] = append(next, h)
	d.seq[h.EventType]++
}

func (d *eventDispatcher) Unsubscribe(eventType event.Type, name string) {
	d.mu.Lock()
	var kept []HandlerInfo
	for _, h := range d.routes[eventType] {
		if h.Name != name {
			kept = append(kept, h)
		}
	}
	d.routes[eventType] = kept
	d.mu.Unlock()

	d.info("Handler unregistered", "event_type", eventType, "handler_name", name)
}

func (d *eventDispatcher) Dispatch(ctx context.Context, evt *event.Event) error {
	d.mu.RLock()
	closed, handlers := d.closed, d.routes[evt.Type]
	d.mu.RUnlock()
	if closed {
		return ErrClosed
	}

	var errs []error
	for _, h := range handlers {
		if err := d.run(ctx, evt, h); err != nil {
			errs = append(errs, fmt.Errorf("handler %s: %w", h.Name, err))
		}
	}
	return errors.Join(errs...)
}

func (d *eventDispatcher) DispatchAsync(ctx context.Context, evt *event.Event) {
	d.mu.RLock()
	if d.closed {
		d.mu.RUnlock()
		d.error("Event dropped, dispatcher is closed", "event_type", evt.Type, "event_id", evt.ID)
		return
	}
	handlers := d.routes[evt.Type]
	d.inflight.Add(len(handlers))
	d.mu.RUnlock()

	for _, h := range handlers {
		go func(h HandlerInfo) {
			defer d.inflight.Done()
			_ = d.run(ctx, evt, h)
		}(h)
	}
}

func (d *eventDispatcher) ListHandlers(eventType event.Type) []HandlerInfo {
	d.mu.RLock()
	defer d.mu.RUnlock()

	out := make([]HandlerInfo, 0, len(d.routes[eventType]))
	for _, h := range d.routes[eventType] {
		h.Handler = nil
		out = append(out, h)
	}
	return out
}

func (d *eventDispatcher) Close() error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return errors.New("dispatcher already closed")
	}
	d.closed = true
	d.mu.Unlock()

	d.inflight.Wait()
	d.info("Dispatcher closed")
	return nil
}

// run calls one handler, turning a panic into an error, then logs and
// reports the outcome
func (d *eventDispatcher) run(ctx context.Context, evt *event.Event, h HandlerInfo) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
		if err != nil {
			d.error("Handler failed",
				"event_type", evt.Type,
				"event_id", evt.ID,
				"claim_id", evt.ClaimID,
				"handler_name", h.Name,
				"error", err,
			)
		}
		if d.observer != nil {
			d.observer(evt.Type, h.Name, err)
		}
	}()
	return h.Handler(ctx, evt)
}

func (d *eventDispatcher) info(msg string, kv ...interface{}) {
	if d.logger != nil {
		d.logger.Info(msg, kv...)
	}
}

func (d *eventDispatcher) error(msg string, kv ...interface{}) {
	if d.logger != nil {
		d.logger.Error(msg, kv...)
	}
}
