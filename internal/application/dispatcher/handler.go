package dispatcher

import (
	"context"

	"github.com/garyjia/overturn/internal/domain/event"
)

// Handler reacts to one event
type Handler func(ctx context.Context, evt *event.Event) error

// HandlerInfo is a registration. ListHandlers returns it with Handler nil.
type HandlerInfo struct {
	Name        string
	EventType   event.Type
	Description string
	Handler     Handler
}

// Observer receives the outcome of every handler run; err is nil on success
type Observer func(eventType event.Type, handlerName string, err error)
