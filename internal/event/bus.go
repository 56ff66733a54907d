package event

import (
	"fmt"
	"runtime/debug"
	"slices"
	"sync"

	"github.com/google/uuid"

	"github.com/Iron-Ham/spotbridge/internal/logging"
)

// Handler is a function that handles an event.
type Handler func(Event)

// anyType subscribes to every event type.
const anyType = "*"

type subscription struct {
	id        string
	eventType string
	handler   Handler
}

// Bus is a synchronous pub-sub event bus. The engine publishes run
// lifecycle events on it and the CLI subscribes to render them. Handlers
// run on the publishing goroutine.
type Bus struct {
	mu     sync.RWMutex
	subs   []subscription
	logger *logging.Logger
}

// NewBus creates a new event bus.
func NewBus() *Bus {
	return &Bus{logger: logging.NopLogger()}
}

// WithLogger sets the logger that records recovered handler panics.
func (b *Bus) WithLogger(logger *logging.Logger) *Bus {
	if logger != nil {
		b.logger = logger
	}
	return b
}

// Subscribe registers a handler for one event type and returns the
// subscription ID.
func (b *Bus) Subscribe(eventType string, handler Handler) string {
	sub := subscription{id: uuid.NewString(), eventType: eventType, handler: handler}

	b.mu.Lock()
	b.subs = append(b.subs, sub)
	b.mu.Unlock()
	return sub.id
}

// SubscribeAll registers a handler for every event type.
func (b *Bus) SubscribeAll(handler Handler) string {
	return b.Subscribe(anyType, handler)
}

// Unsubscribe removes a subscription. It reports whether id was found.
func (b *Bus) Unsubscribe(id string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	i := slices.IndexFunc(b.subs, func(s subscription) bool { return s.id == id })
	if i < 0 {
		return false
	}
	b.subs = slices.Delete(b.subs, i, i+1)
	return true
}

// Publish delivers event to the handlers of its type, then to the
// handlers of every type, each in subscription order. A panicking handler
// is logged and the remaining handlers still run.
func (b *Bus) Publish(event Event) {
	b.mu.RLock()
	var typed, all []Handler
	for _, s := range b.subs {
		switch s.eventType {
		case event.EventType():
			typed = append(typed, s.handler)
		case anyType:
			all = append(all, s.handler)
		}
	}
	b.mu.RUnlock()

	for _, h := range append(typed, all...) {
		b.deliver(h, event)
	}
}

func (b *Bus) deliver(h Handler, event Event) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("event handler panicked",
				"event", event.EventType(),
				"panic", fmt.Sprint(r),
				"stack", string(debug.Stack()))
		}
	}()
	h(event)
}

// Len returns the number of subscriptions.
func (b *Bus) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
