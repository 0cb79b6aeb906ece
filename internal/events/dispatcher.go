package events

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Handler handles a published event.
type Handler func(context.Context, Event) error

type subscription struct {
	name    string
	handler Handler
}

// Dispatcher invokes subscribers synchronously, in subscription order.
// A subscriber failure is logged and never prevents the remaining
// subscribers from running, nor does it surface to the publisher.
type Dispatcher struct {
	logger      *zap.Logger
	subscribers map[Type][]subscription
}

// NewDispatcher creates a dispatcher instance.
func NewDispatcher(logger *zap.Logger) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{
		logger:      logger,
		subscribers: make(map[Type][]subscription),
	}
}

// Subscribe registers a named handler for the given event type. All
// subscriptions happen during wiring, before the server accepts traffic,
// so no locking is needed on the subscriber table.
func (d *Dispatcher) Subscribe(eventType Type, name string, handler Handler) {
	d.subscribers[eventType] = append(d.subscribers[eventType], subscription{name: name, handler: handler})
}

// Publish synchronously invokes handlers for the given event in
// subscription order, isolating each failure.
func (d *Dispatcher) Publish(ctx context.Context, event Event) {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	for _, sub := range d.subscribers[event.Type] {
		d.invoke(ctx, sub, event)
	}
}

func (d *Dispatcher) invoke(ctx context.Context, sub subscription, event Event) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("event subscriber panicked",
				zap.String("subscriber", sub.name),
				zap.String("event_type", string(event.Type)),
				zap.String("registration_id", event.RegistrationID),
				zap.Any("panic", r))
		}
	}()

	if err := sub.handler(ctx, event); err != nil {
		d.logger.Error("event subscriber failed",
			zap.String("subscriber", sub.name),
			zap.String("event_type", string(event.Type)),
			zap.String("registration_id", event.RegistrationID),
			zap.Error(err))
	}
}
