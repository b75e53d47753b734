package events

import "context"

// Notifier receives every committed event. Implementations must not block the
// payment path: delivery is fire-and-forget from the engine's point of view,
// and ordering guarantees are carried by Event.Sequence, not by call order.
type Notifier interface {
	Notify(ctx context.Context, event Event)
}

// NoopNotifier discards events.
type NoopNotifier struct{}

func (NoopNotifier) Notify(context.Context, Event) {}

// MultiNotifier fans events out to several notifiers.
type MultiNotifier []Notifier

func (m MultiNotifier) Notify(ctx context.Context, event Event) {
	for _, n := range m {
		n.Notify(ctx, event)
	}
}
