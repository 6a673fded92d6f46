// Package notify implements the wake-up channel coordination primitives
// (send/recv, set_event/get_event) use to avoid polling the system
// database. The system database row is always the source of truth; the
// bus only shortens how long a waiter sleeps before re-checking it.
package notify

import "context"

// Bus publishes and subscribes to wake-up notifications keyed by an
// opaque channel name (by convention "{workflowID}/{topic}" for send/recv
// or "{workflowID}/{key}" for set_event/get_event).
type Bus interface {
	// Publish wakes the callers currently subscribed to channel. A caller
	// that subscribes afterwards, or has already unsubscribed, does not see it.
	Publish(ctx context.Context, channel string) error

	// Subscribe returns a channel that receives a value after a Publish is
	// observed while subscribed (several Publishes that arrive before the
	// value is read collapse into one), and a cancel func that must be called to
	// release resources. Callers must Subscribe before re-checking the
	// system database (subscribe-then-check) to avoid missing a Publish
	// that lands between the check and the subscribe.
	Subscribe(ctx context.Context, channel string) (<-chan struct{}, func(), error)
}
