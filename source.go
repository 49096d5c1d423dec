package tcr

import (
	"context"
	"time"
)

// SubscribeConfig bounds a producer subscription. Budgets are enforced by
// the producer, not the engine: EventBudget is the number of events after
// which the producer stops delivering, TimeBudget the elapsed stream time,
// and zero means the producer's own default. Target declares the producer's
// locality, which decides whether a session probes for clock skew.
type SubscribeConfig struct {
	EventBudget int           `json:"event_budget,omitempty"`
	TimeBudget  time.Duration `json:"time_budget,omitempty"`
	Target      Target        `json:"target,omitempty"`
}

// Source is a producer of raw trace events. Implementations are external to
// the engine: they own pattern semantics, event encoding, and budget
// enforcement. Subscribe returns an error verbatim when the producer rejects
// the pattern or config; the engine reports it without reinterpretation.
type Source interface {
	Subscribe(ctx context.Context, pattern Pattern, cfg SubscribeConfig) (Subscription, error)
}

// Subscription is one live event stream out of a producer. The events
// channel is single-consumer and is closed by the producer when its budget
// is exhausted or it goes down; that close is the producer-down
// notification.
type Subscription interface {
	// Events returns the channel delivering raw events in producer
	// emission order. Always the same channel for one subscription.
	Events() <-chan RawEvent

	// Unsubscribe releases the subscription. Idempotent, and safe to call
	// after the producer is already gone.
	Unsubscribe()
}

// RemoteClock reads the current wall-clock time of a remote producer. It's
// consulted exactly once per session, at start, and only when the session
// target is remote.
type RemoteClock interface {
	RemoteNow(ctx context.Context, target Target) (time.Time, error)
}
