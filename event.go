package tcr

import (
	"fmt"
	"time"
)

// Kind tags a raw event as delivered by a producer. [KindUnsupported] never
// appears on the wire; it's produced by [Normalize] for anything it doesn't
// recognize.
type Kind string

const (
	KindCall        Kind = "call"
	KindReturn      Kind = "return"
	KindSend        Kind = "send"
	KindReceive     Kind = "receive"
	KindMeta        Kind = "meta"
	KindUnsupported Kind = "unsupported"
)

// RawEvent is the envelope a producer emits for every observed event. The
// payload is owned by the producer and interpreted only by [Normalize]; the
// engine itself dispatches on the kind tag alone.
type RawEvent struct {
	Kind    Kind           `json:"kind"`
	Time    time.Time      `json:"time"`
	Payload map[string]any `json:"payload,omitempty"`
}

//
//
//

// Event is a normalized trace event, one of [CallEvent], [ReturnEvent],
// [SendEvent], [ReceiveEvent], or [UnsupportedEvent]. The set is closed:
// consumers dispatch with a type switch over exactly those five.
type Event interface {
	// Kind returns the corresponding raw event kind, or KindUnsupported.
	Kind() Kind

	// Caller returns the primary identity of the event: the caller for
	// calls and returns, the sender for sends, the receiver for receives,
	// and empty for unsupported events.
	Caller() CallerID

	// When returns the producer's wall-clock timestamp for the event.
	When() time.Time

	// String returns a one-line operator-readable rendering. It never
	// includes argument or message payloads, which can be large.
	String() string

	sealed()
}

//
//
//

// CallEvent records entry into a traced function.
type CallEvent struct {
	CallerID CallerID     `json:"caller"`
	Func     Descriptor   `json:"func"`
	Args     []any        `json:"args"`
	Parent   *Descriptor  `json:"parent,omitempty"`
	Stack    []Descriptor `json:"stack,omitempty"`
	Time     time.Time    `json:"time"`
}

func (ev CallEvent) Kind() Kind       { return KindCall }
func (ev CallEvent) Caller() CallerID { return ev.CallerID }
func (ev CallEvent) When() time.Time  { return ev.Time }
func (ev CallEvent) String() string {
	return fmt.Sprintf("call %s %s/%d", ev.CallerID, ev.Func, len(ev.Args))
}
func (CallEvent) sealed() {}

// ReturnEvent records a traced function returning to its caller. Arity is
// the argument count the producer reported for the returning function, or -1
// when it didn't report one. In a well-formed trace it matches the argument
// count of the call it closes.
type ReturnEvent struct {
	CallerID CallerID   `json:"caller"`
	Func     Descriptor `json:"func"`
	Arity    int        `json:"arity"`
	Value    any        `json:"value"`
	Time     time.Time  `json:"time"`
}

func (ev ReturnEvent) Kind() Kind       { return KindReturn }
func (ev ReturnEvent) Caller() CallerID { return ev.CallerID }
func (ev ReturnEvent) When() time.Time  { return ev.Time }
func (ev ReturnEvent) String() string {
	return fmt.Sprintf("return %s %s/%d", ev.CallerID, ev.Func, ev.Arity)
}
func (ReturnEvent) sealed() {}

// SendEvent records a message sent from one caller to another. Sends are
// observable and streamable but never correlated into call records.
type SendEvent struct {
	Sender   CallerID   `json:"sender"`
	Func     Descriptor `json:"func"`
	Receiver CallerID   `json:"receiver"`
	Message  any        `json:"message"`
	Time     time.Time  `json:"time"`
}

func (ev SendEvent) Kind() Kind       { return KindSend }
func (ev SendEvent) Caller() CallerID { return ev.Sender }
func (ev SendEvent) When() time.Time  { return ev.Time }
func (ev SendEvent) String() string {
	return fmt.Sprintf("send %s -> %s %s", ev.Sender, ev.Receiver, ev.Func)
}
func (SendEvent) sealed() {}

// ReceiveEvent records a message received by a caller. Like sends, receives
// are observable but never correlated.
type ReceiveEvent struct {
	Receiver CallerID   `json:"receiver"`
	Func     Descriptor `json:"func"`
	Message  any        `json:"message"`
	Time     time.Time  `json:"time"`
}

func (ev ReceiveEvent) Kind() Kind       { return KindReceive }
func (ev ReceiveEvent) Caller() CallerID { return ev.Receiver }
func (ev ReceiveEvent) When() time.Time  { return ev.Time }
func (ev ReceiveEvent) String() string {
	return fmt.Sprintf("recv %s %s", ev.Receiver, ev.Func)
}
func (ReceiveEvent) sealed() {}

// UnsupportedEvent wraps a raw event that [Normalize] couldn't interpret,
// with a reason. It carries the original envelope so nothing is lost, and is
// a no-op everywhere downstream.
type UnsupportedEvent struct {
	Raw    RawEvent `json:"raw"`
	Reason string   `json:"reason"`
}

func (ev UnsupportedEvent) Kind() Kind       { return KindUnsupported }
func (ev UnsupportedEvent) Caller() CallerID { return "" }
func (ev UnsupportedEvent) When() time.Time  { return ev.Raw.Time }
func (ev UnsupportedEvent) String() string {
	return fmt.Sprintf("unsupported %s (%s)", ev.Raw.Kind, ev.Reason)
}
func (UnsupportedEvent) sealed() {}
