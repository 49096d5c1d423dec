// Package tcrtest provides a controllable in-process producer and a static
// remote clock. Tests drive correlation scenarios with them
// deterministically, and the demo workload behind `tcr agent` synthesizes
// its traffic through the same producer.
package tcrtest

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/peterbourgon/tcr"
)

// DefaultSendBuffer is the per-subscription channel buffer.
const DefaultSendBuffer = 128

// ErrProducerDown is returned by Subscribe after Down.
var ErrProducerDown = errors.New("producer down")

// Producer is an in-process event source. Emit distributes a raw event to
// every live subscription whose pattern admits it. Delivery is non-blocking
// past the subscription buffer: a producer driven from a test must never
// deadlock the test, so overflow drops (and is countable via Drops).
//
// Pattern semantics, owned here as every producer owns its own: "*" or empty
// admits everything, "module.*" admits every function of a module, anything
// else is an exact "module.function" match. Meta events are control signals
// and always admitted.
type Producer struct {
	mtx    sync.Mutex
	subs   map[*Subscription]struct{}
	down   bool
	subErr error
}

// NewProducer returns a ready producer.
func NewProducer() *Producer {
	return &Producer{
		subs: map[*Subscription]struct{}{},
	}
}

// SetSubscribeError arms err to be returned by every following Subscribe
// call, until cleared with nil. It models a producer rejecting a pattern or
// config.
func (p *Producer) SetSubscribeError(err error) {
	p.mtx.Lock()
	defer p.mtx.Unlock()
	p.subErr = err
}

// Subscribe implements tcr.Source. EventBudget closes the stream after that
// many delivered events, TimeBudget after that much elapsed time, whichever
// comes first; zero means unbounded.
func (p *Producer) Subscribe(ctx context.Context, pattern tcr.Pattern, cfg tcr.SubscribeConfig) (tcr.Subscription, error) {
	p.mtx.Lock()
	defer p.mtx.Unlock()

	if p.subErr != nil {
		return nil, p.subErr
	}

	if p.down {
		return nil, ErrProducerDown
	}

	sub := &Subscription{
		producer: p,
		pattern:  pattern,
		budget:   cfg.EventBudget,
		c:        make(chan tcr.RawEvent, DefaultSendBuffer),
	}

	if cfg.TimeBudget > 0 {
		sub.timer = time.AfterFunc(cfg.TimeBudget, func() {
			p.remove(sub)
			sub.close()
		})
	}

	p.subs[sub] = struct{}{}

	return sub, nil
}

// Emit distributes the raw event to matching subscriptions.
func (p *Producer) Emit(raw tcr.RawEvent) {
	p.mtx.Lock()
	subs := make([]*Subscription, 0, len(p.subs))
	for sub := range p.subs {
		subs = append(subs, sub)
	}
	p.mtx.Unlock()

	for _, sub := range subs {
		sub.deliver(raw)
	}
}

// Down closes every live subscription and rejects future subscribes. It's
// the producer-process-down notification, and is idempotent.
func (p *Producer) Down() {
	p.mtx.Lock()
	subs := make([]*Subscription, 0, len(p.subs))
	for sub := range p.subs {
		subs = append(subs, sub)
	}
	p.subs = map[*Subscription]struct{}{}
	p.down = true
	p.mtx.Unlock()

	for _, sub := range subs {
		sub.close()
	}
}

// Subscribers returns the count of live subscriptions.
func (p *Producer) Subscribers() int {
	p.mtx.Lock()
	defer p.mtx.Unlock()
	return len(p.subs)
}

func (p *Producer) remove(sub *Subscription) {
	p.mtx.Lock()
	defer p.mtx.Unlock()
	delete(p.subs, sub)
}

//
//
//

// Subscription is one live stream out of a Producer.
type Subscription struct {
	producer *Producer
	pattern  tcr.Pattern
	timer    *time.Timer

	mtx       sync.Mutex
	budget    int // delivery cap when positive, 0 = unbounded
	delivered int
	drops     int
	closed    bool

	c chan tcr.RawEvent
}

var _ tcr.Subscription = (*Subscription)(nil)

// Events implements tcr.Subscription.
func (s *Subscription) Events() <-chan tcr.RawEvent {
	return s.c
}

// Unsubscribe implements tcr.Subscription. Idempotent, safe after Down.
func (s *Subscription) Unsubscribe() {
	s.producer.remove(s)
	s.close()
}

// Drops returns the count of events dropped on subscription buffer overflow.
func (s *Subscription) Drops() int {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	return s.drops
}

func (s *Subscription) deliver(raw tcr.RawEvent) {
	if !s.match(raw) {
		return
	}

	s.mtx.Lock()
	defer s.mtx.Unlock()

	if s.closed {
		return
	}

	select {
	case s.c <- raw:
		s.delivered++
	default:
		s.drops++
		return
	}

	if s.budget > 0 && s.delivered >= s.budget {
		s.closeLocked()
	}
}

func (s *Subscription) close() {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	s.closeLocked()
}

func (s *Subscription) closeLocked() {
	if s.closed {
		return
	}
	s.closed = true
	if s.timer != nil {
		s.timer.Stop()
	}
	close(s.c)
}

func (s *Subscription) match(raw tcr.RawEvent) bool {
	if raw.Kind == tcr.KindMeta {
		return true
	}

	pattern := string(s.pattern)
	switch {
	case pattern == "" || pattern == string(tcr.PatternAll):
		return true
	case strings.HasSuffix(pattern, ".*"):
		d, ok := eventDescriptor(raw)
		return ok && d.Module == strings.TrimSuffix(pattern, ".*")
	default:
		d, ok := eventDescriptor(raw)
		return ok && d.String() == pattern
	}
}

func eventDescriptor(raw tcr.RawEvent) (tcr.Descriptor, bool) {
	switch ev := tcr.Normalize(raw).(type) {
	case tcr.CallEvent:
		return ev.Func, true
	case tcr.ReturnEvent:
		return ev.Func, true
	case tcr.SendEvent:
		return ev.Func, !ev.Func.IsZero()
	case tcr.ReceiveEvent:
		return ev.Func, !ev.Func.IsZero()
	default:
		return tcr.Descriptor{}, false
	}
}

//
//
//

// NewCallerID returns a fresh caller token.
func NewCallerID() tcr.CallerID {
	return tcr.CallerID(uuid.NewString())
}

// EmitCall emits a call raw event stamped with the current time.
func (p *Producer) EmitCall(caller tcr.CallerID, fn tcr.Descriptor, args ...any) {
	p.Emit(tcr.RawEvent{
		Kind: tcr.KindCall,
		Time: time.Now().UTC(),
		Payload: map[string]any{
			"caller":   string(caller),
			"module":   fn.Module,
			"function": fn.Function,
			"args":     args,
		},
	})
}

// EmitReturn emits a return raw event stamped with the current time.
func (p *Producer) EmitReturn(caller tcr.CallerID, fn tcr.Descriptor, arity int, value any) {
	p.Emit(tcr.RawEvent{
		Kind: tcr.KindReturn,
		Time: time.Now().UTC(),
		Payload: map[string]any{
			"caller":   string(caller),
			"module":   fn.Module,
			"function": fn.Function,
			"arity":    arity,
			"value":    value,
		},
	})
}

// EmitSend emits a send raw event stamped with the current time.
func (p *Producer) EmitSend(sender, receiver tcr.CallerID, fn tcr.Descriptor, message any) {
	p.Emit(tcr.RawEvent{
		Kind: tcr.KindSend,
		Time: time.Now().UTC(),
		Payload: map[string]any{
			"sender":   string(sender),
			"receiver": string(receiver),
			"module":   fn.Module,
			"function": fn.Function,
			"message":  message,
		},
	})
}

// EmitReceive emits a receive raw event stamped with the current time.
func (p *Producer) EmitReceive(receiver tcr.CallerID, fn tcr.Descriptor, message any) {
	p.Emit(tcr.RawEvent{
		Kind: tcr.KindReceive,
		Time: time.Now().UTC(),
		Payload: map[string]any{
			"receiver": string(receiver),
			"module":   fn.Module,
			"function": fn.Function,
			"message":  message,
		},
	})
}

// EmitMeta emits a meta control event stamped with the current time.
func (p *Producer) EmitMeta(reason string) {
	p.Emit(tcr.RawEvent{
		Kind: tcr.KindMeta,
		Time: time.Now().UTC(),
		Payload: map[string]any{
			"reason": reason,
		},
	})
}
