// Package tcrsession implements the correlation session, the single consumer
// of a producer's event stream. A session subscribes to a producer, folds the
// raw events it receives into a correlation store, and surrenders the result
// as a snapshot exactly once, when stopped. Sessions also maintain live and
// recent views of the typed event stream, for tailing and diagnostics.
package tcrsession

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"sort"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/peterbourgon/tcr"
	"github.com/peterbourgon/tcr/internal/tcrdebug"
	"github.com/peterbourgon/tcr/internal/tcrpubsub"
	"github.com/peterbourgon/tcr/internal/tcrring"
	"github.com/peterbourgon/tcr/tcrstore"
)

// ErrSessionStopped is returned by Stop when the session has already stopped,
// either by a previous call to Stop, or by terminating itself after its
// producer went away with nothing recorded.
var ErrSessionStopped = errors.New("session already stopped")

// DefaultProbeTimeout bounds the clock probe made when starting a session
// against a remote target.
const DefaultProbeTimeout = 3 * time.Second

// DefaultRecentPerCaller is how many recent events are retained per caller.
const DefaultRecentPerCaller = 32

// Config collects the parameters for a session. Source and Pattern identify
// the event stream; everything else has a usable zero value, except Clock,
// which is required when the target is remote.
type Config struct {
	// Source produces the event stream. Required.
	Source tcr.Source

	// Pattern selects which functions the producer reports on.
	// Empty means all.
	Pattern tcr.Pattern

	// Target identifies the producer instance. The zero value means local.
	// Remote targets get a one-shot clock probe at start, and unfinished
	// call estimates are corrected by the measured skew.
	Target tcr.Target

	// Clock answers the clock probe for remote targets. Required when
	// Target is remote, ignored otherwise.
	Clock tcr.RemoteClock

	// EventBudget is passed to the producer, which stops the stream after
	// that many events. Zero means no limit.
	EventBudget int

	// TimeBudget is passed to the producer, which stops the stream after
	// that much time. Zero means no limit.
	TimeBudget time.Duration

	// ProbeTimeout bounds the clock probe. Default 3s.
	ProbeTimeout time.Duration

	// RecentPerCaller is how many recent events are retained per caller,
	// for diagnostics. Default 32.
	RecentPerCaller int

	// Now is the local clock. Default time.Now.
	Now func() time.Time

	// Logger for session diagnostics, in particular the per-caller warnings
	// emitted at stop for unfinished and orphaned entries. Default discard.
	Logger *log.Logger
}

func (cfg *Config) normalize() error {
	if cfg.Source == nil {
		return fmt.Errorf("source is required")
	}

	if cfg.Target.IsRemote() && cfg.Clock == nil {
		return fmt.Errorf("clock is required for remote target %s", cfg.Target)
	}

	if cfg.Pattern == "" {
		cfg.Pattern = tcr.PatternAll
	}

	if cfg.ProbeTimeout <= 0 {
		cfg.ProbeTimeout = DefaultProbeTimeout
	}

	if cfg.RecentPerCaller <= 0 {
		cfg.RecentPerCaller = DefaultRecentPerCaller
	}

	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	if cfg.Logger == nil {
		cfg.Logger = log.New(io.Discard, "", 0)
	}

	return nil
}

//
//
//

var sessionIDEntropy = ulid.DefaultEntropy()

// Session is a running correlation session. The actor goroutine started by
// [Start] is the only consumer of the subscription and the only owner of the
// correlation store; every other method communicates with it via channels or
// reads concurrency-safe side structures.
type Session struct {
	id   string
	cfg  Config
	skew time.Duration

	sub      tcr.Subscription
	store    *tcrstore.Store
	counters *tcrdebug.EventCounters
	broker   *tcrpubsub.Broker[tcr.Event]
	recents  *tcrring.RingBuffers[tcr.Event]

	stopc      chan chan tcr.Snapshot
	completedc chan struct{}
	donec      chan struct{}
}

// Start subscribes to the configured source and, on success, launches the
// session actor. A subscription failure is returned to the caller as-is, and
// no session exists. If the target is remote, Start probes the remote clock
// once to estimate skew; a probe failure unsubscribes and fails the start.
func Start(ctx context.Context, cfg Config) (*Session, error) {
	if err := cfg.normalize(); err != nil {
		return nil, err
	}

	sub, err := cfg.Source.Subscribe(ctx, cfg.Pattern, tcr.SubscribeConfig{
		EventBudget: cfg.EventBudget,
		TimeBudget:  cfg.TimeBudget,
		Target:      cfg.Target,
	})
	if err != nil {
		return nil, err
	}

	var skew time.Duration
	if cfg.Target.IsRemote() {
		skew, err = probeSkew(ctx, cfg)
		if err != nil {
			sub.Unsubscribe()
			return nil, fmt.Errorf("clock probe: %w", err)
		}
	}

	now := cfg.Now()

	s := &Session{
		id:   ulid.MustNew(ulid.Timestamp(now), sessionIDEntropy).String(),
		cfg:  cfg,
		skew: skew,

		sub:      sub,
		store:    tcrstore.New(),
		counters: &tcrdebug.EventCounters{},
		broker:   tcrpubsub.NewBroker[tcr.Event](),
		recents:  tcrring.NewRingBuffers[tcr.Event](cfg.RecentPerCaller),

		stopc:      make(chan chan tcr.Snapshot),
		completedc: make(chan struct{}),
		donec:      make(chan struct{}),
	}

	cfg.Logger.Printf("session %s: started, target %s, pattern %s, skew %s", s.id, cfg.Target, cfg.Pattern, skew)

	go s.run()

	return s, nil
}

// probeSkew estimates the offset between the local and remote clocks with a
// single midpoint measurement. t0 and t1 are local timestamps bracketing the
// remote read, so the remote timestamp is assumed to correspond to the local
// midpoint, and
//
//	skew = t1 - remote - (t1 - t0)/2
//
// is how far the remote clock reads ahead of (negative: behind) the local
// clock, under the assumption that the request and response legs took equal
// time.
func probeSkew(ctx context.Context, cfg Config) (time.Duration, error) {
	ctx, cancel := context.WithTimeout(ctx, cfg.ProbeTimeout)
	defer cancel()

	t0 := cfg.Now()
	remote, err := cfg.Clock.RemoteNow(ctx, cfg.Target)
	if err != nil {
		return 0, err
	}
	t1 := cfg.Now()

	return t1.Sub(remote) - t1.Sub(t0)/2, nil
}

// run is the session actor. It owns the store, consumes the subscription one
// event at a time, and exits on the first stop request, or immediately when
// the producer goes away with an empty store.
func (s *Session) run() {
	defer close(s.donec)

	var (
		events      = s.sub.Events()
		completedAt time.Time
	)

	for {
		select {
		case raw, ok := <-events:
			if !ok {
				// The producer closed the stream: it went down, or a
				// budget ran out. Record the completion timestamp and
				// keep serving stop, unless there is nothing to return.
				completedAt = s.cfg.Now()
				events = nil
				close(s.completedc)
				if s.store.Empty() {
					s.cfg.Logger.Printf("session %s: producer stream ended with nothing recorded, terminating", s.id)
					s.sub.Unsubscribe()
					return
				}
				s.cfg.Logger.Printf("session %s: producer stream ended, session remains stoppable", s.id)
				continue
			}
			s.observe(raw)

		case respc := <-s.stopc:
			s.drain(events)
			respc <- s.finalize(completedAt)
			return
		}
	}
}

// drain folds in events already delivered to the mailbox at the moment a
// stop is accepted, without blocking for new ones. A stop request ends the
// session after, not instead of, the events that preceded it.
func (s *Session) drain(events <-chan tcr.RawEvent) {
	if events == nil {
		return
	}
	for {
		select {
		case raw, ok := <-events:
			if !ok {
				return
			}
			s.observe(raw)
		default:
			return
		}
	}
}

// observe folds a single raw event into the session state.
func (s *Session) observe(raw tcr.RawEvent) {
	// Control signals from the producer are logged and otherwise ignored.
	// They are not subject to the subscription pattern and don't correspond
	// to any traced function, so they never reach the store.
	if raw.Kind == tcr.KindMeta {
		s.counters.Metas.Add(1)
		s.cfg.Logger.Printf("session %s: producer control signal: %v", s.id, raw.Payload)
		return
	}

	ev := tcr.Normalize(raw)

	switch ev := ev.(type) {
	case tcr.CallEvent:
		s.counters.Calls.Add(1)
		s.store.RecordCall(ev)

	case tcr.ReturnEvent:
		s.counters.Returns.Add(1)
		rec, ok := s.store.RecordReturn(ev)
		switch {
		case !ok:
			s.counters.Orphans.Add(1) // logged per caller at stop
		case ev.Arity >= 0 && ev.Arity != rec.Arity():
			s.counters.ArityMismatch.Add(1)
			s.cfg.Logger.Printf("session %s: caller %s: %s: return reports arity %d, call had %d", s.id, rec.Caller, rec.Func, ev.Arity, rec.Arity())
		}

	case tcr.SendEvent:
		s.counters.Sends.Add(1)

	case tcr.ReceiveEvent:
		s.counters.Receives.Add(1)

	case tcr.UnsupportedEvent:
		s.counters.Unsupported.Add(1)
		return // not published, not retained
	}

	s.broker.Publish(ev)

	if caller := ev.Caller(); caller != "" {
		s.recents.GetOrCreate(string(caller)).Add(ev)
	}
}

// finalize freezes and returns the session's result. Called exactly once,
// by the actor, on the first stop request.
func (s *Session) finalize(completedAt time.Time) tcr.Snapshot {
	if completedAt.IsZero() {
		completedAt = s.cfg.Now()
	}

	s.sub.Unsubscribe() // safe if the producer is already gone

	for _, t := range s.store.Troubled() {
		s.cfg.Logger.Printf("session %s: caller %s: %d unfinished call(s), %d orphaned return(s)", s.id, t.Caller, t.Unfinished, t.Orphaned)
	}

	snapshot := s.store.Snapshot(completedAt, s.skew)
	s.store.Reset()

	s.cfg.Logger.Printf("session %s: stopped, %d finished, %d unfinished, %d orphaned", s.id, snapshot.NumFinished(), snapshot.NumUnfinished(), snapshot.NumOrphaned())

	return snapshot
}

//
//
//

// ID returns the session's unique identifier, a ULID assigned at start.
func (s *Session) ID() string {
	return s.id
}

// Target returns the producer target the session is attached to.
func (s *Session) Target() tcr.Target {
	return s.cfg.Target
}

// Stop halts ingest and returns the session's snapshot. It blocks until the
// actor has unsubscribed from the producer, computed the snapshot, logged a
// warning per caller with unfinished or orphaned entries, and cleared its
// state. The snapshot is surrendered exactly once: a second Stop, or a Stop
// after the session terminated itself, returns ErrSessionStopped. Stop
// respects ctx cancellation while waiting.
func (s *Session) Stop(ctx context.Context) (tcr.Snapshot, error) {
	respc := make(chan tcr.Snapshot, 1)

	select {
	case s.stopc <- respc:
		select {
		case snapshot := <-respc:
			return snapshot, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	case <-s.donec:
		return nil, ErrSessionStopped
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Done is closed when the session's actor has exited, whether by Stop or by
// self-termination.
func (s *Session) Done() <-chan struct{} {
	return s.donec
}

// Completed is closed when the producer ends the event stream, whether by
// exhausting a budget or by going down. The session remains stoppable
// afterwards, as long as it recorded anything.
func (s *Session) Completed() <-chan struct{} {
	return s.completedc
}

// StreamStats describe a live event stream.
type StreamStats = tcrpubsub.Stats

// Stream sends typed events matching the filter to the provided channel, as
// they are observed. It blocks until ctx is canceled or the session stops,
// and returns delivery stats. Slow receivers drop events rather than slowing
// ingest.
func (s *Session) Stream(ctx context.Context, f tcr.Filter, ch chan<- tcr.Event) (StreamStats, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	go func() {
		select {
		case <-s.donec:
			cancel()
		case <-ctx.Done():
		}
	}()

	return s.broker.Subscribe(ctx, f.Allow, ch)
}

// StreamStats returns delivery stats for the stream identified by ch.
func (s *Session) StreamStats(ch chan<- tcr.Event) (StreamStats, error) {
	return s.broker.Stats(ch)
}

// Recent returns up to n of the most recent typed events observed for the
// given caller, newest first. Useful for diagnosing callers whose calls
// never returned.
func (s *Session) Recent(caller tcr.CallerID, n int) []tcr.Event {
	rb, ok := s.recents.Get(string(caller))
	if !ok {
		return nil
	}
	return rb.Recent(n)
}

// RecentCallers returns the callers with retained recent events, sorted.
func (s *Session) RecentCallers() []tcr.CallerID {
	keys := s.recents.Keys()
	sort.Strings(keys)
	ids := make([]tcr.CallerID, len(keys))
	for i, k := range keys {
		ids[i] = tcr.CallerID(k)
	}
	return ids
}

// Counters returns a copy of the session's ingest counters.
func (s *Session) Counters() tcrdebug.EventCounterValues {
	return s.counters.Values()
}
