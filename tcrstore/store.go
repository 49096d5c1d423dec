// Package tcrstore implements the correlation store: per-caller bookkeeping
// that pairs return events with open calls and accumulates the results for
// the lifetime of one tracing session.
package tcrstore

import (
	"sort"
	"time"

	"github.com/peterbourgon/tcr"
)

// Store owns the merge algorithm of the engine. Each caller gets an ordered
// stack of still-open calls and a sequence of finished records. A return
// always closes the most recently opened, still-open call of the same
// caller, regardless of function identity, so recursive and reentrant calls
// interleaved on one caller correlate innermost-first. A return arriving on
// an empty stack is dropped and counted, never an error.
//
// A store is not safe for concurrent use. It's owned by exactly one session
// actor and mutated only from that actor's loop, which serializes all
// access; see the session package for the concurrency model.
type Store struct {
	callers map[tcr.CallerID]*callerState
}

type callerState struct {
	finished []tcr.CallRecord // in return-arrival order
	open     []tcr.CallEvent  // LIFO stack, top at the end
	orphaned int              // returns dropped on an empty stack
}

// New returns an empty store.
func New() *Store {
	return &Store{
		callers: map[tcr.CallerID]*callerState{},
	}
}

// RecordCall pushes the call onto its caller's open stack, creating the
// caller's entry if absent. O(1), no failure mode.
func (s *Store) RecordCall(ev tcr.CallEvent) {
	cs := s.getOrCreate(ev.CallerID)
	cs.open = append(cs.open, ev)
}

// RecordReturn closes the most recent open call of the returning caller:
// pop, merge the return's value and timestamp, compute the duration at
// microsecond resolution, and append the finished record. It reports the
// merged record and true. If the caller has no open call the return is a
// protocol violation: it's dropped, the caller's orphan count increments,
// and RecordReturn reports false.
//
// The event's arity never influences matching. Callers that care about
// arity agreement can compare the event against the merged record.
func (s *Store) RecordReturn(ev tcr.ReturnEvent) (tcr.CallRecord, bool) {
	cs := s.getOrCreate(ev.CallerID)

	if len(cs.open) == 0 {
		cs.orphaned++
		return tcr.CallRecord{}, false
	}

	call := cs.open[len(cs.open)-1]
	cs.open = cs.open[:len(cs.open)-1]

	duration := ev.Time.Sub(call.Time).Truncate(time.Microsecond)
	if duration < 0 {
		duration = 0
	}

	rec := tcr.CallRecord{
		Caller:     call.CallerID,
		Func:       call.Func,
		Args:       call.Args,
		Parent:     call.Parent,
		Stack:      call.Stack,
		CallTime:   call.Time,
		Value:      ev.Value,
		ReturnTime: ev.Time,
		Duration:   duration,
	}

	cs.finished = append(cs.finished, rec)
	return rec, true
}

// Snapshot returns a copy of the current state, keyed by caller. Finished
// records come back in chronological (non-decreasing call time) order.
// Unfinished calls come back most recent first. When completedAt is
// non-zero, every unfinished call carries an estimated duration of
// max(0, (completedAt - skew) - call time); when zero, no estimate. Snapshot
// doesn't mutate the store: calling it twice without intervening events
// yields identical results.
func (s *Store) Snapshot(completedAt time.Time, skew time.Duration) tcr.Snapshot {
	snap := make(tcr.Snapshot, len(s.callers))

	for id, cs := range s.callers {
		cr := tcr.CallerRecords{
			Orphaned: cs.orphaned,
		}

		if len(cs.finished) > 0 {
			cr.Finished = make([]tcr.CallRecord, len(cs.finished))
			copy(cr.Finished, cs.finished)
			sort.SliceStable(cr.Finished, func(i, j int) bool {
				return cr.Finished[i].CallTime.Before(cr.Finished[j].CallTime)
			})
		}

		if len(cs.open) > 0 {
			cr.Unfinished = make([]tcr.UnfinishedCall, 0, len(cs.open))
			for i := len(cs.open) - 1; i >= 0; i-- { // stack top first
				call := cs.open[i]
				uc := tcr.UnfinishedCall{
					Caller:   call.CallerID,
					Func:     call.Func,
					Args:     call.Args,
					Parent:   call.Parent,
					Stack:    call.Stack,
					CallTime: call.Time,
				}
				if !completedAt.IsZero() {
					est := completedAt.Add(-skew).Sub(call.Time).Truncate(time.Microsecond)
					if est < 0 {
						est = 0
					}
					uc.EstimatedDuration = &est
				}
				cr.Unfinished = append(cr.Unfinished, uc)
			}
		}

		snap[id] = cr
	}

	return snap
}

// Reset replaces all state with a fresh empty mapping.
func (s *Store) Reset() {
	s.callers = map[tcr.CallerID]*callerState{}
}

// Empty reports whether the store has nothing to return: no finished records
// and no open calls for any caller. Orphan counts alone don't count, those
// events were dropped.
func (s *Store) Empty() bool {
	for _, cs := range s.callers {
		if len(cs.finished) > 0 || len(cs.open) > 0 {
			return false
		}
	}
	return true
}

// Troubled returns the callers with open calls or dropped returns at this
// moment, sorted, with their counts. It's what a session reports when it
// stops with an incomplete trace.
func (s *Store) Troubled() []CallerTrouble {
	var res []CallerTrouble
	for id, cs := range s.callers {
		if len(cs.open) == 0 && cs.orphaned == 0 {
			continue
		}
		res = append(res, CallerTrouble{
			Caller:     id,
			Unfinished: len(cs.open),
			Orphaned:   cs.orphaned,
		})
	}
	sort.Slice(res, func(i, j int) bool { return res[i].Caller < res[j].Caller })
	return res
}

// CallerTrouble describes one caller's incomplete correlation state.
type CallerTrouble struct {
	Caller     tcr.CallerID
	Unfinished int
	Orphaned   int
}

func (s *Store) getOrCreate(id tcr.CallerID) *callerState {
	cs, ok := s.callers[id]
	if !ok {
		cs = &callerState{}
		s.callers[id] = cs
	}
	return cs
}
