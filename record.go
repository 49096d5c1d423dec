package tcr

import (
	"sort"
	"time"
)

// CallRecord is the unit of observable output: one completed call, produced
// by merging a return event into the matching call event. Duration is the
// difference of the two producer timestamps, truncated to microsecond
// resolution, and non-negative by construction once matched.
type CallRecord struct {
	Caller     CallerID      `json:"caller"`
	Func       Descriptor    `json:"func"`
	Args       []any         `json:"args"`
	Parent     *Descriptor   `json:"parent,omitempty"`
	Stack      []Descriptor  `json:"stack,omitempty"`
	CallTime   time.Time     `json:"call_time"`
	Value      any           `json:"value"`
	ReturnTime time.Time     `json:"return_time"`
	Duration   time.Duration `json:"duration"`
}

// Arity returns the argument count of the call.
func (r CallRecord) Arity() int {
	return len(r.Args)
}

// UnfinishedCall is a call event with no matching return by session stop
// time. EstimatedDuration is nil until the session has a completion
// timestamp; once present it's computed against that timestamp, adjusted for
// clock skew when the producer is remote, and floored at zero.
type UnfinishedCall struct {
	Caller            CallerID       `json:"caller"`
	Func              Descriptor     `json:"func"`
	Args              []any          `json:"args"`
	Parent            *Descriptor    `json:"parent,omitempty"`
	Stack             []Descriptor   `json:"stack,omitempty"`
	CallTime          time.Time      `json:"call_time"`
	EstimatedDuration *time.Duration `json:"estimated_duration,omitempty"`
}

// Arity returns the argument count of the call.
func (u UnfinishedCall) Arity() int {
	return len(u.Args)
}

//
//
//

// CallerRecords is everything a session accumulated for one caller. Finished
// records are in chronological order of call time. Unfinished calls are the
// still-open stack, most recent first. Orphaned counts the return events
// dropped for this caller because no call was open when they arrived.
type CallerRecords struct {
	Finished   []CallRecord     `json:"finished,omitempty"`
	Unfinished []UnfinishedCall `json:"unfinished,omitempty"`
	Orphaned   int              `json:"orphaned,omitempty"`
}

// Snapshot is the frozen result of a stopped session, keyed by caller.
type Snapshot map[CallerID]CallerRecords

// Callers returns every caller in the snapshot, sorted, for stable
// iteration.
func (s Snapshot) Callers() []CallerID {
	ids := make([]CallerID, 0, len(s))
	for id := range s {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// NumFinished returns the total count of finished records across callers.
func (s Snapshot) NumFinished() (n int) {
	for _, cr := range s {
		n += len(cr.Finished)
	}
	return n
}

// NumUnfinished returns the total count of unfinished calls across callers.
func (s Snapshot) NumUnfinished() (n int) {
	for _, cr := range s {
		n += len(cr.Unfinished)
	}
	return n
}

// NumOrphaned returns the total count of dropped returns across callers.
func (s Snapshot) NumOrphaned() (n int) {
	for _, cr := range s {
		n += cr.Orphaned
	}
	return n
}
