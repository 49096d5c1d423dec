package tcrdebug

import (
	"fmt"
	"sync/atomic"
)

// EventCounters track what a session's ingest loop did with the events it
// consumed. One instance per session, owned by the session, incremented only
// from its loop, readable from anywhere.
type EventCounters struct {
	Calls         atomic.Uint64
	Returns       atomic.Uint64
	Sends         atomic.Uint64
	Receives      atomic.Uint64
	Metas         atomic.Uint64
	Unsupported   atomic.Uint64
	Orphans       atomic.Uint64
	ArityMismatch atomic.Uint64
}

// EventCounterValues is a point-in-time copy of the counters.
type EventCounterValues struct {
	Calls         uint64 `json:"calls"`
	Returns       uint64 `json:"returns"`
	Sends         uint64 `json:"sends"`
	Receives      uint64 `json:"receives"`
	Metas         uint64 `json:"metas"`
	Unsupported   uint64 `json:"unsupported"`
	Orphans       uint64 `json:"orphans"`
	ArityMismatch uint64 `json:"arity_mismatch"`
}

// Values returns the current values of the counters.
func (ec *EventCounters) Values() EventCounterValues {
	return EventCounterValues{
		Calls:         ec.Calls.Load(),
		Returns:       ec.Returns.Load(),
		Sends:         ec.Sends.Load(),
		Receives:      ec.Receives.Load(),
		Metas:         ec.Metas.Load(),
		Unsupported:   ec.Unsupported.Load(),
		Orphans:       ec.Orphans.Load(),
		ArityMismatch: ec.ArityMismatch.Load(),
	}
}

// Total returns the count of raw events consumed.
func (v EventCounterValues) Total() uint64 {
	return v.Calls + v.Returns + v.Sends + v.Receives + v.Metas + v.Unsupported
}

func (v EventCounterValues) String() string {
	return fmt.Sprintf("calls=%d returns=%d sends=%d receives=%d metas=%d unsupported=%d orphans=%d arity_mismatch=%d",
		v.Calls, v.Returns, v.Sends, v.Receives, v.Metas, v.Unsupported, v.Orphans, v.ArityMismatch)
}
