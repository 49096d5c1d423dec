// Package tcrstats computes statistics over session snapshots. Everything
// here is a pure reduction of finished call records, grouped by function
// signature: no I/O, no clocks, and deterministic for a given snapshot.
package tcrstats

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/peterbourgon/tcr"
)

// Signature identifies a function as it appears in statistics: the module,
// the function name, and the arity it was called with. The same function
// called with different numbers of arguments yields different signatures.
type Signature struct {
	Module   string `json:"module"`
	Function string `json:"function"`
	Arity    int    `json:"arity"`
}

func (sig Signature) String() string {
	return fmt.Sprintf("%s.%s/%d", sig.Module, sig.Function, sig.Arity)
}

// Groups are finished call records grouped by signature.
type Groups map[Signature][]tcr.CallRecord

// Signatures returns the signatures in the group set, sorted by module,
// function, and arity.
func (g Groups) Signatures() []Signature {
	sigs := make([]Signature, 0, len(g))
	for sig := range g {
		sigs = append(sigs, sig)
	}
	sort.Slice(sigs, func(i, j int) bool {
		a, b := sigs[i], sigs[j]
		if a.Module != b.Module {
			return a.Module < b.Module
		}
		if a.Function != b.Function {
			return a.Function < b.Function
		}
		return a.Arity < b.Arity
	})
	return sigs
}

// GroupBySignature collects every finished call record in the snapshot,
// across all callers, into groups keyed by signature. Unfinished and
// orphaned entries don't participate: statistics describe completed calls
// only. Callers are visited in sorted order, so each group's records, and
// everything derived from them, come out the same for a given snapshot.
func GroupBySignature(snapshot tcr.Snapshot) Groups {
	groups := Groups{}
	for _, caller := range snapshot.Callers() {
		for _, rec := range snapshot[caller].Finished {
			sig := Signature{
				Module:   rec.Func.Module,
				Function: rec.Func.Function,
				Arity:    rec.Arity(),
			}
			groups[sig] = append(groups[sig], rec)
		}
	}
	return groups
}

//
//
//

// Counts returns the number of calls per signature.
func Counts(groups Groups) map[Signature]int {
	counts := make(map[Signature]int, len(groups))
	for sig, recs := range groups {
		counts[sig] = len(recs)
	}
	return counts
}

// TotalDurations returns the summed duration of all calls per signature.
func TotalDurations(groups Groups) map[Signature]time.Duration {
	totals := make(map[Signature]time.Duration, len(groups))
	for sig, recs := range groups {
		var total time.Duration
		for _, rec := range recs {
			total += rec.Duration
		}
		totals[sig] = total
	}
	return totals
}

// AverageDurations returns the mean duration per signature. Groups are
// never empty, so the division is always defined.
func AverageDurations(groups Groups) map[Signature]time.Duration {
	averages := make(map[Signature]time.Duration, len(groups))
	for sig, recs := range groups {
		var total time.Duration
		for _, rec := range recs {
			total += rec.Duration
		}
		averages[sig] = total / time.Duration(len(recs))
	}
	return averages
}

// MinDurationCalls returns the fastest call per signature.
func MinDurationCalls(groups Groups) map[Signature]tcr.CallRecord {
	return pick(groups, func(best, candidate tcr.CallRecord) bool {
		return candidate.Duration < best.Duration
	})
}

// MaxDurationCalls returns the slowest call per signature.
func MaxDurationCalls(groups Groups) map[Signature]tcr.CallRecord {
	return pick(groups, func(best, candidate tcr.CallRecord) bool {
		return candidate.Duration > best.Duration
	})
}

// MaxArgs returns, per signature, the call whose argument list is largest
// under the given size function.
func MaxArgs(groups Groups, size SizeFunc) map[Signature]tcr.CallRecord {
	return pick(groups, func(best, candidate tcr.CallRecord) bool {
		return size(candidate.Args) > size(best.Args)
	})
}

// MaxValues returns, per signature, the call whose return value is largest
// under the given size function.
func MaxValues(groups Groups, size SizeFunc) map[Signature]tcr.CallRecord {
	return pick(groups, func(best, candidate tcr.CallRecord) bool {
		return size(candidate.Value) > size(best.Value)
	})
}

// pick reduces each group to the single record preferred by better. Ties
// keep the earlier record, so results are stable for a given snapshot.
func pick(groups Groups, better func(best, candidate tcr.CallRecord) bool) map[Signature]tcr.CallRecord {
	picked := make(map[Signature]tcr.CallRecord, len(groups))
	for sig, recs := range groups {
		best := recs[0]
		for _, rec := range recs[1:] {
			if better(best, rec) {
				best = rec
			}
		}
		picked[sig] = best
	}
	return picked
}

//
//
//

// SizeFunc measures a decoded payload value. Producers serialize terms in
// their own way, so the appropriate notion of size is injected rather than
// owned here.
type SizeFunc func(v any) int

// JSONSize measures a value by the length of its JSON encoding. Values that
// don't encode measure zero.
func JSONSize(v any) int {
	buf, err := json.Marshal(v)
	if err != nil {
		return 0
	}
	return len(buf)
}

//
//
//

// Summary holds the per-signature aggregates computed by Summarize.
type Summary struct {
	Count   int           `json:"count"`
	Min     time.Duration `json:"min"`
	Max     time.Duration `json:"max"`
	Total   time.Duration `json:"total"`
	Average time.Duration `json:"average"`
}

// Summarize computes count, min, max, total, and average duration per
// signature in a single pass.
func Summarize(groups Groups) map[Signature]Summary {
	summaries := make(map[Signature]Summary, len(groups))
	for sig, recs := range groups {
		s := Summary{
			Count: len(recs),
			Min:   recs[0].Duration,
			Max:   recs[0].Duration,
		}
		for _, rec := range recs {
			if rec.Duration < s.Min {
				s.Min = rec.Duration
			}
			if rec.Duration > s.Max {
				s.Max = rec.Duration
			}
			s.Total += rec.Duration
		}
		s.Average = s.Total / time.Duration(s.Count)
		summaries[sig] = s
	}
	return summaries
}
