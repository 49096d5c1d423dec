package tcrstats_test

import (
	"testing"
	"time"

	"github.com/peterbourgon/tcr"
	"github.com/peterbourgon/tcr/tcrstats"
)

func AssertEqual[X comparable](t *testing.T, want, have X) {
	t.Helper()
	if want != have {
		t.Fatalf("want %v, have %v", want, have)
	}
}

func AssertNoError(t *testing.T, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("error: %v", err)
	}
}

var statsBaseTime = time.Date(2025, 4, 1, 10, 30, 0, 0, time.UTC)

func record(caller tcr.CallerID, fn string, args []any, callAt time.Duration, duration time.Duration) tcr.CallRecord {
	return tcr.CallRecord{
		Caller:     caller,
		Func:       tcr.ParseDescriptor(fn),
		Args:       args,
		CallTime:   statsBaseTime.Add(callAt),
		ReturnTime: statsBaseTime.Add(callAt + duration),
		Duration:   duration,
	}
}

func snapshotOf(recs ...tcr.CallRecord) tcr.Snapshot {
	snapshot := tcr.Snapshot{}
	for _, rec := range recs {
		cr := snapshot[rec.Caller]
		cr.Finished = append(cr.Finished, rec)
		snapshot[rec.Caller] = cr
	}
	return snapshot
}

//
//
//

func TestGroupBySignature(t *testing.T) {
	t.Parallel()

	// The same function joins one group across callers, but a different
	// arity is a different signature.
	snapshot := snapshotOf(
		record("caller-a", "app.f", []any{"x"}, 0, 10*time.Microsecond),
		record("caller-b", "app.f", []any{"y"}, 5*time.Microsecond, 20*time.Microsecond),
		record("caller-a", "app.f", []any{"x", "y"}, 10*time.Microsecond, 30*time.Microsecond),
		record("caller-a", "app.g", nil, 15*time.Microsecond, 40*time.Microsecond),
	)

	groups := tcrstats.GroupBySignature(snapshot)

	AssertEqual(t, 3, len(groups))
	AssertEqual(t, 2, len(groups[tcrstats.Signature{Module: "app", Function: "f", Arity: 1}]))
	AssertEqual(t, 1, len(groups[tcrstats.Signature{Module: "app", Function: "f", Arity: 2}]))
	AssertEqual(t, 1, len(groups[tcrstats.Signature{Module: "app", Function: "g", Arity: 0}]))

	sigs := groups.Signatures()
	AssertEqual(t, "app.f/1", sigs[0].String())
	AssertEqual(t, "app.f/2", sigs[1].String())
	AssertEqual(t, "app.g/0", sigs[2].String())
}

func TestGroupIgnoresUnfinished(t *testing.T) {
	t.Parallel()

	snapshot := tcr.Snapshot{
		"caller-a": {
			Finished: []tcr.CallRecord{
				record("caller-a", "app.f", nil, 0, 10*time.Microsecond),
			},
			Unfinished: []tcr.UnfinishedCall{
				{Caller: "caller-a", Func: tcr.ParseDescriptor("app.f"), CallTime: statsBaseTime},
			},
			Orphaned: 3,
		},
	}

	groups := tcrstats.GroupBySignature(snapshot)
	AssertEqual(t, 1, len(groups))
	AssertEqual(t, 1, len(groups[tcrstats.Signature{Module: "app", Function: "f", Arity: 0}]))
}

func TestEmptySnapshot(t *testing.T) {
	t.Parallel()

	groups := tcrstats.GroupBySignature(tcr.Snapshot{})

	AssertEqual(t, 0, len(groups))
	AssertEqual(t, 0, len(tcrstats.Counts(groups)))
	AssertEqual(t, 0, len(tcrstats.TotalDurations(groups)))
	AssertEqual(t, 0, len(tcrstats.AverageDurations(groups)))
	AssertEqual(t, 0, len(tcrstats.Summarize(groups)))
}

func TestDurationReductions(t *testing.T) {
	t.Parallel()

	// Four calls taking 35, 14, 12, and 12us: 4 calls, 73us in total,
	// 18.25us on average.
	sig := tcrstats.Signature{Module: "app", Function: "f", Arity: 0}
	groups := tcrstats.GroupBySignature(snapshotOf(
		record("caller-a", "app.f", nil, 0, 35*time.Microsecond),
		record("caller-a", "app.f", nil, 40*time.Microsecond, 14*time.Microsecond),
		record("caller-b", "app.f", nil, 50*time.Microsecond, 12*time.Microsecond),
		record("caller-b", "app.f", nil, 70*time.Microsecond, 12*time.Microsecond),
	))

	AssertEqual(t, 4, tcrstats.Counts(groups)[sig])
	AssertEqual(t, 73*time.Microsecond, tcrstats.TotalDurations(groups)[sig])
	AssertEqual(t, 18250*time.Nanosecond, tcrstats.AverageDurations(groups)[sig])

	AssertEqual(t, 12*time.Microsecond, tcrstats.MinDurationCalls(groups)[sig].Duration)
	AssertEqual(t, 35*time.Microsecond, tcrstats.MaxDurationCalls(groups)[sig].Duration)

	summary := tcrstats.Summarize(groups)[sig]
	AssertEqual(t, 4, summary.Count)
	AssertEqual(t, 12*time.Microsecond, summary.Min)
	AssertEqual(t, 35*time.Microsecond, summary.Max)
	AssertEqual(t, 73*time.Microsecond, summary.Total)
	AssertEqual(t, 18250*time.Nanosecond, summary.Average)
}

func TestMinMaxTiesKeepEarlier(t *testing.T) {
	t.Parallel()

	sig := tcrstats.Signature{Module: "app", Function: "f", Arity: 1}
	groups := tcrstats.GroupBySignature(snapshotOf(
		record("caller-a", "app.f", []any{"first"}, 0, 10*time.Microsecond),
		record("caller-a", "app.f", []any{"second"}, 20*time.Microsecond, 10*time.Microsecond),
	))

	min := tcrstats.MinDurationCalls(groups)[sig]
	AssertEqual(t, "first", min.Args[0].(string))

	max := tcrstats.MaxDurationCalls(groups)[sig]
	AssertEqual(t, "first", max.Args[0].(string))
}

func TestMaxArgsAndValues(t *testing.T) {
	t.Parallel()

	var (
		sig   = tcrstats.Signature{Module: "app", Function: "f", Arity: 1}
		small = record("caller-a", "app.f", []any{"x"}, 0, 10*time.Microsecond)
		big   = record("caller-a", "app.f", []any{"xxxxxxxxxxxxxxxx"}, 20*time.Microsecond, 10*time.Microsecond)
	)
	small.Value = map[string]any{"status": "ok", "rows": []any{"a", "b", "c"}}
	big.Value = "tiny"

	groups := tcrstats.GroupBySignature(snapshotOf(small, big))

	maxArgs := tcrstats.MaxArgs(groups, tcrstats.JSONSize)
	AssertEqual(t, "xxxxxxxxxxxxxxxx", maxArgs[sig].Args[0].(string))

	maxValues := tcrstats.MaxValues(groups, tcrstats.JSONSize)
	AssertEqual(t, "ok", maxValues[sig].Value.(map[string]any)["status"].(string))

	// An injected size function inverts the choice.
	shortest := tcrstats.MaxArgs(groups, func(v any) int { return -tcrstats.JSONSize(v) })
	AssertEqual(t, "x", shortest[sig].Args[0].(string))
}

func TestJSONSize(t *testing.T) {
	t.Parallel()

	AssertEqual(t, 4, tcrstats.JSONSize(true))        // true
	AssertEqual(t, 5, tcrstats.JSONSize("abc"))       // "abc"
	AssertEqual(t, 5, tcrstats.JSONSize([]any{1, 2})) // [1,2]
	AssertEqual(t, 0, tcrstats.JSONSize(func() {}))   // unencodable
}
