package tcr_test

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/peterbourgon/tcr"
)

func TestSnapshotTotals(t *testing.T) {
	t.Parallel()

	t0 := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	est := 150 * time.Microsecond

	snap := tcr.Snapshot{
		"worker-2": {
			Finished: []tcr.CallRecord{
				{Caller: "worker-2", Func: tcr.Descriptor{Module: "billing", Function: "charge"}, CallTime: t0, Duration: 35 * time.Microsecond},
			},
			Unfinished: []tcr.UnfinishedCall{
				{Caller: "worker-2", Func: tcr.Descriptor{Module: "billing", Function: "retry"}, CallTime: t0, EstimatedDuration: &est},
			},
			Orphaned: 2,
		},
		"worker-1": {
			Finished: []tcr.CallRecord{
				{Caller: "worker-1", Func: tcr.Descriptor{Module: "billing", Function: "charge"}, CallTime: t0, Duration: 14 * time.Microsecond},
				{Caller: "worker-1", Func: tcr.Descriptor{Module: "billing", Function: "charge"}, CallTime: t0.Add(time.Millisecond), Duration: 12 * time.Microsecond},
			},
		},
	}

	AssertEqual(t, 3, snap.NumFinished())
	AssertEqual(t, 1, snap.NumUnfinished())
	AssertEqual(t, 2, snap.NumOrphaned())

	want := []tcr.CallerID{"worker-1", "worker-2"}
	if have := snap.Callers(); !cmp.Equal(want, have) {
		t.Fatal(cmp.Diff(want, have))
	}
}

func TestSnapshotJSON(t *testing.T) {
	t.Parallel()

	t0 := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	est := 245 * time.Microsecond

	snap := tcr.Snapshot{
		"worker-1": {
			Finished: []tcr.CallRecord{{
				Caller:     "worker-1",
				Func:       tcr.Descriptor{Module: "billing", Function: "charge"},
				Args:       []any{"acct-9", 25.0},
				CallTime:   t0,
				Value:      "ok",
				ReturnTime: t0.Add(35 * time.Microsecond),
				Duration:   35 * time.Microsecond,
			}},
			Unfinished: []tcr.UnfinishedCall{{
				Caller:            "worker-1",
				Func:              tcr.Descriptor{Module: "billing", Function: "retry"},
				Args:              []any{},
				CallTime:          t0.Add(time.Millisecond),
				EstimatedDuration: &est,
			}},
			Orphaned: 1,
		},
	}

	buf, err := json.Marshal(snap)
	AssertNoError(t, err)

	var have tcr.Snapshot
	AssertNoError(t, json.Unmarshal(buf, &have))

	if !cmp.Equal(snap, have) {
		t.Fatal(cmp.Diff(snap, have))
	}

	// Absent estimates must stay absent through JSON.
	snap["worker-1"].Unfinished[0].EstimatedDuration = nil
	buf, err = json.Marshal(snap)
	AssertNoError(t, err)
	if want, have := false, jsonHasKey(t, buf, "estimated_duration"); want != have {
		t.Fatalf("estimated_duration present: want %v, have %v", want, have)
	}
}

func jsonHasKey(t *testing.T, buf []byte, key string) bool {
	t.Helper()
	var m map[string]any
	AssertNoError(t, json.Unmarshal(buf, &m))
	var walk func(v any) bool
	walk = func(v any) bool {
		switch v := v.(type) {
		case map[string]any:
			for k, vv := range v {
				if k == key || walk(vv) {
					return true
				}
			}
		case []any:
			for _, vv := range v {
				if walk(vv) {
					return true
				}
			}
		}
		return false
	}
	return walk(m)
}
