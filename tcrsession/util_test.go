package tcrsession_test

import (
	"sync"
	"testing"
	"time"

	"github.com/peterbourgon/tcr"
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

//
//
//

var testBaseTime = time.Date(2025, 4, 1, 10, 30, 0, 0, time.UTC)

func at(d time.Duration) time.Time {
	return testBaseTime.Add(d)
}

// constantNow returns a clock frozen at the given time.
func constantNow(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

// sequenceNow returns a clock yielding the given times in order, repeating
// the last one forever.
func sequenceNow(times ...time.Time) func() time.Time {
	var (
		mtx sync.Mutex
		idx int
	)
	return func() time.Time {
		mtx.Lock()
		defer mtx.Unlock()
		t := times[idx]
		if idx < len(times)-1 {
			idx++
		}
		return t
	}
}

//
//
//

func rawCall(caller tcr.CallerID, fn string, ts time.Time, args ...any) tcr.RawEvent {
	d := tcr.ParseDescriptor(fn)
	payload := map[string]any{
		"caller":   string(caller),
		"module":   d.Module,
		"function": d.Function,
	}
	if len(args) > 0 {
		payload["args"] = args
	}
	return tcr.RawEvent{Kind: tcr.KindCall, Time: ts, Payload: payload}
}

func rawReturn(caller tcr.CallerID, fn string, ts time.Time, value any) tcr.RawEvent {
	d := tcr.ParseDescriptor(fn)
	return tcr.RawEvent{Kind: tcr.KindReturn, Time: ts, Payload: map[string]any{
		"caller":   string(caller),
		"module":   d.Module,
		"function": d.Function,
		"value":    value,
	}}
}

func rawReturnArity(caller tcr.CallerID, fn string, ts time.Time, arity int, value any) tcr.RawEvent {
	raw := rawReturn(caller, fn, ts, value)
	raw.Payload["arity"] = arity
	return raw
}
