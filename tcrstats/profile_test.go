package tcrstats_test

import (
	"testing"
	"time"

	"github.com/peterbourgon/tcr"
	"github.com/peterbourgon/tcr/tcrstats"
)

func TestProfile(t *testing.T) {
	t.Parallel()

	parent := tcr.ParseDescriptor("app.outer")

	inner := record("caller-a", "app.inner", nil, 10*time.Microsecond, 25*time.Microsecond)
	inner.Parent = &parent

	groups := tcrstats.GroupBySignature(snapshotOf(
		record("caller-a", "app.outer", nil, 0, 100*time.Microsecond),
		inner,
		record("caller-b", "app.inner", nil, 50*time.Microsecond, 35*time.Microsecond),
	))

	prof := tcrstats.Profile(groups)
	AssertNoError(t, prof.CheckValid())

	AssertEqual(t, "calltime", prof.SampleType[0].Type)
	AssertEqual(t, "nanoseconds", prof.SampleType[0].Unit)
	AssertEqual(t, "samples", prof.SampleType[1].Type)
	AssertEqual(t, "count", prof.SampleType[1].Unit)

	AssertEqual(t, 3, len(prof.Sample))
	AssertEqual(t, 2, len(prof.Function)) // app.inner and app.outer, deduplicated

	for _, sample := range prof.Sample {
		AssertEqual(t, 2, len(sample.Value))
		AssertEqual(t, int64(1), sample.Value[1])
		if sample.Value[0] <= 0 {
			t.Fatalf("sample has non-positive call time %d", sample.Value[0])
		}
	}

	// Signatures iterate sorted, so samples for app.inner come first. The
	// one with a recorded parent has a two-frame stack, leaf first.
	withParent := prof.Sample[0]
	AssertEqual(t, 2, len(withParent.Location))
	AssertEqual(t, "app.inner", withParent.Location[0].Line[0].Function.Name)
	AssertEqual(t, "app.outer", withParent.Location[1].Line[0].Function.Name)

	AssertEqual(t, int64(25000), withParent.Value[0])

	// Batch timing covers the earliest call through the latest return.
	AssertEqual(t, statsBaseTime.UnixNano(), prof.TimeNanos)
	AssertEqual(t, int64(100000), prof.DurationNanos)
}

func TestProfileEmpty(t *testing.T) {
	t.Parallel()

	prof := tcrstats.Profile(tcrstats.Groups{})
	AssertNoError(t, prof.CheckValid())
	AssertEqual(t, 0, len(prof.Sample))
	AssertEqual(t, int64(0), prof.TimeNanos)
}
