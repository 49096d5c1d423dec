package tcrstats

import (
	"time"

	"github.com/google/pprof/profile"
	"github.com/peterbourgon/tcr"
)

// Profile renders the groups as a pprof profile, one sample per finished
// call, with values {call time in nanoseconds, 1 count}. Each sample's
// location stack is leaf first: the called function, then the ancestor
// frames the producer reported, innermost first, or just the recorded
// parent when no full stack was reported. The result can be written with
// its Write method and inspected with the standard pprof tooling.
func Profile(groups Groups) *profile.Profile {
	prof := &profile.Profile{
		SampleType: []*profile.ValueType{
			{Type: "calltime", Unit: "nanoseconds"},
			{Type: "samples", Unit: "count"},
		},
		PeriodType: &profile.ValueType{Type: "calltime", Unit: "nanoseconds"},
		Period:     1,
	}

	var (
		functions  = map[string]*profile.Function{}
		locations  = map[string]*profile.Location{}
		nextFuncID = uint64(1)
		nextLocID  = uint64(1)
	)

	locationFor := func(d tcr.Descriptor) *profile.Location {
		key := d.String()

		fn, ok := functions[key]
		if !ok {
			fn = &profile.Function{
				ID:         nextFuncID,
				Name:       key,
				SystemName: key,
				Filename:   d.Module,
			}
			functions[key] = fn
			prof.Function = append(prof.Function, fn)
			nextFuncID++
		}

		loc, ok := locations[key]
		if !ok {
			loc = &profile.Location{
				ID:   nextLocID,
				Line: []profile.Line{{Function: fn}},
			}
			locations[key] = loc
			prof.Location = append(prof.Location, loc)
			nextLocID++
		}

		return loc
	}

	var (
		earliest time.Time
		latest   time.Time
	)

	for _, sig := range groups.Signatures() {
		for _, rec := range groups[sig] {
			stack := []*profile.Location{locationFor(rec.Func)}
			switch {
			case len(rec.Stack) > 0:
				for _, frame := range rec.Stack {
					stack = append(stack, locationFor(frame))
				}
			case rec.Parent != nil:
				stack = append(stack, locationFor(*rec.Parent))
			}

			prof.Sample = append(prof.Sample, &profile.Sample{
				Location: stack,
				Value:    []int64{rec.Duration.Nanoseconds(), 1},
			})

			if earliest.IsZero() || rec.CallTime.Before(earliest) {
				earliest = rec.CallTime
			}
			if end := rec.CallTime.Add(rec.Duration); end.After(latest) {
				latest = end
			}
		}
	}

	if !earliest.IsZero() {
		prof.TimeNanos = earliest.UnixNano()
		prof.DurationNanos = latest.Sub(earliest).Nanoseconds()
	}

	return prof
}
