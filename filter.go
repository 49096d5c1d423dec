package tcr

import (
	"fmt"
	"regexp"
	"strings"
)

// Filter is a set of rules that can be applied to an individual typed event,
// which will either be allowed (pass) or rejected (fail). It's a display
// concern for live tails, separate from the subscription pattern, which
// belongs to the producer.
type Filter struct {
	Callers  []string `json:"callers,omitempty"`
	Kinds    []string `json:"kinds,omitempty"`
	Module   string   `json:"module,omitempty"`
	Function string   `json:"function,omitempty"`
	Query    string   `json:"query,omitempty"`
	regexp   *regexp.Regexp
}

// Normalize must be called before the filter can be used.
func (f *Filter) Normalize() []error {
	var errs []error

	if err := f.initializeQueryRegexp(); err != nil {
		errs = append(errs, fmt.Errorf("query: %w", err))
	}

	return errs
}

// String returns an operator-readable representation of the filter.
func (f Filter) String() string {
	var elems []string

	if len(f.Callers) > 0 {
		elems = append(elems, fmt.Sprintf("Callers=%v", f.Callers))
	}

	if len(f.Kinds) > 0 {
		elems = append(elems, fmt.Sprintf("Kinds=%v", f.Kinds))
	}

	if f.Module != "" {
		elems = append(elems, fmt.Sprintf("Module='%s'", f.Module))
	}

	if f.Function != "" {
		elems = append(elems, fmt.Sprintf("Function='%s'", f.Function))
	}

	if f.Query != "" {
		elems = append(elems, fmt.Sprintf("Query='%s'", f.Query))
	}

	if len(elems) <= 0 {
		return "(allow all)"
	}

	return strings.Join(elems, " ")
}

// Allow returns true if the provided event satisfies all of the conditions
// in the filter.
func (f *Filter) Allow(ev Event) bool {
	if len(f.Callers) > 0 {
		var found bool
		for _, c := range f.Callers {
			if CallerID(c) == ev.Caller() {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}

	if len(f.Kinds) > 0 {
		var found bool
		for _, k := range f.Kinds {
			if Kind(k) == ev.Kind() {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}

	if f.Module != "" || f.Function != "" {
		d, ok := eventFunc(ev)
		if !ok {
			return false
		}
		if f.Module != "" && d.Module != f.Module {
			return false
		}
		if f.Function != "" && d.Function != f.Function {
			return false
		}
	}

	f.initializeQueryRegexp()
	if f.regexp != nil {
		return f.regexp.MatchString(ev.String())
	}

	return true
}

func (f *Filter) initializeQueryRegexp() error {
	if f.regexp != nil {
		return nil
	}

	if f.Query == "" {
		return nil
	}

	re, err := regexp.Compile(f.Query)
	if err != nil {
		f.Query = ""
		return fmt.Errorf("invalid, ignoring (%w)", err)
	}

	f.regexp = re
	return nil
}

// eventFunc returns the function descriptor carried by the event, if any.
func eventFunc(ev Event) (Descriptor, bool) {
	switch ev := ev.(type) {
	case CallEvent:
		return ev.Func, true
	case ReturnEvent:
		return ev.Func, true
	case SendEvent:
		return ev.Func, !ev.Func.IsZero()
	case ReceiveEvent:
		return ev.Func, !ev.Func.IsZero()
	default:
		return Descriptor{}, false
	}
}
