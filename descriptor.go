package tcr

import (
	"fmt"
	"strings"
)

// CallerID is the opaque identity of the process or thread that issued a
// traced call. A caller may issue many nested or sequential calls within one
// session. It's the correlation key: the engine maintains one ordered call
// stack per caller.
type CallerID string

// String implements fmt.Stringer.
func (c CallerID) String() string {
	return string(c)
}

//
//
//

// Descriptor identifies a traced callable as it appears on events, without
// arity. The zero value means the producer didn't report one.
type Descriptor struct {
	Module   string `json:"module"`
	Function string `json:"function"`
}

// IsZero returns true if the descriptor is empty.
func (d Descriptor) IsZero() bool {
	return d == Descriptor{}
}

// String renders the descriptor as "module.function".
func (d Descriptor) String() string {
	return fmt.Sprintf("%s.%s", d.Module, d.Function)
}

// ParseDescriptor parses "module.function" into a descriptor, splitting on
// the last dot so that module names may themselves contain dots. Strings
// without a dot become a descriptor with an empty module.
func ParseDescriptor(s string) Descriptor {
	if i := strings.LastIndex(s, "."); i >= 0 {
		return Descriptor{Module: s[:i], Function: s[i+1:]}
	}
	return Descriptor{Function: s}
}

//
//
//

// Pattern names which functions or messages a producer should observe. It's
// owned and interpreted by the producer; the engine passes it through opaque
// and unparsed.
type Pattern string

// PatternAll is a conventional pattern matching everything. Producers aren't
// required to honor it, but the ones in this module do.
const PatternAll Pattern = "*"

// String implements fmt.Stringer.
func (p Pattern) String() string {
	return string(p)
}

//
//
//

// Target identifies the locality of a producer. The zero value means local,
// sharing a clock domain with the session. Any non-empty value identifies a
// remote producer, typically by URI, whose clock can't be trusted to agree
// with the local one.
type Target string

// IsRemote returns true if the target identifies a remote producer.
func (t Target) IsRemote() bool {
	return t != ""
}

// String implements fmt.Stringer.
func (t Target) String() string {
	if t == "" {
		return "local"
	}
	return string(t)
}
