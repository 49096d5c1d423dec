package tcr

import (
	"encoding/json"
	"fmt"
)

// Normalize converts a raw producer event into exactly one typed event. It's
// pure and total: any envelope it doesn't recognize, including meta control
// signals, comes back as an [UnsupportedEvent] with a reason. It never
// panics, and makes no ordering assumptions beyond one event in, one event
// out.
//
// Payloads are maps as produced by generic JSON decoding, so extraction is
// deliberately loose: numbers may arrive as int, int64, float64, or
// json.Number; descriptors may arrive as a "module.function" string or as a
// {module, function} map; argument lists may be absent, meaning zero arity.
func Normalize(raw RawEvent) Event {
	switch raw.Kind {
	case KindCall:
		return normalizeCall(raw)
	case KindReturn:
		return normalizeReturn(raw)
	case KindSend:
		return normalizeSend(raw)
	case KindReceive:
		return normalizeReceive(raw)
	case KindMeta:
		return UnsupportedEvent{Raw: raw, Reason: "meta control signal"}
	default:
		return UnsupportedEvent{Raw: raw, Reason: fmt.Sprintf("unknown kind %q", raw.Kind)}
	}
}

func normalizeCall(raw RawEvent) Event {
	caller, ok := payloadString(raw.Payload, "caller")
	if !ok {
		return UnsupportedEvent{Raw: raw, Reason: "call without caller"}
	}

	fd, ok := payloadFunc(raw.Payload)
	if !ok {
		return UnsupportedEvent{Raw: raw, Reason: "call without function descriptor"}
	}

	args, _ := payloadSlice(raw.Payload, "args")

	ev := CallEvent{
		CallerID: CallerID(caller),
		Func:     fd,
		Args:     args,
		Time:     raw.Time,
	}

	if parent, ok := payloadDescriptor(raw.Payload["parent"]); ok {
		ev.Parent = &parent
	}

	if stack, ok := payloadSlice(raw.Payload, "stack"); ok {
		for _, frame := range stack {
			if d, ok := payloadDescriptor(frame); ok {
				ev.Stack = append(ev.Stack, d)
			}
		}
	}

	return ev
}

func normalizeReturn(raw RawEvent) Event {
	caller, ok := payloadString(raw.Payload, "caller")
	if !ok {
		return UnsupportedEvent{Raw: raw, Reason: "return without caller"}
	}

	fd, ok := payloadFunc(raw.Payload)
	if !ok {
		return UnsupportedEvent{Raw: raw, Reason: "return without function descriptor"}
	}

	arity, ok := payloadInt(raw.Payload, "arity")
	if !ok {
		arity = -1
	}

	return ReturnEvent{
		CallerID: CallerID(caller),
		Func:     fd,
		Arity:    arity,
		Value:    raw.Payload["value"],
		Time:     raw.Time,
	}
}

func normalizeSend(raw RawEvent) Event {
	sender, ok := payloadString(raw.Payload, "sender")
	if !ok {
		sender, ok = payloadString(raw.Payload, "caller")
	}
	if !ok {
		return UnsupportedEvent{Raw: raw, Reason: "send without sender"}
	}

	receiver, ok := payloadString(raw.Payload, "receiver")
	if !ok {
		return UnsupportedEvent{Raw: raw, Reason: "send without receiver"}
	}

	fd, _ := payloadFunc(raw.Payload)

	return SendEvent{
		Sender:   CallerID(sender),
		Func:     fd,
		Receiver: CallerID(receiver),
		Message:  raw.Payload["message"],
		Time:     raw.Time,
	}
}

func normalizeReceive(raw RawEvent) Event {
	receiver, ok := payloadString(raw.Payload, "receiver")
	if !ok {
		receiver, ok = payloadString(raw.Payload, "caller")
	}
	if !ok {
		return UnsupportedEvent{Raw: raw, Reason: "receive without receiver"}
	}

	fd, _ := payloadFunc(raw.Payload)

	return ReceiveEvent{
		Receiver: CallerID(receiver),
		Func:     fd,
		Message:  raw.Payload["message"],
		Time:     raw.Time,
	}
}

//
//
//

func payloadString(p map[string]any, key string) (string, bool) {
	v, ok := p[key]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	if !ok || s == "" {
		return "", false
	}
	return s, true
}

func payloadInt(p map[string]any, key string) (int, bool) {
	switch n := p[key].(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		return int(n), true
	case json.Number:
		i, err := n.Int64()
		if err != nil {
			return 0, false
		}
		return int(i), true
	default:
		return 0, false
	}
}

func payloadSlice(p map[string]any, key string) ([]any, bool) {
	v, ok := p[key]
	if !ok {
		return nil, false
	}
	s, ok := v.([]any)
	if !ok {
		return nil, false
	}
	return s, true
}

// payloadFunc extracts the function descriptor for the event itself, either
// split over "module"/"function" keys or folded into a single "function"
// value.
func payloadFunc(p map[string]any) (Descriptor, bool) {
	mod, _ := payloadString(p, "module")
	fn, ok := payloadString(p, "function")
	if !ok {
		return Descriptor{}, false
	}
	if mod == "" {
		d := ParseDescriptor(fn)
		return d, d.Function != ""
	}
	return Descriptor{Module: mod, Function: fn}, true
}

// payloadDescriptor interprets one value as a descriptor: a
// "module.function" string, or a map with "module" and "function" keys.
func payloadDescriptor(v any) (Descriptor, bool) {
	switch d := v.(type) {
	case string:
		if d == "" {
			return Descriptor{}, false
		}
		return ParseDescriptor(d), true
	case map[string]any:
		mod, _ := payloadString(d, "module")
		fn, ok := payloadString(d, "function")
		if !ok {
			return Descriptor{}, false
		}
		return Descriptor{Module: mod, Function: fn}, true
	default:
		return Descriptor{}, false
	}
}
