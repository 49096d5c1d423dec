// Package tcr reconstructs complete call records out of live function-call
// trace events. It receives a stream of asynchronous, possibly interleaved
// events (call entry, return, message send, message receive) emitted by an
// external tracer, and correlates them into per-caller records carrying
// arguments, return value, and wall-clock duration.
//
// The basic idea is a tracing session: subscribe to a producer of raw events
// matching a pattern, feed every event through a total normalizer into a
// correlation store that pairs each return with the most recent open call
// from the same caller, and, on an explicit stop, freeze and return the
// accumulated snapshot exactly once. Calls that never returned before the
// session ended are reported as unfinished, with a duration estimate against
// the session's completion timestamp. When the producer lives in a different
// clock domain, the session estimates the clock offset with a round-trip
// probe at start, and unfinished-call estimates are adjusted accordingly.
//
// This package holds the data model: caller identities, function descriptors,
// the raw event envelope, the typed event variants with the [Normalize]
// function, call records, snapshots, and the producer-facing [Source],
// [Subscription], and [RemoteClock] interfaces. The session actor lives in
// [github.com/peterbourgon/tcr/tcrsession], the correlation store in
// [github.com/peterbourgon/tcr/tcrstore], and statistics over stopped
// sessions in [github.com/peterbourgon/tcr/tcrstats].
//
// There are a few caveats. The core trusts the producer to deliver each
// caller's events in emission order; violations degrade into discarded
// returns rather than corrupted state. Snapshots live in memory and expire
// with the process. Send and receive events are accepted and observable, but
// never joined into causal chains.
//
// Producers are external. A controllable in-process producer for tests and
// demos is provided by [github.com/peterbourgon/tcr/tcrtest], and an
// HTTP/SSE bridge to producers in other processes by
// [github.com/peterbourgon/tcr/tcrweb].
package tcr
