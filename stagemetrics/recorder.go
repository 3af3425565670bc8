// Package stagemetrics exposes the handful of counters the stage runtime
// needs to make its back-pressure and buffering behaviour observable
// (spec §7, §8). It mirrors the narrow, purpose-built counter interfaces
// of the wider pipeline ecosystem (StatCounter/StatCounterVec) rather than
// a generic path-based metrics registry, since stagepipe only ever emits
// a fixed, known set of events.
package stagemetrics

// Recorder receives stage runtime events. All methods must be safe for
// concurrent use; a Recorder is shared by every stage in a process.
type Recorder interface {
	// BufferDropped records n events discarded by the buffer's keep
	// policy on a given producer stage.
	BufferDropped(stage string, n int)

	// ExcessEvents records that a producer delivered n more events than
	// a consumer had asked for on the given subscription ref.
	ExcessEvents(ref string, n int)

	// EventsDispatched records n events handed to the dispatcher for a
	// given producer stage.
	EventsDispatched(stage string, n int)

	// AskSent records an ASK(n) issued by a consumer on a subscription.
	AskSent(ref string, n int)

	// SubscriptionCancelled records a cancellation, tagged with its
	// cause (duplicated, peer, producer, down).
	SubscriptionCancelled(ref string, cause string)
}

// Noop discards every metric. It is the default Recorder so the core has
// no mandatory dependency on a running metrics backend.
type Noop struct{}

func (Noop) BufferDropped(string, int)          {}
func (Noop) ExcessEvents(string, int)           {}
func (Noop) EventsDispatched(string, int)       {}
func (Noop) AskSent(string, int)                {}
func (Noop) SubscriptionCancelled(string, string) {}
