// Package demand implements the consumer demand engine of spec.md §4.3:
// batch splitting, the top-up ask schedule, and the excess-event clamp.
// It is pure computation — no mailbox I/O — so the kernel can unit test
// and drive it deterministically; the kernel is responsible for actually
// invoking handle_events and sending the scheduled ASKs.
package demand

import "github.com/arrowstream/stagepipe/stage/subscription"

// Step is one sub-batch to deliver to the user's handle_events callback,
// plus the ASK the kernel must send immediately afterward (AskAmount == 0
// means no ask is due yet).
type Step struct {
	Events    []any
	AskAmount int
}

// Plan splits an incoming event batch per spec.md §4.3 and computes the
// resulting demand state. maxSub = max - min bounds every sub-batch so a
// single handle_events call never consumes more than one refill window.
func Plan(state subscription.DemandState, events []any) (steps []Step, next subscription.DemandState, excess int) {
	next = state
	if len(events) == 0 {
		return nil, next, 0
	}

	maxSub := state.Max - state.Min
	if maxSub <= 0 {
		maxSub = state.Max
	}

	pending := state.Pending
	i := 0
	for i < len(events) {
		n := maxSub
		if remaining := len(events) - i; n > remaining {
			n = remaining
		}
		sub := events[i : i+n]
		i += n

		if len(sub) > pending {
			excess += len(sub) - pending
			sub = sub[:pending]
			pending = 0
		} else {
			pending -= len(sub)
		}

		askAmount := 0
		if pending <= state.Min {
			askAmount = state.Max - pending
			pending = state.Max
		}

		steps = append(steps, Step{Events: sub, AskAmount: askAmount})
	}

	next.Pending = pending
	return steps, next, excess
}
