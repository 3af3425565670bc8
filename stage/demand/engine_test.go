package demand

import (
	"testing"

	"github.com/arrowstream/stagepipe/stage/subscription"
)

func evs(n int) []any {
	out := make([]any, n)
	for i := range out {
		out[i] = i
	}
	return out
}

func TestPlanSingleBatchWithinWindow(t *testing.T) {
	state := subscription.DemandState{Pending: 10, Min: 5, Max: 10}
	steps, next, excess := Plan(state, evs(5))
	if excess != 0 {
		t.Fatalf("excess = %d, want 0", excess)
	}
	if len(steps) != 1 || len(steps[0].Events) != 5 {
		t.Fatalf("steps = %+v, want one 5-event step", steps)
	}
	// pending drops to 5, which is <= min, so a top-up ask fires,
	// resetting pending back to max.
	if steps[0].AskAmount != 5 {
		t.Fatalf("AskAmount = %d, want 5 (top-up to refill from 5 to max 10)", steps[0].AskAmount)
	}
	if next.Pending != state.Max {
		t.Fatalf("next.Pending = %d, want %d after top-up", next.Pending, state.Max)
	}
}

func TestPlanSplitsBatchLargerThanMaxSub(t *testing.T) {
	// maxSub = max - min = 10 - 5 = 5, so 12 events split into 5/5/2.
	state := subscription.DemandState{Pending: 10, Min: 5, Max: 10}
	steps, _, excess := Plan(state, evs(12))
	if excess != 0 {
		t.Fatalf("excess = %d, want 0", excess)
	}
	if len(steps) != 3 {
		t.Fatalf("len(steps) = %d, want 3", len(steps))
	}
	sizes := []int{len(steps[0].Events), len(steps[1].Events), len(steps[2].Events)}
	want := []int{5, 5, 2}
	for i := range want {
		if sizes[i] != want[i] {
			t.Fatalf("sizes = %v, want %v", sizes, want)
		}
	}
}

func TestPlanExcessWhenOverDelivered(t *testing.T) {
	state := subscription.DemandState{Pending: 3, Min: 5, Max: 10}
	steps, next, excess := Plan(state, evs(5))
	if excess != 2 {
		t.Fatalf("excess = %d, want 2 (5 delivered, only 3 pending)", excess)
	}
	if len(steps[0].Events) != 3 {
		t.Fatalf("delivered events = %d, want 3 (clamped to pending)", len(steps[0].Events))
	}
	if next.Pending != state.Max {
		t.Fatalf("next.Pending = %d, want %d (pending hit 0 <= min, so it topped up)", next.Pending, state.Max)
	}
}

func TestPlanNoTopUpAboveMin(t *testing.T) {
	state := subscription.DemandState{Pending: 10, Min: 2, Max: 10}
	steps, next, _ := Plan(state, evs(3))
	if steps[0].AskAmount != 0 {
		t.Fatalf("AskAmount = %d, want 0 (pending 7 still above min 2)", steps[0].AskAmount)
	}
	if next.Pending != 7 {
		t.Fatalf("next.Pending = %d, want 7", next.Pending)
	}
}

func TestPlanEmptyBatch(t *testing.T) {
	state := subscription.DemandState{Pending: 10, Min: 5, Max: 10}
	steps, next, excess := Plan(state, nil)
	if steps != nil || excess != 0 || next != state {
		t.Fatalf("Plan on empty batch should be a no-op, got steps=%v excess=%d next=%+v", steps, excess, next)
	}
}
