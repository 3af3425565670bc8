package wheel

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPositionAnchorsToCurrentTail(t *testing.T) {
	w := New(10)
	// Buffer holds 3 events (seq 0,1,2), next append would be seq 3.
	pos := w.Position(3, 3)
	assert.Equal(t, int64(2), pos, "Position should anchor to the tail event")
}

func TestPositionOnEmptyBuffer(t *testing.T) {
	w := New(10)
	pos := w.Position(0, 0)
	assert.Equal(t, int64(-1), pos)
}

func TestPutAndTake(t *testing.T) {
	w := New(10)
	w.Put(5, "hello")
	msg, ok := w.Take(5)
	assert.True(t, ok)
	assert.Equal(t, "hello", msg)

	_, ok = w.Take(5)
	assert.False(t, ok, "Take should clear the slot after retrieval")
}

func TestTakeRangeCollectsInOrder(t *testing.T) {
	w := New(10)
	w.Put(2, "a")
	w.Put(4, "b")
	w.Put(7, "c")

	out := w.TakeRange(1, 5)
	assert.Equal(t, []any{"a", "b"}, out)
	assert.Equal(t, 1, w.Len(), "only seq 7 should remain")
}

func TestTakeRangeEmptyWhenInverted(t *testing.T) {
	w := New(10)
	w.Put(2, "a")
	assert.Nil(t, w.TakeRange(5, 1))
}
