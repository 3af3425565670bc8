// Package buffer implements the producer-local FIFO of spec.md §4.4: a
// bounded (or unbounded) queue of undispatched events with a
// keep-FIRST/keep-LAST overflow policy, plus the notification interleaving
// of spec.md §4.6. The FIFO itself is grounded on the teacher's
// buffer/memory.go, which favours a plain append/reslice queue
// (`m.buffer = m.buffer[1:]`) over a ring buffer for its O(1) amortised
// enqueue/dequeue; this package keeps that shape.
package buffer

import "github.com/arrowstream/stagepipe/stage/wheel"

// Keep selects the overflow policy applied when a bounded buffer would
// exceed its max size.
type Keep int

const (
	// Last evicts the oldest events to make room for new ones (the
	// producer default per spec.md §6).
	Last Keep = iota
	// First drops incoming events once the buffer is full, preserving
	// the earliest-enqueued prefix.
	First
)

// Unbounded marks a buffer with no size limit.
const Unbounded = -1

// item is a single FIFO slot. For a bounded buffer, only events are
// stored here and notifications live in the wheel keyed by seq. For an
// unbounded buffer, notifications ride inline as tagged entries (spec.md
// §4.6: "ordering is intrinsic").
type item struct {
	seq     int64
	isNotif bool
	event   any
	notif   any
}

// Entry is one element of a Pop result: either an event or a
// notification, in the order they must be delivered to the consumer.
type Entry struct {
	IsNotification bool
	Event          any
	Notification   any
}

// Buffer is a producer's outbound FIFO plus its notification wheel.
type Buffer struct {
	maxSize int
	keep    Keep

	q       []item
	nextSeq int64

	w *wheel.Wheel // nil when maxSize == Unbounded
}

// New creates a Buffer. maxSize == Unbounded disables the keep policy
// entirely (spec.md §4.4, "max = ∞: append all").
func New(maxSize int, keep Keep) *Buffer {
	b := &Buffer{maxSize: maxSize, keep: keep}
	if maxSize != Unbounded {
		b.w = wheel.New(maxSize)
	}
	return b
}

// Len returns the number of events currently buffered (spec.md's `count`,
// notifications riding inline in an unbounded buffer are not counted).
func (b *Buffer) Len() int {
	if b.w != nil {
		return len(b.q)
	}
	n := 0
	for _, it := range b.q {
		if !it.isNotif {
			n++
		}
	}
	return n
}

// MaxSize returns the configured bound, or Unbounded.
func (b *Buffer) MaxSize() int { return b.maxSize }

// Push appends events per the keep policy (spec.md §4.4). It returns the
// number of events dropped (keep-FIRST: newly arrived events; keep-LAST:
// evicted older events) and any notifications anchored to evicted
// positions that must now be surfaced immediately, in order.
func (b *Buffer) Push(events []any) (dropped int, surfaced []any) {
	if len(events) == 0 {
		return 0, nil
	}
	if b.maxSize == Unbounded {
		b.appendAll(events)
		return 0, nil
	}

	have := b.Len()
	k := len(events)

	switch b.keep {
	case First:
		room := b.maxSize - have
		if room < 0 {
			room = 0
		}
		accept := k
		if accept > room {
			accept = room
		}
		dropped = k - accept
		b.appendAll(events[:accept])
		return dropped, nil

	default: // Last
		total := have + k
		if total <= b.maxSize {
			b.appendAll(events)
			return 0, nil
		}
		evict := total - b.maxSize
		if evict > have {
			b.appendAll(events)
			overflow := len(b.q) - b.maxSize
			surfaced = b.dropOldest(overflow)
			return overflow, surfaced
		}
		surfaced = b.dropOldest(evict)
		b.appendAll(events)
		return evict, surfaced
	}
}

func (b *Buffer) appendAll(events []any) {
	for _, e := range events {
		b.q = append(b.q, item{seq: b.nextSeq, event: e})
		b.nextSeq++
	}
}

// dropOldest evicts n items from the head, returning any notifications
// anchored to those positions (in order) so the caller can surface them
// immediately per spec.md §4.6.
func (b *Buffer) dropOldest(n int) []any {
	if n <= 0 {
		return nil
	}
	if n > len(b.q) {
		n = len(b.q)
	}
	var surfaced []any
	if b.w != nil {
		from := b.q[0].seq
		to := b.q[n-1].seq
		surfaced = b.w.TakeRange(from, to)
	}
	for i := 0; i < n; i++ {
		b.q[i] = item{}
	}
	b.q = b.q[n:]
	return surfaced
}

// Notify enqueues a notification to be delivered immediately after the
// current tail of the buffer, or reports immediate=true when the buffer
// holds no events right now, in which case the caller must dispatch msg
// itself instead of anchoring it (spec.md §4.6: "sync_notify on a
// producer with zero buffered events dispatches immediately").
func (b *Buffer) Notify(msg any) (immediate bool) {
	if b.w != nil {
		if len(b.q) == 0 {
			return true
		}
		pos := b.w.Position(b.nextSeq, len(b.q))
		b.w.Put(pos, msg)
		return false
	}

	// Unbounded: ride inline as a tagged entry.
	if b.Len() == 0 {
		return true
	}
	b.q = append(b.q, item{isNotif: true, notif: msg})
	return false
}

// Pop removes up to n events (notifications do not count against n) and
// returns them interleaved with any notifications encountered along the
// way, in delivery order.
func (b *Buffer) Pop(n int) []Entry {
	if n <= 0 {
		return nil
	}
	var out []Entry
	taken := 0
	for taken < n && len(b.q) > 0 {
		it := b.q[0]
		b.q = b.q[1:]
		if it.isNotif {
			out = append(out, Entry{IsNotification: true, Notification: it.notif})
			continue
		}
		out = append(out, Entry{Event: it.event})
		taken++
		if b.w != nil {
			if msg, ok := b.w.Take(it.seq); ok {
				out = append(out, Entry{IsNotification: true, Notification: msg})
			}
		}
	}
	return out
}
