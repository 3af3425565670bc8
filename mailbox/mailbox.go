// Package mailbox supplies the actor runtime spec.md puts out of scope as
// an "external collaborator" (the host process/mailbox runtime, monitor
// subsystem, and synchronous call/reply plumbing). A Go rewrite has no
// BEAM underneath it, so this package provides one goroutine-per-stage
// mailbox with a bounded inbound channel and peer monitoring, grounded on
// the teacher's Consume/CloseAsync/WaitForClose component lifecycle
// (lib/broker, lib/pipeline/pool.go) generalised from a single output
// channel to a general-purpose actor mailbox.
package mailbox

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"
)

// ErrClosed is returned by Send when the target mailbox has already
// terminated.
var ErrClosed = errors.New("mailbox: send to closed address")

// Ref identifies a monitor registration, handed back by Monitor and used
// to Demonitor later. It doubles as a subscription ref per spec.md §3
// ("ref is globally unique and chosen by the consumer").
type Ref = uuid.UUID

// NewRef mints a fresh globally-unique reference.
func NewRef() Ref { return uuid.New() }

// Down is delivered to a watcher's mailbox when a monitored peer
// terminates, mirroring Erlang's {'DOWN', Ref, process, Pid, Reason}.
type Down struct {
	Ref    Ref
	Peer   Address
	Reason error
}

// Address is an opaque, send-only handle to a stage's mailbox. Two
// Addresses are equal (via ==) iff they name the same mailbox. Addresses
// carry no owned reference to peer state (Design Notes §9: "each side
// holds the peer's address only").
type Address struct {
	id  uuid.UUID
	box *Mailbox
}

// ID returns the address's process identity, stable for the mailbox's
// lifetime and useful as a map key or log field.
func (a Address) ID() uuid.UUID { return a.id }

// IsZero reports whether this is the zero Address (no mailbox behind it).
func (a Address) IsZero() bool { return a.box == nil }

// Send enqueues msg on the target mailbox's inbox. The inbox is bounded:
// while it is full Send blocks until the target receives or terminates,
// and once the target has terminated Send returns ErrClosed.
func (a Address) Send(msg any) error {
	if a.box == nil {
		return ErrClosed
	}
	return a.box.enqueue(msg)
}

// Monitor registers watcher to receive a Down message when the stage
// behind a terminates. It is the Go analogue of Erlang's monitor/2 and
// must be called, per spec.md §4.2, before the watcher sends its first
// SUBSCRIBE so no DOWN can be missed.
func (a Address) Monitor(watcher Address) Ref {
	ref := NewRef()
	if a.box == nil {
		// Target already gone: report it as an immediate DOWN so callers
		// don't need a special "process never existed" case.
		_ = watcher.Send(Down{Ref: ref, Peer: a, Reason: errors.New("noproc")})
		return ref
	}
	a.box.addWatcher(ref, watcher, a)
	return ref
}

// Demonitor cancels a prior Monitor registration; it is a no-op if ref is
// unknown or the mailbox already terminated.
func (a Address) Demonitor(ref Ref) {
	if a.box != nil {
		a.box.removeWatcher(ref)
	}
}

// Mailbox is the receiving half of an Address: a private bounded queue
// plus the set of watchers to notify on termination. Exactly one goroutine
// (the owning stage's kernel loop) may call Recv; Send and Monitor
// are safe from any goroutine.
type Mailbox struct {
	id    uuid.UUID
	inbox chan any

	mu       sync.Mutex
	watchers map[Ref]watcherEntry
	closed   bool
	closeCh  chan struct{}
}

type watcherEntry struct {
	addr Address
}

// New creates a Mailbox with the given inbound buffer size.
func New(bufSize int) *Mailbox {
	if bufSize < 0 {
		bufSize = 0
	}
	return &Mailbox{
		id:       uuid.New(),
		inbox:    make(chan any, bufSize),
		watchers: make(map[Ref]watcherEntry),
		closeCh:  make(chan struct{}),
	}
}

// Address returns the send-only handle for this mailbox.
func (m *Mailbox) Address() Address { return Address{id: m.id, box: m} }

// Recv blocks until a message arrives, the mailbox terminates, or ctx is
// done.
func (m *Mailbox) Recv(ctx context.Context) (any, bool) {
	select {
	case msg, ok := <-m.inbox:
		return msg, ok
	case <-m.closeCh:
		return nil, false
	case <-ctx.Done():
		return nil, false
	}
}

func (m *Mailbox) enqueue(msg any) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrClosed
	}
	m.mu.Unlock()

	select {
	case m.inbox <- msg:
		return nil
	case <-m.closeCh:
		return ErrClosed
	}
}

func (m *Mailbox) addWatcher(ref Ref, watcher, self Address) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		_ = watcher.Send(Down{Ref: ref, Peer: self, Reason: errors.New("noproc")})
		return
	}
	m.watchers[ref] = watcherEntry{addr: watcher}
	m.mu.Unlock()
}

func (m *Mailbox) removeWatcher(ref Ref) {
	m.mu.Lock()
	delete(m.watchers, ref)
	m.mu.Unlock()
}

// Terminate closes the mailbox and notifies every registered watcher with
// a Down carrying reason. It is idempotent.
func (m *Mailbox) Terminate(reason error) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	watchers := m.watchers
	m.watchers = nil
	self := m.Address()
	close(m.closeCh)
	m.mu.Unlock()

	for ref, w := range watchers {
		_ = w.addr.Send(Down{Ref: ref, Peer: self, Reason: reason})
	}
}
