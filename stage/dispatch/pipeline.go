package dispatch

import (
	"github.com/arrowstream/stagepipe/stage/buffer"
	"github.com/arrowstream/stagepipe/stagelog"
	"github.com/arrowstream/stagepipe/stagemetrics"
)

// Config configures a Pipeline's buffer (spec.md §6 "Init options").
type Config struct {
	BufferSize int // buffer.Unbounded for no limit
	Keep       buffer.Keep
}

// DefaultConfig matches spec.md §6's producer defaults: buffer_size=10000,
// buffer_keep=LAST.
func DefaultConfig() Config {
	return Config{BufferSize: 10000, Keep: buffer.Last}
}

// Pipeline is the producer dispatch pipeline of spec.md §4.4: it owns the
// buffer and the dispatcher plug-in and implements dispatch_events,
// buffer_events, and the drain-on-grant flow.
type Pipeline struct {
	stageName  string
	dispatcher Dispatcher
	buf        *buffer.Buffer
	log        stagelog.Modular
	metrics    stagemetrics.Recorder

	consumerCount int
}

// New creates a dispatch pipeline for the named stage (used only for log
// and metric labels).
func New(stageName string, d Dispatcher, cfg Config, log stagelog.Modular, m stagemetrics.Recorder) *Pipeline {
	if log == nil {
		log = stagelog.Noop{}
	}
	if m == nil {
		m = stagemetrics.Noop{}
	}
	return &Pipeline{
		stageName:  stageName,
		dispatcher: d,
		buf:        buffer.New(cfg.BufferSize, cfg.Keep),
		log:        log,
		metrics:    m,
	}
}

// BufferLen reports the current buffered event count (for tests and the
// buffer-bound invariant of spec.md §8).
func (p *Pipeline) BufferLen() int { return p.buf.Len() }

// SetConsumerCount tells the pipeline how many consumers currently exist,
// so DispatchEvents knows whether to go straight to the buffer (spec.md
// §4.4 step 1: "If there are no consumers, forward to buffer_events").
func (p *Pipeline) SetConsumerCount(n int) { p.consumerCount = n }

// DispatchEvents implements spec.md §4.4's dispatch_events(events) flow.
func (p *Pipeline) DispatchEvents(events []any) {
	if len(events) == 0 {
		return
	}
	if p.consumerCount == 0 {
		p.bufferEvents(events)
		return
	}
	p.metrics.EventsDispatched(p.stageName, len(events))
	undispatched := p.dispatcher.Dispatch(events)
	if len(undispatched) > 0 {
		p.bufferEvents(undispatched)
	}
}

func (p *Pipeline) bufferEvents(events []any) {
	dropped, surfaced := p.buf.Push(events)
	if dropped > 0 {
		p.log.Warnf("buffer overflow on stage %q: %d events discarded", p.stageName, dropped)
		p.metrics.BufferDropped(p.stageName, dropped)
	}
	for _, msg := range surfaced {
		p.dispatcher.Notify(msg)
	}
}

// Notify implements sync_notify (spec.md §4.6): if the buffer is
// currently empty the notification is dispatched immediately, otherwise
// it is anchored to the buffer's current tail.
func (p *Pipeline) Notify(msg any) {
	if p.buf.Notify(msg) {
		p.dispatcher.Notify(msg)
	}
}

// GrantDemand implements the drain half of a dispatcher callout (spec.md
// §4.4): up to counter buffered events (interleaved with any anchored
// notifications) are drained and dispatched in order; the residual —
// demand the buffer couldn't satisfy — is returned for the caller to pass
// to handle_demand (PRODUCER) or the PC bridge (PRODUCER_CONSUMER).
func (p *Pipeline) GrantDemand(counter int) (residual int) {
	if counter <= 0 {
		return 0
	}
	entries := p.buf.Pop(counter)

	var batch []any
	consumed := 0
	flush := func() {
		if len(batch) == 0 {
			return
		}
		p.metrics.EventsDispatched(p.stageName, len(batch))
		if undispatched := p.dispatcher.Dispatch(batch); len(undispatched) > 0 {
			// Demand records the granted amount as consumer demand, so it
			// places every popped event; Broadcast only sends as many as its
			// slowest subscriber can take. Whatever is left is re-buffered
			// so no event is lost.
			p.bufferEvents(undispatched)
		}
		batch = nil
	}

	for _, e := range entries {
		if e.IsNotification {
			flush()
			p.dispatcher.Notify(e.Notification)
			continue
		}
		batch = append(batch, e.Event)
		consumed++
	}
	flush()

	return counter - consumed
}
