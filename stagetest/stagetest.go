// Package stagetest provides fake Producer, Consumer, and
// ProducerConsumer callback sets for exercising the stage kernel without
// a real workload, grounded on the teacher's MockInputType/MockOutputType
// pattern (internal_component/output's *_test.go fakes and
// broker/common_test.go's MockInputType/MockOutputType): a minimal struct
// satisfying the contract under test, its behaviour driven by channels or
// counters the test can inspect directly rather than by a mock framework.
package stagetest

import (
	"sync"

	"github.com/arrowstream/stagepipe/mailbox"
	"github.com/arrowstream/stagepipe/stage"
)

// Counter is a Producer that emits sequential integers starting at zero,
// exactly as many as handle_demand ever asks for. It is the fake used by
// SPEC_FULL.md's back-pressure and demand-refill scenarios.
type Counter struct {
	mu       sync.Mutex
	next     int
	produced int
}

func NewCounter() *Counter { return &Counter{} }

// Produced reports how many events HandleDemand has emitted so far.
func (c *Counter) Produced() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.produced
}

func (c *Counter) HandleDemand(n int) ([]any, stage.Action) {
	c.mu.Lock()
	defer c.mu.Unlock()
	events := make([]any, n)
	for i := range events {
		events[i] = c.next
		c.next++
	}
	c.produced += n
	return events, stage.Action{}
}

func (c *Counter) HandleSubscribe(stage.Role, stage.SubscribeOpts, mailbox.Address) (stage.Decision, stage.Action) {
	return stage.Automatic, stage.Action{}
}

func (c *Counter) HandleCancel(stage.CancelInfo, mailbox.Address) ([]any, stage.Action) {
	return nil, stage.Action{}
}

func (c *Counter) Terminate(error) {}

// Doubler is a ProducerConsumer that multiplies every incoming int event
// by 2, used by SPEC_FULL.md's Scenario 1 (producer -> PC -> consumer).
type Doubler struct{}

func NewDoubler() *Doubler { return &Doubler{} }

func (d *Doubler) HandleEvents(events []any, _ mailbox.Address) ([]any, stage.Action) {
	out := make([]any, len(events))
	for i, e := range events {
		out[i] = e.(int) * 2
	}
	return out, stage.Action{}
}

func (d *Doubler) HandleSubscribe(stage.Role, stage.SubscribeOpts, mailbox.Address) (stage.Decision, stage.Action) {
	return stage.Automatic, stage.Action{}
}

func (d *Doubler) HandleCancel(stage.CancelInfo, mailbox.Address) ([]any, stage.Action) {
	return nil, stage.Action{}
}

func (d *Doubler) Terminate(error) {}

// Collector is a Consumer that appends every event it receives to an
// in-memory slice, safe for a test goroutine to poll via Snapshot while
// the stage's own kernel goroutine keeps appending.
type Collector struct {
	mu     sync.Mutex
	events []any
	notify chan struct{}
}

// NewCollector creates a Collector. notifyBuf sizes an optional channel
// signalled after every HandleEvents call, letting a test block on
// "at least one delivery happened" instead of polling.
func NewCollector(notifyBuf int) *Collector {
	c := &Collector{}
	if notifyBuf > 0 {
		c.notify = make(chan struct{}, notifyBuf)
	}
	return c
}

// Snapshot returns a copy of every event collected so far.
func (c *Collector) Snapshot() []any {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]any, len(c.events))
	copy(out, c.events)
	return out
}

// Notified returns the delivery-notification channel, or nil if none was
// requested at construction.
func (c *Collector) Notified() <-chan struct{} { return c.notify }

func (c *Collector) HandleEvents(events []any, _ mailbox.Address) ([]any, stage.Action) {
	c.mu.Lock()
	c.events = append(c.events, events...)
	c.mu.Unlock()
	if c.notify != nil {
		select {
		case c.notify <- struct{}{}:
		default:
		}
	}
	return nil, stage.Action{}
}

func (c *Collector) HandleSubscribe(stage.Role, stage.SubscribeOpts, mailbox.Address) (stage.Decision, stage.Action) {
	return stage.Automatic, stage.Action{}
}

func (c *Collector) HandleCancel(stage.CancelInfo, mailbox.Address) ([]any, stage.Action) {
	return nil, stage.Action{}
}

func (c *Collector) Terminate(error) {}
