package stage

import (
	"context"
	"fmt"
	"runtime/debug"

	"github.com/arrowstream/stagepipe/dispatcher"
	"github.com/arrowstream/stagepipe/mailbox"
	"github.com/arrowstream/stagepipe/stage/demand"
	"github.com/arrowstream/stagepipe/stage/dispatch"
	"github.com/arrowstream/stagepipe/stage/pc"
	"github.com/arrowstream/stagepipe/stage/proto"
	"github.com/arrowstream/stagepipe/stage/subscription"
	"github.com/arrowstream/stagepipe/stageerrors"
	"github.com/arrowstream/stagepipe/stagelog"
	"github.com/arrowstream/stagepipe/stagemetrics"
)

// kind records which of the three role contracts a Runtime was built
// with; it decides which side(s) of handleMessage's protocol switch are
// wired up.
type kind int

const (
	kindProducer kind = iota
	kindConsumer
	kindProducerConsumer
)

// Runtime is the stage kernel of spec.md §4.1: it owns a mailbox, the
// subscription tables for whichever sides apply to its kind, and the
// user's callback set, and serializes every protocol message, Call, Cast,
// and Info message through a single goroutine.
type Runtime struct {
	kind kind
	name string

	mb   *mailbox.Mailbox
	self mailbox.Address

	log     stagelog.Modular
	metrics stagemetrics.Recorder

	common     Common
	producerCB ProducerCallbacks
	consumerCB ConsumerCallbacks
	pcCB       ProducerConsumerCallbacks
	notifCB    NotificationHandler
	callCB     CallHandler
	castCB     CastHandler
	infoCB     InfoHandler

	// producer-side state (kindProducer, kindProducerConsumer)
	prodSubs   *subscription.ProducerSide
	pipeline   *dispatch.Pipeline
	dispatcher dispatch.Dispatcher

	// consumer-side state (kindConsumer, kindProducerConsumer)
	consSubs *subscription.ConsumerSide

	// PC bridge (kindProducerConsumer only)
	bridge *pc.Bridge

	subscribeTo []subscribeToSpec

	hibernate bool
}

// NewProducer builds a PRODUCER stage: it owns a dispatch pipeline
// (buffer + dispatcher plug-in) and never accepts upstream subscriptions.
func NewProducer(name string, cb ProducerCallbacks, opts ...ProducerOption) *Runtime {
	cfg := producerConfig{inbox: 64}
	for _, o := range opts {
		o(&cfg)
	}
	log, metrics := resolveObservability(cfg.log, cfg.metrics, name)
	mb := mailbox.New(cfg.inbox)
	d := cfg.buffer.resolveDispatcher(dispatcher.NewDemand(mb.Address()))

	r := &Runtime{
		kind:       kindProducer,
		name:       name,
		mb:         mb,
		self:       mb.Address(),
		log:        log,
		metrics:    metrics,
		common:     cb,
		producerCB: cb,
		dispatcher: d,
		prodSubs:   subscription.NewProducerSide(),
	}
	r.pipeline = dispatch.New(name, d, cfg.buffer.resolve(), log, metrics)
	r.wireOptionalCallbacks(cb)
	return r
}

// NewConsumer builds a CONSUMER stage: it holds no dispatch pipeline of
// its own and never accepts downstream subscriptions.
func NewConsumer(name string, cb ConsumerCallbacks, opts ...ConsumerOption) *Runtime {
	cfg := consumerConfig{inbox: 64}
	for _, o := range opts {
		o(&cfg)
	}
	log, metrics := resolveObservability(cfg.log, cfg.metrics, name)
	mb := mailbox.New(cfg.inbox)

	r := &Runtime{
		kind:        kindConsumer,
		name:        name,
		mb:          mb,
		self:        mb.Address(),
		log:         log,
		metrics:     metrics,
		common:      cb,
		consumerCB:  cb,
		consSubs:    subscription.NewConsumerSide(),
		subscribeTo: cfg.subscribeTo,
	}
	r.wireOptionalCallbacks(cb)
	return r
}

// NewProducerConsumer builds a PRODUCER_CONSUMER stage: it runs both a
// dispatch pipeline toward its own consumers and the stage/pc bridge
// toward its upstream producer(s) (spec.md §4.5).
func NewProducerConsumer(name string, cb ProducerConsumerCallbacks, opts ...PCOption) *Runtime {
	cfg := pcConfig{inbox: 64}
	for _, o := range opts {
		o(&cfg)
	}
	log, metrics := resolveObservability(cfg.log, cfg.metrics, name)
	mb := mailbox.New(cfg.inbox)
	d := cfg.buffer.resolveDispatcher(dispatcher.NewDemand(mb.Address()))

	r := &Runtime{
		kind:        kindProducerConsumer,
		name:        name,
		mb:          mb,
		self:        mb.Address(),
		log:         log,
		metrics:     metrics,
		common:      cb,
		pcCB:        cb,
		dispatcher:  d,
		prodSubs:    subscription.NewProducerSide(),
		consSubs:    subscription.NewConsumerSide(),
		bridge:      pc.New(),
		subscribeTo: cfg.subscribeTo,
	}
	r.pipeline = dispatch.New(name, d, cfg.buffer.resolve(), log, metrics)
	r.wireOptionalCallbacks(cb)
	return r
}

func resolveObservability(log stagelog.Modular, metrics stagemetrics.Recorder, name string) (stagelog.Modular, stagemetrics.Recorder) {
	if log == nil {
		log = stagelog.Noop{}
	}
	if metrics == nil {
		metrics = stagemetrics.Noop{}
	}
	return log.With("stage", name), metrics
}

func (r *Runtime) wireOptionalCallbacks(cb any) {
	r.notifCB, _ = cb.(NotificationHandler)
	r.callCB, _ = cb.(CallHandler)
	r.castCB, _ = cb.(CastHandler)
	r.infoCB, _ = cb.(InfoHandler)
}

// Address returns this stage's mailbox address, to be handed to peers
// wanting to subscribe, monitor, Call, or Cast it.
func (r *Runtime) Address() mailbox.Address { return r.self }

// Run drives the stage's kernel loop until ctx is done or a callback
// requests a stop. It performs the stage's init-time subscribe_to
// subscriptions first (spec.md §6). The mailbox is always terminated
// before Run returns, which propagates Down to every monitoring peer.
func (r *Runtime) Run(ctx context.Context) error {
	for _, s := range r.subscribeTo {
		if _, err := r.subscribeLocked(s.target, s.opts...); err != nil {
			r.log.Errorf("subscribe_to failed: %v", err)
		}
	}

	reason := r.loop(ctx)
	r.common.Terminate(reason)
	r.mb.Terminate(reason)
	return reason
}

func (r *Runtime) loop(ctx context.Context) error {
	for {
		msg, ok := r.mb.Recv(ctx)
		if !ok {
			return ctx.Err()
		}
		if err := r.handleMessage(msg); err != nil {
			return err
		}
		if r.hibernate {
			debug.FreeOSMemory()
			r.hibernate = false
		}
	}
}

// applyAction folds a callback's Action into the loop: Hibernate is
// deferred to the top of the loop, Stop is surfaced as the terminal error.
func (r *Runtime) applyAction(a Action) error {
	if a.Hibernate {
		r.hibernate = true
	}
	return a.Stop
}

// emit routes callback-returned events into the dispatch pipeline. Only
// PRODUCER and PRODUCER_CONSUMER stages own one; a pure CONSUMER or
// SUBSCRIBE-only callback returning events here is a caller mistake in an
// ambient callback (HandleCall/HandleCast/HandleInfo/HandleCancel) rather
// than the strictly-enforced HandleEvents contract, so it is logged and
// dropped instead of stopping the stage.
func (r *Runtime) emit(events []any) {
	if len(events) == 0 {
		return
	}
	if r.pipeline == nil {
		r.log.Errorf("callback returned %d events but stage %q is not a producer", len(events), r.name)
		return
	}
	r.pipeline.DispatchEvents(events)
}

func (r *Runtime) handleMessage(msg any) error {
	switch m := msg.(type) {
	case proto.Subscribe:
		return r.onSubscribe(m)
	case proto.Ack:
		return r.onAck(m)
	case proto.Ask:
		return r.onAsk(m)
	case proto.Cancel:
		return r.onCancel(m)
	case proto.Events:
		return r.onEvents(m)
	case proto.Notification:
		return r.onNotification(m)
	case proto.Redirect:
		_ = m.From.Send(proto.Cancel{
			Ref: m.Ref, From: r.self, Reason: proto.CancelUnknownSubscription,
			Err: &stageerrors.Unsupported{What: "redirect"},
		})
		return nil
	case mailbox.Down:
		return r.onDown(m)
	case mailbox.CallRequest:
		return r.onCall(m)
	case castEnvelope:
		return r.onCast(m.payload)
	default:
		return r.onInfo(msg)
	}
}

// --- producer side: spec.md §4.2, §4.4 ---

func (r *Runtime) onSubscribe(m proto.Subscribe) error {
	if r.prodSubs == nil {
		_ = m.From.Send(proto.Cancel{Ref: m.Ref, From: r.self, Reason: proto.CancelUnknownSubscription})
		return nil
	}
	if r.prodSubs.Has(m.Ref) {
		_ = m.From.Send(proto.Cancel{
			Ref: m.Ref, From: r.self, Reason: proto.CancelDuplicatedSubscription,
			Err: &stageerrors.DuplicatedSubscription{Ref: m.Ref.String()},
		})
		r.metrics.SubscriptionCancelled(m.Ref.String(), "duplicated")
		return nil
	}

	decision, action := r.common.HandleSubscribe(RoleConsumer, m.Opts, m.From)
	if err := r.applyAction(action); err != nil {
		return err
	}

	monitor := m.From.Monitor(r.self)
	r.prodSubs.Add(m.Ref, m.From, monitor)
	r.pipeline.SetConsumerCount(r.prodSubs.Count())
	if err := m.From.Send(proto.Ack{Ref: m.Ref, From: r.self, Opts: m.Opts}); err != nil {
		return nil
	}

	if decision != Automatic {
		return nil
	}
	granted := r.dispatcher.Subscribe(m.Ref, m.From, m.Opts)
	return r.grantAndTopUp(granted)
}

func (r *Runtime) onAsk(m proto.Ask) error {
	if r.prodSubs == nil || !r.prodSubs.Has(m.Ref) {
		_ = m.From.Send(proto.Cancel{Ref: m.Ref, From: r.self, Reason: proto.CancelUnknownSubscription})
		return nil
	}
	granted := r.dispatcher.Ask(m.Ref, m.Count)
	return r.grantAndTopUp(granted)
}

// grantAndTopUp drains the buffer against freshly granted demand and, if
// any residual remains, routes it to whichever callback owns supplying
// more events for this kind (spec.md §4.4's dispatch-then-callout flow).
func (r *Runtime) grantAndTopUp(granted int) error {
	residual := r.pipeline.GrantDemand(granted)
	if residual <= 0 {
		return nil
	}

	switch r.kind {
	case kindProducer:
		events, action := r.producerCB.HandleDemand(residual)
		if err := r.applyAction(action); err != nil {
			return err
		}
		r.pipeline.DispatchEvents(events)

	case kindProducerConsumer:
		deliveries, askUpstream := r.bridge.OnDownstreamDemand(residual)
		for _, batch := range deliveries {
			if err := r.deliverPCEvents(batch.Events, r.upstreamAddr(batch.ProducerRef)); err != nil {
				return err
			}
		}
		if askUpstream > 0 {
			r.askUpstream(askUpstream)
		}
	}
	return nil
}

// askUpstream forwards demand into every one of a PRODUCER_CONSUMER's
// currently-acked upstream subscriptions (spec.md §3's
// PRODUCER_CONSUMER_PASSTHROUGH demand state). Fanning the same amount to
// every upstream producer is a deliberate simplification for the common
// single-upstream case; ordered fan-in across multiple producers is
// explicitly out of scope (see SPEC_FULL.md Non-goals).
func (r *Runtime) askUpstream(n int) {
	r.consSubs.Each(func(ref mailbox.Ref, e *subscription.ProducerEntry) {
		if err := e.Addr.Send(proto.Ask{Ref: ref, From: r.self, Count: n}); err == nil {
			r.metrics.AskSent(ref.String(), n)
		}
	})
}

func (r *Runtime) upstreamAddr(ref mailbox.Ref) mailbox.Address {
	if e, ok := r.consSubs.Get(ref); ok {
		return e.Addr
	}
	return mailbox.Address{}
}

func (r *Runtime) deliverPCEvents(events []any, from mailbox.Address) error {
	if len(events) == 0 {
		return nil
	}
	eventsOut, action := r.pcCB.HandleEvents(events, from)
	if err := r.applyAction(action); err != nil {
		return err
	}
	r.pipeline.DispatchEvents(eventsOut)
	return nil
}

// --- consumer side: spec.md §4.2, §4.3, §4.5 ---

func (r *Runtime) onAck(m proto.Ack) error {
	if r.consSubs == nil {
		return nil
	}
	pending, ok := r.consSubs.Pending(m.Ref)
	if !ok {
		return nil // stale or duplicate ACK; self-heals
	}

	decision, action := r.common.HandleSubscribe(RoleProducer, m.Opts, m.From)
	if err := r.applyAction(action); err != nil {
		return err
	}

	if r.kind == kindProducerConsumer {
		r.consSubs.Promote(m.Ref, subscription.DemandState{Mode: subscription.Passthrough})
		if amt := r.bridge.OutstandingDemand(); amt > 0 && r.bridge.QueueLen() == 0 {
			if err := m.From.Send(proto.Ask{Ref: m.Ref, From: r.self, Count: amt}); err == nil {
				r.metrics.AskSent(m.Ref.String(), amt)
			}
		}
		return nil
	}

	if decision == Manual {
		r.consSubs.Promote(m.Ref, subscription.DemandState{Mode: subscription.Manual, Min: pending.Min, Max: pending.Max})
		return nil
	}

	r.consSubs.Promote(m.Ref, subscription.DemandState{Mode: subscription.Automatic, Pending: pending.Max, Min: pending.Min, Max: pending.Max})
	if err := m.From.Send(proto.Ask{Ref: m.Ref, From: r.self, Count: pending.Max}); err == nil {
		r.metrics.AskSent(m.Ref.String(), pending.Max)
	}
	return nil
}

func (r *Runtime) onEvents(m proto.Events) error {
	if r.kind == kindProducerConsumer {
		immediate := r.bridge.OnUpstreamEvents(m.Batch, m.Ref)
		return r.deliverPCEvents(immediate, r.upstreamAddr(m.Ref))
	}
	if r.consSubs == nil {
		r.log.Errorf("stage %q received Events but is not a consumer; dropping", r.name)
		return nil
	}

	entry, ok := r.consSubs.Get(m.Ref)
	if !ok {
		_ = m.From.Send(proto.Cancel{Ref: m.Ref, From: r.self, Reason: proto.CancelUnknownSubscription})
		return nil
	}
	// Route every reply for this subscription off the stored producer
	// address rather than m.From: it is what onSubscribe monitored and
	// what every other consumer-side send (Ask, Cancel, askUpstream) uses,
	// so a subscription's traffic always targets one consistent peer.
	from := entry.Addr

	if entry.Demand.Mode == subscription.Manual {
		eventsOut, action := r.consumerCB.HandleEvents(m.Batch, from)
		if len(eventsOut) > 0 {
			return &stageerrors.BadReturn{Callback: "handle_events", Value: eventsOut}
		}
		return r.applyAction(action)
	}

	steps, next, excess := demand.Plan(entry.Demand, m.Batch)
	entry.Demand = next
	if excess > 0 {
		r.metrics.ExcessEvents(m.Ref.String(), excess)
		r.log.Warnf("received %d more events than requested on subscription %s", excess, m.Ref)
	}

	for _, step := range steps {
		eventsOut, action := r.consumerCB.HandleEvents(step.Events, from)
		if len(eventsOut) > 0 {
			return &stageerrors.BadReturn{Callback: "handle_events", Value: eventsOut}
		}
		if err := r.applyAction(action); err != nil {
			return err
		}
		if step.AskAmount > 0 {
			if err := from.Send(proto.Ask{Ref: m.Ref, From: r.self, Count: step.AskAmount}); err == nil {
				r.metrics.AskSent(m.Ref.String(), step.AskAmount)
			}
		}
	}
	return nil
}

func (r *Runtime) onNotification(m proto.Notification) error {
	if r.notifCB == nil {
		r.log.Debugf("dropped notification on subscription %s: no handler", m.Ref)
		return nil
	}
	return r.applyAction(r.notifCB.HandleNotification(m.Msg, m.From))
}

// --- cancellation and monitoring: spec.md §4.2 ---

func (r *Runtime) onCancel(m proto.Cancel) error {
	if r.prodSubs != nil {
		if entry, ok := r.prodSubs.Remove(m.Ref); ok {
			entry.Addr.Demonitor(entry.Monitor)
			r.pipeline.SetConsumerCount(r.prodSubs.Count())
			r.metrics.SubscriptionCancelled(m.Ref.String(), "peer")

			events, action := r.common.HandleCancel(CancelInfo{Kind: CancelKindCancel, Reason: m.Err}, m.From)
			if err := r.applyAction(action); err != nil {
				return err
			}
			r.emit(events)

			granted := r.dispatcher.Cancel(m.Ref)
			return r.grantAndTopUp(granted)
		}
	}
	if r.consSubs != nil {
		if monitor, cancelPolicy, ok := r.consSubs.Remove(m.Ref); ok {
			m.From.Demonitor(monitor)
			r.metrics.SubscriptionCancelled(m.Ref.String(), "producer")

			events, action := r.common.HandleCancel(CancelInfo{Kind: CancelKindCancel, Reason: m.Err}, m.From)
			if err := r.applyAction(action); err != nil {
				return err
			}
			r.emit(events)

			if cancelPolicy == proto.Permanent {
				return stopReasonForCancel(m)
			}
		}
	}
	return nil
}

func stopReasonForCancel(m proto.Cancel) error {
	if m.Err != nil {
		return m.Err
	}
	if m.Reason == proto.CancelNormal {
		return stageerrors.Normal
	}
	return fmt.Errorf("subscription %s cancelled: %s", m.Ref, m.Reason)
}

func (r *Runtime) onDown(d mailbox.Down) error {
	if r.prodSubs != nil {
		if ref, ok := r.prodSubs.RefByMonitor(d.Ref); ok {
			r.prodSubs.Remove(ref)
			r.pipeline.SetConsumerCount(r.prodSubs.Count())
			r.metrics.SubscriptionCancelled(ref.String(), "down")

			events, action := r.common.HandleCancel(CancelInfo{Kind: CancelKindDown, Reason: d.Reason}, d.Peer)
			if err := r.applyAction(action); err != nil {
				return err
			}
			r.emit(events)

			granted := r.dispatcher.Cancel(ref)
			return r.grantAndTopUp(granted)
		}
	}
	if r.consSubs != nil {
		if ref, ok := r.consSubs.RefByMonitor(d.Ref); ok {
			// A producer that crashes before its ACK arrives never became a
			// real subscription: apply the cancel policy but skip
			// handle_cancel entirely (spec.md §4.2).
			wasPending := r.consSubs.IsPending(ref)
			_, cancelPolicy, _ := r.consSubs.Remove(ref)
			r.metrics.SubscriptionCancelled(ref.String(), "down")

			if !wasPending {
				events, action := r.common.HandleCancel(CancelInfo{Kind: CancelKindDown, Reason: d.Reason}, d.Peer)
				if err := r.applyAction(action); err != nil {
					return err
				}
				r.emit(events)
			}

			if cancelPolicy == proto.Permanent {
				if stageerrors.IsClean(d.Reason) {
					return stageerrors.Normal
				}
				return fmt.Errorf("producer %s exited: %w", ref, d.Reason)
			}
		}
	}
	return nil
}

// --- ambient messages: spec.md §4.1 handle_call/cast/info, §4.6 sync_notify ---

func (r *Runtime) onCall(m mailbox.CallRequest) error {
	if nr, ok := m.Payload.(notifyRequest); ok {
		if r.pipeline == nil {
			m.Reply <- fmt.Errorf("stage %q is not a producer", r.name)
			return nil
		}
		r.pipeline.Notify(nr.msg)
		m.Reply <- nil
		return nil
	}

	if r.callCB == nil {
		m.Reply <- fmt.Errorf("stage %q has no call handler", r.name)
		return nil
	}
	reply, events, action := r.callCB.HandleCall(m.Payload)
	m.Reply <- reply
	r.emit(events)
	return r.applyAction(action)
}

func (r *Runtime) onCast(payload any) error {
	if r.castCB == nil {
		r.log.Debugf("stage %q dropped cast: no cast handler", r.name)
		return nil
	}
	events, action := r.castCB.HandleCast(payload)
	r.emit(events)
	return r.applyAction(action)
}

func (r *Runtime) onInfo(msg any) error {
	if r.infoCB == nil {
		r.log.Debugf("stage %q dropped info message %T: no info handler", r.name, msg)
		return nil
	}
	events, action := r.infoCB.HandleInfo(msg)
	r.emit(events)
	return r.applyAction(action)
}

// --- consumer-facing subscription API ---
//
// Subscribe, CancelSubscription, and Ask touch kernel-private subscription
// state and must only be called from the stage's own goroutine: from
// inside Run before it starts serving (init-time subscribe_to is exactly
// this), or from inside one of the stage's own callbacks. Calling them
// from an unrelated goroutine races with the kernel loop; use Cast or Call
// to ask the stage to subscribe on its own behalf instead.

// Subscribe opens a new subscription to target, sending SUBSCRIBE once
// this side has monitored target (spec.md §4.2, §6).
func (r *Runtime) Subscribe(target mailbox.Address, opts ...SubscribeOption) (mailbox.Ref, error) {
	return r.subscribeLocked(target, opts...)
}

func (r *Runtime) subscribeLocked(target mailbox.Address, opts ...SubscribeOption) (mailbox.Ref, error) {
	if r.consSubs == nil {
		return mailbox.Ref{}, &stageerrors.BadOpts{Msg: "stage is not a consumer"}
	}
	subOpts, err := buildSubscribeOpts(opts...)
	if err != nil {
		return mailbox.Ref{}, err
	}

	ref := mailbox.NewRef()
	monitor := target.Monitor(r.self)
	r.consSubs.AddPending(ref, subscription.PendingEntry{
		Addr: target, Cancel: subOpts.Cancel, Min: subOpts.MinDemand, Max: subOpts.MaxDemand,
		Opts: subOpts, Monitor: monitor,
	})
	if err := target.Send(proto.Subscribe{Ref: ref, From: r.self, Opts: subOpts}); err != nil {
		return ref, err
	}
	return ref, nil
}

// CancelSubscription ends a subscription this stage holds to a producer,
// whether or not it has been acked yet.
func (r *Runtime) CancelSubscription(ref mailbox.Ref) error {
	if r.consSubs == nil {
		return &stageerrors.BadOpts{Msg: "stage is not a consumer"}
	}
	addr, ok := r.subscriptionAddr(ref)
	if !ok {
		return &stageerrors.UnknownSubscription{Ref: ref.String()}
	}
	monitor, _, _ := r.consSubs.Remove(ref)
	addr.Demonitor(monitor)
	return addr.Send(proto.Cancel{Ref: ref, From: r.self, Reason: proto.CancelNormal})
}

func (r *Runtime) subscriptionAddr(ref mailbox.Ref) (mailbox.Address, bool) {
	if e, ok := r.consSubs.Get(ref); ok {
		return e.Addr, true
	}
	if p, ok := r.consSubs.Pending(ref); ok {
		return p.Addr, true
	}
	return mailbox.Address{}, false
}

// Ask grants n further events on a MANUAL-mode subscription (spec.md §4.3:
// "MANUAL: the module drives demand explicitly via ask/2").
func (r *Runtime) Ask(ref mailbox.Ref, n int) error {
	if r.consSubs == nil {
		return &stageerrors.BadOpts{Msg: "stage is not a consumer"}
	}
	entry, ok := r.consSubs.Get(ref)
	if !ok {
		return &stageerrors.UnknownSubscription{Ref: ref.String()}
	}
	if entry.Demand.Mode != subscription.Manual {
		return &stageerrors.BadOpts{Msg: "Ask is only valid on a MANUAL subscription"}
	}
	if err := entry.Addr.Send(proto.Ask{Ref: ref, From: r.self, Count: n}); err != nil {
		return err
	}
	r.metrics.AskSent(ref.String(), n)
	return nil
}
