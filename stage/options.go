package stage

import (
	"github.com/arrowstream/stagepipe/mailbox"
	"github.com/arrowstream/stagepipe/stage/buffer"
	"github.com/arrowstream/stagepipe/stage/dispatch"
	"github.com/arrowstream/stagepipe/stage/proto"
	"github.com/arrowstream/stagepipe/stagelog"
	"github.com/arrowstream/stagepipe/stagemetrics"
	"github.com/arrowstream/stagepipe/stageerrors"
)

// SubscribeOption configures a single subscription, spec.md §6's
// subscription options (cancel, min_demand, max_demand, plus a dispatcher
// extension bag).
type SubscribeOption func(*subscribeConfig)

type subscribeConfig struct {
	cancel *proto.CancelPolicy
	min    *int
	max    *int
	extra  map[string]any
}

// WithCancel overrides the default PERMANENT cancel policy.
func WithCancel(p proto.CancelPolicy) SubscribeOption {
	return func(c *subscribeConfig) { c.cancel = &p }
}

// WithMinDemand overrides the default max_demand/2 low-water mark.
func WithMinDemand(n int) SubscribeOption {
	return func(c *subscribeConfig) { c.min = &n }
}

// WithMaxDemand overrides the default max_demand of 1000.
func WithMaxDemand(n int) SubscribeOption {
	return func(c *subscribeConfig) { c.max = &n }
}

// WithExtra attaches a dispatcher-specific option, such as Partition's
// "partition" key, to a subscription (spec.md §6: dispatcher "may accept
// additional plugin-specific subscription options").
func WithExtra(key string, value any) SubscribeOption {
	return func(c *subscribeConfig) {
		if c.extra == nil {
			c.extra = make(map[string]any)
		}
		c.extra[key] = value
	}
}

// buildSubscribeOpts validates and fills in defaults per spec.md §6:
// max_demand defaults to 1000, min_demand to max_demand/2, cancel to
// PERMANENT.
func buildSubscribeOpts(opts ...SubscribeOption) (proto.SubscribeOpts, error) {
	cfg := subscribeConfig{}
	for _, o := range opts {
		o(&cfg)
	}

	max := 1000
	if cfg.max != nil {
		max = *cfg.max
	}
	if max < 1 {
		return proto.SubscribeOpts{}, &stageerrors.BadOpts{Msg: "max_demand must be >= 1"}
	}

	min := max / 2
	if cfg.min != nil {
		min = *cfg.min
	}
	if min < 0 || min >= max {
		return proto.SubscribeOpts{}, &stageerrors.BadOpts{Msg: "min_demand must satisfy 0 <= min_demand < max_demand"}
	}

	cancel := proto.Permanent
	if cfg.cancel != nil {
		cancel = *cfg.cancel
	}

	return proto.SubscribeOpts{Cancel: cancel, MinDemand: min, MaxDemand: max, Extra: cfg.extra}, nil
}

// subscribeToSpec is one entry of the consumer-side "subscribe_to" init
// option (spec.md §6): a producer address to subscribe to as soon as the
// stage starts running.
type subscribeToSpec struct {
	target mailbox.Address
	opts   []SubscribeOption
}

// bufferConfig is the shared producer-side init configuration used by both
// NewProducer and NewProducerConsumer.
type bufferConfig struct {
	size       *int
	keep       *buffer.Keep
	dispatcher dispatch.Dispatcher
}

func (c bufferConfig) resolve() dispatch.Config {
	cfg := dispatch.DefaultConfig()
	if c.size != nil {
		cfg.BufferSize = *c.size
	}
	if c.keep != nil {
		cfg.Keep = *c.keep
	}
	return cfg
}

func (c bufferConfig) resolveDispatcher(fallback dispatch.Dispatcher) dispatch.Dispatcher {
	if c.dispatcher != nil {
		return c.dispatcher
	}
	return fallback
}

// ProducerOption configures a PRODUCER stage's init options.
type ProducerOption func(*producerConfig)

type producerConfig struct {
	buffer  bufferConfig
	log     stagelog.Modular
	metrics stagemetrics.Recorder
	inbox   int
}

// WithBufferSize overrides the default buffer_size of 10000. Pass
// buffer.Unbounded for no limit.
func WithBufferSize(n int) ProducerOption {
	return func(c *producerConfig) { c.buffer.size = &n }
}

// WithKeepPolicy overrides the default buffer_keep of LAST.
func WithKeepPolicy(k buffer.Keep) ProducerOption {
	return func(c *producerConfig) { c.buffer.keep = &k }
}

// WithDispatcher overrides the default demand-fair dispatcher.
func WithDispatcher(d dispatch.Dispatcher) ProducerOption {
	return func(c *producerConfig) { c.buffer.dispatcher = d }
}

// WithLogger attaches a stagelog.Modular logger; the default is a no-op.
func WithLogger(l stagelog.Modular) ProducerOption {
	return func(c *producerConfig) { c.log = l }
}

// WithMetrics attaches a stagemetrics.Recorder; the default is a no-op.
func WithMetrics(m stagemetrics.Recorder) ProducerOption {
	return func(c *producerConfig) { c.metrics = m }
}

// WithInboxSize overrides the mailbox's inbound channel buffer (default 64).
func WithInboxSize(n int) ProducerOption {
	return func(c *producerConfig) { c.inbox = n }
}

// ConsumerOption configures a CONSUMER stage's init options.
type ConsumerOption func(*consumerConfig)

type consumerConfig struct {
	subscribeTo []subscribeToSpec
	log         stagelog.Modular
	metrics     stagemetrics.Recorder
	inbox       int
}

// WithSubscribeTo requests an automatic subscription to target as soon as
// the stage starts running (spec.md §6's "subscribe_to" init option).
func WithSubscribeTo(target mailbox.Address, opts ...SubscribeOption) ConsumerOption {
	return func(c *consumerConfig) {
		c.subscribeTo = append(c.subscribeTo, subscribeToSpec{target: target, opts: opts})
	}
}

func WithConsumerLogger(l stagelog.Modular) ConsumerOption {
	return func(c *consumerConfig) { c.log = l }
}

func WithConsumerMetrics(m stagemetrics.Recorder) ConsumerOption {
	return func(c *consumerConfig) { c.metrics = m }
}

func WithConsumerInboxSize(n int) ConsumerOption {
	return func(c *consumerConfig) { c.inbox = n }
}

// PCOption configures a PRODUCER_CONSUMER stage's init options: the union
// of a producer's buffer options and a consumer's subscribe_to option.
type PCOption func(*pcConfig)

type pcConfig struct {
	buffer      bufferConfig
	subscribeTo []subscribeToSpec
	log         stagelog.Modular
	metrics     stagemetrics.Recorder
	inbox       int
}

func WithPCBufferSize(n int) PCOption {
	return func(c *pcConfig) { c.buffer.size = &n }
}

func WithPCKeepPolicy(k buffer.Keep) PCOption {
	return func(c *pcConfig) { c.buffer.keep = &k }
}

func WithPCDispatcher(d dispatch.Dispatcher) PCOption {
	return func(c *pcConfig) { c.buffer.dispatcher = d }
}

func WithPCSubscribeTo(target mailbox.Address, opts ...SubscribeOption) PCOption {
	return func(c *pcConfig) {
		c.subscribeTo = append(c.subscribeTo, subscribeToSpec{target: target, opts: opts})
	}
}

func WithPCLogger(l stagelog.Modular) PCOption {
	return func(c *pcConfig) { c.log = l }
}

func WithPCMetrics(m stagemetrics.Recorder) PCOption {
	return func(c *pcConfig) { c.metrics = m }
}

func WithPCInboxSize(n int) PCOption {
	return func(c *pcConfig) { c.inbox = n }
}
