package stagemetrics

import "github.com/prometheus/client_golang/prometheus"

// Prometheus is a Recorder that publishes stagepipe counters through the
// standard client_golang registry, grounded on the teacher's use of
// GetCounter/GetCounterVec-style aggregation throughout lib/broker and
// lib/pipeline, adapted to a fixed set of labelled vectors instead of a
// free-form path string.
type Prometheus struct {
	bufferDropped    *prometheus.CounterVec
	excessEvents     *prometheus.CounterVec
	eventsDispatched *prometheus.CounterVec
	asksSent         *prometheus.CounterVec
	cancellations    *prometheus.CounterVec
}

// NewPrometheus registers stagepipe's counters against reg and returns a
// Recorder backed by them. Passing nil uses prometheus.DefaultRegisterer.
func NewPrometheus(reg prometheus.Registerer) *Prometheus {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	p := &Prometheus{
		bufferDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "stagepipe",
			Name:      "buffer_dropped_total",
			Help:      "Events discarded by a producer's buffer keep-policy.",
		}, []string{"stage"}),
		excessEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "stagepipe",
			Name:      "excess_events_total",
			Help:      "Events delivered beyond a subscription's outstanding demand.",
		}, []string{"ref"}),
		eventsDispatched: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "stagepipe",
			Name:      "events_dispatched_total",
			Help:      "Events handed to a dispatcher for routing.",
		}, []string{"stage"}),
		asksSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "stagepipe",
			Name:      "asks_sent_total",
			Help:      "ASK messages issued by consumers.",
		}, []string{"ref"}),
		cancellations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "stagepipe",
			Name:      "subscriptions_cancelled_total",
			Help:      "Subscription cancellations, by cause.",
		}, []string{"ref", "cause"}),
	}
	reg.MustRegister(
		p.bufferDropped, p.excessEvents, p.eventsDispatched,
		p.asksSent, p.cancellations,
	)
	return p
}

func (p *Prometheus) BufferDropped(stage string, n int) {
	p.bufferDropped.WithLabelValues(stage).Add(float64(n))
}

func (p *Prometheus) ExcessEvents(ref string, n int) {
	p.excessEvents.WithLabelValues(ref).Add(float64(n))
}

func (p *Prometheus) EventsDispatched(stage string, n int) {
	p.eventsDispatched.WithLabelValues(stage).Add(float64(n))
}

func (p *Prometheus) AskSent(ref string, n int) {
	p.asksSent.WithLabelValues(ref).Add(float64(n))
}

func (p *Prometheus) SubscriptionCancelled(ref string, cause string) {
	p.cancellations.WithLabelValues(ref, cause).Inc()
}
