package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "kconsume"

// Skip reasons.
const (
	ReasonNoPayload   = "no_payload"
	ReasonInvalidUTF8 = "invalid_utf8"
)

// Error kinds.
const (
	KindDelivery = "delivery"
	KindCommit   = "commit"
	KindConsume  = "consume"
)

// Counters holds the counters needed for the consumer metrics. A nil *Counters is valid and counts nothing.
type Counters struct {
	Consumed *prometheus.CounterVec
	Printed  *prometheus.CounterVec
	Skipped  *prometheus.CounterVec
	Acked    *prometheus.CounterVec
	Errors   *prometheus.CounterVec
}

// NewCounters returns the consumer counters registered with reg.
func NewCounters(reg prometheus.Registerer) *Counters {
	c := &Counters{
		Consumed: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "messages_consumed_total",
				Help:      "How many messages were received from the brokers",
			},
			[]string{"topic"},
		),
		Printed: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "messages_printed_total",
				Help:      "How many message payloads were written to standard output",
			},
			[]string{"topic"},
		),
		Skipped: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "messages_skipped_total",
				Help:      "How many messages were not printed",
			},
			[]string{"topic", "reason"},
		),
		Acked: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "messages_acked_total",
				Help:      "How many messages were acknowledged",
			},
			[]string{"topic"},
		),
		Errors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "errors_total",
				Help:      "A counter of the number of errors",
			},
			[]string{"kind"},
		),
	}
	reg.MustRegister(
		c.Consumed,
		c.Printed,
		c.Skipped,
		c.Acked,
		c.Errors,
	)
	return c
}

func (c *Counters) MessageConsumed(topic string) {
	if c != nil {
		c.Consumed.WithLabelValues(topic).Inc()
	}
}

func (c *Counters) MessagePrinted(topic string) {
	if c != nil {
		c.Printed.WithLabelValues(topic).Inc()
	}
}

func (c *Counters) MessageSkipped(topic, reason string) {
	if c != nil {
		c.Skipped.WithLabelValues(topic, reason).Inc()
	}
}

func (c *Counters) MessageAcked(topic string) {
	if c != nil {
		c.Acked.WithLabelValues(topic).Inc()
	}
}

func (c *Counters) Error(kind string) {
	if c != nil {
		c.Errors.WithLabelValues(kind).Inc()
	}
}
