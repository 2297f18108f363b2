// Package metrics exposes consumer counters and timings as Prometheus
// collectors on a private registry.
package metrics

import (
	"net/http"
	"time"

	"github.com/ibs-source/ledger-consumer/internal/queue"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "ledger_consumer"

// Collector records consumer activity.
type Collector struct {
	registry        *prometheus.Registry
	messages        *prometheus.CounterVec
	retries         prometheus.Counter
	processDuration *prometheus.HistogramVec
}

// NewCollector creates and registers the consumer metrics. Go runtime and
// process collectors are registered alongside.
func NewCollector() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		messages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_total",
			Help:      "Messages settled, by disposition.",
		}, []string{"disposition"}),
		retries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "retries_total",
			Help:      "Processing attempts re-run after a transient failure.",
		}),
		processDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "process_duration_seconds",
			Help:      "Duration of one processing attempt, by outcome or failure kind.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 4, 8),
		}, []string{"outcome"}),
	}

	c.registry.MustRegister(
		c.messages,
		c.retries,
		c.processDuration,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	// zero-initialise so every disposition shows up before it first happens
	for _, d := range []queue.Disposition{queue.Completed, queue.Abandoned, queue.DeadLettered} {
		c.messages.WithLabelValues(string(d))
	}
	return c
}

// ObserveProcess records the duration of one attempt.
func (c *Collector) ObserveProcess(outcome string, d time.Duration) {
	c.processDuration.WithLabelValues(outcome).Observe(d.Seconds())
}

// IncRetry counts one retry attempt.
func (c *Collector) IncRetry() {
	c.retries.Inc()
}

// IncDisposition counts one settled message.
func (c *Collector) IncDisposition(d queue.Disposition) {
	c.messages.WithLabelValues(string(d)).Inc()
}

// Handler serves the registry in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// Registry returns the underlying registry.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}
