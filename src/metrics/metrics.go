// Package metrics provides Prometheus collectors for the telemetry core.
// All methods are safe to call on a nil *Collector, so components can run
// without metrics wired.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Collector holds every metric exported by the core.
type Collector struct {
	// Stream
	connected     prometheus.Gauge
	reconnects    *prometheus.CounterVec
	dispatched    prometheus.Counter
	dropped       *prometheus.CounterVec
	handlerPanics prometheus.Counter

	// Aggregation
	frames     *prometheus.CounterVec
	entities   prometheus.Gauge
	recomputes prometheus.Counter
	storeErrs  *prometheus.CounterVec
}

// New registers the collectors with reg.
func New(reg prometheus.Registerer) *Collector {
	f := promauto.With(reg)
	return &Collector{
		connected: f.NewGauge(prometheus.GaugeOpts{
			Name: "pulse_stream_connected",
			Help: "1 while the stream connection is authenticated",
		}),
		reconnects: f.NewCounterVec(prometheus.CounterOpts{
			Name: "pulse_stream_reconnects_total",
			Help: "Scheduled reconnects by trigger",
		}, []string{"trigger"}),
		dispatched: f.NewCounter(prometheus.CounterOpts{
			Name: "pulse_stream_messages_dispatched_total",
			Help: "Messages fanned out to subscribers",
		}),
		dropped: f.NewCounterVec(prometheus.CounterOpts{
			Name: "pulse_stream_messages_dropped_total",
			Help: "Inbound messages dropped before fan-out",
		}, []string{"reason"}),
		handlerPanics: f.NewCounter(prometheus.CounterOpts{
			Name: "pulse_stream_handler_panics_total",
			Help: "Recovered subscriber panics",
		}),
		frames: f.NewCounterVec(prometheus.CounterOpts{
			Name: "pulse_aggregator_frames_total",
			Help: "Frames seen by aggregators by outcome",
		}, []string{"outcome"}),
		entities: f.NewGauge(prometheus.GaugeOpts{
			Name: "pulse_aggregator_entities",
			Help: "Entities with a live aggregator",
		}),
		recomputes: f.NewCounter(prometheus.CounterOpts{
			Name: "pulse_fleet_recomputes_total",
			Help: "Fleet aggregate recomputation passes",
		}),
		storeErrs: f.NewCounterVec(prometheus.CounterOpts{
			Name: "pulse_store_errors_total",
			Help: "Failed durable store operations",
		}, []string{"op"}),
	}
}

// SetConnected records whether the stream is authenticated.
func (c *Collector) SetConnected(up bool) {
	if c == nil {
		return
	}
	if up {
		c.connected.Set(1)
		return
	}
	c.connected.Set(0)
}

// Reconnect counts a scheduled reconnect ("graceful", "backoff", "visible").
func (c *Collector) Reconnect(trigger string) {
	if c == nil {
		return
	}
	c.reconnects.WithLabelValues(trigger).Inc()
}

// Dispatched counts a message delivered to the subscriber set.
func (c *Collector) Dispatched() {
	if c == nil {
		return
	}
	c.dispatched.Inc()
}

// Dropped counts an inbound message dropped for reason.
func (c *Collector) Dropped(reason string) {
	if c == nil {
		return
	}
	c.dropped.WithLabelValues(reason).Inc()
}

// HandlerPanic counts a recovered subscriber panic.
func (c *Collector) HandlerPanic() {
	if c == nil {
		return
	}
	c.handlerPanics.Inc()
}

// Frame counts a frame outcome ("accepted", "stale", "foreign").
func (c *Collector) Frame(outcome string) {
	if c == nil {
		return
	}
	c.frames.WithLabelValues(outcome).Inc()
}

// SetEntities records the number of live aggregators.
func (c *Collector) SetEntities(n int) {
	if c == nil {
		return
	}
	c.entities.Set(float64(n))
}

// Recompute counts a fleet recomputation pass.
func (c *Collector) Recompute() {
	if c == nil {
		return
	}
	c.recomputes.Inc()
}

// StoreError counts a failed store operation ("get", "set").
func (c *Collector) StoreError(op string) {
	if c == nil {
		return
	}
	c.storeErrs.WithLabelValues(op).Inc()
}
