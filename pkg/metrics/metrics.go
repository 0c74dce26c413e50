// Package metrics collects Prometheus counters and gauges describing the
// delivery pipeline's own health: queue depth, events delivered, dropped,
// and expired per sink, and a sink up/down gauge. It mirrors the shape of
// the teacher's pkg/engine/metrics.go, but registers against a
// caller-supplied registry instead of the global default collector, so
// embedding quill into a larger process never collides with that
// process's own metric names.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Set is the collection of collectors quill's delivery and retry workers
// report to. A nil *Set is safe to use — every method is a no-op — so
// callers that don't care about metrics don't need to construct one.
type Set struct {
	QueueDepth       prometheus.Gauge
	EventsDelivered  *prometheus.CounterVec
	EventsDropped    *prometheus.CounterVec
	EventsExpired    *prometheus.CounterVec
	SinkUp           *prometheus.GaugeVec
	RetryWorkers     prometheus.Gauge
}

// New creates a Set and registers all its collectors against reg. Passing
// a fresh prometheus.NewRegistry() avoids polluting the process's default
// registry when quill is embedded in a larger service that has its own
// metrics.
func New(reg prometheus.Registerer) *Set {
	s := &Set{
		QueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "quill_delivery_queue_depth",
			Help: "Number of events currently waiting in the delivery worker's queue.",
		}),
		EventsDelivered: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "quill_events_delivered_total",
			Help: "Total number of events successfully delivered to a sink.",
		}, []string{"sink"}),
		EventsDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "quill_events_dropped_total",
			Help: "Total number of events dropped before reaching any sink.",
		}, []string{"reason"}),
		EventsExpired: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "quill_events_expired_total",
			Help: "Total number of events expired out of a retry worker's queue.",
		}, []string{"sink", "level"}),
		SinkUp: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "quill_sink_up",
			Help: "1 if the sink is currently accepting direct writes, 0 if it is in retry mode.",
		}, []string{"sink"}),
		RetryWorkers: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "quill_retry_workers_active",
			Help: "Number of retry workers currently active.",
		}),
	}
	reg.MustRegister(s.QueueDepth, s.EventsDelivered, s.EventsDropped,
		s.EventsExpired, s.SinkUp, s.RetryWorkers)
	return s
}

func (s *Set) setQueueDepth(n int) {
	if s == nil {
		return
	}
	s.QueueDepth.Set(float64(n))
}

func (s *Set) delivered(sink string) {
	if s == nil {
		return
	}
	s.EventsDelivered.WithLabelValues(sink).Inc()
}

func (s *Set) dropped(reason string) {
	if s == nil {
		return
	}
	s.EventsDropped.WithLabelValues(reason).Inc()
}

func (s *Set) expired(sink, level string, n int) {
	if s == nil || n == 0 {
		return
	}
	s.EventsExpired.WithLabelValues(sink, level).Add(float64(n))
}

func (s *Set) sinkUp(sink string, up bool) {
	if s == nil {
		return
	}
	v := 0.0
	if up {
		v = 1.0
	}
	s.SinkUp.WithLabelValues(sink).Set(v)
}

func (s *Set) retryWorkers(n int) {
	if s == nil {
		return
	}
	s.RetryWorkers.Set(float64(n))
}

// SetQueueDepth records the current delivery queue length.
func (s *Set) SetQueueDepth(n int) { s.setQueueDepth(n) }

// RecordDelivered counts one successful write to the named sink.
func (s *Set) RecordDelivered(sink string) { s.delivered(sink) }

// RecordDropped counts one event dropped before reaching any sink.
func (s *Set) RecordDropped(reason string) { s.dropped(reason) }

// RecordExpired counts n events expired out of a retry worker's queue.
func (s *Set) RecordExpired(sink, level string, n int) { s.expired(sink, level, n) }

// SetSinkUp marks a sink as currently accepting direct writes (up) or in
// retry mode (down).
func (s *Set) SetSinkUp(sink string, up bool) { s.sinkUp(sink, up) }

// SetRetryWorkers records the number of currently active retry workers.
func (s *Set) SetRetryWorkers(n int) { s.retryWorkers(n) }
