// Package metrics exposes host-side Prometheus metrics. A nil *Metrics is
// valid and records nothing.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Result labels for commands and story events.
const (
	ResultOK         = "ok"
	ResultError      = "error"
	ResultSequencing = "sequencing_error"
	ResultDecode     = "decode_error"
	ResultStore      = "store_error"
)

// Metrics holds the collectors of one host.
type Metrics struct {
	targetsConnected prometheus.Gauge
	commands         *prometheus.CounterVec
	storyEvents      *prometheus.CounterVec
	decodeDuration   prometheus.Histogram
	protocolErrors   prometheus.Counter
	droppedEvents    prometheus.Counter
}

// New creates the collectors and registers them with reg. A nil reg skips
// registration.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		targetsConnected: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "remoteprof_targets_connected",
			Help: "Targets with an open connection.",
		}),
		commands: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "remoteprof_commands_total",
			Help: "Host commands sent to targets, by command and result.",
		}, []string{"command", "result"}),
		storyEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "remoteprof_story_events_total",
			Help: "Story events received from targets, by event and result.",
		}, []string{"event", "result"}),
		decodeDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "remoteprof_decode_duration_seconds",
			Help:    "Time to decode and persist one story event.",
			Buckets: prometheus.ExponentialBuckets(0.0001, 2, 14),
		}),
		protocolErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "remoteprof_protocol_errors_total",
			Help: "Connections closed because of malformed frames.",
		}),
		droppedEvents: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "remoteprof_dropped_events_total",
			Help: "Queued story events discarded at connection teardown.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.targetsConnected, m.commands, m.storyEvents,
			m.decodeDuration, m.protocolErrors, m.droppedEvents)
	}
	return m
}

func (m *Metrics) TargetConnected() {
	if m != nil {
		m.targetsConnected.Inc()
	}
}

func (m *Metrics) TargetDisconnected() {
	if m != nil {
		m.targetsConnected.Dec()
	}
}

// Command counts one host command.
func (m *Metrics) Command(command string, err error) {
	if m == nil {
		return
	}
	result := ResultOK
	if err != nil {
		result = ResultError
	}
	m.commands.WithLabelValues(command, result).Inc()
}

// StoryEvent counts one decoded story event and its duration.
func (m *Metrics) StoryEvent(event, result string, took time.Duration) {
	if m == nil {
		return
	}
	m.storyEvents.WithLabelValues(event, result).Inc()
	m.decodeDuration.Observe(took.Seconds())
}

func (m *Metrics) ProtocolError() {
	if m != nil {
		m.protocolErrors.Inc()
	}
}

func (m *Metrics) DroppedEvents(n int) {
	if m != nil && n > 0 {
		m.droppedEvents.Add(float64(n))
	}
}
