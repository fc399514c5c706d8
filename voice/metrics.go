package voice

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics are the Prometheus collectors for voice sessions. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	FramesSent          prometheus.Counter
	SendFailures        prometheus.Counter
	SpeakingTransitions *prometheus.CounterVec
	Heartbeats          prometheus.Counter
	TickLateness        prometheus.Histogram
	ActiveSessions      prometheus.Gauge
}

// NewMetrics creates the collectors and registers them to reg. A nil reg
// creates unregistered collectors.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)

	return &Metrics{
		FramesSent: f.NewCounter(prometheus.CounterOpts{
			Namespace: "voice",
			Name:      "frames_sent_total",
			Help:      "Audio datagrams written.",
		}),
		SendFailures: f.NewCounter(prometheus.CounterOpts{
			Namespace: "voice",
			Name:      "send_failures_total",
			Help:      "Audio datagrams that failed to be written.",
		}),
		SpeakingTransitions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "voice",
			Name:      "speaking_transitions_total",
			Help:      "Speaking state changes sent to the voice server.",
		}, []string{"speaking"}),
		Heartbeats: f.NewCounter(prometheus.CounterOpts{
			Namespace: "voice",
			Name:      "heartbeats_total",
			Help:      "Heartbeats sent.",
		}),
		TickLateness: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: "voice",
			Name:      "tick_lateness_seconds",
			Help:      "How late the audio pacer woke up for each frame.",
			Buckets:   []float64{0.0001, 0.00025, 0.0005, 0.001, 0.002, 0.005, 0.01, 0.02, 0.1},
		}),
		ActiveSessions: f.NewGauge(prometheus.GaugeOpts{
			Namespace: "voice",
			Name:      "active_sessions",
			Help:      "Sessions currently streaming audio.",
		}),
	}
}

func (m *Metrics) frameSent() {
	if m != nil {
		m.FramesSent.Inc()
	}
}

func (m *Metrics) sendFailed() {
	if m != nil {
		m.SendFailures.Inc()
	}
}

func (m *Metrics) speaking(speaking bool) {
	if m == nil {
		return
	}

	label := "false"
	if speaking {
		label = "true"
	}

	m.SpeakingTransitions.WithLabelValues(label).Inc()
}

func (m *Metrics) heartbeat() {
	if m != nil {
		m.Heartbeats.Inc()
	}
}

func (m *Metrics) lateness(d time.Duration) {
	if m != nil {
		m.TickLateness.Observe(d.Seconds())
	}
}

func (m *Metrics) active(delta float64) {
	if m != nil {
		m.ActiveSessions.Add(delta)
	}
}
