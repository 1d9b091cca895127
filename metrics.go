package gatewayws

import (
	"github.com/prometheus/client_golang/prometheus"
)

const metricsNamespace = "gatewayws"

// Metrics records session activity. A nil *Metrics is valid and records nothing.
type Metrics struct {
	heartbeatsSent    prometheus.Counter
	missedAcks        prometheus.Counter
	envelopesReceived *prometheus.CounterVec
	envelopesDropped  prometheus.Counter
	dispatches        *prometheus.CounterVec
	state             prometheus.Gauge
}

// NewMetrics builds the collectors and registers them on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		heartbeatsSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "heartbeat",
			Name:      "sent_total",
			Help:      "Heartbeats sent to the gateway.",
		}),
		missedAcks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "heartbeat",
			Name:      "missed_acks_total",
			Help:      "Heartbeat windows that elapsed without an acknowledgement.",
		}),
		envelopesReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "envelopes",
			Name:      "received_total",
			Help:      "Envelopes received, by opcode.",
		}, []string{"op"}),
		envelopesDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "envelopes",
			Name:      "dropped_total",
			Help:      "Inbound frames that could not be decoded.",
		}),
		dispatches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "dispatch",
			Name:      "events_total",
			Help:      "DISPATCH events forwarded to the sink, by event type.",
		}, []string{"event_type"}),
		state: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Subsystem: "session",
			Name:      "state",
			Help:      "Current session state (0 idle .. 5 closed).",
		}),
	}

	if reg != nil {
		reg.MustRegister(
			m.heartbeatsSent,
			m.missedAcks,
			m.envelopesReceived,
			m.envelopesDropped,
			m.dispatches,
			m.state,
		)
	}
	return m
}

func (m *Metrics) HeartbeatSent() {
	if m == nil {
		return
	}
	m.heartbeatsSent.Inc()
}

func (m *Metrics) MissedAck() {
	if m == nil {
		return
	}
	m.missedAcks.Inc()
}

func (m *Metrics) EnvelopeReceived(op Opcode) {
	if m == nil {
		return
	}
	m.envelopesReceived.WithLabelValues(op.String()).Inc()
}

func (m *Metrics) EnvelopeDropped() {
	if m == nil {
		return
	}
	m.envelopesDropped.Inc()
}

func (m *Metrics) Dispatched(eventType string) {
	if m == nil {
		return
	}
	m.dispatches.WithLabelValues(eventType).Inc()
}

func (m *Metrics) SetState(s State) {
	if m == nil {
		return
	}
	m.state.Set(float64(s))
}
