package monitoring

import (
	"liveroom/internal/core/domain"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// PrometheusCollector exports coordination events. It implements
// services.Metrics and registers everything on the default registry.
type PrometheusCollector struct {
	connectionState *prometheus.GaugeVec
	reconnectsTotal prometheus.Counter

	messagesDroppedTotal *prometheus.CounterVec
	speakGrantsTotal     prometheus.Counter

	callsStartedTotal  prometheus.Counter
	callsResolvedTotal *prometheus.CounterVec

	sessionsActive prometheus.Gauge
	sessionsTotal  prometheus.Counter
}

func NewPrometheusCollector() *PrometheusCollector {
	return &PrometheusCollector{
		connectionState: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "liveroom_connection_state",
			Help: "Current room connection state (1 for the active state)",
		}, []string{"state"}),

		reconnectsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "liveroom_reconnects_total",
			Help: "Total number of reconnect attempts",
		}),

		messagesDroppedTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "liveroom_data_messages_dropped_total",
			Help: "Total number of dropped in-room data messages",
		}, []string{"reason"}),

		speakGrantsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "liveroom_speak_grants_total",
			Help: "Total number of speaking permissions granted",
		}),

		callsStartedTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "liveroom_calls_started_total",
			Help: "Total number of calls initiated or received",
		}),

		callsResolvedTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "liveroom_calls_resolved_total",
			Help: "Total number of resolved calls by end reason",
		}, []string{"reason"}),

		sessionsActive: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "liveroom_sessions_active",
			Help: "Number of live sessions this instance participates in",
		}),

		sessionsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "liveroom_sessions_total",
			Help: "Total number of sessions joined or created",
		}),
	}
}

var connectionStates = []domain.ConnectionState{
	domain.ConnDisconnected,
	domain.ConnConnecting,
	domain.ConnConnected,
	domain.ConnReconnecting,
}

func (p *PrometheusCollector) ConnectionStateChanged(state domain.ConnectionState) {
	for _, s := range connectionStates {
		value := 0.0
		if s == state {
			value = 1.0
		}
		p.connectionState.WithLabelValues(string(s)).Set(value)
	}
}

func (p *PrometheusCollector) ReconnectStarted() {
	p.reconnectsTotal.Inc()
}

func (p *PrometheusCollector) DataMessageDropped(reason string) {
	p.messagesDroppedTotal.WithLabelValues(reason).Inc()
}

func (p *PrometheusCollector) SpeakGrantIssued() {
	p.speakGrantsTotal.Inc()
}

func (p *PrometheusCollector) CallStarted() {
	p.callsStartedTotal.Inc()
}

func (p *PrometheusCollector) CallResolved(reason domain.CallEndReason) {
	p.callsResolvedTotal.WithLabelValues(string(reason)).Inc()
}

func (p *PrometheusCollector) SessionStarted() {
	p.sessionsActive.Inc()
	p.sessionsTotal.Inc()
}

func (p *PrometheusCollector) SessionEnded() {
	p.sessionsActive.Dec()
}
