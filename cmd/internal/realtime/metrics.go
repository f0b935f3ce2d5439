package realtime

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the engine's Prometheus collectors.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	connected      *prometheus.GaugeVec
	admissions     *prometheus.CounterVec
	subscriptions  *prometheus.CounterVec
	subscribeFails *prometheus.CounterVec
	clientRejects  *prometheus.CounterVec
	delivered      *prometheus.CounterVec
	dropped        *prometheus.CounterVec
}

// NewMetrics creates the collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		connected: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "pulse",
			Name:      "connected_sockets",
			Help:      "Currently admitted connections.",
		}, []string{"app"}),
		admissions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "pulse",
			Name:      "connection_admissions_total",
			Help:      "Connection admission attempts by result.",
		}, []string{"app", "result"}),
		subscriptions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "pulse",
			Name:      "subscriptions_total",
			Help:      "Successful subscriptions by channel kind.",
		}, []string{"app", "kind"}),
		subscribeFails: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "pulse",
			Name:      "subscription_errors_total",
			Help:      "Rejected subscriptions by status code.",
		}, []string{"app", "code"}),
		clientRejects: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "pulse",
			Name:      "client_events_rejected_total",
			Help:      "Rejected client events by status code.",
		}, []string{"app", "code"}),
		delivered: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "pulse",
			Name:      "frames_delivered_total",
			Help:      "Frames enqueued to subscribers by source.",
		}, []string{"app", "source"}),
		dropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "pulse",
			Name:      "delivery_drops_total",
			Help:      "Recipients evicted because their send queue was full.",
		}, []string{"app"}),
	}

	for _, c := range []prometheus.Collector{
		m.connected, m.admissions, m.subscriptions, m.subscribeFails,
		m.clientRejects, m.delivered, m.dropped,
	} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *Metrics) admitted(appID string) {
	if m == nil {
		return
	}
	m.admissions.WithLabelValues(appID, "ok").Inc()
	m.connected.WithLabelValues(appID).Inc()
}

func (m *Metrics) rejected(appID string) {
	if m == nil {
		return
	}
	m.admissions.WithLabelValues(appID, "over_quota").Inc()
}

func (m *Metrics) released(appID string) {
	if m == nil {
		return
	}
	m.connected.WithLabelValues(appID).Dec()
}

func (m *Metrics) subscribed(appID string, k Kind) {
	if m == nil {
		return
	}
	m.subscriptions.WithLabelValues(appID, k.String()).Inc()
}

func (m *Metrics) subscribeFailed(appID string, code int) {
	if m == nil {
		return
	}
	m.subscribeFails.WithLabelValues(appID, strconv.Itoa(code)).Inc()
}

func (m *Metrics) clientEventRejected(appID string, code int) {
	if m == nil {
		return
	}
	m.clientRejects.WithLabelValues(appID, strconv.Itoa(code)).Inc()
}

func (m *Metrics) fannedOut(appID, source string, n int) {
	if m == nil || n == 0 {
		return
	}
	m.delivered.WithLabelValues(appID, source).Add(float64(n))
}

func (m *Metrics) evicted(appID string, n int) {
	if m == nil || n == 0 {
		return
	}
	m.dropped.WithLabelValues(appID).Add(float64(n))
}
