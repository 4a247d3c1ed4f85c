package softphone

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/arzzra/ws_softphone/pkg/notify"
)

const metricsNamespace = "softphone"

// Metrics счетчики софтфона, обновляются по уведомлениям компонентов
type Metrics struct {
	registrations *prometheus.CounterVec
	calls         *prometheus.CounterVec
	incoming      *prometheus.CounterVec
	callDuration  prometheus.Histogram
	disconnects   *prometheus.CounterVec
}

// NewMetrics регистрирует метрики в reg. active сообщает, занят ли слот вызова.
func NewMetrics(reg prometheus.Registerer, active func() bool) *Metrics {
	factory := promauto.With(reg)
	m := &Metrics{
		registrations: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "channel",
			Name:      "registrations_total",
			Help:      "REGISTER outcomes by result",
		}, []string{"outcome"}),
		disconnects: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "channel",
			Name:      "disconnects_total",
			Help:      "Signaling channel disconnects by cause",
		}, []string{"cause"}),
		calls: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "calls",
			Name:      "finished_total",
			Help:      "Finished calls by direction and cause",
		}, []string{"direction", "outcome"}),
		incoming: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "calls",
			Name:      "incoming_rejected_total",
			Help:      "Incoming INVITEs rejected without creating a call",
		}, []string{"cause"}),
		callDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Subsystem: "calls",
			Name:      "duration_seconds",
			Help:      "Talk time of confirmed calls",
			Buckets:   []float64{1, 5, 10, 30, 60, 300, 900, 1800, 3600},
		}),
	}
	factory.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: metricsNamespace,
		Subsystem: "calls",
		Name:      "active",
		Help:      "1 while the call slot is occupied",
	}, func() float64 {
		if active != nil && active() {
			return 1
		}
		return 0
	})
	return m
}

// Observe учитывает уведомление
func (m *Metrics) Observe(n notify.Notification) {
	switch n.Kind {
	case notify.KindRegistered:
		m.registrations.WithLabelValues("registered").Inc()
	case notify.KindRegistrationFailed:
		m.registrations.WithLabelValues(n.Cause).Inc()
	case notify.KindUnregistered:
		m.registrations.WithLabelValues("unregistered").Inc()
	case notify.KindDisconnected:
		m.disconnects.WithLabelValues(n.Cause).Inc()
	case notify.KindIncomingRejected:
		m.incoming.WithLabelValues(n.Cause).Inc()
	case notify.KindCallEnded, notify.KindCallFailed:
		m.calls.WithLabelValues(n.Direction, n.Cause).Inc()
		if n.Duration > 0 {
			m.callDuration.Observe(n.Duration.Seconds())
		}
	}
}
