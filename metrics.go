package apns

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus collectors of a manager. All methods are safe
// to call on a nil *Metrics.
type Metrics struct {
	framesSent      prometheus.Counter
	tokensDelivered prometheus.Counter
	tokensResend    prometheus.Counter
	reconnects      prometheus.Counter
	errorFrames     *prometheus.CounterVec
	queueLength     prometheus.Gauge
}

// NewMetrics creates the collectors and registers them with reg. A nil reg
// means prometheus.DefaultRegisterer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)
	return &Metrics{
		framesSent: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "apns",
			Name:      "frames_sent_total",
			Help:      "Total number of notification frames written to the gateway",
		}),
		tokensDelivered: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "apns",
			Name:      "tokens_delivered_total",
			Help:      "Total number of device tokens reported as delivered",
		}),
		tokensResend: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "apns",
			Name:      "tokens_resend_total",
			Help:      "Total number of device tokens reported as must resend",
		}),
		reconnects: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "apns",
			Name:      "reconnects_total",
			Help:      "Total number of push connections established after a failure",
		}),
		errorFrames: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "apns",
			Name:      "error_frames_total",
			Help:      "Total number of error responses received from the gateway",
		}, []string{"status"}),
		queueLength: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "apns",
			Name:      "queue_length",
			Help:      "Number of notifications waiting to be written",
		}),
	}
}

func (m *Metrics) frameSent() {
	if m != nil {
		m.framesSent.Inc()
	}
}

func (m *Metrics) result(r *SendResult) {
	if m != nil && r != nil {
		m.tokensDelivered.Add(float64(len(r.Delivered)))
		m.tokensResend.Add(float64(len(r.MustResend)))
	}
}

func (m *Metrics) reconnected() {
	if m != nil {
		m.reconnects.Inc()
	}
}

func (m *Metrics) errorFrame(status Status) {
	if m != nil {
		m.errorFrames.WithLabelValues(status.String()).Inc()
	}
}

func (m *Metrics) queued(n int) {
	if m != nil {
		m.queueLength.Set(float64(n))
	}
}
