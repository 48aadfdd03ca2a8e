package styletransfer

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics exposes training progress to Prometheus.
type Metrics struct {
	Loss         *prometheus.GaugeVec
	Steps        prometheus.Counter
	GatedSteps   prometheus.Counter
	GradientNorm prometheus.Gauge
}

// NewMetrics registers training metrics with reg.
// A nil reg creates metrics which are not registered
// anywhere.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		Loss: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "styletransfer",
			Name:      "loss",
			Help:      "Most recent value of each training loss.",
		}, []string{"loss"}),
		Steps: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "styletransfer",
			Name:      "steps_total",
			Help:      "Number of completed training steps.",
		}),
		GatedSteps: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "styletransfer",
			Name:      "gated_steps_total",
			Help:      "Training steps whose adversarial term was suppressed.",
		}),
		GradientNorm: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "styletransfer",
			Name:      "autoencoder_gradient_norm",
			Help:      "Autoencoder gradient norm before clipping.",
		}),
	}
}

func (m *Metrics) observe(losses Losses, gated bool, gradNorm float64) {
	for name, value := range losses {
		m.Loss.WithLabelValues(name).Set(value)
	}
	m.Steps.Inc()
	if gated {
		m.GatedSteps.Inc()
	}
	m.GradientNorm.Set(gradNorm)
}
