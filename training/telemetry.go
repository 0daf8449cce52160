package training

import (
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
)

// Recorder publishes per-epoch training figures to its own Prometheus
// registry.
type Recorder struct {
	registry     *prometheus.Registry
	Loss         *prometheus.GaugeVec
	Accuracy     *prometheus.GaugeVec
	LearningRate prometheus.Gauge
	Epoch        prometheus.Gauge
	Samples      *prometheus.CounterVec
}

// NewRecorder creates and registers the training collectors. runID is
// attached to every series as a constant label.
func NewRecorder(runID string) *Recorder {
	constLabels := prometheus.Labels{"run_id": runID}
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		Loss: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name:        "liveness_loss",
			Help:        "Mean loss of the last pass over a split.",
			ConstLabels: constLabels,
		}, []string{"split"}),
		Accuracy: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name:        "liveness_accuracy",
			Help:        "Accuracy of the last pass over a split.",
			ConstLabels: constLabels,
		}, []string{"split"}),
		LearningRate: prometheus.NewGauge(prometheus.GaugeOpts{
			Name:        "liveness_learning_rate",
			Help:        "Learning rate in effect.",
			ConstLabels: constLabels,
		}),
		Epoch: prometheus.NewGauge(prometheus.GaugeOpts{
			Name:        "liveness_epoch",
			Help:        "Last completed epoch.",
			ConstLabels: constLabels,
		}),
		Samples: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "liveness_samples_total",
			Help:        "Samples processed per split.",
			ConstLabels: constLabels,
		}, []string{"split"}),
	}
	r.registry.MustRegister(r.Loss, r.Accuracy, r.LearningRate, r.Epoch, r.Samples)
	return r
}

// Registry exposes the registry, e.g. for promhttp.
func (r *Recorder) Registry() *prometheus.Registry {
	return r.registry
}

// ObservePass records the outcome of one pass over split.
func (r *Recorder) ObservePass(split string, m *RunningMetrics) {
	r.Loss.WithLabelValues(split).Set(m.Loss())
	r.Accuracy.WithLabelValues(split).Set(m.Acc())
	r.Samples.WithLabelValues(split).Add(float64(m.Total))
}

// ObserveEpoch records the epoch number and learning rate.
func (r *Recorder) ObserveEpoch(epoch int, lr float64) {
	r.Epoch.Set(float64(epoch))
	r.LearningRate.Set(lr)
}

// WriteToTextfile dumps the registry in the node-exporter textfile format.
func (r *Recorder) WriteToTextfile(path string) error {
	if path == "" {
		return nil
	}
	return errors.Wrapf(prometheus.WriteToTextfile(path, r.registry), "write metrics to %s", path)
}
