package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics contains the Prometheus series for the journaling pipeline.
type Metrics struct {
	// Turn metrics
	Turns      *prometheus.CounterVec
	Processing prometheus.Gauge

	// Stage metrics
	StageDuration *prometheus.HistogramVec
	StageFailures *prometheus.CounterVec
}

// New creates the metrics and registers them with reg. A nil reg uses the
// default registerer.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		Turns: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "voice_journal_turns_total",
			Help: "Total number of finished turns by outcome",
		}, []string{"status"}),
		Processing: factory.NewGauge(prometheus.GaugeOpts{
			Name: "voice_journal_turn_in_progress",
			Help: "1 while a turn is being processed",
		}),
		StageDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "voice_journal_stage_duration_seconds",
			Help:    "Duration of each pipeline stage",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 10), // 50ms to ~25s
		}, []string{"stage"}),
		StageFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "voice_journal_stage_failures_total",
			Help: "Total number of failed pipeline stages",
		}, []string{"stage"}),
	}
}

// ObserveStage records how long a stage took and whether it failed.
func (m *Metrics) ObserveStage(stage string, d time.Duration, err error) {
	m.StageDuration.WithLabelValues(stage).Observe(d.Seconds())
	if err != nil {
		m.StageFailures.WithLabelValues(stage).Inc()
	}
}

// ObserveTurn increments the turn counter for status.
func (m *Metrics) ObserveTurn(status string) {
	m.Turns.WithLabelValues(status).Inc()
}

func (m *Metrics) SetProcessing(processing bool) {
	if processing {
		m.Processing.Set(1)
		return
	}
	m.Processing.Set(0)
}
