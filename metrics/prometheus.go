package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Recorder records prediction engine metrics using Prometheus.
type Recorder struct {
	registry      *prometheus.Registry
	generations   *prometheus.CounterVec
	confidence    *prometheus.HistogramVec
	verifications *prometheus.CounterVec
	results       *prometheus.CounterVec
	jobDuration   *prometheus.HistogramVec
}

// New creates a new Prometheus metrics recorder backed by its own registry.
func New() *Recorder {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)

	return &Recorder{
		registry: registry,
		generations: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "blockcast_generations_total",
				Help: "Total number of prediction generations by outcome and decision tree",
			},
			[]string{"ticker", "outcome", "tree"},
		),
		confidence: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "blockcast_prediction_confidence",
				Help:    "Confidence of generated predictions",
				Buckets: prometheus.LinearBuckets(5, 10, 10),
			},
			[]string{"ticker", "tree"},
		),
		verifications: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "blockcast_verifications_total",
				Help: "Total number of prediction verifications by outcome",
			},
			[]string{"ticker", "outcome"},
		),
		results: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "blockcast_verification_results_total",
				Help: "Total number of verified predictions by decision tree and result",
			},
			[]string{"ticker", "tree", "result"},
		),
		jobDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "blockcast_job_duration_seconds",
				Help:    "Duration of scheduled jobs in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"job"},
		),
	}
}

// RecordGeneration records a prediction generation outcome. The tree is empty when no
// prediction was made.
func (r *Recorder) RecordGeneration(ticker string, outcome string, tree string) {
	r.generations.WithLabelValues(ticker, outcome, tree).Inc()
}

// RecordConfidence records the confidence of a generated prediction.
func (r *Recorder) RecordConfidence(ticker string, tree string, confidence float64) {
	r.confidence.WithLabelValues(ticker, tree).Observe(confidence)
}

// RecordVerification records a prediction verification outcome.
func (r *Recorder) RecordVerification(ticker string, outcome string) {
	r.verifications.WithLabelValues(ticker, outcome).Inc()
}

// RecordResult records the result of a verified prediction.
func (r *Recorder) RecordResult(ticker string, tree string, result string) {
	r.results.WithLabelValues(ticker, tree, result).Inc()
}

// RecordJobDuration records scheduled job latency in seconds.
func (r *Recorder) RecordJobDuration(job string, seconds float64) {
	r.jobDuration.WithLabelValues(job).Observe(seconds)
}

// Handler returns the http handler exposing the recorded metrics.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}
