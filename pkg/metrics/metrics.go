package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Store metrics
	StoreCertificatesTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "cevast_store_certificates_total",
			Help: "Number of certificates currently persisted in a store",
		},
		[]string{"storage"},
	)

	StoreInsertsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cevast_store_inserts_total",
			Help: "Total number of certificates inserted into a store",
		},
		[]string{"storage"},
	)

	StoreDeletesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cevast_store_deletes_total",
			Help: "Total number of certificates deleted from a store",
		},
		[]string{"storage"},
	)

	StoreCommitsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cevast_store_commits_total",
			Help: "Total number of store transaction commits by outcome",
		},
		[]string{"storage", "outcome"}, // outcome: "ok", "rolled_back"
	)

	StoreCommitDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "cevast_store_commit_duration_seconds",
			Help:    "Time taken to commit a store transaction, including block rewrites",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"storage"},
	)

	StoreExistenceCacheHits = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cevast_store_existence_cache_hits_total",
			Help: "Existence checks answered by the advisory cache, by result",
		},
		[]string{"storage", "result"}, // result: "hit", "miss", "stale"
	)

	// Pipeline metrics
	PipelineStageDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "cevast_pipeline_stage_duration_seconds",
			Help:    "Time taken to run one pipeline stage for one dataset",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"source", "stage"},
	)

	PipelineStagesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cevast_pipeline_stages_total",
			Help: "Total number of pipeline stage runs by outcome",
		},
		[]string{"source", "stage", "outcome"}, // outcome: "ok", "failed"
	)

	// Unifier metrics
	UnifyCertsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cevast_unify_certificates_total",
			Help: "Total number of certificates read from a certs dump",
		},
		[]string{"source"},
	)

	UnifyChainsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cevast_unify_chains_total",
			Help: "Total number of host chains written, by completeness",
		},
		[]string{"source", "completeness"}, // completeness: "full", "broken"
	)

	// Analyser metrics
	AnalyseRowsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cevast_analyse_rows_total",
			Help: "Total number of analysis rows written to the CSV output",
		},
		[]string{"source"},
	)

	AnalyseBrokenChainsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cevast_analyse_broken_chains_total",
			Help: "Total number of chains skipped because a certificate was missing",
		},
		[]string{"source"},
	)

	AnalyseVerificationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "cevast_analyse_verification_duration_seconds",
			Help:    "Time taken by a single verifier invocation",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method"},
	)
)

func init() {
	prometheus.MustRegister(
		StoreCertificatesTotal,
		StoreInsertsTotal,
		StoreDeletesTotal,
		StoreCommitsTotal,
		StoreCommitDuration,
		StoreExistenceCacheHits,
		PipelineStageDuration,
		PipelineStagesTotal,
		UnifyCertsTotal,
		UnifyChainsTotal,
		AnalyseRowsTotal,
		AnalyseBrokenChainsTotal,
		AnalyseVerificationDuration,
	)
}

// Handler returns the Prometheus HTTP handler for exposition on /metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer is a helper for timing operations and recording their duration
// to a histogram.
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer, starting now.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the elapsed duration to a histogram.
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	histogram.Observe(time.Since(t.start).Seconds())
}

// ObserveDurationVec records the elapsed duration to a histogram vec
// with the given label values.
func (t *Timer) ObserveDurationVec(histogram prometheus.ObserverVec, labels ...string) {
	histogram.WithLabelValues(labels...).Observe(time.Since(t.start).Seconds())
}

// Duration returns the elapsed time since the timer started.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
