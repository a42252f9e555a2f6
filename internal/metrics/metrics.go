package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Ingest metrics
	IngestRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "visibility_ingest_requests_total",
			Help: "Total number of ingest requests",
		},
		[]string{"status"},
	)

	CitationsExtracted = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "visibility_citations_extracted",
			Help:    "Citations extracted per ingested response",
			Buckets: []float64{0, 1, 2, 5, 10, 20, 50},
		},
	)

	CitationInserts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "visibility_citation_inserts_total",
			Help: "Citation insert outcomes",
		},
		[]string{"result"}, // inserted, duplicate
	)

	CandidatesRejected = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "visibility_citation_candidates_rejected_total",
			Help: "URL candidates dropped because they did not normalize",
		},
	)

	// Batch job metrics
	JobRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "visibility_job_runs_total",
			Help: "Total number of batch job runs",
		},
		[]string{"job", "status"},
	)

	JobDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "visibility_job_duration_seconds",
			Help:    "Batch job duration in seconds",
			Buckets: []float64{0.05, 0.1, 0.5, 1, 5, 15, 60, 300},
		},
		[]string{"job"},
	)

	JobsSkipped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "visibility_job_skipped_total",
			Help: "Scheduled ticks skipped because the previous run was still active",
		},
		[]string{"job"},
	)

	DomainsScored = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "visibility_domains_scored",
			Help: "Number of domains scored by the last scoring run",
		},
	)

	CorpusCitations = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "visibility_corpus_citations",
			Help: "Citations in the last corpus snapshot",
		},
	)

	// Competitor metrics
	CompetitorRefreshes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "visibility_competitor_refreshes_total",
			Help: "Competitor refreshes per target",
		},
		[]string{"status"},
	)

	CacheLookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "visibility_cache_lookups_total",
			Help: "Competitor cache lookups",
		},
		[]string{"result"}, // hit, miss, error
	)

	// HTTP metrics
	HTTPRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "visibility_http_requests_total",
			Help: "HTTP requests served by the gateway",
		},
		[]string{"route", "code"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "visibility_http_request_duration_seconds",
			Help:    "HTTP request latency",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route"},
	)

	RateLimited = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "visibility_rate_limited_total",
			Help: "Requests rejected by a rate limiter",
		},
		[]string{"limiter"},
	)
)

// RecordJob records the outcome of one batch job run
func RecordJob(job string, err error, durationSeconds float64) {
	status := "success"
	if err != nil {
		status = "error"
	}
	JobRuns.WithLabelValues(job, status).Inc()
	JobDuration.WithLabelValues(job).Observe(durationSeconds)
}

// RecordCitationInserts splits extracted citations into inserted and duplicate counts
func RecordCitationInserts(inserted, extracted int) {
	if inserted > 0 {
		CitationInserts.WithLabelValues("inserted").Add(float64(inserted))
	}
	if dup := extracted - inserted; dup > 0 {
		CitationInserts.WithLabelValues("duplicate").Add(float64(dup))
	}
}
