package repository

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	globalMetrics *Metrics
	metricsOnce   sync.Once
)

// Metrics holds Prometheus metrics for the digest pipeline.
type Metrics struct {
	RequestsTotal        *prometheus.CounterVec
	FilesTotal           *prometheus.CounterVec
	SkippedEntriesTotal  prometheus.Counter
	CleanupFailuresTotal prometheus.Counter
	StageDuration        *prometheus.HistogramVec
	DigestBytes          prometheus.Histogram
}

// DefaultMetrics registers the pipeline metrics with the default
// registry once and returns them.
func DefaultMetrics() *Metrics {
	metricsOnce.Do(func() {
		globalMetrics = NewMetrics(prometheus.DefaultRegisterer)
	})
	return globalMetrics
}

// NewMetrics creates the pipeline metrics and registers them with reg.
//
// Metrics:
//   - repodigest_requests_total{outcome}
//   - repodigest_files_total{verdict}
//   - repodigest_skipped_entries_total
//   - repodigest_workspace_cleanup_failures_total
//   - repodigest_stage_duration_seconds{stage}
//   - repodigest_digest_bytes
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		RequestsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "repodigest_requests_total",
				Help: "Total number of digest requests by outcome",
			},
			[]string{"outcome"},
		),
		FilesTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "repodigest_files_total",
				Help: "Total number of files considered, by filter verdict",
			},
			[]string{"verdict"}, // "accepted" or a rejection reason
		),
		SkippedEntriesTotal: f.NewCounter(
			prometheus.CounterOpts{
				Name: "repodigest_skipped_entries_total",
				Help: "Total number of unreadable files and directories skipped",
			},
		),
		CleanupFailuresTotal: f.NewCounter(
			prometheus.CounterOpts{
				Name: "repodigest_workspace_cleanup_failures_total",
				Help: "Total number of workspaces that could not be removed",
			},
		),
		StageDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "repodigest_stage_duration_seconds",
				Help:    "Duration of pipeline stages in seconds",
				Buckets: prometheus.ExponentialBuckets(0.005, 2, 12), // 5ms to ~10s
			},
			[]string{"stage"},
		),
		DigestBytes: f.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "repodigest_digest_bytes",
				Help:    "Size of rendered digests in bytes",
				Buckets: prometheus.ExponentialBuckets(1024, 4, 10), // 1KiB to ~256MiB
			},
		),
	}
}

// RecordRequest counts a finished request.
func (m *Metrics) RecordRequest(outcome string) {
	m.RequestsTotal.WithLabelValues(outcome).Inc()
}

// RecordFile counts a filter verdict.
func (m *Metrics) RecordFile(verdict string) {
	m.FilesTotal.WithLabelValues(verdict).Inc()
}

// RecordSkipped counts an unreadable entry.
func (m *Metrics) RecordSkipped() {
	m.SkippedEntriesTotal.Inc()
}

// RecordCleanupFailure counts a workspace that survived release.
func (m *Metrics) RecordCleanupFailure() {
	m.CleanupFailuresTotal.Inc()
}

// RecordStage observes a stage duration.
func (m *Metrics) RecordStage(stage string, seconds float64) {
	m.StageDuration.WithLabelValues(stage).Observe(seconds)
}

// RecordDigestSize observes a rendered digest size.
func (m *Metrics) RecordDigestSize(n int) {
	m.DigestBytes.Observe(float64(n))
}
