package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "lavadoc"

var (
	DocumentUpdates = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "document_updates_total", Help: "Document update attempts by outcome."},
		[]string{"outcome"},
	)
	DocumentVersion = prometheus.NewGauge(
		prometheus.GaugeOpts{Namespace: namespace, Name: "document_version", Help: "Version number of the current head."},
	)
	VersionsEvicted = prometheus.NewCounter(
		prometheus.CounterOpts{Namespace: namespace, Name: "versions_evicted_total", Help: "Version records dropped by retention."},
	)
	VersionCache = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "version_cache_total", Help: "Version cache lookups by result."},
		[]string{"result"},
	)
	Restores = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "restores_total", Help: "Restore requests by outcome."},
		[]string{"outcome"},
	)
	AssistRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "assist_requests_total", Help: "Generator-driven edits by outcome."},
		[]string{"outcome"},
	)
	GeneratorLatency = prometheus.NewHistogram(
		prometheus.HistogramOpts{Namespace: namespace, Name: "generator_seconds", Help: "Content generator call latency.", Buckets: prometheus.ExponentialBuckets(0.25, 2, 8)},
	)
	Messages = prometheus.NewCounter(
		prometheus.CounterOpts{Namespace: namespace, Name: "messages_total", Help: "Chat and notification messages appended."},
	)
	RateLimitRejected = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "rate_limit_rejected_total", Help: "Requests rejected by the rate limiter by route."},
		[]string{"route"},
	)
	PollFetches = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "poll_fetches_total", Help: "Sync poller fetches by result."},
		[]string{"result"},
	)
	JobRuns = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "job_runs_total", Help: "Scheduled job runs by job and result."},
		[]string{"job", "result"},
	)
)

func RegisterCollectors(reg prometheus.Registerer) {
	reg.MustRegister(
		DocumentUpdates,
		DocumentVersion,
		VersionsEvicted,
		VersionCache,
		Restores,
		AssistRequests,
		GeneratorLatency,
		Messages,
		RateLimitRejected,
		PollFetches,
		JobRuns,
	)
}
