package metrics

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	SessionsStarted = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "inspection_sessions_started_total",
			Help: "Total inspection sessions created",
		},
	)

	SessionsCompleted = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "inspection_sessions_completed_total",
			Help: "Total inspection sessions that reached the terminal state",
		},
	)

	AdvanceTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "inspection_advance_total",
			Help: "Advance attempts by outcome",
		},
		[]string{"status"},
	)

	SkipTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "inspection_skip_total",
			Help: "Audited step skips by step and reason",
		},
		[]string{"step", "reason"},
	)

	VersionConflicts = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "inspection_session_version_conflicts_total",
			Help: "Session writes lost to the version compare-and-swap",
		},
	)

	CompletenessScore = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "inspection_completeness_score",
			Help:    "Completeness scores recorded after session mutations",
			Buckets: []float64{0, 10, 25, 50, 75, 90, 100},
		},
	)

	EvidenceAttached = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "inspection_evidence_attached_total",
			Help: "Evidence assets attached by kind",
		},
		[]string{"kind"},
	)

	AnalysisRecorded = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "inspection_analysis_recorded_total",
			Help: "Provider analysis verdicts recorded by validity",
		},
		[]string{"verdict"},
	)

	AnalysisDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "inspection_analysis_duration_seconds",
			Help:    "Provider analysis round-trip duration",
			Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60},
		},
	)

	AnalysisDropped = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "inspection_analysis_dropped_total",
			Help: "Analysis jobs dropped because the dispatch queue was full",
		},
	)

	AnalysisFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "inspection_analysis_failures_total",
			Help: "Provider analysis calls that failed after retries",
		},
	)

	CacheHits = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "inspection_cache_hits_total",
			Help: "Total cache hits",
		},
		[]string{"cache_type"},
	)

	CacheMisses = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "inspection_cache_misses_total",
			Help: "Total cache misses",
		},
		[]string{"cache_type"},
	)

	WebSocketSubscribers = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "inspection_websocket_subscribers",
			Help: "Currently connected session event subscribers",
		},
	)
)

func Init() {
	prometheus.MustRegister(SessionsStarted)
	prometheus.MustRegister(SessionsCompleted)
	prometheus.MustRegister(AdvanceTotal)
	prometheus.MustRegister(SkipTotal)
	prometheus.MustRegister(VersionConflicts)
	prometheus.MustRegister(CompletenessScore)
	prometheus.MustRegister(EvidenceAttached)
	prometheus.MustRegister(AnalysisRecorded)
	prometheus.MustRegister(AnalysisDuration)
	prometheus.MustRegister(AnalysisDropped)
	prometheus.MustRegister(AnalysisFailures)
	prometheus.MustRegister(CacheHits)
	prometheus.MustRegister(CacheMisses)
	prometheus.MustRegister(WebSocketSubscribers)
}

func MetricsHandler() fiber.Handler {
	return adaptor.HTTPHandler(promhttp.Handler())
}
