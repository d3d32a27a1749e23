package metrics

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	AnalysisDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "cardioscan_analysis_duration_seconds",
			Help:    "Remote analysis round-trip duration in seconds",
			Buckets: []float64{1, 2, 5, 10, 20, 30, 60, 120},
		},
		[]string{"provider"},
	)

	AnalysisTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cardioscan_analysis_total",
			Help: "Total analyses by outcome",
		},
		[]string{"outcome"},
	)

	SafetyOverrides = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "cardioscan_safety_overrides_total",
			Help: "Results rewritten because a normal diagnosis carried a critical urgency",
		},
	)

	ConfidenceScore = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "cardioscan_confidence_score",
			Help:    "Reported diagnosis confidence",
			Buckets: []float64{0.1, 0.2, 0.3, 0.4, 0.5, 0.6, 0.7, 0.8, 0.9, 1.0},
		},
	)

	LLMTokensUsed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cardioscan_llm_tokens_used",
			Help: "Total model tokens used",
		},
		[]string{"model", "type"},
	)

	IngestionTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cardioscan_ingestion_total",
			Help: "Files ingested by media type and outcome",
		},
		[]string{"media_type", "status"},
	)

	RasterizeDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "cardioscan_pdf_rasterize_duration_seconds",
			Help:    "PDF first-page rasterization duration in seconds",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
		},
	)

	HistoryRecords = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cardioscan_history_operations_total",
			Help: "History mutations by operation",
		},
		[]string{"operation"},
	)

	BackupOperations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cardioscan_backup_operations_total",
			Help: "Backup exports and imports by outcome",
		},
		[]string{"operation", "status"},
	)

	ActiveSessions = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "cardioscan_scanner_sessions",
			Help: "Scanner sessions held in memory",
		},
	)

	RateLimited = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cardioscan_rate_limited_total",
			Help: "Requests rejected by the rate limiter",
		},
		[]string{"limiter"},
	)

	CircuitState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "cardioscan_circuit_state",
			Help: "Circuit breaker state (0 closed, 1 half-open, 2 open)",
		},
		[]string{"name"},
	)
)

func Init() {
	prometheus.MustRegister(AnalysisDuration)
	prometheus.MustRegister(AnalysisTotal)
	prometheus.MustRegister(SafetyOverrides)
	prometheus.MustRegister(ConfidenceScore)
	prometheus.MustRegister(LLMTokensUsed)
	prometheus.MustRegister(IngestionTotal)
	prometheus.MustRegister(RasterizeDuration)
	prometheus.MustRegister(HistoryRecords)
	prometheus.MustRegister(BackupOperations)
	prometheus.MustRegister(ActiveSessions)
	prometheus.MustRegister(RateLimited)
	prometheus.MustRegister(CircuitState)
}

func MetricsHandler() fiber.Handler {
	return adaptor.HTTPHandler(promhttp.Handler())
}
