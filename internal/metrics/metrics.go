package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// API metrics
	apiRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "reportforge_api_request_duration_seconds",
			Help:    "Generation API request duration in seconds by model",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 10), // 0.1s to ~100s
		},
		[]string{"model", "status"},
	)

	apiRetries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reportforge_api_retries_total",
			Help: "Total number of retried generation attempts by model",
		},
		[]string{"model"},
	)

	// Section metrics
	sectionDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "reportforge_section_duration_seconds",
			Help:    "Section processing duration breakdown by stage",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 10), // 0.5s to ~500s
		},
		[]string{"stage"}, // "generate", "polish"
	)

	sectionsCompleted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reportforge_sections_total",
			Help: "Total number of sections processed",
		},
		[]string{"status"}, // "generated", "polished", "failed"
	)

	// Token metrics
	tokensConsumed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reportforge_tokens_total",
			Help: "Total tokens consumed by model and direction",
		},
		[]string{"model", "direction"}, // direction: "input" or "output"
	)

	costEstimate = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reportforge_cost_estimate_usd_total",
			Help: "Estimated cumulative spend in USD by model",
		},
		[]string{"model"},
	)
)

// RecordAPIRequest records one generation attempt
func RecordAPIRequest(model string, duration time.Duration, success bool) {
	status := "success"
	if !success {
		status = "error"
	}
	apiRequestDuration.WithLabelValues(model, status).Observe(duration.Seconds())
}

// RecordRetry counts a retried attempt
func RecordRetry(model string) {
	apiRetries.WithLabelValues(model).Inc()
}

// RecordSectionStage records section processing duration by stage
func RecordSectionStage(stage string, duration time.Duration) {
	sectionDuration.WithLabelValues(stage).Observe(duration.Seconds())
}

// IncrementSection counts a section outcome
func IncrementSection(status string) {
	sectionsCompleted.WithLabelValues(status).Inc()
}

// RecordTokens accumulates token usage for a model
func RecordTokens(model string, inputTokens, outputTokens int) {
	tokensConsumed.WithLabelValues(model, "input").Add(float64(inputTokens))
	tokensConsumed.WithLabelValues(model, "output").Add(float64(outputTokens))
}

// RecordCost accumulates estimated spend for a model
func RecordCost(model string, usd float64) {
	if usd > 0 {
		costEstimate.WithLabelValues(model).Add(usd)
	}
}
