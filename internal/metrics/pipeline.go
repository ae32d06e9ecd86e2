package metrics

import "github.com/prometheus/client_golang/prometheus"

// Pipeline Prometheus metrics.
var (
	TurnsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "turns_total",
			Help:      "Analysis turns by outcome",
		},
		[]string{"outcome"}, // ok / ambiguous_scope / audit_failed / canceled / error
	)

	TurnDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "turn_duration_seconds",
			Help:      "End-to-end analysis turn duration",
			Buckets:   []float64{0.25, 0.5, 1, 2.5, 5, 10, 20, 40, 80},
		},
	)

	SubQueriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "subqueries_total",
			Help:      "Sub-queries by retrieval outcome",
		},
		[]string{"outcome"}, // evidence / no_evidence / timeout / error
	)

	RetrievalDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "retrieval_duration_seconds",
			Help:      "Per-path retrieval duration",
			Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		},
		[]string{"backend", "path"}, // path: dense / sparse
	)

	ScopeViolationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "scope_violations_total",
			Help:      "Backend hits dropped because they fell outside the sub-query scope",
		},
		[]string{"backend"},
	)

	RerankFallbackTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rerank_fallback_total",
			Help:      "Re-rank calls that fell back to fused order",
		},
		[]string{"reason"}, // no_scorer / scorer_error
	)

	AuditFindingsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audit_findings_total",
			Help:      "Audit findings by kind",
		},
		[]string{"kind"},
	)

	MemoryOpsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "memory_ops_total",
			Help:      "Memory operations by namespace, op and status",
		},
		[]string{"namespace", "op", "status"},
	)

	MemorySweptTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "memory_swept_records_total",
			Help:      "Session records removed by the idle sweep",
		},
	)

	MarketDataRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "market_data_requests_total",
			Help:      "Market data snapshot requests",
		},
		[]string{"status"},
	)
)

var pipelineMetricsRegistered bool

// RegisterPipelineMetrics registers pipeline metrics. Must be called once from main.
func RegisterPipelineMetrics() {
	if pipelineMetricsRegistered {
		return
	}
	prometheus.MustRegister(
		TurnsTotal, TurnDuration, SubQueriesTotal, RetrievalDuration, ScopeViolationsTotal,
		RerankFallbackTotal, AuditFindingsTotal, MemoryOpsTotal, MemorySweptTotal,
		MarketDataRequestsTotal,
	)
	pipelineMetricsRegistered = true
}
