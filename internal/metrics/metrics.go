// Package metrics содержит метрики Prometheus сервиса.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry: реестр метрик сервиса, отдаётся на /metrics.
var Registry = prometheus.NewRegistry()

var (
	// ClaimsFiled считает поданные претензии; outcome: accepted или причина отказа.
	ClaimsFiled = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "warranty_claims_filed_total",
			Help: "Total number of CCP claims filed, by damage type and outcome.",
		},
		[]string{"damage_type", "outcome"},
	)

	// ClaimTransitions считает смены статуса претензий.
	ClaimTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "warranty_claim_transitions_total",
			Help: "Total number of claim status transitions, by target status.",
		},
		[]string{"status"},
	)

	// PlanPurchases считает покупки расширенной гарантии и CCP.
	PlanPurchases = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "warranty_plan_purchases_total",
			Help: "Total number of plan purchases, by plan and tier.",
		},
		[]string{"plan", "tier"},
	)

	// PlanCancellations считает отмены.
	PlanCancellations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "warranty_plan_cancellations_total",
			Help: "Total number of plan cancellations, by plan.",
		},
		[]string{"plan"},
	)

	// IndexBuilds считает построения поискового индекса; result: memory, cache_hit, rebuilt.
	IndexBuilds = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "warranty_index_builds_total",
			Help: "Total number of retrieval index builds, by result.",
		},
		[]string{"result"},
	)

	// Notifications считает доставку уведомлений; result: sent, failed, retried, dropped.
	Notifications = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "warranty_notifications_total",
			Help: "Total number of notification delivery attempts, by kind and result.",
		},
		[]string{"kind", "result"},
	)

	// ToolCalls считает вызовы операций фронтенда.
	ToolCalls = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "warranty_tool_calls_total",
			Help: "Total number of front-end operation calls, by tool and result.",
		},
		[]string{"tool", "result"},
	)

	// HTTPRequestDuration измеряет длительность HTTP-запросов.
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "warranty_http_request_duration_seconds",
			Help:    "Latency of HTTP requests.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "status"},
	)
)

func init() {
	Registry.MustRegister(
		ClaimsFiled,
		ClaimTransitions,
		PlanPurchases,
		PlanCancellations,
		IndexBuilds,
		Notifications,
		ToolCalls,
		HTTPRequestDuration,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
}

// Handler отдаёт метрики в формате Prometheus.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}
