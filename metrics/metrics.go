// Package metrics provides Prometheus instrumentation for message exchanges.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// LLMBuckets defines histogram buckets suited for LLM response latencies,
// ranging from 100ms to 120s.
var LLMBuckets = []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120}

// Outcome labels for ExchangesTotal.
const (
	OutcomeOK         = "ok"
	OutcomeBusy       = "busy"
	OutcomeTransport  = "transport"
	OutcomeParse      = "parse"
	OutcomeTool       = "tool"
	OutcomeValidation = "validation"
)

var (
	// ExchangesTotal counts send and regenerate attempts by outcome.
	ExchangesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "parley_exchanges_total",
			Help: "Message exchanges",
		},
		[]string{"provider", "model", "outcome"},
	)

	// ExchangeDuration records the time from request to finalized message.
	ExchangeDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "parley_exchange_duration_seconds",
			Help:    "Exchange duration",
			Buckets: LLMBuckets,
		},
		[]string{"provider", "model"},
	)

	// ExchangesActive is 1 while an exchange holds the single-flight guard.
	ExchangesActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "parley_exchanges_active",
			Help: "Active exchanges",
		},
	)

	// FragmentsTotal counts applied stream fragments by the kind of data they carry.
	FragmentsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "parley_fragments_total",
			Help: "Stream fragments",
		},
		[]string{"kind"},
	)

	// ToolExecutionsTotal counts tool executions by name and outcome.
	ToolExecutionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "parley_tool_executions_total",
			Help: "Tool executions",
		},
		[]string{"tool_name", "status"},
	)
)

func init() {
	prometheus.MustRegister(
		ExchangesTotal,
		ExchangeDuration,
		ExchangesActive,
		FragmentsTotal,
		ToolExecutionsTotal,
	)
}

// ObserveExchange records one finished exchange
func ObserveExchange(provider, model, outcome string, elapsed time.Duration) {
	ExchangesTotal.WithLabelValues(provider, model, outcome).Inc()
	if outcome != OutcomeBusy && outcome != OutcomeValidation {
		ExchangeDuration.WithLabelValues(provider, model).Observe(elapsed.Seconds())
	}
}

// ObserveFragment counts each kind of data a fragment carries
func ObserveFragment(content, reasoning, toolCalls, toolStatus bool) {
	if content {
		FragmentsTotal.WithLabelValues("content").Inc()
	}
	if reasoning {
		FragmentsTotal.WithLabelValues("reasoning").Inc()
	}
	if toolCalls {
		FragmentsTotal.WithLabelValues("tool_call").Inc()
	}
	if toolStatus {
		FragmentsTotal.WithLabelValues("tool_status").Inc()
	}
}

// ObserveTool records one tool execution
func ObserveTool(name string, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	ToolExecutionsTotal.WithLabelValues(name, status).Inc()
}

// Handler serves the default registry in the Prometheus text format.
func Handler() http.Handler {
	return promhttp.Handler()
}
