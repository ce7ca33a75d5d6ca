// Package rpcmetrics exposes Prometheus instrumentation for the
// client and server brokers, grounded on bun-kms's promauto vector
// style.
package rpcmetrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	CallsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bunrpc_calls_total",
		Help: "Total calls issued by the client broker, by outcome.",
	}, []string{"outcome"})

	InFlightCalls = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "bunrpc_inflight_calls",
		Help: "Calls currently awaiting a response on the client broker.",
	})

	ExecutionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bunrpc_executions_total",
		Help: "Total executions dispatched by the server broker, by outcome.",
	}, []string{"outcome"})

	InFlightExecutions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "bunrpc_inflight_executions",
		Help: "Executions currently running on the server broker.",
	})

	ExecutionDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "bunrpc_execution_duration_seconds",
		Help:    "Execution duration from dispatch to completion.",
		Buckets: prometheus.DefBuckets,
	}, []string{"service_method"})

	PublishDropsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "bunrpc_publish_drops_total",
		Help: "Publications dropped at a subscriber's high-water mark.",
	})
)

// Outcome labels for CallsTotal / ExecutionsTotal.
const (
	OutcomeOK        = "ok"
	OutcomeError     = "error"
	OutcomeTimeout   = "timeout"
	OutcomeCanceled  = "canceled"
)
