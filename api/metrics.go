/*
metrics.go - Prometheus instrumentation

PURPOSE:
  Operation-level counters for the engine surfaces, served on /metrics.
  HTTP-level metrics (latency histograms per route) belong to the gateway;
  here we count domain events, which is what the on-call dashboards graph.
*/
package api

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	assignmentsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "cost_engine",
		Name:      "assignments_created_total",
		Help:      "Margin assignments committed.",
	})

	bonusEvaluationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "cost_engine",
		Name:      "bonus_evaluations_total",
		Help:      "Bonus evaluations by performance classification.",
	}, []string{"classification"})

	bonusDispositionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "cost_engine",
		Name:      "bonus_dispositions_total",
		Help:      "Bonus dispositions by action.",
	}, []string{"action"})

	redistributionsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "cost_engine",
		Name:      "redistributions_created_total",
		Help:      "Hour redistributions appended to the ledger.",
	})

	redistributionsCancelledTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "cost_engine",
		Name:      "redistributions_cancelled_total",
		Help:      "Hour redistributions soft-cancelled.",
	})

	operationErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "cost_engine",
		Name:      "operation_errors_total",
		Help:      "Refused operations by error kind.",
	}, []string{"kind"})
)
