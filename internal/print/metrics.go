// Package print – Prometheus instrumentation for the print agent.
package print

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	jobsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "pos_agent",
		Subsystem: "print",
		Name:      "jobs_total",
		Help:      "Control-channel print jobs by outcome (done, error).",
	}, []string{"outcome"})

	kicksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "pos_agent",
		Subsystem: "print",
		Name:      "drawer_kicks_total",
		Help:      "Standalone drawer kicks by outcome (done, error).",
	}, []string{"outcome"})

	reconnectsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "pos_agent",
		Subsystem: "print",
		Name:      "reconnects_total",
		Help:      "Control-channel reconnect attempts.",
	})

	stateGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "pos_agent",
		Subsystem: "print",
		Name:      "connection_state",
		Help:      "Control-channel state (0 disconnected … 4 authenticated).",
	})
)
