// Package sync – Prometheus instrumentation for the reconciliation paths.
package sync

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// pullTotal counts configuration pulls per table and outcome.
	pullTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "pos_agent",
		Subsystem: "sync",
		Name:      "pull_total",
		Help:      "Configuration pulls by table and outcome.",
	}, []string{"table", "outcome"})

	// pushTotal counts queued-operation replays by outcome.
	pushTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "pos_agent",
		Subsystem: "sync",
		Name:      "push_total",
		Help:      "Queued operation replays by outcome (synced, http_error, network_error).",
	}, []string{"outcome"})

	// queueDepth tracks pending operations after each push pass.
	queueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "pos_agent",
		Subsystem: "sync",
		Name:      "queue_depth",
		Help:      "Pending offline queue operations observed at the end of a push pass.",
	})

	// onlineGauge mirrors the shared connectivity flag (1 online, 0 offline).
	onlineGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "pos_agent",
		Subsystem: "sync",
		Name:      "online",
		Help:      "Whether the cloud is currently reachable.",
	})
)
