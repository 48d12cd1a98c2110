// Package sync – connectivity monitor.
//
// The monitor polls the cloud health endpoint on a fixed interval with
// its own short timeout and flips the shared online flag. Probing is
// cheap and periodic by design, so there is no retry or backoff here.
// The offline→online transition triggers a full reconciliation pass
// (pull then push); online→offline only flips the flag.
package sync

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// Monitor drives the shared State from periodic reachability probes.
type Monitor struct {
	Cloud  CloudAPI
	State  *State
	Engine *Engine

	// Interval between probes; Timeout bounds each probe.
	Interval time.Duration
	Timeout  time.Duration

	Log zerolog.Logger
}

// NewMonitor constructs a Monitor bound to the shared state and engine.
func NewMonitor(cl CloudAPI, st *State, eng *Engine, interval, timeout time.Duration, log zerolog.Logger) *Monitor {
	return &Monitor{
		Cloud:    cl,
		State:    st,
		Engine:   eng,
		Interval: interval,
		Timeout:  timeout,
		Log:      log.With().Str("component", "connectivity").Logger(),
	}
}

// Probe runs a single reachability check and applies the transition.
// Exposed so the startup path (and tests) can force an immediate probe
// without waiting out the first tick.
func (m *Monitor) Probe(ctx context.Context) {
	cctx, cancel := context.WithTimeout(ctx, m.Timeout)
	err := m.Cloud.Health(cctx)
	cancel()

	online := err == nil
	changed := m.State.set(online)
	if online {
		onlineGauge.Set(1)
	} else {
		onlineGauge.Set(0)
	}
	if !changed {
		return
	}

	if online {
		m.Log.Info().Msg("cloud reachable, reconciling")
		if m.Engine != nil {
			// Reconcile in its own goroutine: a slow pull must not
			// suspend probing.
			go func() {
				if err := m.Engine.Reconcile(ctx); err != nil {
					m.Log.Warn().Err(err).Msg("reconciliation incomplete")
				}
			}()
		}
	} else {
		m.Log.Warn().Err(err).Msg("cloud unreachable, entering offline mode")
	}
}

// Run probes on the configured interval until ctx is canceled. The first
// probe fires immediately so the agent does not start in a stale state.
func (m *Monitor) Run(ctx context.Context) {
	m.Probe(ctx)
	t := time.NewTicker(m.Interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			m.Probe(ctx)
		}
	}
}
