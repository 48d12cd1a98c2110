// Package sync implements bidirectional reconciliation between the local
// store and the cloud: tiered configuration pulls, prioritized queue
// drains, and the connectivity monitor that drives both.
//
// This file holds the shared online/offline state. The monitor writes it;
// the offline request router and the local API read it. Interested layers
// (UI bridge, logger) subscribe to transition events over a channel
// instead of registering callbacks, so consumers control their own
// goroutines and backpressure.
package sync

import (
	"sync"
	"sync/atomic"
	"time"
)

// Event is one online/offline transition.
type Event struct {
	Online bool
	At     time.Time
}

// State is the shared connectivity flag. The zero value is offline.
type State struct {
	online atomic.Bool

	mu   sync.Mutex
	subs []chan Event
}

// Online reports the current connectivity flag.
func (s *State) Online() bool { return s.online.Load() }

// Subscribe returns a channel receiving future transitions. The channel
// is buffered; a slow consumer drops events rather than blocking the
// monitor.
func (s *State) Subscribe() <-chan Event {
	ch := make(chan Event, 8)
	s.mu.Lock()
	s.subs = append(s.subs, ch)
	s.mu.Unlock()
	return ch
}

// set updates the flag and reports whether it changed. Transitions are
// fanned out to subscribers without blocking.
func (s *State) set(online bool) bool {
	if s.online.Swap(online) == online {
		return false
	}
	ev := Event{Online: online, At: time.Now().UTC()}
	s.mu.Lock()
	for _, ch := range s.subs {
		select {
		case ch <- ev:
		default:
		}
	}
	s.mu.Unlock()
	return true
}
