package sync

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/griffd12/cloud-pos-sub004/internal/cloud"
)

func TestProbe_FlipsStateBothWays(t *testing.T) {
	fc := &fakeCloud{}
	state := &State{}
	m := NewMonitor(fc, state, nil, time.Second, time.Second, zerolog.Nop())

	m.Probe(context.Background())
	if !state.Online() {
		t.Fatalf("healthy probe must set online")
	}

	fc.healthErr = &cloud.Error{Kind: cloud.KindNetwork, Op: "probe", Err: errors.New("timeout")}
	m.Probe(context.Background())
	if state.Online() {
		t.Fatalf("failed probe must set offline")
	}
}

func TestProbe_HTTPErrorCountsAsUnreachable(t *testing.T) {
	fc := &fakeCloud{healthErr: &cloud.Error{Kind: cloud.KindHTTP, Op: "probe", Status: 503}}
	state := &State{}
	m := NewMonitor(fc, state, nil, time.Second, time.Second, zerolog.Nop())

	m.Probe(context.Background())
	if state.Online() {
		t.Fatalf("non-2xx health must read as offline")
	}
}

func TestState_SubscribeReceivesTransitions(t *testing.T) {
	state := &State{}
	events := state.Subscribe()

	if changed := state.set(true); !changed {
		t.Fatalf("first flip must report change")
	}
	if changed := state.set(true); changed {
		t.Fatalf("repeat flip must not report change")
	}
	state.set(false)

	got := make([]Event, 0, 2)
	for i := 0; i < 2; i++ {
		select {
		case ev := <-events:
			got = append(got, ev)
		case <-time.After(time.Second):
			t.Fatalf("missing transition event %d", i)
		}
	}
	if !got[0].Online || got[1].Online {
		t.Fatalf("expected online then offline, got %+v", got)
	}
}

func TestMonitor_TransitionToOnlineTriggersReconcile(t *testing.T) {
	fc := &fakeCloud{
		do: func(int, string, string, []byte) (*cloud.ReplayResult, error) {
			return &cloud.ReplayResult{Status: 200, Body: []byte(`{}`)}, nil
		},
	}
	st := newEngineStore(t)
	eng := newTestEngine(st, fc)
	state := &State{}
	m := NewMonitor(fc, state, eng, time.Second, time.Second, zerolog.Nop())

	if _, err := st.QueueOperation(context.Background(), "create_check", "/api/checks", "POST", "{}", 1); err != nil {
		t.Fatalf("queue: %v", err)
	}

	m.Probe(context.Background())

	// Reconcile runs asynchronously; wait for the queue to drain.
	deadline := time.Now().Add(3 * time.Second)
	for {
		ops, err := st.PendingOperations(context.Background(), 0)
		if err != nil {
			t.Fatalf("pending: %v", err)
		}
		if len(ops) == 0 {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("reconcile did not drain the queue, still %d pending", len(ops))
		}
		time.Sleep(10 * time.Millisecond)
	}
}
