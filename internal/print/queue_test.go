package print

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/griffd12/cloud-pos-sub004/internal/config"
	"github.com/griffd12/cloud-pos-sub004/internal/domain"
	"github.com/griffd12/cloud-pos-sub004/internal/store"
)

func newQueueStore(t *testing.T) *store.SQLiteStore {
	t.Helper()
	path := filepath.Join(t.TempDir(), fmt.Sprintf("queue-%d.db", time.Now().UnixNano()))
	st, err := store.OpenSQLite(path, false)
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return st
}

func newTestWorker(st store.Store, deliver Deliverer) *QueueWorker {
	cfg := config.PrintConfig{
		AgentID:         "agent-1",
		DeliveryTimeout: time.Second,
		JobRetryDelay:   time.Millisecond,
		Printers: []config.PrinterConfig{
			{Name: "front", Address: "192.168.1.21:9100"},
			{Name: "kitchen", Address: "192.168.1.23:9100"},
		},
		DefaultPrinter: "front",
	}
	w := NewQueueWorker(cfg, st, zerolog.Nop())
	w.deliver = deliver
	return w
}

func queueJob(t *testing.T, st store.Store, target string) *domain.PrintJob {
	t.Helper()
	job := &domain.PrintJob{
		PrinterTarget: target,
		Payload:       []byte{0x1B, 0x40, 'x'},
	}
	if err := st.SavePrintJob(context.Background(), job); err != nil {
		t.Fatalf("save job: %v", err)
	}
	return job
}

func TestDrain_DeliversAndCompletes(t *testing.T) {
	ctx := context.Background()
	st := newQueueStore(t)

	var addrs []string
	w := newTestWorker(st, func(addr string, payload []byte, _ time.Duration) error {
		addrs = append(addrs, addr)
		return nil
	})

	job := queueJob(t, st, "kitchen")
	if err := w.Drain(ctx); err != nil {
		t.Fatalf("drain: %v", err)
	}

	if len(addrs) != 1 || addrs[0] != "192.168.1.23:9100" {
		t.Fatalf("delivery addresses wrong: %v", addrs)
	}
	got, err := st.GetPrintJob(ctx, job.ID)
	if err != nil {
		t.Fatalf("get job: %v", err)
	}
	if got.Status != domain.PrintStatusCompleted {
		t.Fatalf("expected completed, got %s", got.Status)
	}
	if got.LeasedBy != "agent-1" {
		t.Fatalf("job was never leased: %+v", got)
	}
}

func TestDrain_RetriesThenSucceeds(t *testing.T) {
	ctx := context.Background()
	st := newQueueStore(t)

	attempts := 0
	w := newTestWorker(st, func(string, []byte, time.Duration) error {
		attempts++
		if attempts < 3 {
			return errors.New("connection refused")
		}
		return nil
	})

	job := queueJob(t, st, "")
	if err := w.Drain(ctx); err != nil {
		t.Fatalf("drain: %v", err)
	}

	if attempts != 3 {
		t.Fatalf("expected 3 attempts, got %d", attempts)
	}
	got, _ := st.GetPrintJob(ctx, job.ID)
	if got.Status != domain.PrintStatusCompleted {
		t.Fatalf("recovered job must complete, got %s", got.Status)
	}
}

func TestDrain_ExhaustedRetriesFailJob(t *testing.T) {
	ctx := context.Background()
	st := newQueueStore(t)

	attempts := 0
	w := newTestWorker(st, func(string, []byte, time.Duration) error {
		attempts++
		return errors.New("printer offline")
	})

	job := queueJob(t, st, "front")
	if err := w.Drain(ctx); err != nil {
		t.Fatalf("drain: %v", err)
	}

	if attempts != maxDeliveryAttempts {
		t.Fatalf("expected %d attempts, got %d", maxDeliveryAttempts, attempts)
	}
	got, _ := st.GetPrintJob(ctx, job.ID)
	if got.Status != domain.PrintStatusFailed {
		t.Fatalf("expected failed, got %s", got.Status)
	}
	if got.Error != "printer offline" {
		t.Fatalf("failure reason not recorded: %q", got.Error)
	}

	// A failed job must not come back on the next pass.
	attempts = 0
	if err := w.Drain(ctx); err != nil {
		t.Fatalf("second drain: %v", err)
	}
	if attempts != 0 {
		t.Fatalf("failed job was retried on a later pass")
	}
}

func TestDrain_UnresolvableTargetFailsWithoutDelivery(t *testing.T) {
	ctx := context.Background()
	st := newQueueStore(t)

	w := newTestWorker(st, func(string, []byte, time.Duration) error {
		t.Fatal("deliver must not be called for an unresolvable target")
		return nil
	})

	job := queueJob(t, st, "patio")
	if err := w.Drain(ctx); err != nil {
		t.Fatalf("drain: %v", err)
	}

	got, _ := st.GetPrintJob(ctx, job.ID)
	if got.Status != domain.PrintStatusFailed {
		t.Fatalf("expected failed, got %s", got.Status)
	}
	if got.Error == "" {
		t.Fatalf("failure reason not recorded: %+v", got)
	}
}

func TestDrain_SkipsJobLeasedByAnotherWorker(t *testing.T) {
	ctx := context.Background()
	st := newQueueStore(t)

	w := newTestWorker(st, func(string, []byte, time.Duration) error {
		t.Fatal("deliver must not be called for a foreign lease")
		return nil
	})

	job := queueJob(t, st, "front")
	until := time.Now().Add(time.Minute)
	job.LeasedBy = "agent-2"
	job.LeasedUntil = &until
	if err := st.SavePrintJob(ctx, job); err != nil {
		t.Fatalf("lease job: %v", err)
	}

	if err := w.Drain(ctx); err != nil {
		t.Fatalf("drain: %v", err)
	}
	got, _ := st.GetPrintJob(ctx, job.ID)
	if got.LeasedBy != "agent-2" {
		t.Fatalf("foreign lease must be left alone: %+v", got)
	}
}

func TestDrain_ReclaimsExpiredForeignLease(t *testing.T) {
	ctx := context.Background()
	st := newQueueStore(t)

	delivered := false
	w := newTestWorker(st, func(string, []byte, time.Duration) error {
		delivered = true
		return nil
	})

	job := queueJob(t, st, "front")
	until := time.Now().Add(-time.Minute)
	job.LeasedBy = "agent-2"
	job.LeasedUntil = &until
	if err := st.SavePrintJob(ctx, job); err != nil {
		t.Fatalf("lease job: %v", err)
	}

	if err := w.Drain(ctx); err != nil {
		t.Fatalf("drain: %v", err)
	}
	if !delivered {
		t.Fatalf("expired lease must be reclaimed")
	}
	got, _ := st.GetPrintJob(ctx, job.ID)
	if got.Status != domain.PrintStatusCompleted {
		t.Fatalf("expected completed, got %s", got.Status)
	}
}

func TestResolveLocal(t *testing.T) {
	w := newTestWorker(nil, nil)

	cases := []struct {
		target string
		want   string
		err    bool
	}{
		{"10.0.0.7:9100", "10.0.0.7:9100", false},
		{"kitchen", "192.168.1.23:9100", false},
		{"", "192.168.1.21:9100", false},
		{"patio", "", true},
	}
	for _, c := range cases {
		got, err := w.resolveLocal(c.target)
		if c.err {
			if !errors.Is(err, ErrNoPrinter) {
				t.Errorf("resolveLocal(%q): expected ErrNoPrinter, got %v", c.target, err)
			}
			continue
		}
		if err != nil || got != c.want {
			t.Errorf("resolveLocal(%q) = %q, %v; want %q", c.target, got, err, c.want)
		}
	}

	w.cfg.DefaultPrinter = ""
	if got, err := w.resolveLocal(""); err != nil || got != "192.168.1.21:9100" {
		t.Fatalf("empty target without default must use first printer: %q, %v", got, err)
	}
	w.cfg.Printers = nil
	if _, err := w.resolveLocal(""); !errors.Is(err, ErrNoPrinter) {
		t.Fatalf("no printers at all must fail: %v", err)
	}
}
