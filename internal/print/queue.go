package print

import (
	"context"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/griffd12/cloud-pos-sub004/internal/config"
	"github.com/griffd12/cloud-pos-sub004/internal/domain"
	"github.com/griffd12/cloud-pos-sub004/internal/store"
)

// Print delivery is retried this many times before a job is failed.
const maxDeliveryAttempts = 3

// leaseDuration bounds how long a claimed job stays invisible to other
// workers before it can be reclaimed.
const leaseDuration = time.Minute

// QueueWorker drains the agent's local print-job queue. Jobs land here
// from the offline router (receipts printed while the cloud is down) and
// survive restarts; the worker leases each pending job, delivers it over
// raw TCP, and records the terminal status.
type QueueWorker struct {
	cfg     config.PrintConfig
	store   store.Store
	deliver Deliverer
	log     zerolog.Logger
}

// NewQueueWorker builds a worker with real TCP delivery.
func NewQueueWorker(cfg config.PrintConfig, st store.Store, log zerolog.Logger) *QueueWorker {
	return &QueueWorker{
		cfg:     cfg,
		store:   st,
		deliver: DeliverTCP,
		log:     log.With().Str("component", "print-queue").Logger(),
	}
}

// Run drains the queue on a fixed cadence until ctx is cancelled.
func (w *QueueWorker) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := w.Drain(ctx); err != nil {
				w.log.Warn().Err(err).Msg("queue drain failed")
			}
		}
	}
}

// Drain processes every pending job once, oldest first. Individual job
// failures are recorded on the job and do not stop the pass.
func (w *QueueWorker) Drain(ctx context.Context) error {
	jobs, err := w.store.ListPendingPrintJobs(ctx, 0)
	if err != nil {
		return err
	}
	for i := range jobs {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		w.process(ctx, &jobs[i])
	}
	return nil
}

// process leases one job, attempts delivery up to maxDeliveryAttempts,
// and marks it completed or failed.
func (w *QueueWorker) process(ctx context.Context, job *domain.PrintJob) {
	log := w.log.With().Str("job_id", job.ID).Str("target", job.PrinterTarget).Logger()

	if job.LeasedUntil != nil && job.LeasedUntil.After(time.Now()) && job.LeasedBy != w.cfg.AgentID {
		return
	}

	addr, err := w.resolveLocal(job.PrinterTarget)
	if err != nil {
		log.Error().Err(err).Msg("local print job has no target")
		if merr := w.store.MarkPrintJobStatus(ctx, job.ID, domain.PrintStatusFailed, err.Error()); merr != nil {
			log.Warn().Err(merr).Msg("job status update failed")
		}
		return
	}

	until := time.Now().Add(leaseDuration)
	job.LeasedBy = w.cfg.AgentID
	job.LeasedUntil = &until
	job.Status = domain.PrintStatusPrinting
	if err := w.store.SavePrintJob(ctx, job); err != nil {
		log.Warn().Err(err).Msg("job lease failed")
		return
	}

	var lastErr error
	for attempt := 1; attempt <= maxDeliveryAttempts; attempt++ {
		lastErr = w.deliver(addr, job.Payload, w.cfg.DeliveryTimeout)
		if lastErr == nil {
			break
		}
		log.Warn().Err(lastErr).Int("attempt", attempt).Msg("local print delivery failed")
		if attempt < maxDeliveryAttempts && !sleepCtx(ctx, w.cfg.JobRetryDelay) {
			break
		}
	}

	if lastErr != nil {
		jobsTotal.WithLabelValues("error").Inc()
		if err := w.store.MarkPrintJobStatus(ctx, job.ID, domain.PrintStatusFailed, lastErr.Error()); err != nil {
			log.Warn().Err(err).Msg("job status update failed")
		}
		return
	}
	jobsTotal.WithLabelValues("done").Inc()
	log.Info().Msg("local print job delivered")
	if err := w.store.MarkPrintJobStatus(ctx, job.ID, domain.PrintStatusCompleted, ""); err != nil {
		log.Warn().Err(err).Msg("job status update failed")
	}
}

// resolveLocal maps a job's target to a socket address: a literal
// host:port passes through, a name is looked up in the configured
// printers, and an empty target means the workstation's own device.
func (w *QueueWorker) resolveLocal(target string) (string, error) {
	if strings.Contains(target, ":") {
		return target, nil
	}
	name := target
	if name == "" {
		name = w.cfg.DefaultPrinter
	}
	if name == "" {
		if len(w.cfg.Printers) > 0 {
			return w.cfg.Printers[0].Address, nil
		}
		return "", ErrNoPrinter
	}
	for _, p := range w.cfg.Printers {
		if p.Name == name {
			return p.Address, nil
		}
	}
	return "", ErrNoPrinter
}
