// Package sync – reconciliation engine.
//
// Pull: for a tiered list of cloud collections (core hierarchy first, so
// a partially failed pull still leaves the terminal able to sign in and
// ring items), fetch each with a bounded timeout and replace the cached
// rows wholesale. Failures are collected, not fatal: a collection that
// cannot be fetched keeps its last-known cache.
//
// Push: drain up to a batch of pending queued operations in
// (priority, created_at) order. Cloud acceptance marks the operation
// synced; an HTTP rejection marks it failed but keeps it queued; a
// network-class failure aborts the remaining batch so a dead link is not
// hammered.
//
// Both directions guard against reentrancy with an in-progress flag; a
// second call while one is running returns immediately.
package sync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/griffd12/cloud-pos-sub004/internal/cloud"
	"github.com/griffd12/cloud-pos-sub004/internal/domain"
	"github.com/griffd12/cloud-pos-sub004/internal/store"
)

// CloudAPI is the subset of the cloud client the engine needs.
// Narrowed to an interface so tests can fake the cloud.
type CloudAPI interface {
	Health(ctx context.Context) error
	FetchList(ctx context.Context, path string) ([]cloud.Record, error)
	Do(ctx context.Context, method, path string, body []byte) (*cloud.ReplayResult, error)
}

// pullEndpoint maps one cloud collection to its local cache table.
type pullEndpoint struct {
	Table string
	Path  string
}

// pullEndpoints is the tiered pull order: core hierarchy → menu →
// financial → devices → layout. Open checks are pulled separately after
// the tiers because they land in offline_checks, not the entity cache.
var pullEndpoints = []pullEndpoint{
	// Core hierarchy
	{"properties", "/api/properties"},
	{"rvcs", "/api/rvcs"},
	{"employees", "/api/employees"},
	// Menu
	{"menu-categories", "/api/menu-categories"},
	{"menu-items", "/api/menu-items"},
	// Financial
	{"tax-rates", "/api/tax-rates"},
	{"tender-types", "/api/tender-types"},
	{"discounts", "/api/discounts"},
	// Devices
	{"workstations", "/api/workstations"},
	{"printers", "/api/printers"},
	// Layout
	{"screen-layouts", "/api/screen-layouts"},
}

// cloudCheck is the wire shape of an open check pulled from the cloud.
type cloudCheck struct {
	ID          string                `json:"id"`
	CheckNumber int                   `json:"checkNumber"`
	RvcID       string                `json:"rvcId"`
	EmployeeID  string                `json:"employeeId"`
	Status      string                `json:"status"`
	Items       []domain.CheckItem    `json:"items"`
	Payments    []domain.CheckPayment `json:"payments"`
}

// Engine reconciles the local store with the cloud in both directions.
type Engine struct {
	Store store.Store
	Cloud CloudAPI

	// EnterpriseID scopes cached entities.
	EnterpriseID string
	// RequestTimeout bounds each individual pull fetch and push replay.
	RequestTimeout time.Duration
	// PushBatchSize caps operations drained per push pass.
	PushBatchSize int

	Log zerolog.Logger

	pulling atomic.Bool
	pushing atomic.Bool
}

// NewEngine constructs an Engine with the standard batch size.
func NewEngine(st store.Store, cl CloudAPI, enterpriseID string, timeout time.Duration, batch int, log zerolog.Logger) *Engine {
	if batch <= 0 {
		batch = 50
	}
	return &Engine{
		Store:          st,
		Cloud:          cl,
		EnterpriseID:   enterpriseID,
		RequestTimeout: timeout,
		PushBatchSize:  batch,
		Log:            log.With().Str("component", "sync").Logger(),
	}
}

// PullAll fetches every tiered collection plus open checks. Per-endpoint
// failures are collected and returned joined; the pull keeps going so one
// missing table cannot starve the rest. Returns ErrPullInProgress when a
// pull is already running.
func (e *Engine) PullAll(ctx context.Context) error {
	if !e.pulling.CompareAndSwap(false, true) {
		return ErrPullInProgress
	}
	defer e.pulling.Store(false)

	var errs []error
	for _, ep := range pullEndpoints {
		if err := e.pullTable(ctx, ep); err != nil {
			errs = append(errs, err)
			pullTotal.WithLabelValues(ep.Table, "error").Inc()
			e.Log.Warn().Str("table", ep.Table).Err(err).Msg("pull failed, keeping cached rows")
			continue
		}
		pullTotal.WithLabelValues(ep.Table, "ok").Inc()
	}

	if err := e.pullOpenChecks(ctx); err != nil {
		errs = append(errs, err)
		pullTotal.WithLabelValues("open-checks", "error").Inc()
		e.Log.Warn().Err(err).Msg("open-check pull failed")
	} else {
		pullTotal.WithLabelValues("open-checks", "ok").Inc()
	}

	return errors.Join(errs...)
}

// pullTable fetches one collection and replaces its cache slice.
func (e *Engine) pullTable(ctx context.Context, ep pullEndpoint) error {
	cctx, cancel := context.WithTimeout(ctx, e.RequestTimeout)
	defer cancel()

	recs, err := e.Cloud.FetchList(cctx, ep.Path)
	if err != nil {
		return err
	}

	items := make([]domain.CachedEntity, 0, len(recs))
	for _, r := range recs {
		items = append(items, domain.CachedEntity{
			Table:        ep.Table,
			RecordID:     r.ID,
			EnterpriseID: r.EnterpriseID,
			PropertyID:   r.PropertyID,
			Payload:      string(r.Raw),
		})
	}
	return e.Store.CacheEntityList(ctx, ep.Table, e.EnterpriseID, items)
}

// pullOpenChecks mirrors the cloud's open checks into offline_checks,
// marked synced=true so a later offline continuation starts from correct
// state. A local check that is still unsynced is local-authoritative and
// is never overwritten. The per-RVC cloud max check number is recorded to
// seed counters.
func (e *Engine) pullOpenChecks(ctx context.Context) error {
	cctx, cancel := context.WithTimeout(ctx, e.RequestTimeout)
	defer cancel()

	recs, err := e.Cloud.FetchList(cctx, "/api/checks")
	if err != nil {
		return err
	}

	cloudMax := map[string]int{}
	for _, r := range recs {
		var cc cloudCheck
		if err := json.Unmarshal(r.Raw, &cc); err != nil {
			return &cloud.Error{Kind: cloud.KindProtocol, Op: "pull checks", Err: err}
		}
		if cc.CheckNumber > cloudMax[cc.RvcID] {
			cloudMax[cc.RvcID] = cc.CheckNumber
		}

		local, err := e.Store.GetOfflineCheckByCloudID(ctx, cc.ID)
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			return err
		}
		if local != nil && !local.Synced {
			continue // local-authoritative until pushed
		}

		chk := domain.OfflineCheck{
			CheckNumber: cc.CheckNumber,
			RvcID:       cc.RvcID,
			EmployeeID:  cc.EmployeeID,
			Status:      cc.Status,
			Items:       cc.Items,
			Payments:    cc.Payments,
			Synced:      true,
			CloudID:     cc.ID,
		}
		if local != nil {
			chk.ID = local.ID
			chk.CreatedAt = local.CreatedAt
		} else {
			chk.ID = cc.ID
			chk.CreatedAt = time.Now().UTC()
		}
		if chk.Status == "" {
			chk.Status = domain.CheckStatusOpen
		}
		chk.RecalcTotals()
		if err := e.Store.SaveOfflineCheck(ctx, &chk); err != nil && !errors.Is(err, store.ErrDuplicate) {
			return err
		}
	}

	for rvcID, n := range cloudMax {
		if err := e.Store.SetCloudCheckMax(ctx, rvcID, n); err != nil {
			return err
		}
	}
	return nil
}

// Push drains up to PushBatchSize pending operations. HTTP failures mark
// the operation failed and continue; a network-class failure aborts the
// remaining batch. Returns ErrPushInProgress when a drain is already
// running.
func (e *Engine) Push(ctx context.Context) error {
	if !e.pushing.CompareAndSwap(false, true) {
		return ErrPushInProgress
	}
	defer e.pushing.Store(false)

	ops, err := e.Store.PendingOperations(ctx, e.PushBatchSize)
	if err != nil {
		return err
	}

	var aborted error
	for _, op := range ops {
		res, err := e.replay(ctx, op)
		switch {
		case err == nil:
			pushTotal.WithLabelValues("synced").Inc()
			if err := e.Store.MarkOperationSynced(ctx, op.ID); err != nil {
				e.Log.Error().Str("op", op.ID).Err(err).Msg("mark synced failed")
			}
			e.linkCheck(ctx, op, res)
		case cloud.IsNetwork(err):
			pushTotal.WithLabelValues("network_error").Inc()
			e.Log.Warn().Str("op", op.ID).Err(err).Msg("network failure, aborting batch")
			aborted = err
		default:
			pushTotal.WithLabelValues("http_error").Inc()
			if merr := e.Store.MarkOperationFailed(ctx, op.ID, err.Error()); merr != nil {
				e.Log.Error().Str("op", op.ID).Err(merr).Msg("mark failed failed")
			}
		}
		if aborted != nil {
			break
		}
	}

	if pending, err := e.Store.PendingOperations(ctx, 0); err == nil {
		queueDepth.Set(float64(len(pending)))
	}
	return aborted
}

// replay executes one queued operation against the cloud with the
// engine's bounded timeout.
func (e *Engine) replay(ctx context.Context, op domain.QueuedOperation) (*cloud.ReplayResult, error) {
	cctx, cancel := context.WithTimeout(ctx, e.RequestTimeout)
	defer cancel()
	return e.Cloud.Do(cctx, op.Method, op.Endpoint, []byte(op.Body))
}

// linkCheck marks the local check synced (and records the cloud id) after
// a check-affecting operation is accepted. Operations whose body carries
// no local check id are skipped.
func (e *Engine) linkCheck(ctx context.Context, op domain.QueuedOperation, res *cloud.ReplayResult) {
	switch op.Type {
	case "create_check", "update_check", "close_check", "void_check":
	default:
		return
	}
	var body struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal([]byte(op.Body), &body); err != nil || body.ID == "" {
		return
	}
	chk, err := e.Store.GetOfflineCheck(ctx, body.ID)
	if err != nil {
		return
	}
	chk.Synced = true
	if cid := res.CloudID(); cid != "" {
		chk.CloudID = cid
	}
	if err := e.Store.SaveOfflineCheck(ctx, chk); err != nil {
		e.Log.Error().Str("check", chk.ID).Err(err).Msg("link check failed")
	}
}

// Reconcile runs a full pull followed by a push; used on the
// offline→online transition. Reentrancy sentinels are swallowed: a pass
// already running is doing the same work.
func (e *Engine) Reconcile(ctx context.Context) error {
	var errs []error
	if err := e.PullAll(ctx); err != nil && !errors.Is(err, ErrPullInProgress) {
		errs = append(errs, fmt.Errorf("pull: %w", err))
	}
	if err := e.Push(ctx); err != nil && !errors.Is(err, ErrPushInProgress) {
		errs = append(errs, fmt.Errorf("push: %w", err))
	}
	return errors.Join(errs...)
}

// RunPushLoop drains the queue on a fixed cadence until ctx is canceled.
func (e *Engine) RunPushLoop(ctx context.Context, every time.Duration, online func() bool) {
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if !online() {
				continue
			}
			if err := e.Push(ctx); err != nil && !errors.Is(err, ErrPushInProgress) {
				e.Log.Warn().Err(err).Msg("scheduled push incomplete")
			}
		}
	}
}

// RunPullLoop refreshes the configuration cache on a fixed cadence until
// ctx is canceled.
func (e *Engine) RunPullLoop(ctx context.Context, every time.Duration, online func() bool) {
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if !online() {
				continue
			}
			if err := e.PullAll(ctx); err != nil && !errors.Is(err, ErrPullInProgress) {
				e.Log.Warn().Err(err).Msg("scheduled pull incomplete")
			}
		}
	}
}
