// Package router – entity-specific offline handlers.
//
// Every mutation follows the same shape: validate, apply to the local
// store so the terminal sees the result immediately, enqueue the cloud
// replay, answer 202 with "queued": true. Sensitive operations (check
// creation, payment capture) run through the idempotency table first so a
// retried request returns the original response without a second side
// effect.
package router

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/griffd12/cloud-pos-sub004/internal/domain"
	"github.com/griffd12/cloud-pos-sub004/internal/store"
)

// listEntities serves a cached configuration collection.
func (r *Router) listEntities(ctx context.Context, table string) Response {
	rows, err := r.Store.GetEntityList(ctx, table, r.EnterpriseID)
	if err != nil {
		return Response{Status: http.StatusInternalServerError, Body: errBody("storage_error", "cache read failed")}
	}
	out := make([]json.RawMessage, 0, len(rows))
	for _, row := range rows {
		out = append(out, json.RawMessage(row.Payload))
	}
	return Response{Status: http.StatusOK, Body: out}
}

// listChecks serves local checks, optionally filtered by rvcId.
func (r *Router) listChecks(ctx context.Context, query url.Values) Response {
	checks, err := r.Store.ListOfflineChecks(ctx, query.Get("rvcId"))
	if err != nil {
		return Response{Status: http.StatusInternalServerError, Body: errBody("storage_error", "check read failed")}
	}
	if status := query.Get("status"); status != "" {
		filtered := checks[:0]
		for _, c := range checks {
			if c.Status == status {
				filtered = append(filtered, c)
			}
		}
		checks = filtered
	}
	return Response{Status: http.StatusOK, Body: checks}
}

// getCheck resolves a check by local id, then by cloud id.
func (r *Router) getCheck(ctx context.Context, id string) Response {
	chk, err := r.Store.GetOfflineCheck(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		chk, err = r.Store.GetOfflineCheckByCloudID(ctx, id)
	}
	if errors.Is(err, store.ErrNotFound) {
		return Response{Status: http.StatusNotFound, Body: errBody("not_found", "check not found")}
	}
	if err != nil {
		return Response{Status: http.StatusInternalServerError, Body: errBody("storage_error", "check read failed")}
	}
	return Response{Status: http.StatusOK, Body: chk}
}

// replayIdempotent returns the stored response for (operation, key) when
// one exists. The bool reports whether a replay happened.
func (r *Router) replayIdempotent(ctx context.Context, operation, key string) (Response, bool) {
	if key == "" {
		return Response{}, false
	}
	rec, err := r.Store.CheckIdempotencyKey(ctx, r.EnterpriseID, r.WorkstationID, operation, key, time.Now().UTC())
	if err != nil {
		return Response{}, false
	}
	var body any
	if err := json.Unmarshal([]byte(rec.ResponseBody), &body); err != nil {
		body = rec.ResponseBody
	}
	return Response{Status: rec.ResponseStatus, Body: body, Queued: true}, true
}

// recordIdempotent snapshots a response under (operation, key). Losing
// the race to another writer is fine: the stored response wins on replay.
func (r *Router) recordIdempotent(ctx context.Context, operation, key string, resp Response) {
	if key == "" {
		return
	}
	raw, err := json.Marshal(resp.Body)
	if err != nil {
		return
	}
	rec := &domain.IdempotencyRecord{
		EnterpriseID:   r.EnterpriseID,
		WorkstationID:  r.WorkstationID,
		Operation:      operation,
		IdempotencyKey: key,
		ResponseStatus: resp.Status,
		ResponseBody:   string(raw),
		ExpiresAt:      time.Now().UTC().Add(r.IdempotencyTTL),
	}
	if err := r.Store.StoreIdempotencyKey(ctx, rec); err != nil && !errors.Is(err, store.ErrDuplicate) {
		r.Log.Warn().Err(err).Str("operation", operation).Msg("idempotency record not stored")
	}
}

type createCheckRequest struct {
	RvcID          string             `json:"rvcId"`
	EmployeeID     string             `json:"employeeId"`
	Items          []domain.CheckItem `json:"items"`
	IdempotencyKey string             `json:"idempotencyKey"`
}

// createCheck opens a check with an atomically allocated check number and
// stages a priority-1 replay.
func (r *Router) createCheck(ctx context.Context, body []byte) Response {
	var req createCheckRequest
	if err := json.Unmarshal(body, &req); err != nil || req.RvcID == "" || req.EmployeeID == "" {
		return Response{Status: http.StatusBadRequest, Body: errBody("bad_request", "rvcId and employeeId are required")}
	}
	if resp, ok := r.replayIdempotent(ctx, "create_check", req.IdempotencyKey); ok {
		return resp
	}

	for i := range req.Items {
		if req.Items[i].ID == "" {
			req.Items[i].ID = uuid.NewString()
		}
	}
	chk := &domain.OfflineCheck{
		RvcID:      req.RvcID,
		EmployeeID: req.EmployeeID,
		Status:     domain.CheckStatusOpen,
		Items:      req.Items,
	}
	chk.RecalcTotals()
	if err := r.Store.CreateCheckAtomic(ctx, chk); err != nil {
		return Response{Status: http.StatusInternalServerError, Body: errBody("storage_error", "check not created")}
	}
	if err := r.enqueue(ctx, "create_check", "/api/checks", http.MethodPost, chk, PriorityCheck); err != nil {
		return Response{Status: http.StatusInternalServerError, Body: errBody("storage_error", "replay not queued")}
	}

	resp := Response{Status: http.StatusAccepted, Body: map[string]any{"check": chk, "queued": true}, Queued: true}
	r.recordIdempotent(ctx, "create_check", req.IdempotencyKey, resp)
	return resp
}

type addItemsRequest struct {
	Items []domain.CheckItem `json:"items"`
}

// addCheckItems appends items and recomputes the subtotal from the full
// item list rather than incrementally, so totals cannot drift.
func (r *Router) addCheckItems(ctx context.Context, checkID string, body []byte) Response {
	var req addItemsRequest
	if err := json.Unmarshal(body, &req); err != nil || len(req.Items) == 0 {
		return Response{Status: http.StatusBadRequest, Body: errBody("bad_request", "items are required")}
	}

	chk, resp := r.loadOpenCheck(ctx, checkID)
	if chk == nil {
		return resp
	}
	for i := range req.Items {
		if req.Items[i].ID == "" {
			req.Items[i].ID = uuid.NewString()
		}
	}
	chk.Items = append(chk.Items, req.Items...)
	chk.RecalcTotals()
	chk.Synced = false
	if err := r.Store.SaveOfflineCheck(ctx, chk); err != nil {
		return Response{Status: http.StatusInternalServerError, Body: errBody("storage_error", "check not updated")}
	}
	if err := r.enqueue(ctx, "add_check_items", "/api/checks/"+chk.ID+"/items", http.MethodPost, chk, PriorityCheckItem); err != nil {
		return Response{Status: http.StatusInternalServerError, Body: errBody("storage_error", "replay not queued")}
	}
	return Response{Status: http.StatusAccepted, Body: map[string]any{"check": chk, "queued": true}, Queued: true}
}

type paymentRequest struct {
	CheckID        string          `json:"checkId"`
	Type           string          `json:"type"`
	Amount         decimal.Decimal `json:"amount"`
	IdempotencyKey string          `json:"idempotencyKey"`
}

// addPayment appends a tender and closes the check once the cumulative
// approved total meets or exceeds the amount due.
func (r *Router) addPayment(ctx context.Context, body []byte) Response {
	var req paymentRequest
	if err := json.Unmarshal(body, &req); err != nil || req.CheckID == "" || req.Type == "" {
		return Response{Status: http.StatusBadRequest, Body: errBody("bad_request", "checkId and type are required")}
	}
	if req.Amount.Sign() <= 0 {
		return Response{Status: http.StatusBadRequest, Body: errBody("bad_request", "amount must be positive")}
	}
	if resp, ok := r.replayIdempotent(ctx, "add_payment", req.IdempotencyKey); ok {
		return resp
	}

	chk, resp := r.loadOpenCheck(ctx, req.CheckID)
	if chk == nil {
		return resp
	}
	payment := domain.CheckPayment{
		ID:       uuid.NewString(),
		Type:     req.Type,
		Amount:   req.Amount,
		Approved: true,
	}
	chk.Payments = append(chk.Payments, payment)
	if chk.PaidTotal().GreaterThanOrEqual(chk.Total) {
		chk.Status = domain.CheckStatusClosed
	}
	chk.Synced = false
	if err := r.Store.SaveOfflineCheck(ctx, chk); err != nil {
		return Response{Status: http.StatusInternalServerError, Body: errBody("storage_error", "payment not saved")}
	}
	if err := r.enqueue(ctx, "add_payment", "/api/payments", http.MethodPost, map[string]any{
		"id": chk.ID, "checkId": chk.ID, "payment": payment, "status": chk.Status,
	}, PriorityPayment); err != nil {
		return Response{Status: http.StatusInternalServerError, Body: errBody("storage_error", "replay not queued")}
	}

	out := Response{Status: http.StatusAccepted, Body: map[string]any{"check": chk, "payment": payment, "queued": true}, Queued: true}
	r.recordIdempotent(ctx, "add_payment", req.IdempotencyKey, out)
	return out
}

type updateCheckRequest struct {
	Status string `json:"status"`
}

// updateCheck applies a status transition (close or void) locally and
// stages the matching replay.
func (r *Router) updateCheck(ctx context.Context, checkID string, body []byte) Response {
	var req updateCheckRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return Response{Status: http.StatusBadRequest, Body: errBody("bad_request", "malformed body")}
	}
	switch req.Status {
	case domain.CheckStatusOpen, domain.CheckStatusClosed, domain.CheckStatusVoided:
	default:
		return Response{Status: http.StatusBadRequest, Body: errBody("bad_request", "status must be open, closed, or voided")}
	}

	chk, resp := r.loadCheck(ctx, checkID)
	if chk == nil {
		return resp
	}
	chk.Status = req.Status
	chk.Synced = false
	if err := r.Store.SaveOfflineCheck(ctx, chk); err != nil {
		return Response{Status: http.StatusInternalServerError, Body: errBody("storage_error", "check not updated")}
	}

	opType, prio := "update_check", PriorityCheckItem
	switch req.Status {
	case domain.CheckStatusClosed:
		opType = "close_check"
	case domain.CheckStatusVoided:
		opType, prio = "void_check", PriorityFallback
	}
	if err := r.enqueue(ctx, opType, "/api/checks/"+chk.ID, http.MethodPut, chk, prio); err != nil {
		return Response{Status: http.StatusInternalServerError, Body: errBody("storage_error", "replay not queued")}
	}
	return Response{Status: http.StatusAccepted, Body: map[string]any{"check": chk, "queued": true}, Queued: true}
}

// voidCheck handles DELETE on a check: void is a status, not a delete.
func (r *Router) voidCheck(ctx context.Context, checkID string) Response {
	chk, resp := r.loadCheck(ctx, checkID)
	if chk == nil {
		return resp
	}
	chk.Status = domain.CheckStatusVoided
	chk.Synced = false
	if err := r.Store.SaveOfflineCheck(ctx, chk); err != nil {
		return Response{Status: http.StatusInternalServerError, Body: errBody("storage_error", "check not voided")}
	}
	if err := r.enqueue(ctx, "void_check", "/api/checks/"+chk.ID, http.MethodDelete, chk, PriorityFallback); err != nil {
		return Response{Status: http.StatusInternalServerError, Body: errBody("storage_error", "replay not queued")}
	}
	return Response{Status: http.StatusAccepted, Body: map[string]any{"check": chk, "queued": true}, Queued: true}
}

// voidCheckItem voids one line and recomputes totals.
func (r *Router) voidCheckItem(ctx context.Context, checkID, itemID string) Response {
	chk, resp := r.loadOpenCheck(ctx, checkID)
	if chk == nil {
		return resp
	}
	found := false
	for i := range chk.Items {
		if chk.Items[i].ID == itemID {
			chk.Items[i].Voided = true
			found = true
			break
		}
	}
	if !found {
		return Response{Status: http.StatusNotFound, Body: errBody("not_found", "item not found")}
	}
	chk.RecalcTotals()
	chk.Synced = false
	if err := r.Store.SaveOfflineCheck(ctx, chk); err != nil {
		return Response{Status: http.StatusInternalServerError, Body: errBody("storage_error", "check not updated")}
	}
	if err := r.enqueue(ctx, "void_check_item", "/api/checks/"+chk.ID+"/items/"+itemID, http.MethodDelete, chk, PriorityFallback); err != nil {
		return Response{Status: http.StatusInternalServerError, Body: errBody("storage_error", "replay not queued")}
	}
	return Response{Status: http.StatusAccepted, Body: map[string]any{"check": chk, "queued": true}, Queued: true}
}

type punchRequest struct {
	EmployeeID string `json:"employeeId"`
	PunchType  string `json:"punchType"` // in|out|break_start|break_end
}

// timePunch stages a clock punch. The punch itself has no local table;
// the queued operation carries the full record, business-date attribution
// happens cloud-side on replay.
func (r *Router) timePunch(ctx context.Context, body []byte) Response {
	var req punchRequest
	if err := json.Unmarshal(body, &req); err != nil || req.EmployeeID == "" || req.PunchType == "" {
		return Response{Status: http.StatusBadRequest, Body: errBody("bad_request", "employeeId and punchType are required")}
	}
	punch := map[string]any{
		"id":         uuid.NewString(),
		"employeeId": req.EmployeeID,
		"punchType":  req.PunchType,
		"punchedAt":  time.Now().UTC().Format(time.RFC3339),
	}
	if err := r.enqueue(ctx, "time_punch", "/api/time-clock/punch", http.MethodPost, punch, PriorityTimePunch); err != nil {
		return Response{Status: http.StatusInternalServerError, Body: errBody("storage_error", "replay not queued")}
	}
	return Response{Status: http.StatusAccepted, Body: map[string]any{"punch": punch, "queued": true}, Queued: true}
}

type printJobRequest struct {
	PrinterTarget string `json:"printerTarget"`
	Data          string `json:"data"` // base64 payload
	DedupeKey     string `json:"dedupeKey"`
}

// createPrintJob persists a job to the agent's local print queue and
// stages the cloud-side record. A taken dedupe key means the receipt was
// already submitted; the original job is acknowledged instead.
func (r *Router) createPrintJob(ctx context.Context, body []byte) Response {
	var req printJobRequest
	if err := json.Unmarshal(body, &req); err != nil || req.Data == "" {
		return Response{Status: http.StatusBadRequest, Body: errBody("bad_request", "data is required")}
	}
	payload, err := base64.StdEncoding.DecodeString(req.Data)
	if err != nil {
		return Response{Status: http.StatusBadRequest, Body: errBody("bad_request", "data must be base64")}
	}

	job := &domain.PrintJob{
		PrinterTarget: req.PrinterTarget,
		Payload:       payload,
		Status:        domain.PrintStatusPending,
	}
	if req.DedupeKey != "" {
		job.DedupeKey = &req.DedupeKey
	}
	if err := r.Store.SavePrintJob(ctx, job); err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			return Response{Status: http.StatusOK, Body: map[string]any{"duplicate": true, "queued": true}, Queued: true}
		}
		return Response{Status: http.StatusInternalServerError, Body: errBody("storage_error", "job not saved")}
	}
	if err := r.enqueue(ctx, "create_print_job", "/api/print-jobs", http.MethodPost, job, PriorityPrintJob); err != nil {
		return Response{Status: http.StatusInternalServerError, Body: errBody("storage_error", "replay not queued")}
	}
	return Response{Status: http.StatusAccepted, Body: map[string]any{"job": job, "queued": true}, Queued: true}
}

type authRequest struct {
	Pin string `json:"pin"`
}

// employeeSnapshot is the subset of the cached employee payload that
// offline authentication can check. Server-side policies (lockout,
// schedule enforcement) are unavailable locally, so the response carries
// offlineAuth: true and the caller applies reduced trust.
type employeeSnapshot struct {
	ID        string `json:"id"`
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
	Pin       string `json:"pin"`
	PinCode   string `json:"pinCode"`
	RoleID    string `json:"roleId"`
}

// authenticate verifies a PIN against the cached employee snapshot.
func (r *Router) authenticate(ctx context.Context, employeeID string, body []byte) Response {
	var req authRequest
	if err := json.Unmarshal(body, &req); err != nil || req.Pin == "" {
		return Response{Status: http.StatusBadRequest, Body: errBody("bad_request", "pin is required")}
	}

	ent, err := r.Store.GetEntity(ctx, "employees", employeeID)
	if errors.Is(err, store.ErrNotFound) {
		return Response{Status: http.StatusNotFound, Body: errBody("not_found", "employee not cached")}
	}
	if err != nil {
		return Response{Status: http.StatusInternalServerError, Body: errBody("storage_error", "cache read failed")}
	}

	var emp employeeSnapshot
	if err := json.Unmarshal([]byte(ent.Payload), &emp); err != nil {
		return Response{Status: http.StatusInternalServerError, Body: errBody("storage_error", "employee snapshot unreadable")}
	}
	pin := emp.Pin
	if pin == "" {
		pin = emp.PinCode
	}
	if pin == "" || pin != req.Pin {
		return Response{Status: http.StatusUnauthorized, Body: errBody("unauthorized", "invalid pin")}
	}
	return Response{Status: http.StatusOK, Body: map[string]any{
		"employeeId":  emp.ID,
		"firstName":   emp.FirstName,
		"lastName":    emp.LastName,
		"roleId":      emp.RoleID,
		"offlineAuth": true,
	}}
}

// loadCheck fetches a check by local or cloud id, returning the error
// response to emit when it is nil.
func (r *Router) loadCheck(ctx context.Context, id string) (*domain.OfflineCheck, Response) {
	chk, err := r.Store.GetOfflineCheck(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		chk, err = r.Store.GetOfflineCheckByCloudID(ctx, id)
	}
	if errors.Is(err, store.ErrNotFound) {
		return nil, Response{Status: http.StatusNotFound, Body: errBody("not_found", "check not found")}
	}
	if err != nil {
		return nil, Response{Status: http.StatusInternalServerError, Body: errBody("storage_error", "check read failed")}
	}
	return chk, Response{}
}

// loadOpenCheck is loadCheck plus the open-status guard for mutations
// that only make sense on an open check.
func (r *Router) loadOpenCheck(ctx context.Context, id string) (*domain.OfflineCheck, Response) {
	chk, resp := r.loadCheck(ctx, id)
	if chk == nil {
		return nil, resp
	}
	if chk.Status != domain.CheckStatusOpen {
		return nil, Response{Status: http.StatusConflict, Body: errBody("conflict", "check is "+chk.Status)}
	}
	return chk, Response{}
}
