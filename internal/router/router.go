// Package router implements the offline request router: it answers
// API-shaped requests from the local store while the cloud is
// unreachable, mutating local state so the terminal sees an immediate,
// consistent result, and enqueueing a replay operation for the sync
// engine to drain once connectivity returns.
//
// This file defines the router itself, the static offline allow-list,
// and request dispatch. Entity-specific handlers live in handlers.go.
//
// Responses to offline mutations are 202-style and carry "queued": true
// so the front of house can distinguish "queued for sync" from an
// authoritative cloud answer, payment finality included.
package router

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/griffd12/cloud-pos-sub004/internal/store"
)

// Replay priorities. Lower drains first; money first.
const (
	PriorityCheck     = 1 // check creation
	PriorityPayment   = 1 // payment capture
	PriorityCheckItem = 2 // item additions, check updates/closes
	PriorityTimePunch = 3
	PriorityPrintJob  = 5
	PriorityFallback  = 9 // deletes, voids, anything else
)

// Response is the router's typed answer. Queued marks a locally applied
// mutation awaiting cloud replay (surfaced as HTTP 202 upstream).
type Response struct {
	Status int
	Body   any
	Queued bool
}

// Router serves allow-listed requests from the local store.
type Router struct {
	Store          store.Store
	EnterpriseID   string
	WorkstationID  string
	IdempotencyTTL time.Duration
	Log            zerolog.Logger
}

// New constructs a Router.
func New(st store.Store, enterpriseID, workstationID string, idemTTL time.Duration, log zerolog.Logger) *Router {
	return &Router{
		Store:          st,
		EnterpriseID:   enterpriseID,
		WorkstationID:  workstationID,
		IdempotencyTTL: idemTTL,
		Log:            log.With().Str("component", "offline-router").Logger(),
	}
}

// entityTables are the cached configuration collections readable offline.
var entityTables = map[string]bool{
	"properties":      true,
	"rvcs":            true,
	"employees":       true,
	"menu-categories": true,
	"menu-items":      true,
	"tax-rates":       true,
	"tender-types":    true,
	"discounts":       true,
	"workstations":    true,
	"printers":        true,
	"screen-layouts":  true,
}

// matchPath reports whether path matches pattern, where a "*" segment
// matches any single segment.
func matchPath(pattern, path string) bool {
	ps := strings.Split(strings.Trim(pattern, "/"), "/")
	ss := strings.Split(strings.Trim(path, "/"), "/")
	if len(ps) != len(ss) {
		return false
	}
	for i := range ps {
		if ps[i] != "*" && ps[i] != ss[i] {
			return false
		}
	}
	return true
}

// offlineWritePatterns is the static allow-list of offline mutations.
var offlineWritePatterns = map[string][]string{
	http.MethodPost: {
		"/api/checks",
		"/api/checks/*/items",
		"/api/payments",
		"/api/time-clock/punch",
		"/api/print-jobs",
		"/api/employees/*/authenticate",
	},
	http.MethodPut: {
		"/api/checks/*",
	},
	http.MethodPatch: {
		"/api/checks/*",
	},
	http.MethodDelete: {
		"/api/checks/*",
		"/api/checks/*/items/*",
	},
}

// CanHandleOffline reports whether the router can answer (method, path)
// without the cloud. Reads cover the cached configuration collections
// plus checks; writes are limited to the patterns above.
func (r *Router) CanHandleOffline(method, path string) bool {
	path = strings.TrimSuffix(path, "/")
	switch method {
	case http.MethodGet:
		if path == "/api/health" || path == "/api/checks" || matchPath("/api/checks/*", path) {
			return true
		}
		table := strings.TrimPrefix(path, "/api/")
		return !strings.Contains(table, "/") && entityTables[table]
	case http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
		for _, pat := range offlineWritePatterns[method] {
			if matchPath(pat, path) {
				return true
			}
		}
	}
	return false
}

// HandleRequest dispatches an allow-listed request to its handler.
// Requests outside the allow-list get 503: the terminal should surface
// "cloud required" rather than a misleading 404.
func (r *Router) HandleRequest(ctx context.Context, method, path string, query url.Values, body []byte) Response {
	path = strings.TrimSuffix(path, "/")
	if !r.CanHandleOffline(method, path) {
		return Response{Status: http.StatusServiceUnavailable, Body: errBody("offline_unsupported", "operation requires cloud connectivity")}
	}

	seg := strings.Split(strings.Trim(path, "/"), "/")

	switch {
	case method == http.MethodGet && path == "/api/health":
		return Response{Status: http.StatusOK, Body: map[string]any{"status": "offline", "offline": true}}

	case method == http.MethodGet && path == "/api/checks":
		return r.listChecks(ctx, query)
	case method == http.MethodGet && matchPath("/api/checks/*", path):
		return r.getCheck(ctx, seg[2])
	case method == http.MethodGet:
		return r.listEntities(ctx, strings.TrimPrefix(path, "/api/"))

	case method == http.MethodPost && path == "/api/checks":
		return r.createCheck(ctx, body)
	case method == http.MethodPost && matchPath("/api/checks/*/items", path):
		return r.addCheckItems(ctx, seg[2], body)
	case method == http.MethodPost && path == "/api/payments":
		return r.addPayment(ctx, body)
	case method == http.MethodPost && path == "/api/time-clock/punch":
		return r.timePunch(ctx, body)
	case method == http.MethodPost && path == "/api/print-jobs":
		return r.createPrintJob(ctx, body)
	case method == http.MethodPost && matchPath("/api/employees/*/authenticate", path):
		return r.authenticate(ctx, seg[2], body)

	case (method == http.MethodPut || method == http.MethodPatch) && matchPath("/api/checks/*", path):
		return r.updateCheck(ctx, seg[2], body)

	case method == http.MethodDelete && matchPath("/api/checks/*/items/*", path):
		return r.voidCheckItem(ctx, seg[2], seg[4])
	case method == http.MethodDelete && matchPath("/api/checks/*", path):
		return r.voidCheck(ctx, seg[2])
	}

	return Response{Status: http.StatusServiceUnavailable, Body: errBody("offline_unsupported", "operation requires cloud connectivity")}
}

// errBody builds the standard error envelope.
func errBody(code, msg string) map[string]any {
	return map[string]any{"code": code, "message": msg}
}

// enqueue stages a replay operation; marshal failures are programming
// errors and surface as 500s upstream.
func (r *Router) enqueue(ctx context.Context, opType, endpoint, method string, body any, priority int) error {
	raw, err := json.Marshal(body)
	if err != nil {
		return err
	}
	_, err = r.Store.QueueOperation(ctx, opType, endpoint, method, string(raw), priority)
	return err
}
