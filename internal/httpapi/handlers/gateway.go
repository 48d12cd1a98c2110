// Package handlers – the API gateway handler.
//
// Every terminal request under /api flows through Proxy. While the cloud
// is reachable the request is forwarded verbatim and the cloud's answer
// passed back; successful configuration reads are mirrored into the local
// cache on the way through, so the cache stays warm without waiting for
// the next scheduled pull. When the cloud is offline, or a forward fails
// with a network-class error mid-flight, the request is answered locally
// by the offline router instead.
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/griffd12/cloud-pos-sub004/internal/cloud"
	"github.com/griffd12/cloud-pos-sub004/internal/domain"
	"github.com/griffd12/cloud-pos-sub004/internal/httpapi/middleware"
	"github.com/griffd12/cloud-pos-sub004/internal/router"
	"github.com/griffd12/cloud-pos-sub004/internal/store"
)

// CloudProxy is the slice of the cloud client the gateway forwards through.
type CloudProxy interface {
	Do(ctx context.Context, method, path string, body []byte) (*cloud.ReplayResult, error)
}

// Gateway answers every /api request, online or offline.
type Gateway struct {
	Online  func() bool
	Cloud   CloudProxy
	Offline *router.Router
	Store   store.Store

	EnterpriseID   string
	RequestTimeout time.Duration

	// PrintState reports the control-channel state for /health.
	PrintState func() string
}

// mirrorTables are the configuration collections whose successful online
// reads refresh the local cache.
var mirrorTables = map[string]bool{
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

// Health reports the agent's own state. Served locally in both modes so
// the terminal can always distinguish "agent down" from "cloud down".
func (g *Gateway) Health(c *gin.Context) {
	pending := 0
	if ops, err := g.Store.PendingOperations(c.Request.Context(), 0); err == nil {
		pending = len(ops)
	}
	body := gin.H{
		"status":             "ok",
		"online":             g.Online(),
		"pending_operations": pending,
	}
	if g.PrintState != nil {
		body["print_agent"] = g.PrintState()
	}
	ok(c, http.StatusOK, body)
}

// Proxy is the catch-all /api handler.
func (g *Gateway) Proxy(c *gin.Context) {
	path := "/api" + c.Param("path")
	path = strings.TrimSuffix(path, "/")

	// The agent's own health answer, never proxied: the terminal asks it
	// to tell "agent down" from "cloud down".
	if path == "/api/health" && c.Request.Method == http.MethodGet {
		g.Health(c)
		return
	}

	var body []byte
	if c.Request.Body != nil {
		b, err := io.ReadAll(c.Request.Body)
		if err != nil {
			fail(c, http.StatusBadRequest, ErrCodeBadRequest, "unreadable request body")
			return
		}
		body = b
	}

	if g.Online() {
		if g.forward(c, path, body) {
			return
		}
		// Forward failed on a dead link; answer locally instead.
	}
	g.serveOffline(c, path, body)
}

// forward proxies one request to the cloud. The return value reports
// whether a response was written; false means the link died and the
// offline path should take over.
func (g *Gateway) forward(c *gin.Context, path string, body []byte) bool {
	target := path
	if raw := c.Request.URL.RawQuery; raw != "" {
		target += "?" + raw
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), g.RequestTimeout)
	defer cancel()

	res, err := g.Cloud.Do(ctx, c.Request.Method, target, body)
	if err == nil {
		g.mirror(c, path, res.Body)
		writeRaw(c, res.Status, res.Body)
		return true
	}

	var ce *cloud.Error
	if errors.As(err, &ce) && ce.Kind == cloud.KindHTTP {
		// The cloud answered; its rejection is authoritative.
		if len(ce.Body) > 0 {
			writeRaw(c, ce.Status, ce.Body)
		} else {
			fail(c, ce.Status, ErrCodeCloudUnreachable, "cloud rejected request")
		}
		return true
	}

	middleware.LoggerFrom(c).Warn().Err(err).Str("path", path).
		Msg("cloud forward failed, answering locally")
	return false
}

// serveOffline answers from the local store via the offline router.
func (g *Gateway) serveOffline(c *gin.Context, path string, body []byte) {
	resp := g.Offline.HandleRequest(c.Request.Context(), c.Request.Method, path, c.Request.URL.Query(), body)
	ok(c, resp.Status, resp.Body)
}

// mirror refreshes the cached rows for a configuration collection after a
// successful online list read. Best effort: a mirror failure never fails
// the request that produced it.
func (g *Gateway) mirror(c *gin.Context, path string, body []byte) {
	if c.Request.Method != http.MethodGet {
		return
	}
	table := strings.TrimPrefix(path, "/api/")
	if strings.Contains(table, "/") || !mirrorTables[table] {
		return
	}

	var raws []json.RawMessage
	if err := json.Unmarshal(body, &raws); err != nil {
		return
	}
	items := make([]domain.CachedEntity, 0, len(raws))
	for _, raw := range raws {
		var rec struct {
			ID           string `json:"id"`
			EnterpriseID string `json:"enterpriseId"`
			PropertyID   string `json:"propertyId"`
		}
		if err := json.Unmarshal(raw, &rec); err != nil || rec.ID == "" {
			return
		}
		items = append(items, domain.CachedEntity{
			Table:        table,
			RecordID:     rec.ID,
			EnterpriseID: rec.EnterpriseID,
			PropertyID:   rec.PropertyID,
			Payload:      string(raw),
		})
	}
	if err := g.Store.CacheEntityList(c.Request.Context(), table, g.EnterpriseID, items); err != nil {
		middleware.LoggerFrom(c).Warn().Err(err).Str("table", table).Msg("cache mirror failed")
	}
}

// writeRaw relays a cloud response body verbatim. Bodies are JSON on this
// API; an empty one still gets the right status.
func writeRaw(c *gin.Context, status int, body []byte) {
	if len(body) == 0 {
		c.Status(status)
		return
	}
	c.Data(status, "application/json; charset=utf-8", body)
}
