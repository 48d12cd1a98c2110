package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/griffd12/cloud-pos-sub004/internal/cloud"
	"github.com/griffd12/cloud-pos-sub004/internal/router"
	"github.com/griffd12/cloud-pos-sub004/internal/store"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type fakeProxy struct {
	res   *cloud.ReplayResult
	err   error
	calls int

	lastMethod string
	lastPath   string
	lastBody   []byte
}

func (f *fakeProxy) Do(_ context.Context, method, path string, body []byte) (*cloud.ReplayResult, error) {
	f.calls++
	f.lastMethod = method
	f.lastPath = path
	f.lastBody = body
	return f.res, f.err
}

type gatewayFixture struct {
	store  store.Store
	proxy  *fakeProxy
	online bool
	engine *gin.Engine
}

func newGatewayFixture(t *testing.T) *gatewayFixture {
	t.Helper()
	path := filepath.Join(t.TempDir(), fmt.Sprintf("gw-%d.db", time.Now().UnixNano()))
	st, err := store.OpenSQLite(path, false)
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	fx := &gatewayFixture{store: st, proxy: &fakeProxy{}}
	g := &Gateway{
		Online:         func() bool { return fx.online },
		Cloud:          fx.proxy,
		Offline:        router.New(st, "e1", "ws1", time.Hour, zerolog.Nop()),
		Store:          st,
		EnterpriseID:   "e1",
		RequestTimeout: time.Second,
		PrintState:     func() string { return "authenticated" },
	}

	r := gin.New()
	r.GET("/health", g.Health)
	r.Any("/api/*path", g.Proxy)
	fx.engine = r
	return fx
}

func (fx *gatewayFixture) do(method, target, body string) *httptest.ResponseRecorder {
	var rd *strings.Reader
	if body != "" {
		rd = strings.NewReader(body)
	} else {
		rd = strings.NewReader("")
	}
	req := httptest.NewRequest(method, target, rd)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	fx.engine.ServeHTTP(w, req)
	return w
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode response %q: %v", w.Body.String(), err)
	}
	return out
}

func TestHealth_ReportsModeAndQueueDepth(t *testing.T) {
	fx := newGatewayFixture(t)
	fx.online = false

	if _, err := fx.store.QueueOperation(context.Background(), "create_check", "/api/checks", "POST", "{}", 1); err != nil {
		t.Fatalf("queue: %v", err)
	}

	w := fx.do(http.MethodGet, "/health", "")
	if w.Code != http.StatusOK {
		t.Fatalf("health status = %d", w.Code)
	}
	body := decodeBody(t, w)
	if body["online"] != false {
		t.Errorf("online flag wrong: %v", body["online"])
	}
	if body["pending_operations"] != float64(1) {
		t.Errorf("pending_operations = %v", body["pending_operations"])
	}
	if body["print_agent"] != "authenticated" {
		t.Errorf("print_agent = %v", body["print_agent"])
	}
}

func TestProxy_ApiHealthIsNeverForwarded(t *testing.T) {
	fx := newGatewayFixture(t)
	fx.online = true

	w := fx.do(http.MethodGet, "/api/health", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if fx.proxy.calls != 0 {
		t.Fatalf("/api/health must be answered locally, cloud was called %d times", fx.proxy.calls)
	}
	if body := decodeBody(t, w); body["status"] != "ok" {
		t.Fatalf("unexpected body: %v", body)
	}
}

func TestProxy_OnlineForwardsVerbatim(t *testing.T) {
	fx := newGatewayFixture(t)
	fx.online = true
	fx.proxy.res = &cloud.ReplayResult{Status: http.StatusCreated, Body: []byte(`{"id":"cloud-7","status":"open"}`)}

	w := fx.do(http.MethodPost, "/api/checks?rvcId=r1", `{"table":"5"}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d body=%s", w.Code, w.Body.String())
	}
	if w.Body.String() != `{"id":"cloud-7","status":"open"}` {
		t.Fatalf("cloud body must pass through untouched: %s", w.Body.String())
	}
	if fx.proxy.lastMethod != http.MethodPost || fx.proxy.lastPath != "/api/checks?rvcId=r1" {
		t.Fatalf("forward target wrong: %s %s", fx.proxy.lastMethod, fx.proxy.lastPath)
	}
	if string(fx.proxy.lastBody) != `{"table":"5"}` {
		t.Fatalf("forward body wrong: %s", fx.proxy.lastBody)
	}
}

func TestProxy_OnlineListReadWarmsCache(t *testing.T) {
	fx := newGatewayFixture(t)
	fx.online = true
	fx.proxy.res = &cloud.ReplayResult{
		Status: http.StatusOK,
		Body:   []byte(`[{"id":"m1","enterpriseId":"e1","name":"Burger"},{"id":"m2","enterpriseId":"e1","name":"Fries"}]`),
	}

	w := fx.do(http.MethodGet, "/api/menu-items", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}

	cached, err := fx.store.GetEntityList(context.Background(), "menu-items", "e1")
	if err != nil {
		t.Fatalf("cache read: %v", err)
	}
	if len(cached) != 2 {
		t.Fatalf("expected 2 mirrored entities, got %d", len(cached))
	}
}

func TestProxy_CloudRejectionIsAuthoritative(t *testing.T) {
	fx := newGatewayFixture(t)
	fx.online = true
	fx.proxy.err = &cloud.Error{
		Kind:   cloud.KindHTTP,
		Op:     "post /api/payments",
		Status: http.StatusConflict,
		Body:   []byte(`{"error":"check already closed"}`),
	}

	w := fx.do(http.MethodPost, "/api/payments", `{}`)
	if w.Code != http.StatusConflict {
		t.Fatalf("rejection status not relayed: %d", w.Code)
	}
	if w.Body.String() != `{"error":"check already closed"}` {
		t.Fatalf("rejection body not relayed: %s", w.Body.String())
	}
}

func TestProxy_NetworkFailureFallsBackToOffline(t *testing.T) {
	fx := newGatewayFixture(t)
	fx.online = true
	fx.proxy.err = &cloud.Error{Kind: cloud.KindNetwork, Op: "post /api/checks", Err: errors.New("connection reset")}

	w := fx.do(http.MethodPost, "/api/checks", `{"rvcId":"r1","employeeId":"emp1"}`)
	if w.Code != http.StatusAccepted {
		t.Fatalf("offline fallback must queue the check, got %d: %s", w.Code, w.Body.String())
	}
	if fx.proxy.calls != 1 {
		t.Fatalf("cloud must be tried exactly once, got %d", fx.proxy.calls)
	}

	// The fallback queued the operation for later replay.
	ops, err := fx.store.PendingOperations(context.Background(), 0)
	if err != nil {
		t.Fatalf("pending: %v", err)
	}
	if len(ops) != 1 || ops[0].Type != "create_check" {
		t.Fatalf("expected queued create_check, got %+v", ops)
	}
}

func TestProxy_OfflineRoutesLocally(t *testing.T) {
	fx := newGatewayFixture(t)
	fx.online = false

	w := fx.do(http.MethodPost, "/api/checks", `{"rvcId":"r1","employeeId":"emp1"}`)
	if w.Code != http.StatusAccepted {
		t.Fatalf("offline create failed: %d %s", w.Code, w.Body.String())
	}
	if fx.proxy.calls != 0 {
		t.Fatalf("cloud must not be touched offline")
	}
}

func TestProxy_OfflineUnsupportedGets503(t *testing.T) {
	fx := newGatewayFixture(t)
	fx.online = false

	w := fx.do(http.MethodPost, "/api/reports/daily", `{}`)
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("unsupported offline op must 503, got %d", w.Code)
	}
	body := decodeBody(t, w)
	if body["code"] != "offline_unsupported" {
		t.Fatalf("error code wrong: %v", body)
	}
}
