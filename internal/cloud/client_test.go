package cloud

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
)

func TestHealth_Reachable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/health" {
			t.Errorf("probe hit %s", r.URL.Path)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := New(srv.URL, "e1", "ws1", zerolog.Nop())
	if err := c.Health(context.Background()); err != nil {
		t.Fatalf("healthy cloud must probe clean: %v", err)
	}
}

func TestHealth_NonOKIsHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := New(srv.URL, "e1", "ws1", zerolog.Nop())
	err := c.Health(context.Background())
	if !IsHTTP(err) {
		t.Fatalf("expected http-kind error, got %v", err)
	}
	var ce *Error
	if errors.As(err, &ce) && ce.Status != http.StatusServiceUnavailable {
		t.Fatalf("status not carried: %+v", ce)
	}
}

func TestHealth_UnreachableIsNetworkError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close() // nothing listening anymore

	c := New(srv.URL, "e1", "ws1", zerolog.Nop())
	if err := c.Health(context.Background()); !IsNetwork(err) {
		t.Fatalf("expected network-kind error, got %v", err)
	}
}

func TestFetchList_ScopesAndLiftsRecords(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("enterpriseId"); got != "e1" {
			t.Errorf("enterprise scope missing, got %q", got)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`[
			{"id":"m1","enterpriseId":"e1","name":"Burger","price":"9.50"},
			{"id":"m2","enterpriseId":"e1","propertyId":"p1","name":"Fries"}
		]`))
	}))
	defer srv.Close()

	c := New(srv.URL, "e1", "ws1", zerolog.Nop())
	recs, err := c.FetchList(context.Background(), "/api/menu-items")
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if len(recs) != 2 {
		t.Fatalf("expected 2 records, got %d", len(recs))
	}
	if recs[0].ID != "m1" || recs[0].EnterpriseID != "e1" {
		t.Fatalf("keys not lifted: %+v", recs[0])
	}
	if recs[1].PropertyID != "p1" {
		t.Fatalf("property scope not lifted: %+v", recs[1])
	}
	if len(recs[0].Raw) == 0 {
		t.Fatalf("raw payload must be preserved")
	}
}

func TestFetchList_NonArrayIsProtocolError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"error":"not a list"}`))
	}))
	defer srv.Close()

	c := New(srv.URL, "e1", "ws1", zerolog.Nop())
	_, err := c.FetchList(context.Background(), "/api/menu-items")
	var ce *Error
	if !errors.As(err, &ce) || ce.Kind != KindProtocol {
		t.Fatalf("expected protocol-kind error, got %v", err)
	}
}

func TestDo_SuccessCarriesStatusAndBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s", r.Method)
		}
		if got := r.Header.Get("X-Workstation-ID"); got != "ws1" {
			t.Errorf("workstation header missing, got %q", got)
		}
		if got := r.Header.Get("Content-Type"); got != "application/json" {
			t.Errorf("content type missing, got %q", got)
		}
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte(`{"id":"cloud-42","status":"open"}`))
	}))
	defer srv.Close()

	c := New(srv.URL, "e1", "ws1", zerolog.Nop())
	res, err := c.Do(context.Background(), http.MethodPost, "/api/checks", []byte(`{"table":"5"}`))
	if err != nil {
		t.Fatalf("do: %v", err)
	}
	if res.Status != http.StatusCreated {
		t.Fatalf("status = %d", res.Status)
	}
	if res.CloudID() != "cloud-42" {
		t.Fatalf("cloud id not extracted: %q", res.CloudID())
	}
}

func TestDo_RejectionCarriesBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
		w.Write([]byte(`{"error":"check already closed"}`))
	}))
	defer srv.Close()

	c := New(srv.URL, "e1", "ws1", zerolog.Nop())
	_, err := c.Do(context.Background(), http.MethodPost, "/api/payments", []byte(`{}`))
	var ce *Error
	if !errors.As(err, &ce) || ce.Kind != KindHTTP {
		t.Fatalf("expected http-kind error, got %v", err)
	}
	if ce.Status != http.StatusConflict || string(ce.Body) != `{"error":"check already closed"}` {
		t.Fatalf("rejection not passed through: %+v", ce)
	}
}

func TestReplayResult_CloudIDMissing(t *testing.T) {
	r := &ReplayResult{Status: 200, Body: []byte(`{"status":"ok"}`)}
	if got := r.CloudID(); got != "" {
		t.Fatalf("expected empty id, got %q", got)
	}
}
