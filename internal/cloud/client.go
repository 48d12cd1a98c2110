// Package cloud implements the HTTP client the agent uses against the
// cloud POS API. This file provides the client itself. Every call carries
// an explicit timeout via context and classifies its failure into the
// typed taxonomy in errors.go.
package cloud

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/rs/zerolog"
)

// Record is one configuration object returned by a cloud collection
// endpoint. ID and scope fields are lifted out for cache keying; Raw keeps
// the full object for the cache payload.
type Record struct {
	ID           string          `json:"id"`
	EnterpriseID string          `json:"enterpriseId"`
	PropertyID   string          `json:"propertyId"`
	Raw          json.RawMessage `json:"-"`
}

// ReplayResult is the cloud's answer to a replayed queued operation.
type ReplayResult struct {
	Status int
	Body   []byte
}

// CloudID extracts the id the cloud assigned in a replay response body.
// Empty when the body has no id field.
func (r *ReplayResult) CloudID() string {
	var probe struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(r.Body, &probe); err != nil {
		return ""
	}
	return probe.ID
}

// Client talks to the cloud POS API. All methods honor ctx cancellation
// and deadline; the caller decides the timeout per call class.
type Client struct {
	baseURL       string
	enterpriseID  string
	workstationID string
	httpc         *http.Client
	log           zerolog.Logger
}

// New constructs a Client. The underlying http.Client carries no global
// timeout; per-call contexts bound each request instead, so a slow pull
// cannot inherit the probe's short deadline or vice versa.
func New(baseURL, enterpriseID, workstationID string, log zerolog.Logger) *Client {
	return &Client{
		baseURL:       strings.TrimRight(baseURL, "/"),
		enterpriseID:  enterpriseID,
		workstationID: workstationID,
		httpc:         &http.Client{},
		log:           log.With().Str("component", "cloud").Logger(),
	}
}

// Health probes GET /api/health. A nil return means the cloud is
// reachable; any failure is a typed *Error.
func (c *Client) Health(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/health", nil)
	if err != nil {
		return &Error{Kind: KindNetwork, Op: "probe", Err: err}
	}
	resp, err := c.httpc.Do(req)
	if err != nil {
		return &Error{Kind: KindNetwork, Op: "probe", Err: err}
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body) //nolint:errcheck // drain for keep-alive
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &Error{Kind: KindHTTP, Op: "probe", Status: resp.StatusCode}
	}
	return nil
}

// FetchList pulls one configuration collection (e.g. "/api/menu-items"),
// filtered by the client's enterprise scope. The response must be a JSON
// array of objects; anything else is a protocol error.
func (c *Client) FetchList(ctx context.Context, path string) ([]Record, error) {
	op := "pull " + strings.TrimPrefix(path, "/api/")

	u := c.baseURL + path
	if c.enterpriseID != "" {
		u += "?" + url.Values{"enterpriseId": {c.enterpriseID}}.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, &Error{Kind: KindNetwork, Op: op, Err: err}
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpc.Do(req)
	if err != nil {
		return nil, &Error{Kind: KindNetwork, Op: op, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		io.Copy(io.Discard, resp.Body) //nolint:errcheck
		return nil, &Error{Kind: KindHTTP, Op: op, Status: resp.StatusCode}
	}

	var raws []json.RawMessage
	if err := json.NewDecoder(resp.Body).Decode(&raws); err != nil {
		return nil, &Error{Kind: KindProtocol, Op: op, Err: err}
	}

	out := make([]Record, 0, len(raws))
	for _, raw := range raws {
		var rec Record
		if err := json.Unmarshal(raw, &rec); err != nil {
			return nil, &Error{Kind: KindProtocol, Op: op, Err: err}
		}
		rec.Raw = raw
		out = append(out, rec)
	}
	return out, nil
}

// Do performs an arbitrary API call (method, path, body) and returns the
// raw result. Used to replay queued operations and to proxy online
// requests from the local API.
func (c *Client) Do(ctx context.Context, method, path string, body []byte) (*ReplayResult, error) {
	op := strings.ToLower(method) + " " + path

	var rd io.Reader
	if len(body) > 0 {
		rd = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, rd)
	if err != nil {
		return nil, &Error{Kind: KindNetwork, Op: op, Err: err}
	}
	req.Header.Set("Accept", "application/json")
	if len(body) > 0 {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.workstationID != "" {
		req.Header.Set("X-Workstation-ID", c.workstationID)
	}

	resp, err := c.httpc.Do(req)
	if err != nil {
		return nil, &Error{Kind: KindNetwork, Op: op, Err: err}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &Error{Kind: KindNetwork, Op: op, Err: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &Error{Kind: KindHTTP, Op: op, Status: resp.StatusCode, Body: respBody}
	}
	return &ReplayResult{Status: resp.StatusCode, Body: respBody}, nil
}
