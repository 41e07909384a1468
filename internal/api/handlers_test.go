package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/zattra/wablast/internal/config"
	"github.com/zattra/wablast/internal/dispatch"
	"github.com/zattra/wablast/internal/history"
	"github.com/zattra/wablast/internal/metrics"
	"github.com/zattra/wablast/internal/pacing"
	"github.com/zattra/wablast/internal/progress"
)

type stubGateway struct {
	sendDelay time.Duration
}

func (g *stubGateway) SendText(ctx context.Context, phone, message string) error {
	time.Sleep(g.sendDelay)
	return nil
}

func (g *stubGateway) SendMedia(ctx context.Context, phone, publicRef, caption string) error {
	time.Sleep(g.sendDelay)
	return nil
}

func (g *stubGateway) Upload(ctx context.Context, inline string) (string, error) {
	return "https://media.example.com/u/1", nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestServer(t *testing.T, apiKey string) (*Server, *dispatch.Manager) {
	return newTestServerGW(t, apiKey, &stubGateway{})
}

func newTestServerGW(t *testing.T, apiKey string, gw dispatch.Gateway) (*Server, *dispatch.Manager) {
	t.Helper()

	journal, err := history.NewStore(filepath.Join(t.TempDir(), "history.db"))
	if err != nil {
		t.Fatalf("failed to open journal: %v", err)
	}
	t.Cleanup(func() { journal.Close() })

	d := dispatch.NewDispatcher(gw, journal, dispatch.Options{
		Pacing: pacing.Config{
			DelayBetween: 5 * time.Second,
			Jitter:       time.Millisecond,
		},
		DefaultCountryCode: "62",
		Rand:               rand.New(rand.NewSource(1)),
		Sleep: func(ctx context.Context, d time.Duration) error {
			return ctx.Err()
		},
	}, testLogger())
	m := dispatch.NewManager(d, testLogger())
	t.Cleanup(m.Shutdown)

	cfg := &config.APIConfig{ListenAddr: ":0", APIKey: apiKey}
	return NewServer(m, journal, cfg, testLogger()), m
}

func doJSON(t *testing.T, h http.Handler, method, path string, body interface{}, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("failed to encode request body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func waitForPhase(t *testing.T, m *dispatch.Manager, id string, want progress.Phase) progress.CampaignProgress {
	t.Helper()

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		snap, ok := m.Progress(id)
		if ok && snap.Phase == want {
			return snap
		}
		time.Sleep(5 * time.Millisecond)
	}
	snap, _ := m.Progress(id)
	t.Fatalf("campaign %s never reached phase %s, last seen %s", id, want, snap.Phase)
	return progress.CampaignProgress{}
}

func TestHealthNoAuth(t *testing.T) {
	srv, _ := newTestServer(t, "secret")

	w := doJSON(t, srv.Handler(), http.MethodGet, "/health", nil, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}

	var resp map[string]interface{}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("invalid JSON response: %v", err)
	}
	if resp["status"] != "ok" {
		t.Errorf("expected status ok, got %v", resp["status"])
	}
}

func TestAuthRequired(t *testing.T) {
	srv, _ := newTestServer(t, "secret")

	tests := []struct {
		name    string
		headers map[string]string
		want    int
	}{
		{"no key", nil, http.StatusUnauthorized},
		{"wrong key", map[string]string{"X-API-Key": "nope"}, http.StatusUnauthorized},
		{"header key", map[string]string{"X-API-Key": "secret"}, http.StatusNotFound},
		{"bearer key", map[string]string{"Authorization": "Bearer secret"}, http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := doJSON(t, srv.Handler(), http.MethodGet, "/api/v1/campaigns/nope", nil, tt.headers)
			if w.Code != tt.want {
				t.Errorf("expected %d, got %d", tt.want, w.Code)
			}
		})
	}
}

func TestAuthDisabledWhenKeyEmpty(t *testing.T) {
	srv, _ := newTestServer(t, "")

	w := doJSON(t, srv.Handler(), http.MethodGet, "/api/v1/campaigns/nope", nil, nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("expected 404 without auth, got %d", w.Code)
	}
}

func TestStartCampaign(t *testing.T) {
	srv, m := newTestServer(t, "")

	req := StartCampaignRequest{
		Recipients: []RecipientPayload{
			{Phone: "0812-3456-789", Name: "Budi", Message: "stok sudah datang"},
		},
	}
	w := doJSON(t, srv.Handler(), http.MethodPost, "/api/v1/campaigns", req, nil)
	if w.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", w.Code, w.Body.String())
	}

	var resp StartCampaignResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("invalid JSON response: %v", err)
	}
	if resp.ID == "" {
		t.Fatal("expected a campaign id")
	}
	if resp.Status != "accepted" {
		t.Errorf("expected status accepted, got %q", resp.Status)
	}

	snap := waitForPhase(t, m, resp.ID, progress.PhaseDone)
	if snap.TotalSuccess != 1 {
		t.Errorf("expected 1 success, got %d", snap.TotalSuccess)
	}
}

func TestStartCampaignValidation(t *testing.T) {
	srv, _ := newTestServer(t, "")

	tests := []struct {
		name string
		req  StartCampaignRequest
		want int
	}{
		{"no recipients", StartCampaignRequest{Caption: "hi"}, http.StatusBadRequest},
		{"no content", StartCampaignRequest{
			Recipients: []RecipientPayload{{Phone: "08123"}},
		}, http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := doJSON(t, srv.Handler(), http.MethodPost, "/api/v1/campaigns", tt.req, nil)
			if w.Code != tt.want {
				t.Errorf("expected %d, got %d: %s", tt.want, w.Code, w.Body.String())
			}
		})
	}
}

func TestStartCampaignBadJSON(t *testing.T) {
	srv, _ := newTestServer(t, "")

	req := httptest.NewRequest(http.MethodPost, "/api/v1/campaigns", bytes.NewBufferString("{nope"))
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", w.Code)
	}
}

func TestProgressAndOutcomes(t *testing.T) {
	srv, m := newTestServer(t, "")

	id, err := m.Start([]dispatch.Recipient{
		{Phone: "081234567890", Message: "halo"},
		{Phone: "081234567891", Message: "halo"},
	}, nil, "")
	if err != nil {
		t.Fatalf("failed to start campaign: %v", err)
	}
	waitForPhase(t, m, id, progress.PhaseDone)

	w := doJSON(t, srv.Handler(), http.MethodGet, "/api/v1/campaigns/"+id, nil, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var snap progress.CampaignProgress
	if err := json.Unmarshal(w.Body.Bytes(), &snap); err != nil {
		t.Fatalf("invalid JSON response: %v", err)
	}
	if snap.TotalSuccess != 2 {
		t.Errorf("expected 2 successes, got %d", snap.TotalSuccess)
	}

	w = doJSON(t, srv.Handler(), http.MethodGet, "/api/v1/campaigns/"+id+"/outcomes", nil, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200 for outcomes, got %d", w.Code)
	}
	var outcomes struct {
		Count    int                      `json:"count"`
		Outcomes []*history.OutcomeRecord `json:"outcomes"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &outcomes); err != nil {
		t.Fatalf("invalid JSON response: %v", err)
	}
	if outcomes.Count != 2 {
		t.Errorf("expected 2 journaled outcomes, got %d", outcomes.Count)
	}
	for i, rec := range outcomes.Outcomes {
		if !rec.Success {
			t.Errorf("outcome %d: expected success, got error kind %q", i, rec.ErrorKind)
		}
	}
}

func TestProgressUnknownCampaign(t *testing.T) {
	srv, _ := newTestServer(t, "")

	for _, path := range []string{
		"/api/v1/campaigns/nope",
		"/api/v1/campaigns/nope/outcomes",
	} {
		w := doJSON(t, srv.Handler(), http.MethodGet, path, nil, nil)
		if w.Code != http.StatusNotFound {
			t.Errorf("%s: expected 404, got %d", path, w.Code)
		}
	}
}

func TestCancelCampaign(t *testing.T) {
	srv, m := newTestServerGW(t, "", &stubGateway{sendDelay: 20 * time.Millisecond})

	// Enough recipients that the campaign is still in flight when the
	// cancel request lands.
	var recipients []dispatch.Recipient
	for i := 0; i < 10; i++ {
		recipients = append(recipients, dispatch.Recipient{
			Phone:   fmt.Sprintf("0812345678%02d", i),
			Message: "halo",
		})
	}
	id, err := m.Start(recipients, nil, "")
	if err != nil {
		t.Fatalf("failed to start campaign: %v", err)
	}

	w := doJSON(t, srv.Handler(), http.MethodDelete, "/api/v1/campaigns/"+id, nil, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}

	snap := waitForPhase(t, m, id, progress.PhaseError)
	if snap.Error == "" {
		t.Error("expected a cancellation reason in the snapshot")
	}
}

func TestRequestMetricsUseRoutePattern(t *testing.T) {
	m := metrics.New()
	metrics.SetGlobal(m)
	defer metrics.SetGlobal(nil)

	srv, _ := newTestServer(t, "")

	// Distinct campaign ids must collapse into one labeled series.
	for _, id := range []string{
		"aaaaaaaa-1111-1111-1111-111111111111",
		"bbbbbbbb-2222-2222-2222-222222222222",
	} {
		doJSON(t, srv.Handler(), http.MethodGet, "/api/v1/campaigns/"+id, nil, nil)
	}

	body := scrapeMetrics(t, m)
	want := `wablast_api_requests_total{method="GET",path="/api/v1/campaigns/{id}",status="404"} 2`
	if !strings.Contains(body, want) {
		t.Errorf("metrics output missing %q", want)
	}
	if n := strings.Count(body, "wablast_api_requests_total{"); n != 1 {
		t.Errorf("request series = %d, want 1 regardless of campaign id", n)
	}
}

func scrapeMetrics(t *testing.T, m *metrics.Metrics) string {
	t.Helper()
	handler := promhttp.HandlerFor(m.Registry(), promhttp.HandlerOpts{})
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	body, _ := io.ReadAll(rec.Result().Body)
	return string(body)
}

func TestCancelUnknownCampaign(t *testing.T) {
	srv, _ := newTestServer(t, "")

	w := doJSON(t, srv.Handler(), http.MethodDelete, "/api/v1/campaigns/nope", nil, nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", w.Code)
	}
}
