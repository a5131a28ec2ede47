package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"github.com/openjobspec/ojs-operator-checks/internal/checks"
	"github.com/openjobspec/ojs-operator-checks/internal/core"
	natsbackend "github.com/openjobspec/ojs-operator-checks/internal/nats"
)

func TestRouterEndToEnd_ScheduleRespectsBacklog(t *testing.T) {
	tsURL := newIntegrationRouterServer(t)

	first := postJSON(t, tsURL+"/v1/checks/schedule", map[string]any{"delay_ms": 60_000})
	first.Body.Close()
	if first.StatusCode != http.StatusAccepted {
		t.Fatalf("first schedule status = %d, want %d", first.StatusCode, http.StatusAccepted)
	}

	second := postJSON(t, tsURL+"/v1/checks/schedule", map[string]any{"delay_ms": 60_000})
	body := decodeJSONBody(t, second.Body)
	if second.StatusCode != http.StatusOK || body["queued"] != false {
		t.Fatalf("second schedule = %d %v, want 200 queued=false", second.StatusCode, body)
	}

	resp, err := http.Get(tsURL + "/v1/queues/" + core.QueueTasks + "/stats")
	if err != nil {
		t.Fatalf("GET stats error = %v", err)
	}
	stats := decodeJSONBody(t, resp.Body)
	if stats["scheduled"] != float64(1) {
		t.Fatalf("scheduled = %v, want 1", stats["scheduled"])
	}
}

func TestRouterEndToEnd_ReadEndpoints(t *testing.T) {
	tsURL := newIntegrationRouterServer(t)

	for path, want := range map[string]int{
		"/healthz":                  http.StatusOK,
		"/metrics":                  http.StatusOK,
		"/v1/state":                 http.StatusOK,
		"/v1/cycles/missing":        http.StatusNotFound,
		"/v1/queues/refills/failed": http.StatusOK,
		"/v1/results?limit=5":       http.StatusOK,
		"/v1/results?limit=-1":      http.StatusBadRequest,
	} {
		resp, err := http.Get(tsURL + path)
		if err != nil {
			t.Fatalf("GET %s error = %v", path, err)
		}
		resp.Body.Close()
		if resp.StatusCode != want {
			t.Errorf("GET %s status = %d, want %d", path, resp.StatusCode, want)
		}
	}
}

type recentResults []core.ProbeResult

func (r recentResults) Recent(_ context.Context, n int) ([]core.ProbeResult, error) {
	if n < len(r) {
		return r[:n], nil
	}
	return r, nil
}

func postJSON(t *testing.T, url string, payload any) *http.Response {
	t.Helper()
	raw, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal request: %v", err)
	}
	resp, err := http.Post(url, "application/json", bytes.NewReader(raw))
	if err != nil {
		t.Fatalf("POST %s error = %v", url, err)
	}
	return resp
}

func decodeJSONBody(t *testing.T, body io.ReadCloser) map[string]any {
	t.Helper()
	defer body.Close()
	var out map[string]any
	if err := json.NewDecoder(body).Decode(&out); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return out
}

func newIntegrationRouterServer(t *testing.T) string {
	t.Helper()

	natsURL := os.Getenv("NATS_URL")
	if natsURL == "" {
		natsURL = "nats://localhost:4222"
	}

	backend, err := natsbackend.New(natsURL)
	if err != nil {
		t.Skipf("skipping integration test; NATS unavailable at %s: %v", natsURL, err)
	}

	wipe := func() { _, _ = backend.Obliterate(context.Background(), core.QueueTasks) }
	wipe()
	t.Cleanup(func() {
		wipe()
		_ = backend.Close()
	})

	sched := checks.NewScheduler(checks.SchedulerConfig{Queue: backend, State: backend.ServiceState()})
	ts := httptest.NewServer(NewRouter(RouterDeps{
		Health:    backend,
		State:     backend.ServiceState(),
		Scheduler: sched,
		Cycles:    backend.Cycles(),
		Queues:    backend,
		Results:   recentResults{{Stamp: 1, Kind: "facilitator-operator-eth", Amount: "1"}},
	}))
	t.Cleanup(ts.Close)
	return ts.URL
}
