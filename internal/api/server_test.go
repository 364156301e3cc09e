package api

import (
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/AH-Merii/clearml/internal/api/models"
)

type mockStatus struct {
	monitors []models.MonitorInfo
	queue    models.QueueData
}

func (m *mockStatus) MonitorStatus() []models.MonitorInfo { return m.monitors }
func (m *mockStatus) QueueStatus() models.QueueData       { return m.queue }

func newTestServer(opts *Options) *httptest.Server {
	if opts == nil {
		opts = &Options{}
	}
	s := NewServer(opts)
	return httptest.NewServer(s.mux)
}

func TestHealthEndpoint(t *testing.T) {
	ts := newTestServer(nil)
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/api/health")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	var body models.HealthData
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatal(err)
	}
	if body.Status != "ok" {
		t.Errorf("health status = %q, want ok", body.Status)
	}
}

func TestVersionEndpoint(t *testing.T) {
	ts := newTestServer(nil)
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/api/version")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	var body models.VersionData
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatal(err)
	}
	if body.Version == "" || body.GoVersion == "" {
		t.Errorf("version data incomplete: %+v", body)
	}
}

func TestMonitorsEndpoint(t *testing.T) {
	status := &mockStatus{
		monitors: []models.MonitorInfo{
			{Name: "resources", TaskID: "t1", Mode: "thread", Alive: true, PeriodSeconds: 5},
			{Name: "logs", TaskID: "t1", Mode: "companion", Alive: false, PeriodSeconds: 1},
		},
	}
	ts := newTestServer(&Options{Status: status})
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/api/monitors")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	var body models.MonitorListData
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatal(err)
	}
	if body.Count != 2 || len(body.Monitors) != 2 {
		t.Fatalf("got %d monitors, want 2", body.Count)
	}
	if body.Monitors[0].Name != "resources" || !body.Monitors[0].Alive {
		t.Errorf("unexpected first monitor: %+v", body.Monitors[0])
	}
}

func TestQueueEndpoint(t *testing.T) {
	status := &mockStatus{
		queue: models.QueueData{Pending: 3, CompanionAlive: true, CompanionPID: 4242},
	}
	ts := newTestServer(&Options{Status: status})
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/api/queue")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	var body models.QueueData
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatal(err)
	}
	if body.Pending != 3 || !body.CompanionAlive || body.CompanionPID != 4242 {
		t.Errorf("unexpected queue data: %+v", body)
	}
}

func TestBasicAuthProtectsStatusRoutes(t *testing.T) {
	ts := newTestServer(&Options{
		AuthUsername: "admin",
		AuthPassword: "secret",
		Status:       &mockStatus{},
	})
	defer ts.Close()

	// health is explicitly unauthenticated
	resp, err := http.Get(ts.URL + "/api/health")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("health should skip auth, got %d", resp.StatusCode)
	}

	resp, err = http.Get(ts.URL + "/api/monitors")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("monitors without credentials = %d, want 401", resp.StatusCode)
	}

	req, _ := http.NewRequest(http.MethodGet, ts.URL+"/api/monitors", nil)
	creds := base64.StdEncoding.EncodeToString([]byte("admin:secret"))
	req.Header.Set("Authorization", "Basic "+creds)
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("monitors with credentials = %d, want 200", resp.StatusCode)
	}
}

func TestMetricsHandlerMounted(t *testing.T) {
	ts := newTestServer(&Options{
		PrometheusHandler: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
		}),
	})
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/metrics")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("metrics = %d, want 200", resp.StatusCode)
	}
}
