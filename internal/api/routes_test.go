package api

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"scalper/internal/bot"
	"scalper/internal/config"
	"scalper/internal/models"
	"scalper/pkg/utils"
)

type stubEngine struct{}

func (stubEngine) Positions() []models.PositionState {
	return []models.PositionState{{Symbol: "BTCUSDT", Side: models.SideBuy}}
}

func (stubEngine) CooldownStatus(symbol string) bot.CooldownStatus {
	return bot.CooldownStatus{Symbol: symbol}
}

func newTestServer(t *testing.T, server config.ServerConfig, events http.Handler) *httptest.Server {
	t.Helper()
	router := SetupRoutes(&Dependencies{
		Engine: stubEngine{},
		Events: events,
		Server: server,
		Logger: utils.NewNopLogger(),
	})
	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)
	return srv
}

func get(t *testing.T, url string, auth bool) *http.Response {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, url, nil)
	if err != nil {
		t.Fatal(err)
	}
	if auth {
		req.SetBasicAuth("ops", "secret")
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestSetupRoutes(t *testing.T) {
	events := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
	})
	srv := newTestServer(t, config.ServerConfig{}, events)

	tests := []struct {
		path       string
		wantStatus int
	}{
		{"/health", http.StatusOK},
		{"/metrics", http.StatusOK},
		{"/api/v1/positions", http.StatusOK},
		{"/api/v1/cooldowns/BTCUSDT", http.StatusOK},
		// без БД журнал недоступен
		{"/api/v1/routes/BTCUSDT", http.StatusServiceUnavailable},
		{"/ws/events", http.StatusAccepted},
		{"/api/v1/pairs", http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			if resp := get(t, srv.URL+tt.path, false); resp.StatusCode != tt.wantStatus {
				t.Errorf("GET %s = %d, want %d", tt.path, resp.StatusCode, tt.wantStatus)
			}
		})
	}
}

func TestSetupRoutes_MetricsExposeRouterSeries(t *testing.T) {
	bot.RecordRoute("BTCUSDT", "accepted", 12, 1.5)
	srv := newTestServer(t, config.ServerConfig{}, nil)

	resp := get(t, srv.URL+"/metrics", false)
	buf := new(strings.Builder)
	if _, err := io.Copy(buf, resp.Body); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(buf.String(), "scalper_router_route_latency_ms") {
		t.Error("router latency histogram not exported")
	}
}

func TestSetupRoutes_AuthProtectsAPIOnly(t *testing.T) {
	srv := newTestServer(t, config.ServerConfig{OpsUsername: "ops", OpsPassword: "secret"}, nil)

	if resp := get(t, srv.URL+"/api/v1/positions", false); resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("unauthenticated = %d, want 401", resp.StatusCode)
	}
	if resp := get(t, srv.URL+"/api/v1/positions", true); resp.StatusCode != http.StatusOK {
		t.Errorf("authenticated = %d, want 200", resp.StatusCode)
	}
	if resp := get(t, srv.URL+"/health", false); resp.StatusCode != http.StatusOK {
		t.Errorf("health must stay open, got %d", resp.StatusCode)
	}
}
