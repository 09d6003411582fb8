package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/OldStager01/fleet-autoscaler/api/handlers"
	"github.com/OldStager01/fleet-autoscaler/internal/events"
	"github.com/OldStager01/fleet-autoscaler/internal/metrics"
	"github.com/OldStager01/fleet-autoscaler/internal/provider/simulation"
	"github.com/OldStager01/fleet-autoscaler/internal/scaler"
	"github.com/OldStager01/fleet-autoscaler/pkg/config"
	"github.com/OldStager01/fleet-autoscaler/pkg/models"
)

func testConfig() *config.Config {
	return &config.Config{
		App: config.AppConfig{Name: "fleet-autoscaler", Mode: "test", LogLevel: "error"},
		Scaling: config.ScalingConfig{
			OperationTimeout: time.Minute,
		},
		API: config.APIConfig{
			RateLimit:     1000,
			JWTSecret:     "test-secret",
			JWTDuration:   time.Hour,
			CookieName:    "auth_token",
			AdminUser:     "admin",
			AdminPassword: "secret",
		},
	}
}

func lobby() *models.GroupConfig {
	return &models.GroupConfig{
		Name: "lobby",
		Server: models.ServerSettings{
			MinServers: 0,
			MaxServers: 3,
			MaxPlayers: 20,
		},
		Scaling: models.ScalingSettings{
			CooldownSeconds: 30,
			Conditions:      models.Conditions{ScaleUpThreshold: 0.8, ScaleDownThreshold: 0.2},
		},
	}
}

type testServer struct {
	server   *Server
	registry *scaler.Registry
	token    string
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	p := simulation.New(simulation.Config{StartupDelay: time.Hour, HeartbeatInterval: time.Hour, Seed: 1})
	bus := events.NewEventBus(64)
	history := events.NewEventLogger(nil, bus.SubscribeAll(), 50)
	history.Start()

	registry := scaler.NewRegistry(scaler.Config{Metrics: metrics.New()}, p, events.NewPublisher(bus))
	require.NoError(t, registry.Load(context.Background(), []*models.GroupConfig{lobby()}))

	srv, err := NewServer(testConfig(), Dependencies{
		Fleet:        registry,
		ProviderName: p.Name(),
		Events:       bus.SubscribeAll(),
		History:      history,
		Reload: func(ctx context.Context) ([]*models.GroupConfig, error) {
			groups := []*models.GroupConfig{lobby()}
			return groups, registry.Reload(ctx, groups)
		},
	})
	require.NoError(t, err)

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		srv.Shutdown(ctx)
		registry.Shutdown(ctx)
		history.Stop()
		bus.Close()
	})

	ts := &testServer{server: srv, registry: registry}
	ts.token = ts.login(t)
	return ts
}

func (ts *testServer) do(method, path, token string, body interface{}) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	ts.server.Router().ServeHTTP(w, req)
	return w
}

func (ts *testServer) login(t *testing.T) string {
	t.Helper()
	w := ts.do(http.MethodPost, "/auth/login", "", handlers.LoginRequest{Username: "admin", Password: "secret"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp handlers.LoginResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp.Token
}

func TestServer_PublicAndProtectedRoutes(t *testing.T) {
	ts := newTestServer(t)

	tests := []struct {
		name   string
		method string
		path   string
		token  string
		want   int
	}{
		{"health is public", http.MethodGet, "/health", "", http.StatusOK},
		{"liveness is public", http.MethodGet, "/health/live", "", http.StatusOK},
		{"swagger is public", http.MethodGet, "/swagger/doc.json", "", http.StatusOK},
		{"groups need a token", http.MethodGet, "/groups", "", http.StatusUnauthorized},
		{"servers need a token", http.MethodGet, "/servers", "", http.StatusUnauthorized},
		{"websocket needs a token", http.MethodGet, "/ws", "", http.StatusUnauthorized},
		{"groups with token", http.MethodGet, "/groups", ts.token, http.StatusOK},
		{"unknown group", http.MethodGet, "/groups/creative", ts.token, http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := ts.do(tt.method, tt.path, tt.token, nil)
			assert.Equal(t, tt.want, w.Code)
		})
	}
}

func TestServer_SecurityHeadersAndTraceID(t *testing.T) {
	ts := newTestServer(t)

	w := ts.do(http.MethodGet, "/health", "", nil)
	assert.NotEmpty(t, w.Header().Get("X-Trace-ID"))
	assert.Equal(t, "nosniff", w.Header().Get("X-Content-Type-Options"))
}

func TestServer_UpscaleFlow(t *testing.T) {
	ts := newTestServer(t)

	w := ts.do(http.MethodPost, "/groups/lobby/upscale", ts.token, nil)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var created handlers.ScaleResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &created))
	require.NotNil(t, created.Server)
	assert.Equal(t, "lobby", created.Group)
	assert.True(t, created.Server.ManuallyScaled)
	assert.Equal(t, models.StatusStarting, created.Server.Status())

	w = ts.do(http.MethodGet, "/servers?group=lobby", ts.token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var list struct {
		Count int `json:"count"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
	assert.Equal(t, 1, list.Count)

	w = ts.do(http.MethodGet, "/servers/"+created.Server.Name+"/logs", ts.token, nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = ts.do(http.MethodPost, "/groups/lobby/scale-down", ts.token, nil)
	assert.Equal(t, http.StatusConflict, w.Code, "a booting server is not a scale down candidate")

	assert.Eventually(t, func() bool {
		w := ts.do(http.MethodGet, "/groups/lobby/events", ts.token, nil)
		var body struct {
			Count  int    `json:"count"`
			Source string `json:"source"`
		}
		_ = json.Unmarshal(w.Body.Bytes(), &body)
		return w.Code == http.StatusOK && body.Source == "memory" && body.Count == 1
	}, 5*time.Second, 20*time.Millisecond)
}

func TestServer_PauseAndReload(t *testing.T) {
	ts := newTestServer(t)

	w := ts.do(http.MethodPost, "/groups/lobby/pause", ts.token, nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = ts.do(http.MethodPost, "/admin/reload", ts.token, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	status, ok := ts.registry.Status("lobby")
	require.True(t, ok)
	assert.True(t, status.Paused, "reload keeps the pause state")
}
