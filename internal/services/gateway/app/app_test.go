package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/LeonardoBeccarini/sensordash/internal/metrics"
	"github.com/LeonardoBeccarini/sensordash/internal/model"
	"github.com/LeonardoBeccarini/sensordash/internal/services/aggregator"
	"github.com/LeonardoBeccarini/sensordash/internal/services/controller"
)

type fakeController struct {
	mu       sync.Mutex
	state    controller.State
	err      string
	retryErr error
	retries  int
}

func (c *fakeController) State() controller.State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *fakeController) Err() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

func (c *fakeController) Retry(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.retries++
	if c.retryErr != nil {
		return c.retryErr
	}
	c.state, c.err = controller.StateLoading, ""
	return nil
}

var t0 = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

func newTestGateway(t *testing.T, ctl *fakeController, deps ...Dependency) (*Gateway, *aggregator.DataAggregatorService) {
	t.Helper()
	agg := aggregator.NewDataAggregatorService(aggregator.Config{})
	reg := prometheus.NewRegistry()
	metrics.New(reg)
	g := NewGateway(Config{
		Dashboard:    agg,
		Controller:   ctl,
		Dependencies: deps,
		Gatherer:     reg,
		PingInterval: time.Hour,
	})
	return g, agg
}

func do(t *testing.T, h http.Handler, method, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(method, path, nil))
	return rec
}

func TestStateReturnsSnapshot(t *testing.T) {
	g, agg := newTestGateway(t, &fakeController{state: controller.StateReady})
	agg.Apply(model.NewReadingEvent(model.Temperature, 21, t0))
	agg.Apply(model.NewReadingEvent(model.Temperature, 23, t0))
	agg.Apply(model.NewPresenceEvent(true, t0))

	rec := do(t, g.Routes(), http.MethodGet, "/dashboard/state")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, 23.0, body["temperature"])
	assert.Equal(t, true, body["presence"])
	assert.Nil(t, body["soilMoisture"])
	assert.Equal(t, []any{0.0, 0.0, 0.0, 21.0, 23.0}, body["temperatureHistory"])
	assert.Equal(t, false, body["loading"])
	assert.NotContains(t, body, "error")
}

func TestRetry(t *testing.T) {
	ctl := &fakeController{state: controller.StateFailed, err: "network down"}
	g, _ := newTestGateway(t, ctl)
	h := g.Routes()

	rec := do(t, h, http.MethodPost, "/dashboard/retry")
	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.JSONEq(t, `{"state":"LOADING"}`, rec.Body.String())

	ctl.retryErr = fmt.Errorf("%w (state READY)", controller.ErrNotFailed)
	rec = do(t, h, http.MethodPost, "/dashboard/retry")
	assert.Equal(t, http.StatusConflict, rec.Code)

	ctl.retryErr = errors.New("aggregator stopped")
	rec = do(t, h, http.MethodPost, "/dashboard/retry")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)

	rec = do(t, h, http.MethodGet, "/dashboard/retry")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	assert.Equal(t, 3, ctl.retries)
}

func TestHealth(t *testing.T) {
	up := Dependency{Name: "mqtt", OK: func() bool { return true }}
	down := Dependency{Name: "influx", OK: func() bool { return false }}

	cases := []struct {
		name   string
		state  controller.State
		deps   []Dependency
		status string
	}{
		{"ready", controller.StateReady, []Dependency{up}, "ok"},
		{"ready without deps", controller.StateReady, nil, "ok"},
		{"ready with a dependency down", controller.StateReady, []Dependency{up, down}, "degraded"},
		{"loading", controller.StateLoading, []Dependency{up}, "degraded"},
		{"failed with broker up", controller.StateFailed, []Dependency{up}, "degraded"},
		{"failed with everything down", controller.StateFailed, []Dependency{down}, "down"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			g, _ := newTestGateway(t, &fakeController{state: tc.state}, tc.deps...)
			rec := do(t, g.Routes(), http.MethodGet, "/healthz")
			require.Equal(t, http.StatusOK, rec.Code)

			var st healthStatus
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &st))
			assert.Equal(t, tc.status, st.Status)
			assert.Equal(t, tc.state.String(), st.State)
		})
	}
}

func TestReady(t *testing.T) {
	ctl := &fakeController{state: controller.StateLoading}
	g, _ := newTestGateway(t, ctl)
	h := g.Routes()

	assert.Equal(t, http.StatusServiceUnavailable, do(t, h, http.MethodGet, "/readyz").Code)
	ctl.state = controller.StateReady
	assert.Equal(t, http.StatusOK, do(t, h, http.MethodGet, "/readyz").Code)
}

func TestMetricsEndpoint(t *testing.T) {
	g, agg := newTestGateway(t, &fakeController{})
	agg.Apply(model.NewReadingEvent(model.Humidity, 50, t0))

	rec := do(t, g.Routes(), http.MethodGet, "/metrics")
	require.Equal(t, http.StatusOK, rec.Code)
	body, _ := io.ReadAll(rec.Body)
	assert.True(t, strings.Contains(string(body), "go_goroutines"))
}

func TestStreamPushesSnapshots(t *testing.T) {
	g, agg := newTestGateway(t, &fakeController{state: controller.StateReady})
	srv := httptest.NewServer(g.Routes())
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/dashboard/stream"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))

	var first aggregator.DashboardState
	require.NoError(t, conn.ReadJSON(&first))
	assert.True(t, first.Loading)

	agg.Apply(model.NewReadingEvent(model.Temperature, 19.5, t0))

	var next aggregator.DashboardState
	require.NoError(t, conn.ReadJSON(&next))
	require.NotNil(t, next.Temperature)
	assert.Equal(t, 19.5, *next.Temperature)
	assert.False(t, next.Loading)
}

func TestStreamRejectsForeignOrigin(t *testing.T) {
	g, _ := newTestGateway(t, &fakeController{state: controller.StateReady})
	srv := httptest.NewServer(g.Routes())
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/dashboard/stream"
	_, resp, err := websocket.DefaultDialer.Dial(url, http.Header{"Origin": {"http://evil.example"}})
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	conn, _, err := websocket.DefaultDialer.Dial(url, http.Header{"Origin": {srv.URL}})
	require.NoError(t, err, "same origin is accepted")
	conn.Close()
}

func TestStreamAllowsConfiguredOrigins(t *testing.T) {
	g := NewGateway(Config{
		Dashboard:      aggregator.NewDataAggregatorService(aggregator.Config{}),
		Controller:     &fakeController{state: controller.StateReady},
		Gatherer:       prometheus.NewRegistry(),
		PingInterval:   time.Hour,
		AllowedOrigins: []string{"http://localhost:3000/"},
	})
	srv := httptest.NewServer(g.Routes())
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/dashboard/stream"
	conn, _, err := websocket.DefaultDialer.Dial(url, http.Header{"Origin": {"http://localhost:3000"}})
	require.NoError(t, err)
	conn.Close()

	_, resp, err := websocket.DefaultDialer.Dial(url, http.Header{"Origin": {"http://evil.example"}})
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestHealthServerFollowsController(t *testing.T) {
	hs, follow := NewHealthServer(controller.StateLoading)
	check := func() healthpb.HealthCheckResponse_ServingStatus {
		resp, err := hs.Check(context.Background(), &healthpb.HealthCheckRequest{Service: HealthService})
		require.NoError(t, err)
		return resp.GetStatus()
	}

	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, check())
	follow(controller.StateLoading, controller.StateReady)
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, check())
	follow(controller.StateReady, controller.StateFailed)
	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, check())
}

type recordingPublisher struct {
	mu       sync.Mutex
	messages []aggregator.DashboardState
	fail     bool
}

func (p *recordingPublisher) PublishMessage(message interface{}) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.fail {
		p.fail = false
		return errors.New("broker unavailable")
	}
	p.messages = append(p.messages, message.(aggregator.DashboardState))
	return nil
}

func (p *recordingPublisher) versions() []uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]uint64, 0, len(p.messages))
	for _, m := range p.messages {
		out = append(out, m.Version)
	}
	return out
}

func TestPublishSnapshots(t *testing.T) {
	agg := aggregator.NewDataAggregatorService(aggregator.Config{})
	pub := &recordingPublisher{}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		PublishSnapshots(ctx, agg, pub, nil)
		close(done)
	}()

	require.Eventually(t, func() bool { return len(pub.versions()) == 1 }, time.Second, 5*time.Millisecond)
	agg.Apply(model.NewReadingEvent(model.SoilMoisture, 33, t0))
	require.Eventually(t, func() bool {
		v := pub.versions()
		return len(v) == 2 && v[1] == 1
	}, time.Second, 5*time.Millisecond)

	cancel()
	<-done
}
