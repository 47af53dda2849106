package server

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"sentinal-relay/config"
	"sentinal-relay/pkg/logger"

	"github.com/gin-gonic/gin"
)

func newTestServer(routes Routes) *Server {
	s := New(&config.Config{AppPort: "0", AppMode: TestMode}, logger.NewNop())
	s.SetupRoutes(routes)
	return s
}

func get(s *Server, path string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	s.Engine().ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
	return w
}

func TestPingAndRequestID(t *testing.T) {
	w := get(newTestServer(Routes{}), "/ping")
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), "pong") {
		t.Fatalf("unexpected ping %d %s", w.Code, w.Body.String())
	}
	if len(w.Header().Get("X-Request-Id")) != 32 {
		t.Fatalf("missing request id header: %v", w.Header())
	}
}

func TestHealthReportsEachDependency(t *testing.T) {
	ok := func(context.Context) error { return nil }
	down := func(context.Context) error { return errors.New("connection refused") }

	w := get(newTestServer(Routes{Health: map[string]HealthCheck{"postgres": ok, "redis": ok}}), "/health")
	if w.Code != http.StatusOK {
		t.Fatalf("healthy: %d %s", w.Code, w.Body.String())
	}

	w = get(newTestServer(Routes{Health: map[string]HealthCheck{"postgres": ok, "redis": down}}), "/health")
	if w.Code != http.StatusServiceUnavailable || !strings.Contains(w.Body.String(), "connection refused") {
		t.Fatalf("unhealthy: %d %s", w.Code, w.Body.String())
	}
}

func TestOptionalRoutesNotMounted(t *testing.T) {
	s := newTestServer(Routes{})
	if w := get(s, "/ws"); w.Code != http.StatusNotFound {
		t.Fatalf("/ws mounted without handler: %d", w.Code)
	}
	if w := get(s, "/v1/calls/active"); w.Code != http.StatusNotFound {
		t.Fatalf("calls mounted without handler: %d", w.Code)
	}

	s = newTestServer(Routes{WebSocket: func(c *gin.Context) { c.Status(http.StatusTeapot) }})
	if w := get(s, "/ws"); w.Code != http.StatusTeapot {
		t.Fatalf("/ws not mounted: %d", w.Code)
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	s := newTestServer(Routes{})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	time.Sleep(20 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("run: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("server did not stop")
	}
}
