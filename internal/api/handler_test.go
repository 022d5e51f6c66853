package api

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"

	"exchange-core/internal/monitor"
)

func TestHealthEndpoint(t *testing.T) {
	gin.SetMode(gin.TestMode)
	s := NewServer(monitor.NewSystemMetrics(), SystemMeta{Symbols: []string{"BTC-PERP"}, UseMockFeed: true, Version: "test"})

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	s.Router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if reqID := rec.Header().Get("X-Request-ID"); reqID == "" {
		t.Fatalf("expected a request id header to be set")
	}
}

func TestMetricsEndpoint(t *testing.T) {
	gin.SetMode(gin.TestMode)
	metrics := monitor.NewSystemMetrics()
	metrics.IncrementOrders()
	s := NewServer(metrics, SystemMeta{Version: "test"})

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	s.Router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}
