// Package api exposes the ops-only HTTP surface: health and metrics.
// The trading surface (submit/cancel/modify, queries) is an explicit
// boundary concern and is never reachable over HTTP from this package;
// internal/exchange.Exchange is the Go-level interface adapters embed.
package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"exchange-core/internal/monitor"
)

// Server wires the ops HTTP endpoints.
type Server struct {
	Router  *gin.Engine
	Metrics *monitor.SystemMetrics
	Meta    SystemMeta
}

// SystemMeta describes runtime status exposed on the ops surface.
type SystemMeta struct {
	Symbols     []string
	UseMockFeed bool
	Version     string
}

// NewServer creates the ops API server.
func NewServer(metrics *monitor.SystemMetrics, meta SystemMeta) *Server {
	r := gin.New()

	r.Use(gin.Recovery())
	r.Use(RequestIDMiddleware())
	r.Use(RequestLogger(metrics))

	s := &Server{
		Router:  r,
		Metrics: metrics,
		Meta:    meta,
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.Router.GET("/health", s.health)
	s.Router.GET("/metrics", s.metrics)
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":        "ok",
		"symbols":       s.Meta.Symbols,
		"use_mock_feed": s.Meta.UseMockFeed,
		"version":       s.Meta.Version,
	})
}

func (s *Server) metrics(c *gin.Context) {
	c.JSON(http.StatusOK, s.Metrics.GetSnapshot())
}

func (s *Server) Start(addr string) error {
	return s.Router.Run(addr)
}
