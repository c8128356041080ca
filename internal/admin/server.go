// Package admin serves the optional HTTP control plane: health, live
// server status, the accumulated report and a guarded shutdown trigger.
package admin

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"mocktide/internal/report"
	"mocktide/internal/tcp"
)

// Target is the mock server being administered.
type Target interface {
	Status() tcp.Status
	Shutdown(reason string)
}

// Reports exposes recorded suites and a live feed of new ones.
type Reports interface {
	Suites() []report.SuiteResult
	Subscribe(buffer int) (<-chan report.SuiteResult, func())
}

type Options struct {
	JWTSecret string  // empty leaves /shutdown unauthenticated
	RateLimit float64 // requests per second
	Logger    *slog.Logger
}

type Server struct {
	engine     *gin.Engine
	httpServer *http.Server
	target     Target
	reports    Reports
	logger     *slog.Logger
}

func NewServer(target Target, reports Reports, opts Options) *Server {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.RateLimit <= 0 {
		opts.RateLimit = 20
	}

	s := &Server{
		engine:  gin.New(),
		target:  target,
		reports: reports,
		logger:  opts.Logger.With("component", "admin"),
	}
	s.engine.Use(gin.Recovery(), RequestLogger(s.logger), RateLimit(opts.RateLimit))

	s.engine.GET("/healthz", s.Health)
	s.engine.GET("/status", s.Status)
	s.engine.GET("/report", s.Report)
	s.engine.GET("/report/junit", s.JUnit)
	s.engine.GET("/report/stream", s.Stream)

	shutdown := []gin.HandlerFunc{}
	if opts.JWTSecret != "" {
		shutdown = append(shutdown, AuthMiddleware(NewTokenService(opts.JWTSecret)), RequireScope(ScopeShutdown))
	}
	s.engine.POST("/shutdown", append(shutdown, s.Shutdown)...)
	return s
}

// Handler returns the router, mainly for httptest.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Start binds addr and serves in the background. The bound address is
// returned so ":0" can be used.
func (s *Server) Start(addr string) (net.Addr, error) {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to bind admin API: %w", err)
	}
	s.httpServer = &http.Server{
		Handler:           s.engine,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := s.httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("admin_server_failed", "error", err)
		}
	}()
	s.logger.Info("admin_api_listening", "addr", listener.Addr().String())
	return listener.Addr(), nil
}

// Stop shuts the HTTP server down gracefully.
func (s *Server) Stop(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) Status(c *gin.Context) {
	c.JSON(http.StatusOK, s.target.Status())
}

// Report returns every recorded suite with summary counters.
func (s *Server) Report(c *gin.Context) {
	suites := s.reports.Suites()
	passed := 0
	for _, suite := range suites {
		if suite.Passed() {
			passed++
		}
	}
	c.JSON(http.StatusOK, gin.H{
		"total":  len(suites),
		"passed": passed,
		"failed": len(suites) - passed,
		"suites": suites,
	})
}

func (s *Server) JUnit(c *gin.Context) {
	c.Header("Content-Type", "application/xml; charset=utf-8")
	c.Status(http.StatusOK)
	if err := report.WriteJUnit(c.Writer, s.reports.Suites()); err != nil {
		s.logger.Error("admin_junit_failed", "error", err)
	}
}

type shutdownRequest struct {
	Reason string `json:"reason"`
}

// Shutdown raises the same signal a scripted Shutdown action does.
func (s *Server) Shutdown(c *gin.Context) {
	var req shutdownRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
			return
		}
	}
	if req.Reason == "" {
		req.Reason = "admin api"
	}
	if subject, ok := c.Get("subject"); ok {
		req.Reason = fmt.Sprintf("%s (%v)", req.Reason, subject)
	}

	s.logger.Info("admin_shutdown_requested", "reason", req.Reason)
	s.target.Shutdown(req.Reason)
	c.JSON(http.StatusAccepted, gin.H{"status": "shutting_down", "reason": req.Reason})
}
