// Package api implements the HTTP surface (pkg/api) fronting
// pkg/services: task submission/query/mutation, subtask rating and
// evaluation notes, a local operator login, and a health endpoint.
package api

import (
	"context"
	"net"
	"net/http"
	"time"

	echo "github.com/labstack/echo/v5"
	"github.com/labstack/echo/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/talesofai/nietest-orchestrator/pkg/auth"
	"github.com/talesofai/nietest-orchestrator/pkg/database"
	"github.com/talesofai/nietest-orchestrator/pkg/services"
	"github.com/talesofai/nietest-orchestrator/pkg/version"
)

// maxBodyBytes bounds request bodies at the HTTP read level, ahead of JSON
// decoding.
const maxBodyBytes = 2 * 1024 * 1024

// Server is the HTTP API server.
type Server struct {
	echo *echo.Echo

	httpServer *http.Server
	dbClient   *database.Client
	issuer     *auth.Issuer
	tasks      *services.TaskService
	subtasks   *services.SubtaskService
}

// NewServer builds a Server with every route registered.
func NewServer(dbClient *database.Client, issuer *auth.Issuer, tasks *services.TaskService, subtasks *services.SubtaskService) *Server {
	e := echo.New()

	s := &Server{
		echo:     e,
		dbClient: dbClient,
		issuer:   issuer,
		tasks:    tasks,
		subtasks: subtasks,
	}

	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.echo.Use(middleware.BodyLimit(maxBodyBytes))

	s.echo.GET("/health", s.healthHandler)
	s.echo.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	v1 := s.echo.Group("/api/v1")
	v1.POST("/auth/token", s.loginHandler)

	authed := v1.Group("", auth.Middleware(s.issuer))
	authed.POST("/test/task", s.submitTaskHandler)
	authed.GET("/test/tasks", s.listTasksHandler)
	authed.GET("/test/tasks/stats", s.statsTasksHandler)
	authed.GET("/test/task/:id", s.getTaskHandler)
	authed.GET("/test/task/:id/progress", s.taskProgressHandler)
	authed.POST("/test/task/:id/cancel", s.cancelTaskHandler)
	authed.POST("/test/task/:id/favorite", s.favoriteTaskHandler)
	authed.POST("/test/task/:id/delete", s.deleteTaskHandler)
	authed.GET("/test/task/:id/matrix", s.taskMatrixHandler)
	authed.GET("/test/task/:id/reuse-config", s.reuseConfigHandler)
	authed.POST("/test/subtask/:id/rating", s.setRatingHandler)
	authed.POST("/test/subtask/:id/evaluation", s.addEvaluationHandler)
	authed.DELETE("/test/subtask/:id/evaluation/:index", s.removeEvaluationHandler)
}

// Start starts the HTTP server on addr (blocking).
func (s *Server) Start(addr string) error {
	s.httpServer = &http.Server{Addr: addr, Handler: s.echo}
	return s.httpServer.ListenAndServe()
}

// StartWithListener starts the HTTP server on a pre-created listener, used
// by tests that need a random OS-assigned port.
func (s *Server) StartWithListener(ln net.Listener) error {
	s.httpServer = &http.Server{Handler: s.echo}
	return s.httpServer.Serve(ln)
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

// HealthResponse is returned by GET /health.
type HealthResponse struct {
	Status   string                 `json:"status"`
	Version  string                 `json:"version"`
	Database *database.HealthStatus `json:"database,omitempty"`
}

func (s *Server) healthHandler(c *echo.Context) error {
	reqCtx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	dbHealth, err := database.Health(reqCtx, s.dbClient.Pool)
	if err != nil {
		return c.JSON(http.StatusServiceUnavailable, &HealthResponse{Status: "unhealthy", Database: dbHealth})
	}
	return c.JSON(http.StatusOK, &HealthResponse{Status: "healthy", Version: version.Full(), Database: dbHealth})
}
