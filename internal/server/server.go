package server

import (
	"errors"
	"log/slog"
	"net/http"
	"sync"

	glog "github.com/gin-contrib/slog"
	"github.com/gin-gonic/gin"

	"github.com/loomhq/loom/internal/engine"
	"github.com/loomhq/loom/pkg/api"
	"github.com/loomhq/loom/pkg/util"
)

// Server implements the HTTP API for the workflow engine
type Server struct {
	engine  *engine.Engine
	sockets util.Set[*Client]
	mu      sync.Mutex
}

var ErrInvalidJSON = errors.New("invalid JSON payload")

// NewServer creates a new HTTP API server
func NewServer(eng *engine.Engine) *Server {
	return &Server{
		engine:  eng,
		sockets: util.Set[*Client]{},
	}
}

// SetupRoutes configures and returns the HTTP router with all API endpoints
func (s *Server) SetupRoutes() *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(glog.SetLogger(
		glog.WithLogger(func(c *gin.Context, l *slog.Logger) *slog.Logger {
			return slog.Default()
		}),
	))

	// CORS middleware
	router.Use(func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set(
			"Access-Control-Allow-Methods",
			"GET, POST, PUT, DELETE, OPTIONS",
		)
		c.Writer.Header().Set(
			"Access-Control-Allow-Headers",
			"Content-Type, Authorization",
		)

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusOK)
			return
		}

		c.Next()
	})

	// Health check
	router.GET("/health", s.handleHealth)

	// Engine endpoints
	eng := router.Group("/engine")
	{
		// Workflow endpoints
		eng.GET("/workflow", s.listWorkflows)
		eng.POST("/workflow", s.createWorkflow)
		eng.GET("/workflow/:workflowID", s.getWorkflow)
		eng.POST("/workflow/:workflowID/execute", s.executeWorkflow)

		// Dynamic step mutation
		eng.POST("/workflow/:workflowID/step", s.addStep)
		eng.DELETE("/workflow/:workflowID/step/:stepID", s.removeStep)

		// Execution endpoints
		eng.GET("/execution/:executionID", s.getExecution)
		eng.POST("/execution/:executionID/pause", s.pauseExecution)
		eng.POST("/execution/:executionID/resume", s.resumeExecution)
		eng.POST("/execution/:executionID/cancel", s.cancelExecution)

		// Trigger delivery
		eng.POST("/trigger/:topic", s.handleTrigger)

		// WebSocket event streaming
		eng.GET("/ws", s.handleWebSocket)
	}

	return router
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, api.HealthResponse{
		Service: "loom-engine",
		Version: "1.0.0",
		Status:  "healthy",
	})
}
