package server

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/loomhq/loom/internal/engine"
	"github.com/loomhq/loom/internal/store"
	"github.com/loomhq/loom/pkg/api"
)

func (s *Server) getExecution(c *gin.Context) {
	executionID := c.Param("executionID")

	exec, err := s.engine.GetExecution(c.Request.Context(), executionID)
	if err == nil {
		c.JSON(http.StatusOK, exec)
		return
	}

	if errors.Is(err, store.ErrExecutionNotFound) {
		c.JSON(http.StatusNotFound, api.ErrorResponse{
			Error:  fmt.Sprintf("%s: %s", err.Error(), executionID),
			Status: http.StatusNotFound,
		})
		return
	}
	c.JSON(http.StatusInternalServerError, api.ErrorResponse{
		Error:  err.Error(),
		Status: http.StatusInternalServerError,
	})
}

func (s *Server) pauseExecution(c *gin.Context) {
	s.lifecycle(c, s.engine.PauseExecution)
}

func (s *Server) resumeExecution(c *gin.Context) {
	s.lifecycle(c, s.engine.ResumeExecution)
}

func (s *Server) cancelExecution(c *gin.Context) {
	s.lifecycle(c, s.engine.CancelExecution)
}

// lifecycle runs one pause/resume/cancel transition and maps its errors to
// HTTP statuses
func (s *Server) lifecycle(c *gin.Context, fn func(string) error) {
	executionID := c.Param("executionID")

	err := fn(executionID)
	if err == nil {
		exec, getErr := s.engine.GetExecution(
			c.Request.Context(), executionID)
		if getErr != nil {
			c.Status(http.StatusNoContent)
			return
		}
		c.JSON(http.StatusOK, exec)
		return
	}

	switch {
	case errors.Is(err, store.ErrExecutionNotFound):
		c.JSON(http.StatusNotFound, api.ErrorResponse{
			Error:  err.Error(),
			Status: http.StatusNotFound,
		})
	case errors.Is(err, engine.ErrInvalidState):
		c.JSON(http.StatusConflict, api.ErrorResponse{
			Error:  err.Error(),
			Status: http.StatusConflict,
		})
	default:
		c.JSON(http.StatusInternalServerError, api.ErrorResponse{
			Error:  err.Error(),
			Status: http.StatusInternalServerError,
		})
	}
}
