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

var (
	ErrListWorkflows = errors.New("failed to list workflows")
	ErrStepRequired  = errors.New("step is required")
)

func (s *Server) listWorkflows(c *gin.Context) {
	flows, err := s.engine.ListWorkflows(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, api.ErrorResponse{
			Error:  fmt.Sprintf("%s: %v", ErrListWorkflows, err),
			Status: http.StatusInternalServerError,
		})
		return
	}

	c.JSON(http.StatusOK, api.WorkflowListResponse{
		Workflows: flows,
		Count:     len(flows),
	})
}

func (s *Server) createWorkflow(c *gin.Context) {
	var wf api.Workflow
	if err := c.ShouldBindJSON(&wf); err != nil {
		c.JSON(http.StatusBadRequest, api.ErrorResponse{
			Error:  fmt.Sprintf("%s: %v", ErrInvalidJSON, err),
			Status: http.StatusBadRequest,
		})
		return
	}

	err := s.engine.CreateWorkflow(c.Request.Context(), &wf)
	if err == nil {
		c.JSON(http.StatusCreated, &wf)
		return
	}

	if errors.Is(err, engine.ErrWorkflowExists) {
		c.JSON(http.StatusConflict, api.ErrorResponse{
			Error:  err.Error(),
			Status: http.StatusConflict,
		})
		return
	}
	c.JSON(http.StatusBadRequest, api.ErrorResponse{
		Error:  err.Error(),
		Status: http.StatusBadRequest,
	})
}

func (s *Server) getWorkflow(c *gin.Context) {
	workflowID := c.Param("workflowID")

	wf, err := s.engine.GetWorkflow(c.Request.Context(), workflowID)
	if err == nil {
		c.JSON(http.StatusOK, wf)
		return
	}

	if errors.Is(err, store.ErrWorkflowNotFound) {
		c.JSON(http.StatusNotFound, api.ErrorResponse{
			Error:  fmt.Sprintf("%s: %s", err.Error(), workflowID),
			Status: http.StatusNotFound,
		})
		return
	}
	c.JSON(http.StatusInternalServerError, api.ErrorResponse{
		Error:  err.Error(),
		Status: http.StatusInternalServerError,
	})
}

func (s *Server) executeWorkflow(c *gin.Context) {
	workflowID := c.Param("workflowID")

	var req api.ExecuteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, api.ErrorResponse{
			Error:  fmt.Sprintf("%s: %v", ErrInvalidJSON, err),
			Status: http.StatusBadRequest,
		})
		return
	}

	execID, err := s.engine.ExecuteWorkflow(
		c.Request.Context(), workflowID, req.Variables, req.TriggeredBy,
	)
	if err == nil {
		c.JSON(http.StatusAccepted, api.ExecuteResponse{
			ExecutionID: execID,
		})
		return
	}

	if errors.Is(err, store.ErrWorkflowNotFound) {
		c.JSON(http.StatusNotFound, api.ErrorResponse{
			Error:  fmt.Sprintf("%s: %s", err.Error(), workflowID),
			Status: http.StatusNotFound,
		})
		return
	}
	c.JSON(http.StatusInternalServerError, api.ErrorResponse{
		Error:  err.Error(),
		Status: http.StatusInternalServerError,
	})
}

func (s *Server) addStep(c *gin.Context) {
	workflowID := c.Param("workflowID")

	var req api.AddStepRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, api.ErrorResponse{
			Error:  fmt.Sprintf("%s: %v", ErrInvalidJSON, err),
			Status: http.StatusBadRequest,
		})
		return
	}
	if req.Step == nil {
		c.JSON(http.StatusBadRequest, api.ErrorResponse{
			Error:  ErrStepRequired.Error(),
			Status: http.StatusBadRequest,
		})
		return
	}

	err := s.engine.AddDynamicStep(workflowID, req.Step, req.After)
	if err == nil {
		c.JSON(http.StatusCreated, req.Step)
		return
	}

	switch {
	case errors.Is(err, store.ErrWorkflowNotFound),
		errors.Is(err, engine.ErrStepNotFound):
		c.JSON(http.StatusNotFound, api.ErrorResponse{
			Error:  err.Error(),
			Status: http.StatusNotFound,
		})
	case errors.Is(err, engine.ErrStepExists):
		c.JSON(http.StatusConflict, api.ErrorResponse{
			Error:  err.Error(),
			Status: http.StatusConflict,
		})
	default:
		c.JSON(http.StatusBadRequest, api.ErrorResponse{
			Error:  err.Error(),
			Status: http.StatusBadRequest,
		})
	}
}

func (s *Server) removeStep(c *gin.Context) {
	workflowID := c.Param("workflowID")
	stepID := c.Param("stepID")

	err := s.engine.RemoveStep(workflowID, stepID)
	if err == nil {
		c.Status(http.StatusNoContent)
		return
	}

	switch {
	case errors.Is(err, store.ErrWorkflowNotFound),
		errors.Is(err, engine.ErrStepNotFound):
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
