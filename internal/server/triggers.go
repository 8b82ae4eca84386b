package server

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/loomhq/loom/pkg/api"
)

// handleTrigger delivers an inbound trigger to every workflow subscribed
// to the topic. The request body is the trigger payload and becomes part
// of each started execution's variables
func (s *Server) handleTrigger(c *gin.Context) {
	msg := api.TriggerMessage{Topic: c.Param("topic")}
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&msg.Payload); err != nil {
			c.JSON(http.StatusBadRequest, api.ErrorResponse{
				Error:  fmt.Sprintf("%s: %v", ErrInvalidJSON, err),
				Status: http.StatusBadRequest,
			})
			return
		}
	}

	ids, err := s.engine.HandleTrigger(c.Request.Context(), msg)
	if err != nil {
		c.JSON(http.StatusInternalServerError, api.ErrorResponse{
			Error:  err.Error(),
			Status: http.StatusInternalServerError,
		})
		return
	}

	c.JSON(http.StatusOK, api.TriggerResponse{
		ExecutionIDs: ids,
	})
}
