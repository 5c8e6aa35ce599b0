package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/ErlanBelekov/durably/internal/domain"
)

type successResponse struct {
	Success bool `json:"success"`
}

// Retry handles POST /retry?runId=.
func (h *Handler) Retry(c *gin.Context) {
	runID := c.Query("runId")
	if runID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "runId is required"})
		return
	}

	if err := h.facade.Retry(c.Request.Context(), runID); err != nil {
		h.writeMutationError(c, runID, "retry", err)
		return
	}
	c.JSON(http.StatusOK, successResponse{Success: true})
}

// Cancel handles POST /cancel?runId=.
func (h *Handler) Cancel(c *gin.Context) {
	runID := c.Query("runId")
	if runID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "runId is required"})
		return
	}

	if err := h.facade.Cancel(c.Request.Context(), runID); err != nil {
		h.writeMutationError(c, runID, "cancel", err)
		return
	}
	c.JSON(http.StatusOK, successResponse{Success: true})
}

// DeleteRun handles DELETE /run?runId=.
func (h *Handler) DeleteRun(c *gin.Context) {
	runID := c.Query("runId")
	if runID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "runId is required"})
		return
	}

	if err := h.facade.DeleteRun(c.Request.Context(), runID); err != nil {
		h.writeMutationError(c, runID, "delete", err)
		return
	}
	c.JSON(http.StatusOK, successResponse{Success: true})
}

// writeMutationError maps facade errors to response status. A wrong-state
// transition is a 500 with a descriptive message; not-found is always 404.
func (h *Handler) writeMutationError(c *gin.Context, runID, op string, err error) {
	if errors.Is(err, domain.ErrRunNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": errRunNotFound})
		return
	}
	h.logger.Warn(op+" rejected", "run_id", runID, "error", err)
	c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
}
