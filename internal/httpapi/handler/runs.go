package handler

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/ErlanBelekov/durably/internal/domain"
)

const defaultRunsPageSize = 50

type runsResponse struct {
	Runs       []*domain.Run `json:"runs"`
	NextCursor string        `json:"nextCursor,omitempty"`
}

// ListRuns handles GET /runs?jobName&status&limit&cursor.
func (h *Handler) ListRuns(c *gin.Context) {
	limit := defaultRunsPageSize
	if raw := c.Query("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			limit = parsed
		}
	}

	filter := domain.RunFilter{
		JobName: c.Query("jobName"),
		Status:  domain.Status(c.Query("status")),
	}

	var after *cursor
	if raw := c.Query("cursor"); raw != "" {
		decoded, err := decodeCursor(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid cursor"})
			return
		}
		after = &decoded
	}

	// GetRuns itself only understands limit/offset, so cursor-seeking
	// happens here at the HTTP layer: with a cursor, every matching row is
	// fetched (Limit 0 is unbounded) so the cursor position is always found.
	fetchLimit := limit + 1
	if after != nil {
		fetchLimit = 0
	}
	filter.Limit = fetchLimit

	runs, err := h.facade.Storage.GetRuns(c.Request.Context(), filter)
	if err != nil {
		h.logger.Error("list runs", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": errInternalServer})
		return
	}

	start := 0
	if after != nil {
		for i, run := range runs {
			if run.ID == after.ID {
				start = i + 1
				break
			}
		}
	}

	page := runs[start:]
	hasMore := len(page) > limit
	if hasMore {
		page = page[:limit]
	}

	resp := runsResponse{Runs: page}
	if hasMore && len(page) > 0 {
		last := page[len(page)-1]
		next, err := encodeCursor(cursor{CreatedAt: last.CreatedAt, ID: last.ID})
		if err == nil {
			resp.NextCursor = next
		}
	}

	c.JSON(http.StatusOK, resp)
}

// GetRun handles GET /run?runId=.
func (h *Handler) GetRun(c *gin.Context) {
	runID := c.Query("runId")
	if runID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "runId is required"})
		return
	}

	run, err := h.facade.Storage.GetRun(c.Request.Context(), runID)
	if err != nil {
		if errors.Is(err, domain.ErrRunNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": errRunNotFound})
			return
		}
		h.logger.Error("get run", "run_id", runID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": errInternalServer})
		return
	}

	c.JSON(http.StatusOK, run)
}

// GetSteps handles GET /steps?runId=.
func (h *Handler) GetSteps(c *gin.Context) {
	runID := c.Query("runId")
	if runID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "runId is required"})
		return
	}

	steps, err := h.facade.Storage.GetSteps(c.Request.Context(), runID)
	if err != nil {
		h.logger.Error("get steps", "run_id", runID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": errInternalServer})
		return
	}
	if steps == nil {
		steps = []*domain.Step{}
	}

	c.JSON(http.StatusOK, steps)
}
