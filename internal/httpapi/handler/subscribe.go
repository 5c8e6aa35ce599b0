package handler

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
)

// Subscribe handles GET /subscribe?runId=&token=. Framing is `data:
// <json>\n\n` per event; the stream closes when the run completes or the
// client disconnects.
func (h *Handler) Subscribe(c *gin.Context) {
	runID := c.Query("runId")
	if runID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "runId is required"})
		return
	}

	sub := h.facade.Subscribe(runID)
	defer sub.Close()

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")

	ctx := c.Request.Context()
	c.Stream(func(w io.Writer) bool {
		ev, ok := sub.Next(ctx)
		if !ok {
			return false
		}
		encoded, err := json.Marshal(ev)
		if err != nil {
			h.logger.Error("marshal event", "run_id", runID, "error", err)
			return true
		}
		if _, err := w.Write([]byte("data: ")); err != nil {
			return false
		}
		if _, err := w.Write(encoded); err != nil {
			return false
		}
		if _, err := w.Write([]byte("\n\n")); err != nil {
			return false
		}
		return true
	})
}

// RunsSubscribe handles GET /runs/subscribe?jobName=. Requires the admin
// bearer token (enforced by middleware at the router level) since it is
// not scoped to a single run.
func (h *Handler) RunsSubscribe(c *gin.Context) {
	jobName := c.Query("jobName")

	sub := h.facade.SubscribeRuns(jobName)
	defer sub.Close()

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")

	ctx := c.Request.Context()
	c.Stream(func(w io.Writer) bool {
		ev, ok := sub.Next(ctx)
		if !ok {
			return false
		}
		encoded, err := json.Marshal(ev)
		if err != nil {
			h.logger.Error("marshal event", "job_name", jobName, "error", err)
			return true
		}
		if _, err := w.Write([]byte("data: ")); err != nil {
			return false
		}
		if _, err := w.Write(encoded); err != nil {
			return false
		}
		if _, err := w.Write([]byte("\n\n")); err != nil {
			return false
		}
		return true
	})
}
