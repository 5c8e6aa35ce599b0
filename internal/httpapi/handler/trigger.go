package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/ErlanBelekov/durably/internal/domain"
	"github.com/ErlanBelekov/durably/internal/httpapi/token"
	"github.com/ErlanBelekov/durably/internal/registry"
)

type triggerRequest struct {
	JobName        string          `json:"jobName" binding:"required"`
	Input          json.RawMessage `json:"input"`
	IdempotencyKey *string         `json:"idempotencyKey,omitempty"`
	ConcurrencyKey *string         `json:"concurrencyKey,omitempty"`
}

type triggerResponse struct {
	RunID          string `json:"runId"`
	SubscribeToken string `json:"subscribeToken"`
}

// Trigger handles POST /trigger.
func (h *Handler) Trigger(c *gin.Context) {
	var req triggerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	payload := []byte(req.Input)
	if len(payload) == 0 {
		payload = []byte("{}")
	}

	run, err := h.registry.TriggerRaw(c.Request.Context(), req.JobName, payload, registry.TriggerOpts{
		IdempotencyKey: req.IdempotencyKey,
		ConcurrencyKey: req.ConcurrencyKey,
	})
	if err != nil {
		if errors.Is(err, domain.ErrUnknownJob) {
			c.JSON(http.StatusNotFound, gin.H{"error": errUnknownJob})
			return
		}
		h.logger.Warn("trigger rejected", "job_name", req.JobName, "error", err)
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	subscribeToken, err := token.MintSubscribe(h.adminKey, run.ID, h.subscribeTTL)
	if err != nil {
		h.logger.Error("mint subscribe token", "run_id", run.ID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": errInternalServer})
		return
	}

	c.JSON(http.StatusOK, triggerResponse{RunID: run.ID, SubscribeToken: subscribeToken})
}
