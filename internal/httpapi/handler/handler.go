// Package handler implements the HTTP handler surface: trigger, subscribe,
// runs, run, steps, retry, cancel, delete, runs-subscribe. Each concern
// gets a small struct holding its facade dependency and a scoped logger,
// with methods taking *gin.Context and errors mapped to a flat
// {"error": "..."} JSON body.
package handler

import (
	"log/slog"
	"time"

	"github.com/ErlanBelekov/durably/internal/durably"
	"github.com/ErlanBelekov/durably/internal/registry"
)

// Handler holds everything the HTTP surface needs: the facade (for
// retry/cancel/delete/subscribe), the registry (for trigger dispatch and
// run/step reads), the admin secret used to mint subscribe tokens, and a
// scoped logger.
type Handler struct {
	facade    *durably.Facade
	registry  *registry.Registry
	adminKey  []byte
	subscribeTTL time.Duration
	logger    *slog.Logger
}

// New constructs a Handler. subscribeTTL defaults to 10 minutes if zero.
func New(facade *durably.Facade, reg *registry.Registry, adminKey []byte, subscribeTTL time.Duration, logger *slog.Logger) *Handler {
	if subscribeTTL <= 0 {
		subscribeTTL = 10 * time.Minute
	}
	return &Handler{
		facade:       facade,
		registry:     reg,
		adminKey:     adminKey,
		subscribeTTL: subscribeTTL,
		logger:       logger.With("component", "http_handler"),
	}
}
