// Package httpapi wires the handler and middleware packages into a gin
// engine: gin.New + Recovery + RequestID + slog-gin + Metrics middleware,
// then the trigger/subscribe/runs/run/steps/retry/cancel/delete route
// table.
package httpapi

import (
	"log/slog"

	"github.com/gin-gonic/gin"
	sloggin "github.com/samber/slog-gin"

	"github.com/ErlanBelekov/durably/internal/httpapi/handler"
	"github.com/ErlanBelekov/durably/internal/httpapi/middleware"
)

// NewRouter builds the gin engine serving the durably HTTP API.
// adminKey guards mutating and all-runs admin routes; the per-run
// subscribe token minted by Trigger guards GET /subscribe.
func NewRouter(logger *slog.Logger, h *handler.Handler, adminKey []byte) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.RequestID())
	r.Use(sloggin.New(logger))
	r.Use(middleware.Metrics())

	admin := middleware.AdminAuth(adminKey)
	subscribeAuth := middleware.SubscribeAuth(adminKey)

	r.POST("/trigger", admin, h.Trigger)
	r.GET("/subscribe", subscribeAuth, h.Subscribe)

	r.GET("/runs", h.ListRuns)
	r.GET("/run", h.GetRun)
	r.GET("/steps", h.GetSteps)

	r.POST("/retry", admin, h.Retry)
	r.POST("/cancel", admin, h.Cancel)
	r.DELETE("/run", admin, h.DeleteRun)
	r.GET("/runs/subscribe", admin, h.RunsSubscribe)

	return r
}
