// Package internalapi provides HTTP handlers for operator APIs.
// These APIs are only reachable from inside the deployment.
package internalapi

import (
	"github.com/labstack/echo/v4"

	"github.com/curatedhealth/missionengine/internal/service"
)

// Handler handles internal HTTP requests.
type Handler struct {
	service *service.Service
}

// NewHandler creates a new internal API handler.
func NewHandler(service *service.Service) *Handler {
	return &Handler{
		service: service,
	}
}

// RegisterRoutes registers internal routes with the echo server.
func (h *Handler) RegisterRoutes(e *echo.Echo) {
	// Checkpoints
	e.POST("/internal/checkpoints/:checkpoint_id/resolve", h.ResolveCheckpoint)
	e.POST("/internal/checkpoints/sweep", h.SweepStaleCheckpoints)

	// Mission management
	e.GET("/internal/missions", h.ListMissions)
	e.GET("/internal/missions/:mission_id", h.GetSnapshot)
	e.POST("/internal/missions/:mission_id/resume", h.ResumeMission)
	e.POST("/internal/missions/:mission_id/advance", h.AdvanceMission)
	e.POST("/internal/missions/resume", h.ResumeActive)
}
