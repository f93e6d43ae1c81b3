// Package v1 provides the external mission control API.
package v1

import (
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"github.com/curatedhealth/missionengine/internal/service"
)

// Handler handles HTTP requests.
type Handler struct {
	service  *service.Service
	upgrader websocket.Upgrader
}

// NewHandler creates a new handler.
func NewHandler(service *service.Service) *Handler {
	return &Handler{
		service: service,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}
}

// RegisterRoutes registers external routes with the echo server.
func (h *Handler) RegisterRoutes(e *echo.Echo) {
	// Mission control
	e.POST("/v1/missions", h.CreateMission)
	e.GET("/v1/missions/:mission_id", h.GetMission)
	e.POST("/v1/missions/:mission_id/start", h.StartMission)
	e.POST("/v1/missions/:mission_id/cancel", h.CancelMission)

	// Events
	e.GET("/v1/missions/:mission_id/events", h.ListEvents)
	e.GET("/v1/missions/:mission_id/events/stream", h.StreamEvents)
	e.GET("/v1/missions/:mission_id/ws", h.WatchEvents)

	e.GET("/health", h.Health)
}

// Health returns health status.
func (h *Handler) Health(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"status":  "healthy",
		"version": "0.1.0",
	})
}
