package v1

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/curatedhealth/missionengine/internal/domain"
	"github.com/curatedhealth/missionengine/internal/transport/http/apierror"
)

// CreateMission creates and plans a mission.
// POST /v1/missions
func (h *Handler) CreateMission(c echo.Context) error {
	var req domain.CreateMissionRequest
	if err := c.Bind(&req); err != nil {
		return apierror.BadRequest(c, "invalid request body")
	}

	resp, err := h.service.CreateMission(c.Request().Context(), req)
	if err != nil {
		return apierror.Respond(c, err)
	}
	return c.JSON(http.StatusCreated, resp)
}

// GetMission returns the mission summary.
// GET /v1/missions/:mission_id
func (h *Handler) GetMission(c echo.Context) error {
	sum, err := h.service.GetMissionStatus(c.Request().Context(), c.Param("mission_id"))
	if err != nil {
		return apierror.Respond(c, err)
	}
	return c.JSON(http.StatusOK, sum)
}

// StartMission starts a mission created with start=false.
// POST /v1/missions/:mission_id/start
func (h *Handler) StartMission(c echo.Context) error {
	sum, err := h.service.StartMission(c.Request().Context(), c.Param("mission_id"))
	if err != nil {
		return apierror.Respond(c, err)
	}
	return c.JSON(http.StatusAccepted, sum)
}

// CancelMission cancels a mission.
// POST /v1/missions/:mission_id/cancel
func (h *Handler) CancelMission(c echo.Context) error {
	var req domain.CancelMissionRequest
	if c.Request().ContentLength > 0 {
		if err := c.Bind(&req); err != nil {
			return apierror.BadRequest(c, "invalid request body")
		}
	}

	sum, err := h.service.CancelMission(c.Request().Context(), c.Param("mission_id"), req)
	if err != nil {
		return apierror.Respond(c, err)
	}
	return c.JSON(http.StatusOK, sum)
}
