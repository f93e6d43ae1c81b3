package internalapi

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/curatedhealth/missionengine/internal/domain"
	"github.com/curatedhealth/missionengine/internal/transport/http/apierror"
)

// ListMissions lists mission summaries, optionally filtered by status.
// GET /internal/missions?status=running,awaiting_checkpoint&limit=50
func (h *Handler) ListMissions(c echo.Context) error {
	var statuses []domain.MissionStatus
	if raw := c.QueryParam("status"); raw != "" {
		for _, s := range strings.Split(raw, ",") {
			status := domain.MissionStatus(strings.TrimSpace(s))
			if !status.Valid() {
				return apierror.BadRequest(c, "unknown status "+string(status))
			}
			statuses = append(statuses, status)
		}
	}
	limit := 0
	if l := c.QueryParam("limit"); l != "" {
		var err error
		if limit, err = strconv.Atoi(l); err != nil || limit < 0 {
			return apierror.BadRequest(c, "limit must be a non-negative integer")
		}
	}

	missions, err := h.service.ListMissions(c.Request().Context(), statuses, limit)
	if err != nil {
		return apierror.Respond(c, err)
	}
	if missions == nil {
		missions = []domain.MissionSummary{}
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"missions": missions,
	})
}

// GetSnapshot returns the full persisted snapshot of a mission.
// GET /internal/missions/:mission_id
func (h *Handler) GetSnapshot(c echo.Context) error {
	snap, err := h.service.GetSnapshot(c.Request().Context(), c.Param("mission_id"))
	if err != nil {
		return apierror.Respond(c, err)
	}
	return c.JSON(http.StatusOK, snap)
}

// ResumeMission re-enters execution of a persisted mission.
// POST /internal/missions/:mission_id/resume
func (h *Handler) ResumeMission(c echo.Context) error {
	sum, err := h.service.ResumeMission(c.Request().Context(), c.Param("mission_id"))
	if err != nil {
		return apierror.Respond(c, err)
	}
	return c.JSON(http.StatusAccepted, sum)
}

// ResumeActive resumes every running mission.
// POST /internal/missions/resume
func (h *Handler) ResumeActive(c echo.Context) error {
	n, err := h.service.ResumeActive(c.Request().Context())
	if err != nil {
		return apierror.Respond(c, err)
	}
	return c.JSON(http.StatusAccepted, map[string]int{"resumed": n})
}

// AdvanceMission executes exactly one step of a mission.
// POST /internal/missions/:mission_id/advance
func (h *Handler) AdvanceMission(c echo.Context) error {
	sum, err := h.service.AdvanceMission(c.Request().Context(), c.Param("mission_id"))
	if err != nil {
		return apierror.Respond(c, err)
	}
	return c.JSON(http.StatusOK, sum)
}
