package internalapi

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/curatedhealth/missionengine/internal/domain"
	"github.com/curatedhealth/missionengine/internal/transport/http/apierror"
)

// ResolveCheckpoint applies a decision to a pending checkpoint.
// POST /internal/checkpoints/:checkpoint_id/resolve
func (h *Handler) ResolveCheckpoint(c echo.Context) error {
	var req domain.ResolveCheckpointRequest
	if err := c.Bind(&req); err != nil {
		return apierror.BadRequest(c, "invalid request body")
	}

	sig, err := h.service.ResolveCheckpoint(c.Request().Context(), c.Param("checkpoint_id"), req)
	if err != nil {
		return apierror.Respond(c, err)
	}
	return c.JSON(http.StatusOK, sig)
}

// SweepStaleCheckpoints runs one stale checkpoint pass on demand.
// POST /internal/checkpoints/sweep
func (h *Handler) SweepStaleCheckpoints(c echo.Context) error {
	n := h.service.SweepStaleCheckpoints(c.Request().Context())
	return c.JSON(http.StatusOK, map[string]int{"reported": n})
}
