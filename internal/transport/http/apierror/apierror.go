// Package apierror maps engine errors to HTTP responses.
package apierror

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/curatedhealth/missionengine/internal/domain"
)

// Status returns the HTTP status code for err.
func Status(err error) int {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrInvalidRequest):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrConflict), errors.Is(err, domain.ErrIllegalTransition):
		return http.StatusConflict
	case errors.Is(err, domain.ErrPersistence):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

// Respond writes err as a JSON error body.
func Respond(c echo.Context, err error) error {
	return c.JSON(Status(err), map[string]string{"error": err.Error()})
}

// BadRequest writes a 400 with msg.
func BadRequest(c echo.Context, msg string) error {
	return c.JSON(http.StatusBadRequest, map[string]string{"error": msg})
}
