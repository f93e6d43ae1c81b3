// Package http provides the HTTP servers for the mission engine.
package http

import (
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/curatedhealth/missionengine/internal/service"
	"github.com/curatedhealth/missionengine/internal/transport/http/internalapi"
	v1 "github.com/curatedhealth/missionengine/internal/transport/http/v1"
)

// NewExternalServer creates the client-facing HTTP server.
// It handles mission control and event streaming.
func NewExternalServer(svc *service.Service) *echo.Echo {
	e := echo.New()
	e.HideBanner = true

	// Middleware
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	e.Use(middleware.CORS())

	v1.NewHandler(svc).RegisterRoutes(e)

	return e
}

// NewInternalServer creates the operator-facing HTTP server.
// It handles checkpoint decisions, resumption and inspection.
func NewInternalServer(svc *service.Service) *echo.Echo {
	e := echo.New()
	e.HideBanner = true

	// Middleware
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())

	internalapi.NewHandler(svc).RegisterRoutes(e)

	return e
}
