// handlers_health.go - Health check handlers
package api

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/chemdata-visualizer/client/internal/app"
)

// HealthHandlerImpl implements the HealthHandler interface
type HealthHandlerImpl struct {
	app     *app.App
	version string
}

// NewHealthHandler creates a new health handler
func NewHealthHandler(a *app.App, version string) HealthHandler {
	return &HealthHandlerImpl{
		app:     a,
		version: version,
	}
}

// HandleHealth returns server health status
func (h *HealthHandlerImpl) HandleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]interface{}{
		"status":  "ok",
		"version": h.version,
		"backend": h.app.Client.BaseURL(),
		"view":    h.app.Nav.State().String(),
	})
}
