// handlers_session.go - Login, registration and view state handlers
package api

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/chemdata-visualizer/client/internal/app"
	"github.com/chemdata-visualizer/client/internal/models"
)

// SessionHandlerImpl implements the SessionHandler interface
type SessionHandlerImpl struct {
	app *app.App
}

// NewSessionHandler creates a new session handler
func NewSessionHandler(a *app.App) SessionHandler {
	return &SessionHandlerImpl{app: a}
}

// HandleState returns the current view with the data of every workflow.
func (h *SessionHandlerImpl) HandleState(c echo.Context) error {
	return c.JSON(http.StatusOK, snapshot(h.app))
}

func snapshot(a *app.App) StateResponse {
	_, loggedIn := a.Session.Credential()
	datasets := a.Dashboard.Datasets()
	if datasets == nil {
		datasets = []models.Dataset{}
	}
	return StateResponse{
		View:     a.Nav.State(),
		LoggedIn: loggedIn,
		Datasets: datasets,
		Loaded:   a.Dashboard.Loaded(),
		Upload:   a.Dashboard.UploadStatus(),
		Analysis: a.Analysis.View(),
	}
}

// HandleLogin exchanges username and password for a session.
func (h *SessionHandlerImpl) HandleLogin(c echo.Context) error {
	var req loginRequest
	if err := c.Bind(&req); err != nil {
		return NewBadRequestError("invalid login request", err)
	}
	if err := h.app.Login(c.Request().Context(), req.Username, req.Password); err != nil {
		return err
	}
	return c.JSON(http.StatusOK, snapshot(h.app))
}

// HandleRegister creates an account and logs in when the backend allows it.
func (h *SessionHandlerImpl) HandleRegister(c echo.Context) error {
	var req registerRequest
	if err := c.Bind(&req); err != nil {
		return NewBadRequestError("invalid registration request", err)
	}
	loggedIn, err := h.app.Register(c.Request().Context(), models.Registration{
		Username:  req.Username,
		Email:     req.Email,
		Password1: req.Password1,
		Password2: req.Password2,
	})
	if err != nil {
		return err
	}
	status := http.StatusCreated
	if !loggedIn {
		status = http.StatusAccepted
	}
	return c.JSON(status, snapshot(h.app))
}

// HandleLogout clears the session.
func (h *SessionHandlerImpl) HandleLogout(c echo.Context) error {
	if err := h.app.Logout(c.Request().Context()); err != nil {
		return NewInternalError("failed to remove stored credential", err)
	}
	return c.JSON(http.StatusOK, snapshot(h.app))
}
