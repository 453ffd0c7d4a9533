package api

import (
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/chemdata-visualizer/client/internal/analysis"
	"github.com/chemdata-visualizer/client/internal/models"
	"github.com/chemdata-visualizer/client/internal/upload"
)

// StateResponse is the full client state sent on page load and on connect.
type StateResponse struct {
	View     models.ViewState `json:"view"`
	LoggedIn bool             `json:"loggedIn"`
	Datasets []models.Dataset `json:"datasets"`
	Loaded   bool             `json:"loaded"`
	Upload   upload.Snapshot  `json:"upload"`
	Analysis analysis.View    `json:"analysis"`
}

// DatasetListResponse is returned by the dataset list endpoint. Stale is
// set when the refresh failed and the previous list is returned.
type DatasetListResponse struct {
	Datasets []models.Dataset `json:"datasets"`
	Stale    bool             `json:"stale,omitempty"`
	Error    string           `json:"error,omitempty"`
}

type loginRequest struct {
	Username string `json:"username" form:"username"`
	Password string `json:"password" form:"password"`
}

type registerRequest struct {
	Username  string `json:"username" form:"username"`
	Email     string `json:"email" form:"email"`
	Password1 string `json:"password1" form:"password1"`
	Password2 string `json:"password2" form:"password2"`
}

// parseDatasetID reads the :id path parameter.
func parseDatasetID(c echo.Context) (int, error) {
	raw := c.Param("id")
	id, err := strconv.Atoi(raw)
	if err != nil || id <= 0 {
		return 0, NewBadRequestError("invalid dataset id: "+raw, err)
	}
	return id, nil
}

// queryInt reads a positive integer query parameter, or def.
func queryInt(c echo.Context, name string, def int) (int, error) {
	raw := strings.TrimSpace(c.QueryParam(name))
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return 0, NewBadRequestError("invalid "+name+": "+raw, err)
	}
	return n, nil
}
