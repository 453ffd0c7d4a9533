// handlers_dashboard.go - Dataset list, upload and selection handlers
package api

import (
	"errors"
	"io"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/chemdata-visualizer/client/internal/apiclient"
	"github.com/chemdata-visualizer/client/internal/app"
	"github.com/chemdata-visualizer/client/internal/models"
	"github.com/chemdata-visualizer/client/internal/upload"
)

// DashboardHandlerImpl implements the DashboardHandler interface
type DashboardHandlerImpl struct {
	app *app.App
}

// NewDashboardHandler creates a new dashboard handler
func NewDashboardHandler(a *app.App) DashboardHandler {
	return &DashboardHandlerImpl{app: a}
}

// HandleListDatasets refreshes the dataset list. When the refresh fails
// after an earlier success, the previous list is returned marked stale.
func (h *DashboardHandlerImpl) HandleListDatasets(c echo.Context) error {
	if err := h.app.RequireSession(); err != nil {
		return err
	}
	list, err := h.app.Dashboard.RefreshList(c.Request().Context())
	if list == nil {
		list = []models.Dataset{}
	}
	if err != nil {
		if !h.app.Dashboard.Loaded() {
			return err
		}
		return c.JSON(http.StatusOK, DatasetListResponse{
			Datasets: list,
			Stale:    true,
			Error:    apiclient.Reason(err),
		})
	}
	return c.JSON(http.StatusOK, DatasetListResponse{Datasets: list})
}

// HandleUpload uploads the multipart "file" field. Without a file the
// previously selected file is retried; with neither nothing is sent.
func (h *DashboardHandlerImpl) HandleUpload(c echo.Context) error {
	if err := h.app.RequireSession(); err != nil {
		return err
	}

	fh, err := c.FormFile(apiclient.UploadField)
	switch {
	case err == nil:
		src, err := fh.Open()
		if err != nil {
			return NewBadRequestError("failed to open uploaded file", err)
		}
		defer src.Close()

		data, err := io.ReadAll(src)
		if err != nil {
			return NewBadRequestError("failed to read uploaded file", err)
		}
		if err := h.app.Dashboard.SelectFile(upload.File{Name: fh.Filename, Data: data}); err != nil {
			return err
		}
	case errors.Is(err, http.ErrMissingFile), errors.Is(err, http.ErrNotMultipart):
		// No file part: retry the selected file
	default:
		var he *echo.HTTPError
		if errors.As(err, &he) {
			return he
		}
		return NewBadRequestError("failed to read multipart form", err)
	}

	ds, err := h.app.Dashboard.Upload(c.Request().Context())
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, map[string]interface{}{
		"dataset":  ds,
		"upload":   h.app.Dashboard.UploadStatus(),
		"datasets": h.app.Dashboard.Datasets(),
	})
}

// HandleSelectDataset opens the analysis of a dataset.
func (h *DashboardHandlerImpl) HandleSelectDataset(c echo.Context) error {
	id, err := parseDatasetID(c)
	if err != nil {
		return err
	}
	if err := h.app.RequireSession(); err != nil {
		return err
	}
	if err := h.app.Dashboard.SelectDataset(id); err != nil {
		return err
	}
	return c.JSON(http.StatusAccepted, snapshot(h.app))
}

// HandleBack returns from the analysis to the dashboard.
func (h *DashboardHandlerImpl) HandleBack(c echo.Context) error {
	if err := h.app.Nav.Back(); err != nil {
		return err
	}
	return c.JSON(http.StatusOK, snapshot(h.app))
}
