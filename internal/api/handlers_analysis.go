// handlers_analysis.go - Analysis view, chart and export handlers
package api

import (
	"bytes"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/chemdata-visualizer/client/internal/analysis"
	"github.com/chemdata-visualizer/client/internal/app"
	"github.com/chemdata-visualizer/client/internal/chart"
	"github.com/chemdata-visualizer/client/internal/export"
)

const mimeXLSX = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

// AnalysisHandlerImpl implements the AnalysisHandler interface
type AnalysisHandlerImpl struct {
	app *app.App
}

// NewAnalysisHandler creates a new analysis handler
func NewAnalysisHandler(a *app.App) AnalysisHandler {
	return &AnalysisHandlerImpl{app: a}
}

// readyView returns the analysis view, or a conflict while it is not Ready.
func (h *AnalysisHandlerImpl) readyView() (analysis.View, error) {
	v := h.app.Analysis.View()
	if !v.Ready() {
		return v, &APIError{
			Status:  http.StatusConflict,
			Code:    "ANALYSIS_NOT_READY",
			Message: fmt.Sprintf("analysis is %s", v.Phase),
			Details: v.Error,
		}
	}
	return v, nil
}

// HandleAnalysis returns the analysis view in any phase.
func (h *AnalysisHandlerImpl) HandleAnalysis(c echo.Context) error {
	return c.JSON(http.StatusOK, h.app.Analysis.View())
}

// HandleRecords returns the records in received order.
func (h *AnalysisHandlerImpl) HandleRecords(c echo.Context) error {
	v, err := h.readyView()
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, v.Records)
}

// HandleRecordsMsgpack returns the records encoded with MessagePack for
// large tables.
func (h *AnalysisHandlerImpl) HandleRecordsMsgpack(c echo.Context) error {
	v, err := h.readyView()
	if err != nil {
		return err
	}
	data, err := msgpack.Marshal(map[string]interface{}{
		"datasetId": v.DatasetID,
		"records":   v.Records,
		"total":     len(v.Records),
	})
	if err != nil {
		return NewInternalError("failed to encode msgpack", err)
	}
	return c.Blob(http.StatusOK, "application/msgpack", data)
}

// HandleChart renders the type distribution as a PNG bar chart.
func (h *AnalysisHandlerImpl) HandleChart(c echo.Context) error {
	v, err := h.readyView()
	if err != nil {
		return err
	}
	width, err := queryInt(c, "width", 0)
	if err != nil {
		return err
	}
	height, err := queryInt(c, "height", 0)
	if err != nil {
		return err
	}

	var buf bytes.Buffer
	err = chart.RenderBar(&buf, v.Series, chart.Options{Width: width, Height: height})
	if errors.Is(err, chart.ErrEmptySeries) {
		return &APIError{Status: http.StatusNotFound, Code: "NO_DATA", Message: "dataset has no equipment types"}
	}
	if err != nil {
		return NewInternalError("failed to render chart", err)
	}
	c.Response().Header().Set(echo.HeaderCacheControl, "no-store")
	return c.Blob(http.StatusOK, "image/png", buf.Bytes())
}

// HandleRecordsXLSX exports the records and statistics as a workbook.
func (h *AnalysisHandlerImpl) HandleRecordsXLSX(c echo.Context) error {
	v, err := h.readyView()
	if err != nil {
		return err
	}
	var buf bytes.Buffer
	if err := export.WriteXLSX(&buf, v.DatasetID, v.Stats, v.Records); err != nil {
		return NewInternalError("failed to build workbook", err)
	}
	c.Response().Header().Set(echo.HeaderContentDisposition, attachment(export.FileName(v.DatasetID)))
	return c.Blob(http.StatusOK, mimeXLSX, buf.Bytes())
}

// HandleReport downloads the PDF report of the active dataset. With
// save=true it is written to the downloads directory instead of returned.
func (h *AnalysisHandlerImpl) HandleReport(c echo.Context) error {
	ctx := c.Request().Context()
	if save, _ := strconv.ParseBool(c.QueryParam("save")); save {
		info, err := h.app.Analysis.DownloadReport(ctx)
		if err != nil {
			return err
		}
		return c.JSON(http.StatusCreated, info)
	}

	name, data, err := h.app.Analysis.FetchReport(ctx)
	if err != nil {
		return err
	}
	c.Response().Header().Set(echo.HeaderContentDisposition, attachment(name))
	return c.Blob(http.StatusOK, "application/pdf", data)
}

func attachment(name string) string {
	return fmt.Sprintf("attachment; filename=%q", name)
}
