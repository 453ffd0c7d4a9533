// interfaces.go - Handler interface definitions for clean separation of concerns
package api

import (
	"github.com/labstack/echo/v4"
)

// HealthHandler handles health check operations
type HealthHandler interface {
	HandleHealth(c echo.Context) error
}

// SessionHandler handles authentication and the current view
type SessionHandler interface {
	HandleState(c echo.Context) error
	HandleLogin(c echo.Context) error
	HandleRegister(c echo.Context) error
	HandleLogout(c echo.Context) error
}

// DashboardHandler handles the dataset list, uploads and navigation
type DashboardHandler interface {
	HandleListDatasets(c echo.Context) error
	HandleUpload(c echo.Context) error
	HandleSelectDataset(c echo.Context) error
	HandleBack(c echo.Context) error
}

// AnalysisHandler handles the view of the selected dataset
type AnalysisHandler interface {
	HandleAnalysis(c echo.Context) error
	HandleRecords(c echo.Context) error
	HandleRecordsMsgpack(c echo.Context) error
	HandleChart(c echo.Context) error
	HandleRecordsXLSX(c echo.Context) error
	HandleReport(c echo.Context) error
}

// EventHandler pushes core events to browsers
type EventHandler interface {
	HandleWebSocket(c echo.Context) error
}
