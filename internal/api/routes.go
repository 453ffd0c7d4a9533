// routes.go - Route registration helpers
// This file provides a clean way to register all API routes
package api

import (
	"strings"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/chemdata-visualizer/client/internal/app"
	"github.com/chemdata-visualizer/client/internal/logging"
)

// Dependencies holds all handler dependencies
type Dependencies struct {
	App            *app.App
	Logger         *zap.Logger
	Version        string
	RequestLogging bool
	BodyLimit      string // e.g. "50M"; empty disables the limit
}

// Handlers holds all handler instances
type Handlers struct {
	Health    HealthHandler
	Session   SessionHandler
	Dashboard DashboardHandler
	Analysis  AnalysisHandler
	Events    *EventHub
}

// NewHandlers creates all handler instances
func NewHandlers(deps *Dependencies) *Handlers {
	return &Handlers{
		Health:    NewHealthHandler(deps.App, deps.Version),
		Session:   NewSessionHandler(deps.App),
		Dashboard: NewDashboardHandler(deps.App),
		Analysis:  NewAnalysisHandler(deps.App),
		Events:    NewEventHub(deps.App, deps.Logger),
	}
}

// RegisterRoutes registers all API routes with the Echo instance
func RegisterRoutes(e *echo.Echo, handlers *Handlers) {
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	apiGroup := e.Group("/api", metricsMiddleware)

	// Health check
	apiGroup.GET("/health", handlers.Health.HandleHealth)

	// Session and view state
	apiGroup.GET("/state", handlers.Session.HandleState)
	apiGroup.POST("/login", handlers.Session.HandleLogin)
	apiGroup.POST("/register", handlers.Session.HandleRegister)
	apiGroup.POST("/logout", handlers.Session.HandleLogout)

	// Dashboard
	apiGroup.GET("/datasets", handlers.Dashboard.HandleListDatasets)
	apiGroup.POST("/upload", handlers.Dashboard.HandleUpload)
	apiGroup.POST("/datasets/:id/select", handlers.Dashboard.HandleSelectDataset)
	apiGroup.POST("/back", handlers.Dashboard.HandleBack)

	// Analysis
	analysisGroup := apiGroup.Group("/analysis")
	analysisGroup.GET("", handlers.Analysis.HandleAnalysis)
	analysisGroup.GET("/records", handlers.Analysis.HandleRecords)
	analysisGroup.GET("/records/msgpack", handlers.Analysis.HandleRecordsMsgpack)
	analysisGroup.GET("/records.xlsx", handlers.Analysis.HandleRecordsXLSX)
	analysisGroup.GET("/chart.png", handlers.Analysis.HandleChart)
	analysisGroup.GET("/report", handlers.Analysis.HandleReport)

	// Event push
	apiGroup.GET("/ws/events", handlers.Events.HandleWebSocket)
}

// SetupMiddleware configures common middleware
func SetupMiddleware(e *echo.Echo, deps *Dependencies) {
	logger := logging.OrNop(deps.Logger).Named("http")

	// Use custom error handler
	e.HTTPErrorHandler = ErrorHandler(logger)

	e.Use(middleware.RequestIDWithConfig(middleware.RequestIDConfig{
		Generator: uuid.NewString,
	}))

	e.Use(middleware.RecoverWithConfig(middleware.RecoverConfig{
		StackSize: 1024 * 4,
		LogErrorFunc: func(c echo.Context, err error, stack []byte) error {
			logger.Error("handler panic", zap.Error(err), zap.ByteString("stack", stack))
			return err
		},
	}))

	if deps.RequestLogging {
		e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
			Skipper: func(c echo.Context) bool {
				path := c.Request().URL.Path
				return path == "/api/health" || path == "/metrics" || !strings.HasPrefix(path, "/api/")
			},
			LogMethod:    true,
			LogURI:       true,
			LogStatus:    true,
			LogLatency:   true,
			LogRequestID: true,
			LogError:     true,
			HandleError:  true,
			LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
				logger.Info("request",
					zap.String("method", v.Method),
					zap.String("uri", v.URI),
					zap.Int("status", v.Status),
					zap.Duration("latency", v.Latency),
					zap.String("request_id", v.RequestID),
				)
				return nil
			},
		}))
	}

	if deps.BodyLimit != "" {
		e.Use(middleware.BodyLimit(deps.BodyLimit))
	}
}

// NewServer builds an echo instance serving the local UI API.
func NewServer(deps *Dependencies) (*echo.Echo, *Handlers) {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	SetupMiddleware(e, deps)
	handlers := NewHandlers(deps)
	RegisterRoutes(e, handlers)
	return e, handlers
}
