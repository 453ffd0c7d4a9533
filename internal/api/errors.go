// errors.go - Structured error handling for API responses
package api

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/chemdata-visualizer/client/internal/analysis"
	"github.com/chemdata-visualizer/client/internal/apiclient"
	"github.com/chemdata-visualizer/client/internal/app"
	"github.com/chemdata-visualizer/client/internal/navigation"
	"github.com/chemdata-visualizer/client/internal/upload"
)

// APIError represents a structured API error response
type APIError struct {
	Status  int    `json:"-"`
	Code    string `json:"code"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
}

// Error implements the error interface
func (e *APIError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// NewBadRequestError creates a 400 Bad Request error
func NewBadRequestError(message string, cause error) *APIError {
	err := &APIError{
		Status:  http.StatusBadRequest,
		Code:    "BAD_REQUEST",
		Message: message,
	}
	if cause != nil {
		err.Details = cause.Error()
	}
	return err
}

// NewConflictError creates a 409 Conflict error
func NewConflictError(message string, cause error) *APIError {
	err := &APIError{
		Status:  http.StatusConflict,
		Code:    "CONFLICT",
		Message: message,
	}
	if cause != nil {
		err.Details = cause.Error()
	}
	return err
}

// NewUnauthorizedError is returned when no session is held.
func NewUnauthorizedError() *APIError {
	return &APIError{
		Status:  http.StatusUnauthorized,
		Code:    "NOT_LOGGED_IN",
		Message: "login required",
	}
}

// NewInternalError creates a 500 Internal Server Error
func NewInternalError(message string, cause error) *APIError {
	err := &APIError{
		Status:  http.StatusInternalServerError,
		Code:    "INTERNAL_ERROR",
		Message: message,
	}
	if cause != nil {
		err.Details = cause.Error()
	}
	return err
}

// FromError maps client core errors onto responses. Backend HTTP errors keep
// the upstream status; transport and decode failures are a bad gateway.
func FromError(err error) *APIError {
	var (
		apiErr *APIError
		he     *apiclient.HTTPError
		te     *apiclient.TransportError
		de     *apiclient.DecodeError
		ve     *apiclient.ValidationError
	)
	switch {
	case errors.As(err, &apiErr):
		return apiErr
	case errors.As(err, &ve):
		return &APIError{Status: http.StatusBadRequest, Code: apiclient.CodeValidation, Message: ve.Message, Details: ve.Field}
	case errors.As(err, &he):
		return &APIError{Status: he.Status, Code: apiclient.CodeHTTP, Message: apiclient.Reason(err), Details: string(he.Body)}
	case errors.As(err, &te):
		return &APIError{Status: http.StatusBadGateway, Code: apiclient.CodeTransport, Message: "backend unreachable", Details: te.Error()}
	case errors.As(err, &de):
		return &APIError{Status: http.StatusBadGateway, Code: apiclient.CodeDecode, Message: "unexpected backend response", Details: de.Error()}
	case errors.Is(err, app.ErrNotLoggedIn):
		return NewUnauthorizedError()
	case errors.Is(err, navigation.ErrInvalidTransition):
		return &APIError{Status: http.StatusConflict, Code: "INVALID_TRANSITION", Message: err.Error()}
	case errors.Is(err, upload.ErrInFlight):
		return NewConflictError("an upload is already running", err)
	case errors.Is(err, analysis.ErrNoDataset):
		return NewConflictError("no dataset is being analysed", err)
	default:
		return NewInternalError("An unexpected error occurred", err)
	}
}

// ErrorHandler returns an echo error handler writing APIError bodies.
// Usage: e.HTTPErrorHandler = api.ErrorHandler(logger)
func ErrorHandler(logger *zap.Logger) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}

		var apiErr *APIError
		var he *echo.HTTPError
		if errors.As(err, &he) {
			apiErr = &APIError{
				Status:  he.Code,
				Code:    "HTTP_ERROR",
				Message: fmt.Sprintf("%v", he.Message),
			}
		} else {
			apiErr = FromError(err)
		}

		if apiErr.Status >= http.StatusInternalServerError {
			logger.Error("request failed",
				zap.String("method", c.Request().Method),
				zap.String("path", c.Path()),
				zap.Int("status", apiErr.Status),
				zap.Error(err),
			)
		}

		if c.Request().Method == http.MethodHead {
			_ = c.NoContent(apiErr.Status)
			return
		}
		_ = c.JSON(apiErr.Status, apiErr)
	}
}

// RespondWithError is a helper to respond with an APIError
func RespondWithError(c echo.Context, err *APIError) error {
	return c.JSON(err.Status, err)
}
