// errors.go - Error taxonomy for backend calls
package apiclient

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
)

// Error codes shared with the local UI error responses.
const (
	CodeTransport  = "TRANSPORT_ERROR"
	CodeHTTP       = "HTTP_ERROR"
	CodeDecode     = "DECODE_ERROR"
	CodeValidation = "VALIDATION_ERROR"
)

// TransportError means no response reached the client (DNS, refused
// connection, timeout, cancelled context).
type TransportError struct {
	Method string
	Path   string
	Err    error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Method, e.Path, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// HTTPError means the server answered with a non-2xx status.
type HTTPError struct {
	Method string
	Path   string
	Status int
	Body   []byte
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("request failed with status code %d", e.Status)
}

// ErrorMessage returns the "error" member of a JSON object body, if any.
func (e *HTTPError) ErrorMessage() (string, bool) {
	var body struct {
		Error *string `json:"error"`
	}
	if err := json.Unmarshal(e.Body, &body); err != nil || body.Error == nil {
		return "", false
	}
	return *body.Error, true
}

// StatusText is the canonical text for the status code.
func (e *HTTPError) StatusText() string {
	return http.StatusText(e.Status)
}

// DecodeError means the body could not be read as the requested content type.
type DecodeError struct {
	Path        string
	ContentType string
	Err         error
}

func (e *DecodeError) Error() string {
	if e.ContentType != "" {
		return fmt.Sprintf("decode %s (%s): %v", e.Path, e.ContentType, e.Err)
	}
	return fmt.Sprintf("decode %s: %v", e.Path, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// ValidationError is raised before any network call. Err optionally
// carries the underlying cause.
type ValidationError struct {
	Field   string
	Message string
	Err     error
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func (e *ValidationError) Unwrap() error { return e.Err }

// NewValidationError creates a ValidationError for a field.
func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{Field: field, Message: message}
}

// Code classifies err into one of the Code* constants, or "" if it is not
// a client error.
func Code(err error) string {
	var (
		te *TransportError
		he *HTTPError
		de *DecodeError
		ve *ValidationError
	)
	switch {
	case errors.As(err, &ve):
		return CodeValidation
	case errors.As(err, &he):
		return CodeHTTP
	case errors.As(err, &de):
		return CodeDecode
	case errors.As(err, &te):
		return CodeTransport
	default:
		return ""
	}
}

// Reason builds the human-readable failure text: the body's "error" field
// when present, the message of a ValidationError, else the error's own
// message.
func Reason(err error) string {
	var (
		he *HTTPError
		ve *ValidationError
	)
	switch {
	case errors.As(err, &he):
		if msg, ok := he.ErrorMessage(); ok && msg != "" {
			return msg
		}
	case errors.As(err, &ve):
		return ve.Message
	}
	return err.Error()
}
