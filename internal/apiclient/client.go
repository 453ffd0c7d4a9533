// Package apiclient wraps the ChemData backend REST API.
//
// Every request carries "Authorization: Token <credential>" when the
// configured CredentialSource holds one. The header is resolved when the
// request is issued, so a login or logout that happens while a request is in
// flight does not change that request.
package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/chemdata-visualizer/client/internal/logging"
	"github.com/chemdata-visualizer/client/internal/models"
)

const (
	HeaderAuthorization = "Authorization"
	HeaderRequestID     = "X-Request-ID"
	TokenScheme         = "Token"
)

// Backend resource paths, relative to the base URL.
const (
	PathLogin          = "api-token-auth/"
	PathRegister       = "auth/registration/"
	PathDatasets       = "datasets/"
	PathGlobalDatasets = "global-datasets/"
	PathUpload         = "upload/"
)

// UploadField is the multipart field carrying the CSV.
const UploadField = "file"

var pdfMagic = []byte("%PDF-")

// CredentialSource supplies the current credential, if any.
type CredentialSource interface {
	Credential() (string, bool)
}

// Options configures a Client.
type Options struct {
	BaseURL     string
	Timeout     time.Duration
	Credentials CredentialSource
	Logger      *zap.Logger
	HTTPClient  *http.Client
	LogRequests bool
}

// Client is the backend API client.
type Client struct {
	rc     *resty.Client
	creds  CredentialSource
	logger *zap.Logger
}

// New creates a Client. Retries are disabled: failures are reported as-is.
func New(opts Options) *Client {
	logger := logging.OrNop(opts.Logger).Named("apiclient")

	var rc *resty.Client
	if opts.HTTPClient != nil {
		rc = resty.NewWithClient(opts.HTTPClient)
	} else {
		rc = resty.New()
	}
	rc.SetBaseURL(opts.BaseURL).
		SetRetryCount(0).
		SetLogger(logger.Sugar())
	if opts.Timeout > 0 {
		rc.SetTimeout(opts.Timeout)
	}

	c := &Client{
		rc:     rc,
		creds:  opts.Credentials,
		logger: logger,
	}
	rc.OnBeforeRequest(c.authorize)
	if opts.LogRequests {
		rc.OnAfterResponse(func(_ *resty.Client, resp *resty.Response) error {
			c.logger.Debug("api response",
				zap.String("method", resp.Request.Method),
				zap.String("url", resp.Request.URL),
				zap.Int("status", resp.StatusCode()),
				zap.Duration("elapsed", resp.Time()),
				zap.String("request_id", resp.Request.Header.Get(HeaderRequestID)),
			)
			return nil
		})
	}
	return c
}

// BaseURL returns the configured backend origin.
func (c *Client) BaseURL() string {
	return c.rc.BaseURL
}

func (c *Client) authorize(_ *resty.Client, r *resty.Request) error {
	if c.creds != nil {
		if token, ok := c.creds.Credential(); ok && token != "" {
			r.SetHeader(HeaderAuthorization, TokenScheme+" "+token)
		}
	}
	if r.Header.Get(HeaderRequestID) == "" {
		r.SetHeader(HeaderRequestID, uuid.NewString())
	}
	return nil
}

// send executes one request and classifies transport and status failures.
func (c *Client) send(ctx context.Context, route, method, path string, prepare func(r *resty.Request)) (*resty.Response, error) {
	r := c.rc.R().SetContext(ctx)
	if prepare != nil {
		prepare(r)
	}

	start := time.Now()
	resp, err := r.Execute(method, path)
	requestDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())

	if err != nil {
		requestsTotal.WithLabelValues(route, method, outcomeTransport).Inc()
		c.logger.Warn("api request failed",
			zap.String("method", method),
			zap.String("path", path),
			zap.Error(err),
		)
		return nil, &TransportError{Method: method, Path: path, Err: err}
	}

	if !resp.IsSuccess() {
		requestsTotal.WithLabelValues(route, method, outcomeHTTP).Inc()
		herr := &HTTPError{Method: method, Path: path, Status: resp.StatusCode(), Body: resp.Body()}
		msg, _ := herr.ErrorMessage()
		c.logger.Warn("api request rejected",
			zap.String("method", method),
			zap.String("path", path),
			zap.Int("status", herr.Status),
			zap.String("error", msg),
		)
		return resp, herr
	}

	requestsTotal.WithLabelValues(route, method, outcomeOK).Inc()
	return resp, nil
}

// Do performs a JSON request against a path relative to the base URL.
// body may be nil. The response is decoded into out unless out is nil.
func (c *Client) Do(ctx context.Context, method, path string, body, out any) error {
	resp, err := c.send(ctx, "custom", method, path, func(r *resty.Request) {
		r.SetHeader("Accept", "application/json")
		if body != nil {
			r.SetBody(body)
		}
	})
	if err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	return decodeJSON(path, resp, out)
}

// DoBinary performs a request and returns the raw response body.
func (c *Client) DoBinary(ctx context.Context, method, path string) ([]byte, error) {
	resp, err := c.send(ctx, "custom", method, path, func(r *resty.Request) {
		r.SetHeader("Accept", "application/octet-stream")
	})
	if err != nil {
		return nil, err
	}
	return resp.Body(), nil
}

// Login exchanges a username and password for a token.
func (c *Client) Login(ctx context.Context, creds models.Credentials) (string, error) {
	if strings.TrimSpace(creds.Username) == "" || creds.Password == "" {
		return "", NewValidationError("credentials", "please fill in all fields")
	}

	resp, err := c.send(ctx, "login", http.MethodPost, PathLogin, func(r *resty.Request) {
		r.SetHeader("Accept", "application/json").
			SetFormData(map[string]string{
				"username": creds.Username,
				"password": creds.Password,
			})
	})
	if err != nil {
		return "", err
	}

	var out struct {
		Token string `json:"token"`
	}
	if err := decodeJSON(PathLogin, resp, &out); err != nil {
		return "", err
	}
	if out.Token == "" {
		return "", &DecodeError{Path: PathLogin, ContentType: contentType(resp), Err: errors.New("response has no token")}
	}
	return out.Token, nil
}

// Register creates an account. The returned key is empty when the backend
// does not log the new user in directly.
func (c *Client) Register(ctx context.Context, reg models.Registration) (string, error) {
	if strings.TrimSpace(reg.Username) == "" || reg.Password1 == "" {
		return "", NewValidationError("registration", "please fill in all fields")
	}
	if reg.Password1 != reg.Password2 {
		return "", NewValidationError("password2", "passwords do not match")
	}

	resp, err := c.send(ctx, "register", http.MethodPost, PathRegister, func(r *resty.Request) {
		r.SetHeader("Accept", "application/json").
			SetFormData(map[string]string{
				"username":  reg.Username,
				"email":     reg.Email,
				"password1": reg.Password1,
				"password2": reg.Password2,
			})
	})
	if err != nil {
		return "", err
	}

	var out struct {
		Key string `json:"key"`
	}
	if len(bytes.TrimSpace(resp.Body())) == 0 {
		return "", nil
	}
	if err := decodeJSON(PathRegister, resp, &out); err != nil {
		return "", err
	}
	return out.Key, nil
}

// ListDatasets returns the caller's datasets in server order.
func (c *Client) ListDatasets(ctx context.Context) ([]models.Dataset, error) {
	return c.listDatasets(ctx, "datasets.list", PathDatasets)
}

// ListGlobalDatasets returns every user's datasets in server order.
func (c *Client) ListGlobalDatasets(ctx context.Context) ([]models.Dataset, error) {
	return c.listDatasets(ctx, "datasets.global", PathGlobalDatasets)
}

func (c *Client) listDatasets(ctx context.Context, route, path string) ([]models.Dataset, error) {
	resp, err := c.send(ctx, route, http.MethodGet, path, acceptJSON)
	if err != nil {
		return nil, err
	}
	return decodeSequence[models.Dataset](path, resp)
}

// UploadDataset sends a CSV as the multipart field "file".
// The returned dataset is nil when the success body is not a dataset.
func (c *Client) UploadDataset(ctx context.Context, fileName string, r io.Reader) (*models.Dataset, error) {
	if r == nil {
		return nil, NewValidationError(UploadField, "no file selected")
	}

	resp, err := c.send(ctx, "upload", http.MethodPost, PathUpload, func(req *resty.Request) {
		req.SetHeader("Accept", "application/json").
			SetFileReader(UploadField, fileName, r)
	})
	if err != nil {
		return nil, err
	}

	var ds models.Dataset
	if err := decodeJSON(PathUpload, resp, &ds); err != nil {
		c.logger.Debug("upload response is not a dataset", zap.Error(err))
		return nil, nil
	}
	return &ds, nil
}

// DatasetStats fetches the computed statistics of a dataset.
func (c *Client) DatasetStats(ctx context.Context, id int) (*models.DatasetStats, error) {
	if id <= 0 {
		return nil, NewValidationError("datasetId", "must be positive")
	}
	path := StatsPath(id)
	resp, err := c.send(ctx, "datasets.stats", http.MethodGet, path, acceptJSON)
	if err != nil {
		return nil, err
	}
	var stats models.DatasetStats
	if err := decodeJSON(path, resp, &stats); err != nil {
		return nil, err
	}
	return &stats, nil
}

// DatasetRecords fetches the equipment rows of a dataset in server order.
func (c *Client) DatasetRecords(ctx context.Context, id int) ([]models.EquipmentRecord, error) {
	if id <= 0 {
		return nil, NewValidationError("datasetId", "must be positive")
	}
	path := RecordsPath(id)
	resp, err := c.send(ctx, "datasets.records", http.MethodGet, path, acceptJSON)
	if err != nil {
		return nil, err
	}
	return decodeSequence[models.EquipmentRecord](path, resp)
}

// DatasetReport downloads the PDF report of a dataset.
func (c *Client) DatasetReport(ctx context.Context, id int) ([]byte, error) {
	if id <= 0 {
		return nil, NewValidationError("datasetId", "must be positive")
	}
	path := ReportPath(id)
	resp, err := c.send(ctx, "datasets.report", http.MethodGet, path, func(r *resty.Request) {
		r.SetHeader("Accept", "application/pdf")
	})
	if err != nil {
		return nil, err
	}
	body := resp.Body()
	if !bytes.HasPrefix(body, pdfMagic) {
		return nil, &DecodeError{Path: path, ContentType: contentType(resp), Err: errors.New("body is not a PDF document")}
	}
	return body, nil
}

// StatsPath is the statistics resource of a dataset.
func StatsPath(id int) string { return fmt.Sprintf("datasets/%d/stats/", id) }

// RecordsPath is the raw records resource of a dataset.
func RecordsPath(id int) string { return fmt.Sprintf("datasets/%d/data/", id) }

// ReportPath is the PDF report resource of a dataset.
func ReportPath(id int) string { return fmt.Sprintf("datasets/%d/pdf/", id) }

func acceptJSON(r *resty.Request) {
	r.SetHeader("Accept", "application/json")
}

func contentType(resp *resty.Response) string {
	return resp.Header().Get("Content-Type")
}

func decodeJSON(path string, resp *resty.Response, out any) error {
	body := resp.Body()
	if len(bytes.TrimSpace(body)) == 0 {
		return &DecodeError{Path: path, ContentType: contentType(resp), Err: errors.New("empty body")}
	}
	if err := json.Unmarshal(body, out); err != nil {
		return &DecodeError{Path: path, ContentType: contentType(resp), Err: err}
	}
	return nil
}

// decodeSequence accepts either a bare JSON array or a {"results": [...]}
// envelope.
func decodeSequence[T any](path string, resp *resty.Response) ([]T, error) {
	body := bytes.TrimSpace(resp.Body())
	fail := func(err error) ([]T, error) {
		return nil, &DecodeError{Path: path, ContentType: contentType(resp), Err: err}
	}
	if len(body) == 0 {
		return fail(errors.New("empty body"))
	}

	var items []T
	switch body[0] {
	case '[':
		if err := json.Unmarshal(body, &items); err != nil {
			return fail(err)
		}
	case '{':
		var env struct {
			Results *[]T `json:"results"`
		}
		if err := json.Unmarshal(body, &env); err != nil {
			return fail(err)
		}
		if env.Results == nil {
			return fail(errors.New(`object has no "results" member`))
		}
		items = *env.Results
	default:
		return fail(errors.New("expected array or results envelope"))
	}

	if items == nil {
		items = []T{}
	}
	return items, nil
}
