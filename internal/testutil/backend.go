// backend.go - In-process fake of the ChemData REST API for tests
package testutil

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/chemdata-visualizer/client/internal/models"
	"github.com/chemdata-visualizer/client/internal/parser"
)

// Route keys used with Respond and Hold.
const (
	RouteLogin    = "login"
	RouteRegister = "register"
	RouteDatasets = "datasets"
	RouteGlobal   = "global-datasets"
	RouteUpload   = "upload"
)

// StatsRoute, RecordsRoute and ReportRoute key the per-dataset resources.
func StatsRoute(id int) string   { return fmt.Sprintf("stats:%d", id) }
func RecordsRoute(id int) string { return fmt.Sprintf("data:%d", id) }
func ReportRoute(id int) string  { return fmt.Sprintf("pdf:%d", id) }

// KeepLatest mirrors the server-side retention of uploaded datasets.
const KeepLatest = 5

// Request is one request observed by the fake backend.
type Request struct {
	Method        string
	Path          string
	Route         string
	Authorization string
	ContentType   string
	At            time.Time
}

// Response overrides the normal handler of a route.
type Response struct {
	Status      int
	ContentType string
	Body        string
}

// Gate blocks requests to a route until released.
type Gate struct {
	arrived chan struct{}
	release chan struct{}
	once    sync.Once
}

// Arrived receives once per request that reached the gate.
func (g *Gate) Arrived() <-chan struct{} { return g.arrived }

// Release lets every held and future request through.
func (g *Gate) Release() { g.once.Do(func() { close(g.release) }) }

type storedDataset struct {
	models.Dataset
	owner   string
	records []models.EquipmentRecord
}

// Backend is a fake ChemData backend served by httptest.
type Backend struct {
	Server *httptest.Server

	mu        sync.Mutex
	users     map[string]string // username -> password
	tokens    map[string]string // token -> username
	datasets  []*storedDataset  // oldest first
	nextID    int
	nextRecID int
	overrides map[string]Response
	gates     map[string]*Gate
	reports   map[int][]byte
	requests  []Request
	envelope  bool
}

// NewBackend starts a fake backend that is closed when the test ends.
func NewBackend(t testing.TB) *Backend {
	t.Helper()
	b := &Backend{
		users:     make(map[string]string),
		tokens:    make(map[string]string),
		nextID:    1,
		nextRecID: 1,
		overrides: make(map[string]Response),
		gates:     make(map[string]*Gate),
		reports:   make(map[int][]byte),
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	g := e.Group("/api")
	g.POST("/api-token-auth/", b.wrap(fixed(RouteLogin), false, b.handleLogin))
	g.POST("/auth/registration/", b.wrap(fixed(RouteRegister), false, b.handleRegister))
	g.GET("/datasets/", b.wrap(fixed(RouteDatasets), true, b.handleList(false)))
	g.GET("/global-datasets/", b.wrap(fixed(RouteGlobal), true, b.handleList(true)))
	g.POST("/upload/", b.wrap(fixed(RouteUpload), true, b.handleUpload))
	g.GET("/datasets/:id/stats/", b.wrap(byID(StatsRoute), true, b.handleStats))
	g.GET("/datasets/:id/data/", b.wrap(byID(RecordsRoute), true, b.handleRecords))
	g.GET("/datasets/:id/pdf/", b.wrap(byID(ReportRoute), true, b.handleReport))

	b.Server = httptest.NewServer(e)
	t.Cleanup(b.Close)
	return b
}

// URL is the API base URL, with trailing slash.
func (b *Backend) URL() string { return b.Server.URL + "/api/" }

// Close releases every gate and stops the server.
func (b *Backend) Close() {
	b.mu.Lock()
	for _, g := range b.gates {
		g.Release()
	}
	b.mu.Unlock()
	b.Server.Close()
}

// AddUser registers an account and returns its token.
func (b *Backend) AddUser(username, password string) string {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.users[username] = password
	return b.tokenForLocked(username)
}

// AddDataset stores a dataset owned by username and returns it.
func (b *Backend) AddDataset(username, fileName string, records []models.EquipmentRecord) models.Dataset {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.addDatasetLocked(username, fileName, records)
}

// SetEnvelope wraps list responses in {"count": n, "results": [...]}.
func (b *Backend) SetEnvelope(on bool) {
	b.mu.Lock()
	b.envelope = on
	b.mu.Unlock()
}

// SetReport replaces the report body served for a dataset.
func (b *Backend) SetReport(id int, body []byte) {
	b.mu.Lock()
	b.reports[id] = body
	b.mu.Unlock()
}

// Respond makes every request to route answer with resp until Reset.
func (b *Backend) Respond(route string, resp Response) {
	b.mu.Lock()
	b.overrides[route] = resp
	b.mu.Unlock()
}

// Fail is Respond with a JSON {"error": message} body.
func (b *Backend) Fail(route string, status int, message string) {
	b.Respond(route, Response{
		Status:      status,
		ContentType: echo.MIMEApplicationJSON,
		Body:        fmt.Sprintf(`{"error":%q}`, message),
	})
}

// Reset removes the override of a route.
func (b *Backend) Reset(route string) {
	b.mu.Lock()
	delete(b.overrides, route)
	b.mu.Unlock()
}

// Hold installs a gate on route. Requests wait until the gate is released
// or the client gives up.
func (b *Backend) Hold(route string) *Gate {
	g := &Gate{arrived: make(chan struct{}, 64), release: make(chan struct{})}
	b.mu.Lock()
	b.gates[route] = g
	b.mu.Unlock()
	return g
}

// Requests returns every observed request in arrival order.
func (b *Backend) Requests() []Request {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]Request, len(b.requests))
	copy(out, b.requests)
	return out
}

// Count returns how many requests hit route.
func (b *Backend) Count(route string) int {
	n := 0
	for _, r := range b.Requests() {
		if r.Route == route {
			n++
		}
	}
	return n
}

// Datasets returns every stored dataset, newest first.
func (b *Backend) Datasets() []models.Dataset {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]models.Dataset, 0, len(b.datasets))
	for i := len(b.datasets) - 1; i >= 0; i-- {
		out = append(out, b.datasets[i].Dataset)
	}
	return out
}

func fixed(route string) func(echo.Context) string {
	return func(echo.Context) string { return route }
}

func byID(key func(int) string) func(echo.Context) string {
	return func(c echo.Context) string {
		id, _ := strconv.Atoi(c.Param("id"))
		return key(id)
	}
}

// wrap records the request, then applies gates, overrides and auth.
func (b *Backend) wrap(routeOf func(echo.Context) string, auth bool, h echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		route := routeOf(c)
		req := c.Request()

		b.mu.Lock()
		b.requests = append(b.requests, Request{
			Method:        req.Method,
			Path:          req.URL.Path,
			Route:         route,
			Authorization: req.Header.Get("Authorization"),
			ContentType:   req.Header.Get("Content-Type"),
			At:            time.Now(),
		})
		gate := b.gates[route]
		b.mu.Unlock()

		if gate != nil {
			select {
			case gate.arrived <- struct{}{}:
			default:
			}
			select {
			case <-gate.release:
			case <-req.Context().Done():
				return req.Context().Err()
			}
		}

		b.mu.Lock()
		override, ok := b.overrides[route]
		b.mu.Unlock()
		if ok {
			ct := override.ContentType
			if ct == "" {
				ct = echo.MIMETextPlain
			}
			return c.Blob(override.Status, ct, []byte(override.Body))
		}

		if auth {
			user, ok := b.authenticate(req.Header.Get("Authorization"))
			if !ok {
				return c.JSON(http.StatusUnauthorized, map[string]string{
					"detail": "Authentication credentials were not provided.",
				})
			}
			c.Set("user", user)
		}
		return h(c)
	}
}

func (b *Backend) authenticate(header string) (string, bool) {
	token, ok := strings.CutPrefix(header, "Token ")
	if !ok || token == "" {
		return "", false
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	user, ok := b.tokens[token]
	return user, ok
}

func (b *Backend) tokenForLocked(username string) string {
	for tok, u := range b.tokens {
		if u == username {
			return tok
		}
	}
	tok := strings.ReplaceAll(uuid.NewString(), "-", "")
	b.tokens[tok] = username
	return tok
}

func (b *Backend) handleLogin(c echo.Context) error {
	username := c.FormValue("username")
	password := c.FormValue("password")

	b.mu.Lock()
	defer b.mu.Unlock()
	if pw, ok := b.users[username]; !ok || pw != password || password == "" {
		return c.JSON(http.StatusBadRequest, map[string][]string{
			"non_field_errors": {"Unable to log in with provided credentials."},
		})
	}
	return c.JSON(http.StatusOK, map[string]string{"token": b.tokenForLocked(username)})
}

func (b *Backend) handleRegister(c echo.Context) error {
	username := c.FormValue("username")
	p1, p2 := c.FormValue("password1"), c.FormValue("password2")

	if username == "" || p1 == "" {
		return c.JSON(http.StatusBadRequest, map[string][]string{"username": {"This field is required."}})
	}
	if p1 != p2 {
		return c.JSON(http.StatusBadRequest, map[string][]string{
			"non_field_errors": {"The two password fields didn't match."},
		})
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if _, exists := b.users[username]; exists {
		return c.JSON(http.StatusBadRequest, map[string][]string{
			"username": {"A user with that username already exists."},
		})
	}
	b.users[username] = p1
	return c.JSON(http.StatusCreated, map[string]string{"key": b.tokenForLocked(username)})
}

func (b *Backend) handleList(global bool) echo.HandlerFunc {
	return func(c echo.Context) error {
		user, _ := c.Get("user").(string)

		b.mu.Lock()
		out := make([]models.Dataset, 0, len(b.datasets))
		for i := len(b.datasets) - 1; i >= 0; i-- {
			d := b.datasets[i]
			if global || d.owner == user {
				out = append(out, d.Dataset)
			}
		}
		envelope := b.envelope
		b.mu.Unlock()

		return writeList(c, envelope, out)
	}
}

func (b *Backend) handleUpload(c echo.Context) error {
	user, _ := c.Get("user").(string)

	fh, err := c.FormFile("file")
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string][]string{"file": {"No file was submitted."}})
	}
	f, err := fh.Open()
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": err.Error()})
	}
	defer f.Close()

	records, rowErrs, err := parser.ReadRecords(f)
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": err.Error()})
	}
	if len(rowErrs) > 0 {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": rowErrs[0].Error()})
	}

	b.mu.Lock()
	ds := b.addDatasetLocked(user, fh.Filename, records)
	b.mu.Unlock()
	return c.JSON(http.StatusCreated, ds)
}

func (b *Backend) addDatasetLocked(owner, fileName string, records []models.EquipmentRecord) models.Dataset {
	id := b.nextID
	b.nextID++

	stored := &storedDataset{
		Dataset: models.Dataset{
			ID:         id,
			File:       b.Server.URL + "/media/datasets/" + fileName,
			UploadedAt: time.Now().UTC().Truncate(time.Microsecond),
		},
		owner: owner,
	}
	for _, r := range records {
		r.ID = b.nextRecID
		r.Dataset = id
		b.nextRecID++
		stored.records = append(stored.records, r)
	}
	b.datasets = append(b.datasets, stored)
	if len(b.datasets) > KeepLatest {
		b.datasets = b.datasets[len(b.datasets)-KeepLatest:]
	}
	return stored.Dataset
}

func (b *Backend) find(c echo.Context) (*storedDataset, int) {
	id, _ := strconv.Atoi(c.Param("id"))
	for _, d := range b.datasets {
		if d.ID == id {
			return d, id
		}
	}
	return nil, id
}

func (b *Backend) handleStats(c echo.Context) error {
	b.mu.Lock()
	d, _ := b.find(c)
	var records []models.EquipmentRecord
	if d != nil {
		records = d.records
	}
	b.mu.Unlock()

	if len(records) == 0 {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "Dataset not found or empty"})
	}
	return c.JSON(http.StatusOK, ComputeStats(records))
}

func (b *Backend) handleRecords(c echo.Context) error {
	b.mu.Lock()
	d, _ := b.find(c)
	out := []models.EquipmentRecord{}
	if d != nil {
		out = append(out, d.records...)
	}
	b.mu.Unlock()
	return c.JSON(http.StatusOK, out)
}

func (b *Backend) handleReport(c echo.Context) error {
	b.mu.Lock()
	_, id := b.find(c)
	body, ok := b.reports[id]
	b.mu.Unlock()

	if !ok {
		body = SamplePDF(id)
	}
	c.Response().Header().Set(echo.HeaderContentDisposition, fmt.Sprintf(`attachment; filename="report_%d.pdf"`, id))
	return c.Blob(http.StatusOK, "application/pdf", body)
}

func writeList[T any](c echo.Context, envelope bool, items []T) error {
	if envelope {
		return c.JSON(http.StatusOK, map[string]any{
			"count":    len(items),
			"next":     nil,
			"previous": nil,
			"results":  items,
		})
	}
	return c.JSON(http.StatusOK, items)
}

// ComputeStats aggregates records the way the backend does. Types appear in
// the order they are first seen.
func ComputeStats(records []models.EquipmentRecord) models.DatasetStats {
	stats := models.DatasetStats{TotalCount: len(records)}
	if len(records) == 0 {
		return stats
	}

	index := make(map[string]int)
	var flow, press, temp float64
	for _, r := range records {
		flow += r.Flowrate
		press += r.Pressure
		temp += r.Temperature
		if i, ok := index[r.EquipmentType]; ok {
			stats.TypeDistribution[i].Count++
			continue
		}
		index[r.EquipmentType] = len(stats.TypeDistribution)
		stats.TypeDistribution = append(stats.TypeDistribution, models.TypeCount{Type: r.EquipmentType, Count: 1})
	}
	n := float64(len(records))
	stats.AverageFlowrate = flow / n
	stats.AveragePressure = press / n
	stats.AverageTemperature = temp / n
	return stats
}

// SamplePDF is a minimal document starting with the PDF signature.
func SamplePDF(id int) []byte {
	return []byte(fmt.Sprintf("%%PDF-1.4\n%% ChemData Visualizer Report\n%% Dataset Report ID: %d\n%%%%EOF\n", id))
}
