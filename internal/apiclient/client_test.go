package apiclient

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chemdata-visualizer/client/internal/models"
	"github.com/chemdata-visualizer/client/internal/testutil"
)

type tokenSource struct {
	mu  sync.Mutex
	tok string
}

func (s *tokenSource) Credential() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tok, s.tok != ""
}

func (s *tokenSource) set(tok string) {
	s.mu.Lock()
	s.tok = tok
	s.mu.Unlock()
}

func newTestClient(t *testing.T, b *testutil.Backend, creds CredentialSource) *Client {
	t.Helper()
	return New(Options{BaseURL: b.URL(), Credentials: creds, Timeout: 5 * time.Second})
}

var sampleRecords = []models.EquipmentRecord{
	{EquipmentName: "Pump-001", EquipmentType: "Pump", Flowrate: 120, Pressure: 15, Temperature: 60},
	{EquipmentName: "Valve-002", EquipmentType: "Valve", Flowrate: 0, Pressure: 4, Temperature: 30},
	{EquipmentName: "Pump-003", EquipmentType: "Pump", Flowrate: 130, Pressure: 17, Temperature: 70},
}

func TestLoginThenAuthorizedRequests(t *testing.T) {
	b := testutil.NewBackend(t)
	b.AddUser("alice", "secret")
	creds := &tokenSource{}
	c := newTestClient(t, b, creds)
	ctx := context.Background()

	token, err := c.Login(ctx, models.Credentials{Username: "alice", Password: "secret"})
	require.NoError(t, err)
	require.NotEmpty(t, token)

	creds.set(token)
	_, err = c.ListDatasets(ctx)
	require.NoError(t, err)

	reqs := b.Requests()
	require.Len(t, reqs, 2)
	assert.Equal(t, "", reqs[0].Authorization, "login must go out without a credential")
	assert.Equal(t, "Token "+token, reqs[1].Authorization)
}

func TestLoginRejected(t *testing.T) {
	b := testutil.NewBackend(t)
	b.AddUser("alice", "secret")
	c := newTestClient(t, b, nil)

	_, err := c.Login(context.Background(), models.Credentials{Username: "alice", Password: "wrong"})
	var he *HTTPError
	require.ErrorAs(t, err, &he)
	assert.Equal(t, http.StatusBadRequest, he.Status)
	assert.Equal(t, CodeHTTP, Code(err))
}

func TestLoginValidation(t *testing.T) {
	b := testutil.NewBackend(t)
	c := newTestClient(t, b, nil)

	_, err := c.Login(context.Background(), models.Credentials{Username: "alice"})
	var ve *ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Empty(t, b.Requests())
}

func TestRegister(t *testing.T) {
	b := testutil.NewBackend(t)
	c := newTestClient(t, b, nil)
	ctx := context.Background()

	_, err := c.Register(ctx, models.Registration{Username: "bob", Password1: "a", Password2: "b"})
	assert.Equal(t, CodeValidation, Code(err))
	assert.Contains(t, err.Error(), "passwords do not match")
	assert.Empty(t, b.Requests())

	key, err := c.Register(ctx, models.Registration{Username: "bob", Email: "bob@example.com", Password1: "pw12345!", Password2: "pw12345!"})
	require.NoError(t, err)
	assert.NotEmpty(t, key)

	_, err = c.Register(ctx, models.Registration{Username: "bob", Password1: "x", Password2: "x"})
	assert.Equal(t, CodeHTTP, Code(err))
}

func TestAuthorizationHeaderAbsentWithoutCredential(t *testing.T) {
	b := testutil.NewBackend(t)
	c := newTestClient(t, b, &tokenSource{})

	_, err := c.ListDatasets(context.Background())
	var he *HTTPError
	require.ErrorAs(t, err, &he)
	assert.Equal(t, http.StatusUnauthorized, he.Status)
	assert.Equal(t, "request failed with status code 401", Reason(err))

	reqs := b.Requests()
	require.Len(t, reqs, 1)
	assert.Empty(t, reqs[0].Authorization)
}

func TestAuthorizationHeaderResolvedAtIssue(t *testing.T) {
	b := testutil.NewBackend(t)
	token := b.AddUser("alice", "secret")
	creds := &tokenSource{tok: token}
	c := newTestClient(t, b, creds)

	gate := b.Hold(testutil.RouteDatasets)
	done := make(chan error, 1)
	go func() {
		_, err := c.ListDatasets(context.Background())
		done <- err
	}()

	select {
	case <-gate.Arrived():
	case <-time.After(5 * time.Second):
		t.Fatal("request never reached the backend")
	}
	creds.set("")
	gate.Release()

	require.NoError(t, <-done)
	assert.Equal(t, "Token "+token, b.Requests()[0].Authorization)

	_, err := c.ListDatasets(context.Background())
	require.Error(t, err)
	assert.Empty(t, b.Requests()[1].Authorization)
}

func TestListDatasetsArrayAndEnvelope(t *testing.T) {
	b := testutil.NewBackend(t)
	token := b.AddUser("alice", "secret")
	first := b.AddDataset("alice", "plant_a.csv", sampleRecords)
	second := b.AddDataset("alice", "plant_b.csv", sampleRecords)
	b.AddDataset("carol", "other.csv", sampleRecords)
	c := newTestClient(t, b, &tokenSource{tok: token})
	ctx := context.Background()

	for _, envelope := range []bool{false, true} {
		b.SetEnvelope(envelope)

		got, err := c.ListDatasets(ctx)
		require.NoError(t, err)
		require.Len(t, got, 2)
		assert.Equal(t, second.ID, got[0].ID)
		assert.Equal(t, first.ID, got[1].ID)
		assert.Equal(t, "plant_b.csv", got[0].FileName())

		global, err := c.ListGlobalDatasets(ctx)
		require.NoError(t, err)
		assert.Len(t, global, 3)
	}
}

func TestListDatasetsEmpty(t *testing.T) {
	b := testutil.NewBackend(t)
	token := b.AddUser("alice", "secret")
	c := newTestClient(t, b, &tokenSource{tok: token})

	got, err := c.ListDatasets(context.Background())
	require.NoError(t, err)
	assert.NotNil(t, got)
	assert.Empty(t, got)
}

func TestListDatasetsDecodeErrors(t *testing.T) {
	tests := []struct {
		name string
		resp testutil.Response
	}{
		{"html page", testutil.Response{Status: 200, ContentType: "text/html", Body: "<html>login</html>"}},
		{"object without results", testutil.Response{Status: 200, ContentType: "application/json", Body: `{"count":1}`}},
		{"wrong element shape", testutil.Response{Status: 200, ContentType: "application/json", Body: `[{"id":"x"}]`}},
		{"empty body", testutil.Response{Status: 200, ContentType: "application/json", Body: ""}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := testutil.NewBackend(t)
			token := b.AddUser("alice", "secret")
			b.Respond(testutil.RouteDatasets, tt.resp)
			c := newTestClient(t, b, &tokenSource{tok: token})

			_, err := c.ListDatasets(context.Background())
			var de *DecodeError
			require.ErrorAs(t, err, &de)
			assert.Equal(t, PathDatasets, de.Path)
			assert.Equal(t, CodeDecode, Code(err))
		})
	}
}

func TestStatsPreservesDistributionOrder(t *testing.T) {
	b := testutil.NewBackend(t)
	token := b.AddUser("alice", "secret")
	b.Respond(testutil.StatsRoute(7), testutil.Response{
		Status:      200,
		ContentType: "application/json",
		Body: `{"total_count":6,"average_flowrate":1.5,"average_pressure":2.25,"average_temperature":30,
			"type_distribution":{"Valve":1,"Pump":3,"Tank":2}}`,
	})
	c := newTestClient(t, b, &tokenSource{tok: token})

	stats, err := c.DatasetStats(context.Background(), 7)
	require.NoError(t, err)
	assert.Equal(t, 6, stats.TotalCount)
	assert.InDelta(t, 2.25, stats.AveragePressure, 1e-9)
	assert.Equal(t, models.TypeDistribution{
		{Type: "Valve", Count: 1},
		{Type: "Pump", Count: 3},
		{Type: "Tank", Count: 2},
	}, stats.TypeDistribution)
}

func TestStatsNotFoundCarriesErrorField(t *testing.T) {
	b := testutil.NewBackend(t)
	token := b.AddUser("alice", "secret")
	c := newTestClient(t, b, &tokenSource{tok: token})

	_, err := c.DatasetStats(context.Background(), 99)
	var he *HTTPError
	require.ErrorAs(t, err, &he)
	assert.Equal(t, http.StatusNotFound, he.Status)
	assert.Equal(t, "request failed with status code 404", err.Error())
	msg, ok := he.ErrorMessage()
	assert.True(t, ok)
	assert.Equal(t, "Dataset not found or empty", msg)
	assert.Equal(t, "Dataset not found or empty", Reason(err))
}

func TestRecordsInServerOrder(t *testing.T) {
	b := testutil.NewBackend(t)
	token := b.AddUser("alice", "secret")
	ds := b.AddDataset("alice", "plant.csv", sampleRecords)
	c := newTestClient(t, b, &tokenSource{tok: token})

	got, err := c.DatasetRecords(context.Background(), ds.ID)
	require.NoError(t, err)
	require.Len(t, got, 3)
	for i, r := range got {
		assert.Equal(t, sampleRecords[i].EquipmentName, r.EquipmentName)
		assert.Equal(t, ds.ID, r.Dataset)
	}
}

func TestDatasetIDValidation(t *testing.T) {
	b := testutil.NewBackend(t)
	c := newTestClient(t, b, &tokenSource{tok: "x"})
	ctx := context.Background()

	_, err := c.DatasetStats(ctx, 0)
	assert.Equal(t, CodeValidation, Code(err))
	_, err = c.DatasetRecords(ctx, -1)
	assert.Equal(t, CodeValidation, Code(err))
	_, err = c.DatasetReport(ctx, 0)
	assert.Equal(t, CodeValidation, Code(err))
	assert.Empty(t, b.Requests())
}

func TestDatasetReport(t *testing.T) {
	b := testutil.NewBackend(t)
	token := b.AddUser("alice", "secret")
	c := newTestClient(t, b, &tokenSource{tok: token})
	ctx := context.Background()

	body, err := c.DatasetReport(ctx, 3)
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(body, []byte("%PDF-")))

	b.SetReport(4, []byte("<html>oops</html>"))
	_, err = c.DatasetReport(ctx, 4)
	var de *DecodeError
	require.ErrorAs(t, err, &de)
	assert.Equal(t, ReportPath(4), de.Path)
}

func TestUploadDataset(t *testing.T) {
	b := testutil.NewBackend(t)
	token := b.AddUser("alice", "secret")
	c := newTestClient(t, b, &tokenSource{tok: token})
	ctx := context.Background()

	csv := "Equipment Name,Type,Flowrate,Pressure,Temperature\nPump-001,Pump,120,15,60\n"
	ds, err := c.UploadDataset(ctx, "plant.csv", strings.NewReader(csv))
	require.NoError(t, err)
	require.NotNil(t, ds)
	assert.Equal(t, "plant.csv", ds.FileName())

	reqs := b.Requests()
	require.Len(t, reqs, 1)
	assert.True(t, strings.HasPrefix(reqs[0].ContentType, "multipart/form-data"), reqs[0].ContentType)
	assert.Len(t, b.Datasets(), 1)

	_, err = c.UploadDataset(ctx, "bad.csv", strings.NewReader("a,b\n1,2\n"))
	var he *HTTPError
	require.ErrorAs(t, err, &he)
	assert.Equal(t, http.StatusBadRequest, he.Status)
	assert.Contains(t, Reason(err), "missing required columns")

	_, err = c.UploadDataset(ctx, "none.csv", nil)
	assert.Equal(t, CodeValidation, Code(err))
}

func TestUploadDatasetUndecodableSuccess(t *testing.T) {
	b := testutil.NewBackend(t)
	token := b.AddUser("alice", "secret")
	b.Respond(testutil.RouteUpload, testutil.Response{Status: http.StatusCreated, Body: "created"})
	c := newTestClient(t, b, &tokenSource{tok: token})

	ds, err := c.UploadDataset(context.Background(), "plant.csv", strings.NewReader("x"))
	require.NoError(t, err)
	assert.Nil(t, ds)
}

func TestTransportError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL + "/api/"
	srv.Close()

	c := New(Options{BaseURL: url, Timeout: 2 * time.Second})
	_, err := c.ListDatasets(context.Background())

	var te *TransportError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, http.MethodGet, te.Method)
	assert.Equal(t, CodeTransport, Code(err))
	assert.Equal(t, err.Error(), Reason(err))
}

func TestCancelledContextIsTransportError(t *testing.T) {
	b := testutil.NewBackend(t)
	token := b.AddUser("alice", "secret")
	gate := b.Hold(testutil.RouteDatasets)
	c := newTestClient(t, b, &tokenSource{tok: token})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := c.ListDatasets(ctx)
		done <- err
	}()
	<-gate.Arrived()
	cancel()

	err := <-done
	var te *TransportError
	require.ErrorAs(t, err, &te)
	assert.True(t, errors.Is(err, context.Canceled))
}

func TestDo(t *testing.T) {
	b := testutil.NewBackend(t)
	token := b.AddUser("alice", "secret")
	b.AddDataset("alice", "plant.csv", sampleRecords)
	c := newTestClient(t, b, &tokenSource{tok: token})
	ctx := context.Background()

	var raw []map[string]any
	require.NoError(t, c.Do(ctx, http.MethodGet, PathDatasets, nil, &raw))
	assert.Len(t, raw, 1)

	body, err := c.DoBinary(ctx, http.MethodGet, ReportPath(1))
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(body, []byte("%PDF-")))
}
