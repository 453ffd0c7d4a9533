package dashboard

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chemdata-visualizer/client/internal/apiclient"
	"github.com/chemdata-visualizer/client/internal/models"
	"github.com/chemdata-visualizer/client/internal/navigation"
	"github.com/chemdata-visualizer/client/internal/parser"
	"github.com/chemdata-visualizer/client/internal/session"
	"github.com/chemdata-visualizer/client/internal/testutil"
	"github.com/chemdata-visualizer/client/internal/upload"
)

const validCSV = "Equipment Name,Type,Flowrate,Pressure,Temperature\nPump-001,Pump,120,15,60\nValve-002,Valve,0,4,30\n"

type alerts struct {
	mu   sync.Mutex
	msgs []string
}

func (a *alerts) Alert(msg string) {
	a.mu.Lock()
	a.msgs = append(a.msgs, msg)
	a.mu.Unlock()
}

func (a *alerts) all() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]string(nil), a.msgs...)
}

type fixture struct {
	backend *testutil.Backend
	store   *session.Store
	nav     *navigation.Controller
	alerts  *alerts
	wf      *Workflow
}

func newFixture(t *testing.T, opts Options) *fixture {
	t.Helper()
	b := testutil.NewBackend(t)
	token := b.AddUser("alice", "secret")

	store := session.NewStore(session.NewMemoryKV(), "", nil)
	require.NoError(t, store.Set(context.Background(), token))
	nav := navigation.New(store, nil)
	t.Cleanup(nav.Close)

	client := apiclient.New(apiclient.Options{BaseURL: b.URL(), Credentials: store, Timeout: 5 * time.Second})
	a := &alerts{}
	opts.Notifier = a
	return &fixture{
		backend: b,
		store:   store,
		nav:     nav,
		alerts:  a,
		wf:      New(client, nav, opts),
	}
}

func TestRefreshListReplacesWholesale(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()

	list, err := f.wf.RefreshList(ctx)
	require.NoError(t, err)
	assert.Empty(t, list)
	assert.True(t, f.wf.Loaded())

	f.backend.AddDataset("alice", "a.csv", nil)
	f.backend.AddDataset("alice", "b.csv", nil)
	list, err = f.wf.RefreshList(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "b.csv", list[0].FileName())
	assert.Equal(t, list, f.wf.Datasets())
}

func TestRefreshListIdempotent(t *testing.T) {
	f := newFixture(t, Options{})
	f.backend.AddDataset("alice", "a.csv", nil)
	ctx := context.Background()

	first, err := f.wf.RefreshList(ctx)
	require.NoError(t, err)
	second, err := f.wf.RefreshList(ctx)
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Equal(t, second, f.wf.Datasets())
}

func TestRefreshListFailureKeepsStaleList(t *testing.T) {
	f := newFixture(t, Options{})
	f.backend.AddDataset("alice", "a.csv", nil)
	ctx := context.Background()

	before, err := f.wf.RefreshList(ctx)
	require.NoError(t, err)

	f.backend.Fail(testutil.RouteDatasets, 500, "database unavailable")
	got, err := f.wf.RefreshList(ctx)
	var he *apiclient.HTTPError
	require.ErrorAs(t, err, &he)
	assert.Equal(t, before, got)
	assert.Equal(t, before, f.wf.Datasets())
	assert.Equal(t, err, f.wf.LastError())
	assert.Empty(t, f.alerts.all(), "list failures are not alerted")
}

func TestRefreshListEnvelopeAndGlobalScope(t *testing.T) {
	f := newFixture(t, Options{Scope: ScopeGlobal})
	f.backend.SetEnvelope(true)
	f.backend.AddDataset("alice", "a.csv", nil)
	f.backend.AddDataset("carol", "c.csv", nil)

	list, err := f.wf.RefreshList(context.Background())
	require.NoError(t, err)
	assert.Len(t, list, 2)
	assert.Equal(t, 1, f.backend.Count(testutil.RouteGlobal))
	assert.Zero(t, f.backend.Count(testutil.RouteDatasets))
}

func TestUploadWithoutFileIsNoop(t *testing.T) {
	f := newFixture(t, Options{})

	_, err := f.wf.Upload(context.Background())
	var ve *apiclient.ValidationError
	require.ErrorAs(t, err, &ve)
	assert.ErrorIs(t, err, upload.ErrNoFile)
	assert.Empty(t, f.backend.Requests())
	assert.Equal(t, upload.StatusIdle, f.wf.UploadStatus().Status)
	assert.Empty(t, f.alerts.all())
}

func TestUploadSuccessRefreshesList(t *testing.T) {
	f := newFixture(t, Options{ValidateCSV: true})
	ctx := context.Background()

	var events []EventKind
	f.wf.OnChange(func(ev Event) { events = append(events, ev.Kind) })

	require.NoError(t, f.wf.SelectFile(upload.File{Name: "equipment.csv", Data: []byte(validCSV)}))
	ds, err := f.wf.Upload(ctx)
	require.NoError(t, err)
	require.NotNil(t, ds)
	assert.Equal(t, 1, ds.ID)

	snap := f.wf.UploadStatus()
	assert.Equal(t, upload.StatusSucceeded, snap.Status)
	assert.False(t, snap.HasFile())

	list := f.wf.Datasets()
	require.Len(t, list, 1)
	assert.Equal(t, "Dataset #1", list[0].Label())

	reqs := f.backend.Requests()
	require.Len(t, reqs, 2)
	assert.Equal(t, testutil.RouteUpload, reqs[0].Route)
	assert.Equal(t, testutil.RouteDatasets, reqs[1].Route)
	assert.Empty(t, f.alerts.all())

	assert.Equal(t, []EventKind{EventUpload, EventUpload, EventUpload, EventDatasets}, events)
}

func TestUploadServerFailureAlertsAndKeepsFile(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()

	require.NoError(t, f.wf.SelectFile(upload.File{Name: "bad.csv", Data: []byte("a,b\n1,2\n")}))
	_, err := f.wf.Upload(ctx)
	require.Error(t, err)

	snap := f.wf.UploadStatus()
	assert.Equal(t, upload.StatusFailed, snap.Status)
	assert.Contains(t, snap.Reason, "missing required columns")
	assert.Equal(t, "bad.csv", snap.FileName)

	msgs := f.alerts.all()
	require.Len(t, msgs, 1)
	assert.Equal(t, UploadFailedPrefix+snap.Reason, msgs[0])
	assert.Equal(t, 1, f.backend.Count(testutil.RouteUpload))
	assert.Zero(t, f.backend.Count(testutil.RouteDatasets), "no refresh after a failed upload")

	// Retry with the same file reaches the server again
	_, err = f.wf.Upload(ctx)
	require.Error(t, err)
	assert.Equal(t, 2, f.backend.Count(testutil.RouteUpload))
}

func TestUploadFailureWithoutErrorField(t *testing.T) {
	f := newFixture(t, Options{})
	f.backend.Respond(testutil.RouteUpload, testutil.Response{Status: 502, ContentType: "text/html", Body: "<h1>Bad Gateway</h1>"})

	require.NoError(t, f.wf.SelectFile(upload.File{Name: "x.csv", Data: []byte(validCSV)}))
	_, err := f.wf.Upload(context.Background())
	require.Error(t, err)
	assert.Equal(t, []string{"Upload failed: request failed with status code 502"}, f.alerts.all())
}

func TestUploadPreflight(t *testing.T) {
	tests := []struct {
		name   string
		opts   Options
		data   string
		reason string
	}{
		{"missing columns", Options{ValidateCSV: true}, "Equipment Name,Type\nP,Pump\n", "missing required columns: Flowrate, Pressure, Temperature"},
		{"empty file", Options{ValidateCSV: true}, "", parser.ErrEmptyFile.Error()},
		{"too large", Options{MaxUploadBytes: 10}, validCSV, "the limit is 10 B"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, tt.opts)
			require.NoError(t, f.wf.SelectFile(upload.File{Name: "x.csv", Data: []byte(tt.data)}))

			_, err := f.wf.Upload(context.Background())
			var ve *apiclient.ValidationError
			require.ErrorAs(t, err, &ve)
			assert.Empty(t, f.backend.Requests(), "nothing is sent")

			snap := f.wf.UploadStatus()
			assert.Equal(t, upload.StatusFailed, snap.Status)
			assert.Contains(t, snap.Reason, tt.reason)
			require.Len(t, f.alerts.all(), 1)
		})
	}
}

func TestSecondUploadWhileInFlightRejected(t *testing.T) {
	f := newFixture(t, Options{})
	gate := f.backend.Hold(testutil.RouteUpload)
	require.NoError(t, f.wf.SelectFile(upload.File{Name: "x.csv", Data: []byte(validCSV)}))

	done := make(chan error, 1)
	go func() {
		_, err := f.wf.Upload(context.Background())
		done <- err
	}()
	<-gate.Arrived()

	assert.Equal(t, upload.StatusUploading, f.wf.UploadStatus().Status)
	_, err := f.wf.Upload(context.Background())
	assert.ErrorIs(t, err, upload.ErrInFlight)

	gate.Release()
	require.NoError(t, <-done)
	assert.Equal(t, 1, f.backend.Count(testutil.RouteUpload))
}

func TestUploadTransportFailure(t *testing.T) {
	f := newFixture(t, Options{})
	require.NoError(t, f.wf.SelectFile(upload.File{Name: "x.csv", Data: []byte(validCSV)}))
	f.backend.Close()

	_, err := f.wf.Upload(context.Background())
	var te *apiclient.TransportError
	require.ErrorAs(t, err, &te)
	msgs := f.alerts.all()
	require.Len(t, msgs, 1)
	assert.Equal(t, UploadFailedPrefix+err.Error(), msgs[0])
}

func TestSelectDatasetDelegatesToNavigation(t *testing.T) {
	f := newFixture(t, Options{})

	require.NoError(t, f.wf.SelectDataset(3))
	assert.Equal(t, models.AnalysisView(3), f.nav.State())

	err := f.wf.SelectDataset(4)
	assert.True(t, errors.Is(err, navigation.ErrInvalidTransition))
}

func TestResetClearsListAndSelectedFile(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()
	f.backend.AddDataset("alice", "a.csv", nil)

	_, err := f.wf.RefreshList(ctx)
	require.NoError(t, err)
	f.backend.Fail(testutil.RouteDatasets, 500, "down")
	_, err = f.wf.RefreshList(ctx)
	require.Error(t, err)
	require.NoError(t, f.wf.SelectFile(upload.File{Name: "x.csv", Data: []byte(validCSV)}))

	var events []Event
	f.wf.OnChange(func(ev Event) { events = append(events, ev) })
	f.wf.Reset()

	assert.Empty(t, f.wf.Datasets())
	assert.False(t, f.wf.Loaded())
	assert.NoError(t, f.wf.LastError())
	assert.False(t, f.wf.UploadStatus().HasFile())
	require.Len(t, events, 2)
	assert.Equal(t, EventDatasets, events[0].Kind)
	assert.Empty(t, events[0].Datasets)
}

func TestResetDuringUploadSkipsAlertAndRefresh(t *testing.T) {
	f := newFixture(t, Options{})
	gate := f.backend.Hold(testutil.RouteUpload)
	f.backend.Fail(testutil.RouteUpload, 500, "boom")
	require.NoError(t, f.wf.SelectFile(upload.File{Name: "x.csv", Data: []byte(validCSV)}))

	done := make(chan error, 1)
	go func() {
		_, err := f.wf.Upload(context.Background())
		done <- err
	}()
	<-gate.Arrived()

	f.wf.Reset()
	gate.Release()
	require.Error(t, <-done)

	snap := f.wf.UploadStatus()
	assert.Equal(t, upload.StatusIdle, snap.Status)
	assert.False(t, snap.HasFile())
	assert.Empty(t, f.alerts.all(), "no alert for an upload of a finished session")
	assert.Zero(t, f.backend.Count(testutil.RouteDatasets))
}

func TestRefreshInFlightDuringResetIsDiscarded(t *testing.T) {
	f := newFixture(t, Options{})
	f.backend.AddDataset("alice", "a.csv", nil)
	gate := f.backend.Hold(testutil.RouteDatasets)

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = f.wf.RefreshList(context.Background())
	}()
	<-gate.Arrived()
	f.wf.Reset()
	gate.Release()
	<-done

	assert.Empty(t, f.wf.Datasets())
	assert.False(t, f.wf.Loaded())
}
