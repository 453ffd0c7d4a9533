// Package analysis fetches the statistics and records of one dataset and
// exposes them as a view for charts, tables and report export.
package analysis

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/chemdata-visualizer/client/internal/apiclient"
	"github.com/chemdata-visualizer/client/internal/logging"
	"github.com/chemdata-visualizer/client/internal/models"
)

// ErrNoDataset is returned when an operation needs an active dataset.
var ErrNoDataset = errors.New("analysis: no dataset selected")

// ReportFailedPrefix starts every report failure alert.
const ReportFailedPrefix = "Report download failed: "

// Phase is the presentation state of the view.
type Phase string

const (
	PhaseIdle    Phase = "idle"
	PhaseLoading Phase = "loading"
	PhaseReady   Phase = "ready"
	PhaseError   Phase = "error"
)

// API is the part of the API client the workflow uses.
type API interface {
	DatasetStats(ctx context.Context, id int) (*models.DatasetStats, error)
	DatasetRecords(ctx context.Context, id int) ([]models.EquipmentRecord, error)
	DatasetReport(ctx context.Context, id int) ([]byte, error)
}

// Sink presents a downloaded file to the user.
type Sink interface {
	SaveBytes(name string, data []byte) (*models.FileInfo, error)
}

// Notifier shows a message the user must acknowledge.
type Notifier interface {
	Alert(message string)
}

// View is a snapshot of the analysis state. Stats, Records and Series are
// only set in PhaseReady.
type View struct {
	DatasetID  int                      `json:"datasetId,omitempty"`
	Phase      Phase                    `json:"phase"`
	Stats      *models.DatasetStats     `json:"stats,omitempty"`
	Records    []models.EquipmentRecord `json:"records,omitempty"`
	Series     models.CategorySeries    `json:"series"`
	Error      string                   `json:"error,omitempty"`
	Generation uint64                   `json:"generation"`

	Err error `json:"-"`
}

// Ready reports whether data can be shown.
func (v View) Ready() bool { return v.Phase == PhaseReady }

// ReportFileName is the name a dataset's PDF report is presented under.
func ReportFileName(id int) string {
	return fmt.Sprintf("report_%d.pdf", id)
}

// Options configures a Workflow.
type Options struct {
	Sink     Sink
	Notifier Notifier
	Logger   *zap.Logger
}

// Workflow runs the fetch pipeline. Every activation bumps a generation
// counter; results are applied only if their generation is still current,
// so a late response for a previous dataset is dropped.
type Workflow struct {
	api      API
	sink     Sink
	notifier Notifier
	logger   *zap.Logger

	mu     sync.Mutex
	gen    uint64
	cancel context.CancelFunc
	view   View

	// pubMu orders deliveries; a view is delivered only while its
	// generation is still current.
	pubMu     sync.Mutex
	listenMu  sync.Mutex
	listeners []func(View)
}

// New creates a Workflow in PhaseIdle.
func New(api API, opts Options) *Workflow {
	return &Workflow{
		api:      api,
		sink:     opts.Sink,
		notifier: opts.Notifier,
		logger:   logging.OrNop(opts.Logger).Named("analysis"),
		view:     View{Phase: PhaseIdle},
	}
}

// OnChange registers fn for view changes. Views are delivered one at a
// time in generation order and never after a newer activation has been
// delivered. fn must not call Activate or Deactivate.
func (w *Workflow) OnChange(fn func(View)) {
	w.listenMu.Lock()
	w.listeners = append(w.listeners, fn)
	w.listenMu.Unlock()
}

func (w *Workflow) publish(v View) {
	w.pubMu.Lock()
	defer w.pubMu.Unlock()

	w.mu.Lock()
	current := v.Generation == w.gen
	w.mu.Unlock()
	if !current {
		w.logger.Debug("dropping superseded view event",
			zap.Int("dataset_id", v.DatasetID),
			zap.Uint64("generation", v.Generation),
		)
		return
	}

	w.listenMu.Lock()
	fns := append([]func(View){}, w.listeners...)
	w.listenMu.Unlock()
	for _, fn := range fns {
		fn(v)
	}
}

// View returns the current view.
func (w *Workflow) View() View {
	w.mu.Lock()
	defer w.mu.Unlock()
	return copyView(w.view)
}

func copyView(v View) View {
	if v.Records != nil {
		v.Records = append([]models.EquipmentRecord(nil), v.Records...)
	}
	return v
}

// Activate discards the current view, enters PhaseLoading for id and
// fetches stats and records concurrently. The returned channel is closed
// when this activation has settled (applied or discarded).
func (w *Workflow) Activate(ctx context.Context, id int) <-chan struct{} {
	done := make(chan struct{})

	w.mu.Lock()
	w.gen++
	gen := w.gen
	if w.cancel != nil {
		w.cancel()
		w.cancel = nil
	}
	if id <= 0 {
		w.view = View{DatasetID: id, Phase: PhaseError, Err: ErrNoDataset, Error: ErrNoDataset.Error(), Generation: gen}
		v := copyView(w.view)
		w.mu.Unlock()
		w.publish(v)
		close(done)
		return done
	}
	fetchCtx, cancel := context.WithCancel(ctx)
	w.cancel = cancel
	w.view = View{DatasetID: id, Phase: PhaseLoading, Generation: gen}
	v := copyView(w.view)
	w.mu.Unlock()

	w.logger.Debug("activating analysis", zap.Int("dataset_id", id), zap.Uint64("generation", gen))
	w.publish(v)

	go func() {
		defer close(done)
		defer cancel()
		w.fetch(fetchCtx, gen, id)
	}()
	return done
}

// Deactivate cancels pending fetches and returns to PhaseIdle.
func (w *Workflow) Deactivate() {
	w.mu.Lock()
	w.gen++
	if w.cancel != nil {
		w.cancel()
		w.cancel = nil
	}
	w.view = View{Phase: PhaseIdle, Generation: w.gen}
	v := copyView(w.view)
	w.mu.Unlock()
	w.publish(v)
}

func (w *Workflow) fetch(ctx context.Context, gen uint64, id int) {
	var (
		stats   *models.DatasetStats
		records []models.EquipmentRecord
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		s, err := w.api.DatasetStats(gctx, id)
		if err != nil {
			return fmt.Errorf("fetch stats: %w", err)
		}
		stats = s
		return nil
	})
	g.Go(func() error {
		r, err := w.api.DatasetRecords(gctx, id)
		if err != nil {
			return fmt.Errorf("fetch records: %w", err)
		}
		records = r
		return nil
	})
	err := g.Wait()

	w.mu.Lock()
	if gen != w.gen {
		w.mu.Unlock()
		w.logger.Debug("discarding stale analysis result",
			zap.Int("dataset_id", id),
			zap.Uint64("generation", gen),
			zap.Error(err),
		)
		return
	}
	w.cancel = nil
	if err != nil {
		w.view = View{DatasetID: id, Phase: PhaseError, Err: err, Error: apiclient.Reason(err), Generation: gen}
	} else {
		if records == nil {
			records = []models.EquipmentRecord{}
		}
		series := models.SeriesFromDistribution(stats.TypeDistribution)
		w.view = View{DatasetID: id, Phase: PhaseReady, Stats: stats, Records: records, Series: series, Generation: gen}
	}
	v := copyView(w.view)
	w.mu.Unlock()

	if err != nil {
		w.logger.Warn("failed to load dataset analysis",
			zap.Int("dataset_id", id),
			zap.String("code", apiclient.Code(err)),
			zap.Error(err),
		)
	} else {
		w.logger.Debug("analysis ready",
			zap.Int("dataset_id", id),
			zap.Int("records", len(v.Records)),
			zap.Int("types", v.Series.Len()),
		)
	}
	w.publish(v)
}

// activeID returns the dataset of the current activation.
func (w *Workflow) activeID() (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.view.Phase == PhaseIdle || w.view.DatasetID <= 0 {
		return 0, ErrNoDataset
	}
	return w.view.DatasetID, nil
}

// FetchReport downloads the PDF of the active dataset. Failures are logged
// and alerted; the view is not changed.
func (w *Workflow) FetchReport(ctx context.Context) (string, []byte, error) {
	id, err := w.activeID()
	if err != nil {
		return "", nil, err
	}
	data, err := w.api.DatasetReport(ctx, id)
	if err != nil {
		w.reportFailed(id, err)
		return "", nil, err
	}
	return ReportFileName(id), data, nil
}

// DownloadReport fetches the PDF and hands it to the sink as
// report_<id>.pdf.
func (w *Workflow) DownloadReport(ctx context.Context) (*models.FileInfo, error) {
	if w.sink == nil {
		return nil, errors.New("analysis: no download sink configured")
	}
	name, data, err := w.FetchReport(ctx)
	if err != nil {
		return nil, err
	}
	info, err := w.sink.SaveBytes(name, data)
	if err != nil {
		id, _ := w.activeID()
		w.reportFailed(id, err)
		return nil, fmt.Errorf("save report: %w", err)
	}
	w.logger.Info("report saved", zap.String("path", info.Path), zap.Int64("size", info.Size))
	return info, nil
}

func (w *Workflow) reportFailed(id int, err error) {
	w.logger.Warn("report download failed",
		zap.Int("dataset_id", id),
		zap.String("code", apiclient.Code(err)),
		zap.Error(err),
	)
	if w.notifier != nil {
		w.notifier.Alert(ReportFailedPrefix + apiclient.Reason(err))
	}
}
