// Package dashboard lists datasets, drives uploads and hands dataset
// selection to navigation.
package dashboard

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/dustin/go-humanize"
	"go.uber.org/zap"

	"github.com/chemdata-visualizer/client/internal/apiclient"
	"github.com/chemdata-visualizer/client/internal/logging"
	"github.com/chemdata-visualizer/client/internal/models"
	"github.com/chemdata-visualizer/client/internal/parser"
	"github.com/chemdata-visualizer/client/internal/upload"
)

// UploadFailedPrefix starts every upload failure alert.
const UploadFailedPrefix = "Upload failed: "

// Scope selects which dataset collection is listed.
type Scope string

const (
	ScopeMine   Scope = "mine"
	ScopeGlobal Scope = "global"
)

// API is the part of the API client the dashboard uses.
type API interface {
	ListDatasets(ctx context.Context) ([]models.Dataset, error)
	ListGlobalDatasets(ctx context.Context) ([]models.Dataset, error)
	UploadDataset(ctx context.Context, fileName string, r io.Reader) (*models.Dataset, error)
}

// Navigator receives dataset selections.
type Navigator interface {
	SelectDataset(id int) error
}

// Notifier shows a message the user must acknowledge.
type Notifier interface {
	Alert(message string)
}

// EventKind names a dashboard change.
type EventKind string

const (
	EventDatasets EventKind = "datasets"
	EventUpload   EventKind = "upload"
)

// Event is published after the list or the upload task changes.
type Event struct {
	Kind     EventKind        `json:"kind"`
	Datasets []models.Dataset `json:"datasets,omitempty"`
	Upload   *upload.Snapshot `json:"upload,omitempty"`
}

// Options configures a Workflow.
type Options struct {
	Scope          Scope
	ValidateCSV    bool
	MaxUploadBytes int64 // 0 means unlimited
	Notifier       Notifier
	Logger         *zap.Logger
}

// Workflow is the dashboard state: the last fetched dataset list and the
// upload task.
type Workflow struct {
	api      API
	nav      Navigator
	notifier Notifier
	opts     Options
	logger   *zap.Logger
	task     *upload.Task

	mu         sync.RWMutex
	datasets   []models.Dataset
	loaded     bool
	refreshGen uint64
	lastErr    error
	epoch      uint64

	listenMu  sync.Mutex
	listeners []func(Event)
}

// New creates a Workflow.
func New(api API, nav Navigator, opts Options) *Workflow {
	if opts.Scope == "" {
		opts.Scope = ScopeMine
	}
	return &Workflow{
		api:      api,
		nav:      nav,
		notifier: opts.Notifier,
		opts:     opts,
		logger:   logging.OrNop(opts.Logger).Named("dashboard"),
		task:     upload.NewTask(),
	}
}

// OnChange registers fn for dashboard events.
func (w *Workflow) OnChange(fn func(Event)) {
	w.listenMu.Lock()
	w.listeners = append(w.listeners, fn)
	w.listenMu.Unlock()
}

func (w *Workflow) publish(ev Event) {
	w.listenMu.Lock()
	fns := append([]func(Event){}, w.listeners...)
	w.listenMu.Unlock()
	for _, fn := range fns {
		fn(ev)
	}
}

// Datasets returns the displayed list in server order.
func (w *Workflow) Datasets() []models.Dataset {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return append([]models.Dataset(nil), w.datasets...)
}

// Loaded reports whether a refresh has ever succeeded.
func (w *Workflow) Loaded() bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.loaded
}

// LastError returns the error of the latest refresh, or nil.
func (w *Workflow) LastError() error {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.lastErr
}

// RefreshList fetches the dataset collection and replaces the displayed
// list. On failure the previous list stays displayed. A refresh that
// completes after a newer one was issued is discarded.
func (w *Workflow) RefreshList(ctx context.Context) ([]models.Dataset, error) {
	w.mu.Lock()
	w.refreshGen++
	gen := w.refreshGen
	w.mu.Unlock()

	var (
		list []models.Dataset
		err  error
	)
	if w.opts.Scope == ScopeGlobal {
		list, err = w.api.ListGlobalDatasets(ctx)
	} else {
		list, err = w.api.ListDatasets(ctx)
	}

	w.mu.Lock()
	if gen != w.refreshGen {
		current := append([]models.Dataset(nil), w.datasets...)
		w.mu.Unlock()
		w.logger.Debug("discarding superseded dataset list", zap.Uint64("generation", gen))
		return current, err
	}
	if err != nil {
		w.lastErr = err
		current := append([]models.Dataset(nil), w.datasets...)
		w.mu.Unlock()
		w.logger.Warn("failed to refresh dataset list",
			zap.String("scope", string(w.opts.Scope)),
			zap.String("code", apiclient.Code(err)),
			zap.Error(err),
		)
		return current, err
	}
	w.datasets = list
	w.loaded = true
	w.lastErr = nil
	w.mu.Unlock()

	w.logger.Debug("dataset list refreshed", zap.Int("count", len(list)))
	w.publish(Event{Kind: EventDatasets, Datasets: append([]models.Dataset(nil), list...)})
	return append([]models.Dataset(nil), list...), nil
}

// Reset drops the list, the refresh error and the selected file, and
// discards refreshes still in flight. An upload that is running finishes
// without alerting or refreshing and leaves no file behind.
func (w *Workflow) Reset() {
	w.mu.Lock()
	w.datasets = nil
	w.loaded = false
	w.lastErr = nil
	w.refreshGen++
	w.epoch++
	w.mu.Unlock()

	w.task.Discard()
	w.logger.Debug("dashboard reset")
	w.publish(Event{Kind: EventDatasets, Datasets: []models.Dataset{}})
	w.publishUpload()
}

func (w *Workflow) currentEpoch() uint64 {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.epoch
}

// SelectFile makes f the file of the next upload.
func (w *Workflow) SelectFile(f upload.File) error {
	if err := w.task.Select(f); err != nil {
		return err
	}
	w.publishUpload()
	return nil
}

// ClearFile drops the selected file.
func (w *Workflow) ClearFile() bool {
	if !w.task.Reset() {
		return false
	}
	w.publishUpload()
	return true
}

// UploadStatus returns the upload task state.
func (w *Workflow) UploadStatus() upload.Snapshot {
	return w.task.Snapshot()
}

func (w *Workflow) publishUpload() {
	snap := w.task.Snapshot()
	w.publish(Event{Kind: EventUpload, Upload: &snap})
}

// Upload sends the selected file. Without a file nothing is sent and the
// task is untouched; a second call while one is running is rejected. On
// failure the user is alerted and the file stays selected; on success the
// file is cleared and the list is refreshed.
func (w *Workflow) Upload(ctx context.Context) (*models.Dataset, error) {
	epoch := w.currentEpoch()
	f, err := w.task.Begin()
	switch {
	case errors.Is(err, upload.ErrNoFile):
		return nil, &apiclient.ValidationError{Field: apiclient.UploadField, Message: "no file selected", Err: err}
	case errors.Is(err, upload.ErrInFlight):
		w.logger.Debug("upload ignored, another upload is running")
		return nil, err
	case err != nil:
		return nil, err
	}
	w.publishUpload()

	log := w.logger.With(zap.String("file", f.Name), zap.String("size", humanize.Bytes(uint64(f.Size()))))

	if err := w.preflight(f); err != nil {
		w.fail(log, err, epoch)
		return nil, err
	}

	log.Info("uploading dataset")
	ds, err := w.api.UploadDataset(ctx, f.Name, f.Reader())
	if err != nil {
		w.fail(log, err, epoch)
		return nil, err
	}

	w.task.Succeed(ds)
	if ds != nil {
		log.Info("dataset uploaded", zap.Int("dataset_id", ds.ID))
	} else {
		log.Info("dataset uploaded")
	}
	w.publishUpload()

	if epoch != w.currentEpoch() {
		log.Debug("dashboard was reset during upload, skipping refresh")
		return ds, nil
	}
	// Failures are logged and leave the previous list visible.
	_, _ = w.RefreshList(ctx)
	return ds, nil
}

func (w *Workflow) preflight(f upload.File) error {
	if limit := w.opts.MaxUploadBytes; limit > 0 && f.Size() > limit {
		return &apiclient.ValidationError{
			Field:   apiclient.UploadField,
			Message: fmt.Sprintf("file is %s, the limit is %s", humanize.Bytes(uint64(f.Size())), humanize.Bytes(uint64(limit))),
		}
	}
	if w.opts.ValidateCSV {
		if err := parser.ValidateHeader(f.Reader()); err != nil {
			return &apiclient.ValidationError{Field: apiclient.UploadField, Message: err.Error(), Err: err}
		}
	}
	return nil
}

func (w *Workflow) fail(log *zap.Logger, err error, epoch uint64) {
	reason := apiclient.Reason(err)
	w.task.Fail(reason)
	log.Warn("upload failed",
		zap.String("code", apiclient.Code(err)),
		zap.String("reason", reason),
		zap.Error(err),
	)
	w.publishUpload()
	if epoch != w.currentEpoch() {
		return
	}
	if w.notifier != nil {
		w.notifier.Alert(UploadFailedPrefix + reason)
	}
}

// SelectDataset opens the analysis of a dataset.
func (w *Workflow) SelectDataset(id int) error {
	return w.nav.SelectDataset(id)
}
