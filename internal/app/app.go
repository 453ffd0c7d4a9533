// Package app is the composition root of the client. It wires the session
// store, navigation and the two workflows together and mounts the workflow
// that belongs to the active view.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/chemdata-visualizer/client/internal/analysis"
	"github.com/chemdata-visualizer/client/internal/apiclient"
	"github.com/chemdata-visualizer/client/internal/config"
	"github.com/chemdata-visualizer/client/internal/dashboard"
	"github.com/chemdata-visualizer/client/internal/logging"
	"github.com/chemdata-visualizer/client/internal/models"
	"github.com/chemdata-visualizer/client/internal/navigation"
	"github.com/chemdata-visualizer/client/internal/session"
	"github.com/chemdata-visualizer/client/internal/storage"
	"github.com/chemdata-visualizer/client/internal/upload"
)

// RedisPrefix namespaces the credential key in a shared redis.
const RedisPrefix = "chemviz:"

// ErrNotLoggedIn is returned by operations that need a session.
var ErrNotLoggedIn = errors.New("not logged in")

// Options configures an App.
type Options struct {
	Config *config.AppConfig
	Logger *zap.Logger

	// KV replaces the credential backend selected by Config.Session.
	KV         session.KV
	HTTPClient *http.Client
}

// App owns the client core.
type App struct {
	Config    *config.AppConfig
	Session   *session.Store
	Client    *apiclient.Client
	Nav       *navigation.Controller
	Dashboard *dashboard.Workflow
	Analysis  *analysis.Workflow
	Downloads *storage.LocalStore

	logger  *zap.Logger
	closer  io.Closer
	ctx     context.Context
	cancel  context.CancelFunc
	unmount func()

	taskMu  sync.Mutex
	pending int
	idle    chan struct{}

	alertMu   sync.Mutex
	alertSubs map[int]func(string)
	nextAlert int
}

// OpenKV builds the credential backend named by cfg.Backend. The returned
// closer is nil unless the backend holds a connection.
func OpenKV(cfg config.SessionConfig) (session.KV, io.Closer, error) {
	switch cfg.Backend {
	case "memory":
		return session.NewMemoryKV(), nil, nil
	case "", "file":
		if cfg.CredentialFile == "" {
			return nil, nil, errors.New("session: credential file is not configured")
		}
		return session.NewFileKV(cfg.CredentialFile), nil, nil
	case "redis":
		client := redis.NewClient(&redis.Options{
			Addr: cfg.RedisAddr,
			DB:   cfg.RedisDB,
		})
		return session.NewRedisKV(client, RedisPrefix), client, nil
	default:
		return nil, nil, fmt.Errorf("session: unknown backend %q", cfg.Backend)
	}
}

// New builds the client core. Call Start to load the persisted session.
func New(opts Options) (*App, error) {
	cfg := opts.Config
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	logger := logging.OrNop(opts.Logger)

	maxUpload, err := cfg.MaxUploadBytes()
	if err != nil {
		return nil, err
	}

	kv, closer := opts.KV, io.Closer(nil)
	if kv == nil {
		kv, closer, err = OpenKV(cfg.Session)
		if err != nil {
			return nil, err
		}
	}

	downloads, err := storage.NewLocalStore(cfg.Storage.DownloadsDirectory)
	if err != nil {
		if closer != nil {
			closer.Close()
		}
		return nil, fmt.Errorf("failed to open downloads directory: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	a := &App{
		Config:    cfg,
		Downloads: downloads,
		logger:    logger.Named("app"),
		closer:    closer,
		ctx:       ctx,
		cancel:    cancel,
		alertSubs: make(map[int]func(string)),
	}

	a.Session = session.NewStore(kv, cfg.Session.CredentialKey, logger)
	a.Client = apiclient.New(apiclient.Options{
		BaseURL:     cfg.API.BaseURL,
		Timeout:     cfg.Timeout(),
		Credentials: a.Session,
		Logger:      logger,
		HTTPClient:  opts.HTTPClient,
		LogRequests: cfg.Advanced.EnableRequestLogging,
	})
	a.Nav = navigation.New(a.Session, logger)
	a.Dashboard = dashboard.New(a.Client, a.Nav, dashboard.Options{
		Scope:          dashboard.Scope(cfg.API.DatasetScope),
		ValidateCSV:    cfg.Upload.ValidateCSV,
		MaxUploadBytes: maxUpload,
		Notifier:       a,
		Logger:         logger,
	})
	a.Analysis = analysis.New(a.Client, analysis.Options{
		Sink:     downloads,
		Notifier: a,
		Logger:   logger,
	})
	a.unmount = a.Nav.OnChange(a.mount)
	return a, nil
}

// Start loads the persisted credential. A backend failure is returned but
// leaves a usable App on the Login view.
func (a *App) Start(ctx context.Context) (bool, error) {
	present, err := a.Session.Load(ctx)
	a.logger.Info("client started",
		zap.String("api", a.Client.BaseURL()),
		zap.String("session_backend", a.Config.Session.Backend),
		zap.Bool("logged_in", present),
		zap.Stringer("view", a.Nav.State()),
	)
	return present, err
}

// Close stops background work and releases the credential backend.
func (a *App) Close() error {
	a.unmount()
	a.cancel()
	_ = a.Settle(context.Background())
	a.Nav.Close()
	if a.closer != nil {
		return a.closer.Close()
	}
	return nil
}

// mount activates the workflow of the entered view and releases the one of
// the view left behind.
func (a *App) mount(prev, next models.ViewState) {
	if prev.Kind == models.ViewAnalysis && next != prev {
		a.Analysis.Deactivate()
	}
	switch next.Kind {
	case models.ViewLogin:
		// Nothing of the previous session survives into the next one
		a.Dashboard.Reset()
	case models.ViewDashboard:
		a.track(func() {
			// Failures keep the previous list and are logged by the workflow.
			_, _ = a.Dashboard.RefreshList(a.ctx)
		})
	case models.ViewAnalysis:
		done := a.Analysis.Activate(a.ctx, next.DatasetID)
		a.track(func() { <-done })
	}
}

// track runs fn in the background and counts it until it returns.
func (a *App) track(fn func()) {
	a.taskMu.Lock()
	if a.pending == 0 {
		a.idle = make(chan struct{})
	}
	a.pending++
	a.taskMu.Unlock()

	go func() {
		defer func() {
			a.taskMu.Lock()
			a.pending--
			if a.pending == 0 {
				close(a.idle)
			}
			a.taskMu.Unlock()
		}()
		fn()
	}()
}

// Settle waits until the refreshes and fetches started by navigation have
// finished, or ctx is done.
func (a *App) Settle(ctx context.Context) error {
	a.taskMu.Lock()
	if a.pending == 0 {
		a.taskMu.Unlock()
		return nil
	}
	idle := a.idle
	a.taskMu.Unlock()

	select {
	case <-idle:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Alert logs message and hands it to every alert subscriber.
func (a *App) Alert(message string) {
	a.logger.Warn("alert", zap.String("message", message))

	a.alertMu.Lock()
	fns := make([]func(string), 0, len(a.alertSubs))
	for i := 0; i < a.nextAlert; i++ {
		if fn, ok := a.alertSubs[i]; ok {
			fns = append(fns, fn)
		}
	}
	a.alertMu.Unlock()

	for _, fn := range fns {
		fn(message)
	}
}

// OnAlert registers fn for alerts. The returned func removes it.
func (a *App) OnAlert(fn func(string)) func() {
	a.alertMu.Lock()
	id := a.nextAlert
	a.nextAlert++
	a.alertSubs[id] = fn
	a.alertMu.Unlock()
	return func() {
		a.alertMu.Lock()
		delete(a.alertSubs, id)
		a.alertMu.Unlock()
	}
}

// Login exchanges username and password for a token and opens the
// Dashboard.
func (a *App) Login(ctx context.Context, username, password string) error {
	token, err := a.Client.Login(ctx, models.Credentials{Username: username, Password: password})
	if err != nil {
		return err
	}
	if err := a.Nav.Login(ctx, token); err != nil {
		return err
	}
	a.logger.Info("logged in", zap.String("username", username))
	return nil
}

// Register creates an account. When the backend answers with a key the
// user is logged in and true is returned.
func (a *App) Register(ctx context.Context, reg models.Registration) (bool, error) {
	key, err := a.Client.Register(ctx, reg)
	if err != nil {
		return false, err
	}
	if key == "" {
		a.logger.Info("account registered, login required", zap.String("username", reg.Username))
		return false, nil
	}
	if err := a.Nav.Login(ctx, key); err != nil {
		return false, err
	}
	a.logger.Info("account registered", zap.String("username", reg.Username))
	return true, nil
}

// Logout clears the session. The Login view is shown even when removing
// the persisted credential fails.
func (a *App) Logout(ctx context.Context) error {
	return a.Nav.Logout(ctx)
}

// RequireSession fails with ErrNotLoggedIn on the Login view.
func (a *App) RequireSession() error {
	if _, ok := a.Session.Credential(); !ok {
		return ErrNotLoggedIn
	}
	return nil
}

// ListDatasets waits for the refresh started by entering the Dashboard
// and returns the displayed list.
func (a *App) ListDatasets(ctx context.Context) ([]models.Dataset, error) {
	if err := a.RequireSession(); err != nil {
		return nil, err
	}
	if err := a.Settle(ctx); err != nil {
		return nil, err
	}
	if !a.Dashboard.Loaded() {
		return a.Dashboard.RefreshList(ctx)
	}
	return a.Dashboard.Datasets(), a.Dashboard.LastError()
}

// UploadFile selects f and uploads it.
func (a *App) UploadFile(ctx context.Context, f upload.File) (*models.Dataset, error) {
	if err := a.RequireSession(); err != nil {
		return nil, err
	}
	if err := a.Dashboard.SelectFile(f); err != nil {
		return nil, err
	}
	return a.Dashboard.Upload(ctx)
}

// OpenDataset enters the Analysis view for id and waits for the joint
// fetch to settle. From Analysis it goes back to the Dashboard first.
func (a *App) OpenDataset(ctx context.Context, id int) (analysis.View, error) {
	if err := a.RequireSession(); err != nil {
		return analysis.View{}, err
	}
	if a.Nav.State().Kind == models.ViewAnalysis {
		if err := a.Nav.Back(); err != nil {
			return analysis.View{}, err
		}
	}
	if err := a.Nav.SelectDataset(id); err != nil {
		return analysis.View{}, err
	}
	if err := a.Settle(ctx); err != nil {
		return analysis.View{}, err
	}
	v := a.Analysis.View()
	if v.Phase == analysis.PhaseError {
		return v, v.Err
	}
	return v, nil
}
