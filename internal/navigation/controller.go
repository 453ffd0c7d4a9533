// Package navigation selects the active top-level view and the dataset
// under analysis.
//
// Transitions:
//
//	Login(cred)         any       -> Dashboard
//	session absent      any       -> Login
//	Logout              any       -> Login
//	SelectDataset(id)   Dashboard -> Analysis(id)
//	Back                Analysis  -> Dashboard
//
// The session gate is re-evaluated on every session change, so a credential
// cleared elsewhere still forces the Login view.
package navigation

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	"go.uber.org/zap"

	"github.com/chemdata-visualizer/client/internal/logging"
	"github.com/chemdata-visualizer/client/internal/models"
	"github.com/chemdata-visualizer/client/internal/session"
)

// ErrInvalidTransition is returned when an event is not allowed in the
// current state.
var ErrInvalidTransition = errors.New("navigation: invalid transition")

// SessionStore is the part of session.Store the controller depends on.
type SessionStore interface {
	Credential() (string, bool)
	Set(ctx context.Context, cred string) error
	Clear(ctx context.Context) error
	Subscribe(fn func(session.Event)) func()
}

// Listener observes state changes.
type Listener func(prev, next models.ViewState)

type change struct {
	prev, next models.ViewState
}

// Controller is the navigation state machine. Listeners are called in
// transition order, never while the controller's lock is held, so they
// may call back into the controller.
type Controller struct {
	store  SessionStore
	logger *zap.Logger
	unsub  func()

	mu        sync.Mutex
	state     models.ViewState
	listeners map[int]Listener
	nextID    int
	pending   []change
	draining  bool
}

// New creates a controller whose initial state is Dashboard when the store
// holds a credential and Login otherwise.
func New(store SessionStore, logger *zap.Logger) *Controller {
	c := &Controller{
		store:     store,
		logger:    logging.OrNop(logger).Named("navigation"),
		state:     models.LoginView(),
		listeners: make(map[int]Listener),
	}
	if _, ok := store.Credential(); ok {
		c.state = models.DashboardView()
	}
	c.unsub = store.Subscribe(c.onSession)
	c.logger.Debug("navigation started", zap.Stringer("state", c.state))
	return c
}

// Close stops observing the session store.
func (c *Controller) Close() {
	c.unsub()
}

// State returns the current view.
func (c *Controller) State() models.ViewState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// OnChange registers l. The returned func removes it.
func (c *Controller) OnChange(l Listener) func() {
	c.mu.Lock()
	id := c.nextID
	c.nextID++
	c.listeners[id] = l
	c.mu.Unlock()

	return func() {
		c.mu.Lock()
		delete(c.listeners, id)
		c.mu.Unlock()
	}
}

// Login stores cred and shows the Dashboard. A failure to persist the
// credential is logged by the store; the session is still established.
func (c *Controller) Login(ctx context.Context, cred string) error {
	err := c.store.Set(ctx, cred)
	if errors.Is(err, session.ErrEmptyCredential) {
		return err
	}
	ok := c.transition(func(cur models.ViewState) (models.ViewState, bool) {
		if _, held := c.store.Credential(); !held {
			return cur, false
		}
		return models.DashboardView(), true
	})
	if !ok {
		return fmt.Errorf("%w: session cleared during login", ErrInvalidTransition)
	}
	return nil
}

// Logout clears the session and shows the Login view.
func (c *Controller) Logout(ctx context.Context) error {
	err := c.store.Clear(ctx)
	c.transition(c.gate)
	return err
}

// SelectDataset enters Analysis for id. Only valid from the Dashboard.
func (c *Controller) SelectDataset(id int) error {
	if id <= 0 {
		return fmt.Errorf("%w: dataset id must be positive, got %d", ErrInvalidTransition, id)
	}
	var from models.ViewState
	ok := c.transition(func(cur models.ViewState) (models.ViewState, bool) {
		from = cur
		if cur.Kind != models.ViewDashboard {
			return cur, false
		}
		if _, ok := c.store.Credential(); !ok {
			return cur, false
		}
		return models.AnalysisView(id), true
	})
	if !ok {
		return fmt.Errorf("%w: select dataset %d from %s", ErrInvalidTransition, id, from)
	}
	return nil
}

// Back returns from Analysis to the Dashboard.
func (c *Controller) Back() error {
	var from models.ViewState
	ok := c.transition(func(cur models.ViewState) (models.ViewState, bool) {
		from = cur
		if cur.Kind != models.ViewAnalysis {
			return cur, false
		}
		return models.DashboardView(), true
	})
	if !ok {
		return fmt.Errorf("%w: back from %s", ErrInvalidTransition, from)
	}
	return nil
}

// onSession re-reads the store instead of trusting the event payload:
// events from concurrent Set and Clear calls may arrive out of order.
func (c *Controller) onSession(session.Event) {
	c.transition(c.gate)
}

// gate forces Login when no credential is held and leaves Login once one is.
func (c *Controller) gate(cur models.ViewState) (models.ViewState, bool) {
	_, present := c.store.Credential()
	switch {
	case !present:
		return models.LoginView(), true
	case cur.Kind == models.ViewLogin:
		return models.DashboardView(), true
	default:
		return cur, true
	}
}

// transition applies step to the current state under the lock, then
// delivers queued changes. It reports whether step accepted the event.
func (c *Controller) transition(step func(cur models.ViewState) (models.ViewState, bool)) bool {
	c.mu.Lock()
	prev := c.state
	next, ok := step(prev)
	if !ok || next == prev {
		c.mu.Unlock()
		return ok
	}
	c.state = next
	c.pending = append(c.pending, change{prev: prev, next: next})
	c.logger.Debug("view changed", zap.Stringer("from", prev), zap.Stringer("to", next))

	if c.draining {
		c.mu.Unlock()
		return true
	}
	c.draining = true
	for len(c.pending) > 0 {
		batch := c.pending
		c.pending = nil
		listeners := c.snapshotListeners()
		c.mu.Unlock()

		for _, ch := range batch {
			for _, l := range listeners {
				l(ch.prev, ch.next)
			}
		}

		c.mu.Lock()
	}
	c.draining = false
	c.mu.Unlock()
	return true
}

func (c *Controller) snapshotListeners() []Listener {
	ids := make([]int, 0, len(c.listeners))
	for id := range c.listeners {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	out := make([]Listener, 0, len(ids))
	for _, id := range ids {
		out = append(out, c.listeners[id])
	}
	return out
}
