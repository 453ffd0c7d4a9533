// Package session holds the authentication credential and persists it
// through a pluggable key-value backend.
package session

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/chemdata-visualizer/client/internal/logging"
)

// DefaultKey is the key the credential is persisted under.
const DefaultKey = "token"

// ErrEmptyCredential is returned by Set for a blank credential.
var ErrEmptyCredential = errors.New("session: empty credential")

// Event is published after every change of the held credential.
type Event struct {
	Credential string
	Present    bool
}

// Store holds at most one credential. Subscribers are notified after every
// Load, Set and Clear, outside of the store's lock.
type Store struct {
	kv     KV
	key    string
	logger *zap.Logger

	mu   sync.RWMutex
	cred string

	subMu   sync.Mutex
	subs    map[int]func(Event)
	nextSub int
}

// NewStore creates a Store writing through kv under key (DefaultKey if empty).
func NewStore(kv KV, key string, logger *zap.Logger) *Store {
	if key == "" {
		key = DefaultKey
	}
	if kv == nil {
		kv = NewMemoryKV()
	}
	return &Store{
		kv:     kv,
		key:    key,
		logger: logging.OrNop(logger).Named("session"),
		subs:   make(map[int]func(Event)),
	}
}

// Load reads the persisted credential. It reports whether one is present.
// A backend failure leaves the session absent and is returned.
func (s *Store) Load(ctx context.Context) (bool, error) {
	val, err := s.kv.Get(ctx, s.key)
	var loadErr error
	switch {
	case errors.Is(err, ErrMiss):
		val = ""
	case err != nil:
		s.logger.Warn("failed to load credential", zap.Error(err))
		loadErr = fmt.Errorf("load credential: %w", err)
		val = ""
	}
	val = strings.TrimSpace(val)

	s.mu.Lock()
	s.cred = val
	s.mu.Unlock()

	s.logger.Debug("credential loaded", zap.Bool("present", val != ""))
	s.publish(Event{Credential: val, Present: val != ""})
	return val != "", loadErr
}

// Set holds cred and persists it, replacing any previous credential.
// The credential stays held when persisting fails.
func (s *Store) Set(ctx context.Context, cred string) error {
	cred = strings.TrimSpace(cred)
	if cred == "" {
		return ErrEmptyCredential
	}

	s.mu.Lock()
	s.cred = cred
	s.mu.Unlock()

	var persistErr error
	if err := s.kv.Set(ctx, s.key, cred); err != nil {
		s.logger.Error("failed to persist credential", zap.Error(err))
		persistErr = fmt.Errorf("persist credential: %w", err)
	}

	s.publish(Event{Credential: cred, Present: true})
	return persistErr
}

// Clear drops the held credential and removes the persisted one.
func (s *Store) Clear(ctx context.Context) error {
	s.mu.Lock()
	s.cred = ""
	s.mu.Unlock()

	var removeErr error
	if err := s.kv.Remove(ctx, s.key); err != nil {
		s.logger.Error("failed to remove persisted credential", zap.Error(err))
		removeErr = fmt.Errorf("remove credential: %w", err)
	}

	s.publish(Event{})
	return removeErr
}

// Credential returns the held credential.
func (s *Store) Credential() (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cred, s.cred != ""
}

// Subscribe registers fn for change events. The returned func unsubscribes.
func (s *Store) Subscribe(fn func(Event)) func() {
	s.subMu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = fn
	s.subMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.subMu.Lock()
			delete(s.subs, id)
			s.subMu.Unlock()
		})
	}
}

func (s *Store) publish(ev Event) {
	s.subMu.Lock()
	ids := make([]int, 0, len(s.subs))
	for id := range s.subs {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	fns := make([]func(Event), 0, len(ids))
	for _, id := range ids {
		fns = append(fns, s.subs[id])
	}
	s.subMu.Unlock()

	for _, fn := range fns {
		fn(ev)
	}
}
