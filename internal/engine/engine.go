// Package engine manages the set of live calls. It hands out per-call
// [session.Session] instances bound to the current configuration snapshot
// and tracks them until teardown.
//
// This package lives under internal/ because it encapsulates
// application-private wiring and is not intended to be imported by external
// code.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/atoroc/res-speech-gdfe/internal/config"
	"github.com/atoroc/res-speech-gdfe/internal/observe"
	"github.com/atoroc/res-speech-gdfe/internal/session"
	"github.com/atoroc/res-speech-gdfe/pkg/dialogflow"
)

// Engine creates and tracks live call sessions. All exported methods are
// safe for concurrent use.
type Engine struct {
	store   *config.Store
	factory dialogflow.Factory
	metrics *observe.Metrics

	mu       sync.Mutex
	sessions map[string]*session.Session
}

// New creates an Engine. Each call gets a config snapshot from store at
// creation time; config reloads only affect calls created afterwards.
func New(store *config.Store, factory dialogflow.Factory, metrics *observe.Metrics) (*Engine, error) {
	if store == nil {
		return nil, fmt.Errorf("engine: config store must not be nil")
	}
	if factory == nil {
		return nil, fmt.Errorf("engine: backend factory must not be nil")
	}
	if metrics == nil {
		metrics = observe.DefaultMetrics()
	}
	return &Engine{
		store:    store,
		factory:  factory,
		metrics:  metrics,
		sessions: make(map[string]*session.Session),
	}, nil
}

// Create starts a new call session. An empty sessionID gets a generated one.
func (e *Engine) Create(sessionID string) (*session.Session, error) {
	if sessionID == "" {
		sessionID = uuid.NewString()
	}

	e.mu.Lock()
	if _, exists := e.sessions[sessionID]; exists {
		e.mu.Unlock()
		return nil, fmt.Errorf("engine: session %q already exists", sessionID)
	}
	e.mu.Unlock()

	s, err := session.New(session.Options{
		SessionID: sessionID,
		Config:    e.store.Current(),
		Factory:   e.factory,
		Metrics:   e.metrics,
	})
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	if _, exists := e.sessions[sessionID]; exists {
		e.mu.Unlock()
		_ = s.Destroy()
		return nil, fmt.Errorf("engine: session %q already exists", sessionID)
	}
	e.sessions[sessionID] = s
	e.mu.Unlock()

	e.metrics.ActiveCalls.Add(context.Background(), 1)
	slog.Info("call created", "session_id", sessionID)
	return s, nil
}

// Get returns a live session by ID.
func (e *Engine) Get(sessionID string) (*session.Session, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	s, ok := e.sessions[sessionID]
	return s, ok
}

// Destroy tears down one call and removes it from the registry.
func (e *Engine) Destroy(sessionID string) error {
	e.mu.Lock()
	s, ok := e.sessions[sessionID]
	delete(e.sessions, sessionID)
	e.mu.Unlock()

	if !ok {
		return fmt.Errorf("engine: session %q not found", sessionID)
	}

	err := s.Destroy()
	e.metrics.ActiveCalls.Add(context.Background(), -1)
	slog.Info("call destroyed", "session_id", sessionID)
	return err
}

// ActiveCount returns the number of live calls.
func (e *Engine) ActiveCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.sessions)
}

// Shutdown destroys every live call. Used at daemon teardown.
func (e *Engine) Shutdown() {
	e.mu.Lock()
	ids := make([]string, 0, len(e.sessions))
	for id := range e.sessions {
		ids = append(ids, id)
	}
	e.mu.Unlock()

	for _, id := range ids {
		if err := e.Destroy(id); err != nil {
			slog.Warn("engine: destroy during shutdown", "session_id", id, "err", err)
		}
	}
}
