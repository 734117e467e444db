// Package runctx holds state scoped to a run id that must outlive any one
// connection: the capability provider handle (a browser) and variables.
//
// The gateway's connection sessions come and go; a Store lives for the
// whole process so an operator can resume a run after a reconnect.
package runctx

import (
	"context"
	"errors"
	"io"
	"sort"
	"sync"

	"go.uber.org/zap"
)

// Run is the state of one run id.
type Run struct {
	ID string

	mu     sync.Mutex
	handle io.Closer
	vars   VariableStore
}

// Handle returns the provider handle, nil if none was set.
func (r *Run) Handle() io.Closer {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.handle
}

// SetHandle installs h, closing any previous handle first.
func (r *Run) SetHandle(h io.Closer) error {
	r.mu.Lock()
	old := r.handle
	r.handle = h
	r.mu.Unlock()

	if old != nil && old != h {
		return old.Close()
	}
	return nil
}

// CloseHandle closes and clears the handle.
func (r *Run) CloseHandle() error {
	r.mu.Lock()
	h := r.handle
	r.handle = nil
	r.mu.Unlock()

	if h != nil {
		return h.Close()
	}
	return nil
}

func (r *Run) SetVariable(ctx context.Context, name string, value any) error {
	return r.vars.Set(ctx, r.ID, name, value)
}

func (r *Run) Variable(ctx context.Context, name string) (any, error) {
	return r.vars.Get(ctx, r.ID, name)
}

func (r *Run) DeleteVariable(ctx context.Context, name string) error {
	return r.vars.Delete(ctx, r.ID, name)
}

// Store maps run ids to runs. Safe for concurrent use.
type Store struct {
	mu     sync.RWMutex
	runs   map[string]*Run
	vars   VariableStore
	logger *zap.Logger
}

// NewStore creates a store. A nil vars selects MemoryVariables.
func NewStore(vars VariableStore, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	if vars == nil {
		vars = NewMemoryVariables()
	}
	return &Store{
		runs:   make(map[string]*Run),
		vars:   vars,
		logger: logger.With(zap.String("component", "runctx")),
	}
}

// Get returns the run for id, creating it on first use.
func (s *Store) Get(id string) *Run {
	s.mu.RLock()
	r, ok := s.runs[id]
	s.mu.RUnlock()
	if ok {
		return r
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if r, ok := s.runs[id]; ok {
		return r
	}
	r = &Run{ID: id, vars: s.vars}
	s.runs[id] = r
	s.logger.Debug("run created", zap.String("run_id", id))
	return r
}

// Lookup returns the run for id without creating it.
func (s *Store) Lookup(id string) (*Run, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.runs[id]
	return r, ok
}

// IDs returns known run ids, sorted.
func (s *Store) IDs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.runs))
	for id := range s.runs {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Stop tears a run down: closes its handle, clears its variables and
// forgets it.
func (s *Store) Stop(ctx context.Context, id string) error {
	s.mu.Lock()
	r, ok := s.runs[id]
	delete(s.runs, id)
	s.mu.Unlock()

	if !ok {
		return nil
	}
	err := errors.Join(r.CloseHandle(), s.vars.Clear(ctx, id))
	s.logger.Info("run stopped", zap.String("run_id", id), zap.Error(err))
	return err
}

// Close closes every run handle. Variables are kept so a restarted agent
// backed by redis can resume.
func (s *Store) Close() error {
	s.mu.Lock()
	runs := s.runs
	s.runs = make(map[string]*Run)
	s.mu.Unlock()

	var errs []error
	for _, r := range runs {
		if err := r.CloseHandle(); err != nil {
			s.logger.Warn("close run handle", zap.String("run_id", r.ID), zap.Error(err))
			errs = append(errs, err)
		}
	}
	return errors.Join(append(errs, s.vars.Close())...)
}
