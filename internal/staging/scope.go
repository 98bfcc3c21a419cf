package staging

import (
	"context"
	"errors"
	"sync"

	"github.com/example/threatlens/internal/artifact"
)

// Scope lazily stages one artifact for the duration of a single dispatch round.
// Every detector in the round shares the copy; Close removes it. A Scope must not
// be shared between scans.
type Scope struct {
	manager  *Manager
	artifact artifact.Artifact

	mu       sync.Mutex
	resource *Resource
	err      error
	closed   bool
}

// ErrScopeClosed is returned by Path after Close.
var ErrScopeClosed = errors.New("staging scope already closed")

// NewScope binds a scope to one artifact.
func (m *Manager) NewScope(a artifact.Artifact) *Scope {
	return &Scope{manager: m, artifact: a}
}

// Path stages the artifact on first use and returns the same path afterwards.
func (s *Scope) Path(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return "", ErrScopeClosed
	}
	if s.resource != nil {
		return s.resource.Path(), nil
	}
	if s.err != nil {
		return "", s.err
	}

	res, err := s.manager.Acquire(ctx, s.artifact)
	if err != nil {
		// A cancelled context is specific to the caller; let the next detector retry.
		if ctx.Err() == nil {
			s.err = err
		}
		return "", err
	}
	s.resource = res
	return res.Path(), nil
}

// Staged reports whether a copy currently exists.
func (s *Scope) Staged() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.resource != nil
}

// Close releases the staged copy, if any. It is safe to call more than once.
func (s *Scope) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.closed = true
	if s.resource == nil {
		return nil
	}
	err := s.resource.Release()
	s.resource = nil
	return err
}
