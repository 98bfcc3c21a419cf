// Package staging hands out short-lived filesystem copies of artifact payloads for
// detectors that need a path, and guarantees those copies are removed.
package staging

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/example/threatlens/internal/artifact"
	"github.com/example/threatlens/internal/logging"
)

// filePrefix marks files owned by the manager; Sweep only touches these.
const filePrefix = "tl-"

// ErrNoPayload is returned when staging is requested for an artifact without bytes.
var ErrNoPayload = errors.New("artifact has no payload to stage")

// Manager allocates staged copies under one directory.
type Manager struct {
	dir    string
	logger zerolog.Logger
}

// NewManager creates the staging directory if needed. An empty dir uses the OS temp dir.
func NewManager(dir string, logger zerolog.Logger) (*Manager, error) {
	if dir == "" {
		dir = filepath.Join(os.TempDir(), "threatlens-staging")
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("create staging dir: %w", err)
	}
	return &Manager{
		dir:    dir,
		logger: logging.Component(logger, "staging"),
	}, nil
}

// Dir returns the staging directory.
func (m *Manager) Dir() string { return m.dir }

// Resource is one staged copy. Release is idempotent.
type Resource struct {
	path    string
	once    sync.Once
	err     error
	logger  zerolog.Logger
	release func(string) error
}

// Path returns the staged file location.
func (r *Resource) Path() string { return r.path }

// Release deletes the staged copy.
func (r *Resource) Release() error {
	r.once.Do(func() {
		err := r.release(r.path)
		if err != nil && !errors.Is(err, os.ErrNotExist) {
			r.err = fmt.Errorf("remove staged file: %w", err)
			r.logger.Warn().Err(err).Str("path", r.path).Msg("failed to remove staged file")
		}
	})
	return r.err
}

// Acquire writes the payload once to a uniquely named file. The name is derived from the
// content hash plus a random suffix, so concurrent scans of the same bytes never share a file.
func (m *Manager) Acquire(ctx context.Context, a artifact.Artifact) (*Resource, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !a.HasPayload() {
		return nil, ErrNoPayload
	}

	digest := a.SHA256()
	if len(digest) > 16 {
		digest = digest[:16]
	}
	name := fmt.Sprintf("%s%s-%s%s", filePrefix, digest, uuid.NewString(), safeExt(a.Extension()))
	path := filepath.Join(m.dir, name)

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		return nil, fmt.Errorf("create staged file: %w", err)
	}
	if _, err := f.ReadFrom(a.Reader()); err != nil {
		f.Close()
		os.Remove(path)
		return nil, fmt.Errorf("write staged file: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(path)
		return nil, fmt.Errorf("close staged file: %w", err)
	}

	m.logger.Debug().Str("path", path).Int("bytes", a.Size()).Msg("staged artifact")
	return &Resource{path: path, logger: m.logger, release: os.Remove}, nil
}

// With stages the artifact, runs fn with the path and releases the copy on every exit path.
func (m *Manager) With(ctx context.Context, a artifact.Artifact, fn func(path string) error) (err error) {
	res, err := m.Acquire(ctx, a)
	if err != nil {
		return err
	}
	defer func() {
		if relErr := res.Release(); relErr != nil && err == nil {
			err = relErr
		}
	}()
	return fn(res.Path())
}

// Sweep removes staged files older than maxAge, left behind by a crashed process.
// It returns the number of files removed.
func (m *Manager) Sweep(maxAge time.Duration) (int, error) {
	entries, err := os.ReadDir(m.dir)
	if err != nil {
		return 0, fmt.Errorf("read staging dir: %w", err)
	}

	cutoff := time.Now().Add(-maxAge)
	removed := 0
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasPrefix(entry.Name(), filePrefix) {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if info.ModTime().After(cutoff) {
			continue
		}
		if err := os.Remove(filepath.Join(m.dir, entry.Name())); err == nil {
			removed++
		}
	}

	if removed > 0 {
		m.logger.Info().Int("removed", removed).Msg("swept stale staged files")
	}
	return removed, nil
}

// safeExt keeps short alphanumeric extensions so tools that sniff by suffix still work.
func safeExt(ext string) string {
	if len(ext) < 2 || len(ext) > 8 {
		return ""
	}
	for _, r := range ext[1:] {
		if !(r >= 'a' && r <= 'z' || r >= '0' && r <= '9') {
			return ""
		}
	}
	return ext
}
