package detector

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
)

// ErrUnknownDetector is returned when a catalog has no factory for a requested name.
var ErrUnknownDetector = errors.New("unknown detector")

// Entry is one registered detector with its timeout bound.
type Entry struct {
	Detector Detector
	Timeout  time.Duration
}

// Registry is the ordered, read-only set of detectors an engine dispatches to.
// It is safe to share across concurrent scans.
type Registry struct {
	entries []Entry
}

// NewRegistry validates and freezes the entries. Entry order is the audit order of results.
func NewRegistry(entries ...Entry) (*Registry, error) {
	seen := map[string]struct{}{}
	frozen := make([]Entry, 0, len(entries))
	for i, e := range entries {
		if e.Detector == nil {
			return nil, fmt.Errorf("registry entry %d has no detector", i)
		}
		name := e.Detector.Name()
		if name == "" {
			return nil, fmt.Errorf("registry entry %d has an empty name", i)
		}
		if _, dup := seen[name]; dup {
			return nil, fmt.Errorf("detector %q registered twice", name)
		}
		seen[name] = struct{}{}
		if e.Timeout <= 0 {
			e.Timeout = DefaultTimeout(e.Detector.Tier())
		}
		frozen = append(frozen, e)
	}
	return &Registry{entries: frozen}, nil
}

// Len returns the number of registered detectors.
func (r *Registry) Len() int {
	if r == nil {
		return 0
	}
	return len(r.entries)
}

// Entries returns a copy of the registered entries in order.
func (r *Registry) Entries() []Entry {
	if r == nil {
		return nil
	}
	out := make([]Entry, len(r.entries))
	copy(out, r.entries)
	return out
}

// Names lists detector names in registry order.
func (r *Registry) Names() []string {
	var names []string
	for _, e := range r.Entries() {
		names = append(names, e.Detector.Name())
	}
	return names
}

// Factory builds a detector instance.
type Factory func() (Detector, error)

// Catalog maps detector names to constructors.
type Catalog map[string]Factory

// Spec selects one catalog detector and optionally overrides its timeout.
type Spec struct {
	Name    string
	Timeout time.Duration
}

// Build instantiates detectors in spec order, dropping duplicate names.
func (c Catalog) Build(specs []Spec) (*Registry, error) {
	var entries []Entry
	seen := map[string]struct{}{}
	for _, spec := range specs {
		factory, ok := c[spec.Name]
		if !ok {
			return nil, fmt.Errorf("%w: %s (available: %s)", ErrUnknownDetector, spec.Name, strings.Join(c.Names(), ", "))
		}
		if _, dup := seen[spec.Name]; dup {
			continue
		}
		seen[spec.Name] = struct{}{}

		det, err := factory()
		if err != nil {
			return nil, fmt.Errorf("build detector %s: %w", spec.Name, err)
		}
		entries = append(entries, Entry{Detector: det, Timeout: spec.Timeout})
	}
	return NewRegistry(entries...)
}

// Names lists the catalog's detector names in sorted order.
func (c Catalog) Names() []string {
	names := make([]string, 0, len(c))
	for name := range c {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
