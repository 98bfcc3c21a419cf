package detector

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/example/threatlens/internal/artifact"
)

// Tier orders detector families for threat classification. Lower tiers win.
type Tier int

const (
	TierUnknown Tier = iota
	// TierReputation covers known-bad URL and hash list matches.
	TierReputation
	// TierRemote covers named categories reported by remote scanning APIs.
	TierRemote
	// TierLocal covers locally derived heuristics and subprocess tools.
	TierLocal
	// TierAI covers free-text categories produced by a generative model.
	TierAI
)

var tierNames = map[Tier]string{
	TierUnknown:    "unknown",
	TierReputation: "reputation",
	TierRemote:     "remote",
	TierLocal:      "local",
	TierAI:         "ai",
}

func (t Tier) String() string {
	if name, ok := tierNames[t]; ok {
		return name
	}
	return fmt.Sprintf("tier(%d)", int(t))
}

// MarshalText implements encoding.TextMarshaler.
func (t Tier) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (t *Tier) UnmarshalText(text []byte) error {
	value := strings.ToLower(string(text))
	for tier, name := range tierNames {
		if name == value {
			*t = tier
			return nil
		}
	}
	return fmt.Errorf("unknown tier %q", value)
}

// DefaultTimeout is the per-detector bound used when the registry entry sets none.
func DefaultTimeout(t Tier) time.Duration {
	switch t {
	case TierLocal:
		return 20 * time.Second
	default:
		return 8 * time.Second
	}
}

// ErrNoStaging is returned by Target.StagedPath when the scan was started without a staging area.
var ErrNoStaging = errors.New("no staging area available for this scan")

// Stager hands out a filesystem copy of the artifact being scanned.
type Stager interface {
	Path(ctx context.Context) (string, error)
}

// Target is what a detector receives for one scan.
type Target struct {
	Artifact artifact.Artifact
	Files    Stager
}

// StagedPath returns a filesystem copy of the artifact payload, valid until the dispatch round ends.
func (t Target) StagedPath(ctx context.Context) (string, error) {
	if t.Files == nil {
		return "", ErrNoStaging
	}
	return t.Files.Path(ctx)
}

// Detector is implemented by every analysis source.
//
// Detect must translate every internal fault into a Result (see Failed and Skipped);
// it never returns an error and must not panic.
type Detector interface {
	Name() string
	Supports(kind artifact.Kind) bool
	Tier() Tier
	Detect(ctx context.Context, target Target) Result
}

// Kinds is a small helper for implementing Supports.
type Kinds []artifact.Kind

// Has reports whether kind is in the set.
func (k Kinds) Has(kind artifact.Kind) bool {
	for _, candidate := range k {
		if candidate == kind {
			return true
		}
	}
	return false
}
