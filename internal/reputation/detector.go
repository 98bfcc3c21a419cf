package reputation

import (
	"context"
	"errors"

	"github.com/example/threatlens/internal/artifact"
	"github.com/example/threatlens/internal/detector"
)

// Name is the registry name of the local list detector.
const Name = "reputation"

// MissConfidence is the confidence of safety reported when no entry matches. A list
// only knows about bad indicators, so a miss is weak evidence.
const MissConfidence = 0.6

// Detector checks artifacts against a Store.
type Detector struct {
	store *Store
}

// NewDetector wraps a store.
func NewDetector(store *Store) *Detector {
	return &Detector{store: store}
}

func (d *Detector) Name() string        { return Name }
func (d *Detector) Tier() detector.Tier { return detector.TierReputation }

// Supports reports true for every kind: URLs match by URL and host, payloads by hash.
func (d *Detector) Supports(kind artifact.Kind) bool {
	return kind == artifact.KindURL || kind == artifact.KindFile || kind == artifact.KindImage
}

func (d *Detector) Detect(ctx context.Context, target detector.Target) detector.Result {
	if d.store == nil {
		return detector.Skipped(Name, "reputation database not configured")
	}
	if err := ctx.Err(); err != nil {
		return detector.Failed(Name, err)
	}

	entry, err := d.store.Match(target.Artifact)
	switch {
	case errors.Is(err, ErrNotFound):
		return detector.OK(Name, detector.Clean(MissConfidence), nil)
	case err != nil:
		return detector.Failed(Name, err)
	}

	return detector.OK(Name, detector.Threat(entry.Confidence, entry.Category), nil).WithRaw(entry)
}
