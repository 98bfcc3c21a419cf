package heuristic

import (
	"bytes"
	"context"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"math"

	"github.com/example/threatlens/internal/artifact"
	"github.com/example/threatlens/internal/detector"
)

const LSBName = "lsb"

const (
	lsbAnomalyWeight    = 0.4
	lsbChiSquareWeight  = 0.4
	lsbTransitionWeight = 0.2

	// lossyPenalty scales the score for formats whose compression already scrambles LSBs.
	lossyPenalty = 0.6

	minPixels = 64
	maxPixels = 40_000_000
)

// LSBStats are the per-image statistics behind an LSB score.
type LSBStats struct {
	Format          string     `json:"format"`
	Width           int        `json:"width"`
	Height          int        `json:"height"`
	Frequencies     [3]float64 `json:"lsbFrequencies"`
	MaxAnomaly      float64    `json:"anomaly"`
	ChiSquareAvg    float64    `json:"chiSquareAvg"`
	TransitionRatio float64    `json:"transitionRatio"`
	Score           float64    `json:"score"`
	Lossy           bool       `json:"lossy"`
}

// LSB looks for least-significant-bit embedding in raster images.
type LSB struct{}

// NewLSB returns the detector.
func NewLSB() *LSB { return &LSB{} }

func (d *LSB) Name() string                     { return LSBName }
func (d *LSB) Tier() detector.Tier              { return detector.TierLocal }
func (d *LSB) Supports(kind artifact.Kind) bool { return kind == artifact.KindImage }

func (d *LSB) Detect(ctx context.Context, target detector.Target) detector.Result {
	payload := target.Artifact.Payload()

	cfg, format, err := image.DecodeConfig(bytes.NewReader(payload))
	if err != nil {
		return detector.Skipped(LSBName, fmt.Sprintf("unsupported image format: %v", err))
	}
	if pixels := cfg.Width * cfg.Height; pixels < minPixels || pixels > maxPixels {
		return detector.Skipped(LSBName, fmt.Sprintf("image size %dx%d outside analysable range", cfg.Width, cfg.Height))
	}

	img, _, err := image.Decode(bytes.NewReader(payload))
	if err != nil {
		return detector.Failed(LSBName, fmt.Errorf("decode %s: %w", format, err))
	}
	if err := ctx.Err(); err != nil {
		return detector.Failed(LSBName, err)
	}

	stats := AnalyzeLSB(img)
	stats.Format = format
	if format == "jpeg" {
		stats.Lossy = true
		stats.Score *= lossyPenalty
	}

	confidence := math.Min(maxHeuristicScore, stats.Score)
	if stats.Score > 0.5 {
		return detector.OK(LSBName, detector.Threat(confidence, "steganography"), nil).WithRaw(stats)
	}
	return detector.OK(LSBName, detector.Clean(1-confidence), nil).WithRaw(stats)
}

// AnalyzeLSB combines LSB frequency skew, a chi-square test against an even bit split and
// the rate of LSB flips between horizontal neighbours into one score in [0, ~1.2].
func AnalyzeLSB(img image.Image) LSBStats {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	n := float64(w * h)

	var ones [3]float64
	transitions := 0.0
	for y := b.Min.Y; y < b.Max.Y; y++ {
		var prev [3]uint32
		for x := b.Min.X; x < b.Max.X; x++ {
			r, g, bl, _ := img.At(x, y).RGBA()
			bits := [3]uint32{(r >> 8) & 1, (g >> 8) & 1, (bl >> 8) & 1}
			for c := 0; c < 3; c++ {
				ones[c] += float64(bits[c])
				if x > b.Min.X && bits[c] != prev[c] {
					transitions++
				}
			}
			prev = bits
		}
	}

	stats := LSBStats{Width: w, Height: h}
	expected := n / 2
	chiSum := 0.0
	for c := 0; c < 3; c++ {
		stats.Frequencies[c] = ones[c] / n
		stats.MaxAnomaly = math.Max(stats.MaxAnomaly, math.Abs(stats.Frequencies[c]-0.5))
		zeros := n - ones[c]
		chiSum += (zeros-expected)*(zeros-expected)/expected + (ones[c]-expected)*(ones[c]-expected)/expected
	}
	stats.ChiSquareAvg = chiSum / 3
	stats.TransitionRatio = transitions / (n * 3)

	chiScore := math.Min(1, stats.ChiSquareAvg/20)
	transitionScore := math.Max(0, 0.6-stats.TransitionRatio) * 2
	stats.Score = stats.MaxAnomaly*lsbAnomalyWeight + chiScore*lsbChiSquareWeight + transitionScore*lsbTransitionWeight
	return stats
}
