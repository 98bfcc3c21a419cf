package subprocess

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/example/threatlens/internal/artifact"
	"github.com/example/threatlens/internal/detector"
	"github.com/example/threatlens/internal/procexec"
)

const CodecName = "codec"

const (
	codecConfidence = 0.7
	tagConfidence   = 0.6
	bothConfidence  = 0.8
	cleanConfidence = 0.7
)

// SuspiciousCodecs are lossless or niche codecs that are rarely produced by consumer
// tooling and are a common carrier for hidden payloads.
var SuspiciousCodecs = []string{
	"MJLS", "Lagarith", "FFV1", "HuffYUV", "CamStudio", "LOCO",
	"Monkey's Audio", "TTA", "WavPack", "ALAC",
	"Custom", "Modified", "Experimental",
}

var mediaExtensions = map[string]struct{}{
	".mp3": {}, ".wav": {}, ".flac": {}, ".ogg": {}, ".m4a": {}, ".aac": {}, ".wma": {}, ".ape": {}, ".wv": {}, ".tta": {},
	".mp4": {}, ".avi": {}, ".mkv": {}, ".mov": {}, ".webm": {}, ".flv": {}, ".m4v": {}, ".3gp": {},
}

var tagKeywords = []string{"secret", "hidden", "password", "stego", "confidential"}

// Codec lists audio and video streams with ffprobe and flags uncommon codecs.
type Codec struct {
	binary string
	runner procexec.Runner
}

// NewCodec returns the detector. An empty binary means "ffprobe" on PATH.
func NewCodec(binary string, runner procexec.Runner) *Codec {
	if binary == "" {
		binary = "ffprobe"
	}
	if runner == nil {
		runner = procexec.NewRunner()
	}
	return &Codec{binary: binary, runner: runner}
}

func (d *Codec) Name() string                     { return CodecName }
func (d *Codec) Tier() detector.Tier              { return detector.TierLocal }
func (d *Codec) Supports(kind artifact.Kind) bool { return kind == artifact.KindFile }

// CodecReport is the audit payload.
type CodecReport struct {
	Format     string   `json:"format,omitempty"`
	Codecs     []string `json:"codecs"`
	Suspicious []string `json:"suspiciousCodecs,omitempty"`
	Tags       []string `json:"suspiciousTags,omitempty"`
}

type ffprobeOutput struct {
	Streams []struct {
		CodecName     string `json:"codec_name"`
		CodecLongName string `json:"codec_long_name"`
		CodecType     string `json:"codec_type"`
	} `json:"streams"`
	Format struct {
		FormatName string            `json:"format_name"`
		Tags       map[string]string `json:"tags"`
	} `json:"format"`
}

func (d *Codec) Detect(ctx context.Context, target detector.Target) detector.Result {
	if _, ok := mediaExtensions[target.Artifact.Extension()]; !ok {
		return detector.Skipped(CodecName, fmt.Sprintf("extension %q is not an audio or video format", target.Artifact.Extension()))
	}
	if _, err := d.runner.LookPath(d.binary); err != nil {
		return detector.Skipped(CodecName, err.Error())
	}

	path, err := target.StagedPath(ctx)
	if err != nil {
		return detector.Failed(CodecName, fmt.Errorf("stage artifact: %w", err))
	}

	out, err := d.runner.Run(ctx, procexec.Command{
		Binary: d.binary,
		Args:   []string{"-v", "quiet", "-show_streams", "-show_format", "-print_format", "json", path},
	})
	if err != nil {
		return detector.Failed(CodecName, err)
	}

	report, err := ParseStreamListing(out.Stdout)
	if err != nil {
		return detector.Failed(CodecName, err).WithRaw(outputRaw(out))
	}

	switch {
	case len(report.Suspicious) > 0 && len(report.Tags) > 0:
		return detector.OK(CodecName, detector.Threat(bothConfidence, "uncommon_codec", "suspicious_metadata"), nil).WithRaw(report)
	case len(report.Suspicious) > 0:
		return detector.OK(CodecName, detector.Threat(codecConfidence, "uncommon_codec"), nil).WithRaw(report)
	case len(report.Tags) > 0:
		return detector.OK(CodecName, detector.Threat(tagConfidence, "suspicious_metadata"), nil).WithRaw(report)
	default:
		return detector.OK(CodecName, detector.Clean(cleanConfidence), nil).WithRaw(report)
	}
}

// ParseStreamListing reads ffprobe's JSON listing.
func ParseStreamListing(stdout []byte) (CodecReport, error) {
	var listing ffprobeOutput
	if err := json.Unmarshal(stdout, &listing); err != nil {
		return CodecReport{}, fmt.Errorf("ffprobe output is not JSON: %w", err)
	}
	if len(listing.Streams) == 0 {
		return CodecReport{}, fmt.Errorf("ffprobe found no streams")
	}

	report := CodecReport{Format: listing.Format.FormatName}
	for _, s := range listing.Streams {
		report.Codecs = append(report.Codecs, s.CodecName)
		if suspiciousCodec(s.CodecName, s.CodecLongName) {
			report.Suspicious = append(report.Suspicious, s.CodecName)
		}
	}

	for key, value := range listing.Format.Tags {
		lowered := strings.ToLower(value)
		for _, kw := range tagKeywords {
			if strings.Contains(lowered, kw) {
				report.Tags = append(report.Tags, key)
				break
			}
		}
	}
	sort.Strings(report.Tags)
	return report, nil
}

func suspiciousCodec(name, longName string) bool {
	name, longName = strings.ToUpper(name), strings.ToUpper(longName)
	for _, s := range SuspiciousCodecs {
		s = strings.ToUpper(s)
		if strings.Contains(name, s) || strings.Contains(longName, s) {
			return true
		}
	}
	return false
}
