package heuristic

import (
	"bytes"
	"compress/zlib"
	"context"
	"encoding/binary"
	"errors"
	"io"
	"math"
	"strings"

	"github.com/example/threatlens/internal/artifact"
	"github.com/example/threatlens/internal/detector"
)

const MetadataName = "metadata"

var metadataKeywords = []string{"secret", "hidden", "password", "stego", "confidential"}

const (
	keywordWeight      = 0.6
	extraKeywordWeight = 0.1
	appendedWeight     = 0.7

	// minAppended ignores the few padding bytes some encoders leave after the end marker.
	minAppended = 16

	maxTextChunk = 1 << 20
)

var errTruncated = errors.New("truncated image structure")

// MetadataReport is what the metadata detector found in one payload.
type MetadataReport struct {
	Format   string   `json:"format"`
	Keywords []string `json:"keywords,omitempty"`
	Appended int      `json:"appendedBytes,omitempty"`
	Texts    int      `json:"textFields"`
	Score    float64  `json:"score"`
}

// Metadata inspects embedded text fields and data appended after the image end marker.
type Metadata struct{}

// NewMetadata returns the detector.
func NewMetadata() *Metadata { return &Metadata{} }

func (d *Metadata) Name() string        { return MetadataName }
func (d *Metadata) Tier() detector.Tier { return detector.TierLocal }

func (d *Metadata) Supports(kind artifact.Kind) bool {
	return kind == artifact.KindImage || kind == artifact.KindFile
}

func (d *Metadata) Detect(ctx context.Context, target detector.Target) detector.Result {
	report, err := InspectMetadata(target.Artifact.Payload())
	if errors.Is(err, errUnknownFormat) {
		return detector.Skipped(MetadataName, "no metadata parser for this format")
	}
	if err != nil {
		return detector.Failed(MetadataName, err)
	}

	switch {
	case report.Score <= 0.5:
		return detector.OK(MetadataName, detector.Clean(1-report.Score), nil).WithRaw(report)
	case report.Appended >= minAppended:
		return detector.OK(MetadataName, detector.Threat(report.Score, "appended_data", "suspicious_metadata"), nil).WithRaw(report)
	default:
		return detector.OK(MetadataName, detector.Threat(report.Score, "suspicious_metadata"), nil).WithRaw(report)
	}
}

var errUnknownFormat = errors.New("unknown format")

// InspectMetadata parses PNG, JPEG and GIF containers.
func InspectMetadata(data []byte) (MetadataReport, error) {
	var (
		report MetadataReport
		texts  []string
		end    int
		err    error
	)
	switch {
	case bytes.HasPrefix(data, []byte("\x89PNG\r\n\x1a\n")):
		report.Format = "png"
		texts, end, err = walkPNG(data)
	case bytes.HasPrefix(data, []byte{0xFF, 0xD8}):
		report.Format = "jpeg"
		texts, end, err = walkJPEG(data)
	case bytes.HasPrefix(data, []byte("GIF87a")), bytes.HasPrefix(data, []byte("GIF89a")):
		report.Format = "gif"
		texts, end, err = walkGIF(data)
	default:
		return report, errUnknownFormat
	}
	if err != nil {
		return report, err
	}

	report.Texts = len(texts)
	joined := strings.ToLower(strings.Join(texts, "\n"))
	for _, kw := range metadataKeywords {
		if strings.Contains(joined, kw) {
			report.Keywords = append(report.Keywords, kw)
		}
	}
	if trailing := len(data) - end; trailing >= minAppended {
		report.Appended = trailing
	}

	score := 0.0
	if len(report.Keywords) > 0 {
		score += keywordWeight + extraKeywordWeight*float64(len(report.Keywords)-1)
	}
	if report.Appended > 0 {
		score += appendedWeight
	}
	report.Score = math.Min(maxHeuristicScore, score)
	return report, nil
}

// walkPNG returns text chunk contents and the offset just past IEND.
func walkPNG(data []byte) ([]string, int, error) {
	var texts []string
	off := 8
	for off+12 <= len(data) {
		length := int(binary.BigEndian.Uint32(data[off:]))
		kind := string(data[off+4 : off+8])
		next := off + 12 + length
		if length < 0 || next > len(data) {
			return texts, 0, errTruncated
		}
		body := data[off+8 : off+8+length]

		switch kind {
		case "tEXt":
			texts = append(texts, strings.ReplaceAll(string(body), "\x00", " "))
		case "zTXt":
			if i := bytes.IndexByte(body, 0); i >= 0 && i+2 <= len(body) {
				texts = append(texts, string(body[:i])+" "+inflate(body[i+2:]))
			}
		case "iTXt":
			texts = append(texts, itxt(body))
		case "IEND":
			return texts, next, nil
		}
		off = next
	}
	return texts, 0, errTruncated
}

func itxt(body []byte) string {
	parts := bytes.SplitN(body, []byte{0}, 2)
	if len(parts) < 2 || len(parts[1]) < 2 {
		return string(body)
	}
	keyword, rest := string(parts[0]), parts[1]
	compressed := rest[0] == 1
	rest = rest[2:]
	// language tag and translated keyword, each NUL terminated
	for i := 0; i < 2; i++ {
		j := bytes.IndexByte(rest, 0)
		if j < 0 {
			return keyword
		}
		rest = rest[j+1:]
	}
	if compressed {
		return keyword + " " + inflate(rest)
	}
	return keyword + " " + string(rest)
}

func inflate(data []byte) string {
	r, err := zlib.NewReader(bytes.NewReader(data))
	if err != nil {
		return ""
	}
	defer r.Close()
	out, _ := io.ReadAll(io.LimitReader(r, maxTextChunk))
	return string(out)
}

// walkJPEG returns COM and APPn segment text and the offset just past the final EOI.
func walkJPEG(data []byte) ([]string, int, error) {
	var texts []string
	off := 2
	for off+2 <= len(data) {
		if data[off] != 0xFF {
			return texts, 0, errTruncated
		}
		marker := data[off+1]
		if marker == 0xFF {
			off++
			continue
		}
		if marker == 0xD9 {
			return texts, off + 2, nil
		}
		if marker == 0x01 || (marker >= 0xD0 && marker <= 0xD7) {
			off += 2
			continue
		}
		if off+4 > len(data) {
			break
		}

		length := int(binary.BigEndian.Uint16(data[off+2:]))
		next := off + 2 + length
		if length < 2 || next > len(data) {
			return texts, 0, errTruncated
		}
		body := data[off+4 : next]
		if marker == 0xFE || (marker >= 0xE0 && marker <= 0xEF) {
			texts = append(texts, printable(body))
		}
		off = next

		if marker == 0xDA {
			off = skipEntropyCoded(data, off)
		}
	}
	return texts, 0, errTruncated
}

// skipEntropyCoded advances to the next marker that is not a stuffed byte or restart marker.
func skipEntropyCoded(data []byte, off int) int {
	for off+1 < len(data) {
		if data[off] == 0xFF {
			next := data[off+1]
			if next != 0x00 && !(next >= 0xD0 && next <= 0xD7) && next != 0xFF {
				return off
			}
		}
		off++
	}
	return len(data)
}

// walkGIF returns comment extension text and the offset just past the trailer.
func walkGIF(data []byte) ([]string, int, error) {
	var texts []string
	if len(data) < 13 {
		return nil, 0, errTruncated
	}
	off := 13
	if flags := data[10]; flags&0x80 != 0 {
		off += 3 << ((flags & 0x07) + 1)
	}

	for off < len(data) {
		switch data[off] {
		case 0x3B:
			return texts, off + 1, nil
		case 0x21:
			if off+2 > len(data) {
				return texts, 0, errTruncated
			}
			label := data[off+1]
			blocks, next, err := subBlocks(data, off+2)
			if err != nil {
				return texts, 0, err
			}
			if label == 0xFE {
				texts = append(texts, printable(blocks))
			}
			off = next
		case 0x2C:
			if off+10 > len(data) {
				return texts, 0, errTruncated
			}
			flags := data[off+9]
			off += 10
			if flags&0x80 != 0 {
				off += 3 << ((flags & 0x07) + 1)
			}
			off++ // LZW minimum code size
			_, next, err := subBlocks(data, off)
			if err != nil {
				return texts, 0, err
			}
			off = next
		default:
			return texts, 0, errTruncated
		}
	}
	return texts, 0, errTruncated
}

func subBlocks(data []byte, off int) ([]byte, int, error) {
	var out []byte
	for {
		if off >= len(data) {
			return nil, 0, errTruncated
		}
		size := int(data[off])
		off++
		if size == 0 {
			return out, off, nil
		}
		if off+size > len(data) {
			return nil, 0, errTruncated
		}
		if len(out) < maxTextChunk {
			out = append(out, data[off:off+size]...)
		}
		off += size
	}
}

func printable(b []byte) string {
	var sb strings.Builder
	for _, c := range b {
		if c >= 0x20 && c < 0x7F {
			sb.WriteByte(c)
		} else {
			sb.WriteByte(' ')
		}
	}
	return sb.String()
}
