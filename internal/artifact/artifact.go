// Package artifact models the thing submitted for a scan: a URL, a file, or an image.
package artifact

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/url"
	"path/filepath"
	"strings"
)

// ErrInvalidArtifact is returned when an artifact cannot be constructed from the given input.
var ErrInvalidArtifact = errors.New("invalid artifact")

// Kind identifies what an artifact is.
type Kind string

const (
	KindURL   Kind = "url"
	KindFile  Kind = "file"
	KindImage Kind = "image"
)

// ParseKind resolves a user supplied kind name.
func ParseKind(value string) (Kind, error) {
	switch Kind(strings.ToLower(strings.TrimSpace(value))) {
	case KindURL:
		return KindURL, nil
	case KindFile:
		return KindFile, nil
	case KindImage:
		return KindImage, nil
	default:
		return "", fmt.Errorf("%w: unknown kind %q", ErrInvalidArtifact, value)
	}
}

// Artifact is immutable once constructed. Payload bytes are never handed out directly.
type Artifact struct {
	kind       Kind
	identifier string
	payload    []byte
	mimeHint   string
	digest     string
}

// NewURL builds a URL artifact. The identifier must parse as an absolute or host-only URL.
func NewURL(raw string) (Artifact, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return Artifact{}, fmt.Errorf("%w: url is empty", ErrInvalidArtifact)
	}
	if _, err := url.Parse(NormalizeURL(trimmed)); err != nil {
		return Artifact{}, fmt.Errorf("%w: %v", ErrInvalidArtifact, err)
	}
	return Artifact{kind: KindURL, identifier: trimmed}, nil
}

// NewFile builds a file artifact. The payload is copied.
func NewFile(name string, payload []byte, mimeHint string) (Artifact, error) {
	return newBinary(KindFile, name, payload, mimeHint)
}

// NewImage builds an image artifact. The payload is copied.
func NewImage(name string, payload []byte, mimeHint string) (Artifact, error) {
	return newBinary(KindImage, name, payload, mimeHint)
}

func newBinary(kind Kind, name string, payload []byte, mimeHint string) (Artifact, error) {
	if strings.TrimSpace(name) == "" {
		return Artifact{}, fmt.Errorf("%w: %s artifact needs a name", ErrInvalidArtifact, kind)
	}
	if len(payload) == 0 {
		return Artifact{}, fmt.Errorf("%w: %s artifact has no payload", ErrInvalidArtifact, kind)
	}

	owned := make([]byte, len(payload))
	copy(owned, payload)
	sum := sha256.Sum256(owned)

	return Artifact{
		kind:       kind,
		identifier: filepath.Base(name),
		payload:    owned,
		mimeHint:   strings.TrimSpace(mimeHint),
		digest:     hex.EncodeToString(sum[:]),
	}, nil
}

// Validate reports whether the artifact satisfies its kind's invariants.
// A zero Artifact or one built outside the constructors fails here.
func (a Artifact) Validate() error {
	switch a.kind {
	case KindURL:
		if a.identifier == "" {
			return fmt.Errorf("%w: url is empty", ErrInvalidArtifact)
		}
		if len(a.payload) != 0 {
			return fmt.Errorf("%w: url artifact must not carry a payload", ErrInvalidArtifact)
		}
	case KindFile, KindImage:
		if a.identifier == "" {
			return fmt.Errorf("%w: %s artifact needs a name", ErrInvalidArtifact, a.kind)
		}
		if len(a.payload) == 0 {
			return fmt.Errorf("%w: %s artifact has no payload", ErrInvalidArtifact, a.kind)
		}
	default:
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidArtifact, a.kind)
	}
	return nil
}

func (a Artifact) Kind() Kind         { return a.kind }
func (a Artifact) Identifier() string { return a.identifier }
func (a Artifact) MIMEHint() string   { return a.mimeHint }
func (a Artifact) Size() int          { return len(a.payload) }

// HasPayload reports whether the artifact carries bytes.
func (a Artifact) HasPayload() bool { return len(a.payload) > 0 }

// Payload returns a copy of the artifact bytes.
func (a Artifact) Payload() []byte {
	if len(a.payload) == 0 {
		return nil
	}
	out := make([]byte, len(a.payload))
	copy(out, a.payload)
	return out
}

// Reader streams the payload without copying it.
func (a Artifact) Reader() io.Reader {
	return bytes.NewReader(a.payload)
}

// Head returns a copy of at most n leading payload bytes.
func (a Artifact) Head(n int) []byte {
	if n > len(a.payload) {
		n = len(a.payload)
	}
	out := make([]byte, n)
	copy(out, a.payload[:n])
	return out
}

// SHA256 returns the hex digest of the payload, or "" for URL artifacts.
func (a Artifact) SHA256() string { return a.digest }

// Extension returns the lower-cased file extension of the identifier, including the dot.
func (a Artifact) Extension() string {
	if a.kind == KindURL {
		return ""
	}
	return strings.ToLower(filepath.Ext(a.identifier))
}

// String is safe for logs; it never includes payload bytes.
func (a Artifact) String() string {
	if a.kind == KindURL {
		return fmt.Sprintf("url:%s", a.identifier)
	}
	return fmt.Sprintf("%s:%s (%d bytes)", a.kind, a.identifier, len(a.payload))
}
