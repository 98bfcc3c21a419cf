// Package reputation keeps a local known-bad list of URLs, hosts and file hashes in a
// bbolt database and exposes it as a detector.
package reputation

import (
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"go.etcd.io/bbolt"

	"github.com/example/threatlens/internal/artifact"
)

// ErrNotFound is returned by Lookup when no list entry matches.
var ErrNotFound = errors.New("reputation entry not found")

// IndicatorKind selects the bucket an indicator lives in.
type IndicatorKind string

const (
	IndicatorURL  IndicatorKind = "url"
	IndicatorHost IndicatorKind = "host"
	IndicatorHash IndicatorKind = "hash"
)

var buckets = map[IndicatorKind][]byte{
	IndicatorURL:  []byte("urls"),
	IndicatorHost: []byte("hosts"),
	IndicatorHash: []byte("hashes"),
}

// ParseIndicatorKind accepts url, host, hash and sha256.
func ParseIndicatorKind(value string) (IndicatorKind, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "url":
		return IndicatorURL, nil
	case "host", "domain":
		return IndicatorHost, nil
	case "hash", "sha256":
		return IndicatorHash, nil
	default:
		return "", fmt.Errorf("unknown indicator kind %q", value)
	}
}

// DefaultConfidence is stored for entries imported without one.
const DefaultConfidence = 0.95

// Entry is one known-bad indicator.
type Entry struct {
	Kind       IndicatorKind `json:"kind"`
	Value      string        `json:"value"`
	Category   string        `json:"category"`
	Confidence float64       `json:"confidence"`
	Source     string        `json:"source,omitempty"`
	AddedAt    time.Time     `json:"addedAt"`
}

// Store is a bbolt-backed indicator list. It is safe for concurrent use.
type Store struct {
	db *bbolt.DB
}

// Open opens or creates the database at path.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create reputation db dir: %w", err)
	}

	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open reputation db %s: %w", path, err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		for _, name := range buckets {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create reputation buckets: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.db.Path()
}

// Add stores or replaces one indicator.
func (s *Store) Add(e Entry) error {
	e, err := normalizeEntry(e)
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		return put(tx, e)
	})
}

// Lookup returns the entry for an exact, canonical indicator.
func (s *Store) Lookup(kind IndicatorKind, value string) (Entry, error) {
	bucket, ok := buckets[kind]
	if !ok {
		return Entry{}, fmt.Errorf("unknown indicator kind %q", kind)
	}
	key := canonical(kind, value)

	var entry Entry
	err := s.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket(bucket).Get([]byte(key))
		if data == nil {
			return ErrNotFound
		}
		return json.Unmarshal(data, &entry)
	})
	if err != nil {
		return Entry{}, err
	}
	return entry, nil
}

// Match finds the most specific entry for an artifact: the payload hash for files and
// images; for URLs the full URL, then the host and each parent domain.
func (s *Store) Match(a artifact.Artifact) (Entry, error) {
	if a.HasPayload() {
		return s.Lookup(IndicatorHash, a.SHA256())
	}

	if e, err := s.Lookup(IndicatorURL, a.Identifier()); err == nil || !errors.Is(err, ErrNotFound) {
		return e, err
	}

	host := artifact.Hostname(a.Identifier())
	for host != "" {
		e, err := s.Lookup(IndicatorHost, host)
		if err == nil || !errors.Is(err, ErrNotFound) {
			return e, err
		}
		dot := strings.IndexByte(host, '.')
		if dot < 0 || !strings.Contains(host[dot+1:], ".") {
			break
		}
		host = host[dot+1:]
	}
	return Entry{}, ErrNotFound
}

// Count returns the number of entries per kind.
func (s *Store) Count() (map[IndicatorKind]int, error) {
	counts := map[IndicatorKind]int{}
	err := s.db.View(func(tx *bbolt.Tx) error {
		for kind, name := range buckets {
			counts[kind] = tx.Bucket(name).Stats().KeyN
		}
		return nil
	})
	return counts, err
}

// Import reads CSV rows of kind,value,category[,source[,confidence]] in one transaction.
// Blank lines and rows starting with # are ignored. It returns the number of rows stored.
func (s *Store) Import(r io.Reader) (int, error) {
	reader := csv.NewReader(r)
	reader.Comment = '#'
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	var entries []Entry
	line := 0
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		line++
		if err != nil {
			return 0, fmt.Errorf("read reputation csv: %w", err)
		}
		if line == 1 && strings.EqualFold(strings.TrimSpace(record[0]), "kind") {
			continue
		}
		if len(record) < 3 {
			return 0, fmt.Errorf("reputation csv row %d: want at least 3 fields, got %d", line, len(record))
		}

		kind, err := ParseIndicatorKind(record[0])
		if err != nil {
			return 0, fmt.Errorf("reputation csv row %d: %w", line, err)
		}
		e := Entry{Kind: kind, Value: record[1], Category: record[2]}
		if len(record) > 3 {
			e.Source = strings.TrimSpace(record[3])
		}
		if len(record) > 4 && strings.TrimSpace(record[4]) != "" {
			conf, err := strconv.ParseFloat(strings.TrimSpace(record[4]), 64)
			if err != nil {
				return 0, fmt.Errorf("reputation csv row %d: confidence: %w", line, err)
			}
			e.Confidence = conf
		}
		if e, err = normalizeEntry(e); err != nil {
			return 0, fmt.Errorf("reputation csv row %d: %w", line, err)
		}
		entries = append(entries, e)
	}

	err := s.db.Update(func(tx *bbolt.Tx) error {
		for _, e := range entries {
			if err := put(tx, e); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return len(entries), nil
}

func put(tx *bbolt.Tx, e Entry) error {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal reputation entry: %w", err)
	}
	return tx.Bucket(buckets[e.Kind]).Put([]byte(e.Value), data)
}

func normalizeEntry(e Entry) (Entry, error) {
	if _, ok := buckets[e.Kind]; !ok {
		return Entry{}, fmt.Errorf("unknown indicator kind %q", e.Kind)
	}
	e.Value = canonical(e.Kind, e.Value)
	if e.Value == "" {
		return Entry{}, errors.New("indicator value is empty")
	}
	e.Category = strings.ToLower(strings.TrimSpace(e.Category))
	if e.Category == "" {
		return Entry{}, errors.New("indicator category is empty")
	}
	if e.Confidence <= 0 || e.Confidence > 1 {
		e.Confidence = DefaultConfidence
	}
	if e.AddedAt.IsZero() {
		e.AddedAt = time.Now().UTC()
	}
	return e, nil
}

func canonical(kind IndicatorKind, value string) string {
	value = strings.TrimSpace(value)
	switch kind {
	case IndicatorURL:
		return artifact.NormalizeURL(value)
	case IndicatorHost:
		return strings.TrimSuffix(strings.ToLower(value), ".")
	default:
		return strings.ToLower(value)
	}
}
