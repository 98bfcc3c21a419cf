package reputation

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/threatlens/internal/artifact"
	"github.com/example/threatlens/internal/detector"
)

func openStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "db", "reputation.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestAddAndLookupCanonicalizes(t *testing.T) {
	s := openStore(t)
	require.NoError(t, s.Add(Entry{Kind: IndicatorURL, Value: "HTTP://Evil.Example.test:80/login#x", Category: "Phishing"}))

	e, err := s.Lookup(IndicatorURL, "http://evil.example.test/login")
	require.NoError(t, err)
	assert.Equal(t, "phishing", e.Category)
	assert.Equal(t, DefaultConfidence, e.Confidence)
	assert.False(t, e.AddedAt.IsZero())
}

func TestLookupMissing(t *testing.T) {
	s := openStore(t)
	_, err := s.Lookup(IndicatorHash, "abc")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestAddRejectsIncompleteEntries(t *testing.T) {
	s := openStore(t)
	assert.Error(t, s.Add(Entry{Kind: IndicatorHost, Value: "", Category: "malware"}))
	assert.Error(t, s.Add(Entry{Kind: IndicatorHost, Value: "x.test", Category: " "}))
	assert.Error(t, s.Add(Entry{Kind: "ip", Value: "10.0.0.1", Category: "malware"}))
}

func TestMatchWalksParentDomains(t *testing.T) {
	s := openStore(t)
	require.NoError(t, s.Add(Entry{Kind: IndicatorHost, Value: "bad.example.test", Category: "malware_download"}))

	a, err := artifact.NewURL("https://cdn.files.bad.example.test/payload.exe")
	require.NoError(t, err)
	e, err := s.Match(a)
	require.NoError(t, err)
	assert.Equal(t, "malware_download", e.Category)

	other, err := artifact.NewURL("https://example.test/")
	require.NoError(t, err)
	_, err = s.Match(other)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMatchByPayloadHash(t *testing.T) {
	s := openStore(t)
	a, err := artifact.NewFile("dropper.bin", []byte("MZ payload"), "")
	require.NoError(t, err)
	require.NoError(t, s.Add(Entry{Kind: IndicatorHash, Value: strings.ToUpper(a.SHA256()), Category: "malware"}))

	e, err := s.Match(a)
	require.NoError(t, err)
	assert.Equal(t, "malware", e.Category)
}

func TestImportCSV(t *testing.T) {
	s := openStore(t)
	data := `kind,value,category,source,confidence
# feed export
url,http://phish.example.test/login,phishing,openphish,0.9
domain,scam.example.test,scam
sha256,ABCDEF,malware,,
`
	n, err := s.Import(strings.NewReader(data))
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	counts, err := s.Count()
	require.NoError(t, err)
	assert.Equal(t, 1, counts[IndicatorURL])
	assert.Equal(t, 1, counts[IndicatorHost])
	assert.Equal(t, 1, counts[IndicatorHash])

	e, err := s.Lookup(IndicatorURL, "phish.example.test/login")
	require.NoError(t, err)
	assert.Equal(t, 0.9, e.Confidence)
	assert.Equal(t, "openphish", e.Source)
}

func TestImportRejectsBadRowsAtomically(t *testing.T) {
	s := openStore(t)
	_, err := s.Import(strings.NewReader("url,http://a.test,phishing\nip,10.0.0.1,malware\n"))
	require.Error(t, err)

	counts, err := s.Count()
	require.NoError(t, err)
	assert.Equal(t, 0, counts[IndicatorURL])
}

func TestDetectorHitAndMiss(t *testing.T) {
	s := openStore(t)
	require.NoError(t, s.Add(Entry{Kind: IndicatorURL, Value: "http://phish.example.test/login", Category: "phishing"}))
	d := NewDetector(s)

	hit, err := artifact.NewURL("phish.example.test/login")
	require.NoError(t, err)
	res := d.Detect(context.Background(), detector.Target{Artifact: hit})
	require.Equal(t, detector.StatusOK, res.Status)
	assert.True(t, *res.Signal.IsThreat)
	assert.Equal(t, []string{"phishing"}, res.Signal.Categories)
	assert.NotEmpty(t, res.Raw)

	miss, err := artifact.NewURL("https://fine.example.test/")
	require.NoError(t, err)
	res = d.Detect(context.Background(), detector.Target{Artifact: miss})
	require.Equal(t, detector.StatusOK, res.Status)
	assert.False(t, *res.Signal.IsThreat)
	assert.Equal(t, MissConfidence, res.Signal.Confidence)
}

func TestDetectorWithoutStoreIsSkipped(t *testing.T) {
	a, err := artifact.NewURL("https://x.test")
	require.NoError(t, err)
	res := NewDetector(nil).Detect(context.Background(), detector.Target{Artifact: a})
	assert.Equal(t, detector.StatusSkipped, res.Status)
}
