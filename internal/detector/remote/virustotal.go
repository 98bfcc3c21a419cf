package remote

import (
	"context"
	"encoding/base64"
	"errors"
	"math"
	"net/http"
	"sort"
	"strings"

	"github.com/example/threatlens/internal/artifact"
	"github.com/example/threatlens/internal/detector"
)

const (
	VirusTotalName    = "virustotal"
	virusTotalBaseURL = "https://www.virustotal.com/api/v3"
)

// VirusTotal looks up existing analyses by URL identifier or payload SHA-256.
type VirusTotal struct {
	apiKey  string
	baseURL string
	client  *http.Client
}

// NewVirusTotal builds the detector. An empty key makes every lookup skipped.
func NewVirusTotal(opts Options) *VirusTotal {
	return &VirusTotal{apiKey: opts.APIKey, baseURL: opts.baseURL(virusTotalBaseURL), client: opts.client()}
}

func (d *VirusTotal) Name() string        { return VirusTotalName }
func (d *VirusTotal) Tier() detector.Tier { return detector.TierRemote }

func (d *VirusTotal) Supports(kind artifact.Kind) bool {
	return detector.Kinds{artifact.KindURL, artifact.KindFile, artifact.KindImage}.Has(kind)
}

type vtReport struct {
	Data struct {
		Attributes struct {
			Stats              map[string]int    `json:"last_analysis_stats"`
			Categories         map[string]string `json:"categories"`
			PopularThreatClass struct {
				Label string `json:"suggested_threat_label"`
			} `json:"popular_threat_classification"`
		} `json:"attributes"`
	} `json:"data"`
}

func (d *VirusTotal) Detect(ctx context.Context, target detector.Target) detector.Result {
	if d.apiKey == "" {
		return detector.Skipped(VirusTotalName, "VIRUSTOTAL_API_KEY not set")
	}

	var endpoint string
	if target.Artifact.Kind() == artifact.KindURL {
		endpoint = d.baseURL + "/urls/" + VirusTotalURLID(artifact.NormalizeURL(target.Artifact.Identifier()))
	} else {
		endpoint = d.baseURL + "/files/" + target.Artifact.SHA256()
	}

	data, err := call(ctx, d.client, http.MethodGet, endpoint, http.Header{"x-apikey": {d.apiKey}}, nil)
	if errors.Is(err, errNotFound) {
		return detector.Skipped(VirusTotalName, "no existing analysis for this artifact")
	}
	if err != nil {
		return detector.Failed(VirusTotalName, err)
	}

	var report vtReport
	if err := decode(data, &report); err != nil {
		return detector.Failed(VirusTotalName, err)
	}

	stats := report.Data.Attributes.Stats
	total := 0
	for _, n := range stats {
		total += n
	}
	if total == 0 {
		return detector.Skipped(VirusTotalName, "analysis has no engine verdicts")
	}

	malicious, suspicious := stats["malicious"], stats["suspicious"]
	if malicious+suspicious == 0 {
		clean := float64(stats["harmless"]+stats["undetected"]) / float64(total)
		if clean == 0 {
			return detector.Skipped(VirusTotalName, "no engine reached a verdict")
		}
		return detector.OK(VirusTotalName, detector.Clean(math.Min(0.99, clean)), data)
	}

	confidence := math.Min(0.99, (float64(malicious)+0.5*float64(suspicious))/float64(total))
	return detector.OK(VirusTotalName, detector.Threat(confidence, vtCategories(report)...), data)
}

// VirusTotalURLID is the unpadded URL-safe base64 identifier the API uses for URLs.
func VirusTotalURLID(url string) string {
	return base64.RawURLEncoding.EncodeToString([]byte(url))
}

func vtCategories(report vtReport) []string {
	var out []string
	if label := report.Data.Attributes.PopularThreatClass.Label; label != "" {
		// "trojan.emotet/drop" -> "trojan"
		parts := strings.FieldsFunc(label, func(r rune) bool { return r == '.' || r == '/' })
		if len(parts) > 0 {
			out = append(out, parts[0])
		}
	}

	var vendors []string
	for vendor := range report.Data.Attributes.Categories {
		vendors = append(vendors, vendor)
	}
	sort.Strings(vendors)
	for _, vendor := range vendors {
		if c := threatCategory(report.Data.Attributes.Categories[vendor]); c != "" {
			out = append(out, c)
		}
	}
	return out
}

// threatCategory maps vendor free text to a known category, or "" for benign labels.
func threatCategory(label string) string {
	label = strings.ToLower(label)
	switch {
	case strings.Contains(label, "phish"):
		return "phishing"
	case strings.Contains(label, "malware"), strings.Contains(label, "malicious"):
		return "malware"
	case strings.Contains(label, "scam"), strings.Contains(label, "fraud"):
		return "scam"
	case strings.Contains(label, "spam"):
		return "spam"
	default:
		return ""
	}
}
