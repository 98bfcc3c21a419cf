package remote

import (
	"context"
	"net/http"
	"strings"

	"github.com/example/threatlens/internal/artifact"
	"github.com/example/threatlens/internal/detector"
)

const (
	URLhausName    = "urlhaus"
	urlhausBaseURL = "https://urlhaus-api.abuse.ch/v1"

	// URLhausHitConfidence is reported when the URL is listed.
	URLhausHitConfidence = 0.9
	// URLhausMissConfidence is the confidence of safety for an unlisted URL.
	URLhausMissConfidence = 0.6
)

// URLhaus checks URLs against the abuse.ch malware URL database. It is a list lookup,
// so it classifies in the reputation tier.
type URLhaus struct {
	apiKey  string
	baseURL string
	client  *http.Client
}

// NewURLhaus builds the detector. An empty key makes every lookup skipped.
func NewURLhaus(opts Options) *URLhaus {
	return &URLhaus{apiKey: opts.APIKey, baseURL: opts.baseURL(urlhausBaseURL), client: opts.client()}
}

func (d *URLhaus) Name() string                     { return URLhausName }
func (d *URLhaus) Tier() detector.Tier              { return detector.TierReputation }
func (d *URLhaus) Supports(kind artifact.Kind) bool { return kind == artifact.KindURL }

type urlhausResponse struct {
	QueryStatus string `json:"query_status"`
	URLStatus   string `json:"url_status"`
	Threat      string `json:"threat"`
	ThreatType  string `json:"threat_type"`
}

func (d *URLhaus) Detect(ctx context.Context, target detector.Target) detector.Result {
	if d.apiKey == "" {
		return detector.Skipped(URLhausName, "URLHAUS_API_KEY not set")
	}

	header := http.Header{"Auth-Key": {d.apiKey}}
	body := map[string]string{"url": artifact.NormalizeURL(target.Artifact.Identifier())}
	data, err := call(ctx, d.client, http.MethodPost, d.baseURL+"/url/", header, body)
	if err != nil {
		return detector.Failed(URLhausName, err)
	}

	var resp urlhausResponse
	if err := decode(data, &resp); err != nil {
		return detector.Failed(URLhausName, err)
	}

	switch resp.QueryStatus {
	case "ok":
		category := resp.Threat
		if category == "" {
			category = resp.ThreatType
		}
		if category == "" {
			category = "malware"
		}
		return detector.OK(URLhausName, detector.Threat(URLhausHitConfidence, strings.ToLower(category)), data)
	case "no_results":
		return detector.OK(URLhausName, detector.Clean(URLhausMissConfidence), data)
	default:
		return detector.Failedf(URLhausName, "query status %q", resp.QueryStatus)
	}
}
