package remote

import (
	"context"
	"net/http"
	"net/url"
	"strings"

	"github.com/example/threatlens/internal/artifact"
	"github.com/example/threatlens/internal/detector"
)

const (
	SafeBrowsingName    = "safebrowsing"
	safeBrowsingBaseURL = "https://safebrowsing.googleapis.com/v4"

	// SafeBrowsingMatchConfidence is reported for any list match.
	SafeBrowsingMatchConfidence = 0.95
	// SafeBrowsingClearConfidence is the confidence of safety when nothing matches.
	SafeBrowsingClearConfidence = 0.8
)

var safeBrowsingThreatTypes = []string{
	"MALWARE", "SOCIAL_ENGINEERING", "UNWANTED_SOFTWARE", "POTENTIALLY_HARMFUL_APPLICATION",
}

// SafeBrowsing queries the Google Safe Browsing v4 threatMatches:find endpoint.
type SafeBrowsing struct {
	apiKey   string
	baseURL  string
	client   *http.Client
	clientID string
}

// NewSafeBrowsing builds the detector. An empty key makes every lookup skipped.
func NewSafeBrowsing(opts Options) *SafeBrowsing {
	return &SafeBrowsing{
		apiKey:   opts.APIKey,
		baseURL:  opts.baseURL(safeBrowsingBaseURL),
		client:   opts.client(),
		clientID: "threatlens",
	}
}

func (d *SafeBrowsing) Name() string                     { return SafeBrowsingName }
func (d *SafeBrowsing) Tier() detector.Tier              { return detector.TierRemote }
func (d *SafeBrowsing) Supports(kind artifact.Kind) bool { return kind == artifact.KindURL }

type sbRequest struct {
	Client struct {
		ClientID      string `json:"clientId"`
		ClientVersion string `json:"clientVersion"`
	} `json:"client"`
	ThreatInfo struct {
		ThreatTypes      []string        `json:"threatTypes"`
		PlatformTypes    []string        `json:"platformTypes"`
		ThreatEntryTypes []string        `json:"threatEntryTypes"`
		ThreatEntries    []sbThreatEntry `json:"threatEntries"`
	} `json:"threatInfo"`
}

type sbThreatEntry struct {
	URL string `json:"url"`
}

type sbResponse struct {
	Matches []struct {
		ThreatType string `json:"threatType"`
	} `json:"matches"`
}

func (d *SafeBrowsing) Detect(ctx context.Context, target detector.Target) detector.Result {
	if d.apiKey == "" {
		return detector.Skipped(SafeBrowsingName, "GOOGLE_SAFEBROWSING_API_KEY not set")
	}

	var body sbRequest
	body.Client.ClientID = d.clientID
	body.Client.ClientVersion = "1.0.0"
	body.ThreatInfo.ThreatTypes = safeBrowsingThreatTypes
	body.ThreatInfo.PlatformTypes = []string{"ANY_PLATFORM"}
	body.ThreatInfo.ThreatEntryTypes = []string{"URL"}
	body.ThreatInfo.ThreatEntries = []sbThreatEntry{{URL: artifact.NormalizeURL(target.Artifact.Identifier())}}

	endpoint := d.baseURL + "/threatMatches:find?key=" + url.QueryEscape(d.apiKey)
	data, err := call(ctx, d.client, http.MethodPost, endpoint, nil, body)
	if err != nil {
		return detector.Failed(SafeBrowsingName, err)
	}

	var resp sbResponse
	if err := decode(data, &resp); err != nil {
		return detector.Failed(SafeBrowsingName, err)
	}
	if len(resp.Matches) == 0 {
		return detector.OK(SafeBrowsingName, detector.Clean(SafeBrowsingClearConfidence), data)
	}

	var categories []string
	for _, m := range resp.Matches {
		categories = append(categories, strings.ToLower(m.ThreatType))
	}
	return detector.OK(SafeBrowsingName, detector.Threat(SafeBrowsingMatchConfidence, categories...), data)
}
