package remote

import (
	"context"
	"math"
	"net"
	"net/http"
	"net/url"

	"github.com/example/threatlens/internal/artifact"
	"github.com/example/threatlens/internal/detector"
)

const (
	AbuseIPDBName    = "abuseipdb"
	abuseIPDBBaseURL = "https://api.abuseipdb.com/api/v2"

	// AbuseIPDBThreshold is the abuse confidence score at which a host counts as malicious.
	AbuseIPDBThreshold = 50
	abuseIPDBMaxAge    = "90"
	abuseIPDBMaxConf   = 0.95
)

// AbuseIPDB looks up URLs whose host is a literal IP address. Hostnames are skipped.
type AbuseIPDB struct {
	apiKey  string
	baseURL string
	client  *http.Client
}

// NewAbuseIPDB builds the detector. An empty key makes every lookup skipped.
func NewAbuseIPDB(opts Options) *AbuseIPDB {
	return &AbuseIPDB{apiKey: opts.APIKey, baseURL: opts.baseURL(abuseIPDBBaseURL), client: opts.client()}
}

func (d *AbuseIPDB) Name() string                     { return AbuseIPDBName }
func (d *AbuseIPDB) Tier() detector.Tier              { return detector.TierReputation }
func (d *AbuseIPDB) Supports(kind artifact.Kind) bool { return kind == artifact.KindURL }

type abuseIPDBResponse struct {
	Data struct {
		IPAddress            string `json:"ipAddress"`
		AbuseConfidenceScore int    `json:"abuseConfidenceScore"`
		CountryCode          string `json:"countryCode"`
		TotalReports         int    `json:"totalReports"`
		LastReportedAt       string `json:"lastReportedAt"`
	} `json:"data"`
}

func (d *AbuseIPDB) Detect(ctx context.Context, target detector.Target) detector.Result {
	ip := net.ParseIP(artifact.Hostname(target.Artifact.Identifier()))
	if ip == nil {
		return detector.Skipped(AbuseIPDBName, "host is not an IP address")
	}
	if d.apiKey == "" {
		return detector.Skipped(AbuseIPDBName, "ABUSEIPDB_API_KEY not set")
	}

	query := url.Values{"ipAddress": {ip.String()}, "maxAgeInDays": {abuseIPDBMaxAge}}
	header := http.Header{"Key": {d.apiKey}}
	data, err := call(ctx, d.client, http.MethodGet, d.baseURL+"/check?"+query.Encode(), header, nil)
	if err != nil {
		return detector.Failed(AbuseIPDBName, err)
	}

	var resp abuseIPDBResponse
	if err := decode(data, &resp); err != nil {
		return detector.Failed(AbuseIPDBName, err)
	}

	score := resp.Data.AbuseConfidenceScore
	if score >= AbuseIPDBThreshold {
		conf := math.Min(abuseIPDBMaxConf, float64(score)/100)
		return detector.OK(AbuseIPDBName, detector.Threat(conf, "abusive_ip"), data)
	}
	return detector.OK(AbuseIPDBName, detector.Clean(math.Min(abuseIPDBMaxConf, 1-float64(score)/100)), data)
}
