// Package heuristic holds in-process detectors that need no network or external binary.
package heuristic

import (
	"context"
	"net"
	"net/url"
	"strings"

	"golang.org/x/net/idna"
	"golang.org/x/net/publicsuffix"

	"github.com/example/threatlens/internal/artifact"
	"github.com/example/threatlens/internal/detector"
)

const URLHeuristicsName = "url-heuristics"

// maxHeuristicScore keeps structural checks from ever claiming certainty.
const maxHeuristicScore = 0.95

var credentialKeywords = []string{
	"login", "signin", "sign-in", "verify", "account", "secure", "update", "confirm",
	"password", "banking", "suspended", "validate", "unlock", "wallet",
}

// URLHeuristics scores the structure of a URL without fetching it.
type URLHeuristics struct{}

// NewURLHeuristics returns the detector.
func NewURLHeuristics() *URLHeuristics { return &URLHeuristics{} }

func (d *URLHeuristics) Name() string                     { return URLHeuristicsName }
func (d *URLHeuristics) Tier() detector.Tier              { return detector.TierLocal }
func (d *URLHeuristics) Supports(kind artifact.Kind) bool { return kind == artifact.KindURL }

// URLFinding is one triggered rule.
type URLFinding struct {
	Rule   string  `json:"rule"`
	Weight float64 `json:"weight"`
	Detail string  `json:"detail,omitempty"`
}

func (d *URLHeuristics) Detect(ctx context.Context, target detector.Target) detector.Result {
	findings, err := AnalyzeURL(target.Artifact.Identifier())
	if err != nil {
		return detector.Failed(URLHeuristicsName, err)
	}

	score := 0.0
	for _, f := range findings {
		score += f.Weight
	}
	if score > maxHeuristicScore {
		score = maxHeuristicScore
	}

	raw := map[string]interface{}{"score": score, "findings": findings}
	if score > 0.5 {
		return detector.OK(URLHeuristicsName, detector.Threat(score, "suspicious_url"), nil).WithRaw(raw)
	}
	return detector.OK(URLHeuristicsName, detector.Clean(1-score), nil).WithRaw(raw)
}

// AnalyzeURL applies every structural rule and returns the ones that fired.
func AnalyzeURL(raw string) ([]URLFinding, error) {
	original := strings.TrimSpace(raw)
	parsed, err := url.Parse(artifact.NormalizeURL(original))
	if err != nil {
		return nil, err
	}
	host := strings.ToLower(parsed.Hostname())

	var findings []URLFinding
	add := func(rule string, weight float64, detail string) {
		findings = append(findings, URLFinding{Rule: rule, Weight: weight, Detail: detail})
	}

	if net.ParseIP(host) != nil {
		add("ip_host", 0.3, host)
	}
	if parsed.User != nil {
		add("userinfo", 0.3, "credentials or @ in authority")
	}
	if strings.Contains(host, "xn--") {
		unicode, err := idna.ToUnicode(host)
		if err != nil {
			unicode = host
		}
		add("punycode", 0.2, unicode)
	}
	if net.ParseIP(host) == nil {
		if registered, err := publicsuffix.EffectiveTLDPlusOne(host); err == nil && registered != host {
			sub := strings.TrimSuffix(host, "."+registered)
			if depth := strings.Count(sub, ".") + 1; depth >= 3 {
				add("deep_subdomain", 0.15, sub)
			}
		}
		if strings.Count(strings.ReplaceAll(host, "xn--", ""), "-") >= 3 {
			add("hyphenated_host", 0.1, host)
		}
	}
	if len(original) > 100 {
		add("long_url", 0.1, "")
	}

	lowered := strings.ToLower(parsed.EscapedPath() + "?" + parsed.RawQuery)
	var matched []string
	for _, kw := range credentialKeywords {
		if strings.Contains(lowered, kw) {
			matched = append(matched, kw)
		}
	}
	switch {
	case len(matched) >= 2:
		add("credential_keywords", 0.2, strings.Join(matched, ","))
	case len(matched) == 1:
		add("credential_keywords", 0.1, matched[0])
	}

	if parsed.Scheme != "https" {
		add("not_https", 0.1, parsed.Scheme)
	}
	return findings, nil
}
