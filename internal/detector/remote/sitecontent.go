package remote

import (
	"context"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"sort"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/example/threatlens/internal/artifact"
	"github.com/example/threatlens/internal/detector"
)

const (
	SiteContentName = "site-content"

	// SiteContentPhishingConfidence is reported when the page combines a login form with
	// lure text or credential-harvesting scripts.
	SiteContentPhishingConfidence = 0.8
	// SiteContentClearConfidence is the confidence of safety for a page without that combination.
	SiteContentClearConfidence = 0.5

	siteContentUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0 Safari/537.36"
	// minLureKeywords is how many distinct lure phrases the page text needs.
	minLureKeywords    = 3
	maxReportedScripts = 5
	maxReportedDomains = 10
)

var lureKeywords = []string{
	"verify", "account", "suspended", "unusual activity", "security", "update",
	"confirm", "login", "sign in", "validate", "unauthorized", "expire",
}

var scriptPatterns = []string{
	"password", "login", "user", "email", "document.cookie", "localstorage",
	"sessionstorage", "keylogger", `addeventlistener("keydown"`, `addeventlistener("keypress"`,
}

// SiteContent fetches the page behind a URL and looks for credential phishing markup.
type SiteContent struct {
	client *http.Client
}

// NewSiteContent builds the detector. It needs no credentials.
func NewSiteContent(opts Options) *SiteContent {
	return &SiteContent{client: opts.client()}
}

func (d *SiteContent) Name() string                     { return SiteContentName }
func (d *SiteContent) Tier() detector.Tier              { return detector.TierRemote }
func (d *SiteContent) Supports(kind artifact.Kind) bool { return kind == artifact.KindURL }

// PageReport is what the detector found on one page.
type PageReport struct {
	ContentType        string          `json:"contentType"`
	Title              string          `json:"title,omitempty"`
	FormCount          int             `json:"formCount"`
	HasLoginForm       bool            `json:"hasLoginForm"`
	HasPasswordField   bool            `json:"hasPasswordField"`
	LureKeywords       []string        `json:"lureKeywords,omitempty"`
	SuspiciousScripts  []ScriptFinding `json:"suspiciousScripts,omitempty"`
	ExternalResources  int             `json:"externalResourceCount"`
	ExternalDomains    []string        `json:"externalDomains,omitempty"`
	PhishingIndicators bool            `json:"phishingIndicators"`
}

// ScriptFinding is a script element whose inline body matched credential-handling patterns.
type ScriptFinding struct {
	Src      string   `json:"src,omitempty"`
	Type     string   `json:"type,omitempty"`
	Patterns []string `json:"patterns"`
}

func (d *SiteContent) Detect(ctx context.Context, target detector.Target) detector.Result {
	pageURL := artifact.NormalizeURL(target.Artifact.Identifier())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return detector.Failed(SiteContentName, err)
	}
	req.Header.Set("User-Agent", siteContentUserAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml;q=0.9,*/*;q=0.8")
	req.Header.Set("Accept-Language", "en-US,en;q=0.5")

	resp, err := d.client.Do(req)
	if err != nil {
		return detector.Failed(SiteContentName, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return detector.Failedf(SiteContentName, "unexpected status code %d", resp.StatusCode)
	}

	contentType := strings.ToLower(resp.Header.Get("Content-Type"))
	if mediaType, _, err := mime.ParseMediaType(contentType); err != nil || mediaType != "text/html" {
		return detector.Skipped(SiteContentName, fmt.Sprintf("content type %q is not HTML", contentType))
	}

	report, err := AnalyzePage(io.LimitReader(resp.Body, maxBodyBytes), pageURL)
	if err != nil {
		return detector.Failed(SiteContentName, err)
	}
	report.ContentType = contentType

	if report.PhishingIndicators {
		return detector.OK(SiteContentName, detector.Threat(SiteContentPhishingConfidence, "phishing"), nil).WithRaw(report)
	}
	return detector.OK(SiteContentName, detector.Clean(SiteContentClearConfidence), nil).WithRaw(report)
}

// AnalyzePage parses an HTML document served from pageURL.
func AnalyzePage(r io.Reader, pageURL string) (PageReport, error) {
	doc, err := html.Parse(r)
	if err != nil {
		return PageReport{}, fmt.Errorf("parse html: %w", err)
	}

	var report PageReport
	pageHost := ""
	if u, err := url.Parse(pageURL); err == nil {
		pageHost = u.Host
	}

	var text strings.Builder
	domains := map[string]bool{}
	external := func(ref string) {
		if ref == "" || !isAbsoluteHTTP(ref) || (pageHost != "" && strings.Contains(ref, pageHost)) {
			return
		}
		report.ExternalResources++
		if u, err := url.Parse(ref); err == nil && u.Host != "" && u.Host != pageHost {
			domains[u.Host] = true
		}
	}

	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			text.WriteString(n.Data)
			text.WriteByte(' ')
		}
		if n.Type == html.ElementNode {
			switch n.DataAtom {
			case atom.Title:
				if report.Title == "" {
					report.Title = strings.TrimSpace(innerText(n))
				}
			case atom.Form:
				report.FormCount++
				password, username := inspectForm(n)
				if password {
					report.HasPasswordField = true
				}
				if password && username {
					report.HasLoginForm = true
				}
			case atom.Script:
				src := attr(n, "src")
				external(src)
				body := strings.ToLower(innerText(n))
				if matched := matchingPatterns(body); len(matched) > 0 {
					report.SuspiciousScripts = append(report.SuspiciousScripts, ScriptFinding{
						Src:      src,
						Type:     attr(n, "type"),
						Patterns: matched,
					})
				}
				// script bodies are not page text
				return
			case atom.Style:
				return
			case atom.A:
				external(attr(n, "href"))
			case atom.Img:
				external(attr(n, "src"))
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)

	lower := strings.ToLower(text.String())
	for _, kw := range lureKeywords {
		if strings.Contains(lower, kw) {
			report.LureKeywords = append(report.LureKeywords, kw)
		}
	}

	hasLure := len(report.LureKeywords) >= minLureKeywords
	hasScripts := len(report.SuspiciousScripts) > 0
	report.PhishingIndicators = report.HasLoginForm && report.HasPasswordField && (hasLure || hasScripts)

	if len(report.SuspiciousScripts) > maxReportedScripts {
		report.SuspiciousScripts = report.SuspiciousScripts[:maxReportedScripts]
	}
	for host := range domains {
		report.ExternalDomains = append(report.ExternalDomains, host)
	}
	sort.Strings(report.ExternalDomains)
	if len(report.ExternalDomains) > maxReportedDomains {
		report.ExternalDomains = report.ExternalDomains[:maxReportedDomains]
	}

	return report, nil
}

// inspectForm reports whether a form has a password input and a username-like input.
func inspectForm(form *html.Node) (password, username bool) {
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && n.DataAtom == atom.Input {
			kind := strings.ToLower(attr(n, "type"))
			name := strings.ToLower(attr(n, "name"))
			switch {
			case kind == "password":
				password = true
			case kind == "text" || kind == "email",
				strings.Contains(name, "user"), strings.Contains(name, "email"), strings.Contains(name, "login"):
				username = true
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(form)
	return password, username
}

func matchingPatterns(body string) []string {
	var matched []string
	for _, p := range scriptPatterns {
		if strings.Contains(body, p) {
			matched = append(matched, p)
		}
	}
	return matched
}

func innerText(n *html.Node) string {
	var b strings.Builder
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.TextNode {
			b.WriteString(c.Data)
		}
	}
	return b.String()
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

func isAbsoluteHTTP(ref string) bool {
	lower := strings.ToLower(ref)
	return strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://")
}
