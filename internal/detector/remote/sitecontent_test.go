package remote

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/threatlens/internal/detector"
)

const phishingPage = `<!doctype html>
<html><head><title> Account Verification </title>
<script>document.getElementById("f").addEventListener("submit", function(){ steal(document.cookie) })</script>
<script src="https://cdn.tracker.test/lib.js"></script>
</head>
<body>
<p>Unusual activity was detected. Please verify your account to avoid it being suspended.</p>
<form id="f" action="/collect">
  <input type="email" name="email">
  <input type="password" name="pass">
</form>
<a href="https://real-bank.test/help">Help</a>
<img src="https://images.test/logo.png">
<a href="/local">Local</a>
</body></html>`

func TestAnalyzePageFindsPhishingMarkup(t *testing.T) {
	report, err := AnalyzePage(strings.NewReader(phishingPage), "http://login.example.test/verify")
	require.NoError(t, err)

	assert.Equal(t, "Account Verification", report.Title)
	assert.Equal(t, 1, report.FormCount)
	assert.True(t, report.HasLoginForm)
	assert.True(t, report.HasPasswordField)
	assert.Subset(t, report.LureKeywords, []string{"verify", "account", "suspended", "unusual activity"})
	require.Len(t, report.SuspiciousScripts, 1)
	assert.Contains(t, report.SuspiciousScripts[0].Patterns, "document.cookie")
	assert.Equal(t, 3, report.ExternalResources)
	assert.Equal(t, []string{"cdn.tracker.test", "images.test", "real-bank.test"}, report.ExternalDomains)
	assert.True(t, report.PhishingIndicators)
}

func TestAnalyzePageNeedsPasswordAndLure(t *testing.T) {
	tests := []struct {
		name string
		page string
	}{
		{
			name: "newsletter form",
			page: `<form><input type="email" name="email"></form><p>Verify your account security settings to confirm.</p>`,
		},
		{
			name: "plain login",
			page: `<form><input type="text" name="user"><input type="password"></form><p>Welcome back.</p>`,
		},
		{
			name: "keywords only in script",
			page: `<form><input name="login"><input type="password"></form><script>var verifyAccountSecurityUpdate = 1</script>`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			report, err := AnalyzePage(strings.NewReader(tt.page), "https://example.test/")
			require.NoError(t, err)
			assert.False(t, report.PhishingIndicators, "%+v", report)
		})
	}
}

func TestSiteContentDetect(t *testing.T) {
	var gotAgent string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAgent = r.Header.Get("User-Agent")
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		if r.URL.Path == "/verify" {
			_, _ = io.WriteString(w, phishingPage)
			return
		}
		_, _ = io.WriteString(w, "<html><body><h1>Hello</h1></body></html>")
	}))
	defer srv.Close()

	d := NewSiteContent(Options{Client: srv.Client()})
	assert.Equal(t, detector.TierRemote, d.Tier())

	res := d.Detect(context.Background(), urlTarget(t, srv.URL+"/verify"))
	require.Equal(t, detector.StatusOK, res.Status, res.Error)
	assert.Contains(t, gotAgent, "Mozilla/5.0")
	assert.True(t, *res.Signal.IsThreat)
	assert.Equal(t, SiteContentPhishingConfidence, res.Signal.Confidence)
	assert.Equal(t, []string{"phishing"}, res.Signal.Categories)

	var report PageReport
	require.NoError(t, json.Unmarshal(res.Raw, &report))
	assert.Equal(t, "text/html; charset=utf-8", report.ContentType)
	assert.True(t, report.HasLoginForm)

	clean := d.Detect(context.Background(), urlTarget(t, srv.URL+"/"))
	require.Equal(t, detector.StatusOK, clean.Status, clean.Error)
	assert.False(t, *clean.Signal.IsThreat)
	assert.Equal(t, SiteContentClearConfidence, clean.Signal.Confidence)
}

func TestSiteContentSkipsNonHTML(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/pdf")
		_, _ = io.WriteString(w, "%PDF-1.7")
	}))
	defer srv.Close()

	res := NewSiteContent(Options{Client: srv.Client()}).Detect(context.Background(), urlTarget(t, srv.URL))
	assert.Equal(t, detector.StatusSkipped, res.Status)
	assert.Contains(t, res.Error, "application/pdf")
}

func TestSiteContentErrorStatusIsFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "gone", http.StatusGone)
	}))
	defer srv.Close()

	res := NewSiteContent(Options{Client: srv.Client()}).Detect(context.Background(), urlTarget(t, srv.URL))
	assert.Equal(t, detector.StatusError, res.Status)
	assert.Contains(t, res.Error, "410")
}
