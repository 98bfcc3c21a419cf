// Package aiclass asks a language model whether a URL or a text document is a scam,
// phishing lure or other harmful content, and turns its free-text answer into a signal.
package aiclass

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/example/threatlens/internal/artifact"
	"github.com/example/threatlens/internal/detector"
)

const (
	Name = "ai-content"

	// maxExcerpt bounds how much of a document is sent to the model.
	maxExcerpt = 4096
)

// Detector classifies content through a Completer.
type Detector struct {
	completer Completer
}

// New builds the detector. A nil completer makes every call skipped.
func New(c Completer) *Detector {
	return &Detector{completer: c}
}

func (d *Detector) Name() string        { return Name }
func (d *Detector) Tier() detector.Tier { return detector.TierAI }

func (d *Detector) Supports(kind artifact.Kind) bool {
	return kind == artifact.KindURL || kind == artifact.KindFile
}

func (d *Detector) Detect(ctx context.Context, target detector.Target) detector.Result {
	if d.completer == nil {
		return detector.Skipped(Name, "AZURE_OPENAI_ENDPOINT, AZURE_OPENAI_KEY or AZURE_OPENAI_DEPLOYMENT not set")
	}

	prompt, err := buildPrompt(target.Artifact)
	if err != nil {
		return detector.Skipped(Name, err.Error())
	}

	answer, err := d.completer.Complete(ctx, prompt)
	if err != nil {
		return detector.Failed(Name, err)
	}

	sig, err := ParseAnswer(answer)
	if err != nil {
		return detector.Failed(Name, err).WithRaw(answer)
	}
	return detector.OK(Name, sig, nil).WithRaw(answer)
}

const promptHeader = `You are a security analyst. Decide whether the following %s is malicious
(phishing, scam, fraud, malware distribution or social engineering).
Answer with one JSON object and nothing else:
{"isThreat": true|false, "confidence": 0.0-1.0, "category": "phishing|scam|fraud|malware|spam|none", "reason": "short"}

%s:
`

func buildPrompt(a artifact.Artifact) (string, error) {
	switch a.Kind() {
	case artifact.KindURL:
		return fmt.Sprintf(promptHeader, "URL", "URL") + a.Identifier(), nil
	case artifact.KindFile:
		excerpt := a.Head(maxExcerpt)
		if !isText(excerpt, a.MIMEHint()) {
			return "", errors.New("file content is not text")
		}
		return fmt.Sprintf(promptHeader, "document", "Document excerpt") + string(excerpt), nil
	default:
		return "", fmt.Errorf("artifact kind %s not supported", a.Kind())
	}
}

func isText(data []byte, mime string) bool {
	if strings.HasPrefix(mime, "text/") || strings.HasSuffix(mime, "json") || strings.HasSuffix(mime, "xml") {
		return true
	}
	// A cut at maxExcerpt may split a rune; tolerate a short invalid tail.
	for i := 0; i < utf8.UTFMax && len(data) > 0 && !utf8.Valid(data); i++ {
		data = data[:len(data)-1]
	}
	if !utf8.Valid(data) {
		return false
	}
	for _, b := range data {
		if b == 0 {
			return false
		}
	}
	return true
}

type answer struct {
	IsThreat   *bool    `json:"isThreat"`
	Confidence *float64 `json:"confidence"`
	Category   string   `json:"category"`
	Categories []string `json:"categories"`
	Reason     string   `json:"reason"`
}

// ParseAnswer extracts the first JSON object from a model reply. Models often wrap the
// object in prose or code fences.
func ParseAnswer(text string) (detector.Signal, error) {
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end <= start {
		return detector.Signal{}, errors.New("model reply contains no JSON object")
	}

	var a answer
	if err := json.Unmarshal([]byte(text[start:end+1]), &a); err != nil {
		return detector.Signal{}, fmt.Errorf("model reply is not valid JSON: %w", err)
	}
	if a.Confidence == nil {
		return detector.Signal{}, errors.New("model reply has no confidence")
	}

	var categories []string
	for _, c := range append([]string{a.Category}, a.Categories...) {
		c = strings.ToLower(strings.TrimSpace(c))
		if c != "" && c != "none" && c != "benign" && c != "safe" {
			categories = append(categories, c)
		}
	}

	sig := detector.Signal{IsThreat: a.IsThreat, Confidence: *a.Confidence}
	if a.IsThreat == nil || *a.IsThreat {
		sig.Categories = categories
	}
	return sig, nil
}
