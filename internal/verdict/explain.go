package verdict

import (
	"fmt"
	"math"
	"strings"

	"github.com/example/threatlens/internal/artifact"
	"github.com/example/threatlens/internal/detector"
)

// FailureMessage is the whole explanation when no detector returned a signal.
const FailureMessage = "analysis could not be completed"

// Bucket is a coarse confidence label.
type Bucket string

const (
	BucketLow      Bucket = "low"
	BucketModerate Bucket = "moderate"
	BucketHigh     Bucket = "high"
)

// BucketFor maps a confidence to its label.
func BucketFor(confidence float64) Bucket {
	switch {
	case confidence <= 0.5:
		return BucketLow
	case confidence <= 0.8:
		return BucketModerate
	default:
		return BucketHigh
	}
}

var threatPhrases = map[string]string{
	"phishing":                        "it appears to be a phishing attempt designed to steal credentials",
	"social_engineering":              "it appears to be a social engineering lure",
	"malware":                         "it is associated with malware",
	"malware_download":                "it is known to distribute malware",
	"unwanted_software":               "it is associated with unwanted software",
	"potentially_harmful_application": "it is associated with a potentially harmful application",
	"scam":                            "it shows the hallmarks of a scam",
	"fraud":                           "it shows the hallmarks of fraud",
	"spam":                            "it is associated with spam campaigns",
	"steganography":                   "it may contain data concealed with steganography",
	"suspicious_metadata":             "its metadata carries suspicious content",
	"appended_data":                   "it carries data appended after the end of the media stream",
	"uncommon_codec":                  "it uses an uncommon codec that can be abused to hide exploits",
	"suspicious_url":                  "its address has the structure of a deceptive link",
	GenericCategory:                   "several detectors consider it suspicious",
}

// ThreatPhrase returns the human phrase for a category, with a generic fallback.
func ThreatPhrase(category string) string {
	if phrase, ok := threatPhrases[category]; ok {
		return phrase
	}
	return fmt.Sprintf("it was flagged as %s", strings.ReplaceAll(category, "_", " "))
}

// Explain renders the templated explanation for a verdict.
func Explain(v Verdict) string {
	if v.Contributing == 0 {
		return FailureMessage
	}

	var b strings.Builder
	subject := subjectFor(v.Kind)
	percent := int(math.Round(v.Confidence * 100))

	if v.IsMalicious {
		bucket := v.Bucket
		if bucket == "" {
			bucket = BucketFor(v.Confidence)
		}
		fmt.Fprintf(&b, "%s confidence (%d%%) that this %s is malicious: %s.",
			capitalize(string(bucket)), percent, subject, ThreatPhrase(v.ThreatTypeOr(GenericCategory)))
	} else {
		fmt.Fprintf(&b, "No threat was identified in this %s (threat confidence %d%%).", subject, percent)
	}

	fmt.Fprintf(&b, " %d of %d detectors contributed to this verdict.", v.Contributing, v.Attempted)

	if v.Degraded {
		b.WriteString(" Analysis was partial: ")
		b.WriteString(partialNote(v.Results))
		b.WriteString(".")
	}
	return b.String()
}

func partialNote(results detector.Results) string {
	var parts []string
	for _, status := range []detector.Status{detector.StatusError, detector.StatusTimeout, detector.StatusSkipped} {
		if n := results.Count(status); n > 0 {
			parts = append(parts, fmt.Sprintf("%d %s", n, statusWord(status, n)))
		}
	}
	if len(parts) == 0 {
		return "some detectors did not return a result"
	}
	return strings.Join(parts, ", ")
}

func statusWord(status detector.Status, n int) string {
	switch status {
	case detector.StatusError:
		if n == 1 {
			return "detector failed"
		}
		return "detectors failed"
	case detector.StatusTimeout:
		if n == 1 {
			return "detector timed out"
		}
		return "detectors timed out"
	default:
		if n == 1 {
			return "detector was skipped"
		}
		return "detectors were skipped"
	}
}

func subjectFor(kind artifact.Kind) string {
	switch kind {
	case artifact.KindURL:
		return "URL"
	case artifact.KindImage:
		return "image"
	default:
		return "file"
	}
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
