package verdict

import "github.com/example/threatlens/internal/detector"

// GenericCategory is used when the verdict is malicious but no detector named a category.
const GenericCategory = "suspicious"

// ReputationConfidence is the minimum confidence for a reputation list hit to count.
const ReputationConfidence = 0.8

var tierPriority = []detector.Tier{
	detector.TierReputation,
	detector.TierRemote,
	detector.TierLocal,
	detector.TierAI,
}

// Classify picks one threat type from the valid results. Tiers are scanned in priority
// order and the first category found wins; within a tier the earliest registered detector
// wins. A confidence at or below the malicious threshold yields no threat type.
func Classify(results detector.Results, confidence float64) *string {
	if confidence <= MaliciousThreshold {
		return nil
	}

	valid := results.Valid()
	for _, tier := range tierPriority {
		for _, r := range valid {
			if r.Tier != tier {
				continue
			}
			if category, ok := categoryOf(r); ok {
				return &category
			}
		}
	}

	generic := GenericCategory
	return &generic
}

func categoryOf(r detector.Result) (string, bool) {
	sig := r.Signal
	if !sig.Flagged() || len(sig.Categories) == 0 {
		return "", false
	}
	if r.Tier == detector.TierReputation && (sig.IsThreat == nil || sig.Confidence < ReputationConfidence) {
		return "", false
	}
	return sig.Categories[0], true
}
