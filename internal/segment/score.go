package segment

// Score summarizes how complete an identity is and whether the OCR
// confidence behind it clears threshold
func Score(identity *IdentityCandidate, ocrConfidence, threshold float64) CompletenessSummary {
	return CompletenessSummary{
		Completeness:     float64(identity.Populated()) / float64(len(Fields)),
		OCRConfidence:    ocrConfidence,
		IsHighConfidence: ocrConfidence >= threshold,
	}
}
