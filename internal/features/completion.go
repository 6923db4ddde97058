package features

// ExtractCompletion derives the completion ratio. No expected components
// counts as fully complete; a missing submissions facility means zero late.
func ExtractCompletion(t CompletionTally) CompletionFeatures {
	rate := 100.0
	if t.Expected > 0 {
		rate = float64(t.Submitted) * 100 / float64(t.Expected)
	}

	missing := t.Expected - t.Submitted
	if missing < 0 {
		missing = 0
	}

	late := 0
	if t.LateSubmissions != nil && *t.LateSubmissions > 0 {
		late = *t.LateSubmissions
	}

	return CompletionFeatures{
		SubmissionRate:     round2(rate),
		MissingAssessments: missing,
		LateSubmissions:    late,
	}
}
