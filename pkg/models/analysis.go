package models

// AnalysisResult is the synthetic outcome shown on the result stage.
// It is produced by a ResultGenerator and never derived from image content.
type AnalysisResult struct {
	Percentage      int    `json:"percentage"`
	ConfidenceLabel string `json:"confidence"`
}

// Valid reports whether the percentage is within [0,100]
func (r AnalysisResult) Valid() bool {
	return r.Percentage >= 0 && r.Percentage <= 100
}

// ValidationOutcome is returned by the image validator and consumed immediately.
type ValidationOutcome struct {
	Accepted bool   `json:"accepted"`
	Reason   string `json:"reason,omitempty"`
}

// Accept is the outcome for an acceptable input
func Accept() ValidationOutcome {
	return ValidationOutcome{Accepted: true}
}

// Reject builds a rejected outcome with a human readable reason
func Reject(reason string) ValidationOutcome {
	return ValidationOutcome{Accepted: false, Reason: reason}
}
