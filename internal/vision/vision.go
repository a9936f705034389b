// Package vision defines the vision port (§6.2): the pluggable interface
// the frame pipeline uses to score a screenshot against a step's success
// criterion and extract structured fields from it.
package vision

import (
	"context"
	"math"

	"github.com/screenverify/engine/internal/session"
)

// Request is everything a provider needs to analyze one frame.
type Request struct {
	ImageBase64              string
	Instruction               string
	SuccessCriteria           string
	ExtractionSchema          []session.ExtractionField
	ExpectedHost              string
	PreviousFrameDescription  string
}

// Analysis is a provider's verdict on one frame (§6.2).
type Analysis struct {
	Description           string                 `json:"description"`
	DetectedElements      []string               `json:"detectedElements"`
	MatchesSuccessCriteria bool                  `json:"matchesSuccessCriteria"`
	Confidence             float64               `json:"confidence"`
	SuggestedAction        string                `json:"suggestedAction,omitempty"`
	ExtractedData          []session.ExtractedPair `json:"extractedData,omitempty"`
	// URLVerified is nil when the step defines no expectedHost to check.
	URLVerified *bool `json:"urlVerified,omitempty"`
	// VisualContinuity is nil on the first frame of a session, when there is
	// no previous frame description to compare against.
	VisualContinuity *bool `json:"visualContinuity,omitempty"`
}

// Port is the pluggable vision analysis boundary (§6.2).
type Port interface {
	Analyze(ctx context.Context, req Request) (*Analysis, error)
}

// SafeDefault is returned by providers on transport failure (§6.2): a
// conservative, clearly-failing analysis that keeps the session in
// waiting rather than propagating a raw provider error to the client.
func SafeDefault() *Analysis {
	return &Analysis{
		MatchesSuccessCriteria: false,
		Confidence:             0,
		Description:            "Unable to analyze frame",
		SuggestedAction:        "Something went wrong analyzing your screen — please try again.",
	}
}

// Normalize enforces the provider contract regardless of what the
// underlying model returned: confidence clamped to [0,1], and extracted
// items with an empty label or value dropped (§6.2).
func Normalize(a *Analysis) *Analysis {
	if a == nil {
		return SafeDefault()
	}
	if math.IsNaN(a.Confidence) || a.Confidence < 0 {
		a.Confidence = 0
	} else if a.Confidence > 1 {
		a.Confidence = 1
	}

	kept := a.ExtractedData[:0]
	for _, pair := range a.ExtractedData {
		if pair.Label == "" || pair.Value == "" {
			continue
		}
		kept = append(kept, pair)
	}
	a.ExtractedData = kept
	return a
}
