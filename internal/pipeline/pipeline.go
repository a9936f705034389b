// Package pipeline implements the frame pipeline and the step-advancement /
// challenge-issuance logic that follows a successful frame (§4.2, §4.4,
// §4.6). It is the one place vision analysis, extraction consensus, trust
// accounting, and the challenge subsystem are wired together per frame.
package pipeline

import (
	"context"
	"encoding/json"
	"time"

	"github.com/screenverify/engine/internal/challenge"
	"github.com/screenverify/engine/internal/codec"
	"github.com/screenverify/engine/internal/consensus"
	"github.com/screenverify/engine/internal/rng"
	"github.com/screenverify/engine/internal/session"
	"github.com/screenverify/engine/internal/trust"
	"github.com/screenverify/engine/internal/vision"
)

// DebounceWindow is DEBOUNCE_MS (§3): frames arriving before this since the
// last analyzed one are dropped, never queued.
const DebounceWindow = 400 * time.Millisecond

// ConfidenceThreshold is the minimum vision confidence, strictly exceeded,
// for a matching frame to count as a success (§4.4).
const ConfidenceThreshold = 0.7

// SuccessThreshold is SUCCESS_THRESHOLD (§3): consecutive matching frames
// required before a step advances. Kept as a named constant even though it
// is always 1 today (§9 open question).
const SuccessThreshold = 1

// Outcome is everything ProcessFrame decided happened, for the caller
// (package engine) to act on: messages to send, TTS to consider, and
// whether the session just completed.
type Outcome struct {
	// Dropped is true when the frame was silently discarded (debounced,
	// terminal, or link-gated) — no outbound messages, no state change.
	Dropped bool

	Outbound []json.RawMessage

	// ScriptedSpeech bypasses the TTS gate entirely (§4.5: "scripted
	// emissions... bypass the gate"). Empty when there is none this frame.
	ScriptedSpeech string
	// GatedCandidate is run through the TTS gate (package ttsgate) by the
	// caller. Empty when there is no candidate this frame.
	GatedCandidate string

	Completed   bool
	TrustResult *trust.Result
}

// ProcessFrame runs one inbound frame through the full pipeline (§4.2),
// then — on a matching, confident analysis — through step advancement and
// challenge issuance (§4.4, §4.6). The caller is responsible for writing
// the mutated state back to the session store and for actually invoking
// the TTS port for ScriptedSpeech/GatedCandidate.
func ProcessFrame(ctx context.Context, s *session.State, tmpl *session.Template, visionPort vision.Port, source rng.Source, newChallengeID func() string, now time.Time, frame codec.Frame) Outcome {
	if now.Sub(s.LastAnalysisAt) < DebounceWindow {
		return Outcome{Dropped: true}
	}
	if s.IsTerminal() {
		return Outcome{Dropped: true}
	}

	step, ok := currentStep(tmpl, s)
	if !ok {
		return Outcome{Dropped: true}
	}
	if step.RequireLinkClick && !s.LinkClicked[s.CurrentStep] {
		return Outcome{Dropped: true}
	}

	s.Status = session.Analyzing
	s.LastAnalysisAt = now
	defer func() {
		if s.Status == session.Analyzing {
			s.Status = session.Waiting
		}
	}()

	out := Outcome{Outbound: []json.RawMessage{codec.Analyzing()}}

	instruction, criterion, expectedHost := step.Instruction, step.SuccessCriteria, ""
	var fields []session.ExtractionField
	if s.ActiveChallenge != nil {
		instruction = s.ActiveChallenge.Instruction
		criterion = s.ActiveChallenge.SuccessCriteria
	} else {
		expectedHost = step.ExpectedHost
		fields = step.Fields
	}

	var prevDesc string
	if s.Trust.FramesAnalyzed > 0 {
		prevDesc = s.Trust.PrevFrameDescription
	}

	analysis, err := visionPort.Analyze(ctx, vision.Request{
		ImageBase64:              frame.ImageData,
		Instruction:              instruction,
		SuccessCriteria:          criterion,
		ExtractionSchema:         fields,
		ExpectedHost:             expectedHost,
		PreviousFrameDescription: prevDesc,
	})
	if err != nil {
		return Outcome{Outbound: []json.RawMessage{codec.Error("Analysis failed")}}
	}

	hasExpectedHost := expectedHost != ""
	trust.RecordFrame(&s.Trust, now, frame.FrameHash, hasExpectedHost, analysis.URLVerified, analysis.VisualContinuity, analysis.Description)

	known := tmpl.KnownFields()
	var survivors []session.ExtractedPair
	for _, p := range analysis.ExtractedData {
		if known[p.Label] {
			survivors = append(survivors, p)
		}
	}
	consensus.RecordAll(s, survivors)

	wireData := make([]codec.ExtractedDataWire, len(survivors))
	for i, p := range survivors {
		wireData[i] = codec.ExtractedDataWire{Label: p.Label, Value: p.Value}
	}
	out.Outbound = append(out.Outbound, codec.Analysis(analysis.MatchesSuccessCriteria, analysis.Confidence, wireData, analysis.URLVerified))

	if analysis.MatchesSuccessCriteria && analysis.Confidence > ConfidenceThreshold {
		applySuccess(s, tmpl, step, source, newChallengeID, now, &out)
	} else if challenge.CheckTimeout(s, now) {
		applyAdvance(s, tmpl, step, source, newChallengeID, now, true, &out)
	} else if analysis.SuggestedAction != "" {
		out.GatedCandidate = analysis.SuggestedAction
	}

	return out
}

// applySuccess implements §4.4 steps 1-3: settle an active challenge (if
// any), or else apply the required-fields gate, then advance once the
// consecutive-success threshold is reached.
func applySuccess(s *session.State, tmpl *session.Template, step session.Step, source rng.Source, newChallengeID func() string, now time.Time, out *Outcome) {
	if s.ActiveChallenge != nil {
		if !challenge.CheckTimeout(s, now) {
			challenge.Settle(s, now, true)
		}
		s.ConsecutiveSuccesses = SuccessThreshold
		applyAdvance(s, tmpl, step, source, newChallengeID, now, true, out)
		return
	}

	if missingRequiredFields(s, step) {
		return
	}

	s.ConsecutiveSuccesses++
	if s.ConsecutiveSuccesses < SuccessThreshold {
		return
	}
	applyAdvance(s, tmpl, step, source, newChallengeID, now, false, out)
}

// applyAdvance implements §4.4 steps 4-6: attempt challenge issuance (only
// on a fresh, non-challenge-driven success), then advance the step and
// branch into stepComplete or completed.
func applyAdvance(s *session.State, tmpl *session.Template, step session.Step, source rng.Source, newChallengeID func() string, now time.Time, challengeJustHandled bool, out *Outcome) {
	if !challengeJustHandled {
		if ac := challenge.TryIssue(s, step, now, source, newChallengeID); ac != nil {
			out.Outbound = append(out.Outbound, codec.Challenge(ac.ID, ac.Instruction, ac.Timeout.Milliseconds()))
			out.ScriptedSpeech = ac.Instruction
			return
		}
	}

	s.CurrentStep++
	s.ConsecutiveSuccesses = 0
	s.PendingAction = ""

	if s.CurrentStep >= s.TotalSteps {
		s.Status = session.Completed
		result := trust.Score(s.Trust, s.ChallengeAudit, now)
		out.Completed = true
		out.TrustResult = &result
		out.Outbound = append(out.Outbound, codec.Completed("You're all set — verification complete.", wireExtractedData(s)))
		out.ScriptedSpeech = "You're all set. Verification complete."
		return
	}

	next := tmpl.Steps[s.CurrentStep]
	out.Outbound = append(out.Outbound, codec.StepComplete(s.CurrentStep, s.TotalSteps, next.Instruction))
	out.ScriptedSpeech = "Step complete. " + next.Instruction
}

func missingRequiredFields(s *session.State, step session.Step) bool {
	for _, name := range step.RequiredFields() {
		if _, ok := s.CommittedValues[name]; !ok {
			return true
		}
	}
	return false
}

func currentStep(tmpl *session.Template, s *session.State) (session.Step, bool) {
	if s.CurrentStep < 0 || s.CurrentStep >= len(tmpl.Steps) {
		return session.Step{}, false
	}
	return tmpl.Steps[s.CurrentStep], true
}

func wireExtractedData(s *session.State) []codec.ExtractedDataWire {
	pairs := s.ExtractedData()
	out := make([]codec.ExtractedDataWire, len(pairs))
	for i, p := range pairs {
		out[i] = codec.ExtractedDataWire{Label: p.Label, Value: p.Value}
	}
	return out
}
