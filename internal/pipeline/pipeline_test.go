package pipeline

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/screenverify/engine/internal/codec"
	"github.com/screenverify/engine/internal/session"
	"github.com/screenverify/engine/internal/vision"
)

// stubVision returns a fixed Analysis (or error) regardless of the request.
type stubVision struct {
	analysis *vision.Analysis
	err      error
}

func (v stubVision) Analyze(ctx context.Context, req vision.Request) (*vision.Analysis, error) {
	return v.analysis, v.err
}

// fixedSource is a deterministic rng.Source stub.
type fixedSource struct {
	float64Val float64
	intnVal    int
}

func (f fixedSource) Float64() float64 { return f.float64Val }
func (f fixedSource) Intn(n int) int   { return f.intnVal }

func twoStepTemplate() *session.Template {
	return &session.Template{
		ID: "tmpl-1",
		Steps: []session.Step{
			{
				Instruction:      "Enter your handle",
				SuccessCriteria:  "Handle is visible",
				RequireLinkClick: true,
				Link:             &session.StepLink{URL: "https://example.com/1", Label: "Open"},
				Fields:           []session.ExtractionField{{Name: "Handle", Required: true}},
			},
			{
				Instruction:      "Check your reach",
				SuccessCriteria:  "Reach numbers visible",
				RequireLinkClick: true,
				Link:             &session.StepLink{URL: "https://example.com/2", Label: "Open"},
				Fields: []session.ExtractionField{
					{Name: "Reach", Required: true},
					{Name: "Non-followers reached", Required: true},
					{Name: "Followers reached", Required: true},
				},
			},
		},
	}
}

func idGen(id string) func() string { return func() string { return id } }

// noChallengeSource always draws above Probability so no challenge fires.
var noChallengeSource = fixedSource{float64Val: 0.99}

func TestProcessFrameDebounced(t *testing.T) {
	s := session.New("s1", "t1", "tmpl-1", "web", 0, 2, time.Unix(0, 0))
	s.LastAnalysisAt = time.Unix(100, 0)
	tmpl := twoStepTemplate()

	out := ProcessFrame(context.Background(), s, tmpl, stubVision{}, noChallengeSource, idGen("c"), time.Unix(100, 0).Add(100*time.Millisecond), codec.Frame{ImageData: "x"})
	if !out.Dropped {
		t.Fatalf("expected frame dropped by debounce")
	}
}

func TestProcessFrameLinkGateDropsWithoutClick(t *testing.T) {
	s := session.New("s1", "t1", "tmpl-1", "web", 0, 2, time.Unix(0, 0))
	tmpl := twoStepTemplate()

	visionCalled := false
	v := callCountingVision{&visionCalled, stubVision{analysis: vision.SafeDefault()}}
	out := ProcessFrame(context.Background(), s, tmpl, v, noChallengeSource, idGen("c"), time.Unix(1000, 0), codec.Frame{ImageData: "x"})
	if !out.Dropped {
		t.Fatalf("expected link-gated drop")
	}
	if visionCalled {
		t.Fatalf("vision should not be called when link gate blocks the frame")
	}
}

type callCountingVision struct {
	called *bool
	inner  vision.Port
}

func (c callCountingVision) Analyze(ctx context.Context, req vision.Request) (*vision.Analysis, error) {
	*c.called = true
	return c.inner.Analyze(ctx, req)
}

func TestProcessFrameTerminalGateDrops(t *testing.T) {
	s := session.New("s1", "t1", "tmpl-1", "web", 2, 2, time.Unix(0, 0))
	s.Status = session.Completed
	tmpl := twoStepTemplate()

	out := ProcessFrame(context.Background(), s, tmpl, stubVision{}, noChallengeSource, idGen("c"), time.Unix(1000, 0), codec.Frame{ImageData: "x"})
	if !out.Dropped {
		t.Fatalf("expected terminal drop")
	}
}

func TestProcessFrameSuccessAdvancesStep(t *testing.T) {
	s := session.New("s1", "t1", "tmpl-1", "web", 0, 2, time.Unix(0, 0))
	s.LinkClicked[0] = true
	tmpl := twoStepTemplate()

	v := stubVision{analysis: &vision.Analysis{
		MatchesSuccessCriteria: true,
		Confidence:             0.9,
		ExtractedData:          []session.ExtractedPair{{Label: "Handle", Value: "@alice"}},
	}}

	now := time.Unix(1000, 0)
	// two matching frames needed: the Handle reading only commits on its
	// second vote (consensus threshold 2), and that same frame then passes
	// the required-fields gate and advances the step.
	out1 := ProcessFrame(context.Background(), s, tmpl, v, noChallengeSource, idGen("c"), now, codec.Frame{ImageData: "x"})
	if out1.Completed {
		t.Fatalf("should not complete on first frame")
	}
	now = now.Add(time.Second)
	out2 := ProcessFrame(context.Background(), s, tmpl, v, noChallengeSource, idGen("c"), now, codec.Frame{ImageData: "x"})

	if s.CurrentStep != 1 {
		t.Fatalf("expected step advance to 1, got %d", s.CurrentStep)
	}
	foundStepComplete := false
	for _, msg := range out2.Outbound {
		if strings.Contains(string(msg), `"type":"stepComplete"`) {
			foundStepComplete = true
		}
	}
	if !foundStepComplete {
		t.Fatalf("expected stepComplete message, got %v", out2.Outbound)
	}
}

func TestProcessFrameRequiredFieldGateBlocksAdvance(t *testing.T) {
	s := session.New("s1", "t1", "tmpl-1", "web", 0, 2, time.Unix(0, 0))
	s.LinkClicked[0] = true
	tmpl := twoStepTemplate()

	// Matches success criteria but never extracts the required Handle field.
	v := stubVision{analysis: &vision.Analysis{MatchesSuccessCriteria: true, Confidence: 0.9}}

	out := ProcessFrame(context.Background(), s, tmpl, v, noChallengeSource, idGen("c"), time.Unix(1000, 0), codec.Frame{ImageData: "x"})
	if s.CurrentStep != 0 {
		t.Fatalf("expected step to stay at 0 without required field, got %d", s.CurrentStep)
	}
	if out.Completed {
		t.Fatalf("should not complete")
	}
}

func TestProcessFrameChallengeIssuedWhenSampled(t *testing.T) {
	s := session.New("s1", "t1", "tmpl-1", "web", 0, 1, time.Unix(0, 0))
	s.LinkClicked[0] = true
	tmpl := &session.Template{Steps: []session.Step{{
		Instruction:      "Enter your handle",
		SuccessCriteria:  "Handle is visible",
		RequireLinkClick: true,
		Fields:           []session.ExtractionField{{Name: "Handle", Required: true}},
		Challenges:       []session.ChallengeDef{{Instruction: "wave at the camera", SuccessCriteria: "waved"}},
	}}}

	v := stubVision{analysis: &vision.Analysis{
		MatchesSuccessCriteria: true,
		Confidence:             0.9,
		ExtractedData:          []session.ExtractedPair{{Label: "Handle", Value: "@alice"}},
	}}

	now := time.Unix(1000, 0)
	ProcessFrame(context.Background(), s, tmpl, v, fixedSource{float64Val: 0.1}, idGen("chal-1"), now, codec.Frame{ImageData: "x"})
	now = now.Add(time.Second)
	out := ProcessFrame(context.Background(), s, tmpl, v, fixedSource{float64Val: 0.1}, idGen("chal-1"), now, codec.Frame{ImageData: "x"})

	if s.ActiveChallenge == nil {
		t.Fatalf("expected challenge issued instead of advancing")
	}
	if s.CurrentStep != 0 {
		t.Fatalf("expected step to stay at 0 while challenge pending, got %d", s.CurrentStep)
	}
	found := false
	for _, msg := range out.Outbound {
		if strings.Contains(string(msg), `"type":"challenge"`) {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected challenge message, got %v", out.Outbound)
	}
}

func TestProcessFrameChallengeTimeoutForcesAdvance(t *testing.T) {
	s := session.New("s1", "t1", "tmpl-1", "web", 0, 2, time.Unix(0, 0))
	s.LinkClicked[0] = true
	tmpl := twoStepTemplate()
	s.ActiveChallenge = &session.ActiveChallenge{ID: "chal-1", IssuedAt: time.Unix(1000, 0), Timeout: 15 * time.Second}
	s.ChallengeIssuedForStep[0] = true

	v := stubVision{analysis: &vision.Analysis{MatchesSuccessCriteria: false, Confidence: 0.1}}
	now := time.Unix(1000, 0).Add(16 * time.Second)

	out := ProcessFrame(context.Background(), s, tmpl, v, noChallengeSource, idGen("c"), now, codec.Frame{ImageData: "x"})

	if s.ActiveChallenge != nil {
		t.Fatalf("expected challenge cleared on expiry")
	}
	if len(s.ChallengeAudit) != 1 || s.ChallengeAudit[0].Passed {
		t.Fatalf("expected failed audit entry, got %+v", s.ChallengeAudit)
	}
	if s.CurrentStep != 1 {
		t.Fatalf("expected step to advance despite failing frame, got %d", s.CurrentStep)
	}
	_ = out
}

// requestCapturingVision records the last Request it was asked to analyze.
type requestCapturingVision struct {
	analysis *vision.Analysis
	lastReq  *vision.Request
}

func (v *requestCapturingVision) Analyze(ctx context.Context, req vision.Request) (*vision.Analysis, error) {
	v.lastReq = &req
	return v.analysis, nil
}

func TestProcessFrameOmitsSchemaAndHostWhileChallengeActive(t *testing.T) {
	s := session.New("s1", "t1", "tmpl-1", "web", 0, 2, time.Unix(0, 0))
	s.LinkClicked[0] = true
	tmpl := twoStepTemplate()
	s.ActiveChallenge = &session.ActiveChallenge{ID: "chal-1", Instruction: "Say the code aloud", SuccessCriteria: "code spoken", IssuedAt: time.Unix(1000, 0), Timeout: 15 * time.Second}
	s.ChallengeIssuedForStep[0] = true

	v := &requestCapturingVision{analysis: &vision.Analysis{MatchesSuccessCriteria: false, Confidence: 0.1}}
	now := time.Unix(1000, 0).Add(time.Second)

	ProcessFrame(context.Background(), s, tmpl, v, noChallengeSource, idGen("c"), now, codec.Frame{ImageData: "x"})

	if v.lastReq == nil {
		t.Fatalf("expected Analyze to be called")
	}
	if v.lastReq.ExtractionSchema != nil {
		t.Fatalf("expected extraction schema to be withheld during an active challenge, got %+v", v.lastReq.ExtractionSchema)
	}
	if v.lastReq.ExpectedHost != "" {
		t.Fatalf("expected expectedHost to be withheld during an active challenge, got %q", v.lastReq.ExpectedHost)
	}
}

func TestProcessFrameVisionFailureEmitsError(t *testing.T) {
	s := session.New("s1", "t1", "tmpl-1", "web", 0, 2, time.Unix(0, 0))
	s.LinkClicked[0] = true
	tmpl := twoStepTemplate()

	v := stubVision{err: context.DeadlineExceeded}
	out := ProcessFrame(context.Background(), s, tmpl, v, noChallengeSource, idGen("c"), time.Unix(1000, 0), codec.Frame{ImageData: "x"})

	if s.Status != session.Waiting {
		t.Fatalf("expected status waiting after vision failure, got %v", s.Status)
	}
	if len(out.Outbound) != 1 || !strings.Contains(string(out.Outbound[0]), "Analysis failed") {
		t.Fatalf("expected single error message, got %v", out.Outbound)
	}
}

func TestProcessFrameConsensusFiltering(t *testing.T) {
	s := session.New("s1", "t1", "tmpl-1", "web", 0, 2, time.Unix(0, 0))
	s.LinkClicked[0] = true
	tmpl := twoStepTemplate()

	values := []string{"@a", "@b", "@a"}
	now := time.Unix(1000, 0)
	for i, val := range values {
		v := stubVision{analysis: &vision.Analysis{
			MatchesSuccessCriteria: false, // keep from advancing so we can inspect intermediate vote state
			Confidence:             0.9,
			ExtractedData:          []session.ExtractedPair{{Label: "Handle", Value: val}},
		}}
		ProcessFrame(context.Background(), s, tmpl, v, noChallengeSource, idGen("c"), now, codec.Frame{ImageData: "x"})
		now = now.Add(time.Second)

		if i < 2 {
			if _, ok := s.CommittedValues["Handle"]; ok {
				t.Fatalf("should not commit before reaching consensus, frame %d", i)
			}
		}
	}
	entry, ok := s.CommittedValues["Handle"]
	if !ok || entry.Value != "@a" {
		t.Fatalf("expected Handle=@a committed after third frame, got %+v", s.CommittedValues)
	}
}
