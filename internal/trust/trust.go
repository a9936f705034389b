// Package trust accumulates per-frame anti-forgery signals during a session
// and scores them into an advisory 0..1 composite at completion (§4.7). The
// score is never a hard gate — it is metadata attached to the persisted
// session, not a reason to reject one.
package trust

import (
	"math"
	"time"

	"github.com/screenverify/engine/internal/session"
)

// RecordFrame folds one analyzed frame's signals into the trust accumulator
// (§4.2 step 7). hasExpectedHost is whether the current step asserts an
// expectedHost — the not-verified counter only increments when it does
// (§9 open question: "urlVerified counting").
func RecordFrame(t *session.Trust, now time.Time, hash string, hasExpectedHost bool, urlVerified, visualContinuity *bool, description string) {
	t.FramesAnalyzed++
	t.PushFrameTimestamp(now)
	if hash != "" {
		t.PushFrameHash(hash)
	}

	if hasExpectedHost && urlVerified != nil {
		if *urlVerified {
			t.URLVerifiedCount++
		} else {
			t.URLNotVerifiedCount++
		}
	}

	if visualContinuity != nil {
		if *visualContinuity {
			t.VisualContinuityConsistent++
		} else {
			t.VisualContinuityDiscontinuous++
		}
	}

	if description != "" {
		t.PrevFrameDescription = description
	}
}

// Signals is the materialized bundle the composite score is computed from,
// reported alongside the score for auditability.
type Signals struct {
	URLVerified      bool    `json:"urlVerified"`
	URLVerifiedRatio float64 `json:"urlVerifiedRatio"`

	ChallengeOutcome     string `json:"challengeOutcome"` // "passed", "failed", "none"
	ChallengeResponseMs  int64  `json:"challengeResponseMs,omitempty"`
	ChallengeWasIssued   bool   `json:"challengeWasIssued"`

	SessionDurationMs int64 `json:"sessionDurationMs"`
	FramesAnalyzed    int   `json:"framesAnalyzed"`
	DisplaySurface    string `json:"displaySurface"`

	TemporalSamples               int     `json:"temporalSamples"`
	TemporalMeanMs                float64 `json:"temporalMeanMs"`
	TemporalStdDevMs              float64 `json:"temporalStdDevMs"`
	TemporalCV                    float64 `json:"temporalCV"`
	TemporalSuspiciouslyFastCount int     `json:"temporalSuspiciouslyFastCount"`
	TemporalTotalIntervals        int     `json:"temporalTotalIntervals"`

	FrameSamples            int     `json:"frameSamples"`
	FrameDuplicatePairCount int     `json:"frameDuplicatePairCount"`
	FrameAbruptChangeCount  int     `json:"frameAbruptChangeCount"`
	FrameTotalTransitions   int     `json:"frameTotalTransitions"`
	FrameUniqueRatio        float64 `json:"frameUniqueRatio"`

	VisualContinuityConsistent    int     `json:"visualContinuityConsistent"`
	VisualContinuityDiscontinuous int     `json:"visualContinuityDiscontinuous"`
	VisualContinuityRatio        float64 `json:"visualContinuityRatio"`
}

// Result is the output of Score: the composite, its inputs, and the flags
// raised along the way.
type Result struct {
	Score   float64  `json:"score"`
	Signals Signals  `json:"signals"`
	Flags   []string `json:"flags"`
}

// minTemporalSamples and minFrameSamples are the sample floors below which
// the corresponding signal is treated as neutral (full credit, no flag) —
// there isn't enough data yet to penalize (§4.7: "≥3 samples", "≥3 samples").
const (
	minTemporalSamples = 3
	minFrameSamples    = 3
	minContinuitySamples = 1

	suspiciouslyFastInterval = 200 * time.Millisecond
)

// Score computes the 0..1 composite trust score at session completion
// (§4.7). audit is the session's challenge outcome log; durationEnd is the
// "now" at which the session completed.
func Score(t session.Trust, audit []session.ChallengeOutcome, durationEnd time.Time) Result {
	var flags []string
	sig := Signals{
		FramesAnalyzed: t.FramesAnalyzed,
		DisplaySurface: t.DisplaySurface,
	}

	var total float64

	// URL verification: 20%, scaled by verified-ratio. No assertion ever
	// made (total==0) is treated as neutral (full credit).
	urlTotal := t.URLVerifiedCount + t.URLNotVerifiedCount
	var urlRatio float64 = 1.0
	if urlTotal > 0 {
		urlRatio = float64(t.URLVerifiedCount) / float64(urlTotal)
	}
	sig.URLVerified = t.URLVerifiedCount > 0 && t.URLNotVerifiedCount == 0
	sig.URLVerifiedRatio = urlRatio
	total += 0.20 * urlRatio
	if urlTotal > 0 && !sig.URLVerified {
		flags = append(flags, "url_not_verified")
	}

	// Challenge: 25% if one was issued, 15% flat credit if not.
	if len(audit) == 0 {
		sig.ChallengeOutcome = "none"
		total += 0.15
	} else {
		last := audit[len(audit)-1]
		sig.ChallengeWasIssued = true
		sig.ChallengeResponseMs = last.ResponseMs
		if last.Passed {
			sig.ChallengeOutcome = "passed"
			total += 0.25
		} else {
			sig.ChallengeOutcome = "failed"
			flags = append(flags, "challenge_failed")
		}
	}

	// Session duration: 10%, banded.
	duration := durationEnd.Sub(t.SessionStart)
	sig.SessionDurationMs = duration.Milliseconds()
	switch {
	case duration < 15*time.Second:
		total += 0.03
		flags = append(flags, "session_too_fast")
	case duration > 300*time.Second:
		total += 0.05
		flags = append(flags, "session_too_slow")
	default:
		total += 0.10
	}

	// Frame coverage: 5%, banded.
	switch {
	case t.FramesAnalyzed >= 4:
		total += 0.05
	case t.FramesAnalyzed >= 2:
		total += 0.025
		flags = append(flags, "low_frame_count")
	default:
		flags = append(flags, "very_low_frame_count")
	}

	// Display surface: 5%.
	switch {
	case t.DisplaySurface == "monitor":
		total += 0.05
	case t.DisplaySurface == "":
		total += 0.025
	default:
		total += 0.025
		flags = append(flags, "display_surface_partial")
	}

	// Temporal consistency: 15%, with deductions.
	temporalCredit, temporalFlags := scoreTemporal(t.FrameTimestamps.Items, t.FrameHashes.Items, &sig)
	total += temporalCredit
	flags = append(flags, temporalFlags...)

	// Frame similarity: 10%, with deductions.
	similarityCredit, similarityFlags := scoreSimilarity(t.FrameHashes.Items, &sig)
	total += similarityCredit
	flags = append(flags, similarityFlags...)

	// Visual continuity: 10%, banded.
	continuityCredit, continuityFlags := scoreContinuity(t.VisualContinuityConsistent, t.VisualContinuityDiscontinuous, &sig)
	total += continuityCredit
	flags = append(flags, continuityFlags...)

	return Result{
		Score:   math.Round(clamp01(total)*100) / 100,
		Signals: sig,
		Flags:   flags,
	}
}

// scoreTemporal flags an interval as suspiciously fast only when it also
// coincides with a hash change (§4.7): a burst of fast-but-identical frames
// is ordinary buffering, not evidence of frame injection. hashes is compared
// index-for-index with timestamps only when both rings have the same length
// (RecordFrame pushes a hash only for frames that carry one); on a length
// mismatch the hash-change correlation is disabled for every interval, and
// every fast interval counts, rather than risk comparing unrelated frames.
func scoreTemporal(timestamps []time.Time, hashes []string, sig *Signals) (float64, []string) {
	n := len(timestamps)
	sig.TemporalSamples = n
	if n < minTemporalSamples {
		return 0.15, nil
	}

	hashesAligned := len(hashes) == n

	intervals := make([]float64, 0, n-1)
	fastCount := 0
	for i := 1; i < n; i++ {
		d := timestamps[i].Sub(timestamps[i-1])
		intervals = append(intervals, float64(d.Milliseconds()))
		hashChanged := !hashesAligned || hashes[i] != hashes[i-1]
		if d < suspiciouslyFastInterval && hashChanged {
			fastCount++
		}
	}

	mean := meanOf(intervals)
	stddev := stddevOf(intervals, mean)
	cv := 0.0
	if mean > 0 {
		cv = stddev / mean
	}

	sig.TemporalMeanMs = mean
	sig.TemporalStdDevMs = stddev
	sig.TemporalCV = cv
	sig.TemporalSuspiciouslyFastCount = fastCount
	sig.TemporalTotalIntervals = len(intervals)

	credit := 0.15
	var flags []string
	if n >= 4 && cv < 0.05 {
		credit -= 0.075
		flags = append(flags, "timing_too_uniform")
	}
	if len(intervals) > 0 && float64(fastCount)/float64(len(intervals)) > 0.3 {
		credit -= 0.075
		flags = append(flags, "timing_suspiciously_fast")
	}
	return math.Max(credit, 0), flags
}

func scoreSimilarity(hashes []string, sig *Signals) (float64, []string) {
	n := len(hashes)
	sig.FrameSamples = n
	if n < minFrameSamples {
		return 0.10, nil
	}

	dup := 0
	abrupt := 0
	seen := make(map[string]bool, n)
	for i, h := range hashes {
		seen[h] = true
		if i > 0 && hashes[i] == hashes[i-1] {
			dup++
		}
		if i >= 2 && hashes[i] != hashes[i-1] && hashes[i-1] != hashes[i-2] && hashes[i] != hashes[i-2] {
			abrupt++
		}
	}
	transitions := n - 1
	uniqueRatio := float64(len(seen)) / float64(n)

	sig.FrameDuplicatePairCount = dup
	sig.FrameAbruptChangeCount = abrupt
	sig.FrameTotalTransitions = transitions
	sig.FrameUniqueRatio = uniqueRatio

	credit := 0.10
	var flags []string
	if transitions > 0 && float64(dup)/float64(transitions) > 0.4 {
		credit -= 1.0 / 3 * 0.10
		flags = append(flags, "frame_replay_suspected")
	}
	if uniqueRatio < 0.3 {
		credit -= 1.0 / 3 * 0.10
		flags = append(flags, "frame_looping_suspected")
	}
	if transitions > 0 && float64(abrupt)/float64(transitions) > 0.5 {
		credit -= 1.0 / 3 * 0.10
		flags = append(flags, "frame_splicing_suspected")
	}
	return math.Max(credit, 0), flags
}

func scoreContinuity(consistent, discontinuous int, sig *Signals) (float64, []string) {
	total := consistent + discontinuous
	if total < minContinuitySamples {
		return 0.10, nil
	}

	ratio := float64(consistent) / float64(total)
	sig.VisualContinuityRatio = ratio

	switch {
	case ratio >= 0.8:
		return 0.10, nil
	case ratio >= 0.5:
		return 0.05, []string{"visual_continuity_partial"}
	default:
		return 0, []string{"visual_continuity_poor"}
	}
}

func meanOf(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	var sum float64
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}

func stddevOf(xs []float64, mean float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	var sumSq float64
	for _, x := range xs {
		d := x - mean
		sumSq += d * d
	}
	return math.Sqrt(sumSq / float64(len(xs)))
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
