// Package challenge implements the anti-forgery interaction-challenge
// subsystem (§4.4, §4.6): at most one challenge outstanding per session,
// issued with low probability after a successful step frame, and expired
// lazily — there is no per-challenge timer, only a check performed the next
// time a frame arrives.
package challenge

import (
	"time"

	"github.com/screenverify/engine/internal/rng"
	"github.com/screenverify/engine/internal/session"
)

// Probability is CHALLENGE_PROBABILITY (§3): the odds, per eligible step
// success, that a challenge is issued rather than skipped.
const Probability = 0.4

// CheckTimeout lazily expires the session's active challenge if its timeout
// has elapsed as of now. It returns true if a challenge was expired, in
// which case a failed outcome has already been appended to the audit log
// and the session's active challenge cleared (§4.6: "Expired once any
// subsequent frame is processed past its timeout").
func CheckTimeout(s *session.State, now time.Time) bool {
	ac := s.ActiveChallenge
	if ac == nil {
		return false
	}
	if now.Sub(ac.IssuedAt) <= ac.Timeout {
		return false
	}
	settle(s, ac, now, false)
	return true
}

// Settle records the outcome of the session's active challenge as passed or
// failed and clears it (§4.4 step 1). Calling it with no active challenge is
// a no-op.
func Settle(s *session.State, now time.Time, passed bool) {
	ac := s.ActiveChallenge
	if ac == nil {
		return
	}
	settle(s, ac, now, passed)
}

func settle(s *session.State, ac *session.ActiveChallenge, now time.Time, passed bool) {
	elapsed := now.Sub(ac.IssuedAt).Milliseconds()
	s.ChallengeAudit = append(s.ChallengeAudit, session.ChallengeOutcome{
		ID:         ac.ID,
		Step:       s.CurrentStep,
		Passed:     passed,
		ResponseMs: elapsed,
	})
	s.ActiveChallenge = nil
}

// TryIssue attempts to issue a challenge for the session's current step
// (§4.4 step 4). It issues one only if none has ever been issued for this
// step, none is currently active, the step defines at least one challenge,
// and the injected PRNG's draw falls under Probability. newID supplies a
// fresh opaque challenge identifier (production callers pass uuid.NewString;
// tests pass a deterministic generator). Returns the issued challenge, or
// nil if none was issued.
func TryIssue(s *session.State, step session.Step, now time.Time, source rng.Source, newID func() string) *session.ActiveChallenge {
	if s.ActiveChallenge != nil {
		return nil
	}
	if s.ChallengeIssuedForStep[s.CurrentStep] {
		return nil
	}
	if len(step.Challenges) == 0 {
		return nil
	}
	if source.Float64() >= Probability {
		return nil
	}

	def := step.Challenges[source.Intn(len(step.Challenges))]
	ac := &session.ActiveChallenge{
		ID:              newID(),
		Instruction:     def.Instruction,
		SuccessCriteria: def.SuccessCriteria,
		IssuedAt:        now,
		Timeout:         def.EffectiveTimeout(),
	}
	s.ActiveChallenge = ac
	s.ChallengeIssuedForStep[s.CurrentStep] = true
	return ac
}
