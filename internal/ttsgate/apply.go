package ttsgate

import (
	"time"

	"github.com/screenverify/engine/internal/session"
)

// Apply runs Decide against a session's live gate fields and writes back
// whichever of Pending/LastSpoken/LastInstructionAt the decision updates,
// returning the decision so the caller can act on Action/Text.
func Apply(s *session.State, candidate string, now time.Time) Decision {
	d := Decide(Input{
		Candidate:         candidate,
		Now:               now,
		LinkClickedAt:     s.LinkClickedAt,
		Pending:           s.PendingAction,
		LastSpoken:        s.LastSpoken,
		LastInstructionAt: s.LastInstructionAt,
	})

	s.PendingAction = d.Pending
	s.LastSpoken = d.LastSpoken
	s.LastInstructionAt = d.LastInstructionAt
	if d.Action == Speak {
		s.LastSpokenAt = now
	}
	return d
}
