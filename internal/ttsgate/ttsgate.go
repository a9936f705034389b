// Package ttsgate implements the TTS utterance gate (§4.5): the policy that
// decides whether a candidate guidance string is actually spoken, or
// suppressed as chatter. Decide is a pure function of (state, candidate,
// now) per the design note in spec.md §9 — it has no side effects and is
// exhaustively testable without a clock or a TTS port.
package ttsgate

import "time"

// QuietPeriod is TTS_QUIET_PERIOD_MS (§3): the window after a link click
// during which guidance is suppressed because the destination page is
// still loading.
const QuietPeriod = 4 * time.Second

// StuckTimeout is TTS_STUCK_TIMEOUT_MS (§3): how long without a new spoken
// instruction before the last one is repeated, in case the user is stuck.
const StuckTimeout = 15 * time.Second

// Action is the gate's verdict.
type Action int

const (
	Silent Action = iota
	Speak
)

// Input is the gate's full decision surface — every field the table in
// §4.5 reads.
type Input struct {
	Candidate         string
	Now               time.Time
	LinkClickedAt     time.Time
	Pending           string
	LastSpoken        string
	LastInstructionAt time.Time
}

// Decision is the gate's verdict plus the state updates the caller must
// apply. Text is only meaningful when Action == Speak — it may be the
// candidate (new guidance) or the repeated LastSpoken (stuck re-prompt),
// never both.
type Decision struct {
	Action            Action
	Text              string
	Pending           string
	LastSpoken        string
	LastInstructionAt time.Time
}

// Decide evaluates the gate (§4.5 table), in priority order: quiet period,
// then stability, then stuck timeout, else silent-and-remember.
func Decide(in Input) Decision {
	if in.Now.Sub(in.LinkClickedAt) < QuietPeriod {
		return Decision{
			Action:            Silent,
			Pending:           in.Candidate,
			LastSpoken:        in.LastSpoken,
			LastInstructionAt: in.LastInstructionAt,
		}
	}

	stable := in.Candidate == in.Pending
	new := in.Candidate != in.LastSpoken
	if stable && new {
		return Decision{
			Action:            Speak,
			Text:              in.Candidate,
			Pending:           "",
			LastSpoken:        in.Candidate,
			LastInstructionAt: in.Now,
		}
	}

	stuck := in.Now.Sub(in.LastInstructionAt) >= StuckTimeout
	if stuck && in.LastSpoken != "" {
		return Decision{
			Action:            Speak,
			Text:              in.LastSpoken,
			Pending:           in.Pending,
			LastSpoken:        in.LastSpoken,
			LastInstructionAt: in.Now,
		}
	}

	return Decision{
		Action:            Silent,
		Pending:           in.Candidate,
		LastSpoken:        in.LastSpoken,
		LastInstructionAt: in.LastInstructionAt,
	}
}
