// Package consensus implements the extraction consensus algorithm (§4.3):
// per-frame vision readings for a (label, value) pair accumulate votes, and
// a value is committed only once it reaches a plurality of at least
// CONSENSUS_THRESHOLD votes for its label. Ties are broken in favor of
// whichever value was observed first.
package consensus

import (
	"strings"

	"github.com/screenverify/engine/internal/session"
)

// Threshold is the minimum vote count a value needs to become (or remain)
// committed for its label (§3 constants: CONSENSUS_THRESHOLD = 2).
const Threshold = 2

// Record applies one vision-reported (label, value) observation to the
// session's vote table, and updates the committed value for that label if
// the observation's value now holds a strict plurality at or above
// Threshold (§4.3). Empty labels, or values that are empty after trimming,
// are dropped without effect — absence of a reading is not itself a vote.
func Record(s *session.State, label, value string) {
	label = strings.TrimSpace(label)
	value = strings.TrimSpace(value)
	if label == "" || value == "" {
		return
	}

	if _, ok := s.Votes.Counts[label]; !ok {
		s.Votes.Counts[label] = make(map[string]int)
	}
	if _, seen := s.Votes.Counts[label][value]; !seen {
		s.Votes.Order[label] = append(s.Votes.Order[label], value)
	}
	s.Votes.Counts[label][value]++

	recomputeCommit(s, label)
}

// RecordAll applies a batch of observations in order, as produced by a
// single frame's extraction fields (§4.2 step 8).
func RecordAll(s *session.State, pairs []session.ExtractedPair) {
	for _, p := range pairs {
		Record(s, p.Label, p.Value)
	}
}

// recomputeCommit finds the current plurality winner for label among its
// vote counts, breaking ties by first-observed order, and commits it only
// if its count is >= Threshold and strictly greater than the count backing
// the label's current commitment (§4.3: "never demoted by an equal count").
func recomputeCommit(s *session.State, label string) {
	counts := s.Votes.Counts[label]
	order := s.Votes.Order[label]

	var winner string
	var winnerCount int
	for _, v := range order {
		c := counts[v]
		if c > winnerCount {
			winner = v
			winnerCount = c
		}
	}
	if winnerCount < Threshold {
		return
	}

	current, hasCurrent := s.CommittedValues[label]
	if hasCurrent && winnerCount <= current.Count {
		return
	}

	if !hasCurrent {
		s.CommittedOrder = append(s.CommittedOrder, label)
	}
	s.CommittedValues[label] = session.CommittedEntry{Value: winner, Count: winnerCount}
}
