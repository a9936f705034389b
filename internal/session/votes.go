package session

// VoteTable holds the raw per-label, per-value vote tallies used by the
// extraction consensus algorithm (package consensus). It is never
// serialized to clients — only the committed extracted-data list
// (State.ExtractedData) is (§3, §4.3).
type VoteTable struct {
	// Order records, per label, the values in first-seen order. Consensus
	// ties are broken in favor of the earlier-seen value (§4.3).
	Order map[string][]string `json:"order"`
	// Counts records, per label, the vote count for each observed value.
	Counts map[string]map[string]int `json:"counts"`
}

// NewVoteTable returns an empty VoteTable.
func NewVoteTable() VoteTable {
	return VoteTable{
		Order:  make(map[string][]string),
		Counts: make(map[string]map[string]int),
	}
}

// CommittedEntry is a label's currently-committed value plus the vote count
// that earned it, so later challengers can be compared against it (§4.3:
// "only replaced by a higher-plurality competitor").
type CommittedEntry struct {
	Value string `json:"value"`
	Count int    `json:"count"`
}

// ExtractedPair is a (label, value) pair as it appears in the client-facing
// committed extracted-data list.
type ExtractedPair struct {
	Label string `json:"label"`
	Value string `json:"value"`
}
