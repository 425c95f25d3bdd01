package tally

import (
	"time"

	"github.com/vericount/tallycore/crypto/paillier"
)

// ElectionState is the lifecycle state of an Election, advanced only by
// the Engine.
type ElectionState string

const (
	ElectionPending   ElectionState = "pending"
	ElectionActive    ElectionState = "active"
	ElectionTallying  ElectionState = "tallying"
	ElectionCompleted ElectionState = "completed"
	ElectionFailed    ElectionState = "failed"
)

// Election is identified by a stable opaque ID and carries the ordered
// candidate list and published Paillier public key.
//
// StartTime/EndTime are informational scheduling metadata only; they do
// not gate start_tally, whose guard remains exactly "election.state ==
// active, >= 1 ballot accepted".
type Election struct {
	ID         string
	Title      string
	Candidates []string // ordered; index+1 is the candidate's wire position
	PublicKey  *paillier.PublicKey
	Threshold  *paillier.Threshold
	State      ElectionState
	TotalVoters int
	StartTime  time.Time
	EndTime    time.Time
}

// CandidateCount returns M, the number of per-ballot ciphertexts.
func (e *Election) CandidateCount() int {
	return len(e.Candidates)
}
