package tally

import (
	"time"

	"github.com/vericount/tallycore/crypto/paillier"
)

// SessionState enumerates the TallyingSession lifecycle. Transitions are
// strictly monotonic; the Engine is the only writer.
type SessionState string

const (
	SessionInitiated   SessionState = "initiated"
	SessionAggregating SessionState = "aggregating"
	SessionDecrypting  SessionState = "decrypting"
	SessionFinalizing  SessionState = "finalizing"
	SessionCompleted   SessionState = "completed"
	SessionFailed      SessionState = "failed"
)

// order gives each state's position in the monotonic sequence, used to
// assert no back-transition ever happens.
var order = map[SessionState]int{
	SessionInitiated:   0,
	SessionAggregating: 1,
	SessionDecrypting:  2,
	SessionFinalizing:  3,
	SessionCompleted:   4,
	SessionFailed:      5, // reachable from any non-terminal state, not ordered against them
}

// TallyingSession is one-to-one with an Election.
type TallyingSession struct {
	ElectionID         string
	State              SessionState
	Aggregated         []*paillier.Ciphertext // filled on transition into decrypting
	RequiredTrustees   int
	CompletedTrustees  int
	StartedAt          time.Time
	CompletedAt        time.Time
	ErrorMessage       string
}

// canTransition reports whether moving from s to next is a legal, forward
// (or failed-from-anywhere) transition.
func canTransition(s, next SessionState) bool {
	if next == SessionFailed {
		return s != SessionCompleted && s != SessionFailed
	}
	return order[next] == order[s]+1
}
