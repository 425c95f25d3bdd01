package tally

import "time"

// ElectionResult is the finalized, published outcome of one election's
// tallying session. Immutable once written: the Engine must refuse a
// second finalize for the same election, and the Store must refuse to
// overwrite an existing row.
type ElectionResult struct {
	ElectionID       string
	Tally            []int64 // one count per candidate, candidate order
	TotalVotes       int64
	VerificationHash string
	BlockchainTxHash string // empty until publish_blockchain runs
	TrusteeIndices   []int  // the exact K trustees combined at finalize time
	FinalizedAt      time.Time
}
