package tally

import (
	"time"

	"github.com/vericount/tallycore/crypto/paillier"
)

// EncryptedBallot is one voter's contribution: a vector of M ciphertexts,
// one per candidate, c_j = E(b_j) with b_j in {0,1} and sum(b_j) <= 1.
// Well-formedness of b_j (that it really is 0 or 1, and sums to at most 1)
// is proved by the upstream ballot issuer; this core trusts the
// ciphertext vector it is handed.
type EncryptedBallot struct {
	ElectionID string
	VoteID     string
	Nonce      string // replay guard, must be unique per election
	Votes      []*paillier.Ciphertext
	Timestamp  time.Time
	IsTallied  bool
}
