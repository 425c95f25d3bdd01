package tally

import (
	"time"

	"github.com/vericount/tallycore/crypto/paillier"
)

// PartialDecryptionRecord is one trustee's submission for one tallying
// session: a per-candidate partial decryption plus its proof.
//
// At most one record per (election, trustee) is accepted; duplicates
// return ErrDuplicatePartial.
type PartialDecryptionRecord struct {
	ElectionID string
	TrusteeID  string
	Index      int
	Partials   []*paillier.PartialDecryption // one per candidate, candidate order
	Proofs     []*paillier.DecryptionProof    // one per candidate, candidate order
	Verified   bool
	Timestamp  time.Time
}

// Trustee is a ceremony participant's roster entry: its id, its share
// index and its status. The trustee's secret share and its public
// commitment are not held here; the commitment that verify_partial checks
// proofs against is paillier.Threshold.Vi[Index-1].
type Trustee struct {
	ID     string
	Index  int
	Status string // "active" | "revoked"
}
