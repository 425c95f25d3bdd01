package tally

import (
	"context"
	"fmt"
	"math"
	"time"

	big "github.com/ncw/gmp"

	"github.com/vericount/tallycore/crypto/paillier"
)

// Verifier re-derives an election's published result from its stored
// aggregated ciphertexts and partial decryptions, and checks it against
// the recorded VerificationHash. It is kept separate from Engine so an
// auditor can run it against a read-only Store without holding any
// tallying-session locks.
type Verifier struct {
	Store   Store
	Audit   AuditStore
	Key     *paillier.Threshold
	Shares  map[int]*paillier.Share // only needed if re-running partial decryption; normally nil
}

// VerifyResult recomputes the combine step from the persisted partial
// decryptions and compares the recomputed verification hash and tally
// against the ones recorded at finalize time. It returns (true, nil) only when every
// check passes; any structural problem is reported as an error, while a
// hash or tally mismatch is reported as (false, nil) so callers can distinguish
// "verification ran and failed" from "verification could not run".
func (v *Verifier) VerifyResult(ctx context.Context, electionID string) (bool, error) {
	election, err := v.Store.GetElection(ctx, electionID)
	if err != nil {
		return false, newErr(StorageError, "verify_result", "load election", err)
	}
	result, err := v.Store.GetResult(ctx, electionID)
	if err != nil {
		return false, newErr(StorageError, "verify_result", "load result", err)
	}
	if result == nil {
		return false, newErr(StateError, "verify_result", "not finalized", fmt.Errorf("%w: election %s", ErrNotFinalized, electionID))
	}

	session, err := v.Store.GetSession(ctx, electionID)
	if err != nil {
		return false, newErr(StorageError, "verify_result", "load session", err)
	}
	if session == nil || session.Aggregated == nil {
		return false, newErr(StateError, "verify_result", "no aggregated ciphertexts", fmt.Errorf("%w: no aggregated ciphertexts recorded for election %s", ErrNotFinalized, electionID))
	}

	records, err := v.Store.ListPartials(ctx, electionID)
	if err != nil {
		return false, newErr(StorageError, "verify_result", "load partials", err)
	}
	// recombine only the trustee subset finalize actually used, not every
	// verified partial on file: more trustees may have submitted since.
	chosen := filterByIndices(records, result.TrusteeIndices)

	tally, err := recombineTally(v.Key, session.Aggregated, chosen)
	if err != nil {
		ok := false
		v.recordProof(ctx, electionID, "recombine", ok)
		return false, newErr(CryptoError, "verify_result", "recombine tally", err)
	}

	recomputed, err := VerificationHash(election.ID, v.Key.PublicKey.N, session.Aggregated, tally, trusteeIndices(chosen))
	if err != nil {
		return false, newErr(CryptoError, "verify_result", "compute hash", err)
	}

	ok := recomputed == result.VerificationHash && len(tally) == len(result.Tally)
	for j := 0; ok && j < len(tally); j++ {
		ok = tally[j] == result.Tally[j]
	}
	v.recordProof(ctx, electionID, "verification_hash", ok)
	return ok, nil
}

func (v *Verifier) recordProof(ctx context.Context, electionID, proofType string, ok bool) {
	if v.Audit == nil {
		return
	}
	_ = v.Audit.AppendProof(&VerificationProof{
		ElectionID: electionID,
		ProofType:  proofType,
		IsValid:    ok,
		VerifiedAt: time.Now().UTC(),
	})
}

// recombineTally runs Combine once per candidate, using whichever K
// verified partial decryptions are present for that candidate's column
// across the submitted PartialDecryptionRecords.
func recombineTally(t *paillier.Threshold, aggregated []*paillier.Ciphertext, records []*PartialDecryptionRecord) ([]int64, error) {
	if len(aggregated) == 0 {
		return nil, fmt.Errorf("%w: no aggregated ciphertexts", paillier.ErrCombine)
	}
	tally := make([]int64, len(aggregated))
	for candidate := range aggregated {
		parts := make([]*paillier.PartialDecryption, 0, len(records))
		for _, r := range records {
			if !r.Verified || candidate >= len(r.Partials) {
				continue
			}
			parts = append(parts, r.Partials[candidate])
		}
		plaintext, err := paillier.Combine(t, parts)
		if err != nil {
			return nil, fmt.Errorf("candidate %d: %w", candidate, err)
		}
		if !fitsInt64(plaintext) {
			return nil, fmt.Errorf("%w: candidate %d tally overflows int64", ErrPlaintextOverflow, candidate)
		}
		tally[candidate] = plaintext.Int64()
	}
	return tally, nil
}

var (
	minInt64 = big.NewInt(math.MinInt64)
	maxInt64 = big.NewInt(math.MaxInt64)
)

// fitsInt64 reports whether x can be represented as an int64. gmp.Int, unlike
// math/big.Int, has no IsInt64 method.
func fitsInt64(x *big.Int) bool {
	return x.Cmp(minInt64) >= 0 && x.Cmp(maxInt64) <= 0
}

func trusteeIndices(records []*PartialDecryptionRecord) []int {
	out := make([]int, 0, len(records))
	for _, r := range records {
		if r.Verified {
			out = append(out, r.Index)
		}
	}
	return out
}

// filterByIndices returns the subset of records whose trustee index is in
// indices, preserving records' order.
func filterByIndices(records []*PartialDecryptionRecord, indices []int) []*PartialDecryptionRecord {
	want := make(map[int]bool, len(indices))
	for _, idx := range indices {
		want[idx] = true
	}
	out := make([]*PartialDecryptionRecord, 0, len(indices))
	for _, r := range records {
		if want[r.Index] {
			out = append(out, r)
		}
	}
	return out
}
