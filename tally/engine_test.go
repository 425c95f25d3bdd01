package tally_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	big "github.com/ncw/gmp"

	"github.com/vericount/tallycore/crypto/paillier"
	"github.com/vericount/tallycore/storage/memory"
	"github.com/vericount/tallycore/tally"
)

// fixture wires a small election end-to-end: a fast (non-production-sized)
// Paillier key pair, a K-of-N trustee ceremony, an in-memory Store, and a
// ready Engine.
type fixture struct {
	t          *testing.T
	ctx        context.Context
	sk         *paillier.PrivateKey
	shares     []*paillier.Share
	threshold  *paillier.Threshold
	election   *tally.Election
	store      *memory.Store
	engine     *tally.Engine
	candidates []string
}

func newFixture(t *testing.T, electionSuffix string, k, n int, candidates []string) *fixture {
	t.Helper()
	sk, err := paillier.GenerateKeyPairInsecure(context.Background(), 128)
	if err != nil {
		t.Fatalf("GenerateKeyPairInsecure: %v", err)
	}
	shares, err := paillier.IssueShares(sk, k, n)
	if err != nil {
		t.Fatalf("IssueShares: %v", err)
	}

	election := &tally.Election{
		ID:          fmt.Sprintf("00000000-0000-0000-0000-%012s", electionSuffix),
		Title:       "fixture election",
		Candidates:  candidates,
		PublicKey:   sk.PublicKey,
		Threshold:   shares[0].Threshold,
		State:       tally.ElectionActive,
		TotalVoters: 100,
	}

	store := memory.New()
	ctx := context.Background()
	if err := store.SaveElection(ctx, election); err != nil {
		t.Fatalf("SaveElection: %v", err)
	}

	engine := tally.NewEngine(store, store, tally.NoopPublisher{})
	return &fixture{t: t, ctx: ctx, sk: sk, shares: shares, threshold: shares[0].Threshold, election: election, store: store, engine: engine, candidates: candidates}
}

// castBallot encrypts a one-hot vote vector (vote goes to candidateIndex)
// and stores it.
func (f *fixture) castBallot(voteID string, candidateIndex int) {
	f.t.Helper()
	votes := make([]*paillier.Ciphertext, len(f.candidates))
	for j := range votes {
		m := int64(0)
		if j == candidateIndex {
			m = 1
		}
		ct, err := f.sk.PublicKey.Encrypt(big.NewInt(m))
		if err != nil {
			f.t.Fatalf("Encrypt: %v", err)
		}
		votes[j] = ct
	}
	ballot := &tally.EncryptedBallot{
		ElectionID: f.election.ID,
		VoteID:     voteID,
		Nonce:      "nonce-" + voteID,
		Votes:      votes,
		Timestamp:  time.Now().UTC(),
	}
	if err := f.store.SaveBallot(f.ctx, ballot); err != nil {
		f.t.Fatalf("SaveBallot: %v", err)
	}
}

// submitTrustee runs partial_decrypt + prove for shares[shareIdx] against
// the session's aggregated ciphertexts and submits it to the engine.
func (f *fixture) submitTrustee(shareIdx int) (*tally.TallyingSession, error) {
	f.t.Helper()
	session, err := f.store.GetSession(f.ctx, f.election.ID)
	if err != nil || session == nil {
		f.t.Fatalf("GetSession: %v (session=%v)", err, session)
	}
	share := f.shares[shareIdx]
	partials := make([]*paillier.PartialDecryption, len(session.Aggregated))
	proofs := make([]*paillier.DecryptionProof, len(session.Aggregated))
	for j, ct := range session.Aggregated {
		partials[j] = share.PartialDecrypt(ct)
		proofs[j] = share.Prove(ct, partials[j])
	}
	trusteeID := fmt.Sprintf("trustee-%d", share.Index)
	return f.engine.SubmitPartial(f.ctx, f.election.ID, trusteeID, share.Index, partials, proofs)
}

func TestEndToEndTallySmallElection(t *testing.T) {
	f := newFixture(t, "000000000001", 2, 3, []string{"alice", "bob"})
	f.castBallot("v1", 0)
	f.castBallot("v2", 0)
	f.castBallot("v3", 1)

	if _, err := f.engine.StartTally(f.ctx, f.election.ID); err != nil {
		t.Fatalf("StartTally: %v", err)
	}
	if _, err := f.submitTrustee(0); err != nil {
		t.Fatalf("submitTrustee(0): %v", err)
	}
	if _, err := f.submitTrustee(1); err != nil {
		t.Fatalf("submitTrustee(1): %v", err)
	}

	result, err := f.engine.Finalize(f.ctx, f.election.ID)
	if err != nil {
		t.Fatalf("Finalize: %v", err)
	}
	if result.Tally[0] != 2 || result.Tally[1] != 1 {
		t.Fatalf("tally = %v, want [2 1]", result.Tally)
	}
	if result.TotalVotes != 3 {
		t.Fatalf("total votes = %d, want 3", result.TotalVotes)
	}

	ok, err := f.engine.VerifyResult(f.ctx, f.election.ID)
	if err != nil {
		t.Fatalf("VerifyResult: %v", err)
	}
	if !ok {
		t.Fatal("VerifyResult = false, want true for an untampered election")
	}

	txHash, err := f.engine.PublishBlockchain(f.ctx, f.election.ID)
	if err != nil {
		t.Fatalf("PublishBlockchain: %v", err)
	}
	if txHash == "" {
		t.Fatal("PublishBlockchain returned empty tx hash")
	}
}

// threshold boundary: finalize must fail below K trustees and succeed at K.
func TestFinalizeFailsBelowThreshold(t *testing.T) {
	f := newFixture(t, "000000000002", 2, 3, []string{"alice", "bob"})
	f.castBallot("v1", 0)

	if _, err := f.engine.StartTally(f.ctx, f.election.ID); err != nil {
		t.Fatalf("StartTally: %v", err)
	}
	if _, err := f.submitTrustee(0); err != nil {
		t.Fatalf("submitTrustee(0): %v", err)
	}
	if _, err := f.engine.Finalize(f.ctx, f.election.ID); err == nil {
		t.Fatal("Finalize succeeded with only 1 of 2 required trustees")
	}

	if _, err := f.submitTrustee(1); err != nil {
		t.Fatalf("submitTrustee(1): %v", err)
	}
	if _, err := f.engine.Finalize(f.ctx, f.election.ID); err != nil {
		t.Fatalf("Finalize after 2nd trustee: %v", err)
	}
}

// a partial decryption computed under a trustee share issued for a
// completely different Paillier key must not let finalize silently produce
// a bogus result: combine has to fail and surface as a CryptoError.
func TestFinalizeFailsOnKeyMismatch(t *testing.T) {
	f := newFixture(t, "000000000008", 2, 3, []string{"alice", "bob"})
	f.castBallot("v1", 0)
	if _, err := f.engine.StartTally(f.ctx, f.election.ID); err != nil {
		t.Fatalf("StartTally: %v", err)
	}

	// a genuine submission from trustee 2, under the election's real key.
	if _, err := f.submitTrustee(1); err != nil {
		t.Fatalf("submitTrustee(1): %v", err)
	}

	// an independent Paillier key, never associated with this election,
	// standing in for a trustee whose share was issued under the wrong key
	// (e.g. mixed up between two ceremonies).
	foreignKey, err := paillier.GenerateKeyPairInsecure(f.ctx, 128)
	if err != nil {
		t.Fatalf("GenerateKeyPairInsecure: %v", err)
	}
	foreignShares, err := paillier.IssueShares(foreignKey, 2, 3)
	if err != nil {
		t.Fatalf("IssueShares: %v", err)
	}

	session, _ := f.store.GetSession(f.ctx, f.election.ID)
	foreignShare := foreignShares[0]
	partials := make([]*paillier.PartialDecryption, len(session.Aggregated))
	proofs := make([]*paillier.DecryptionProof, len(session.Aggregated))
	for j, ct := range session.Aggregated {
		partials[j] = foreignShare.PartialDecrypt(ct)
		proofs[j] = foreignShare.Prove(ct, partials[j])
	}

	// bypasses SubmitPartial (which would correctly reject this proof) to
	// reproduce a verified-but-mismatched record already present in
	// storage, the way it could arrive from a corrupted ceremony handoff.
	mismatched := &tally.PartialDecryptionRecord{
		ElectionID: f.election.ID,
		TrusteeID:  "trustee-mismatched",
		Index:      foreignShare.Index + 10,
		Partials:   partials,
		Proofs:     proofs,
		Verified:   true,
		Timestamp:  time.Now().UTC(),
	}
	if err := f.store.SavePartial(f.ctx, mismatched); err != nil {
		t.Fatalf("SavePartial: %v", err)
	}

	_, err = f.engine.Finalize(f.ctx, f.election.ID)
	if err == nil {
		t.Fatal("Finalize succeeded combining partials from two different Paillier keys")
	}
	if !tally.IsKind(err, tally.CryptoError) {
		t.Fatalf("Finalize error kind = %v, want CryptoError (err: %v)", err, err)
	}
}

// a tampered partial decryption must fail verify_partial and must not
// count toward completed_trustees.
func TestSubmitPartialRejectsTamperedProof(t *testing.T) {
	f := newFixture(t, "000000000003", 2, 3, []string{"alice", "bob"})
	f.castBallot("v1", 0)
	if _, err := f.engine.StartTally(f.ctx, f.election.ID); err != nil {
		t.Fatalf("StartTally: %v", err)
	}

	session, _ := f.store.GetSession(f.ctx, f.election.ID)
	share := f.shares[0]
	partials := make([]*paillier.PartialDecryption, len(session.Aggregated))
	proofs := make([]*paillier.DecryptionProof, len(session.Aggregated))
	for j, ct := range session.Aggregated {
		partials[j] = share.PartialDecrypt(ct)
		proofs[j] = share.Prove(ct, partials[j])
	}
	// tamper with the first candidate's partial decryption.
	tampered := new(big.Int).Add(partials[0].D, big.NewInt(1))
	partials[0] = &paillier.PartialDecryption{Index: share.Index, D: tampered}

	_, err := f.engine.SubmitPartial(f.ctx, f.election.ID, "trustee-1", share.Index, partials, proofs)
	if err == nil {
		t.Fatal("SubmitPartial succeeded with a tampered partial decryption")
	}

	rec, err := f.store.GetPartial(f.ctx, f.election.ID, "trustee-1")
	if err != nil || rec == nil {
		t.Fatalf("GetPartial: %v (rec=%v)", err, rec)
	}
	if rec.Verified {
		t.Fatal("tampered partial decryption was recorded as verified")
	}

	session, _ = f.store.GetSession(f.ctx, f.election.ID)
	if session.CompletedTrustees != 0 {
		t.Fatalf("completed_trustees = %d, want 0 after a rejected submission", session.CompletedTrustees)
	}
}

// a second submission from the same trustee is rejected and does not
// change recorded state.
func TestSubmitPartialRejectsDuplicate(t *testing.T) {
	f := newFixture(t, "000000000004", 2, 3, []string{"alice", "bob"})
	f.castBallot("v1", 0)
	if _, err := f.engine.StartTally(f.ctx, f.election.ID); err != nil {
		t.Fatalf("StartTally: %v", err)
	}
	if _, err := f.submitTrustee(0); err != nil {
		t.Fatalf("first submission: %v", err)
	}
	session, _ := f.store.GetSession(f.ctx, f.election.ID)
	before := session.CompletedTrustees

	if _, err := f.submitTrustee(0); err == nil {
		t.Fatal("duplicate submission from the same trustee succeeded")
	}

	session, _ = f.store.GetSession(f.ctx, f.election.ID)
	if session.CompletedTrustees != before {
		t.Fatalf("completed_trustees changed on a duplicate submission: %d -> %d", before, session.CompletedTrustees)
	}
}

// verify_result must flip to false if any persisted field is tampered
// with after finalize.
func TestVerifyResultDetectsTampering(t *testing.T) {
	f := newFixture(t, "000000000005", 2, 3, []string{"alice", "bob"})
	f.castBallot("v1", 0)
	f.castBallot("v2", 1)
	if _, err := f.engine.StartTally(f.ctx, f.election.ID); err != nil {
		t.Fatalf("StartTally: %v", err)
	}
	if _, err := f.submitTrustee(0); err != nil {
		t.Fatalf("submitTrustee(0): %v", err)
	}
	if _, err := f.submitTrustee(1); err != nil {
		t.Fatalf("submitTrustee(1): %v", err)
	}
	if _, err := f.engine.Finalize(f.ctx, f.election.ID); err != nil {
		t.Fatalf("Finalize: %v", err)
	}

	ok, err := f.engine.VerifyResult(f.ctx, f.election.ID)
	if err != nil || !ok {
		t.Fatalf("VerifyResult before tampering = %v, %v; want true, nil", ok, err)
	}

	result, err := f.store.GetResult(f.ctx, f.election.ID)
	if err != nil {
		t.Fatalf("GetResult: %v", err)
	}
	result.Tally[0]++

	ok, err = f.engine.VerifyResult(f.ctx, f.election.ID)
	if err != nil {
		t.Fatalf("VerifyResult after tampering: %v", err)
	}
	if ok {
		t.Fatal("VerifyResult = true after tampering with a persisted tally entry")
	}
}

// aggregation across a larger ballot set, with a non-trivial K-of-N.
func TestAggregatesLargeBallotSet(t *testing.T) {
	f := newFixture(t, "000000000006", 3, 5, []string{"alice", "bob", "carol"})
	for i := 0; i < 100; i++ {
		f.castBallot(fmt.Sprintf("v%d", i), i%3)
	}
	if _, err := f.engine.StartTally(f.ctx, f.election.ID); err != nil {
		t.Fatalf("StartTally: %v", err)
	}
	for _, idx := range []int{0, 1, 2} {
		if _, err := f.submitTrustee(idx); err != nil {
			t.Fatalf("submitTrustee(%d): %v", idx, err)
		}
	}
	result, err := f.engine.Finalize(f.ctx, f.election.ID)
	if err != nil {
		t.Fatalf("Finalize: %v", err)
	}
	if result.TotalVotes != 100 {
		t.Fatalf("total votes = %d, want 100", result.TotalVotes)
	}
	want := []int64{34, 33, 33}
	for j, w := range want {
		if result.Tally[j] != w {
			t.Fatalf("tally[%d] = %d, want %d", j, result.Tally[j], w)
		}
	}
}

func TestStartTallyRejectsEmptyElection(t *testing.T) {
	f := newFixture(t, "000000000007", 2, 3, []string{"alice", "bob"})
	if _, err := f.engine.StartTally(f.ctx, f.election.ID); err == nil {
		t.Fatal("StartTally succeeded with zero accepted ballots")
	}
}

func TestStartTallyRejectsInactiveElection(t *testing.T) {
	f := newFixture(t, "000000000008", 2, 3, []string{"alice", "bob"})
	f.election.State = tally.ElectionPending
	if err := f.store.SaveElection(f.ctx, f.election); err != nil {
		t.Fatalf("SaveElection: %v", err)
	}
	f.castBallot("v1", 0)
	if _, err := f.engine.StartTally(f.ctx, f.election.ID); err == nil {
		t.Fatal("StartTally succeeded against a non-active election")
	}
}

func TestStartTallyRejectsSecondSession(t *testing.T) {
	f := newFixture(t, "000000000009", 2, 3, []string{"alice", "bob"})
	f.castBallot("v1", 0)
	if _, err := f.engine.StartTally(f.ctx, f.election.ID); err != nil {
		t.Fatalf("first StartTally: %v", err)
	}
	if _, err := f.engine.StartTally(f.ctx, f.election.ID); err == nil {
		t.Fatal("second StartTally for the same election succeeded")
	}
}
