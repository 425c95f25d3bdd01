package tally

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cheggaaa/pb/v3"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/vericount/tallycore/crypto/paillier"
)

// BlockchainPublisher is the single collaborator publish_blockchain needs.
// No chain, gas model or finality policy is specified here; one
// in-memory no-op implementation ships for tests.
type BlockchainPublisher interface {
	Publish(ctx context.Context, electionID, resultHash string) (txHash string, err error)
}

// Engine orchestrates the tallying session lifecycle: start_tally,
// submit_partial, finalize, verify_result, publish_blockchain. It holds
// one sync.Mutex per election to serialize state transitions while
// letting unrelated elections proceed concurrently: guard, verify,
// persist, increment counter, all under one lock.
type Engine struct {
	Store     Store
	Audit     AuditStore
	Publisher BlockchainPublisher
	Logger    zerolog.Logger

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewEngine wires a Store, AuditStore and BlockchainPublisher into a ready
// Engine, defaulting the logger to the global zerolog logger rather than
// threading a logger through every constructor.
func NewEngine(store Store, audit AuditStore, publisher BlockchainPublisher) *Engine {
	return &Engine{
		Store:     store,
		Audit:     audit,
		Publisher: publisher,
		Logger:    log.Logger,
		locks:     make(map[string]*sync.Mutex),
	}
}

func (e *Engine) lockFor(electionID string) *sync.Mutex {
	e.mu.Lock()
	defer e.mu.Unlock()
	l, ok := e.locks[electionID]
	if !ok {
		l = &sync.Mutex{}
		e.locks[electionID] = l
	}
	return l
}

func (e *Engine) audit(ctx context.Context, electionID, op, actor string, details map[string]interface{}, status string) {
	if e.Audit == nil {
		return
	}
	_ = e.Audit.Append(&AuditEntry{
		ElectionID: electionID,
		Operation:  op,
		Actor:      actor,
		Details:    details,
		Status:     status,
		Timestamp:  time.Now().UTC(),
	})
}

// StartTally begins a tallying session: guards that the election is active
// and has at least one accepted ballot, then walks the session through
// aggregating into decrypting, aggregating every accepted ballot's
// per-candidate ciphertext column along the way. ctx is checked once per
// ballot, so a caller can cancel a large-batch aggregation before it
// finishes; a cancelled or otherwise failed aggregation moves the session
// straight to failed instead of leaving it stuck mid-transition.
func (e *Engine) StartTally(ctx context.Context, electionID string) (*TallyingSession, error) {
	lock := e.lockFor(electionID)
	lock.Lock()
	defer lock.Unlock()

	election, err := e.Store.GetElection(ctx, electionID)
	if err != nil {
		return nil, newErr(StorageError, "start_tally", "load election", err)
	}
	if election == nil {
		return nil, newErr(DomainError, "start_tally", "election not found", fmt.Errorf("%w: %s", ErrElectionNotFound, electionID))
	}
	existing, err := e.Store.GetSession(ctx, electionID)
	if err != nil {
		return nil, newErr(StorageError, "start_tally", "load session", err)
	}
	if existing != nil {
		return nil, newErr(StateError, "start_tally", "session already exists", fmt.Errorf("%w: %s", ErrSessionExists, electionID))
	}
	if election.State != ElectionActive {
		return nil, newErr(StateError, "start_tally", "election not active", fmt.Errorf("%w: %s", ErrElectionNotActive, electionID))
	}

	ballots, err := e.Store.ListBallots(ctx, electionID)
	if err != nil {
		return nil, newErr(StorageError, "start_tally", "list ballots", err)
	}
	if len(ballots) == 0 {
		return nil, newErr(DomainError, "start_tally", "no ballots accepted", fmt.Errorf("%w: %s", ErrNoBallots, electionID))
	}

	session := &TallyingSession{
		ElectionID:       electionID,
		RequiredTrustees: election.Threshold.K,
		StartedAt:        time.Now().UTC(),
	}
	if err := e.transition(session, SessionAggregating); err != nil {
		return nil, err
	}
	// persisted before aggregation runs, so a cancelled or failed
	// aggregation has a row for failSession to transition to failed and
	// audit against, instead of vanishing with no trace.
	if err := e.Store.CreateSession(ctx, session); err != nil {
		return nil, newErr(StorageError, "start_tally", "persist session", err)
	}
	if err := e.Store.UpdateElectionState(ctx, electionID, ElectionTallying); err != nil {
		return nil, newErr(StorageError, "start_tally", "update election state", err)
	}

	bar := pb.StartNew(len(ballots))
	aggregated, err := aggregateColumns(ctx, election, ballots, bar)
	bar.Finish()
	if err != nil {
		e.failSession(ctx, electionID, err)
		return nil, newErr(CryptoError, "start_tally", "aggregate ballots", err)
	}
	session.Aggregated = aggregated
	if err := e.transition(session, SessionDecrypting); err != nil {
		e.failSession(ctx, electionID, err)
		return nil, err
	}
	if err := e.Store.UpdateSession(ctx, session); err != nil {
		return nil, newErr(StorageError, "start_tally", "update session", err)
	}

	e.Logger.Info().Str("election_id", electionID).Int("ballots", len(ballots)).Msg("tally started")
	e.audit(ctx, electionID, "start_tally", "engine", map[string]interface{}{"ballots": len(ballots)}, "success")
	return session, nil
}

// aggregateColumns sums each candidate's ciphertext column homomorphically
// across every accepted ballot, using the mutating-accumulator aggregation
// in crypto/paillier/ciphertext.go. ctx is checked once per ballot so a
// large batch can be cancelled without scanning it to completion, and bar
// is advanced once per ballot to give an operator visible progress on a
// large-batch run.
func aggregateColumns(ctx context.Context, election *Election, ballots []*EncryptedBallot, bar *pb.ProgressBar) ([]*paillier.Ciphertext, error) {
	m := election.CandidateCount()
	columns := make([][]*paillier.Ciphertext, m)
	for _, b := range ballots {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if len(b.Votes) != m {
			return nil, fmt.Errorf("%w: ballot %s has %d votes, election has %d candidates", ErrDomain, b.VoteID, len(b.Votes), m)
		}
		for j, ct := range b.Votes {
			columns[j] = append(columns[j], ct)
		}
		bar.Increment()
	}
	out := make([]*paillier.Ciphertext, m)
	for j := range out {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		out[j] = paillier.Aggregate(election.PublicKey, columns[j])
	}
	return out, nil
}

func (e *Engine) failSession(ctx context.Context, electionID string, cause error) {
	s, err := e.Store.GetSession(ctx, electionID)
	if err != nil || s == nil {
		return
	}
	if err := e.transition(s, SessionFailed); err != nil {
		return
	}
	s.ErrorMessage = cause.Error()
	_ = e.Store.UpdateSession(ctx, s)
	e.audit(ctx, electionID, "fail_session", "engine", map[string]interface{}{"error": cause.Error()}, "failed")
}

// transition moves session from its current state to next, refusing any
// move canTransition rejects: the session's state is strictly monotonic,
// with SessionFailed reachable from any non-terminal state.
func (e *Engine) transition(session *TallyingSession, next SessionState) error {
	if !canTransition(session.State, next) {
		return newErr(StateError, "transition", fmt.Sprintf("illegal session transition %s -> %s", session.State, next), nil)
	}
	session.State = next
	return nil
}

// SubmitPartial validates and records one trustee's partial decryption
// vector (one ciphertext per candidate). A second submission from the
// same trustee is rejected as a duplicate without changing any recorded
// state; an invalid proof is recorded with verified=false and does not
// increment CompletedTrustees.
func (e *Engine) SubmitPartial(ctx context.Context, electionID, trusteeID string, index int, partials []*paillier.PartialDecryption, proofs []*paillier.DecryptionProof) (*TallyingSession, error) {
	lock := e.lockFor(electionID)
	lock.Lock()
	defer lock.Unlock()

	election, err := e.Store.GetElection(ctx, electionID)
	if err != nil {
		return nil, newErr(StorageError, "submit_partial", "load election", err)
	}
	if election == nil {
		return nil, newErr(DomainError, "submit_partial", "election not found", fmt.Errorf("%w: %s", ErrElectionNotFound, electionID))
	}
	session, err := e.Store.GetSession(ctx, electionID)
	if err != nil {
		return nil, newErr(StorageError, "submit_partial", "load session", err)
	}
	if session == nil {
		return nil, newErr(DomainError, "submit_partial", "session not found", fmt.Errorf("%w: %s", ErrSessionNotFound, electionID))
	}
	if session.State != SessionDecrypting {
		return nil, newErr(StateError, "submit_partial", "wrong session state", fmt.Errorf("%w: session is %s, need %s", ErrWrongState, session.State, SessionDecrypting))
	}

	if existing, err := e.Store.GetPartial(ctx, electionID, trusteeID); err != nil {
		return nil, newErr(StorageError, "submit_partial", "check duplicate", err)
	} else if existing != nil {
		return nil, newErr(StateError, "submit_partial", "duplicate submission", fmt.Errorf("%w: trustee %s, election %s", ErrDuplicatePartial, trusteeID, electionID))
	}

	if len(partials) != len(session.Aggregated) || len(proofs) != len(session.Aggregated) {
		return nil, newErr(DomainError, "submit_partial", "column count mismatch", fmt.Errorf("%w: expected %d candidate columns, got %d partials/%d proofs", ErrDomain, len(session.Aggregated), len(partials), len(proofs)))
	}

	verified := true
	for j, ct := range session.Aggregated {
		if err := paillier.VerifyPartial(election.Threshold, ct, index, partials[j], proofs[j]); err != nil {
			verified = false
			e.Logger.Warn().Str("election_id", electionID).Str("trustee_id", trusteeID).Int("candidate", j).Err(err).Msg("partial decryption proof failed")
			break
		}
	}

	record := &PartialDecryptionRecord{
		ElectionID: electionID,
		TrusteeID:  trusteeID,
		Index:      index,
		Partials:   partials,
		Proofs:     proofs,
		Verified:   verified,
		Timestamp:  time.Now().UTC(),
	}
	if err := e.Store.SavePartial(ctx, record); err != nil {
		return nil, newErr(StorageError, "submit_partial", "persist partial", err)
	}

	if !verified {
		e.audit(ctx, electionID, "submit_partial", trusteeID, map[string]interface{}{"verified": false}, "failed")
		return nil, newErr(CryptoError, "submit_partial", "proof invalid", fmt.Errorf("%w: trustee %s", ErrProofInvalid, trusteeID))
	}

	session.CompletedTrustees++
	if err := e.Store.UpdateSession(ctx, session); err != nil {
		return nil, newErr(StorageError, "submit_partial", "update session", err)
	}
	e.audit(ctx, electionID, "submit_partial", trusteeID, map[string]interface{}{"verified": true}, "success")
	return session, nil
}

// Finalize selects the first K verified partial decryptions by lowest
// trustee index (ties broken by earliest submission timestamp), combines
// them per candidate, asserts the plaintext-bound invariant, and writes
// the immutable ElectionResult together with its verification hash.
func (e *Engine) Finalize(ctx context.Context, electionID string) (*ElectionResult, error) {
	lock := e.lockFor(electionID)
	lock.Lock()
	defer lock.Unlock()

	election, err := e.Store.GetElection(ctx, electionID)
	if err != nil {
		return nil, newErr(StorageError, "finalize", "load election", err)
	}
	if election == nil {
		return nil, newErr(DomainError, "finalize", "election not found", fmt.Errorf("%w: %s", ErrElectionNotFound, electionID))
	}
	session, err := e.Store.GetSession(ctx, electionID)
	if err != nil {
		return nil, newErr(StorageError, "finalize", "load session", err)
	}
	if session == nil {
		return nil, newErr(DomainError, "finalize", "session not found", fmt.Errorf("%w: %s", ErrSessionNotFound, electionID))
	}
	if session.State != SessionDecrypting {
		return nil, newErr(StateError, "finalize", "wrong session state", fmt.Errorf("%w: session is %s, need %s", ErrWrongState, session.State, SessionDecrypting))
	}

	records, err := e.Store.ListPartials(ctx, electionID)
	if err != nil {
		return nil, newErr(StorageError, "finalize", "list partials", err)
	}
	chosen := selectFinalizers(records, election.Threshold.K)
	if len(chosen) < election.Threshold.K {
		return nil, newErr(StateError, "finalize", "too few trustees", fmt.Errorf("%w: have %d verified, need %d", ErrTooFewTrustees, len(chosen), election.Threshold.K))
	}

	if err := e.transition(session, SessionFinalizing); err != nil {
		return nil, err
	}
	if err := e.Store.UpdateSession(ctx, session); err != nil {
		return nil, newErr(StorageError, "finalize", "update session", err)
	}

	tally, err := recombineTally(election.Threshold, session.Aggregated, chosen)
	if err != nil {
		e.failSession(ctx, electionID, err)
		return nil, newErr(CryptoError, "finalize", "combine", err)
	}

	totalBallots, err := e.Store.CountBallots(ctx, electionID)
	if err != nil {
		return nil, newErr(StorageError, "finalize", "count ballots", err)
	}
	var sum int64
	for _, c := range tally {
		sum += c
	}
	if sum > int64(totalBallots) {
		boundErr := fmt.Errorf("%w: combined tally %d exceeds %d accepted ballots", ErrPlaintextOverflow, sum, totalBallots)
		e.failSession(ctx, electionID, boundErr)
		return nil, newErr(CryptoError, "finalize", "plaintext bound check", boundErr)
	}

	indices := trusteeIndices(chosen)
	hash, err := VerificationHash(election.ID, election.PublicKey.N, session.Aggregated, tally, indices)
	if err != nil {
		e.failSession(ctx, electionID, err)
		return nil, newErr(CryptoError, "finalize", "compute verification hash", err)
	}

	result := &ElectionResult{
		ElectionID:       electionID,
		Tally:            tally,
		TotalVotes:       sum,
		VerificationHash: hash,
		TrusteeIndices:   indices,
		FinalizedAt:      time.Now().UTC(),
	}
	if err := e.Store.SaveResult(ctx, result); err != nil {
		return nil, newErr(StorageError, "finalize", "persist result", err)
	}

	if err := e.transition(session, SessionCompleted); err != nil {
		return nil, err
	}
	session.CompletedAt = result.FinalizedAt
	if err := e.Store.UpdateSession(ctx, session); err != nil {
		return nil, newErr(StorageError, "finalize", "update session", err)
	}
	if err := e.Store.UpdateElectionState(ctx, electionID, ElectionCompleted); err != nil {
		return nil, newErr(StorageError, "finalize", "update election state", err)
	}
	if err := e.Store.MarkBallotsTallied(ctx, electionID); err != nil {
		return nil, newErr(StorageError, "finalize", "mark ballots tallied", err)
	}

	e.Logger.Info().Str("election_id", electionID).Int64("total_votes", sum).Str("hash", hash).Msg("tally finalized")
	e.audit(ctx, electionID, "finalize", "engine", map[string]interface{}{"total_votes": sum, "verification_hash": hash}, "success")
	return result, nil
}

// selectFinalizers returns the first k verified records, ordered by lowest
// trustee index with ties broken by earliest timestamp.
func selectFinalizers(records []*PartialDecryptionRecord, k int) []*PartialDecryptionRecord {
	verified := make([]*PartialDecryptionRecord, 0, len(records))
	for _, r := range records {
		if r.Verified {
			verified = append(verified, r)
		}
	}
	for i := 1; i < len(verified); i++ {
		for j := i; j > 0; j-- {
			a, b := verified[j-1], verified[j]
			if a.Index < b.Index || (a.Index == b.Index && !a.Timestamp.After(b.Timestamp)) {
				break
			}
			verified[j-1], verified[j] = verified[j], verified[j-1]
		}
	}
	if len(verified) > k {
		verified = verified[:k]
	}
	return verified
}

// VerifyResult recomputes the published hash for electionID and returns
// whether it still matches what finalize recorded.
func (e *Engine) VerifyResult(ctx context.Context, electionID string) (bool, error) {
	election, err := e.Store.GetElection(ctx, electionID)
	if err != nil {
		return false, newErr(StorageError, "verify_result", "load election", err)
	}
	if election == nil {
		return false, newErr(DomainError, "verify_result", "election not found", fmt.Errorf("%w: %s", ErrElectionNotFound, electionID))
	}
	v := &Verifier{Store: e.Store, Audit: e.Audit, Key: election.Threshold}
	return v.VerifyResult(ctx, electionID)
}

// PublishBlockchain hands a finalized election's verification hash to the
// configured BlockchainPublisher and records the returned transaction hash.
func (e *Engine) PublishBlockchain(ctx context.Context, electionID string) (string, error) {
	result, err := e.Store.GetResult(ctx, electionID)
	if err != nil {
		return "", newErr(StorageError, "publish_blockchain", "load result", err)
	}
	if result == nil {
		return "", newErr(StateError, "publish_blockchain", "not finalized", fmt.Errorf("%w: %s", ErrNotFinalized, electionID))
	}
	txHash, err := e.Publisher.Publish(ctx, electionID, result.VerificationHash)
	if err != nil {
		return "", newErr(StorageError, "publish_blockchain", "publish", err)
	}
	if err := e.Store.SetResultTxHash(ctx, electionID, txHash); err != nil {
		return "", newErr(StorageError, "publish_blockchain", "persist tx hash", err)
	}
	e.audit(ctx, electionID, "publish_blockchain", "engine", map[string]interface{}{"tx_hash": txHash}, "success")
	return txHash, nil
}
