// Package memory is a mutex-guarded, process-local implementation of
// tally.Store and tally.AuditStore, used by the test suite. Not durable
// across process restarts; see storage/sqlite for the persistent
// implementation.
package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/vericount/tallycore/tally"
)

// Store is an in-memory tally.Store/tally.AuditStore, keyed by election id.
type Store struct {
	mu sync.Mutex

	elections map[string]*tally.Election
	trustees  map[string][]*tally.Trustee
	ballots   map[string][]*tally.EncryptedBallot
	sessions  map[string]*tally.TallyingSession
	partials  map[string]map[string]*tally.PartialDecryptionRecord // electionID -> trusteeID -> record
	results   map[string]*tally.ElectionResult
	audit     []*tally.AuditEntry
	proofs    []*tally.VerificationProof
}

// New returns a ready, empty Store.
func New() *Store {
	return &Store{
		elections: make(map[string]*tally.Election),
		trustees:  make(map[string][]*tally.Trustee),
		ballots:   make(map[string][]*tally.EncryptedBallot),
		sessions:  make(map[string]*tally.TallyingSession),
		partials:  make(map[string]map[string]*tally.PartialDecryptionRecord),
		results:   make(map[string]*tally.ElectionResult),
	}
}

func (s *Store) GetElection(_ context.Context, electionID string) (*tally.Election, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.elections[electionID], nil
}

func (s *Store) SaveElection(_ context.Context, e *tally.Election) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.elections[e.ID] = e
	return nil
}

func (s *Store) UpdateElectionState(_ context.Context, electionID string, state tally.ElectionState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.elections[electionID]
	if !ok {
		return fmt.Errorf("memory: election %s not found", electionID)
	}
	e.State = state
	return nil
}

func (s *Store) ListTrustees(_ context.Context, electionID string) ([]*tally.Trustee, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*tally.Trustee(nil), s.trustees[electionID]...), nil
}

// SetTrustees is a test/setup helper, not part of tally.Store: it seeds the
// trustee roster for an election ahead of a ceremony.
func (s *Store) SetTrustees(electionID string, trustees []*tally.Trustee) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.trustees[electionID] = trustees
}

func (s *Store) SaveBallot(_ context.Context, b *tally.EncryptedBallot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.ballots[b.ElectionID] {
		if existing.Nonce == b.Nonce {
			return fmt.Errorf("memory: duplicate ballot nonce %s", b.Nonce)
		}
	}
	s.ballots[b.ElectionID] = append(s.ballots[b.ElectionID], b)
	return nil
}

func (s *Store) ListBallots(_ context.Context, electionID string) ([]*tally.EncryptedBallot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*tally.EncryptedBallot(nil), s.ballots[electionID]...), nil
}

func (s *Store) CountBallots(_ context.Context, electionID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.ballots[electionID]), nil
}

func (s *Store) MarkBallotsTallied(_ context.Context, electionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, b := range s.ballots[electionID] {
		b.IsTallied = true
	}
	return nil
}

func (s *Store) CreateSession(_ context.Context, session *tally.TallyingSession) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[session.ElectionID]; ok {
		return fmt.Errorf("memory: session for %s already exists", session.ElectionID)
	}
	s.sessions[session.ElectionID] = session
	return nil
}

func (s *Store) GetSession(_ context.Context, electionID string) (*tally.TallyingSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sessions[electionID], nil
}

func (s *Store) UpdateSession(_ context.Context, session *tally.TallyingSession) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[session.ElectionID]; !ok {
		return fmt.Errorf("memory: session for %s not found", session.ElectionID)
	}
	s.sessions[session.ElectionID] = session
	return nil
}

func (s *Store) SavePartial(_ context.Context, p *tally.PartialDecryptionRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	byTrustee, ok := s.partials[p.ElectionID]
	if !ok {
		byTrustee = make(map[string]*tally.PartialDecryptionRecord)
		s.partials[p.ElectionID] = byTrustee
	}
	if _, exists := byTrustee[p.TrusteeID]; exists {
		return fmt.Errorf("memory: partial for trustee %s already recorded", p.TrusteeID)
	}
	byTrustee[p.TrusteeID] = p
	return nil
}

func (s *Store) GetPartial(_ context.Context, electionID, trusteeID string) (*tally.PartialDecryptionRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.partials[electionID][trusteeID], nil
}

func (s *Store) ListPartials(_ context.Context, electionID string) ([]*tally.PartialDecryptionRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*tally.PartialDecryptionRecord, 0, len(s.partials[electionID]))
	for _, p := range s.partials[electionID] {
		out = append(out, p)
	}
	return out, nil
}

func (s *Store) SaveResult(_ context.Context, r *tally.ElectionResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.results[r.ElectionID]; ok {
		return fmt.Errorf("%w: election %s", tally.ErrResultImmutable, r.ElectionID)
	}
	s.results[r.ElectionID] = r
	return nil
}

func (s *Store) GetResult(_ context.Context, electionID string) (*tally.ElectionResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.results[electionID], nil
}

func (s *Store) SetResultTxHash(_ context.Context, electionID, txHash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.results[electionID]
	if !ok {
		return fmt.Errorf("memory: no result for election %s", electionID)
	}
	r.BlockchainTxHash = txHash
	return nil
}

// Append, ListByElection and AppendProof implement tally.AuditStore.
// Entries are never mutated or removed once appended.
func (s *Store) Append(entry *tally.AuditEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.audit = append(s.audit, entry)
	return nil
}

func (s *Store) ListByElection(electionID string) ([]*tally.AuditEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*tally.AuditEntry, 0)
	for _, e := range s.audit {
		if e.ElectionID == electionID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (s *Store) AppendProof(proof *tally.VerificationProof) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.proofs = append(s.proofs, proof)
	return nil
}
