package tally

import "context"

// Store is the persistence contract for everything the Engine needs beyond
// the append-only audit trail (AuditStore): elections, trustees, encrypted
// ballots, tallying sessions, partial decryptions and published results.
// One interface collects every storage operation a consumer needs,
// implemented concretely by an in-memory store for tests and a SQLite
// store for real use.
type Store interface {
	GetElection(ctx context.Context, electionID string) (*Election, error)
	SaveElection(ctx context.Context, e *Election) error
	UpdateElectionState(ctx context.Context, electionID string, state ElectionState) error

	ListTrustees(ctx context.Context, electionID string) ([]*Trustee, error)

	SaveBallot(ctx context.Context, b *EncryptedBallot) error
	ListBallots(ctx context.Context, electionID string) ([]*EncryptedBallot, error)
	CountBallots(ctx context.Context, electionID string) (int, error)
	MarkBallotsTallied(ctx context.Context, electionID string) error

	CreateSession(ctx context.Context, s *TallyingSession) error
	GetSession(ctx context.Context, electionID string) (*TallyingSession, error)
	UpdateSession(ctx context.Context, s *TallyingSession) error

	SavePartial(ctx context.Context, p *PartialDecryptionRecord) error
	GetPartial(ctx context.Context, electionID, trusteeID string) (*PartialDecryptionRecord, error)
	ListPartials(ctx context.Context, electionID string) ([]*PartialDecryptionRecord, error)

	SaveResult(ctx context.Context, r *ElectionResult) error
	GetResult(ctx context.Context, electionID string) (*ElectionResult, error)
	SetResultTxHash(ctx context.Context, electionID, txHash string) error
}
