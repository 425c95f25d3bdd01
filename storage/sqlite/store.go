// Package sqlite is the durable tally.Store/tally.AuditStore
// implementation: sql.Open against a file path, CREATE TABLE IF NOT EXISTS
// at construction, one prepared statement per operation. The audit_logs and
// verification_proofs tables additionally carry triggers that reject
// UPDATE/DELETE, enforcing the append-only contract at the storage layer
// itself rather than only by convention in the Go code.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	_ "github.com/mattn/go-sqlite3"

	"github.com/vericount/tallycore/tally"
)

const schema = `
CREATE TABLE IF NOT EXISTS elections (
	id TEXT NOT NULL PRIMARY KEY,
	title TEXT NOT NULL,
	candidates TEXT NOT NULL,
	public_key TEXT NOT NULL,
	threshold TEXT NOT NULL,
	state TEXT NOT NULL,
	total_voters INTEGER NOT NULL,
	start_time INTEGER NOT NULL,
	end_time INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS trustees (
	election_id TEXT NOT NULL,
	id TEXT NOT NULL,
	idx INTEGER NOT NULL,
	status TEXT NOT NULL,
	PRIMARY KEY (election_id, id)
);

CREATE TABLE IF NOT EXISTS encrypted_votes (
	election_id TEXT NOT NULL,
	vote_id TEXT NOT NULL,
	nonce TEXT NOT NULL UNIQUE,
	votes TEXT NOT NULL,
	timestamp INTEGER NOT NULL,
	is_tallied INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (election_id, vote_id)
);

CREATE TABLE IF NOT EXISTS tallying_sessions (
	election_id TEXT NOT NULL PRIMARY KEY,
	state TEXT NOT NULL,
	aggregated TEXT NOT NULL,
	required_trustees INTEGER NOT NULL,
	completed_trustees INTEGER NOT NULL,
	started_at INTEGER NOT NULL,
	completed_at INTEGER,
	error_message TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS partial_decryptions (
	election_id TEXT NOT NULL,
	trustee_id TEXT NOT NULL,
	idx INTEGER NOT NULL,
	partials TEXT NOT NULL,
	proofs TEXT NOT NULL,
	verified INTEGER NOT NULL,
	timestamp INTEGER NOT NULL,
	PRIMARY KEY (election_id, trustee_id)
);

CREATE TABLE IF NOT EXISTS election_results (
	election_id TEXT NOT NULL PRIMARY KEY,
	tally TEXT NOT NULL,
	total_votes INTEGER NOT NULL,
	verification_hash TEXT NOT NULL,
	blockchain_tx_hash TEXT NOT NULL DEFAULT '',
	trustee_indices TEXT NOT NULL DEFAULT '[]',
	finalized_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS audit_logs (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	election_id TEXT NOT NULL,
	operation TEXT NOT NULL,
	actor TEXT NOT NULL,
	details TEXT NOT NULL,
	status TEXT NOT NULL,
	timestamp INTEGER NOT NULL
);

CREATE TRIGGER IF NOT EXISTS audit_logs_no_update
BEFORE UPDATE ON audit_logs
BEGIN
	SELECT RAISE(ABORT, 'audit_logs is append-only');
END;

CREATE TRIGGER IF NOT EXISTS audit_logs_no_delete
BEFORE DELETE ON audit_logs
BEGIN
	SELECT RAISE(ABORT, 'audit_logs is append-only');
END;

CREATE TABLE IF NOT EXISTS verification_proofs (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	election_id TEXT NOT NULL,
	proof_type TEXT NOT NULL,
	is_valid INTEGER NOT NULL,
	verified_at INTEGER NOT NULL
);

CREATE TRIGGER IF NOT EXISTS verification_proofs_no_update
BEFORE UPDATE ON verification_proofs
BEGIN
	SELECT RAISE(ABORT, 'verification_proofs is append-only');
END;

CREATE TRIGGER IF NOT EXISTS verification_proofs_no_delete
BEFORE DELETE ON verification_proofs
BEGIN
	SELECT RAISE(ABORT, 'verification_proofs is append-only');
END;
`

// Store is a SQLite-backed tally.Store and tally.AuditStore.
type Store struct {
	db *sql.DB
}

var _ tally.Store = (*Store)(nil)
var _ tally.AuditStore = (*Store)(nil)

// Open creates (if necessary) the schema at path and returns a ready Store.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, err
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) GetElection(ctx context.Context, electionID string) (*tally.Election, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT title, candidates, public_key, threshold, state, total_voters, start_time, end_time
		FROM elections WHERE id = ?`, electionID)

	var (
		title, candidatesJSON, pkJSON, thresholdJSON, state string
		totalVoters                                         int
		startTime, endTime                                  int64
	)
	err := row.Scan(&title, &candidatesJSON, &pkJSON, &thresholdJSON, &state, &totalVoters, &startTime, &endTime)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var candidates []string
	if err := json.Unmarshal([]byte(candidatesJSON), &candidates); err != nil {
		return nil, err
	}
	var pkWire publicKeyWire
	if err := json.Unmarshal([]byte(pkJSON), &pkWire); err != nil {
		return nil, err
	}
	pk, err := decodePublicKey(pkWire)
	if err != nil {
		return nil, err
	}
	var thresholdW thresholdWire
	if err := json.Unmarshal([]byte(thresholdJSON), &thresholdW); err != nil {
		return nil, err
	}
	threshold, err := decodeThreshold(thresholdW)
	if err != nil {
		return nil, err
	}

	return &tally.Election{
		ID:          electionID,
		Title:       title,
		Candidates:  candidates,
		PublicKey:   pk,
		Threshold:   threshold,
		State:       tally.ElectionState(state),
		TotalVoters: totalVoters,
		StartTime:   fromUnix(startTime),
		EndTime:     fromUnix(endTime),
	}, nil
}

func (s *Store) SaveElection(ctx context.Context, e *tally.Election) error {
	candidatesJSON, err := json.Marshal(e.Candidates)
	if err != nil {
		return err
	}
	pkJSON, err := json.Marshal(encodePublicKey(e.PublicKey))
	if err != nil {
		return err
	}
	thresholdJSON, err := json.Marshal(encodeThreshold(e.Threshold))
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO elections (id, title, candidates, public_key, threshold, state, total_voters, start_time, end_time)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			title=excluded.title, candidates=excluded.candidates, public_key=excluded.public_key,
			threshold=excluded.threshold, state=excluded.state, total_voters=excluded.total_voters,
			start_time=excluded.start_time, end_time=excluded.end_time`,
		e.ID, e.Title, candidatesJSON, pkJSON, thresholdJSON, string(e.State), e.TotalVoters,
		toUnix(e.StartTime), toUnix(e.EndTime))
	return err
}

func (s *Store) UpdateElectionState(ctx context.Context, electionID string, state tally.ElectionState) error {
	res, err := s.db.ExecContext(ctx, `UPDATE elections SET state = ? WHERE id = ?`, string(state), electionID)
	if err != nil {
		return err
	}
	return checkRowsAffected(res, "election", electionID)
}

func (s *Store) ListTrustees(ctx context.Context, electionID string) ([]*tally.Trustee, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, idx, status FROM trustees WHERE election_id = ? ORDER BY idx`, electionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*tally.Trustee
	for rows.Next() {
		t := &tally.Trustee{}
		if err := rows.Scan(&t.ID, &t.Index, &t.Status); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *Store) SaveBallot(ctx context.Context, b *tally.EncryptedBallot) error {
	votesJSON, err := encodeCiphertexts(b.Votes)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO encrypted_votes (election_id, vote_id, nonce, votes, timestamp, is_tallied)
		VALUES (?, ?, ?, ?, ?, ?)`,
		b.ElectionID, b.VoteID, b.Nonce, votesJSON, toUnix(b.Timestamp), boolToInt(b.IsTallied))
	return err
}

func (s *Store) ListBallots(ctx context.Context, electionID string) ([]*tally.EncryptedBallot, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT vote_id, nonce, votes, timestamp, is_tallied FROM encrypted_votes WHERE election_id = ?`, electionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*tally.EncryptedBallot
	for rows.Next() {
		var (
			voteID, nonce, votesJSON string
			timestamp                int64
			tallied                  int
		)
		if err := rows.Scan(&voteID, &nonce, &votesJSON, &timestamp, &tallied); err != nil {
			return nil, err
		}
		votes, err := decodeCiphertexts([]byte(votesJSON))
		if err != nil {
			return nil, err
		}
		out = append(out, &tally.EncryptedBallot{
			ElectionID: electionID,
			VoteID:     voteID,
			Nonce:      nonce,
			Votes:      votes,
			Timestamp:  fromUnix(timestamp),
			IsTallied:  tallied != 0,
		})
	}
	return out, rows.Err()
}

func (s *Store) CountBallots(ctx context.Context, electionID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM encrypted_votes WHERE election_id = ?`, electionID).Scan(&n)
	return n, err
}

func (s *Store) MarkBallotsTallied(ctx context.Context, electionID string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE encrypted_votes SET is_tallied = 1 WHERE election_id = ?`, electionID)
	return err
}

func (s *Store) CreateSession(ctx context.Context, session *tally.TallyingSession) error {
	aggJSON, err := encodeCiphertexts(session.Aggregated)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO tallying_sessions (election_id, state, aggregated, required_trustees, completed_trustees, started_at, completed_at, error_message)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		session.ElectionID, string(session.State), aggJSON, session.RequiredTrustees, session.CompletedTrustees,
		toUnix(session.StartedAt), nullableUnix(session.CompletedAt), session.ErrorMessage)
	return err
}

func (s *Store) GetSession(ctx context.Context, electionID string) (*tally.TallyingSession, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT state, aggregated, required_trustees, completed_trustees, started_at, completed_at, error_message
		FROM tallying_sessions WHERE election_id = ?`, electionID)

	var (
		state, aggJSON, errMsg string
		required, completed    int
		startedAt              int64
		completedAt            sql.NullInt64
	)
	err := row.Scan(&state, &aggJSON, &required, &completed, &startedAt, &completedAt, &errMsg)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	agg, err := decodeCiphertexts([]byte(aggJSON))
	if err != nil {
		return nil, err
	}
	session := &tally.TallyingSession{
		ElectionID:        electionID,
		State:             tally.SessionState(state),
		Aggregated:        agg,
		RequiredTrustees:  required,
		CompletedTrustees: completed,
		StartedAt:         fromUnix(startedAt),
		ErrorMessage:      errMsg,
	}
	if completedAt.Valid {
		session.CompletedAt = fromUnix(completedAt.Int64)
	}
	return session, nil
}

func (s *Store) UpdateSession(ctx context.Context, session *tally.TallyingSession) error {
	aggJSON, err := encodeCiphertexts(session.Aggregated)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE tallying_sessions SET state=?, aggregated=?, completed_trustees=?, completed_at=?, error_message=?
		WHERE election_id = ?`,
		string(session.State), aggJSON, session.CompletedTrustees, nullableUnix(session.CompletedAt), session.ErrorMessage,
		session.ElectionID)
	if err != nil {
		return err
	}
	return checkRowsAffected(res, "tallying session", session.ElectionID)
}

func (s *Store) SavePartial(ctx context.Context, p *tally.PartialDecryptionRecord) error {
	partialsJSON, err := encodePartials(p.Partials)
	if err != nil {
		return err
	}
	proofsJSON, err := encodeProofs(p.Proofs)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO partial_decryptions (election_id, trustee_id, idx, partials, proofs, verified, timestamp)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		p.ElectionID, p.TrusteeID, p.Index, partialsJSON, proofsJSON, boolToInt(p.Verified), toUnix(p.Timestamp))
	return err
}

func (s *Store) GetPartial(ctx context.Context, electionID, trusteeID string) (*tally.PartialDecryptionRecord, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT idx, partials, proofs, verified, timestamp
		FROM partial_decryptions WHERE election_id = ? AND trustee_id = ?`, electionID, trusteeID)
	return scanPartial(row, electionID, trusteeID)
}

func scanPartial(row *sql.Row, electionID, trusteeID string) (*tally.PartialDecryptionRecord, error) {
	var (
		index                     int
		partialsJSON, proofsJSON string
		verified                 int
		timestamp                int64
	)
	err := row.Scan(&index, &partialsJSON, &proofsJSON, &verified, &timestamp)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	partials, err := decodePartials([]byte(partialsJSON))
	if err != nil {
		return nil, err
	}
	proofs, err := decodeProofs([]byte(proofsJSON))
	if err != nil {
		return nil, err
	}
	return &tally.PartialDecryptionRecord{
		ElectionID: electionID,
		TrusteeID:  trusteeID,
		Index:      index,
		Partials:   partials,
		Proofs:     proofs,
		Verified:   verified != 0,
		Timestamp:  fromUnix(timestamp),
	}, nil
}

func (s *Store) ListPartials(ctx context.Context, electionID string) ([]*tally.PartialDecryptionRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT trustee_id, idx, partials, proofs, verified, timestamp
		FROM partial_decryptions WHERE election_id = ?`, electionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*tally.PartialDecryptionRecord
	for rows.Next() {
		var (
			trusteeID, partialsJSON, proofsJSON string
			index, verified                     int
			timestamp                           int64
		)
		if err := rows.Scan(&trusteeID, &index, &partialsJSON, &proofsJSON, &verified, &timestamp); err != nil {
			return nil, err
		}
		partials, err := decodePartials([]byte(partialsJSON))
		if err != nil {
			return nil, err
		}
		proofs, err := decodeProofs([]byte(proofsJSON))
		if err != nil {
			return nil, err
		}
		out = append(out, &tally.PartialDecryptionRecord{
			ElectionID: electionID,
			TrusteeID:  trusteeID,
			Index:      index,
			Partials:   partials,
			Proofs:     proofs,
			Verified:   verified != 0,
			Timestamp:  fromUnix(timestamp),
		})
	}
	return out, rows.Err()
}

func (s *Store) SaveResult(ctx context.Context, r *tally.ElectionResult) error {
	tallyJSON, err := json.Marshal(r.Tally)
	if err != nil {
		return err
	}
	indicesJSON, err := json.Marshal(r.TrusteeIndices)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO election_results (election_id, tally, total_votes, verification_hash, blockchain_tx_hash, trustee_indices, finalized_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(election_id) DO NOTHING`,
		r.ElectionID, tallyJSON, r.TotalVotes, r.VerificationHash, r.BlockchainTxHash, indicesJSON, toUnix(r.FinalizedAt))
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: election %s", tally.ErrResultImmutable, r.ElectionID)
	}
	return nil
}

func (s *Store) GetResult(ctx context.Context, electionID string) (*tally.ElectionResult, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT tally, total_votes, verification_hash, blockchain_tx_hash, trustee_indices, finalized_at
		FROM election_results WHERE election_id = ?`, electionID)
	var (
		tallyJSON, hash, txHash, indicesJSON string
		totalVotes, finalizedAt              int64
	)
	err := row.Scan(&tallyJSON, &totalVotes, &hash, &txHash, &indicesJSON, &finalizedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var counts []int64
	if err := json.Unmarshal([]byte(tallyJSON), &counts); err != nil {
		return nil, err
	}
	var indices []int
	if err := json.Unmarshal([]byte(indicesJSON), &indices); err != nil {
		return nil, err
	}
	return &tally.ElectionResult{
		ElectionID:       electionID,
		Tally:            counts,
		TotalVotes:       totalVotes,
		VerificationHash: hash,
		BlockchainTxHash: txHash,
		TrusteeIndices:   indices,
		FinalizedAt:      fromUnix(finalizedAt),
	}, nil
}

func (s *Store) SetResultTxHash(ctx context.Context, electionID, txHash string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE election_results SET blockchain_tx_hash = ? WHERE election_id = ?`, txHash, electionID)
	if err != nil {
		return err
	}
	return checkRowsAffected(res, "election result", electionID)
}

// Append, ListByElection and AppendProof implement tally.AuditStore. The
// append-only contract is enforced twice over: the Go API exposes no
// update/delete method, and the schema's triggers reject any that are
// attempted directly against the database.
func (s *Store) Append(entry *tally.AuditEntry) error {
	detailsJSON, err := tally.CanonicalBytes(entry.Details)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(`
		INSERT INTO audit_logs (election_id, operation, actor, details, status, timestamp)
		VALUES (?, ?, ?, ?, ?, ?)`,
		entry.ElectionID, entry.Operation, entry.Actor, detailsJSON, entry.Status, toUnix(entry.Timestamp))
	return err
}

func (s *Store) ListByElection(electionID string) ([]*tally.AuditEntry, error) {
	rows, err := s.db.Query(`
		SELECT operation, actor, details, status, timestamp FROM audit_logs WHERE election_id = ? ORDER BY id`, electionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*tally.AuditEntry
	for rows.Next() {
		var (
			op, actor, detailsJSON, status string
			timestamp                      int64
		)
		if err := rows.Scan(&op, &actor, &detailsJSON, &status, &timestamp); err != nil {
			return nil, err
		}
		var details map[string]interface{}
		if err := json.Unmarshal([]byte(detailsJSON), &details); err != nil {
			return nil, err
		}
		out = append(out, &tally.AuditEntry{
			ElectionID: electionID,
			Operation:  op,
			Actor:      actor,
			Details:    details,
			Status:     status,
			Timestamp:  fromUnix(timestamp),
		})
	}
	return out, rows.Err()
}

func (s *Store) AppendProof(proof *tally.VerificationProof) error {
	_, err := s.db.Exec(`
		INSERT INTO verification_proofs (election_id, proof_type, is_valid, verified_at)
		VALUES (?, ?, ?, ?)`,
		proof.ElectionID, proof.ProofType, boolToInt(proof.IsValid), toUnix(proof.VerifiedAt))
	return err
}

func checkRowsAffected(res sql.Result, kind, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("sqlite: %s %s not found", kind, id)
	}
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
