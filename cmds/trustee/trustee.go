// Package trustee performs one trustee's half of the tallying protocol:
// load that trustee's secret share, fetch a started session's aggregated
// ciphertexts, compute and submit a partial decryption with its proof.
package trustee

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/vericount/tallycore/crypto"
	"github.com/vericount/tallycore/crypto/paillier"
	"github.com/vericount/tallycore/storage/sqlite"
	"github.com/vericount/tallycore/tally"
)

func Register(rootCmd *cobra.Command) {
	var dataDir string
	var dbPath string
	var electionID string
	var index int

	cmd := &cobra.Command{
		Use:   "trustee",
		Short: "Submit one trustee's partial decryption for a started session",
		Run: func(cmd *cobra.Command, args []string) {
			runTrustee(dataDir, dbPath, electionID, index)
		},
	}
	cmd.Flags().StringVar(&dataDir, "data-dir", ".", "directory holding election.json and trustee-N.json")
	cmd.Flags().StringVar(&dbPath, "db", "tallycore.db", "SQLite database shared with the tally command")
	cmd.Flags().StringVar(&electionID, "election-id", "", "election id (UUID)")
	cmd.Flags().IntVar(&index, "index", 0, "this trustee's index (1..N)")
	rootCmd.AddCommand(cmd)
}

type trusteeFile struct {
	ElectionID string `json:"election_id"`
	Index      int    `json:"index"`
	Si         string `json:"si"`
}

func runTrustee(dataDir, dbPath, electionID string, index int) {
	if electionID == "" || index == 0 {
		log.Fatal().Msg("--election-id and --index are required")
	}
	ctx := context.Background()

	store, err := sqlite.Open(dbPath)
	if err != nil {
		log.Fatal().Err(err).Str("db", dbPath).Msg("could not open store")
	}
	defer store.Close()

	election, err := store.GetElection(ctx, electionID)
	if err != nil || election == nil {
		log.Fatal().Err(err).Str("election_id", electionID).Msg("election not found")
	}
	session, err := store.GetSession(ctx, electionID)
	if err != nil || session == nil {
		log.Fatal().Err(err).Str("election_id", electionID).Msg("no tallying session found; run `tally start` first")
	}

	tf := loadTrusteeFile(dataDir, index)
	si, err := crypto.BigIntFromJSON(tf.Si)
	if err != nil {
		log.Fatal().Err(err).Msg("could not decode share")
	}
	share := &paillier.Share{Threshold: election.Threshold, Index: index, Si: si}

	partials := make([]*paillier.PartialDecryption, len(session.Aggregated))
	proofs := make([]*paillier.DecryptionProof, len(session.Aggregated))
	for j, ct := range session.Aggregated {
		partials[j] = share.PartialDecrypt(ct)
		proofs[j] = share.Prove(ct, partials[j])
	}

	engine := tally.NewEngine(store, store, tally.NoopPublisher{})
	trusteeID := fmt.Sprintf("trustee-%d", index)
	if _, err := engine.SubmitPartial(ctx, electionID, trusteeID, index, partials, proofs); err != nil {
		log.Fatal().Err(err).Msg("submit_partial failed")
	}
	log.Info().Str("election_id", electionID).Int("index", index).Msg("partial decryption submitted")
}

func loadTrusteeFile(dir string, index int) trusteeFile {
	path := filepath.Join(dir, fmt.Sprintf("trustee-%d.json", index))
	f, err := os.Open(path)
	if err != nil {
		log.Fatal().Err(err).Str("file", path).Msg("could not open trustee file")
	}
	defer f.Close()
	var tf trusteeFile
	if err := json.NewDecoder(f).Decode(&tf); err != nil {
		log.Fatal().Err(err).Str("file", path).Msg("could not decode trustee file")
	}
	return tf
}
