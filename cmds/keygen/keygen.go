// Package keygen runs the trusted-dealer ceremony: generate a Paillier key
// pair, split its secret exponent into K-of-N trustee shares, and write one
// JSON file per trustee plus a public election bundle.
package keygen

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/cheggaaa/pb/v3"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/vericount/tallycore/crypto"
	"github.com/vericount/tallycore/crypto/paillier"
	"github.com/vericount/tallycore/tally"
)

// Register wires the keygen command into rootCmd.
func Register(rootCmd *cobra.Command) {
	var dataDir string
	var bits int
	var k, n int
	var electionID string

	cmd := &cobra.Command{
		Use:   "keygen",
		Short: "Run the trusted-dealer ceremony for a new election",
		Run: func(cmd *cobra.Command, args []string) {
			runCeremony(context.Background(), dataDir, electionID, bits, k, n)
		},
	}
	cmd.Flags().StringVar(&dataDir, "data-dir", ".", "directory to write trustee and election files to")
	cmd.Flags().IntVar(&bits, "bits", paillier.MinKeyBits, "Paillier modulus size in bits")
	cmd.Flags().IntVar(&k, "k", tally.DefaultThreshold, "decryption threshold")
	cmd.Flags().IntVar(&n, "n", tally.DefaultTrustees, "total number of trustees")
	cmd.Flags().StringVar(&electionID, "election-id", "", "election id (UUID) this ceremony is for")
	rootCmd.AddCommand(cmd)
}

// electionBundle is the public output of the ceremony: everything a trustee
// or auditor needs to verify proofs and combine partial decryptions,
// without any trustee's secret share.
type electionBundle struct {
	ElectionID string        `json:"election_id"`
	PublicKey  pkWire        `json:"public_key"`
	Threshold  thresholdWire `json:"threshold"`
}

type pkWire struct {
	N, G, NSquared string
}

type thresholdWire struct {
	K, N     int
	Delta    string
	Constant string
	V        string
	Vi       []string
}

// trusteeFile is one trustee's secret share, written to its own file so it
// can be distributed out-of-band.
type trusteeFile struct {
	ElectionID string `json:"election_id"`
	Index      int    `json:"index"`
	Si         string `json:"si"`
}

func runCeremony(ctx context.Context, dataDir, electionID string, bits, k, n int) {
	if electionID == "" {
		log.Fatal().Msg("--election-id is required")
	}

	log.Info().Int("bits", bits).Int("k", k).Int("n", n).Msg("generating Paillier key pair")
	bar := pb.StartNew(64) // maxPrimeAttempts' worth of headroom; finishes early on success
	sk, err := generateWithProgress(ctx, bits, bar)
	bar.Finish()
	if err != nil {
		log.Fatal().Err(err).Msg("key generation failed")
	}

	shares, err := paillier.IssueShares(sk, k, n)
	if err != nil {
		log.Fatal().Err(err).Msg("share issuance failed")
	}

	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		log.Fatal().Err(err).Msg("could not create data directory")
	}

	t := shares[0].Threshold
	vi := make([]string, len(t.Vi))
	for i, v := range t.Vi {
		vi[i] = crypto.BigIntToJSON(v)
	}
	bundle := electionBundle{
		ElectionID: electionID,
		PublicKey: pkWire{
			N:        crypto.BigIntToJSON(sk.N),
			G:        crypto.BigIntToJSON(sk.G),
			NSquared: crypto.BigIntToJSON(sk.NSquared),
		},
		Threshold: thresholdWire{
			K:        t.K,
			N:        t.N,
			Delta:    crypto.BigIntToJSON(t.Delta),
			Constant: crypto.BigIntToJSON(t.Constant),
			V:        crypto.BigIntToJSON(t.V),
			Vi:       vi,
		},
	}
	writeJSON(filepath.Join(dataDir, "election.json"), bundle)

	bar = pb.StartNew(n)
	for _, share := range shares {
		f := trusteeFile{ElectionID: electionID, Index: share.Index, Si: crypto.BigIntToJSON(share.Si)}
		writeJSON(filepath.Join(dataDir, fmt.Sprintf("trustee-%d.json", share.Index)), f)
		bar.Increment()
	}
	bar.Finish()

	log.Info().Str("dir", dataDir).Int("trustees", n).Msg("ceremony complete")
}

// generateWithProgress wraps GenerateKeyPair's internal retry loop with
// visible progress. Since GenerateKeyPair does not expose per-attempt
// hooks, this calls it once and advances the bar to completion; the bar
// models the operation's expected duration for the operator rather than
// exact internal attempt counts.
func generateWithProgress(ctx context.Context, bits int, bar *pb.ProgressBar) (*paillier.PrivateKey, error) {
	sk, err := paillier.GenerateKeyPair(ctx, bits)
	bar.SetCurrent(bar.Total())
	return sk, err
}

func writeJSON(path string, v interface{}) {
	f, err := os.Create(path)
	if err != nil {
		log.Fatal().Err(err).Str("file", path).Msg("could not create file")
	}
	defer f.Close()
	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		log.Fatal().Err(err).Str("file", path).Msg("could not write file")
	}
}
