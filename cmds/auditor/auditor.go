// Package auditor inspects a finalized election: it re-runs verify_result
// and prints the election's result and audit trail as JSON.
package auditor

import (
	"context"
	"fmt"
	"os"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/vericount/tallycore/storage/sqlite"
	"github.com/vericount/tallycore/tally"
)

type report struct {
	Election *tally.Election       `json:"election"`
	Result   *tally.ElectionResult `json:"result"`
	Valid    bool                  `json:"valid"`
	Audit    []*tally.AuditEntry   `json:"audit_log"`
}

func Register(rootCmd *cobra.Command) {
	var dbPath string
	var electionID string

	cmd := &cobra.Command{
		Use:   "auditor",
		Short: "Inspect and verify a finalized election",
		Run: func(cmd *cobra.Command, args []string) {
			if electionID == "" {
				log.Fatal().Msg("--election-id is required")
			}
			ctx := context.Background()
			store, err := sqlite.Open(dbPath)
			if err != nil {
				log.Fatal().Err(err).Msg("could not open store")
			}
			defer store.Close()

			election, err := store.GetElection(ctx, electionID)
			if err != nil || election == nil {
				log.Fatal().Err(err).Str("election_id", electionID).Msg("election not found")
			}
			result, err := store.GetResult(ctx, electionID)
			if err != nil {
				log.Fatal().Err(err).Msg("could not load result")
			}

			engine := tally.NewEngine(store, store, tally.NoopPublisher{})
			valid, err := engine.VerifyResult(ctx, electionID)
			if err != nil {
				log.Fatal().Err(err).Msg("verify_result failed")
			}

			auditLog, err := store.ListByElection(electionID)
			if err != nil {
				log.Fatal().Err(err).Msg("could not load audit log")
			}

			// canonical, sorted-key encoding so two auditors running this
			// command against the same database byte-for-byte agree on the
			// report, and the output can be hashed or diffed directly.
			out, err := tally.CanonicalBytes(&report{Election: election, Result: result, Valid: valid, Audit: auditLog})
			if err != nil {
				log.Fatal().Err(err).Msg("could not encode report")
			}
			fmt.Fprintln(os.Stdout, string(out))
		},
	}
	cmd.Flags().StringVar(&dbPath, "db", "tallycore.db", "SQLite database path")
	cmd.Flags().StringVar(&electionID, "election-id", "", "election id (UUID)")
	rootCmd.AddCommand(cmd)
}
