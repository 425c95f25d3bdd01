// Package tally drives the session lifecycle end-to-end against a
// SQLite-backed store, for local demos and integration testing outside the
// unit test suite.
package tally

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/vericount/tallycore/storage/sqlite"
	"github.com/vericount/tallycore/tally"
)

func Register(rootCmd *cobra.Command) {
	var dbPath string
	tallyCmd := &cobra.Command{
		Use:   "tally",
		Short: "Drive a tallying session against a store",
	}
	tallyCmd.PersistentFlags().StringVar(&dbPath, "db", "tallycore.db", "SQLite database path")
	rootCmd.AddCommand(tallyCmd)

	var electionID string

	startCmd := &cobra.Command{
		Use:   "start",
		Short: "Aggregate accepted ballots and begin a tallying session",
		Run: func(cmd *cobra.Command, args []string) {
			withEngine(dbPath, func(ctx context.Context, e *tally.Engine) {
				session, err := e.StartTally(ctx, electionID)
				fatalOn(err, "start_tally failed")
				printJSON(session)
			})
		},
	}
	startCmd.Flags().StringVar(&electionID, "election-id", "", "election id (UUID)")
	tallyCmd.AddCommand(startCmd)

	finalizeCmd := &cobra.Command{
		Use:   "finalize",
		Short: "Combine verified partial decryptions and publish the result",
		Run: func(cmd *cobra.Command, args []string) {
			withEngine(dbPath, func(ctx context.Context, e *tally.Engine) {
				result, err := e.Finalize(ctx, electionID)
				fatalOn(err, "finalize failed")
				printJSON(result)
			})
		},
	}
	finalizeCmd.Flags().StringVar(&electionID, "election-id", "", "election id (UUID)")
	tallyCmd.AddCommand(finalizeCmd)

	verifyCmd := &cobra.Command{
		Use:   "verify",
		Short: "Recompute the verification hash and compare against the persisted result",
		Run: func(cmd *cobra.Command, args []string) {
			withEngine(dbPath, func(ctx context.Context, e *tally.Engine) {
				ok, err := e.VerifyResult(ctx, electionID)
				fatalOn(err, "verify_result failed")
				printJSON(map[string]bool{"valid": ok})
			})
		},
	}
	verifyCmd.Flags().StringVar(&electionID, "election-id", "", "election id (UUID)")
	tallyCmd.AddCommand(verifyCmd)

	publishCmd := &cobra.Command{
		Use:   "publish",
		Short: "Publish a finalized election's verification hash via the configured publisher",
		Run: func(cmd *cobra.Command, args []string) {
			withEngine(dbPath, func(ctx context.Context, e *tally.Engine) {
				txHash, err := e.PublishBlockchain(ctx, electionID)
				fatalOn(err, "publish_blockchain failed")
				printJSON(map[string]string{"tx_hash": txHash})
			})
		},
	}
	publishCmd.Flags().StringVar(&electionID, "election-id", "", "election id (UUID)")
	tallyCmd.AddCommand(publishCmd)
}

func withEngine(dbPath string, fn func(ctx context.Context, e *tally.Engine)) {
	store, err := sqlite.Open(dbPath)
	fatalOn(err, "could not open store")
	defer store.Close()
	engine := tally.NewEngine(store, store, tally.NoopPublisher{})
	fn(context.Background(), engine)
}

func fatalOn(err error, msg string) {
	if err != nil {
		log.Fatal().Err(err).Msg(msg)
	}
}

func printJSON(v interface{}) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		fmt.Fprintln(os.Stderr, err)
	}
}
