package main

import (
	"os"
	"runtime"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/vericount/tallycore/cmds/auditor"
	"github.com/vericount/tallycore/cmds/keygen"
	tallycmd "github.com/vericount/tallycore/cmds/tally"
	"github.com/vericount/tallycore/cmds/trustee"
	"github.com/vericount/tallycore/tally"
)

func preamble(cmd *cobra.Command, args []string) {
	log.Info().
		Str("version", tally.Version).
		Str("protocol", tally.ProtocolVersion).
		Msg("tallycore")

	log.Debug().
		Str("commit", tally.Commit).
		Str("built", tally.BuildDate).
		Str("arch", runtime.GOARCH).
		Str("os", runtime.GOOS).
		Msg("Build Info")
}

const timeFormatMs = "2006-01-02T15:04:05.000Z07:00"
const timeFormatLocal = "2006-01-02 15:04:05.000"

func main() {
	// configure the logger.
	// remember pretty logs are only good on the console
	zerolog.TimeFieldFormat = timeFormatMs
	log.Logger = log.Output(zerolog.NewConsoleWriter(func(cw *zerolog.ConsoleWriter) {
		cw.TimeFormat = timeFormatLocal
		cw.NoColor = true
	}))

	// initialise the cobra framework for the command.
	var rootCmd = &cobra.Command{
		Use:              "tallycore",
		Short:            "Privacy-preserving tallying core",
		Version:          tally.Version,
		PersistentPreRun: preamble,
	}

	if os.Getenv("DEBUG") != "" {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	} else {
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}

	// commands:
	//
	// - keygen: run the trusted-dealer ceremony, write trustee share files
	// - trustee: submit one trustee's partial decryption for a started session
	// - tally: drive start/finalize/verify/publish against a store
	// - auditor: inspect and verify a finalized election

	auditor.Register(rootCmd)
	keygen.Register(rootCmd)
	tallycmd.Register(rootCmd)
	trustee.Register(rootCmd)

	if err := rootCmd.Execute(); err != nil {
		log.Err(err).Msg("An Error Occured")
		os.Exit(1)
	}
}
