// Package cmd is the thin cobra shell over pkg/keg (spec.md §6's CLI
// stub, SPEC_FULL.md §6): no progress bars, table formatting, or
// parallel scheduling of its own, grounded on the teacher's
// cmd/datamon/cmd package of one file per subcommand over pkg/core.
package cmd

import (
	"fmt"
	"log"

	"github.com/fluxxu/keg/internal/dlogger"
	"github.com/fluxxu/keg/pkg/keg"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var rootParams struct {
	root     string
	logLevel string
}

var rootCmd = &cobra.Command{
	Use:   "keg",
	Short: "keg mirrors a content-addressed game-data repository locally",
	Long: `keg fetches, verifies, and installs files from an NGDP-style
content-addressed distribution protocol. It wraps the library in
pkg/keg; this binary exists to prove that surface is callable
end-to-end, not to add scheduling or presentation of its own.`,
}

func init() {
	log.SetFlags(0)
	rootCmd.PersistentFlags().StringVar(&rootParams.root, "root", ".", "repository root directory")
	rootCmd.PersistentFlags().StringVar(&rootParams.logLevel, "log-level", dlogger.LevelInfo, "engine trace verbosity: debug, info, none")
}

// rootLogger builds the zap logger for engine-level tracing, scoped per
// component via dlogger.Named; fetch is its consumer. --log-level=debug
// surfaces per-version and per-phase plan tracing that the plain
// progress lines printed to stdout don't carry.
func rootLogger() *zap.Logger {
	logger, err := dlogger.New(rootParams.logLevel)
	if err != nil {
		wrapFatalln("building logger for --log-level "+rootParams.logLevel, err)
	}
	return logger
}

// Execute runs the root command; it is called once from main.main.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		osExit(1)
	}
}

func openRepo() *keg.Repo {
	repo, err := keg.Open(rootParams.root)
	if err != nil {
		wrapFatalln("opening repository at "+rootParams.root, err)
	}
	return repo
}
