package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var logParams struct {
	endpoint string
}

var logCmd = &cobra.Command{
	Use:   "log <remote>",
	Short: "Show a remote's recorded fetch history for one endpoint",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		repo := openRepo()
		defer repo.Close()

		entries, err := repo.StateCache().History(args[0], logParams.endpoint)
		if err != nil {
			wrapFatalln("reading history for "+args[0], err)
		}
		if len(entries) == 0 {
			infoLogger.Println("no recorded", logParams.endpoint, "responses for", args[0])
			return
		}
		for i := len(entries) - 1; i >= 0; i-- {
			e := entries[i]
			fmt.Printf("%s  %s\n", time.Unix(e.Timestamp, 0).UTC().Format(time.RFC3339), e.Meta.Digest)
		}
	},
}

func init() {
	logCmd.Flags().StringVar(&logParams.endpoint, "endpoint", "versions", "endpoint to show history for: versions, cdns, bgdl, blobs")
	rootCmd.AddCommand(logCmd)
}
