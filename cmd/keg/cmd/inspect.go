package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var inspectCmd = &cobra.Command{
	Use:   "inspect <remote>",
	Short: "List the versions a remote currently serves",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		repo := openRepo()
		defer repo.Close()
		ctx := context.Background()

		client, err := repo.RemoteClient(args[0])
		if err != nil {
			wrapFatalln("resolving remote "+args[0], err)
		}
		rows, _, _, err := buildStore(ctx, repo, client)
		if err != nil {
			wrapFatalln("fetching "+args[0]+"'s versions", err)
		}

		for _, r := range rows {
			fmt.Printf("%s\t%s\t%s\tbuild=%s cdn=%s\n", r.Region, r.BuildID, r.VersionsName, r.BuildConfig, r.CDNConfig)
		}
	},
}

func init() {
	rootCmd.AddCommand(inspectCmd)
}
