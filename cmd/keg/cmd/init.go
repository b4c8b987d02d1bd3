package cmd

import (
	"errors"

	"github.com/fluxxu/keg/pkg/keg"
	"github.com/spf13/cobra"
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize a repository in the root directory",
	Long:  `Creates .ngdp/{keg.conf,keg.db,objects}. Running it again on an already-initialized root reports "Reinitialized" and mutates nothing.`,
	Run: func(cmd *cobra.Command, args []string) {
		repo, err := keg.Init(rootParams.root)
		if err != nil && !errors.Is(err, keg.ErrAlreadyInitialized) {
			wrapFatalln("initializing repository", err)
		}
		defer repo.Close()

		if errors.Is(err, keg.ErrAlreadyInitialized) {
			infoLogger.Println("Reinitialized existing repository in", rootParams.root)
			return
		}
		infoLogger.Println("Initialized empty repository in", rootParams.root)
	},
}

func init() {
	rootCmd.AddCommand(initCmd)
}
