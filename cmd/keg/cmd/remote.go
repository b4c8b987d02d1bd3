package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var remoteCmd = &cobra.Command{
	Use:   "remote",
	Short: "Manage the repository's named remotes",
}

var remoteAddParams struct {
	server       string
	writeable    bool
	defaultFetch bool
}

var remoteAddCmd = &cobra.Command{
	Use:   "add <name>",
	Short: "Add or replace a named remote",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		repo := openRepo()
		defer repo.Close()

		name := args[0]
		if err := repo.AddRemote(name, remoteAddParams.server, remoteAddParams.writeable, remoteAddParams.defaultFetch); err != nil {
			wrapFatalln("adding remote "+name, err)
		}
		infoLogger.Println("added remote", name)
	},
}

var remoteRmCmd = &cobra.Command{
	Use:   "rm <name>",
	Short: "Remove a named remote and its cached state",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		repo := openRepo()
		defer repo.Close()

		name := args[0]
		if err := repo.RemoveRemote(name); err != nil {
			wrapFatalln("removing remote "+name, err)
		}
		infoLogger.Println("removed remote", name)
	},
}

var remoteListCmd = &cobra.Command{
	Use:   "list",
	Short: "List configured remotes",
	Run: func(cmd *cobra.Command, args []string) {
		repo := openRepo()
		defer repo.Close()

		for _, name := range repo.Remotes() {
			fmt.Println(name)
		}
	},
}

func init() {
	remoteAddCmd.Flags().StringVar(&remoteAddParams.server, "server", "", "patch-server base URL, e.g. http://us.patch.battle.net:1119")
	remoteAddCmd.Flags().BoolVar(&remoteAddParams.writeable, "writeable", false, "mark this remote writeable")
	remoteAddCmd.Flags().BoolVar(&remoteAddParams.defaultFetch, "default-fetch", false, "include this remote in fetch-all by default")
	_ = remoteAddCmd.MarkFlagRequired("server")

	remoteCmd.AddCommand(remoteAddCmd, remoteRmCmd, remoteListCmd)
	rootCmd.AddCommand(remoteCmd)
}
