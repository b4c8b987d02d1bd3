package cmd

import (
	"context"
	"fmt"

	"github.com/fluxxu/keg/pkg/configfile"
	"github.com/fluxxu/keg/pkg/key"
	"github.com/fluxxu/keg/pkg/objectstore"
	"github.com/spf13/cobra"
)

var showCmd = &cobra.Command{
	Use:   "show <remote> <build-id>",
	Short: "Show a previously-fetched build's resolved configs",
	Args:  cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		repo := openRepo()
		defer repo.Close()
		ctx := context.Background()

		row, ok, err := repo.StateCache().GetVersionByID(args[0], args[1])
		if err != nil {
			wrapFatalln("looking up build "+args[1], err)
		}
		if !ok {
			wrapFatalln("show", fmt.Errorf("remote %q has no recorded build %q (run fetch first)", args[0], args[1]))
		}

		local := repo.ObjectStore()
		buildCfg, err := readLocalConfig(ctx, local, row.BuildConfig)
		if err != nil {
			wrapFatalln("reading build config", err)
		}
		cdnCfg, err := readLocalConfig(ctx, local, row.CDNConfig)
		if err != nil {
			wrapFatalln("reading cdn config", err)
		}

		fmt.Println("region:", row.Region)
		fmt.Println("build-config:", row.BuildConfig)
		fmt.Println("cdn-config:", row.CDNConfig)
		fmt.Println("root:", buildCfg.Value("root"))
		fmt.Println("encoding:", buildCfg.Value("encoding"))
		fmt.Println("install:", buildCfg.Value("install"))
		fmt.Println("download:", buildCfg.Value("download"))
		archives, _ := cdnCfg.Values("archives")
		fmt.Println("archives:", len(archives))
	},
}

func readLocalConfig(ctx context.Context, store objectstore.Store, k key.Key) (*configfile.File, error) {
	rc, err := store.GetConfig(ctx, k)
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return configfile.Parse(rc)
}

func init() {
	rootCmd.AddCommand(showCmd)
}
