package cmd

import (
	"context"
	"fmt"
	"io"

	"github.com/fluxxu/keg/pkg/key"
	"github.com/fluxxu/keg/pkg/objectstore"
	"github.com/spf13/cobra"
)

var fetchObjectParams struct {
	kind string
}

var fetchObjectCmd = &cobra.Command{
	Use:   "fetch-object <remote> <key>",
	Short: "Fetch one object by key, bypassing the planner",
	Args:  cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		repo := openRepo()
		defer repo.Close()
		ctx := context.Background()

		k, err := key.Parse(args[1])
		if err != nil {
			wrapFatalln("parsing key", err)
		}

		client, err := repo.RemoteClient(args[0])
		if err != nil {
			wrapFatalln("resolving remote "+args[0], err)
		}
		_, _, store, err := buildStore(ctx, repo, client)
		if err != nil {
			wrapFatalln("resolving cdn for "+args[0], err)
		}

		opts := objectstore.DownloadOptions{Verify: true}
		var rc io.ReadCloser
		switch fetchObjectParams.kind {
		case "config":
			rc, err = store.DownloadConfig(ctx, k, opts)
		case "data":
			rc, err = store.DownloadData(ctx, k, opts)
		case "fragment":
			rc, err = store.DownloadFragment(ctx, k, opts)
		case "index":
			rc, err = store.GetIndex(ctx, k)
		default:
			wrapFatalln("fetch-object", fmt.Errorf("unknown --kind %q", fetchObjectParams.kind))
		}
		if err != nil {
			wrapFatalln("fetching "+args[1], err)
		}
		defer rc.Close()

		n, err := io.Copy(io.Discard, rc)
		if err != nil {
			wrapFatalln("reading "+args[1], err)
		}
		infoLogger.Printf("fetched %s (%s, %d bytes)\n", args[1], fetchObjectParams.kind, n)
	},
}

func init() {
	fetchObjectCmd.Flags().StringVar(&fetchObjectParams.kind, "kind", "data", "object kind: config, data, fragment, or index")
	rootCmd.AddCommand(fetchObjectCmd)
}
