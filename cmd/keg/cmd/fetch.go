package cmd

import (
	"context"
	"fmt"

	"github.com/fluxxu/keg/internal/dlogger"
	"github.com/fluxxu/keg/internal/kegerrors"
	"github.com/fluxxu/keg/pkg/keg"
	"github.com/fluxxu/keg/pkg/planner"
	"github.com/fluxxu/keg/pkg/statecache"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var fetchParams struct {
	metadataOnly bool
	verify       bool
}

var fetchCmd = &cobra.Command{
	Use:   "fetch <remote>",
	Short: "Fetch a remote's current versions and their object graphs",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		repo := openRepo()
		defer repo.Close()
		if err := runFetch(repo, args[0], fetchParams.metadataOnly, fetchParams.verify); err != nil {
			wrapFatalln("fetching "+args[0], err)
		}
	},
}

var fetchAllCmd = &cobra.Command{
	Use:   "fetch-all",
	Short: "Fetch every remote marked default-fetch",
	Run: func(cmd *cobra.Command, args []string) {
		repo := openRepo()
		defer repo.Close()

		cfg := repo.Config()
		any := false
		for _, name := range repo.Remotes() {
			if !cfg.Remotes[name].DefaultFetch {
				continue
			}
			any = true
			if err := runFetch(repo, name, fetchParams.metadataOnly, fetchParams.verify); err != nil {
				if !kegerrors.Recoverable(err) {
					wrapFatalln("fetching "+name, err)
				}
				fmt.Println("skipping remote", name+":", err)
			}
		}
		if !any {
			infoLogger.Println("no remotes are marked default-fetch")
		}
	},
}

var forceFetchCmd = &cobra.Command{
	Use:   "force-fetch <remote>",
	Short: "Fetch a remote, re-verifying every object even if already present",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		repo := openRepo()
		defer repo.Close()
		if err := runFetch(repo, args[0], fetchParams.metadataOnly, true); err != nil {
			wrapFatalln("fetching "+args[0], err)
		}
	},
}

// runFetch fetches remoteName's current versions and their object
// graphs. Errors are returned unwrapped so callers that can move on to
// another remote (fetch-all) can use kegerrors.Recoverable to tell a
// recoverable network hiccup from any other failure.
func runFetch(repo *keg.Repo, remoteName string, metadataOnly, verify bool) error {
	ctx := context.Background()
	logger := dlogger.Named(rootLogger(), "fetch")
	defer logger.Sync() //nolint:errcheck // best-effort flush on a CLI exit path

	client, err := repo.RemoteClient(remoteName)
	if err != nil {
		return err
	}

	rows, _, store, err := buildStore(ctx, repo, client)
	if err != nil {
		return err
	}

	keys, err := repo.KnownKeys()
	if err != nil {
		return err
	}

	versions := planner.Dedupe(toPlannerVersions(rows))
	opts := planner.Options{MetadataOnly: metadataOnly, Verify: verify, KnownKeys: keys}

	for _, v := range versions {
		logger.Debug("running plan", zap.String("build-config", v.BuildConfig.String()), zap.String("cdn-config", v.CDNConfig.String()))
		plan, err := planner.Run(ctx, store, v, opts)
		if err != nil {
			fmt.Println("skipping version:", err)
			continue
		}
		fmt.Printf("%s: %d items across %d phases\n", remoteName, len(plan.Items()), len(plan.Phases))
		for _, w := range plan.Warnings {
			fmt.Println("warning:", w)
		}
		for _, ph := range plan.Phases {
			logger.Debug("phase", zap.String("name", ph.Name), zap.Int("items", len(ph.Items)))
		}
	}

	for _, r := range rows {
		v, err := parsePlannerVersion(r)
		if err != nil {
			continue
		}
		if err := repo.StateCache().UpsertVersion(statecache.VersionRow{
			Remote:        remoteName,
			Region:        r.Region,
			BuildName:     r.VersionsName,
			BuildID:       r.BuildID,
			BuildConfig:   v.BuildConfig,
			CDNConfig:     v.CDNConfig,
			ProductConfig: v.ProductConfig,
		}); err != nil {
			return err
		}
	}
	return nil
}

func init() {
	for _, c := range []*cobra.Command{fetchCmd, fetchAllCmd, forceFetchCmd} {
		c.Flags().BoolVar(&fetchParams.metadataOnly, "metadata-only", false, "stop before the data phase")
	}
	fetchCmd.Flags().BoolVar(&fetchParams.verify, "verify", false, "verify every downloaded object's digest")
	fetchAllCmd.Flags().BoolVar(&fetchParams.verify, "verify", false, "verify every downloaded object's digest")

	rootCmd.AddCommand(fetchCmd, fetchAllCmd, forceFetchCmd)
}
