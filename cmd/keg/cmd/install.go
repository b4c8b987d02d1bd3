package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/fluxxu/keg/pkg/buildmgr"
	"github.com/fluxxu/keg/pkg/manifest"
	"github.com/spf13/cobra"
)

var installParams struct {
	tags   []string
	out    string
	dryRun bool
}

var installCmd = &cobra.Command{
	Use:   "install <remote> <build-id>",
	Short: "Materialize an install manifest's files under an output directory",
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
			wrapFatalln("install", fmt.Errorf("remote %q has no recorded build %q (run fetch first)", args[0], args[1]))
		}

		keys, err := repo.KnownKeys()
		if err != nil {
			wrapFatalln("loading known decryption keys", err)
		}

		mgr := buildmgr.Open(repo.ObjectStore(), row.BuildConfig, row.CDNConfig, keys)
		install, err := mgr.Install(ctx)
		if err != nil {
			wrapFatalln("loading install manifest", err)
		}

		entries, err := install.FilterEntries(installParams.tags)
		if err != nil {
			wrapFatalln("filtering install entries by tag", err)
		}

		entries = dedupeByPath(entries)

		if installParams.dryRun {
			for _, e := range entries {
				fmt.Printf("%s\t%s\t%d\n", e.Path, e.Key, e.Size)
			}
			fmt.Printf("%d files\n", len(entries))
			return
		}

		for _, e := range entries {
			data, err := mgr.GetFile(ctx, e.Key)
			if err != nil {
				wrapFatalln("reading "+e.Path, err)
			}
			dest := filepath.Join(installParams.out, filepath.FromSlash(e.Path))
			if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
				wrapFatalln("creating "+filepath.Dir(dest), err)
			}
			if err := os.WriteFile(dest, data, 0o644); err != nil {
				wrapFatalln("writing "+dest, err)
			}
		}
		infoLogger.Printf("installed %d files to %s\n", len(entries), installParams.out)
	},
}

// dedupeByPath keeps the first entry (in sorted path order) for any path
// that appears more than once, and warns about the ones it drops.
func dedupeByPath(entries []manifest.Entry) []manifest.Entry {
	sort.Slice(entries, func(i, j int) bool { return entries[i].Path < entries[j].Path })

	out := entries[:0]
	var lastPath string
	haveLast := false
	for _, e := range entries {
		if haveLast && e.Path == lastPath {
			fmt.Println("warning: duplicate path, keeping first:", e.Path)
			continue
		}
		out = append(out, e)
		lastPath = e.Path
		haveLast = true
	}
	return out
}

func init() {
	installCmd.Flags().StringSliceVar(&installParams.tags, "tags", nil, "tags to select entries for (repeatable)")
	installCmd.Flags().StringVar(&installParams.out, "out", "install", "output directory")
	installCmd.Flags().BoolVar(&installParams.dryRun, "dry-run", false, "list selected files without writing them")
	rootCmd.AddCommand(installCmd)
}
