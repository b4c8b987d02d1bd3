package cmd

import (
	"context"
	"fmt"

	"github.com/fluxxu/keg/pkg/encoding"
	"github.com/fluxxu/keg/pkg/key"
	"github.com/spf13/cobra"
)

var parseEncodingParams struct {
	verify bool
}

var parseEncodingCmd = &cobra.Command{
	Use:   "parse-encoding <key>",
	Short: "Decode a locally stored encoding file and print its ckey/ekey/espec mappings",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		repo := openRepo()
		defer repo.Close()
		ctx := context.Background()

		k, err := key.Parse(args[0])
		if err != nil {
			wrapFatalln("parsing key", err)
		}

		rc, err := repo.ObjectStore().GetArchive(ctx, k)
		if err != nil {
			wrapFatalln("opening encoding file "+args[0], err)
		}
		defer rc.Close()

		f, err := encoding.ParseAll(rc, parseEncodingParams.verify)
		if err != nil {
			wrapFatalln("parsing encoding file", err)
		}

		fmt.Println("content keys:")
		cit := f.ContentKeys()
		for {
			e, ok := cit.Next()
			if !ok {
				break
			}
			fmt.Printf("  %s\tsize=%d\tekeys=%v\n", e.ContentKey, e.Size, e.EncodedKeys)
		}

		fmt.Println("encoded keys:")
		eit := f.EncodedKeys()
		for {
			e, ok := eit.Next()
			if !ok {
				break
			}
			fmt.Printf("  %s\tspec=%s\tsize=%d\n", e.EncodedKey, e.Spec, e.Size)
		}
	},
}

func init() {
	parseEncodingCmd.Flags().BoolVar(&parseEncodingParams.verify, "verify", false, "verify each page's checksum while parsing")
	rootCmd.AddCommand(parseEncodingCmd)
}
