package cmd

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/fluxxu/keg/pkg/archiveindex"
	"github.com/fluxxu/keg/pkg/blte"
	"github.com/fluxxu/keg/pkg/key"
	"github.com/fluxxu/keg/pkg/objectstore/localfs"
	"github.com/spf13/cobra"
)

var archiveCmd = &cobra.Command{
	Use:   "archive",
	Short: "Inspect, extract from, and build archive indices",
}

var archiveListCmd = &cobra.Command{
	Use:   "list <archive-key>",
	Short: "List every entry a local archive's index describes",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		repo := openRepo()
		defer repo.Close()

		idx := loadLocalIndex(repo.ObjectStore(), args[0])
		it := idx.Iter()
		for {
			e, ok := it.Next()
			if !ok {
				break
			}
			fmt.Printf("%s\t%d\t%d\n", e.Key, e.Size, e.Offset)
		}
	},
}

var archiveExtractCmd = &cobra.Command{
	Use:   "extract <archive-key> <ekey> <outfile>",
	Short: "Decode one entry out of a local archive and write it to outfile",
	Args:  cobra.ExactArgs(3),
	Run: func(cmd *cobra.Command, args []string) {
		repo := openRepo()
		defer repo.Close()
		ctx := context.Background()

		archiveKey, err := key.Parse(args[0])
		if err != nil {
			wrapFatalln("parsing archive key", err)
		}
		ekey, err := key.Parse(args[1])
		if err != nil {
			wrapFatalln("parsing entry key", err)
		}

		idx := loadLocalIndex(repo.ObjectStore(), args[0])
		entry, ok := idx.Lookup(ekey)
		if !ok {
			wrapFatalln("extract", fmt.Errorf("%s is not present in archive %s's index", args[1], args[0]))
		}

		rc, err := repo.ObjectStore().GetArchive(ctx, archiveKey)
		if err != nil {
			wrapFatalln("opening archive "+args[0], err)
		}
		defer rc.Close()
		raw, err := io.ReadAll(rc)
		if err != nil {
			wrapFatalln("reading archive "+args[0], err)
		}
		if int(entry.Offset+entry.Size) > len(raw) {
			wrapFatalln("extract", fmt.Errorf("entry range exceeds archive size"))
		}
		chunk := raw[entry.Offset : entry.Offset+entry.Size]

		keys, err := repo.KnownKeys()
		if err != nil {
			wrapFatalln("loading known decryption keys", err)
		}
		decoded, err := blte.DecodeAll(bytes.NewReader(chunk), ekey, keys)
		if err != nil {
			wrapFatalln("decoding entry "+args[1], err)
		}
		if err := os.WriteFile(args[2], decoded, 0o644); err != nil {
			wrapFatalln("writing "+args[2], err)
		}
		infoLogger.Printf("extracted %s (%d bytes) to %s\n", args[1], len(decoded), args[2])
	},
}

var archiveCreateCmd = &cobra.Command{
	Use:   "create <ekey>...",
	Short: "Build a new archive index over a set of locally stored ekeys",
	Args:  cobra.MinimumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		repo := openRepo()
		defer repo.Close()
		ctx := context.Background()
		store := repo.ObjectStore()

		entries := make([]archiveindex.Entry, 0, len(args))
		var offset uint32
		for _, raw := range args {
			k, err := key.Parse(raw)
			if err != nil {
				wrapFatalln("parsing key "+raw, err)
			}
			rc, err := store.GetArchive(ctx, k)
			if err != nil {
				wrapFatalln("opening data object "+raw, err)
			}
			data, err := io.ReadAll(rc)
			rc.Close()
			if err != nil {
				wrapFatalln("reading data object "+raw, err)
			}
			entries = append(entries, archiveindex.Entry{Key: k, Size: uint32(len(data)), Offset: offset})
			offset += uint32(len(data))
		}
		sort.Slice(entries, func(i, j int) bool { return bytes.Compare(entries[i].Key[:], entries[j].Key[:]) < 0 })

		var buf bytes.Buffer
		id, err := archiveindex.Write(&buf, entries)
		if err != nil {
			wrapFatalln("encoding index", err)
		}
		if err := store.PutIndex(ctx, id, bytes.NewReader(buf.Bytes())); err != nil {
			wrapFatalln("writing index", err)
		}
		infoLogger.Printf("wrote index %s over %d entries\n", id, len(entries))
	},
}

var archiveListFragmentsCmd = &cobra.Command{
	Use:   "list-fragments",
	Short: "List every fragment object in the local cache",
	Run: func(cmd *cobra.Command, args []string) {
		repo := openRepo()
		defer repo.Close()

		err := repo.ObjectStore().Walk("fragments", func(obj localfs.Object) error {
			fmt.Println(obj.Key)
			return nil
		})
		if err != nil {
			wrapFatalln("walking fragments", err)
		}
	},
}

func loadLocalIndex(store *localfs.Store, archiveKeyStr string) *archiveindex.Index {
	k, err := key.Parse(archiveKeyStr)
	if err != nil {
		wrapFatalln("parsing archive key", err)
	}
	rc, err := store.GetIndex(context.Background(), k)
	if err != nil {
		wrapFatalln("opening index for "+archiveKeyStr, err)
	}
	defer rc.Close()
	idx, err := archiveindex.ParseReader(rc)
	if err != nil {
		wrapFatalln("parsing index for "+archiveKeyStr, err)
	}
	return idx
}

func init() {
	archiveCmd.AddCommand(archiveListCmd, archiveExtractCmd, archiveCreateCmd, archiveListFragmentsCmd)
	rootCmd.AddCommand(archiveCmd)
}
