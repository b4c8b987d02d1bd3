package cmd

import (
	"fmt"
	"io"
	"strings"

	"github.com/fluxxu/keg/pkg/archiveindex"
	"github.com/fluxxu/keg/pkg/key"
	"github.com/fluxxu/keg/pkg/objectstore"
	"github.com/fluxxu/keg/pkg/objectstore/localfs"
	"github.com/spf13/cobra"
)

var fsckParams struct {
	delete bool
}

var fsckCmd = &cobra.Command{
	Use:   "fsck",
	Short: "Verify every locally stored object against its key",
	Run: func(cmd *cobra.Command, args []string) {
		repo := openRepo()
		defer repo.Close()
		store := repo.ObjectStore()

		bad := 0
		for _, kind := range []objectstore.Kind{objectstore.KindConfig, objectstore.KindData, objectstore.KindFragment} {
			err := store.Walk(kind, func(obj localfs.Object) error {
				good, err := verifyObject(store, obj)
				if err != nil {
					return err
				}
				if good {
					return nil
				}
				bad++
				fmt.Println("corrupt:", obj.Path)
				if fsckParams.delete {
					if err := store.Delete(obj.Path); err != nil {
						return err
					}
					fmt.Println("removed:", obj.Path)
				}
				return nil
			})
			if err != nil {
				wrapFatalln("walking "+string(kind), err)
			}
		}

		if bad == 0 {
			infoLogger.Println("all local objects verified")
			return
		}
		wrapFatalln("fsck", fmt.Errorf("%d object(s) failed verification", bad))
	},
}

func verifyObject(store *localfs.Store, obj localfs.Object) (bool, error) {
	if strings.HasSuffix(obj.Path, ".index") {
		return verifyIndex(store, obj)
	}
	return verifyLeaf(store, obj)
}

func verifyLeaf(store *localfs.Store, obj localfs.Object) (bool, error) {
	data, err := readObjectFile(store, obj)
	if err != nil {
		return false, err
	}
	return key.Of(data) == obj.Key, nil
}

func verifyIndex(store *localfs.Store, obj localfs.Object) (bool, error) {
	data, err := readObjectFile(store, obj)
	if err != nil {
		return false, err
	}
	idx, err := archiveindex.Parse(data)
	if err != nil {
		return false, nil //nolint:nilerr // a parse failure is itself a corruption finding
	}
	return idx.Identity() == obj.Key, nil
}

func readObjectFile(store *localfs.Store, obj localfs.Object) ([]byte, error) {
	rc, err := store.Open(obj.Path)
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return io.ReadAll(rc)
}

func init() {
	fsckCmd.Flags().BoolVar(&fsckParams.delete, "delete", false, "remove objects that fail verification")
	rootCmd.AddCommand(fsckCmd)
}
