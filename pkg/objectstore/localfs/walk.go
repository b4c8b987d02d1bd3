package localfs

import (
	"io"
	"os"
	"strings"

	"github.com/fluxxu/keg/pkg/key"
	"github.com/fluxxu/keg/pkg/objectstore"
	"github.com/spf13/afero"
)

// Object is one on-disk entry a Walk visits: its kind, the key its
// partitioned path claims, and the path itself (fsck needs the path to
// unlink a tampered object; the index suffix is stripped from Key's
// source so callers never have to special-case it).
type Object struct {
	Kind objectstore.Kind
	Key  key.Key
	Path string
}

// Walk visits every object under kind's top-level directory, grounded
// on the teacher's afero.Walk-based Keys() in pkg/storage/localfs, here
// narrowed to one kind at a time and resolving each leaf's key from its
// own partitioned path rather than returning raw paths.
func (s *Store) Walk(kind objectstore.Kind, fn func(Object) error) error {
	root := string(kind)
	return afero.Walk(s.fs, root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			if os.IsNotExist(err) && path == root {
				return nil
			}
			return err
		}
		if info.IsDir() {
			return nil
		}
		if strings.Contains(path, ".keg_temp") {
			return nil
		}
		name := path[strings.LastIndex(path, "/")+1:]
		name = strings.TrimSuffix(name, ".index")
		k, err := key.Parse(name)
		if err != nil {
			return nil //nolint:nilerr // not every leaf under a kind's tree is key-named (e.g. a .meta companion)
		}
		return fn(Object{Kind: kind, Key: k, Path: path})
	})
}

// Delete unlinks an object by its on-disk path, as reported by Walk —
// used by fsck --delete to remove a tampered object.
func (s *Store) Delete(path string) error {
	return s.fs.Remove(path)
}

// Open reads an object by its on-disk path, as reported by Walk — used
// by fsck to re-read a leaf's raw bytes for verification without
// going through a kind-specific Get method.
func (s *Store) Open(path string) (io.ReadCloser, error) {
	return s.fs.Open(path)
}
