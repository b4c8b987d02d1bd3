// Package localfs implements objectstore.Store over a two-level
// partitioned filesystem tree, grounded on the teacher's
// afero-backed, temp-file-plus-rename atomic writer
// (pkg/storage/localfs.localFSAtomic), generalized from one shared
// staging directory to a per-key staging name so concurrent writers
// for different keys never collide (spec.md §5's concurrent-writer
// rule).
package localfs

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"sync/atomic"

	"github.com/fluxxu/keg/internal/kegerrors"
	"github.com/fluxxu/keg/pkg/key"
	"github.com/fluxxu/keg/pkg/objectstore"
	"github.com/spf13/afero"
)

// Store is a local, partitioned-filesystem object store.
type Store struct {
	fs  afero.Fs
	pid int
	seq uint64
}

// New wraps fs (rooted at the store's top-level directory, typically
// via afero.NewBasePathFs) as an objectstore.Store.
func New(fs afero.Fs) *Store {
	return &Store{fs: fs, pid: os.Getpid()}
}

func (s *Store) has(path string) (bool, error) {
	fi, err := s.fs.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	return !fi.IsDir(), nil
}

func (s *Store) HasConfig(_ context.Context, k key.Key) (bool, error) {
	return s.has(objectstore.Path(objectstore.KindConfig, k))
}

func (s *Store) HasIndex(_ context.Context, k key.Key) (bool, error) {
	return s.has(objectstore.Path(objectstore.KindIndex, k) + ".index")
}

func (s *Store) HasData(_ context.Context, k key.Key) (bool, error) {
	return s.has(objectstore.Path(objectstore.KindData, k))
}

func (s *Store) HasFragment(_ context.Context, k key.Key) (bool, error) {
	return s.has(objectstore.Path(objectstore.KindFragment, k))
}

func (s *Store) get(path string) (io.ReadCloser, error) {
	has, err := s.has(path)
	if err != nil {
		return nil, err
	}
	if !has {
		return nil, &kegerrors.NotFound{Kind: "object", Key: path}
	}
	return s.fs.Open(path)
}

func (s *Store) GetConfig(_ context.Context, k key.Key) (io.ReadCloser, error) {
	return s.get(objectstore.Path(objectstore.KindConfig, k))
}

func (s *Store) GetIndex(_ context.Context, k key.Key) (io.ReadCloser, error) {
	return s.get(objectstore.Path(objectstore.KindIndex, k) + ".index")
}

func (s *Store) GetArchive(_ context.Context, k key.Key) (io.ReadCloser, error) {
	return s.get(objectstore.Path(objectstore.KindData, k))
}

func (s *Store) GetFragment(_ context.Context, k key.Key) (io.ReadCloser, error) {
	return s.get(objectstore.Path(objectstore.KindFragment, k))
}

// DownloadConfig is Get with the same local-only semantics; a local
// store never reaches to the network, so verify only re-checks what
// is already on disk.
func (s *Store) DownloadConfig(ctx context.Context, k key.Key, opts objectstore.DownloadOptions) (io.ReadCloser, error) {
	return s.downloadVerified(ctx, objectstore.Path(objectstore.KindConfig, k), k, opts)
}

func (s *Store) DownloadData(ctx context.Context, k key.Key, opts objectstore.DownloadOptions) (io.ReadCloser, error) {
	return s.downloadVerified(ctx, objectstore.Path(objectstore.KindData, k), k, opts)
}

func (s *Store) DownloadFragment(ctx context.Context, k key.Key, opts objectstore.DownloadOptions) (io.ReadCloser, error) {
	return s.downloadVerified(ctx, objectstore.Path(objectstore.KindFragment, k), k, opts)
}

func (s *Store) downloadVerified(_ context.Context, path string, k key.Key, opts objectstore.DownloadOptions) (io.ReadCloser, error) {
	rc, err := s.get(path)
	if err != nil {
		return nil, err
	}
	if !opts.Verify {
		return rc, nil
	}
	data, err := io.ReadAll(rc)
	_ = rc.Close()
	if err != nil {
		return nil, err
	}
	if got := key.Of(data); got != k {
		return nil, &kegerrors.IntegrityError{What: "object", Expected: k.String(), Actual: got.String()}
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

// Put writes data under kind/key atomically: it is staged under a
// per-key temp name and renamed into place, so a reader never
// observes a partially written object (spec.md §4.5's concurrency
// rule).
func (s *Store) Put(ctx context.Context, kind objectstore.Kind, k key.Key, r io.Reader) error {
	return s.put(ctx, objectstore.Path(kind, k), r)
}

// PutIndex is Put for the ".index" suffix archive indices carry.
func (s *Store) PutIndex(ctx context.Context, k key.Key, r io.Reader) error {
	return s.put(ctx, objectstore.Path(objectstore.KindIndex, k)+".index", r)
}

// PutNamed writes under an arbitrary top-level directory rather than
// one of the four fixed object Kinds — used for the remote client's
// "responses/{endpoint}/XX/YY/{digest}" cache area, which lives
// alongside the CDN object store but is not itself a CDN object kind.
func (s *Store) PutNamed(ctx context.Context, dir string, k key.Key, r io.Reader) error {
	hi, lo, full := k.Partition()
	return s.put(ctx, dir+"/"+hi+"/"+lo+"/"+full, r)
}

func (s *Store) put(_ context.Context, path string, r io.Reader) error {
	dir := parentDir(path)
	if dir != "" {
		if err := s.fs.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("ensuring directories for %q: %w", path, err)
		}
	}

	stagePath := fmt.Sprintf("%s.%d-%d.keg_temp", path, s.pid, s.nextSeq())
	f, err := s.fs.OpenFile(stagePath, os.O_CREATE|os.O_WRONLY|os.O_EXCL, 0o644)
	if err != nil {
		return fmt.Errorf("staging %q: %w", path, err)
	}
	if _, err := io.Copy(f, r); err != nil {
		_ = f.Close()
		_ = s.fs.Remove(stagePath)
		return fmt.Errorf("writing %q: %w", path, err)
	}
	if err := f.Close(); err != nil {
		_ = s.fs.Remove(stagePath)
		return err
	}
	return s.fs.Rename(stagePath, path)
}

func (s *Store) nextSeq() uint64 {
	return atomic.AddUint64(&s.seq, 1)
}

func parentDir(path string) string {
	for i := len(path) - 1; i >= 0; i-- {
		if path[i] == '/' {
			return path[:i]
		}
	}
	return ""
}
