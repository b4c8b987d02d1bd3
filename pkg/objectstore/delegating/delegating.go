// Package delegating implements the read-local-first, verify-then-
// commit decorator over a local and a remote objectstore.Store
// (spec.md §4.5). Grounded on the teacher's check-then-commit blob
// verification in pkg/cafs/check_blob.go, generalized from CRC32C to
// the protocol's MD5 content addressing and from "already present,
// maybe overwrite" to "never visible until verified".
package delegating

import (
	"bytes"
	"context"
	"io"

	"github.com/fluxxu/keg/internal/kegerrors"
	"github.com/fluxxu/keg/pkg/archiveindex"
	"github.com/fluxxu/keg/pkg/key"
	"github.com/fluxxu/keg/pkg/objectstore"
)

// Putter is the subset of localfs.Store the delegating store needs to
// commit a verified remote fetch into the local cache.
type Putter interface {
	Put(ctx context.Context, kind objectstore.Kind, k key.Key, r io.Reader) error
	PutIndex(ctx context.Context, k key.Key, r io.Reader) error
}

// Store reads from local first, falling back to remote on miss; a
// remote hit is verified and committed to local before being handed
// to the caller, so the second read of the same key never touches the
// network.
type Store struct {
	local  objectstore.Store
	putter Putter
	remote objectstore.Store
}

// New builds a delegating store over a local cache (also used as the
// commit target) and a remote mirror.
func New(local objectstore.Store, putter Putter, remote objectstore.Store) *Store {
	return &Store{local: local, putter: putter, remote: remote}
}

func (s *Store) HasConfig(ctx context.Context, k key.Key) (bool, error) {
	return firstTrue(ctx, k, s.local.HasConfig, s.remote.HasConfig)
}

func (s *Store) HasIndex(ctx context.Context, k key.Key) (bool, error) {
	return firstTrue(ctx, k, s.local.HasIndex, s.remote.HasIndex)
}

func (s *Store) HasData(ctx context.Context, k key.Key) (bool, error) {
	return firstTrue(ctx, k, s.local.HasData, s.remote.HasData)
}

func (s *Store) HasFragment(ctx context.Context, k key.Key) (bool, error) {
	return firstTrue(ctx, k, s.local.HasFragment, s.remote.HasFragment)
}

func firstTrue(ctx context.Context, k key.Key, local, remote func(context.Context, key.Key) (bool, error)) (bool, error) {
	has, err := local(ctx, k)
	if err != nil {
		return false, err
	}
	if has {
		return true, nil
	}
	return remote(ctx, k)
}

func (s *Store) GetConfig(ctx context.Context, k key.Key) (io.ReadCloser, error) {
	return s.getThrough(ctx, k, objectstore.KindConfig, false, s.local.GetConfig, s.remote.GetConfig)
}

func (s *Store) GetIndex(ctx context.Context, k key.Key) (io.ReadCloser, error) {
	return s.getThrough(ctx, k, objectstore.KindIndex, true, s.local.GetIndex, s.remote.GetIndex)
}

func (s *Store) GetArchive(ctx context.Context, k key.Key) (io.ReadCloser, error) {
	return s.getThrough(ctx, k, objectstore.KindData, false, s.local.GetArchive, s.remote.GetArchive)
}

func (s *Store) GetFragment(ctx context.Context, k key.Key) (io.ReadCloser, error) {
	return s.getThrough(ctx, k, objectstore.KindFragment, false, s.local.GetFragment, s.remote.GetFragment)
}

// getThrough takes an explicit isIndex flag because objectstore.KindIndex
// and objectstore.KindData share the "data" directory name and so compare
// equal as Kind values.
func (s *Store) getThrough(
	ctx context.Context,
	k key.Key,
	kind objectstore.Kind,
	isIndex bool,
	local, remote func(context.Context, key.Key) (io.ReadCloser, error),
) (io.ReadCloser, error) {
	rc, err := local(ctx, k)
	if err == nil {
		return rc, nil
	}
	if _, isNotFound := err.(*kegerrors.NotFound); !isNotFound {
		return nil, err
	}

	remoteBody, err := remote(ctx, k)
	if err != nil {
		return nil, err
	}
	return s.verifyAndCommit(ctx, kind, isIndex, k, remoteBody)
}

// verifyAndCommit reads body fully, computes its identity (an archive
// index's footer identity when isIndex, otherwise the whole-body MD5),
// aborts before any write if it doesn't match
// k, and otherwise commits it to the local store under kind/k before
// returning it to the caller. Verification happens strictly before
// the local store's own rename-into-place, so a half-verified object
// is never visible at its final path (spec.md §4.5's concurrency
// rule).
func (s *Store) verifyAndCommit(ctx context.Context, kind objectstore.Kind, isIndex bool, k key.Key, body io.ReadCloser) (io.ReadCloser, error) {
	defer body.Close()

	data, err := io.ReadAll(body)
	if err != nil {
		return nil, err
	}

	sum, err := identityOf(isIndex, data)
	if err != nil {
		return nil, err
	}
	if sum != k {
		return nil, &kegerrors.IntegrityError{What: "remote object", Expected: k.String(), Actual: sum.String()}
	}

	put := s.putter.Put
	if isIndex {
		put = func(ctx context.Context, _ objectstore.Kind, k key.Key, r io.Reader) error {
			return s.putter.PutIndex(ctx, k, r)
		}
	}
	if err := put(ctx, kind, k, bytes.NewReader(data)); err != nil {
		return nil, err
	}

	return io.NopCloser(bytes.NewReader(data)), nil
}

// identityOf computes the identity a kind's bytes are keyed by: an
// archive index's identity is its footer's own checksum over the
// trailing 28 bytes (spec.md §3, Invariant 1), not a whole-body MD5 —
// every other kind is keyed by the whole-body MD5 pkg/key.Of computes.
// Hashing an index's full body would never match its key and would
// permanently break fetching any remote index not already cached
// locally.
func identityOf(isIndex bool, data []byte) (key.Key, error) {
	if !isIndex {
		return key.Of(data), nil
	}
	idx, err := archiveindex.Parse(data)
	if err != nil {
		return key.Key{}, &kegerrors.ParseError{Format: "archive index", Reason: err.Error()}
	}
	return idx.Identity(), nil
}

// DownloadConfig streams through the same local-first path as
// GetConfig; opts.Verify is honored by re-checking the final bytes
// even when served from local, since a prior write may predate a
// corruption that slipped past an earlier check.
func (s *Store) DownloadConfig(ctx context.Context, k key.Key, opts objectstore.DownloadOptions) (io.ReadCloser, error) {
	rc, err := s.GetConfig(ctx, k)
	if err != nil {
		return nil, err
	}
	return maybeVerify(rc, k, opts)
}

func (s *Store) DownloadData(ctx context.Context, k key.Key, opts objectstore.DownloadOptions) (io.ReadCloser, error) {
	rc, err := s.GetArchive(ctx, k)
	if err != nil {
		return nil, err
	}
	return maybeVerify(rc, k, opts)
}

func (s *Store) DownloadFragment(ctx context.Context, k key.Key, opts objectstore.DownloadOptions) (io.ReadCloser, error) {
	rc, err := s.GetFragment(ctx, k)
	if err != nil {
		return nil, err
	}
	return maybeVerify(rc, k, opts)
}

// GetArchiveRange implements objectstore.RangeReader: it prefers a
// remote range request when the archive is not already local, so a
// caller resolving one file out of a large archive group need not pull
// the whole archive across the network first.
func (s *Store) GetArchiveRange(ctx context.Context, archive key.Key, offset, size uint32) (io.ReadCloser, error) {
	has, err := s.local.HasData(ctx, archive)
	if err != nil {
		return nil, err
	}
	if has {
		rc, err := s.local.GetArchive(ctx, archive)
		if err != nil {
			return nil, err
		}
		return sliceReader(rc, offset, size)
	}
	if rr, ok := s.remote.(objectstore.RangeReader); ok {
		return rr.GetArchiveRange(ctx, archive, offset, size)
	}
	rc, err := s.GetArchive(ctx, archive)
	if err != nil {
		return nil, err
	}
	return sliceReader(rc, offset, size)
}

func sliceReader(rc io.ReadCloser, offset, size uint32) (io.ReadCloser, error) {
	defer rc.Close()
	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, err
	}
	end := int(offset) + int(size)
	if int(offset) > len(data) || end > len(data) {
		return nil, &kegerrors.ParseError{Format: "archive range", Reason: "range exceeds archive length"}
	}
	return io.NopCloser(bytes.NewReader(data[offset:end])), nil
}

func maybeVerify(rc io.ReadCloser, k key.Key, opts objectstore.DownloadOptions) (io.ReadCloser, error) {
	if !opts.Verify {
		return rc, nil
	}
	defer rc.Close()
	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, err
	}
	if got := key.Of(data); got != k {
		return nil, &kegerrors.IntegrityError{What: "object", Expected: k.String(), Actual: got.String()}
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}
