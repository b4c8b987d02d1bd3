// Package objectstore defines the content-addressed object store
// interface shared by the local filesystem cache, the remote CDN
// client, and the delegating store that layers them (spec.md §4.5).
package objectstore

import (
	"context"
	"io"

	"github.com/fluxxu/keg/pkg/key"
)

// Kind names the object classes a CDN path distinguishes, each mapped
// to a top-level directory on both the local cache and the remote
// mirror; archive indices share the data directory, so KindIndex and
// KindData are equal values. Fragments get their own tree rather than living
// alongside data, matching spec.md §3's parallel "fragments/" layout.
type Kind string

const (
	KindConfig   Kind = "config"
	KindIndex    Kind = "data" // archive indices live alongside data, suffixed ".index"
	KindData     Kind = "data"
	KindFragment Kind = "fragments"
)

// Path builds the two-level partitioned relative path for a key under
// its kind: "{kind}/XX/YY/{key}".
func Path(kind Kind, k key.Key) string {
	hi, lo, full := k.Partition()
	return string(kind) + "/" + hi + "/" + lo + "/" + full
}

// DownloadOptions configures a streamed download.
type DownloadOptions struct {
	// Verify requires the downloaded bytes to hash (MD5) to the
	// requested key before they are considered valid.
	Verify bool
}

// Store is the object store contract every backend and the delegating
// decorator implement: spec.md §4.5's has/get/download surface.
type Store interface {
	HasConfig(ctx context.Context, k key.Key) (bool, error)
	HasIndex(ctx context.Context, k key.Key) (bool, error)
	HasData(ctx context.Context, k key.Key) (bool, error)
	HasFragment(ctx context.Context, k key.Key) (bool, error)

	GetConfig(ctx context.Context, k key.Key) (io.ReadCloser, error)
	GetIndex(ctx context.Context, k key.Key) (io.ReadCloser, error)
	GetArchive(ctx context.Context, k key.Key) (io.ReadCloser, error)
	GetFragment(ctx context.Context, k key.Key) (io.ReadCloser, error)

	DownloadConfig(ctx context.Context, k key.Key, opts DownloadOptions) (io.ReadCloser, error)
	DownloadData(ctx context.Context, k key.Key, opts DownloadOptions) (io.ReadCloser, error)
	DownloadFragment(ctx context.Context, k key.Key, opts DownloadOptions) (io.ReadCloser, error)
}

// RangeReader is an optional capability a Store may implement to serve
// a byte range of an archive directly (spec.md §6: "the only request
// header that matters is Range (used by archive range reads)"),
// rather than the caller reading the whole archive and slicing it.
type RangeReader interface {
	GetArchiveRange(ctx context.Context, archive key.Key, offset, size uint32) (io.ReadCloser, error)
}
