// Package remote implements objectstore.Store as a read-only HTTP
// client against a CDN mirror: "server/path/{kind}/XX/YY/{key}"
// (spec.md §4.5). It never writes; the store is transport-minimal by
// design, matching spec.md §1's explicit scoping of retry/backoff
// policy out of the core engine and into the external CLI.
package remote

import (
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/fluxxu/keg/internal/kegerrors"
	"github.com/fluxxu/keg/pkg/key"
	"github.com/fluxxu/keg/pkg/objectstore"
)

// Store streams objects from one CDN mirror.
type Store struct {
	client *http.Client
	server string
	path   string
}

// New builds a remote store for a single (server, path) CDN mirror
// pair, matching the {server}/{path}/... wire layout a build's CDN
// config names.
func New(client *http.Client, server, path string) *Store {
	if client == nil {
		client = http.DefaultClient
	}
	return &Store{client: client, server: server, path: path}
}

func (s *Store) url(kind objectstore.Kind, k key.Key, suffix string) string {
	return fmt.Sprintf("%s/%s/%s%s", s.server, s.path, objectstore.Path(kind, k), suffix)
}

func (s *Store) head(ctx context.Context, url string) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, url, nil)
	if err != nil {
		return false, err
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return false, &kegerrors.NetworkError{URL: url, Cause: err}
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK, nil
}

func (s *Store) open(ctx context.Context, url string) (io.ReadCloser, error) {
	return s.openRange(ctx, url, "")
}

func (s *Store) openRange(ctx context.Context, url, rangeHeader string) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	if rangeHeader != "" {
		req.Header.Set("Range", rangeHeader)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, &kegerrors.NetworkError{URL: url, Cause: err}
	}
	if resp.StatusCode == http.StatusNotFound {
		_ = resp.Body.Close()
		return nil, &kegerrors.NotFound{Kind: "object", Key: url}
	}
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusPartialContent {
		_ = resp.Body.Close()
		return nil, &kegerrors.NetworkError{URL: url, Cause: fmt.Errorf("unexpected status %d", resp.StatusCode)}
	}
	return resp.Body, nil
}

// GetArchiveRange implements objectstore.RangeReader, serving a byte
// range of an archive via an HTTP Range request rather than the whole
// object.
func (s *Store) GetArchiveRange(ctx context.Context, archive key.Key, offset, size uint32) (io.ReadCloser, error) {
	rangeHeader := fmt.Sprintf("bytes=%d-%d", offset, uint64(offset)+uint64(size)-1)
	return s.openRange(ctx, s.url(objectstore.KindData, archive, ""), rangeHeader)
}

func (s *Store) HasConfig(ctx context.Context, k key.Key) (bool, error) {
	return s.head(ctx, s.url(objectstore.KindConfig, k, ""))
}

func (s *Store) HasIndex(ctx context.Context, k key.Key) (bool, error) {
	return s.head(ctx, s.url(objectstore.KindIndex, k, ".index"))
}

func (s *Store) HasData(ctx context.Context, k key.Key) (bool, error) {
	return s.head(ctx, s.url(objectstore.KindData, k, ""))
}

func (s *Store) HasFragment(ctx context.Context, k key.Key) (bool, error) {
	return s.head(ctx, s.url(objectstore.KindFragment, k, ""))
}

func (s *Store) GetConfig(ctx context.Context, k key.Key) (io.ReadCloser, error) {
	return s.open(ctx, s.url(objectstore.KindConfig, k, ""))
}

func (s *Store) GetIndex(ctx context.Context, k key.Key) (io.ReadCloser, error) {
	return s.open(ctx, s.url(objectstore.KindIndex, k, ".index"))
}

func (s *Store) GetArchive(ctx context.Context, k key.Key) (io.ReadCloser, error) {
	return s.open(ctx, s.url(objectstore.KindData, k, ""))
}

func (s *Store) GetFragment(ctx context.Context, k key.Key) (io.ReadCloser, error) {
	return s.open(ctx, s.url(objectstore.KindFragment, k, ""))
}

// DownloadConfig and DownloadData stream the same bytes GetConfig/
// GetArchive would; the remote store itself never verifies (it has no
// local copy to verify against a second time) — verification is the
// delegating store's job on commit.
func (s *Store) DownloadConfig(ctx context.Context, k key.Key, _ objectstore.DownloadOptions) (io.ReadCloser, error) {
	return s.GetConfig(ctx, k)
}

func (s *Store) DownloadData(ctx context.Context, k key.Key, _ objectstore.DownloadOptions) (io.ReadCloser, error) {
	return s.GetArchive(ctx, k)
}

func (s *Store) DownloadFragment(ctx context.Context, k key.Key, _ objectstore.DownloadOptions) (io.ReadCloser, error) {
	return s.GetFragment(ctx, k)
}
