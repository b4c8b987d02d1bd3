// Package remoteclient resolves the patch-server endpoints a remote
// exposes, persisting every fetched response through the state cache
// (spec.md §4.6). Grounded on
// original_source/keg/remote/http.py and keg/remote/base.py for
// endpoint naming and the digest-then-persist sequence, and on
// pkg/storage.ReadTee's "read once, write to a second store under a
// different name" shape for the response-body persistence step.
package remoteclient

import (
	"bytes"
	"context"
	"crypto/md5" //nolint:gosec
	"fmt"
	"io"
	"net/http"

	"github.com/fluxxu/keg/internal/kegerrors"
	"github.com/fluxxu/keg/pkg/key"
	"github.com/fluxxu/keg/pkg/psv"
	"github.com/fluxxu/keg/pkg/statecache"
)

// Endpoint names the six patch-server resources a remote is fetched
// from (spec.md §4.6). The two blob endpoints are plain JSON, not
// PSV; everything else is PSV.
type Endpoint string

const (
	EndpointVersions    Endpoint = "versions"
	EndpointCDNs        Endpoint = "cdns"
	EndpointBGDL        Endpoint = "bgdl"
	EndpointBlobs       Endpoint = "blobs"
	EndpointBlobGame    Endpoint = "blob/game"
	EndpointBlobInstall Endpoint = "blob/install"
)

func (e Endpoint) isPSV() bool {
	switch e {
	case EndpointVersions, EndpointCDNs, EndpointBGDL, EndpointBlobs:
		return true
	default:
		return false
	}
}

// optional reports whether an empty response from e is a
// normal, non-fatal condition (bgdl and blobs are not served by every
// remote).
func (e Endpoint) optional() bool {
	return e == EndpointBGDL || e == EndpointBlobs
}

// Client fetches a single named remote's patch-server endpoints,
// persisting each response body to an object store (under
// "responses/{endpoint}/XX/YY/{digest}") and recording its digest and
// any parsed rows in the state cache.
type Client struct {
	httpClient *http.Client
	baseURL    string
	remote     string
	store      responsePutter
	cache      *statecache.Cache
	now        func() int64
}

// responsePutter is the narrow local-store surface the remote client
// needs to persist a raw response body under the "responses" area.
type responsePutter interface {
	PutNamed(ctx context.Context, dir string, k key.Key, r io.Reader) error
}

// New builds a client for one named remote (e.g. "wow", "wow_classic")
// against a patch server base URL.
func New(httpClient *http.Client, baseURL, remote string, store responsePutter, cache *statecache.Cache, now func() int64) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{httpClient: httpClient, baseURL: baseURL, remote: remote, store: store, cache: cache, now: now}
}

// Fetch performs steps 1-4 of spec.md §4.6: hash the body, persist it
// under its digest, record the (remote, endpoint, digest, now) row, and for PSV
// endpoints parse and persist the rows. Returns NoDataError (not a
// network error) for an empty response on an optional endpoint.
func (c *Client) Fetch(ctx context.Context, ep Endpoint) (key.Key, []byte, error) {
	url := fmt.Sprintf("%s/%s/%s", c.baseURL, c.remote, ep)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return key.Key{}, nil, err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return key.Key{}, nil, &kegerrors.NetworkError{URL: url, Cause: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return key.Key{}, nil, &kegerrors.NetworkError{URL: url, Cause: err}
	}
	if resp.StatusCode != http.StatusOK {
		return key.Key{}, nil, &kegerrors.NetworkError{URL: url, Cause: fmt.Errorf("status %d", resp.StatusCode)}
	}
	if len(body) == 0 {
		if ep.optional() {
			return key.Key{}, nil, &kegerrors.NoDataError{Endpoint: string(ep)}
		}
	}

	sum := md5.Sum(body) //nolint:gosec
	digest := key.Key(sum)

	if err := c.store.PutNamed(ctx, "responses/"+string(ep), digest, bytes.NewReader(body)); err != nil {
		return key.Key{}, nil, err
	}

	now := c.now()
	if err := c.cache.RecordResponse(c.remote, string(ep), statecache.ResponseMeta{
		Digest:       digest,
		LastModified: resp.Header.Get("Last-Modified"),
	}, now); err != nil {
		return key.Key{}, nil, err
	}

	if ep.isPSV() {
		table, err := psv.Parse(bytes.NewReader(body))
		if err != nil {
			return key.Key{}, nil, err
		}
		rows := make([][]string, 0, table.Len())
		it := table.Iter()
		for {
			row, ok := it.Next()
			if !ok {
				break
			}
			rows = append(rows, row.Cells())
		}
		if err := c.cache.WritePSVRows(digest, rows); err != nil {
			return key.Key{}, nil, err
		}
	}

	return digest, body, nil
}

// GetCachedVersions returns the most recently recorded versions
// response's digest, if any has been fetched before.
func (c *Client) GetCachedVersions() (key.Key, bool, error) {
	meta, _, ok, err := c.cache.LatestResponse(c.remote, string(EndpointVersions))
	return meta.Digest, ok, err
}

// GetCachedCDNs returns the most recently recorded cdns response's
// digest, if any has been fetched before.
func (c *Client) GetCachedCDNs() (key.Key, bool, error) {
	meta, _, ok, err := c.cache.LatestResponse(c.remote, string(EndpointCDNs))
	return meta.Digest, ok, err
}

// ReadPSV replays a historical PSV response by its digest, without
// refetching it.
func (c *Client) ReadPSV(digest key.Key) ([][]string, error) {
	return c.cache.ReadPSV(digest)
}
