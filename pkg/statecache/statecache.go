// Package statecache persists the stateful PSV-server interaction
// history a repository needs across runs: every fetched response body
// digest, the parsed PSV rows behind it, and the denormalized
// "versions" view built from them (spec.md §4.6).
//
// Grounded directly on the teacher's own alternative metadata KV
// engine, pkg/core's kvPebble wrapper around cockroachdb/pebble, and
// on cockroachdb/pebble itself being one of the reference repos: rows
// are encoded as ordered composite keys, the same technique CockroachDB
// uses to lay SQL rows out over pebble, so "most recent row for an
// endpoint" is a reverse-ordered prefix scan rather than a MAX(ts)
// aggregate.
package statecache

import (
	"bytes"
	"encoding/binary"
	"encoding/gob"
	"fmt"
	"os"

	"github.com/cockroachdb/pebble"
	"github.com/fluxxu/keg/pkg/key"
)

// Cache wraps one pebble instance at "<root>/.ngdp/keg.db/".
type Cache struct {
	db *pebble.DB
}

// Open creates or reopens the state cache at dir.
func Open(dir string) (*Cache, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating state cache directory %q: %w", dir, err)
	}
	opts := &pebble.Options{}
	opts.EnsureDefaults()
	db, err := pebble.Open(dir, opts)
	if err != nil {
		return nil, fmt.Errorf("opening state cache: %w", err)
	}
	return &Cache{db: db}, nil
}

// Close releases the underlying pebble instance.
func (c *Cache) Close() error { return c.db.Close() }

// responses/{remote}/{endpoint}/{ts_be64} -> gob(ResponseMeta)

func responseKey(remote, endpoint string, ts int64) []byte {
	var buf bytes.Buffer
	buf.WriteString("responses/")
	buf.WriteString(remote)
	buf.WriteByte('/')
	buf.WriteString(endpoint)
	buf.WriteByte('/')
	var tsBytes [8]byte
	binary.BigEndian.PutUint64(tsBytes[:], uint64(ts))
	buf.Write(tsBytes[:])
	return buf.Bytes()
}

func responsePrefix(remote, endpoint string) []byte {
	var buf bytes.Buffer
	buf.WriteString("responses/")
	buf.WriteString(remote)
	buf.WriteByte('/')
	buf.WriteString(endpoint)
	buf.WriteByte('/')
	return buf.Bytes()
}

// ResponseMeta carries the metadata the remote client keeps alongside
// a recorded fetch: the body's own digest and any Last-Modified it was
// served with.
type ResponseMeta struct {
	Digest       key.Key
	LastModified string
}

// RecordResponse appends a (remote, endpoint, digest, now) row.
func (c *Cache) RecordResponse(remote, endpoint string, meta ResponseMeta, now int64) error {
	var val bytes.Buffer
	if err := gob.NewEncoder(&val).Encode(meta); err != nil {
		return err
	}
	return c.db.Set(responseKey(remote, endpoint, now), val.Bytes(), pebble.Sync)
}

// LatestResponse returns the most recently recorded response for an
// endpoint via a reverse-ordered prefix scan (Last on an iterator
// bounded to the endpoint's prefix), rather than a MAX(ts) aggregate.
func (c *Cache) LatestResponse(remote, endpoint string) (ResponseMeta, int64, bool, error) {
	prefix := responsePrefix(remote, endpoint)
	upper := append(append([]byte{}, prefix...), 0xFF)

	iter, err := c.db.NewIter(&pebble.IterOptions{LowerBound: prefix, UpperBound: upper})
	if err != nil {
		return ResponseMeta{}, 0, false, err
	}
	defer iter.Close()

	if !iter.Last() {
		return ResponseMeta{}, 0, false, nil
	}

	k := iter.Key()
	ts := int64(binary.BigEndian.Uint64(k[len(k)-8:]))

	var meta ResponseMeta
	if err := gob.NewDecoder(bytes.NewReader(iter.Value())).Decode(&meta); err != nil {
		return ResponseMeta{}, 0, false, err
	}
	return meta, ts, true, nil
}
