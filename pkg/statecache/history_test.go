package statecache_test

import (
	"testing"

	"github.com/fluxxu/keg/pkg/key"
	"github.com/fluxxu/keg/pkg/statecache"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHistoryReturnsEntriesOldestFirst(t *testing.T) {
	c := openTestCache(t)

	require.NoError(t, c.RecordResponse("wow", "versions", statecache.ResponseMeta{Digest: key.Of([]byte("a"))}, 1))
	require.NoError(t, c.RecordResponse("wow", "versions", statecache.ResponseMeta{Digest: key.Of([]byte("b"))}, 2))
	require.NoError(t, c.RecordResponse("wow", "cdns", statecache.ResponseMeta{Digest: key.Of([]byte("c"))}, 3))

	entries, err := c.History("wow", "versions")
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, int64(1), entries[0].Timestamp)
	assert.Equal(t, key.Of([]byte("a")), entries[0].Meta.Digest)
	assert.Equal(t, int64(2), entries[1].Timestamp)
	assert.Equal(t, key.Of([]byte("b")), entries[1].Meta.Digest)
}

func TestHistoryEmptyForUnknownEndpoint(t *testing.T) {
	c := openTestCache(t)
	entries, err := c.History("wow", "versions")
	require.NoError(t, err)
	assert.Empty(t, entries)
}
