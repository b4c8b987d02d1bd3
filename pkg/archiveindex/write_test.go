package archiveindex_test

import (
	"bytes"
	"testing"

	"github.com/fluxxu/keg/pkg/archiveindex"
	"github.com/fluxxu/keg/pkg/key"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteThenParseRoundTrips(t *testing.T) {
	entries := []archiveindex.Entry{
		{Key: key.Of([]byte("first")), Size: 1024, Offset: 0},
		{Key: key.Of([]byte("second")), Size: 2048, Offset: 1024},
		{Key: key.Of([]byte("third")), Size: 4096, Offset: 3072},
	}
	// sort manually so the fixture matches I3's required order.
	for i := 0; i < len(entries); i++ {
		for j := i + 1; j < len(entries); j++ {
			if string(entries[j].Key[:]) < string(entries[i].Key[:]) {
				entries[i], entries[j] = entries[j], entries[i]
			}
		}
	}

	var buf bytes.Buffer
	id, err := archiveindex.Write(&buf, entries)
	require.NoError(t, err)

	idx, err := archiveindex.Parse(buf.Bytes())
	require.NoError(t, err)
	assert.Equal(t, id, idx.Identity())
	assert.Equal(t, len(entries), idx.Len())

	for _, e := range entries {
		got, ok := idx.Lookup(e.Key)
		require.True(t, ok)
		assert.Equal(t, e, got)
	}
}

func TestWriteRejectsUnsortedEntries(t *testing.T) {
	entries := []archiveindex.Entry{
		{Key: key.Of([]byte("b")), Size: 1, Offset: 0},
		{Key: key.Of([]byte("a")), Size: 1, Offset: 1},
	}
	var buf bytes.Buffer
	_, err := archiveindex.Write(&buf, entries)
	assert.Error(t, err)
}
