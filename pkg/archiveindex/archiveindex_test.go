package archiveindex_test

import (
	"bytes"
	"crypto/md5" //nolint:gosec
	"encoding/binary"
	"testing"

	"github.com/fluxxu/keg/pkg/archiveindex"
	"github.com/fluxxu/keg/pkg/key"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func buildIndex(t *testing.T, entries []archiveindex.Entry) []byte {
	t.Helper()

	var body bytes.Buffer
	rec := make([]byte, 24)
	for _, e := range entries {
		copy(rec[0:16], e.Key[:])
		binary.BigEndian.PutUint32(rec[16:20], e.Size)
		binary.BigEndian.PutUint32(rec[20:24], e.Offset)
		body.Write(rec)
	}
	// pad to one 4096-byte block
	pad := make([]byte, 4096-body.Len())
	body.Write(pad)

	footer := make([]byte, 20)
	// toc_hash[8] + version[1] + reserved[2] left zero
	footer[11] = 4 // block_size_kb
	footer[12] = 4 // offset_bytes
	footer[13] = 4 // size_bytes
	footer[14] = 16
	footer[15] = 8
	binary.LittleEndian.PutUint32(footer[16:20], uint32(len(entries)))

	sum := md5.Sum(footer) //nolint:gosec
	full := append(footer, sum[0:8]...)

	return append(body.Bytes(), full...)
}

func TestParseAndLookup(t *testing.T) {
	k1 := key.MustParse("11111111111111111111111111111111")
	k2 := key.MustParse("22222222222222222222222222222222")

	raw := buildIndex(t, []archiveindex.Entry{
		{Key: k1, Size: 1024, Offset: 0},
		{Key: k2, Size: 2048, Offset: 1024},
	})

	idx, err := archiveindex.Parse(raw)
	require.NoError(t, err)
	assert.Equal(t, 2, idx.Len())

	e, ok := idx.Lookup(k2)
	require.True(t, ok)
	assert.Equal(t, uint32(2048), e.Size)
	assert.Equal(t, uint32(1024), e.Offset)

	_, ok = idx.Lookup(key.MustParse("33333333333333333333333333333333"))
	assert.False(t, ok)
}

func TestIterYieldsInKeyOrder(t *testing.T) {
	k1 := key.MustParse("11111111111111111111111111111111")
	k2 := key.MustParse("22222222222222222222222222222222")
	raw := buildIndex(t, []archiveindex.Entry{{Key: k1, Size: 1, Offset: 0}, {Key: k2, Size: 2, Offset: 1}})

	idx, err := archiveindex.Parse(raw)
	require.NoError(t, err)

	it := idx.Iter()
	first, ok := it.Next()
	require.True(t, ok)
	assert.Equal(t, k1, first.Key)

	second, ok := it.Next()
	require.True(t, ok)
	assert.Equal(t, k2, second.Key)

	_, ok = it.Next()
	assert.False(t, ok)
}

func TestGroupLookupFirstMatch(t *testing.T) {
	k1 := key.MustParse("11111111111111111111111111111111")
	k2 := key.MustParse("22222222222222222222222222222222")

	arch1 := key.MustParse("aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa")
	arch2 := key.MustParse("bbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb")

	raw1 := buildIndex(t, []archiveindex.Entry{{Key: k1, Size: 10, Offset: 0}})
	raw2 := buildIndex(t, []archiveindex.Entry{{Key: k2, Size: 20, Offset: 0}})

	idx1, err := archiveindex.Parse(raw1)
	require.NoError(t, err)
	idx2, err := archiveindex.Parse(raw2)
	require.NoError(t, err)

	group := archiveindex.NewGroup([]key.Key{arch1, arch2}, []*archiveindex.Index{idx1, idx2})

	archive, size, offset, ok := group.Lookup(k2)
	require.True(t, ok)
	assert.Equal(t, arch2, archive)
	assert.Equal(t, uint32(20), size)
	assert.Equal(t, uint32(0), offset)
}
