package blte_test

import (
	"bytes"
	"io"
	"testing"

	"github.com/fluxxu/keg/pkg/blte"
	"github.com/fluxxu/keg/pkg/key"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSingleChunkRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	ekey, err := blte.Encode(&buf, []blte.ChunkPlan{{Mode: blte.ModeRaw, Decoded: []byte("hello world")}})
	require.NoError(t, err)

	dec, err := blte.Decode(bytes.NewReader(buf.Bytes()), ekey, nil)
	require.NoError(t, err)

	chunk, err := dec.Next()
	require.NoError(t, err)
	assert.Equal(t, "hello world", string(chunk))

	_, err = dec.Next()
	assert.Equal(t, io.EOF, err)
}

func TestMultiChunkRoundTrip(t *testing.T) {
	plans := []blte.ChunkPlan{
		{Mode: blte.ModeRaw, Decoded: []byte("first chunk")},
		{Mode: blte.ModeZlib, Decoded: []byte("second chunk, compressed this time")},
	}
	var buf bytes.Buffer
	ekey, err := blte.Encode(&buf, plans)
	require.NoError(t, err)

	got, err := blte.DecodeAll(bytes.NewReader(buf.Bytes()), ekey, nil)
	require.NoError(t, err)
	assert.Equal(t, "first chunksecond chunk, compressed this time", string(got))
}

func TestIntegrityErrorOnHeaderMismatch(t *testing.T) {
	var buf bytes.Buffer
	_, err := blte.Encode(&buf, []blte.ChunkPlan{{Mode: blte.ModeRaw, Decoded: []byte("data")}})
	require.NoError(t, err)

	wrong := key.Of([]byte("not the right key"))
	_, err = blte.Decode(bytes.NewReader(buf.Bytes()), wrong, nil)
	require.Error(t, err)
}

func TestIntegrityErrorOnChunkMismatch(t *testing.T) {
	plans := []blte.ChunkPlan{
		{Mode: blte.ModeRaw, Decoded: []byte("chunk one")},
		{Mode: blte.ModeRaw, Decoded: []byte("chunk two")},
	}
	var buf bytes.Buffer
	ekey, err := blte.Encode(&buf, plans)
	require.NoError(t, err)

	corrupted := buf.Bytes()
	corrupted[len(corrupted)-1] ^= 0xFF // flip last byte of the last chunk's payload

	dec, err := blte.Decode(bytes.NewReader(corrupted), ekey, nil)
	require.NoError(t, err)

	_, err = dec.Next()
	require.NoError(t, err)
	_, err = dec.Next()
	require.Error(t, err)
}

func TestMissingDecryptionKey(t *testing.T) {
	// build an encrypted chunk by hand: mode 'E', key-name-len=1, name=0x01,
	// iv-len=8, iv bytes, algo 'S', ciphertext.
	var body bytes.Buffer
	body.WriteByte('E')
	body.WriteByte(1)
	body.WriteByte(0x01)
	body.WriteByte(8)
	body.Write(make([]byte, 8))
	body.WriteByte('S')
	body.Write([]byte("ciphertext"))

	var blob bytes.Buffer
	blob.WriteString("BLTE")
	blob.Write([]byte{0, 0, 0, 0}) // single chunk

	dec, err := blte.Decode(bytes.NewReader(append(blob.Bytes(), body.Bytes()...)), key.Key{}, nil)
	require.NoError(t, err)

	_, err = dec.Next()
	require.Error(t, err)
}

func TestFixTruncatesTrailingGarbage(t *testing.T) {
	plans := []blte.ChunkPlan{{Mode: blte.ModeRaw, Decoded: []byte("abc")}, {Mode: blte.ModeRaw, Decoded: []byte("defg")}}
	var buf bytes.Buffer
	ekey, err := blte.Encode(&buf, plans)
	require.NoError(t, err)

	withGarbage := append(append([]byte{}, buf.Bytes()...), []byte("trailing-garbage")...)

	var fixed bytes.Buffer
	require.NoError(t, blte.Fix(bytes.NewReader(withGarbage), &fixed))

	assert.Equal(t, buf.Bytes(), fixed.Bytes())

	got, err := blte.DecodeAll(bytes.NewReader(fixed.Bytes()), ekey, nil)
	require.NoError(t, err)
	assert.Equal(t, "abcdefg", string(got))
}
