package encoding_test

import (
	"bytes"
	"crypto/md5" //nolint:gosec
	"encoding/binary"
	"testing"

	"github.com/fluxxu/keg/pkg/encoding"
	"github.com/fluxxu/keg/pkg/key"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const pageSizeKB = 1

func writeUint40BE(b []byte, v uint64) {
	b[0] = byte(v >> 32)
	binary.BigEndian.PutUint32(b[1:5], uint32(v))
}

func buildCKeyPage(ck key.Key, size uint64, eks ...key.Key) []byte {
	page := make([]byte, pageSizeKB*1024)
	rec := make([]byte, 0, 6+key.Size+len(eks)*key.Size)
	rec = append(rec, byte(len(eks)))
	sizeBytes := make([]byte, 5)
	writeUint40BE(sizeBytes, size)
	rec = append(rec, sizeBytes...)
	rec = append(rec, ck[:]...)
	for _, ek := range eks {
		rec = append(rec, ek[:]...)
	}
	copy(page, rec)
	return page
}

func buildEKeyPage(ek key.Key, specIndex int32, size uint64) []byte {
	page := make([]byte, pageSizeKB*1024)
	rec := make([]byte, 0, key.Size+9)
	rec = append(rec, ek[:]...)
	specBytes := make([]byte, 4)
	binary.BigEndian.PutUint32(specBytes, uint32(specIndex))
	rec = append(rec, specBytes...)
	sizeBytes := make([]byte, 5)
	writeUint40BE(sizeBytes, size)
	rec = append(rec, sizeBytes...)
	copy(page, rec)
	// terminate with a -1 spec index so the iterator stops cleanly.
	negOne := int32(-1)
	binary.BigEndian.PutUint32(page[len(rec)+key.Size:len(rec)+key.Size+4], uint32(negOne))
	return page
}

func buildFile(t *testing.T, ck, ek key.Key) []byte {
	t.Helper()

	ckeyPage := buildCKeyPage(ck, 42, ek)
	ekeyPage := buildEKeyPage(ek, 0, 42)

	ckeySum := md5.Sum(ckeyPage) //nolint:gosec
	ekeySum := md5.Sum(ekeyPage) //nolint:gosec

	var ckeyIndex bytes.Buffer
	ckeyIndex.Write(ck[:])
	ckeyIndex.Write(ckeySum[:])

	var ekeyIndex bytes.Buffer
	ekeyIndex.Write(ek[:])
	ekeyIndex.Write(ekeySum[:])

	specs := []byte("zlib\x00")

	var header bytes.Buffer
	header.WriteString("EN")
	header.WriteByte(1)
	header.WriteByte(key.Size)
	header.WriteByte(key.Size)
	binary.Write(&header, binary.BigEndian, uint16(pageSizeKB))
	binary.Write(&header, binary.BigEndian, uint16(pageSizeKB))
	binary.Write(&header, binary.BigEndian, uint32(1)) // ckey page count
	binary.Write(&header, binary.BigEndian, uint32(1)) // ekey page count
	header.WriteByte(0)                                // reserved
	binary.Write(&header, binary.BigEndian, uint32(len(specs)))

	var full bytes.Buffer
	full.Write(header.Bytes())
	full.Write(specs)
	full.Write(ckeyIndex.Bytes())
	full.Write(ckeyPage)
	full.Write(ekeyIndex.Bytes())
	full.Write(ekeyPage)

	return full.Bytes()
}

func TestFindByContentKey(t *testing.T) {
	ck := key.Of([]byte("content"))
	ek := key.Of([]byte("encoded"))

	raw := buildFile(t, ck, ek)
	f, err := encoding.Parse(raw, true)
	require.NoError(t, err)

	got, err := f.FindByContentKey(ck)
	require.NoError(t, err)
	assert.Equal(t, ek, got)

	_, err = f.FindByContentKey(key.Of([]byte("missing")))
	assert.Error(t, err)
}

func TestFindByEncodedKey(t *testing.T) {
	ck := key.Of([]byte("content"))
	ek := key.Of([]byte("encoded"))

	raw := buildFile(t, ck, ek)
	f, err := encoding.Parse(raw, true)
	require.NoError(t, err)

	spec, size, err := f.FindByEncodedKey(ek)
	require.NoError(t, err)
	assert.Equal(t, "zlib", spec)
	assert.Equal(t, uint64(42), size)

	assert.True(t, f.HasEncodedKey(ek))
	assert.False(t, f.HasEncodedKey(key.Of([]byte("nope"))))
}

func TestVerifyRejectsCorruptPage(t *testing.T) {
	ck := key.Of([]byte("content"))
	ek := key.Of([]byte("encoded"))

	raw := buildFile(t, ck, ek)
	raw[len(raw)-1] ^= 0xFF // corrupt a byte inside the ekey page

	_, err := encoding.Parse(raw, true)
	assert.Error(t, err)

	// without verification the corrupted page still parses structurally.
	_, err = encoding.Parse(raw, false)
	assert.NoError(t, err)
}
