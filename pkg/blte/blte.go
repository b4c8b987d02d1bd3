// Package blte implements the block-table encoded container (BLTE):
// a magic header, an optional table of per-chunk sizes and checksums,
// and a sequence of independently-moded chunk payloads. See spec.md
// §4.1.
//
// Grounded on the teacher's leaf-chunked writer/reader in pkg/cafs
// (cafs/writer.go's flush pipeline, cafs/reader.go's restartable
// chunkReader), generalized from fixed-size Blake2b leaves to BLTE's
// heterogeneous chunk table and per-chunk mode byte.
package blte

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/fluxxu/keg/internal/kegerrors"
	"github.com/fluxxu/keg/pkg/key"
)

const (
	magic = "BLTE"

	// headerFlag is the mandatory high byte of the post-size field when
	// a chunk table is present.
	headerFlag = 0x0F

	chunkRecordSize = 4 + 4 + 16 // encoded_size, decoded_size, md5 checksum
)

// Mode identifies a chunk payload's encoding.
type Mode byte

// Recognized chunk modes.
const (
	ModeRaw       Mode = 'N'
	ModeZlib      Mode = 'Z'
	ModeLZ4       Mode = '4'
	ModeRecursive Mode = 'F'
	ModeEncrypted Mode = 'E'
)

// chunkInfo is one entry of the BLTE header's chunk table.
type chunkInfo struct {
	encodedSize uint32
	decodedSize uint32
	checksum    key.Key // per spec.md, checksums are 16-byte MD5 like any other key
}

// KeyProvider resolves a named decryption key for BLTE mode 'E' chunks.
// Implementations are passed in explicitly by the caller — the codec
// never reads an ambient key table (spec.md §9, "Global state").
type KeyProvider interface {
	Key(name string) ([]byte, bool)
}

// MapKeyProvider is the simplest KeyProvider: a plain lookup table.
type MapKeyProvider map[string][]byte

// Key implements KeyProvider.
func (m MapKeyProvider) Key(name string) ([]byte, bool) {
	v, ok := m[name]
	return v, ok
}

func readHeaderSize(r io.Reader) ([]byte, uint32, error) {
	head := make([]byte, 8)
	if _, err := io.ReadFull(r, head); err != nil {
		return nil, 0, &kegerrors.ParseError{Format: "blte", Offset: 0, Reason: "short header: " + err.Error()}
	}
	if string(head[0:4]) != magic {
		return nil, 0, &kegerrors.ParseError{Format: "blte", Offset: 0, Reason: fmt.Sprintf("bad magic %q", head[0:4])}
	}
	headerSize := binary.BigEndian.Uint32(head[4:8])
	return head, headerSize, nil
}

func readChunkTable(r io.Reader, headerSize uint32) ([]byte, []chunkInfo, error) {
	rest := make([]byte, headerSize-8)
	if _, err := io.ReadFull(r, rest); err != nil {
		return nil, nil, &kegerrors.ParseError{Format: "blte", Offset: 8, Reason: "short chunk table: " + err.Error()}
	}
	if rest[0] != headerFlag {
		return nil, nil, &kegerrors.ParseError{Format: "blte", Offset: 8, Reason: fmt.Sprintf("bad flag byte 0x%02x", rest[0])}
	}
	count := uint32(rest[1])<<16 | uint32(rest[2])<<8 | uint32(rest[3])

	body := rest[4:]
	if uint32(len(body)) != count*chunkRecordSize {
		return nil, nil, &kegerrors.ParseError{
			Format: "blte", Offset: 12,
			Reason: fmt.Sprintf("chunk table size mismatch: have %d bytes for %d chunks", len(body), count),
		}
	}

	chunks := make([]chunkInfo, count)
	for i := uint32(0); i < count; i++ {
		rec := body[i*chunkRecordSize : (i+1)*chunkRecordSize]
		ci := chunkInfo{
			encodedSize: binary.BigEndian.Uint32(rec[0:4]),
			decodedSize: binary.BigEndian.Uint32(rec[4:8]),
		}
		copy(ci.checksum[:], rec[8:24])
		chunks[i] = ci
	}
	return rest, chunks, nil
}
