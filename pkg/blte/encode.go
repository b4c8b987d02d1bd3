package blte

import (
	"bytes"
	"compress/zlib"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/fluxxu/keg/pkg/key"
)

// ChunkPlan describes one chunk to be written by Encode: a mode and
// the decoded bytes to encode under that mode.
type ChunkPlan struct {
	Mode    Mode
	Decoded []byte
}

// Encode writes a well-formed BLTE blob for the given chunk plans and
// returns its identity: the MD5 of the header region, exactly what a
// later Decode call would expect as ekey.
func Encode(w io.Writer, plans []ChunkPlan) (key.Key, error) {
	if len(plans) == 1 {
		return encodeSingleChunk(w, plans[0])
	}
	return encodeMultiChunk(w, plans)
}

func encodeSingleChunk(w io.Writer, plan ChunkPlan) (key.Key, error) {
	payload, err := encodeChunkPayload(plan)
	if err != nil {
		return key.Key{}, err
	}

	head := make([]byte, 8)
	copy(head[0:4], magic)
	binary.BigEndian.PutUint32(head[4:8], 0)

	if _, err := w.Write(head); err != nil {
		return key.Key{}, err
	}
	if _, err := w.Write(payload); err != nil {
		return key.Key{}, err
	}

	return key.Of(head), nil
}

func encodeMultiChunk(w io.Writer, plans []ChunkPlan) (key.Key, error) {
	if len(plans) > 0xFFFFFF {
		return key.Key{}, fmt.Errorf("blte: too many chunks (%d)", len(plans))
	}

	payloads := make([][]byte, len(plans))
	table := make([]byte, 0, len(plans)*chunkRecordSize)

	for i, plan := range plans {
		payload, err := encodeChunkPayload(plan)
		if err != nil {
			return key.Key{}, err
		}
		payloads[i] = payload

		rec := make([]byte, chunkRecordSize)
		binary.BigEndian.PutUint32(rec[0:4], uint32(len(payload)))
		binary.BigEndian.PutUint32(rec[4:8], uint32(len(plan.Decoded)))
		sum := key.Of(payload)
		copy(rec[8:24], sum[:])
		table = append(table, rec...)
	}

	headerSize := uint32(8 + 4 + len(table))

	head := make([]byte, 8)
	copy(head[0:4], magic)
	binary.BigEndian.PutUint32(head[4:8], headerSize)

	sub := make([]byte, 4+len(table))
	sub[0] = headerFlag
	count := len(plans)
	sub[1] = byte(count >> 16)
	sub[2] = byte(count >> 8)
	sub[3] = byte(count)
	copy(sub[4:], table)

	headerRegion := append(append([]byte{}, head...), sub...)

	if _, err := w.Write(headerRegion); err != nil {
		return key.Key{}, err
	}
	for _, p := range payloads {
		if _, err := w.Write(p); err != nil {
			return key.Key{}, err
		}
	}

	return key.Of(headerRegion), nil
}

func encodeChunkPayload(plan ChunkPlan) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte(byte(plan.Mode))

	switch plan.Mode {
	case ModeRaw:
		buf.Write(plan.Decoded)

	case ModeZlib:
		zw := zlib.NewWriter(&buf)
		if _, err := zw.Write(plan.Decoded); err != nil {
			return nil, err
		}
		if err := zw.Close(); err != nil {
			return nil, err
		}

	default:
		return nil, fmt.Errorf("blte: encoding mode %q is not supported by the encoder", plan.Mode)
	}

	return buf.Bytes(), nil
}
