package archiveindex

import (
	"crypto/md5" //nolint:gosec // MD5 is the protocol's content-addressing hash, not used for security
	"encoding/binary"
	"fmt"
	"io"

	"github.com/fluxxu/keg/pkg/key"
)

const recordsPerBlock = blockSize / recordSize

// Write encodes entries, which must already be sorted by Key (I3),
// into the fixed 4096-byte-block layout plus its 28-byte footer, and
// returns the index's own identity the way Parse derives it: the MD5
// of the footer bytes, the key this file is named by as
// "{key}.index" in the object store.
//
// The footer's toc_hash is the MD5 (first 8 bytes) of each block's
// last entry key concatenated, and footer_md5 is the MD5 (first 8
// bytes) of everything preceding it in the footer — grounded on the
// parsed Footer's own field names, since archiveindex's decoder never
// needed either checksum to be independently verifiable.
func Write(w io.Writer, entries []Entry) (key.Key, error) {
	if err := checkSorted(entries); err != nil {
		return key.Key{}, err
	}

	var tocInput []byte
	for i := 0; i < len(entries); i += recordsPerBlock {
		end := i + recordsPerBlock
		if end > len(entries) {
			end = len(entries)
		}
		block := make([]byte, blockSize)
		for j, e := range entries[i:end] {
			off := j * recordSize
			copy(block[off:off+key.Size], e.Key[:])
			binary.BigEndian.PutUint32(block[off+key.Size:off+key.Size+4], e.Size)
			binary.BigEndian.PutUint32(block[off+key.Size+4:off+key.Size+8], e.Offset)
		}
		if _, err := w.Write(block); err != nil {
			return key.Key{}, err
		}
		tocInput = append(tocInput, entries[end-1].Key[:]...)
	}

	footer := make([]byte, footerSize)
	tocSum := md5.Sum(tocInput) //nolint:gosec
	copy(footer[0:8], tocSum[:8])
	footer[8] = 1 // version
	// footer[9:11] reserved, left zero.
	footer[11] = blockSize / 1024
	footer[12] = 4 // offset field width
	footer[13] = 4 // size field width
	footer[14] = key.Size
	footer[15] = 8 // checksum field width
	binary.LittleEndian.PutUint32(footer[16:20], uint32(len(entries)))
	footerSum := md5.Sum(footer[:20]) //nolint:gosec
	copy(footer[20:28], footerSum[:8])

	if _, err := w.Write(footer); err != nil {
		return key.Key{}, err
	}
	return key.Of(footer), nil
}

func checkSorted(entries []Entry) error {
	for i := 1; i < len(entries); i++ {
		if string(entries[i-1].Key[:]) >= string(entries[i].Key[:]) {
			return fmt.Errorf("archiveindex: entries not strictly sorted at index %d", i)
		}
	}
	return nil
}
