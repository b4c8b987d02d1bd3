// Package archiveindex parses the fixed-layout .index files that map a
// key to its (size, offset) range inside an archive blob (spec.md
// §4.2). Records are grouped into fixed 4096-byte blocks, sorted by
// key, zero-padded at each block's tail, and the file ends with a
// 28-byte footer whose MD5 is the index's own identity.
//
// Grounded on the teacher's fixed-slot iteration style in
// pkg/cafs/freelists.go, generalized from an in-memory free list to a
// read-only on-disk sorted record table.
package archiveindex

import (
	"bytes"
	"encoding/binary"
	"io"

	"github.com/fluxxu/keg/internal/kegerrors"
	"github.com/fluxxu/keg/pkg/key"
)

const (
	blockSize     = 4096
	recordSize    = key.Size + 4 + 4 // key, size(u32be), offset(u32be)
	footerSize    = 28
	footerReserve = 2
)

// Entry is one archive index record: the key's blob lives at
// [Offset, Offset+Size) within the owning archive.
type Entry struct {
	Key    key.Key
	Size   uint32
	Offset uint32
}

// Footer is the 28-byte trailer describing the index's own layout.
type Footer struct {
	TOCHash     [8]byte
	Version     uint8
	BlockSizeKB uint8
	OffsetBytes uint8
	SizeBytes   uint8
	KeyBytes    uint8
	ChecksumSz  uint8
	NumEntries  uint32
	Checksum    [8]byte
}

// Index is a parsed archive index: a sorted, block-padded record table.
type Index struct {
	entries []Entry
	footer  Footer
	id      key.Key
}

// Parse reads a complete .index file. raw must be the entire file
// content, since the footer is read from its tail and the blocks are
// walked forward to match it.
func Parse(raw []byte) (*Index, error) {
	if len(raw) < footerSize {
		return nil, &kegerrors.ParseError{Format: "archive-index", Reason: "file shorter than footer"}
	}

	footerBytes := raw[len(raw)-footerSize:]
	footer, err := parseFooter(footerBytes)
	if err != nil {
		return nil, err
	}

	body := raw[:len(raw)-footerSize]
	if len(body)%blockSize != 0 {
		return nil, &kegerrors.ParseError{Format: "archive-index", Reason: "body is not a whole number of blocks"}
	}

	entries := make([]Entry, 0, footer.NumEntries)
	numBlocks := len(body) / blockSize
	for b := 0; b < numBlocks; b++ {
		block := body[b*blockSize : (b+1)*blockSize]
		for off := 0; off+recordSize <= blockSize; off += recordSize {
			rec := block[off : off+recordSize]
			if isZero(rec[:key.Size]) {
				break // zero padding marks the end of used records in this block
			}
			var e Entry
			copy(e.Key[:], rec[0:key.Size])
			e.Size = binary.BigEndian.Uint32(rec[key.Size : key.Size+4])
			e.Offset = binary.BigEndian.Uint32(rec[key.Size+4 : key.Size+8])
			entries = append(entries, e)
		}
	}

	if uint32(len(entries)) != footer.NumEntries {
		return nil, &kegerrors.ParseError{
			Format: "archive-index",
			Reason: "entry count does not match footer num_entries",
		}
	}

	return &Index{entries: entries, footer: footer, id: key.Of(footerBytes)}, nil
}

func parseFooter(b []byte) (Footer, error) {
	if len(b) != footerSize {
		return Footer{}, &kegerrors.ParseError{Format: "archive-index", Reason: "malformed footer length"}
	}
	var f Footer
	copy(f.TOCHash[:], b[0:8])
	f.Version = b[8]
	// b[9:11] reserved/unknown, preserved verbatim but not interpreted.
	f.BlockSizeKB = b[11]
	f.OffsetBytes = b[12]
	f.SizeBytes = b[13]
	f.KeyBytes = b[14]
	f.ChecksumSz = b[15]
	f.NumEntries = binary.LittleEndian.Uint32(b[16:20])
	copy(f.Checksum[:], b[20:28])
	return f, nil
}

func isZero(b []byte) bool {
	return bytes.Equal(b, make([]byte, len(b)))
}

// Identity returns the MD5 of the last 28 bytes of the file — the
// index's own ekey, used to name it in the object store as
// "{ekey}.index".
func (idx *Index) Identity() key.Key { return idx.id }

// Footer exposes the parsed trailer, mainly for diagnostics.
func (idx *Index) Footer() Footer { return idx.footer }

// Len returns the number of entries.
func (idx *Index) Len() int { return len(idx.entries) }

// Iter returns a restartable sequence over the index in key order.
func (idx *Index) Iter() *EntryIter { return &EntryIter{idx: idx} }

// EntryIter is a restartable, single-pass sequence over an Index.
type EntryIter struct {
	idx *Index
	pos int
}

// Next advances the iterator.
func (it *EntryIter) Next() (Entry, bool) {
	if it.pos >= len(it.idx.entries) {
		return Entry{}, false
	}
	e := it.idx.entries[it.pos]
	it.pos++
	return e, true
}

// Lookup performs a binary search by key over the sorted entry table.
func (idx *Index) Lookup(k key.Key) (Entry, bool) {
	lo, hi := 0, len(idx.entries)
	for lo < hi {
		mid := (lo + hi) / 2
		cmp := bytes.Compare(idx.entries[mid].Key[:], k[:])
		switch {
		case cmp == 0:
			return idx.entries[mid], true
		case cmp < 0:
			lo = mid + 1
		default:
			hi = mid
		}
	}
	return Entry{}, false
}

// ParseReader is a convenience wrapper over Parse for callers holding
// an io.Reader rather than a fully-read byte slice.
func ParseReader(r io.Reader) (*Index, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	return Parse(raw)
}
