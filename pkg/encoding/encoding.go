// Package encoding parses the BLTE-wrapped encoding file that bridges
// content keys to encoded keys, and vice versa (spec.md §4.3). It is
// the only place in the system that knows the content-addressed name
// of an object's decoded bytes ever maps to more than one encoded
// representation (espec-dependent re-encodes), though in practice the
// first encoded key is authoritative.
package encoding

import (
	"encoding/binary"
	"io"
	"strings"

	"github.com/fluxxu/keg/internal/kegerrors"
	"github.com/fluxxu/keg/internal/pagetable"
	"github.com/fluxxu/keg/pkg/key"
)

const (
	magic      = "EN"
	headerSize = 22
)

// File is a parsed encoding file: the ckey->ekey table and the
// ekey->(espec, size) table, plus the espec string pool they both
// index into.
type File struct {
	contentHashSize  uint8
	encodingHashSize uint8
	specs            []string

	ckeyTable *pagetable.Table
	ekeyTable *pagetable.Table
}

// Parse reads a complete decoded encoding file (already BLTE-decoded
// by the caller; spec.md §4.3 wraps this codec in a BLTE container
// like every other NGDP file). verify toggles per-page MD5 checking.
func Parse(data []byte, verify bool) (*File, error) {
	if len(data) < headerSize {
		return nil, &kegerrors.ParseError{Format: "encoding", Reason: "file shorter than header"}
	}
	if string(data[0:2]) != magic {
		return nil, &kegerrors.ParseError{Format: "encoding", Reason: "bad magic"}
	}
	if data[2] != 1 {
		return nil, &kegerrors.ParseError{Format: "encoding", Reason: "unsupported version"}
	}

	ckeySize := data[3]
	ekeySize := data[4]
	ckeyPageSizeKB := binary.BigEndian.Uint16(data[5:7])
	ekeyPageSizeKB := binary.BigEndian.Uint16(data[7:9])
	ckeyPageCount := binary.BigEndian.Uint32(data[9:13])
	ekeyPageCount := binary.BigEndian.Uint32(data[13:17])
	// data[17] is a reserved/unknown byte, preserved but not interpreted.
	specBlockSize := binary.BigEndian.Uint32(data[18:22])

	off := headerSize
	if off+int(specBlockSize) > len(data) {
		return nil, &kegerrors.ParseError{Format: "encoding", Reason: "espec block runs past end of file"}
	}
	specBlock := data[off : off+int(specBlockSize)]
	off += int(specBlockSize)
	specs := parseSpecs(specBlock)

	ckeyIndexLen := int(ckeyPageCount) * int(ckeySize) * 2
	ckeyPageLen := int(ckeyPageCount) * int(ckeyPageSizeKB) * 1024
	ekeyIndexLen := int(ekeyPageCount) * int(ekeySize) * 2
	ekeyPageLen := int(ekeyPageCount) * int(ekeyPageSizeKB) * 1024

	sections, err := slice(data, off, ckeyIndexLen, ckeyPageLen, ekeyIndexLen, ekeyPageLen)
	if err != nil {
		return nil, err
	}

	ckeyTable, err := pagetable.Parse(sections[0], sections[1], int(ckeyPageSizeKB)*1024, verify)
	if err != nil {
		return nil, err
	}
	ekeyTable, err := pagetable.Parse(sections[2], sections[3], int(ekeyPageSizeKB)*1024, verify)
	if err != nil {
		return nil, err
	}

	return &File{
		contentHashSize:  ckeySize,
		encodingHashSize: ekeySize,
		specs:            specs,
		ckeyTable:        ckeyTable,
		ekeyTable:        ekeyTable,
	}, nil
}

func slice(data []byte, off int, lens ...int) ([][]byte, error) {
	out := make([][]byte, len(lens))
	for i, l := range lens {
		if off+l > len(data) {
			return nil, &kegerrors.ParseError{Format: "encoding", Reason: "page table section runs past end of file"}
		}
		out[i] = data[off : off+l]
		off += l
	}
	return out, nil
}

func readUint40BE(b []byte) uint64 {
	return uint64(b[0])<<32 | uint64(binary.BigEndian.Uint32(b[1:5]))
}

func parseSpecs(block []byte) []string {
	var specs []string
	for _, part := range strings.Split(string(block), "\x00") {
		if part != "" {
			specs = append(specs, part)
		}
	}
	return specs
}

// ContentEntry is one row of the ckey page table: a content key and
// the ordered list of encoded keys that hold its encoded bytes.
type ContentEntry struct {
	ContentKey  key.Key
	Size        uint64
	EncodedKeys []key.Key
}

// EncodedEntry is one row of the ekey page table: an encoded key and
// the espec string and decoded size that produced it.
type EncodedEntry struct {
	EncodedKey key.Key
	Spec       string
	Size       uint64
}

// ContentKeys returns a restartable sequence over every content-key
// row across every page, in key order.
func (f *File) ContentKeys() *ContentIter {
	return &ContentIter{file: f}
}

// ContentIter walks the ckey page table page by page.
type ContentIter struct {
	file   *File
	page   int
	offset int
}

// Next advances the iterator.
func (it *ContentIter) Next() (ContentEntry, bool) {
	for {
		if it.page >= it.file.ckeyTable.Len() {
			return ContentEntry{}, false
		}
		page := it.file.ckeyTable.Pages[it.page]
		ekeySize := int(it.file.encodingHashSize)
		ckeySize := int(it.file.contentHashSize)

		if it.offset+6+ckeySize > len(page) {
			it.page++
			it.offset = 0
			continue
		}
		keyCount := int(page[it.offset])
		if keyCount == 0 {
			it.page++
			it.offset = 0
			continue
		}
		fileSizeHi := uint64(page[it.offset+1])
		fileSize := uint64(binary.BigEndian.Uint32(page[it.offset+2 : it.offset+6]))
		fileSize |= fileSizeHi << 32

		pos := it.offset + 6
		var ck key.Key
		copy(ck[:], page[pos:pos+ckeySize])
		pos += ckeySize

		eks := make([]key.Key, keyCount)
		for i := 0; i < keyCount; i++ {
			copy(eks[i][:], page[pos:pos+ekeySize])
			pos += ekeySize
		}
		it.offset = pos

		return ContentEntry{ContentKey: ck, Size: fileSize, EncodedKeys: eks}, true
	}
}

// EncodedKeys returns a restartable sequence over every ekey-row
// across every page, in key order.
func (f *File) EncodedKeys() *EncodedIter {
	return &EncodedIter{file: f}
}

// EncodedIter walks the ekey page table page by page.
type EncodedIter struct {
	file   *File
	page   int
	offset int
}

// Next advances the iterator.
func (it *EncodedIter) Next() (EncodedEntry, bool) {
	for {
		if it.page >= it.file.ekeyTable.Len() {
			return EncodedEntry{}, false
		}
		page := it.file.ekeyTable.Pages[it.page]
		ekeySize := int(it.file.encodingHashSize)

		if it.offset+ekeySize+9 > len(page) {
			it.page++
			it.offset = 0
			continue
		}
		specIndex := int32(binary.BigEndian.Uint32(page[it.offset+ekeySize : it.offset+ekeySize+4]))
		if specIndex == -1 {
			it.page++
			it.offset = 0
			continue
		}
		var ek key.Key
		copy(ek[:], page[it.offset:it.offset+ekeySize])
		size := readUint40BE(page[it.offset+ekeySize+4 : it.offset+ekeySize+9])

		it.offset += ekeySize + 9

		spec := ""
		if specIndex >= 0 && int(specIndex) < len(it.file.specs) {
			spec = it.file.specs[specIndex]
		}
		return EncodedEntry{EncodedKey: ek, Spec: spec, Size: size}, true
	}
}

// FindByContentKey returns the first (authoritative) encoded key for a
// content key, scanning the ckey table. Returns NotFound if absent.
func (f *File) FindByContentKey(ck key.Key) (key.Key, error) {
	it := f.ContentKeys()
	for {
		entry, ok := it.Next()
		if !ok {
			break
		}
		if entry.ContentKey == ck && len(entry.EncodedKeys) > 0 {
			return entry.EncodedKeys[0], nil
		}
	}
	return key.Key{}, &kegerrors.NotFound{Kind: "ckey", Key: ck.String()}
}

// FindByEncodedKey returns the espec and decoded size for an encoded
// key, scanning the ekey table. Returns NotFound if absent.
func (f *File) FindByEncodedKey(ek key.Key) (string, uint64, error) {
	it := f.EncodedKeys()
	for {
		entry, ok := it.Next()
		if !ok {
			break
		}
		if entry.EncodedKey == ek {
			return entry.Spec, entry.Size, nil
		}
	}
	return "", 0, &kegerrors.NotFound{Kind: "ekey", Key: ek.String()}
}

// HasEncodedKey reports whether an encoded key appears in the ekey
// table, without allocating a spec string.
func (f *File) HasEncodedKey(ek key.Key) bool {
	_, _, err := f.FindByEncodedKey(ek)
	return err == nil
}

// ParseAll reads the whole of r before parsing, for callers holding a
// decoded io.Reader rather than a byte slice.
func ParseAll(r io.Reader, verify bool) (*File, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	return Parse(data, verify)
}
