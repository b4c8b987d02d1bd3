// Package rootfile parses the root manifest: the locale/content-flag
// gated file-tree used by products that have one to resolve a path to
// its content key (spec.md §4.8 "the root manifest when the product
// uses one"; supplemented from original_source/keg/build.py, dropped by
// the distilled spec). It shares its tag-filtered shape with
// pkg/manifest and reuses the same packed-bit mask helper.
//
// Parsing a path list is all this package does; laying the resolved
// files out on disk for an install is the external CLI's job, per
// spec.md §1.
package rootfile

import (
	"bufio"
	"encoding/binary"
	"io"
	"math"

	"github.com/fluxxu/keg/internal/bitset"
	"github.com/fluxxu/keg/internal/kegerrors"
	"github.com/fluxxu/keg/pkg/key"
)

const magic = "RT"

// Tag is one named, typed mask over the entry table — locale
// ("enUS", "frFR", ...) or content flag ("LowViolence", ...) per
// spec.md's manifest tag model.
type Tag struct {
	Name string
	Type uint16
	Mask bitset.Set
}

// Entry is one path -> content key mapping in the tree.
type Entry struct {
	Path string
	Key  key.Key
}

// File is a parsed root manifest.
type File struct {
	hashSize   uint8
	tags       []Tag
	entryCount int
	entries    []Entry
}

// Parse reads a complete decoded root manifest (BLTE-decoded by the
// caller, like every other NGDP metadata file).
func Parse(r io.Reader) (*File, error) {
	br := bufio.NewReader(r)

	var hdr [2]byte
	if _, err := io.ReadFull(br, hdr[:]); err != nil {
		return nil, &kegerrors.ParseError{Format: "rootfile", Reason: "truncated magic"}
	}
	if string(hdr[:]) != magic {
		return nil, &kegerrors.ParseError{Format: "rootfile", Reason: "bad magic"}
	}

	var rest [8]byte
	if _, err := io.ReadFull(br, rest[:]); err != nil {
		return nil, &kegerrors.ParseError{Format: "rootfile", Reason: "truncated header"}
	}
	// rest[0] is the format version, not otherwise inspected.
	hashSize := rest[1]
	tagCount := binary.BigEndian.Uint16(rest[2:4])
	entryCount := clampUint32ToInt(binary.BigEndian.Uint32(rest[4:8]))

	maskLen := bitset.ByteLen(entryCount)
	tags := make([]Tag, tagCount)
	for i := range tags {
		name, err := readCString(br)
		if err != nil {
			return nil, err
		}
		var typeBytes [2]byte
		if _, err := io.ReadFull(br, typeBytes[:]); err != nil {
			return nil, &kegerrors.ParseError{Format: "rootfile", Reason: "truncated tag type"}
		}
		mask := make([]byte, maskLen)
		if _, err := io.ReadFull(br, mask); err != nil {
			return nil, &kegerrors.ParseError{Format: "rootfile", Reason: "truncated tag mask"}
		}
		tags[i] = Tag{Name: name, Type: binary.BigEndian.Uint16(typeBytes[:]), Mask: bitset.New(mask, entryCount)}
	}

	entries := make([]Entry, 0, entryCount)
	for i := 0; i < entryCount; i++ {
		path, err := readCString(br)
		if err != nil {
			return nil, err
		}
		digest := make([]byte, hashSize)
		if _, err := io.ReadFull(br, digest); err != nil {
			return nil, &kegerrors.ParseError{Format: "rootfile", Reason: "truncated entry content key"}
		}
		k, err := key.FromBytes(digest)
		if err != nil {
			return nil, err
		}
		entries = append(entries, Entry{Path: path, Key: k})
	}

	return &File{hashSize: hashSize, tags: tags, entryCount: entryCount, entries: entries}, nil
}

func readCString(r *bufio.Reader) (string, error) {
	s, err := r.ReadString(0)
	if err != nil {
		return "", &kegerrors.ParseError{Format: "rootfile", Reason: "truncated cstring"}
	}
	return s[:len(s)-1], nil
}

func clampUint32ToInt(v uint32) int {
	if uint64(v) > uint64(math.MaxInt32) {
		return math.MaxInt32
	}
	return int(v)
}

// Tags returns the manifest's tag table.
func (f *File) Tags() []Tag { return f.tags }

// Entries returns every entry, unfiltered.
func (f *File) Entries() []Entry { return f.entries }

// FilterEntries returns the entries whose tag masks satisfy the
// conjunction-of-types, disjunction-within-type predicate over the
// named tags — the same rule pkg/manifest applies to install/download
// filtering.
func (f *File) FilterEntries(tags []string) ([]Entry, error) {
	indices, err := selectIndices(f.entryCount, f.tags, tags)
	if err != nil {
		return nil, err
	}
	out := make([]Entry, 0, len(indices))
	for _, i := range indices {
		out = append(out, f.entries[i])
	}
	return out, nil
}

// Resolve looks up a single path's content key after filtering by
// tags, returning NotFound if the path is absent or excluded by the
// selected tags.
func (f *File) Resolve(path string, tags []string) (key.Key, error) {
	filtered, err := f.FilterEntries(tags)
	if err != nil {
		return key.Key{}, err
	}
	for _, e := range filtered {
		if e.Path == path {
			return e.Key, nil
		}
	}
	return key.Key{}, &kegerrors.NotFound{Kind: "path", Key: path}
}

func selectIndices(entryCount int, tags []Tag, selected []string) ([]int, error) {
	byName := make(map[string]Tag, len(tags))
	for _, t := range tags {
		byName[t.Name] = t
	}

	groups := make(map[uint16][]bitset.Set)
	for _, name := range selected {
		t, ok := byName[name]
		if !ok {
			return nil, &kegerrors.NotFound{Kind: "tag", Key: name}
		}
		groups[t.Type] = append(groups[t.Type], t.Mask)
	}

	if len(groups) == 0 {
		indices := make([]int, entryCount)
		for i := range indices {
			indices[i] = i
		}
		return indices, nil
	}

	perType := make([]bitset.Set, 0, len(groups))
	for _, sets := range groups {
		perType = append(perType, bitset.Or(entryCount, sets...))
	}
	return bitset.And(entryCount, perType...), nil
}
