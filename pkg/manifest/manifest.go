// Package manifest parses the install and download manifests: tag-
// filtered lists of files belonging to a build (spec.md §4.4). Both
// share one on-disk header and tag-table shape; download manifest
// entries additionally carry a priority byte.
package manifest

import (
	"bufio"
	"encoding/binary"
	"io"
	"math"

	"github.com/fluxxu/keg/internal/bitset"
	"github.com/fluxxu/keg/internal/kegerrors"
	"github.com/fluxxu/keg/pkg/key"
)

const magic = "IN"

// Tag is one named, typed mask over the entry table. Entries sharing
// a type are meant to be OR'ed together by FilterEntries; distinct
// types are AND'ed.
type Tag struct {
	Name string
	Type uint16
	Mask bitset.Set
}

// base holds the parts common to install and download manifests: the
// tag table and the entry count they're sized against.
type base struct {
	hashSize   uint8
	tags       []Tag
	entryCount int
}

func parseBase(r *bufio.Reader) (base, error) {
	var hdr [2]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return base{}, &kegerrors.ParseError{Format: "manifest", Reason: "truncated magic"}
	}
	if string(hdr[:]) != magic {
		return base{}, &kegerrors.ParseError{Format: "manifest", Reason: "bad magic"}
	}

	var rest [8]byte
	if _, err := io.ReadFull(r, rest[:]); err != nil {
		return base{}, &kegerrors.ParseError{Format: "manifest", Reason: "truncated header"}
	}
	// rest[0] is the format version; parsing only depends on hashSize
	// and the counts below, so it is not otherwise inspected.
	hashSize := rest[1]
	tagCount := binary.BigEndian.Uint16(rest[2:4])
	entryCount := clampUint32ToInt(binary.BigEndian.Uint32(rest[4:8]))

	maskLen := bitset.ByteLen(entryCount)
	tags := make([]Tag, tagCount)
	for i := range tags {
		name, err := readCString(r)
		if err != nil {
			return base{}, err
		}
		var typeBytes [2]byte
		if _, err := io.ReadFull(r, typeBytes[:]); err != nil {
			return base{}, &kegerrors.ParseError{Format: "manifest", Reason: "truncated tag type"}
		}
		mask := make([]byte, maskLen)
		if _, err := io.ReadFull(r, mask); err != nil {
			return base{}, &kegerrors.ParseError{Format: "manifest", Reason: "truncated tag mask"}
		}
		tags[i] = Tag{Name: name, Type: binary.BigEndian.Uint16(typeBytes[:]), Mask: bitset.New(mask, entryCount)}
	}

	return base{hashSize: hashSize, tags: tags, entryCount: entryCount}, nil
}

func readCString(r *bufio.Reader) (string, error) {
	s, err := r.ReadString(0)
	if err != nil {
		return "", &kegerrors.ParseError{Format: "manifest", Reason: "truncated cstring"}
	}
	return s[:len(s)-1], nil
}

// Tags returns the manifest's tag table.
func (b base) Tags() []Tag { return b.tags }

// EntryCount returns the number of entries the tag masks are sized
// against.
func (b base) EntryCount() int { return b.entryCount }

// selectIndices implements spec.md's filter predicate: conjunction
// over tag types of the disjunction over selected tags of that type.
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

// clampUint32ToInt guards against a manifest claiming an entry count
// that would overflow int on 32-bit platforms.
func clampUint32ToInt(v uint32) int {
	if uint64(v) > uint64(math.MaxInt32) {
		return math.MaxInt32
	}
	return int(v)
}

// Entry is shared by install and download manifests: a logical path,
// its content key, and declared size.
type Entry struct {
	Path string
	Key  key.Key
	Size uint32
}

func readEntryPrefix(r *bufio.Reader, hashSize uint8) (string, key.Key, uint32, error) {
	path, err := readCString(r)
	if err != nil {
		return "", key.Key{}, 0, err
	}
	digest := make([]byte, hashSize)
	if _, err := io.ReadFull(r, digest); err != nil {
		return "", key.Key{}, 0, &kegerrors.ParseError{Format: "manifest", Reason: "truncated entry digest"}
	}
	k, err := key.FromBytes(digest)
	if err != nil {
		return "", key.Key{}, 0, err
	}
	var sizeBytes [4]byte
	if _, err := io.ReadFull(r, sizeBytes[:]); err != nil {
		return "", key.Key{}, 0, &kegerrors.ParseError{Format: "manifest", Reason: "truncated entry size"}
	}
	return path, k, binary.BigEndian.Uint32(sizeBytes[:]), nil
}
