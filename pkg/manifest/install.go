package manifest

import (
	"bufio"
	"io"
)

// Install is a parsed install manifest: the complete file list for a
// build, filterable by tag.
type Install struct {
	base
	entries []Entry
}

// ParseInstall reads a complete decoded install manifest (BLTE-decoded
// by the caller).
func ParseInstall(r io.Reader) (*Install, error) {
	br := bufio.NewReader(r)
	b, err := parseBase(br)
	if err != nil {
		return nil, err
	}

	entries := make([]Entry, 0, b.entryCount)
	for i := 0; i < b.entryCount; i++ {
		path, k, size, err := readEntryPrefix(br, b.hashSize)
		if err != nil {
			return nil, err
		}
		entries = append(entries, Entry{Path: path, Key: k, Size: size})
	}

	return &Install{base: b, entries: entries}, nil
}

// Entries returns every entry, unfiltered.
func (m *Install) Entries() []Entry { return m.entries }

// FilterEntries returns the entries whose tag masks satisfy the
// conjunction-of-types, disjunction-within-type predicate over the
// named tags (spec.md §4.4, I6).
func (m *Install) FilterEntries(tags []string) ([]Entry, error) {
	indices, err := selectIndices(m.entryCount, m.tags, tags)
	if err != nil {
		return nil, err
	}
	out := make([]Entry, 0, len(indices))
	for _, i := range indices {
		out = append(out, m.entries[i])
	}
	return out, nil
}
