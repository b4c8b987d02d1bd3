package manifest

import (
	"bufio"
	"io"

	"github.com/fluxxu/keg/internal/kegerrors"
)

// DownloadEntry extends Entry with the priority byte: a lower value
// means the file is needed earlier for a playable install.
type DownloadEntry struct {
	Entry
	Priority uint8
}

// Download is a parsed download manifest.
type Download struct {
	base
	entries []DownloadEntry
}

// ParseDownload reads a complete decoded download manifest.
func ParseDownload(r io.Reader) (*Download, error) {
	br := bufio.NewReader(r)
	b, err := parseBase(br)
	if err != nil {
		return nil, err
	}

	entries := make([]DownloadEntry, 0, b.entryCount)
	for i := 0; i < b.entryCount; i++ {
		path, k, size, err := readEntryPrefix(br, b.hashSize)
		if err != nil {
			return nil, err
		}
		prio, err := br.ReadByte()
		if err != nil {
			return nil, &kegerrors.ParseError{Format: "manifest", Reason: "truncated priority byte"}
		}
		entries = append(entries, DownloadEntry{Entry: Entry{Path: path, Key: k, Size: size}, Priority: prio})
	}

	return &Download{base: b, entries: entries}, nil
}

// Entries returns every entry, unfiltered.
func (m *Download) Entries() []DownloadEntry { return m.entries }

// FilterEntries applies the same tag predicate as Install.FilterEntries.
func (m *Download) FilterEntries(tags []string) ([]DownloadEntry, error) {
	indices, err := selectIndices(m.entryCount, m.tags, tags)
	if err != nil {
		return nil, err
	}
	out := make([]DownloadEntry, 0, len(indices))
	for _, i := range indices {
		out = append(out, m.entries[i])
	}
	return out, nil
}
