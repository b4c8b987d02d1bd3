// Package pagetable walks the "page header + page-md5 + fixed page
// size" table-of-pages idiom used by the encoding file's ckey and
// ekey tables: a flat index of (first-key, page-md5) headers
// followed by that many fixed-size pages, each independently
// checksummed.
package pagetable

import (
	"bytes"
	"crypto/md5" //nolint:gosec

	"github.com/fluxxu/keg/internal/kegerrors"
	"github.com/fluxxu/keg/pkg/key"
)

// Header is one page-table index entry: the first key in the page and
// the page's own MD5.
type Header struct {
	FirstKey key.Key
	PageMD5  [key.Size]byte
}

// Table is a parsed page-table: a slice of headers and the matching
// slice of raw page bytes.
type Table struct {
	Headers  []Header
	Pages    [][]byte
	PageSize int
}

// Parse splits an index block and a page block into a Table, verifying
// each page's MD5 against its header when verify is true.
func Parse(indexBytes, pageBytes []byte, pageSize int, verify bool) (*Table, error) {
	if len(indexBytes)%(key.Size*2) != 0 {
		return nil, &kegerrors.ParseError{Format: "pagetable", Reason: "index block is not a whole number of headers"}
	}
	count := len(indexBytes) / (key.Size * 2)
	if len(pageBytes) != count*pageSize {
		return nil, &kegerrors.ParseError{Format: "pagetable", Reason: "page block length does not match header count"}
	}

	headers := make([]Header, count)
	pages := make([][]byte, count)
	for i := 0; i < count; i++ {
		rec := indexBytes[i*key.Size*2 : (i+1)*key.Size*2]
		copy(headers[i].FirstKey[:], rec[0:key.Size])
		copy(headers[i].PageMD5[:], rec[key.Size:key.Size*2])

		page := pageBytes[i*pageSize : (i+1)*pageSize]
		if verify {
			sum := md5.Sum(page) //nolint:gosec
			if !bytes.Equal(sum[:], headers[i].PageMD5[:]) {
				return nil, &kegerrors.IntegrityError{
					What:     "encoding page",
					Expected: key.Key(headers[i].PageMD5).String(),
					Actual:   key.Key(sum).String(),
				}
			}
		}
		pages[i] = page
	}

	return &Table{Headers: headers, Pages: pages, PageSize: pageSize}, nil
}

// Len returns the number of pages.
func (t *Table) Len() int { return len(t.Pages) }
