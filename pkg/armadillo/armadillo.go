// Package armadillo parses the named decryption-key table referenced
// by keg.conf's armadillo.keys entry and consumed by pkg/blte's mode
// 'E' chunks and pkg/planner's product-config resolution (spec.md §6,
// §4.7 point 4). Grounded on
// original_source/keg/armadillo.py for the table's role, but not its
// binary ArmadilloKey/Salsa20 verification format — the table itself
// is a flat name/key list, so it reuses pkg/configfile's "name = value"
// grammar rather than inventing a second text format.
package armadillo

import (
	"encoding/hex"
	"io"

	"github.com/fluxxu/keg/internal/kegerrors"
	"github.com/fluxxu/keg/pkg/configfile"
)

// Table is a name -> key lookup, satisfying both pkg/blte.KeyProvider
// and pkg/planner.KnownKeys.
type Table struct {
	keys map[string][]byte
}

// Parse reads a "name = hexkey" document, one key per line, in the
// same grammar as a build/CDN config.
func Parse(r io.Reader) (*Table, error) {
	f, err := configfile.Parse(r)
	if err != nil {
		return nil, err
	}
	return fromFile(f)
}

// ParseBytes is Parse over an in-memory document.
func ParseBytes(raw []byte) (*Table, error) {
	f, err := configfile.ParseBytes(raw)
	if err != nil {
		return nil, err
	}
	return fromFile(f)
}

func fromFile(f *configfile.File) (*Table, error) {
	t := &Table{keys: make(map[string][]byte, len(f.Keys()))}
	for _, name := range f.Keys() {
		raw := f.Value(name)
		secret, err := hex.DecodeString(raw)
		if err != nil {
			return nil, &kegerrors.ParseError{Format: "armadillo-keys", Reason: "malformed key for " + name}
		}
		t.keys[name] = secret
	}
	return t, nil
}

// Key implements pkg/blte.KeyProvider.
func (t *Table) Key(name string) ([]byte, bool) {
	k, ok := t.keys[name]
	return k, ok
}

// Has implements pkg/planner.KnownKeys.
func (t *Table) Has(name string) bool {
	_, ok := t.keys[name]
	return ok
}

// Len returns the number of keys in the table.
func (t *Table) Len() int { return len(t.keys) }
