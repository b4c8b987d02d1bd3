// Package configfile decodes the key = value configuration grammar
// shared by BuildConfig, CDNConfig, ProductConfig, and the repository's
// own keg.conf: lines of "key = value [value ...]"; "#" comments and
// blank lines ignored. A file's identity is the MD5 of its raw bytes.
package configfile

import (
	"bufio"
	"bytes"
	"io"
	"strings"

	"github.com/fluxxu/keg/internal/kegerrors"
	"github.com/fluxxu/keg/pkg/key"
)

// File is a parsed config document: an ordered set of keys, each bound
// to one or more whitespace-separated values.
type File struct {
	keys   []string // preserves declaration order
	values map[string][]string
	digest key.Key
}

// Parse reads a config document from r.
func Parse(r io.Reader) (*File, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	return ParseBytes(raw)
}

// ParseBytes parses raw config bytes and records their MD5 as the
// file's identity (spec: "identity of a config file is MD5 of the raw
// bytes" — not of a normalized form).
func ParseBytes(raw []byte) (*File, error) {
	f := &File{values: make(map[string][]string), digest: key.Of(raw)}

	scanner := bufio.NewScanner(bytes.NewReader(raw))
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	var lineNo int64
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		k, vals, err := parseLine(line)
		if err != nil {
			return nil, &kegerrors.ParseError{Format: "config", Offset: lineNo, Reason: err.Error()}
		}
		if _, exists := f.values[k]; !exists {
			f.keys = append(f.keys, k)
		}
		f.values[k] = vals
	}
	if err := scanner.Err(); err != nil {
		return nil, &kegerrors.ParseError{Format: "config", Offset: lineNo, Reason: err.Error()}
	}

	return f, nil
}

func parseLine(line string) (string, []string, error) {
	parts := strings.SplitN(line, "=", 2)
	if len(parts) != 2 {
		return "", nil, &kegerrors.ParseError{Format: "config", Reason: "missing '=' in " + line}
	}
	k := strings.TrimSpace(parts[0])
	rest := strings.Fields(parts[1])
	return k, rest, nil
}

// Digest returns the MD5 of the raw bytes this file was parsed from.
func (f *File) Digest() key.Key { return f.digest }

// Keys returns the declared keys in file order.
func (f *File) Keys() []string { return f.keys }

// Values returns the (possibly multiple) whitespace-separated values
// bound to k, and whether k was present at all.
func (f *File) Values(k string) ([]string, bool) {
	v, ok := f.values[k]
	return v, ok
}

// Value returns the first value bound to k, or "" if absent.
func (f *File) Value(k string) string {
	v, ok := f.values[k]
	if !ok || len(v) == 0 {
		return ""
	}
	return v[0]
}

// Has reports whether k was declared in the file.
func (f *File) Has(k string) bool {
	_, ok := f.values[k]
	return ok
}
