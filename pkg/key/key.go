// Package key implements the content-addressing primitives shared by
// every codec and store in the repository engine: the 16-byte MD5 key
// type and the two-level hex partitioning used to lay keys out on a CDN.
package key

import (
	"crypto/md5" //nolint:gosec // MD5 is the protocol's content-addressing hash, not used for security
	"encoding/hex"
	"fmt"
)

// Size is the length in bytes of a key: MD5 digest size.
const Size = 16

// SizeHex is the length of a key's lowercase hex representation.
const SizeHex = Size * 2

// Key is a content key (ckey) or an encoded key (ekey) — an MD5 digest.
// Which kind a given Key holds is a matter of context, not type: a ckey
// is the MD5 of decoded file bytes, an ekey is the MD5 of an encoded
// container's header.
type Key [Size]byte

// Of returns the key identifying data: its raw MD5 digest.
func Of(data []byte) Key {
	return Key(md5.Sum(data)) //nolint:gosec
}

// Parse decodes a 32-character lowercase hex string into a Key.
func Parse(s string) (Key, error) {
	var k Key
	if len(s) != SizeHex {
		return Key{}, &BadKeySize{Value: s}
	}
	n, err := hex.Decode(k[:], []byte(s))
	if err != nil {
		return Key{}, &BadKeySize{Value: s}
	}
	if n != Size {
		return Key{}, &BadKeySize{Value: s}
	}
	return k, nil
}

// MustParse is Parse but panics on a malformed string. Used for constants
// and in tests, never on untrusted input.
func MustParse(s string) Key {
	k, err := Parse(s)
	if err != nil {
		panic(err.Error())
	}
	return k
}

// FromBytes copies a raw 16-byte digest into a Key.
func FromBytes(b []byte) (Key, error) {
	var k Key
	if len(b) != Size {
		return Key{}, &BadKeySize{Value: fmt.Sprintf("%x", b)}
	}
	copy(k[:], b)
	return k, nil
}

// IsZero reports whether k is the zero key — used to distinguish "no
// expected key was supplied" from an actual all-zero digest in BLTE
// verification call sites.
func (k Key) IsZero() bool {
	return k == Key{}
}

// String renders the key as lowercase hex.
func (k Key) String() string {
	return hex.EncodeToString(k[:])
}

// Partition splits the key's hex form into the two-level path prefix
// used throughout the object store and the CDN wire surface:
// a key "0123abcd..." partitions to ("01", "23", "0123abcd...").
func (k Key) Partition() (hi, lo, full string) {
	full = k.String()
	return full[0:2], full[2:4], full
}

// BadKeySize is returned when a candidate key string or byte slice is
// not a valid 16-byte MD5 digest.
type BadKeySize struct {
	Value string
}

func (b *BadKeySize) Error() string {
	return fmt.Sprintf("%q has invalid size, expected %d hex characters", b.Value, SizeHex)
}
