// Package bitset implements the small packed-bit masks used by the
// install and download manifest tag tables: one bit per entry, stored
// ceil(n/8) bytes per tag.
package bitset

// Set is a read-only view over a packed bit mask of a fixed entry
// count. It does not own or copy its backing bytes.
type Set struct {
	bits  []byte
	count int
}

// New wraps raw as a Set of count bits. raw must be at least
// ceil(count/8) bytes; extra bytes are ignored.
func New(raw []byte, count int) Set {
	return Set{bits: raw, count: count}
}

// Len returns the number of addressable bits.
func (s Set) Len() int { return s.count }

// Test reports whether bit i is set.
func (s Set) Test(i int) bool {
	if i < 0 || i >= s.count {
		return false
	}
	return s.bits[i/8]&(1<<uint(i%8)) != 0
}

// ByteLen returns ceil(count/8), the number of bytes a mask of count
// bits occupies on the wire.
func ByteLen(count int) int {
	return (count + 7) / 8
}

// Or returns a new Set whose bit i is set iff any of sets has bit i
// set. Used to combine same-type tags with disjunction semantics.
func Or(count int, sets ...Set) Set {
	out := make([]byte, ByteLen(count))
	for _, s := range sets {
		for i, b := range s.bits {
			if i >= len(out) {
				break
			}
			out[i] |= b
		}
	}
	return Set{bits: out, count: count}
}

// And reports, for every i in [0,count), whether every set in sets has
// bit i set — used to combine distinct tag types with conjunction
// semantics. Returns the indices for which this holds.
func And(count int, sets ...Set) []int {
	var result []int
	for i := 0; i < count; i++ {
		ok := true
		for _, s := range sets {
			if !s.Test(i) {
				ok = false
				break
			}
		}
		if ok {
			result = append(result, i)
		}
	}
	return result
}
