package archiveindex

import "github.com/fluxxu/keg/pkg/key"

// Group overlays several archive indices in the order their owning
// archives appear in the CDN config (spec.md §4.2). Lookup returns the
// first match across the group.
type Group struct {
	archives []key.Key
	indices  []*Index
}

// NewGroup builds a group from parallel slices of archive key and
// parsed index, in CDN-config order.
func NewGroup(archives []key.Key, indices []*Index) *Group {
	return &Group{archives: archives, indices: indices}
}

// Lookup finds ekey in the first archive index that contains it.
func (g *Group) Lookup(ekey key.Key) (archive key.Key, size, offset uint32, ok bool) {
	for i, idx := range g.indices {
		if e, found := idx.Lookup(ekey); found {
			return g.archives[i], e.Size, e.Offset, true
		}
	}
	return key.Key{}, 0, 0, false
}

// Len returns the number of archives in the group.
func (g *Group) Len() int { return len(g.indices) }
