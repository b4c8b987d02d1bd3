package statecache

import "github.com/cockroachdb/pebble"

// DropRemote deletes every row recorded for remote — its response log
// and both version-lookup families — without touching anything else.
// Removing a remote never touches the object store (spec.md §3's
// lifecycle invariant: "removing a remote removes its rows but not its
// objects").
func (c *Cache) DropRemote(remote string) error {
	batch := c.db.NewBatch()
	defer batch.Close()

	prefixes := [][]byte{
		[]byte("responses/" + remote + "/"),
		[]byte("versions/by-name/" + remote + "/"),
		[]byte("versions/by-id/" + remote + "/"),
	}
	for _, prefix := range prefixes {
		upper := append(append([]byte{}, prefix...), 0xFF)
		if err := batch.DeleteRange(prefix, upper, nil); err != nil {
			return err
		}
	}
	return batch.Commit(pebble.Sync)
}
