package statecache

import (
	"bytes"
	"encoding/binary"
	"encoding/gob"

	"github.com/cockroachdb/pebble"
)

// ResponseEntry pairs a recorded response with the timestamp it was
// seen at, oldest first.
type ResponseEntry struct {
	Timestamp int64
	Meta      ResponseMeta
}

// History returns every response recorded for (remote, endpoint), in
// ascending timestamp order — the sequence "log" walks to show a
// remote's fetch history, as opposed to LatestResponse's single
// most-recent row.
func (c *Cache) History(remote, endpoint string) ([]ResponseEntry, error) {
	prefix := responsePrefix(remote, endpoint)
	upper := append(append([]byte{}, prefix...), 0xFF)

	iter, err := c.db.NewIter(&pebble.IterOptions{LowerBound: prefix, UpperBound: upper})
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	var entries []ResponseEntry
	for iter.First(); iter.Valid(); iter.Next() {
		k := iter.Key()
		ts := int64(binary.BigEndian.Uint64(k[len(k)-8:]))

		var meta ResponseMeta
		if err := gob.NewDecoder(bytes.NewReader(iter.Value())).Decode(&meta); err != nil {
			return nil, err
		}
		entries = append(entries, ResponseEntry{Timestamp: ts, Meta: meta})
	}
	if err := iter.Error(); err != nil {
		return nil, err
	}
	return entries, nil
}
