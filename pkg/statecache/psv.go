package statecache

import (
	"bytes"
	"encoding/binary"
	"encoding/gob"

	"github.com/cockroachdb/pebble"
)

// psv/{digest}/{row_index_be32} -> gob([]string)

func psvRowKey(digest [16]byte, idx uint32) []byte {
	var buf bytes.Buffer
	buf.WriteString("psv/")
	buf.Write(digest[:])
	buf.WriteByte('/')
	var idxBytes [4]byte
	binary.BigEndian.PutUint32(idxBytes[:], idx)
	buf.Write(idxBytes[:])
	return buf.Bytes()
}

func psvRowPrefix(digest [16]byte) []byte {
	var buf bytes.Buffer
	buf.WriteString("psv/")
	buf.Write(digest[:])
	buf.WriteByte('/')
	return buf.Bytes()
}

// WritePSVRows persists a parsed PSV document's rows so a later
// replay does not need the original response body, keyed by the
// body's own digest so identical responses share storage.
func (c *Cache) WritePSVRows(digest [16]byte, rows [][]string) error {
	batch := c.db.NewBatch()
	defer batch.Close()

	for i, row := range rows {
		var val bytes.Buffer
		if err := gob.NewEncoder(&val).Encode(row); err != nil {
			return err
		}
		if err := batch.Set(psvRowKey(digest, uint32(i)), val.Bytes(), nil); err != nil {
			return err
		}
	}
	return batch.Commit(pebble.Sync)
}

// ReadPSV replays every row stored under digest, in original order, via
// a forward prefix scan.
func (c *Cache) ReadPSV(digest [16]byte) ([][]string, error) {
	prefix := psvRowPrefix(digest)
	upper := append(append([]byte{}, prefix...), 0xFF)

	iter, err := c.db.NewIter(&pebble.IterOptions{LowerBound: prefix, UpperBound: upper})
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	var rows [][]string
	for valid := iter.First(); valid; valid = iter.Next() {
		var row []string
		if err := gob.NewDecoder(bytes.NewReader(iter.Value())).Decode(&row); err != nil {
			return nil, err
		}
		rows = append(rows, row)
	}
	return rows, nil
}
