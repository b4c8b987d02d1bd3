package statecache

import (
	"bytes"
	"encoding/gob"
	"errors"

	"github.com/cockroachdb/pebble"
	"github.com/fluxxu/keg/pkg/key"
)

// VersionRow is the denormalized view of one version entry returned
// by the /versions endpoint: build identity plus the three configs a
// build is built from.
type VersionRow struct {
	Remote        string
	Region        string
	BuildName     string
	BuildID       string
	BuildConfig   key.Key
	CDNConfig     key.Key
	ProductConfig key.Key
	Timestamp     int64
}

// versions/by-name/{remote}/{region}/{buildName} -> gob(VersionRow)
// versions/by-id/{remote}/{buildID}              -> gob(VersionRow)
//
// Both key families encode the same VersionRow; UpsertVersion writes
// both in one batch so a lookup by either name or id is a single point
// read.

func versionByNameKey(remote, region, buildName string) []byte {
	var buf bytes.Buffer
	buf.WriteString("versions/by-name/")
	buf.WriteString(remote)
	buf.WriteByte('/')
	buf.WriteString(region)
	buf.WriteByte('/')
	buf.WriteString(buildName)
	return buf.Bytes()
}

func versionByIDKey(remote, buildID string) []byte {
	var buf bytes.Buffer
	buf.WriteString("versions/by-id/")
	buf.WriteString(remote)
	buf.WriteByte('/')
	buf.WriteString(buildID)
	return buf.Bytes()
}

// UpsertVersion writes a version row under both its name and id keys
// in one batch, so a partial write is never observable.
func (c *Cache) UpsertVersion(row VersionRow) error {
	var val bytes.Buffer
	if err := gob.NewEncoder(&val).Encode(row); err != nil {
		return err
	}

	batch := c.db.NewBatch()
	defer batch.Close()

	if err := batch.Set(versionByNameKey(row.Remote, row.Region, row.BuildName), val.Bytes(), nil); err != nil {
		return err
	}
	if err := batch.Set(versionByIDKey(row.Remote, row.BuildID), val.Bytes(), nil); err != nil {
		return err
	}
	return batch.Commit(pebble.Sync)
}

// GetVersionByName looks up a version by its (remote, region, name) key.
func (c *Cache) GetVersionByName(remote, region, buildName string) (VersionRow, bool, error) {
	return c.getVersion(versionByNameKey(remote, region, buildName))
}

// GetVersionByID looks up a version by its (remote, id) key.
func (c *Cache) GetVersionByID(remote, buildID string) (VersionRow, bool, error) {
	return c.getVersion(versionByIDKey(remote, buildID))
}

func (c *Cache) getVersion(k []byte) (VersionRow, bool, error) {
	val, closer, err := c.db.Get(k)
	if err != nil {
		if errors.Is(err, pebble.ErrNotFound) {
			return VersionRow{}, false, nil
		}
		return VersionRow{}, false, err
	}
	defer closer.Close()

	var row VersionRow
	if err := gob.NewDecoder(bytes.NewReader(val)).Decode(&row); err != nil {
		return VersionRow{}, false, err
	}
	return row, true, nil
}
