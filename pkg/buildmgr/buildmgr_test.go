package buildmgr_test

import (
	"bytes"
	"context"
	"crypto/md5" //nolint:gosec
	"encoding/binary"
	"strings"
	"testing"

	"github.com/fluxxu/keg/internal/kegerrors"
	"github.com/fluxxu/keg/pkg/archiveindex"
	"github.com/fluxxu/keg/pkg/blte"
	"github.com/fluxxu/keg/pkg/buildmgr"
	"github.com/fluxxu/keg/pkg/key"
	"github.com/fluxxu/keg/pkg/objectstore"
	"github.com/fluxxu/keg/pkg/objectstore/localfs"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func must(t *testing.T, s string) key.Key {
	t.Helper()
	k, err := key.Parse(s)
	require.NoError(t, err)
	return k
}

func writeUint40BE(b []byte, v uint64) {
	b[0] = byte(v >> 32)
	binary.BigEndian.PutUint32(b[1:5], uint32(v))
}

type encEntry struct {
	ck, ek key.Key
}

// buildEncodingFile packs one or more ckey->ekey rows into a single
// one-page encoding file, generalizing pkg/encoding's own single-entry
// test fixture to cover multiple content keys.
func buildEncodingFile(t *testing.T, entries []encEntry) []byte {
	t.Helper()

	var ckeyPage bytes.Buffer
	for _, e := range entries {
		ckeyPage.WriteByte(1)
		size := make([]byte, 5)
		writeUint40BE(size, 1)
		ckeyPage.Write(size)
		ckeyPage.Write(e.ck[:])
		ckeyPage.Write(e.ek[:])
	}
	ckeyPageBytes := make([]byte, 1024)
	copy(ckeyPageBytes, ckeyPage.Bytes())

	var ekeyPage bytes.Buffer
	for _, e := range entries {
		ekeyPage.Write(e.ek[:])
		spec := make([]byte, 4)
		binary.BigEndian.PutUint32(spec, 0)
		ekeyPage.Write(spec)
		size := make([]byte, 5)
		writeUint40BE(size, 1)
		ekeyPage.Write(size)
	}
	terminator := make([]byte, key.Size+4)
	negOne := int32(-1)
	binary.BigEndian.PutUint32(terminator[key.Size:], uint32(negOne))
	ekeyPage.Write(terminator)
	ekeyPageBytes := make([]byte, 1024)
	copy(ekeyPageBytes, ekeyPage.Bytes())

	ckeySum := md5.Sum(ckeyPageBytes) //nolint:gosec
	ekeySum := md5.Sum(ekeyPageBytes) //nolint:gosec

	var firstCK, firstEK key.Key
	if len(entries) > 0 {
		firstCK, firstEK = entries[0].ck, entries[0].ek
	}

	var ckeyIndex, ekeyIndex bytes.Buffer
	ckeyIndex.Write(firstCK[:])
	ckeyIndex.Write(ckeySum[:])
	ekeyIndex.Write(firstEK[:])
	ekeyIndex.Write(ekeySum[:])

	specs := []byte("zlib\x00")

	var header bytes.Buffer
	header.WriteString("EN")
	header.WriteByte(1)
	header.WriteByte(key.Size)
	header.WriteByte(key.Size)
	binary.Write(&header, binary.BigEndian, uint16(1))
	binary.Write(&header, binary.BigEndian, uint16(1))
	binary.Write(&header, binary.BigEndian, uint32(1))
	binary.Write(&header, binary.BigEndian, uint32(1))
	header.WriteByte(0)
	binary.Write(&header, binary.BigEndian, uint32(len(specs)))

	var full bytes.Buffer
	full.Write(header.Bytes())
	full.Write(specs)
	full.Write(ckeyIndex.Bytes())
	full.Write(ckeyPageBytes)
	full.Write(ekeyIndex.Bytes())
	full.Write(ekeyPageBytes)
	return full.Bytes()
}

func buildArchiveIndex(t *testing.T, entries []archiveindex.Entry) []byte {
	t.Helper()

	var body bytes.Buffer
	rec := make([]byte, 24)
	for _, e := range entries {
		copy(rec[0:16], e.Key[:])
		binary.BigEndian.PutUint32(rec[16:20], e.Size)
		binary.BigEndian.PutUint32(rec[20:24], e.Offset)
		body.Write(rec)
	}
	pad := make([]byte, 4096-body.Len())
	body.Write(pad)

	footer := make([]byte, 20)
	footer[11], footer[12], footer[13], footer[14], footer[15] = 4, 4, 4, 16, 8
	binary.LittleEndian.PutUint32(footer[16:20], uint32(len(entries)))
	sum := md5.Sum(footer) //nolint:gosec
	full := append(footer, sum[0:8]...)
	return append(body.Bytes(), full...)
}

func blteWrap(t *testing.T, plain []byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	_, err := blte.Encode(&buf, []blte.ChunkPlan{{Mode: blte.ModeRaw, Decoded: plain}})
	require.NoError(t, err)
	return buf.Bytes()
}

// fixture wires one build whose encoding file names a content key in
// each of the three tiers GetFile must resolve: loose data, fragment,
// and archived.
type fixture struct {
	manager                      *buildmgr.Manager
	looseCK, fragCK, archCK      key.Key
	loosePlain, fragPlain, archP []byte
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	ctx := context.Background()
	store := localfs.New(afero.NewMemMapFs())

	buildConfigKey := must(t, strings.Repeat("1", 32))
	cdnConfigKey := must(t, strings.Repeat("2", 32))
	encodingEKey := must(t, strings.Repeat("3", 32))
	archiveKey := must(t, strings.Repeat("4", 32))

	looseCK := must(t, strings.Repeat("5", 32))
	looseEK := must(t, strings.Repeat("6", 32))
	fragCK := must(t, strings.Repeat("7", 32))
	fragEK := must(t, strings.Repeat("8", 32))
	archCK := must(t, strings.Repeat("9", 32))
	archEK := must(t, strings.Repeat("a", 32))

	loosePlain := []byte("loose file contents")
	fragPlain := []byte("fragment file contents")
	archPlain := []byte("archived file contents")

	encRaw := buildEncodingFile(t, []encEntry{
		{ck: looseCK, ek: looseEK},
		{ck: fragCK, ek: fragEK},
		{ck: archCK, ek: archEK},
	})

	buildConfigContent := "encoding = " + strings.Repeat("0", 32) + " " + encodingEKey.String() + "\n"
	cdnConfigContent := "archives = " + archiveKey.String() + "\n"

	require.NoError(t, store.Put(ctx, objectstore.KindConfig, buildConfigKey, strings.NewReader(buildConfigContent)))
	require.NoError(t, store.Put(ctx, objectstore.KindConfig, cdnConfigKey, strings.NewReader(cdnConfigContent)))
	require.NoError(t, store.Put(ctx, objectstore.KindData, encodingEKey, bytes.NewReader(blteWrap(t, encRaw))))
	require.NoError(t, store.Put(ctx, objectstore.KindData, looseEK, bytes.NewReader(blteWrap(t, loosePlain))))
	require.NoError(t, store.Put(ctx, objectstore.KindFragment, fragEK, bytes.NewReader(blteWrap(t, fragPlain))))

	archPayload := blteWrap(t, archPlain)
	padding := []byte("--unrelated-bytes-before-entry--")
	archiveBlob := append(append([]byte{}, padding...), archPayload...)

	idxRaw := buildArchiveIndex(t, []archiveindex.Entry{
		{Key: archEK, Size: uint32(len(archPayload)), Offset: uint32(len(padding))},
	})
	require.NoError(t, store.PutIndex(ctx, archiveKey, bytes.NewReader(idxRaw)))
	require.NoError(t, store.Put(ctx, objectstore.KindData, archiveKey, bytes.NewReader(archiveBlob)))

	return fixture{
		manager:    buildmgr.Open(store, buildConfigKey, cdnConfigKey, nil),
		looseCK:    looseCK,
		fragCK:     fragCK,
		archCK:     archCK,
		loosePlain: loosePlain,
		fragPlain:  fragPlain,
		archP:      archPlain,
	}
}

func TestBuildAndCDNConfigLazyLoad(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	cfg, err := f.manager.BuildConfig(ctx)
	require.NoError(t, err)
	assert.True(t, cfg.Has("encoding"))

	cdnCfg, err := f.manager.CDNConfig(ctx)
	require.NoError(t, err)
	archives, ok := cdnCfg.Values("archives")
	require.True(t, ok)
	assert.Len(t, archives, 1)
}

func TestArchiveGroupAssembledFromCDNArchives(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	group, err := f.manager.ArchiveGroup(ctx)
	require.NoError(t, err)

	archive, size, offset, ok := group.Lookup(must(t, strings.Repeat("a", 32)))
	require.True(t, ok)
	assert.Equal(t, must(t, strings.Repeat("4", 32)), archive)
	assert.Positive(t, size)
	assert.Positive(t, offset)
}

func TestGetFileResolvesLooseTier(t *testing.T) {
	f := newFixture(t)
	got, err := f.manager.GetFile(context.Background(), f.looseCK)
	require.NoError(t, err)
	assert.Equal(t, f.loosePlain, got)
}

func TestGetFileResolvesFragmentTier(t *testing.T) {
	f := newFixture(t)
	got, err := f.manager.GetFile(context.Background(), f.fragCK)
	require.NoError(t, err)
	assert.Equal(t, f.fragPlain, got)
}

func TestGetFileResolvesArchiveTier(t *testing.T) {
	f := newFixture(t)
	got, err := f.manager.GetFile(context.Background(), f.archCK)
	require.NoError(t, err)
	assert.Equal(t, f.archP, got)
}

func TestGetFileRawSkipsBLTEDecode(t *testing.T) {
	f := newFixture(t)
	got, err := f.manager.GetFile(context.Background(), f.looseCK, buildmgr.Raw())
	require.NoError(t, err)
	assert.Equal(t, blteWrap(t, f.loosePlain), got)
	assert.NotEqual(t, f.loosePlain, got)
}

func TestGetFileVerifyOptionPassesThrough(t *testing.T) {
	f := newFixture(t)
	got, err := f.manager.GetFile(context.Background(), f.looseCK, buildmgr.Verify())
	require.NoError(t, err)
	assert.Equal(t, f.loosePlain, got)
}

func TestGetFileUnknownContentKeyIsNotFound(t *testing.T) {
	f := newFixture(t)
	_, err := f.manager.GetFile(context.Background(), must(t, strings.Repeat("f", 32)))
	assert.Error(t, err)
}

func TestGetFileUnresolvableEncodedKeyIsNotFound(t *testing.T) {
	ctx := context.Background()
	store := localfs.New(afero.NewMemMapFs())

	buildConfigKey := must(t, strings.Repeat("1", 32))
	cdnConfigKey := must(t, strings.Repeat("2", 32))
	encodingEKey := must(t, strings.Repeat("3", 32))

	orphanCK := must(t, strings.Repeat("5", 32))
	orphanEK := must(t, strings.Repeat("6", 32))

	encRaw := buildEncodingFile(t, []encEntry{{ck: orphanCK, ek: orphanEK}})

	buildConfigContent := "encoding = " + strings.Repeat("0", 32) + " " + encodingEKey.String() + "\n"
	require.NoError(t, store.Put(ctx, objectstore.KindConfig, buildConfigKey, strings.NewReader(buildConfigContent)))
	require.NoError(t, store.Put(ctx, objectstore.KindConfig, cdnConfigKey, strings.NewReader("")))
	require.NoError(t, store.Put(ctx, objectstore.KindData, encodingEKey, bytes.NewReader(blteWrap(t, encRaw))))

	m := buildmgr.Open(store, buildConfigKey, cdnConfigKey, nil)
	_, err := m.GetFile(ctx, orphanCK)
	require.Error(t, err)
	assert.IsType(t, &kegerrors.NotFound{}, err)
}

func TestInstallAndDownloadLazyParse(t *testing.T) {
	ctx := context.Background()
	store := localfs.New(afero.NewMemMapFs())

	buildConfigKey := must(t, strings.Repeat("1", 32))
	cdnConfigKey := must(t, strings.Repeat("2", 32))
	installEKey := must(t, strings.Repeat("3", 32))
	downloadEKey := must(t, strings.Repeat("4", 32))

	installRaw := buildManifest(t, false)
	downloadRaw := buildManifest(t, true)

	buildConfigContent := "install = " + strings.Repeat("0", 32) + " " + installEKey.String() + "\n" +
		"download = " + strings.Repeat("0", 32) + " " + downloadEKey.String() + "\n"

	require.NoError(t, store.Put(ctx, objectstore.KindConfig, buildConfigKey, strings.NewReader(buildConfigContent)))
	require.NoError(t, store.Put(ctx, objectstore.KindConfig, cdnConfigKey, strings.NewReader("")))
	require.NoError(t, store.Put(ctx, objectstore.KindData, installEKey, bytes.NewReader(blteWrap(t, installRaw))))
	require.NoError(t, store.Put(ctx, objectstore.KindData, downloadEKey, bytes.NewReader(blteWrap(t, downloadRaw))))

	m := buildmgr.Open(store, buildConfigKey, cdnConfigKey, nil)

	install, err := m.Install(ctx)
	require.NoError(t, err)
	assert.Len(t, install.Entries(), 1)

	download, err := m.Download(ctx)
	require.NoError(t, err)
	assert.Len(t, download.Entries(), 1)
}

// buildManifest writes a minimal no-tag, one-entry install or download
// manifest, mirroring pkg/manifest's own test fixture.
func buildManifest(t *testing.T, withPriority bool) []byte {
	t.Helper()
	var buf bytes.Buffer
	buf.WriteString("IN")
	buf.WriteByte(1)
	buf.WriteByte(16)
	binary.Write(&buf, binary.BigEndian, uint16(0))
	binary.Write(&buf, binary.BigEndian, uint32(1))

	path := "a.txt"
	buf.WriteString(path)
	buf.WriteByte(0)
	k := key.Of([]byte(path))
	buf.Write(k[:])
	binary.Write(&buf, binary.BigEndian, uint32(len(path)))
	if withPriority {
		buf.WriteByte(0)
	}
	return buf.Bytes()
}
