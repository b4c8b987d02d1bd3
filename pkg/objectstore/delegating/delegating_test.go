package delegating_test

import (
	"bytes"
	"context"
	"io"
	"testing"

	"github.com/fluxxu/keg/pkg/archiveindex"
	"github.com/fluxxu/keg/pkg/key"
	"github.com/fluxxu/keg/pkg/objectstore"
	"github.com/fluxxu/keg/pkg/objectstore/delegating"
	"github.com/fluxxu/keg/pkg/objectstore/localfs"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeRemote is an in-memory objectstore.Store standing in for a CDN
// mirror, for exercising the delegating store without real HTTP.
type fakeRemote struct {
	objects map[key.Key][]byte
}

func newFakeRemote() *fakeRemote { return &fakeRemote{objects: map[key.Key][]byte{}} }

func (f *fakeRemote) has(k key.Key) (bool, error) { _, ok := f.objects[k]; return ok, nil }
func (f *fakeRemote) get(k key.Key) (io.ReadCloser, error) {
	b, ok := f.objects[k]
	if !ok {
		return nil, assertNotFound{}
	}
	return io.NopCloser(bytes.NewReader(b)), nil
}

type assertNotFound struct{}

func (assertNotFound) Error() string { return "not found" }

func (f *fakeRemote) HasConfig(_ context.Context, k key.Key) (bool, error)   { return f.has(k) }
func (f *fakeRemote) HasIndex(_ context.Context, k key.Key) (bool, error)   { return f.has(k) }
func (f *fakeRemote) HasData(_ context.Context, k key.Key) (bool, error)    { return f.has(k) }
func (f *fakeRemote) HasFragment(_ context.Context, k key.Key) (bool, error) { return f.has(k) }

func (f *fakeRemote) GetConfig(_ context.Context, k key.Key) (io.ReadCloser, error)   { return f.get(k) }
func (f *fakeRemote) GetIndex(_ context.Context, k key.Key) (io.ReadCloser, error)    { return f.get(k) }
func (f *fakeRemote) GetArchive(_ context.Context, k key.Key) (io.ReadCloser, error)  { return f.get(k) }
func (f *fakeRemote) GetFragment(_ context.Context, k key.Key) (io.ReadCloser, error) { return f.get(k) }

func (f *fakeRemote) DownloadConfig(ctx context.Context, k key.Key, _ objectstore.DownloadOptions) (io.ReadCloser, error) {
	return f.GetConfig(ctx, k)
}
func (f *fakeRemote) DownloadData(ctx context.Context, k key.Key, _ objectstore.DownloadOptions) (io.ReadCloser, error) {
	return f.GetArchive(ctx, k)
}
func (f *fakeRemote) DownloadFragment(ctx context.Context, k key.Key, _ objectstore.DownloadOptions) (io.ReadCloser, error) {
	return f.GetFragment(ctx, k)
}

func TestDelegatingServesLocalWithoutTouchingRemote(t *testing.T) {
	ctx := context.Background()
	local := localfs.New(afero.NewMemMapFs())
	remote := newFakeRemote()

	data := []byte("cached locally")
	k := key.Of(data)
	require.NoError(t, local.Put(ctx, objectstore.KindData, k, bytes.NewReader(data)))

	store := delegating.New(local, local, remote)
	rc, err := store.GetArchive(ctx, k)
	require.NoError(t, err)
	got, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, data, got)
}

func TestDelegatingFallsBackToRemoteAndCommitsLocally(t *testing.T) {
	ctx := context.Background()
	local := localfs.New(afero.NewMemMapFs())
	remote := newFakeRemote()

	data := []byte("fetched remotely")
	k := key.Of(data)
	remote.objects[k] = data

	store := delegating.New(local, local, remote)

	rc, err := store.GetArchive(ctx, k)
	require.NoError(t, err)
	got, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, data, got)

	has, err := local.HasData(ctx, k)
	require.NoError(t, err)
	assert.True(t, has, "remote hit should be committed to the local store")
}

func TestDelegatingRejectsMismatchedRemoteBytes(t *testing.T) {
	ctx := context.Background()
	local := localfs.New(afero.NewMemMapFs())
	remote := newFakeRemote()

	wrongKey := key.Of([]byte("something else"))
	remote.objects[wrongKey] = []byte("this is not that key's data")

	store := delegating.New(local, local, remote)
	_, err := store.GetArchive(ctx, wrongKey)
	assert.Error(t, err)

	has, err := local.HasData(ctx, wrongKey)
	require.NoError(t, err)
	assert.False(t, has, "a mismatched object must never be committed to local")
}

// buildIndex writes a minimal, valid archive index and returns its
// identity key alongside its encoded bytes, for exercising GetIndex
// through the delegating store without a real archive.
func buildIndex(t *testing.T) (key.Key, []byte) {
	t.Helper()
	entries := []archiveindex.Entry{
		{Key: key.Of([]byte("a")), Size: 16, Offset: 0},
		{Key: key.Of([]byte("b")), Size: 32, Offset: 16},
	}
	for i := 0; i < len(entries); i++ {
		for j := i + 1; j < len(entries); j++ {
			if string(entries[j].Key[:]) < string(entries[i].Key[:]) {
				entries[i], entries[j] = entries[j], entries[i]
			}
		}
	}
	var buf bytes.Buffer
	id, err := archiveindex.Write(&buf, entries)
	require.NoError(t, err)
	return id, buf.Bytes()
}

func TestDelegatingFallsBackToRemoteIndexAndCommitsLocally(t *testing.T) {
	ctx := context.Background()
	local := localfs.New(afero.NewMemMapFs())
	remote := newFakeRemote()

	id, raw := buildIndex(t)
	remote.objects[id] = raw

	store := delegating.New(local, local, remote)

	rc, err := store.GetIndex(ctx, id)
	require.NoError(t, err)
	got, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, raw, got)

	has, err := local.HasIndex(ctx, id)
	require.NoError(t, err)
	assert.True(t, has, "remote index hit should be committed to the local store")
}

func TestDelegatingRejectsIndexWithMismatchedFooterIdentity(t *testing.T) {
	ctx := context.Background()
	local := localfs.New(afero.NewMemMapFs())
	remote := newFakeRemote()

	_, raw := buildIndex(t)
	wrongKey := key.Of([]byte("not this index's real identity"))
	remote.objects[wrongKey] = raw

	store := delegating.New(local, local, remote)
	_, err := store.GetIndex(ctx, wrongKey)
	assert.Error(t, err)

	has, err := local.HasIndex(ctx, wrongKey)
	require.NoError(t, err)
	assert.False(t, has, "a mismatched index must never be committed to local")
}
