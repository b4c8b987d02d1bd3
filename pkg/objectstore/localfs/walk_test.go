package localfs_test

import (
	"bytes"
	"context"
	"testing"

	"github.com/fluxxu/keg/pkg/key"
	"github.com/fluxxu/keg/pkg/objectstore"
	"github.com/fluxxu/keg/pkg/objectstore/localfs"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWalkVisitsEveryObjectOfAKind(t *testing.T) {
	ctx := context.Background()
	store := localfs.New(afero.NewMemMapFs())

	a := []byte("one")
	b := []byte("two")
	ka, kb := key.Of(a), key.Of(b)
	require.NoError(t, store.Put(ctx, objectstore.KindData, ka, bytes.NewReader(a)))
	require.NoError(t, store.Put(ctx, objectstore.KindData, kb, bytes.NewReader(b)))
	require.NoError(t, store.Put(ctx, objectstore.KindConfig, ka, bytes.NewReader(a)))

	var seen []key.Key
	require.NoError(t, store.Walk(objectstore.KindData, func(obj localfs.Object) error {
		seen = append(seen, obj.Key)
		return nil
	}))

	assert.ElementsMatch(t, []key.Key{ka, kb}, seen)
}

func TestWalkStripsIndexSuffix(t *testing.T) {
	ctx := context.Background()
	store := localfs.New(afero.NewMemMapFs())

	idx := []byte("index bytes")
	k := key.Of(idx)
	require.NoError(t, store.PutIndex(ctx, k, bytes.NewReader(idx)))

	var got []localfs.Object
	require.NoError(t, store.Walk(objectstore.KindIndex, func(obj localfs.Object) error {
		got = append(got, obj)
		return nil
	}))

	require.Len(t, got, 1)
	assert.Equal(t, k, got[0].Key)
	assert.Contains(t, got[0].Path, ".index")
}

func TestDeleteRemovesObject(t *testing.T) {
	ctx := context.Background()
	store := localfs.New(afero.NewMemMapFs())

	data := []byte("bytes")
	k := key.Of(data)
	require.NoError(t, store.Put(ctx, objectstore.KindData, k, bytes.NewReader(data)))

	var path string
	require.NoError(t, store.Walk(objectstore.KindData, func(obj localfs.Object) error {
		path = obj.Path
		return nil
	}))
	require.NoError(t, store.Delete(path))

	has, err := store.HasData(ctx, k)
	require.NoError(t, err)
	assert.False(t, has)
}
