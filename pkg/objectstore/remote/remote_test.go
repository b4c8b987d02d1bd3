package remote_test

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/fluxxu/keg/pkg/key"
	"github.com/fluxxu/keg/pkg/objectstore"
	"github.com/fluxxu/keg/pkg/objectstore/remote"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetArchiveStreamsBody(t *testing.T) {
	data := []byte("archive bytes")
	k := key.Of(data)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		want := "/tpr/" + objectstore.Path(objectstore.KindData, k)
		if r.URL.Path != want {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Write(data)
	}))
	defer srv.Close()

	store := remote.New(srv.Client(), srv.URL, "tpr")
	rc, err := store.GetArchive(context.Background(), k)
	require.NoError(t, err)
	defer rc.Close()

	got, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, data, got)
}

func TestGetArchiveNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	store := remote.New(srv.Client(), srv.URL, "tpr")
	_, err := store.GetArchive(context.Background(), key.Of([]byte("missing")))
	assert.Error(t, err)
}

func TestHasConfigUsesHead(t *testing.T) {
	var sawMethod string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sawMethod = r.Method
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	store := remote.New(srv.Client(), srv.URL, "tpr")
	has, err := store.HasConfig(context.Background(), key.Of([]byte("cfg")))
	require.NoError(t, err)
	assert.True(t, has)
	assert.Equal(t, http.MethodHead, sawMethod)
}
