package keg_test

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/fluxxu/keg/pkg/keg"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitCreatesRepositoryLayout(t *testing.T) {
	root := t.TempDir()

	repo, err := keg.Init(root)
	require.NoError(t, err)
	defer repo.Close()

	assert.DirExists(t, filepath.Join(root, ".ngdp", "objects"))
	assert.FileExists(t, filepath.Join(root, ".ngdp", "keg.conf"))
	assert.True(t, repo.Config().VerifyIntegrity)
	assert.Empty(t, repo.Remotes())
}

func TestInitTwiceReturnsAlreadyInitializedWithoutMutating(t *testing.T) {
	root := t.TempDir()

	repo1, err := keg.Init(root)
	require.NoError(t, err)
	require.NoError(t, repo1.AddRemote("wow", "http://us.patch.battle.net:1119", false, true))
	require.NoError(t, repo1.Close())

	repo2, err := keg.Init(root)
	require.True(t, errors.Is(err, keg.ErrAlreadyInitialized))
	require.NotNil(t, repo2)
	defer repo2.Close()

	assert.Equal(t, []string{"wow"}, repo2.Remotes())
}

func TestOpenLoadsPersistedRemotes(t *testing.T) {
	root := t.TempDir()

	repo, err := keg.Init(root)
	require.NoError(t, err)
	require.NoError(t, repo.AddRemote("wow", "http://us.patch.battle.net:1119", true, false))
	require.NoError(t, repo.Close())

	reopened, err := keg.Open(root)
	require.NoError(t, err)
	defer reopened.Close()

	assert.Equal(t, []string{"wow"}, reopened.Remotes())

	client, err := reopened.RemoteClient("wow")
	require.NoError(t, err)
	assert.NotNil(t, client)

	_, err = reopened.RemoteClient("nope")
	assert.Error(t, err)
}

func TestRemoveRemoteDropsConfigAndStateButKeepsObjects(t *testing.T) {
	root := t.TempDir()

	repo, err := keg.Init(root)
	require.NoError(t, err)
	defer repo.Close()

	require.NoError(t, repo.AddRemote("wow", "http://us.patch.battle.net:1119", false, true))
	require.NoError(t, repo.RemoveRemote("wow"))

	assert.Empty(t, repo.Remotes())
	assert.DirExists(t, filepath.Join(root, ".ngdp", "objects"))
}

func TestKnownKeysEmptyWithoutArmadilloConfigured(t *testing.T) {
	root := t.TempDir()
	repo, err := keg.Init(root)
	require.NoError(t, err)
	defer repo.Close()

	table, err := repo.KnownKeys()
	require.NoError(t, err)
	assert.Equal(t, 0, table.Len())
}
