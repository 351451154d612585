package linkfile

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/dig-network/digstore/internal/dshash"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreationAndValidity(t *testing.T) {
	storeId := dshash.Sum([]byte("store"))
	l := New(storeId, "my-repo")

	assert.Equal(t, FormatVersion, l.Version)
	assert.Equal(t, storeId.Hex(), l.StoreId)
	assert.False(t, l.Encrypted)
	assert.True(t, l.IsValid())
}

func TestRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, FileName)

	storeId := dshash.Sum([]byte("store"))
	original := New(storeId, "test-repo")
	require.NoError(t, original.Save(path))

	loaded, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, original.Version, loaded.Version)
	assert.Equal(t, original.StoreId, loaded.StoreId)
	assert.Equal(t, original.Encrypted, loaded.Encrypted)
	assert.Equal(t, original.RepositoryName, loaded.RepositoryName)
}

func TestGetStoreId(t *testing.T) {
	storeId := dshash.Sum([]byte("store"))
	l := New(storeId, "")

	got, err := l.StoreHash()
	require.NoError(t, err)
	assert.Equal(t, storeId, got)
}

func TestInvalidFileRejected(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, FileName)
	require.NoError(t, os.WriteFile(path, []byte("not a valid link file"), 0644))

	_, err := Load(path)
	assert.Error(t, err)
}
