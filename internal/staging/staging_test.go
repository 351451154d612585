package staging

import (
	"path/filepath"
	"testing"

	"github.com/dig-network/digstore/internal/dshash"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStageAndRetrieve(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "store"+Suffix)
	area, err := Open(path)
	require.NoError(t, err)

	rec := FileRecord{
		Path:      "a/b.txt",
		WholeHash: dshash.Sum([]byte("content")),
		TotalSize: 7,
		Chunks: []ChunkRecord{
			{Hash: dshash.Sum([]byte("content")), Offset: 0, Size: 7},
		},
	}
	require.NoError(t, area.Stage(rec))

	assert.True(t, area.IsStaged("a/b.txt"))
	got, ok := area.Get("a/b.txt")
	require.True(t, ok)
	assert.Equal(t, rec.WholeHash, got.WholeHash)
	assert.Equal(t, uint64(7), area.TotalStagedSize())
}

func TestPersistenceAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "store"+Suffix)
	area, err := Open(path)
	require.NoError(t, err)

	rec := FileRecord{Path: "x.txt", WholeHash: dshash.Sum([]byte("x")), TotalSize: 1}
	require.NoError(t, area.Stage(rec))

	reopened, err := Open(path)
	require.NoError(t, err)
	assert.True(t, reopened.IsStaged("x.txt"))
}

func TestUnstageAndClear(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "store"+Suffix)
	area, err := Open(path)
	require.NoError(t, err)

	require.NoError(t, area.Stage(FileRecord{Path: "a", WholeHash: dshash.Sum([]byte("a")), TotalSize: 1}))
	require.NoError(t, area.Stage(FileRecord{Path: "b", WholeHash: dshash.Sum([]byte("b")), TotalSize: 1}))

	require.NoError(t, area.Unstage("a"))
	assert.False(t, area.IsStaged("a"))
	assert.True(t, area.IsStaged("b"))

	require.NoError(t, area.Clear())
	assert.Empty(t, area.GetAllStagedFiles())
}

func TestSmartStagingUnchangedLeavesSizeStable(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "store"+Suffix)
	area, err := Open(path)
	require.NoError(t, err)

	rec := FileRecord{Path: "f", WholeHash: dshash.Sum([]byte("same")), TotalSize: 4}
	require.NoError(t, area.Stage(rec))
	sizeBefore := area.TotalStagedSize()

	require.NoError(t, area.Stage(rec)) // re-stage identical record
	assert.Equal(t, sizeBefore, area.TotalStagedSize())
}
