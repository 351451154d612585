package chunkindex

import (
	"context"
	"io"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dig-network/digstore/internal/archive"
	"github.com/dig-network/digstore/internal/dshash"
	"github.com/dig-network/digstore/internal/layer"
)

func testLogger() zerolog.Logger {
	return zerolog.New(io.Discard)
}

func TestRecordAndLookup(t *testing.T) {
	idx, err := Open(filepath.Join(t.TempDir(), "index.db"))
	require.NoError(t, err)
	defer idx.Close()

	ctx := context.Background()
	chunkHash := dshash.ChunkHash(dshash.Sum([]byte("chunk data")))
	layerHash := dshash.Sum([]byte("layer data"))

	has, err := idx.Has(ctx, chunkHash)
	require.NoError(t, err)
	assert.False(t, has)

	require.NoError(t, idx.Record(ctx, chunkHash, layerHash, 128, 64))

	has, err = idx.Has(ctx, chunkHash)
	require.NoError(t, err)
	assert.True(t, has)

	locs, err := idx.Lookup(ctx, chunkHash)
	require.NoError(t, err)
	require.Len(t, locs, 1)
	assert.Equal(t, layerHash, locs[0].LayerHash)
	assert.Equal(t, uint64(128), locs[0].Offset)
	assert.Equal(t, uint32(64), locs[0].Size)
}

func TestRecordUpsertsOnReInsert(t *testing.T) {
	idx, err := Open(filepath.Join(t.TempDir(), "index.db"))
	require.NoError(t, err)
	defer idx.Close()

	ctx := context.Background()
	chunkHash := dshash.ChunkHash(dshash.Sum([]byte("chunk")))
	layerHash := dshash.Sum([]byte("layer"))

	require.NoError(t, idx.Record(ctx, chunkHash, layerHash, 0, 10))
	require.NoError(t, idx.Record(ctx, chunkHash, layerHash, 0, 20))

	locs, err := idx.Lookup(ctx, chunkHash)
	require.NoError(t, err)
	require.Len(t, locs, 1)
	assert.Equal(t, uint32(20), locs[0].Size)
}

func TestRebuildFromArchive(t *testing.T) {
	dir := t.TempDir()
	a, err := archive.Create(filepath.Join(dir, "test.dig"), testLogger())
	require.NoError(t, err)
	defer a.Close()

	l := layer.New(layer.TypeFull, 1, dshash.Zero)
	chunkHash := dshash.ChunkHash(dshash.Sum([]byte("chunk bytes")))
	l.AddChunk(chunkHash, []byte("chunk bytes"))
	l.AddFile(layer.FileEntry{
		Path: "a.txt",
		Hash: dshash.Sum([]byte("chunk bytes")),
		Size: uint64(len("chunk bytes")),
		Chunks: []layer.ChunkRef{
			{Hash: chunkHash, Offset: 0, Size: uint32(len("chunk bytes"))},
		},
	})
	_, err = l.ComputeMerkleRoot()
	require.NoError(t, err)
	encoded, err := l.Encode()
	require.NoError(t, err)
	layerHash := dshash.Sum(encoded)
	require.NoError(t, a.AddLayer(layerHash, encoded))

	idx, err := Open(filepath.Join(dir, "index.db"))
	require.NoError(t, err)
	defer idx.Close()

	require.NoError(t, idx.Rebuild(context.Background(), a))

	has, err := idx.Has(context.Background(), chunkHash)
	require.NoError(t, err)
	assert.True(t, has)
}
