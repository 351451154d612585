package proof

import (
	"testing"

	"github.com/dig-network/digstore/internal/dshash"
	"github.com/dig-network/digstore/internal/layer"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func buildTestLayer(t *testing.T) *layer.Layer {
	t.Helper()
	l := layer.New(layer.TypeFull, 1, dshash.Zero)

	data1 := []byte("hello world this is chunk one")
	data2 := []byte("and this is the second chunk of bytes")
	h1 := dshash.Sum(data1)
	h2 := dshash.Sum(data2)
	c1 := l.AddChunk(h1, data1)
	c2 := l.AddChunk(h2, data2)

	fileHash := dshash.SumPair(h1, h2)
	l.AddFile(layer.FileEntry{
		Path: "a.txt",
		Hash: fileHash,
		Size: uint64(len(data1) + len(data2)),
		Chunks: []layer.ChunkRef{
			{Hash: c1.Hash, Offset: 0, Size: c1.Size},
			{Hash: c2.Hash, Offset: uint64(c1.Size), Size: c2.Size},
		},
	})
	l.AddFile(layer.FileEntry{Path: "b.txt", Hash: dshash.Sum([]byte("other file")), Size: 10})
	return l
}

func TestGenerateFileProofVerifies(t *testing.T) {
	l := buildTestLayer(t)
	storeId := dshash.Sum([]byte("store"))
	root := dshash.Sum([]byte("root"))

	p, err := GenerateFileProof(l, "a.txt", storeId, root)
	require.NoError(t, err)
	assert.Equal(t, TargetFile, p.ProofType)
	assert.True(t, p.VerifyLeaf(*p.Target.FileHash))
}

func TestGenerateFileProofRejectsTamperedLeaf(t *testing.T) {
	l := buildTestLayer(t)
	p, err := GenerateFileProof(l, "a.txt", dshash.Sum([]byte("store")), dshash.Sum([]byte("root")))
	require.NoError(t, err)
	assert.False(t, p.VerifyLeaf(dshash.Sum([]byte("not the file"))))
}

func TestGenerateFileProofMissingFile(t *testing.T) {
	l := buildTestLayer(t)
	_, err := GenerateFileProof(l, "missing.txt", dshash.Sum([]byte("store")), dshash.Sum([]byte("root")))
	assert.Error(t, err)
}

func TestProofJSONRoundTrip(t *testing.T) {
	l := buildTestLayer(t)
	p, err := GenerateFileProof(l, "a.txt", dshash.Sum([]byte("store")), dshash.Sum([]byte("root")))
	require.NoError(t, err)

	data, err := p.ToJSON()
	require.NoError(t, err)

	decoded, err := FromJSON(data)
	require.NoError(t, err)
	assert.Equal(t, p.Root, decoded.Root)
	assert.Equal(t, p.ProofType, decoded.ProofType)
	assert.Equal(t, len(p.Path), len(decoded.Path))
}

func TestResolveByteRangeClampsToFileLength(t *testing.T) {
	l := buildTestLayer(t)
	fe, ok := l.FileByPath("a.txt")
	require.True(t, ok)

	huge := fe.Size + 1000
	result := ResolveByteRange(fe, 0, &huge)
	assert.Equal(t, fe.Size, result.End)
	assert.Len(t, result.Chunks, 2)
}

func TestResolveByteRangeEmptyPastEOF(t *testing.T) {
	l := buildTestLayer(t)
	fe, ok := l.FileByPath("a.txt")
	require.True(t, ok)

	result := ResolveByteRange(fe, fe.Size+5, nil)
	assert.Empty(t, result.Chunks)
}

func TestResolveByteRangeSelectsOnlyCoveringChunks(t *testing.T) {
	l := buildTestLayer(t)
	fe, ok := l.FileByPath("a.txt")
	require.True(t, ok)

	end := uint64(5)
	result := ResolveByteRange(fe, 0, &end)
	assert.Len(t, result.Chunks, 1)
	assert.Equal(t, fe.Chunks[0].Hash, result.Chunks[0].Hash)
}

func TestGenerateByteRangeProofVerifies(t *testing.T) {
	l := buildTestLayer(t)
	end := uint64(4)
	p, result, err := GenerateByteRangeProof(l, "a.txt", 0, &end, dshash.Sum([]byte("store")), dshash.Sum([]byte("root")))
	require.NoError(t, err)
	assert.Equal(t, TargetByteRange, p.ProofType)
	assert.NotEmpty(t, result.Chunks)
	assert.True(t, p.VerifyLeaf(*p.Target.FileHash))
}

func TestGenerateLayerAndChunkProofsAreSelfVerifying(t *testing.T) {
	layerId := dshash.Sum([]byte("layer"))
	storeId := dshash.Sum([]byte("store"))
	lp := GenerateLayerProof(layerId, storeId, 3)
	assert.True(t, lp.VerifyLeaf(layerId))

	chunkHash := dshash.Sum([]byte("chunk"))
	cp := GenerateChunkProof(chunkHash, storeId)
	assert.True(t, cp.VerifyLeaf(chunkHash))
}
