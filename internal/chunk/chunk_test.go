package chunk

import (
	"bytes"
	"context"
	"crypto/sha256"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func smallParams() Params {
	return Params{MinSize: 64, TargetSize: 256, MaxSize: 1024}
}

func randomBytes(n int, seed int64) []byte {
	r := rand.New(rand.NewSource(seed))
	b := make([]byte, n)
	_, _ = r.Read(b)
	return b
}

func TestChunkerDeterminism(t *testing.T) {
	c := New(smallParams())
	data := randomBytes(10000, 1)

	chunks1, err := c.ChunkAll(context.Background(), bytes.NewReader(data))
	require.NoError(t, err)
	chunks2, err := c.ChunkAll(context.Background(), bytes.NewReader(data))
	require.NoError(t, err)

	require.Equal(t, len(chunks1), len(chunks2))
	for i := range chunks1 {
		assert.Equal(t, chunks1[i].Hash, chunks2[i].Hash)
		assert.Equal(t, chunks1[i].Offset, chunks2[i].Offset)
		assert.Equal(t, chunks1[i].Size, chunks2[i].Size)
	}
}

func TestChunkConcatenationEqualsInput(t *testing.T) {
	c := New(smallParams())
	data := randomBytes(5000, 2)

	chunks, err := c.ChunkAll(context.Background(), bytes.NewReader(data))
	require.NoError(t, err)

	var reconstructed bytes.Buffer
	for _, ch := range chunks {
		reconstructed.Write(ch.Data)
	}
	assert.Equal(t, data, reconstructed.Bytes())
	assert.Equal(t, sha256.Sum256(data), sha256.Sum256(reconstructed.Bytes()))
}

func TestChunkSizesWithinBounds(t *testing.T) {
	params := smallParams()
	c := New(params)
	data := randomBytes(20000, 3)

	chunks, err := c.ChunkAll(context.Background(), bytes.NewReader(data))
	require.NoError(t, err)

	for i, ch := range chunks {
		if i == len(chunks)-1 {
			continue // final chunk may be short
		}
		assert.GreaterOrEqual(t, ch.Size, params.MinSize)
		assert.LessOrEqual(t, ch.Size, params.MaxSize)
	}
}

func TestDedupAfterInsertion(t *testing.T) {
	c := New(smallParams())
	base := randomBytes(20000, 4)

	mutated := make([]byte, 0, len(base)+10)
	mutated = append(mutated, base[:5000]...)
	mutated = append(mutated, []byte("INSERTEDBYTES")...)
	mutated = append(mutated, base[5000:]...)

	chunksBase, err := c.ChunkAll(context.Background(), bytes.NewReader(base))
	require.NoError(t, err)
	chunksMutated, err := c.ChunkAll(context.Background(), bytes.NewReader(mutated))
	require.NoError(t, err)

	baseHashes := make(map[string]bool, len(chunksBase))
	for _, ch := range chunksBase {
		baseHashes[ch.Hash.Hex()] = true
	}
	shared := 0
	for _, ch := range chunksMutated {
		if baseHashes[ch.Hash.Hex()] {
			shared++
		}
	}
	// Most chunks should survive a small localized insertion.
	assert.Greater(t, shared, len(chunksBase)/2)
}

func TestEmptyInput(t *testing.T) {
	c := New(smallParams())
	chunks, err := c.ChunkAll(context.Background(), bytes.NewReader(nil))
	require.NoError(t, err)
	assert.Empty(t, chunks)
}
