package layer

import (
	"testing"

	"github.com/dig-network/digstore/internal/dshash"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLayerRoundTrip(t *testing.T) {
	l := New(TypeFull, 1, dshash.Zero)

	chunkData := []byte("hello world")
	chunkHash := dshash.Sum(chunkData)
	entry := l.AddChunk(chunkHash, chunkData)

	fileHash := dshash.Sum(chunkData)
	l.AddFile(FileEntry{
		Path: "hello.txt",
		Hash: fileHash,
		Size: uint64(len(chunkData)),
		Chunks: []ChunkRef{
			{Hash: entry.Hash, Offset: 0, Size: entry.Size},
		},
		Metadata: FileMetadata{Mode: 0644, IsNew: true},
	})

	encoded, err := l.Encode()
	require.NoError(t, err)
	assert.Equal(t, HeaderSize, len(encoded[:HeaderSize]))

	decoded, err := Decode(encoded)
	require.NoError(t, err)

	assert.Equal(t, l.Header.LayerNumber, decoded.Header.LayerNumber)
	assert.Equal(t, l.Header.Type, decoded.Header.Type)
	assert.Equal(t, len(l.Files), len(decoded.Files))
	assert.Equal(t, l.Files[0].Path, decoded.Files[0].Path)
	assert.Equal(t, l.Files[0].Hash, decoded.Files[0].Hash)

	data, ok := decoded.ChunkData(chunkHash)
	require.True(t, ok)
	assert.Equal(t, chunkData, data)
}

func TestHeaderInvariantParentZeroIffLayerZero(t *testing.T) {
	h0 := New(TypeHeader, 0, dshash.Zero).Header
	assert.True(t, h0.IsValid())

	bad := Header{Version: Version, LayerNumber: 0, ParentRoot: dshash.Sum([]byte("x"))}
	assert.False(t, bad.IsValid())
}

func TestDecodeRejectsBadMagic(t *testing.T) {
	buf := make([]byte, HeaderSize)
	copy(buf, []byte("XXXX"))
	_, err := Decode(buf)
	assert.Error(t, err)
}

func TestDecodeRejectsTruncatedSections(t *testing.T) {
	l := New(TypeFull, 1, dshash.Zero)
	encoded, err := l.Encode()
	require.NoError(t, err)

	truncated := encoded[:len(encoded)-1]
	_, err = Decode(truncated)
	assert.Error(t, err)
}
