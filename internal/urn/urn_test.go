package urn

import (
	"testing"

	"github.com/dig-network/digstore/internal/dshash"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleStoreId = "a3f5c8d9e2b1f4a6c9d8e7f2a5b8c1d4e7f0a3b6c9d2e5f8b1c4d7e0a3b6c9d2"

func TestParseSimple(t *testing.T) {
	u, err := Parse(prefix + sampleStoreId)
	require.NoError(t, err)
	assert.Equal(t, sampleStoreId, u.StoreId.Hex())
	assert.Nil(t, u.RootHash)
	assert.False(t, u.HasPath)
	assert.Nil(t, u.ByteRange)
}

func TestParseWithPath(t *testing.T) {
	u, err := Parse(prefix + sampleStoreId + "/src/main.go")
	require.NoError(t, err)
	assert.Equal(t, "src/main.go", u.ResourcePath)
	assert.True(t, u.HasPath)
}

func TestParseWithByteRange(t *testing.T) {
	u, err := Parse(prefix + sampleStoreId + "/file.txt#bytes=0-1023")
	require.NoError(t, err)
	require.NotNil(t, u.ByteRange)
	assert.Equal(t, uint64(0), *u.ByteRange.Start)
	assert.Equal(t, uint64(1023), *u.ByteRange.End)
}

func TestParseOpenEndedRanges(t *testing.T) {
	u, err := Parse(prefix + sampleStoreId + "/f#bytes=1024-")
	require.NoError(t, err)
	assert.Equal(t, uint64(1024), *u.ByteRange.Start)
	assert.Nil(t, u.ByteRange.End)

	u2, err := Parse(prefix + sampleStoreId + "/f#bytes=-1024")
	require.NoError(t, err)
	assert.Nil(t, u2.ByteRange.Start)
	assert.Equal(t, uint64(1024), *u2.ByteRange.End)
}

func TestParseInvalid(t *testing.T) {
	_, err := Parse("invalid:urn:format")
	assert.Error(t, err)
}

func TestParseRejectsStartGreaterThanEnd(t *testing.T) {
	_, err := Parse(prefix + sampleStoreId + "/f#bytes=10-5")
	assert.Error(t, err)
}

func TestRoundTrip(t *testing.T) {
	storeId := dshash.Sum([]byte("store"))
	root := dshash.Sum([]byte("root"))
	u := Urn{StoreId: storeId, RootHash: &root, ResourcePath: "a/b.txt", HasPath: true}
	r := NewRange(5, 10)
	u = u.WithByteRange(r)

	parsed, err := Parse(u.String())
	require.NoError(t, err)
	assert.Equal(t, u.StoreId, parsed.StoreId)
	assert.Equal(t, *u.RootHash, *parsed.RootHash)
	assert.Equal(t, u.ResourcePath, parsed.ResourcePath)
	assert.Equal(t, *u.ByteRange.Start, *parsed.ByteRange.Start)
	assert.Equal(t, *u.ByteRange.End, *parsed.ByteRange.End)
}
