package sizeproof

import (
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dig-network/digstore/internal/archive"
	"github.com/dig-network/digstore/internal/dshash"
	"github.com/dig-network/digstore/internal/errs"
)

func openTestArchive(t *testing.T) (*archive.Archive, []dshash.Hash) {
	t.Helper()
	dir := t.TempDir()
	a, err := archive.Create(filepath.Join(dir, "test.dig"), zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })

	var hashes []dshash.Hash
	for i := 0; i < 3; i++ {
		data := []byte{byte(i), byte(i + 1), byte(i + 2)}
		h := dshash.Sum(data)
		require.NoError(t, a.AddLayer(h, data))
		hashes = append(hashes, h)
	}
	return a, hashes
}

func TestGenerateSizeProofSucceedsForKnownRoot(t *testing.T) {
	a, hashes := openTestArchive(t)
	storeId := dshash.Sum([]byte("store"))

	p, err := GenerateSizeProof(a, storeId, hashes[len(hashes)-1], 313, []byte("pubkey"), Options{})
	require.NoError(t, err)
	assert.Equal(t, uint32(3), p.VerifiedLayerCount)
	assert.Equal(t, uint64(313), p.CalculatedTotalSize)
	assert.True(t, VerifySizeProof(p))
}

func TestGenerateSizeProofFailsOnSizeMismatch(t *testing.T) {
	a, hashes := openTestArchive(t)
	storeId := dshash.Sum([]byte("store"))

	_, err := GenerateSizeProof(a, storeId, hashes[len(hashes)-1], 999, []byte("pubkey"), Options{})
	assert.ErrorAs(t, err, new(*errs.SizeMismatch))
}

func TestGenerateSizeProofFailsForUnknownRootWithoutPermissive(t *testing.T) {
	a, _ := openTestArchive(t)
	storeId := dshash.Sum([]byte("store"))
	unknown := dshash.Sum([]byte("not a layer"))

	_, err := GenerateSizeProof(a, storeId, unknown, 313, []byte("pubkey"), Options{})
	assert.Error(t, err)
}

func TestGenerateSizeProofSucceedsForUnknownRootWithPermissive(t *testing.T) {
	a, _ := openTestArchive(t)
	storeId := dshash.Sum([]byte("store"))
	unknown := dshash.Sum([]byte("not a layer"))

	p, err := GenerateSizeProof(a, storeId, unknown, 313, []byte("pubkey"), Options{Permissive: true})
	require.NoError(t, err)
	assert.True(t, VerifySizeProof(p))
}

func TestVerifySizeProofRejectsTamperedTotal(t *testing.T) {
	a, hashes := openTestArchive(t)
	storeId := dshash.Sum([]byte("store"))
	p, err := GenerateSizeProof(a, storeId, hashes[0], 313, []byte("pubkey"), Options{})
	require.NoError(t, err)

	p.CalculatedTotalSize += 1000
	assert.False(t, VerifySizeProof(p))
}

func TestVerifySizeProofAgainstArchiveDetectsDrift(t *testing.T) {
	a, hashes := openTestArchive(t)
	storeId := dshash.Sum([]byte("store"))
	p, err := GenerateSizeProof(a, storeId, hashes[0], 313, []byte("pubkey"), Options{})
	require.NoError(t, err)
	assert.True(t, VerifySizeProofAgainstArchive(p, a, Options{}))

	require.NoError(t, a.AddLayer(dshash.Sum([]byte("extra")), []byte("extra")))
	assert.False(t, VerifySizeProofAgainstArchive(p, a, Options{}))
}

func TestCompactRoundTrip(t *testing.T) {
	a, hashes := openTestArchive(t)
	storeId := dshash.Sum([]byte("store"))
	p, err := GenerateSizeProof(a, storeId, hashes[0], 313, []byte("a-publisher-key"), Options{})
	require.NoError(t, err)

	encoded, err := EncodeCompact(p)
	require.NoError(t, err)
	assert.True(t, encoded[:3] == "64:" || encoded[:3] == "85:")

	summary, err := DecodeCompact(encoded)
	require.NoError(t, err)
	assert.Equal(t, p.CalculatedTotalSize, summary.CalculatedTotalSize)
	assert.Equal(t, p.LayerSizeTreeRoot, summary.LayerSizeTreeRoot)
	assert.Equal(t, []byte("a-publisher-key"), summary.PublisherPublicKey)
	assert.Equal(t, uint8(p.VerifiedLayerCount&0xF), summary.LayerCountNibble)
}

func TestCompactRejectsUnknownPrefix(t *testing.T) {
	_, err := DecodeCompact("xx:garbage")
	assert.Error(t, err)
}
