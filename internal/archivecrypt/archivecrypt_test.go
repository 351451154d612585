package archivecrypt

import (
	"io"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dig-network/digstore/internal/archive"
	"github.com/dig-network/digstore/internal/dshash"
)

func testLogger() zerolog.Logger {
	return zerolog.New(io.Discard)
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	key := make([]byte, KeySize)
	for i := range key {
		key[i] = byte(i)
	}
	c, err := New(key)
	require.NoError(t, err)

	plaintext := []byte("super secret layer bytes")
	salt := []byte("some-salt")
	sealed, err := c.Encrypt(plaintext, salt)
	require.NoError(t, err)
	assert.NotEqual(t, plaintext, sealed)

	opened, err := c.Decrypt(sealed, salt)
	require.NoError(t, err)
	assert.Equal(t, plaintext, opened)
}

func TestDecryptRejectsWrongSalt(t *testing.T) {
	key := make([]byte, KeySize)
	c, err := New(key)
	require.NoError(t, err)

	sealed, err := c.Encrypt([]byte("data"), []byte("salt-a"))
	require.NoError(t, err)

	_, err = c.Decrypt(sealed, []byte("salt-b"))
	assert.Error(t, err)
}

func TestNewRejectsWrongKeySize(t *testing.T) {
	_, err := New([]byte("too short"))
	assert.Error(t, err)
}

func TestWrappedArchiveRoundTripsThroughDisk(t *testing.T) {
	dir := t.TempDir()
	a, err := archive.Create(filepath.Join(dir, "test.dig"), testLogger())
	require.NoError(t, err)
	defer a.Close()

	key := make([]byte, KeySize)
	c, err := New(key)
	require.NoError(t, err)
	wrapped := Wrap(a, c)

	plaintext := []byte("layer contents")
	h := dshash.Sum(plaintext)
	require.NoError(t, wrapped.AddLayer(h, plaintext))
	assert.True(t, wrapped.HasLayer(h))

	rawSealed, err := a.GetLayerData(h)
	require.NoError(t, err)
	assert.NotEqual(t, plaintext, rawSealed)

	got, err := wrapped.GetLayerData(h)
	require.NoError(t, err)
	assert.Equal(t, plaintext, got)
}
