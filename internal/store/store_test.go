package store

import (
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dig-network/digstore/internal/dshash"
	"github.com/dig-network/digstore/internal/urn"
)

func testLogger() zerolog.Logger {
	return zerolog.New(io.Discard)
}

func newTestStore(t *testing.T) (*Store, string) {
	t.Helper()
	projectDir := t.TempDir()
	globalDir := t.TempDir()

	s, err := Init(projectDir, globalDir, testLogger())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s, projectDir
}

func writeFile(t *testing.T, dir, rel, content string) {
	t.Helper()
	path := filepath.Join(dir, rel)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
}

func TestInitCreatesLinkAndGenesisLayer(t *testing.T) {
	s, projectDir := newTestStore(t)

	_, err := os.Stat(filepath.Join(projectDir, ".digstore"))
	require.NoError(t, err)
	assert.Equal(t, 1, s.archive.LayerCount())
}

func TestAddFileAndCommitRoundTrip(t *testing.T) {
	s, projectDir := newTestStore(t)
	writeFile(t, projectDir, "a.txt", "hello world")

	require.NoError(t, s.AddFile("a.txt"))
	assert.True(t, s.IsStaged("a.txt"))

	root, err := s.Commit("first commit")
	require.NoError(t, err)
	assert.NotEqual(t, dshash.Zero, root)
	assert.False(t, s.IsStaged("a.txt"))

	data, err := s.GetFile("a.txt")
	require.NoError(t, err)
	assert.Equal(t, "hello world", string(data))
}

func TestCommitWithNothingStagedFails(t *testing.T) {
	s, _ := newTestStore(t)
	_, err := s.Commit("empty")
	assert.Error(t, err)
}

func TestSecondCommitCarriesForwardUnmodifiedFiles(t *testing.T) {
	s, projectDir := newTestStore(t)
	writeFile(t, projectDir, "a.txt", "unchanged content")
	require.NoError(t, s.AddFile("a.txt"))
	_, err := s.Commit("first")
	require.NoError(t, err)

	writeFile(t, projectDir, "b.txt", "second file")
	require.NoError(t, s.AddFile("b.txt"))
	_, err = s.Commit("second")
	require.NoError(t, err)

	dataA, err := s.GetFile("a.txt")
	require.NoError(t, err)
	assert.Equal(t, "unchanged content", string(dataA))

	dataB, err := s.GetFile("b.txt")
	require.NoError(t, err)
	assert.Equal(t, "second file", string(dataB))
}

func TestAddDirectoryRecursive(t *testing.T) {
	s, projectDir := newTestStore(t)
	writeFile(t, projectDir, "dir/a.txt", "a")
	writeFile(t, projectDir, "dir/sub/b.txt", "b")

	require.NoError(t, s.AddDirectory("dir", true))
	assert.True(t, s.IsStaged("dir/a.txt"))
	assert.True(t, s.IsStaged("dir/sub/b.txt"))
}

func TestSmartStagingSkipsUnchangedFile(t *testing.T) {
	s, projectDir := newTestStore(t)
	writeFile(t, projectDir, "a.txt", "content")
	require.NoError(t, s.AddFile("a.txt"))
	before, _ := s.staging.Get("a.txt")

	require.NoError(t, s.AddFile("a.txt"))
	after, _ := s.staging.Get("a.txt")
	assert.Equal(t, before, after)
}

func TestOpenReopensExistingStore(t *testing.T) {
	s, projectDir := newTestStore(t)
	globalDir := s.globalDir
	writeFile(t, projectDir, "a.txt", "persisted content")
	require.NoError(t, s.AddFile("a.txt"))
	_, err := s.Commit("first")
	require.NoError(t, err)
	require.NoError(t, s.Close())

	reopened, err := Open(projectDir, globalDir, testLogger())
	require.NoError(t, err)
	defer reopened.Close()

	data, err := reopened.GetFile("a.txt")
	require.NoError(t, err)
	assert.Equal(t, "persisted content", string(data))
}

func TestHasCommitAndHasFileAtPath(t *testing.T) {
	s, projectDir := newTestStore(t)
	writeFile(t, projectDir, "a.txt", "v1")
	require.NoError(t, s.AddFile("a.txt"))
	root, err := s.Commit("first")
	require.NoError(t, err)

	assert.True(t, s.HasCommit(root))
	assert.False(t, s.HasCommit(dshash.Sum([]byte("nope"))))
	assert.True(t, s.HasFileAtPath("a.txt", &root))
	assert.False(t, s.HasFileAtPath("missing.txt", &root))
}

func TestExportScrambledRoundTripsWithUnscramble(t *testing.T) {
	s, projectDir := newTestStore(t)
	writeFile(t, projectDir, "secret.txt", "top secret payload")
	require.NoError(t, s.AddFile("secret.txt"))
	root, err := s.Commit("first")
	require.NoError(t, err)

	u := urn.Urn{StoreId: s.StoreID(), RootHash: &root, ResourcePath: "secret.txt", HasPath: true}
	scrambled, err := s.ExportScrambled(u)
	require.NoError(t, err)
	assert.NotEqual(t, []byte("top secret payload"), scrambled)

	plain, err := s.GetFileAt("secret.txt", &root)
	require.NoError(t, err)
	assert.Equal(t, "top secret payload", string(plain))
}

func TestLookupZeroKnowledgeNeverErrorsOnMissingPath(t *testing.T) {
	s, projectDir := newTestStore(t)
	writeFile(t, projectDir, "a.txt", "content")
	require.NoError(t, s.AddFile("a.txt"))
	root, err := s.Commit("first")
	require.NoError(t, err)

	u := urn.Urn{StoreId: s.StoreID(), RootHash: &root, ResourcePath: "does-not-exist.txt", HasPath: true}
	data := s.LookupZeroKnowledge(u)
	assert.NotEmpty(t, data)
}
