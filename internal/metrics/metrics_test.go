package metrics

import (
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordStorageOperationUpdatesCounters(t *testing.T) {
	m := New()
	m.RecordStorageOperation("commit", "ok", 0.05, 1024)

	req := httptest.NewRequest("GET", "/metrics", nil)
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, req)

	require.Equal(t, 200, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, "digstore_storage_operations_total")
	assert.Contains(t, body, "digstore_storage_bytes_total")
}

func TestRecordChunkAndCacheAccess(t *testing.T) {
	m := New()
	m.RecordChunk(4096, false)
	m.RecordChunk(4096, true)
	m.RecordCacheAccess("chunk", true)
	m.RecordCacheAccess("chunk", false)
	m.RecordProofGeneration("file", 0.001)
	m.RecordCompaction(1.5, 2048)

	req := httptest.NewRequest("GET", "/metrics", nil)
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, req)

	body := rec.Body.String()
	assert.Contains(t, body, "digstore_chunk_created_total 2")
	assert.Contains(t, body, "digstore_chunk_dedup_hits_total 1")
	assert.Contains(t, body, `digstore_cache_hits_total{cache="chunk"} 1`)
	assert.Contains(t, body, `digstore_merkle_proofs_generated_total{target_type="file"} 1`)
	assert.Contains(t, body, "digstore_gc_compaction_runs_total 1")
}

func TestNewReturnsIndependentRegistries(t *testing.T) {
	a := New()
	b := New()
	a.RecordChunk(10, false)
	b.RecordChunk(20, false)

	req := httptest.NewRequest("GET", "/metrics", nil)
	rec := httptest.NewRecorder()
	a.Handler().ServeHTTP(rec, req)
	assert.Contains(t, rec.Body.String(), "digstore_chunk_created_total 1")
}
