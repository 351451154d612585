// Package chunkindex is an embedded, non-shared SQLite side-table mapping
// chunk hash to (layer hash, offset, size), giving O(1) chunk-existence
// lookups without a full scan of every historical layer (SPEC_FULL.md §3).
// It is a standalone component: the Store does not consult it. The
// archive file remains the single source of truth; this index is a
// performance side-car that can always be rebuilt from it, and it assumes
// a single process, single writer, same lifetime as the archive it
// accompanies.
package chunkindex

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"

	"github.com/dig-network/digstore/internal/archive"
	"github.com/dig-network/digstore/internal/dshash"
	"github.com/dig-network/digstore/internal/layer"
)

// Index is a SQLite-backed chunk existence and location index.
type Index struct {
	db *sql.DB
}

const schema = `
CREATE TABLE IF NOT EXISTS chunk_locations (
	chunk_hash TEXT NOT NULL,
	layer_hash TEXT NOT NULL,
	offset INTEGER NOT NULL,
	size INTEGER NOT NULL,
	PRIMARY KEY (chunk_hash, layer_hash)
);
CREATE INDEX IF NOT EXISTS idx_chunk_locations_chunk_hash ON chunk_locations(chunk_hash);
`

// Open opens (creating if necessary) a SQLite database at path.
func Open(path string) (*Index, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("chunkindex: create directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("chunkindex: open: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("chunkindex: set journal_mode: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("chunkindex: create schema: %w", err)
	}
	return &Index{db: db}, nil
}

// Close closes the underlying database connection.
func (idx *Index) Close() error {
	return idx.db.Close()
}

// Record upserts chunkHash's location within layerHash.
func (idx *Index) Record(ctx context.Context, chunkHash dshash.ChunkHash, layerHash dshash.Hash, offset uint64, size uint32) error {
	_, err := idx.db.ExecContext(ctx, `
		INSERT INTO chunk_locations (chunk_hash, layer_hash, offset, size)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(chunk_hash, layer_hash) DO UPDATE SET
			offset = excluded.offset,
			size = excluded.size
	`, chunkHash.Hex(), layerHash.Hex(), offset, size)
	if err != nil {
		return fmt.Errorf("chunkindex: record %s: %w", chunkHash.Hex(), err)
	}
	return nil
}

// Location is one (layer, offset, size) recording of a chunk.
type Location struct {
	LayerHash dshash.Hash
	Offset    uint64
	Size      uint32
}

// Has reports whether chunkHash is recorded in any layer.
func (idx *Index) Has(ctx context.Context, chunkHash dshash.ChunkHash) (bool, error) {
	var count int
	err := idx.db.QueryRowContext(ctx,
		"SELECT count(*) FROM chunk_locations WHERE chunk_hash = ?", chunkHash.Hex()).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("chunkindex: has %s: %w", chunkHash.Hex(), err)
	}
	return count > 0, nil
}

// Lookup returns every recorded location of chunkHash.
func (idx *Index) Lookup(ctx context.Context, chunkHash dshash.ChunkHash) ([]Location, error) {
	rows, err := idx.db.QueryContext(ctx,
		"SELECT layer_hash, offset, size FROM chunk_locations WHERE chunk_hash = ?", chunkHash.Hex())
	if err != nil {
		return nil, fmt.Errorf("chunkindex: lookup %s: %w", chunkHash.Hex(), err)
	}
	defer rows.Close()

	var out []Location
	for rows.Next() {
		var layerHashHex string
		var loc Location
		if err := rows.Scan(&layerHashHex, &loc.Offset, &loc.Size); err != nil {
			return nil, fmt.Errorf("chunkindex: scan location: %w", err)
		}
		layerHash, err := dshash.FromHex(layerHashHex)
		if err != nil {
			return nil, fmt.Errorf("chunkindex: bad layer hash %q: %w", layerHashHex, err)
		}
		loc.LayerHash = layerHash
		out = append(out, loc)
	}
	return out, rows.Err()
}

// Rebuild drops and repopulates the index from a's current layers,
// recovering from a deleted or stale side-table.
func (idx *Index) Rebuild(ctx context.Context, a *archive.Archive) error {
	if _, err := idx.db.ExecContext(ctx, "DELETE FROM chunk_locations"); err != nil {
		return fmt.Errorf("chunkindex: rebuild: clear: %w", err)
	}

	for _, layerHash := range a.ListLayers() {
		l, err := a.GetLayer(layerHash)
		if err != nil {
			return fmt.Errorf("chunkindex: rebuild: load layer %s: %w", layerHash.Hex(), err)
		}
		if err := idx.recordLayer(ctx, layerHash, l); err != nil {
			return err
		}
	}
	return nil
}

func (idx *Index) recordLayer(ctx context.Context, layerHash dshash.Hash, l *layer.Layer) error {
	tx, err := idx.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("chunkindex: begin tx: %w", err)
	}
	defer tx.Rollback()

	for _, ce := range l.Chunks {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO chunk_locations (chunk_hash, layer_hash, offset, size)
			VALUES (?, ?, ?, ?)
			ON CONFLICT(chunk_hash, layer_hash) DO UPDATE SET
				offset = excluded.offset,
				size = excluded.size
		`, ce.Hash.Hex(), layerHash.Hex(), ce.Offset, ce.Size)
		if err != nil {
			return fmt.Errorf("chunkindex: record chunk %s: %w", ce.Hash.Hex(), err)
		}
	}
	return tx.Commit()
}
