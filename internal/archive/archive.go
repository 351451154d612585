package archive

import (
	"fmt"
	"hash/crc32"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/edsrzf/mmap-go"
	"github.com/rs/zerolog"

	"github.com/dig-network/digstore/internal/dshash"
	"github.com/dig-network/digstore/internal/errs"
	"github.com/dig-network/digstore/internal/layer"
)

// Archive manages a single `.dig` file as a content-indexed container of
// layers. Exactly one writer per process may hold an Archive open for
// write (spec §5); the archive-wide mutex enforces that within a process.
type Archive struct {
	path   string
	header Header
	index  map[dshash.LayerId]IndexEntry
	order  []dshash.LayerId // index entries in insertion order, for index-order operations

	mu     sync.RWMutex
	shards shardedLock
	file   *os.File
	mm     mmap.MMap
	dirty  bool

	logger zerolog.Logger
}

// Create initializes a new archive file at path with just the header.
func Create(path string, logger zerolog.Logger) (*Archive, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return nil, fmt.Errorf("archive: create: %w", err)
	}
	h := Header{Version: Version, LayerCount: 0, IndexOffset: HeaderSize, IndexSize: 0, DataOffset: HeaderSize, DataSize: 0}
	if _, err := f.Write(h.Marshal()); err != nil {
		f.Close()
		return nil, fmt.Errorf("archive: write header: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return nil, err
	}
	f.Close()

	logger.Info().Str("path", path).Msg("archive created")
	return Open(path, logger)
}

// Open memory-maps path, parses the header, and walks the index into an
// in-memory map.
func Open(path string, logger zerolog.Logger) (*Archive, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0644)
	if err != nil {
		return nil, fmt.Errorf("archive: open: %w", err)
	}

	a := &Archive{
		path:   path,
		index:  make(map[dshash.LayerId]IndexEntry),
		file:   f,
		logger: logger,
	}
	if err := a.load(); err != nil {
		f.Close()
		return nil, err
	}
	return a, nil
}

func (a *Archive) load() error {
	info, err := a.file.Stat()
	if err != nil {
		return err
	}
	if info.Size() < HeaderSize {
		return &errs.InvalidFormat{Where: "archive", Reason: "file shorter than header size"}
	}

	if a.mm != nil {
		_ = a.mm.Unmap()
		a.mm = nil
	}
	if info.Size() > 0 {
		mm, err := mmap.Map(a.file, mmap.RDWR, 0)
		if err != nil {
			return fmt.Errorf("archive: mmap: %w", err)
		}
		a.mm = mm
	}

	header, err := UnmarshalHeader(a.mm)
	if err != nil {
		return err
	}
	a.header = header

	a.index = make(map[dshash.LayerId]IndexEntry)
	a.order = a.order[:0]
	if header.IndexSize > 0 {
		idxBytes := a.mm[header.IndexOffset : header.IndexOffset+header.IndexSize]
		count := len(idxBytes) / IndexEntrySize
		for i := 0; i < count; i++ {
			entry, err := UnmarshalIndexEntry(idxBytes[i*IndexEntrySize : (i+1)*IndexEntrySize])
			if err != nil {
				return err
			}
			a.index[entry.LayerHash] = entry
			a.order = append(a.order, entry.LayerHash)
		}
	}
	return nil
}

// Close unmaps and closes the underlying file, flushing first if dirty.
func (a *Archive) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	var flushErr error
	if a.dirty {
		flushErr = a.flushLocked()
	}
	if a.mm != nil {
		_ = a.mm.Unmap()
		a.mm = nil
	}
	closeErr := a.file.Close()
	if flushErr != nil {
		return flushErr
	}
	return closeErr
}

// Path returns the archive's file path.
func (a *Archive) Path() string {
	return a.path
}

// LayerCount returns the number of layers currently indexed.
func (a *Archive) LayerCount() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.index)
}

// HasLayer reports whether hash is present in the index.
func (a *Archive) HasLayer(hash dshash.LayerId) bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	_, ok := a.index[hash]
	return ok
}

// ListLayers returns all indexed layer hashes in insertion order.
func (a *Archive) ListLayers() []dshash.LayerId {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make([]dshash.LayerId, len(a.order))
	copy(out, a.order)
	return out
}

// HeaderSnapshot returns a copy of the archive's current on-disk header,
// used by the Archive Size Proof to derive archive_header_hash.
func (a *Archive) HeaderSnapshot() Header {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.header
}

// IndexEntriesSnapshot returns the archive's current index entries in
// insertion order, used by the Archive Size Proof to derive
// layer_index_hash and per-layer sizes.
func (a *Archive) IndexEntriesSnapshot() []IndexEntry {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make([]IndexEntry, 0, len(a.order))
	for _, hash := range a.order {
		out = append(out, a.index[hash])
	}
	return out
}

// AddLayer computes the CRC32 of data, appends it at the current
// end-of-file, inserts/updates the index entry, and then flushes: the
// archive is rewritten compactly (header, data, index) before AddLayer
// returns, so the new layer is both readable and durable on success.
func (a *Archive) AddLayer(hash dshash.LayerId, data []byte) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	info, err := a.file.Stat()
	if err != nil {
		return err
	}
	offset := info.Size()
	if offset == HeaderSize && a.header.DataSize == 0 {
		offset = HeaderSize
	}

	if _, err := a.file.WriteAt(data, offset); err != nil {
		return fmt.Errorf("archive: write layer: %w", err)
	}
	if err := a.file.Sync(); err != nil {
		return err
	}

	checksum := crc32.ChecksumIEEE(data)
	entry := IndexEntry{LayerHash: hash, Offset: uint64(offset), Size: uint64(len(data)), Checksum: checksum}
	if _, existed := a.index[hash]; !existed {
		a.order = append(a.order, hash)
	}
	a.index[hash] = entry
	a.header.LayerCount = uint32(len(a.index))
	a.dirty = true

	a.logger.Debug().Str("layer_hash", hash.Hex()).Int("size", len(data)).Msg("layer appended")

	return a.flushLocked()
}

// GetLayerData looks up hash, validates its CRC32, and returns a copy of
// the referenced bytes.
func (a *Archive) GetLayerData(hash dshash.LayerId) ([]byte, error) {
	a.mu.RLock()
	entry, ok := a.index[hash]
	mm := a.mm
	a.mu.RUnlock()
	if !ok {
		return nil, &errs.LayerNotFound{Hash: hash.Hex()}
	}

	a.shards.RLock([32]byte(hash))
	defer a.shards.RUnlock([32]byte(hash))

	if mm == nil || entry.Offset+entry.Size > uint64(len(mm)) {
		return a.readDirect(entry)
	}
	raw := mm[entry.Offset : entry.Offset+entry.Size]
	if crc32.ChecksumIEEE(raw) != entry.Checksum {
		return nil, &errs.ChecksumMismatch{Expected: entry.Checksum, Actual: crc32.ChecksumIEEE(raw)}
	}
	out := make([]byte, len(raw))
	copy(out, raw)
	return out, nil
}

func (a *Archive) readDirect(entry IndexEntry) ([]byte, error) {
	buf := make([]byte, entry.Size)
	if _, err := a.file.ReadAt(buf, int64(entry.Offset)); err != nil {
		return nil, fmt.Errorf("archive: direct read: %w", err)
	}
	if crc32.ChecksumIEEE(buf) != entry.Checksum {
		return nil, &errs.ChecksumMismatch{Expected: entry.Checksum, Actual: crc32.ChecksumIEEE(buf)}
	}
	return buf, nil
}

// GetLayer fetches and decodes a full Layer.
func (a *Archive) GetLayer(hash dshash.LayerId) (*layer.Layer, error) {
	data, err := a.GetLayerData(hash)
	if err != nil {
		return nil, err
	}
	return layer.Decode(data)
}

// Stats summarizes the archive's on-disk layout, including fragmentation
// as (total_size - data_size) / total_size, the teacher's definition
// mirrored from dig_archive.rs.
func (a *Archive) Stats() (Stats, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	info, err := a.file.Stat()
	if err != nil {
		return Stats{}, err
	}
	totalSize := info.Size()
	var dataSize int64
	for _, e := range a.index {
		dataSize += int64(e.Size)
	}
	frag := 0.0
	if totalSize > 0 {
		frag = float64(totalSize-dataSize) / float64(totalSize)
	}
	return Stats{
		LayerCount:       len(a.index),
		TotalSize:        totalSize,
		DataSize:         dataSize,
		IndexSize:        int64(len(a.index)) * IndexEntrySize,
		CompressionRatio: 1.0,
		Fragmentation:    frag,
	}, nil
}

// Flush rebuilds the file as (header, tightly-packed data, fresh index)
// via atomic tmp+rename, per spec §4.3's "index is rewritten atomically".
func (a *Archive) Flush() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.flushLocked()
}

func (a *Archive) flushLocked() error {
	if !a.dirty {
		return nil
	}

	tmpPath := a.path + ".tmp"
	tmpFile, err := os.OpenFile(tmpPath, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return fmt.Errorf("archive: flush: create tmp: %w", err)
	}

	placeholder := make([]byte, HeaderSize)
	if _, err := tmpFile.Write(placeholder); err != nil {
		tmpFile.Close()
		return err
	}

	newEntries := make([]IndexEntry, 0, len(a.index))
	offset := uint64(HeaderSize)
	for _, hash := range a.order {
		old := a.index[hash]
		data, err := a.readDirect(old)
		if err != nil {
			tmpFile.Close()
			return err
		}
		if _, err := tmpFile.WriteAt(data, int64(offset)); err != nil {
			tmpFile.Close()
			return err
		}
		newEntry := IndexEntry{LayerHash: hash, Offset: offset, Size: old.Size, Checksum: old.Checksum}
		newEntries = append(newEntries, newEntry)
		offset += old.Size
	}

	dataSize := offset - HeaderSize
	indexOffset := offset
	var idxBuf []byte
	for _, e := range newEntries {
		idxBuf = append(idxBuf, e.Marshal()...)
	}
	if _, err := tmpFile.WriteAt(idxBuf, int64(indexOffset)); err != nil {
		tmpFile.Close()
		return err
	}

	newHeader := Header{
		Version:     Version,
		LayerCount:  uint32(len(newEntries)),
		IndexOffset: indexOffset,
		IndexSize:   uint64(len(idxBuf)),
		DataOffset:  HeaderSize,
		DataSize:    dataSize,
	}
	if _, err := tmpFile.WriteAt(newHeader.Marshal(), 0); err != nil {
		tmpFile.Close()
		return err
	}
	if err := tmpFile.Sync(); err != nil {
		tmpFile.Close()
		return err
	}
	if err := tmpFile.Close(); err != nil {
		return err
	}

	if a.mm != nil {
		_ = a.mm.Unmap()
		a.mm = nil
	}
	if err := a.file.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmpPath, a.path); err != nil {
		return fmt.Errorf("archive: flush: rename: %w", err)
	}

	f, err := os.OpenFile(a.path, os.O_RDWR, 0644)
	if err != nil {
		return err
	}
	a.file = f
	a.header = newHeader
	a.index = make(map[dshash.LayerId]IndexEntry, len(newEntries))
	a.order = a.order[:0]
	for _, e := range newEntries {
		a.index[e.LayerHash] = e
		a.order = append(a.order, e.LayerHash)
	}
	a.dirty = false

	return a.load()
}

// Compact forces a flush even if not strictly dirty, collapsing
// append-only slack into a tightly packed file (SPEC_FULL.md §3,
// supplemented from dig_archive.rs's compact()).
func (a *Archive) Compact() error {
	a.mu.Lock()
	a.dirty = true
	a.mu.Unlock()
	return a.Flush()
}

// Verify checks every index entry's bounds, CRC32, and parseability,
// accumulating human-readable issue strings rather than failing fast.
func (a *Archive) Verify() []string {
	a.mu.RLock()
	defer a.mu.RUnlock()

	var issues []string
	info, err := a.file.Stat()
	if err != nil {
		return []string{fmt.Sprintf("stat failed: %v", err)}
	}
	size := info.Size()

	for _, hash := range a.order {
		e := a.index[hash]
		if int64(e.Offset+e.Size) > size {
			issues = append(issues, fmt.Sprintf("layer %s: range exceeds file size", hash.Hex()))
			continue
		}
		data, err := a.readDirect(e)
		if err != nil {
			issues = append(issues, fmt.Sprintf("layer %s: %v", hash.Hex(), err))
			continue
		}
		if _, err := layer.Decode(data); err != nil {
			issues = append(issues, fmt.Sprintf("layer %s: unparseable: %v", hash.Hex(), err))
		}
	}
	return issues
}

// MigrateFromDirectory imports loose `*.layer` files whose stem is valid
// hex into the archive; each imported layer is flushed by AddLayer, and
// one more Flush runs at the end (SPEC_FULL.md §3,
// supplemented from dig_archive.rs's migrate_from_directory).
type MigrationResult struct {
	FilesProcessed int
	FilesMigrated  int
	FilesFailed    int
	BytesProcessed int64
	Errors         []string
}

func (a *Archive) MigrateFromDirectory(dir string) (MigrationResult, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return MigrationResult{}, err
	}

	var result MigrationResult
	for _, ent := range entries {
		if ent.IsDir() || !strings.HasSuffix(ent.Name(), ".layer") {
			continue
		}
		stem := strings.TrimSuffix(ent.Name(), ".layer")
		hash, err := dshash.FromHex(stem)
		if err != nil {
			continue
		}
		result.FilesProcessed++
		data, err := os.ReadFile(filepath.Join(dir, ent.Name()))
		if err != nil {
			result.FilesFailed++
			result.Errors = append(result.Errors, err.Error())
			continue
		}
		if err := a.AddLayer(hash, data); err != nil {
			result.FilesFailed++
			result.Errors = append(result.Errors, err.Error())
			continue
		}
		result.FilesMigrated++
		result.BytesProcessed += int64(len(data))
	}

	if err := a.Flush(); err != nil {
		return result, err
	}
	return result, nil
}
