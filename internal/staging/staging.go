// Package staging implements the persistent binary staging area described
// in spec §4.5 / §6.1: a side-file, keyed by path, holding the
// post-chunking representation of files not yet committed.
package staging

import (
	"encoding/binary"
	"fmt"
	"os"
	"sync"

	"github.com/dig-network/digstore/internal/dshash"
	"github.com/dig-network/digstore/internal/errs"
)

// Suffix is the fixed suffix for the staging side file, placed next to
// the archive.
const Suffix = ".staging.bin"

var magic = [4]byte{'S', 'T', 'G', '1'}

const formatVersion uint32 = 1

// ChunkRecord is one chunk within a staged file.
type ChunkRecord struct {
	Hash   dshash.ChunkHash
	Offset uint64
	Size   uint32
}

// FileRecord is the staged, post-chunking representation of one file.
type FileRecord struct {
	Path      string
	WholeHash dshash.Hash
	TotalSize uint64
	Chunks    []ChunkRecord
	HasMtime  bool
	Mtime     uint64
}

// Area is the in-memory + on-disk staging area for one store.
type Area struct {
	mu      sync.Mutex
	path    string
	records map[string]FileRecord
}

// Open loads an existing staging file at path, or returns an empty Area
// if none exists yet.
func Open(path string) (*Area, error) {
	a := &Area{path: path, records: make(map[string]FileRecord)}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return a, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if err := a.decode(data); err != nil {
		return nil, err
	}
	return a, nil
}

// StagingPath returns the on-disk path of the side file.
func (a *Area) StagingPath() string {
	return a.path
}

// Stage upserts a file record.
func (a *Area) Stage(rec FileRecord) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.records[rec.Path] = rec
	return a.persistLocked()
}

// GetAllStagedFiles returns a snapshot of every staged record.
func (a *Area) GetAllStagedFiles() []FileRecord {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]FileRecord, 0, len(a.records))
	for _, r := range a.records {
		out = append(out, r)
	}
	return out
}

// IsStaged reports whether path has a pending record.
func (a *Area) IsStaged(path string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	_, ok := a.records[path]
	return ok
}

// Get returns the staged record for path, if any.
func (a *Area) Get(path string) (FileRecord, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	r, ok := a.records[path]
	return r, ok
}

// Unstage removes path's pending record.
func (a *Area) Unstage(path string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.records, path)
	return a.persistLocked()
}

// Clear removes every pending record.
func (a *Area) Clear() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.records = make(map[string]FileRecord)
	return a.persistLocked()
}

// TotalStagedSize sums the size of every staged record.
func (a *Area) TotalStagedSize() uint64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	var total uint64
	for _, r := range a.records {
		total += r.TotalSize
	}
	return total
}

// persistLocked rewrites the staging file atomically via tmp+rename, so a
// torn write never leaves a mixed state.
func (a *Area) persistLocked() error {
	data := a.encode()
	tmp := a.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return err
	}
	return os.Rename(tmp, a.path)
}

func (a *Area) encode() []byte {
	buf := make([]byte, 0, 256)
	buf = append(buf, magic[:]...)
	var verBuf [4]byte
	binary.LittleEndian.PutUint32(verBuf[:], formatVersion)
	buf = append(buf, verBuf[:]...)

	var countBuf [4]byte
	binary.LittleEndian.PutUint32(countBuf[:], uint32(len(a.records)))
	buf = append(buf, countBuf[:]...)

	for _, r := range a.records {
		buf = appendRecord(buf, r)
	}
	return buf
}

func appendRecord(buf []byte, r FileRecord) []byte {
	buf = appendLenPrefixed(buf, []byte(r.Path))
	buf = append(buf, r.WholeHash[:]...)
	buf = appendUint64(buf, r.TotalSize)
	buf = appendUint32(buf, uint32(len(r.Chunks)))
	for _, c := range r.Chunks {
		buf = append(buf, c.Hash[:]...)
		buf = appendUint64(buf, c.Offset)
		buf = appendUint32(buf, c.Size)
	}
	hasMtime := byte(0)
	if r.HasMtime {
		hasMtime = 1
	}
	buf = append(buf, hasMtime)
	buf = appendUint64(buf, r.Mtime)
	return buf
}

func appendLenPrefixed(buf []byte, s []byte) []byte {
	buf = appendUint32(buf, uint32(len(s)))
	return append(buf, s...)
}

func appendUint32(buf []byte, v uint32) []byte {
	var tmp [4]byte
	binary.LittleEndian.PutUint32(tmp[:], v)
	return append(buf, tmp[:]...)
}

func appendUint64(buf []byte, v uint64) []byte {
	var tmp [8]byte
	binary.LittleEndian.PutUint64(tmp[:], v)
	return append(buf, tmp[:]...)
}

type byteReader struct {
	buf []byte
	pos int
}

func (r *byteReader) take(n int) ([]byte, error) {
	if r.pos+n > len(r.buf) {
		return nil, fmt.Errorf("staging: unexpected end of data")
	}
	out := r.buf[r.pos : r.pos+n]
	r.pos += n
	return out, nil
}

func (r *byteReader) uint32() (uint32, error) {
	b, err := r.take(4)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b), nil
}

func (r *byteReader) uint64() (uint64, error) {
	b, err := r.take(8)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(b), nil
}

func (r *byteReader) hash() (dshash.Hash, error) {
	b, err := r.take(dshash.Size)
	if err != nil {
		return dshash.Hash{}, err
	}
	var h dshash.Hash
	copy(h[:], b)
	return h, nil
}

func (a *Area) decode(data []byte) error {
	r := &byteReader{buf: data}
	m, err := r.take(4)
	if err != nil {
		return err
	}
	if string(m) != string(magic[:]) {
		return &errs.InvalidFormat{Where: "staging file", Reason: "bad magic"}
	}
	ver, err := r.uint32()
	if err != nil {
		return err
	}
	if ver != formatVersion {
		return &errs.UnsupportedVersion{Found: ver, Supported: formatVersion}
	}
	count, err := r.uint32()
	if err != nil {
		return err
	}

	records := make(map[string]FileRecord, count)
	for i := uint32(0); i < count; i++ {
		pathLen, err := r.uint32()
		if err != nil {
			return err
		}
		pathBytes, err := r.take(int(pathLen))
		if err != nil {
			return err
		}
		whole, err := r.hash()
		if err != nil {
			return err
		}
		totalSize, err := r.uint64()
		if err != nil {
			return err
		}
		nChunks, err := r.uint32()
		if err != nil {
			return err
		}
		chunks := make([]ChunkRecord, 0, nChunks)
		for c := uint32(0); c < nChunks; c++ {
			ch, err := r.hash()
			if err != nil {
				return err
			}
			off, err := r.uint64()
			if err != nil {
				return err
			}
			sz, err := r.uint32()
			if err != nil {
				return err
			}
			chunks = append(chunks, ChunkRecord{Hash: ch, Offset: off, Size: sz})
		}
		hasMtimeByte, err := r.take(1)
		if err != nil {
			return err
		}
		mtime, err := r.uint64()
		if err != nil {
			return err
		}
		rec := FileRecord{
			Path:      string(pathBytes),
			WholeHash: whole,
			TotalSize: totalSize,
			Chunks:    chunks,
			HasMtime:  hasMtimeByte[0] == 1,
			Mtime:     mtime,
		}
		records[rec.Path] = rec
	}
	a.records = records
	return nil
}
