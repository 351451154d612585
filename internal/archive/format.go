// Package archive implements the single-file `.dig` container that holds
// every layer of a Store: a fixed header, an append-only layer-data
// region, and a layer index, per spec §3 and §4.3.
package archive

import (
	"encoding/binary"

	"github.com/dig-network/digstore/internal/dshash"
	"github.com/dig-network/digstore/internal/errs"
)

// HeaderSize is the fixed on-disk size of the archive header.
const HeaderSize = 64

// IndexEntrySize is the fixed on-disk size of one layer index entry.
const IndexEntrySize = 80

// Magic identifies a digstore archive file.
var Magic = [8]byte{'D', 'I', 'G', 'A', 'R', 'C', 'H', 0}

// Version is the current on-disk archive format version.
const Version uint32 = 1

// Header is the archive's fixed 64-byte prefix.
type Header struct {
	Version    uint32
	LayerCount uint32
	IndexOffset uint64
	IndexSize   uint64
	DataOffset  uint64
	DataSize    uint64
}

// Marshal renders h as exactly HeaderSize bytes.
func (h Header) Marshal() []byte {
	buf := make([]byte, HeaderSize)
	copy(buf[0:8], Magic[:])
	binary.LittleEndian.PutUint32(buf[8:12], h.Version)
	binary.LittleEndian.PutUint32(buf[12:16], h.LayerCount)
	binary.LittleEndian.PutUint64(buf[16:24], h.IndexOffset)
	binary.LittleEndian.PutUint64(buf[24:32], h.IndexSize)
	binary.LittleEndian.PutUint64(buf[32:40], h.DataOffset)
	binary.LittleEndian.PutUint64(buf[40:48], h.DataSize)
	// buf[48:64] reserved, left zero.
	return buf
}

// UnmarshalHeader parses the fixed header prefix of buf, validating magic
// then version, per dig_archive.rs's read_from contract.
func UnmarshalHeader(buf []byte) (Header, error) {
	if len(buf) < HeaderSize {
		return Header{}, &errs.InvalidFormat{Where: "archive header", Reason: "buffer shorter than header size"}
	}
	if string(buf[0:8]) != string(Magic[:]) {
		return Header{}, &errs.InvalidFormat{Where: "archive header", Reason: "bad magic"}
	}
	var h Header
	h.Version = binary.LittleEndian.Uint32(buf[8:12])
	if h.Version != Version {
		return Header{}, &errs.UnsupportedVersion{Found: h.Version, Supported: Version}
	}
	h.LayerCount = binary.LittleEndian.Uint32(buf[12:16])
	h.IndexOffset = binary.LittleEndian.Uint64(buf[16:24])
	h.IndexSize = binary.LittleEndian.Uint64(buf[24:32])
	h.DataOffset = binary.LittleEndian.Uint64(buf[32:40])
	h.DataSize = binary.LittleEndian.Uint64(buf[40:48])
	return h, nil
}

// IndexEntry is one record in the archive's layer index.
type IndexEntry struct {
	LayerHash   dshash.LayerId
	Offset      uint64
	Size        uint64
	Compression uint32
	Checksum    uint32 // CRC32 over the referenced layer bytes
}

// Marshal renders e as exactly IndexEntrySize bytes.
func (e IndexEntry) Marshal() []byte {
	buf := make([]byte, IndexEntrySize)
	copy(buf[0:32], e.LayerHash[:])
	binary.LittleEndian.PutUint64(buf[32:40], e.Offset)
	binary.LittleEndian.PutUint64(buf[40:48], e.Size)
	binary.LittleEndian.PutUint32(buf[48:52], e.Compression)
	binary.LittleEndian.PutUint32(buf[52:56], e.Checksum)
	// buf[56:80] reserved, left zero.
	return buf
}

// UnmarshalIndexEntry parses one fixed-size index record.
func UnmarshalIndexEntry(buf []byte) (IndexEntry, error) {
	if len(buf) < IndexEntrySize {
		return IndexEntry{}, &errs.InvalidFormat{Where: "layer index entry", Reason: "buffer shorter than entry size"}
	}
	var e IndexEntry
	copy(e.LayerHash[:], buf[0:32])
	e.Offset = binary.LittleEndian.Uint64(buf[32:40])
	e.Size = binary.LittleEndian.Uint64(buf[40:48])
	e.Compression = binary.LittleEndian.Uint32(buf[48:52])
	e.Checksum = binary.LittleEndian.Uint32(buf[52:56])
	return e, nil
}

// IndexBytes renders a raw concatenation of layer_hash||offset_le||size_le
// ||checksum_le per entry, in the given order — the byte form that the
// Archive Size Proof's layer_index_hash hashes (SPEC_FULL.md §5).
func IndexBytes(entries []IndexEntry) []byte {
	buf := make([]byte, 0, len(entries)*(32+8+8+4))
	for _, e := range entries {
		buf = append(buf, e.LayerHash[:]...)
		var tmp [8]byte
		binary.LittleEndian.PutUint64(tmp[:], e.Offset)
		buf = append(buf, tmp[:]...)
		binary.LittleEndian.PutUint64(tmp[:], e.Size)
		buf = append(buf, tmp[:]...)
		var tmp4 [4]byte
		binary.LittleEndian.PutUint32(tmp4[:], e.Checksum)
		buf = append(buf, tmp4[:]...)
	}
	return buf
}

// Stats summarizes an archive's on-disk layout.
type Stats struct {
	LayerCount       int
	TotalSize        int64
	DataSize         int64
	IndexSize        int64
	CompressionRatio float64
	Fragmentation    float64
}
