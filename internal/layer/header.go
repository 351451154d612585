// Package layer implements the immutable on-disk layer format: a 256-byte
// header, a data section of chunk payloads, an index section of file and
// chunk metadata, and a merkle section recording the file-hash tree
// (spec §3, §4.2).
package layer

import (
	"encoding/binary"

	"github.com/dig-network/digstore/internal/dshash"
	"github.com/dig-network/digstore/internal/errs"
)

// HeaderSize is the fixed on-disk size of a layer header.
const HeaderSize = 256

// Magic identifies a digstore layer.
var Magic = [4]byte{'D', 'I', 'G', 'S'}

// Version is the current on-disk layer format version.
const Version uint32 = 1

// Type distinguishes the three kinds of layer.
type Type uint8

const (
	TypeHeader Type = 0x00
	TypeFull   Type = 0x01
	TypeDelta  Type = 0x02
)

// Header is the fixed 256-byte prefix of every layer.
type Header struct {
	Version     uint32
	Type        Type
	Flags       uint8
	Compression uint8
	LayerNumber uint64
	Timestamp   int64
	ParentRoot  dshash.Hash
	FilesCount  uint32
	ChunksCount uint32
	DataOffset  uint64
	DataSize    uint64
	IndexOffset uint64
	IndexSize   uint64
	MerkleOffset uint64
	MerkleSize   uint64
}

// IsValid checks the version and the parent-root rules from spec §3:
// layer 0 must have a zero parent root, and a nonzero layer number with a
// zero parent root is accepted only for TypeHeader. The magic is checked
// by UnmarshalHeader, not here.
func (h Header) IsValid() bool {
	if h.Version != Version {
		return false
	}
	if h.LayerNumber == 0 && !h.ParentRoot.IsZero() {
		return false
	}
	if h.LayerNumber != 0 && h.ParentRoot.IsZero() && h.Type != TypeHeader {
		return false
	}
	return true
}

// Marshal renders h as exactly HeaderSize bytes.
func (h Header) Marshal() []byte {
	buf := make([]byte, HeaderSize)
	copy(buf[0:4], Magic[:])
	binary.LittleEndian.PutUint32(buf[4:8], h.Version)
	buf[8] = byte(h.Type)
	buf[9] = h.Flags
	buf[10] = h.Compression
	// buf[11] reserved
	binary.LittleEndian.PutUint64(buf[12:20], h.LayerNumber)
	binary.LittleEndian.PutUint64(buf[20:28], uint64(h.Timestamp))
	copy(buf[28:60], h.ParentRoot[:])
	binary.LittleEndian.PutUint32(buf[60:64], h.FilesCount)
	binary.LittleEndian.PutUint32(buf[64:68], h.ChunksCount)
	binary.LittleEndian.PutUint64(buf[68:76], h.DataOffset)
	binary.LittleEndian.PutUint64(buf[76:84], h.DataSize)
	binary.LittleEndian.PutUint64(buf[84:92], h.IndexOffset)
	binary.LittleEndian.PutUint64(buf[92:100], h.IndexSize)
	binary.LittleEndian.PutUint64(buf[100:108], h.MerkleOffset)
	binary.LittleEndian.PutUint64(buf[108:116], h.MerkleSize)
	// remaining bytes [116:256] are reserved and left zero.
	return buf
}

// UnmarshalHeader parses the fixed header prefix of buf.
func UnmarshalHeader(buf []byte) (Header, error) {
	if len(buf) < HeaderSize {
		return Header{}, &errs.InvalidFormat{Where: "layer header", Reason: "buffer shorter than header size"}
	}
	if string(buf[0:4]) != string(Magic[:]) {
		return Header{}, &errs.InvalidFormat{Where: "layer header", Reason: "bad magic"}
	}
	var h Header
	h.Version = binary.LittleEndian.Uint32(buf[4:8])
	if h.Version != Version {
		return Header{}, &errs.UnsupportedVersion{Found: h.Version, Supported: Version}
	}
	h.Type = Type(buf[8])
	h.Flags = buf[9]
	h.Compression = buf[10]
	h.LayerNumber = binary.LittleEndian.Uint64(buf[12:20])
	h.Timestamp = int64(binary.LittleEndian.Uint64(buf[20:28]))
	copy(h.ParentRoot[:], buf[28:60])
	h.FilesCount = binary.LittleEndian.Uint32(buf[60:64])
	h.ChunksCount = binary.LittleEndian.Uint32(buf[64:68])
	h.DataOffset = binary.LittleEndian.Uint64(buf[68:76])
	h.DataSize = binary.LittleEndian.Uint64(buf[76:84])
	h.IndexOffset = binary.LittleEndian.Uint64(buf[84:92])
	h.IndexSize = binary.LittleEndian.Uint64(buf[92:100])
	h.MerkleOffset = binary.LittleEndian.Uint64(buf[100:108])
	h.MerkleSize = binary.LittleEndian.Uint64(buf[108:116])
	return h, nil
}
