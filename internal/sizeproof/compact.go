package sizeproof

import (
	"bytes"
	"encoding/ascii85"
	"encoding/base64"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/klauspost/compress/zstd"

	"github.com/dig-network/digstore/internal/dshash"
	"github.com/dig-network/digstore/internal/errs"
)

// CompactSummary is the lossy, ultra-compressed preview of an
// ArchiveSizeProof: enough to eyeball a size claim without carrying the
// full per-layer breakdown. The version and layer-count nibbles are
// truncated to 4 bits each (this "ultra-compressed" codec is a
// preview form, not a substitute for the full
// proof's ToJSON/FromJSON round trip).
type CompactSummary struct {
	VersionNibble       uint8
	LayerCountNibble    uint8
	CalculatedTotalSize uint64
	LayerSizeTreeRoot   dshash.Hash
	PublisherPublicKey  []byte
	IntegrityDigest     [16]byte
}

// xorKeystream derives a deterministic keystream from seed by chained
// SHA-256 (state = SHA256(state), emitting state[0] per byte; unlike
// internal/scrambler, no position is mixed in), and XORs it into data in
// place.
func xorKeystream(seed dshash.Hash, data []byte) {
	state := seed
	for i := range data {
		data[i] ^= state[0]
		state = dshash.Sum(state[:])
	}
}

func integrityDigest(ip IntegrityProofs) [16]byte {
	var buf []byte
	buf = append(buf, ip.ArchiveHeaderHash[:]...)
	buf = append(buf, ip.LayerIndexHash[:]...)
	buf = append(buf, ip.RootHashVerification[:]...)
	buf = append(buf, ip.FirstLayerContentHash[:]...)
	buf = append(buf, ip.LastLayerContentHash[:]...)
	full := dshash.Sum(buf)
	var out [16]byte
	copy(out[:], full[:16])
	return out
}

func packRaw(p ArchiveSizeProof) []byte {
	var buf bytes.Buffer
	packed := byte((Version&0xF)<<4 | uint8(p.VerifiedLayerCount&0xF))
	buf.WriteByte(packed)

	var sizeBuf [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(sizeBuf[:], p.CalculatedTotalSize)
	buf.Write(sizeBuf[:n])

	buf.Write(p.LayerSizeTreeRoot[:])

	key := make([]byte, len(p.PublisherPublicKey))
	copy(key, p.PublisherPublicKey)
	xorKeystream(p.LayerSizeTreeRoot, key)

	var keyLenBuf [binary.MaxVarintLen64]byte
	kn := binary.PutUvarint(keyLenBuf[:], uint64(len(key)))
	buf.Write(keyLenBuf[:kn])
	buf.Write(key)

	digest := integrityDigest(p.IntegrityProofs)
	buf.Write(digest[:])

	return buf.Bytes()
}

func unpackRaw(raw []byte) (CompactSummary, error) {
	if len(raw) < 1+32+16 {
		return CompactSummary{}, &errs.InvalidFormat{Where: "compact size proof", Reason: "truncated"}
	}
	r := bytes.NewReader(raw)

	packedByte, err := r.ReadByte()
	if err != nil {
		return CompactSummary{}, err
	}

	total, err := binary.ReadUvarint(r)
	if err != nil {
		return CompactSummary{}, &errs.InvalidFormat{Where: "compact size proof", Reason: "bad size varint"}
	}

	var treeRoot dshash.Hash
	if _, err := io.ReadFull(r, treeRoot[:]); err != nil {
		return CompactSummary{}, &errs.InvalidFormat{Where: "compact size proof", Reason: "truncated tree root"}
	}

	keyLen, err := binary.ReadUvarint(r)
	if err != nil {
		return CompactSummary{}, &errs.InvalidFormat{Where: "compact size proof", Reason: "bad key length varint"}
	}
	key := make([]byte, keyLen)
	if keyLen > 0 {
		if _, err := io.ReadFull(r, key); err != nil {
			return CompactSummary{}, &errs.InvalidFormat{Where: "compact size proof", Reason: "truncated key"}
		}
	}
	xorKeystream(treeRoot, key)

	var digest [16]byte
	if _, err := io.ReadFull(r, digest[:]); err != nil {
		return CompactSummary{}, &errs.InvalidFormat{Where: "compact size proof", Reason: "truncated digest"}
	}

	return CompactSummary{
		VersionNibble:       uint8(packedByte >> 4),
		LayerCountNibble:    uint8(packedByte & 0xF),
		CalculatedTotalSize: total,
		LayerSizeTreeRoot:   treeRoot,
		PublisherPublicKey:  key,
		IntegrityDigest:     digest,
	}, nil
}

// EncodeCompact renders p as a zstd-compressed, base64-or-base85-encoded
// string, choosing whichever text encoding comes out shorter and
// prefixing the result with "64:" or "85:" so DecodeCompact knows which
// to reverse.
func EncodeCompact(p ArchiveSizeProof) (string, error) {
	raw := packRaw(p)

	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedBestCompression))
	if err != nil {
		return "", err
	}
	compressed := enc.EncodeAll(raw, nil)
	_ = enc.Close()

	b64 := base64.RawURLEncoding.EncodeToString(compressed)

	var b85Buf bytes.Buffer
	b85w := ascii85.NewEncoder(&b85Buf)
	_, _ = b85w.Write(compressed)
	_ = b85w.Close()
	b85 := b85Buf.String()

	if len(b85) < len(b64) {
		return "85:" + b85, nil
	}
	return "64:" + b64, nil
}

// DecodeCompact reverses EncodeCompact, returning the lossy summary.
func DecodeCompact(s string) (CompactSummary, error) {
	if len(s) < 3 {
		return CompactSummary{}, &errs.InvalidFormat{Where: "compact size proof", Reason: "too short"}
	}
	prefix, body := s[:3], s[3:]

	var compressed []byte
	var err error
	switch prefix {
	case "64:":
		compressed, err = base64.RawURLEncoding.DecodeString(body)
	case "85:":
		r := ascii85.NewDecoder(bytes.NewReader([]byte(body)))
		var buf bytes.Buffer
		_, err = buf.ReadFrom(r)
		compressed = buf.Bytes()
	default:
		return CompactSummary{}, &errs.InvalidFormat{Where: "compact size proof", Reason: fmt.Sprintf("unknown prefix %q", prefix)}
	}
	if err != nil {
		return CompactSummary{}, err
	}

	dec, err := zstd.NewReader(nil)
	if err != nil {
		return CompactSummary{}, err
	}
	defer dec.Close()
	raw, err := dec.DecodeAll(compressed, nil)
	if err != nil {
		return CompactSummary{}, err
	}

	return unpackRaw(raw)
}
