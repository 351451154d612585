package layer

import (
	"encoding/json"
	"time"

	"github.com/dig-network/digstore/internal/dshash"
	"github.com/dig-network/digstore/internal/errs"
	"github.com/dig-network/digstore/internal/merkle"
)

// ChunkRef references a chunk within a file's ordered chunk list. Offset
// is the chunk's position within the reconstructed file (not within the
// layer's data section), which doubles as the byte_range lower bound used
// to key the chunk's at-rest scrambling (spec §4.8). StorageIndex pins the
// exact physical payload this ref reads from, since scrambling makes the
// same content hash produce different ciphertext at different
// (path, offset) occurrences, so a hash alone cannot address storage.
type ChunkRef struct {
	Hash         dshash.ChunkHash `json:"hash"`
	Offset       uint64           `json:"offset"`
	Size         uint32           `json:"size"`
	StorageIndex int              `json:"storage_index"`
}

// FileMetadata carries mode/mtime and the transient change flags spec §3
// names.
type FileMetadata struct {
	Mode       uint32 `json:"mode"`
	ModifiedAt int64  `json:"modified_at"`
	IsNew      bool   `json:"is_new"`
	IsModified bool   `json:"is_modified"`
	IsDeleted  bool   `json:"is_deleted"`
}

// FileEntry is one file recorded in a layer.
type FileEntry struct {
	Path     string           `json:"path"`
	Hash     dshash.Hash      `json:"hash"`
	Size     uint64           `json:"size"`
	Chunks   []ChunkRef       `json:"chunks"`
	Metadata FileMetadata     `json:"metadata"`
}

// ChunkEntry is a chunk's index record (payload lives in the data
// section).
type ChunkEntry struct {
	Hash   dshash.ChunkHash `json:"hash"`
	Offset uint64           `json:"offset"` // offset within the data section
	Size   uint32           `json:"size"`
}

// Metadata is the JSON-shaped record carried inside the layer (spec §3).
// The Config/RootHistory/version fields are only populated on Layer 0 (the
// metadata layer, LayerType == TypeHeader); ordinary commit layers leave
// them zero-valued.
type Metadata struct {
	LayerId    dshash.Hash `json:"layer_id"`
	ParentId   dshash.Hash `json:"parent_id"`
	Timestamp  int64       `json:"timestamp"`
	Generation uint64      `json:"generation"`
	LayerType  Type        `json:"layer_type"`
	FileCount  int         `json:"file_count"`
	TotalSize  uint64      `json:"total_size"`
	MerkleRoot dshash.Hash `json:"merkle_root"`
	Message    string      `json:"message"`
	Author     string      `json:"author"`

	DigstoreVersion string              `json:"digstore_version,omitempty"`
	FormatVersion   uint32              `json:"format_version,omitempty"`
	ProtocolVersion uint32              `json:"protocol_version,omitempty"`
	CreatedAt       int64               `json:"created_at,omitempty"`
	Config          *Config             `json:"config,omitempty"`
	RootHistory     []RootHistoryEntry  `json:"root_history,omitempty"`
}

// Config records the store-wide parameters fixed at init and carried in
// Layer 0 (spec §3, §6.1).
type Config struct {
	ChunkSize       uint32 `json:"chunk_size"`
	Compression     string `json:"compression"`
	DeltaChainLimit uint32 `json:"delta_chain_limit"`
}

// RootHistoryEntry is one append-only record of a commit's root, kept in
// Layer 0 so every reader can derive current_root, generation, and
// layer_count from a single structured source rather than scattered
// recomputation (spec §9's design note).
type RootHistoryEntry struct {
	Generation uint64      `json:"generation"`
	RootHash   dshash.Hash `json:"root_hash"`
	Timestamp  int64       `json:"timestamp"`
	LayerCount int         `json:"layer_count"`
}

// chunkPayload pairs an index entry with its raw bytes for writing.
type chunkPayload struct {
	entry ChunkEntry
	data  []byte
}

// Layer is the in-memory representation of one immutable commit layer.
type Layer struct {
	Header   Header
	Metadata Metadata
	Files    []FileEntry
	Chunks   []ChunkEntry

	pending []chunkPayload // chunk payloads staged via AddChunk, written by Encode
}

// New constructs an empty layer of the given type/number/parent, per
// spec §4.2.
func New(typ Type, layerNumber uint64, parentRoot dshash.Hash) *Layer {
	now := time.Now().Unix()
	return &Layer{
		Header: Header{
			Version:     Version,
			Type:        typ,
			LayerNumber: layerNumber,
			Timestamp:   now,
			ParentRoot:  parentRoot,
		},
		Metadata: Metadata{
			ParentId:   parentRoot,
			Timestamp:  now,
			Generation: layerNumber,
			LayerType:  typ,
		},
	}
}

// AddFile appends a file entry.
func (l *Layer) AddFile(fe FileEntry) {
	l.Files = append(l.Files, fe)
	l.Header.FilesCount = uint32(len(l.Files))
	l.Metadata.FileCount = len(l.Files)
}

// AddChunk appends a chunk's payload and index entry. offset is relative
// to the start of the data section.
func (l *Layer) AddChunk(hash dshash.ChunkHash, data []byte) ChunkEntry {
	offset := uint64(0)
	for _, p := range l.pending {
		offset += uint64(len(p.data))
	}
	entry := ChunkEntry{Hash: hash, Offset: offset, Size: uint32(len(data))}
	l.Chunks = append(l.Chunks, entry)
	l.pending = append(l.pending, chunkPayload{entry: entry, data: data})
	l.Header.ChunksCount = uint32(len(l.Chunks))
	return entry
}

// ComputeMerkleRoot builds the file-hash Merkle tree, stores the root in
// Metadata.MerkleRoot and returns it. The layer's content hash is not
// derived from it: the Store hashes the encoded layer bytes.
func (l *Layer) ComputeMerkleRoot() (dshash.Hash, error) {
	if len(l.Files) == 0 {
		l.Metadata.MerkleRoot = dshash.Zero
		return dshash.Zero, nil
	}
	hashes := make([]dshash.Hash, len(l.Files))
	for i, f := range l.Files {
		hashes[i] = f.Hash
	}
	tree, err := merkle.FromHashes(hashes)
	if err != nil {
		return dshash.Hash{}, err
	}
	l.Metadata.MerkleRoot = tree.Root()
	return tree.Root(), nil
}

type indexSection struct {
	Metadata Metadata     `json:"metadata"`
	Files    []FileEntry  `json:"files"`
	Chunks   []ChunkEntry `json:"chunks"`
}

type merkleSection struct {
	Root   dshash.Hash   `json:"root"`
	Leaves []dshash.Hash `json:"leaves"`
}

// Encode serializes the layer to its full on-disk byte representation:
// header, then data section (chunk payloads in append order), then index
// section (JSON), then merkle section (JSON), with the header rewritten
// at the end once final offsets/sizes are known (spec §4.2's
// write-then-rewind contract, expressed here as "compute then marshal
// once" since Encode builds in memory rather than seeking a file).
func (l *Layer) Encode() ([]byte, error) {
	if l.Header.Compression != 0 {
		return nil, &errs.InvalidFormat{Where: "layer header", Reason: "non-zero compression is reserved"}
	}

	dataBuf := make([]byte, 0, 4096)
	for _, p := range l.pending {
		dataBuf = append(dataBuf, p.data...)
	}

	leaves := make([]dshash.Hash, len(l.Files))
	for i, f := range l.Files {
		leaves[i] = f.Hash
	}
	var root dshash.Hash
	if len(leaves) > 0 {
		tree, err := merkle.FromHashes(leaves)
		if err != nil {
			return nil, err
		}
		root = tree.Root()
	}
	l.Metadata.MerkleRoot = root

	idxBuf, err := json.Marshal(indexSection{Metadata: l.Metadata, Files: l.Files, Chunks: l.Chunks})
	if err != nil {
		return nil, err
	}
	merkBuf, err := json.Marshal(merkleSection{Root: root, Leaves: leaves})
	if err != nil {
		return nil, err
	}

	l.Header.DataOffset = HeaderSize
	l.Header.DataSize = uint64(len(dataBuf))
	l.Header.IndexOffset = l.Header.DataOffset + l.Header.DataSize
	l.Header.IndexSize = uint64(len(idxBuf))
	l.Header.MerkleOffset = l.Header.IndexOffset + l.Header.IndexSize
	l.Header.MerkleSize = uint64(len(merkBuf))
	l.Header.FilesCount = uint32(len(l.Files))
	l.Header.ChunksCount = uint32(len(l.Chunks))

	out := make([]byte, 0, HeaderSize+len(dataBuf)+len(idxBuf)+len(merkBuf))
	out = append(out, l.Header.Marshal()...)
	out = append(out, dataBuf...)
	out = append(out, idxBuf...)
	out = append(out, merkBuf...)
	return out, nil
}

// Decode parses a full layer byte slice, validating magic/version and
// section bounds.
func Decode(buf []byte) (*Layer, error) {
	header, err := UnmarshalHeader(buf)
	if err != nil {
		return nil, err
	}
	end := uint64(len(buf))
	if header.IndexOffset+header.IndexSize > end || header.MerkleOffset+header.MerkleSize > end || header.DataOffset+header.DataSize > end {
		return nil, &errs.InvalidFormat{Where: "layer sections", Reason: "section extends past end of input"}
	}

	idxBytes := buf[header.IndexOffset : header.IndexOffset+header.IndexSize]
	var idx indexSection
	if err := json.Unmarshal(idxBytes, &idx); err != nil {
		return nil, &errs.InvalidFormat{Where: "layer index", Reason: err.Error()}
	}

	l := &Layer{
		Header:   header,
		Metadata: idx.Metadata,
		Files:    idx.Files,
		Chunks:   idx.Chunks,
	}

	dataSection := buf[header.DataOffset : header.DataOffset+header.DataSize]
	l.pending = make([]chunkPayload, 0, len(idx.Chunks))
	for _, c := range idx.Chunks {
		if c.Offset+uint64(c.Size) > uint64(len(dataSection)) {
			return nil, &errs.InvalidFormat{Where: "layer data", Reason: "chunk extends past data section"}
		}
		l.pending = append(l.pending, chunkPayload{entry: c, data: dataSection[c.Offset : c.Offset+uint64(c.Size)]})
	}

	return l, nil
}

// ChunkData returns the raw payload bytes for a chunk hash within this
// layer, or (nil, false) if the layer does not itself hold the chunk.
// Ancestor layers are not searched.
func (l *Layer) ChunkData(hash dshash.ChunkHash) ([]byte, bool) {
	for _, p := range l.pending {
		if p.entry.Hash == hash {
			return p.data, true
		}
	}
	return nil, false
}

// ChunkDataAt returns the raw payload bytes stored at storage position idx
// (as returned by AddChunk's insertion order, and recorded on a ChunkRef
// as StorageIndex). Unlike ChunkData, this is unambiguous even when two
// chunks share a content hash but were scrambled under different keys.
func (l *Layer) ChunkDataAt(idx int) ([]byte, bool) {
	if idx < 0 || idx >= len(l.pending) {
		return nil, false
	}
	return l.pending[idx].data, true
}

// ChunkCount returns the number of chunk payloads currently staged via
// AddChunk, i.e. the StorageIndex the next AddChunk call will assign.
func (l *Layer) ChunkCount() int {
	return len(l.pending)
}

// FileByPath finds a file entry by its stored path.
func (l *Layer) FileByPath(path string) (FileEntry, bool) {
	for _, f := range l.Files {
		if f.Path == path {
			return f, true
		}
	}
	return FileEntry{}, false
}
