// Package proof implements the tagged Proof record of spec §4.6: file and
// byte-range proofs built over the file-hash Merkle tree, self-verifying
// layer and chunk proofs with no Merkle path, plus JSON (de)serialization
// for the on-wire format.
package proof

import (
	"encoding/json"
	"time"

	"github.com/dig-network/digstore/internal/dshash"
	"github.com/dig-network/digstore/internal/errs"
	"github.com/dig-network/digstore/internal/layer"
	"github.com/dig-network/digstore/internal/merkle"
)

// Version is the current proof record format version.
const Version uint32 = 1

// TargetType discriminates the four kinds of proof target.
type TargetType string

const (
	TargetFile      TargetType = "File"
	TargetByteRange TargetType = "ByteRange"
	TargetLayer     TargetType = "Layer"
	TargetChunk     TargetType = "Chunk"
)

// Target is the tagged union of what a Proof asserts about.
type Target struct {
	Type      TargetType   `json:"type"`
	Path      string       `json:"path,omitempty"`
	FileHash  *dshash.Hash `json:"file_hash,omitempty"`
	Start     *uint64      `json:"start,omitempty"`
	End       *uint64      `json:"end,omitempty"`
	AtRoot    *dshash.Hash `json:"at_root,omitempty"`
	LayerId   *dshash.Hash `json:"layer_id,omitempty"`
	ChunkHash *dshash.Hash `json:"chunk_hash,omitempty"`
}

// Metadata carries provenance information for a Proof.
type Metadata struct {
	Timestamp   int64       `json:"timestamp"`
	LayerNumber *uint64     `json:"layer_number,omitempty"`
	StoreId     dshash.Hash `json:"store_id"`
}

// Proof is the on-wire record. JSON is the canonical format (spec §6.3);
// parsers must accept extra unknown fields.
type Proof struct {
	Version   uint32           `json:"version"`
	ProofType TargetType       `json:"proof_type"`
	Target    Target           `json:"target"`
	Root      dshash.Hash      `json:"root"`
	Path      []merkle.Element `json:"path"`
	Metadata  Metadata         `json:"metadata"`
}

// ToJSON renders p as its on-wire JSON form.
func (p Proof) ToJSON() ([]byte, error) {
	return json.Marshal(p)
}

// FromJSON parses a proof, tolerating unknown extra fields.
func FromJSON(data []byte) (Proof, error) {
	var p Proof
	if err := json.Unmarshal(data, &p); err != nil {
		return Proof{}, &errs.InvalidFormat{Where: "proof json", Reason: err.Error()}
	}
	return p, nil
}

// VerifyLeaf rehashes leafHash along p.Path and asserts the final value
// equals p.Root, per spec §4.6's verification algorithm.
func (p Proof) VerifyLeaf(leafHash dshash.Hash) bool {
	return merkle.Verify(leafHash, p.Path, p.Root)
}

// buildFileTree builds the file-hash Merkle tree for l's files, in
// commit order, as spec §4.6 requires for leaf ordering.
func buildFileTree(l *layer.Layer) (*merkle.Tree, []dshash.Hash, error) {
	hashes := make([]dshash.Hash, len(l.Files))
	for i, f := range l.Files {
		hashes[i] = f.Hash
	}
	tree, err := merkle.FromHashes(hashes)
	if err != nil {
		return nil, nil, err
	}
	return tree, hashes, nil
}

// GenerateFileProof builds a File-target proof for the file at path
// within layer l, whose content hash is rootHash (the commit this layer
// produced).
func GenerateFileProof(l *layer.Layer, path string, storeId dshash.StoreId, rootHash dshash.Hash) (Proof, error) {
	idx := -1
	for i, f := range l.Files {
		if f.Path == path {
			idx = i
			break
		}
	}
	if idx < 0 {
		return Proof{}, &errs.FileNotFound{Path: path}
	}

	tree, hashes, err := buildFileTree(l)
	if err != nil {
		return Proof{}, err
	}
	path_, err := tree.GenerateProof(idx)
	if err != nil {
		return Proof{}, err
	}

	fileHash := hashes[idx]
	layerNum := l.Header.LayerNumber
	return Proof{
		Version:   Version,
		ProofType: TargetFile,
		Target: Target{
			Type:     TargetFile,
			Path:     path,
			FileHash: &fileHash,
			AtRoot:   &rootHash,
		},
		Root: tree.Root(),
		Path: path_,
		Metadata: Metadata{
			Timestamp:   time.Now().Unix(),
			LayerNumber: &layerNum,
			StoreId:     storeId,
		},
	}, nil
}

// ByteRangeResult is the outcome of resolving a byte range against a
// file's chunk-ref list: the covering chunks in order and the effective
// clamped [start, end).
type ByteRangeResult struct {
	Chunks []layer.ChunkRef
	Start  uint64
	End    uint64 // exclusive
}

// ResolveByteRange clamps [start, end] (inclusive, per spec §4.6) to the
// file length and returns the ordered chunk refs covering it. Empty
// result iff start >= file length.
func ResolveByteRange(fe layer.FileEntry, start uint64, end *uint64) ByteRangeResult {
	if start >= fe.Size {
		return ByteRangeResult{}
	}
	endExclusive := fe.Size
	if end != nil && *end+1 < endExclusive {
		endExclusive = *end + 1
	}

	var covering []layer.ChunkRef
	for _, c := range fe.Chunks {
		chunkStart := c.Offset
		chunkEnd := c.Offset + uint64(c.Size)
		if chunkEnd <= start || chunkStart >= endExclusive {
			continue
		}
		covering = append(covering, c)
	}
	return ByteRangeResult{Chunks: covering, Start: start, End: endExclusive}
}

// GenerateByteRangeProof builds a ByteRange-target proof: the same
// file-hash Merkle path as GenerateFileProof (binding the range to the
// committed file), plus the resolved covering chunk refs a verifier uses
// to check each chunk hash before trusting the reconstructed bytes.
func GenerateByteRangeProof(l *layer.Layer, path string, start uint64, end *uint64, storeId dshash.StoreId, rootHash dshash.Hash) (Proof, ByteRangeResult, error) {
	var fe layer.FileEntry
	found := false
	for _, f := range l.Files {
		if f.Path == path {
			fe = f
			found = true
			break
		}
	}
	if !found {
		return Proof{}, ByteRangeResult{}, &errs.FileNotFound{Path: path}
	}

	base, err := GenerateFileProof(l, path, storeId, rootHash)
	if err != nil {
		return Proof{}, ByteRangeResult{}, err
	}

	result := ResolveByteRange(fe, start, end)
	endVal := result.End - 1
	base.ProofType = TargetByteRange
	base.Target.Type = TargetByteRange
	base.Target.Start = &start
	base.Target.End = &endVal

	return base, result, nil
}

// GenerateLayerProof asserts that layerId is the content hash of l,
// trivially verifiable since the layer hash is itself the leaf and the
// root (spec §4.6's Layer target carries no Merkle path — the archive's
// CRC32 + index membership already binds it).
func GenerateLayerProof(layerId dshash.Hash, storeId dshash.StoreId, layerNumber uint64) Proof {
	return Proof{
		Version:   Version,
		ProofType: TargetLayer,
		Target:    Target{Type: TargetLayer, LayerId: &layerId},
		Root:      layerId,
		Path:      nil,
		Metadata:  Metadata{Timestamp: time.Now().Unix(), LayerNumber: &layerNumber, StoreId: storeId},
	}
}

// GenerateChunkProof asserts that chunkHash is the content address of a
// chunk; like the layer proof, it is self-verifying via content
// addressing rather than a Merkle path.
func GenerateChunkProof(chunkHash dshash.Hash, storeId dshash.StoreId) Proof {
	return Proof{
		Version:   Version,
		ProofType: TargetChunk,
		Target:    Target{Type: TargetChunk, ChunkHash: &chunkHash},
		Root:      chunkHash,
		Path:      nil,
		Metadata:  Metadata{Timestamp: time.Now().Unix(), StoreId: storeId},
	}
}
