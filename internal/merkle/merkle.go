// Package merkle builds Merkle trees over file hashes and produces/verifies
// self-describing proofs (spec §4.6). Internal nodes are SHA-256 over the
// concatenation of left and right child hashes; an odd node at any level is
// duplicated (RFC 6962-style, not salted).
package merkle

import (
	"github.com/dig-network/digstore/internal/dshash"
	"github.com/dig-network/digstore/internal/errs"
)

// Position identifies which side of the parent a sibling hash sits on.
type Position string

const (
	Left  Position = "Left"
	Right Position = "Right"
)

// Element is one step of a proof path.
type Element struct {
	SiblingHash dshash.Hash `json:"sibling_hash"`
	Position    Position    `json:"position"`
}

// Tree is a built Merkle tree retaining every level so proofs can be
// generated for any leaf.
type Tree struct {
	levels [][]dshash.Hash // levels[0] = leaves, levels[len-1] = [root]; odd nodes are duplicated when hashing, not stored
	leaves []dshash.Hash   // original, undeduplicated leaves
}

// Root returns the tree's root hash.
func (t *Tree) Root() dshash.Hash {
	top := t.levels[len(t.levels)-1]
	return top[0]
}

// LeafCount returns the number of original leaves (before duplication).
func (t *Tree) LeafCount() int {
	return len(t.leaves)
}

// FromHashes builds a tree from leaf hashes in order. Fails with
// MerkleTreeFailed if hashes is empty.
func FromHashes(hashes []dshash.Hash) (*Tree, error) {
	if len(hashes) == 0 {
		return nil, &errs.MerkleTreeFailed{Reason: "no leaves supplied"}
	}
	t := &Tree{leaves: append([]dshash.Hash(nil), hashes...)}
	t.rebuild()
	return t, nil
}

func (t *Tree) rebuild() {
	level := append([]dshash.Hash(nil), t.leaves...)
	levels := [][]dshash.Hash{level}
	for len(level) > 1 {
		if len(level)%2 == 1 {
			level = append(level, level[len(level)-1])
		}
		next := make([]dshash.Hash, 0, len(level)/2)
		for i := 0; i < len(level); i += 2 {
			next = append(next, dshash.SumPair(level[i], level[i+1]))
		}
		levels = append(levels, next)
		level = next
	}
	t.levels = levels
}

// GenerateProof builds the sibling path from leafIndex up to the root.
func (t *Tree) GenerateProof(leafIndex int) ([]Element, error) {
	if leafIndex < 0 || leafIndex >= len(t.leaves) {
		return nil, &errs.MerkleTreeFailed{Reason: "leaf index out of bounds"}
	}
	path := make([]Element, 0, len(t.levels)-1)
	idx := leafIndex
	for lvl := 0; lvl < len(t.levels)-1; lvl++ {
		level := t.levels[lvl]
		siblingIdx := idx ^ 1
		if siblingIdx >= len(level) {
			siblingIdx = idx // odd-leaf duplication: sibling is the node itself
		}
		pos := Right
		if idx%2 == 1 {
			pos = Left
		}
		path = append(path, Element{SiblingHash: level[siblingIdx], Position: pos})
		idx /= 2
	}
	return path, nil
}

// Verify rehashes from leafHash using path, asserting the final hash
// equals root.
func Verify(leafHash dshash.Hash, path []Element, root dshash.Hash) bool {
	cur := leafHash
	for _, el := range path {
		switch el.Position {
		case Left:
			cur = dshash.SumPair(el.SiblingHash, cur)
		case Right:
			cur = dshash.SumPair(cur, el.SiblingHash)
		default:
			return false
		}
	}
	return cur == root
}
