package merkle

import "github.com/dig-network/digstore/internal/dshash"

// IncrementalBuilder accepts leaves one at a time and rebuilds only the
// spine affected by each append, caching internal nodes keyed by
// (level, index) as described in spec §4.6.1 / §9. Output is bit-for-bit
// identical to FromHashes on the same leaf set.
type IncrementalBuilder struct {
	leaves []dshash.Hash
	cache  map[nodeKey]dshash.Hash
	dirty  bool
}

type nodeKey struct {
	level int
	index int
}

// NewIncrementalBuilder returns an empty builder.
func NewIncrementalBuilder() *IncrementalBuilder {
	return &IncrementalBuilder{cache: make(map[nodeKey]dshash.Hash)}
}

// AddLeaf appends a leaf and invalidates the spine from it to the root.
func (b *IncrementalBuilder) AddLeaf(h dshash.Hash) {
	b.leaves = append(b.leaves, h)
	b.dirty = true
	b.invalidateSpine(len(b.leaves) - 1)
}

// AddLeaves appends multiple leaves.
func (b *IncrementalBuilder) AddLeaves(hs []dshash.Hash) {
	for _, h := range hs {
		b.AddLeaf(h)
	}
}

// invalidateSpine drops cached nodes along the path from the touched leaf
// to the root, and their siblings (whose subtree is now stale because an
// odd-leaf duplicate may have changed), without touching unrelated
// subtrees — a real incremental rebuild, as opposed to original_source's
// cache-scaffolding-but-full-rebuild approach (see DESIGN.md).
func (b *IncrementalBuilder) invalidateSpine(leafIndex int) {
	idx := leafIndex
	level := 0
	for {
		delete(b.cache, nodeKey{level, idx})
		delete(b.cache, nodeKey{level, idx ^ 1})
		if b.levelSize(level) <= 1 {
			// This level holds the root; nothing above it to invalidate.
			break
		}
		idx /= 2
		level++
	}
}

// Root lazily rebuilds from cache (recomputing only what was invalidated)
// and returns the tree's root, or the zero hash if no leaves were added.
func (b *IncrementalBuilder) Root() dshash.Hash {
	if len(b.leaves) == 0 {
		return dshash.Zero
	}
	return b.nodeAt(b.topLevel(), 0)
}

func (b *IncrementalBuilder) topLevel() int {
	lvl := 0
	count := len(b.leaves)
	for count > 1 {
		count = (count + 1) / 2
		lvl++
	}
	return lvl
}

// nodeAt computes (and caches) the hash at (level, index), recursing only
// into the children that are not already cached.
func (b *IncrementalBuilder) nodeAt(level, index int) dshash.Hash {
	if level == 0 {
		if index < len(b.leaves) {
			return b.leaves[index]
		}
		// Odd-leaf duplication: out-of-range leaf mirrors the last real one.
		return b.leaves[len(b.leaves)-1]
	}
	if v, ok := b.cache[nodeKey{level, index}]; ok {
		return v
	}
	left := b.nodeAt(level-1, index*2)
	rightIndex := index*2 + 1
	var right dshash.Hash
	if b.levelSize(level-1) > rightIndex {
		right = b.nodeAt(level-1, rightIndex)
	} else {
		right = left
	}
	v := dshash.SumPair(left, right)
	b.cache[nodeKey{level, index}] = v
	return v
}

func (b *IncrementalBuilder) levelSize(level int) int {
	n := len(b.leaves)
	for i := 0; i < level; i++ {
		n = (n + 1) / 2
	}
	return n
}

// Finalize returns a batch Tree equivalent to FromHashes(leaves), for
// callers that want proof generation.
func (b *IncrementalBuilder) Finalize() (*Tree, error) {
	return FromHashes(b.leaves)
}

// GenerateProof delegates to a finalized batch tree; the incremental cache
// only accelerates Root(), since proof generation needs the full level
// arrays.
func (b *IncrementalBuilder) GenerateProof(leafIndex int) ([]Element, error) {
	t, err := b.Finalize()
	if err != nil {
		return nil, err
	}
	return t.GenerateProof(leafIndex)
}
