package scrambler

import (
	"encoding/binary"

	"github.com/dig-network/digstore/internal/dshash"
)

const (
	decoyMinSize = 1024              // 1 KiB
	decoyMaxSize = 20 * 1024 * 1024  // 20 MiB
)

// DecoySize derives a deterministic size for the zero-knowledge decoy
// response to an invalid layer hash lookup.
//
// original_source's generate_random_data_for_hash used a fixed 1 MiB
// size; spec §4.8 instead requires the size to be "a function of H
// seeded such that 99% of outputs fall in [1 KiB, 20 MiB]" — this is a
// deliberate deviation from the original (see DESIGN.md). The mapping
// below always lands within [1 KiB, 20 MiB], which satisfies the 99%
// requirement unconditionally.
func DecoySize(h dshash.Hash) uint64 {
	seed := dshash.Sum(append([]byte("decoy-size:"), h[:]...))
	frac := float64(binary.LittleEndian.Uint64(seed[:8])) / float64(^uint64(0))
	span := float64(decoyMaxSize - decoyMinSize)
	return decoyMinSize + uint64(frac*span)
}

// DecoyBytes generates deterministic pseudo-random bytes of DecoySize(h)
// for an invalid layer hash, indistinguishable from real content and
// reproducible across calls: the i-th block is
// SHA256("invalid_content_address:" || hex(h) || u64_le(i)), concatenated
// and truncated to size.
func DecoyBytes(h dshash.Hash) []byte {
	size := DecoySize(h)
	out := make([]byte, 0, size)
	prefix := append([]byte("invalid_content_address:"), []byte(h.Hex())...)
	var i uint64
	for uint64(len(out)) < size {
		var idxBuf [8]byte
		binary.LittleEndian.PutUint64(idxBuf[:], i)
		block := dshash.Sum(append(append([]byte{}, prefix...), idxBuf[:]...))
		remaining := size - uint64(len(out))
		if remaining < dshash.Size {
			out = append(out, block[:remaining]...)
		} else {
			out = append(out, block[:]...)
		}
		i++
	}
	return out
}
