// Package scrambler implements the URN-keyed keystream cipher that gives
// the storage engine its zero-knowledge lookup property: scrambled bytes
// are indistinguishable from random without the URN that produced them
// (spec §4.8).
package scrambler

import (
	"encoding/binary"

	"github.com/dig-network/digstore/internal/dshash"
	"github.com/dig-network/digstore/internal/urn"
)

// state holds the running keystream position, ported byte-for-byte from
// original_source's ScrambleState: state.position/cipher_state chain via
// repeated SHA-256, so the same key and position always reproduce the
// same keystream.
type state struct {
	key         dshash.Hash
	position    uint64
	cipherState dshash.Hash
}

func newState(key dshash.Hash) *state {
	return &state{key: key, cipherState: key}
}

// setPosition reseeds the state as SHA256(key || position_le), giving
// O(1) seeking to any byte offset. The reseeded keystream is not the
// continuation of the chained keystream that Scramble produces from
// position 0; bytes at the same offset differ between the two.
func (s *state) setPosition(position uint64) {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], position)
	data := make([]byte, 0, dshash.Size+8)
	data = append(data, s.key[:]...)
	data = append(data, buf[:]...)
	s.cipherState = dshash.Sum(data)
	s.position = position
}

func (s *state) reset() {
	s.position = 0
	s.cipherState = s.key
}

func (s *state) nextKeystreamByte() byte {
	out := s.cipherState[0]
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], s.position)
	data := make([]byte, 0, dshash.Size+8)
	data = append(data, s.cipherState[:]...)
	data = append(data, buf[:]...)
	s.cipherState = dshash.Sum(data)
	s.position++
	return out
}

func (s *state) processData(data []byte) {
	for i := range data {
		data[i] ^= s.nextKeystreamByte()
	}
}

// DataScrambler applies the URN-keyed keystream cipher. Because it's a
// stream cipher, Scramble and Unscramble are the same operation: XOR is
// self-inverse.
type DataScrambler struct {
	st *state
}

// deriveKey computes key = SHA256(store_id || (root_hash ?? 0) ||
// path_bytes || range_str), per spec §4.8.
func deriveKey(storeId dshash.StoreId, rootHash *dshash.Hash, resourcePath string, hasPath bool, byteRange string) dshash.Hash {
	buf := make([]byte, 0, dshash.Size*2+len(resourcePath)+len(byteRange))
	buf = append(buf, storeId[:]...)
	if rootHash != nil {
		buf = append(buf, rootHash[:]...)
	} else {
		buf = append(buf, dshash.Zero[:]...)
	}
	if hasPath {
		buf = append(buf, []byte(resourcePath)...)
	}
	if byteRange != "" {
		buf = append(buf, []byte(byteRange)...)
	}
	return dshash.Sum(buf)
}

// FromURN derives a DataScrambler from a parsed URN.
func FromURN(u urn.Urn) *DataScrambler {
	rangeStr := ""
	if u.ByteRange != nil {
		rangeStr = u.ByteRange.String()
	}
	key := deriveKey(u.StoreId, u.RootHash, u.ResourcePath, u.HasPath, rangeStr)
	return &DataScrambler{st: newState(key)}
}

// FromComponents derives a DataScrambler without requiring a fully parsed
// URN, useful for layer-scope scrambling where only store_id/root_hash are
// relevant.
func FromComponents(storeId dshash.StoreId, rootHash *dshash.Hash, resourcePath string, hasPath bool, byteRange string) *DataScrambler {
	key := deriveKey(storeId, rootHash, resourcePath, hasPath, byteRange)
	return &DataScrambler{st: newState(key)}
}

// Scramble XORs data in place with the keystream starting at position 0.
func (d *DataScrambler) Scramble(data []byte) {
	d.st.reset()
	d.st.processData(data)
}

// Unscramble is identical to Scramble: the cipher is self-inverse.
func (d *DataScrambler) Unscramble(data []byte) {
	d.Scramble(data)
}

// ProcessAtOffset reseeds the keystream for offset (O(1) via setPosition)
// and XORs data in place, used for per-chunk scrambling where each
// chunk's byte range starts mid-file. Data scrambled this way must be
// unscrambled with ProcessAtOffset at the same offset, not with
// Unscramble.
func (d *DataScrambler) ProcessAtOffset(data []byte, offset uint64) {
	d.st.setPosition(offset)
	d.st.processData(data)
}
