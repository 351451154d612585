package scrambler

import (
	"bytes"
	"testing"

	"github.com/dig-network/digstore/internal/dshash"
	"github.com/dig-network/digstore/internal/urn"
	"github.com/stretchr/testify/assert"
)

func sampleURN(t *testing.T) urn.Urn {
	storeId := dshash.Sum([]byte("store"))
	root := dshash.Sum([]byte("root"))
	return urn.Urn{StoreId: storeId, RootHash: &root, ResourcePath: "a.txt", HasPath: true}
}

func TestScrambleUnscrambleSymmetry(t *testing.T) {
	u := sampleURN(t)
	original := []byte("the quick brown fox jumps over the lazy dog")

	data := append([]byte(nil), original...)
	FromURN(u).Scramble(data)
	assert.NotEqual(t, original, data)

	FromURN(u).Unscramble(data)
	assert.Equal(t, original, data)
}

func TestScrambleDeterministic(t *testing.T) {
	u := sampleURN(t)
	data1 := []byte("deterministic payload")
	data2 := append([]byte(nil), data1...)

	FromURN(u).Scramble(data1)
	FromURN(u).Scramble(data2)
	assert.Equal(t, data1, data2)
}

func TestDifferentURNDiffersSubstantially(t *testing.T) {
	u1 := sampleURN(t)
	u2 := u1
	u2.ResourcePath = "b.txt"

	data := bytes.Repeat([]byte{0x00}, 256)
	out1 := append([]byte(nil), data...)
	out2 := append([]byte(nil), data...)
	FromURN(u1).Scramble(out1)
	FromURN(u2).Scramble(out2)

	diff := 0
	for i := range out1 {
		if out1[i] != out2[i] {
			diff++
		}
	}
	assert.Greater(t, diff, len(out1)/4)
}

func TestProcessAtOffsetMatchesLongerRunFromSameOffset(t *testing.T) {
	u := sampleURN(t)
	full := []byte("0123456789abcdefghijklmnopqrstuvwxyz")

	const offset = 10
	tailScrambled := append([]byte(nil), full[offset:]...)
	FromURN(u).ProcessAtOffset(tailScrambled, offset)

	chunk := append([]byte(nil), full[offset:offset+5]...)
	FromURN(u).ProcessAtOffset(chunk, offset)

	assert.Equal(t, tailScrambled[:5], chunk)
}
