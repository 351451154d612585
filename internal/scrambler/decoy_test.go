package scrambler

import (
	"testing"

	"github.com/dig-network/digstore/internal/dshash"
	"github.com/stretchr/testify/assert"
)

func TestDecoyDeterministicAndBounded(t *testing.T) {
	h1 := dshash.Sum([]byte("invalid-one"))
	h2 := dshash.Sum([]byte("invalid-two"))

	b1a := DecoyBytes(h1)
	b1b := DecoyBytes(h1)
	assert.Equal(t, b1a, b1b)

	b2 := DecoyBytes(h2)
	assert.NotEqual(t, b1a, b2)

	assert.GreaterOrEqual(t, len(b1a), decoyMinSize)
	assert.LessOrEqual(t, len(b1a), decoyMaxSize)
}

func TestDecoySizeWithinBounds(t *testing.T) {
	for i := 0; i < 20; i++ {
		h := dshash.Sum([]byte{byte(i)})
		size := DecoySize(h)
		assert.GreaterOrEqual(t, size, uint64(decoyMinSize))
		assert.LessOrEqual(t, size, uint64(decoyMaxSize))
	}
}
