// Package chunk implements content-defined chunking with a rolling hash,
// so that inserting or removing bytes in a file shifts only a bounded
// number of neighboring chunk boundaries. This underlies deduplication
// across commits (spec §4.1).
package chunk

import (
	"bufio"
	"context"
	"io"

	"github.com/dig-network/digstore/internal/dshash"
)

// Chunk is a content-defined slice of a file.
type Chunk struct {
	Hash   dshash.ChunkHash
	Offset uint64
	Size   uint32
	Data   []byte
}

// Params configures the chunker's boundary search.
type Params struct {
	MinSize    uint32
	TargetSize uint32
	MaxSize    uint32
}

// DefaultParams returns the documented defaults from SPEC_FULL.md §4: the
// Open Question on chunker tunables resolved to 512 KiB / 1 MiB / 4 MiB.
func DefaultParams() Params {
	return Params{
		MinSize:    512 * 1024,
		TargetSize: 1024 * 1024,
		MaxSize:    4 * 1024 * 1024,
	}
}

const (
	gearPolyMask = uint64(0xD9) // odd mixing constant used to seed the gear table
	// maskBitsForAverage controls the average chunk size via the number of
	// trailing zero bits required in the rolling hash at the target size.
)

var gearTable [256]uint64

func init() {
	// Deterministic pseudo-random gear table derived from SHA-256 chaining,
	// so the chunker needs no external randomness source and is a pure
	// function of its inputs (spec §4.1's determinism contract).
	seed := dshash.Sum([]byte("digstore-gear-table"))
	state := seed
	for i := range gearTable {
		state = dshash.Sum(state[:])
		var v uint64
		for b := 0; b < 8; b++ {
			v = (v << 8) | uint64(state[b])
		}
		gearTable[i] = v ^ (uint64(i) * gearPolyMask)
	}
}

// Chunker performs content-defined chunking using a gear-hash rolling
// window (a simplified FastCDC variant): the boundary test looks only at
// a rolling hash over the trailing bytes, so the same content always
// produces the same cut points regardless of surrounding context once
// past the minimum chunk size.
type Chunker struct {
	params Params
	maskS  uint64 // mask applied below target size (more bits, harder to satisfy, suppresses small chunks)
	maskL  uint64 // mask applied at/above target size (fewer bits, easier to satisfy, cuts soon after TargetSize)
}

// New constructs a Chunker from params, filling in defaults for zero
// fields.
func New(params Params) *Chunker {
	if params.MinSize == 0 {
		params.MinSize = DefaultParams().MinSize
	}
	if params.TargetSize == 0 {
		params.TargetSize = DefaultParams().TargetSize
	}
	if params.MaxSize == 0 {
		params.MaxSize = DefaultParams().MaxSize
	}
	bits := maskBitsForAverage(params.TargetSize)
	return &Chunker{
		params: params,
		maskS:  (1 << (bits + 1)) - 1,
		maskL:  (1 << (bits - 1)) - 1,
	}
}

func maskBitsForAverage(target uint32) uint {
	bits := uint(0)
	for v := target; v > 1; v >>= 1 {
		bits++
	}
	if bits < 2 {
		bits = 2
	}
	return bits
}

// ChunkAll reads r fully and returns the resulting chunks in file order.
// Same bytes always yield the same chunks (hashes, offsets, sizes): the
// chunker is a pure function of input bytes and parameters.
func (c *Chunker) ChunkAll(ctx context.Context, r io.Reader) ([]Chunk, error) {
	out := make([]Chunk, 0, 16)
	ch, errc := c.Chunk(ctx, r)
	for chunk := range ch {
		out = append(out, chunk)
	}
	if err := <-errc; err != nil {
		return nil, err
	}
	return out, nil
}

// Chunk streams chunk boundaries from r, bounding peak auxiliary memory to
// O(max chunk size) as required by spec §4.1.
func (c *Chunker) Chunk(ctx context.Context, r io.Reader) (<-chan Chunk, <-chan error) {
	out := make(chan Chunk)
	errc := make(chan error, 1)

	go func() {
		defer close(out)
		defer close(errc)

		br := bufio.NewReaderSize(r, int(c.params.MaxSize))
		buf := make([]byte, 0, c.params.MaxSize)
		var offset uint64

		flush := func(data []byte) {
			h := dshash.Sum(data)
			out <- Chunk{Hash: h, Offset: offset, Size: uint32(len(data)), Data: append([]byte(nil), data...)}
			offset += uint64(len(data))
		}

		for {
			select {
			case <-ctx.Done():
				errc <- ctx.Err()
				return
			default:
			}

			b, err := br.ReadByte()
			if err == io.EOF {
				if len(buf) > 0 {
					flush(buf)
				}
				return
			}
			if err != nil {
				errc <- err
				return
			}
			buf = append(buf, b)

			n := uint32(len(buf))
			if n >= c.params.MaxSize {
				flush(buf)
				buf = buf[:0]
				continue
			}
			if n < c.params.MinSize {
				continue
			}
			if c.atBoundary(buf, n) {
				flush(buf)
				buf = buf[:0]
			}
		}
	}()

	return out, errc
}

// atBoundary evaluates the gear-hash rolling condition over the trailing
// window of buf, using a stricter mask below the target size and a
// relaxed mask at or above it, the standard FastCDC normalization that
// concentrates chunk sizes around the target while staying a pure
// function of content.
func (c *Chunker) atBoundary(buf []byte, n uint32) bool {
	var hash uint64
	// Only the trailing window up to a bounded size matters for the
	// rolling hash; recomputing it from scratch here keeps the chunker
	// simple at the cost of O(window) work per candidate boundary, which
	// is acceptable given MinSize-gated candidate checks.
	const window = 48
	start := 0
	if int(n) > window {
		start = int(n) - window
	}
	for _, b := range buf[start:] {
		hash = (hash << 1) + gearTable[b]
	}
	if n < c.params.TargetSize {
		return hash&c.maskS == 0
	}
	return hash&c.maskL == 0
}
