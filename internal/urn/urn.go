// Package urn implements the canonical address grammar for data inside a
// Store:
//
//	urn:dig:chia:<store_id_hex>[:<root_hex>][/<path>][#bytes=<range>]
//	range := start-end | start- | -count
//
// Parsed URNs are value types; they hold no references into the source
// string.
package urn

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/dig-network/digstore/internal/dshash"
	"github.com/dig-network/digstore/internal/errs"
)

const prefix = "urn:dig:chia:"

// ByteRange is an inclusive, optionally open-ended byte range.
type ByteRange struct {
	Start *uint64
	End   *uint64
}

// NewRange builds a fully-bounded range.
func NewRange(start, end uint64) ByteRange {
	s, e := start, end
	return ByteRange{Start: &s, End: &e}
}

// FromStart builds a range open at the end: "from start to EOF".
func FromStart(start uint64) ByteRange {
	s := start
	return ByteRange{Start: &s}
}

// LastBytes builds a range meaning "the last count bytes".
func LastBytes(count uint64) ByteRange {
	e := count
	return ByteRange{End: &e}
}

// String renders the range per the four cases in the grammar.
func (r ByteRange) String() string {
	switch {
	case r.Start != nil && r.End != nil:
		return fmt.Sprintf("#bytes=%d-%d", *r.Start, *r.End)
	case r.Start != nil && r.End == nil:
		return fmt.Sprintf("#bytes=%d-", *r.Start)
	case r.Start == nil && r.End != nil:
		return fmt.Sprintf("#bytes=-%d", *r.End)
	default:
		return ""
	}
}

// Urn is a parsed, self-contained address.
type Urn struct {
	StoreId      dshash.StoreId
	RootHash     *dshash.Hash
	ResourcePath string // empty means absent
	HasPath      bool
	ByteRange    *ByteRange
}

// String renders u back to its canonical textual form.
func (u Urn) String() string {
	var sb strings.Builder
	sb.WriteString(prefix)
	sb.WriteString(u.StoreId.Hex())
	if u.RootHash != nil {
		sb.WriteString(":")
		sb.WriteString(u.RootHash.Hex())
	}
	if u.HasPath {
		sb.WriteString("/")
		sb.WriteString(u.ResourcePath)
	}
	if u.ByteRange != nil {
		sb.WriteString(u.ByteRange.String())
	}
	return sb.String()
}

// WithByteRange returns a copy of u with the byte range replaced.
func (u Urn) WithByteRange(r ByteRange) Urn {
	u.ByteRange = &r
	return u
}

// Parse parses a URN string per the grammar in the package comment
// (spec.md §6.2).
func Parse(s string) (Urn, error) {
	if !strings.HasPrefix(s, prefix) {
		return Urn{}, &errs.InvalidUrn{Reason: fmt.Sprintf("must start with %q, got %q", prefix, s)}
	}
	remainder := s[len(prefix):]

	mainPart := remainder
	var byteRangeStr string
	hasByteRange := false
	if idx := strings.IndexByte(remainder, '#'); idx >= 0 {
		mainPart = remainder[:idx]
		byteRangeStr = remainder[idx:]
		hasByteRange = true
	}

	idPart := mainPart
	var pathStr string
	hasPath := false
	if idx := strings.IndexByte(mainPart, '/'); idx >= 0 {
		idPart = mainPart[:idx]
		pathStr = mainPart[idx+1:]
		hasPath = true
	}

	storeIdStr := idPart
	var rootHashStr string
	hasRoot := false
	if idx := strings.IndexByte(idPart, ':'); idx >= 0 {
		storeIdStr = idPart[:idx]
		rootHashStr = idPart[idx+1:]
		hasRoot = true
	}

	storeId, err := dshash.FromHex(storeIdStr)
	if err != nil {
		return Urn{}, &errs.InvalidUrn{Reason: fmt.Sprintf("invalid store id: %s", storeIdStr)}
	}

	out := Urn{StoreId: storeId, ResourcePath: pathStr, HasPath: hasPath}

	if hasRoot {
		root, err := dshash.FromHex(rootHashStr)
		if err != nil {
			return Urn{}, &errs.InvalidUrn{Reason: fmt.Sprintf("invalid root hash: %s", rootHashStr)}
		}
		out.RootHash = &root
	}

	if hasByteRange {
		br, err := parseByteRange(byteRangeStr)
		if err != nil {
			return Urn{}, err
		}
		out.ByteRange = &br
	}

	return out, nil
}

func parseByteRange(s string) (ByteRange, error) {
	const rangePrefix = "#bytes="
	if !strings.HasPrefix(s, rangePrefix) {
		return ByteRange{}, &errs.InvalidUrn{Reason: fmt.Sprintf("invalid byte range format: %s", s)}
	}
	rangePart := s[len(rangePrefix):]

	switch {
	case strings.HasPrefix(rangePart, "-"):
		countStr := rangePart[1:]
		count, err := strconv.ParseUint(countStr, 10, 64)
		if err != nil {
			return ByteRange{}, &errs.InvalidUrn{Reason: fmt.Sprintf("invalid byte count: %s", countStr)}
		}
		return LastBytes(count), nil
	case strings.HasSuffix(rangePart, "-"):
		startStr := rangePart[:len(rangePart)-1]
		start, err := strconv.ParseUint(startStr, 10, 64)
		if err != nil {
			return ByteRange{}, &errs.InvalidUrn{Reason: fmt.Sprintf("invalid start byte: %s", startStr)}
		}
		return FromStart(start), nil
	default:
		idx := strings.IndexByte(rangePart, '-')
		if idx < 0 {
			return ByteRange{}, &errs.InvalidUrn{Reason: fmt.Sprintf("invalid byte range format: %s", s)}
		}
		startStr := rangePart[:idx]
		endStr := rangePart[idx+1:]
		start, err := strconv.ParseUint(startStr, 10, 64)
		if err != nil {
			return ByteRange{}, &errs.InvalidUrn{Reason: fmt.Sprintf("invalid start byte: %s", startStr)}
		}
		end, err := strconv.ParseUint(endStr, 10, 64)
		if err != nil {
			return ByteRange{}, &errs.InvalidUrn{Reason: fmt.Sprintf("invalid end byte: %s", endStr)}
		}
		if start > end {
			return ByteRange{}, &errs.InvalidUrn{Reason: fmt.Sprintf("start byte (%d) cannot be greater than end byte (%d)", start, end)}
		}
		return NewRange(start, end), nil
	}
}
