// Package errs implements the structured error taxonomy of the storage
// engine: a kind plus a human-readable string, so callers can use
// errors.As to branch on the specific failure while still getting a
// sensible Error() string for logs.
package errs

import "fmt"

// InvalidFormat signals bad magic, version, or section bounds while
// parsing an on-disk structure.
type InvalidFormat struct {
	Where  string
	Reason string
}

func (e *InvalidFormat) Error() string {
	return fmt.Sprintf("invalid format in %s: %s", e.Where, e.Reason)
}

// UnsupportedVersion signals an on-disk version newer or older than what
// this engine understands.
type UnsupportedVersion struct {
	Found     uint32
	Supported uint32
}

func (e *UnsupportedVersion) Error() string {
	return fmt.Sprintf("unsupported version %d, supported %d", e.Found, e.Supported)
}

// ChecksumMismatch signals a CRC32 failure on a layer payload.
type ChecksumMismatch struct {
	Expected uint32
	Actual   uint32
}

func (e *ChecksumMismatch) Error() string {
	return fmt.Sprintf("checksum mismatch: expected %08x, got %08x", e.Expected, e.Actual)
}

// LayerNotFound signals a missing layer on an access-controlled path.
type LayerNotFound struct {
	Hash string
}

func (e *LayerNotFound) Error() string {
	return fmt.Sprintf("layer not found: %s", e.Hash)
}

// FileNotFound signals a missing file entry within a layer.
type FileNotFound struct {
	Path string
}

func (e *FileNotFound) Error() string {
	return fmt.Sprintf("file not found: %s", e.Path)
}

// StoreNotFound signals a missing store/archive.
type StoreNotFound struct {
	Path string
}

func (e *StoreNotFound) Error() string {
	return fmt.Sprintf("store not found: %s", e.Path)
}

// InvalidStoreId signals a malformed or mismatched store ID.
type InvalidStoreId struct {
	Reason string
}

func (e *InvalidStoreId) Error() string {
	return fmt.Sprintf("invalid store id: %s", e.Reason)
}

// InvalidUrn signals a URN that fails the grammar in spec §6.2.
type InvalidUrn struct {
	Reason string
}

func (e *InvalidUrn) Error() string {
	return fmt.Sprintf("invalid urn: %s", e.Reason)
}

// InvalidHash signals a malformed hex hash.
type InvalidHash struct {
	Reason string
}

func (e *InvalidHash) Error() string {
	return fmt.Sprintf("invalid hash: %s", e.Reason)
}

// MissingUrnComponent signals a URN missing a component an operation
// requires (e.g. resource_path for a file proof).
type MissingUrnComponent struct {
	Name string
}

func (e *MissingUrnComponent) Error() string {
	return fmt.Sprintf("missing urn component: %s", e.Name)
}

// AccessDenied signals a URN that fails access control, distinct from the
// zero-knowledge lookup surface which never reports this.
type AccessDenied struct {
	Reason string
}

func (e *AccessDenied) Error() string {
	return fmt.Sprintf("access denied: %s", e.Reason)
}

// ScramblingFailed signals a failure while applying the URN-keyed keystream
// cipher on write.
type ScramblingFailed struct {
	Reason string
}

func (e *ScramblingFailed) Error() string {
	return fmt.Sprintf("scrambling failed: %s", e.Reason)
}

// UnscramblingFailed signals a failure while reversing the keystream cipher
// on read.
type UnscramblingFailed struct {
	Reason string
}

func (e *UnscramblingFailed) Error() string {
	return fmt.Sprintf("unscrambling failed: %s", e.Reason)
}

// NothingToCommit signals an attempted commit with an empty staging area.
type NothingToCommit struct{}

func (e *NothingToCommit) Error() string {
	return "nothing to commit: staging area is empty"
}

// MerkleTreeFailed signals a failure constructing or verifying a Merkle
// tree, e.g. building from zero leaves.
type MerkleTreeFailed struct {
	Reason string
}

func (e *MerkleTreeFailed) Error() string {
	return fmt.Sprintf("merkle tree failed: %s", e.Reason)
}

// SizeMismatch signals that an archive's on-disk size does not match an
// expected size during size-proof generation.
type SizeMismatch struct {
	Calculated int64
	Expected   int64
}

func (e *SizeMismatch) Error() string {
	return fmt.Sprintf("size mismatch: calculated %d, expected %d", e.Calculated, e.Expected)
}

// RootNotInHistory signals that a root hash supplied to size-proof
// generation is not a layer in the archive's index (Layer 0's root
// history is not read); generation fails with
// this unless the caller opts into permissive mode (SPEC_FULL.md §4).
type RootNotInHistory struct {
	RootHash string
}

func (e *RootNotInHistory) Error() string {
	return fmt.Sprintf("root hash not found in history: %s", e.RootHash)
}
