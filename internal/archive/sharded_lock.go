package archive

import "sync"

const shardCount = 256

// shardedLock provides fine-grained read locking keyed by the first byte
// of a layer hash, adapted from the filesystem storage backend's
// per-content-hash sharding so concurrent readers of different layers
// don't contend on a single mutex. Writes to the archive (add_layer,
// flush) still take the archive-wide lock, since they mutate the shared
// header/index/mmap; this sharded lock only protects the fast path of
// reading already-flushed layer bytes out of the mmap.
type shardedLock struct {
	locks [shardCount]sync.RWMutex
}

func (sl *shardedLock) shardIndex(hash [32]byte) int {
	return int(hash[0])
}

func (sl *shardedLock) RLock(hash [32]byte)   { sl.locks[sl.shardIndex(hash)].RLock() }
func (sl *shardedLock) RUnlock(hash [32]byte) { sl.locks[sl.shardIndex(hash)].RUnlock() }
func (sl *shardedLock) Lock(hash [32]byte)    { sl.locks[sl.shardIndex(hash)].Lock() }
func (sl *shardedLock) Unlock(hash [32]byte)  { sl.locks[sl.shardIndex(hash)].Unlock() }
