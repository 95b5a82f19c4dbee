// Package sync provides locking helpers for per-key state.
package sync

import (
	"hash/maphash"
	"sync"
)

const shardCount = 32

// ShardedMutex serializes work per key without a mutex per key. Keys are
// hashed onto a fixed set of padded mutexes, so unrelated keys rarely
// contend and the lock set never grows.
type ShardedMutex struct {
	seed   maphash.Seed
	shards [shardCount]paddedMutex
}

type paddedMutex struct {
	sync.Mutex
	_ [56]byte
}

func NewShardedMutex() *ShardedMutex {
	return &ShardedMutex{seed: maphash.MakeSeed()}
}

func (m *ShardedMutex) Lock(key string)   { m.shard(key).Lock() }
func (m *ShardedMutex) Unlock(key string) { m.shard(key).Unlock() }

func (m *ShardedMutex) shard(key string) *paddedMutex {
	return &m.shards[m.index(key)]
}

func (m *ShardedMutex) index(key string) uint64 {
	return maphash.String(m.seed, key) % shardCount
}
