// Package syncutil provides small concurrency helpers.
package syncutil

import (
	"hash/fnv"
	"sync"
)

const shardCount = 256

// ShardedMutex is a fixed pool of mutexes keyed by string. The escrow
// service locks by record ID; a fixed pool keeps memory bounded no
// matter how many records pass through, at the cost of occasional
// false sharing when two keys hash to the same shard.
type ShardedMutex struct {
	shards [shardCount]sync.Mutex
}

// Lock acquires the shard for key and returns its unlock function.
func (s *ShardedMutex) Lock(key string) func() {
	mu := s.shard(key)
	mu.Lock()
	return mu.Unlock
}

func (s *ShardedMutex) shard(key string) *sync.Mutex {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return &s.shards[h.Sum32()%shardCount]
}
