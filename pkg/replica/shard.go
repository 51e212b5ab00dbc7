package replica

import (
	"sync"

	"github.com/cespare/xxhash/v2"

	"github.com/nainya/eavstore/pkg/ident"
)

const shardCount = 32

// shardedMap is a concurrent map split into independently locked shards.
// Writers to different shards never contend. Range visits shards one at a
// time, so it sees a consistent copy of each shard but not of the whole map.
type shardedMap[K comparable, V any] struct {
	shards [shardCount]shard[K, V]
	hash   func(K) uint64
}

type shard[K comparable, V any] struct {
	mu sync.RWMutex
	m  map[K]V
}

func newShardedMap[K comparable, V any](hash func(K) uint64) *shardedMap[K, V] {
	sm := &shardedMap[K, V]{hash: hash}
	for i := range sm.shards {
		sm.shards[i].m = make(map[K]V)
	}
	return sm
}

func (sm *shardedMap[K, V]) shardFor(k K) *shard[K, V] {
	return &sm.shards[sm.hash(k)%shardCount]
}

func (sm *shardedMap[K, V]) load(k K) (V, bool) {
	s := sm.shardFor(k)
	s.mu.RLock()
	v, ok := s.m[k]
	s.mu.RUnlock()
	return v, ok
}

func (sm *shardedMap[K, V]) store(k K, v V) {
	s := sm.shardFor(k)
	s.mu.Lock()
	s.m[k] = v
	s.mu.Unlock()
}

func (sm *shardedMap[K, V]) delete(k K) {
	s := sm.shardFor(k)
	s.mu.Lock()
	delete(s.m, k)
	s.mu.Unlock()
}

func (sm *shardedMap[K, V]) len() int {
	n := 0
	for i := range sm.shards {
		s := &sm.shards[i]
		s.mu.RLock()
		n += len(s.m)
		s.mu.RUnlock()
	}
	return n
}

// snapshot copies every shard in turn. The result may mix states the map
// passed through while it was being copied.
func (sm *shardedMap[K, V]) snapshot(fn func(K, V)) {
	for i := range sm.shards {
		s := &sm.shards[i]
		s.mu.RLock()
		keys := make([]K, 0, len(s.m))
		vals := make([]V, 0, len(s.m))
		for k, v := range s.m {
			keys = append(keys, k)
			vals = append(vals, v)
		}
		s.mu.RUnlock()

		for j := range keys {
			fn(keys[j], vals[j])
		}
	}
}

func hashID(id ident.ID) uint64 {
	return xxhash.Sum64(id[:])
}

func hashKey(k ident.EntityAttribute) uint64 {
	var buf [2 * ident.Size]byte
	copy(buf[:ident.Size], k.Entity[:])
	copy(buf[ident.Size:], k.Attribute[:])
	return xxhash.Sum64(buf[:])
}
