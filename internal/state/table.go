package state

import (
	"sync"
	"sync/atomic"
)

const shardCount = 16

// table is a fixed-capacity map split into shards so that hooks touching
// unrelated keys do not serialize on one lock. Every operation on a single key
// is O(1); iteration is reserved for the maintenance sweeper.
type table[K comparable, V any] struct {
	capacity int64
	count    atomic.Int64
	hash     func(K) uint64
	shards   [shardCount]shard[K, V]
}

type shard[K comparable, V any] struct {
	mu sync.Mutex
	m  map[K]*V
}

func newTable[K comparable, V any](capacity int, hash func(K) uint64) *table[K, V] {
	t := &table[K, V]{capacity: int64(capacity), hash: hash}
	per := capacity/shardCount + 1
	for i := range t.shards {
		t.shards[i].m = make(map[K]*V, per)
	}
	return t
}

func (t *table[K, V]) shardFor(k K) *shard[K, V] {
	return &t.shards[t.hash(k)&(shardCount-1)]
}

func (t *table[K, V]) lookup(k K) (*V, bool) {
	s := t.shardFor(k)
	s.mu.Lock()
	v, ok := s.m[k]
	s.mu.Unlock()
	return v, ok
}

// getOrInsert returns the existing value or inserts init(). ok is false when
// the table is full; callers must treat that as "no record".
func (t *table[K, V]) getOrInsert(k K, init func() *V) (v *V, created, ok bool) {
	s := t.shardFor(k)
	s.mu.Lock()
	defer s.mu.Unlock()
	if v, found := s.m[k]; found {
		return v, false, true
	}
	if !t.reserve() {
		return nil, false, false
	}
	v = init()
	s.m[k] = v
	return v, true, true
}

// reserve claims one unit of capacity without looping. Two inserts racing at
// the boundary may both fail; losing an insert is preferred over blocking.
func (t *table[K, V]) reserve() bool {
	if t.count.Add(1) > t.capacity {
		t.count.Add(-1)
		return false
	}
	return true
}

func (t *table[K, V]) delete(k K) bool {
	s := t.shardFor(k)
	s.mu.Lock()
	_, ok := s.m[k]
	if ok {
		delete(s.m, k)
		t.count.Add(-1)
	}
	s.mu.Unlock()
	return ok
}

func (t *table[K, V]) len() int { return int(t.count.Load()) }

func (t *table[K, V]) cap() int { return int(t.capacity) }

// evictIf removes every entry for which pred returns true. It walks all
// shards and must only be called from maintenance tasks.
func (t *table[K, V]) evictIf(pred func(K, *V) bool) int {
	n := 0
	for i := range t.shards {
		s := &t.shards[i]
		s.mu.Lock()
		for k, v := range s.m {
			if pred(k, v) {
				delete(s.m, k)
				t.count.Add(-1)
				n++
			}
		}
		s.mu.Unlock()
	}
	return n
}

func (t *table[K, V]) each(fn func(K, *V)) {
	for i := range t.shards {
		s := &t.shards[i]
		s.mu.Lock()
		for k, v := range s.m {
			fn(k, v)
		}
		s.mu.Unlock()
	}
}

func mix64(x uint64) uint64 {
	x ^= x >> 33
	x *= 0xff51afd7ed558ccd
	x ^= x >> 33
	x *= 0xc4ceb9fe1a85ec53
	x ^= x >> 33
	return x
}

func hashPID(pid uint32) uint64 { return mix64(uint64(pid)) }
