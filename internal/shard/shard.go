// Package shard provides lock striping keyed by string identifiers so that
// per-document state never sits behind one process-wide mutex.
package shard

import (
	"sync"

	"github.com/cespare/xxhash/v2"
)

const Count = 32

func index(key string) int {
	return int(xxhash.Sum64String(key) % Count)
}

type bucket[V any] struct {
	mu    sync.Mutex
	items map[string]V
}

// Table is a map split across Count independently locked buckets.
type Table[V any] struct {
	buckets [Count]bucket[V]
}

func NewTable[V any]() *Table[V] {
	t := &Table[V]{}
	for i := range t.buckets {
		t.buckets[i].items = make(map[string]V)
	}
	return t
}

// Do runs fn with exclusive access to the bucket owning key. fn may read and
// write items[key] (and only keys that hash to the same bucket).
func (t *Table[V]) Do(key string, fn func(items map[string]V)) {
	b := &t.buckets[index(key)]
	b.mu.Lock()
	defer b.mu.Unlock()
	fn(b.items)
}

func (t *Table[V]) Get(key string) (V, bool) {
	b := &t.buckets[index(key)]
	b.mu.Lock()
	defer b.mu.Unlock()
	v, ok := b.items[key]
	return v, ok
}

func (t *Table[V]) Set(key string, value V) {
	t.Do(key, func(items map[string]V) { items[key] = value })
}

func (t *Table[V]) Delete(key string) {
	t.Do(key, func(items map[string]V) { delete(items, key) })
}

// Len counts entries across all buckets. Each bucket is locked in turn, so
// the result is not a consistent snapshot under concurrent writes.
func (t *Table[V]) Len() int {
	n := 0
	for i := range t.buckets {
		b := &t.buckets[i]
		b.mu.Lock()
		n += len(b.items)
		b.mu.Unlock()
	}
	return n
}

// Locks hands out one mutex per key. Entries are created on demand and freed
// once no goroutine holds or waits on them.
type Locks struct {
	entries *Table[*keyLock]
}

type keyLock struct {
	mu   sync.Mutex
	refs int
}

func NewLocks() *Locks {
	return &Locks{entries: NewTable[*keyLock]()}
}

func (l *Locks) Lock(key string) (unlock func()) {
	var kl *keyLock
	l.entries.Do(key, func(items map[string]*keyLock) {
		kl = items[key]
		if kl == nil {
			kl = &keyLock{}
			items[key] = kl
		}
		kl.refs++
	})
	kl.mu.Lock()
	return func() {
		kl.mu.Unlock()
		l.entries.Do(key, func(items map[string]*keyLock) {
			kl.refs--
			if kl.refs == 0 {
				delete(items, key)
			}
		})
	}
}
