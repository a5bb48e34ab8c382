/*
Copyright (C) 2023  Carl-Philip Hänsch

    This program is free software: you can redistribute it and/or modify
    it under the terms of the GNU General Public License as published by
    the Free Software Foundation, either version 3 of the License, or
    (at your option) any later version.

    This program is distributed in the hope that it will be useful,
    but WITHOUT ANY WARRANTY; without even the implied warranty of
    MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
    GNU General Public License for more details.

    You should have received a copy of the GNU General Public License
    along with this program.  If not, see <https://www.gnu.org/licenses/>.
*/
package index

import (
	"bytes"
	"sync"

	"github.com/google/btree"

	"github.com/launix-de/shardkv/wire"
)

// orderedEntry is the btree item. Ordering is over the raw key payload so
// range behaviour (should this spec ever grow range scans — currently a
// Non-goal, see spec §1) falls directly out of the underlying tree.
type orderedEntry[V any] struct {
	key   wire.Key
	value V
}

func lessEntry[V any](a, b orderedEntry[V]) bool {
	return bytes.Compare(a.key.Payload(), b.key.Payload()) < 0
}

type orderedStripe[V any] struct {
	mu   sync.RWMutex
	tree *btree.BTreeG[orderedEntry[V]]
}

// OrderedIndex is the 512-way striped balanced-tree backend
// (original_source/src/index/tree.rs), implemented here on top of
// google/btree — the same library the teacher uses for its delta-storage
// index (_examples/launix-de-memcp/storage/index.go).
type OrderedIndex[V any] struct {
	stripes [Stripes]*orderedStripe[V]
}

// NewOrderedIndex builds an empty ordered index.
func NewOrderedIndex[V any]() *OrderedIndex[V] {
	idx := &OrderedIndex[V]{}
	for i := range idx.stripes {
		idx.stripes[i] = &orderedStripe[V]{tree: btree.NewG(32, lessEntry[V])}
	}
	return idx
}

func (idx *OrderedIndex[V]) stripe(key wire.Key) *orderedStripe[V] {
	return idx.stripes[stripeOf(key)]
}

func (idx *OrderedIndex[V]) Insert(key wire.Key, value V) bool {
	s := idx.stripe(key)
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tree.Get(orderedEntry[V]{key: key}); ok {
		return false
	}
	s.tree.ReplaceOrInsert(orderedEntry[V]{key: key, value: value})
	return true
}

func (idx *OrderedIndex[V]) Set(key wire.Key, value V) (V, bool) {
	s := idx.stripe(key)
	s.mu.Lock()
	defer s.mu.Unlock()
	prior, had := s.tree.ReplaceOrInsert(orderedEntry[V]{key: key, value: value})
	return prior.value, had
}

func (idx *OrderedIndex[V]) Get(key wire.Key) (V, bool) {
	s := idx.stripe(key)
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.tree.Get(orderedEntry[V]{key: key})
	return e.value, ok
}

func (idx *OrderedIndex[V]) GetAndModify(key wire.Key, f func(*V)) (V, bool) {
	s := idx.stripe(key)
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.tree.Get(orderedEntry[V]{key: key})
	if !ok {
		var zero V
		return zero, false
	}
	f(&e.value)
	s.tree.ReplaceOrInsert(e)
	return e.value, true
}

func (idx *OrderedIndex[V]) Remove(key wire.Key) (V, bool) {
	s := idx.stripe(key)
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.tree.Delete(orderedEntry[V]{key: key})
	return e.value, ok
}

func (idx *OrderedIndex[V]) Contains(key wire.Key) bool {
	s := idx.stripe(key)
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.tree.Get(orderedEntry[V]{key: key})
	return ok
}

func (idx *OrderedIndex[V]) Clear() {
	for _, s := range idx.stripes {
		s.mu.Lock()
		s.tree.Clear(false)
		s.mu.Unlock()
	}
}

func (idx *OrderedIndex[V]) Count() int {
	total := 0
	for _, s := range idx.stripes {
		s.mu.RLock()
		total += s.tree.Len()
		s.mu.RUnlock()
	}
	return total
}

func (idx *OrderedIndex[V]) Resize(hint int) {
	// btree grows its nodes on demand; nothing to pre-reserve.
}

func (idx *OrderedIndex[V]) ForEach(f func(wire.Key, V)) {
	for _, s := range idx.stripes {
		s.mu.RLock()
		s.tree.Ascend(func(e orderedEntry[V]) bool {
			f(e.key, e.value)
			return true
		})
		s.mu.RUnlock()
	}
}

func (idx *OrderedIndex[V]) ForEachMut(f func(wire.Key, *V)) {
	for _, s := range idx.stripes {
		s.mu.Lock()
		var pending []orderedEntry[V]
		s.tree.Ascend(func(e orderedEntry[V]) bool {
			f(e.key, &e.value)
			pending = append(pending, e)
			return true
		})
		for _, e := range pending {
			s.tree.ReplaceOrInsert(e)
		}
		s.mu.Unlock()
	}
}

func (idx *OrderedIndex[V]) Retain(pred func(wire.Key, V) bool) {
	for _, s := range idx.stripes {
		s.mu.Lock()
		var drop []orderedEntry[V]
		s.tree.Ascend(func(e orderedEntry[V]) bool {
			if !pred(e.key, e.value) {
				drop = append(drop, e)
			}
			return true
		})
		for _, e := range drop {
			s.tree.Delete(e)
		}
		s.mu.Unlock()
	}
}
