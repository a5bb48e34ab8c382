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
	"sync"

	"github.com/launix-de/shardkv/wire"
)

type hashStripe[V any] struct {
	mu   sync.RWMutex
	data map[string]hashEntry[V]
}

type hashEntry[V any] struct {
	key   wire.Key
	value V
}

// HashIndex is the 512-way striped hash-map backend
// (original_source/src/index/hash.rs).
type HashIndex[V any] struct {
	stripes [Stripes]*hashStripe[V]
}

// NewHashIndex builds an empty hash index.
func NewHashIndex[V any]() *HashIndex[V] {
	idx := &HashIndex[V]{}
	for i := range idx.stripes {
		idx.stripes[i] = &hashStripe[V]{data: make(map[string]hashEntry[V])}
	}
	return idx
}

func (idx *HashIndex[V]) stripe(key wire.Key) *hashStripe[V] {
	return idx.stripes[stripeOf(key)]
}

func (idx *HashIndex[V]) Insert(key wire.Key, value V) bool {
	s := idx.stripe(key)
	s.mu.Lock()
	defer s.mu.Unlock()
	k := key.String()
	if _, ok := s.data[k]; ok {
		return false
	}
	s.data[k] = hashEntry[V]{key: key, value: value}
	return true
}

func (idx *HashIndex[V]) Set(key wire.Key, value V) (V, bool) {
	s := idx.stripe(key)
	s.mu.Lock()
	defer s.mu.Unlock()
	k := key.String()
	prior, had := s.data[k]
	s.data[k] = hashEntry[V]{key: key, value: value}
	return prior.value, had
}

func (idx *HashIndex[V]) Get(key wire.Key) (V, bool) {
	s := idx.stripe(key)
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.data[key.String()]
	return e.value, ok
}

func (idx *HashIndex[V]) GetAndModify(key wire.Key, f func(*V)) (V, bool) {
	s := idx.stripe(key)
	s.mu.Lock()
	defer s.mu.Unlock()
	k := key.String()
	e, ok := s.data[k]
	if !ok {
		var zero V
		return zero, false
	}
	f(&e.value)
	s.data[k] = e
	return e.value, true
}

func (idx *HashIndex[V]) Remove(key wire.Key) (V, bool) {
	s := idx.stripe(key)
	s.mu.Lock()
	defer s.mu.Unlock()
	k := key.String()
	e, ok := s.data[k]
	if ok {
		delete(s.data, k)
	}
	return e.value, ok
}

func (idx *HashIndex[V]) Contains(key wire.Key) bool {
	s := idx.stripe(key)
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.data[key.String()]
	return ok
}

func (idx *HashIndex[V]) Clear() {
	for _, s := range idx.stripes {
		s.mu.Lock()
		s.data = make(map[string]hashEntry[V])
		s.mu.Unlock()
	}
}

func (idx *HashIndex[V]) Count() int {
	total := 0
	for _, s := range idx.stripes {
		s.mu.RLock()
		total += len(s.data)
		s.mu.RUnlock()
	}
	return total
}

func (idx *HashIndex[V]) Resize(hint int) {
	// Go maps grow on demand; nothing actionable per-stripe beyond what
	// the runtime already does for us (mirrors the Rust original's
	// tree-index resize, which is also a no-op; see tree.rs).
}

func (idx *HashIndex[V]) ForEach(f func(wire.Key, V)) {
	for _, s := range idx.stripes {
		s.mu.RLock()
		for _, e := range s.data {
			f(e.key, e.value)
		}
		s.mu.RUnlock()
	}
}

func (idx *HashIndex[V]) ForEachMut(f func(wire.Key, *V)) {
	for _, s := range idx.stripes {
		s.mu.Lock()
		for k, e := range s.data {
			f(e.key, &e.value)
			s.data[k] = e
		}
		s.mu.Unlock()
	}
}

func (idx *HashIndex[V]) Retain(pred func(wire.Key, V) bool) {
	for _, s := range idx.stripes {
		s.mu.Lock()
		for k, e := range s.data {
			if !pred(e.key, e.value) {
				delete(s.data, k)
			}
		}
		s.mu.Unlock()
	}
}
