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
	"encoding/binary"
	"sync"

	"github.com/launix-de/shardkv/wire"
)

// SerialIndex is the dense, array-backed backend for tables whose keys are
// small sequential integers (original_source/src/index/serial.rs). Each
// stripe owns a growable slice addressed by key/Stripes, so sequential
// keys fan out round-robin across stripes instead of piling into one.
//
// The Rust original's insert is broken — it tests shard.contains(&value)
// instead of checking for an existing key, so it can never detect a
// duplicate key whose value happens to differ from any value already
// present. This backend implements the contract correctly instead of
// reproducing that bug; it remains experimental (spec §9, open question)
// because a non-numeric or sparse key still degrades it to one giant
// slice per stripe.
type SerialIndex[V any] struct {
	stripes [Stripes]*serialStripe[V]
}

type serialStripe[V any] struct {
	mu       sync.RWMutex
	occupied []bool
	values   []V
}

// NewSerialIndex builds an empty serial index.
func NewSerialIndex[V any]() *SerialIndex[V] {
	idx := &SerialIndex[V]{}
	for i := range idx.stripes {
		idx.stripes[i] = &serialStripe[V]{}
	}
	return idx
}

// serialOrdinal interprets a key's payload as a big-endian unsigned
// integer, padding short keys with leading zeros and truncating long ones
// to their low 64 bits (a serial-engine table is only ever handed small
// integer keys in practice).
func serialOrdinal(key wire.Key) uint64 {
	p := key.Payload()
	var buf [8]byte
	n := len(p)
	if n > 8 {
		p = p[n-8:]
		n = 8
	}
	copy(buf[8-n:], p)
	return binary.BigEndian.Uint64(buf[:])
}

func (idx *SerialIndex[V]) locate(key wire.Key) (*serialStripe[V], int) {
	ord := serialOrdinal(key)
	stripeIdx := int(ord % Stripes)
	slot := int(ord / Stripes)
	return idx.stripes[stripeIdx], slot
}

func (s *serialStripe[V]) ensure(slot int) {
	if slot < len(s.occupied) {
		return
	}
	grown := make([]bool, slot+1)
	copy(grown, s.occupied)
	s.occupied = grown
	grownV := make([]V, slot+1)
	copy(grownV, s.values)
	s.values = grownV
}

func (idx *SerialIndex[V]) Insert(key wire.Key, value V) bool {
	s, slot := idx.locate(key)
	s.mu.Lock()
	defer s.mu.Unlock()
	if slot < len(s.occupied) && s.occupied[slot] {
		return false
	}
	s.ensure(slot)
	s.occupied[slot] = true
	s.values[slot] = value
	return true
}

func (idx *SerialIndex[V]) Set(key wire.Key, value V) (V, bool) {
	s, slot := idx.locate(key)
	s.mu.Lock()
	defer s.mu.Unlock()
	var prior V
	had := slot < len(s.occupied) && s.occupied[slot]
	if had {
		prior = s.values[slot]
	}
	s.ensure(slot)
	s.occupied[slot] = true
	s.values[slot] = value
	return prior, had
}

func (idx *SerialIndex[V]) Get(key wire.Key) (V, bool) {
	s, slot := idx.locate(key)
	s.mu.RLock()
	defer s.mu.RUnlock()
	if slot >= len(s.occupied) || !s.occupied[slot] {
		var zero V
		return zero, false
	}
	return s.values[slot], true
}

func (idx *SerialIndex[V]) GetAndModify(key wire.Key, f func(*V)) (V, bool) {
	s, slot := idx.locate(key)
	s.mu.Lock()
	defer s.mu.Unlock()
	if slot >= len(s.occupied) || !s.occupied[slot] {
		var zero V
		return zero, false
	}
	f(&s.values[slot])
	return s.values[slot], true
}

func (idx *SerialIndex[V]) Remove(key wire.Key) (V, bool) {
	s, slot := idx.locate(key)
	s.mu.Lock()
	defer s.mu.Unlock()
	if slot >= len(s.occupied) || !s.occupied[slot] {
		var zero V
		return zero, false
	}
	s.occupied[slot] = false
	v := s.values[slot]
	var zero V
	s.values[slot] = zero
	return v, true
}

func (idx *SerialIndex[V]) Contains(key wire.Key) bool {
	s, slot := idx.locate(key)
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slot < len(s.occupied) && s.occupied[slot]
}

func (idx *SerialIndex[V]) Clear() {
	for _, s := range idx.stripes {
		s.mu.Lock()
		s.occupied = nil
		s.values = nil
		s.mu.Unlock()
	}
}

func (idx *SerialIndex[V]) Count() int {
	total := 0
	for _, s := range idx.stripes {
		s.mu.RLock()
		for _, occ := range s.occupied {
			if occ {
				total++
			}
		}
		s.mu.RUnlock()
	}
	return total
}

// Resize pre-grows every stripe's backing slice to hint/Stripes slots, to
// avoid repeated reallocation when the caller knows the table's rough
// final size up front (spec §4.3).
func (idx *SerialIndex[V]) Resize(hint int) {
	per := hint / Stripes
	if per <= 0 {
		return
	}
	for _, s := range idx.stripes {
		s.mu.Lock()
		if len(s.occupied) < per {
			s.ensure(per - 1)
		}
		s.mu.Unlock()
	}
}

func (idx *SerialIndex[V]) ForEach(f func(wire.Key, V)) {
	for i, s := range idx.stripes {
		s.mu.RLock()
		for slot, occ := range s.occupied {
			if !occ {
				continue
			}
			ord := uint64(slot)*Stripes + uint64(i)
			f(ordinalKey(ord), s.values[slot])
		}
		s.mu.RUnlock()
	}
}

func (idx *SerialIndex[V]) ForEachMut(f func(wire.Key, *V)) {
	for i, s := range idx.stripes {
		s.mu.Lock()
		for slot, occ := range s.occupied {
			if !occ {
				continue
			}
			ord := uint64(slot)*Stripes + uint64(i)
			f(ordinalKey(ord), &s.values[slot])
		}
		s.mu.Unlock()
	}
}

func (idx *SerialIndex[V]) Retain(pred func(wire.Key, V) bool) {
	for i, s := range idx.stripes {
		s.mu.Lock()
		for slot, occ := range s.occupied {
			if !occ {
				continue
			}
			ord := uint64(slot)*Stripes + uint64(i)
			if !pred(ordinalKey(ord), s.values[slot]) {
				s.occupied[slot] = false
				var zero V
				s.values[slot] = zero
			}
		}
		s.mu.Unlock()
	}
}

func ordinalKey(ord uint64) wire.Key {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], ord)
	return wire.NewKey(buf[:])
}
