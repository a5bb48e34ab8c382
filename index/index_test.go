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
	"fmt"
	"sync"
	"testing"

	"github.com/launix-de/shardkv/wire"
)

// backends covers the two general-purpose string-key backends.
// SerialIndex interprets a key's payload as a big-endian integer
// ordinal (serial.go's serialOrdinal), so it is exercised separately
// below with small numeric keys instead of arbitrary strings.
func backends() map[string]Index[int] {
	return map[string]Index[int]{
		"hash":    NewHashIndex[int](),
		"ordered": NewOrderedIndex[int](),
	}
}

func TestIndexInsertGetRemove(t *testing.T) {
	for name, idx := range backends() {
		t.Run(name, func(t *testing.T) {
			k := wire.NewKey([]byte("k1"))
			if !idx.Insert(k, 42) {
				t.Fatalf("first Insert should succeed")
			}
			if idx.Insert(k, 43) {
				t.Fatalf("second Insert of the same key should fail")
			}
			v, ok := idx.Get(k)
			if !ok || v != 42 {
				t.Fatalf("Get = (%d, %v), want (42, true)", v, ok)
			}
			if !idx.Contains(k) {
				t.Fatalf("Contains should be true after Insert")
			}
			prior, hadPrior := idx.Remove(k)
			if !hadPrior || prior != 42 {
				t.Fatalf("Remove = (%d, %v), want (42, true)", prior, hadPrior)
			}
			if idx.Contains(k) {
				t.Fatalf("Contains should be false after Remove")
			}
			if _, hadPrior := idx.Remove(k); hadPrior {
				t.Fatalf("second Remove should report no prior value")
			}
		})
	}
}

func TestIndexSetOverwrites(t *testing.T) {
	for name, idx := range backends() {
		t.Run(name, func(t *testing.T) {
			k := wire.NewKey([]byte("k2"))
			if _, hadPrior := idx.Set(k, 1); hadPrior {
				t.Fatalf("first Set should report no prior value")
			}
			prior, hadPrior := idx.Set(k, 2)
			if !hadPrior || prior != 1 {
				t.Fatalf("second Set = (%d, %v), want (1, true)", prior, hadPrior)
			}
			v, ok := idx.Get(k)
			if !ok || v != 2 {
				t.Fatalf("Get after Set = (%d, %v), want (2, true)", v, ok)
			}
		})
	}
}

func TestIndexGetAndModify(t *testing.T) {
	for name, idx := range backends() {
		t.Run(name, func(t *testing.T) {
			k := wire.NewKey([]byte("k3"))
			idx.Insert(k, 10)
			v, ok := idx.GetAndModify(k, func(p *int) { *p += 5 })
			if !ok || v != 15 {
				t.Fatalf("GetAndModify = (%d, %v), want (15, true)", v, ok)
			}
			v, _ = idx.Get(k)
			if v != 15 {
				t.Fatalf("Get after GetAndModify = %d, want 15", v)
			}
		})
	}
}

func TestIndexCountClearForEachRetain(t *testing.T) {
	for name, idx := range backends() {
		t.Run(name, func(t *testing.T) {
			for i := 0; i < 100; i++ {
				idx.Insert(wire.NewKey([]byte(fmt.Sprintf("key-%03d", i))), i)
			}
			if idx.Count() != 100 {
				t.Fatalf("Count() = %d, want 100", idx.Count())
			}
			seen := map[string]int{}
			idx.ForEach(func(k wire.Key, v int) { seen[k.String()] = v })
			if len(seen) != 100 {
				t.Fatalf("ForEach visited %d keys, want 100", len(seen))
			}
			idx.ForEachMut(func(k wire.Key, v *int) { *v *= 2 })
			v, _ := idx.Get(wire.NewKey([]byte("key-007")))
			if v != 14 {
				t.Fatalf("after ForEachMut doubling, key-007 = %d, want 14", v)
			}
			idx.Retain(func(k wire.Key, v int) bool { return v < 50 })
			if idx.Count() >= 100 {
				t.Fatalf("Retain should have dropped some entries, Count() = %d", idx.Count())
			}
			idx.ForEach(func(k wire.Key, v int) {
				if v >= 50 {
					t.Fatalf("Retain left a value %d >= 50", v)
				}
			})
			idx.Clear()
			if idx.Count() != 0 {
				t.Fatalf("Count() after Clear = %d, want 0", idx.Count())
			}
		})
	}
}

func TestIndexResizeIsNoopSafe(t *testing.T) {
	for name, idx := range backends() {
		t.Run(name, func(t *testing.T) {
			idx.Resize(1000)
			idx.Insert(wire.NewKey([]byte("after-resize")), 1)
			if idx.Count() != 1 {
				t.Fatalf("Count() after Resize+Insert = %d, want 1", idx.Count())
			}
		})
	}
}

func TestIndexConcurrentStripesDontCorrupt(t *testing.T) {
	for name, idx := range backends() {
		t.Run(name, func(t *testing.T) {
			var wg sync.WaitGroup
			for g := 0; g < 16; g++ {
				wg.Add(1)
				go func(g int) {
					defer wg.Done()
					for i := 0; i < 200; i++ {
						k := wire.NewKey([]byte(fmt.Sprintf("g%d-k%d", g, i)))
						idx.Insert(k, g*1000+i)
					}
				}(g)
			}
			wg.Wait()
			if idx.Count() != 16*200 {
				t.Fatalf("Count() = %d, want %d", idx.Count(), 16*200)
			}
		})
	}
}

// serialKey encodes a small integer ordinal as an 8-byte big-endian key,
// the shape SerialIndex expects (serial.go's serialOrdinal reads the
// key's payload as a big-endian integer, padding/truncating to 8 bytes).
func serialKey(n uint64) wire.Key {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], n)
	return wire.NewKey(buf[:])
}

func TestSerialIndexInsertGetRemove(t *testing.T) {
	idx := NewSerialIndex[int]()
	k := serialKey(7)
	if !idx.Insert(k, 42) {
		t.Fatalf("first Insert should succeed")
	}
	if idx.Insert(k, 43) {
		t.Fatalf("second Insert of the same ordinal should fail")
	}
	v, ok := idx.Get(k)
	if !ok || v != 42 {
		t.Fatalf("Get = (%d, %v), want (42, true)", v, ok)
	}
	prior, hadPrior := idx.Remove(k)
	if !hadPrior || prior != 42 {
		t.Fatalf("Remove = (%d, %v), want (42, true)", prior, hadPrior)
	}
	if idx.Contains(k) {
		t.Fatalf("Contains should be false after Remove")
	}
}

func TestSerialIndexSequentialFanOut(t *testing.T) {
	idx := NewSerialIndex[int]()
	const n = 2000
	for i := 0; i < n; i++ {
		if !idx.Insert(serialKey(uint64(i)), i) {
			t.Fatalf("Insert(%d) should succeed", i)
		}
	}
	if idx.Count() != n {
		t.Fatalf("Count() = %d, want %d", idx.Count(), n)
	}
	for i := 0; i < n; i++ {
		v, ok := idx.Get(serialKey(uint64(i)))
		if !ok || v != i {
			t.Fatalf("Get(%d) = (%d, %v)", i, v, ok)
		}
	}
}

func TestSerialIndexForEachAndClear(t *testing.T) {
	idx := NewSerialIndex[int]()
	for i := 0; i < 50; i++ {
		idx.Insert(serialKey(uint64(i)), i*i)
	}
	seen := 0
	idx.ForEach(func(k wire.Key, v int) { seen++ })
	if seen != 50 {
		t.Fatalf("ForEach visited %d entries, want 50", seen)
	}
	idx.Clear()
	if idx.Count() != 0 {
		t.Fatalf("Count() after Clear = %d, want 0", idx.Count())
	}
}
