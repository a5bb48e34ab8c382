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
package table

import (
	"github.com/launix-de/shardkv/index"
	"github.com/launix-de/shardkv/ondisk"
	"github.com/launix-de/shardkv/wire"
)

// Engine selects the storage strategy a table was created with (spec §3
// Glossary: "Engine").
type Engine int

const (
	EngineInMemory Engine = iota
	EngineOnDisk
	EngineCache
)

func (e Engine) String() string {
	switch e {
	case EngineInMemory:
		return "in_memory"
	case EngineOnDisk:
		return "on_disk"
	case EngineCache:
		return "cache"
	default:
		return "unknown"
	}
}

// WALWriter is implemented by the owning shard; a table calls it to
// append an INSERT/SET/DELETE record before mutating, when Logging is
// set (spec §4.5 InMemory: "optionally writes ... before mutating").
type WALWriter interface {
	WriteRecord(action byte, tableNumber uint16, payload []byte) error
}

// Table is one named table on one shard: tuple (number, name, engine,
// logging, cache_ttl, scheme, index) per spec §3.
type Table struct {
	Number  uint16
	Name    string
	Engine  Engine
	Logging bool

	// HasTTL/TTLMinute together encode the spec's "u64 or ⊥": TTL only
	// applies to the Cache engine.
	HasTTL    bool
	TTLMinute uint64

	Scheme Scheme

	dir string
	wal WALWriter

	mem   index.Index[wire.Value]
	disk  *ondisk.Engine
	cache index.Index[cacheEntry]

	generation int
}

// NewInMemory creates an in-memory table backed by a striped hash index.
func NewInMemory(number uint16, name string, logging bool, scheme Scheme, wal WALWriter) *Table {
	return &Table{
		Number:  number,
		Name:    name,
		Engine:  EngineInMemory,
		Logging: logging,
		Scheme:  scheme,
		wal:     wal,
		mem:     index.NewHashIndex[wire.Value](),
	}
}

// NewOnDisk creates an on-disk table rooted at dir. It never logs to the
// WAL: durability already lives in the bucket data files (spec §4.5).
func NewOnDisk(number uint16, name string, scheme Scheme, dir string, bucketHint int) (*Table, error) {
	eng, err := ondisk.Open(dir, bucketHint)
	if err != nil {
		return nil, err
	}
	return &Table{
		Number: number,
		Name:   name,
		Engine: EngineOnDisk,
		Scheme: scheme,
		dir:    dir,
		disk:   eng,
	}, nil
}

// NewCache creates a TTL cache table. ttlMinutes of 0 with hasTTL=false
// means entries never expire.
func NewCache(number uint16, name string, logging bool, hasTTL bool, ttlMinutes uint64, scheme Scheme, wal WALWriter) *Table {
	return &Table{
		Number:    number,
		Name:      name,
		Engine:    EngineCache,
		Logging:   logging,
		HasTTL:    hasTTL,
		TTLMinute: ttlMinutes,
		Scheme:    scheme,
		wal:       wal,
		cache:     index.NewHashIndex[cacheEntry](),
	}
}

// Insert is a no-op returning false if the key is already present,
// otherwise inserts and (for logged engines) appends a WAL record first.
func (t *Table) Insert(key wire.Key, value wire.Value) (bool, error) {
	if t.Logging && t.wal != nil {
		if err := t.wal.WriteRecord(opInsert, t.Number, recordPayload(key, value)); err != nil {
			return false, err
		}
	}
	return t.InsertWithoutLog(key, value), nil
}

// InsertWithoutLog performs the mutation with no WAL side effect, used
// both by normal on-disk/non-logging tables and by WAL replay, where
// logging would re-append what is already being replayed (spec §4.6 Boot
// sequence: "invoking each table's *_without_log variant").
func (t *Table) InsertWithoutLog(key wire.Key, value wire.Value) bool {
	switch t.Engine {
	case EngineInMemory:
		return t.mem.Insert(key, value)
	case EngineOnDisk:
		return t.disk.Insert(key, value)
	case EngineCache:
		return t.cache.Insert(key, cacheEntry{minute: currentMinute(), value: value})
	}
	return false
}

// Set always upserts, returning the prior value if any.
func (t *Table) Set(key wire.Key, value wire.Value) (wire.Value, bool, error) {
	if t.Logging && t.wal != nil {
		if err := t.wal.WriteRecord(opSet, t.Number, recordPayload(key, value)); err != nil {
			return nil, false, err
		}
	}
	prior, had := t.SetWithoutLog(key, value)
	return prior, had, nil
}

func (t *Table) SetWithoutLog(key wire.Key, value wire.Value) (wire.Value, bool) {
	switch t.Engine {
	case EngineInMemory:
		return t.mem.Set(key, value)
	case EngineOnDisk:
		return t.disk.Set(key, value)
	case EngineCache:
		prior, had := t.cache.Set(key, cacheEntry{minute: currentMinute(), value: value})
		return prior.value, had
	}
	return nil, false
}

// Get looks up a key. For the Cache engine it slides the TTL forward
// (spec §4.5: "get uses get_and_modify to refresh the timestamp").
func (t *Table) Get(key wire.Key) (wire.Value, bool) {
	switch t.Engine {
	case EngineInMemory:
		return t.mem.Get(key)
	case EngineOnDisk:
		return t.disk.Get(key)
	case EngineCache:
		now := currentMinute()
		entry, ok := t.cache.GetAndModify(key, func(e *cacheEntry) { e.minute = now })
		if !ok {
			var zero wire.Value
			return zero, false
		}
		return entry.value, true
	}
	var zero wire.Value
	return zero, false
}

// GetField extracts one scheme field from the record stored at key.
func (t *Table) GetField(key wire.Key, fieldIndex int) ([]byte, bool, error) {
	v, ok := t.Get(key)
	if !ok {
		return nil, false, nil
	}
	out, err := t.Scheme.GetField(v.Payload(), fieldIndex)
	return out, true, err
}

// GetFields extracts several scheme fields from the record stored at key.
func (t *Table) GetFields(key wire.Key, fieldIndexes []int) ([][]byte, bool, error) {
	v, ok := t.Get(key)
	if !ok {
		return nil, false, nil
	}
	out, err := t.Scheme.GetFields(v.Payload(), fieldIndexes)
	return out, true, err
}

// Delete removes a key, logging a DELETE record first if Logging is set.
func (t *Table) Delete(key wire.Key) (bool, error) {
	if t.Logging && t.wal != nil {
		if err := t.wal.WriteRecord(opDelete, t.Number, key.OnWire()); err != nil {
			return false, err
		}
	}
	return t.DeleteWithoutLog(key), nil
}

func (t *Table) DeleteWithoutLog(key wire.Key) bool {
	switch t.Engine {
	case EngineInMemory:
		_, had := t.mem.Remove(key)
		return had
	case EngineOnDisk:
		return t.disk.Delete(key)
	case EngineCache:
		_, had := t.cache.Remove(key)
		return had
	}
	return false
}

// Count returns the number of live entries.
func (t *Table) Count() int {
	switch t.Engine {
	case EngineInMemory:
		return t.mem.Count()
	case EngineOnDisk:
		return t.disk.Count()
	case EngineCache:
		return t.cache.Count()
	}
	return 0
}

// InvalidateCache drops cache entries whose TTL has elapsed (spec §4.5
// "invalid_cache() retains only entries where created_minute + ttl > now").
func (t *Table) InvalidateCache() {
	if t.Engine != EngineCache || !t.HasTTL {
		return
	}
	now := currentMinute()
	t.cache.Retain(func(_ wire.Key, e cacheEntry) bool {
		return e.minute+t.TTLMinute > now
	})
}

func recordPayload(key wire.Key, value wire.Value) []byte {
	out := make([]byte, 0, len(key.OnWire())+len(value.OnWire()))
	out = append(out, key.OnWire()...)
	out = append(out, value.OnWire()...)
	return out
}

// WAL actions share the wire opcode space (spec §4.1 WAL record:
// "[action u8]"): a WAL record is the replayed form of the request that
// produced it.
const (
	opInsert = wire.OpInsert
	opSet    = wire.OpSet
	opDelete = wire.OpDelete
)
