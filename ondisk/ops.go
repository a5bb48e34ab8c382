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
package ondisk

import (
	"fmt"
	"sync/atomic"

	"golang.org/x/sys/unix"

	"github.com/launix-de/shardkv/wire"
)

// Insert appends key and value if the key is not already present,
// returning false otherwise (spec §4.4 Insert).
func (e *Engine) Insert(key wire.Key, value wire.Value) bool {
	b := e.bucketFor(key)
	b.writeMu.Lock()
	defer b.writeMu.Unlock()
	if b.index.Contains(key) {
		return false
	}
	loc, err := b.appendRecord(key, value)
	if err != nil {
		return false
	}
	b.index.Insert(key, loc)
	return true
}

// Set always appends the new record and returns the prior value, if any
// (spec §4.4 Set). The old key is recorded in the delete-marker file.
func (e *Engine) Set(key wire.Key, value wire.Value) (wire.Value, bool) {
	b := e.bucketFor(key)
	b.writeMu.Lock()
	defer b.writeMu.Unlock()

	var prior wire.Value
	hadPrior := false
	if loc, ok := b.index.Get(key); ok {
		hadPrior = true
		v, err := b.readValue(loc)
		if err == nil {
			prior = v
		}
		// a failed tombstone write is recoverable: the record is simply
		// re-indexed (not compacted) again on the next rise.
		_, _ = b.marker.Write(key.OnWire())
	}
	loc, err := b.appendRecord(key, value)
	if err != nil {
		return prior, hadPrior
	}
	b.index.Set(key, loc)
	return prior, hadPrior
}

// Get performs a positional read of the value at the indexed offset
// (spec §4.4 Get).
func (e *Engine) Get(key wire.Key) (wire.Value, bool) {
	b := e.bucketFor(key)
	loc, ok := b.index.Get(key)
	if !ok {
		var zero wire.Value
		return zero, false
	}
	v, err := b.readValue(loc)
	if err != nil {
		var zero wire.Value
		return zero, false
	}
	return v, true
}

// Delete removes the key from the index and appends a tombstone; the
// data file itself is left untouched until rise (spec §4.4 Delete).
func (e *Engine) Delete(key wire.Key) bool {
	b := e.bucketFor(key)
	b.writeMu.Lock()
	defer b.writeMu.Unlock()
	if _, ok := b.index.Remove(key); !ok {
		return false
	}
	if _, err := b.marker.Write(key.OnWire()); err != nil {
		return true
	}
	return true
}

// appendRecord writes key_with_prefix ∥ value_with_prefix to the bucket's
// data file under the caller-held write lock, fetch-adding the bucket's
// append offset and returning the value payload's location.
func (b *bucket) appendRecord(key wire.Key, value wire.Value) (Location, error) {
	keyWire := key.OnWire()
	valWire := value.OnWire()
	record := make([]byte, 0, len(keyWire)+len(valWire))
	record = append(record, keyWire...)
	record = append(record, valWire...)

	recordOffset := atomic.LoadUint64(&b.offset)
	if _, err := b.data.WriteAt(record, int64(recordOffset)); err != nil {
		return Location{}, fmt.Errorf("ondisk: append record: %w", err)
	}
	atomic.AddUint64(&b.offset, uint64(len(record)))

	valueOffset := recordOffset + uint64(len(keyWire)) + uint64(value.PrefixLen())
	return Location{Len: uint64(value.Len()), Offset: valueOffset}, nil
}

// readValue performs the positional pread of a value payload, holding a
// shared read lock on the bucket's file handle (spec §4.4 Get).
func (b *bucket) readValue(loc Location) (wire.Value, error) {
	b.fileMu.RLock()
	defer b.fileMu.RUnlock()
	payload := make([]byte, loc.Len)
	if loc.Len > 0 {
		n, err := unix.Pread(int(b.data.Fd()), payload, int64(loc.Offset))
		if err != nil {
			return nil, fmt.Errorf("ondisk: pread: %w", err)
		}
		if uint64(n) != loc.Len {
			return nil, fmt.Errorf("ondisk: short pread: got %d want %d", n, loc.Len)
		}
	}
	return wire.NewValue(payload), nil
}
