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

// Package table implements the three table engines of spec §4.5
// (in-memory, on-disk, cache-TTL), their dump/rise snapshot pipeline, and
// the record-scheme field-extraction helper. It is grounded on the
// teacher's per-shard engine split (_examples/launix-de-memcp/storage/table.go,
// storage/shard.go), rewired onto this spec's wire.Key/wire.Value blobs
// and index.Index backends instead of the teacher's column storage.
package table

import (
	"fmt"

	"github.com/launix-de/shardkv/wire"
)

// unsizedFieldMarker is the size value floor above which a field entry
// names an unsized field instead of a fixed width (spec §4.5: "size ≥ 17
// marks an unsized field whose position among unsized fields is size−17").
const unsizedFieldMarker = 17

// FieldEntry is one scheme field's (size, offset) descriptor.
type FieldEntry struct {
	Size   int
	Offset int
}

// IsUnsized reports whether this entry names a length-prefixed field
// rather than a fixed-width one.
func (f FieldEntry) IsUnsized() bool {
	return f.Size >= unsizedFieldMarker
}

// UnsizedIndex returns this entry's position among the unsized fields.
// Only meaningful when IsUnsized() is true.
func (f FieldEntry) UnsizedIndex() int {
	return f.Size - unsizedFieldMarker
}

// Scheme is the record layout parsed from a CREATE_TABLE_* request's
// scheme bytes: an ordered list of sized fields followed by unsized
// fields, plus the raw bytes as received (so GET_TABLES_NAMES-adjacent
// introspection can hand them back verbatim).
type Scheme struct {
	Fields  []FieldEntry
	RawUser []byte
}

// GetField extracts one field's raw length-prefixed bytes from a record
// value. Sized fields are synthesized with a 2-byte prefix so callers see
// a uniform length-prefixed format regardless of field kind (spec §4.5).
func (s Scheme) GetField(record []byte, fieldIndex int) ([]byte, error) {
	if fieldIndex < 0 || fieldIndex >= len(s.Fields) {
		return nil, fmt.Errorf("table: field index %d out of range", fieldIndex)
	}
	entry := s.Fields[fieldIndex]
	if !entry.IsUnsized() {
		if entry.Offset+entry.Size > len(record) {
			return nil, fmt.Errorf("table: sized field out of bounds")
		}
		raw := record[entry.Offset : entry.Offset+entry.Size]
		out := make([]byte, 2+len(raw))
		out[0] = byte(len(raw))
		out[1] = byte(len(raw) >> 8)
		copy(out[2:], raw)
		return out, nil
	}
	offset, err := s.unsizedFieldOffset(record, entry.UnsizedIndex())
	if err != nil {
		return nil, err
	}
	v, n := wire.ValueFromWire(record[offset:])
	if v == nil || n == 0 {
		return nil, fmt.Errorf("table: truncated unsized field")
	}
	return v.OnWire(), nil
}

// GetFields extracts every field named by fieldIndexes, in order.
func (s Scheme) GetFields(record []byte, fieldIndexes []int) ([][]byte, error) {
	out := make([][]byte, len(fieldIndexes))
	for i, idx := range fieldIndexes {
		f, err := s.GetField(record, idx)
		if err != nil {
			return nil, err
		}
		out[i] = f
	}
	return out, nil
}

// unsizedFieldOffset walks past the fixed-width prefix and every unsized
// field before target, since unsized fields only carry their own length,
// not a precomputed offset. Sized fields live at fixed offsets and do not
// participate in this walk, so the scan starts right after the highest
// sized-field extent.
func (s Scheme) unsizedFieldOffset(record []byte, target int) (int, error) {
	offset := s.sizedExtent()
	seen := 0
	for offset < len(record) {
		if seen == target {
			return offset, nil
		}
		v, n := wire.ValueFromWire(record[offset:])
		if v == nil || n == 0 {
			return 0, fmt.Errorf("table: truncated unsized field %d", seen)
		}
		offset += n
		seen++
	}
	return 0, fmt.Errorf("table: unsized field %d not found", target)
}

func (s Scheme) sizedExtent() int {
	extent := 0
	for _, f := range s.Fields {
		if f.IsUnsized() {
			continue
		}
		if end := f.Offset + f.Size; end > extent {
			extent = end
		}
	}
	return extent
}

// ParseScheme decodes the raw scheme bytes carried in a CREATE_TABLE_*
// request: a u16-LE field count followed by that many (size u16 LE,
// offset u16 LE) pairs, then the remaining bytes as RawUser (passed
// through unchanged since its interpretation is caller-defined).
func ParseScheme(b []byte) (Scheme, error) {
	if len(b) == 0 {
		return Scheme{}, nil
	}
	if len(b) < 2 {
		return Scheme{}, fmt.Errorf("table: scheme bytes too short")
	}
	count := int(b[0]) | int(b[1])<<8
	pos := 2
	fields := make([]FieldEntry, 0, count)
	for i := 0; i < count; i++ {
		if pos+4 > len(b) {
			return Scheme{}, fmt.Errorf("table: truncated scheme field %d", i)
		}
		size := int(b[pos]) | int(b[pos+1])<<8
		offset := int(b[pos+2]) | int(b[pos+3])<<8
		fields = append(fields, FieldEntry{Size: size, Offset: offset})
		pos += 4
	}
	raw := append([]byte(nil), b[pos:]...)
	return Scheme{Fields: fields, RawUser: raw}, nil
}
