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
	"io"

	"github.com/launix-de/shardkv/wire"
)

// chunkSize is the rise/WAL-replay chunk-and-carry buffer size (spec §9:
// "a 64 KiB read buffer with a carry-leftover suffix"; the bucket
// data-file pass uses the larger 1MiB size spec §4.4 calls out
// specifically for the on-disk reconciler).
const chunkSize = 1 << 20

// rise reconstructs every bucket's in-memory index from its data and
// marker files on startup (spec §4.4 Rise). I/O errors are fatal: a
// partially-readable bucket means the shard's durable state cannot be
// trusted.
func (e *Engine) rise() error {
	for i, b := range e.buckets {
		if err := b.riseOne(); err != nil {
			return fmt.Errorf("ondisk: rise bucket %d: %w", i, err)
		}
	}
	return nil
}

func (b *bucket) riseOne() error {
	tombstones, err := b.countTombstones()
	if err != nil {
		return fmt.Errorf("read marker file: %w", err)
	}

	if _, err := b.data.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("seek data file: %w", err)
	}
	offset := uint64(0)
	err = chunkAndCarry(b.data, func(rec []byte) (int, error) {
		key, keyLen := wire.KeyFromWire(rec)
		if key == nil {
			return 0, nil // need more bytes, carry the whole thing
		}
		if keyLen >= len(rec) {
			return 0, nil
		}
		value, total := wire.ValueFromWire(rec[keyLen:])
		if value == nil {
			return 0, nil
		}
		consumed := keyLen + total
		payload := key.String()
		if tombstones[payload] > 0 {
			tombstones[payload]--
		} else {
			b.index.Insert(key, Location{
				Len:    uint64(value.Len()),
				Offset: offset + uint64(keyLen) + uint64(value.PrefixLen()),
			})
		}
		offset += uint64(consumed)
		return consumed, nil
	})
	if err != nil {
		return fmt.Errorf("replay data file: %w", err)
	}
	b.offset = offset
	return nil
}

// countTombstones streams the delete-marker file into a key-payload
// multiset (spec §4.4 Rise step 1).
func (b *bucket) countTombstones() (map[string]int, error) {
	tombstones := make(map[string]int)
	if _, err := b.marker.Seek(0, io.SeekStart); err != nil {
		return nil, err
	}
	err := chunkAndCarry(b.marker, func(rec []byte) (int, error) {
		key, n := wire.KeyFromWire(rec)
		if key == nil || n > len(rec) {
			return 0, nil
		}
		tombstones[key.String()]++
		return n, nil
	})
	return tombstones, err
}

// chunkAndCarry reads src in chunkSize blocks and repeatedly hands the
// unconsumed tail to parseOne. parseOne returns how many bytes of rec it
// consumed; 0 means "not enough bytes yet", so the remainder is carried
// into the next chunk (spec §9 WAL chunk-and-carry parser). Reaching EOF
// with leftover bytes that parseOne still can't consume is a clean
// truncated-tail stop, not an error (spec §4.4 WAL replay robustness).
func chunkAndCarry(src io.Reader, parseOne func([]byte) (int, error)) error {
	carry := make([]byte, 0, chunkSize)
	chunk := make([]byte, chunkSize)
	for {
		n, readErr := src.Read(chunk)
		if n > 0 {
			carry = append(carry, chunk[:n]...)
			for {
				consumed, err := parseOne(carry)
				if err != nil {
					return err
				}
				if consumed == 0 {
					break
				}
				carry = carry[consumed:]
			}
		}
		if readErr != nil {
			if readErr == io.EOF {
				return nil
			}
			return readErr
		}
		if n == 0 {
			return nil
		}
	}
}
