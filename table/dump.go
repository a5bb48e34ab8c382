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
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/launix-de/shardkv/logx"
	"github.com/launix-de/shardkv/wire"
)

// dumpHeaderSize is the 9-byte snapshot header: 1 "valid" flag byte plus
// an 8-byte little-endian record count (spec §4.5 Dump).
const dumpHeaderSize = 9

// DumpPath returns the path of the table's dump file for generation,
// rooted at baseDir (spec §3 "Dumps per table are named
// <name>/<name><generation>.dump").
func DumpPath(baseDir, name string, generation int) string {
	return filepath.Join(baseDir, name, fmt.Sprintf("%s%d.dump", name, generation))
}

// LatestDumpPath scans <baseDir>/<name> for the highest-numbered dump
// file present (old WAL generations are pruned on each dump cycle, but
// old dumps are not, so more than one generation's snapshot may coexist;
// rise always wants the newest). Returns ok=false if none exist.
func LatestDumpPath(baseDir, name string) (path string, generation int, ok bool) {
	entries, err := os.ReadDir(filepath.Join(baseDir, name))
	if err != nil {
		return "", 0, false
	}
	best := -1
	prefix, suffix := name, ".dump"
	for _, e := range entries {
		n := e.Name()
		if len(n) <= len(prefix)+len(suffix) || n[:len(prefix)] != prefix || n[len(n)-len(suffix):] != suffix {
			continue
		}
		numPart := n[len(prefix) : len(n)-len(suffix)]
		gen := 0
		valid := len(numPart) > 0
		for _, c := range numPart {
			if c < '0' || c > '9' {
				valid = false
				break
			}
			gen = gen*10 + int(c-'0')
		}
		if valid && gen > best {
			best = gen
		}
	}
	if best < 0 {
		return "", 0, false
	}
	return DumpPath(baseDir, name, best), best, true
}

// Dump writes a snapshot of every live key/value pair to baseDir under
// the given generation (the shard's current dump generation, kept in
// lockstep with its WAL rotation). It reserves the 9-byte header with
// flag=0, streams every record, then seeks back and rewrites the header
// with flag=1 and the true count (spec §4.5 Dump).
func (t *Table) Dump(baseDir string, generation int) (string, error) {
	t.generation = generation
	path := DumpPath(baseDir, t.Name, t.generation)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("table: dump mkdir: %w", err)
	}
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return "", fmt.Errorf("table: dump create: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(make([]byte, dumpHeaderSize)); err != nil {
		return "", fmt.Errorf("table: dump header reserve: %w", err)
	}

	var count uint64
	var writeErr error
	each := func(k wire.Key, v wire.Value) {
		if writeErr != nil {
			return
		}
		if _, err := f.Write(k.OnWire()); err != nil {
			writeErr = err
			return
		}
		if _, err := f.Write(v.OnWire()); err != nil {
			writeErr = err
			return
		}
		count++
	}

	switch t.Engine {
	case EngineInMemory:
		t.mem.ForEach(each)
	case EngineOnDisk:
		t.disk.ForEach(each)
	case EngineCache:
		t.cache.ForEach(func(k wire.Key, e cacheEntry) { each(k, e.value) })
	}
	if writeErr != nil {
		return "", fmt.Errorf("table: dump write: %w", writeErr)
	}

	header := make([]byte, dumpHeaderSize)
	header[0] = 1
	for i := 0; i < 8; i++ {
		header[1+i] = byte(count >> (8 * i))
	}
	if _, err := f.WriteAt(header, 0); err != nil {
		return "", fmt.Errorf("table: dump header rewrite: %w", err)
	}
	return path, nil
}

// Rise loads a snapshot written by Dump. A flag=0 header means the
// snapshot was aborted mid-write and is skipped entirely (spec §4.5
// Rise). Only the InMemory and Cache engines call this; OnDisk tables
// reconstruct themselves from their bucket files instead (spec §4.4).
func (t *Table) Rise(path string) error {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("table: rise open: %w", err)
	}
	defer f.Close()

	header := make([]byte, dumpHeaderSize)
	n, err := io.ReadFull(f, header)
	if err != nil || n < dumpHeaderSize {
		return nil // truncated/empty snapshot: treat as absent, same as flag=0
	}
	if header[0] == 0 {
		return nil
	}
	var declared uint64
	for i := 0; i < 8; i++ {
		declared |= uint64(header[1+i]) << (8 * i)
	}

	var read uint64
	err = chunkAndCarryRise(f, func(rec []byte) (int, error) {
		key, keyLen := wire.KeyFromWire(rec)
		if key == nil {
			return 0, nil
		}
		value, valLen := wire.ValueFromWire(rec[keyLen:])
		if value == nil {
			return 0, nil
		}
		switch t.Engine {
		case EngineInMemory:
			t.mem.Insert(key, value)
		case EngineCache:
			t.cache.Insert(key, cacheEntry{minute: currentMinute(), value: value})
		}
		read++
		return keyLen + valLen, nil
	})
	if err != nil {
		return fmt.Errorf("table: rise replay: %w", err)
	}
	if read < declared {
		logx.Warnf("table: rise %s: read %d records, header declared %d", path, read, declared)
	}
	return nil
}

// chunkAndCarryRise is the WAL/snapshot chunk-and-carry parser (spec §9:
// "a 64 KiB read buffer with a carry-leftover suffix"), carrying any
// unconsumed tail forward and stopping cleanly at a truncated final
// record instead of failing.
func chunkAndCarryRise(src io.Reader, parseOne func([]byte) (int, error)) error {
	const chunkSize = wire.BufSize
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
