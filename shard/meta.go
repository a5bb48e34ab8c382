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
package shard

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/launix-de/shardkv/wire"
)

// tablesMetaFile records every CREATE_TABLE_*/DROP_TABLE event in the
// same [action][table_number][payload_len][payload] framing as the WAL
// (see wal.go), but is never rotated or pruned: a table's identity
// (number, name, engine, scheme) must survive every dump cycle even
// though the WAL generation that originally logged its creation gets
// deleted once superseded. The spec is silent on how table metadata
// outlives WAL rotation; this file is this implementation's answer.
const tablesMetaFile = "tables.meta"

func metaPath(dir string) string {
	return filepath.Join(dir, tablesMetaFile)
}

func appendTableMeta(dir string, action byte, tableNumber uint16, payload []byte) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("shard: create shard dir: %w", err)
	}
	f, err := os.OpenFile(metaPath(dir), os.O_RDWR|os.O_CREATE|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("shard: open tables.meta: %w", err)
	}
	defer f.Close()
	w := &WAL{file: f}
	return w.WriteRecord(action, tableNumber, payload)
}

// replayTableMeta recreates every table that ever existed on this shard,
// without touching the WAL (logWAL=false), then rises each from its
// latest dump (in-memory/cache) or bucket files (on-disk).
func (s *Storage) replayTableMeta() error {
	path := metaPath(s.dir)
	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("shard: read tables.meta: %w", err)
	}
	pos := 0
	for pos < len(b) {
		consumed, rec, ok := parseWALRecord(b[pos:])
		if !ok {
			break // truncated tail: discard, same policy as WAL replay
		}
		pos += consumed
		switch rec.Action {
		case wire.OpDropTable:
			s.dropTableByNumber(rec.TableNumber)
		default:
			t, err := s.applyCreateTable(rec.Action, rec.TableNumber, rec.Payload, false)
			if err != nil {
				return err
			}
			if err := s.riseTable(t); err != nil {
				return err
			}
		}

	}
	return nil
}
