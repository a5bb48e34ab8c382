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
	"sync"
	"sync/atomic"
	"time"

	"github.com/launix-de/shardkv/logx"
	"github.com/launix-de/shardkv/table"
	"github.com/launix-de/shardkv/wire"
)

// Storage is one shard's private state: the tables vector, its WAL, dump
// bookkeeping and a reference to the registry it shares with every other
// shard (spec §4.6).
type Storage struct {
	Index int // this shard's number, 0-based

	dir      string
	registry *NameRegistry

	mu     sync.RWMutex
	tables []*table.Table

	wal        *WAL
	generation uint32

	dumpIntervalMinutes int
	stopDump            chan struct{}
}

// Open boots one shard rooted at <persistenceRoot>/shard<index>,
// following the boot sequence of spec §4.6: read the generation
// bookmark, rise every existing table, replay the active WAL idempotently,
// then start this shard's dump timer and TTL sweep.
func Open(persistenceRoot string, index int, registry *NameRegistry, dumpIntervalMinutes int) (*Storage, error) {
	dir := filepath.Join(persistenceRoot, fmt.Sprintf("shard%d", index))
	gen, err := ReadGeneration(dir)
	if err != nil {
		return nil, err
	}
	s := &Storage{
		Index:               index,
		dir:                 dir,
		registry:            registry,
		generation:          gen,
		dumpIntervalMinutes: dumpIntervalMinutes,
		stopDump:            make(chan struct{}),
	}

	// step 2: recreate every table that ever existed on this shard from
	// the durable tables.meta manifest, then rise each one from its
	// latest dump (in-memory/cache) or bucket files (on-disk, handled by
	// ondisk.Open itself).
	if err := s.replayTableMeta(); err != nil {
		return nil, fmt.Errorf("shard %d: replay tables.meta: %w", index, err)
	}

	// step 3: replay the active WAL record-by-record using each table's
	// *_without_log variant, so mutations since the last dump are
	// reapplied on top of the rise.
	if err := ReplayWAL(dir, gen, s.applyReplayedRecord); err != nil {
		return nil, fmt.Errorf("shard %d: replay wal: %w", index, err)
	}

	wal, err := OpenWAL(dir, gen)
	if err != nil {
		return nil, err
	}
	s.wal = wal

	s.startDumpTimer()
	s.startTTLSweep()
	return s, nil
}

// startTTLSweep runs the cache-TTL invalidation pass once a minute (spec
// §4.5 InvalidateCache, §8 invariant 8). It shares the stopDump channel:
// both background loops are this shard's lifetime, not independent.
func (s *Storage) startTTLSweep() {
	go func() {
		ticker := time.NewTicker(time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-s.stopDump:
				return
			case <-ticker.C:
				s.mu.RLock()
				tables := append([]*table.Table(nil), s.tables...)
				s.mu.RUnlock()
				for _, t := range tables {
					if t != nil {
						t.InvalidateCache()
					}
				}
			}
		}
	}()
}

// applyReplayedRecord dispatches one WAL record during boot, ignoring
// logging (WAL replay must never re-append to the log it is replaying).
func (s *Storage) applyReplayedRecord(rec walRecord) error {
	switch rec.Action {
	case wire.OpInsert, wire.OpSet, wire.OpDelete:
		t := s.TableByNumber(rec.TableNumber)
		if t == nil {
			logx.Warnf("shard %d: wal record for unknown table %d, skipping", s.Index, rec.TableNumber)
			return nil
		}
		switch rec.Action {
		case wire.OpInsert:
			key, n := wire.KeyFromWire(rec.Payload)
			if key == nil {
				return nil
			}
			value, _ := wire.ValueFromWire(rec.Payload[n:])
			t.InsertWithoutLog(key, value)
		case wire.OpSet:
			key, n := wire.KeyFromWire(rec.Payload)
			if key == nil {
				return nil
			}
			value, _ := wire.ValueFromWire(rec.Payload[n:])
			t.SetWithoutLog(key, value)
		case wire.OpDelete:
			key, _ := wire.KeyFromWire(rec.Payload)
			if key == nil {
				return nil
			}
			t.DeleteWithoutLog(key)
		}
		return nil
	case wire.OpCreateTableInMemory, wire.OpCreateTableOnDisk, wire.OpCreateTableCache:
		if s.TableByNumber(rec.TableNumber) != nil {
			return nil // already recreated from tables.meta
		}
		t, err := s.applyCreateTable(rec.Action, rec.TableNumber, rec.Payload, false)
		if err != nil {
			return err
		}
		return s.riseTable(t)
	case wire.OpDropTable:
		s.dropTableByNumber(rec.TableNumber)
		return nil
	default:
		return fmt.Errorf("shard %d: unknown wal action %d", s.Index, rec.Action)
	}
}

// TableByNumber returns the table with the given dense number, or nil.
func (s *Storage) TableByNumber(number uint16) *table.Table {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if int(number) >= len(s.tables) {
		return nil
	}
	return s.tables[number]
}

// TableByName resolves a name through the shared registry, then looks up
// the local table with that number.
func (s *Storage) TableByName(name string) *table.Table {
	number, ok := s.registry.Lookup(name)
	if !ok {
		return nil
	}
	return s.TableByNumber(number)
}

// Dir returns this shard's persistence directory.
func (s *Storage) Dir() string {
	return s.dir
}

// Generation returns this shard's current dump/WAL generation number.
func (s *Storage) Generation() uint32 {
	return atomic.LoadUint32(&s.generation)
}

// LookupTableNumber resolves a name through the shared registry without
// requiring the table to exist locally (spec §4.8 GET_TABLE_NUMBER/
// TABLE_EXISTS look up name→number directly, independent of any one
// shard's table slice).
func (s *Storage) LookupTableNumber(name string) (uint16, bool) {
	return s.registry.Lookup(name)
}

// TableNames returns every name ever registered, across all shards (spec
// §4.8 GET_TABLES_NAMES).
func (s *Storage) TableNames() []string {
	return s.registry.Names()
}

func (s *Storage) setTableSlot(number uint16, t *table.Table) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for int(number) >= len(s.tables) {
		s.tables = append(s.tables, nil)
	}
	s.tables[number] = t
}

// DropTable unregisters a table on this shard and records the drop in
// tables.meta so it is not recreated on the next boot (spec §4.8
// DROP_TABLE: "shard-local unregister, without reclaiming on-disk bucket
// files immediately").
func (s *Storage) DropTable(number uint16) error {
	if err := appendTableMeta(s.dir, wire.OpDropTable, number, nil); err != nil {
		return err
	}
	if err := s.WriteRecord(wire.OpDropTable, number, nil); err != nil {
		return err
	}
	s.dropTableByNumber(number)
	return nil
}

func (s *Storage) dropTableByNumber(number uint16) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if int(number) < len(s.tables) {
		s.tables[number] = nil
	}
}

// CreateTable parses a CREATE_TABLE_* request body (spec §4.8), creates
// the table on this shard, logs it to the WAL, and records it in the
// durable tables.meta manifest so it survives WAL rotation.
func (s *Storage) CreateTable(action byte, body []byte) (uint16, error) {
	params, err := parseCreateTableBody(body)
	if err != nil {
		return 0, err
	}
	number := s.registry.Register(params.name)
	if s.TableByNumber(number) != nil {
		return number, nil // idempotent re-registration: already created
	}
	if err := appendTableMeta(s.dir, action, number, body); err != nil {
		return 0, err
	}
	if _, err := s.applyCreateTable(action, number, body, true); err != nil {
		return 0, err
	}
	return number, nil
}

func (s *Storage) applyCreateTable(action byte, number uint16, body []byte, logWAL bool) (*table.Table, error) {
	if logWAL {
		if err := s.WriteRecord(action, number, body); err != nil {
			return nil, err
		}
	}
	params, err := parseCreateTableBody(body)
	if err != nil {
		return nil, err
	}
	s.registry.RegisterExisting(params.name, number)
	var t *table.Table
	switch action {
	case wire.OpCreateTableInMemory:
		t = table.NewInMemory(number, params.name, params.logging, params.scheme, s)
	case wire.OpCreateTableCache:
		t = table.NewCache(number, params.name, params.logging, params.hasTTL, params.ttlMinutes, params.scheme, s)
	case wire.OpCreateTableOnDisk:
		dir := filepath.Join(s.dir, params.name)
		t, err = table.NewOnDisk(number, params.name, params.scheme, dir, 0)
		if err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("shard: unknown create-table action %d", action)
	}
	s.setTableSlot(number, t)
	return t, nil
}

// riseTable loads the latest dump for an in-memory or cache table. An
// on-disk table already rose as part of table.NewOnDisk (spec §4.4),
// so there is nothing further to do for it here.
func (s *Storage) riseTable(t *table.Table) error {
	if t == nil || t.Engine == table.EngineOnDisk {
		return nil
	}
	path, _, ok := table.LatestDumpPath(s.dir, t.Name)
	if !ok {
		return nil
	}
	return t.Rise(path)
}

// createTableParams is the decoded form of a CREATE_TABLE_* request body:
// [logging u8][has_ttl u8][ttl_minutes u64 LE][scheme_len u16 LE][scheme]
// [name_len u16 LE][name] (spec §4.8 names the logical fields; this is
// the concrete byte layout this implementation settles on for them).
type createTableParams struct {
	logging    bool
	hasTTL     bool
	ttlMinutes uint64
	scheme     table.Scheme
	name       string
}

func parseCreateTableBody(body []byte) (createTableParams, error) {
	if len(body) < 12 {
		return createTableParams{}, fmt.Errorf("shard: create-table body too short")
	}
	logging := body[0] != 0
	hasTTL := body[1] != 0
	ttlMinutes := wire.GetU64(body[2:10])
	schemeLen := int(wire.GetU16(body[10:12]))
	pos := 12
	if pos+schemeLen > len(body) {
		return createTableParams{}, fmt.Errorf("shard: create-table scheme truncated")
	}
	scheme, err := table.ParseScheme(body[pos : pos+schemeLen])
	if err != nil {
		return createTableParams{}, err
	}
	pos += schemeLen
	if pos+2 > len(body) {
		return createTableParams{}, fmt.Errorf("shard: create-table name length truncated")
	}
	nameLen := int(wire.GetU16(body[pos : pos+2]))
	pos += 2
	if pos+nameLen > len(body) {
		return createTableParams{}, fmt.Errorf("shard: create-table name truncated")
	}
	name := string(body[pos : pos+nameLen])
	return createTableParams{
		logging:    logging,
		hasTTL:     hasTTL,
		ttlMinutes: ttlMinutes,
		scheme:     scheme,
		name:       name,
	}, nil
}

// WriteRecord implements table.WALWriter by forwarding to whichever WAL
// is currently active, so a table never holds a stale reference across
// a dump-cycle rotation (RunDumpCycle swaps s.wal under s.mu).
func (s *Storage) WriteRecord(action byte, tableNumber uint16, payload []byte) error {
	s.mu.RLock()
	w := s.wal
	s.mu.RUnlock()
	if w == nil {
		return nil
	}
	return w.WriteRecord(action, tableNumber, payload)
}

// FlushWAL is called on connection quiescence (spec §4.7).
func (s *Storage) FlushWAL() error {
	s.mu.RLock()
	w := s.wal
	s.mu.RUnlock()
	if w == nil {
		return nil
	}
	return w.Flush()
}

// startDumpTimer begins the periodic dump cycle of spec §4.6.
func (s *Storage) startDumpTimer() {
	if s.dumpIntervalMinutes <= 0 {
		return
	}
	go func() {
		ticker := time.NewTicker(time.Duration(s.dumpIntervalMinutes) * time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-s.stopDump:
				return
			case <-ticker.C:
				if err := s.RunDumpCycle(); err != nil {
					logx.Warnf("shard %d: dump cycle failed: %v", s.Index, err)
				}
			}
		}
	}()
}

// RunDumpCycle bumps the generation, persists the bookmark, rolls onto a
// fresh WAL file, dumps every table, then deletes the previous
// generation's log (spec §4.6 "Dump cycle").
func (s *Storage) RunDumpCycle() error {
	newGen := atomic.AddUint32(&s.generation, 1)
	oldGen := newGen - 1

	if err := WriteGeneration(s.dir, newGen); err != nil {
		return err
	}
	newWAL, err := OpenWAL(s.dir, newGen)
	if err != nil {
		return err
	}

	s.mu.Lock()
	oldWAL := s.wal
	s.wal = newWAL
	tables := append([]*table.Table(nil), s.tables...)
	s.mu.Unlock()

	if oldWAL != nil {
		_ = oldWAL.Close()
	}

	for _, t := range tables {
		if t == nil || t.Engine == table.EngineOnDisk {
			continue // on-disk tables never hold WAL-logged state to snapshot this way
		}
		if _, err := t.Dump(s.dir, int(newGen)); err != nil {
			logx.Warnf("shard %d: dump table %s failed: %v", s.Index, t.Name, err)
		}
	}

	oldPath := WALPath(s.dir, oldGen)
	if oldGen != newGen {
		if err := removeIfExists(oldPath); err != nil {
			logx.Warnf("shard %d: remove stale wal %s failed: %v", s.Index, oldPath, err)
		}
	}
	return nil
}

// Close stops the dump timer and flushes/closes the WAL.
func (s *Storage) Close() error {
	close(s.stopDump)
	if s.wal == nil {
		return nil
	}
	if err := s.wal.Flush(); err != nil {
		return err
	}
	return s.wal.Close()
}

func removeIfExists(path string) error {
	err := os.Remove(path)
	if err != nil && os.IsNotExist(err) {
		return nil
	}
	return err
}
