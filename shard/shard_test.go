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
	"testing"

	"github.com/launix-de/shardkv/table"
	"github.com/launix-de/shardkv/wire"
)

// buildCreateTableBody encodes the body layout parseCreateTableBody
// expects: [logging u8][has_ttl u8][ttl_minutes u64 LE][scheme_len u16 LE]
// [scheme][name_len u16 LE][name].
func buildCreateTableBody(logging, hasTTL bool, ttlMinutes uint64, scheme []byte, name string) []byte {
	body := make([]byte, 12)
	if logging {
		body[0] = 1
	}
	if hasTTL {
		body[1] = 1
	}
	wire.PutU64(body[2:10], ttlMinutes)
	wire.PutU16(body[10:12], uint16(len(scheme)))
	body = append(body, scheme...)
	nameLen := make([]byte, 2)
	wire.PutU16(nameLen, uint16(len(name)))
	body = append(body, nameLen...)
	body = append(body, []byte(name)...)
	return body
}

func TestStorageOpenFreshAndCreateTable(t *testing.T) {
	dir := t.TempDir()
	reg := NewNameRegistry()
	s, err := Open(dir, 0, reg, 0)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()

	body := buildCreateTableBody(true, false, 0, nil, "users")
	number, err := s.CreateTable(wire.OpCreateTableInMemory, body)
	if err != nil {
		t.Fatalf("CreateTable: %v", err)
	}
	if got, ok := s.LookupTableNumber("users"); !ok || got != number {
		t.Fatalf("LookupTableNumber = (%d, %v), want (%d, true)", got, ok, number)
	}
	tb := s.TableByNumber(number)
	if tb == nil || tb.Name != "users" || tb.Engine != table.EngineInMemory {
		t.Fatalf("TableByNumber = %+v", tb)
	}

	// re-creating the same name is idempotent
	number2, err := s.CreateTable(wire.OpCreateTableInMemory, body)
	if err != nil || number2 != number {
		t.Fatalf("idempotent CreateTable = (%d, %v), want (%d, nil)", number2, err, number)
	}
}

func TestStorageInsertIsLoggedAndDropRemoves(t *testing.T) {
	dir := t.TempDir()
	reg := NewNameRegistry()
	s, err := Open(dir, 0, reg, 0)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()

	body := buildCreateTableBody(true, false, 0, nil, "t")
	number, err := s.CreateTable(wire.OpCreateTableInMemory, body)
	if err != nil {
		t.Fatalf("CreateTable: %v", err)
	}
	tb := s.TableByNumber(number)
	k := wire.NewKey([]byte("k"))
	v := wire.NewValue([]byte("v"))
	if _, err := tb.Insert(k, v); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if err := s.FlushWAL(); err != nil {
		t.Fatalf("FlushWAL: %v", err)
	}

	if err := s.DropTable(number); err != nil {
		t.Fatalf("DropTable: %v", err)
	}
	if s.TableByNumber(number) != nil {
		t.Fatalf("table should be unregistered locally after DropTable")
	}
	// the registry binding itself survives a drop: names are never reused
	if _, ok := s.LookupTableNumber("t"); !ok {
		t.Fatalf("LookupTableNumber should still resolve the name after a local drop")
	}
}

func TestStorageBootReplaysTablesMetaAndWAL(t *testing.T) {
	dir := t.TempDir()
	reg := NewNameRegistry()
	s, err := Open(dir, 0, reg, 0)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	body := buildCreateTableBody(true, false, 0, nil, "t")
	number, err := s.CreateTable(wire.OpCreateTableInMemory, body)
	if err != nil {
		t.Fatalf("CreateTable: %v", err)
	}
	tb := s.TableByNumber(number)
	k := wire.NewKey([]byte("k1"))
	v := wire.NewValue([]byte("v1"))
	if _, err := tb.Insert(k, v); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if err := s.FlushWAL(); err != nil {
		t.Fatalf("FlushWAL: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	// reboot against the same directory but a brand-new NameRegistry, the
	// way cluster.Start actually boots a shard (cluster/manager.go calls
	// shard.NewNameRegistry() once per process, never reusing one across
	// restarts): tables.meta must reseed it on its own, not rely on an
	// in-memory registry surviving the restart.
	reg2 := NewNameRegistry()
	s2, err := Open(dir, 0, reg2, 0)
	if err != nil {
		t.Fatalf("reboot Open: %v", err)
	}
	defer s2.Close()

	tb2 := s2.TableByNumber(number)
	if tb2 == nil || tb2.Name != "t" {
		t.Fatalf("tables.meta replay did not recreate the table: %+v", tb2)
	}
	got, ok := tb2.Get(k)
	if !ok || !got.Equal(v) {
		t.Fatalf("WAL replay did not restore the key: got=(%v, %v)", got, ok)
	}

	gotNumber, ok := s2.LookupTableNumber("t")
	if !ok || gotNumber != number {
		t.Fatalf("LookupTableNumber after reboot = (%d, %v), want (%d, true)", gotNumber, ok, number)
	}
	names := s2.TableNames()
	if len(names) != 1 || names[0] != "t" {
		t.Fatalf("TableNames after reboot = %v, want [t]", names)
	}

	// a table created after the restart must not collide with the
	// restored one: the registry's "next number" counter has to advance
	// past every number seen during tables.meta/WAL replay.
	body2 := buildCreateTableBody(false, false, 0, nil, "u")
	number2, err := s2.CreateTable(wire.OpCreateTableInMemory, body2)
	if err != nil {
		t.Fatalf("CreateTable after reboot: %v", err)
	}
	if number2 == number {
		t.Fatalf("new table after reboot reused number %d, aliasing it onto the restored table", number)
	}
	if tb2.Name != "t" {
		t.Fatalf("restored table's identity was clobbered: %+v", tb2)
	}
}

func TestStorageDumpCycleRotatesWAL(t *testing.T) {
	dir := t.TempDir()
	reg := NewNameRegistry()
	s, err := Open(dir, 0, reg, 0)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()

	body := buildCreateTableBody(false, false, 0, nil, "t")
	number, err := s.CreateTable(wire.OpCreateTableInMemory, body)
	if err != nil {
		t.Fatalf("CreateTable: %v", err)
	}
	tb := s.TableByNumber(number)
	tb.InsertWithoutLog(wire.NewKey([]byte("k")), wire.NewValue([]byte("v")))

	genBefore := s.Generation()
	if err := s.RunDumpCycle(); err != nil {
		t.Fatalf("RunDumpCycle: %v", err)
	}
	if s.Generation() != genBefore+1 {
		t.Fatalf("Generation() = %d, want %d", s.Generation(), genBefore+1)
	}

	path, gen, ok := table.LatestDumpPath(s.Dir(), "t")
	if !ok || gen != int(s.Generation()) {
		t.Fatalf("LatestDumpPath = (%q, %d, %v), want generation %d", path, gen, ok, s.Generation())
	}
}
