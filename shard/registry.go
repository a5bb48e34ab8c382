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

// Package shard implements the per-core storage partition of spec §4.6:
// a vector of tables indexed by table number, a shared name→number
// registry, the WAL writer, the dump-generation cycle and the boot
// sequence. It is grounded on the teacher's per-table registry pattern
// (_examples/launix-de-memcp/storage/database.go), rewired onto
// github.com/launix-de/NonLockingReadMap so the cross-shard name
// registry gets the same "read often, write rarely" structure the
// teacher already depends on, rather than a plain mutex-guarded map.
package shard

import (
	"sync"

	"github.com/launix-de/NonLockingReadMap"
)

// tableNameEntry is one name→number binding stored in the registry.
type tableNameEntry struct {
	name   string
	number uint16
}

func (e *tableNameEntry) GetKey() string { return e.name }
func (e *tableNameEntry) ComputeSize() uint {
	return uint(16 + len(e.name) + 2)
}

// NameRegistry is the cross-shard tables_names map (spec §4.6, §5:
// "the only structure touched by more than one shard"). Registration is
// idempotent: re-registering an existing name returns its existing
// number unchanged.
type NameRegistry struct {
	mu   sync.Mutex // guards the read-modify-write of "next number"
	m    NonLockingReadMap.NonLockingReadMap[tableNameEntry, string]
	next uint16
}

// NewNameRegistry builds an empty registry.
func NewNameRegistry() *NameRegistry {
	return &NameRegistry{m: NonLockingReadMap.New[tableNameEntry, string]()}
}

// Lookup returns the table number registered for name, if any.
func (r *NameRegistry) Lookup(name string) (uint16, bool) {
	e := r.m.Get(name)
	if e == nil {
		return 0, false
	}
	return (*e).number, true
}

// Register assigns a fresh dense number to name on first sight, or
// returns the number already bound to it (spec §4.8 CREATE_TABLE_*:
// "register name→number on first sight; idempotent re-registration
// returns existing number").
func (r *NameRegistry) Register(name string) uint16 {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e := r.m.Get(name); e != nil {
		return (*e).number
	}
	number := r.next
	r.next++
	entry := tableNameEntry{name: name, number: number}
	r.m.Set(&entry)
	return number
}

// RegisterExisting binds name to number if name is not bound yet (an
// existing binding is kept as it is) and advances the "next number"
// counter past number, without assigning a fresh number of its own. Used when replaying tables.meta/the WAL on boot (shard.go's
// applyCreateTable): those records already carry the number a live
// CreateTable assigned before the restart, so the registry must be
// seeded with that exact number, not handed a new one from Register.
func (r *NameRegistry) RegisterExisting(name string, number uint16) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e := r.m.Get(name); e == nil {
		entry := tableNameEntry{name: name, number: number}
		r.m.Set(&entry)
	}
	if number >= r.next {
		r.next = number + 1
	}
}

// Names returns every registered table name (spec §4.8 GET_TABLES_NAMES).
func (r *NameRegistry) Names() []string {
	all := r.m.GetAll()
	out := make([]string, len(all))
	for i, e := range all {
		out[i] = (*e).name
	}
	return out
}
