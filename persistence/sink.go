/*
Copyright (C) 2024-2026  Carl-Philip Hänsch

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

// Package persistence holds the optional dump archival backends named in
// SPEC_FULL.md's DOMAIN STACK table: local disk (the default, already the
// canonical store per spec §6), S3-compatible object storage, and Ceph
// RADOS. A DumpSink is a secondary copy of a table's finished `.dump`
// file; the raw on-disk dump format itself (spec §4.5) is unchanged by
// any sink. Grounded on the teacher's PersistenceEngine/PersistenceFactory
// split (_examples/launix-de-memcp/storage/persistence.go), narrowed from
// "owns schema/columns/logs" to "archives one finished snapshot file",
// since this spec's snapshots are already whole-file writes.
package persistence

import "io"

// DumpSink archives a finished table dump to a secondary store and can
// retrieve it back. generation keys the object the same way local dump
// files are named (spec §3 "<name><generation>.dump").
type DumpSink interface {
	// Upload reads localPath (a finished, valid dump file) and stores it
	// under a key derived from table and generation.
	Upload(table string, generation int, localPath string) error
	// Download retrieves the dump for table/generation into a fresh
	// io.ReadCloser the caller must close; ok is false if no such object
	// exists in this sink.
	Download(table string, generation int) (body io.ReadCloser, ok bool, err error)
}

// NoopSink is the default when no sink is configured: local disk already
// is the durable copy, so there is nothing further to do (teacher's
// FileStorage plays the equivalent "no extra step" role for the local
// case, since columns already live directly at their final path).
type NoopSink struct{}

func (NoopSink) Upload(table string, generation int, localPath string) error { return nil }
func (NoopSink) Download(table string, generation int) (io.ReadCloser, bool, error) {
	return nil, false, nil
}
