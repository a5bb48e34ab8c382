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
package wire

// Status bytes occupy the first payload byte of every response message
// (spec §6). Values below 3 are pinned by original_source/src/constants/
// actions.rs; the rest are this protocol's own additions.
const (
	StatusDone          byte = 0
	StatusTableNotFound byte = 1 // aka SPACE_NOT_FOUND in the original
	StatusPing          byte = 2
	StatusBadRequest    byte = 3
	StatusInternalError byte = 4
	StatusNotFound      byte = 5
)

// Opcodes occupy the first body byte of every request message. 0xFF is
// reserved as the BIG_ACTION escape (original_source/src/constants/
// actions.rs) for opcodes beyond one byte. No multi-byte opcode exists:
// the reaction dispatcher has no handler for 0xFF and answers it with
// StatusBadRequest, like any other unregistered opcode.
const (
	OpPing                byte = 0
	OpGetShardMetadata    byte = 1
	OpGetHierarchy        byte = 2
	OpCreateTableInMemory byte = 3
	OpCreateTableOnDisk   byte = 4
	OpCreateTableCache    byte = 5
	OpGetTablesNames      byte = 6
	OpGet                 byte = 7
	OpGetField            byte = 8
	OpGetFields           byte = 9
	OpInsert              byte = 10
	OpSet                 byte = 11
	OpDelete              byte = 12
	OpDropTable           byte = 13
	OpGetTableNumber      byte = 14
	OpTableExists         byte = 15

	OpBigAction byte = 0xFF
)
