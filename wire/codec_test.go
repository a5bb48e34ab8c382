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

import "testing"

func TestU16RoundTrip(t *testing.T) {
	for _, v := range []uint16{0, 1, 255, 256, 65535} {
		b := make([]byte, 2)
		PutU16(b, v)
		if got := GetU16(b); got != v {
			t.Fatalf("PutU16/GetU16(%d) = %d", v, got)
		}
	}
}

func TestU32RoundTrip(t *testing.T) {
	for _, v := range []uint32{0, 1, 65536, 0xFFFFFFFF} {
		b := make([]byte, 4)
		PutU32(b, v)
		if got := GetU32(b); got != v {
			t.Fatalf("PutU32/GetU32(%d) = %d", v, got)
		}
	}
}

func TestU64RoundTrip(t *testing.T) {
	for _, v := range []uint64{0, 1, 1 << 40, 0xFFFFFFFFFFFFFFFF} {
		b := make([]byte, 8)
		PutU64(b, v)
		if got := GetU64(b); got != v {
			t.Fatalf("PutU64/GetU64(%d) = %d", v, got)
		}
	}
}

func TestI64RoundTrip(t *testing.T) {
	for _, v := range []int64{0, -1, 1234567890123, -9223372036854775808} {
		b := make([]byte, 8)
		PutI64(b, v)
		if got := GetI64(b); got != v {
			t.Fatalf("PutI64/GetI64(%d) = %d", v, got)
		}
	}
}

func TestU16LittleEndianByteOrder(t *testing.T) {
	b := make([]byte, 2)
	PutU16(b, 0x0102)
	if b[0] != 0x02 || b[1] != 0x01 {
		t.Fatalf("PutU16 not little-endian: %x", b)
	}
}
