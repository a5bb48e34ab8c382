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
package persistence

import (
	"io"

	"github.com/pierrec/lz4/v4"
)

// CompressLZ4 streams src through an lz4 frame writer into dst. Sinks use
// this for outbound dump uploads (SPEC_FULL.md DOMAIN STACK entry for
// pierrec/lz4). Local dump files are written uncompressed; the
// compression wraps the already-valid dump bytes, it does not touch
// them.
func CompressLZ4(dst io.Writer, src io.Reader) error {
	zw := lz4.NewWriter(dst)
	if _, err := io.Copy(zw, src); err != nil {
		zw.Close()
		return err
	}
	return zw.Close()
}

// DecompressLZ4 reverses CompressLZ4.
func DecompressLZ4(dst io.Writer, src io.Reader) error {
	zr := lz4.NewReader(src)
	_, err := io.Copy(dst, zr)
	return err
}
