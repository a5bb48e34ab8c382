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
	"bytes"
	"strings"
	"testing"
)

func TestNoopSinkUploadIsNoop(t *testing.T) {
	var s NoopSink
	if err := s.Upload("t", 1, "/does/not/matter"); err != nil {
		t.Fatalf("NoopSink.Upload = %v, want nil", err)
	}
	_, ok, err := s.Download("t", 1)
	if ok || err != nil {
		t.Fatalf("NoopSink.Download = (ok=%v, err=%v), want (false, nil)", ok, err)
	}
}

func TestCompressDecompressLZ4RoundTrip(t *testing.T) {
	original := bytes.Repeat([]byte("the quick brown fox jumps over the lazy dog "), 500)

	var compressed bytes.Buffer
	if err := CompressLZ4(&compressed, bytes.NewReader(original)); err != nil {
		t.Fatalf("CompressLZ4: %v", err)
	}
	if compressed.Len() == 0 {
		t.Fatalf("compressed output is empty")
	}

	var decompressed bytes.Buffer
	if err := DecompressLZ4(&decompressed, bytes.NewReader(compressed.Bytes())); err != nil {
		t.Fatalf("DecompressLZ4: %v", err)
	}
	if !bytes.Equal(decompressed.Bytes(), original) {
		t.Fatalf("round trip mismatch: got %d bytes, want %d", decompressed.Len(), len(original))
	}
}

func TestCephStubPanicsWithoutBuildTag(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatalf("CephSink.Upload without the ceph build tag should panic")
		}
	}()
	s := NewCephSink(CephConfig{Pool: "p"})
	_ = s.Upload("t", 1, "/tmp/x")
}

func TestS3SinkKeyNamingWithAndWithoutPrefix(t *testing.T) {
	s := NewS3Sink(S3Config{Bucket: "b"})
	k := s.key("users", 7)
	if k != "users/users7.dump.lz4" {
		t.Fatalf("key() = %q, want users/users7.dump.lz4", k)
	}

	sPrefixed := NewS3Sink(S3Config{Bucket: "b", Prefix: "dumps/"})
	kp := sPrefixed.key("users", 7)
	if kp != "dumps/users/users7.dump.lz4" {
		t.Fatalf("key() with prefix = %q, want dumps/users/users7.dump.lz4", kp)
	}
	if !strings.HasPrefix(kp, "dumps/") {
		t.Fatalf("prefix should be normalized without a trailing slash duplicated")
	}
}
