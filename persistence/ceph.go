//go:build ceph

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
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/ceph/go-ceph/rados"
)

// CephConfig names a RADOS pool to archive dump generations to
// (SPEC_FULL.md DOMAIN STACK entry for go-ceph), grounded on
// storage/persistence-ceph.go's CephFactory.
type CephConfig struct {
	UserName    string
	ClusterName string
	ConfFile    string
	Pool        string
	Prefix      string
}

// CephSink uploads lz4-compressed dump generations as whole RADOS
// objects, the same "no append, buffer and replace" policy as S3Sink
// (storage/persistence-ceph.go's own rationale comment, since RADOS
// objects support offset writes but this sink never needs partial
// rewrites for an immutable finished dump file).
type CephSink struct {
	cfg CephConfig

	mu      sync.Mutex
	conn    *rados.Conn
	ioctx   *rados.IOContext
	started bool
}

func NewCephSink(cfg CephConfig) *CephSink {
	return &CephSink{cfg: cfg}
}

func (s *CephSink) ensureOpen() (*rados.IOContext, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return s.ioctx, nil
	}
	conn, err := rados.NewConnWithClusterAndUser(s.cfg.ClusterName, s.cfg.UserName)
	if err != nil {
		return nil, fmt.Errorf("persistence: ceph conn: %w", err)
	}
	if s.cfg.ConfFile != "" {
		if err := conn.ReadConfigFile(s.cfg.ConfFile); err != nil {
			return nil, fmt.Errorf("persistence: ceph read conf: %w", err)
		}
	}
	if err := conn.Connect(); err != nil {
		return nil, fmt.Errorf("persistence: ceph connect: %w", err)
	}
	ioctx, err := conn.OpenIOContext(s.cfg.Pool)
	if err != nil {
		return nil, fmt.Errorf("persistence: ceph open pool %s: %w", s.cfg.Pool, err)
	}
	s.conn, s.ioctx, s.started = conn, ioctx, true
	return ioctx, nil
}

func (s *CephSink) objectName(table string, generation int) string {
	if s.cfg.Prefix != "" {
		return fmt.Sprintf("%s/%s/%s%d.dump.lz4", s.cfg.Prefix, table, table, generation)
	}
	return fmt.Sprintf("%s/%s%d.dump.lz4", table, table, generation)
}

func (s *CephSink) Upload(table string, generation int, localPath string) error {
	ioctx, err := s.ensureOpen()
	if err != nil {
		return err
	}
	f, err := os.Open(localPath)
	if err != nil {
		return err
	}
	defer f.Close()

	var compressed bytes.Buffer
	if err := CompressLZ4(&compressed, f); err != nil {
		return fmt.Errorf("persistence: ceph upload compress: %w", err)
	}
	if err := ioctx.WriteFull(s.objectName(table, generation), compressed.Bytes()); err != nil {
		return fmt.Errorf("persistence: ceph write: %w", err)
	}
	return nil
}

func (s *CephSink) Download(table string, generation int) (io.ReadCloser, bool, error) {
	ioctx, err := s.ensureOpen()
	if err != nil {
		return nil, false, err
	}
	stat, err := ioctx.Stat(s.objectName(table, generation))
	if err != nil {
		return nil, false, nil
	}
	buf := make([]byte, stat.Size)
	if _, err := ioctx.Read(s.objectName(table, generation), buf, 0); err != nil {
		return nil, false, fmt.Errorf("persistence: ceph read: %w", err)
	}
	var raw bytes.Buffer
	if err := DecompressLZ4(&raw, bytes.NewReader(buf)); err != nil {
		return nil, false, fmt.Errorf("persistence: ceph decompress: %w", err)
	}
	return io.NopCloser(bytes.NewReader(raw.Bytes())), true, nil
}
