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

// Package server implements the external interfaces of spec §6: a TCP
// listener and, on non-Windows platforms, an additional Unix-domain
// listener carrying the same protocol. It is grounded on the retired
// third_party/go-mysqlstack driver's per-connection Session shape
// (mutex-guarded net.Conn plus a framed reader/writer and a password
// check) per SPEC_FULL.md's DOMAIN STACK entry for that module: only
// driver/session.go was retrieved, so its ideas are adapted in spirit in
// handleConnection and connectionJob rather than imported.
package server

import (
	"fmt"
	"io"
	"net"
	"runtime"

	"github.com/google/uuid"

	"github.com/launix-de/shardkv/cluster"
	"github.com/launix-de/shardkv/logx"
	"github.com/launix-de/shardkv/reaction"
	"github.com/launix-de/shardkv/shard"
	"github.com/launix-de/shardkv/wire"
)

// Server owns the listeners and the shard manager they feed.
type Server struct {
	manager  *cluster.Manager
	password string
}

// New builds a Server in front of manager. password, if non-empty,
// is checked once per connection right after shard selection (spec §6
// "PASSWORD (default empty)").
func New(manager *cluster.Manager, password string) *Server {
	return &Server{manager: manager, password: password}
}

// ListenTCP starts the TCP listener and serves forever, accepting
// connections until the listener is closed or accept fails fatally.
func (s *Server) ListenTCP(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("server: tcp listen %s: %w", addr, err)
	}
	logx.Logf("listening tcp %s", addr)
	return s.acceptLoop(ln)
}

// ListenUnix starts the Unix-domain listener (skipped on Windows, where
// the platform has no AF_UNIX support worth guarding for, per spec §6).
func (s *Server) ListenUnix(path string) error {
	if runtime.GOOS == "windows" {
		logx.Logf("unix socket %s skipped on windows", path)
		return nil
	}
	ln, err := net.Listen("unix", path)
	if err != nil {
		return fmt.Errorf("server: unix listen %s: %w", path, err)
	}
	logx.Logf("listening unix %s", path)
	return s.acceptLoop(ln)
}

func (s *Server) acceptLoop(ln net.Listener) error {
	for {
		conn, err := ln.Accept()
		if err != nil {
			return fmt.Errorf("server: accept: %w", err)
		}
		go s.handleConnection(conn)
	}
}

// handleConnection reads the connection's one-time shard-selection
// prefix and optional password, then submits the rest of the
// connection's lifetime as a job to that shard's worker (spec §4.7: the
// worker "runs the full request/response loop for that connection").
//
// The connection header defined in §6 ([total_frame_len u32 LE]
// [is_request u8]) carries no shard number; §4.7's "reads the 5-byte
// connection header to learn the shard number" and §9's open question
// (iv) about two drifting read_request shapes are the same tension. This
// implementation resolves it the way §9(iv) directs ("adopt the [u32
// len, u8 direction] encoding") by keeping wire.Reader.ReadRequest
// exactly that, and introduces a distinct one-time 2-byte u16 LE shard
// number sent immediately after connect, before the first connection
// header — the acceptor's own handoff mechanism, not a wire.Reader
// concern. Documented as an Open-Question resolution in DESIGN.md.
func (s *Server) handleConnection(conn net.Conn) {
	connID := uuid.NewString()

	var shardBuf [2]byte
	if _, err := io.ReadFull(conn, shardBuf[:]); err != nil {
		conn.Close()
		return
	}
	shardNumber := wire.GetU16(shardBuf[:])

	if s.password != "" {
		if !checkPassword(conn, s.password) {
			conn.Close()
			return
		}
	}

	storage, ok := s.manager.StorageFor(shardNumber)
	if !ok {
		conn.Close()
		return
	}
	logx.Logf("conn %s: bound to shard %d", connID, shardNumber)
	ctx := &reaction.Context{Storage: storage, Cluster: s.manager}
	job := &connectionJob{conn: conn, ctx: ctx, id: connID}
	if err := s.manager.Submit(shardNumber, job); err != nil {
		logx.Warnf("conn %s: submit shard %d: %v", connID, shardNumber, err)
		conn.Close()
	}
}

// checkPassword reads a length-prefixed plaintext password and compares
// it to the configured one (spec §6: "PASSWORD ... default empty";
// SPEC_FULL.md DOMAIN STACK: "the PASSWORD echo/scramble check" modeled
// on go-mysqlstack's Session). A constant-size comparison isn't
// attempted: this is a shared-secret gate for a trusted cluster network,
// not a public-facing auth surface (Non-goals: "authentication beyond
// the static password echo").
func checkPassword(conn net.Conn, want string) bool {
	var lenBuf [2]byte
	if _, err := io.ReadFull(conn, lenBuf[:]); err != nil {
		return false
	}
	n := int(wire.GetU16(lenBuf[:]))
	if n > 4096 {
		return false
	}
	got := make([]byte, n)
	if _, err := io.ReadFull(conn, got); err != nil {
		return false
	}
	ok := string(got) == want
	var ackBuf [1]byte
	if ok {
		ackBuf[0] = 1
	}
	_, _ = conn.Write(ackBuf[:])
	return ok
}

// connectionJob drives one connection's full request/response loop on
// its shard's worker goroutine (spec §4.7).
type connectionJob struct {
	conn net.Conn
	ctx  *reaction.Context
	id   string // correlation id for log lines, spec §7c
}

// Run implements cluster.Job. It processes connection headers and their
// messages strictly in arrival order (spec §5 "Ordering"), flushing the
// WAL on quiescence between requests (spec §4.7, §5 "Durability
// surface"), until the peer closes or a stream-level I/O error occurs
// (spec §7c: "log and terminate the connection").
func (j *connectionJob) Run(storage *shard.Storage) {
	defer j.conn.Close()
	reader := wire.NewReader(j.conn)
	writer := wire.NewWriter(j.conn)

	for {
		isRequest, outcome := reader.ReadRequest()
		if outcome == wire.OutcomeClosed {
			return
		}
		if outcome != wire.OutcomeOK {
			logx.Warnf("conn %s: connection read error: %v", j.id, outcome)
			return
		}
		if !isRequest {
			// a response-direction frame from a client makes no sense in
			// this protocol; treat it as unreadable framing (spec §7a).
			return
		}

		for {
			body, done, outcome := reader.ReadMessage()
			if outcome != wire.OutcomeOK {
				logx.Warnf("conn %s: message read error: %v", j.id, outcome)
				return
			}
			if done {
				break
			}
			status, resp := reaction.Dispatch(j.ctx, body)
			if err := writer.WriteMessageAndStatus(status, resp); err != nil {
				logx.Warnf("conn %s: write error: %v", j.id, err)
				return
			}
		}
		if err := writer.Flush(); err != nil {
			logx.Warnf("conn %s: flush error: %v", j.id, err)
			return
		}
		if err := storage.FlushWAL(); err != nil {
			logx.Warnf("conn %s: wal flush error: %v", j.id, err)
		}
	}
}
