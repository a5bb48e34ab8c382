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
package server

import (
	"net"
	"testing"

	"github.com/launix-de/shardkv/reaction"
	"github.com/launix-de/shardkv/shard"
	"github.com/launix-de/shardkv/wire"
)

func newTestStorage(t *testing.T) *shard.Storage {
	t.Helper()
	dir := t.TempDir()
	reg := shard.NewNameRegistry()
	st, err := shard.Open(dir, 0, reg, 0)
	if err != nil {
		t.Fatalf("shard.Open: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return st
}

func TestConnectionJobPingRoundTrip(t *testing.T) {
	client, srv := net.Pipe()
	defer client.Close()

	storage := newTestStorage(t)
	job := &connectionJob{conn: srv, ctx: &reaction.Context{Storage: storage}, id: "test"}
	done := make(chan struct{})
	go func() { job.Run(storage); close(done) }()

	w := wire.NewWriter(client)
	body := []byte{wire.OpPing}
	total := wire.FrameLen(len(body))
	if err := w.WriteConnectionHeader(uint32(total), true); err != nil {
		t.Fatalf("WriteConnectionHeader: %v", err)
	}
	if err := w.WriteMessage(body); err != nil {
		t.Fatalf("WriteMessage: %v", err)
	}
	if err := w.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	r := wire.NewReader(client)
	isRequest, outcome := r.ReadRequest()
	if outcome != wire.OutcomeOK || isRequest {
		t.Fatalf("ReadRequest = (isRequest=%v, outcome=%v)", isRequest, outcome)
	}
	resp, _, outcome := r.ReadMessage()
	if outcome != wire.OutcomeOK {
		t.Fatalf("ReadMessage: %v", outcome)
	}
	if resp[0] != wire.StatusDone || resp[1] != wire.StatusPing {
		t.Fatalf("resp = %v, want [Done, Ping]", resp)
	}

	client.Close()
	<-done
}

func TestCheckPasswordAcceptsAndRejects(t *testing.T) {
	client, srv := net.Pipe()
	result := make(chan bool, 1)
	go func() { result <- checkPassword(srv, "secret") }()

	var lenBuf [2]byte
	wire.PutU16(lenBuf[:], uint16(len("secret")))
	client.Write(lenBuf[:])
	client.Write([]byte("secret"))

	ack := make([]byte, 1)
	client.Read(ack)
	client.Close()
	srv.Close()

	if !<-result {
		t.Fatalf("checkPassword should accept the correct password")
	}
	if ack[0] != 1 {
		t.Fatalf("ack byte = %d, want 1", ack[0])
	}
}

func TestCheckPasswordRejectsWrongPassword(t *testing.T) {
	client, srv := net.Pipe()
	result := make(chan bool, 1)
	go func() { result <- checkPassword(srv, "secret") }()

	var lenBuf [2]byte
	wire.PutU16(lenBuf[:], uint16(len("wrong")))
	client.Write(lenBuf[:])
	client.Write([]byte("wrong"))

	ack := make([]byte, 1)
	client.Read(ack)
	client.Close()
	srv.Close()

	if <-result {
		t.Fatalf("checkPassword should reject a wrong password")
	}
	if ack[0] != 0 {
		t.Fatalf("ack byte = %d, want 0", ack[0])
	}
}
