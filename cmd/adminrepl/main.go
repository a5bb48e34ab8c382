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

// Command adminrepl is a bare-bones interactive client for the server
// in this module (SPEC_FULL.md DOMAIN STACK entry for chzyer/readline:
// an optional admin CLI for sending raw opcodes to a running node). It
// speaks exactly the wire this
// module's server.Server expects: the one-time shard prefix, then
// framed request/response pairs.
package main

import (
	"flag"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"

	"github.com/chzyer/readline"

	"github.com/launix-de/shardkv/wire"
)

func main() {
	addr := flag.String("addr", "localhost:10000", "server TCP address")
	shard := flag.Uint("shard", 0, "shard number to connect to")
	password := flag.String("password", "", "server password, if configured")
	flag.Parse()

	conn, err := net.Dial("tcp", *addr)
	if err != nil {
		fmt.Println("adminrepl:", err)
		return
	}
	defer conn.Close()

	var shardBuf [2]byte
	wire.PutU16(shardBuf[:], uint16(*shard))
	if _, err := conn.Write(shardBuf[:]); err != nil {
		fmt.Println("adminrepl:", err)
		return
	}
	if *password != "" {
		if err := sendPassword(conn, *password); err != nil {
			fmt.Println("adminrepl:", err)
			return
		}
	}

	reader := wire.NewReader(conn)
	writer := wire.NewWriter(conn)

	rl, err := readline.New("shardkv> ")
	if err != nil {
		fmt.Println("adminrepl:", err)
		return
	}
	defer rl.Close()

	for {
		line, err := rl.Readline()
		if err != nil { // io.EOF on ^D, readline.ErrInterrupt on ^C
			return
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		body, err := encodeCommand(line)
		if err != nil {
			fmt.Println("adminrepl:", err)
			continue
		}
		status, resp, err := roundTrip(reader, writer, body)
		if err != nil {
			fmt.Println("adminrepl:", err)
			return
		}
		fmt.Printf("status=%d body=%x\n", status, resp)
	}
}

// encodeCommand turns one REPL line into a request body. Only the six
// read-only commands listed in the default case are supported; no
// command creates, writes or drops anything.
func encodeCommand(line string) ([]byte, error) {
	fields := strings.Fields(line)
	switch fields[0] {
	case "ping":
		return []byte{wire.OpPing}, nil
	case "tables":
		return []byte{wire.OpGetTablesNames}, nil
	case "hierarchy":
		return []byte{wire.OpGetHierarchy}, nil
	case "metadata":
		return []byte{wire.OpGetShardMetadata}, nil
	case "tablenumber":
		if len(fields) != 2 {
			return nil, fmt.Errorf("usage: tablenumber <name>")
		}
		return append([]byte{wire.OpGetTableNumber}, encodeName(fields[1])...), nil
	case "get":
		if len(fields) != 3 {
			return nil, fmt.Errorf("usage: get <table_number> <key>")
		}
		return encodeTableKey(wire.OpGet, fields[1], fields[2])
	default:
		return nil, fmt.Errorf("unknown command %q (try: ping, tables, hierarchy, metadata, tablenumber, get)", fields[0])
	}
}

func encodeName(name string) []byte {
	buf := make([]byte, 2+len(name))
	wire.PutU16(buf[0:2], uint16(len(name)))
	copy(buf[2:], name)
	return buf
}

func encodeTableKey(op byte, tableNumberStr, key string) ([]byte, error) {
	n, err := strconv.ParseUint(tableNumberStr, 10, 16)
	if err != nil {
		return nil, fmt.Errorf("bad table number %q: %w", tableNumberStr, err)
	}
	k := wire.NewKey([]byte(key))
	body := make([]byte, 1+2+len(k.OnWire()))
	body[0] = op
	wire.PutU16(body[1:3], uint16(n))
	copy(body[3:], k.OnWire())
	return body, nil
}

func roundTrip(reader *wire.Reader, writer *wire.Writer, body []byte) (byte, []byte, error) {
	total := wire.FrameLen(len(body))
	if err := writer.WriteConnectionHeader(uint32(total), true); err != nil {
		return 0, nil, err
	}
	if err := writer.WriteMessage(body); err != nil {
		return 0, nil, err
	}
	if err := writer.Flush(); err != nil {
		return 0, nil, err
	}

	isRequest, outcome := reader.ReadRequest()
	if outcome != wire.OutcomeOK {
		return 0, nil, fmt.Errorf("read response header: outcome %d", outcome)
	}
	if isRequest {
		return 0, nil, fmt.Errorf("server sent a request-direction frame")
	}
	msg, done, outcome := reader.ReadMessage()
	if outcome != wire.OutcomeOK {
		return 0, nil, fmt.Errorf("read response message: outcome %d", outcome)
	}
	if done || len(msg) == 0 {
		return 0, nil, io.ErrUnexpectedEOF
	}
	return msg[0], msg[1:], nil
}

func sendPassword(conn net.Conn, password string) error {
	buf := make([]byte, 2+len(password))
	wire.PutU16(buf[0:2], uint16(len(password)))
	copy(buf[2:], password)
	if _, err := conn.Write(buf); err != nil {
		return err
	}
	var ack [1]byte
	if _, err := io.ReadFull(conn, ack[:]); err != nil {
		return err
	}
	if ack[0] != 1 {
		return fmt.Errorf("password rejected")
	}
	return nil
}
