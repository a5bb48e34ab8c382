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

// Package config loads the server's CLI/env surface (§6). It is kept
// deliberately minimal: a plain struct filled from os.Getenv with
// defaults, the same shape as the teacher's storage.SettingsT
// (storage/settings.go in the example pack), since nothing in the
// retrieved pack reaches for a flag-parsing framework at this scale.
package config

import (
	"os"
	"strconv"
	"strings"
)

// Config is the full CLI/env surface described in spec §6.
type Config struct {
	TCPAddr         string // TCP_ADDR, default "localhost:10000"
	UnixAddr        string // UNIX_ADDR, default "localhost:10002"
	Password        string // PASSWORD, default ""
	NodeAddr        string // NODE_ADDR, default "" -> single-node mode
	DumpInterval    int    // DUMP_INTERVAL minutes, default 60
	PersistencePath string // base directory for persistence.txt, log<N>.log, <table>/...

	// NumShards is not named in spec §6 (the shard count is "discovered"
	// per §4.7), but an operator needs to be able to pin it below
	// NumCPU() for a test box; 0 keeps the spec's default behavior.
	NumShards int // SHARD_COUNT, default 0 -> runtime.NumCPU()

	// Peers is the node/machine roster served by GET_HIERARCHY (spec
	// §4.8), grouped by node: "addr1,addr2;addr3" -> [[addr1,addr2],[addr3]].
	Peers [][]string // NODE_PEERS

	// StatusAddr, if set, starts the optional read-only websocket status
	// feed (server.ListenStatus). Empty disables it.
	StatusAddr string // STATUS_ADDR, default "" -> disabled

	// PeerRosterFile, if set, is watched for changes so NODE_PEERS can be
	// reloaded without a restart (see cluster.WatchPeerRoster).
	PeerRosterFile string // PEER_ROSTER_FILE, default "" -> disabled
}

// Load reads the environment, applying the defaults from spec §6.
func Load() Config {
	c := Config{
		TCPAddr:         getenv("TCP_ADDR", "localhost:10000"),
		UnixAddr:        getenv("UNIX_ADDR", "localhost:10002"),
		Password:        getenv("PASSWORD", ""),
		NodeAddr:        getenv("NODE_ADDR", ""),
		DumpInterval:    getenvInt("DUMP_INTERVAL", 60),
		PersistencePath: getenv("PERSISTENCE_PATH", "data"),
		NumShards:       getenvInt("SHARD_COUNT", 0),
		Peers:           parsePeers(getenv("NODE_PEERS", "")),
		StatusAddr:      getenv("STATUS_ADDR", ""),
		PeerRosterFile:  getenv("PEER_ROSTER_FILE", ""),
	}
	return c
}

// SingleNode reports whether this node has no own address configured
// (NODE_ADDR unset).
func (c Config) SingleNode() bool {
	return c.NodeAddr == ""
}

func parsePeers(raw string) [][]string {
	if raw == "" {
		return nil
	}
	var nodes [][]string
	for _, node := range strings.Split(raw, ";") {
		if node == "" {
			continue
		}
		nodes = append(nodes, strings.Split(node, ","))
	}
	return nodes
}

func getenv(key, def string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return def
}

func getenvInt(key string, def int) int {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}
