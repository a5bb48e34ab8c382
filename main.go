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

// Command shardkv boots the sharded key/value server described in
// spec §6: it loads Config from the environment, opens one shard
// Storage per CPU (or SHARD_COUNT), starts the TCP and Unix-domain
// listeners, and registers an onexit handler so a WAL flush always
// runs before the process actually exits, the same pattern as
// storage/settings.go's onexit.Register call in the example pack.
package main

import (
	"fmt"
	"os"

	"github.com/dc0d/onexit"

	"github.com/launix-de/shardkv/cluster"
	"github.com/launix-de/shardkv/config"
	"github.com/launix-de/shardkv/logx"
	"github.com/launix-de/shardkv/server"
	"github.com/launix-de/shardkv/table"
)

func main() {
	cfg := config.Load()

	if err := os.MkdirAll(cfg.PersistencePath, 0755); err != nil {
		logx.Fatalf("main: persistence dir %s: %v", cfg.PersistencePath, err)
	}

	manager, err := cluster.Start(cfg.PersistencePath, cfg.NumShards, cfg.DumpInterval, cfg.Peers)
	if err != nil {
		logx.Fatalf("main: cluster start: %v", err)
	}

	stopTicker := make(chan struct{})
	table.StartMinuteTicker(stopTicker)

	if cfg.PeerRosterFile != "" {
		if err := cluster.WatchPeerRoster(manager, cfg.PeerRosterFile, stopTicker); err != nil {
			logx.Warnf("main: peer roster watch %s: %v", cfg.PeerRosterFile, err)
		}
	}

	onexit.Register(func() {
		close(stopTicker)
		manager.Close()
		logx.Logf("main: shut down, WAL flushed")
	})

	srv := server.New(manager, cfg.Password)

	listeners := 2
	errs := make(chan error, 3)
	go func() { errs <- srv.ListenTCP(cfg.TCPAddr) }()
	go func() { errs <- srv.ListenUnix(cfg.UnixAddr) }()
	if cfg.StatusAddr != "" {
		listeners++
		go func() { errs <- srv.ListenStatus(cfg.StatusAddr) }()
	}

	// Every listener normally serves forever; ListenUnix returns a nil
	// error immediately on Windows instead (§6's platform carve-out), so
	// a nil receive here isn't a shutdown signal, only a real error is.
	for i := 0; i < listeners; i++ {
		if err := <-errs; err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
	}
}
