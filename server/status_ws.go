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
package server

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/launix-de/shardkv/logx"
)

// statusUpgrader accepts connections from any origin: the status feed
// is read-only operational data, not a credentialed API (spec §6's
// PASSWORD check is a wire-protocol concern, not an HTTP one).
var statusUpgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// ListenStatus starts an optional read-only status feed (SPEC_FULL.md
// DOMAIN STACK entry for gorilla/websocket: live shard metrics over a
// websocket, beside the wire protocol's GET_SHARD_METADATA). It pushes one reaction.ShardSummary
// snapshot per second per connected client until the client disconnects.
func (s *Server) ListenStatus(addr string) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/status", s.serveStatusWS)
	logx.Logf("listening status ws %s", addr)
	return http.ListenAndServe(addr, mux)
}

func (s *Server) serveStatusWS(w http.ResponseWriter, r *http.Request) {
	conn, err := statusUpgrader.Upgrade(w, r, nil)
	if err != nil {
		logx.Warnf("server: status ws upgrade: %v", err)
		return
	}
	defer conn.Close()

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for range ticker.C {
		summaries := s.manager.ShardSummaries()
		payload, err := json.Marshal(summaries)
		if err != nil {
			return
		}
		if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
			return
		}
	}
}
