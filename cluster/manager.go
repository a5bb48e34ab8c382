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

// Package cluster implements the shard manager and per-core worker loop
// of spec §4.7: one worker pinned per CPU core, each owning its shard's
// tables exclusively and reachable only through its own bounded
// channels. Grounded on the teacher's CPU-discovery and worker-pool
// pattern (_examples/launix-de-memcp/storage/limits.go,
// storage/cache.go's opChan-per-worker dispatch), generalized from
// column-storage operations to connection handoff.
package cluster

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sync"

	"github.com/docker/go-units"

	"github.com/launix-de/shardkv/logx"
	"github.com/launix-de/shardkv/reaction"
	"github.com/launix-de/shardkv/shard"
)

// Job is a unit of work handed to a shard's worker: a connection to
// drive through its full request/response loop.
type Job interface {
	// Run executes on the owning shard's worker goroutine and must not
	// touch any other shard's state.
	Run(storage *shard.Storage)
}

// worker owns exactly one shard and processes jobs handed to it via In,
// one at a time, so exactly one goroutine ever touches this shard's
// tables during steady-state request serving (spec §4.7, §5: "each shard
// worker owns its tables exclusively"). A connection occupies its
// worker until it disconnects; concurrent connections to the same shard
// queue rather than interleave, trading the source's cooperative-task
// multiplexing for Go's plain goroutine-per-worker model (recorded in
// DESIGN.md).
type worker struct {
	Storage *shard.Storage
	In      chan Job
	Out     chan struct{}
}

func (w *worker) run() {
	for job := range w.In {
		job.Run(w.Storage)
		select {
		case w.Out <- struct{}{}:
		default:
		}
	}
}

// Manager discovers CPU cores, boots one shard storage and one worker
// per core, and routes each job to the shard number passed to Submit
// (the connection's one-time 2-byte shard prefix, read by the server).
type Manager struct {
	workers  []*worker
	registry *shard.NameRegistry

	peersMu sync.RWMutex
	peers   [][]string
}

// Start boots numShards (defaulting to runtime.NumCPU() when
// numShards<=0) shard storages rooted at persistenceRoot and starts
// their worker goroutines. peers is the node/machine roster served by
// GET_HIERARCHY (spec §4.8); a nil/empty roster means single-node mode.
func Start(persistenceRoot string, numShards int, dumpIntervalMinutes int, peers [][]string) (*Manager, error) {
	if numShards <= 0 {
		numShards = runtime.NumCPU()
	}
	registry := shard.NewNameRegistry()
	m := &Manager{workers: make([]*worker, numShards), registry: registry, peers: peers}
	for i := 0; i < numShards; i++ {
		storage, err := shard.Open(persistenceRoot, i, registry, dumpIntervalMinutes)
		if err != nil {
			return nil, fmt.Errorf("cluster: boot shard %d: %w", i, err)
		}
		w := &worker{Storage: storage, In: make(chan Job, 64), Out: make(chan struct{}, 64)}
		m.workers[i] = w
		go w.run()
		logx.Logf("shard %d ready", i)
	}
	return m, nil
}

// ShardCount returns the number of shards this manager owns.
func (m *Manager) ShardCount() int {
	return len(m.workers)
}

// Submit hands job to shard number's worker. It returns once the job is
// queued, not once it completes: the queue's bound (64) is the only
// backpressure (spec §4.7 "bounded channels").
func (m *Manager) Submit(shardNumber uint16, job Job) error {
	if int(shardNumber) >= len(m.workers) {
		return fmt.Errorf("cluster: shard %d out of range (have %d)", shardNumber, len(m.workers))
	}
	m.workers[shardNumber].In <- job
	return nil
}

// StorageFor exposes one shard's storage directly, used by the acceptor
// to build a reaction.Context before submitting a connection job.
func (m *Manager) StorageFor(shardNumber uint16) (*shard.Storage, bool) {
	if int(shardNumber) >= len(m.workers) {
		return nil, false
	}
	return m.workers[shardNumber].Storage, true
}

// CreateTableEverywhere implements reaction.Broadcaster: spec §4.8 says
// CREATE_TABLE_* "creates the table on every shard", which only the
// manager (holding every shard's Storage) can actually do.
func (m *Manager) CreateTableEverywhere(action byte, body []byte) (uint16, error) {
	var number uint16
	for i, w := range m.workers {
		n, err := w.Storage.CreateTable(action, body)
		if err != nil {
			return 0, fmt.Errorf("cluster: create table on shard %d: %w", i, err)
		}
		number = n
	}
	return number, nil
}

// DropTableEverywhere implements reaction.Broadcaster, the drop-table
// mirror of CreateTableEverywhere.
func (m *Manager) DropTableEverywhere(number uint16) error {
	for i, w := range m.workers {
		if err := w.Storage.DropTable(number); err != nil {
			return fmt.Errorf("cluster: drop table on shard %d: %w", i, err)
		}
	}
	return nil
}

// Peers implements reaction.Broadcaster (spec §4.8 GET_HIERARCHY).
func (m *Manager) Peers() [][]string {
	m.peersMu.RLock()
	defer m.peersMu.RUnlock()
	return m.peers
}

// SetPeers replaces the roster GET_HIERARCHY serves, used by
// WatchPeerRoster to apply a reload without restarting the process.
func (m *Manager) SetPeers(peers [][]string) {
	m.peersMu.Lock()
	m.peers = peers
	m.peersMu.Unlock()
}

// ShardSummaries implements reaction.Broadcaster (spec §4.8
// GET_SHARD_METADATA sidecar).
func (m *Manager) ShardSummaries() []reaction.ShardSummary {
	out := make([]reaction.ShardSummary, len(m.workers))
	for i, w := range m.workers {
		bytes := walSize(w.Storage)
		out[i] = reaction.ShardSummary{
			Index:      w.Storage.Index,
			TableCount: len(w.Storage.TableNames()),
			WALBytes:   bytes,
		}
		logx.Logf("shard %d: %d tables, wal %s", w.Storage.Index, out[i].TableCount, units.HumanSize(float64(bytes)))
	}
	return out
}

func walSize(s *shard.Storage) int64 {
	info, err := os.Stat(filepath.Join(s.Dir(), "log"+fmt.Sprint(s.Generation())+".log"))
	if err != nil {
		return 0
	}
	return info.Size()
}

// Close stops every shard's dump timer and closes its WAL.
func (m *Manager) Close() {
	for _, w := range m.workers {
		close(w.In)
		if err := w.Storage.Close(); err != nil {
			logx.Warnf("cluster: close shard %d: %v", w.Storage.Index, err)
		}
	}
}
