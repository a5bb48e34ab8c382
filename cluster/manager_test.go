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
package cluster

import (
	"sync"
	"testing"

	"github.com/launix-de/shardkv/shard"
	"github.com/launix-de/shardkv/wire"
)

type recordingJob struct {
	done chan *shard.Storage
}

func (j *recordingJob) Run(storage *shard.Storage) {
	j.done <- storage
}

func buildCreateTableBody(name string) []byte {
	body := make([]byte, 12)
	nameLen := make([]byte, 2)
	wire.PutU16(nameLen, uint16(len(name)))
	body = append(body, nameLen...)
	body = append(body, []byte(name)...)
	return body
}

func TestStartBootsRequestedShardCount(t *testing.T) {
	dir := t.TempDir()
	m, err := Start(dir, 4, 0, nil)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer m.Close()
	if m.ShardCount() != 4 {
		t.Fatalf("ShardCount() = %d, want 4", m.ShardCount())
	}
}

func TestSubmitRunsJobOnNamedShard(t *testing.T) {
	dir := t.TempDir()
	m, err := Start(dir, 2, 0, nil)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer m.Close()

	job := &recordingJob{done: make(chan *shard.Storage, 1)}
	if err := m.Submit(1, job); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	got := <-job.done
	want, _ := m.StorageFor(1)
	if got != want {
		t.Fatalf("job ran against the wrong shard's storage")
	}
}

func TestSubmitOutOfRangeShard(t *testing.T) {
	dir := t.TempDir()
	m, err := Start(dir, 1, 0, nil)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer m.Close()
	if err := m.Submit(5, &recordingJob{done: make(chan *shard.Storage, 1)}); err == nil {
		t.Fatalf("Submit to an out-of-range shard should error")
	}
}

func TestCreateTableEverywhereReachesAllShards(t *testing.T) {
	dir := t.TempDir()
	m, err := Start(dir, 3, 0, nil)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer m.Close()

	number, err := m.CreateTableEverywhere(wire.OpCreateTableInMemory, buildCreateTableBody("t"))
	if err != nil {
		t.Fatalf("CreateTableEverywhere: %v", err)
	}
	for i := 0; i < m.ShardCount(); i++ {
		st, _ := m.StorageFor(uint16(i))
		if st.TableByNumber(number) == nil {
			t.Fatalf("shard %d did not get the table", i)
		}
	}
}

func TestDropTableEverywhereReachesAllShards(t *testing.T) {
	dir := t.TempDir()
	m, err := Start(dir, 2, 0, nil)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer m.Close()

	number, err := m.CreateTableEverywhere(wire.OpCreateTableInMemory, buildCreateTableBody("t"))
	if err != nil {
		t.Fatalf("CreateTableEverywhere: %v", err)
	}
	if err := m.DropTableEverywhere(number); err != nil {
		t.Fatalf("DropTableEverywhere: %v", err)
	}
	for i := 0; i < m.ShardCount(); i++ {
		st, _ := m.StorageFor(uint16(i))
		if st.TableByNumber(number) != nil {
			t.Fatalf("shard %d still has the dropped table", i)
		}
	}
}

func TestPeersAndSetPeers(t *testing.T) {
	dir := t.TempDir()
	m, err := Start(dir, 1, 0, [][]string{{"a:1"}})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer m.Close()

	if got := m.Peers(); len(got) != 1 || got[0][0] != "a:1" {
		t.Fatalf("Peers() = %v", got)
	}
	m.SetPeers([][]string{{"b:2"}, {"c:3"}})
	if got := m.Peers(); len(got) != 2 {
		t.Fatalf("Peers() after SetPeers = %v, want 2 nodes", got)
	}
}

func TestPeersConcurrentReadWrite(t *testing.T) {
	dir := t.TempDir()
	m, err := Start(dir, 1, 0, nil)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer m.Close()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(2)
		go func() { defer wg.Done(); m.Peers() }()
		go func(i int) { defer wg.Done(); m.SetPeers([][]string{{"x"}}) }(i)
	}
	wg.Wait()
}

func TestShardSummariesOneEntryPerShard(t *testing.T) {
	dir := t.TempDir()
	m, err := Start(dir, 3, 0, nil)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer m.Close()
	summaries := m.ShardSummaries()
	if len(summaries) != 3 {
		t.Fatalf("ShardSummaries() len = %d, want 3", len(summaries))
	}
}
