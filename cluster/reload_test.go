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
package cluster

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestParsePeerRoster(t *testing.T) {
	got := parsePeerRoster("a:1,a:2;b:1\n")
	if len(got) != 2 || len(got[0]) != 2 || got[0][0] != "a:1" || got[0][1] != "a:2" || got[1][0] != "b:1" {
		t.Fatalf("parsePeerRoster = %v", got)
	}
}

func TestParsePeerRosterEmpty(t *testing.T) {
	if got := parsePeerRoster("  \n"); got != nil {
		t.Fatalf("parsePeerRoster(blank) = %v, want nil", got)
	}
}

func TestParsePeerRosterSkipsEmptySegments(t *testing.T) {
	got := parsePeerRoster("a:1;;b:1")
	if len(got) != 2 {
		t.Fatalf("parsePeerRoster skipping empty node = %v, want 2 nodes", got)
	}
}

func TestWatchPeerRosterReloadsOnWrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "roster.txt")
	if err := os.WriteFile(path, []byte("a:1"), 0o644); err != nil {
		t.Fatalf("seed roster file: %v", err)
	}

	storageDir := t.TempDir()
	m, err := Start(storageDir, 1, 0, nil)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer m.Close()

	stop := make(chan struct{})
	defer close(stop)
	if err := WatchPeerRoster(m, path, stop); err != nil {
		t.Fatalf("WatchPeerRoster: %v", err)
	}

	if err := os.WriteFile(path, []byte("b:2,b:3"), 0o644); err != nil {
		t.Fatalf("rewrite roster file: %v", err)
	}

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if peers := m.Peers(); len(peers) == 1 && len(peers[0]) == 2 && peers[0][0] == "b:2" {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("peer roster was not reloaded within the deadline, Peers() = %v", m.Peers())
}
