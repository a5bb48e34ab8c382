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
package table

import (
	"sync/atomic"
	"time"

	"github.com/launix-de/shardkv/wire"
)

// cacheEntry is the Cache engine's index value: the minute the entry was
// last written or touched, plus the value itself (spec §4.5: "Index
// stores (created_minute, Value)").
type cacheEntry struct {
	minute uint64
	value  wire.Value
}

// processMinute is the process-wide "current minute" atomic (spec §4.5:
// "refreshed once a minute by a background task"), shared by every cache
// table across every shard in this process.
var processMinute atomic.Uint64

func currentMinute() uint64 {
	return processMinute.Load()
}

// StartMinuteTicker seeds processMinute and refreshes it once a minute
// until stop is closed. It is started once at process boot (spec §4.6
// Boot sequence step 4: "Register the TTL minute ticker").
func StartMinuteTicker(stop <-chan struct{}) {
	processMinute.Store(uint64(time.Now().Unix() / 60))
	go func() {
		ticker := time.NewTicker(time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case now := <-ticker.C:
				processMinute.Store(uint64(now.Unix() / 60))
			}
		}
	}()
}
