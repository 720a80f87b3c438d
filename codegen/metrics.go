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
package codegen

import "sync/atomic"

// CompileStats are atomically-updated counters sampled by an embedder's
// metrics reporter (e.g. cmd/jitrepl). Uses a lock-free snapshot-swap
// style: every counter is a plain
// int64 touched only via atomic ops, no mutex on the hot allocation path.
type CompileStats struct {
	movesEmitted   int64
	spillsEmitted  int64
	registerSteals int64
	thunkCalls     int64
	codeSize       int64
	poolSize       int64
}

func (s *CompileStats) recordMove()  { atomic.AddInt64(&s.movesEmitted, 1) }
func (s *CompileStats) recordSpill() { atomic.AddInt64(&s.spillsEmitted, 1) }
func (s *CompileStats) recordSteal() { atomic.AddInt64(&s.registerSteals, 1) }
func (s *CompileStats) recordThunk() { atomic.AddInt64(&s.thunkCalls, 1) }

// recordLayout is set exactly once, by finishLayout, once the final code and
// constant-pool sizes are known — unlike the other counters it is a store,
// not an add.
func (s *CompileStats) recordLayout(codeSize, poolSize int) {
	atomic.StoreInt64(&s.codeSize, int64(codeSize))
	atomic.StoreInt64(&s.poolSize, int64(poolSize))
}

// Snapshot is a point-in-time copy safe to read concurrently with an
// in-progress compilation's writer (though only one goroutine ever
// drives a given Context).
type StatsSnapshot struct {
	MovesEmitted   int64
	SpillsEmitted  int64
	RegisterSteals int64
	ThunkCalls     int64
	CodeSize       int64
	PoolSize       int64
}

func (s *CompileStats) Snapshot() StatsSnapshot {
	return StatsSnapshot{
		MovesEmitted:   atomic.LoadInt64(&s.movesEmitted),
		SpillsEmitted:  atomic.LoadInt64(&s.spillsEmitted),
		RegisterSteals: atomic.LoadInt64(&s.registerSteals),
		ThunkCalls:     atomic.LoadInt64(&s.thunkCalls),
		CodeSize:       atomic.LoadInt64(&s.codeSize),
		PoolSize:       atomic.LoadInt64(&s.poolSize),
	}
}
