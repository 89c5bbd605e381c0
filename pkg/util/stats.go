// Copyright 2023-2024 daviszhen
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package util

import (
	"sync/atomic"

	"go.uber.org/zap"
)

// Stats is a set of counters shared by every sorter created from the
// same environment. All fields are safe for concurrent use.
type Stats struct {
	TempFilesOpened atomic.Int64
	TempFilesClosed atomic.Int64
	PmasWritten     atomic.Int64
	BytesSpilled    atomic.Int64
	BackgroundTasks atomic.Int64
	MergeEngines    atomic.Int64
	IncrMergers     atomic.Int64
	HeapInUse       atomic.Int64
	HeapHighwater   atomic.Int64
}

func NewStats() *Stats {
	return &Stats{}
}

// AddHeap adjusts the tracked heap usage and the high-water mark.
func (s *Stats) AddHeap(delta int64) {
	now := s.HeapInUse.Add(delta)
	for {
		hw := s.HeapHighwater.Load()
		if now <= hw || s.HeapHighwater.CompareAndSwap(hw, now) {
			return
		}
	}
}

type StatsSnapshot struct {
	TempFilesOpened int64
	TempFilesClosed int64
	PmasWritten     int64
	BytesSpilled    int64
	BackgroundTasks int64
	MergeEngines    int64
	IncrMergers     int64
	HeapInUse       int64
	HeapHighwater   int64
}

func (s *Stats) Snapshot() StatsSnapshot {
	return StatsSnapshot{
		TempFilesOpened: s.TempFilesOpened.Load(),
		TempFilesClosed: s.TempFilesClosed.Load(),
		PmasWritten:     s.PmasWritten.Load(),
		BytesSpilled:    s.BytesSpilled.Load(),
		BackgroundTasks: s.BackgroundTasks.Load(),
		MergeEngines:    s.MergeEngines.Load(),
		IncrMergers:     s.IncrMergers.Load(),
		HeapInUse:       s.HeapInUse.Load(),
		HeapHighwater:   s.HeapHighwater.Load(),
	}
}

func (s StatsSnapshot) Fields() []zap.Field {
	return []zap.Field{
		zap.Int64("tempFilesOpened", s.TempFilesOpened),
		zap.Int64("tempFilesClosed", s.TempFilesClosed),
		zap.Int64("pmasWritten", s.PmasWritten),
		zap.Int64("bytesSpilled", s.BytesSpilled),
		zap.Int64("backgroundTasks", s.BackgroundTasks),
		zap.Int64("mergeEngines", s.MergeEngines),
		zap.Int64("incrMergers", s.IncrMergers),
		zap.Int64("heapHighwater", s.HeapHighwater),
	}
}

// HeapAdvisor answers whether the tracked heap is close to its soft limit.
type HeapAdvisor struct {
	stats *Stats
	limit int64
}

func NewHeapAdvisor(stats *Stats, softLimit int64) *HeapAdvisor {
	return &HeapAdvisor{stats: stats, limit: softLimit}
}

// NearlyFull reports true once usage passes 90% of the soft limit.
func (h *HeapAdvisor) NearlyFull() bool {
	if h == nil || h.limit <= 0 {
		return false
	}
	return h.stats.HeapInUse.Load() >= h.limit/10*9
}
