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

package sorter

import (
	"go.uber.org/zap"

	"github.com/daviszhen/extsort/pkg/record"
	"github.com/daviszhen/extsort/pkg/util"
)

// incrMerger feeds a pmaReader from a mergeEngine in bounded regions of
// at most mxSz bytes. files[1] is being filled while files[0] is read.
//
// A threaded merger owns two temp files and refills files[1] on its
// task's goroutine. Otherwise both regions live in the task's file2 and
// are refilled synchronously when the reader runs dry.
type incrMerger struct {
	task      *subtask
	merger    *mergeEngine
	startOff  int64
	mxSz      int64
	eof       bool
	useThread bool
	files     [2]sorterFile
}

// newIncrMerger reserves room for two regions in the task's file2.
func newIncrMerger(task *subtask, merger *mergeEngine) *incrMerger {
	s := task.sorter
	incr := &incrMerger{
		task:   task,
		merger: merger,
		mxSz:   max(int64(s.mxKeysize)+record.MaxVarintLen, int64(s.mxPmaSize)/2),
	}
	task.file2.eof += incr.mxSz
	s.env.Stats.IncrMergers.Add(1)
	return incr
}

// setThreads gives the merger its own temp files.
func (incr *incrMerger) setThreads() {
	incr.useThread = true
	incr.task.file2.eof -= incr.mxSz
}

func (incr *incrMerger) free() {
	if incr.useThread {
		_ = incr.task.joinThread()
		incr.files[0].close()
		incr.files[1].close()
	}
	incr.merger.free()
}

// populate writes keys from the merger into files[1] until the region
// is full or the merger runs dry.
func (incr *incrMerger) populate() error {
	start := incr.startOff
	out := &incr.files[1]
	w := newPmaWriter(out.file, incr.task.sorter.pgsz, start)
	merger := incr.merger
	for w.err == nil {
		r := merger.winner()
		if r.exhausted() {
			break
		}
		nKey := len(r.key)
		if w.writeOff+int64(w.bufEnd)+int64(nKey+record.VarintLen(uint64(nKey))) > start+incr.mxSz {
			break
		}
		w.writeVarint(uint64(nKey))
		w.writeBlob(r.key)
		if _, err := merger.step(); err != nil {
			_, _ = w.finish()
			return err
		}
	}
	eof, err := w.finish()
	out.eof = eof
	util.Debug("sorter populate region",
		zap.Int("task", incr.task.id),
		zap.Int64("start", start),
		zap.Int64("end", eof),
		zap.Bool("threaded", incr.useThread))
	return err
}

func (incr *incrMerger) bgPopulate() error {
	return incr.task.startThread(incr.populate)
}

// swap makes the freshly filled region readable and starts refilling
// the other one.
func (incr *incrMerger) swap() error {
	if incr.useThread {
		if err := incr.task.joinThread(); err != nil {
			return err
		}
		incr.files[0], incr.files[1] = incr.files[1], incr.files[0]
		if incr.files[0].eof == incr.startOff {
			incr.eof = true
			return nil
		}
		return incr.bgPopulate()
	}
	if err := incr.populate(); err != nil {
		return err
	}
	incr.files[0] = incr.files[1]
	if incr.files[0].eof == incr.startOff {
		incr.eof = true
	}
	return nil
}
