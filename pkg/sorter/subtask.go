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
	"github.com/petermattis/goid"
	"go.uber.org/zap"

	"github.com/daviszhen/extsort/pkg/record"
	"github.com/daviszhen/extsort/pkg/storage"
	"github.com/daviszhen/extsort/pkg/util"
)

// bgThread is a unit of work started for a subtask. done is closed once
// err is set.
type bgThread struct {
	done chan struct{}
	err  error
}

// subtask is one lane of work. Except for the last one each subtask may
// run one background goroutine at a time; while it runs, that goroutine
// owns the subtask's list, files and unpacked record.
type subtask struct {
	id       int
	sorter   *Sorter
	thread   *bgThread
	unpacked *record.UnpackedRecord
	list     sorterList
	compare  sorterCompare
	nPMA     int
	// level-0 PMAs
	file sorterFile
	// regions of the single-threaded incrMergers
	file2 sorterFile
}

func (task *subtask) allocUnpacked() {
	if task.unpacked == nil {
		task.unpacked = task.sorter.keyInfo.NewUnpacked()
	}
}

func (task *subtask) openTemp(sizeHint int64) (*storage.TempFile, error) {
	f, err := task.sorter.env.FS.OpenTemp()
	if err != nil {
		return nil, err
	}
	f.Extend(sizeHint)
	return f, nil
}

// startThread runs fn on a new goroutine when a worker slot is free and
// inline otherwise. Either way its result is collected by joinThread.
func (task *subtask) startThread(fn func() error) error {
	util.AssertFunc(task.thread == nil)
	th := &bgThread{done: make(chan struct{})}
	task.thread = th
	env := task.sorter.env
	if !env.workers.TryAcquire(1) {
		util.Debug("sorter task runs inline",
			zap.Int("task", task.id),
			zap.Int64("goid", goid.Get()))
		th.err = fn()
		close(th.done)
		return nil
	}
	env.Stats.BackgroundTasks.Add(1)
	go func() {
		util.Debug("sorter background task started",
			zap.Int("task", task.id),
			zap.Int64("goid", goid.Get()))
		defer env.workers.Release(1)
		defer close(th.done)
		defer func() {
			if p := recover(); p != nil {
				th.err = util.ConvertPanicError(p)
				util.Error("sorter background task panicked",
					zap.Int("task", task.id),
					zap.Error(th.err))
			}
		}()
		th.err = fn()
	}()
	return nil
}

// threadDone reports whether the background work has finished.
func (task *subtask) threadDone() bool {
	select {
	case <-task.thread.done:
		return true
	default:
		return false
	}
}

// joinThread waits for the background work and returns its error.
func (task *subtask) joinThread() error {
	th := task.thread
	if th == nil {
		return nil
	}
	<-th.done
	task.thread = nil
	util.Debug("sorter background task joined",
		zap.Int("task", task.id),
		zap.Int64("goid", goid.Get()),
		zap.Error(th.err))
	return th.err
}

// listToPMA sorts l and appends it to task.file as one PMA.
func (task *subtask) listToPMA(l *sorterList) error {
	env := task.sorter.env
	if task.file.file == nil {
		f, err := task.openTemp(0)
		if err != nil {
			return err
		}
		task.file = sorterFile{file: f}
		task.nPMA = 0
	}
	task.file.file.Extend(task.file.eof + int64(l.szPMA) + record.MaxVarintLen)
	if err := task.sortList(l); err != nil {
		return err
	}

	start := task.file.eof
	w := newPmaWriter(task.file.file, task.sorter.pgsz, start)
	task.nPMA++
	w.writeVarint(uint64(l.szPMA))
	for p := l.head; p != nil; p = p.next {
		w.writeVarint(uint64(len(p.key)))
		w.writeBlob(p.key)
	}
	eof, err := w.finish()
	task.file.eof = eof
	if err != nil {
		return err
	}
	env.Stats.PmasWritten.Add(1)
	util.Debug("sorter wrote pma",
		zap.Int("task", task.id),
		zap.Int64("goid", goid.Get()),
		zap.Int("records", l.count),
		zap.Int64("start", start),
		zap.Int64("end", eof))
	env.Stats.AddHeap(-l.mem)
	l.reset()
	return nil
}

// cleanup releases everything the subtask holds. Its thread must have
// been joined.
func (task *subtask) cleanup() {
	util.AssertFunc(task.thread == nil)
	task.sorter.env.Stats.AddHeap(-task.list.mem)
	task.list.reset()
	task.unpacked = nil
	task.file.close()
	task.file2.close()
	task.nPMA = 0
}
