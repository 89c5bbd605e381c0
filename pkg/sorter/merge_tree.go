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

	"github.com/daviszhen/extsort/pkg/util"
)

// treeDepth is the number of incrMerger levels needed above the level-0
// mergers to merge nPMA runs with fan-in MaxMergeCount.
func treeDepth(nPMA int) int {
	depth := 0
	for div := int64(util.MaxMergeCount); div < int64(nPMA); div *= util.MaxMergeCount {
		depth++
	}
	return depth
}

// mergeEngineLevel0 opens readers on the next nPMA consecutive PMAs of
// task.file, starting at *off, and advances *off past them.
func mergeEngineLevel0(task *subtask, nPMA int, off *int64) (*mergeEngine, error) {
	m := newMergeEngine(nPMA)
	iOff := *off
	for i := 0; i < nPMA; i++ {
		r := &m.readers[i]
		if _, err := r.init(task, &task.file, iOff); err != nil {
			m.free()
			return nil, err
		}
		iOff = r.eof
	}
	*off = iOff
	return m, nil
}

// addToTree places leaf, the iSeq'th level-0 merger, under root. Missing
// intermediate mergers are created on the way down.
func addToTree(task *subtask, depth, iSeq int, root, leaf *mergeEngine) {
	incr := newIncrMerger(task, leaf)
	div := 1
	for i := 1; i < depth; i++ {
		div *= util.MaxMergeCount
	}
	p := root
	for i := 1; i < depth; i++ {
		r := &p.readers[(iSeq/div)%util.MaxMergeCount]
		if r.incr == nil {
			r.incr = newIncrMerger(task, newMergeEngine(util.MaxMergeCount))
		}
		p = r.incr.merger
		div /= util.MaxMergeCount
	}
	p.readers[iSeq%util.MaxMergeCount].incr = incr
}

// buildMergeTree builds one merge tree per task that wrote PMAs. With
// several tasks their roots become the inputs of a main merger.
func (s *Sorter) buildMergeTree() (*mergeEngine, error) {
	var main *mergeEngine
	if len(s.tasks) > 1 {
		main = newMergeEngine(len(s.tasks))
	}
	for i, task := range s.tasks {
		if task.nPMA == 0 {
			continue
		}
		depth := treeDepth(task.nPMA)
		var off int64
		var root *mergeEngine
		var err error
		if task.nPMA <= util.MaxMergeCount {
			root, err = mergeEngineLevel0(task, task.nPMA, &off)
		} else {
			root = newMergeEngine(util.MaxMergeCount)
			iSeq := 0
			for j := 0; j < task.nPMA && err == nil; j += util.MaxMergeCount {
				var leaf *mergeEngine
				leaf, err = mergeEngineLevel0(task, min(task.nPMA-j, util.MaxMergeCount), &off)
				if err == nil {
					addToTree(task, depth, iSeq, root, leaf)
					iSeq++
				}
			}
		}
		if err != nil {
			root.free()
			main.free()
			return nil, err
		}
		s.depth = max(s.depth, depth+1)
		util.Debug("sorter merge tree",
			zap.Int("task", task.id),
			zap.Int("pmas", task.nPMA),
			zap.Int("depth", depth))
		if main != nil {
			main.readers[i].incr = newIncrMerger(task, root)
		} else {
			main = root
		}
	}
	return main, nil
}

// setupMerge builds the merge tree and positions it on the first key.
func (s *Sorter) setupMerge() error {
	cmp := selectComparator(s.typeMask)
	for _, task := range s.tasks {
		task.compare = cmp
	}
	main, err := s.buildMergeTree()
	if err != nil {
		return err
	}
	if !s.useThreads {
		s.merger = main
		return main.init(s.tasks[0], initNormal)
	}

	last := s.tasks[len(s.tasks)-1]
	last.allocUnpacked()
	s.reader = &pmaReader{}
	s.reader.incr = newIncrMerger(last, main)
	s.reader.incr.setThreads()
	for i := 0; i < len(s.tasks)-1; i++ {
		if incr := main.readers[i].incr; incr != nil {
			incr.setThreads()
		}
	}
	for i := range s.tasks {
		if err := main.readers[i].incrInit(initTask); err != nil {
			return err
		}
	}
	return s.reader.incrMergeInit(initRoot)
}
