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
	"github.com/daviszhen/extsort/pkg/util"
)

type initMode int

const (
	// initNormal prepares a merger used from a single goroutine.
	initNormal initMode = iota
	// initTask runs on a task's own goroutine. Readers are prepared but
	// not advanced.
	initTask
	// initRoot prepares the root merger of a threaded sort.
	initRoot
)

// mergeEngine merges up to len(readers) sorted inputs with a tournament
// tree. tree[i] for i >= 2 holds the index of the reader that wins the
// comparison at node i; tree[1] is the overall winner. Slots at and
// above nTree/2 compare readers directly.
type mergeEngine struct {
	task    *subtask
	tree    []int
	readers []pmaReader
}

// newMergeEngine allocates a merger for n inputs, rounded up to a power
// of two.
func newMergeEngine(n int) *mergeEngine {
	util.AssertFunc(n <= util.MaxMergeCount)
	nTree := max(2, int(util.NextPowerOfTwo(uint64(n))))
	return &mergeEngine{
		tree:    make([]int, nTree),
		readers: make([]pmaReader, nTree),
	}
}

func (m *mergeEngine) free() {
	if m == nil {
		return
	}
	for i := range m.readers {
		m.readers[i].clear()
	}
}

// winner is the reader holding the smallest current key.
func (m *mergeEngine) winner() *pmaReader {
	return &m.readers[m.tree[1]]
}

// init prepares every reader, then fills the tree from the leaves up.
func (m *mergeEngine) init(task *subtask, mode initMode) error {
	util.AssertFunc(m.task == nil)
	m.task = task
	task.sorter.env.Stats.MergeEngines.Add(1)
	for i := range m.readers {
		var err error
		if mode == initRoot {
			// The last reader is filled on this goroutine. Doing it
			// first gives the other tasks time to finish.
			err = m.readers[len(m.readers)-1-i].next()
		} else {
			err = m.readers[i].incrInit(initNormal)
		}
		if err != nil {
			return err
		}
	}
	for i := len(m.tree) - 1; i > 0; i-- {
		if err := m.compare(i); err != nil {
			return err
		}
	}
	return task.unpacked.Err
}

// compare sets tree[iOut] from the two inputs below it.
func (m *mergeEngine) compare(iOut int) error {
	nTree := len(m.tree)
	var i1, i2 int
	if iOut >= nTree/2 {
		i1 = (iOut - nTree/2) * 2
		i2 = i1 + 1
	} else {
		i1 = m.tree[iOut*2]
		i2 = m.tree[iOut*2+1]
	}
	p1, p2 := &m.readers[i1], &m.readers[i2]
	switch {
	case p1.exhausted():
		m.tree[iOut] = i2
		return nil
	case p2.exhausted():
		m.tree[iOut] = i1
		return nil
	}
	cached := false
	task := m.task
	res := task.compare(task, &cached, p1.key, p2.key)
	if task.unpacked.Err != nil {
		return task.unpacked.Err
	}
	if res <= 0 {
		m.tree[iOut] = i1
	} else {
		m.tree[iOut] = i2
	}
	return nil
}

// step advances the winning reader and replays the matches on its path
// to the root. It reports true once every input is exhausted.
func (m *mergeEngine) step() (bool, error) {
	iPrev := m.tree[1]
	task := m.task
	if err := m.readers[iPrev].next(); err != nil {
		return false, err
	}
	cached := false
	i1, i2 := iPrev&^1, iPrev|1
	for i := (len(m.tree) + iPrev) / 2; i > 0; i /= 2 {
		p1, p2 := &m.readers[i1], &m.readers[i2]
		var res int
		switch {
		case p1.exhausted():
			res = 1
		case p2.exhausted():
			res = -1
		default:
			res = task.compare(task, &cached, p1.key, p2.key)
			if task.unpacked.Err != nil {
				return false, task.unpacked.Err
			}
		}
		// on a tie the older input, at the lower index, wins
		if res < 0 || (res == 0 && i1 < i2) {
			m.tree[i] = i1
			i2 = m.tree[i^1]
			cached = false
		} else {
			if !p1.exhausted() {
				cached = false
			}
			m.tree[i] = i2
			i1 = m.tree[i^1]
		}
	}
	return m.winner().exhausted(), nil
}
