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
	"fmt"

	"github.com/xlab/treeprint"
)

// Explain renders the state of the sorter: the list being written, or
// the merge tree that is being read.
// Background work is waited for first.
func (s *Sorter) Explain() string {
	if err := s.joinAll(nil); err != nil {
		_ = s.fail(err)
	}
	tree := treeprint.NewWithRoot(fmt.Sprintf("Sorter tasks=%d comparator=%s", len(s.tasks), s.Stats().Comparator))
	switch {
	case !s.rewound:
		tree.AddNode(fmt.Sprintf("writing: %d records in memory, %d pmas", s.list.count, s.pmas))
	case !s.usePMA:
		tree.AddNode(fmt.Sprintf("in-memory list: %d records", s.list.count))
	case s.useThreads:
		explainReader(tree, s.reader)
	default:
		explainMerger(tree, s.merger)
	}
	return tree.String()
}

func explainMerger(tree treeprint.Tree, m *mergeEngine) {
	if m == nil {
		return
	}
	br := tree.AddBranch(fmt.Sprintf("MergeEngine inputs=%d", len(m.readers)))
	for i := range m.readers {
		explainReader(br, &m.readers[i])
	}
}

func explainReader(tree treeprint.Tree, r *pmaReader) {
	switch {
	case r.incr != nil:
		incr := r.incr
		br := tree.AddBranch(fmt.Sprintf("IncrMerger task=%d threaded=%v region=%d", incr.task.id, incr.useThread, incr.mxSz))
		explainMerger(br, incr.merger)
	case !r.exhausted():
		tree.AddNode(fmt.Sprintf("PMA task=%d offset=%d", r.taskID, r.startOff))
	default:
		tree.AddNode("(done)")
	}
}
