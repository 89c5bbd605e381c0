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

// Package sorter sorts serialized records that may not fit in memory.
//
// Records are collected in memory and, once the list passes a size
// threshold, sorted and written to a temp file as a packed memory array
// (PMA). Rewind merges the PMAs back through a tree of merge engines
// with fan-in util.MaxMergeCount. Up to Threads background goroutines
// sort and write lists and run parts of the merge.
//
// Typical use:
//
//	s, err := sorter.New(env, 1, keyInfo)
//	for _, rec := range records {
//		err = s.Write(rec)
//	}
//	empty, err := s.Rewind()
//	for eof := empty; !eof; eof, err = s.Next() {
//		use(s.Key())
//	}
//	s.Close()
package sorter

import (
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/daviszhen/extsort/pkg/record"
	"github.com/daviszhen/extsort/pkg/util"
)

const (
	FaultReaderSeek = "sorter.reader.seek"
	FaultFlush      = "sorter.flush"
)

type Sorter struct {
	env     *Env
	keyInfo *record.KeyInfo
	// list size bounds that trigger a flush
	mnPmaSize int
	mxPmaSize int
	// largest key written, including its length varint
	mxKeysize int
	pgsz      int
	// merge output when threaded
	reader *pmaReader
	// merge output when single-threaded
	merger *mergeEngine
	// current key decoded for Compare
	unpacked *record.UnpackedRecord
	list     sorterList
	// task most recently handed a list
	iPrev      int
	tasks      []*subtask
	usePMA     bool
	useThreads bool
	typeMask   uint8
	initMask   uint8
	// sticky error; the sort is abandoned once set
	err     error
	rewound bool
	closed  bool

	records      int64
	pmas         int
	bgFlushes    int
	depth        int
	comparatorAt string
}

// New creates a sorter whose keys are compared on their first nField
// fields as described by keyInfo. A nil env uses DefaultEnv.
func New(env *Env, nField int, keyInfo *record.KeyInfo) (*Sorter, error) {
	if env == nil {
		env = DefaultEnv()
	}
	if nField <= 0 {
		return nil, errors.Wrapf(util.ErrMisuse, "sorter needs at least one key field, got %d", nField)
	}
	var ki *record.KeyInfo
	if keyInfo == nil {
		ki = record.NewKeyInfo(nField, nField)
	} else {
		ki = keyInfo.Clone()
	}
	if nField > ki.NAllField {
		return nil, errors.Wrapf(util.ErrMisuse, "sorter key has %d fields, key info describes %d", nField, ki.NAllField)
	}
	ki.NKeyField = nField

	cfg := &env.Config
	s := &Sorter{
		env:        env,
		keyInfo:    ki,
		pgsz:       cfg.PageSize,
		useThreads: cfg.Threads > 0,
	}
	s.mnPmaSize, s.mxPmaSize = cfg.PmaThresholds()
	mode := linkArena
	if cfg.SmallAlloc {
		mode = linkPointer
	}
	s.list = newSorterList(mode)
	nTask := cfg.Threads + 1
	s.tasks = make([]*subtask, nTask)
	for i := range s.tasks {
		s.tasks[i] = &subtask{
			id:     i,
			sorter: s,
			list:   newSorterList(mode),
		}
	}
	s.initMask = initialTypeMask(ki)
	s.typeMask = s.initMask
	util.Debug("sorter created",
		zap.Int("fields", nField),
		zap.Int("tasks", nTask),
		zap.Int("minPma", s.mnPmaSize),
		zap.Int("maxPma", s.mxPmaSize))
	return s, nil
}

func (s *Sorter) fail(err error) error {
	if s.err == nil {
		s.err = err
		util.Warn("sorter failed", zap.Error(err))
	}
	return s.err
}

// Write adds a copy of rec to the sorter.
func (s *Sorter) Write(rec []byte) error {
	if s.closed || s.rewound {
		return errors.Wrap(util.ErrMisuse, "write to a sorter that is closed or being read")
	}
	if s.err != nil {
		return s.err
	}
	cfg := &s.env.Config
	if len(rec) > cfg.MaxKeySize {
		return s.fail(util.TooBigErrorf("record of %d bytes exceeds %d", len(rec), cfg.MaxKeySize))
	}
	s.typeMask = nextTypeMask(s.typeMask, rec)

	nPMA := len(rec) + record.VarintLen(uint64(len(rec)))
	if s.list.count > 0 {
		flush := s.list.szPMA+nPMA > s.mxPmaSize ||
			(s.list.szPMA > s.mnPmaSize && s.env.heap.NearlyFull()) ||
			!s.list.fits(len(rec))
		if flush {
			if err := s.flushPMA(); err != nil {
				return s.fail(err)
			}
		}
	}

	if limit := cfg.HardHeapLimit; limit > 0 && s.env.Stats.HeapInUse.Load()+int64(len(rec)) > limit {
		return s.fail(util.NoMemErrorf("sorter heap limit of %d bytes reached", limit))
	}
	s.env.Stats.AddHeap(s.list.add(rec))
	s.list.szPMA += nPMA
	s.mxKeysize = max(s.mxKeysize, nPMA)
	s.records++
	return nil
}

// flushPMA writes the in-memory list out as a PMA, on an idle
// background task when there is one.
func (s *Sorter) flushPMA() error {
	if err := util.Inject(util.FAULTS_SCOPE_SORTER, FaultFlush); err != nil {
		return util.IOErrorf(err, "flush sorter list")
	}
	s.usePMA = true
	s.pmas++
	cmp := selectComparator(s.typeMask)
	if !s.useThreads {
		task := s.tasks[0]
		task.compare = cmp
		return task.listToPMA(&s.list)
	}

	nWorker := len(s.tasks) - 1
	var task *subtask
	i := 0
	for ; i < nWorker; i++ {
		task = s.tasks[(s.iPrev+i+1)%nWorker]
		if task.thread != nil && task.threadDone() {
			if err := task.joinThread(); err != nil {
				return err
			}
		}
		if task.thread == nil {
			break
		}
	}
	if i == nWorker {
		last := s.tasks[nWorker]
		last.compare = cmp
		return last.listToPMA(&s.list)
	}

	s.iPrev = task.id
	s.bgFlushes++
	task.compare = cmp
	task.list, s.list = s.list, task.list
	s.list.reset()
	return task.startThread(func() error {
		return task.listToPMA(&task.list)
	})
}

// joinAll waits for every background task, the last one first, and
// returns err or else the first task error.
func (s *Sorter) joinAll(err error) error {
	for i := len(s.tasks) - 1; i >= 0; i-- {
		if err2 := s.tasks[i].joinThread(); err == nil {
			err = err2
		}
	}
	return err
}

// Rewind finishes writing and positions the sorter on the smallest key.
// It reports true when nothing was written.
func (s *Sorter) Rewind() (bool, error) {
	if s.closed || s.rewound {
		return false, errors.Wrap(util.ErrMisuse, "rewind of a sorter that is closed or already rewound")
	}
	if s.err != nil {
		return false, s.err
	}
	s.rewound = true
	s.comparatorAt = comparatorName(s.typeMask)

	if !s.usePMA {
		if s.list.count == 0 {
			return true, nil
		}
		task := s.tasks[0]
		task.compare = selectComparator(s.typeMask)
		if err := task.sortList(&s.list); err != nil {
			return false, s.fail(err)
		}
		return false, nil
	}

	var err error
	if s.list.count > 0 {
		err = s.flushPMA()
	}
	err = s.joinAll(err)
	if err == nil {
		err = s.setupMerge()
	}
	if err != nil {
		return false, s.fail(err)
	}
	util.Debug("sorter rewound",
		zap.Int64("records", s.records),
		zap.Int("pmas", s.pmas),
		zap.Int("depth", s.depth),
		zap.String("comparator", s.comparatorAt))
	return false, nil
}

// Next advances to the following key and reports true at the end.
func (s *Sorter) Next() (bool, error) {
	if !s.rewound {
		return false, errors.Wrap(util.ErrMisuse, "next on a sorter that was not rewound")
	}
	if s.err != nil {
		return false, s.err
	}
	if s.usePMA {
		if s.useThreads {
			if err := s.reader.next(); err != nil {
				return false, s.fail(err)
			}
			return s.reader.exhausted(), nil
		}
		eof, err := s.merger.step()
		if err != nil {
			return false, s.fail(err)
		}
		return eof, nil
	}
	if s.list.head == nil {
		return true, nil
	}
	s.list.head = s.list.head.next
	return s.list.head == nil, nil
}

// Key returns the current key. It is valid until the next call to Next.
func (s *Sorter) Key() []byte {
	if !s.rewound || s.err != nil {
		return nil
	}
	if s.usePMA {
		if s.useThreads {
			return s.reader.key
		}
		return s.merger.winner().key
	}
	if s.list.head == nil {
		return nil
	}
	return s.list.head.key
}

// Rowkey appends the current key to dst.
func (s *Sorter) Rowkey(dst []byte) []byte {
	return append(dst, s.Key()...)
}

// Compare compares candidate with the first nKeyCol fields of the
// current key. The result is negative when candidate sorts first. If
// any of those fields of the current key is NULL the result is -1.
func (s *Sorter) Compare(candidate []byte, nKeyCol int) (int, error) {
	key := s.Key()
	if key == nil {
		return 0, errors.Wrap(util.ErrMisuse, "compare without a current key")
	}
	if s.unpacked == nil {
		s.unpacked = s.keyInfo.NewUnpacked()
	}
	r2 := s.unpacked
	r2.Err = nil
	s.keyInfo.Unpack(key, r2, nKeyCol)
	if r2.Err != nil {
		return 0, r2.Err
	}
	for i := 0; i < r2.NField; i++ {
		if r2.Fields[i].IsNull() {
			return -1, nil
		}
	}
	res := record.Compare(candidate, r2)
	return res, r2.Err
}

// Reset drops every record and temp file, leaving the sorter ready to
// be written again.
func (s *Sorter) Reset() {
	_ = s.joinAll(nil)
	if s.reader != nil {
		s.reader.clear()
		s.reader = nil
	}
	if s.merger != nil {
		s.merger.free()
		s.merger = nil
	}
	for _, task := range s.tasks {
		task.cleanup()
	}
	s.env.Stats.AddHeap(-s.list.mem)
	s.list.reset()
	s.unpacked = nil
	s.usePMA = false
	s.mxKeysize = 0
	s.iPrev = 0
	s.typeMask = s.initMask
	s.err = nil
	s.rewound = false
	s.records = 0
	s.pmas = 0
	s.bgFlushes = 0
	s.depth = 0
	s.comparatorAt = ""
}

// Close releases the sorter. It may be called more than once.
func (s *Sorter) Close() {
	if s.closed {
		return
	}
	s.Reset()
	s.closed = true
	s.list = sorterList{}
	s.tasks = nil
}

// UsesDisk reports whether any PMA was written.
func (s *Sorter) UsesDisk() bool {
	return s.usePMA
}

type SorterStats struct {
	Records int64
	// one per flush of the in-memory list
	PMAs              int
	BackgroundFlushes int
	// merge engine levels in the deepest task tree
	MergeDepth int
	Comparator string
}

func (s *Sorter) Stats() SorterStats {
	st := SorterStats{
		Records:           s.records,
		PMAs:              s.pmas,
		BackgroundFlushes: s.bgFlushes,
		MergeDepth:        s.depth,
		Comparator:        s.comparatorAt,
	}
	if !s.rewound {
		st.Comparator = comparatorName(s.typeMask)
	}
	return st
}
