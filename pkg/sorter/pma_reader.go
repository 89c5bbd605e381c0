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
	"github.com/daviszhen/extsort/pkg/record"
	"github.com/daviszhen/extsort/pkg/storage"
	"github.com/daviszhen/extsort/pkg/util"
)

// sorterFile is a temp file and the offset just past its data.
type sorterFile struct {
	file *storage.TempFile
	eof  int64
}

func (sf *sorterFile) close() {
	if sf.file != nil {
		_ = sf.file.Close()
	}
	*sf = sorterFile{}
}

// pmaReader iterates the keys of one PMA, or of the regions an
// incrMerger produces. file is nil once it is exhausted.
type pmaReader struct {
	readOff int64
	eof     int64
	// scratch for keys that straddle buffer pages
	alloc  []byte
	key    []byte
	buf    []byte
	mapped []byte
	file   *storage.TempFile
	incr   *incrMerger
	// where the PMA starts, for Explain
	taskID   int
	startOff int64
}

func (r *pmaReader) exhausted() bool {
	return r.file == nil
}

// clear drops the reader's state, freeing its incrMerger.
func (r *pmaReader) clear() {
	if r.incr != nil {
		r.incr.free()
	}
	*r = pmaReader{}
}

// seek points r at off within sf. Without a mapping the tail of the
// page containing off is loaded.
func (r *pmaReader) seek(task *subtask, sf *sorterFile, off int64) error {
	if err := util.Inject(util.FAULTS_SCOPE_SORTER, FaultReaderSeek); err != nil {
		return util.IOErrorf(err, "seek pma reader at %d", off)
	}
	r.readOff = off
	r.eof = sf.eof
	r.file = sf.file
	r.key = nil
	r.mapped = nil
	if m, ok := sf.file.Map(sf.eof); ok {
		r.mapped = m
		return nil
	}
	pgsz := task.sorter.pgsz
	if r.buf == nil {
		r.buf = make([]byte, pgsz)
	}
	iBuf := int(off % int64(pgsz))
	if iBuf != 0 {
		nRead := int64(pgsz - iBuf)
		if off+nRead > r.eof {
			nRead = r.eof - off
		}
		if nRead > 0 {
			return sf.file.ReadAt(r.buf[iBuf:iBuf+int(nRead)], off)
		}
	}
	return nil
}

// readBlob returns the next n bytes. The slice is valid until the next
// read.
func (r *pmaReader) readBlob(n int) ([]byte, error) {
	if int64(n) > r.eof-r.readOff {
		return nil, util.CorruptErrorf("pma entry of %d bytes at %d runs past %d", n, r.readOff, r.eof)
	}
	if r.mapped != nil {
		out := r.mapped[r.readOff : r.readOff+int64(n)]
		r.readOff += int64(n)
		return out, nil
	}
	nBuffer := len(r.buf)
	iBuf := int(r.readOff % int64(nBuffer))
	if iBuf == 0 {
		nRead := int64(nBuffer)
		if r.eof-r.readOff < nRead {
			nRead = r.eof - r.readOff
		}
		if err := r.file.ReadAt(r.buf[:nRead], r.readOff); err != nil {
			return nil, err
		}
	}
	nAvail := nBuffer - iBuf
	if n <= nAvail {
		out := r.buf[iBuf : iBuf+n]
		r.readOff += int64(n)
		return out, nil
	}

	if cap(r.alloc) < n {
		sz := max(128, 2*cap(r.alloc))
		for sz < n {
			sz *= 2
		}
		r.alloc = make([]byte, sz)
	}
	out := r.alloc[:n]
	copy(out, r.buf[iBuf:])
	r.readOff += int64(nAvail)
	for rem := n - nAvail; rem > 0; {
		nCopy := min(rem, nBuffer)
		next, err := r.readBlob(nCopy)
		if err != nil {
			return nil, err
		}
		copy(out[n-rem:], next)
		rem -= nCopy
	}
	return out, nil
}

func (r *pmaReader) readVarint() (uint64, error) {
	if r.mapped != nil {
		v, n := record.GetVarint(r.mapped[r.readOff:r.eof])
		if n == 0 {
			return 0, util.CorruptErrorf("truncated varint at %d", r.readOff)
		}
		r.readOff += int64(n)
		return v, nil
	}
	iBuf := int(r.readOff % int64(len(r.buf)))
	if iBuf != 0 && len(r.buf)-iBuf >= record.MaxVarintLen {
		end := min(len(r.buf), iBuf+int(r.eof-r.readOff))
		v, n := record.GetVarint(r.buf[iBuf:end])
		if n == 0 {
			return 0, util.CorruptErrorf("truncated varint at %d", r.readOff)
		}
		r.readOff += int64(n)
		return v, nil
	}
	var tmp [record.MaxVarintLen]byte
	i := 0
	for {
		b, err := r.readBlob(1)
		if err != nil {
			return 0, err
		}
		tmp[i] = b[0]
		i++
		if b[0]&0x80 == 0 || i == record.MaxVarintLen {
			break
		}
	}
	v, _ := record.GetVarint(tmp[:i])
	return v, nil
}

// next advances to the following key. When the current region of an
// incrMerger is used up the next one is swapped in.
func (r *pmaReader) next() error {
	if r.readOff >= r.eof {
		exhausted := true
		if incr := r.incr; incr != nil {
			if err := incr.swap(); err != nil {
				return err
			}
			if !incr.eof {
				if err := r.seek(incr.task, &incr.files[0], incr.startOff); err != nil {
					return err
				}
				exhausted = false
			}
		}
		if exhausted {
			r.clear()
			return nil
		}
	}
	n, err := r.readVarint()
	if err != nil {
		return err
	}
	if n > uint64(r.eof-r.readOff) {
		return util.CorruptErrorf("key of %d bytes at %d runs past %d", n, r.readOff, r.eof)
	}
	r.key, err = r.readBlob(int(n))
	return err
}

// init positions r on the first key of the PMA at start in sf and
// returns the size of that PMA.
func (r *pmaReader) init(task *subtask, sf *sorterFile, start int64) (int64, error) {
	util.AssertFunc(sf.eof > start)
	util.AssertFunc(r.alloc == nil && r.incr == nil)
	r.taskID = task.id
	r.startOff = start
	if err := r.seek(task, sf, start); err != nil {
		return 0, err
	}
	nByte, err := r.readVarint()
	if err != nil {
		return 0, err
	}
	if nByte > uint64(r.eof-r.readOff) {
		return 0, util.CorruptErrorf("pma of %d bytes at %d runs past %d", nByte, start, r.eof)
	}
	r.eof = r.readOff + int64(nByte)
	return int64(nByte), r.next()
}

// incrInit prepares the incrMerger behind r, on the owning task's
// goroutine when the merger is threaded.
func (r *pmaReader) incrInit(mode initMode) error {
	incr := r.incr
	if incr == nil {
		return nil
	}
	if incr.useThread {
		return incr.task.startThread(func() error {
			return r.incrMergeInit(initTask)
		})
	}
	return r.incrMergeInit(mode)
}

func (r *pmaReader) incrMergeInit(mode initMode) error {
	incr := r.incr
	task := incr.task
	if err := incr.merger.init(task, mode); err != nil {
		return err
	}
	if incr.useThread {
		for i := range incr.files {
			f, err := task.openTemp(incr.mxSz)
			if err != nil {
				return err
			}
			incr.files[i].file = f
		}
	} else {
		if task.file2.file == nil {
			f, err := task.openTemp(task.file2.eof)
			if err != nil {
				return err
			}
			task.file2.file = f
			task.file2.eof = 0
		}
		incr.files[1].file = task.file2.file
		incr.startOff = task.file2.eof
		task.file2.eof += incr.mxSz
	}
	if incr.useThread {
		if err := incr.populate(); err != nil {
			return err
		}
	}
	if mode != initTask {
		return r.next()
	}
	return nil
}
