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
)

// pmaWriter buffers appends to a temp file. The buffer is flushed at
// page-aligned file offsets; the first flush may be a partial page.
type pmaWriter struct {
	err      error
	buf      []byte
	bufStart int
	bufEnd   int
	writeOff int64
	file     *storage.TempFile
}

func newPmaWriter(file *storage.TempFile, bufSize int, start int64) *pmaWriter {
	w := &pmaWriter{
		buf:  make([]byte, bufSize),
		file: file,
	}
	w.bufStart = int(start % int64(bufSize))
	w.bufEnd = w.bufStart
	w.writeOff = start - int64(w.bufStart)
	return w
}

func (w *pmaWriter) writeBlob(data []byte) {
	for len(data) > 0 && w.err == nil {
		n := copy(w.buf[w.bufEnd:], data)
		w.bufEnd += n
		data = data[n:]
		if w.bufEnd == len(w.buf) {
			w.err = w.file.WriteAt(w.buf[w.bufStart:w.bufEnd], w.writeOff+int64(w.bufStart))
			w.bufStart, w.bufEnd = 0, 0
			w.writeOff += int64(len(w.buf))
		}
	}
}

func (w *pmaWriter) writeVarint(v uint64) {
	var tmp [record.MaxVarintLen]byte
	n := record.PutVarint(tmp[:], v)
	w.writeBlob(tmp[:n])
}

// finish writes out what is buffered and returns the file offset just
// past the last byte written.
func (w *pmaWriter) finish() (int64, error) {
	if w.err == nil && w.bufEnd > w.bufStart {
		w.err = w.file.WriteAt(w.buf[w.bufStart:w.bufEnd], w.writeOff+int64(w.bufStart))
	}
	eof := w.writeOff + int64(w.bufEnd)
	w.buf = nil
	return eof, w.err
}
