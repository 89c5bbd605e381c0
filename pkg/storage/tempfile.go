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

package storage

import (
	"io"
	"os"
	"sync"

	"github.com/edsrzf/mmap-go"
	"github.com/spf13/afero"
	"go.uber.org/zap"

	"github.com/daviszhen/extsort/pkg/util"
)

const (
	FaultTempOpen  = "tempfile.open"
	FaultTempRead  = "tempfile.read"
	FaultTempWrite = "tempfile.write"
)

// TempFS creates the scratch files a sort spills to. Files are removed
// when closed. With the in-memory override every file lives in an
// afero.MemMapFs and nothing touches the OS filesystem.
type TempFS struct {
	_fs       afero.Fs
	_dir      string
	_inMemory bool
	_mmapSize int64
	_stats    *util.Stats
}

func NewTempFS(cfg *util.SorterConfig, stats *util.Stats) *TempFS {
	if stats == nil {
		stats = util.NewStats()
	}
	tfs := &TempFS{
		_dir:      cfg.TempDir,
		_inMemory: cfg.InMemory,
		_mmapSize: cfg.MmapSize,
		_stats:    stats,
	}
	if cfg.InMemory {
		tfs._fs = afero.NewMemMapFs()
		tfs._dir = "/"
	} else {
		tfs._fs = afero.NewOsFs()
	}
	return tfs
}

// NewTempFSWith uses fs as the backing filesystem.
func NewTempFSWith(fs afero.Fs, dir string, mmapSize int64, stats *util.Stats) *TempFS {
	if stats == nil {
		stats = util.NewStats()
	}
	_, inMem := fs.(*afero.MemMapFs)
	return &TempFS{
		_fs:       fs,
		_dir:      dir,
		_inMemory: inMem,
		_mmapSize: mmapSize,
		_stats:    stats,
	}
}

func (tfs *TempFS) Fs() afero.Fs {
	return tfs._fs
}

func (tfs *TempFS) InMemory() bool {
	return tfs._inMemory
}

func (tfs *TempFS) MmapSize() int64 {
	return tfs._mmapSize
}

// OpenTemp creates a new, empty scratch file.
func (tfs *TempFS) OpenTemp() (*TempFile, error) {
	if err := util.Inject(util.FAULTS_SCOPE_SORTER, FaultTempOpen); err != nil {
		return nil, util.IOErrorf(err, "open temp file")
	}
	f, err := afero.TempFile(tfs._fs, tfs._dir, "extsort-*.pma")
	if err != nil {
		return nil, util.IOErrorf(err, "open temp file in %s", tfs._dir)
	}
	tfs._stats.TempFilesOpened.Add(1)
	return &TempFile{
		_tfs:  tfs,
		_file: f,
		_name: f.Name(),
	}, nil
}

// TempFile is a scratch file addressed by absolute offsets.
type TempFile struct {
	_tfs    *TempFS
	_file   afero.File
	_name   string
	_size   int64
	_mapMu  sync.Mutex
	_mapped mmap.MMap
	_closed bool
}

func (tf *TempFile) Name() string {
	return tf._name
}

// ReadAt fills buf from off. A short read is an I/O error: callers only
// read ranges they have written.
func (tf *TempFile) ReadAt(buf []byte, off int64) error {
	if err := util.Inject(util.FAULTS_SCOPE_SORTER, FaultTempRead); err != nil {
		return util.IOErrorf(err, "read %s at %d", tf._name, off)
	}
	n, err := tf._file.ReadAt(buf, off)
	if n == len(buf) {
		return nil
	}
	if err == nil || err == io.EOF {
		err = io.ErrUnexpectedEOF
	}
	return util.IOErrorf(err, "read %d bytes from %s at %d", len(buf), tf._name, off)
}

func (tf *TempFile) WriteAt(buf []byte, off int64) error {
	if err := util.Inject(util.FAULTS_SCOPE_SORTER, FaultTempWrite); err != nil {
		return util.IOErrorf(err, "write %s at %d", tf._name, off)
	}
	if _, err := tf._file.WriteAt(buf, off); err != nil {
		return util.IOErrorf(err, "write %d bytes to %s at %d", len(buf), tf._name, off)
	}
	if end := off + int64(len(buf)); end > tf._size {
		tf._size = end
	}
	tf._tfs._stats.BytesSpilled.Add(int64(len(buf)))
	return nil
}

func (tf *TempFile) Size() (int64, error) {
	fi, err := tf._file.Stat()
	if err != nil {
		return 0, util.IOErrorf(err, "stat %s", tf._name)
	}
	return fi.Size(), nil
}

// Extend grows the file to size when size fits under the mmap limit,
// so that a later Map can cover the whole region. It is only a hint.
func (tf *TempFile) Extend(size int64) {
	if tf._tfs._mmapSize <= 0 || size > tf._tfs._mmapSize || size <= tf._size {
		return
	}
	if err := tf._file.Truncate(size); err != nil {
		util.Debug("extend temp file failed",
			zap.String("file", tf._name),
			zap.Int64("size", size),
			zap.Error(err))
		return
	}
	tf._size = size
}

// Map returns a read-only view of the first n bytes of the file, or
// false when the file cannot be mapped: n is over the mmap limit, the
// file is not an OS file, or it is shorter than n. The view stays valid
// until Close.
func (tf *TempFile) Map(n int64) ([]byte, bool) {
	if n <= 0 || tf._tfs._mmapSize <= 0 || n > tf._tfs._mmapSize {
		return nil, false
	}
	osf, ok := tf._file.(*os.File)
	if !ok {
		return nil, false
	}
	tf._mapMu.Lock()
	defer tf._mapMu.Unlock()
	if tf._mapped != nil {
		if int64(len(tf._mapped)) >= n {
			return tf._mapped[:n], true
		}
		return nil, false
	}
	size, err := tf.Size()
	if err != nil || size < n {
		return nil, false
	}
	m, err := mmap.MapRegion(osf, int(size), mmap.RDONLY, 0, 0)
	if err != nil {
		util.Debug("mmap temp file failed",
			zap.String("file", tf._name),
			zap.Error(err))
		return nil, false
	}
	tf._mapped = m
	return m[:n], true
}

// Close unmaps, closes and removes the file.
func (tf *TempFile) Close() error {
	if tf == nil || tf._closed {
		return nil
	}
	tf._closed = true
	var firstErr error
	tf._mapMu.Lock()
	if tf._mapped != nil {
		if err := tf._mapped.Unmap(); err != nil {
			firstErr = util.IOErrorf(err, "unmap %s", tf._name)
		}
		tf._mapped = nil
	}
	tf._mapMu.Unlock()
	if err := tf._file.Close(); err != nil && firstErr == nil {
		firstErr = util.IOErrorf(err, "close %s", tf._name)
	}
	if err := tf._tfs._fs.Remove(tf._name); err != nil && firstErr == nil {
		firstErr = util.IOErrorf(err, "remove %s", tf._name)
	}
	tf._tfs._stats.TempFilesClosed.Add(1)
	return firstErr
}
