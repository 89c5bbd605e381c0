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
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func Test_pmaThresholds(t *testing.T) {
	cfg := DefaultConfig().Sorter
	mn, mx := cfg.PmaThresholds()
	assert.Equal(t, DefaultMinWorkingPages*DefaultPageSize, mn)
	assert.Equal(t, 2000*1024, mx)

	cfg.CacheSize = 100
	_, mx = cfg.PmaThresholds()
	assert.Equal(t, 100*DefaultPageSize, mx)

	cfg.MaxPmaSize = 50000
	_, mx = cfg.PmaThresholds()
	assert.Equal(t, 50000, mx)

	// never below the minimum
	cfg.CacheSize = 1
	mn, mx = cfg.PmaThresholds()
	assert.Equal(t, mn, mx)

	cfg.FlushThreshold = 100
	mn, mx = cfg.PmaThresholds()
	assert.Equal(t, 100, mx)
	assert.Equal(t, 100, mn)
}

func Test_fillDefaults(t *testing.T) {
	cfg := SorterConfig{Threads: 99}
	cfg.FillDefaults()
	assert.Equal(t, MaxMergeCount-1, cfg.Threads)
	assert.Equal(t, DefaultPageSize, cfg.PageSize)
	assert.Equal(t, DefaultMaxWorkers, cfg.MaxWorkers)
	assert.Equal(t, os.TempDir(), cfg.TempDir)

	cfg = SorterConfig{Threads: -3, PageSize: 1024}
	cfg.FillDefaults()
	assert.Equal(t, 0, cfg.Threads)
	assert.Equal(t, 1024, cfg.PageSize)
}

func Test_loadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sorter.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
[sorter]
threads = 3
flushThreshold = 4096
inMemory = true

[log]
level = "debug"
`), 0o644))
	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, 3, cfg.Sorter.Threads)
	assert.Equal(t, 4096, cfg.Sorter.FlushThreshold)
	assert.True(t, cfg.Sorter.InMemory)
	assert.Equal(t, DefaultPageSize, cfg.Sorter.PageSize)
	assert.Equal(t, "debug", cfg.Log.Level)

	_, err = LoadConfig(filepath.Join(t.TempDir(), "missing.toml"))
	assert.Error(t, err)
}

func Test_errorKinds(t *testing.T) {
	err := IOErrorf(io.ErrUnexpectedEOF, "read %s", "f")
	assert.True(t, errors.Is(err, ErrIO))
	assert.True(t, errors.Is(err, io.ErrUnexpectedEOF))
	assert.False(t, errors.Is(err, ErrCorrupt))
	assert.Contains(t, err.Error(), "read f")

	assert.True(t, errors.Is(CorruptErrorf("bad %d", 1), ErrCorrupt))
	assert.True(t, errors.Is(TooBigErrorf("big"), ErrTooBig))
	assert.True(t, errors.Is(NoMemErrorf("full"), ErrNoMem))
}

func Test_statsHeap(t *testing.T) {
	s := NewStats()
	s.AddHeap(100)
	s.AddHeap(50)
	s.AddHeap(-120)
	snap := s.Snapshot()
	assert.Equal(t, int64(30), snap.HeapInUse)
	assert.Equal(t, int64(150), snap.HeapHighwater)
	assert.NotEmpty(t, snap.Fields())

	h := NewHeapAdvisor(s, 100)
	assert.False(t, h.NearlyFull())
	s.AddHeap(60)
	assert.True(t, h.NearlyFull())
	assert.False(t, NewHeapAdvisor(s, 0).NearlyFull())
	var nilAdvisor *HeapAdvisor
	assert.False(t, nilAdvisor.NearlyFull())
}

func Test_faultInject(t *testing.T) {
	assert.NoError(t, Inject(FAULTS_SCOPE_SORTER, "x"))
	// registering on a closed scope is ignored
	Register(FAULTS_SCOPE_SORTER, "x", nil, func([]string) error { return io.EOF })
	assert.NoError(t, Inject(FAULTS_SCOPE_SORTER, "x"))

	Open(FAULTS_SCOPE_SORTER)
	defer Close(FAULTS_SCOPE_SORTER)
	Register(FAULTS_SCOPE_SORTER, "x", []string{"a"}, func(args []string) error {
		assert.Equal(t, []string{"a"}, args)
		return io.EOF
	})
	assert.Equal(t, io.EOF, Inject(FAULTS_SCOPE_SORTER, "x"))
	assert.NoError(t, Inject(FAULTS_SCOPE_SORTER, "y"))
	assert.NoError(t, Inject(-1, "x"))
}

func Test_logger(t *testing.T) {
	prev := Logger()
	defer SetLogger(prev)

	core, logs := observer.New(zapcore.DebugLevel)
	SetLogger(zap.New(core))
	Debug("d", zap.Int("n", 1))
	Info("i")
	Warn("w")
	Error("e")
	require.Equal(t, 4, logs.Len())
	assert.Equal(t, "d", logs.All()[0].Message)
	assert.Equal(t, int64(1), logs.All()[0].ContextMap()["n"])

	SetLogger(nil)
	Info("dropped")
	assert.Equal(t, 4, logs.Len())

	InitLogger(LogConfig{Level: "warn", Path: filepath.Join(t.TempDir(), "out.log")})
	assert.False(t, Logger().Core().Enabled(zapcore.InfoLevel))
	assert.True(t, Logger().Core().Enabled(zapcore.WarnLevel))
}

func Test_powerOfTwo(t *testing.T) {
	assert.Equal(t, uint64(16), NextPowerOfTwo(9))
	assert.Equal(t, uint64(16), NextPowerOfTwo(16))
	assert.Equal(t, uint64(2), NextPowerOfTwo(2))
	assert.Equal(t, uint64(1), NextPowerOfTwo(1))
}

func Test_convertPanicError(t *testing.T) {
	err := func() (err error) {
		defer func() {
			if p := recover(); p != nil {
				err = ConvertPanicError(p)
			}
		}()
		panic("boom")
	}()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "boom")
	assert.True(t, FileIsValid(os.Args[0]))
	assert.False(t, FileIsValid(t.TempDir()))
}
