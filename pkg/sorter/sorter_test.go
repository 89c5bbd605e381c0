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
	"errors"
	"fmt"
	"math/rand"
	"os"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/btree"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
	"golang.org/x/sync/errgroup"

	"github.com/daviszhen/extsort/pkg/record"
	"github.com/daviszhen/extsort/pkg/storage"
	"github.com/daviszhen/extsort/pkg/util"
)

func newTestEnv(mutate func(cfg *util.SorterConfig)) *Env {
	cfg := util.DefaultConfig().Sorter
	cfg.InMemory = true
	if mutate != nil {
		mutate(&cfg)
	}
	return NewEnv(&cfg)
}

func intKey(v int64) []byte {
	return record.Encode(record.Int(v))
}

func writeAll(t *testing.T, s *Sorter, recs [][]byte) {
	t.Helper()
	for _, rec := range recs {
		require.NoError(t, s.Write(rec))
	}
}

func drain(t *testing.T, s *Sorter) [][]byte {
	t.Helper()
	empty, err := s.Rewind()
	require.NoError(t, err)
	var out [][]byte
	for eof := empty; !eof; {
		out = append(out, s.Rowkey(nil))
		eof, err = s.Next()
		require.NoError(t, err)
	}
	return out
}

func leadingInts(t *testing.T, recs [][]byte) []int64 {
	t.Helper()
	out := make([]int64, 0, len(recs))
	for _, rec := range recs {
		vals, err := record.Decode(rec)
		require.NoError(t, err)
		out = append(out, vals[0].I)
	}
	return out
}

func randString(rng *rand.Rand, maxLen int) string {
	b := make([]byte, rng.Intn(maxLen+1))
	for i := range b {
		b[i] = byte('a' + rng.Intn(26))
	}
	return string(b)
}

func randomValue(rng *rand.Rand) record.Value {
	switch rng.Intn(7) {
	case 0:
		return record.Null()
	case 1:
		return record.Int(rng.Int63n(2000) - 1000)
	case 2:
		return record.Real(rng.NormFloat64() * 100)
	case 3:
		return record.Text(randString(rng, 12))
	case 4:
		return record.Blob([]byte(randString(rng, 12)))
	case 5:
		return record.Int(int64(rng.Intn(3)))
	default:
		return record.Int(rng.Int63() - rng.Int63())
	}
}

// randomRecords builds n records of a random leading value and a unique
// sequence number, so every record has its own place in the order.
func randomRecords(seed int64, n int) [][]byte {
	rng := rand.New(rand.NewSource(seed))
	recs := make([][]byte, n)
	for i := range recs {
		recs[i] = record.Encode(randomValue(rng), record.Int(int64(i)))
	}
	return recs
}

// oracleSort orders recs with a B-tree built on the general comparator.
func oracleSort(ki *record.KeyInfo, recs [][]byte) [][]byte {
	tr := btree.NewBTreeG[[]byte](func(a, b []byte) bool {
		r2, err := ki.UnpackKey(b)
		if err != nil {
			panic(err)
		}
		return record.Compare(a, r2) < 0
	})
	for _, rec := range recs {
		tr.Set(rec)
	}
	out := make([][]byte, 0, len(recs))
	tr.Scan(func(rec []byte) bool {
		out = append(out, rec)
		return true
	})
	return out
}

func requireSorted(t *testing.T, ki *record.KeyInfo, recs [][]byte) {
	t.Helper()
	for i := 1; i < len(recs); i++ {
		r2, err := ki.UnpackKey(recs[i])
		require.NoError(t, err)
		require.LessOrEqual(t, record.Compare(recs[i-1], r2), 0, "records %d and %d out of order", i-1, i)
	}
}

func Test_sorterEmpty(t *testing.T) {
	s, err := New(newTestEnv(nil), 1, nil)
	require.NoError(t, err)
	defer s.Close()

	empty, err := s.Rewind()
	require.NoError(t, err)
	assert.True(t, empty)
	assert.Nil(t, s.Key())
	eof, err := s.Next()
	require.NoError(t, err)
	assert.True(t, eof)
	assert.False(t, s.UsesDisk())
}

func Test_sorterSmallInMemory(t *testing.T) {
	env := newTestEnv(nil)
	s, err := New(env, 1, nil)
	require.NoError(t, err)
	defer s.Close()

	for _, v := range []int64{5, 3, 8, 1} {
		require.NoError(t, s.Write(intKey(v)))
	}
	out := drain(t, s)
	assert.Equal(t, []int64{1, 3, 5, 8}, leadingInts(t, out))
	assert.False(t, s.UsesDisk())
	assert.Equal(t, int64(0), env.Stats.TempFilesOpened.Load())
	assert.Equal(t, "integer", s.Stats().Comparator)
}

func Test_sorterForcedPMAs(t *testing.T) {
	// each key is 3 bytes plus a length byte, so two keys fill a list
	env := newTestEnv(func(cfg *util.SorterConfig) {
		cfg.FlushThreshold = 8
	})
	s, err := New(env, 1, nil)
	require.NoError(t, err)
	defer s.Close()

	rng := rand.New(rand.NewSource(7))
	keys := make([]int64, 0, 9)
	for v := int64(10); v < 19; v++ {
		keys = append(keys, v)
	}
	rng.Shuffle(len(keys), func(i, j int) { keys[i], keys[j] = keys[j], keys[i] })
	for _, v := range keys {
		require.NoError(t, s.Write(intKey(v)))
	}
	out := drain(t, s)
	assert.Equal(t, []int64{10, 11, 12, 13, 14, 15, 16, 17, 18}, leadingInts(t, out))
	assert.True(t, s.UsesDisk())
	assert.Equal(t, 5, s.Stats().PMAs)
}

func Test_sorterCompareNull(t *testing.T) {
	s, err := New(newTestEnv(nil), 1, nil)
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.Write(record.Encode(record.Null(), record.Int(4))))
	empty, err := s.Rewind()
	require.NoError(t, err)
	require.False(t, empty)

	candidates := [][]byte{
		intKey(-100),
		intKey(100),
		record.Encode(record.Null()),
		record.Encode(record.Text("x")),
	}
	for _, c := range candidates {
		res, err := s.Compare(c, 1)
		require.NoError(t, err)
		assert.Equal(t, -1, res)
	}
}

func Test_sorterCompareCurrentKey(t *testing.T) {
	s, err := New(newTestEnv(nil), 1, nil)
	require.NoError(t, err)
	defer s.Close()

	_, err = s.Compare(intKey(1), 1)
	assert.True(t, errors.Is(err, util.ErrMisuse))

	require.NoError(t, s.Write(intKey(5)))
	_, err = s.Rewind()
	require.NoError(t, err)

	res, err := s.Compare(intKey(3), 1)
	require.NoError(t, err)
	assert.Equal(t, -1, res)
	res, err = s.Compare(intKey(5), 1)
	require.NoError(t, err)
	assert.Equal(t, 0, res)
	res, err = s.Compare(intKey(7), 1)
	require.NoError(t, err)
	assert.Equal(t, 1, res)
}

func Test_sorterDescending(t *testing.T) {
	thresholds := map[string]int{"memory": 0, "pma": 4}
	for name, threshold := range thresholds {
		t.Run(name, func(t *testing.T) {
			env := newTestEnv(func(cfg *util.SorterConfig) {
				cfg.FlushThreshold = threshold
			})
			ki := record.NewKeyInfo(1, 1).SetDesc(0, true)
			s, err := New(env, 1, ki)
			require.NoError(t, err)
			defer s.Close()

			for _, v := range []int64{1, 2, 3} {
				require.NoError(t, s.Write(intKey(v)))
			}
			assert.Equal(t, []int64{3, 2, 1}, leadingInts(t, drain(t, s)))
			assert.Equal(t, threshold > 0, s.UsesDisk())
		})
	}
}

func Test_sorterTextBeforeBlob(t *testing.T) {
	s, err := New(newTestEnv(nil), 1, nil)
	require.NoError(t, err)
	defer s.Close()

	in := []record.Value{
		record.Text("zz"),
		record.Blob([]byte("aa")),
		record.Text("yy"),
		record.Blob([]byte{0, 0}),
		record.Text("mm"),
		record.Blob([]byte("zz")),
	}
	for _, v := range in {
		require.NoError(t, s.Write(record.Encode(v)))
	}
	out := drain(t, s)
	var kinds []record.Kind
	var payload []string
	for _, rec := range out {
		vals, err := record.Decode(rec)
		require.NoError(t, err)
		kinds = append(kinds, vals[0].Kind)
		payload = append(payload, string(vals[0].B))
	}
	assert.Equal(t, []record.Kind{
		record.KindText, record.KindText, record.KindText,
		record.KindBlob, record.KindBlob, record.KindBlob,
	}, kinds)
	assert.Equal(t, []string{"mm", "yy", "zz", "\x00\x00", "aa", "zz"}, payload)
	assert.Equal(t, "general", s.Stats().Comparator)
}

func Test_sorterThresholdBoundary(t *testing.T) {
	env := newTestEnv(func(cfg *util.SorterConfig) {
		cfg.FlushThreshold = 8
	})
	s, err := New(env, 1, nil)
	require.NoError(t, err)
	defer s.Close()

	// two 4 byte entries reach the threshold exactly
	require.NoError(t, s.Write(intKey(20)))
	require.NoError(t, s.Write(intKey(21)))
	assert.Equal(t, 0, s.Stats().PMAs)
	assert.False(t, s.UsesDisk())

	require.NoError(t, s.Write(intKey(22)))
	assert.Equal(t, 1, s.Stats().PMAs)
	assert.True(t, s.UsesDisk())

	assert.Equal(t, []int64{20, 21, 22}, leadingInts(t, drain(t, s)))
	assert.Equal(t, 2, s.Stats().PMAs)
}

func Test_sorterStableInMemory(t *testing.T) {
	ki := record.NewKeyInfo(1, 2).SetColl(0, record.NoCase)
	s, err := New(newTestEnv(nil), 1, ki)
	require.NoError(t, err)
	defer s.Close()

	for _, v := range []string{"b", "A", "a", "B"} {
		require.NoError(t, s.Write(record.Encode(record.Text(v))))
	}
	var got []string
	for _, rec := range drain(t, s) {
		vals, err := record.Decode(rec)
		require.NoError(t, err)
		got = append(got, string(vals[0].B))
	}
	assert.Equal(t, []string{"A", "a", "b", "B"}, got)
	assert.Equal(t, "general", s.Stats().Comparator)
}

func Test_sorterRandomConfigs(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(t *testing.T, cfg *util.SorterConfig)
	}{
		{"memory", func(*testing.T, *util.SorterConfig) {}},
		{"pma", func(_ *testing.T, cfg *util.SorterConfig) {
			cfg.FlushThreshold = 512
		}},
		{"pma-small-alloc", func(_ *testing.T, cfg *util.SorterConfig) {
			cfg.FlushThreshold = 512
			cfg.SmallAlloc = true
		}},
		{"small-pages", func(_ *testing.T, cfg *util.SorterConfig) {
			cfg.FlushThreshold = 700
			cfg.PageSize = 64
		}},
		{"threads", func(_ *testing.T, cfg *util.SorterConfig) {
			cfg.FlushThreshold = 512
			cfg.Threads = 3
		}},
		{"threads-one-worker", func(_ *testing.T, cfg *util.SorterConfig) {
			cfg.FlushThreshold = 300
			cfg.Threads = 4
			cfg.MaxWorkers = 1
		}},
		{"os-files", func(t *testing.T, cfg *util.SorterConfig) {
			cfg.InMemory = false
			cfg.TempDir = t.TempDir()
			cfg.FlushThreshold = 512
		}},
		{"mmap", func(t *testing.T, cfg *util.SorterConfig) {
			cfg.InMemory = false
			cfg.TempDir = t.TempDir()
			cfg.MmapSize = 1 << 24
			cfg.FlushThreshold = 512
		}},
		{"mmap-threads", func(t *testing.T, cfg *util.SorterConfig) {
			cfg.InMemory = false
			cfg.TempDir = t.TempDir()
			cfg.MmapSize = 1 << 24
			cfg.FlushThreshold = 400
			cfg.Threads = 2
		}},
	}
	recs := randomRecords(42, 3000)
	ki := record.NewKeyInfo(2, 2)
	want := oracleSort(ki, recs)
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			env := newTestEnv(func(cfg *util.SorterConfig) { c.mutate(t, cfg) })
			s, err := New(env, 2, ki)
			require.NoError(t, err)
			writeAll(t, s, recs)
			got := drain(t, s)
			require.Equal(t, len(want), len(got))
			assert.Equal(t, want, got)
			requireSorted(t, ki, got)
			s.Close()
			assert.Equal(t, env.Stats.TempFilesOpened.Load(), env.Stats.TempFilesClosed.Load())
			assert.Equal(t, int64(0), env.Stats.HeapInUse.Load())
		})
	}
}

func Test_sorterLargeKeys(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	recs := make([][]byte, 200)
	for i := range recs {
		blob := make([]byte, rng.Intn(10000))
		rng.Read(blob)
		recs[i] = record.Encode(record.Blob(blob), record.Int(int64(i)))
	}
	ki := record.NewKeyInfo(2, 2)
	want := oracleSort(ki, recs)
	for _, threads := range []int{0, 2} {
		t.Run(fmt.Sprintf("threads=%d", threads), func(t *testing.T) {
			env := newTestEnv(func(cfg *util.SorterConfig) {
				cfg.FlushThreshold = 20000
				cfg.PageSize = 1024
				cfg.Threads = threads
			})
			s, err := New(env, 2, ki)
			require.NoError(t, err)
			defer s.Close()
			writeAll(t, s, recs)
			assert.Equal(t, want, drain(t, s))
			assert.True(t, s.UsesDisk())
		})
	}
}

func Test_sorterThreadsMatchSingle(t *testing.T) {
	rng := rand.New(rand.NewSource(11))
	recs := make([][]byte, 20000)
	for i := range recs {
		recs[i] = intKey(rng.Int63n(5000))
	}
	run := func(threads int) [][]byte {
		env := newTestEnv(func(cfg *util.SorterConfig) {
			cfg.FlushThreshold = 1000
			cfg.Threads = threads
		})
		s, err := New(env, 1, nil)
		require.NoError(t, err)
		defer s.Close()
		writeAll(t, s, recs)
		out := drain(t, s)
		assert.Equal(t, "integer", s.Stats().Comparator)
		return out
	}
	single := run(0)
	require.Len(t, single, len(recs))
	requireSorted(t, record.NewKeyInfo(1, 1), single)
	for _, threads := range []int{1, 3, 15} {
		assert.Equal(t, single, run(threads), "threads=%d", threads)
	}
}

func Test_sorterBackgroundLogs(t *testing.T) {
	prev := util.Logger()
	defer util.SetLogger(prev)
	core, logs := observer.New(zapcore.DebugLevel)
	util.SetLogger(zap.New(core))

	s, err := New(newTestEnv(func(cfg *util.SorterConfig) {
		cfg.FlushThreshold = 256
		cfg.Threads = 3
	}), 1, nil)
	require.NoError(t, err)
	defer s.Close()
	var recs [][]byte
	for i := 0; i < 500; i++ {
		recs = append(recs, intKey(int64(i*7919%500)))
	}
	writeAll(t, s, recs)
	require.Len(t, drain(t, s), len(recs))
	s.Close()

	started := logs.FilterMessage("sorter background task started").All()
	joined := logs.FilterMessage("sorter background task joined").All()
	require.NotEmpty(t, started)
	assert.GreaterOrEqual(t, len(joined), len(started))
	for _, e := range append(started, joined...) {
		assert.Greater(t, e.ContextMap()["goid"], int64(0))
		assert.Contains(t, e.ContextMap(), "task")
	}
}

func Test_sorterConcurrentSorters(t *testing.T) {
	env := newTestEnv(func(cfg *util.SorterConfig) {
		cfg.FlushThreshold = 600
		cfg.Threads = 2
		cfg.MaxWorkers = 2
	})
	ki := record.NewKeyInfo(2, 2)
	var g errgroup.Group
	for i := 0; i < 4; i++ {
		recs := randomRecords(int64(100+i), 4000)
		g.Go(func() error {
			s, err := New(env, 2, ki)
			if err != nil {
				return err
			}
			defer s.Close()
			for _, rec := range recs {
				if err := s.Write(rec); err != nil {
					return err
				}
			}
			want := oracleSort(ki, recs)
			empty, err := s.Rewind()
			if err != nil {
				return err
			}
			n := 0
			for eof := empty; !eof; n++ {
				if n >= len(want) || string(s.Key()) != string(want[n]) {
					return fmt.Errorf("record %d differs", n)
				}
				if eof, err = s.Next(); err != nil {
					return err
				}
			}
			if n != len(want) {
				return fmt.Errorf("read %d records, wrote %d", n, len(want))
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())
	assert.Equal(t, env.Stats.TempFilesOpened.Load(), env.Stats.TempFilesClosed.Load())
}

func Test_sorterReset(t *testing.T) {
	env := newTestEnv(func(cfg *util.SorterConfig) {
		cfg.FlushThreshold = 256
		cfg.Threads = 2
	})
	ki := record.NewKeyInfo(2, 2)
	s, err := New(env, 2, ki)
	require.NoError(t, err)
	defer s.Close()

	// abandon a sort half way through
	writeAll(t, s, randomRecords(1, 1500))
	empty, err := s.Rewind()
	require.NoError(t, err)
	require.False(t, empty)
	for i := 0; i < 100; i++ {
		_, err = s.Next()
		require.NoError(t, err)
	}
	s.Reset()
	assert.False(t, s.UsesDisk())
	assert.Equal(t, env.Stats.TempFilesOpened.Load(), env.Stats.TempFilesClosed.Load())
	assert.Equal(t, int64(0), env.Stats.HeapInUse.Load())

	// reset of a sorter that failed
	writeAll(t, s, [][]byte{{0x05, 0x01}, intKey(1)})
	_, err = s.Rewind()
	require.True(t, errors.Is(err, util.ErrCorrupt))
	s.Reset()
	s.Reset()

	recs := randomRecords(2, 800)
	writeAll(t, s, recs)
	assert.Equal(t, oracleSort(ki, recs), drain(t, s))

	fresh, err := New(env, 2, ki)
	require.NoError(t, err)
	defer fresh.Close()
	writeAll(t, fresh, recs)
	s.Reset()
	writeAll(t, s, recs)
	again := drain(t, s)
	assert.Equal(t, drain(t, fresh), again)
}

func Test_sorterMisuse(t *testing.T) {
	_, err := New(newTestEnv(nil), 0, nil)
	assert.True(t, errors.Is(err, util.ErrMisuse))
	_, err = New(newTestEnv(nil), 3, record.NewKeyInfo(1, 2))
	assert.True(t, errors.Is(err, util.ErrMisuse))

	s, err := New(newTestEnv(nil), 1, nil)
	require.NoError(t, err)
	_, err = s.Next()
	assert.True(t, errors.Is(err, util.ErrMisuse))
	require.NoError(t, s.Write(intKey(1)))
	_, err = s.Rewind()
	require.NoError(t, err)
	assert.True(t, errors.Is(s.Write(intKey(2)), util.ErrMisuse))
	_, err = s.Rewind()
	assert.True(t, errors.Is(err, util.ErrMisuse))
	s.Close()
	s.Close()
	assert.True(t, errors.Is(s.Write(intKey(2)), util.ErrMisuse))
}

func Test_sorterTooBig(t *testing.T) {
	env := newTestEnv(func(cfg *util.SorterConfig) {
		cfg.MaxKeySize = 10
	})
	s, err := New(env, 1, nil)
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.Write(intKey(1)))
	err = s.Write(record.Encode(record.Text("much too long for the limit")))
	assert.True(t, errors.Is(err, util.ErrTooBig))
	assert.True(t, errors.Is(s.Write(intKey(2)), util.ErrTooBig))
	_, err = s.Rewind()
	assert.True(t, errors.Is(err, util.ErrTooBig))

	s.Reset()
	require.NoError(t, s.Write(intKey(2)))
	assert.Equal(t, []int64{2}, leadingInts(t, drain(t, s)))
}

// hugeTextKey declares a text field of about 2^63 bytes.
var hugeTextKey = []byte{10, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff}

func Test_sorterCorruptRecord(t *testing.T) {
	bads := map[string][]byte{
		"short":    {0x05, 0x01},
		"oversize": hugeTextKey,
	}
	for name, bad := range bads {
		t.Run(name+"/memory", func(t *testing.T) {
			s, err := New(newTestEnv(nil), 1, nil)
			require.NoError(t, err)
			defer s.Close()
			writeAll(t, s, [][]byte{intKey(3), bad, intKey(1), intKey(2)})
			_, err = s.Rewind()
			assert.True(t, errors.Is(err, util.ErrCorrupt))
			_, err = s.Next()
			assert.True(t, errors.Is(err, util.ErrCorrupt))
			assert.Nil(t, s.Key())
		})
		t.Run(name+"/pair", func(t *testing.T) {
			s, err := New(newTestEnv(nil), 1, nil)
			require.NoError(t, err)
			defer s.Close()
			writeAll(t, s, [][]byte{intKey(1), bad})
			_, err = s.Rewind()
			assert.True(t, errors.Is(err, util.ErrCorrupt))
		})
		t.Run(name+"/pma", func(t *testing.T) {
			s, err := New(newTestEnv(func(cfg *util.SorterConfig) {
				cfg.FlushThreshold = 1
			}), 1, nil)
			require.NoError(t, err)
			defer s.Close()
			writeAll(t, s, [][]byte{intKey(3), bad, intKey(1), intKey(2)})
			empty, err := s.Rewind()
			for eof := empty; err == nil && !eof; {
				eof, err = s.Next()
			}
			assert.True(t, errors.Is(err, util.ErrCorrupt))
		})
	}
}

func Test_sorterBareKeyInfo(t *testing.T) {
	s, err := New(newTestEnv(nil), 1, &record.KeyInfo{NKeyField: 1, NAllField: 1})
	require.NoError(t, err)
	defer s.Close()
	writeAll(t, s, [][]byte{intKey(2), intKey(3), intKey(1)})
	assert.Equal(t, []int64{1, 2, 3}, leadingInts(t, drain(t, s)))
	assert.Equal(t, "integer", s.Stats().Comparator)
}

func Test_sorterIOFaults(t *testing.T) {
	util.Open(util.FAULTS_SCOPE_SORTER)
	defer util.Close(util.FAULTS_SCOPE_SORTER)
	injected := func([]string) error { return errors.New("injected failure") }

	t.Run("write", func(t *testing.T) {
		env := newTestEnv(func(cfg *util.SorterConfig) {
			cfg.FlushThreshold = 64
		})
		s, err := New(env, 1, nil)
		require.NoError(t, err)
		defer s.Close()
		util.Register(util.FAULTS_SCOPE_SORTER, storage.FaultTempWrite, nil, injected)
		defer util.Register(util.FAULTS_SCOPE_SORTER, storage.FaultTempWrite, nil, nil)
		for i := 0; i < 100 && err == nil; i++ {
			err = s.Write(intKey(int64(i)))
		}
		assert.True(t, errors.Is(err, util.ErrIO))
		_, err = s.Rewind()
		assert.True(t, errors.Is(err, util.ErrIO))
	})

	t.Run("background write", func(t *testing.T) {
		env := newTestEnv(func(cfg *util.SorterConfig) {
			cfg.FlushThreshold = 64
			cfg.Threads = 2
		})
		s, err := New(env, 1, nil)
		require.NoError(t, err)
		defer s.Close()
		util.Register(util.FAULTS_SCOPE_SORTER, storage.FaultTempWrite, nil, injected)
		defer util.Register(util.FAULTS_SCOPE_SORTER, storage.FaultTempWrite, nil, nil)
		for i := 0; i < 100 && err == nil; i++ {
			err = s.Write(intKey(int64(i)))
		}
		if err == nil {
			_, err = s.Rewind()
		}
		assert.True(t, errors.Is(err, util.ErrIO))
	})

	t.Run("read during merge", func(t *testing.T) {
		env := newTestEnv(func(cfg *util.SorterConfig) {
			cfg.FlushThreshold = 64
		})
		s, err := New(env, 1, nil)
		require.NoError(t, err)
		defer s.Close()
		for i := 0; i < 2000; i++ {
			require.NoError(t, s.Write(intKey(int64(i))))
		}
		empty, err := s.Rewind()
		require.NoError(t, err)
		require.False(t, empty)

		util.Register(util.FAULTS_SCOPE_SORTER, storage.FaultTempRead, nil, injected)
		defer util.Register(util.FAULTS_SCOPE_SORTER, storage.FaultTempRead, nil, nil)
		var eof bool
		for err == nil && !eof {
			eof, err = s.Next()
		}
		assert.True(t, errors.Is(err, util.ErrIO))
		_, err = s.Next()
		assert.True(t, errors.Is(err, util.ErrIO))
		assert.Nil(t, s.Key())
	})

	t.Run("open", func(t *testing.T) {
		s, err := New(newTestEnv(func(cfg *util.SorterConfig) {
			cfg.FlushThreshold = 8
		}), 1, nil)
		require.NoError(t, err)
		defer s.Close()
		util.Register(util.FAULTS_SCOPE_SORTER, storage.FaultTempOpen, nil, injected)
		defer util.Register(util.FAULTS_SCOPE_SORTER, storage.FaultTempOpen, nil, nil)
		for i := 0; i < 3 && err == nil; i++ {
			err = s.Write(intKey(int64(i)))
		}
		assert.True(t, errors.Is(err, util.ErrIO))
	})

	t.Run("flush", func(t *testing.T) {
		s, err := New(newTestEnv(func(cfg *util.SorterConfig) {
			cfg.FlushThreshold = 8
		}), 1, nil)
		require.NoError(t, err)
		defer s.Close()
		util.Register(util.FAULTS_SCOPE_SORTER, FaultFlush, nil, injected)
		defer util.Register(util.FAULTS_SCOPE_SORTER, FaultFlush, nil, nil)
		for i := 0; i < 3 && err == nil; i++ {
			err = s.Write(intKey(int64(i)))
		}
		assert.True(t, errors.Is(err, util.ErrIO))
	})
}

func Test_sorterInMemoryFS(t *testing.T) {
	dir := t.TempDir()
	env := newTestEnv(func(cfg *util.SorterConfig) {
		cfg.TempDir = dir
		cfg.FlushThreshold = 128
		cfg.Threads = 1
	})
	_, isMem := env.FS.Fs().(*afero.MemMapFs)
	require.True(t, isMem)

	s, err := New(env, 1, nil)
	require.NoError(t, err)
	defer s.Close()
	for i := 500; i > 0; i-- {
		require.NoError(t, s.Write(intKey(int64(i))))
	}
	_, err = s.Rewind()
	require.NoError(t, err)
	assert.True(t, s.UsesDisk())
	assert.Greater(t, env.Stats.TempFilesOpened.Load(), int64(0))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func Test_sorterSoftHeapLimit(t *testing.T) {
	env := newTestEnv(func(cfg *util.SorterConfig) {
		cfg.PageSize = 512
		cfg.MinWorkingPages = 1
		cfg.SoftHeapLimit = 2000
	})
	s, err := New(env, 1, nil)
	require.NoError(t, err)
	defer s.Close()
	for i := 0; i < 1000; i++ {
		require.NoError(t, s.Write(intKey(int64(i%100))))
	}
	assert.True(t, s.UsesDisk())
	assert.Greater(t, s.Stats().PMAs, 1)
	out := drain(t, s)
	assert.Len(t, out, 1000)
	requireSorted(t, record.NewKeyInfo(1, 1), out)
}

func Test_sorterHardHeapLimit(t *testing.T) {
	env := newTestEnv(func(cfg *util.SorterConfig) {
		cfg.HardHeapLimit = 100
	})
	s, err := New(env, 1, nil)
	require.NoError(t, err)
	defer s.Close()
	for i := 0; i < 20 && err == nil; i++ {
		err = s.Write(intKey(int64(i + 10)))
	}
	assert.True(t, errors.Is(err, util.ErrNoMem))
}

func Test_sorterExplain(t *testing.T) {
	s, err := New(newTestEnv(nil), 1, nil)
	require.NoError(t, err)
	require.NoError(t, s.Write(intKey(1)))
	assert.Contains(t, s.Explain(), "writing: 1 records")
	_, err = s.Rewind()
	require.NoError(t, err)
	assert.Contains(t, s.Explain(), "in-memory list")
	s.Close()

	s, err = New(newTestEnv(func(cfg *util.SorterConfig) {
		cfg.FlushThreshold = 8
	}), 1, nil)
	require.NoError(t, err)
	for i := 0; i < 10; i++ {
		require.NoError(t, s.Write(intKey(int64(i+10))))
	}
	_, err = s.Rewind()
	require.NoError(t, err)
	out := s.Explain()
	assert.Contains(t, out, "MergeEngine inputs=8")
	assert.Contains(t, out, "PMA task=0 offset=0")
	s.Close()

	s, err = New(newTestEnv(func(cfg *util.SorterConfig) {
		cfg.FlushThreshold = 8
		cfg.Threads = 2
	}), 1, nil)
	require.NoError(t, err)
	defer s.Close()
	for i := 0; i < 10; i++ {
		require.NoError(t, s.Write(intKey(int64(i+10))))
	}
	_, err = s.Rewind()
	require.NoError(t, err)
	out = s.Explain()
	assert.Contains(t, out, "threaded=true")
	assert.Contains(t, out, "IncrMerger task=2")
	assert.Equal(t, []int64{10, 11, 12, 13, 14, 15, 16, 17, 18, 19}, func() []int64 {
		var got []int64
		for eof := false; !eof; {
			got = append(got, leadingInts(t, [][]byte{s.Key()})...)
			eof, err = s.Next()
			require.NoError(t, err)
		}
		return got
	}())
}
