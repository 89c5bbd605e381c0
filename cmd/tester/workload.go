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

package main

import (
	"fmt"
	"io"
	"math/rand"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/daviszhen/extsort/pkg/record"
	"github.com/daviszhen/extsort/pkg/sorter"
	"github.com/daviszhen/extsort/pkg/util"
)

type keyGen func(r *rand.Rand) record.Value

func keyGenFor(kind string) (keyGen, error) {
	switch kind {
	case "int":
		return func(r *rand.Rand) record.Value {
			return record.Int(r.Int63n(1<<40) - 1<<39)
		}, nil
	case "text":
		return func(r *rand.Rand) record.Value {
			return record.Text(randText(r, r.Intn(24)))
		}, nil
	case "mixed":
		return randValue, nil
	}
	return nil, errors.Errorf("unknown key kind %q", kind)
}

const letters = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ"

func randText(r *rand.Rand, n int) string {
	b := make([]byte, n)
	for i := range b {
		b[i] = letters[r.Intn(len(letters))]
	}
	return string(b)
}

func randValue(r *rand.Rand) record.Value {
	switch r.Intn(6) {
	case 0:
		return record.Null()
	case 1:
		return record.Int(int64(r.Intn(200) - 100))
	case 2:
		return record.Int(r.Int63() - r.Int63())
	case 3:
		return record.Real(r.NormFloat64() * 1000)
	case 4:
		return record.Text(randText(r, r.Intn(40)))
	default:
		b := make([]byte, r.Intn(16))
		r.Read(b)
		return record.Blob(b)
	}
}

// genRecords builds n two-field records: a random key and a sequence
// number that makes each record distinct.
func genRecords(gen keyGen, seed int64, n int) [][]byte {
	r := rand.New(rand.NewSource(seed))
	recs := make([][]byte, n)
	for i := range recs {
		recs[i] = record.Encode(gen(r), record.Int(int64(i)))
	}
	return recs
}

type sorterReport struct {
	id       int
	records  int
	elapsed  time.Duration
	stats    sorter.SorterStats
	usesDisk bool
}

type report struct {
	sorters []sorterReport
	env     util.StatsSnapshot
	elapsed time.Duration
}

func (rep *report) print(w io.Writer) {
	for _, sr := range rep.sorters {
		fmt.Fprintf(w, "sorter %d: records=%d pmas=%d background=%d depth=%d comparator=%s disk=%v elapsed=%v\n",
			sr.id, sr.records, sr.stats.PMAs, sr.stats.BackgroundFlushes,
			sr.stats.MergeDepth, sr.stats.Comparator, sr.usesDisk, sr.elapsed)
	}
	fmt.Fprintf(w, "temp files: opened=%d closed=%d\n", rep.env.TempFilesOpened, rep.env.TempFilesClosed)
	fmt.Fprintf(w, "pmas=%d spilled=%d background=%d mergeEngines=%d incrMergers=%d heapHighwater=%d\n",
		rep.env.PmasWritten, rep.env.BytesSpilled, rep.env.BackgroundTasks,
		rep.env.MergeEngines, rep.env.IncrMergers, rep.env.HeapHighwater)
	fmt.Fprintf(w, "elapsed=%v\n", rep.elapsed)
}

// runWorkload runs cfg.Tester.Sorters sorters at the same time on one
// environment. Each sorts its own random records and checks the result.
func runWorkload(cfg *util.Config) (*report, error) {
	gen, err := keyGenFor(cfg.Tester.KeyKind)
	if err != nil {
		return nil, err
	}
	env := sorter.NewEnv(&cfg.Sorter)
	ki := record.NewKeyInfo(1, 2)

	start := time.Now()
	rep := &report{sorters: make([]sorterReport, max(cfg.Tester.Sorters, 1))}
	var g errgroup.Group
	for i := range rep.sorters {
		g.Go(func() error {
			recs := genRecords(gen, cfg.Tester.Seed+int64(i), cfg.Tester.Count)
			sr, err := sortAndVerify(env, ki, recs)
			if err != nil {
				return errors.Wrapf(err, "sorter %d", i)
			}
			sr.id = i
			rep.sorters[i] = sr
			return nil
		})
	}
	if err = g.Wait(); err != nil {
		return nil, err
	}
	rep.elapsed = time.Since(start)
	rep.env = env.Stats.Snapshot()
	util.Info("workload finished", append(rep.env.Fields(), zap.Duration("elapsed", rep.elapsed))...)
	return rep, nil
}

func sortAndVerify(env *sorter.Env, ki *record.KeyInfo, recs [][]byte) (sorterReport, error) {
	sr := sorterReport{records: len(recs)}
	start := time.Now()
	s, err := sorter.New(env, ki.NAllField, ki)
	if err != nil {
		return sr, err
	}
	defer s.Close()

	for _, rec := range recs {
		if err = s.Write(rec); err != nil {
			return sr, err
		}
	}
	eof, err := s.Rewind()
	if err != nil {
		return sr, err
	}
	v := newVerifier(ki, recs)
	for !eof {
		if err = v.check(s.Key()); err != nil {
			return sr, err
		}
		if eof, err = s.Next(); err != nil {
			return sr, err
		}
	}
	if err = v.finish(); err != nil {
		return sr, err
	}
	sr.elapsed = time.Since(start)
	sr.stats = s.Stats()
	sr.usesDisk = s.UsesDisk()
	return sr, nil
}

// verifier checks that the output is in order and is a permutation of
// the input.
type verifier struct {
	ki      *record.KeyInfo
	pending map[string]int
	prev    []byte
	n       int
}

func newVerifier(ki *record.KeyInfo, recs [][]byte) *verifier {
	v := &verifier{ki: ki, pending: make(map[string]int, len(recs))}
	for _, rec := range recs {
		v.pending[string(rec)]++
	}
	return v
}

func (v *verifier) check(key []byte) error {
	if v.prev != nil {
		r2, err := v.ki.UnpackKey(key)
		if err != nil {
			return err
		}
		if record.FindCompare(r2)(v.prev, r2) > 0 {
			return errors.Errorf("record %d out of order", v.n)
		}
	}
	cnt, ok := v.pending[string(key)]
	if !ok || cnt == 0 {
		return errors.Errorf("record %d was never written", v.n)
	}
	if cnt == 1 {
		delete(v.pending, string(key))
	} else {
		v.pending[string(key)] = cnt - 1
	}
	v.prev = append(v.prev[:0], key...)
	v.n++
	return nil
}

func (v *verifier) finish() error {
	if len(v.pending) != 0 {
		return errors.Errorf("%d records missing from the output", len(v.pending))
	}
	return nil
}
