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
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/daviszhen/extsort/pkg/record"
	"github.com/daviszhen/extsort/pkg/sorter"
	"github.com/daviszhen/extsort/pkg/util"
)

var runCfg = util.DefaultConfig()

var defCfgFilePaths = []string{".", "etc"}
var cfgFileName = "sorter.toml"

func loadConfig() {
	for _, dirPath := range defCfgFilePaths {
		fpath := filepath.Join(dirPath, cfgFileName)
		if util.FileIsValid(fpath) {
			cfg, err := util.LoadConfig(fpath)
			if err != nil {
				util.Error("load config file failed",
					zap.String("fpath", fpath),
					zap.Error(err))
				continue
			}
			runCfg = cfg
			return
		}
	}
	util.Warn("sorter.toml does not exist, using defaults")
}

func main() {
	loadConfig()
	util.InitLogger(runCfg.Log)
	defer util.Sync()

	var in io.Reader = os.Stdin
	if len(os.Args) > 1 {
		runCfg.Input.Path = os.Args[1]
	}
	if runCfg.Input.Path != "" && runCfg.Input.Path != "-" {
		f, err := os.Open(runCfg.Input.Path)
		if err != nil {
			util.Error("open input failed", zap.String("path", runCfg.Input.Path), zap.Error(err))
			os.Exit(1)
		}
		defer f.Close()
		in = f
	}
	out := bufio.NewWriter(os.Stdout)
	err := run(runCfg, in, out)
	if ferr := out.Flush(); err == nil {
		err = ferr
	}
	if err != nil {
		util.Error("sort failed", zap.Error(err))
		os.Exit(1)
	}
}

func buildKeyInfo(cfg *util.InputConfig) (*record.KeyInfo, error) {
	nKey := max(cfg.KeyFields, 1)
	ki := record.NewKeyInfo(nKey, max(nKey, len(cfg.Collations)))
	for _, i := range cfg.Desc {
		if i < 0 || i >= ki.NAllField {
			return nil, errors.Errorf("desc field %d out of range [0,%d)", i, ki.NAllField)
		}
		ki.SetDesc(i, true)
	}
	for i, name := range cfg.Collations {
		if name == "" {
			continue
		}
		coll, ok := record.CollationByName(name)
		if !ok {
			return nil, errors.Errorf("unknown collation %q for field %d", name, i)
		}
		ki.SetColl(i, coll)
	}
	return ki, nil
}

// run sorts the records read from in and writes them to out, one per
// line, in the format they were read.
func run(cfg *util.Config, in io.Reader, out io.Writer) error {
	ki, err := buildKeyInfo(&cfg.Input)
	if err != nil {
		return err
	}
	env := sorter.NewEnv(&cfg.Sorter)
	s, err := sorter.New(env, ki.NKeyField, ki)
	if err != nil {
		return err
	}
	defer s.Close()

	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 0, 64*1024), env.Config.MaxKeySize)
	var rec []byte
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		vals, err := parseRecord(scanner.Text())
		if err != nil {
			return errors.Wrapf(err, "line %d", lineNo)
		}
		if vals == nil {
			continue
		}
		rec = record.AppendRecord(rec[:0], vals...)
		if err = s.Write(rec); err != nil {
			return errors.Wrapf(err, "line %d", lineNo)
		}
	}
	if err = scanner.Err(); err != nil {
		return errors.Wrap(err, "read input")
	}

	eof, err := s.Rewind()
	if err != nil {
		return err
	}
	if cfg.Input.PrintTree {
		fmt.Fprint(out, s.Explain())
	}
	for !eof {
		vals, err := record.Decode(s.Key())
		if err != nil {
			return err
		}
		if _, err = fmt.Fprintln(out, formatRecord(vals)); err != nil {
			return errors.Wrap(err, "write output")
		}
		if eof, err = s.Next(); err != nil {
			return err
		}
	}

	st := s.Stats()
	fields := append(env.Stats.Snapshot().Fields(),
		zap.Int64("records", st.Records),
		zap.Int("pmas", st.PMAs),
		zap.Int("mergeDepth", st.MergeDepth),
		zap.String("comparator", st.Comparator))
	util.Info("sort finished", fields...)
	return nil
}
