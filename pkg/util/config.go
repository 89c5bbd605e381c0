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
	"os"

	"github.com/BurntSushi/toml"
	"github.com/pkg/errors"
)

const (
	DefaultPageSize        = 4096
	DefaultCacheSize       = -2000
	DefaultMinWorkingPages = 10
	DefaultMaxPmaSize      = 1 << 29
	DefaultMaxKeySize      = 1000000000
	DefaultMaxWorkers      = 8
	// MaxMergeCount is the fan-in of one merge engine.
	MaxMergeCount = 16
)

type LogConfig struct {
	Level       string `tag:"level" toml:"level"`
	Development bool   `tag:"development" toml:"development"`
	Path        string `tag:"path" toml:"path"`
}

type SorterConfig struct {
	PageSize        int    `tag:"pageSize" toml:"pageSize"`
	CacheSize       int    `tag:"cacheSize" toml:"cacheSize"`
	MinWorkingPages int    `tag:"minWorkingPages" toml:"minWorkingPages"`
	MaxPmaSize      int    `tag:"maxPmaSize" toml:"maxPmaSize"`
	FlushThreshold  int    `tag:"flushThreshold" toml:"flushThreshold"`
	Threads         int    `tag:"threads" toml:"threads"`
	MaxWorkers      int    `tag:"maxWorkers" toml:"maxWorkers"`
	MmapSize        int64  `tag:"mmapSize" toml:"mmapSize"`
	InMemory        bool   `tag:"inMemory" toml:"inMemory"`
	TempDir         string `tag:"tempDir" toml:"tempDir"`
	MaxKeySize      int    `tag:"maxKeySize" toml:"maxKeySize"`
	SmallAlloc      bool   `tag:"smallAlloc" toml:"smallAlloc"`
	SoftHeapLimit   int64  `tag:"softHeapLimit" toml:"softHeapLimit"`
	HardHeapLimit   int64  `tag:"hardHeapLimit" toml:"hardHeapLimit"`
}

// InputConfig drives cmd/main: where records come from and how they
// are ordered.
type InputConfig struct {
	Path       string   `tag:"path" toml:"path"`
	KeyFields  int      `tag:"keyFields" toml:"keyFields"`
	Desc       []int    `tag:"desc" toml:"desc"`
	Collations []string `tag:"collations" toml:"collations"`
	PrintTree  bool     `tag:"printTree" toml:"printTree"`
}

// TesterConfig drives the random workloads of cmd/tester.
type TesterConfig struct {
	Count   int    `tag:"count" toml:"count"`
	Seed    int64  `tag:"seed" toml:"seed"`
	KeyKind string `tag:"keyKind" toml:"keyKind"`
	Sorters int    `tag:"sorters" toml:"sorters"`
}

type Config struct {
	Sorter SorterConfig `tag:"sorter" toml:"sorter"`
	Log    LogConfig    `tag:"log" toml:"log"`
	Input  InputConfig  `tag:"input" toml:"input"`
	Tester TesterConfig `tag:"tester" toml:"tester"`
}

func DefaultConfig() *Config {
	cfg := &Config{
		Log:   LogConfig{Level: "info"},
		Input: InputConfig{KeyFields: 1},
		Tester: TesterConfig{
			Count:   100000,
			Seed:    1,
			KeyKind: "mixed",
			Sorters: 1,
		},
	}
	cfg.Sorter.FillDefaults()
	return cfg
}

// FillDefaults replaces unset fields with their defaults.
func (cfg *SorterConfig) FillDefaults() {
	if cfg.PageSize <= 0 {
		cfg.PageSize = DefaultPageSize
	}
	if cfg.CacheSize == 0 {
		cfg.CacheSize = DefaultCacheSize
	}
	if cfg.MinWorkingPages <= 0 {
		cfg.MinWorkingPages = DefaultMinWorkingPages
	}
	if cfg.MaxPmaSize <= 0 {
		cfg.MaxPmaSize = DefaultMaxPmaSize
	}
	if cfg.MaxKeySize <= 0 {
		cfg.MaxKeySize = DefaultMaxKeySize
	}
	if cfg.MaxWorkers <= 0 {
		cfg.MaxWorkers = DefaultMaxWorkers
	}
	if cfg.Threads < 0 {
		cfg.Threads = 0
	}
	if cfg.Threads >= MaxMergeCount {
		cfg.Threads = MaxMergeCount - 1
	}
	if cfg.TempDir == "" {
		cfg.TempDir = os.TempDir()
	}
}

// PmaThresholds returns the minimum and maximum number of bytes
// accumulated in memory before the list is written out as a PMA.
func (cfg *SorterConfig) PmaThresholds() (mn, mx int) {
	mn = cfg.MinWorkingPages * cfg.PageSize
	var cache int64
	if cfg.CacheSize < 0 {
		cache = int64(-cfg.CacheSize) * 1024
	} else {
		cache = int64(cfg.CacheSize) * int64(cfg.PageSize)
	}
	cache = min(cache, int64(cfg.MaxPmaSize))
	mx = max(mn, int(cache))
	if cfg.FlushThreshold > 0 {
		mx = cfg.FlushThreshold
		mn = min(mn, mx)
	}
	return
}

func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, errors.Wrapf(err, "decode config %s", path)
	}
	cfg.Sorter.FillDefaults()
	return cfg, nil
}
