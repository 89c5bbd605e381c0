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
	"sync"

	"golang.org/x/sync/semaphore"

	"github.com/daviszhen/extsort/pkg/storage"
	"github.com/daviszhen/extsort/pkg/util"
)

// Env is what sorters created from it share: configuration, the temp
// file system, the process counters and the bound on background
// goroutines.
type Env struct {
	Config  util.SorterConfig
	FS      *storage.TempFS
	Stats   *util.Stats
	workers *semaphore.Weighted
	heap    *util.HeapAdvisor
}

func NewEnv(cfg *util.SorterConfig) *Env {
	c := *cfg
	c.FillDefaults()
	stats := util.NewStats()
	return &Env{
		Config:  c,
		FS:      storage.NewTempFS(&c, stats),
		Stats:   stats,
		workers: semaphore.NewWeighted(int64(c.MaxWorkers)),
		heap:    util.NewHeapAdvisor(stats, c.SoftHeapLimit),
	}
}

var defaultEnv = sync.OnceValue(func() *Env {
	return NewEnv(&util.DefaultConfig().Sorter)
})

func DefaultEnv() *Env {
	return defaultEnv()
}
