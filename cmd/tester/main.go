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
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/daviszhen/extsort/pkg/util"
)

func init() {
	cobra.OnInitialize(loadConfig)
	initRunCmd()
}

var testerCfg = util.DefaultConfig()

///root cmd

var info = "tester"
var RootCmd = &cobra.Command{
	Use:          "tester",
	Short:        info,
	Long:         info,
	SilenceUsage: true,
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println("use tester --help or -h")
	},
}

//run cmd

var runInfo = "sort random records and verify the output"
var runCmd = &cobra.Command{
	Use:   "run",
	Short: runInfo,
	Long:  runInfo,
	RunE: func(cmd *cobra.Command, args []string) error {
		initRunCfg()
		util.InitLogger(testerCfg.Log)
		defer util.Sync()
		rep, err := runWorkload(testerCfg)
		if err != nil {
			return err
		}
		rep.print(cmd.OutOrStdout())
		return nil
	},
}

func initRunCfg() {
	testerCfg.Tester.Count = viper.GetInt("tester.count")
	testerCfg.Tester.Seed = viper.GetInt64("tester.seed")
	testerCfg.Tester.KeyKind = viper.GetString("tester.keyKind")
	testerCfg.Tester.Sorters = viper.GetInt("tester.sorters")
	testerCfg.Sorter.Threads = viper.GetInt("sorter.threads")
	testerCfg.Sorter.FlushThreshold = viper.GetInt("sorter.flushThreshold")
	testerCfg.Sorter.PageSize = viper.GetInt("sorter.pageSize")
	testerCfg.Sorter.MmapSize = viper.GetInt64("sorter.mmapSize")
	testerCfg.Sorter.InMemory = viper.GetBool("sorter.inMemory")
	testerCfg.Sorter.TempDir = viper.GetString("sorter.tempDir")
	testerCfg.Sorter.SoftHeapLimit = viper.GetInt64("sorter.softHeapLimit")
	testerCfg.Log.Level = viper.GetString("log.level")
	// keys without flags come from sorter.toml only
	if viper.IsSet("sorter.cacheSize") {
		testerCfg.Sorter.CacheSize = viper.GetInt("sorter.cacheSize")
	}
	if viper.IsSet("sorter.maxWorkers") {
		testerCfg.Sorter.MaxWorkers = viper.GetInt("sorter.maxWorkers")
	}
	if viper.IsSet("sorter.smallAlloc") {
		testerCfg.Sorter.SmallAlloc = viper.GetBool("sorter.smallAlloc")
	}
	if viper.IsSet("sorter.hardHeapLimit") {
		testerCfg.Sorter.HardHeapLimit = viper.GetInt64("sorter.hardHeapLimit")
	}
	testerCfg.Sorter.FillDefaults()
}

func initRunCmd() {
	RootCmd.AddCommand(runCmd)
	def := util.DefaultConfig()
	runCmd.Flags().Int("count", def.Tester.Count, "records per sorter")
	runCmd.Flags().Int64("seed", def.Tester.Seed, "random seed")
	runCmd.Flags().String("key_kind", def.Tester.KeyKind, "key kind. int, text, mixed")
	runCmd.Flags().Int("sorters", def.Tester.Sorters, "sorters running at the same time")
	runCmd.Flags().Int("threads", def.Sorter.Threads, "background threads per sorter")
	runCmd.Flags().Int("flush_threshold", def.Sorter.FlushThreshold, "bytes in memory before a pma is written. 0 derives it from the cache size")
	runCmd.Flags().Int("page_size", def.Sorter.PageSize, "page size")
	runCmd.Flags().Int64("mmap_size", def.Sorter.MmapSize, "map pmas up to this size instead of reading them")
	runCmd.Flags().Bool("in_memory", def.Sorter.InMemory, "keep temp files in memory")
	runCmd.Flags().String("temp_dir", def.Sorter.TempDir, "temp file directory")
	runCmd.Flags().Int64("soft_heap_limit", def.Sorter.SoftHeapLimit, "flush early once tracked memory nears this limit")
	runCmd.Flags().String("log_level", def.Log.Level, "log level")

	viper.BindPFlag("tester.count", runCmd.Flags().Lookup("count"))
	viper.BindPFlag("tester.seed", runCmd.Flags().Lookup("seed"))
	viper.BindPFlag("tester.keyKind", runCmd.Flags().Lookup("key_kind"))
	viper.BindPFlag("tester.sorters", runCmd.Flags().Lookup("sorters"))
	viper.BindPFlag("sorter.threads", runCmd.Flags().Lookup("threads"))
	viper.BindPFlag("sorter.flushThreshold", runCmd.Flags().Lookup("flush_threshold"))
	viper.BindPFlag("sorter.pageSize", runCmd.Flags().Lookup("page_size"))
	viper.BindPFlag("sorter.mmapSize", runCmd.Flags().Lookup("mmap_size"))
	viper.BindPFlag("sorter.inMemory", runCmd.Flags().Lookup("in_memory"))
	viper.BindPFlag("sorter.tempDir", runCmd.Flags().Lookup("temp_dir"))
	viper.BindPFlag("sorter.softHeapLimit", runCmd.Flags().Lookup("soft_heap_limit"))
	viper.BindPFlag("log.level", runCmd.Flags().Lookup("log_level"))
}

var defCfgFilePaths = []string{".", "etc"}
var cfgFileName = "sorter.toml"

func loadConfig() {
	for _, dirPath := range defCfgFilePaths {
		fpath := filepath.Join(dirPath, cfgFileName)
		if util.FileIsValid(fpath) {
			viper.SetConfigFile(fpath)
			err := viper.ReadInConfig()
			if err != nil {
				util.Error("viper load config file failed",
					zap.String("fpath", fpath),
					zap.Error(err))
				continue
			}
			return
		}
	}
	util.Warn("sorter.toml does not exist, using flags only")
}

func main() {
	if err := RootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}
