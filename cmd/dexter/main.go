/*
 * Copyright 2023 ByteDance Inc.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package main

import (
    `os`
    `runtime`
    `strconv`
    `strings`

    `github.com/bytedance/dexter`
    `github.com/bytedance/gopkg/util/gctuner`
    log `github.com/sirupsen/logrus`
    `github.com/spf13/cobra`
    `github.com/spf13/pflag`
)

// MemoryLimitEnv caps the heap in GiB before the GC gets aggressive.
const MemoryLimitEnv = "DEXTER_MEMORY_LIMIT"

const _GB = 1 << 30

// tuneGC keeps whole-program analysis of large APKs from running the
// machine out of memory: the tuner targets 70% of the limit, split
// across workers the way the pass pool fans out.
func tuneGC() {
    var limit uint64 = 4 * _GB
    if env := os.Getenv(MemoryLimitEnv); env != "" {
        if gb, err := strconv.ParseUint(env, 10, 64); err == nil {
            limit = gb * _GB
        }
    }
    threshold := uint64(float64(limit) * 0.7)
    gctuner.Tuning(threshold / uint64(runtime.GOMAXPROCS(0)))
}

var flags struct {
    config         string
    inDex          string
    outDir         string
    jars           []string
    proguardConfig string
    noProguard     bool
    logLevel       string
}

func main() {
    cmd := &cobra.Command {
        Use          : "dexter --config=<path> --in-dex=<dir> --out-dir=<dir>",
        Short        : "whole-program DEX bytecode optimizer",
        Args         : cobra.NoArgs,
        SilenceUsage : true,
        RunE         : run,
    }

    fs := cmd.Flags()
    fs.SetNormalizeFunc(func(f *pflag.FlagSet, name string) pflag.NormalizedName {
        return pflag.NormalizedName(strings.ReplaceAll(name, "_", "-"))
    })
    fs.StringVar(&flags.config, "config", "", "JSON configuration file")
    fs.StringVar(&flags.inDex, "in-dex", "", "directory holding the input *.dex files")
    fs.StringVar(&flags.outDir, "out-dir", "", "directory for the optimized DEX files")
    fs.StringSliceVar(&flags.jars, "jars", nil, "library jars (recorded, classes are not loaded)")
    fs.StringVar(&flags.proguardConfig, "proguard-config", "", "ProGuard rules file")
    fs.BoolVar(&flags.noProguard, "no-proguard-rules", false, "drop passes that need ProGuard keep rules")
    fs.StringVar(&flags.logLevel, "log-level", "info", "logrus level (debug, info, warn, error)")
    _ = cmd.MarkFlagRequired("in-dex")
    _ = cmd.MarkFlagRequired("out-dir")

    if err := cmd.Execute(); err != nil {
        os.Exit(1)
    }
}

func run(cmd *cobra.Command, args []string) error {
    lvl, err := log.ParseLevel(flags.logLevel)
    if err != nil {
        return err
    }
    log.SetLevel(lvl)
    tuneGC()

    if len(flags.jars) > 0 {
        log.Debugf("dexter: %d library jars on the classpath, not loaded", len(flags.jars))
    }
    if flags.proguardConfig != "" && flags.noProguard {
        log.Warn("dexter: --proguard-config ignored under --no-proguard-rules")
    }

    opts := []dexter.Option {
        dexter.WithInDex(flags.inDex),
    }
    if flags.config != "" {
        opts = append(opts, dexter.WithConfig(flags.config))
    }
    if flags.noProguard {
        opts = append(opts, dexter.WithNoProguardRules())
    }

    prog, err := dexter.Load(opts...)
    if err != nil {
        return err
    }
    if err := prog.OutDir(flags.outDir).Optimize(); err != nil {
        return err
    }
    return prog.Write(flags.outDir)
}
