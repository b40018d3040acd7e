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

package passes

import (
    `os`
    `path/filepath`

    `github.com/bytedance/dexter/internal/interproc`
    `github.com/bytedance/dexter/internal/ir`
)

// ReflectionExportFile is the per-method reflection site listing written
// next to the output DEXes when exporting is on.
const ReflectionExportFile = "redex-reflection-analysis.txt"

// ReflectionAnalysisPass resolves reflective lookups interprocedurally
// and records one site per decided call. Metric-only unless exporting.
//
// Options:
//
//     export_results   bool    write the site listing to the output
//                              directory  (default false)
type ReflectionAnalysisPass struct{}

func (self *ReflectionAnalysisPass) Name() string {
    return "ReflectionAnalysisPass"
}

func (self *ReflectionAnalysisPass) Interaction() Interaction {
    return Interaction{}
}

func (self *ReflectionAnalysisPass) Run(run *Run) error {
    opts := run.Options(self)
    ra := interproc.NewReflectionAnalysis(run.Ctx, run.CallGraph())
    ra.Run(opts.MaxIterations())

    var sites, sited int64
    run.Scope.ForEachMethod(func(m *ir.MethodRef) {
        if s := ra.SummaryOf(m); s != nil && s.NumSites() > 0 {
            sited++
            sites += int64(s.NumSites())
        }
    })

    metrics := run.Metrics(self)
    metrics.Set("reflection_sites", sites)
    metrics.Set("methods_with_sites", sited)
    metrics.Set("virtual_calls_top", int64(ra.VirtualCallsTop()))
    if ra.Unstable() {
        metrics.Set("unstable", 1)
    }

    if !opts.Bool("export_results", false) || run.OutDir == "" {
        return nil
    }
    f, err := os.Create(filepath.Join(run.OutDir, ReflectionExportFile))
    if err != nil {
        return err
    }
    defer f.Close()
    return ra.Export(f)
}
