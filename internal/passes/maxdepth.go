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
    `github.com/bytedance/dexter/internal/interproc`
)

// MaxDepthPass measures the deepest resolved call chain in the scope.
// It is metric-only: the summaries feed stack diagnostics, nothing is
// rewritten.
type MaxDepthPass struct{}

func (self *MaxDepthPass) Name() string {
    return "MaxDepthPass"
}

func (self *MaxDepthPass) Interaction() Interaction {
    return Interaction{}
}

func (self *MaxDepthPass) Run(run *Run) error {
    reg, unstable := interproc.AnalyzeMaxDepth(run.CallGraph(), run.Options(self).MaxIterations())

    deepest, unbounded := 0, int64(0)
    for _, m := range reg.Methods() {
        d, ok := reg.Get(m).(interproc.Depth)
        switch {
            case !ok            : continue
            case d.IsTop()      : unbounded++
            case d.IsValue() && d.Value() > deepest:
                deepest = d.Value()
        }
    }

    metrics := run.Metrics(self)
    metrics.Set("max_depth", int64(deepest))
    metrics.Set("unbounded_chains", unbounded)
    metrics.Set("methods_measured", int64(reg.Len()))
    if unstable {
        metrics.Set("unstable", 1)
    }
    return nil
}
