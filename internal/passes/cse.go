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
    `sync`

    `github.com/bytedance/dexter/internal/concurrent`
    `github.com/bytedance/dexter/internal/cse`
    `github.com/bytedance/dexter/internal/ir`
)

// CommonSubexpressionPass forwards values the method already computed:
// the program-wide location census, the purity closure and the boxing
// table build once, then every body runs value numbering and the
// forwarding rewrite in parallel.
//
// Options:
//
//     pure_methods         list    extra intern keys seeded pure
//     runtime_assertions   bool    guard every forward with a check and
//                                  a throw-null block  (default false)
type CommonSubexpressionPass struct{}

func (self *CommonSubexpressionPass) Name() string {
    return "CommonSubexpressionPass"
}

func (self *CommonSubexpressionPass) Interaction() Interaction {
    return Interaction {
        Destroys: []Property { NoUnreachableInstructions },
    }
}

func (self *CommonSubexpressionPass) Run(run *Run) error {
    opts := run.Options(self)
    asserts := opts.Bool("runtime_assertions", false)
    maxIter := opts.MaxIterations()

    var seeds []string
    if extra := opts.Strs("pure_methods"); len(extra) > 0 {
        seeds = append(cse.DefaultPureMethods(), extra...)
    }
    shared := cse.NewSharedState(run.Ctx, run.Scope, run.Resolver(), run.Overrides(), seeds, maxIter)
    annos := noOptAnnos(run)
    width := run.Config.InstructionSizeBitwidthLimit()

    var mu sync.Mutex
    var total cse.Stats
    var unstable int64
    var exempt int64

    concurrent.ForEachCode(run.Scope, func(m *ir.MethodRef, code *ir.Code) {
        if optedOut(run.Scope, annos, m) || sizeCapped(width, code) {
            mu.Lock()
            exempt++
            mu.Unlock()
            return
        }
        cfg := code.BuildCFG(true, false)
        eng := cse.NewEngine(shared, cfg, maxIter)
        stats := eng.Apply(asserts)
        bad := eng.Unstable()
        code.ClearCFG()

        mu.Lock()
        total.Add(stats)
        if bad {
            unstable++
        }
        mu.Unlock()
    })

    metrics := run.Metrics(self)
    metrics.Set("values_forwarded", int64(total.Values))
    metrics.Set("branches_removed", int64(total.Branches))
    metrics.Set("throws_synthesized", int64(total.Throws))
    metrics.Set("unboxes_refined", int64(total.Casts))
    metrics.Set("methods_overflowed", int64(total.Overflow))
    metrics.Set("methods_unstable", unstable)
    metrics.Set("methods_exempt", exempt)
    return nil
}
