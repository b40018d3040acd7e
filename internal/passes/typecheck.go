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

    `github.com/bytedance/dexter/internal/analysis`
    `github.com/bytedance/dexter/internal/concurrent`
    `github.com/bytedance/dexter/internal/ir`
)

// TypeCheckPass runs the IR type checker over every method body. It is a
// pure checker: nothing is rewritten. With the soft option set a type
// error only counts; otherwise the first failing method, in deterministic
// order, aborts the pipeline.
//
// Options:
//
//     verify_moves           bool    reject moves of top        (default false)
//     polymorphic_constants  bool    let consts flow both ways  (default false)
//     soft                   bool    demote errors to a metric  (default false)
type TypeCheckPass struct{}

func (self *TypeCheckPass) Name() string {
    return "IRTypeCheckerPass"
}

func (self *TypeCheckPass) Interaction() Interaction {
    return Interaction{}
}

func (self *TypeCheckPass) Run(run *Run) error {
    opts := run.Options(self)
    soft := opts.Bool("soft", false)

    checker := analysis.NewChecker(run.Ctx)
    if opts.Bool("verify_moves", false) {
        checker.VerifyMoves(true)
    }
    if opts.Bool("polymorphic_constants", false) {
        checker.PolymorphicConstants(true)
    }

    var mu sync.Mutex
    var checked, failed int64
    var firstKey string
    var firstErr error

    concurrent.ForEachCode(run.Scope, func(m *ir.MethodRef, code *ir.Code) {
        err := checker.Check(m)

        mu.Lock()
        checked++
        if err != nil {
            failed++
            if firstErr == nil || m.OrderKey() < firstKey {
                firstKey, firstErr = m.OrderKey(), err
            }
        }
        mu.Unlock()
    })

    metrics := run.Metrics(self)
    metrics.Set("methods_checked", checked)
    metrics.Set("type_errors", failed)

    if firstErr != nil && !soft {
        return firstErr
    }
    return nil
}
