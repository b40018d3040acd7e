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

package concurrent

import (
    `runtime`

    `golang.org/x/sync/errgroup`
    `github.com/bytedance/dexter/internal/config`
    `github.com/bytedance/dexter/internal/ir`
)

// Accumulator is the per-worker state of a Reduce. Merge folds the
// right-hand accumulator into the receiver; reductions must be monoids
// so the worker partition never shows in the result.
type Accumulator interface {
    Merge(rhs Accumulator)
}

// Reduce runs fn over every method body with one accumulator per worker
// and merges the workers in index order. The first error stops the merge
// but every worker still drains its share.
func Reduce(scope *ir.Scope, mk func() Accumulator, fn func(Accumulator, *ir.MethodRef, *ir.Code) error) (Accumulator, error) {
    nw := config.Parallelism
    if nw < 1 {
        nw = runtime.GOMAXPROCS(0)
    }
    if nw < 1 {
        nw = 1
    }

    /* feed every body through one channel */
    type _Job struct {
        m *ir.MethodRef
        c *ir.Code
    }
    jobs := make(chan _Job, nw)
    accs := make([]Accumulator, nw)

    var eg errgroup.Group
    for i := 0; i < nw; i++ {
        acc := mk()
        accs[i] = acc
        eg.Go(func() error {
            var err error
            for j := range jobs {
                if err == nil {
                    err = fn(acc, j.m, j.c)
                }
            }
            return err
        })
    }

    scope.ForEachCode(func(m *ir.MethodRef, code *ir.Code) {
        jobs <- _Job { m, code }
    })
    close(jobs)

    if err := eg.Wait(); err != nil {
        return nil, err
    }

    /* fold the per-worker states left to right */
    out := accs[0]
    for _, acc := range accs[1:] {
        out.Merge(acc)
    }
    return out, nil
}
