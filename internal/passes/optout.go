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
    `github.com/bytedance/dexter/internal/ir`
)

// noOptAnnos interns the configured no-optimization annotation types.
func noOptAnnos(run *Run) []*ir.Type {
    descs := run.Config.NoOptimizationsAnnotations()
    if len(descs) == 0 {
        return nil
    }
    ts := make([]*ir.Type, 0, len(descs))
    for _, d := range descs {
        ts = append(ts, run.Ctx.MakeType(d))
    }
    return ts
}

// optedOut reports whether the method or its class carries one of the
// exemption annotations. Exempt bodies pass through every rewriting
// pass untouched.
func optedOut(scope *ir.Scope, annos []*ir.Type, m *ir.MethodRef) bool {
    if len(annos) == 0 {
        return false
    }
    if m.Def().Anno.HasAny(annos) {
        return true
    }
    cls := scope.ClassOf(m.Class())
    return cls != nil && cls.Anno().HasAny(annos)
}

// sizeCapped reports whether the body exceeds the configured
// instruction-count bitwidth, zero meaning no cap. Oversized methods
// are skipped rather than analyzed at quadratic cost.
func sizeCapped(limit int, code *ir.Code) bool {
    if limit <= 0 {
        return false
    }
    ceil := 1 << uint(limit)
    n := 0
    code.List().ForEachInsn(func(*ir.Instruction) bool {
        n++
        return n < ceil
    })
    return n >= ceil
}
