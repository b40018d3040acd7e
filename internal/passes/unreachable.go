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
    `sync/atomic`

    `github.com/bytedance/dexter/internal/concurrent`
    `github.com/bytedance/dexter/internal/ir`
)

// UnreachablePass drops every block no path from the entry reaches.
type UnreachablePass struct{}

func (self *UnreachablePass) Name() string {
    return "RemoveUnreachableBlocksPass"
}

func (self *UnreachablePass) Interaction() Interaction {
    return Interaction {
        Establishes: []Property { NoUnreachableInstructions },
    }
}

func (self *UnreachablePass) Run(run *Run) error {
    var removed int64

    concurrent.ForEachCode(run.Scope, func(m *ir.MethodRef, code *ir.Code) {
        cfg := code.BuildCFG(true, false)
        if n := cfg.RemoveUnreachable(); n > 0 {
            atomic.AddInt64(&removed, int64(n))
        }
        code.ClearCFG()
    })

    run.Metrics(self).Set("blocks_removed", removed)
    return nil
}
