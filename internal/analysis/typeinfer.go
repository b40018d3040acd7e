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

package analysis

import (
    `github.com/bytedance/dexter/internal/fixpoint`
    `github.com/bytedance/dexter/internal/ir`
)

// TypeInference runs the register type analysis over a built CFG and keeps
// the fixpoint around, so optimizations can replay per-instruction states
// on demand.
type TypeInference struct {
    cfg  *ir.CFG
    flow *_TypeFlow
    it   *fixpoint.Iterator
}

func InferTypes(ctx *ir.Context, mth *ir.MethodRef, cfg *ir.CFG) *TypeInference {
    flow := newTypeFlow(ctx, mth, cfg)
    it := fixpoint.NewIterator(fixpoint.ForwardCFG(cfg), flow)
    it.Run(0)
    return &TypeInference {
        cfg  : cfg,
        flow : flow,
        it   : it,
    }
}

// EntryState is the inferred state at block entry. The returned
// environment is owned by the caller.
func (self *TypeInference) EntryState(b *ir.BasicBlock) *TypeEnv {
    return self.it.PreOf(b.Id).(*TypeEnv).Clone()
}

// ExitState is the inferred state after the block's last instruction.
func (self *TypeInference) ExitState(b *ir.BasicBlock) *TypeEnv {
    return self.it.PostOf(b.Id).(*TypeEnv).Clone()
}

// Step advances a state over one instruction in place.
func (self *TypeInference) Step(env *TypeEnv, p *ir.Instruction) {
    self.flow.apply(p, env)
}

// ForEachState replays one block, handing out the state right before each
// instruction. The environment is reused between calls, copy to retain.
func (self *TypeInference) ForEachState(b *ir.BasicBlock, fn func(*ir.Instruction, *TypeEnv) bool) {
    env := self.EntryState(b)
    b.ForEachInsn(func(p *ir.Instruction) bool {
        if !fn(p, env) {
            return false
        }
        self.flow.apply(p, env)
        return true
    })
}
