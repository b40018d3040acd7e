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
    `testing`

    `github.com/bytedance/dexter/internal/ir`
    `github.com/stretchr/testify/assert`
    `github.com/stretchr/testify/require`
)

func TestReachingDefs_MoveAware(t *testing.T) {
    // const v0, #1
    // move v1, v0
    // return-void
    code := ir.NewCode(2)
    l := code.List()
    def := ir.NewInsn(ir.OpConst).SetDest(0).SetLiteral(1)
    mov := ir.NewInsn(ir.OpMove).SetDest(1).SetSrcs(0)
    l.PushBack(ir.NewInsnEntry(def))
    l.PushBack(ir.NewInsnEntry(mov))
    l.PushBack(ir.NewInsnEntry(ir.NewInsn(ir.OpReturnVoid)))

    cfg := code.BuildCFG(false, false)

    /* a move forwards the definitions of its source */
    rd := AnalyzeReachingDefs(cfg, true)
    env := rd.ExitState(cfg.Entry())
    assert.Same(t, def, env.SoleDefOf(1))

    /* without move tracking the move is its own definition */
    rd = AnalyzeReachingDefs(cfg, false)
    env = rd.ExitState(cfg.Entry())
    assert.Same(t, mov, env.SoleDefOf(1))
}

func TestReachingDefs_Producer(t *testing.T) {
    ctx := ir.NewContext()
    f := ctx.MakeField("La/C;", "X", "I")

    // sget X
    // move-result-pseudo v0
    // return-void
    code := ir.NewCode(1)
    l := code.List()
    get := ir.NewInsn(ir.OpSget).SetField(f)
    mrp := ir.NewInsn(ir.OpMoveResultPseudo).SetDest(0)
    l.PushBack(ir.NewInsnEntry(get))
    l.PushBack(ir.NewInsnEntry(mrp))
    l.PushBack(ir.NewInsnEntry(ir.NewInsn(ir.OpReturnVoid)))

    cfg := code.BuildCFG(false, false)

    /* the value is attributed to the producer, not the pseudo */
    rd := AnalyzeReachingDefs(cfg, true)
    assert.Same(t, get, rd.ExitState(cfg.Entry()).SoleDefOf(0))

    rd = AnalyzeReachingDefs(cfg, false)
    assert.Same(t, mrp, rd.ExitState(cfg.Entry()).SoleDefOf(0))
}

func TestReachingDefs_Join(t *testing.T) {
    // const v0, #1
    // if-eqz v2 -> L1
    // const v0, #2
    // L1: return-void
    code := ir.NewCode(3)
    l := code.List()
    br := ir.NewInsnEntry(ir.NewInsn(ir.OpIfEqz).SetSrcs(2))
    d1 := ir.NewInsn(ir.OpConst).SetDest(0).SetLiteral(1)
    d2 := ir.NewInsn(ir.OpConst).SetDest(0).SetLiteral(2)
    l.PushBack(ir.NewInsnEntry(d1))
    l.PushBack(br)
    l.PushBack(ir.NewInsnEntry(d2))
    l.PushBack(ir.NewTargetEntry(&ir.BranchTarget{Kind: ir.TargetSimple, Src: br}))
    l.PushBack(ir.NewInsnEntry(ir.NewInsn(ir.OpReturnVoid)))

    cfg := code.BuildCFG(false, false)
    blocks := cfg.Blocks()
    require.Equal(t, 3, len(blocks))

    rd := AnalyzeReachingDefs(cfg, true)
    env := rd.EntryState(blocks[2])

    /* both writes reach the join, so there is no sole definition */
    assert.Nil(t, env.SoleDefOf(0))
    assert.ElementsMatch(t, []*ir.Instruction{d1, d2}, env.DefsOf(0))
}
