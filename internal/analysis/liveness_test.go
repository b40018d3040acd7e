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

func TestRegSet(t *testing.T) {
    s := NewRegSet()
    s.Add(0).Add(3).Add(130)
    assert.True(t, s.Contains(0))
    assert.True(t, s.Contains(130))
    assert.False(t, s.Contains(64))
    assert.Equal(t, 3, s.Len())

    s.Remove(3)
    assert.False(t, s.Contains(3))
    assert.Equal(t, 2, s.Len())

    c := s.Clone()
    c.Add(7)
    assert.False(t, s.Contains(7))
}

func TestLiveness_Loop(t *testing.T) {
    // const v0, #0
    // const v1, #10
    // L1: add-int/lit8 v0, v0, #1
    // if-lt v0, v1 -> L1
    // return-void
    code := ir.NewCode(2)
    l := code.List()
    br := ir.NewInsnEntry(ir.NewInsn(ir.OpIfLt).SetSrcs(0, 1))
    l.PushBack(ir.NewInsnEntry(ir.NewInsn(ir.OpConst).SetDest(0).SetLiteral(0)))
    l.PushBack(ir.NewInsnEntry(ir.NewInsn(ir.OpConst).SetDest(1).SetLiteral(10)))
    l.PushBack(ir.NewTargetEntry(&ir.BranchTarget{Kind: ir.TargetSimple, Src: br}))
    l.PushBack(ir.NewInsnEntry(ir.NewInsn(ir.OpAddIntLit8).SetDest(0).SetSrcs(0).SetLiteral(1)))
    l.PushBack(br)
    l.PushBack(ir.NewInsnEntry(ir.NewInsn(ir.OpReturnVoid)))

    cfg := code.BuildCFG(false, false)
    blocks := cfg.Blocks()
    require.Equal(t, 3, len(blocks))
    lv := AnalyzeLiveness(cfg)

    /* both the counter and the bound stay live around the backedge */
    body := blocks[1]
    assert.True(t, lv.LiveIn(body).Contains(0))
    assert.True(t, lv.LiveIn(body).Contains(1))
    assert.True(t, lv.LiveOut(body).Contains(0))
    assert.True(t, lv.LiveOut(body).Contains(1))

    /* nothing is live before the first definition */
    assert.Equal(t, 0, lv.LiveIn(cfg.Entry()).Len())
    assert.Equal(t, 0, lv.LiveOut(blocks[2]).Len())
}

func TestLiveness_DeadStore(t *testing.T) {
    // const v0, #1       overwritten before any read
    // const v0, #2
    // return v0
    code := ir.NewCode(1)
    l := code.List()
    l.PushBack(ir.NewInsnEntry(ir.NewInsn(ir.OpConst).SetDest(0).SetLiteral(1)))
    l.PushBack(ir.NewInsnEntry(ir.NewInsn(ir.OpConst).SetDest(0).SetLiteral(2)))
    l.PushBack(ir.NewInsnEntry(ir.NewInsn(ir.OpReturn).SetSrcs(0)))

    cfg := code.BuildCFG(false, false)
    lv := AnalyzeLiveness(cfg)

    /* a store is dead when its register is not in the live-after set */
    lv.ForEachLive(cfg.Entry(), func(p *ir.Instruction, live *RegSet) bool {
        if p.Op() == ir.OpConst {
            assert.Equal(t, p.Literal() == 2, live.Contains(p.Dest()))
        }
        return true
    })
}

func TestLiveness_WidePair(t *testing.T) {
    // const-wide v0, #1
    // return-wide v0
    code := ir.NewCode(2)
    l := code.List()
    l.PushBack(ir.NewInsnEntry(ir.NewInsn(ir.OpConstWide).SetDest(0).SetLiteral(1)))
    l.PushBack(ir.NewInsnEntry(ir.NewInsn(ir.OpReturnWide).SetSrcs(0)))

    cfg := code.BuildCFG(false, false)
    lv := AnalyzeLiveness(cfg)

    /* the wide read holds both halves live across the gap */
    var after *RegSet
    lv.ForEachLive(cfg.Entry(), func(p *ir.Instruction, live *RegSet) bool {
        if p.Op() == ir.OpConstWide {
            after = live.Clone()
        }
        return true
    })
    require.NotNil(t, after)
    assert.True(t, after.Contains(0))
    assert.True(t, after.Contains(1))
    assert.Equal(t, 0, lv.LiveIn(cfg.Entry()).Len())
}
