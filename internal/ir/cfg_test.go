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

package ir

import (
    `fmt`
    `os`
    `path/filepath`
    `strings`
    `testing`

    `github.com/oleiade/lane`
    `github.com/stretchr/testify/assert`
    `github.com/stretchr/testify/require`
)

func dumpbb(bb *BasicBlock) string {
    var ins []string
    bb.ForEachInsn(func(p *Instruction) bool {
        ins = append(ins, p.String())
        return true
    })
    if len(ins) == 0 {
        return fmt.Sprintf("bb_%d (empty)", bb.Id)
    }
    return fmt.Sprintf("bb_%d\\n%s", bb.Id, strings.Join(ins, "\\n"))
}

func cfgdot(cfg *CFG, fn string) {
    q := lane.NewQueue()
    n := make(map[int]bool)
    buf := []string {
        "digraph CFG {",
        `    node [ shape = "box" ]`,
        `    START [ shape = "circle" ]`,
        fmt.Sprintf(`    START -> bb_%d`, cfg.Entry().Id),
    }
    n[cfg.Entry().Id] = true
    for q.Enqueue(cfg.Entry()); !q.Empty(); {
        p := q.Dequeue().(*BasicBlock)
        buf = append(buf, fmt.Sprintf(`    bb_%d [ label = "%s" ]`, p.Id, dumpbb(p)))
        for _, e := range p.Succs() {
            if !n[e.Dst().Id] {
                n[e.Dst().Id] = true
                q.Enqueue(e.Dst())
            }
            switch e.Kind() {
                case EdgeBranch : buf = append(buf, fmt.Sprintf(`    bb_%d -> bb_%d [ label = "%d" ]`, p.Id, e.Dst().Id, e.CaseKey()))
                case EdgeThrow  : buf = append(buf, fmt.Sprintf(`    bb_%d -> bb_%d [ label = "throw" style = "dashed" ]`, p.Id, e.Dst().Id))
                default         : buf = append(buf, fmt.Sprintf(`    bb_%d -> bb_%d`, p.Id, e.Dst().Id))
            }
        }
    }
    buf = append(buf, "}")
    err := os.WriteFile(fn, []byte(strings.Join(buf, "\n")), 0644)
    if err != nil {
        panic(err)
    }
}

// diamondCode is an if/else join:
//
//     const v0, #0
//     if-eqz v0 -> L1
//     const v1, #1
//     goto -> L2
// L1: const v1, #2
// L2: return-void
func diamondCode() *Code {
    code := NewCode(2)
    l := code.List()

    br := NewInsnEntry(NewInsn(OpIfEqz).SetSrcs(0))
    g := NewInsnEntry(NewInsn(OpGoto))

    l.PushBack(NewInsnEntry(NewInsn(OpConst).SetDest(0).SetLiteral(0)))
    l.PushBack(br)
    l.PushBack(NewInsnEntry(NewInsn(OpConst).SetDest(1).SetLiteral(1)))
    l.PushBack(g)
    l.PushBack(NewTargetEntry(&BranchTarget{Kind: TargetSimple, Src: br}))
    l.PushBack(NewInsnEntry(NewInsn(OpConst).SetDest(1).SetLiteral(2)))
    l.PushBack(NewTargetEntry(&BranchTarget{Kind: TargetSimple, Src: g}))
    l.PushBack(NewInsnEntry(NewInsn(OpReturnVoid)))
    return code
}

func TestCFG_Diamond(t *testing.T) {
    code := diamondCode()
    cfg := code.BuildCFG(true, false)
    cfgdot(cfg, filepath.Join(t.TempDir(), "diamond.gv"))

    blocks := cfg.Blocks()
    require.Equal(t, 4, len(blocks))

    b0, b1, b2, b3 := blocks[0], blocks[1], blocks[2], blocks[3]
    require.Same(t, b0, cfg.Entry())

    /* b0: branch to b2, fallthrough to b1 */
    require.Equal(t, 2, len(b0.Succs()))
    require.Same(t, b2, b0.BranchEdges()[0].Dst())
    require.Same(t, b1, b0.GotoSucc())
    assert.Equal(t, int32(1), b0.BranchEdges()[0].CaseKey())

    /* both arms join at b3 */
    require.Same(t, b3, b1.GotoSucc())
    require.Same(t, b3, b2.GotoSucc())
    require.Equal(t, 2, len(b3.Preds()))
    require.Equal(t, 0, len(b3.Succs()))

    /* a lone return tail is its own exit */
    require.Same(t, b3, cfg.Exit())
}

func TestCFG_RoundTrip(t *testing.T) {
    code := diamondCode()
    before := code.InsnCount()

    code.BuildCFG(true, false)
    code.ClearCFG()

    require.Equal(t, before, code.InsnCount())

    /* the rebuilt graph has the same shape */
    cfg := code.BuildCFG(true, false)
    require.Equal(t, 4, len(cfg.Blocks()))
    require.Equal(t, 2, len(cfg.Entry().Succs()))
}

func TestCFG_GotoElision(t *testing.T) {
    code := diamondCode()
    code.BuildCFG(true, false)
    code.ClearCFG()

    /* the goto chain layout keeps b1 before L2, so one goto survives at
     * most; the branch arm that lands on its fallthrough loses its goto */
    gotos := 0
    code.List().ForEachInsn(func(p *Instruction) bool {
        if p.Op().Fam() == FamGoto {
            gotos++
        }
        return true
    })
    assert.LessOrEqual(t, gotos, 1)
}

func TestCFG_TryCatch(t *testing.T) {
    ctx := NewContext()
    exc := ctx.MakeType("Ljava/lang/Exception;")
    callee := ctx.MakeMethod("Lfoo/Bar;", "mayThrow", "V")

    //     try {
    //         invoke-static {} Lfoo/Bar;.mayThrow:()V
    //     } catch (Exception) -> h1, catch (*) -> h2
    //     return-void
    // h1: return-void
    // h2: return-void
    code := NewCode(1)
    l := code.List()

    h1 := NewCatchEntryNode(exc)
    h2 := NewCatchEntryNode(nil)
    h1.Catch.Next = h2

    l.PushBack(NewTryStart(h1))
    l.PushBack(NewInsnEntry(NewInsn(OpInvokeStatic).SetMethod(callee)))
    l.PushBack(NewTryEnd(h1))
    l.PushBack(NewInsnEntry(NewInsn(OpReturnVoid)))
    l.PushBack(h1)
    l.PushBack(NewInsnEntry(NewInsn(OpReturnVoid)))
    l.PushBack(h2)
    l.PushBack(NewInsnEntry(NewInsn(OpReturnVoid)))

    cfg := code.BuildCFG(true, false)
    cfgdot(cfg, filepath.Join(t.TempDir(), "try.gv"))

    /* locate the invoke block */
    var inv *BasicBlock
    cfg.ForEachBlock(func(b *BasicBlock) {
        b.ForEachInsn(func(p *Instruction) bool {
            if p.Op().IsInvoke() {
                inv = b
            }
            return true
        })
    })
    require.NotNil(t, inv)

    throws := inv.ThrowEdges()
    require.Equal(t, 2, len(throws))
    assert.Same(t, exc, throws[0].CatchType())
    assert.Equal(t, 0, throws[0].ThrowIndex())
    assert.Nil(t, throws[1].CatchType())
    assert.Equal(t, 1, throws[1].ThrowIndex())
    assert.True(t, throws[0].Dst().IsCatch())

    /* non-throw fallthrough to the return block */
    require.NotNil(t, inv.GotoSucc())
    assert.True(t, inv.InTry())

    /* ghost exit joins the three returns */
    exit := cfg.Exit()
    assert.True(t, exit.IsGhost())
    assert.Equal(t, 3, len(exit.Preds()))

    /* round trip preserves the handler chain */
    code.ClearCFG()
    cfg = code.BuildCFG(true, false)
    inv = nil
    cfg.ForEachBlock(func(b *BasicBlock) {
        b.ForEachInsn(func(p *Instruction) bool {
            if p.Op().IsInvoke() {
                inv = b
            }
            return true
        })
    })
    require.NotNil(t, inv)
    throws = inv.ThrowEdges()
    require.Equal(t, 2, len(throws))
    assert.Same(t, exc, throws[0].CatchType())
    assert.Nil(t, throws[1].CatchType())
}

func TestCFG_SwitchEdges(t *testing.T) {
    code := NewCode(1)
    l := code.List()

    sw := NewInsnEntry(NewInsn(OpPackedSwitch).SetSrcs(0))
    l.PushBack(sw)
    l.PushBack(NewInsnEntry(NewInsn(OpReturnVoid)))                                     /* default */
    l.PushBack(NewTargetEntry(&BranchTarget{Kind: TargetCase, Src: sw, Case: 10}))
    l.PushBack(NewInsnEntry(NewInsn(OpReturnVoid)))
    l.PushBack(NewTargetEntry(&BranchTarget{Kind: TargetCase, Src: sw, Case: 20}))
    l.PushBack(NewInsnEntry(NewInsn(OpReturnVoid)))

    cfg := code.BuildCFG(true, false)
    entry := cfg.Entry()

    es := entry.BranchEdges()
    require.Equal(t, 2, len(es))
    assert.Equal(t, int32(10), es[0].CaseKey())
    assert.Equal(t, int32(20), es[1].CaseKey())
    require.NotNil(t, entry.GotoSucc(), "switch default falls through")
}

func TestCFG_RemoveUnreachable(t *testing.T) {
    code := diamondCode()
    cfg := code.BuildCFG(true, false)

    /* cut the branch edge, the L1 arm dies */
    for _, e := range cfg.Entry().BranchEdges() {
        cfg.RemoveEdge(e)
    }
    removed := cfg.RemoveUnreachable()
    assert.Equal(t, 1, removed)
    assert.Equal(t, 3, cfg.NumBlocks())
}

func TestCFG_Simplify(t *testing.T) {
    code := diamondCode()
    cfg := code.BuildCFG(true, false)

    /* deleting the conditional drops its branch edges with it */
    entry := cfg.Entry()
    cfg.RemoveInsn(entry, entry.LastInsn())
    require.Equal(t, 1, len(entry.Succs()))

    cfg.RemoveUnreachable()
    cfg.Simplify()

    /* entry, then-arm and join collapse into one block */
    require.Equal(t, 1, cfg.NumBlocks())
    assert.Equal(t, 3, cfg.Entry().InsnCount(), "const, const, return-void")
}

func TestCFG_MoveResultOf(t *testing.T) {
    ctx := NewContext()
    callee := ctx.MakeMethod("La/B;", "get", "I")

    code := NewCode(2)
    l := code.List()
    inv := NewInsnEntry(NewInsn(OpInvokeStatic).SetMethod(callee))
    l.PushBack(inv)
    l.PushBack(NewInsnEntry(NewInsn(OpMoveResult).SetDest(0)))
    l.PushBack(NewInsnEntry(NewInsn(OpReturn).SetSrcs(0)))

    cfg := code.BuildCFG(true, false)
    b := cfg.Entry()
    mb, me := cfg.MoveResultOf(b, b.FirstInsn())
    require.NotNil(t, me)
    require.Same(t, b, mb)
    assert.Equal(t, OpMoveResult, me.Insn.Op())

    /* insertion lands after the companion */
    _, at := cfg.InsertAfterResult(b, b.FirstInsn(), NewInsn(OpNop))
    assert.Equal(t, OpNop, at.Insn.Op())
    assert.Equal(t, OpMoveResult, at.Prev().Insn.Op())
}
