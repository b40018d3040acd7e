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

package fixpoint

import (
    `testing`

    `github.com/bytedance/dexter/internal/ir`
    `github.com/stretchr/testify/assert`
    `github.com/stretchr/testify/require`
)

type testEdge struct {
    src int
    dst int
}

func (self testEdge) Src() int { return self.src }
func (self testEdge) Dst() int { return self.dst }

type testGraph struct {
    entry int
    succs map[int][]Edge
    preds map[int][]Edge
}

func graphOf(entry int, edges ...[2]int) *testGraph {
    g := &testGraph {
        entry : entry,
        succs : make(map[int][]Edge),
        preds : make(map[int][]Edge),
    }
    for _, e := range edges {
        g.succs[e[0]] = append(g.succs[e[0]], testEdge { e[0], e[1] })
        g.preds[e[1]] = append(g.preds[e[1]], testEdge { e[0], e[1] })
    }
    return g
}

func (self *testGraph) EntryNode() int     { return self.entry }
func (self *testGraph) Succs(v int) []Edge { return self.succs[v] }
func (self *testGraph) Preds(v int) []Edge { return self.preds[v] }

func TestWTO_Straight(t *testing.T) {
    g := graphOf(1, [2]int{1, 2}, [2]int{2, 3})
    w := BuildWTO(g)
    assert.Equal(t, "1 2 3", w.String())
    assert.Empty(t, w.Heads())
}

func TestWTO_NestedLoops(t *testing.T) {
    g := graphOf(1,
        [2]int{1, 2},
        [2]int{2, 3}, [2]int{2, 8},
        [2]int{3, 4},
        [2]int{4, 5}, [2]int{4, 7},
        [2]int{5, 6},
        [2]int{6, 7}, [2]int{6, 5},
        [2]int{7, 8}, [2]int{7, 3},
    )
    w := BuildWTO(g)
    assert.Equal(t, "1 2 (3 4 (5 6) 7) 8", w.String())
    assert.Equal(t, []int{3, 5}, w.Heads())

    var flat []int
    w.ForEachNode(func(v int) { flat = append(flat, v) })
    assert.Equal(t, []int{1, 2, 3, 4, 5, 6, 7, 8}, flat)
}

func TestWTO_SelfLoop(t *testing.T) {
    g := graphOf(1, [2]int{1, 1}, [2]int{1, 2})
    w := BuildWTO(g)
    assert.Equal(t, "(1) 2", w.String())
    assert.Equal(t, []int{1}, w.Heads())
}

func TestWTO_SkipsUnreachable(t *testing.T) {
    g := graphOf(1, [2]int{1, 2}, [2]int{9, 1})
    w := BuildWTO(g)
    assert.Equal(t, "1 2", w.String())
}

// loopCode is a single counting loop:
//
//     const v0, #0
// L0: add-int/lit8 v0, v0, #1
//     if-eqz v0 -> L0
//     return-void
func loopCode() *ir.Code {
    code := ir.NewCode(1)
    l := code.List()

    br := ir.NewInsnEntry(ir.NewInsn(ir.OpIfEqz).SetSrcs(0))

    l.PushBack(ir.NewInsnEntry(ir.NewInsn(ir.OpConst).SetDest(0).SetLiteral(0)))
    l.PushBack(ir.NewTargetEntry(&ir.BranchTarget { Kind: ir.TargetSimple, Src: br }))
    l.PushBack(ir.NewInsnEntry(ir.NewInsn(ir.OpAddIntLit8).SetDest(0).SetSrcs(0).SetLiteral(1)))
    l.PushBack(br)
    l.PushBack(ir.NewInsnEntry(ir.NewInsn(ir.OpReturnVoid)))
    return code
}

func TestWTO_LoopCFG(t *testing.T) {
    code := loopCode()
    cfg := code.BuildCFG(true, false)
    require.Equal(t, 3, cfg.NumBlocks())

    w := BuildWTO(ForwardCFG(cfg))
    assert.Equal(t, "0 (1) 2", w.String())
    assert.Equal(t, []int{1}, w.Heads())
}

func TestWTO_BackwardView(t *testing.T) {
    code := loopCode()
    cfg := code.BuildCFG(true, false)

    w := BuildWTO(BackwardCFG(cfg))
    assert.Equal(t, "2 (1) 0", w.String())
}
