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

package cse

import (
    `github.com/bytedance/dexter/internal/ir`
)

// Stats counts what one Apply changed.
type Stats struct {
    Values   int /* recomputations forwarded, constant clones included */
    Branches int /* decided conditionals removed */
    Throws   int /* runtime assertion checks synthesized */
    Casts    int /* abstract unboxes refined to concrete wrappers */
    Overflow int /* methods that ran past the tracked location budget */
}

func (self *Stats) Add(rhs Stats) {
    self.Values += rhs.Values
    self.Branches += rhs.Branches
    self.Throws += rhs.Throws
    self.Casts += rhs.Casts
    self.Overflow += rhs.Overflow
}

func (self Stats) Empty() bool {
    return self.Values == 0 && self.Branches == 0 && self.Throws == 0 && self.Casts == 0
}

// Apply rewrites the graph per the replay plan: every definition of a
// forwarded value captures into a temp right where it lands, and every
// hit replaces its recomputation's landing move with a move from the
// temp. The recomputation itself stays for a downstream cleanup to
// collect once its result is provably unobserved.
//
// With asserts set the forwarded copy is compared against the fresh
// recomputation at runtime and a mismatch throws; wide values skip the
// check, a single if-ne register compare cannot cover a pair.
func (self *Engine) Apply(asserts bool) Stats {
    var stats Stats
    if self.flow.overflow {
        stats.Overflow = 1
    }

    /* invoke refinements first, while every recorded block is intact */
    for _, c := range self.rec.casts {
        self.refineUnbox(c)
        stats.Casts++
    }

    /* decided conditionals next, they only touch block tails */
    for _, c := range self.rec.cuts {
        self.cutBranch(c)
        stats.Branches++
    }

    /* capture moves after every definition of a forwarded id */
    temps := make(map[uint64]ir.Reg)
    for _, u := range self.rec.uses {
        self.prepareTemp(u, temps)
    }

    /* forward uses last to first, splits never cross a pending one */
    for i := len(self.rec.uses) - 1; i >= 0; i-- {
        self.forward(self.rec.uses[i], temps, asserts, &stats)
    }

    if len(self.rec.cuts) > 0 {
        self.cfg.RemoveUnreachable()
    }
    return stats
}

// defsOf is the anchor set a use forwards from. A derived array length
// with no live anchor falls back to capturing the allocation's length
// operand.
func (self *Engine) defsOf(u _Use) []_Def {
    if ds := self.rec.defs[u.id]; len(ds) != 0 {
        return ds
    }
    if u.arr != 0 {
        if d, ok := self.rec.newarr[u.arr]; ok {
            return []_Def { d }
        }
    }
    return nil
}

// constDefs reports whether every definition is a constant load of one
// same literal. Such values clone the constant instead of occupying a
// temp across the whole span.
func constDefs(ds []_Def) (int64, bool) {
    for i, d := range ds {
        if d.insn.Op().Fam() != ir.FamConst {
            return 0, false
        }
        if i > 0 && d.insn.Literal() != ds[0].insn.Literal() {
            return 0, false
        }
    }
    return ds[0].insn.Literal(), true
}

func (self *Engine) prepareTemp(u _Use, temps map[uint64]ir.Reg) {
    if _, ok := temps[u.id]; ok || self.rec.poison[u.id] {
        return
    }
    ds := self.defsOf(u)
    if len(ds) == 0 {
        return
    }
    if _, ok := constDefs(ds); ok {
        return
    }

    kind := self.flow.kinds[u.id]
    var t ir.Reg
    if kind == _KWide {
        t = self.cfg.AllocTempWide()
    } else {
        t = self.cfg.AllocTemp()
    }
    temps[u.id] = t

    for _, d := range ds {
        p := ir.NewInsn(moveOpFor(kind)).SetDest(t).SetSrcs(d.reg)
        if d.before {
            d.block.InsertBefore(d.at, p)
        } else {
            d.block.InsertAfter(d.at, p)
        }
    }
}

func (self *Engine) forward(u _Use, temps map[uint64]ir.Reg, asserts bool, stats *Stats) {
    if self.rec.poison[u.id] {
        return
    }
    ds := self.defsOf(u)
    if len(ds) == 0 {
        return
    }

    /* locate the landing register of the recomputation */
    tb, te := u.block, u.entry
    if u.entry.Insn.Op().HasMoveResult() {
        if tb, te = self.cfg.MoveResultOf(u.block, u.entry); te == nil {
            return
        }
    }
    dest := te.Insn.Dest()
    kind := self.flow.kinds[u.id]

    /* one same literal everywhere clones the constant in place */
    if lit, ok := constDefs(ds); ok {
        op := ir.OpConst
        if kind == _KWide {
            op = ir.OpConstWide
        }
        tb.InsertAfter(te, ir.NewInsn(op).SetDest(dest).SetLiteral(lit))
        stats.Values++
        return
    }

    t, ok := temps[u.id]
    if !ok {
        return
    }
    mv := ir.NewInsn(moveOpFor(kind)).SetDest(dest).SetSrcs(t)

    if asserts && kind != _KWide {
        self.assertAndMove(tb, te, t, dest, mv)
        stats.Throws++
    } else {
        tb.InsertAfter(te, mv)
    }
    stats.Values++
}

// assertAndMove forwards under a runtime check: the fresh recomputation
// stays, its result is compared against the captured copy, a mismatch
// throws and agreement takes the copy.
func (self *Engine) assertAndMove(tb *ir.BasicBlock, te *ir.Entry, t ir.Reg, dest ir.Reg, mv *ir.Instruction) {
    ifne := tb.InsertAfter(te, ir.NewInsn(ir.OpIfNe).SetSrcs(t, dest))
    cont := self.cfg.SplitBlock(tb, ifne)
    cont.PushFront(mv)

    z := self.cfg.AllocTemp()
    crash := self.cfg.AllocBlock()
    crash.PushBack(ir.NewInsn(ir.OpConst).SetDest(z).SetLiteral(0))
    crash.PushBack(ir.NewInsn(ir.OpThrow).SetSrcs(z))

    self.cfg.AddBranchEdge(tb, crash, 1)
    self.cfg.AddGotoEdge(tb, cont)
}

func (self *Engine) cutBranch(c _Cut) {
    self.cfg.RemoveInsn(c.block, c.entry)
    if c.taken == nil {
        return
    }
    if e := c.block.GotoEdge(); e != nil {
        self.cfg.RedirectEdge(e, c.taken)
    }
}

// refineUnbox narrows an abstract Number unbox to the receiver's own
// wrapper: a check-cast pins the type in a fresh register and the
// invoke retargets the concrete method.
func (self *Engine) refineUnbox(c _Cast) {
    t := self.cfg.AllocTemp()
    recv := c.entry.Insn.Src(0)
    c.block.InsertBefore(c.entry, ir.NewInsn(ir.OpCheckCast).SetType(c.pair.wrapper).SetSrcs(recv))
    c.block.InsertBefore(c.entry, ir.NewInsn(ir.OpMoveResultPseudoObject).SetDest(t))
    c.entry.Insn.SetMethod(c.pair.unbox).SetSrc(0, t)
}

func moveOpFor(kind _VKind) ir.Op {
    switch kind {
        case _KWide   : return ir.OpMoveWide
        case _KObject : return ir.OpMoveObject
        default       : return ir.OpMove
    }
}
