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
    `fmt`

    `github.com/bytedance/dexter/internal/fixpoint`
    `github.com/bytedance/dexter/internal/ir`
)

// Engine runs the value numbering fixpoint over one method's graph and
// holds the forwarding plan the replay collected. Apply spends the plan.
type Engine struct {
    shared *SharedState
    cfg    *ir.CFG
    flow   *_ValueFlow
    iter   *fixpoint.Iterator
    rec    *_Recorder
}

// _Def anchors one materialization of a value: the entry whose register
// holds it right after (or, for before captures, right until) the
// anchor runs.
type _Def struct {
    block  *ir.BasicBlock
    at     *ir.Entry
    reg    ir.Reg
    before bool
    insn   *ir.Instruction
}

// _Use is one recomputation of an available value, forwardable from the
// defining anchors. arr names the array whose length the use derives,
// when it is not a plain table hit.
type _Use struct {
    block *ir.BasicBlock
    entry *ir.Entry
    id    uint64
    arr   uint64
}

// _Cut is a conditional both of whose operands carry one value id: the
// comparison is decided, taken names the surviving branch side, nil the
// fallthrough.
type _Cut struct {
    block *ir.BasicBlock
    entry *ir.Entry
    taken *ir.BasicBlock
}

// _Cast is an abstract Number unbox whose receiver is a known box,
// refinable to the wrapper's own unbox.
type _Cast struct {
    block *ir.BasicBlock
    entry *ir.Entry
    pair  *_BoxPair
}

type _Recorder struct {
    cfg    *ir.CFG
    flow   *_ValueFlow
    block  *ir.BasicBlock
    entry  *ir.Entry
    defs   map[uint64][]_Def
    poison map[uint64]bool
    newarr map[uint64]_Def
    uses   []_Use
    cuts   []_Cut
    casts  []_Cast
}

func newRecorder(cfg *ir.CFG, flow *_ValueFlow) *_Recorder {
    return &_Recorder {
        cfg    : cfg,
        flow   : flow,
        defs   : make(map[uint64][]_Def),
        poison : make(map[uint64]bool),
        newarr : make(map[uint64]_Def),
    }
}

// def anchors a first materialization. A producer whose result is never
// moved anywhere leaves nothing to capture, the id is poisoned instead.
func (self *_Recorder) def(p *ir.Instruction, id uint64) {
    if self.poison[id] {
        return
    }
    if !p.Op().HasMoveResult() {
        self.defs[id] = append(self.defs[id], _Def { block: self.block, at: self.entry, reg: p.Dest(), insn: p })
        return
    }
    mb, me := self.cfg.MoveResultOf(self.block, self.entry)
    if me == nil {
        self.poison[id] = true
        return
    }
    self.defs[id] = append(self.defs[id], _Def { block: mb, at: me, reg: me.Insn.Dest(), insn: p })
}

func (self *_Recorder) hit(p *ir.Instruction, id uint64, env *_VnEnv) {
    /* a plain const already is the cheapest producer of its value, there
     * is nothing to forward over it */
    if p.Op().Fam() == ir.FamConst {
        return
    }
    if !self.alreadyForwarded(p, id, env) {
        self.uses = append(self.uses, _Use { block: self.block, entry: self.entry, id: id })
    }
}

func (self *_Recorder) derived(p *ir.Instruction, id uint64, arr uint64, env *_VnEnv) {
    if !self.alreadyForwarded(p, id, env) {
        self.uses = append(self.uses, _Use { block: self.block, entry: self.entry, id: id, arr: arr })
    }
}

// alreadyForwarded recognizes the pattern a previous run left behind: the
// recomputation's landing register is overwritten right away by a move of
// this very value, or re-cloned by the constant it names. Skipping those
// keeps reruns from stacking copies onto forwarded sites.
func (self *_Recorder) alreadyForwarded(p *ir.Instruction, id uint64, env *_VnEnv) bool {
    te := self.entry
    if p.Op().HasMoveResult() {
        if _, te = self.cfg.MoveResultOf(self.block, te); te == nil {
            return false
        }
    }

    nx := te.Next()
    if nx != nil {
        nx = nx.NextInsn()
    }
    if nx == nil || nx.Insn.Dest() != te.Insn.Dest() {
        return false
    }

    q := nx.Insn
    switch q.Op().Fam() {
        case ir.FamMove:
            return env.regs[q.Src(0)] == id
        case ir.FamConst:
            tag := "const"
            if q.Op().DestIsWide() {
                tag = "const-wide"
            }
            return self.flow.keyvals[fmt.Sprintf("%s:%d", tag, q.Literal())] == id
        default:
            return false
    }
}

// newArray remembers where an array was made, so a derived length with
// no live definition can still capture the length operand right before
// the allocation consumes it.
func (self *_Recorder) newArray(p *ir.Instruction, id uint64) {
    if _, ok := self.newarr[id]; !ok {
        self.newarr[id] = _Def { block: self.block, at: self.entry, reg: p.Src(0), insn: p, before: true }
    }
}

// cast records an abstract unbox refinement. Inserting the check-cast
// inside a try region would add a throw edge the region never had, such
// sites stay untouched.
func (self *_Recorder) cast(p *ir.Instruction, pair *_BoxPair) {
    if !self.block.InTry() {
        self.casts = append(self.casts, _Cast { block: self.block, entry: self.entry, pair: pair })
    }
}

// NewEngine runs the fixpoint and the replay over a built editable
// graph. maxIter caps the rounds per loop component, non-positive picks
// the default.
func NewEngine(shared *SharedState, cfg *ir.CFG, maxIter int) *Engine {
    flow := newValueFlow(shared, cfg)
    self := &Engine {
        cfg    : cfg,
        flow   : flow,
        shared : shared,
        iter   : fixpoint.NewIterator(fixpoint.ForwardCFG(cfg), flow),
    }
    self.iter.Run(maxIter)
    self.replay()
    return self
}

// Unstable reports whether some loop hit the iteration cap before the
// availability settled. The plan stays sound, hits only ever see what
// every round agreed on.
func (self *Engine) Unstable() bool {
    return self.iter.Unstable()
}

// Overflowed reports whether the method touched locations beyond the
// tracked bit budget, costing precision but not soundness.
func (self *Engine) Overflowed() bool {
    return self.flow.overflow
}

// replay walks every reachable block once over the settled pre-states,
// recording definitions, forwardable hits and decided conditionals.
func (self *Engine) replay() {
    rec := newRecorder(self.cfg, self.flow)
    self.rec = rec
    self.flow.rec = rec

    for _, b := range self.cfg.Blocks() {
        if b.IsGhost() {
            continue
        }
        pre := self.iter.PreOf(b.Id).(*_VnEnv)
        if pre.IsBottom() {
            continue
        }
        env := pre.Clone()
        b.ForEachEntry(func(e *ir.Entry) bool {
            if e.Kind() == ir.EntryInsn {
                rec.block, rec.entry = b, e
                self.flow.apply(e.Insn, env)
            }
            return true
        })
        self.checkBranch(b, env)
    }
    self.flow.rec = nil
}

// checkBranch peeks at a two register conditional whose operands carry
// one value id: identical bits decide every comparison. eq, ge and le
// take the branch, ne, lt and gt fall through.
func (self *Engine) checkBranch(b *ir.BasicBlock, env *_VnEnv) {
    last := b.LastInsn()
    if last == nil || last.Insn.Op().Fam() != ir.FamIf || last.Insn.Op().IsZeroTest() {
        return
    }

    p := last.Insn
    x, okx := env.regs[p.Src(0)]
    y, oky := env.regs[p.Src(1)]
    if !okx || !oky || x != y {
        return
    }

    taken := false
    switch p.Op() {
        case ir.OpIfEq, ir.OpIfGe, ir.OpIfLe:
            taken = true
    }

    var target *ir.BasicBlock
    if taken {
        es := b.BranchEdges()
        if len(es) != 1 {
            return
        }
        target = es[0].Dst()
    }
    self.rec.cuts = append(self.rec.cuts, _Cut { block: b, entry: last, taken: target })
}
