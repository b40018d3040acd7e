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
    `github.com/bytedance/dexter/internal/ir`
)

// ConstFoldStats counts what one Apply changed.
type ConstFoldStats struct {
    FoldedOps      int
    FoldedBranches int
    ClassInits     int
    RemovedInsns   int
}

func (self *ConstFoldStats) Add(other ConstFoldStats) {
    self.FoldedOps += other.FoldedOps
    self.FoldedBranches += other.FoldedBranches
    self.ClassInits += other.ClassInits
    self.RemovedInsns += other.RemovedInsns
}

type _FoldKind uint8

const (
    _FoldInPlace _FoldKind = iota
    _FoldProducer
    _FoldBranch
)

type _Fold struct {
    kind  _FoldKind
    entry *ir.Entry
    val   int64
    wide  bool
    taken *ir.BasicBlock /* surviving branch target, nil for fallthrough */
}

// Apply rewrites the graph along the analysis: instructions that compute
// constants become const loads, decided conditionals become gotos, and
// blocks those cuts strand are dropped. The graph must be editable.
func (self *ConstantPropagation) Apply() ConstFoldStats {
    var stats ConstFoldStats
    for _, b := range self.cfg.Blocks() {
        if b.IsGhost() || self.EntryState(b).IsBottom() {
            continue
        }
        for _, d := range self.plan(b) {
            self.fold(b, d, &stats)
        }
    }
    stats.RemovedInsns = self.cfg.RemoveUnreachable()
    return stats
}

/* one pass over the block decides every rewrite before anything moves */
func (self *ConstantPropagation) plan(b *ir.BasicBlock) []_Fold {
    var out []_Fold
    env := self.EntryState(b)

    b.ForEachEntry(func(e *ir.Entry) bool {
        if e.Kind() != ir.EntryInsn {
            return true
        }
        p := e.Insn
        self.flow.apply(p, env)
        if d, ok := self.planInsn(e, p, env); ok {
            out = append(out, d)
        }
        return true
    })

    if d, ok := self.planBranch(b, env); ok {
        out = append(out, d)
    }
    return out
}

func (self *ConstantPropagation) planInsn(e *ir.Entry, p *ir.Instruction, env *ConstEnv) (_Fold, bool) {
    op := p.Op()
    switch op.Fam() {
        case ir.FamUnop, ir.FamCmp:
            return self.planDest(e, p, env)

        case ir.FamMove:
            if op == ir.OpMoveObject || op == ir.OpMoveObjectFrom16 || op == ir.OpMoveObject16 {
                return _Fold{}, false
            }
            return self.planDest(e, p, env)

        case ir.FamBinop, ir.FamBinopLit:
            if op.HasDest() {
                return self.planDest(e, p, env)
            }
            return self.planProducer(e, p, env)

        case ir.FamSGet:
            return self.planProducer(e, p, env)

        default:
            return _Fold{}, false
    }
}

func (self *ConstantPropagation) planDest(e *ir.Entry, p *ir.Instruction, env *ConstEnv) (_Fold, bool) {
    v := env.Get(p.Dest())
    if !v.IsConst() {
        return _Fold{}, false
    }
    return _Fold {
        kind  : _FoldInPlace,
        entry : e,
        val   : v.Value(),
        wide  : p.DestIsWide(),
    }, true
}

func (self *ConstantPropagation) planProducer(e *ir.Entry, p *ir.Instruction, env *ConstEnv) (_Fold, bool) {
    if !env.res.IsConst() {
        return _Fold{}, false
    }
    return _Fold {
        kind  : _FoldProducer,
        entry : e,
        val   : env.res.Value(),
    }, true
}

func (self *ConstantPropagation) planBranch(b *ir.BasicBlock, env *ConstEnv) (_Fold, bool) {
    last := b.LastInsn()
    if last == nil || env.IsBottom() {
        return _Fold{}, false
    }

    p := last.Insn
    switch p.Op().Fam() {
        case ir.FamIf:
            va := env.Get(p.Src(0))
            vb := ConstOf(0)
            if p.SrcCount() > 1 {
                vb = env.Get(p.Src(1))
            }
            switch evalIf(p.Op(), va, vb) {
                case _TriTrue:
                    if es := b.BranchEdges(); len(es) == 1 {
                        return _Fold { kind: _FoldBranch, entry: last, taken: es[0].Dst() }, true
                    }
                case _TriFalse:
                    return _Fold { kind: _FoldBranch, entry: last }, true
            }

        case ir.FamSwitch:
            v := env.Get(p.Src(0))
            if !v.IsConst() {
                return _Fold{}, false
            }
            d := _Fold { kind: _FoldBranch, entry: last }
            for _, e := range b.BranchEdges() {
                if int64(e.CaseKey()) == v.Value() {
                    d.taken = e.Dst()
                    break
                }
            }
            return d, true
    }
    return _Fold{}, false
}

func (self *ConstantPropagation) fold(b *ir.BasicBlock, d _Fold, stats *ConstFoldStats) {
    switch d.kind {
        case _FoldInPlace:
            self.foldInPlace(d)
            stats.FoldedOps++
        case _FoldProducer:
            stats.FoldedOps++
            if init := self.foldProducer(b, d); init {
                stats.ClassInits++
            }
        case _FoldBranch:
            self.foldBranch(b, d)
            stats.FoldedBranches++
    }
}

func constOpFor(wide bool) ir.Op {
    if wide {
        return ir.OpConstWide
    }
    return ir.OpConst
}

func (self *ConstantPropagation) foldInPlace(d _Fold) {
    d.entry.Insn.
        SetOp(constOpFor(d.wide)).
        SetSrcs().
        SetLiteral(d.val)
}

/*
 * A producer writes through its move-result-pseudo, so the constant lands
 * there; the producer itself either vanishes or, for a static read whose
 * class initializer is observable, degrades to a bare init-class.
 */
func (self *ConstantPropagation) foldProducer(b *ir.BasicBlock, d _Fold) bool {
    p := d.entry.Insn
    _, me := self.cfg.MoveResultOf(b, d.entry)
    if me == nil {
        return false
    }

    me.Insn.
        SetOp(constOpFor(me.Insn.DestIsWide())).
        SetSrcs().
        SetLiteral(d.val)

    if p.Op().Fam() == ir.FamSGet {
        cls := p.Field().Class()
        if !self.flow.summary.PureInit(cls) {
            p.SetOp(ir.OpInitClass).SetSrcs().SetField(nil).SetType(cls)
            return true
        }
    }
    self.cfg.RemoveInsn(b, d.entry)
    return false
}

func (self *ConstantPropagation) foldBranch(b *ir.BasicBlock, d _Fold) {
    self.cfg.RemoveInsn(b, d.entry)
    if d.taken != nil {
        self.cfg.RedirectEdge(b.GotoEdge(), d.taken)
    }
}
