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

type _InsnSet map[*ir.Instruction]struct{}

func (self _InsnSet) clone() _InsnSet {
    ret := make(_InsnSet, len(self))
    for p := range self {
        ret[p] = struct{}{}
    }
    return ret
}

func (self _InsnSet) subset(other _InsnSet) bool {
    for p := range self {
        if _, ok := other[p]; !ok {
            return false
        }
    }
    return true
}

// DefEnv maps every register to the set of instructions that may have
// written it last. The pending result of a producer rides in a separate
// slot until the matching move-result claims it.
type DefEnv struct {
    bot  bool
    res  _InsnSet
    regs map[ir.Reg]_InsnSet
}

func NewDefEnv() *DefEnv {
    return &DefEnv { regs: make(map[ir.Reg]_InsnSet) }
}

// DefsOf returns the instructions that may define r at this point, in
// no particular order.
func (self *DefEnv) DefsOf(r ir.Reg) []*ir.Instruction {
    ret := make([]*ir.Instruction, 0, len(self.regs[r]))
    for p := range self.regs[r] {
        ret = append(ret, p)
    }
    return ret
}

// SoleDefOf returns the unique definition of r, or nil if there is none
// or more than one.
func (self *DefEnv) SoleDefOf(r ir.Reg) *ir.Instruction {
    if len(self.regs[r]) != 1 {
        return nil
    }
    for p := range self.regs[r] {
        return p
    }
    return nil
}

func (self *DefEnv) set(r ir.Reg, ds _InsnSet) {
    if len(ds) == 0 {
        delete(self.regs, r)
    } else {
        self.regs[r] = ds
    }
}

func (self *DefEnv) Clone() *DefEnv {
    ret := &DefEnv {
        bot  : self.bot,
        res  : self.res,
        regs : make(map[ir.Reg]_InsnSet, len(self.regs)),
    }
    for r, ds := range self.regs {
        ret.regs[r] = ds.clone()
    }
    return ret
}

/** Domain Interface **/

func (self *DefEnv) IsBottom() bool { return self.bot }
func (self *DefEnv) IsTop() bool    { return false }

func (self *DefEnv) Leq(other fixpoint.Domain) bool {
    rhs := other.(*DefEnv)
    if self.bot {
        return true
    }
    if rhs.bot {
        return false
    }
    if !self.res.subset(rhs.res) {
        return false
    }
    for r, ds := range self.regs {
        if !ds.subset(rhs.regs[r]) {
            return false
        }
    }
    return true
}

func (self *DefEnv) Equals(other fixpoint.Domain) bool {
    return self.Leq(other) && other.Leq(self)
}

func (self *DefEnv) Join(other fixpoint.Domain) fixpoint.Domain {
    rhs := other.(*DefEnv)
    if self.bot {
        return rhs.Clone()
    }
    if rhs.bot {
        return self.Clone()
    }
    ret := self.Clone()
    for p := range rhs.res {
        if ret.res == nil {
            ret.res = make(_InsnSet)
        }
        ret.res[p] = struct{}{}
    }
    for r, ds := range rhs.regs {
        nv := ret.regs[r]
        if nv == nil {
            nv = make(_InsnSet, len(ds))
            ret.regs[r] = nv
        }
        for p := range ds {
            nv[p] = struct{}{}
        }
    }
    return ret
}

// Widen joins: the def sets are bounded by the instruction count.
func (self *DefEnv) Widen(other fixpoint.Domain) fixpoint.Domain {
    return self.Join(other)
}

func (self *DefEnv) Meet(other fixpoint.Domain) fixpoint.Domain {
    rhs := other.(*DefEnv)
    if self.bot || rhs.bot {
        return &DefEnv { bot: true }
    }
    ret := NewDefEnv()
    for p := range self.res {
        if _, ok := rhs.res[p]; ok {
            if ret.res == nil {
                ret.res = make(_InsnSet)
            }
            ret.res[p] = struct{}{}
        }
    }
    for r, ds := range self.regs {
        nv := make(_InsnSet)
        for p := range ds {
            if _, ok := rhs.regs[r][p]; ok {
                nv[p] = struct{}{}
            }
        }
        ret.set(r, nv)
    }
    return ret
}

func (self *DefEnv) Narrow(other fixpoint.Domain) fixpoint.Domain {
    return self.Meet(other)
}

// ReachingDefs computes which instructions may define each register at
// each program point. The move-aware flavor threads def sets through
// moves and move-results, so a query lands on the producing instruction
// rather than the copy.
type ReachingDefs struct {
    cfg  *ir.CFG
    flow *_DefFlow
    it   *fixpoint.Iterator
}

type _DefFlow struct {
    cfg       *ir.CFG
    moveAware bool
}

func AnalyzeReachingDefs(cfg *ir.CFG, moveAware bool) *ReachingDefs {
    flow := &_DefFlow { cfg: cfg, moveAware: moveAware }
    it := fixpoint.NewIterator(fixpoint.ForwardCFG(cfg), flow)
    it.Run(0)
    return &ReachingDefs {
        cfg  : cfg,
        flow : flow,
        it   : it,
    }
}

func (self *_DefFlow) Bottom() fixpoint.Domain {
    return &DefEnv { bot: true }
}

func (self *_DefFlow) Entry() fixpoint.Domain {
    return NewDefEnv()
}

func (self *_DefFlow) AnalyzeEdge(_ fixpoint.Edge, post fixpoint.Domain) fixpoint.Domain {
    return post
}

func (self *_DefFlow) AnalyzeNode(node int, pre fixpoint.Domain) fixpoint.Domain {
    env := pre.(*DefEnv).Clone()
    if env.bot {
        return env
    }
    self.cfg.Block(node).ForEachInsn(func(p *ir.Instruction) bool {
        self.apply(p, env)
        return true
    })
    return env
}

func (self *_DefFlow) apply(p *ir.Instruction, env *DefEnv) {
    op := p.Op()
    switch {
        case op.HasMoveResult() || op.HasMoveResultPseudo():
            env.res = _InsnSet { p: {} }
        case op.IsMoveResult() || op.Fam() == ir.FamMoveResultPseudo:
            if self.moveAware && env.res != nil {
                env.set(p.Dest(), env.res.clone())
            } else {
                env.set(p.Dest(), _InsnSet { p: {} })
            }
            env.res = nil
            return
        case op.IsMove():
            if self.moveAware {
                if ds := env.regs[p.Src(0)]; ds != nil {
                    env.set(p.Dest(), ds.clone())
                } else {
                    env.set(p.Dest(), _InsnSet { p: {} })
                }
            } else {
                env.set(p.Dest(), _InsnSet { p: {} })
            }
            return
    }
    if op.HasDest() {
        env.set(p.Dest(), _InsnSet { p: {} })
    }
}

// EntryState is the def environment at block entry, caller owned.
func (self *ReachingDefs) EntryState(b *ir.BasicBlock) *DefEnv {
    return self.it.PreOf(b.Id).(*DefEnv).Clone()
}

// ExitState is the def environment after the block's last instruction.
func (self *ReachingDefs) ExitState(b *ir.BasicBlock) *DefEnv {
    return self.it.PostOf(b.Id).(*DefEnv).Clone()
}

// Step advances a state over one instruction in place.
func (self *ReachingDefs) Step(env *DefEnv, p *ir.Instruction) {
    self.flow.apply(p, env)
}

// ForEachState replays one block, handing out the environment right
// before each instruction. Reused between calls, clone to retain.
func (self *ReachingDefs) ForEachState(b *ir.BasicBlock, fn func(*ir.Instruction, *DefEnv) bool) {
    env := self.EntryState(b)
    b.ForEachInsn(func(p *ir.Instruction) bool {
        if !fn(p, env) {
            return false
        }
        self.flow.apply(p, env)
        return true
    })
}
