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
    `fmt`

    `github.com/bytedance/dexter/internal/fixpoint`
    `github.com/bytedance/dexter/internal/ir`
)

// InitMode selects which values the initialization analysis follows.
type InitMode uint8

const (
    // InitFirstLoadParam tracks the receiver of a constructor, which is
    // uninitialized until this(...) or super(...) runs.
    InitFirstLoadParam InitMode = 1 << iota

    // InitNewInstance tracks new-instance results, uninitialized until
    // some <init> is invoked on them.
    InitNewInstance
)

// InitError reports a use of an object before its constructor ran.
type InitError struct {
    Method *ir.MethodRef
    Reg    ir.Reg
    Insn   *ir.Instruction
}

func (self *InitError) Error() string {
    return fmt.Sprintf("init check of %s failed: register v%d holds an uninitialized object in '%s'",
        self.Method.Key(), self.Reg, self.Insn)
}

/* per register state, flat lattice over allocation sites */

type _InitVal struct {
    kind _InitKind
    site *ir.Instruction /* load-param or new-instance */
}

type _InitKind uint8

const (
    _InitBottom _InitKind = iota
    _InitUninit
    _InitDone
    _InitTop
)

var _InitDoneVal = _InitVal { kind: _InitDone }

func initJoin(a _InitVal, b _InitVal) _InitVal {
    switch {
        case a.kind == _InitBottom : return b
        case b.kind == _InitBottom : return a
        case a == b                : return a
        default                    : return _InitVal { kind: _InitTop }
    }
}

func initLeq(a _InitVal, b _InitVal) bool {
    switch {
        case a.kind == _InitBottom : return true
        case b.kind == _InitTop    : return true
        default                    : return a == b
    }
}

// InitEnv maps registers to their initialization state. Registers not in
// the map hold ordinary, fully initialized values.
type InitEnv struct {
    bot  bool
    res  _InitVal
    regs map[ir.Reg]_InitVal
}

func NewInitEnv() *InitEnv {
    return &InitEnv { res: _InitDoneVal, regs: make(map[ir.Reg]_InitVal) }
}

func (self *InitEnv) get(r ir.Reg) _InitVal {
    if v, ok := self.regs[r]; ok {
        return v
    }
    return _InitDoneVal
}

func (self *InitEnv) set(r ir.Reg, v _InitVal) {
    if v.kind == _InitDone {
        delete(self.regs, r)
    } else {
        self.regs[r] = v
    }
}

// Initialized reports whether r is safe to use at this point.
func (self *InitEnv) Initialized(r ir.Reg) bool {
    return self.get(r).kind == _InitDone
}

func (self *InitEnv) Clone() *InitEnv {
    ret := &InitEnv {
        bot  : self.bot,
        res  : self.res,
        regs : make(map[ir.Reg]_InitVal, len(self.regs)),
    }
    for r, v := range self.regs {
        ret.regs[r] = v
    }
    return ret
}

/** Domain Interface **/

func (self *InitEnv) IsBottom() bool { return self.bot }
func (self *InitEnv) IsTop() bool    { return false }

func (self *InitEnv) Leq(other fixpoint.Domain) bool {
    rhs := other.(*InitEnv)
    if self.bot {
        return true
    }
    if rhs.bot {
        return false
    }
    if !initLeq(self.res, rhs.res) {
        return false
    }
    for r, v := range self.regs {
        if !initLeq(v, rhs.get(r)) {
            return false
        }
    }
    for r, v := range rhs.regs {
        if _, ok := self.regs[r]; !ok {
            if !initLeq(_InitDoneVal, v) {
                return false
            }
        }
    }
    return true
}

func (self *InitEnv) Equals(other fixpoint.Domain) bool {
    return self.Leq(other) && other.Leq(self)
}

func (self *InitEnv) Join(other fixpoint.Domain) fixpoint.Domain {
    rhs := other.(*InitEnv)
    if self.bot {
        return rhs.Clone()
    }
    if rhs.bot {
        return self.Clone()
    }
    ret := NewInitEnv()
    ret.res = initJoin(self.res, rhs.res)
    for r, v := range self.regs {
        ret.set(r, initJoin(v, rhs.get(r)))
    }
    for r, v := range rhs.regs {
        if _, ok := self.regs[r]; !ok {
            ret.set(r, initJoin(_InitDoneVal, v))
        }
    }
    return ret
}

// Widen joins: the lattice is flat over finitely many sites.
func (self *InitEnv) Widen(other fixpoint.Domain) fixpoint.Domain {
    return self.Join(other)
}

func (self *InitEnv) Meet(other fixpoint.Domain) fixpoint.Domain {
    rhs := other.(*InitEnv)
    if self.bot || rhs.bot {
        return &InitEnv { bot: true }
    }
    ret := NewInitEnv()
    for r, v := range self.regs {
        w := rhs.get(r)
        switch {
            case v == w             : ret.set(r, v)
            case v.kind == _InitTop : ret.set(r, w)
            case w.kind == _InitTop : ret.set(r, v)
            default                 : ret.set(r, _InitVal { kind: _InitBottom })
        }
    }
    for r, v := range rhs.regs {
        if _, ok := self.regs[r]; !ok {
            ret.set(r, v)
        }
    }
    return ret
}

func (self *InitEnv) Narrow(other fixpoint.Domain) fixpoint.Domain {
    return self.Meet(other)
}

// Initialized tracks which registers hold objects whose constructor has
// run, and enforces the uses the verifier allows before that: aliasing
// moves and the <init> invocation itself.
type Initialized struct {
    cfg  *ir.CFG
    flow *_InitFlow
    it   *fixpoint.Iterator
}

type _InitFlow struct {
    cfg  *ir.CFG
    mth  *ir.MethodRef
    mode InitMode
}

func AnalyzeInitialized(mth *ir.MethodRef, cfg *ir.CFG, mode InitMode) *Initialized {
    flow := &_InitFlow { cfg: cfg, mth: mth, mode: mode }
    it := fixpoint.NewIterator(fixpoint.ForwardCFG(cfg), flow)
    it.Run(0)
    return &Initialized {
        cfg  : cfg,
        flow : flow,
        it   : it,
    }
}

func (self *_InitFlow) Bottom() fixpoint.Domain {
    return &InitEnv { bot: true }
}

func (self *_InitFlow) Entry() fixpoint.Domain {
    return NewInitEnv()
}

func (self *_InitFlow) AnalyzeEdge(_ fixpoint.Edge, post fixpoint.Domain) fixpoint.Domain {
    return post
}

func (self *_InitFlow) AnalyzeNode(node int, pre fixpoint.Domain) fixpoint.Domain {
    env := pre.(*InitEnv).Clone()
    if env.bot {
        return env
    }
    first := true
    entry := node == self.cfg.Entry().Id
    self.cfg.Block(node).ForEachInsn(func(p *ir.Instruction) bool {
        self.apply(p, env, entry && first)
        first = false
        return true
    })
    return env
}

func isInitInvoke(p *ir.Instruction) bool {
    op := p.Op()
    if op != ir.OpInvokeDirect && op != ir.OpInvokeDirectRange {
        return false
    }
    return p.Method() != nil && p.Method().Name() == "<init>"
}

func (self *_InitFlow) apply(p *ir.Instruction, env *InitEnv, entryHead bool) {
    op := p.Op()
    switch {
        case op == ir.OpLoadParamObject:
            if entryHead && self.mode & InitFirstLoadParam != 0 && self.mth.IsInit() {
                env.set(p.Dest(), _InitVal { kind: _InitUninit, site: p })
            } else {
                env.set(p.Dest(), _InitDoneVal)
            }
        case op == ir.OpNewInstance:
            if self.mode & InitNewInstance != 0 {
                env.res = _InitVal { kind: _InitUninit, site: p }
            } else {
                env.res = _InitDoneVal
            }
        case isInitInvoke(p) && p.SrcCount() > 0:
            /* constructing v initializes every alias of its site */
            if v := env.get(p.Src(0)); v.kind == _InitUninit {
                for r, w := range env.regs {
                    if w.kind == _InitUninit && w.site == v.site {
                        env.set(r, _InitDoneVal)
                    }
                }
            }
            env.res = _InitDoneVal
        case op.HasMoveResult() || op.HasMoveResultPseudo():
            env.res = _InitDoneVal
        case op.IsMoveResult() || op.Fam() == ir.FamMoveResultPseudo:
            env.set(p.Dest(), env.res)
            env.res = _InitDoneVal
        case op == ir.OpMoveObject || op == ir.OpMoveObjectFrom16 || op == ir.OpMoveObject16:
            env.set(p.Dest(), env.get(p.Src(0)))
        default:
            if op.HasDest() {
                env.set(p.Dest(), _InitDoneVal)
            }
    }
}

// EntryState is the environment at block entry, caller owned.
func (self *Initialized) EntryState(b *ir.BasicBlock) *InitEnv {
    return self.it.PreOf(b.Id).(*InitEnv).Clone()
}

// ForEachState replays one block, handing out the environment right
// before each instruction. Reused between calls, clone to retain.
func (self *Initialized) ForEachState(b *ir.BasicBlock, fn func(*ir.Instruction, *InitEnv) bool) {
    env := self.EntryState(b)
    first := true
    entry := b.Id == self.cfg.Entry().Id
    b.ForEachInsn(func(p *ir.Instruction) bool {
        if !fn(p, env) {
            return false
        }
        self.flow.apply(p, env, entry && first)
        first = false
        return true
    })
}

// CheckInit verifies that uninitialized objects only flow into aliasing
// moves and their own <init> call. The first violation is returned.
func CheckInit(mth *ir.MethodRef, mode InitMode) error {
    code := mth.Code()
    if code == nil {
        return nil
    }

    cfg := code.BuildCFG(false, true)
    defer code.ClearCFG()
    na := AnalyzeInitialized(mth, cfg, mode)

    var fail *InitError
    for _, b := range cfg.Blocks() {
        if fail != nil {
            break
        }
        na.ForEachState(b, func(p *ir.Instruction, env *InitEnv) bool {
            if r, bad := uninitUse(p, env); bad {
                fail = &InitError { Method: mth, Reg: r, Insn: p }
                return false
            }
            return true
        })
    }

    if fail != nil {
        return fail
    }
    return nil
}

/* a use is fine if the op aliases, or if it is the <init> receiver */
func uninitUse(p *ir.Instruction, env *InitEnv) (ir.Reg, bool) {
    op := p.Op()
    if op == ir.OpMoveObject || op == ir.OpMoveObjectFrom16 || op == ir.OpMoveObject16 {
        return 0, false
    }
    for i, r := range p.Srcs() {
        if env.Initialized(r) {
            continue
        }
        if i == 0 && isInitInvoke(p) {
            continue
        }
        return r, true
    }
    return 0, false
}
