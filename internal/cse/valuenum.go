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

/** Availability Environment **/

// _VnEnv is the per-point state of the value numbering fixpoint: the
// value id each register is known to hold, the set of values available
// for reuse keyed by structure, and the id of a produced but not yet
// materialized result. Availability is a must property, the join
// intersects and the order runs by superset.
type _VnEnv struct {
    bot   bool
    res   uint64
    regs  map[ir.Reg]uint64
    table map[string]uint64
}

func newVnEnv() *_VnEnv {
    return &_VnEnv {
        regs  : make(map[ir.Reg]uint64),
        table : make(map[string]uint64),
    }
}

func (self *_VnEnv) Clone() *_VnEnv {
    ret := &_VnEnv {
        bot   : self.bot,
        res   : self.res,
        regs  : make(map[ir.Reg]uint64, len(self.regs)),
        table : make(map[string]uint64, len(self.table)),
    }
    for r, id := range self.regs {
        ret.regs[r] = id
    }
    for k, id := range self.table {
        ret.table[k] = id
    }
    return ret
}

// invalidate evicts every binding whose id carries a bit of the mask.
// Ids with no location bits name values no heap write can change, they
// survive every barrier.
func (self *_VnEnv) invalidate(mask uint64) {
    for r, id := range self.regs {
        if id&mask != 0 {
            delete(self.regs, r)
        }
    }
    for k, id := range self.table {
        if id&mask != 0 {
            delete(self.table, k)
        }
    }
    if self.res&mask != 0 {
        self.res = 0
    }
}

// dropResult forgets a produced result and the availability it implied.
func (self *_VnEnv) dropResult() {
    for k, id := range self.table {
        if id == self.res {
            delete(self.table, k)
        }
    }
    self.res = 0
}

/** Domain Interface **/

func (self *_VnEnv) IsBottom() bool { return self.bot }

func (self *_VnEnv) IsTop() bool {
    return !self.bot && self.res == 0 && len(self.regs) == 0 && len(self.table) == 0
}

func (self *_VnEnv) Leq(other fixpoint.Domain) bool {
    rhs := other.(*_VnEnv)
    if self.bot {
        return true
    }
    if rhs.bot {
        return false
    }
    for r, id := range rhs.regs {
        if self.regs[r] != id {
            return false
        }
    }
    for k, id := range rhs.table {
        if self.table[k] != id {
            return false
        }
    }
    return rhs.res == 0 || self.res == rhs.res
}

func (self *_VnEnv) Equals(other fixpoint.Domain) bool {
    return self.Leq(other) && other.Leq(self)
}

func (self *_VnEnv) Join(other fixpoint.Domain) fixpoint.Domain {
    rhs := other.(*_VnEnv)
    if self.bot {
        return rhs.Clone()
    }
    if rhs.bot {
        return self.Clone()
    }
    ret := newVnEnv()
    if self.res == rhs.res {
        ret.res = self.res
    }
    for r, id := range self.regs {
        if rhs.regs[r] == id {
            ret.regs[r] = id
        }
    }
    for k, id := range self.table {
        if rhs.table[k] == id {
            ret.table[k] = id
        }
    }
    return ret
}

// Widen joins: ids per key come from a cross round memo, so every chain
// is finite.
func (self *_VnEnv) Widen(other fixpoint.Domain) fixpoint.Domain {
    return self.Join(other)
}

func (self *_VnEnv) Meet(other fixpoint.Domain) fixpoint.Domain {
    rhs := other.(*_VnEnv)
    if self.bot || rhs.bot {
        return &_VnEnv { bot: true }
    }
    ret := self.Clone()
    for r, id := range rhs.regs {
        if old, ok := ret.regs[r]; ok && old != id {
            return &_VnEnv { bot: true }
        }
        ret.regs[r] = id
    }
    for k, id := range rhs.table {
        if old, ok := ret.table[k]; ok && old != id {
            return &_VnEnv { bot: true }
        }
        ret.table[k] = id
    }
    switch {
        case ret.res == 0                       : ret.res = rhs.res
        case rhs.res != 0 && rhs.res != ret.res : return &_VnEnv { bot: true }
    }
    return ret
}

func (self *_VnEnv) Narrow(other fixpoint.Domain) fixpoint.Domain {
    return self.Meet(other)
}

/** Value Kinds **/

type _VKind uint8

const (
    _KNarrow _VKind = iota
    _KWide
    _KObject
)

func kindOfValue(op ir.Op) _VKind {
    if op.DestIsWide() {
        return _KWide
    }
    switch op {
        case ir.OpConstString, ir.OpConstStringJumbo, ir.OpConstClass : return _KObject
        case ir.OpAgetObject, ir.OpIgetObject, ir.OpSgetObject        : return _KObject
        default                                                       : return _KNarrow
    }
}

func kindOfParam(op ir.Op) _VKind {
    switch op {
        case ir.OpLoadParamWide   : return _KWide
        case ir.OpLoadParamObject : return _KObject
        default                   : return _KNarrow
    }
}

func kindOfReturn(m *ir.MethodRef) _VKind {
    t := m.Proto().Ret()
    switch {
        case t.IsWide()      : return _KWide
        case t.IsPrimitive() : return _KNarrow
        default              : return _KObject
    }
}

/** Value Table **/

type _PreKey struct {
    insn *ir.Instruction
    slot int
}

type _BoxSrc struct {
    pair *_BoxPair
    arg  uint64
}

// _ValueFlow owns the value table of one method run: id allocation, the
// transfer function, and the memos that pin ids across rounds. A key
// values to the same id in every round because the memos live outside
// the lattice; the availability table then gates which of those ids may
// actually be reused at a point.
type _ValueFlow struct {
    shared   *SharedState
    cfg      *ir.CFG
    next     uint64
    kinds    map[uint64]_VKind
    keyvals  map[string]uint64
    posvals  map[*ir.Instruction]uint64
    prevals  map[_PreKey]uint64
    lens     map[uint64]uint64
    boxed    map[uint64]_BoxSrc
    unboxed  map[uint64]_BoxSrc
    overflow bool
    rec      *_Recorder
}

func newValueFlow(shared *SharedState, cfg *ir.CFG) *_ValueFlow {
    return &_ValueFlow {
        shared  : shared,
        cfg     : cfg,
        kinds   : make(map[uint64]_VKind),
        keyvals : make(map[string]uint64),
        posvals : make(map[*ir.Instruction]uint64),
        prevals : make(map[_PreKey]uint64),
        lens    : make(map[uint64]uint64),
        boxed   : make(map[uint64]_BoxSrc),
        unboxed : make(map[uint64]_BoxSrc),
    }
}

func (self *_ValueFlow) fresh(bits uint64, kind _VKind) uint64 {
    self.next++
    id := self.next<<_IndexShift | bits
    self.kinds[id] = kind
    return id
}

func (self *_ValueFlow) wideOf(id uint64) bool {
    return self.kinds[id] == _KWide
}

// vidOf is the value id source slot i carries, synthesizing an unnamed
// pre-state value when the register is unknown. The synthesized id is
// memoized per instruction and slot and bound into the environment, so
// later reads of the same untouched register agree.
func (self *_ValueFlow) vidOf(env *_VnEnv, p *ir.Instruction, i int) uint64 {
    r := p.Src(i)
    if id, ok := env.regs[r]; ok {
        return id
    }
    k := _PreKey { insn: p, slot: i }
    id, ok := self.prevals[k]
    if !ok {
        kind := _KNarrow
        if p.SrcIsWide(i) {
            kind = _KWide
        }
        id = self.fresh(0, kind)
        self.prevals[k] = id
    }
    env.regs[r] = id
    return id
}

// positionalOf names a value by the instruction that makes it. Fresh
// identities never merge, two rounds over the same instruction must
// still agree.
func (self *_ValueFlow) positionalOf(p *ir.Instruction, kind _VKind) uint64 {
    if id, ok := self.posvals[p]; ok {
        return id
    }
    id := self.fresh(0, kind)
    self.posvals[p] = id
    return id
}

// valueOf resolves a structural key against the availability table. A
// hit reuses the available id and is recorded as a forwarding
// candidate; a miss values the key and inserts it as newly available.
func (self *_ValueFlow) valueOf(env *_VnEnv, p *ir.Instruction, key string, bits uint64, kind _VKind) uint64 {
    if id, ok := env.table[key]; ok {
        if self.rec != nil {
            self.rec.hit(p, id, env)
        }
        return id
    }
    id, ok := self.keyvals[key]
    if !ok {
        id = self.fresh(bits, kind)
        self.keyvals[key] = id
    }
    env.table[key] = id
    if self.rec != nil {
        self.rec.def(p, id)
    }
    return id
}

// bind writes a value id into a register, clobbering whatever pair a
// wide neighbor overlapped.
func (self *_ValueFlow) bind(env *_VnEnv, r ir.Reg, id uint64, wide bool) {
    if r > 0 {
        if prev, ok := env.regs[r-1]; ok && self.wideOf(prev) {
            delete(env.regs, r-1)
        }
    }
    delete(env.regs, r)
    if wide {
        delete(env.regs, r+1)
    }
    if id != 0 {
        env.regs[r] = id
    }
}

// produce routes a computed id to its destination, the pending result
// slot for instructions materialized by a move-result.
func (self *_ValueFlow) produce(env *_VnEnv, p *ir.Instruction, id uint64) {
    if p.Op().HasMoveResult() {
        env.res = id
    } else {
        self.bind(env, p.Dest(), id, p.Op().DestIsWide())
    }
}

/** Analyzer Interface **/

func (self *_ValueFlow) Bottom() fixpoint.Domain { return &_VnEnv { bot: true } }
func (self *_ValueFlow) Entry() fixpoint.Domain  { return newVnEnv() }

func (self *_ValueFlow) AnalyzeNode(node int, pre fixpoint.Domain) fixpoint.Domain {
    env := pre.(*_VnEnv)
    if env.bot {
        return env
    }
    b := self.cfg.Block(node)
    if b == nil || b.IsGhost() {
        return env
    }
    env = env.Clone()
    b.ForEachInsn(func(p *ir.Instruction) bool {
        self.apply(p, env)
        return true
    })
    return env
}

// AnalyzeEdge undoes the pending result on throw edges. Blocks inside a
// try region end at their first throwing instruction and no throwing
// instruction writes a register directly, so the thrown-past state
// differs from the fallthrough state by the unmaterialized result only.
func (self *_ValueFlow) AnalyzeEdge(edge fixpoint.Edge, post fixpoint.Domain) fixpoint.Domain {
    env := post.(*_VnEnv)
    e := fixpoint.CFGEdge(edge)
    if e == nil || e.Kind() != ir.EdgeThrow || env.bot || env.res == 0 {
        return env
    }
    env = env.Clone()
    env.dropResult()
    return env
}

/** Transfer Function **/

func (self *_ValueFlow) apply(p *ir.Instruction, env *_VnEnv) {
    op := p.Op()
    switch op.Fam() {
        case ir.FamNop, ir.FamGoto, ir.FamIf, ir.FamSwitch, ir.FamReturn, ir.FamThrow, ir.FamUnreachable:
            /* moves no values around */

        case ir.FamLoadParam:
            self.bind(env, p.Dest(), self.positionalOf(p, kindOfParam(op)), op.DestIsWide())

        case ir.FamMove:
            self.bind(env, p.Dest(), self.vidOf(env, p, 0), op.DestIsWide())

        case ir.FamMoveResult, ir.FamMoveResultPseudo:
            id := env.res
            env.res = 0
            self.bind(env, p.Dest(), id, op.DestIsWide())

        case ir.FamMoveException:
            self.bind(env, p.Dest(), self.positionalOf(p, _KObject), false)

        case ir.FamConst:
            tag, kind := "const", _KNarrow
            if op.DestIsWide() {
                tag, kind = "const-wide", _KWide
            }
            id := self.valueOf(env, p, fmt.Sprintf("%s:%d", tag, p.Literal()), 0, kind)
            self.bind(env, p.Dest(), id, op.DestIsWide())

        case ir.FamConstString:
            env.res = self.valueOf(env, p, fmt.Sprintf("str:%q", p.Str().Raw()), 0, _KObject)

        case ir.FamConstClass:
            env.res = self.valueOf(env, p, "class:"+p.Typ().Name(), 0, _KObject)

        case ir.FamCheckCast:
            /* a cast refines the type, the value passes through */
            env.res = self.vidOf(env, p, 0)

        case ir.FamInstanceOf:
            id := self.vidOf(env, p, 0)
            env.res = self.valueOf(env, p, fmt.Sprintf("instance-of:%s:%d", p.Typ().Name(), id), 0, _KNarrow)

        case ir.FamArrayLength:
            self.applyArrayLength(p, env)

        case ir.FamNewInstance, ir.FamFilledNewArray:
            env.res = self.positionalOf(p, _KObject)

        case ir.FamNewArray:
            l := self.vidOf(env, p, 0)
            id := self.positionalOf(p, _KObject)
            self.lens[id] = l
            if self.rec != nil {
                self.rec.newArray(p, id)
            }
            env.res = id

        case ir.FamFillArrayData:
            env.invalidate(self.shared.arrayWriteMask())

        case ir.FamMonitor, ir.FamInitClass:
            env.invalidate(_BarrierMask)

        case ir.FamCmp:
            x, y := self.vidOf(env, p, 0), self.vidOf(env, p, 1)
            id := self.valueOf(env, p, fmt.Sprintf("%s:%d,%d", op, x, y), 0, _KNarrow)
            self.bind(env, p.Dest(), id, false)

        case ir.FamUnop:
            x := self.vidOf(env, p, 0)
            id := self.valueOf(env, p, fmt.Sprintf("%s:%d", op, x), 0, kindOfValue(op))
            self.bind(env, p.Dest(), id, op.DestIsWide())

        case ir.FamBinop:
            self.applyBinop(p, env)

        case ir.FamBinopLit:
            x := self.vidOf(env, p, 0)
            id := self.valueOf(env, p, fmt.Sprintf("%s:%d:#%d", op, x, p.Literal()), 0, kindOfValue(op))
            self.produce(env, p, id)

        case ir.FamAGet:
            a, i := self.vidOf(env, p, 0), self.vidOf(env, p, 1)
            bit, over := self.shared.readBitOf(ArrayLoc(arrayComponentOf(op)))
            self.overflow = self.overflow || over
            env.res = self.valueOf(env, p, fmt.Sprintf("%s:%d,%d", op, a, i), bit, kindOfValue(op))

        case ir.FamIGet:
            self.applyIGet(p, env)

        case ir.FamSGet:
            self.applySGet(p, env)

        case ir.FamIPut, ir.FamSPut:
            mask, over := self.shared.writeMaskOf(fieldLocationOf(self.shared.res, p))
            self.overflow = self.overflow || over
            env.invalidate(mask)

        case ir.FamAPut:
            mask, over := self.shared.writeMaskOf(ArrayLoc(arrayComponentOf(op)))
            self.overflow = self.overflow || over
            env.invalidate(mask)

        case ir.FamInvoke:
            self.applyInvoke(p, env)
    }
}

// applyArrayLength shortcuts lengths of arrays made here: the length is
// the very value new-array consumed. Unknown arrays value structurally.
func (self *_ValueFlow) applyArrayLength(p *ir.Instruction, env *_VnEnv) {
    a := self.vidOf(env, p, 0)
    if l, ok := self.lens[a]; ok {
        env.res = l
        if self.rec != nil {
            self.rec.derived(p, l, a, env)
        }
        return
    }
    env.res = self.valueOf(env, p, fmt.Sprintf("array-length:%d", a), 0, _KNarrow)
}

func (self *_ValueFlow) applyIGet(p *ir.Instruction, env *_VnEnv) {
    loc := fieldLocationOf(self.shared.res, p)
    if loc.IsBarrier() {
        env.invalidate(_BarrierMask)
        env.res = 0
        return
    }
    o := self.vidOf(env, p, 0)
    bit, over := self.shared.readBitOf(loc)
    self.overflow = self.overflow || over
    env.res = self.valueOf(env, p, fmt.Sprintf("%s:%s:%d", p.Op(), loc.fld.Key(), o), bit, kindOfValue(p.Op()))
}

func (self *_ValueFlow) applySGet(p *ir.Instruction, env *_VnEnv) {
    loc := fieldLocationOf(self.shared.res, p)
    if loc.IsBarrier() {
        env.invalidate(_BarrierMask)
        env.res = 0
        return
    }
    bit, over := self.shared.readBitOf(loc)
    self.overflow = self.overflow || over
    env.res = self.valueOf(env, p, fmt.Sprintf("%s:%s", p.Op(), loc.fld.Key()), bit, kindOfValue(p.Op()))
}

func (self *_ValueFlow) applyBinop(p *ir.Instruction, env *_VnEnv) {
    op := binopBaseOf(p.Op())
    x, y := self.vidOf(env, p, 0), self.vidOf(env, p, 1)
    if commutativeBinop(op) && x > y {
        x, y = y, x
    }
    id := self.valueOf(env, p, fmt.Sprintf("%s:%d,%d", op, x, y), 0, kindOfValue(op))
    self.produce(env, p, id)
}

func (self *_ValueFlow) applyInvoke(p *ir.Instruction, env *_VnEnv) {
    /* wrapper round trips first: unbox(box(x)) is x, box(unbox(y)) is y */
    if id, ok := self.boxShortcut(p, env); ok {
        env.res = id
        return
    }

    sum := self.shared.PurityOf(p)
    if !sum.Valuable() {
        mask := sum.Writes()
        if sum.IsTop() || sum.IsBottom() {
            mask = _BarrierMask
        }
        env.invalidate(mask)
        env.res = 0
        return
    }

    key := "call:" + p.Method().Key()
    for i := 0; i < p.SrcCount(); i++ {
        key += fmt.Sprintf(":%d", self.vidOf(env, p, i))
    }

    id := self.valueOf(env, p, key, sum.Reads(), kindOfReturn(p.Method()))
    self.noteBoxing(p, env, id)
    env.res = id
}

// noteBoxing remembers which values are wrapper round trip halves, so a
// later inverse call can collapse onto the original operand.
func (self *_ValueFlow) noteBoxing(p *ir.Instruction, env *_VnEnv, id uint64) {
    if pair, ok := self.shared.boxes[p.Method()]; ok {
        self.boxed[id] = _BoxSrc { pair: pair, arg: self.vidOf(env, p, 0) }
    } else if pair, ok := self.shared.unboxes[p.Method()]; ok {
        self.unboxed[id] = _BoxSrc { pair: pair, arg: self.vidOf(env, p, 0) }
    }
}

// boxShortcut collapses a wrapper round trip at the value level. The
// abstract Number unbox additionally refines to the wrapper's own unbox
// when the receiver is a known box; the rewrite itself happens in the
// transform, recorded here.
func (self *_ValueFlow) boxShortcut(p *ir.Instruction, env *_VnEnv) (uint64, bool) {
    m := p.Method()
    if m == nil || p.SrcCount() == 0 {
        return 0, false
    }

    if pair, ok := self.shared.boxes[m]; ok {
        a := self.vidOf(env, p, 0)
        if src, ok := self.unboxed[a]; ok && src.pair == pair {
            if self.rec != nil {
                self.rec.hit(p, src.arg, env)
            }
            return src.arg, true
        }
        return 0, false
    }

    if pair, ok := self.shared.unboxes[m]; ok {
        r := self.vidOf(env, p, 0)
        if src, ok := self.boxed[r]; ok && src.pair == pair {
            if self.rec != nil {
                self.rec.hit(p, src.arg, env)
            }
            return src.arg, true
        }
        return 0, false
    }

    if pair, ok := self.shared.abstracts[m]; ok {
        r := self.vidOf(env, p, 0)
        if src, ok := self.boxed[r]; ok && src.pair == pair {
            if self.rec != nil {
                self.rec.cast(p, pair)
                self.rec.hit(p, src.arg, env)
            }
            return src.arg, true
        }
    }
    return 0, false
}

/** Operand Normalization **/

func binopBaseOf(op ir.Op) ir.Op {
    if op >= ir.OpAddInt2Addr && op <= ir.OpRemDouble2Addr {
        return op - 0x20
    }
    return op
}

func commutativeBinop(op ir.Op) bool {
    switch op {
        case ir.OpAddInt, ir.OpAddLong, ir.OpAddFloat, ir.OpAddDouble : return true
        case ir.OpMulInt, ir.OpMulLong, ir.OpMulFloat, ir.OpMulDouble : return true
        case ir.OpAndInt, ir.OpAndLong                                : return true
        case ir.OpOrInt , ir.OpOrLong                                 : return true
        case ir.OpXorInt, ir.OpXorLong                                : return true
        default                                                       : return false
    }
}
