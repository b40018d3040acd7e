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
    `math`

    `github.com/bytedance/dexter/internal/fixpoint`
    `github.com/bytedance/dexter/internal/ir`
)

// ConstVal is the flat constant lattice. Numeric cells hold the register
// value sign extended to 64 bits; float cells hold the raw bits the same
// way. NonNull is a band for references that are provably not null, which
// is all a zero test needs.
type ConstVal struct {
    kind _ConstKind
    val  int64
}

type _ConstKind uint8

const (
    _KBottom _ConstKind = iota
    _KConst
    _KNonNull
    _KTop
)

func ConstBottom() ConstVal        { return ConstVal { kind: _KBottom } }
func ConstTop() ConstVal           { return ConstVal { kind: _KTop } }
func ConstNonNull() ConstVal       { return ConstVal { kind: _KNonNull } }
func ConstOf(v int64) ConstVal     { return ConstVal { kind: _KConst, val: v } }

func (self ConstVal) IsBottom() bool  { return self.kind == _KBottom }
func (self ConstVal) IsTop() bool     { return self.kind == _KTop }
func (self ConstVal) IsConst() bool   { return self.kind == _KConst }
func (self ConstVal) IsNonNull() bool { return self.kind == _KNonNull }
func (self ConstVal) Value() int64    { return self.val }

func (self ConstVal) JoinWith(other ConstVal) ConstVal {
    switch {
        case self.kind == _KBottom  : return other
        case other.kind == _KBottom : return self
        case self == other          : return self
        default                     : return ConstTop()
    }
}

func (self ConstVal) MeetWith(other ConstVal) ConstVal {
    switch {
        case self.kind == _KTop  : return other
        case other.kind == _KTop : return self
        case self == other       : return self
        default                  : return ConstBottom()
    }
}

func (self ConstVal) leq(other ConstVal) bool {
    switch {
        case self.kind == _KBottom : return true
        case other.kind == _KTop   : return true
        default                    : return self == other
    }
}

// FieldSummary carries whole program facts the flow function may lean on:
// static fields whose value never changes after class preparation, and
// classes whose static initializer cannot be observed running.
type FieldSummary struct {
    vals map[*ir.FieldRef]ConstVal
    pure map[*ir.Type]bool
}

func NewFieldSummary() *FieldSummary {
    return &FieldSummary {
        vals: make(map[*ir.FieldRef]ConstVal),
        pure: make(map[*ir.Type]bool),
    }
}

func (self *FieldSummary) SetValue(f *ir.FieldRef, v ConstVal) {
    self.vals[f] = v
}

func (self *FieldSummary) Value(f *ir.FieldRef) ConstVal {
    if v, ok := self.vals[f]; ok {
        return v
    }
    return ConstTop()
}

func (self *FieldSummary) SetPureInit(t *ir.Type) {
    self.pure[t] = true
}

func (self *FieldSummary) PureInit(t *ir.Type) bool {
    return self != nil && self.pure[t]
}

func (self *FieldSummary) Len() int {
    return len(self.vals)
}

// ConstEnv is the reduced product of the register environment and the
// locally tracked static field values. Registers and fields absent from
// the maps are unknown.
type ConstEnv struct {
    bot    bool
    res    ConstVal
    regs   map[ir.Reg]ConstVal
    fields map[*ir.FieldRef]ConstVal
}

func NewConstEnv() *ConstEnv {
    return &ConstEnv {
        res    : ConstTop(),
        regs   : make(map[ir.Reg]ConstVal),
        fields : make(map[*ir.FieldRef]ConstVal),
    }
}

func (self *ConstEnv) Get(r ir.Reg) ConstVal {
    if v, ok := self.regs[r]; ok {
        return v
    }
    return ConstTop()
}

func (self *ConstEnv) set(r ir.Reg, v ConstVal) {
    if v.IsTop() {
        delete(self.regs, r)
    } else {
        self.regs[r] = v
    }
}

/* wide values live in the low register, the high half carries nothing */
func (self *ConstEnv) setPair(r ir.Reg, v ConstVal) {
    self.set(r, v)
    self.set(r+1, ConstTop())
}

func (self *ConstEnv) getField(f *ir.FieldRef) (ConstVal, bool) {
    v, ok := self.fields[f]
    return v, ok
}

func (self *ConstEnv) setField(f *ir.FieldRef, v ConstVal) {
    if v.IsTop() {
        delete(self.fields, f)
    } else {
        self.fields[f] = v
    }
}

func (self *ConstEnv) clearFields() {
    for f := range self.fields {
        delete(self.fields, f)
    }
}

func (self *ConstEnv) Clone() *ConstEnv {
    ret := &ConstEnv {
        bot    : self.bot,
        res    : self.res,
        regs   : make(map[ir.Reg]ConstVal, len(self.regs)),
        fields : make(map[*ir.FieldRef]ConstVal, len(self.fields)),
    }
    for r, v := range self.regs {
        ret.regs[r] = v
    }
    for f, v := range self.fields {
        ret.fields[f] = v
    }
    return ret
}

/** Domain Interface **/

func (self *ConstEnv) IsBottom() bool { return self.bot }
func (self *ConstEnv) IsTop() bool    { return false }

func (self *ConstEnv) Leq(other fixpoint.Domain) bool {
    rhs := other.(*ConstEnv)
    if self.bot {
        return true
    }
    if rhs.bot {
        return false
    }
    if !self.res.leq(rhs.res) {
        return false
    }
    for r, v := range rhs.regs {
        if !self.Get(r).leq(v) {
            return false
        }
    }
    for f, v := range rhs.fields {
        if w, ok := self.fields[f]; !ok || !w.leq(v) {
            return false
        }
    }
    return true
}

func (self *ConstEnv) Equals(other fixpoint.Domain) bool {
    return self.Leq(other) && other.Leq(self)
}

func (self *ConstEnv) Join(other fixpoint.Domain) fixpoint.Domain {
    rhs := other.(*ConstEnv)
    if self.bot {
        return rhs.Clone()
    }
    if rhs.bot {
        return self.Clone()
    }
    ret := NewConstEnv()
    ret.res = self.res.JoinWith(rhs.res)
    for r, v := range self.regs {
        ret.set(r, v.JoinWith(rhs.Get(r)))
    }
    for f, v := range self.fields {
        if w, ok := rhs.fields[f]; ok {
            ret.setField(f, v.JoinWith(w))
        }
    }
    return ret
}

// Widen joins: the lattice is flat, chains are short.
func (self *ConstEnv) Widen(other fixpoint.Domain) fixpoint.Domain {
    return self.Join(other)
}

func (self *ConstEnv) Meet(other fixpoint.Domain) fixpoint.Domain {
    rhs := other.(*ConstEnv)
    if self.bot || rhs.bot {
        return &ConstEnv { bot: true }
    }
    ret := self.Clone()
    for r, v := range rhs.regs {
        m := ret.Get(r).MeetWith(v)
        if m.IsBottom() {
            return &ConstEnv { bot: true }
        }
        ret.set(r, m)
    }
    for f, v := range rhs.fields {
        if w, ok := ret.fields[f]; ok {
            m := w.MeetWith(v)
            if m.IsBottom() {
                return &ConstEnv { bot: true }
            }
            ret.setField(f, m)
        } else {
            ret.setField(f, v)
        }
    }
    return ret
}

func (self *ConstEnv) Narrow(other fixpoint.Domain) fixpoint.Domain {
    return self.Meet(other)
}

/* meet one register against a constraint, bottoming the env when the
 * constraint is contradictory */
func (self *ConstEnv) constrain(r ir.Reg, v ConstVal) *ConstEnv {
    m := self.Get(r).MeetWith(v)
    if m.IsBottom() {
        return &ConstEnv { bot: true }
    }
    self.set(r, m)
    return self
}

// ConstantPropagation is the intraprocedural constant analysis. The edge
// transfer prunes conditional branches whose outcome the register values
// decide, so code behind them is analyzed as unreachable.
type ConstantPropagation struct {
    cfg  *ir.CFG
    flow *_ConstFlow
    it   *fixpoint.Iterator
}

type _ConstFlow struct {
    cfg     *ir.CFG
    summary *FieldSummary
    getters map[*ir.MethodRef]bool
    clinit  *ir.Type
}

// AnalyzeConstants runs the analysis over a built CFG. The summary and the
// pure getter set may be nil; mth scopes the summary away inside its own
// static initializer, where the encoded values are not settled yet.
func AnalyzeConstants(mth *ir.MethodRef, cfg *ir.CFG, summary *FieldSummary, getters map[*ir.MethodRef]bool) *ConstantPropagation {
    flow := &_ConstFlow {
        cfg     : cfg,
        summary : summary,
        getters : getters,
    }
    if mth != nil && mth.IsClinit() {
        flow.clinit = mth.Class()
    }
    it := fixpoint.NewIterator(fixpoint.ForwardCFG(cfg), flow)
    it.Run(0)
    return &ConstantPropagation {
        cfg  : cfg,
        flow : flow,
        it   : it,
    }
}

func (self *_ConstFlow) Bottom() fixpoint.Domain {
    return &ConstEnv { bot: true }
}

func (self *_ConstFlow) Entry() fixpoint.Domain {
    return NewConstEnv()
}

func (self *_ConstFlow) AnalyzeNode(node int, pre fixpoint.Domain) fixpoint.Domain {
    env := pre.(*ConstEnv)
    if env.bot {
        return env
    }
    env = env.Clone()
    self.cfg.Block(node).ForEachInsn(func(p *ir.Instruction) bool {
        self.apply(p, env)
        return true
    })
    return env
}

// AnalyzeEdge decides branch feasibility. An infeasible edge yields the
// bottom environment, a feasible one refines the constrained register.
func (self *_ConstFlow) AnalyzeEdge(edge fixpoint.Edge, post fixpoint.Domain) fixpoint.Domain {
    env := post.(*ConstEnv)
    e := fixpoint.CFGEdge(edge)
    if env.bot || e == nil {
        return env
    }

    last := e.Src().LastInsn()
    if last == nil {
        return env
    }

    p := last.Insn
    switch p.Op().Fam() {
        case ir.FamIf     : return self.refineIf(e, p, env)
        case ir.FamSwitch : return self.refineSwitch(e, p, env)
        default           : return env
    }
}

func (self *_ConstFlow) refineIf(e *ir.Edge, p *ir.Instruction, env *ConstEnv) fixpoint.Domain {
    if e.Kind() != ir.EdgeBranch && e.Kind() != ir.EdgeGoto {
        return env
    }
    taken := e.Kind() == ir.EdgeBranch

    va := env.Get(p.Src(0))
    vb := ConstOf(0)
    if p.SrcCount() > 1 {
        vb = env.Get(p.Src(1))
    }

    /* the edge is dead when the condition already decides the other way */
    switch evalIf(p.Op(), va, vb) {
        case _TriTrue:
            if !taken {
                return &ConstEnv { bot: true }
            }
        case _TriFalse:
            if taken {
                return &ConstEnv { bot: true }
            }
    }

    /* equality against a known constant pins the other side */
    eq := false
    switch p.Op() {
        case ir.OpIfEq, ir.OpIfEqz : eq = taken
        case ir.OpIfNe, ir.OpIfNez : eq = !taken
        default                    : return env
    }
    if !eq {
        return env
    }

    ret := env.Clone()
    if p.SrcCount() == 1 {
        return ret.constrain(p.Src(0), ConstOf(0))
    }
    if vb.IsConst() {
        ret = ret.constrain(p.Src(0), vb)
    }
    if va.IsConst() && !ret.bot {
        ret = ret.constrain(p.Src(1), va)
    }
    return ret
}

func (self *_ConstFlow) refineSwitch(e *ir.Edge, p *ir.Instruction, env *ConstEnv) fixpoint.Domain {
    v := env.Get(p.Src(0))
    switch e.Kind() {
        case ir.EdgeBranch:
            return env.Clone().constrain(p.Src(0), ConstOf(int64(e.CaseKey())))
        case ir.EdgeGoto:
            /* the default edge is dead when the selector hits a case */
            if v.IsConst() {
                for _, be := range e.Src().BranchEdges() {
                    if int64(be.CaseKey()) == v.Value() {
                        return &ConstEnv { bot: true }
                    }
                }
            }
            return env
        default:
            return env
    }
}

/* produce routes a value to the dest register or to the result slot */
func (self *_ConstFlow) produce(p *ir.Instruction, env *ConstEnv, v ConstVal) {
    if !p.Op().HasDest() {
        env.res = v
    } else if p.DestIsWide() {
        env.setPair(p.Dest(), v)
    } else {
        env.set(p.Dest(), v)
    }
}

func (self *_ConstFlow) apply(p *ir.Instruction, env *ConstEnv) {
    op := p.Op()
    switch op.Fam() {
        case ir.FamConst:
            if op.DestIsWide() {
                env.setPair(p.Dest(), ConstOf(p.Literal()))
            } else {
                env.set(p.Dest(), ConstOf(p.Literal()))
            }

        case ir.FamConstString, ir.FamConstClass:
            self.produce(p, env, ConstNonNull())

        case ir.FamMove:
            if p.SrcIsWide(0) {
                env.setPair(p.Dest(), env.Get(p.Src(0)))
            } else {
                env.set(p.Dest(), env.Get(p.Src(0)))
            }

        case ir.FamMoveResult, ir.FamMoveResultPseudo:
            if op.DestIsWide() {
                env.setPair(p.Dest(), env.res)
            } else {
                env.set(p.Dest(), env.res)
            }
            env.res = ConstTop()

        case ir.FamMoveException:
            env.set(p.Dest(), ConstNonNull())

        case ir.FamCheckCast:
            /* the cast passes the value through unchanged */
            env.res = env.Get(p.Src(0))

        case ir.FamNewInstance, ir.FamNewArray, ir.FamFilledNewArray:
            self.produce(p, env, ConstNonNull())

        case ir.FamUnop:
            self.produce(p, env, evalUnop(op, env.Get(p.Src(0))))

        case ir.FamBinop:
            self.produce(p, env, evalBinop(op, env.Get(p.Src(0)), env.Get(p.Src(1))))

        case ir.FamBinopLit:
            self.produce(p, env, evalBinopLit(op, env.Get(p.Src(0)), p.Literal()))

        case ir.FamCmp:
            self.produce(p, env, evalCmp(op, env.Get(p.Src(0)), env.Get(p.Src(1))))

        case ir.FamSGet:
            self.produce(p, env, self.loadStatic(p.Field(), env))

        case ir.FamSPut:
            env.setField(p.Field(), env.Get(p.Src(0)))

        case ir.FamInvoke:
            if self.getters == nil || !self.getters[p.Method()] {
                env.clearFields()
            }
            env.res = ConstTop()

        case ir.FamInstanceOf, ir.FamArrayLength, ir.FamAGet, ir.FamIGet:
            self.produce(p, env, ConstTop())

        case ir.FamLoadParam:
            if op == ir.OpLoadParamWide {
                env.setPair(p.Dest(), ConstTop())
            } else {
                env.set(p.Dest(), ConstTop())
            }

        case ir.FamFillArrayData, ir.FamInitClass:
            env.res = ConstTop()
    }
}

func (self *_ConstFlow) loadStatic(f *ir.FieldRef, env *ConstEnv) ConstVal {
    if v, ok := env.getField(f); ok {
        return v
    }
    if self.summary != nil && self.clinit != f.Class() {
        return self.summary.Value(f)
    }
    return ConstTop()
}

// EntryState is the environment at block entry, caller owned.
func (self *ConstantPropagation) EntryState(b *ir.BasicBlock) *ConstEnv {
    return self.it.PreOf(b.Id).(*ConstEnv).Clone()
}

// ExitState is the environment after the block's last instruction.
func (self *ConstantPropagation) ExitState(b *ir.BasicBlock) *ConstEnv {
    return self.it.PostOf(b.Id).(*ConstEnv).Clone()
}

// Step advances a state over one instruction in place.
func (self *ConstantPropagation) Step(env *ConstEnv, p *ir.Instruction) {
    self.flow.apply(p, env)
}

// ForEachState replays one block, handing out the environment right
// before each instruction. Reused between calls, clone to retain.
func (self *ConstantPropagation) ForEachState(b *ir.BasicBlock, fn func(*ir.Instruction, *ConstEnv) bool) {
    env := self.EntryState(b)
    b.ForEachInsn(func(p *ir.Instruction) bool {
        if !fn(p, env) {
            return false
        }
        self.flow.apply(p, env)
        return true
    })
}

/* three valued branch outcome */

type _TriBool uint8

const (
    _TriUnknown _TriBool = iota
    _TriTrue
    _TriFalse
)

func tri(b bool) _TriBool {
    if b {
        return _TriTrue
    }
    return _TriFalse
}

func evalIf(op ir.Op, a ConstVal, b ConstVal) _TriBool {
    /* a reference that is provably not null decides a zero test */
    if a.IsNonNull() && b.IsConst() && b.Value() == 0 {
        switch op {
            case ir.OpIfEq, ir.OpIfEqz : return _TriFalse
            case ir.OpIfNe, ir.OpIfNez : return _TriTrue
        }
        return _TriUnknown
    }
    if !a.IsConst() || !b.IsConst() {
        return _TriUnknown
    }
    x, y := a.Value(), b.Value()
    switch op {
        case ir.OpIfEq, ir.OpIfEqz : return tri(x == y)
        case ir.OpIfNe, ir.OpIfNez : return tri(x != y)
        case ir.OpIfLt, ir.OpIfLtz : return tri(x < y)
        case ir.OpIfGe, ir.OpIfGez : return tri(x >= y)
        case ir.OpIfGt, ir.OpIfGtz : return tri(x > y)
        case ir.OpIfLe, ir.OpIfLez : return tri(x <= y)
        default                    : return _TriUnknown
    }
}

/** Constant Arithmetic **/

/*
 * Integer cells hold their 32 bit value sign extended, wide cells the full
 * 64 bits, float cells the raw IEEE bits of their width. The helpers below
 * mirror the Dalvik semantics including shift masking, division overflow
 * and the NaN rules of the float comparisons.
 */

func i32(v int64) int32 { return int32(v) }

func f32of(v int64) float32  { return math.Float32frombits(uint32(v)) }
func f64of(v int64) float64  { return math.Float64frombits(uint64(v)) }
func f32val(f float32) int64 { return int64(int32(math.Float32bits(f))) }
func f64val(f float64) int64 { return int64(math.Float64bits(f)) }

func f2i(f float64) int32 {
    switch {
        case math.IsNaN(f)              : return 0
        case f >= math.MaxInt32         : return math.MaxInt32
        case f <= math.MinInt32         : return math.MinInt32
        default                         : return int32(f)
    }
}

func f2l(f float64) int64 {
    switch {
        case math.IsNaN(f)              : return 0
        case f >= math.MaxInt64         : return math.MaxInt64
        case f <= math.MinInt64         : return math.MinInt64
        default                         : return int64(f)
    }
}

func evalUnop(op ir.Op, a ConstVal) ConstVal {
    if !a.IsConst() {
        return ConstTop()
    }
    v := a.Value()
    switch op {
        case ir.OpNegInt        : return ConstOf(int64(-i32(v)))
        case ir.OpNotInt        : return ConstOf(int64(^i32(v)))
        case ir.OpNegLong       : return ConstOf(-v)
        case ir.OpNotLong       : return ConstOf(^v)
        case ir.OpNegFloat      : return ConstOf(int64(i32(v) ^ -0x80000000))
        case ir.OpNegDouble     : return ConstOf(v ^ -0x8000000000000000)
        case ir.OpIntToLong     : return ConstOf(int64(i32(v)))
        case ir.OpIntToFloat    : return ConstOf(f32val(float32(i32(v))))
        case ir.OpIntToDouble   : return ConstOf(f64val(float64(i32(v))))
        case ir.OpLongToInt     : return ConstOf(int64(i32(v)))
        case ir.OpLongToFloat   : return ConstOf(f32val(float32(v)))
        case ir.OpLongToDouble  : return ConstOf(f64val(float64(v)))
        case ir.OpFloatToInt    : return ConstOf(int64(f2i(float64(f32of(v)))))
        case ir.OpFloatToLong   : return ConstOf(f2l(float64(f32of(v))))
        case ir.OpFloatToDouble : return ConstOf(f64val(float64(f32of(v))))
        case ir.OpDoubleToInt   : return ConstOf(int64(f2i(f64of(v))))
        case ir.OpDoubleToLong  : return ConstOf(f2l(f64of(v)))
        case ir.OpDoubleToFloat : return ConstOf(f32val(float32(f64of(v))))
        case ir.OpIntToByte     : return ConstOf(int64(int8(v)))
        case ir.OpIntToChar     : return ConstOf(int64(uint16(v)))
        case ir.OpIntToShort    : return ConstOf(int64(int16(v)))
        default                 : return ConstTop()
    }
}

func evalBinop(op ir.Op, a ConstVal, b ConstVal) ConstVal {
    if !a.IsConst() || !b.IsConst() {
        return ConstTop()
    }

    /* the 2addr forms share the arithmetic of their 3 register originals */
    switch {
        case op >= ir.OpAddInt2Addr && op <= ir.OpUshrInt2Addr:
            op = op - ir.OpAddInt2Addr + ir.OpAddInt
        case op >= ir.OpAddLong2Addr && op <= ir.OpUshrLong2Addr:
            op = op - ir.OpAddLong2Addr + ir.OpAddLong
        case op >= ir.OpAddFloat2Addr && op <= ir.OpRemFloat2Addr:
            op = op - ir.OpAddFloat2Addr + ir.OpAddFloat
        case op >= ir.OpAddDouble2Addr && op <= ir.OpRemDouble2Addr:
            op = op - ir.OpAddDouble2Addr + ir.OpAddDouble
    }

    x, y := a.Value(), b.Value()
    switch op {
        case ir.OpAddInt   : return ConstOf(int64(i32(x) + i32(y)))
        case ir.OpSubInt   : return ConstOf(int64(i32(x) - i32(y)))
        case ir.OpMulInt   : return ConstOf(int64(i32(x) * i32(y)))
        case ir.OpDivInt   : return divInt(i32(x), i32(y))
        case ir.OpRemInt   : return remInt(i32(x), i32(y))
        case ir.OpAndInt   : return ConstOf(int64(i32(x) & i32(y)))
        case ir.OpOrInt    : return ConstOf(int64(i32(x) | i32(y)))
        case ir.OpXorInt   : return ConstOf(int64(i32(x) ^ i32(y)))
        case ir.OpShlInt   : return ConstOf(int64(i32(x) << (uint32(y) & 31)))
        case ir.OpShrInt   : return ConstOf(int64(i32(x) >> (uint32(y) & 31)))
        case ir.OpUshrInt  : return ConstOf(int64(int32(uint32(x) >> (uint32(y) & 31))))
        case ir.OpAddLong  : return ConstOf(x + y)
        case ir.OpSubLong  : return ConstOf(x - y)
        case ir.OpMulLong  : return ConstOf(x * y)
        case ir.OpDivLong  : return divLong(x, y)
        case ir.OpRemLong  : return remLong(x, y)
        case ir.OpAndLong  : return ConstOf(x & y)
        case ir.OpOrLong   : return ConstOf(x | y)
        case ir.OpXorLong  : return ConstOf(x ^ y)
        case ir.OpShlLong  : return ConstOf(x << (uint64(y) & 63))
        case ir.OpShrLong  : return ConstOf(x >> (uint64(y) & 63))
        case ir.OpUshrLong : return ConstOf(int64(uint64(x) >> (uint64(y) & 63)))

        case ir.OpAddFloat : return ConstOf(f32val(f32of(x) + f32of(y)))
        case ir.OpSubFloat : return ConstOf(f32val(f32of(x) - f32of(y)))
        case ir.OpMulFloat : return ConstOf(f32val(f32of(x) * f32of(y)))
        case ir.OpDivFloat : return ConstOf(f32val(f32of(x) / f32of(y)))
        case ir.OpRemFloat : return ConstOf(f32val(float32(math.Mod(float64(f32of(x)), float64(f32of(y))))))

        case ir.OpAddDouble : return ConstOf(f64val(f64of(x) + f64of(y)))
        case ir.OpSubDouble : return ConstOf(f64val(f64of(x) - f64of(y)))
        case ir.OpMulDouble : return ConstOf(f64val(f64of(x) * f64of(y)))
        case ir.OpDivDouble : return ConstOf(f64val(f64of(x) / f64of(y)))
        case ir.OpRemDouble : return ConstOf(f64val(math.Mod(f64of(x), f64of(y))))

        default: return ConstTop()
    }
}

func evalBinopLit(op ir.Op, a ConstVal, lit int64) ConstVal {
    if !a.IsConst() {
        return ConstTop()
    }
    x, y := i32(a.Value()), i32(lit)
    switch op {
        case ir.OpAddIntLit16, ir.OpAddIntLit8   : return ConstOf(int64(x + y))
        case ir.OpRsubInt, ir.OpRsubIntLit8      : return ConstOf(int64(y - x))
        case ir.OpMulIntLit16, ir.OpMulIntLit8   : return ConstOf(int64(x * y))
        case ir.OpDivIntLit16, ir.OpDivIntLit8   : return divInt(x, y)
        case ir.OpRemIntLit16, ir.OpRemIntLit8   : return remInt(x, y)
        case ir.OpAndIntLit16, ir.OpAndIntLit8   : return ConstOf(int64(x & y))
        case ir.OpOrIntLit16, ir.OpOrIntLit8     : return ConstOf(int64(x | y))
        case ir.OpXorIntLit16, ir.OpXorIntLit8   : return ConstOf(int64(x ^ y))
        case ir.OpShlIntLit8                     : return ConstOf(int64(x << (uint32(y) & 31)))
        case ir.OpShrIntLit8                     : return ConstOf(int64(x >> (uint32(y) & 31)))
        case ir.OpUshrIntLit8                    : return ConstOf(int64(int32(uint32(x) >> (uint32(y) & 31))))
        default                                  : return ConstTop()
    }
}

func evalCmp(op ir.Op, a ConstVal, b ConstVal) ConstVal {
    if !a.IsConst() || !b.IsConst() {
        return ConstTop()
    }
    x, y := a.Value(), b.Value()
    switch op {
        case ir.OpCmpLong:
            return ConstOf(cmpOrd(x == y, x < y, false))
        case ir.OpCmplFloat:
            fx, fy := f32of(x), f32of(y)
            return ConstOf(cmpOrd(fx == fy, fx < fy, fx != fx || fy != fy))
        case ir.OpCmpgFloat:
            fx, fy := f32of(x), f32of(y)
            v := cmpOrd(fx == fy, fx < fy, false)
            if fx != fx || fy != fy {
                v = 1
            }
            return ConstOf(v)
        case ir.OpCmplDouble:
            fx, fy := f64of(x), f64of(y)
            return ConstOf(cmpOrd(fx == fy, fx < fy, fx != fx || fy != fy))
        case ir.OpCmpgDouble:
            fx, fy := f64of(x), f64of(y)
            v := cmpOrd(fx == fy, fx < fy, false)
            if fx != fx || fy != fy {
                v = 1
            }
            return ConstOf(v)
        default:
            return ConstTop()
    }
}

func cmpOrd(eq bool, lt bool, nan bool) int64 {
    switch {
        case nan : return -1
        case eq  : return 0
        case lt  : return -1
        default  : return 1
    }
}

func divInt(x int32, y int32) ConstVal {
    switch {
        case y == 0                        : return ConstTop()
        case x == math.MinInt32 && y == -1 : return ConstOf(int64(int32(math.MinInt32)))
        default                            : return ConstOf(int64(x / y))
    }
}

func remInt(x int32, y int32) ConstVal {
    switch {
        case y == 0                        : return ConstTop()
        case x == math.MinInt32 && y == -1 : return ConstOf(0)
        default                            : return ConstOf(int64(x % y))
    }
}

func divLong(x int64, y int64) ConstVal {
    switch {
        case y == 0                        : return ConstTop()
        case x == math.MinInt64 && y == -1 : return ConstOf(math.MinInt64)
        default                            : return ConstOf(x / y)
    }
}

func remLong(x int64, y int64) ConstVal {
    switch {
        case y == 0                        : return ConstTop()
        case x == math.MinInt64 && y == -1 : return ConstOf(0)
        default                            : return ConstOf(x % y)
    }
}
