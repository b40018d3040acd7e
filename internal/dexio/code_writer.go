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

package dexio

import (
    `sort`

    `github.com/bytedance/dexter/internal/ir`
)

// _MInsn is one instruction of the outgoing stream: the canonical opcode
// plus the chosen encoding variant and its format fields. Branch distances
// are filled at emit time from the final layout.
type _MInsn struct {
    ent     *ir.Entry
    op      ir.Op
    enc     ir.Op
    fmt     Format
    off     uint32
    size    uint32
    a       uint32
    b       uint32
    c       uint32
    lit     int64
    idx     uint32
    wide    uint64
    regs    []uint32
    target  int
    keys    []int32
    cases   []int
    payoff  uint32
    payload *ir.DataPayload
}

type _TryEvent struct {
    start bool
    chain *ir.Entry
    pos   int
}

type _Region struct {
    start int
    end   int
    chain *ir.Entry
}

// _BrRef is one recorded branch target: the stream position it lands on
// and the switch key when it is a case target.
type _BrRef struct {
    pos  int
    kind ir.BranchTargetKind
    key  int32
}

// _CodeWriter lowers one linear method body to a code_item. Positions in
// the stream count instructions; position len(insns) is the end of the
// method and is only a valid try-region boundary.
type _CodeWriter struct {
    pools    *_Pools
    m        *ir.MethodRef
    code     *ir.Code
    insns    []*_MInsn
    events   []_TryEvent
    regions  []_Region
    catchPos map[*ir.Entry]int
    chains   []*ir.Entry
    brs      map[*ir.Entry][]_BrRef
    skipNext *ir.Entry
    params   []*ir.Instruction
    body     bool
    outs     uint32
    end      uint32
}

func encodeCode(w *_Writer, pools *_Pools, m *ir.MethodRef, code *ir.Code) error {
    cw := &_CodeWriter{
        pools    : pools,
        m        : m,
        code     : code,
        catchPos : make(map[*ir.Entry]int),
        brs      : make(map[*ir.Entry][]_BrRef),
    }
    if code.Regs() > 0x10000 {
        return cw.fail("more than 65536 registers")
    }
    if err := cw.build(); err != nil {
        return err
    }
    if err := cw.link(); err != nil {
        return err
    }
    for _, i := range cw.insns {
        if err := cw.choose(i); err != nil {
            return err
        }
    }
    if err := cw.layout(); err != nil {
        return err
    }
    return cw.emit(w)
}

func (self *_CodeWriter) fail(reason string) error {
    return &EncodeError{Method: self.m, Reason: reason}
}

// insSize is the parameter register count, two per wide load.
func (self *_CodeWriter) insSize() uint32 {
    n := uint32(0)
    for _, p := range self.params {
        if p.Op() == ir.OpLoadParamWide {
            n += 2
        } else {
            n++
        }
    }
    return n
}

// checkParams validates the prologue: one load per parameter, registers
// contiguous at the frame top, widths matching the prototype.
func (self *_CodeWriter) checkParams() error {
    want := uint32(self.m.Proto().RegsForArgs())
    if !self.m.Def().Access.Has(ir.AccStatic) {
        want++
    }
    ins := self.insSize()
    if ins != want {
        return self.fail("load-param instructions do not match the prototype")
    }

    reg := ir.Reg(self.code.Regs() - ins)
    for _, p := range self.params {
        if p.Dest() != reg {
            return self.fail("parameter registers are not contiguous at the frame top")
        }
        if p.Op() == ir.OpLoadParamWide {
            reg += 2
        } else {
            reg++
        }
    }
    return nil
}

func (self *_CodeWriter) build() error {
    list := self.code.List()

    for e := list.Front(); e != nil; e = e.Next() {
        if e == self.skipNext {
            self.skipNext = nil
            continue
        }
        switch e.Kind() {
            case ir.EntryPosition, ir.EntrySourceBlock:
                /* debug info is not written back */

            case ir.EntryTarget:
                src := e.Target.Src
                self.brs[src] = append(self.brs[src], _BrRef{pos: len(self.insns), kind: e.Target.Kind, key: e.Target.Case})

            case ir.EntryCatch:
                self.catchPos[e] = len(self.insns)

            case ir.EntryTryStart:
                self.addChain(e.TryCatch)
                self.events = append(self.events, _TryEvent{start: true, chain: e.TryCatch, pos: len(self.insns)})

            case ir.EntryTryEnd:
                self.addChain(e.TryCatch)
                self.events = append(self.events, _TryEvent{chain: e.TryCatch, pos: len(self.insns)})

            case ir.EntryInsn:
                if err := self.buildInsn(e); err != nil {
                    return err
                }
        }
    }
    if err := self.checkParams(); err != nil {
        return err
    }
    return self.foldEvents()
}

func (self *_CodeWriter) addChain(head *ir.Entry) {
    for _, h := range self.chains {
        if h == head {
            return
        }
    }
    self.chains = append(self.chains, head)
}

func (self *_CodeWriter) buildInsn(e *ir.Entry) error {
    insn := e.Insn
    op := insn.Op()

    switch {
        case op.IsLoadParam():
            if self.body {
                return self.fail("load-param after the method prologue")
            }
            self.params = append(self.params, insn)
            return nil

        case op.Fam() == ir.FamMoveResultPseudo:
            return self.fail("move-result-pseudo without its producing instruction")

        case op.Fam() == ir.FamInitClass:
            return self.fail("init-class must be lowered before encoding")

        case op.Fam() == ir.FamUnreachable:
            return self.fail("unreachable marker survived optimization")
    }
    self.body = true

    dest := insn.Dest()
    if op.HasMoveResultPseudo() {
        d, pseudo, err := self.fuseResult(e, op)
        if err != nil {
            return err
        }
        dest = d
        self.skipNext = pseudo
    }

    mi, err := self.makeInsn(e, insn, dest)
    if err != nil {
        return err
    }
    self.insns = append(self.insns, mi)

    /* check-cast writes through its source register; a different fused
     * dest takes an explicit move after the cast */
    if op.Fam() == ir.FamCheckCast && uint32(dest) != uint32(insn.Src(0)) {
        mv := &_MInsn{op: ir.OpMoveObject, a: uint32(dest), b: uint32(insn.Src(0)), target: -1}
        self.insns = append(self.insns, mv)
    }
    return nil
}

// fuseResult finds the move-result-pseudo companion of e. Try boundaries
// between the pair move past the fused instruction; anything that would
// let control enter between the two cannot be encoded.
func (self *_CodeWriter) fuseResult(e *ir.Entry, op ir.Op) (ir.Reg, *ir.Entry, error) {
    p := e.Next()
    for p != nil && p.Kind() != ir.EntryInsn {
        switch p.Kind() {
            case ir.EntryTarget : return 0, nil, self.fail("branch target between " + op.String() + " and its move-result-pseudo")
            case ir.EntryCatch  : return 0, nil, self.fail("exception handler between " + op.String() + " and its move-result-pseudo")
        }
        p = p.Next()
    }
    if p == nil || p.Insn.Op() != op.MoveResultPseudoFor() {
        return 0, nil, self.fail(op.String() + " is missing its move-result-pseudo")
    }
    return p.Insn.Dest(), p, nil
}

// makeInsn resolves registers and pool references into format fields. The
// fused dest register arrives through dest; for fused opcodes insn.Dest()
// is unset.
func (self *_CodeWriter) makeInsn(e *ir.Entry, insn *ir.Instruction, dest ir.Reg) (*_MInsn, error) {
    op := insn.Op()
    mi := &_MInsn{ent: e, op: op, target: -1}

    switch op.Fam() {
        case ir.FamNop:
            /* nothing */

        case ir.FamMove, ir.FamUnop, ir.FamArrayLength:
            mi.a = uint32(dest)
            mi.b = uint32(insn.Src(0))

        case ir.FamMoveResult, ir.FamMoveException:
            mi.a = uint32(dest)

        case ir.FamReturn:
            if op != ir.OpReturnVoid {
                mi.a = uint32(insn.Src(0))
            }

        case ir.FamConst:
            mi.a = uint32(dest)
            mi.lit = insn.Literal()

        case ir.FamConstString:
            mi.a = uint32(dest)
            mi.idx = self.pools.strs[insn.Str()]

        case ir.FamConstClass, ir.FamNewInstance:
            mi.a = uint32(dest)
            mi.idx = self.pools.types[insn.Typ()]

        case ir.FamMonitor, ir.FamThrow:
            mi.a = uint32(insn.Src(0))

        case ir.FamCheckCast:
            mi.a = uint32(insn.Src(0))
            mi.idx = self.pools.types[insn.Typ()]

        case ir.FamInstanceOf, ir.FamNewArray:
            mi.a = uint32(dest)
            mi.b = uint32(insn.Src(0))
            mi.idx = self.pools.types[insn.Typ()]

        case ir.FamFilledNewArray:
            mi.idx = self.pools.types[insn.Typ()]
            mi.regs = expandRegs(insn)
            self.growOuts(mi.regs)

        case ir.FamFillArrayData:
            mi.a = uint32(insn.Src(0))
            mi.payload = insn.Data()
            if mi.payload == nil || mi.payload.Kind != ir.DataFillArray {
                return nil, self.fail("fill-array-data without its data table")
            }

        case ir.FamGoto:
            /* target linked later */

        case ir.FamSwitch:
            mi.a = uint32(insn.Src(0))

        case ir.FamCmp:
            mi.a = uint32(dest)
            mi.b = uint32(insn.Src(0))
            mi.c = uint32(insn.Src(1))

        case ir.FamIf:
            mi.a = uint32(insn.Src(0))
            if op.FixedSrcs() == 2 {
                mi.b = uint32(insn.Src(1))
            }

        case ir.FamAGet:
            mi.a = uint32(dest)
            mi.b = uint32(insn.Src(0))
            mi.c = uint32(insn.Src(1))

        case ir.FamAPut:
            mi.a = uint32(insn.Src(0))
            mi.b = uint32(insn.Src(1))
            mi.c = uint32(insn.Src(2))

        case ir.FamIGet:
            mi.a = uint32(dest)
            mi.b = uint32(insn.Src(0))
            mi.idx = self.pools.fields[insn.Field()]

        case ir.FamIPut:
            mi.a = uint32(insn.Src(0))
            mi.b = uint32(insn.Src(1))
            mi.idx = self.pools.fields[insn.Field()]

        case ir.FamSGet:
            mi.a = uint32(dest)
            mi.idx = self.pools.fields[insn.Field()]

        case ir.FamSPut:
            mi.a = uint32(insn.Src(0))
            mi.idx = self.pools.fields[insn.Field()]

        case ir.FamInvoke:
            mi.idx = self.pools.methods[insn.Method()]
            mi.regs = expandRegs(insn)
            self.growOuts(mi.regs)

        case ir.FamBinop:
            mi.a = uint32(dest)
            mi.b = uint32(insn.Src(0))
            mi.c = uint32(insn.Src(1))

        case ir.FamBinopLit:
            mi.a = uint32(dest)
            mi.b = uint32(insn.Src(0))
            mi.lit = insn.Literal()

        default:
            return nil, self.fail("unencodable opcode " + op.String())
    }
    return mi, nil
}

// expandRegs rebuilds the encoded register list of a variable-arity
// instruction, expanding wide arguments into register pairs.
func expandRegs(insn *ir.Instruction) []uint32 {
    out := make([]uint32, 0, insn.SrcCount()+1)
    for i, r := range insn.Srcs() {
        out = append(out, uint32(r))
        if insn.SrcIsWide(i) {
            out = append(out, uint32(r)+1)
        }
    }
    return out
}

func (self *_CodeWriter) growOuts(regs []uint32) {
    if n := uint32(len(regs)); n > self.outs {
        self.outs = n
    }
}

// link attaches the recorded branch targets to their source instructions.
func (self *_CodeWriter) link() error {
    for _, i := range self.insns {
        if i.ent == nil || !i.op.IsBranch() {
            continue
        }
        refs := self.brs[i.ent]

        if i.op.Fam() == ir.FamSwitch {
            for _, r := range refs {
                if r.kind != ir.TargetCase {
                    return self.fail("switch with a plain branch target")
                }
                if r.pos >= len(self.insns) {
                    return self.fail("switch case branches past the end of the method")
                }
                i.keys = append(i.keys, r.key)
                i.cases = append(i.cases, r.pos)
            }
            sort.Sort(&_CaseSort{keys: i.keys, cases: i.cases})
            for k := 1; k < len(i.keys); k++ {
                if i.keys[k] == i.keys[k-1] {
                    return self.fail("duplicate switch case key")
                }
            }
            continue
        }

        if len(refs) != 1 || refs[0].kind != ir.TargetSimple {
            return self.fail(i.op.String() + " does not have exactly one branch target")
        }
        if refs[0].pos >= len(self.insns) {
            return self.fail(i.op.String() + " branches past the end of the method")
        }
        i.target = refs[0].pos
    }
    return nil
}

type _CaseSort struct {
    keys  []int32
    cases []int
}

func (self *_CaseSort) Len() int           { return len(self.keys) }
func (self *_CaseSort) Less(i, j int) bool { return self.keys[i] < self.keys[j] }
func (self *_CaseSort) Swap(i, j int) {
    self.keys[i], self.keys[j] = self.keys[j], self.keys[i]
    self.cases[i], self.cases[j] = self.cases[j], self.cases[i]
}

// foldEvents pairs try-start and try-end events into regions. Linear form
// never nests regions.
func (self *_CodeWriter) foldEvents() error {
    open := -1
    var chain *ir.Entry

    for _, ev := range self.events {
        if ev.start {
            if open >= 0 {
                return self.fail("nested try regions")
            }
            open = ev.pos
            chain = ev.chain
            continue
        }
        if open < 0 {
            return self.fail("try-end without a matching try-start")
        }
        if ev.chain != chain {
            return self.fail("try-end does not match its try-start")
        }
        if ev.pos > open {
            self.regions = append(self.regions, _Region{start: open, end: ev.pos, chain: chain})
        }
        open = -1
    }
    if open >= 0 {
        self.regions = append(self.regions, _Region{start: open, end: len(self.insns), chain: chain})
    }
    return nil
}

func fitsReg4(r uint32) bool  { return r <= 0xf }
func fitsReg8(r uint32) bool  { return r <= 0xff }
func fitsS8(v int64) bool     { return v >= -0x80 && v <= 0x7f }
func fitsS16(v int64) bool    { return v >= -0x8000 && v <= 0x7fff }
func fitsS32(v int64) bool    { return v >= -0x80000000 && v <= 0x7fffffff }

// choose picks the smallest encoding variant for one instruction. Gotos
// start at one unit and grow during layout; everything else is fixed here.
func (self *_CodeWriter) choose(i *_MInsn) error {
    pick := func(enc ir.Op, f Format) {
        i.enc = enc
        i.fmt = f
        i.size = f.Units()
    }

    switch i.op.Fam() {
        case ir.FamNop:
            pick(ir.OpNop, Fmt10x)

        case ir.FamMove:
            switch {
                case fitsReg4(i.a) && fitsReg4(i.b) : pick(i.op, Fmt12x)
                case fitsReg8(i.a)                  : pick(i.op+1, Fmt22x)
                default                             : pick(i.op+2, Fmt32x)
            }

        case ir.FamMoveResult, ir.FamMoveException:
            if !fitsReg8(i.a) {
                return self.fail("result register out of range")
            }
            pick(i.op, Fmt11x)

        case ir.FamReturn:
            if i.op == ir.OpReturnVoid {
                pick(i.op, Fmt10x)
                break
            }
            if !fitsReg8(i.a) {
                return self.fail("return register out of range")
            }
            pick(i.op, Fmt11x)

        case ir.FamMonitor, ir.FamThrow:
            if !fitsReg8(i.a) {
                return self.fail(i.op.String() + " register out of range")
            }
            pick(i.op, Fmt11x)

        case ir.FamConst:
            return self.chooseConst(i)

        case ir.FamConstString:
            if !fitsReg8(i.a) {
                return self.fail("const-string register out of range")
            }
            if i.idx <= 0xffff {
                pick(ir.OpConstString, Fmt21c)
            } else {
                pick(ir.OpConstStringJumbo, Fmt31c)
            }
            i.b = i.idx

        case ir.FamConstClass, ir.FamNewInstance, ir.FamCheckCast:
            if !fitsReg8(i.a) {
                return self.fail(i.op.String() + " register out of range")
            }
            pick(i.op, Fmt21c)
            i.b = i.idx

        case ir.FamSGet, ir.FamSPut:
            if !fitsReg8(i.a) {
                return self.fail(i.op.String() + " register out of range")
            }
            pick(i.op, Fmt21c)
            i.b = i.idx

        case ir.FamInstanceOf, ir.FamNewArray, ir.FamIGet, ir.FamIPut:
            if !fitsReg4(i.a) || !fitsReg4(i.b) {
                return self.fail(i.op.String() + " registers out of nibble range")
            }
            pick(i.op, Fmt22c)
            i.c = i.idx

        case ir.FamArrayLength:
            if !fitsReg4(i.a) || !fitsReg4(i.b) {
                return self.fail("array-length registers out of nibble range")
            }
            pick(i.op, Fmt12x)

        case ir.FamUnop:
            if !fitsReg4(i.a) || !fitsReg4(i.b) {
                return self.fail(i.op.String() + " registers out of nibble range")
            }
            pick(i.op, Fmt12x)

        case ir.FamCmp, ir.FamAGet, ir.FamAPut:
            if !fitsReg8(i.a) || !fitsReg8(i.b) || !fitsReg8(i.c) {
                return self.fail(i.op.String() + " registers out of range")
            }
            pick(i.op, Fmt23x)

        case ir.FamFilledNewArray, ir.FamInvoke:
            return self.chooseArity(i)

        case ir.FamFillArrayData:
            if !fitsReg8(i.a) {
                return self.fail("fill-array-data register out of range")
            }
            w := uint32(i.payload.Width)
            if w != 1 && w != 2 && w != 4 && w != 8 {
                return self.fail("fill-array-data element width is not 1, 2, 4 or 8")
            }
            if uint32(len(i.payload.Bytes))%w != 0 {
                return self.fail("fill-array-data table is not a whole number of elements")
            }
            pick(i.op, Fmt31t)

        case ir.FamGoto:
            pick(ir.OpGoto, Fmt10t)

        case ir.FamSwitch:
            if !fitsReg8(i.a) {
                return self.fail("switch register out of range")
            }
            self.chooseSwitch(i)

        case ir.FamIf:
            if i.op.FixedSrcs() == 2 {
                if !fitsReg4(i.a) || !fitsReg4(i.b) {
                    return self.fail(i.op.String() + " registers out of nibble range")
                }
                pick(i.op, Fmt22t)
            } else {
                if !fitsReg8(i.a) {
                    return self.fail(i.op.String() + " register out of range")
                }
                pick(i.op, Fmt21t)
            }

        case ir.FamBinop:
            twoAddr := i.op + (ir.OpAddInt2Addr - ir.OpAddInt)
            switch {
                case i.a == i.b && fitsReg4(i.a) && fitsReg4(i.c):
                    pick(twoAddr, Fmt12x)
                    i.b = i.c
                case fitsReg8(i.a) && fitsReg8(i.b) && fitsReg8(i.c):
                    pick(i.op, Fmt23x)
                default:
                    return self.fail(i.op.String() + " registers out of range")
            }

        case ir.FamBinopLit:
            return self.chooseBinopLit(i)

        default:
            return self.fail("unencodable opcode " + i.op.String())
    }
    return nil
}

func (self *_CodeWriter) chooseConst(i *_MInsn) error {
    pick := func(enc ir.Op, f Format) {
        i.enc = enc
        i.fmt = f
        i.size = f.Units()
    }
    if !fitsReg8(i.a) {
        return self.fail("const register out of range")
    }

    if i.op.DestIsWide() {
        v := i.lit
        switch {
            case fitsS16(v):
                pick(ir.OpConstWide16, Fmt21s)
                i.b = uint32(int32(v))
            case fitsS32(v):
                pick(ir.OpConstWide32, Fmt31i)
                i.b = uint32(int32(v))
            case v&0x0000ffffffffffff == 0:
                pick(ir.OpConstWideHigh16, Fmt21h)
                i.b = uint32(uint64(v) >> 48)
            default:
                pick(ir.OpConstWide, Fmt51l)
                i.wide = uint64(v)
        }
        return nil
    }

    v := int64(int32(i.lit))
    switch {
        case fitsReg4(i.a) && v >= -8 && v <= 7:
            pick(ir.OpConst4, Fmt11n)
            i.b = uint32(int32(v))
        case fitsS16(v):
            pick(ir.OpConst16, Fmt21s)
            i.b = uint32(int32(v))
        case v&0xffff == 0:
            pick(ir.OpConstHigh16, Fmt21h)
            i.b = uint32(int32(v)) >> 16
        default:
            pick(ir.OpConst, Fmt31i)
            i.b = uint32(int32(v))
    }
    return nil
}

// chooseArity encodes invokes and filled-new-array: the five-register form
// when everything fits in nibbles, the range form for consecutive runs.
func (self *_CodeWriter) chooseArity(i *_MInsn) error {
    rangeOp := i.op + 1
    if i.op.Fam() == ir.FamInvoke {
        rangeOp = i.op + (ir.OpInvokeVirtualRange - ir.OpInvokeVirtual)
    }

    small := len(i.regs) <= 5
    for _, r := range i.regs {
        if !fitsReg4(r) {
            small = false
            break
        }
    }
    if small {
        i.enc = i.op
        i.fmt = Fmt35c
        i.size = 3
        i.b = i.idx
        return nil
    }

    for k := 1; k < len(i.regs); k++ {
        if i.regs[k] != i.regs[k-1]+1 {
            return self.fail(i.op.String() + " arguments do not fit either encoding")
        }
    }
    if len(i.regs) > 0xff {
        return self.fail(i.op.String() + " has more than 255 argument registers")
    }
    i.enc = rangeOp
    i.fmt = Fmt3rc
    i.size = 3
    i.b = i.idx
    return nil
}

func (self *_CodeWriter) chooseBinopLit(i *_MInsn) error {
    lit16 := i.op >= ir.OpAddIntLit16 && i.op <= ir.OpXorIntLit16

    if lit16 && fitsReg4(i.a) && fitsReg4(i.b) && fitsS16(i.lit) {
        i.enc = i.op
        i.fmt = Fmt22s
        i.size = 2
        i.c = uint32(int32(i.lit))
        return nil
    }
    if fitsReg8(i.a) && fitsReg8(i.b) && fitsS8(i.lit) {
        i.enc = i.op
        if lit16 {
            i.enc = i.op + (ir.OpAddIntLit8 - ir.OpAddIntLit16)
        }
        i.fmt = Fmt22b
        i.size = 2
        i.c = uint32(int32(i.lit))
        return nil
    }
    return self.fail(i.op.String() + " literal or registers out of range")
}

// chooseSwitch picks the packed payload for a contiguous key run and the
// sparse one otherwise. The instruction itself is always three units.
func (self *_CodeWriter) chooseSwitch(i *_MInsn) {
    n := len(i.keys)
    packed := n > 0 && int64(i.keys[n-1])-int64(i.keys[0]) == int64(n-1)
    if packed || n == 0 {
        i.enc = ir.OpPackedSwitch
    } else {
        i.enc = ir.OpSparseSwitch
    }
    i.fmt = Fmt31t
    i.size = 3
}

// payloadUnits is the out-of-line table size of a switch or fill-array
// instruction, zero for everything else.
func (self *_MInsn) payloadUnits() uint32 {
    switch {
        case self.payload != nil:
            n := uint32(len(self.payload.Bytes))
            return 4 + (n+1)/2

        case self.op.Fam() == ir.FamSwitch:
            n := uint32(len(self.keys))
            if self.enc == ir.OpPackedSwitch {
                return 4 + 2*n
            }
            return 2 + 4*n

        default:
            return 0
    }
}

// layout assigns unit offsets. Only gotos change size, growing until every
// branch distance fits; payloads go after the last instruction, each
// aligned to an even unit.
func (self *_CodeWriter) layout() error {
    for {
        off := uint32(0)
        for _, i := range self.insns {
            i.off = off
            off += i.size
        }
        for _, i := range self.insns {
            if n := i.payloadUnits(); n > 0 {
                if off%2 != 0 {
                    off++
                }
                i.payoff = off
                off += n
            }
        }

        grown := false
        for _, i := range self.insns {
            if i.op.Fam() != ir.FamGoto {
                continue
            }
            dist := int64(self.insns[i.target].off) - int64(i.off)
            need := uint32(3)
            switch {
                case dist != 0 && fitsS8(dist)  : need = 1
                case dist != 0 && fitsS16(dist) : need = 2
            }
            if need > i.size {
                switch need {
                    case 2  : i.enc, i.fmt = ir.OpGoto16, Fmt20t
                    default : i.enc, i.fmt = ir.OpGoto32, Fmt30t
                }
                i.size = need
                grown = true
            }
        }
        if !grown {
            self.end = off
            return nil
        }
    }
}

// posOff maps a stream position to its unit offset; the end position maps
// to the end of the executable body.
func (self *_CodeWriter) posOff(pos int) uint32 {
    if pos < len(self.insns) {
        return self.insns[pos].off
    }
    return self.bodyEnd()
}

func (self *_CodeWriter) bodyEnd() uint32 {
    if len(self.insns) == 0 {
        return 0
    }
    last := self.insns[len(self.insns)-1]
    return last.off + last.size
}

func (self *_CodeWriter) emit(w *_Writer) error {
    units, err := self.emitUnits()
    if err != nil {
        return err
    }

    w.u16(uint16(self.code.Regs()))
    w.u16(uint16(self.insSize()))
    w.u16(uint16(self.outs))
    w.u16(uint16(len(self.regions)))
    w.u32(0) /* debug_info_off */
    w.u32(uint32(len(units)))
    for _, u := range units {
        w.u16(u)
    }
    if len(self.regions) == 0 {
        return nil
    }
    if len(units)%2 != 0 {
        w.u16(0)
    }
    return self.emitTries(w)
}

func (self *_CodeWriter) emitUnits() ([]uint16, error) {
    total := self.end
    units := make([]uint16, total)

    for _, i := range self.insns {
        if err := self.encodeInsn(units, i); err != nil {
            return nil, err
        }
        if i.payloadUnits() > 0 {
            self.encodePayload(units, i)
        }
    }
    return units, nil
}

func (self *_CodeWriter) encodeInsn(units []uint16, i *_MInsn) error {
    op := uint16(i.enc)
    at := i.off

    switch i.fmt {
        case Fmt10x:
            units[at] = op

        case Fmt12x:
            units[at] = op | uint16(i.a)<<8 | uint16(i.b)<<12

        case Fmt11n:
            units[at] = op | uint16(i.a)<<8 | uint16(i.b&0xf)<<12

        case Fmt11x:
            units[at] = op | uint16(i.a)<<8

        case Fmt10t:
            dist := int64(self.insns[i.target].off) - int64(i.off)
            units[at] = op | uint16(int8(dist))<<8

        case Fmt20t:
            dist := int64(self.insns[i.target].off) - int64(i.off)
            units[at] = op
            units[at+1] = uint16(int16(dist))

        case Fmt30t:
            dist := int64(self.insns[i.target].off) - int64(i.off)
            units[at] = op
            units[at+1] = uint16(uint32(int32(dist)))
            units[at+2] = uint16(uint32(int32(dist)) >> 16)

        case Fmt22x:
            units[at] = op | uint16(i.a)<<8
            units[at+1] = uint16(i.b)

        case Fmt21t:
            dist := int64(self.insns[i.target].off) - int64(i.off)
            if !fitsS16(dist) || dist == 0 {
                return self.fail(i.op.String() + " branch distance does not fit")
            }
            units[at] = op | uint16(i.a)<<8
            units[at+1] = uint16(int16(dist))

        case Fmt21s, Fmt21h, Fmt21c:
            units[at] = op | uint16(i.a)<<8
            units[at+1] = uint16(i.b)

        case Fmt23x:
            units[at] = op | uint16(i.a)<<8
            units[at+1] = uint16(i.b) | uint16(i.c)<<8

        case Fmt22b:
            units[at] = op | uint16(i.a)<<8
            units[at+1] = uint16(i.b) | uint16(i.c&0xff)<<8

        case Fmt22t:
            dist := int64(self.insns[i.target].off) - int64(i.off)
            if !fitsS16(dist) || dist == 0 {
                return self.fail(i.op.String() + " branch distance does not fit")
            }
            units[at] = op | uint16(i.a)<<8 | uint16(i.b)<<12
            units[at+1] = uint16(int16(dist))

        case Fmt22s, Fmt22c:
            units[at] = op | uint16(i.a)<<8 | uint16(i.b)<<12
            units[at+1] = uint16(i.c)

        case Fmt32x:
            units[at] = op
            units[at+1] = uint16(i.a)
            units[at+2] = uint16(i.b)

        case Fmt31i:
            units[at] = op | uint16(i.a)<<8
            units[at+1] = uint16(i.b)
            units[at+2] = uint16(i.b >> 16)

        case Fmt31t:
            rel := int64(i.payoff) - int64(i.off)
            units[at] = op | uint16(i.a)<<8
            units[at+1] = uint16(uint32(rel))
            units[at+2] = uint16(uint32(rel) >> 16)

        case Fmt31c:
            units[at] = op | uint16(i.a)<<8
            units[at+1] = uint16(i.b)
            units[at+2] = uint16(i.b >> 16)

        case Fmt35c:
            var g uint16
            var cdef [4]uint16
            for k, r := range i.regs {
                if k == 4 {
                    g = uint16(r)
                } else {
                    cdef[k] = uint16(r)
                }
            }
            units[at] = op | uint16(len(i.regs))<<12 | g<<8
            units[at+1] = uint16(i.b)
            units[at+2] = cdef[0] | cdef[1]<<4 | cdef[2]<<8 | cdef[3]<<12

        case Fmt3rc:
            first := uint16(0)
            if len(i.regs) > 0 {
                first = uint16(i.regs[0])
            }
            units[at] = op | uint16(len(i.regs))<<8
            units[at+1] = uint16(i.b)
            units[at+2] = first

        case Fmt51l:
            units[at] = op | uint16(i.a)<<8
            units[at+1] = uint16(i.wide)
            units[at+2] = uint16(i.wide >> 16)
            units[at+3] = uint16(i.wide >> 32)
            units[at+4] = uint16(i.wide >> 48)

        default:
            return self.fail("no format chosen for " + i.op.String())
    }
    return nil
}

func (self *_CodeWriter) encodePayload(units []uint16, i *_MInsn) {
    at := i.payoff

    if i.payload != nil {
        bs := i.payload.Bytes
        n := uint32(len(bs)) / uint32(i.payload.Width)
        units[at] = _IdentFillArray
        units[at+1] = i.payload.Width
        units[at+2] = uint16(n)
        units[at+3] = uint16(n >> 16)
        for k, b := range bs {
            if k%2 == 0 {
                units[at+4+uint32(k)/2] = uint16(b)
            } else {
                units[at+4+uint32(k)/2] |= uint16(b) << 8
            }
        }
        return
    }

    n := uint32(len(i.keys))
    if i.enc == ir.OpPackedSwitch {
        units[at] = _IdentPackedSwitch
        units[at+1] = uint16(n)
        first := int32(0)
        if n > 0 {
            first = i.keys[0]
        }
        units[at+2] = uint16(uint32(first))
        units[at+3] = uint16(uint32(first) >> 16)
        for k := uint32(0); k < n; k++ {
            rel := uint32(self.insns[i.cases[k]].off) - i.off
            units[at+4+2*k] = uint16(rel)
            units[at+5+2*k] = uint16(rel >> 16)
        }
        return
    }

    units[at] = _IdentSparseSwitch
    units[at+1] = uint16(n)
    for k := uint32(0); k < n; k++ {
        units[at+2+2*k] = uint16(uint32(i.keys[k]))
        units[at+3+2*k] = uint16(uint32(i.keys[k]) >> 16)
    }
    for k := uint32(0); k < n; k++ {
        rel := uint32(self.insns[i.cases[k]].off) - i.off
        units[at+2+2*n+2*k] = uint16(rel)
        units[at+3+2*n+2*k] = uint16(rel >> 16)
    }
}

// emitTries writes the try_item records and the handler list. Handler
// chains are shared between regions that carry the same chain head.
func (self *_CodeWriter) emitTries(w *_Writer) error {
    handlers := new(_Writer)
    handlers.uleb128(uint32(len(self.chains)))
    chainOff := make(map[*ir.Entry]uint32, len(self.chains))

    for _, head := range self.chains {
        chainOff[head] = handlers.len()
        if err := self.encodeChain(handlers, head); err != nil {
            return err
        }
    }

    for _, r := range self.regions {
        start := self.posOff(r.start)
        end := self.posOff(r.end)
        if end-start > 0xffff {
            return self.fail("try region covers more than 65535 units")
        }
        w.u32(start)
        w.u16(uint16(end - start))
        w.u16(uint16(chainOff[r.chain]))
    }
    w.raw(handlers.buf)
    return nil
}

func (self *_CodeWriter) encodeChain(w *_Writer, head *ir.Entry) error {
    var typed []*ir.Entry
    var all *ir.Entry

    for e := head; e != nil; e = e.Catch.Next {
        if e.Catch.Type == nil {
            if e.Catch.Next != nil {
                return self.fail("catch-all handler is not the last of its chain")
            }
            all = e
            continue
        }
        typed = append(typed, e)
    }

    n := int32(len(typed))
    if all != nil {
        n = -n
    }
    w.sleb128(n)
    for _, e := range typed {
        pos, ok := self.catchPos[e]
        if !ok || pos >= len(self.insns) {
            return self.fail("exception handler does not point at an instruction")
        }
        w.uleb128(self.pools.types[e.Catch.Type])
        w.uleb128(self.posOff(pos))
    }
    if all != nil {
        pos, ok := self.catchPos[all]
        if !ok || pos >= len(self.insns) {
            return self.fail("exception handler does not point at an instruction")
        }
        w.uleb128(self.posOff(pos))
    }
    return nil
}
