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
    `github.com/bytedance/dexter/internal/ir`
)

// _BranchFix is a pending branch target, resolved once every instruction
// address is known.
type _BranchFix struct {
    src  *ir.Entry
    off  uint32
    kind ir.BranchTargetKind
    key  int32
}

// _Chain is one decoded encoded_catch_handler: the catch entries in
// declared order, with the handler address of each.
type _Chain struct {
    head  *ir.Entry
    nodes []*ir.Entry
    addrs []uint32
}

// _TryRec is one try_item with its handler chain attached.
type _TryRec struct {
    start uint32
    end   uint32
    chain *_Chain
}

// _CodeReader turns one code_item into the linear instruction list of an
// ir.Code. Marker entries for an address go in before its instruction in
// the order try-end, catches, targets, try-start, which keeps the region
// half open and the labels outside it.
type _CodeReader struct {
    img      *_Image
    m        *ir.MethodRef
    base     uint32
    code     *ir.Code
    list     *ir.InstructionList
    units    []uint16
    insnAt   []*ir.Entry
    tries    []_TryRec
    chains   []*_Chain
    branches []_BranchFix
}

func (self *_Image) readCode(m *ir.MethodRef, off uint32) (*ir.Code, error) {
    rd := self.root().at(off)
    regs := uint32(rd.u16())
    ins := uint32(rd.u16())
    rd.u16() /* outs_size, recomputed on write */
    tries := uint32(rd.u16())
    rd.u32() /* debug_info_off, dropped */
    count := rd.u32()
    if rd.err != nil {
        return nil, rd.err
    }

    want := uint32(m.Proto().RegsForArgs())
    if !m.Def().Access.Has(ir.AccStatic) {
        want++
    }
    switch {
        case ins != want : return nil, &FormatError{Off: off, Reason: "ins_size does not match the prototype of " + m.Key()}
        case ins > regs  : return nil, &FormatError{Off: off, Reason: "ins_size exceeds the register count of " + m.Key()}
    }

    units := make([]uint16, count)
    for i := range units {
        units[i] = rd.u16()
    }
    if rd.err != nil {
        return nil, rd.err
    }

    cr := &_CodeReader{
        img    : self,
        m      : m,
        base   : off,
        units  : units,
        insnAt : make([]*ir.Entry, count),
    }
    cr.code = ir.NewCodeForMethod(m, regs-ins)
    cr.list = cr.code.List()

    if err := cr.scan(); err != nil {
        return nil, err
    }
    if tries > 0 {
        if count%2 != 0 {
            rd.u16() /* alignment */
        }
        if err := cr.readTries(rd, tries); err != nil {
            return nil, err
        }
    }
    if err := cr.link(); err != nil {
        return nil, err
    }
    return cr.code, nil
}

// errAt reports a malformed code item; pos is in code units.
func (self *_CodeReader) errAt(pos uint32, reason string) error {
    return &FormatError{Off: self.base + 16 + 2*pos, Reason: reason + " in " + self.m.Key()}
}

// payloadSize reports whether the unit at pos opens a data payload, and the
// payload size in units. Size zero means the header itself is truncated.
func payloadSize(units []uint16, pos uint32) (uint32, bool) {
    left := uint32(len(units)) - pos
    switch units[pos] {
        case _IdentPackedSwitch:
            if left < 2 {
                return 0, true
            }
            return 4 + 2*uint32(units[pos+1]), true

        case _IdentSparseSwitch:
            if left < 2 {
                return 0, true
            }
            return 2 + 4*uint32(units[pos+1]), true

        case _IdentFillArray:
            if left < 4 {
                return 0, true
            }
            width := uint32(units[pos+1])
            size := uint32(units[pos+2]) | uint32(units[pos+3])<<16
            return 4 + (size*width+1)/2, true

        default:
            return 0, false
    }
}

func (self *_CodeReader) scan() error {
    n := uint32(len(self.units))
    for pos := uint32(0); pos < n; {
        if size, payload := payloadSize(self.units, pos); payload {
            if size == 0 || n-pos < size {
                return self.errAt(pos, "truncated data payload")
            }
            pos += size
            continue
        }
        d, ferr := decodeRaw(self.units, pos)
        if ferr != nil {
            return self.errAt(ferr.Off, ferr.Reason)
        }
        if err := self.emit(d); err != nil {
            return err
        }
        pos += d.size
    }
    return nil
}

// normalizeOp folds the encoding variants of an opcode onto one canonical
// IR opcode. The writer re-derives the smallest variant from the operands,
// so keeping the original one would only split equivalent instructions.
func normalizeOp(op ir.Op) ir.Op {
    if op >= ir.OpAddInt2Addr && op <= ir.OpRemDouble2Addr {
        return op - (ir.OpAddInt2Addr - ir.OpAddInt)
    }
    if op >= ir.OpInvokeVirtualRange && op <= ir.OpInvokeInterfaceRange {
        return op - (ir.OpInvokeVirtualRange - ir.OpInvokeVirtual)
    }
    if op >= ir.OpAddIntLit8 && op <= ir.OpXorIntLit8 {
        return op - (ir.OpAddIntLit8 - ir.OpAddIntLit16)
    }
    switch op {
        case ir.OpMoveFrom16, ir.OpMove16                              : return ir.OpMove
        case ir.OpMoveWideFrom16, ir.OpMoveWide16                      : return ir.OpMoveWide
        case ir.OpMoveObjectFrom16, ir.OpMoveObject16                  : return ir.OpMoveObject
        case ir.OpConst4, ir.OpConst16, ir.OpConstHigh16               : return ir.OpConst
        case ir.OpConstWide16, ir.OpConstWide32, ir.OpConstWideHigh16  : return ir.OpConstWide
        case ir.OpConstStringJumbo                                     : return ir.OpConstString
        case ir.OpGoto16, ir.OpGoto32                                  : return ir.OpGoto
        case ir.OpFilledNewArrayRange                                  : return ir.OpFilledNewArray
        default                                                        : return op
    }
}

// emit builds the IR for one decoded instruction. Opcodes that deliver
// their value through a companion are split into the opcode plus a
// move-result-pseudo writing the encoded dest register.
func (self *_CodeReader) emit(d _Raw) error {
    op := normalizeOp(d.op)
    insn := ir.NewInsn(op)
    e := ir.NewInsnEntry(insn)
    pseudoDest := ir.RegInvalid

    switch op.Fam() {
        case ir.FamNop:
            /* alignment artifact, kept to preserve addresses */

        case ir.FamMove, ir.FamUnop:
            insn.SetDest(ir.Reg(d.a)).SetSrcs(ir.Reg(d.b))

        case ir.FamMoveResult, ir.FamMoveException:
            insn.SetDest(ir.Reg(d.a))

        case ir.FamReturn:
            if op != ir.OpReturnVoid {
                insn.SetSrcs(ir.Reg(d.a))
            }

        case ir.FamConst:
            insn.SetDest(ir.Reg(d.a))
            if op.DestIsWide() {
                insn.SetLiteral(int64(d.wide))
            } else {
                insn.SetLiteral(int64(int32(d.b)))
            }

        case ir.FamConstString:
            insn.SetString(self.img.str(d.b))
            pseudoDest = ir.Reg(d.a)

        case ir.FamConstClass:
            insn.SetType(self.img.typ(d.b))
            pseudoDest = ir.Reg(d.a)

        case ir.FamMonitor, ir.FamThrow:
            insn.SetSrcs(ir.Reg(d.a))

        case ir.FamCheckCast:
            insn.SetSrcs(ir.Reg(d.a)).SetType(self.img.typ(d.b))
            pseudoDest = ir.Reg(d.a)

        case ir.FamInstanceOf:
            insn.SetSrcs(ir.Reg(d.b)).SetType(self.img.typ(d.c))
            pseudoDest = ir.Reg(d.a)

        case ir.FamArrayLength:
            insn.SetSrcs(ir.Reg(d.b))
            pseudoDest = ir.Reg(d.a)

        case ir.FamNewInstance:
            insn.SetType(self.img.typ(d.b))
            pseudoDest = ir.Reg(d.a)

        case ir.FamNewArray:
            insn.SetSrcs(ir.Reg(d.b)).SetType(self.img.typ(d.c))
            pseudoDest = ir.Reg(d.a)

        case ir.FamFilledNewArray:
            insn.SetSrcs(d.regs...).SetType(self.img.typ(d.b))

        case ir.FamFillArrayData:
            data, err := self.fillArrayAt(d.b)
            if err != nil {
                return err
            }
            insn.SetSrcs(ir.Reg(d.a)).SetData(data)

        case ir.FamGoto:
            self.branchTo(e, d.a)

        case ir.FamSwitch:
            insn.SetSrcs(ir.Reg(d.a))
            if err := self.switchTargets(e, d); err != nil {
                return err
            }

        case ir.FamCmp:
            insn.SetDest(ir.Reg(d.a)).SetSrcs(ir.Reg(d.b), ir.Reg(d.c))

        case ir.FamIf:
            if op.FixedSrcs() == 2 {
                insn.SetSrcs(ir.Reg(d.a), ir.Reg(d.b))
                self.branchTo(e, d.c)
            } else {
                insn.SetSrcs(ir.Reg(d.a))
                self.branchTo(e, d.b)
            }

        case ir.FamAGet:
            insn.SetSrcs(ir.Reg(d.b), ir.Reg(d.c))
            pseudoDest = ir.Reg(d.a)

        case ir.FamAPut:
            insn.SetSrcs(ir.Reg(d.a), ir.Reg(d.b), ir.Reg(d.c))

        case ir.FamIGet:
            insn.SetSrcs(ir.Reg(d.b)).SetField(self.img.fld(d.c))
            pseudoDest = ir.Reg(d.a)

        case ir.FamIPut:
            insn.SetSrcs(ir.Reg(d.a), ir.Reg(d.b)).SetField(self.img.fld(d.c))

        case ir.FamSGet:
            insn.SetField(self.img.fld(d.b))
            pseudoDest = ir.Reg(d.a)

        case ir.FamSPut:
            insn.SetSrcs(ir.Reg(d.a)).SetField(self.img.fld(d.b))

        case ir.FamInvoke:
            mref := self.img.mth(d.b)
            if self.img.err != nil {
                return self.img.err
            }
            srcs, err := self.collapseArgs(d, op, mref)
            if err != nil {
                return err
            }
            insn.SetMethod(mref).SetSrcs(srcs...)

        case ir.FamBinop:
            b, c := d.b, d.c
            if formatOf(d.op) == Fmt12x {
                /* 2addr forms read their first operand from the dest */
                b, c = d.a, d.b
            }
            if op.HasMoveResultPseudo() {
                insn.SetSrcs(ir.Reg(b), ir.Reg(c))
                pseudoDest = ir.Reg(d.a)
            } else {
                insn.SetDest(ir.Reg(d.a)).SetSrcs(ir.Reg(b), ir.Reg(c))
            }

        case ir.FamBinopLit:
            insn.SetLiteral(int64(int32(d.c)))
            if op.HasMoveResultPseudo() {
                insn.SetSrcs(ir.Reg(d.b))
                pseudoDest = ir.Reg(d.a)
            } else {
                insn.SetDest(ir.Reg(d.a)).SetSrcs(ir.Reg(d.b))
            }

        default:
            return self.errAt(d.off, "unhandled opcode "+op.String())
    }

    if self.img.err != nil {
        return self.img.err
    }
    self.list.PushBack(e)
    self.insnAt[d.off] = e

    if pseudoDest != ir.RegInvalid {
        pseudo := ir.NewInsn(op.MoveResultPseudoFor()).SetDest(pseudoDest)
        self.list.PushBack(ir.NewInsnEntry(pseudo))
    }
    return nil
}

func (self *_CodeReader) branchTo(src *ir.Entry, off uint32) {
    self.branches = append(self.branches, _BranchFix{src: src, off: off, kind: ir.TargetSimple})
}

// collapseArgs maps the encoded argument registers of an invoke onto one
// source per declared argument, checking that wide arguments occupy
// consecutive pairs.
func (self *_CodeReader) collapseArgs(d _Raw, op ir.Op, m *ir.MethodRef) ([]ir.Reg, error) {
    i := 0
    args := m.Proto().Args().Types()
    out := make([]ir.Reg, 0, len(args)+1)

    if op != ir.OpInvokeStatic {
        if len(d.regs) == 0 {
            return nil, self.errAt(d.off, "invoke of "+m.Key()+" is missing its receiver")
        }
        out = append(out, d.regs[0])
        i = 1
    }
    for _, t := range args {
        switch {
            case i >= len(d.regs):
                return nil, self.errAt(d.off, "argument registers do not match the prototype of "+m.Key())
            case t.IsWide():
                if i+1 >= len(d.regs) || d.regs[i+1] != d.regs[i]+1 {
                    return nil, self.errAt(d.off, "wide argument of "+m.Key()+" is not a consecutive register pair")
                }
                out = append(out, d.regs[i])
                i += 2
            default:
                out = append(out, d.regs[i])
                i++
        }
    }
    if i != len(d.regs) {
        return nil, self.errAt(d.off, "argument registers do not match the prototype of "+m.Key())
    }
    return out, nil
}

// s32at reads a 32-bit little-endian value from two code units.
func (self *_CodeReader) s32at(pos uint32) int32 {
    return int32(uint32(self.units[pos]) | uint32(self.units[pos+1])<<16)
}

// switchTargets parses the switch payload and records one case target per
// key. The payload itself is not kept; the writer regenerates it.
func (self *_CodeReader) switchTargets(e *ir.Entry, d _Raw) error {
    pos := d.b
    total := uint32(len(self.units))
    if pos >= total {
        return self.errAt(d.off, "switch payload out of range")
    }

    want := uint16(_IdentPackedSwitch)
    if d.op == ir.OpSparseSwitch {
        want = _IdentSparseSwitch
    }
    if self.units[pos] != want {
        return self.errAt(d.off, "switch does not point at its payload")
    }
    size, _ := payloadSize(self.units, pos)
    if size == 0 || total-pos < size {
        return self.errAt(pos, "truncated data payload")
    }

    n := uint32(self.units[pos+1])
    if d.op == ir.OpPackedSwitch {
        first := self.s32at(pos + 2)
        for i := uint32(0); i < n; i++ {
            rel := self.s32at(pos + 4 + 2*i)
            self.caseTo(e, d.off+uint32(rel), first+int32(i))
        }
        return nil
    }

    prev := int32(0)
    for i := uint32(0); i < n; i++ {
        key := self.s32at(pos + 2 + 2*i)
        rel := self.s32at(pos + 2 + 2*n + 2*i)
        if i > 0 && key <= prev {
            return self.errAt(pos, "sparse switch keys are not sorted")
        }
        prev = key
        self.caseTo(e, d.off+uint32(rel), key)
    }
    return nil
}

func (self *_CodeReader) caseTo(src *ir.Entry, off uint32, key int32) {
    self.branches = append(self.branches, _BranchFix{src: src, off: off, kind: ir.TargetCase, key: key})
}

// fillArrayAt decodes a fill-array-data payload at an absolute unit offset.
func (self *_CodeReader) fillArrayAt(pos uint32) (*ir.DataPayload, error) {
    total := uint32(len(self.units))
    if pos >= total || self.units[pos] != _IdentFillArray {
        return nil, self.errAt(pos, "fill-array-data does not point at its payload")
    }
    size, _ := payloadSize(self.units, pos)
    if size == 0 || total-pos < size {
        return nil, self.errAt(pos, "truncated data payload")
    }

    width := self.units[pos+1]
    count := uint32(self.units[pos+2]) | uint32(self.units[pos+3])<<16
    bytes := make([]byte, count*uint32(width))
    for i := range bytes {
        u := self.units[pos+4+uint32(i)/2]
        if i%2 == 0 {
            bytes[i] = byte(u)
        } else {
            bytes[i] = byte(u >> 8)
        }
    }
    return &ir.DataPayload{Kind: ir.DataFillArray, Width: width, Bytes: bytes}, nil
}

func (self *_CodeReader) insnEntryAt(off uint32) *ir.Entry {
    if off < uint32(len(self.insnAt)) {
        return self.insnAt[off]
    }
    return nil
}

func (self *_CodeReader) readTries(rd *_Reader, tries uint32) error {
    type rawTry struct {
        start uint32
        end   uint32
        hoff  uint32
    }
    raws := make([]rawTry, tries)
    for i := range raws {
        start := rd.u32()
        count := uint32(rd.u16())
        hoff := uint32(rd.u16())
        raws[i] = rawTry{start: start, end: start + count, hoff: hoff}
    }
    if rd.err != nil {
        return rd.err
    }

    /* handler offsets are relative to the list that follows the records */
    base := rd.pos
    chains := make(map[uint32]*_Chain)
    prevEnd := uint32(0)
    total := uint32(len(self.units))

    for _, r := range raws {
        switch {
            case r.end > total      : return self.errAt(r.start, "try region runs past the end of the method")
            case r.start < prevEnd  : return self.errAt(r.start, "overlapping try regions")
        }
        prevEnd = r.end
        if r.start == r.end {
            continue
        }
        ch := chains[r.hoff]
        if ch == nil {
            parsed, err := self.parseChain(base + r.hoff)
            if err != nil {
                return err
            }
            ch = parsed
            chains[r.hoff] = ch
            self.chains = append(self.chains, ch)
        }
        self.tries = append(self.tries, _TryRec{start: r.start, end: r.end, chain: ch})
    }
    return nil
}

// parseChain decodes one encoded_catch_handler. A non-positive size means
// a catch-all handler follows the typed pairs.
func (self *_CodeReader) parseChain(off uint32) (*_Chain, error) {
    rd := self.img.root().at(off)
    n := rd.sleb128()
    pairs := n
    if pairs < 0 {
        pairs = -pairs
    }

    ch := new(_Chain)
    for i := int32(0); i < pairs; i++ {
        t := self.img.typ(rd.uleb128())
        addr := rd.uleb128()
        if self.img.err != nil {
            return nil, self.img.err
        }
        ch.nodes = append(ch.nodes, ir.NewCatchEntryNode(t))
        ch.addrs = append(ch.addrs, addr)
    }
    if n <= 0 {
        addr := rd.uleb128()
        ch.nodes = append(ch.nodes, ir.NewCatchEntryNode(nil))
        ch.addrs = append(ch.addrs, addr)
    }
    if rd.err != nil {
        return nil, rd.err
    }

    for i := 0; i+1 < len(ch.nodes); i++ {
        ch.nodes[i].Catch.Next = ch.nodes[i+1]
    }
    ch.head = ch.nodes[0]
    return ch, nil
}

// link places the marker entries. Insertion order per address decides the
// list order, so the phases run try-end, catches, targets, try-start.
func (self *_CodeReader) link() error {
    total := uint32(len(self.units))

    for _, t := range self.tries {
        te := ir.NewTryEnd(t.chain.head)
        if t.end == total {
            self.list.PushBack(te)
            continue
        }
        at := self.insnEntryAt(t.end)
        if at == nil {
            return self.errAt(t.end, "try region boundary inside an instruction")
        }
        self.list.InsertBefore(at, te)
    }

    for _, ch := range self.chains {
        for i, node := range ch.nodes {
            at := self.insnEntryAt(ch.addrs[i])
            if at == nil {
                return self.errAt(ch.addrs[i], "exception handler inside an instruction")
            }
            self.list.InsertBefore(at, node)
        }
    }

    for _, b := range self.branches {
        at := self.insnEntryAt(b.off)
        if at == nil {
            return self.errAt(b.off, "branch into the middle of an instruction")
        }
        t := ir.NewTargetEntry(&ir.BranchTarget{Kind: b.kind, Src: b.src, Case: b.key})
        self.list.InsertBefore(at, t)
    }

    for _, t := range self.tries {
        at := self.insnEntryAt(t.start)
        if at == nil {
            return self.errAt(t.start, "try region boundary inside an instruction")
        }
        self.list.InsertBefore(at, ir.NewTryStart(t.chain.head))
    }
    return nil
}
