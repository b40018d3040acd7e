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

// Format is a DEX instruction encoding shape. The name reads as unit
// count, register count, and a trailing kind letter the way the format
// spec writes them: 22c is two units, two registers, and a constant pool
// index.
type Format uint8

const (
    FmtInvalid Format = iota
    Fmt10x
    Fmt12x
    Fmt11n
    Fmt11x
    Fmt10t
    Fmt20t
    Fmt22x
    Fmt21t
    Fmt21s
    Fmt21h
    Fmt21c
    Fmt23x
    Fmt22b
    Fmt22t
    Fmt22s
    Fmt22c
    Fmt30t
    Fmt32x
    Fmt31i
    Fmt31t
    Fmt31c
    Fmt35c
    Fmt3rc
    Fmt51l
)

// Units is the encoded size in 16-bit code units.
func (self Format) Units() uint32 {
    switch self {
        case Fmt10x, Fmt12x, Fmt11n, Fmt11x, Fmt10t:
            return 1
        case Fmt20t, Fmt22x, Fmt21t, Fmt21s, Fmt21h, Fmt21c, Fmt23x, Fmt22b, Fmt22t, Fmt22s, Fmt22c:
            return 2
        case Fmt30t, Fmt32x, Fmt31i, Fmt31t, Fmt31c, Fmt35c, Fmt3rc:
            return 3
        case Fmt51l:
            return 5
        default:
            return 0
    }
}

// formatOf maps an encodable opcode to its format. Pseudo opcodes and the
// unassigned gaps of the opcode space map to FmtInvalid.
func formatOf(op ir.Op) Format {
    if op < 0x100 {
        return _FormatTab[op]
    }
    return FmtInvalid
}

// _FormatTab follows the published opcode table; unlisted values stay
// FmtInvalid.
var _FormatTab = [0x100]Format{
    ir.OpNop              : Fmt10x,
    ir.OpMove             : Fmt12x,
    ir.OpMoveFrom16       : Fmt22x,
    ir.OpMove16           : Fmt32x,
    ir.OpMoveWide         : Fmt12x,
    ir.OpMoveWideFrom16   : Fmt22x,
    ir.OpMoveWide16       : Fmt32x,
    ir.OpMoveObject       : Fmt12x,
    ir.OpMoveObjectFrom16 : Fmt22x,
    ir.OpMoveObject16     : Fmt32x,
    ir.OpMoveResult       : Fmt11x,
    ir.OpMoveResultWide   : Fmt11x,
    ir.OpMoveResultObject : Fmt11x,
    ir.OpMoveException    : Fmt11x,
    ir.OpReturnVoid       : Fmt10x,
    ir.OpReturn           : Fmt11x,
    ir.OpReturnWide       : Fmt11x,
    ir.OpReturnObject     : Fmt11x,
    ir.OpConst4           : Fmt11n,
    ir.OpConst16          : Fmt21s,
    ir.OpConst            : Fmt31i,
    ir.OpConstHigh16      : Fmt21h,
    ir.OpConstWide16      : Fmt21s,
    ir.OpConstWide32      : Fmt31i,
    ir.OpConstWide        : Fmt51l,
    ir.OpConstWideHigh16  : Fmt21h,
    ir.OpConstString      : Fmt21c,
    ir.OpConstStringJumbo : Fmt31c,
    ir.OpConstClass       : Fmt21c,
    ir.OpMonitorEnter     : Fmt11x,
    ir.OpMonitorExit      : Fmt11x,
    ir.OpCheckCast        : Fmt21c,
    ir.OpInstanceOf       : Fmt22c,
    ir.OpArrayLength      : Fmt12x,
    ir.OpNewInstance      : Fmt21c,
    ir.OpNewArray         : Fmt22c,
    ir.OpFilledNewArray   : Fmt35c,
    ir.OpFilledNewArrayRange : Fmt3rc,
    ir.OpFillArrayData    : Fmt31t,
    ir.OpThrow            : Fmt11x,
    ir.OpGoto             : Fmt10t,
    ir.OpGoto16           : Fmt20t,
    ir.OpGoto32           : Fmt30t,
    ir.OpPackedSwitch     : Fmt31t,
    ir.OpSparseSwitch     : Fmt31t,
    ir.OpCmplFloat        : Fmt23x,
    ir.OpCmpgFloat        : Fmt23x,
    ir.OpCmplDouble       : Fmt23x,
    ir.OpCmpgDouble       : Fmt23x,
    ir.OpCmpLong          : Fmt23x,
    ir.OpIfEq             : Fmt22t,
    ir.OpIfNe             : Fmt22t,
    ir.OpIfLt             : Fmt22t,
    ir.OpIfGe             : Fmt22t,
    ir.OpIfGt             : Fmt22t,
    ir.OpIfLe             : Fmt22t,
    ir.OpIfEqz            : Fmt21t,
    ir.OpIfNez            : Fmt21t,
    ir.OpIfLtz            : Fmt21t,
    ir.OpIfGez            : Fmt21t,
    ir.OpIfGtz            : Fmt21t,
    ir.OpIfLez            : Fmt21t,
    ir.OpAget             : Fmt23x,
    ir.OpAgetWide         : Fmt23x,
    ir.OpAgetObject       : Fmt23x,
    ir.OpAgetBoolean      : Fmt23x,
    ir.OpAgetByte         : Fmt23x,
    ir.OpAgetChar         : Fmt23x,
    ir.OpAgetShort        : Fmt23x,
    ir.OpAput             : Fmt23x,
    ir.OpAputWide         : Fmt23x,
    ir.OpAputObject       : Fmt23x,
    ir.OpAputBoolean      : Fmt23x,
    ir.OpAputByte         : Fmt23x,
    ir.OpAputChar         : Fmt23x,
    ir.OpAputShort        : Fmt23x,
    ir.OpIget             : Fmt22c,
    ir.OpIgetWide         : Fmt22c,
    ir.OpIgetObject       : Fmt22c,
    ir.OpIgetBoolean      : Fmt22c,
    ir.OpIgetByte         : Fmt22c,
    ir.OpIgetChar         : Fmt22c,
    ir.OpIgetShort        : Fmt22c,
    ir.OpIput             : Fmt22c,
    ir.OpIputWide         : Fmt22c,
    ir.OpIputObject       : Fmt22c,
    ir.OpIputBoolean      : Fmt22c,
    ir.OpIputByte         : Fmt22c,
    ir.OpIputChar         : Fmt22c,
    ir.OpIputShort        : Fmt22c,
    ir.OpSget             : Fmt21c,
    ir.OpSgetWide         : Fmt21c,
    ir.OpSgetObject       : Fmt21c,
    ir.OpSgetBoolean      : Fmt21c,
    ir.OpSgetByte         : Fmt21c,
    ir.OpSgetChar         : Fmt21c,
    ir.OpSgetShort        : Fmt21c,
    ir.OpSput             : Fmt21c,
    ir.OpSputWide         : Fmt21c,
    ir.OpSputObject       : Fmt21c,
    ir.OpSputBoolean      : Fmt21c,
    ir.OpSputByte         : Fmt21c,
    ir.OpSputChar         : Fmt21c,
    ir.OpSputShort        : Fmt21c,
    ir.OpInvokeVirtual    : Fmt35c,
    ir.OpInvokeSuper      : Fmt35c,
    ir.OpInvokeDirect     : Fmt35c,
    ir.OpInvokeStatic     : Fmt35c,
    ir.OpInvokeInterface  : Fmt35c,
    ir.OpInvokeVirtualRange   : Fmt3rc,
    ir.OpInvokeSuperRange     : Fmt3rc,
    ir.OpInvokeDirectRange    : Fmt3rc,
    ir.OpInvokeStaticRange    : Fmt3rc,
    ir.OpInvokeInterfaceRange : Fmt3rc,
    ir.OpNegInt           : Fmt12x,
    ir.OpNotInt           : Fmt12x,
    ir.OpNegLong          : Fmt12x,
    ir.OpNotLong          : Fmt12x,
    ir.OpNegFloat         : Fmt12x,
    ir.OpNegDouble        : Fmt12x,
    ir.OpIntToLong        : Fmt12x,
    ir.OpIntToFloat       : Fmt12x,
    ir.OpIntToDouble      : Fmt12x,
    ir.OpLongToInt        : Fmt12x,
    ir.OpLongToFloat      : Fmt12x,
    ir.OpLongToDouble     : Fmt12x,
    ir.OpFloatToInt       : Fmt12x,
    ir.OpFloatToLong      : Fmt12x,
    ir.OpFloatToDouble    : Fmt12x,
    ir.OpDoubleToInt      : Fmt12x,
    ir.OpDoubleToLong     : Fmt12x,
    ir.OpDoubleToFloat    : Fmt12x,
    ir.OpIntToByte        : Fmt12x,
    ir.OpIntToChar        : Fmt12x,
    ir.OpIntToShort       : Fmt12x,
    ir.OpAddInt           : Fmt23x,
    ir.OpSubInt           : Fmt23x,
    ir.OpMulInt           : Fmt23x,
    ir.OpDivInt           : Fmt23x,
    ir.OpRemInt           : Fmt23x,
    ir.OpAndInt           : Fmt23x,
    ir.OpOrInt            : Fmt23x,
    ir.OpXorInt           : Fmt23x,
    ir.OpShlInt           : Fmt23x,
    ir.OpShrInt           : Fmt23x,
    ir.OpUshrInt          : Fmt23x,
    ir.OpAddLong          : Fmt23x,
    ir.OpSubLong          : Fmt23x,
    ir.OpMulLong          : Fmt23x,
    ir.OpDivLong          : Fmt23x,
    ir.OpRemLong          : Fmt23x,
    ir.OpAndLong          : Fmt23x,
    ir.OpOrLong           : Fmt23x,
    ir.OpXorLong          : Fmt23x,
    ir.OpShlLong          : Fmt23x,
    ir.OpShrLong          : Fmt23x,
    ir.OpUshrLong         : Fmt23x,
    ir.OpAddFloat         : Fmt23x,
    ir.OpSubFloat         : Fmt23x,
    ir.OpMulFloat         : Fmt23x,
    ir.OpDivFloat         : Fmt23x,
    ir.OpRemFloat         : Fmt23x,
    ir.OpAddDouble        : Fmt23x,
    ir.OpSubDouble        : Fmt23x,
    ir.OpMulDouble        : Fmt23x,
    ir.OpDivDouble        : Fmt23x,
    ir.OpRemDouble        : Fmt23x,
    ir.OpAddInt2Addr      : Fmt12x,
    ir.OpSubInt2Addr      : Fmt12x,
    ir.OpMulInt2Addr      : Fmt12x,
    ir.OpDivInt2Addr      : Fmt12x,
    ir.OpRemInt2Addr      : Fmt12x,
    ir.OpAndInt2Addr      : Fmt12x,
    ir.OpOrInt2Addr       : Fmt12x,
    ir.OpXorInt2Addr      : Fmt12x,
    ir.OpShlInt2Addr      : Fmt12x,
    ir.OpShrInt2Addr      : Fmt12x,
    ir.OpUshrInt2Addr     : Fmt12x,
    ir.OpAddLong2Addr     : Fmt12x,
    ir.OpSubLong2Addr     : Fmt12x,
    ir.OpMulLong2Addr     : Fmt12x,
    ir.OpDivLong2Addr     : Fmt12x,
    ir.OpRemLong2Addr     : Fmt12x,
    ir.OpAndLong2Addr     : Fmt12x,
    ir.OpOrLong2Addr      : Fmt12x,
    ir.OpXorLong2Addr     : Fmt12x,
    ir.OpShlLong2Addr     : Fmt12x,
    ir.OpShrLong2Addr     : Fmt12x,
    ir.OpUshrLong2Addr    : Fmt12x,
    ir.OpAddFloat2Addr    : Fmt12x,
    ir.OpSubFloat2Addr    : Fmt12x,
    ir.OpMulFloat2Addr    : Fmt12x,
    ir.OpDivFloat2Addr    : Fmt12x,
    ir.OpRemFloat2Addr    : Fmt12x,
    ir.OpAddDouble2Addr   : Fmt12x,
    ir.OpSubDouble2Addr   : Fmt12x,
    ir.OpMulDouble2Addr   : Fmt12x,
    ir.OpDivDouble2Addr   : Fmt12x,
    ir.OpRemDouble2Addr   : Fmt12x,
    ir.OpAddIntLit16      : Fmt22s,
    ir.OpRsubInt          : Fmt22s,
    ir.OpMulIntLit16      : Fmt22s,
    ir.OpDivIntLit16      : Fmt22s,
    ir.OpRemIntLit16      : Fmt22s,
    ir.OpAndIntLit16      : Fmt22s,
    ir.OpOrIntLit16       : Fmt22s,
    ir.OpXorIntLit16      : Fmt22s,
    ir.OpAddIntLit8       : Fmt22b,
    ir.OpRsubIntLit8      : Fmt22b,
    ir.OpMulIntLit8       : Fmt22b,
    ir.OpDivIntLit8       : Fmt22b,
    ir.OpRemIntLit8       : Fmt22b,
    ir.OpAndIntLit8       : Fmt22b,
    ir.OpOrIntLit8        : Fmt22b,
    ir.OpXorIntLit8       : Fmt22b,
    ir.OpShlIntLit8       : Fmt22b,
    ir.OpShrIntLit8       : Fmt22b,
    ir.OpUshrIntLit8      : Fmt22b,
}

// _Raw is one decoded code unit sequence before IR construction. Branch
// fields already hold absolute unit offsets and signed immediates are sign
// extended; high16 constants are shifted into place.
type _Raw struct {
    op   ir.Op
    off  uint32
    size uint32
    a    uint32
    b    uint32
    c    uint32
    wide uint64
    regs []ir.Reg
}

// decodeRaw decodes the instruction at unit offset pos. It mirrors the
// format table rather than any particular opcode's semantics; the caller
// maps fields onto IR registers.
func decodeRaw(units []uint16, pos uint32) (_Raw, *FormatError) {
    op := ir.Op(units[pos] & 0xff)
    f := formatOf(op)
    d := _Raw{op: op, off: pos}

    if f == FmtInvalid {
        return d, &FormatError{Off: pos, Reason: "unknown opcode in code item"}
    }
    d.size = f.Units()
    if uint32(len(units))-pos < d.size {
        return d, &FormatError{Off: pos, Reason: "truncated instruction"}
    }

    w := uint32(units[pos])
    switch f {
        case Fmt10x:
            /* no fields */

        case Fmt12x, Fmt11n:
            d.a = (w >> 8) & 0xf
            d.b = w >> 12

        case Fmt11x, Fmt10t:
            d.a = w >> 8

        case Fmt20t:
            d.a = uint32(units[pos+1])

        case Fmt22x, Fmt21t, Fmt21s, Fmt21h, Fmt21c:
            d.a = w >> 8
            d.b = uint32(units[pos+1])

        case Fmt23x, Fmt22b:
            d.a = w >> 8
            d.b = uint32(units[pos+1]) & 0xff
            d.c = uint32(units[pos+1]) >> 8

        case Fmt22t, Fmt22s, Fmt22c:
            d.a = (w >> 8) & 0xf
            d.b = w >> 12
            d.c = uint32(units[pos+1])

        case Fmt30t:
            d.a = uint32(units[pos+1]) | uint32(units[pos+2])<<16

        case Fmt32x:
            d.a = uint32(units[pos+1])
            d.b = uint32(units[pos+2])

        case Fmt31i, Fmt31t, Fmt31c:
            d.a = w >> 8
            d.b = uint32(units[pos+1]) | uint32(units[pos+2])<<16

        case Fmt35c:
            n := w >> 12
            if n > 5 {
                return d, &FormatError{Off: pos, Reason: "more than five registers in a 35c instruction"}
            }
            d.b = uint32(units[pos+1])
            w3 := uint32(units[pos+2])
            all := [5]ir.Reg{
                ir.Reg(w3 & 0xf),
                ir.Reg((w3 >> 4) & 0xf),
                ir.Reg((w3 >> 8) & 0xf),
                ir.Reg((w3 >> 12) & 0xf),
                ir.Reg((w >> 8) & 0xf),
            }
            d.regs = append([]ir.Reg(nil), all[:n]...)

        case Fmt3rc:
            n := w >> 8
            d.b = uint32(units[pos+1])
            first := uint32(units[pos+2])
            for i := uint32(0); i < n; i++ {
                d.regs = append(d.regs, ir.Reg(first+i))
            }

        case Fmt51l:
            d.a = w >> 8
            for i := uint32(0); i < 4; i++ {
                d.wide |= uint64(units[pos+1+i]) << (16 * i)
            }
    }

    /* sign extension of the short immediates */
    switch f {
        case Fmt11n : d.b = uint32(int32(d.b<<28) >> 28)
        case Fmt10t : d.a = uint32(int32(int8(d.a)))
        case Fmt22b : d.c = uint32(int32(int8(d.c)))
        case Fmt20t : d.a = uint32(int32(int16(d.a)))
        case Fmt21t, Fmt21s : d.b = uint32(int32(int16(d.b)))
        case Fmt22t, Fmt22s : d.c = uint32(int32(int16(d.c)))
    }

    /* high16 constants shift into the top half of their width */
    if f == Fmt21h {
        if op == ir.OpConstHigh16 {
            d.b = d.b << 16
        } else {
            d.wide = uint64(d.b) << 48
        }
    }

    /* short wide constants materialize into the 64-bit slot */
    if op == ir.OpConstWide16 || op == ir.OpConstWide32 {
        d.wide = uint64(int64(int32(d.b)))
    }

    /* branch offsets become absolute unit offsets */
    switch f {
        case Fmt10t, Fmt20t, Fmt30t : d.a += pos
        case Fmt21t, Fmt31t         : d.b += pos
        case Fmt22t                 : d.c += pos
    }
    return d, nil
}
