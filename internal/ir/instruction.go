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

package ir

import (
    `fmt`
    `strings`
)

// Reg is a Dalvik virtual register number. Wide values occupy the named
// register and the one after it.
type Reg uint32

// RegInvalid marks an absent register slot.
const RegInvalid = Reg(0xffffffff)

// DataKind tags the out-of-line data table attached to fill-array-data and,
// before CFG construction, to the switch opcodes.
type DataKind uint8

const (
    DataFillArray DataKind = iota
    DataPackedSwitch
    DataSparseSwitch
)

// DataPayload is the contents of a fill-array-data or switch data table.
// Switch payloads only survive until build_cfg turns them into branch
// edges; fill-array payloads live with the instruction.
type DataPayload struct {
    Kind  DataKind
    Width uint16
    Keys  []int32
    Bytes []byte
}

func (self *DataPayload) Clone() *DataPayload {
    if self == nil {
        return nil
    }
    r := &DataPayload {
        Kind  : self.Kind,
        Width : self.Width,
        Keys  : append([]int32(nil), self.Keys...),
        Bytes : append([]byte(nil), self.Bytes...),
    }
    return r
}

// Instruction is one IR instruction. The opcode decides which of the
// payload fields is meaningful; at most one reference payload is set.
type Instruction struct {
    op   Op
    dest Reg
    srcs []Reg
    lit  int64
    str  *String
    typ  *Type
    fld  *FieldRef
    mth  *MethodRef
    data *DataPayload
}

// NewInsn allocates an instruction with no registers assigned.
func NewInsn(op Op) *Instruction {
    return &Instruction {
        op   : op,
        dest : RegInvalid,
    }
}

func (self *Instruction) Op() Op          { return self.op }
func (self *Instruction) Dest() Reg       { return self.dest }
func (self *Instruction) Srcs() []Reg     { return self.srcs }
func (self *Instruction) SrcCount() int   { return len(self.srcs) }
func (self *Instruction) Src(i int) Reg   { return self.srcs[i] }
func (self *Instruction) Literal() int64  { return self.lit }
func (self *Instruction) Str() *String    { return self.str }
func (self *Instruction) Typ() *Type      { return self.typ }
func (self *Instruction) Field() *FieldRef   { return self.fld }
func (self *Instruction) Method() *MethodRef { return self.mth }
func (self *Instruction) Data() *DataPayload { return self.data }

func (self *Instruction) HasDest() bool { return self.op.HasDest() }

func (self *Instruction) SetOp(op Op) *Instruction {
    self.op = op
    return self
}

func (self *Instruction) SetDest(r Reg) *Instruction {
    self.dest = r
    return self
}

func (self *Instruction) SetSrcs(rs ...Reg) *Instruction {
    self.srcs = rs
    return self
}

func (self *Instruction) SetSrc(i int, r Reg) *Instruction {
    self.srcs[i] = r
    return self
}

func (self *Instruction) SetLiteral(v int64) *Instruction {
    self.lit = v
    return self
}

func (self *Instruction) SetString(s *String) *Instruction {
    self.str = s
    return self
}

func (self *Instruction) SetType(t *Type) *Instruction {
    self.typ = t
    return self
}

func (self *Instruction) SetField(f *FieldRef) *Instruction {
    self.fld = f
    return self
}

func (self *Instruction) SetMethod(m *MethodRef) *Instruction {
    self.mth = m
    return self
}

func (self *Instruction) SetData(d *DataPayload) *Instruction {
    self.data = d
    return self
}

// DestIsWide reports whether the dest (direct or via the companion
// move-result-pseudo) holds a wide value.
func (self *Instruction) DestIsWide() bool {
    return self.op.DestIsWide()
}

// SrcIsWide reports whether source i names the low half of a wide pair.
func (self *Instruction) SrcIsWide(i int) bool {
    switch self.op {
        case OpMoveWide, OpMoveWideFrom16, OpMoveWide16:
            return true

        case OpReturnWide:
            return true

        case OpCmpLong, OpCmplDouble, OpCmpgDouble:
            return true

        case OpAputWide:
            return i == 0

        case OpIputWide, OpSputWide:
            return i == 0

        case OpNegLong, OpNotLong, OpNegDouble:
            return true

        case OpLongToInt, OpLongToFloat, OpLongToDouble:
            return true

        case OpDoubleToInt, OpDoubleToLong, OpDoubleToFloat:
            return true

        case OpShlLong, OpShrLong, OpUshrLong, OpShlLong2Addr, OpShrLong2Addr, OpUshrLong2Addr:
            return i == 0 /* shift distance is a plain int */

        default:
            switch self.op.Fam() {
                case FamBinop  : return self.binopSrcWide()
                case FamInvoke : return self.invokeSrcWide(i)
                default        : return false
            }
    }
}

func (self *Instruction) binopSrcWide() bool {
    switch self.op {
        case OpAddLong   , OpSubLong   , OpMulLong   , OpDivLong   , OpRemLong   : return true
        case OpAndLong   , OpOrLong    , OpXorLong                               : return true
        case OpAddDouble , OpSubDouble , OpMulDouble , OpDivDouble , OpRemDouble : return true
        case OpAddLong2Addr   , OpSubLong2Addr   , OpMulLong2Addr                : return true
        case OpDivLong2Addr   , OpRemLong2Addr                                   : return true
        case OpAndLong2Addr   , OpOrLong2Addr    , OpXorLong2Addr                : return true
        case OpAddDouble2Addr , OpSubDouble2Addr , OpMulDouble2Addr              : return true
        case OpDivDouble2Addr , OpRemDouble2Addr                                 : return true
        default                                                                  : return false
    }
}

// invokeSrcWide consults the callee proto; the receiver (src 0 of
// non-static invokes) is never wide.
func (self *Instruction) invokeSrcWide(i int) bool {
    m := self.mth
    if m == nil {
        return false
    }
    if self.op != OpInvokeStatic && self.op != OpInvokeStaticRange {
        if i == 0 {
            return false
        }
        i--
    }
    args := m.Proto().Args()
    if i < 0 || i >= args.Len() {
        return false
    }
    return args.At(i).IsWide()
}

// Clone copies the instruction, sharing interned payloads and deep-copying
// the register vector and data table.
func (self *Instruction) Clone() *Instruction {
    r := new(Instruction)
    *r = *self
    r.srcs = append([]Reg(nil), self.srcs...)
    r.data = self.data.Clone()
    return r
}

func (self *Instruction) String() string {
    b := new(strings.Builder)
    b.WriteString(self.op.String())
    if self.op.HasDest() {
        fmt.Fprintf(b, " v%d", self.dest)
    }
    if len(self.srcs) != 0 {
        rs := make([]string, len(self.srcs))
        for i, r := range self.srcs {
            rs[i] = fmt.Sprintf("v%d", r)
        }
        fmt.Fprintf(b, " {%s}", strings.Join(rs, ", "))
    }
    switch self.op.Ref() {
        case RefLiteral : fmt.Fprintf(b, " #%d", self.lit)
        case RefString  : fmt.Fprintf(b, " %q", self.str.Raw())
        case RefType    : fmt.Fprintf(b, " %s", self.typ.Name())
        case RefField   : fmt.Fprintf(b, " %s", self.fld.Key())
        case RefMethod  : fmt.Fprintf(b, " %s", self.mth.Key())
        case RefData    : fmt.Fprintf(b, " <data>")
    }
    return b.String()
}
