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
)

// Op is a Dalvik opcode. Values below 0x100 are the DEX opcode space at
// their encoded byte values; values from 0x100 up are pseudo-opcodes that
// exist only inside the IR and are erased before serialization.
type Op uint16

const (
    OpNop                  Op = 0x00
    OpMove                 Op = 0x01
    OpMoveFrom16           Op = 0x02
    OpMove16               Op = 0x03
    OpMoveWide             Op = 0x04
    OpMoveWideFrom16       Op = 0x05
    OpMoveWide16           Op = 0x06
    OpMoveObject           Op = 0x07
    OpMoveObjectFrom16     Op = 0x08
    OpMoveObject16         Op = 0x09
    OpMoveResult           Op = 0x0a
    OpMoveResultWide       Op = 0x0b
    OpMoveResultObject     Op = 0x0c
    OpMoveException        Op = 0x0d
    OpReturnVoid           Op = 0x0e
    OpReturn               Op = 0x0f
    OpReturnWide           Op = 0x10
    OpReturnObject         Op = 0x11
    OpConst4               Op = 0x12
    OpConst16              Op = 0x13
    OpConst                Op = 0x14
    OpConstHigh16          Op = 0x15
    OpConstWide16          Op = 0x16
    OpConstWide32          Op = 0x17
    OpConstWide            Op = 0x18
    OpConstWideHigh16      Op = 0x19
    OpConstString          Op = 0x1a
    OpConstStringJumbo     Op = 0x1b
    OpConstClass           Op = 0x1c
    OpMonitorEnter         Op = 0x1d
    OpMonitorExit          Op = 0x1e
    OpCheckCast            Op = 0x1f
    OpInstanceOf           Op = 0x20
    OpArrayLength          Op = 0x21
    OpNewInstance          Op = 0x22
    OpNewArray             Op = 0x23
    OpFilledNewArray       Op = 0x24
    OpFilledNewArrayRange  Op = 0x25
    OpFillArrayData        Op = 0x26
    OpThrow                Op = 0x27
    OpGoto                 Op = 0x28
    OpGoto16               Op = 0x29
    OpGoto32               Op = 0x2a
    OpPackedSwitch         Op = 0x2b
    OpSparseSwitch         Op = 0x2c
    OpCmplFloat            Op = 0x2d
    OpCmpgFloat            Op = 0x2e
    OpCmplDouble           Op = 0x2f
    OpCmpgDouble           Op = 0x30
    OpCmpLong              Op = 0x31
    OpIfEq                 Op = 0x32
    OpIfNe                 Op = 0x33
    OpIfLt                 Op = 0x34
    OpIfGe                 Op = 0x35
    OpIfGt                 Op = 0x36
    OpIfLe                 Op = 0x37
    OpIfEqz                Op = 0x38
    OpIfNez                Op = 0x39
    OpIfLtz                Op = 0x3a
    OpIfGez                Op = 0x3b
    OpIfGtz                Op = 0x3c
    OpIfLez                Op = 0x3d
    OpAget                 Op = 0x44
    OpAgetWide             Op = 0x45
    OpAgetObject           Op = 0x46
    OpAgetBoolean          Op = 0x47
    OpAgetByte             Op = 0x48
    OpAgetChar             Op = 0x49
    OpAgetShort            Op = 0x4a
    OpAput                 Op = 0x4b
    OpAputWide             Op = 0x4c
    OpAputObject           Op = 0x4d
    OpAputBoolean          Op = 0x4e
    OpAputByte             Op = 0x4f
    OpAputChar             Op = 0x50
    OpAputShort            Op = 0x51
    OpIget                 Op = 0x52
    OpIgetWide             Op = 0x53
    OpIgetObject           Op = 0x54
    OpIgetBoolean          Op = 0x55
    OpIgetByte             Op = 0x56
    OpIgetChar             Op = 0x57
    OpIgetShort            Op = 0x58
    OpIput                 Op = 0x59
    OpIputWide             Op = 0x5a
    OpIputObject           Op = 0x5b
    OpIputBoolean          Op = 0x5c
    OpIputByte             Op = 0x5d
    OpIputChar             Op = 0x5e
    OpIputShort            Op = 0x5f
    OpSget                 Op = 0x60
    OpSgetWide             Op = 0x61
    OpSgetObject           Op = 0x62
    OpSgetBoolean          Op = 0x63
    OpSgetByte             Op = 0x64
    OpSgetChar             Op = 0x65
    OpSgetShort            Op = 0x66
    OpSput                 Op = 0x67
    OpSputWide             Op = 0x68
    OpSputObject           Op = 0x69
    OpSputBoolean          Op = 0x6a
    OpSputByte             Op = 0x6b
    OpSputChar             Op = 0x6c
    OpSputShort            Op = 0x6d
    OpInvokeVirtual        Op = 0x6e
    OpInvokeSuper          Op = 0x6f
    OpInvokeDirect         Op = 0x70
    OpInvokeStatic         Op = 0x71
    OpInvokeInterface      Op = 0x72
    OpInvokeVirtualRange   Op = 0x74
    OpInvokeSuperRange     Op = 0x75
    OpInvokeDirectRange    Op = 0x76
    OpInvokeStaticRange    Op = 0x77
    OpInvokeInterfaceRange Op = 0x78
    OpNegInt               Op = 0x7b
    OpNotInt               Op = 0x7c
    OpNegLong              Op = 0x7d
    OpNotLong              Op = 0x7e
    OpNegFloat             Op = 0x7f
    OpNegDouble            Op = 0x80
    OpIntToLong            Op = 0x81
    OpIntToFloat           Op = 0x82
    OpIntToDouble          Op = 0x83
    OpLongToInt            Op = 0x84
    OpLongToFloat          Op = 0x85
    OpLongToDouble         Op = 0x86
    OpFloatToInt           Op = 0x87
    OpFloatToLong          Op = 0x88
    OpFloatToDouble        Op = 0x89
    OpDoubleToInt          Op = 0x8a
    OpDoubleToLong         Op = 0x8b
    OpDoubleToFloat        Op = 0x8c
    OpIntToByte            Op = 0x8d
    OpIntToChar            Op = 0x8e
    OpIntToShort           Op = 0x8f
    OpAddInt               Op = 0x90
    OpSubInt               Op = 0x91
    OpMulInt               Op = 0x92
    OpDivInt               Op = 0x93
    OpRemInt               Op = 0x94
    OpAndInt               Op = 0x95
    OpOrInt                Op = 0x96
    OpXorInt               Op = 0x97
    OpShlInt               Op = 0x98
    OpShrInt               Op = 0x99
    OpUshrInt              Op = 0x9a
    OpAddLong              Op = 0x9b
    OpSubLong              Op = 0x9c
    OpMulLong              Op = 0x9d
    OpDivLong              Op = 0x9e
    OpRemLong              Op = 0x9f
    OpAndLong              Op = 0xa0
    OpOrLong               Op = 0xa1
    OpXorLong              Op = 0xa2
    OpShlLong              Op = 0xa3
    OpShrLong              Op = 0xa4
    OpUshrLong             Op = 0xa5
    OpAddFloat             Op = 0xa6
    OpSubFloat             Op = 0xa7
    OpMulFloat             Op = 0xa8
    OpDivFloat             Op = 0xa9
    OpRemFloat             Op = 0xaa
    OpAddDouble            Op = 0xab
    OpSubDouble            Op = 0xac
    OpMulDouble            Op = 0xad
    OpDivDouble            Op = 0xae
    OpRemDouble            Op = 0xaf
    OpAddInt2Addr          Op = 0xb0
    OpSubInt2Addr          Op = 0xb1
    OpMulInt2Addr          Op = 0xb2
    OpDivInt2Addr          Op = 0xb3
    OpRemInt2Addr          Op = 0xb4
    OpAndInt2Addr          Op = 0xb5
    OpOrInt2Addr           Op = 0xb6
    OpXorInt2Addr          Op = 0xb7
    OpShlInt2Addr          Op = 0xb8
    OpShrInt2Addr          Op = 0xb9
    OpUshrInt2Addr         Op = 0xba
    OpAddLong2Addr         Op = 0xbb
    OpSubLong2Addr         Op = 0xbc
    OpMulLong2Addr         Op = 0xbd
    OpDivLong2Addr         Op = 0xbe
    OpRemLong2Addr         Op = 0xbf
    OpAndLong2Addr         Op = 0xc0
    OpOrLong2Addr          Op = 0xc1
    OpXorLong2Addr         Op = 0xc2
    OpShlLong2Addr         Op = 0xc3
    OpShrLong2Addr         Op = 0xc4
    OpUshrLong2Addr        Op = 0xc5
    OpAddFloat2Addr        Op = 0xc6
    OpSubFloat2Addr        Op = 0xc7
    OpMulFloat2Addr        Op = 0xc8
    OpDivFloat2Addr        Op = 0xc9
    OpRemFloat2Addr        Op = 0xca
    OpAddDouble2Addr       Op = 0xcb
    OpSubDouble2Addr       Op = 0xcc
    OpMulDouble2Addr       Op = 0xcd
    OpDivDouble2Addr       Op = 0xce
    OpRemDouble2Addr       Op = 0xcf
    OpAddIntLit16          Op = 0xd0
    OpRsubInt              Op = 0xd1
    OpMulIntLit16          Op = 0xd2
    OpDivIntLit16          Op = 0xd3
    OpRemIntLit16          Op = 0xd4
    OpAndIntLit16          Op = 0xd5
    OpOrIntLit16           Op = 0xd6
    OpXorIntLit16          Op = 0xd7
    OpAddIntLit8           Op = 0xd8
    OpRsubIntLit8          Op = 0xd9
    OpMulIntLit8           Op = 0xda
    OpDivIntLit8           Op = 0xdb
    OpRemIntLit8           Op = 0xdc
    OpAndIntLit8           Op = 0xdd
    OpOrIntLit8            Op = 0xde
    OpXorIntLit8           Op = 0xdf
    OpShlIntLit8           Op = 0xe0
    OpShrIntLit8           Op = 0xe1
    OpUshrIntLit8          Op = 0xe2
)

// Pseudo-opcodes. They never reach a DEX file: load-params materialize the
// incoming argument registers at the head of the entry block, the
// move-result-pseudo family models the implicit result of instructions such
// as check-cast and aget, and init-class stands for a bare static
// initializer trigger.
const (
    OpLoadParam              Op = 0x100
    OpLoadParamObject        Op = 0x101
    OpLoadParamWide          Op = 0x102
    OpMoveResultPseudo       Op = 0x103
    OpMoveResultPseudoObject Op = 0x104
    OpMoveResultPseudoWide   Op = 0x105
    OpInitClass              Op = 0x106
    OpUnreachable            Op = 0x107
)

const _OpMax = 0x108

// RefKind says which payload slot of an Instruction is meaningful.
type RefKind uint8

const (
    RefNone RefKind = iota
    RefLiteral
    RefString
    RefType
    RefField
    RefMethod
    RefData
)

// Family groups opcodes that the analyses treat uniformly.
type Family uint8

const (
    FamInvalid Family = iota
    FamNop
    FamMove
    FamMoveResult
    FamMoveException
    FamReturn
    FamConst
    FamConstString
    FamConstClass
    FamMonitor
    FamCheckCast
    FamInstanceOf
    FamArrayLength
    FamNewInstance
    FamNewArray
    FamFilledNewArray
    FamFillArrayData
    FamThrow
    FamGoto
    FamSwitch
    FamCmp
    FamIf
    FamAGet
    FamAPut
    FamIGet
    FamIPut
    FamSGet
    FamSPut
    FamInvoke
    FamUnop
    FamBinop
    FamBinopLit
    FamLoadParam
    FamMoveResultPseudo
    FamInitClass
    FamUnreachable
)

type _OpInfo struct {
    name  string
    fam   Family
    ref   RefKind
    nsrc  int8 /* -1 means variable */
    dst   bool
    wide  bool /* dest occupies two registers */
    throw bool
}

func (self Op) info() *_OpInfo {
    if self < _OpMax {
        if p := &_OpTab[self]; p.fam != FamInvalid {
            return p
        }
    }
    panic(fmt.Sprintf("ir: invalid opcode 0x%02x", uint16(self)))
}

// Valid reports whether the opcode is a defined DEX or pseudo opcode.
func (self Op) Valid() bool {
    return self < _OpMax && _OpTab[self].fam != FamInvalid
}

func (self Op) String() string   { return self.info().name }
func (self Op) Fam() Family      { return self.info().fam }
func (self Op) Ref() RefKind     { return self.info().ref }
func (self Op) HasDest() bool    { return self.info().dst }
func (self Op) DestIsWide() bool { return self.info().wide }
func (self Op) CanThrow() bool   { return self.info().throw }

// FixedSrcs is the source register count, or -1 for the variable-arity
// invoke and filled-new-array families.
func (self Op) FixedSrcs() int { return int(self.info().nsrc) }

func (self Op) IsConst() bool       { f := self.Fam(); return f == FamConst || f == FamConstString || f == FamConstClass }
func (self Op) IsMove() bool        { return self.Fam() == FamMove }
func (self Op) IsMoveResult() bool  { return self.Fam() == FamMoveResult }
func (self Op) IsInvoke() bool      { return self.Fam() == FamInvoke }
func (self Op) IsBranch() bool      { f := self.Fam(); return f == FamGoto || f == FamIf || f == FamSwitch }
func (self Op) IsConditional() bool { f := self.Fam(); return f == FamIf || f == FamSwitch }
func (self Op) IsReturn() bool      { return self.Fam() == FamReturn }
func (self Op) IsLoadParam() bool   { return self.Fam() == FamLoadParam }
func (self Op) IsPseudo() bool      { return self >= 0x100 }

// IsZeroTest distinguishes the if-*z single-register comparisons.
func (self Op) IsZeroTest() bool {
    return self >= OpIfEqz && self <= OpIfLez
}

// Terminates reports whether control never falls through to the next
// instruction in the linear list.
func (self Op) Terminates() bool {
    switch self.Fam() {
        case FamReturn      : return true
        case FamThrow       : return true
        case FamGoto        : return true
        case FamUnreachable : return true
        default             : return false
    }
}

// HasMoveResult reports whether the opcode must be followed by a
// move-result or move-result-pseudo companion to observe its value.
func (self Op) HasMoveResult() bool {
    switch self.Fam() {
        case FamInvoke         : return true
        case FamFilledNewArray : return true
        default                : return self.HasMoveResultPseudo()
    }
}

// HasMoveResultPseudo reports whether the opcode writes its value through
// an IR-level move-result-pseudo rather than an encoded dest register. This
// covers every value-producing opcode that can also throw, so no
// instruction in the IR both throws and writes a register.
func (self Op) HasMoveResultPseudo() bool {
    switch self.Fam() {
        case FamConstString : return true
        case FamConstClass  : return true
        case FamCheckCast   : return true
        case FamInstanceOf  : return true
        case FamInitClass   : return false
        case FamAGet        : return true
        case FamIGet        : return true
        case FamSGet        : return true
        case FamArrayLength : return true
        case FamNewInstance : return true
        case FamNewArray    : return true
        case FamBinop       : return self.CanThrow()
        case FamBinopLit    : return self.CanThrow()
        default             : return false
    }
}

// MoveResultPseudoFor returns the pseudo opcode that must follow self to
// receive its value.
func (self Op) MoveResultPseudoFor() Op {
    switch {
        case !self.HasMoveResultPseudo() : panic("ir: opcode has no move-result-pseudo: " + self.String())
        case self.DestIsWide()           : return OpMoveResultPseudoWide
        case self.producesObject()       : return OpMoveResultPseudoObject
        default                          : return OpMoveResultPseudo
    }
}

func (self Op) producesObject() bool {
    switch self.Fam() {
        case FamConstString : return true
        case FamConstClass  : return true
        case FamCheckCast   : return true
        case FamNewInstance : return true
        case FamNewArray    : return true
        case FamAGet        : return self == OpAgetObject
        case FamIGet        : return self == OpIgetObject
        case FamSGet        : return self == OpSgetObject
        default             : return false
    }
}

var _OpTab = [_OpMax]_OpInfo{
    OpNop                  : { "nop"                      , FamNop              , RefNone    ,  0, false, false, false },
    OpMove                 : { "move"                     , FamMove             , RefNone    ,  1, true , false, false },
    OpMoveFrom16           : { "move/from16"              , FamMove             , RefNone    ,  1, true , false, false },
    OpMove16               : { "move/16"                  , FamMove             , RefNone    ,  1, true , false, false },
    OpMoveWide             : { "move-wide"                , FamMove             , RefNone    ,  1, true , true , false },
    OpMoveWideFrom16       : { "move-wide/from16"         , FamMove             , RefNone    ,  1, true , true , false },
    OpMoveWide16           : { "move-wide/16"             , FamMove             , RefNone    ,  1, true , true , false },
    OpMoveObject           : { "move-object"              , FamMove             , RefNone    ,  1, true , false, false },
    OpMoveObjectFrom16     : { "move-object/from16"       , FamMove             , RefNone    ,  1, true , false, false },
    OpMoveObject16         : { "move-object/16"           , FamMove             , RefNone    ,  1, true , false, false },
    OpMoveResult           : { "move-result"              , FamMoveResult       , RefNone    ,  0, true , false, false },
    OpMoveResultWide       : { "move-result-wide"         , FamMoveResult       , RefNone    ,  0, true , true , false },
    OpMoveResultObject     : { "move-result-object"       , FamMoveResult       , RefNone    ,  0, true , false, false },
    OpMoveException        : { "move-exception"           , FamMoveException    , RefNone    ,  0, true , false, false },
    OpReturnVoid           : { "return-void"              , FamReturn           , RefNone    ,  0, false, false, false },
    OpReturn               : { "return"                   , FamReturn           , RefNone    ,  1, false, false, false },
    OpReturnWide           : { "return-wide"              , FamReturn           , RefNone    ,  1, false, false, false },
    OpReturnObject         : { "return-object"            , FamReturn           , RefNone    ,  1, false, false, false },
    OpConst4               : { "const/4"                  , FamConst            , RefLiteral ,  0, true , false, false },
    OpConst16              : { "const/16"                 , FamConst            , RefLiteral ,  0, true , false, false },
    OpConst                : { "const"                    , FamConst            , RefLiteral ,  0, true , false, false },
    OpConstHigh16          : { "const/high16"             , FamConst            , RefLiteral ,  0, true , false, false },
    OpConstWide16          : { "const-wide/16"            , FamConst            , RefLiteral ,  0, true , true , false },
    OpConstWide32          : { "const-wide/32"            , FamConst            , RefLiteral ,  0, true , true , false },
    OpConstWide            : { "const-wide"               , FamConst            , RefLiteral ,  0, true , true , false },
    OpConstWideHigh16      : { "const-wide/high16"        , FamConst            , RefLiteral ,  0, true , true , false },
    OpConstString          : { "const-string"             , FamConstString      , RefString  ,  0, false, false, true  },
    OpConstStringJumbo     : { "const-string/jumbo"       , FamConstString      , RefString  ,  0, false, false, true  },
    OpConstClass           : { "const-class"              , FamConstClass       , RefType    ,  0, false, false, true  },
    OpMonitorEnter         : { "monitor-enter"            , FamMonitor          , RefNone    ,  1, false, false, true  },
    OpMonitorExit          : { "monitor-exit"             , FamMonitor          , RefNone    ,  1, false, false, true  },
    OpCheckCast            : { "check-cast"               , FamCheckCast        , RefType    ,  1, false, false, true  },
    OpInstanceOf           : { "instance-of"              , FamInstanceOf       , RefType    ,  1, false, false, true  },
    OpArrayLength          : { "array-length"             , FamArrayLength      , RefNone    ,  1, false, false, true  },
    OpNewInstance          : { "new-instance"             , FamNewInstance      , RefType    ,  0, false, false, true  },
    OpNewArray             : { "new-array"                , FamNewArray         , RefType    ,  1, false, false, true  },
    OpFilledNewArray       : { "filled-new-array"         , FamFilledNewArray   , RefType    , -1, false, false, true  },
    OpFilledNewArrayRange  : { "filled-new-array/range"   , FamFilledNewArray   , RefType    , -1, false, false, true  },
    OpFillArrayData        : { "fill-array-data"          , FamFillArrayData    , RefData    ,  1, false, false, true  },
    OpThrow                : { "throw"                    , FamThrow            , RefNone    ,  1, false, false, true  },
    OpGoto                 : { "goto"                     , FamGoto             , RefNone    ,  0, false, false, false },
    OpGoto16               : { "goto/16"                  , FamGoto             , RefNone    ,  0, false, false, false },
    OpGoto32               : { "goto/32"                  , FamGoto             , RefNone    ,  0, false, false, false },
    OpPackedSwitch         : { "packed-switch"            , FamSwitch           , RefData    ,  1, false, false, false },
    OpSparseSwitch         : { "sparse-switch"            , FamSwitch           , RefData    ,  1, false, false, false },
    OpCmplFloat            : { "cmpl-float"               , FamCmp              , RefNone    ,  2, true , false, false },
    OpCmpgFloat            : { "cmpg-float"               , FamCmp              , RefNone    ,  2, true , false, false },
    OpCmplDouble           : { "cmpl-double"              , FamCmp              , RefNone    ,  2, true , false, false },
    OpCmpgDouble           : { "cmpg-double"              , FamCmp              , RefNone    ,  2, true , false, false },
    OpCmpLong              : { "cmp-long"                 , FamCmp              , RefNone    ,  2, true , false, false },
    OpIfEq                 : { "if-eq"                    , FamIf               , RefNone    ,  2, false, false, false },
    OpIfNe                 : { "if-ne"                    , FamIf               , RefNone    ,  2, false, false, false },
    OpIfLt                 : { "if-lt"                    , FamIf               , RefNone    ,  2, false, false, false },
    OpIfGe                 : { "if-ge"                    , FamIf               , RefNone    ,  2, false, false, false },
    OpIfGt                 : { "if-gt"                    , FamIf               , RefNone    ,  2, false, false, false },
    OpIfLe                 : { "if-le"                    , FamIf               , RefNone    ,  2, false, false, false },
    OpIfEqz                : { "if-eqz"                   , FamIf               , RefNone    ,  1, false, false, false },
    OpIfNez                : { "if-nez"                   , FamIf               , RefNone    ,  1, false, false, false },
    OpIfLtz                : { "if-ltz"                   , FamIf               , RefNone    ,  1, false, false, false },
    OpIfGez                : { "if-gez"                   , FamIf               , RefNone    ,  1, false, false, false },
    OpIfGtz                : { "if-gtz"                   , FamIf               , RefNone    ,  1, false, false, false },
    OpIfLez                : { "if-lez"                   , FamIf               , RefNone    ,  1, false, false, false },
    OpAget                 : { "aget"                     , FamAGet             , RefNone    ,  2, false, false, true  },
    OpAgetWide             : { "aget-wide"                , FamAGet             , RefNone    ,  2, false, true , true  },
    OpAgetObject           : { "aget-object"              , FamAGet             , RefNone    ,  2, false, false, true  },
    OpAgetBoolean          : { "aget-boolean"             , FamAGet             , RefNone    ,  2, false, false, true  },
    OpAgetByte             : { "aget-byte"                , FamAGet             , RefNone    ,  2, false, false, true  },
    OpAgetChar             : { "aget-char"                , FamAGet             , RefNone    ,  2, false, false, true  },
    OpAgetShort            : { "aget-short"               , FamAGet             , RefNone    ,  2, false, false, true  },
    OpAput                 : { "aput"                     , FamAPut             , RefNone    ,  3, false, false, true  },
    OpAputWide             : { "aput-wide"                , FamAPut             , RefNone    ,  3, false, false, true  },
    OpAputObject           : { "aput-object"              , FamAPut             , RefNone    ,  3, false, false, true  },
    OpAputBoolean          : { "aput-boolean"             , FamAPut             , RefNone    ,  3, false, false, true  },
    OpAputByte             : { "aput-byte"                , FamAPut             , RefNone    ,  3, false, false, true  },
    OpAputChar             : { "aput-char"                , FamAPut             , RefNone    ,  3, false, false, true  },
    OpAputShort            : { "aput-short"               , FamAPut             , RefNone    ,  3, false, false, true  },
    OpIget                 : { "iget"                     , FamIGet             , RefField   ,  1, false, false, true  },
    OpIgetWide             : { "iget-wide"                , FamIGet             , RefField   ,  1, false, true , true  },
    OpIgetObject           : { "iget-object"              , FamIGet             , RefField   ,  1, false, false, true  },
    OpIgetBoolean          : { "iget-boolean"             , FamIGet             , RefField   ,  1, false, false, true  },
    OpIgetByte             : { "iget-byte"                , FamIGet             , RefField   ,  1, false, false, true  },
    OpIgetChar             : { "iget-char"                , FamIGet             , RefField   ,  1, false, false, true  },
    OpIgetShort            : { "iget-short"               , FamIGet             , RefField   ,  1, false, false, true  },
    OpIput                 : { "iput"                     , FamIPut             , RefField   ,  2, false, false, true  },
    OpIputWide             : { "iput-wide"                , FamIPut             , RefField   ,  2, false, false, true  },
    OpIputObject           : { "iput-object"              , FamIPut             , RefField   ,  2, false, false, true  },
    OpIputBoolean          : { "iput-boolean"             , FamIPut             , RefField   ,  2, false, false, true  },
    OpIputByte             : { "iput-byte"                , FamIPut             , RefField   ,  2, false, false, true  },
    OpIputChar             : { "iput-char"                , FamIPut             , RefField   ,  2, false, false, true  },
    OpIputShort            : { "iput-short"               , FamIPut             , RefField   ,  2, false, false, true  },
    OpSget                 : { "sget"                     , FamSGet             , RefField   ,  0, false, false, true  },
    OpSgetWide             : { "sget-wide"                , FamSGet             , RefField   ,  0, false, true , true  },
    OpSgetObject           : { "sget-object"              , FamSGet             , RefField   ,  0, false, false, true  },
    OpSgetBoolean          : { "sget-boolean"             , FamSGet             , RefField   ,  0, false, false, true  },
    OpSgetByte             : { "sget-byte"                , FamSGet             , RefField   ,  0, false, false, true  },
    OpSgetChar             : { "sget-char"                , FamSGet             , RefField   ,  0, false, false, true  },
    OpSgetShort            : { "sget-short"               , FamSGet             , RefField   ,  0, false, false, true  },
    OpSput                 : { "sput"                     , FamSPut             , RefField   ,  1, false, false, true  },
    OpSputWide             : { "sput-wide"                , FamSPut             , RefField   ,  1, false, false, true  },
    OpSputObject           : { "sput-object"              , FamSPut             , RefField   ,  1, false, false, true  },
    OpSputBoolean          : { "sput-boolean"             , FamSPut             , RefField   ,  1, false, false, true  },
    OpSputByte             : { "sput-byte"                , FamSPut             , RefField   ,  1, false, false, true  },
    OpSputChar             : { "sput-char"                , FamSPut             , RefField   ,  1, false, false, true  },
    OpSputShort            : { "sput-short"               , FamSPut             , RefField   ,  1, false, false, true  },
    OpInvokeVirtual        : { "invoke-virtual"           , FamInvoke           , RefMethod  , -1, false, false, true  },
    OpInvokeSuper          : { "invoke-super"             , FamInvoke           , RefMethod  , -1, false, false, true  },
    OpInvokeDirect         : { "invoke-direct"            , FamInvoke           , RefMethod  , -1, false, false, true  },
    OpInvokeStatic         : { "invoke-static"            , FamInvoke           , RefMethod  , -1, false, false, true  },
    OpInvokeInterface      : { "invoke-interface"         , FamInvoke           , RefMethod  , -1, false, false, true  },
    OpInvokeVirtualRange   : { "invoke-virtual/range"     , FamInvoke           , RefMethod  , -1, false, false, true  },
    OpInvokeSuperRange     : { "invoke-super/range"       , FamInvoke           , RefMethod  , -1, false, false, true  },
    OpInvokeDirectRange    : { "invoke-direct/range"      , FamInvoke           , RefMethod  , -1, false, false, true  },
    OpInvokeStaticRange    : { "invoke-static/range"      , FamInvoke           , RefMethod  , -1, false, false, true  },
    OpInvokeInterfaceRange : { "invoke-interface/range"   , FamInvoke           , RefMethod  , -1, false, false, true  },
    OpNegInt               : { "neg-int"                  , FamUnop             , RefNone    ,  1, true , false, false },
    OpNotInt               : { "not-int"                  , FamUnop             , RefNone    ,  1, true , false, false },
    OpNegLong              : { "neg-long"                 , FamUnop             , RefNone    ,  1, true , true , false },
    OpNotLong              : { "not-long"                 , FamUnop             , RefNone    ,  1, true , true , false },
    OpNegFloat             : { "neg-float"                , FamUnop             , RefNone    ,  1, true , false, false },
    OpNegDouble            : { "neg-double"               , FamUnop             , RefNone    ,  1, true , true , false },
    OpIntToLong            : { "int-to-long"              , FamUnop             , RefNone    ,  1, true , true , false },
    OpIntToFloat           : { "int-to-float"             , FamUnop             , RefNone    ,  1, true , false, false },
    OpIntToDouble          : { "int-to-double"            , FamUnop             , RefNone    ,  1, true , true , false },
    OpLongToInt            : { "long-to-int"              , FamUnop             , RefNone    ,  1, true , false, false },
    OpLongToFloat          : { "long-to-float"            , FamUnop             , RefNone    ,  1, true , false, false },
    OpLongToDouble         : { "long-to-double"           , FamUnop             , RefNone    ,  1, true , true , false },
    OpFloatToInt           : { "float-to-int"             , FamUnop             , RefNone    ,  1, true , false, false },
    OpFloatToLong          : { "float-to-long"            , FamUnop             , RefNone    ,  1, true , true , false },
    OpFloatToDouble        : { "float-to-double"          , FamUnop             , RefNone    ,  1, true , true , false },
    OpDoubleToInt          : { "double-to-int"            , FamUnop             , RefNone    ,  1, true , false, false },
    OpDoubleToLong         : { "double-to-long"           , FamUnop             , RefNone    ,  1, true , true , false },
    OpDoubleToFloat        : { "double-to-float"          , FamUnop             , RefNone    ,  1, true , false, false },
    OpIntToByte            : { "int-to-byte"              , FamUnop             , RefNone    ,  1, true , false, false },
    OpIntToChar            : { "int-to-char"              , FamUnop             , RefNone    ,  1, true , false, false },
    OpIntToShort           : { "int-to-short"             , FamUnop             , RefNone    ,  1, true , false, false },
    OpAddInt               : { "add-int"                  , FamBinop            , RefNone    ,  2, true , false, false },
    OpSubInt               : { "sub-int"                  , FamBinop            , RefNone    ,  2, true , false, false },
    OpMulInt               : { "mul-int"                  , FamBinop            , RefNone    ,  2, true , false, false },
    OpDivInt               : { "div-int"                  , FamBinop            , RefNone    ,  2, false, false, true  },
    OpRemInt               : { "rem-int"                  , FamBinop            , RefNone    ,  2, false, false, true  },
    OpAndInt               : { "and-int"                  , FamBinop            , RefNone    ,  2, true , false, false },
    OpOrInt                : { "or-int"                   , FamBinop            , RefNone    ,  2, true , false, false },
    OpXorInt               : { "xor-int"                  , FamBinop            , RefNone    ,  2, true , false, false },
    OpShlInt               : { "shl-int"                  , FamBinop            , RefNone    ,  2, true , false, false },
    OpShrInt               : { "shr-int"                  , FamBinop            , RefNone    ,  2, true , false, false },
    OpUshrInt              : { "ushr-int"                 , FamBinop            , RefNone    ,  2, true , false, false },
    OpAddLong              : { "add-long"                 , FamBinop            , RefNone    ,  2, true , true , false },
    OpSubLong              : { "sub-long"                 , FamBinop            , RefNone    ,  2, true , true , false },
    OpMulLong              : { "mul-long"                 , FamBinop            , RefNone    ,  2, true , true , false },
    OpDivLong              : { "div-long"                 , FamBinop            , RefNone    ,  2, false, true , true  },
    OpRemLong              : { "rem-long"                 , FamBinop            , RefNone    ,  2, false, true , true  },
    OpAndLong              : { "and-long"                 , FamBinop            , RefNone    ,  2, true , true , false },
    OpOrLong               : { "or-long"                  , FamBinop            , RefNone    ,  2, true , true , false },
    OpXorLong              : { "xor-long"                 , FamBinop            , RefNone    ,  2, true , true , false },
    OpShlLong              : { "shl-long"                 , FamBinop            , RefNone    ,  2, true , true , false },
    OpShrLong              : { "shr-long"                 , FamBinop            , RefNone    ,  2, true , true , false },
    OpUshrLong             : { "ushr-long"                , FamBinop            , RefNone    ,  2, true , true , false },
    OpAddFloat             : { "add-float"                , FamBinop            , RefNone    ,  2, true , false, false },
    OpSubFloat             : { "sub-float"                , FamBinop            , RefNone    ,  2, true , false, false },
    OpMulFloat             : { "mul-float"                , FamBinop            , RefNone    ,  2, true , false, false },
    OpDivFloat             : { "div-float"                , FamBinop            , RefNone    ,  2, true , false, false },
    OpRemFloat             : { "rem-float"                , FamBinop            , RefNone    ,  2, true , false, false },
    OpAddDouble            : { "add-double"               , FamBinop            , RefNone    ,  2, true , true , false },
    OpSubDouble            : { "sub-double"               , FamBinop            , RefNone    ,  2, true , true , false },
    OpMulDouble            : { "mul-double"               , FamBinop            , RefNone    ,  2, true , true , false },
    OpDivDouble            : { "div-double"               , FamBinop            , RefNone    ,  2, true , true , false },
    OpRemDouble            : { "rem-double"               , FamBinop            , RefNone    ,  2, true , true , false },
    OpAddInt2Addr          : { "add-int/2addr"            , FamBinop            , RefNone    ,  2, true , false, false },
    OpSubInt2Addr          : { "sub-int/2addr"            , FamBinop            , RefNone    ,  2, true , false, false },
    OpMulInt2Addr          : { "mul-int/2addr"            , FamBinop            , RefNone    ,  2, true , false, false },
    OpDivInt2Addr          : { "div-int/2addr"            , FamBinop            , RefNone    ,  2, false, false, true  },
    OpRemInt2Addr          : { "rem-int/2addr"            , FamBinop            , RefNone    ,  2, false, false, true  },
    OpAndInt2Addr          : { "and-int/2addr"            , FamBinop            , RefNone    ,  2, true , false, false },
    OpOrInt2Addr           : { "or-int/2addr"             , FamBinop            , RefNone    ,  2, true , false, false },
    OpXorInt2Addr          : { "xor-int/2addr"            , FamBinop            , RefNone    ,  2, true , false, false },
    OpShlInt2Addr          : { "shl-int/2addr"            , FamBinop            , RefNone    ,  2, true , false, false },
    OpShrInt2Addr          : { "shr-int/2addr"            , FamBinop            , RefNone    ,  2, true , false, false },
    OpUshrInt2Addr         : { "ushr-int/2addr"           , FamBinop            , RefNone    ,  2, true , false, false },
    OpAddLong2Addr         : { "add-long/2addr"           , FamBinop            , RefNone    ,  2, true , true , false },
    OpSubLong2Addr         : { "sub-long/2addr"           , FamBinop            , RefNone    ,  2, true , true , false },
    OpMulLong2Addr         : { "mul-long/2addr"           , FamBinop            , RefNone    ,  2, true , true , false },
    OpDivLong2Addr         : { "div-long/2addr"           , FamBinop            , RefNone    ,  2, false, true , true  },
    OpRemLong2Addr         : { "rem-long/2addr"           , FamBinop            , RefNone    ,  2, false, true , true  },
    OpAndLong2Addr         : { "and-long/2addr"           , FamBinop            , RefNone    ,  2, true , true , false },
    OpOrLong2Addr          : { "or-long/2addr"            , FamBinop            , RefNone    ,  2, true , true , false },
    OpXorLong2Addr         : { "xor-long/2addr"           , FamBinop            , RefNone    ,  2, true , true , false },
    OpShlLong2Addr         : { "shl-long/2addr"           , FamBinop            , RefNone    ,  2, true , true , false },
    OpShrLong2Addr         : { "shr-long/2addr"           , FamBinop            , RefNone    ,  2, true , true , false },
    OpUshrLong2Addr        : { "ushr-long/2addr"          , FamBinop            , RefNone    ,  2, true , true , false },
    OpAddFloat2Addr        : { "add-float/2addr"          , FamBinop            , RefNone    ,  2, true , false, false },
    OpSubFloat2Addr        : { "sub-float/2addr"          , FamBinop            , RefNone    ,  2, true , false, false },
    OpMulFloat2Addr        : { "mul-float/2addr"          , FamBinop            , RefNone    ,  2, true , false, false },
    OpDivFloat2Addr        : { "div-float/2addr"          , FamBinop            , RefNone    ,  2, true , false, false },
    OpRemFloat2Addr        : { "rem-float/2addr"          , FamBinop            , RefNone    ,  2, true , false, false },
    OpAddDouble2Addr       : { "add-double/2addr"         , FamBinop            , RefNone    ,  2, true , true , false },
    OpSubDouble2Addr       : { "sub-double/2addr"         , FamBinop            , RefNone    ,  2, true , true , false },
    OpMulDouble2Addr       : { "mul-double/2addr"         , FamBinop            , RefNone    ,  2, true , true , false },
    OpDivDouble2Addr       : { "div-double/2addr"         , FamBinop            , RefNone    ,  2, true , true , false },
    OpRemDouble2Addr       : { "rem-double/2addr"         , FamBinop            , RefNone    ,  2, true , true , false },
    OpAddIntLit16          : { "add-int/lit16"            , FamBinopLit         , RefLiteral ,  1, true , false, false },
    OpRsubInt              : { "rsub-int"                 , FamBinopLit         , RefLiteral ,  1, true , false, false },
    OpMulIntLit16          : { "mul-int/lit16"            , FamBinopLit         , RefLiteral ,  1, true , false, false },
    OpDivIntLit16          : { "div-int/lit16"            , FamBinopLit         , RefLiteral ,  1, false, false, true  },
    OpRemIntLit16          : { "rem-int/lit16"            , FamBinopLit         , RefLiteral ,  1, false, false, true  },
    OpAndIntLit16          : { "and-int/lit16"            , FamBinopLit         , RefLiteral ,  1, true , false, false },
    OpOrIntLit16           : { "or-int/lit16"             , FamBinopLit         , RefLiteral ,  1, true , false, false },
    OpXorIntLit16          : { "xor-int/lit16"            , FamBinopLit         , RefLiteral ,  1, true , false, false },
    OpAddIntLit8           : { "add-int/lit8"             , FamBinopLit         , RefLiteral ,  1, true , false, false },
    OpRsubIntLit8          : { "rsub-int/lit8"            , FamBinopLit         , RefLiteral ,  1, true , false, false },
    OpMulIntLit8           : { "mul-int/lit8"             , FamBinopLit         , RefLiteral ,  1, true , false, false },
    OpDivIntLit8           : { "div-int/lit8"             , FamBinopLit         , RefLiteral ,  1, false, false, true  },
    OpRemIntLit8           : { "rem-int/lit8"             , FamBinopLit         , RefLiteral ,  1, false, false, true  },
    OpAndIntLit8           : { "and-int/lit8"             , FamBinopLit         , RefLiteral ,  1, true , false, false },
    OpOrIntLit8            : { "or-int/lit8"              , FamBinopLit         , RefLiteral ,  1, true , false, false },
    OpXorIntLit8           : { "xor-int/lit8"             , FamBinopLit         , RefLiteral ,  1, true , false, false },
    OpShlIntLit8           : { "shl-int/lit8"             , FamBinopLit         , RefLiteral ,  1, true , false, false },
    OpShrIntLit8           : { "shr-int/lit8"             , FamBinopLit         , RefLiteral ,  1, true , false, false },
    OpUshrIntLit8          : { "ushr-int/lit8"            , FamBinopLit         , RefLiteral ,  1, true , false, false },
    OpLoadParam            : { "load-param"               , FamLoadParam        , RefNone    ,  0, true , false, false },
    OpLoadParamObject      : { "load-param-object"        , FamLoadParam        , RefNone    ,  0, true , false, false },
    OpLoadParamWide        : { "load-param-wide"          , FamLoadParam        , RefNone    ,  0, true , true , false },
    OpMoveResultPseudo     : { "move-result-pseudo"       , FamMoveResultPseudo , RefNone    ,  0, true , false, false },
    OpMoveResultPseudoObject : { "move-result-pseudo-object" , FamMoveResultPseudo , RefNone , 0, true , false, false },
    OpMoveResultPseudoWide : { "move-result-pseudo-wide"  , FamMoveResultPseudo , RefNone    ,  0, true , true , false },
    OpInitClass            : { "init-class"               , FamInitClass        , RefType    ,  0, false, false, true  },
    OpUnreachable          : { "unreachable"              , FamUnreachable      , RefNone    ,  0, false, false, false },
}
