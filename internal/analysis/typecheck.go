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

// TypeError reports one register type violation found by the checker.
type TypeError struct {
    Method *ir.MethodRef
    Insn   *ir.Instruction
    Reg    ir.Reg
    Expect RegType
    Found  RegType
}

func (self *TypeError) Error() string {
    return fmt.Sprintf(
        "type check of %s failed: expected type %s for register v%d, found %s in '%s'",
        self.Method.Key(),
        self.Expect,
        self.Reg,
        self.Found,
        self.Insn,
    )
}

// Checker validates register types over every reachable instruction of a
// method. It infers types with the fixpoint iterator, then replays each
// block from its entry state and checks operands before applying the
// instruction effect.
//
// Modes must be configured before the first Check call.
type Checker struct {
    ctx         *ir.Context
    ran         bool
    verifyMoves bool
    polyConsts  bool
}

func NewChecker(ctx *ir.Context) *Checker {
    return &Checker { ctx: ctx }
}

func (self *Checker) mode() {
    if self.ran {
        panic("analysis: checker mode set after run")
    }
}

// VerifyMoves makes plain moves subject to operand checking. Off by
// default: a move is opaque and only the eventual use site is checked.
func (self *Checker) VerifyMoves(on bool) *Checker {
    self.mode()
    self.verifyMoves = on
    return self
}

// PolymorphicConstants lets nonzero constants stand in for references,
// matching input produced by compilers that pool constants across kinds.
func (self *Checker) PolymorphicConstants(on bool) *Checker {
    self.mode()
    self.polyConsts = on
    return self
}

// Check type-checks one concrete method. The first violation in iteration
// order is returned, nil if the method verifies.
func (self *Checker) Check(mth *ir.MethodRef) error {
    code := mth.Code()
    if code == nil {
        return nil
    }
    self.ran = true

    /* build a transient cfg over linear code */
    if !code.HasCFG() {
        code.BuildCFG(false, false)
        defer code.ClearCFG()
    }

    /* infer register types to a fixpoint */
    cfg := code.CFG()
    flow := newTypeFlow(self.ctx, mth, cfg)
    it := fixpoint.NewIterator(fixpoint.ForwardCFG(cfg), flow)
    it.Run(0)

    /* replay reachable blocks over their fixpoint entry states */
    var err *TypeError
    run := _CheckRun { chk: self, mth: mth }
    it.WTO().ForEachNode(func(node int) {
        if err != nil {
            return
        }
        env, ok := it.PreOf(node).(*TypeEnv)
        if !ok || env.IsBottom() {
            return
        }
        env = env.Clone()
        cfg.Block(node).ForEachInsn(func(p *ir.Instruction) bool {
            if err = run.checkInsn(p, env); err != nil {
                return false
            }
            flow.apply(p, env)
            return true
        })
    })
    if err != nil {
        return err
    }
    return nil
}

type _CheckRun struct {
    chk *Checker
    mth *ir.MethodRef
}

func (self *_CheckRun) assignable(found RegType, want RegType) bool {
    if found.Leq(want) {
        return true
    }

    /* nonzero constants flow into reference positions when configured */
    if self.chk.polyConsts && want == TRef && found.Leq(TConst) {
        return true
    }
    return false
}

func (self *_CheckRun) fail(p *ir.Instruction, r ir.Reg, want RegType, found RegType) *TypeError {
    return &TypeError {
        Method : self.mth,
        Insn   : p,
        Reg    : r,
        Expect : want,
        Found  : found,
    }
}

func (self *_CheckRun) want(p *ir.Instruction, env *TypeEnv, r ir.Reg, want RegType) *TypeError {
    if found := env.TypeOf(r); !self.assignable(found, want) {
        return self.fail(p, r, want, found)
    }
    return nil
}

/* a wide operand needs a matching lower and upper half */
func (self *_CheckRun) wantPair(p *ir.Instruction, env *TypeEnv, r ir.Reg, want RegType) *TypeError {
    lo := env.TypeOf(r)
    if !self.assignable(lo, want) {
        return self.fail(p, r, want, lo)
    }
    if !lo.IsWideLo() {
        return self.fail(p, r, want, lo)
    }
    if hi := env.TypeOf(r + 1); hi != lo.Hi() {
        return self.fail(p, r+1, lo.Hi(), hi)
    }
    return nil
}

/* equality tests compare two ints or two references */
func (self *_CheckRun) wantEq(p *ir.Instruction, env *TypeEnv, r ir.Reg) *TypeError {
    found := env.TypeOf(r)
    if found.Leq(TScalar) || found.Leq(TRef) {
        return nil
    }
    return self.fail(p, r, TScalar, found)
}

/* operand position typed by a declared type, methods args and field writes */
func (self *_CheckRun) wantTyped(p *ir.Instruction, env *TypeEnv, r ir.Reg, t *ir.Type) *TypeError {
    switch t.Name()[0] {
        case 'J'      : return self.wantPair(p, env, r, TLong1)
        case 'D'      : return self.wantPair(p, env, r, TDouble1)
        case 'F'      : return self.want(p, env, r, TFloat)
        case 'L', '[' : return self.want(p, env, r, TRef)
        default       : return self.want(p, env, r, TInt)
    }
}

func (self *_CheckRun) checkInsn(p *ir.Instruction, env *TypeEnv) *TypeError {
    op := p.Op()
    switch op.Fam() {
        case ir.FamMove:
            if !self.chk.verifyMoves {
                return nil
            }
            switch {
                case p.SrcIsWide(0)           : return self.wantPair(p, env, p.Src(0), TScalar1)
                case op >= ir.OpMoveObject    : return self.want(p, env, p.Src(0), TRef)
                default                       : return self.want(p, env, p.Src(0), TScalar)
            }

        case ir.FamMoveResult, ir.FamMoveResultPseudo:
            res := env.Result()
            switch {
                case op.DestIsWide():
                    if !res.IsWideLo() {
                        return self.fail(p, p.Dest(), TScalar1, res)
                    }
                case op == ir.OpMoveResultObject || op == ir.OpMoveResultPseudoObject:
                    if !self.assignable(res, TRef) {
                        return self.fail(p, p.Dest(), TRef, res)
                    }
                default:
                    if !self.assignable(res, TScalar) {
                        return self.fail(p, p.Dest(), TScalar, res)
                    }
            }

        case ir.FamReturn:
            switch op {
                case ir.OpReturn       : return self.want(p, env, p.Src(0), TScalar)
                case ir.OpReturnWide   : return self.wantPair(p, env, p.Src(0), TScalar1)
                case ir.OpReturnObject : return self.want(p, env, p.Src(0), TRef)
            }

        case ir.FamMonitor, ir.FamCheckCast, ir.FamInstanceOf, ir.FamArrayLength:
            return self.want(p, env, p.Src(0), TRef)

        case ir.FamThrow, ir.FamFillArrayData:
            return self.want(p, env, p.Src(0), TRef)

        case ir.FamNewArray:
            return self.want(p, env, p.Src(0), TInt)

        case ir.FamFilledNewArray:
            elem := p.Typ().ElementType(self.chk.ctx)
            for i := 0; i < p.SrcCount(); i++ {
                if e := self.wantTyped(p, env, p.Src(i), elem); e != nil {
                    return e
                }
            }

        case ir.FamSwitch:
            return self.want(p, env, p.Src(0), TInt)

        case ir.FamCmp:
            for i := 0; i < p.SrcCount(); i++ {
                var e *TypeError
                switch op {
                    case ir.OpCmpLong                  : e = self.wantPair(p, env, p.Src(i), TLong1)
                    case ir.OpCmplFloat, ir.OpCmpgFloat : e = self.want(p, env, p.Src(i), TFloat)
                    default                            : e = self.wantPair(p, env, p.Src(i), TDouble1)
                }
                if e != nil {
                    return e
                }
            }

        case ir.FamIf:
            eqish := op == ir.OpIfEq || op == ir.OpIfNe || op == ir.OpIfEqz || op == ir.OpIfNez
            for i := 0; i < p.SrcCount(); i++ {
                var e *TypeError
                if eqish {
                    e = self.wantEq(p, env, p.Src(i))
                } else {
                    e = self.want(p, env, p.Src(i), TInt)
                }
                if e != nil {
                    return e
                }
            }

        case ir.FamAGet:
            if e := self.want(p, env, p.Src(0), TRef); e != nil {
                return e
            }
            return self.want(p, env, p.Src(1), TInt)

        case ir.FamAPut:
            if e := self.want(p, env, p.Src(1), TRef); e != nil {
                return e
            }
            if e := self.want(p, env, p.Src(2), TInt); e != nil {
                return e
            }
            switch op {
                case ir.OpAputWide   : return self.wantPair(p, env, p.Src(0), TScalar1)
                case ir.OpAputObject : return self.want(p, env, p.Src(0), TRef)
                case ir.OpAput       : return self.want(p, env, p.Src(0), TScalar)
                default              : return self.want(p, env, p.Src(0), TInt)
            }

        case ir.FamIGet:
            return self.want(p, env, p.Src(0), TRef)

        case ir.FamIPut:
            if e := self.want(p, env, p.Src(1), TRef); e != nil {
                return e
            }
            return self.wantTyped(p, env, p.Src(0), p.Field().Type())

        case ir.FamSPut:
            return self.wantTyped(p, env, p.Src(0), p.Field().Type())

        case ir.FamInvoke:
            return self.checkInvoke(p, env)

        case ir.FamUnop:
            if p.SrcIsWide(0) {
                return self.wantPair(p, env, p.Src(0), unopSrcKind(op))
            }
            return self.want(p, env, p.Src(0), unopSrcKind(op))

        case ir.FamBinop:
            kind := binopKind(op)
            for i := 0; i < p.SrcCount(); i++ {
                var e *TypeError
                if p.SrcIsWide(i) {
                    e = self.wantPair(p, env, p.Src(i), kind)
                } else if kind == TFloat {
                    e = self.want(p, env, p.Src(i), TFloat)
                } else {
                    e = self.want(p, env, p.Src(i), TInt)
                }
                if e != nil {
                    return e
                }
            }

        case ir.FamBinopLit:
            return self.want(p, env, p.Src(0), TInt)
    }
    return nil
}

func (self *_CheckRun) checkInvoke(p *ir.Instruction, env *TypeEnv) *TypeError {
    i := 0
    op := p.Op()
    mref := p.Method()

    /* non-static invokes carry the receiver as source 0 */
    if op != ir.OpInvokeStatic && op != ir.OpInvokeStaticRange {
        if e := self.want(p, env, p.Src(0), TRef); e != nil {
            return e
        }
        i = 1
    }

    args := mref.Proto().Args()
    for j := 0; j < args.Len() && i < p.SrcCount(); j, i = j+1, i+1 {
        if e := self.wantTyped(p, env, p.Src(i), args.At(j)); e != nil {
            return e
        }
    }
    return nil
}

func unopSrcKind(op ir.Op) RegType {
    switch op {
        case ir.OpNegLong, ir.OpNotLong                                    : return TLong1
        case ir.OpLongToInt, ir.OpLongToFloat, ir.OpLongToDouble           : return TLong1
        case ir.OpNegDouble                                                : return TDouble1
        case ir.OpDoubleToInt, ir.OpDoubleToLong, ir.OpDoubleToFloat       : return TDouble1
        case ir.OpNegFloat, ir.OpFloatToInt, ir.OpFloatToLong              : return TFloat
        case ir.OpFloatToDouble                                            : return TFloat
        default                                                            : return TInt
    }
}
