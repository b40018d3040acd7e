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

// _TypeFlow is the transfer function of the register type analysis, shared
// by the checker and by type inference.
//
// Throwing value producers do not write their destination directly. They
// park the value in the result slot, and the companion move-result-pseudo
// in the successor block paints the real register.
type _TypeFlow struct {
    ctx    *ir.Context
    mth    *ir.MethodRef
    cfg    *ir.CFG
    params map[*ir.Instruction]_ParamType
}

type _ParamType struct {
    t   RegType
    cls *ir.Type
}

func newTypeFlow(ctx *ir.Context, mth *ir.MethodRef, cfg *ir.CFG) *_TypeFlow {
    self := &_TypeFlow {
        ctx    : ctx,
        mth    : mth,
        cfg    : cfg,
        params : make(map[*ir.Instruction]_ParamType),
    }

    /* pair the load-param prefix with the declared signature */
    i := 0
    recv := !mth.IsStatic()
    args := mth.Proto().Args()
    cfg.Entry().ForEachInsn(func(p *ir.Instruction) bool {
        if !p.Op().IsLoadParam() {
            return false
        }
        switch {
            case recv:
                self.params[p] = _ParamType { TRef, mth.Class() }
                recv = false
            case i < args.Len():
                t := args.At(i)
                self.params[p] = _ParamType { regTypeOf(t), classOf(t) }
                i++
            default:
                self.params[p] = _ParamType { TTop, nil }
        }
        return true
    })
    return self
}

/** Analyzer Interface **/

func (self *_TypeFlow) Bottom() fixpoint.Domain {
    return NewTypeEnvBottom()
}

func (self *_TypeFlow) Entry() fixpoint.Domain {
    return NewTypeEnv()
}

func (self *_TypeFlow) AnalyzeNode(node int, pre fixpoint.Domain) fixpoint.Domain {
    env := pre.(*TypeEnv)
    if env.IsBottom() {
        return env
    }
    env = env.Clone()
    self.cfg.Block(node).ForEachInsn(func(p *ir.Instruction) bool {
        self.apply(p, env)
        return true
    })
    return env
}

func (self *_TypeFlow) AnalyzeEdge(_ fixpoint.Edge, post fixpoint.Domain) fixpoint.Domain {
    return post
}

/* produce routes a value to the dest register or to the result slot,
 * depending on whether the op writes directly or through a pseudo */
func (self *_TypeFlow) produce(p *ir.Instruction, env *TypeEnv, t RegType, cls *ir.Type) {
    if !p.Op().HasDest() {
        env.setResult(t, cls)
    } else if t.IsWideLo() {
        env.setPair(p.Dest(), t)
    } else {
        env.set(p.Dest(), t)
        env.setClass(p.Dest(), cls)
    }
}

func (self *_TypeFlow) apply(p *ir.Instruction, env *TypeEnv) {
    op := p.Op()
    switch op.Fam() {
        case ir.FamLoadParam:
            pi := self.params[p]
            if op == ir.OpLoadParamWide {
                env.setPair(p.Dest(), pi.t)
            } else {
                env.set(p.Dest(), pi.t)
                env.setClass(p.Dest(), pi.cls)
            }

        case ir.FamMove:
            src := p.Src(0)
            if p.SrcIsWide(0) {
                lo, hi := env.TypeOf(src), env.TypeOf(src+1)
                env.set(p.Dest(), lo)
                env.set(p.Dest()+1, hi)
            } else {
                c := env.ClassOf(src)
                env.set(p.Dest(), env.TypeOf(src))
                env.setClass(p.Dest(), c)
            }

        case ir.FamMoveResult, ir.FamMoveResultPseudo:
            if op.DestIsWide() {
                env.setPair(p.Dest(), env.Result())
            } else {
                c := env.ResultClass()
                env.set(p.Dest(), env.Result())
                env.setClass(p.Dest(), c)
            }
            env.clearResult()

        case ir.FamMoveException:
            env.set(p.Dest(), TRef)
            env.setClass(p.Dest(), self.ctx.MakeType("Ljava/lang/Throwable;"))

        case ir.FamConst:
            switch {
                case op.DestIsWide()  : env.setPair(p.Dest(), TConst1)
                case p.Literal() == 0 : env.set(p.Dest(), TZero)
                default               : env.set(p.Dest(), TConst)
            }

        case ir.FamConstString:
            self.produce(p, env, TRef, self.ctx.MakeType("Ljava/lang/String;"))

        case ir.FamConstClass:
            self.produce(p, env, TRef, self.ctx.MakeType("Ljava/lang/Class;"))

        case ir.FamCheckCast:
            self.produce(p, env, TRef, p.Typ())

        case ir.FamInstanceOf, ir.FamArrayLength:
            self.produce(p, env, TInt, nil)

        case ir.FamNewInstance, ir.FamNewArray, ir.FamFilledNewArray:
            self.produce(p, env, TRef, p.Typ())

        case ir.FamCmp:
            self.produce(p, env, TInt, nil)

        case ir.FamAGet:
            self.applyAGet(p, env)

        case ir.FamIGet, ir.FamSGet:
            t := p.Field().Type()
            self.produce(p, env, regTypeOf(t), classOf(t))

        case ir.FamInvoke:
            if ret := p.Method().Proto().Ret(); ret.Name() == "V" {
                env.clearResult()
            } else {
                env.setResult(regTypeOf(ret), classOf(ret))
            }

        case ir.FamUnop:
            self.produce(p, env, unopKind(op), nil)

        case ir.FamBinop:
            self.produce(p, env, binopKind(op), nil)

        case ir.FamBinopLit:
            self.produce(p, env, TInt, nil)
    }
}

/* array reads refine through the array class when it is known */
func (self *_TypeFlow) applyAGet(p *ir.Instruction, env *TypeEnv) {
    var elem *ir.Type
    if c := env.ClassOf(p.Src(0)); c != nil && c.IsArray() {
        elem = c.ElementType(self.ctx)
    }
    switch p.Op() {
        case ir.OpAgetWide:
            switch {
                case elem == nil        : self.produce(p, env, TScalar1, nil)
                case elem.Name() == "J" : self.produce(p, env, TLong1, nil)
                default                 : self.produce(p, env, TDouble1, nil)
            }
        case ir.OpAgetObject:
            self.produce(p, env, TRef, elem)
        case ir.OpAget:
            if elem != nil && elem.Name() == "F" {
                self.produce(p, env, TFloat, nil)
            } else {
                self.produce(p, env, TInt, nil)
            }
        default:
            self.produce(p, env, TInt, nil)
    }
}

func unopKind(op ir.Op) RegType {
    switch op {
        case ir.OpNegLong, ir.OpNotLong                               : return TLong1
        case ir.OpIntToLong, ir.OpFloatToLong, ir.OpDoubleToLong      : return TLong1
        case ir.OpNegDouble                                           : return TDouble1
        case ir.OpIntToDouble, ir.OpLongToDouble, ir.OpFloatToDouble  : return TDouble1
        case ir.OpNegFloat                                            : return TFloat
        case ir.OpIntToFloat, ir.OpLongToFloat, ir.OpDoubleToFloat    : return TFloat
        default                                                       : return TInt
    }
}

func binopKind(op ir.Op) RegType {
    switch {
        case op >= ir.OpAddInt && op <= ir.OpUshrInt               : return TInt
        case op >= ir.OpAddLong && op <= ir.OpUshrLong             : return TLong1
        case op >= ir.OpAddFloat && op <= ir.OpRemFloat            : return TFloat
        case op >= ir.OpAddDouble && op <= ir.OpRemDouble          : return TDouble1
        case op >= ir.OpAddInt2Addr && op <= ir.OpUshrInt2Addr     : return TInt
        case op >= ir.OpAddLong2Addr && op <= ir.OpUshrLong2Addr   : return TLong1
        case op >= ir.OpAddFloat2Addr && op <= ir.OpRemFloat2Addr  : return TFloat
        default                                                    : return TDouble1
    }
}
