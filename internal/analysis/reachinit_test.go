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
    `testing`

    `github.com/bytedance/dexter/internal/ir`
    `github.com/stretchr/testify/assert`
    `github.com/stretchr/testify/require`
)

// ctorMethod is an La/B;.<init> body over the given entries, with v0 as a
// scratch register and v1 holding the receiver.
func ctorMethod(ctx *ir.Context, body func(l *ir.InstructionList)) *ir.MethodRef {
    m := ctx.MakeMethod("La/B;", "<init>", "V")
    m.MakeConcrete(&ir.MethodDef { Access: ir.AccPublic | ir.AccConstructor })

    code := ir.NewCodeForMethod(m, 1)
    body(code.List())
    m.Def().Code = code
    return m
}

func TestCheckInit_ReceiverBeforeInit(t *testing.T) {
    ctx := ir.NewContext()
    f := ctx.MakeField("La/B;", "x", "I")

    // load-param-object v1
    // iget v1 -> x          reads the receiver too early
    // move-result-pseudo v0
    // return-void
    m := ctorMethod(ctx, func(l *ir.InstructionList) {
        l.PushBack(ir.NewInsnEntry(ir.NewInsn(ir.OpIget).SetSrcs(1).SetField(f)))
        l.PushBack(ir.NewInsnEntry(ir.NewInsn(ir.OpMoveResultPseudo).SetDest(0)))
        l.PushBack(ir.NewInsnEntry(ir.NewInsn(ir.OpReturnVoid)))
    })

    err := CheckInit(m, InitFirstLoadParam)
    require.Error(t, err)
    assert.Contains(t, err.Error(), "register v1 holds an uninitialized object")
}

func TestCheckInit_ReceiverAfterInit(t *testing.T) {
    ctx := ir.NewContext()
    f := ctx.MakeField("La/B;", "x", "I")
    super := ctx.MakeMethod("Ljava/lang/Object;", "<init>", "V")

    // load-param-object v1
    // invoke-direct {v1} -> Object.<init>
    // iget v1 -> x
    // move-result-pseudo v0
    // return-void
    m := ctorMethod(ctx, func(l *ir.InstructionList) {
        l.PushBack(ir.NewInsnEntry(ir.NewInsn(ir.OpInvokeDirect).SetSrcs(1).SetMethod(super)))
        l.PushBack(ir.NewInsnEntry(ir.NewInsn(ir.OpIget).SetSrcs(1).SetField(f)))
        l.PushBack(ir.NewInsnEntry(ir.NewInsn(ir.OpMoveResultPseudo).SetDest(0)))
        l.PushBack(ir.NewInsnEntry(ir.NewInsn(ir.OpReturnVoid)))
    })

    assert.NoError(t, CheckInit(m, InitFirstLoadParam))
}

func TestCheckInit_AliasTracking(t *testing.T) {
    ctx := ir.NewContext()
    f := ctx.MakeField("La/B;", "x", "I")
    super := ctx.MakeMethod("Ljava/lang/Object;", "<init>", "V")

    // load-param-object v1
    // move-object v0, v1    aliasing is fine before <init>
    // invoke-direct {v0} -> Object.<init>
    // iget v1 -> x          the alias construction covers the receiver
    // move-result-pseudo v0
    // return-void
    m := ctorMethod(ctx, func(l *ir.InstructionList) {
        l.PushBack(ir.NewInsnEntry(ir.NewInsn(ir.OpMoveObject).SetDest(0).SetSrcs(1)))
        l.PushBack(ir.NewInsnEntry(ir.NewInsn(ir.OpInvokeDirect).SetSrcs(0).SetMethod(super)))
        l.PushBack(ir.NewInsnEntry(ir.NewInsn(ir.OpIget).SetSrcs(1).SetField(f)))
        l.PushBack(ir.NewInsnEntry(ir.NewInsn(ir.OpMoveResultPseudo).SetDest(0)))
        l.PushBack(ir.NewInsnEntry(ir.NewInsn(ir.OpReturnVoid)))
    })

    assert.NoError(t, CheckInit(m, InitFirstLoadParam))
}

func TestCheckInit_NewInstance(t *testing.T) {
    ctx := ir.NewContext()
    cls := ctx.MakeType("La/B;")
    init := ctx.MakeMethod("La/B;", "<init>", "V")
    m := ctx.MakeMethod("La/C;", "mk", "V")
    m.MakeConcrete(&ir.MethodDef { Access: ir.AccPublic | ir.AccStatic })

    // new-instance La/B;
    // move-result-pseudo-object v0
    // monitor-enter v0       too early
    // invoke-direct {v0} -> La/B;.<init>
    // return-void
    code := ir.NewCode(1)
    l := code.List()
    l.PushBack(ir.NewInsnEntry(ir.NewInsn(ir.OpNewInstance).SetType(cls)))
    l.PushBack(ir.NewInsnEntry(ir.NewInsn(ir.OpMoveResultPseudoObject).SetDest(0)))
    l.PushBack(ir.NewInsnEntry(ir.NewInsn(ir.OpMonitorEnter).SetSrcs(0)))
    l.PushBack(ir.NewInsnEntry(ir.NewInsn(ir.OpInvokeDirect).SetSrcs(0).SetMethod(init)))
    l.PushBack(ir.NewInsnEntry(ir.NewInsn(ir.OpReturnVoid)))
    m.Def().Code = code

    err := CheckInit(m, InitNewInstance)
    require.Error(t, err)
    assert.Contains(t, err.Error(), "register v0")

    /* constructing first makes the same use fine */
    code = ir.NewCode(1)
    l = code.List()
    l.PushBack(ir.NewInsnEntry(ir.NewInsn(ir.OpNewInstance).SetType(cls)))
    l.PushBack(ir.NewInsnEntry(ir.NewInsn(ir.OpMoveResultPseudoObject).SetDest(0)))
    l.PushBack(ir.NewInsnEntry(ir.NewInsn(ir.OpInvokeDirect).SetSrcs(0).SetMethod(init)))
    l.PushBack(ir.NewInsnEntry(ir.NewInsn(ir.OpMonitorEnter).SetSrcs(0)))
    l.PushBack(ir.NewInsnEntry(ir.NewInsn(ir.OpReturnVoid)))
    m.Def().Code = code

    assert.NoError(t, CheckInit(m, InitNewInstance))
}

func TestCheckInit_PlainMethodUnaffected(t *testing.T) {
    ctx := ir.NewContext()
    f := ctx.MakeField("La/B;", "x", "I")

    /* outside a constructor the first load-param is just a reference */
    m := ctx.MakeMethod("La/B;", "get", "I")
    m.MakeConcrete(&ir.MethodDef { Access: ir.AccPublic })

    code := ir.NewCodeForMethod(m, 1)
    l := code.List()
    l.PushBack(ir.NewInsnEntry(ir.NewInsn(ir.OpIget).SetSrcs(1).SetField(f)))
    l.PushBack(ir.NewInsnEntry(ir.NewInsn(ir.OpMoveResultPseudo).SetDest(0)))
    l.PushBack(ir.NewInsnEntry(ir.NewInsn(ir.OpReturn).SetSrcs(0)))
    m.Def().Code = code

    assert.NoError(t, CheckInit(m, InitFirstLoadParam))
}
