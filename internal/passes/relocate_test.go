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

package passes

import (
    `testing`

    `github.com/bytedance/dexter/internal/ir`
    `github.com/stretchr/testify/assert`
    `github.com/stretchr/testify/require`
)

func TestRelocator_MovesAndRewrites(t *testing.T) {
    ctx := ir.NewContext()
    a := newClass(ctx, "La/A;")
    util := staticIn(ctx, a, "util", 0)

    b := newClass(ctx, "La/B;")
    staticIn(ctx, b, "caller", 0,
        ir.NewInsn(ir.OpInvokeStatic).SetMethod(util))

    run := runWith(ctx, a, b)
    require.NoError(t, (&RelocatorPass{}).Run(run))

    m := run.MetricsOf("StaticRelocatorPass")
    assert.Equal(t, int64(2), m["relocated_methods"])
    assert.Equal(t, int64(1), m["relocation_holders"])

    /* both bodies left their origin classes */
    assert.False(t, util.IsConcrete())
    assert.Empty(t, a.DirectMethods())

    holder := run.Scope.ClassOf(ctx.MakeType("Lcom/dexter/Relocated0;"))
    require.NotNil(t, holder)
    assert.Len(t, holder.DirectMethods(), 2)

    /* the call site follows the method */
    caller := holder.FindMethod(ctx.MakeString("caller"), ctx.MakeMethod("La/B;", "caller", "V").Proto())
    require.NotNil(t, caller)
    var callee *ir.MethodRef
    caller.Code().List().ForEachInsn(func(p *ir.Instruction) bool {
        if p.Op() == ir.OpInvokeStatic {
            callee = p.Method()
        }
        return true
    })
    require.NotNil(t, callee)
    assert.Equal(t, "Lcom/dexter/Relocated0;", callee.Class().Name())
    assert.True(t, callee.IsConcrete())
}

func TestRelocator_SkipsUnsafeMethods(t *testing.T) {
    ctx := ir.NewContext()
    a := newClass(ctx, "La/A;")

    priv := ctx.MakeMethod("La/A;", "hidden", "V").MakeConcrete(&ir.MethodDef { Access: ir.AccPrivate | ir.AccStatic })
    priv.Def().Code = ir.NewCodeForMethod(priv, 0)
    priv.Def().Code.List().PushBack(ir.NewInsnEntry(ir.NewInsn(ir.OpReturnVoid)))
    a.AddMethod(priv)

    /* touches a private field of its own class, must stay behind */
    a.AddField(ctx.MakeField("La/A;", "secret", "I").MakeConcrete(&ir.FieldDef { Access: ir.AccPrivate | ir.AccStatic }))
    staticIn(ctx, a, "touchy", 1,
        ir.NewInsn(ir.OpSget).SetField(ctx.MakeField("La/A;", "secret", "I")),
        ir.NewInsn(ir.OpMoveResultPseudo).SetDest(0))

    run := runWith(ctx, a)
    require.NoError(t, (&RelocatorPass{}).Run(run))

    m := run.MetricsOf("StaticRelocatorPass")
    assert.Equal(t, int64(0), m["relocated_methods"])
    assert.Equal(t, int64(2), m["candidates_rejected"])
    assert.Len(t, a.DirectMethods(), 2)
}
