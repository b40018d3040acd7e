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

// agetMethod is a static f(a, i) with one scratch register:
//
//     load-param* v1, v2
//     aget v1, v2
//     move-result-pseudo v0
//     return-void
func agetMethod(ctx *ir.Context, arr string, idx string) *ir.MethodRef {
    m := ctx.MakeMethod("La/B;", "f", "V", arr, idx)
    m.MakeConcrete(&ir.MethodDef { Access: ir.AccPublic | ir.AccStatic })

    code := ir.NewCodeForMethod(m, 1)
    l := code.List()
    l.PushBack(ir.NewInsnEntry(ir.NewInsn(ir.OpAget).SetSrcs(1, 2)))
    l.PushBack(ir.NewInsnEntry(ir.NewInsn(ir.OpMoveResultPseudo).SetDest(0)))
    l.PushBack(ir.NewInsnEntry(ir.NewInsn(ir.OpReturnVoid)))

    m.Def().Code = code
    return m
}

func TestChecker_AGet(t *testing.T) {
    ctx := ir.NewContext()
    m := agetMethod(ctx, "[I", "I")
    require.NoError(t, NewChecker(ctx).Check(m))

    /* the array read produces an Int in v0 */
    cfg := m.Code().BuildCFG(false, true)
    defer m.Code().ClearCFG()
    ti := InferTypes(ctx, m, cfg)
    env := ti.ExitState(cfg.Entry())
    assert.Equal(t, TInt, env.TypeOf(0))
}

func TestChecker_AGetNonArray(t *testing.T) {
    ctx := ir.NewContext()
    m := agetMethod(ctx, "I", "[I")

    err := NewChecker(ctx).Check(m)
    require.Error(t, err)
    assert.Contains(t, err.Error(), "type check of La/B;.f:(I[I)V failed")
    assert.Contains(t, err.Error(), "expected type Reference for register v1")
    assert.Contains(t, err.Error(), "found Int")
}

func TestChecker_WidePairClobber(t *testing.T) {
    ctx := ir.NewContext()
    m := ctx.MakeMethod("La/B;", "g", "J", "J")
    m.MakeConcrete(&ir.MethodDef { Access: ir.AccPublic | ir.AccStatic })

    // load-param-wide v0       (v0, v1) hold a long
    // const v1, #7             clobbers the upper half
    // return-wide v0
    code := ir.NewCodeForMethod(m, 0)
    l := code.List()
    l.PushBack(ir.NewInsnEntry(ir.NewInsn(ir.OpConst).SetDest(1).SetLiteral(7)))
    l.PushBack(ir.NewInsnEntry(ir.NewInsn(ir.OpReturnWide).SetSrcs(0)))
    m.Def().Code = code

    err := NewChecker(ctx).Check(m)
    require.Error(t, err)
    assert.Contains(t, err.Error(), "expected type Long2 for register v1")
}

func TestChecker_PolymorphicConstants(t *testing.T) {
    ctx := ir.NewContext()
    m := ctx.MakeMethod("La/B;", "h", "V")
    m.MakeConcrete(&ir.MethodDef { Access: ir.AccPublic | ir.AccStatic })

    // const v0, #42
    // monitor-enter v0         a constant in a reference slot
    // return-void
    code := ir.NewCode(1)
    l := code.List()
    l.PushBack(ir.NewInsnEntry(ir.NewInsn(ir.OpConst).SetDest(0).SetLiteral(42)))
    l.PushBack(ir.NewInsnEntry(ir.NewInsn(ir.OpMonitorEnter).SetSrcs(0)))
    l.PushBack(ir.NewInsnEntry(ir.NewInsn(ir.OpReturnVoid)))
    m.Def().Code = code

    require.Error(t, NewChecker(ctx).Check(m))
    assert.NoError(t, NewChecker(ctx).PolymorphicConstants(true).Check(m))
}

func TestChecker_ZeroIsBothKinds(t *testing.T) {
    ctx := ir.NewContext()
    m := ctx.MakeMethod("La/B;", "z", "V")
    m.MakeConcrete(&ir.MethodDef { Access: ir.AccPublic | ir.AccStatic })

    /* null and int zero are the same constant, both uses verify */
    code := ir.NewCode(2)
    l := code.List()
    l.PushBack(ir.NewInsnEntry(ir.NewInsn(ir.OpConst).SetDest(0).SetLiteral(0)))
    l.PushBack(ir.NewInsnEntry(ir.NewInsn(ir.OpConst).SetDest(1).SetLiteral(0)))
    l.PushBack(ir.NewInsnEntry(ir.NewInsn(ir.OpMonitorEnter).SetSrcs(0)))
    l.PushBack(ir.NewInsnEntry(ir.NewInsn(ir.OpAddInt).SetDest(1).SetSrcs(1, 1)))
    l.PushBack(ir.NewInsnEntry(ir.NewInsn(ir.OpReturnVoid)))
    m.Def().Code = code

    assert.NoError(t, NewChecker(ctx).Check(m))
}
