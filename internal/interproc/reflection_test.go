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

package interproc

import (
    `bytes`
    `testing`

    `github.com/bytedance/dexter/internal/ir`
    `github.com/bytedance/dexter/internal/resolver`
    `github.com/stretchr/testify/assert`
    `github.com/stretchr/testify/require`
)

func getMethodRef(ctx *ir.Context) *ir.MethodRef {
    return ctx.MakeMethod("Ljava/lang/Class;", "getMethod", "Ljava/lang/reflect/Method;", "Ljava/lang/String;", "[Ljava/lang/Class;")
}

func reflectionOver(ctx *ir.Context, classes ...*ir.Class) *ReflectionAnalysis {
    store := ir.NewDexStore("classes")
    for _, c := range classes {
        store.AddClass(c)
    }
    scope := ir.NewScope(store)
    ch := resolver.NewHierarchy(scope)
    return NewReflectionAnalysis(ctx, BuildCallGraph(scope, resolver.NewResolver(ch), resolver.BuildOverrides(ch)))
}

func TestReflection_GetMethodSite(t *testing.T) {
    ctx := ir.NewContext()
    obj := ctx.MakeType("Ljava/lang/Object;")
    x := ir.NewClass(ctx.MakeType("La/X;"), obj, ir.AccPublic)

    // m() { Class c = X.class; Method me = c.getMethod("foo", null); }
    m := ctx.MakeMethod("La/M;", "m", "V").MakeConcrete(&ir.MethodDef { Access: ir.AccPublic | ir.AccStatic })
    code := ir.NewCodeForMethod(m, 4)
    l := code.List()
    lookup := ir.NewInsn(ir.OpInvokeVirtual).SetMethod(getMethodRef(ctx)).SetSrcs(0, 1, 2)
    l.PushBack(ir.NewInsnEntry(ir.NewInsn(ir.OpConstClass).SetType(x.Type())))
    l.PushBack(ir.NewInsnEntry(ir.NewInsn(ir.OpMoveResultPseudoObject).SetDest(0)))
    l.PushBack(ir.NewInsnEntry(ir.NewInsn(ir.OpConstString).SetString(ctx.MakeString("foo"))))
    l.PushBack(ir.NewInsnEntry(ir.NewInsn(ir.OpMoveResultPseudoObject).SetDest(1)))
    l.PushBack(ir.NewInsnEntry(ir.NewInsn(ir.OpConst).SetDest(2).SetLiteral(0)))
    l.PushBack(ir.NewInsnEntry(lookup))
    l.PushBack(ir.NewInsnEntry(ir.NewInsn(ir.OpMoveResultObject).SetDest(3)))
    l.PushBack(ir.NewInsnEntry(ir.NewInsn(ir.OpReturnVoid)))
    m.Def().Code = code

    cm := ir.NewClass(ctx.MakeType("La/M;"), obj, ir.AccPublic)
    cm.AddMethod(m)

    ra := reflectionOver(ctx, x, cm)
    ra.Run(0)
    assert.False(t, ra.Unstable())

    sum := ra.SummaryOf(m)
    require.NotNil(t, sum)
    require.Equal(t, 1, sum.NumSites())

    site, ok := sum.SiteAt(lookup)
    require.True(t, ok)
    assert.Equal(t, KindMethod, site.Kind)
    assert.Same(t, x.Type(), site.Type)
    assert.Same(t, ctx.MakeString("foo"), site.Str)

    /* the lookup itself is the one virtual callsite left at top */
    assert.Equal(t, 1, ra.VirtualCallsTop())

    var buf bytes.Buffer
    require.NoError(t, ra.Export(&buf))
    out := buf.String()
    assert.Contains(t, out, "La/M;.m:()V ")
    assert.Contains(t, out, `"kind":"method"`)
    assert.Contains(t, out, `"class":"La/X;"`)
    assert.Contains(t, out, `"name":"foo"`)
}

func TestReflection_ContextDistribution(t *testing.T) {
    ctx := ir.NewContext()
    obj := ctx.MakeType("Ljava/lang/Object;")
    x := ir.NewClass(ctx.MakeType("La/X;"), obj, ir.AccPublic)

    // target(c) { c.getMethod("bar", null); }
    target := ctx.MakeMethod("La/C;", "target", "V", "Ljava/lang/Class;").MakeConcrete(&ir.MethodDef { Access: ir.AccPublic | ir.AccStatic })
    code := ir.NewCodeForMethod(target, 2)
    l := code.List()
    lookup := ir.NewInsn(ir.OpInvokeVirtual).SetMethod(getMethodRef(ctx)).SetSrcs(2, 0, 1)
    l.PushBack(ir.NewInsnEntry(ir.NewInsn(ir.OpConstString).SetString(ctx.MakeString("bar"))))
    l.PushBack(ir.NewInsnEntry(ir.NewInsn(ir.OpMoveResultPseudoObject).SetDest(0)))
    l.PushBack(ir.NewInsnEntry(ir.NewInsn(ir.OpConst).SetDest(1).SetLiteral(0)))
    l.PushBack(ir.NewInsnEntry(lookup))
    l.PushBack(ir.NewInsnEntry(ir.NewInsn(ir.OpMoveResultObject).SetDest(0)))
    l.PushBack(ir.NewInsnEntry(ir.NewInsn(ir.OpReturnVoid)))
    target.Def().Code = code

    // caller() { target(X.class); }
    caller := ctx.MakeMethod("La/C;", "caller", "V").MakeConcrete(&ir.MethodDef { Access: ir.AccPublic | ir.AccStatic })
    code = ir.NewCodeForMethod(caller, 1)
    l = code.List()
    call := ir.NewInsn(ir.OpInvokeStatic).SetMethod(target).SetSrcs(0)
    l.PushBack(ir.NewInsnEntry(ir.NewInsn(ir.OpConstClass).SetType(x.Type())))
    l.PushBack(ir.NewInsnEntry(ir.NewInsn(ir.OpMoveResultPseudoObject).SetDest(0)))
    l.PushBack(ir.NewInsnEntry(call))
    l.PushBack(ir.NewInsnEntry(ir.NewInsn(ir.OpReturnVoid)))
    caller.Def().Code = code

    cc := ir.NewClass(ctx.MakeType("La/C;"), obj, ir.AccPublic)
    cc.AddMethod(target)
    cc.AddMethod(caller)

    ra := reflectionOver(ctx, x, cc)
    ra.Run(0)

    /* the class constant reaches the lookup through the parameter */
    sum := ra.SummaryOf(target)
    require.NotNil(t, sum)
    require.Equal(t, 1, sum.NumSites())

    site, ok := sum.SiteAt(lookup)
    require.True(t, ok)
    assert.Equal(t, KindMethod, site.Kind)
    assert.Same(t, x.Type(), site.Type)
    assert.Same(t, ctx.MakeString("bar"), site.Str)

    /* the callsite partition keeps the invoke's own contribution */
    at, _ := ra.Contexts().AtSite(target, call).(*CallContext)
    require.NotNil(t, at)
    arg, ok := at.Arg(0).Object()
    require.True(t, ok)
    assert.Equal(t, KindClass, arg.Kind)
    assert.Same(t, x.Type(), arg.Type)
}

func TestReflection_ForName(t *testing.T) {
    ctx := ir.NewContext()
    obj := ctx.MakeType("Ljava/lang/Object;")

    // m() { Class.forName("a.X").getMethod("baz", null); }
    m := ctx.MakeMethod("La/M;", "m", "V").MakeConcrete(&ir.MethodDef { Access: ir.AccPublic | ir.AccStatic })
    code := ir.NewCodeForMethod(m, 4)
    l := code.List()
    forname := ir.NewInsn(ir.OpInvokeStatic).SetMethod(ctx.MakeMethod("Ljava/lang/Class;", "forName", "Ljava/lang/Class;", "Ljava/lang/String;")).SetSrcs(0)
    lookup := ir.NewInsn(ir.OpInvokeVirtual).SetMethod(getMethodRef(ctx)).SetSrcs(1, 2, 3)
    l.PushBack(ir.NewInsnEntry(ir.NewInsn(ir.OpConstString).SetString(ctx.MakeString("a.X"))))
    l.PushBack(ir.NewInsnEntry(ir.NewInsn(ir.OpMoveResultPseudoObject).SetDest(0)))
    l.PushBack(ir.NewInsnEntry(forname))
    l.PushBack(ir.NewInsnEntry(ir.NewInsn(ir.OpMoveResultObject).SetDest(1)))
    l.PushBack(ir.NewInsnEntry(ir.NewInsn(ir.OpConstString).SetString(ctx.MakeString("baz"))))
    l.PushBack(ir.NewInsnEntry(ir.NewInsn(ir.OpMoveResultPseudoObject).SetDest(2)))
    l.PushBack(ir.NewInsnEntry(ir.NewInsn(ir.OpConst).SetDest(3).SetLiteral(0)))
    l.PushBack(ir.NewInsnEntry(lookup))
    l.PushBack(ir.NewInsnEntry(ir.NewInsn(ir.OpMoveResultObject).SetDest(0)))
    l.PushBack(ir.NewInsnEntry(ir.NewInsn(ir.OpReturnVoid)))
    m.Def().Code = code

    cm := ir.NewClass(ctx.MakeType("La/M;"), obj, ir.AccPublic)
    cm.AddMethod(m)

    ra := reflectionOver(ctx, cm)
    ra.Run(0)

    /* the binary name interns as the descriptor La/X; */
    sum := ra.SummaryOf(m)
    require.NotNil(t, sum)

    site, ok := sum.SiteAt(lookup)
    require.True(t, ok)
    assert.Equal(t, KindMethod, site.Kind)
    assert.Same(t, ctx.MakeType("La/X;"), site.Type)
    assert.Same(t, ctx.MakeString("baz"), site.Str)

    /* forName binds statically, only the lookup counts as virtual */
    assert.Equal(t, 1, ra.VirtualCallsTop())
}

func TestReflection_GetClassChain(t *testing.T) {
    ctx := ir.NewContext()
    obj := ctx.MakeType("Ljava/lang/Object;")
    x := ir.NewClass(ctx.MakeType("La/X;"), obj, ir.AccPublic)

    // m() { new X().getClass().getDeclaredField("qux"); }
    m := ctx.MakeMethod("La/M;", "m", "V").MakeConcrete(&ir.MethodDef { Access: ir.AccPublic | ir.AccStatic })
    code := ir.NewCodeForMethod(m, 3)
    l := code.List()
    getcls := ir.NewInsn(ir.OpInvokeVirtual).SetMethod(ctx.MakeMethod("Ljava/lang/Object;", "getClass", "Ljava/lang/Class;")).SetSrcs(0)
    lookup := ir.NewInsn(ir.OpInvokeVirtual).SetMethod(ctx.MakeMethod("Ljava/lang/Class;", "getDeclaredField", "Ljava/lang/reflect/Field;", "Ljava/lang/String;")).SetSrcs(1, 2)
    l.PushBack(ir.NewInsnEntry(ir.NewInsn(ir.OpNewInstance).SetType(x.Type())))
    l.PushBack(ir.NewInsnEntry(ir.NewInsn(ir.OpMoveResultPseudoObject).SetDest(0)))
    l.PushBack(ir.NewInsnEntry(getcls))
    l.PushBack(ir.NewInsnEntry(ir.NewInsn(ir.OpMoveResultObject).SetDest(1)))
    l.PushBack(ir.NewInsnEntry(ir.NewInsn(ir.OpConstString).SetString(ctx.MakeString("qux"))))
    l.PushBack(ir.NewInsnEntry(ir.NewInsn(ir.OpMoveResultPseudoObject).SetDest(2)))
    l.PushBack(ir.NewInsnEntry(lookup))
    l.PushBack(ir.NewInsnEntry(ir.NewInsn(ir.OpMoveResultObject).SetDest(0)))
    l.PushBack(ir.NewInsnEntry(ir.NewInsn(ir.OpReturnVoid)))
    m.Def().Code = code

    cm := ir.NewClass(ctx.MakeType("La/M;"), obj, ir.AccPublic)
    cm.AddMethod(m)

    ra := reflectionOver(ctx, x, cm)
    ra.Run(0)

    sum := ra.SummaryOf(m)
    require.NotNil(t, sum)

    site, ok := sum.SiteAt(lookup)
    require.True(t, ok)
    assert.Equal(t, KindField, site.Kind)
    assert.Same(t, x.Type(), site.Type)
    assert.Same(t, ctx.MakeString("qux"), site.Str)

    assert.Equal(t, 2, ra.VirtualCallsTop())
}

func TestReflection_ReturnObject(t *testing.T) {
    ctx := ir.NewContext()
    obj := ctx.MakeType("Ljava/lang/Object;")
    x := ir.NewClass(ctx.MakeType("La/X;"), obj, ir.AccPublic)

    // cls() { return X.class; }
    m := ctx.MakeMethod("La/M;", "cls", "Ljava/lang/Class;").MakeConcrete(&ir.MethodDef { Access: ir.AccPublic | ir.AccStatic })
    code := ir.NewCodeForMethod(m, 1)
    l := code.List()
    l.PushBack(ir.NewInsnEntry(ir.NewInsn(ir.OpConstClass).SetType(x.Type())))
    l.PushBack(ir.NewInsnEntry(ir.NewInsn(ir.OpMoveResultPseudoObject).SetDest(0)))
    l.PushBack(ir.NewInsnEntry(ir.NewInsn(ir.OpReturnObject).SetSrcs(0)))
    m.Def().Code = code

    cm := ir.NewClass(ctx.MakeType("La/M;"), obj, ir.AccPublic)
    cm.AddMethod(m)

    ra := reflectionOver(ctx, x, cm)
    ra.Run(0)

    sum := ra.SummaryOf(m)
    require.NotNil(t, sum)

    ret, ok := sum.Ret().Object()
    require.True(t, ok)
    assert.Equal(t, KindClass, ret.Kind)
    assert.Same(t, x.Type(), ret.Type)
}
