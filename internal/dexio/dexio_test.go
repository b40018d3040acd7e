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
    `fmt`
    `testing`

    `github.com/bytedance/dexter/internal/ir`
    `github.com/davecgh/go-spew/spew`
    `github.com/stretchr/testify/assert`
    `github.com/stretchr/testify/require`
)

// insnTrace renders a body as one comparable line per instruction. The
// writer picks the densest encoding and the reader folds every variant
// back onto the canonical opcode, so traces survive a round trip.
func insnTrace(code *ir.Code) []string {
    var out []string
    code.List().ForEachInsn(func(p *ir.Instruction) bool {
        s := fmt.Sprintf("%s d=%d s=%v l=%d", p.Op(), p.Dest(), p.Srcs(), p.Literal())
        switch {
            case p.Field() != nil : s += " " + p.Field().Key()
            case p.Method() != nil : s += " " + p.Method().Key()
            case p.Typ() != nil   : s += " " + p.Typ().Name()
            case p.Str() != nil   : s += " " + p.Str().Raw()
        }
        out = append(out, s)
        return true
    })
    return out
}

func addStatic(ctx *ir.Context, cls *ir.Class, name string, ret string, args []string, temps uint32, insns ...*ir.Instruction) *ir.MethodRef {
    m := ctx.MakeMethod(cls.Type().Name(), name, ret, args...).MakeConcrete(&ir.MethodDef { Access: ir.AccPublic | ir.AccStatic })
    code := ir.NewCodeForMethod(m, temps)
    for _, p := range insns {
        code.List().PushBack(ir.NewInsnEntry(p))
    }
    m.Def().Code = code
    cls.AddMethod(m)
    return m
}

func TestRoundTrip_ClassShape(t *testing.T) {
    ctx := ir.NewContext()
    cls := ir.NewClass(ctx.MakeType("La/Point;"), ctx.MakeType("Ljava/lang/Object;"), ir.AccPublic)
    cls.SetSourceFile(ctx.MakeString("Point.java"))

    cls.AddField(ctx.MakeField("La/Point;", "MAX", "I").MakeConcrete(&ir.FieldDef {
        Access : ir.AccPublic | ir.AccStatic | ir.AccFinal,
        Value  : &ir.EncodedValue { Kind: ir.ValueInt, Lit: 100 },
    }))
    cls.AddField(ctx.MakeField("La/Point;", "NAME", "Ljava/lang/String;").MakeConcrete(&ir.FieldDef {
        Access : ir.AccPublic | ir.AccStatic | ir.AccFinal,
        Value  : &ir.EncodedValue { Kind: ir.ValueString, Str: ctx.MakeString("point") },
    }))
    cls.AddField(ctx.MakeField("La/Point;", "x", "I").MakeConcrete(&ir.FieldDef { Access: ir.AccPublic }))

    /* static add(II)I: one temp in v0, params land in v1/v2 */
    addStatic(ctx, cls, "add", "I", []string { "I", "I" }, 1,
        ir.NewInsn(ir.OpAddInt).SetDest(0).SetSrcs(1, 2),
        ir.NewInsn(ir.OpReturn).SetSrcs(0))

    b, err := WriteStore([]*ir.Class{cls})
    require.NoError(t, err)

    ctx2 := ir.NewContext()
    store, err := Read(ctx2, "classes", b)
    require.NoError(t, err)
    require.Len(t, store.Classes(), 1)

    got := store.Classes()[0]
    assert.Equal(t, "La/Point;", got.Name())
    assert.Equal(t, "Ljava/lang/Object;", got.Super().Name())
    assert.Equal(t, ir.AccPublic, got.Access())
    require.NotNil(t, got.SourceFile())
    assert.Equal(t, "Point.java", got.SourceFile().Raw())

    require.Len(t, got.StaticFields(), 2)
    require.Len(t, got.InstanceFields(), 1)
    maxf := got.FindField(ctx2.MakeString("MAX"), ctx2.MakeType("I"))
    require.NotNil(t, maxf)
    require.NotNil(t, maxf.Def().Value)
    assert.Equal(t, ir.ValueInt, maxf.Def().Value.Kind)
    assert.Equal(t, uint64(100), maxf.Def().Value.Lit)
    namef := got.FindField(ctx2.MakeString("NAME"), ctx2.MakeType("Ljava/lang/String;"))
    require.NotNil(t, namef)
    require.NotNil(t, namef.Def().Value)
    assert.Equal(t, ir.ValueString, namef.Def().Value.Kind)
    assert.Equal(t, "point", namef.Def().Value.Str.Raw())

    add := got.FindMethod(ctx2.MakeString("add"), ctx2.MakeMethod("La/Point;", "add", "I", "I", "I").Proto())
    require.NotNil(t, add)
    require.NotNil(t, add.Def().Code)
    assert.Equal(t, uint32(3), add.Def().Code.Regs())
    assert.Equal(t, []string {
        "load-param d=1 s=[] l=0",
        "load-param d=2 s=[] l=0",
        "add-int d=0 s=[1 2] l=0",
        "return d=0 s=[0] l=0",
    }, insnTrace(add.Def().Code))
}

func TestRoundTrip_Body(t *testing.T) {
    ctx := ir.NewContext()
    cls := ir.NewClass(ctx.MakeType("La/Flow;"), ctx.MakeType("Ljava/lang/Object;"), ir.AccPublic)
    cls.AddField(ctx.MakeField("La/Flow;", "tag", "Ljava/lang/String;").MakeConcrete(&ir.FieldDef {
        Access: ir.AccPublic | ir.AccStatic,
    }))
    helper := ctx.MakeMethod("La/Flow;", "add", "I", "I", "I").MakeConcrete(&ir.MethodDef { Access: ir.AccPublic | ir.AccStatic })
    code := ir.NewCodeForMethod(helper, 1)
    code.List().PushBack(ir.NewInsnEntry(ir.NewInsn(ir.OpAddInt).SetDest(0).SetSrcs(1, 2)))
    code.List().PushBack(ir.NewInsnEntry(ir.NewInsn(ir.OpReturn).SetSrcs(0)))
    helper.Def().Code = code
    cls.AddMethod(helper)

    /*
     * const v0, #7
     * if-eqz v0 -> L1
     * const-string v1, "hi"
     * sget-object tag; move-result-pseudo-object v1
     * invoke-static add(v0, v0); move-result v0
     * L1: return-void
     */
    br := ir.NewInsnEntry(ir.NewInsn(ir.OpIfEqz).SetSrcs(0))
    run := ctx.MakeMethod("La/Flow;", "run", "V").MakeConcrete(&ir.MethodDef { Access: ir.AccPublic | ir.AccStatic })
    rc := ir.NewCodeForMethod(run, 2)
    l := rc.List()
    l.PushBack(ir.NewInsnEntry(ir.NewInsn(ir.OpConst).SetDest(0).SetLiteral(7)))
    l.PushBack(br)
    l.PushBack(ir.NewInsnEntry(ir.NewInsn(ir.OpConstString).SetDest(1).SetString(ctx.MakeString("hi"))))
    l.PushBack(ir.NewInsnEntry(ir.NewInsn(ir.OpSgetObject).SetField(ctx.MakeField("La/Flow;", "tag", "Ljava/lang/String;"))))
    l.PushBack(ir.NewInsnEntry(ir.NewInsn(ir.OpMoveResultPseudoObject).SetDest(1)))
    l.PushBack(ir.NewInsnEntry(ir.NewInsn(ir.OpInvokeStatic).SetMethod(helper).SetSrcs(0, 0)))
    l.PushBack(ir.NewInsnEntry(ir.NewInsn(ir.OpMoveResult).SetDest(0)))
    l.PushBack(ir.NewTargetEntry(&ir.BranchTarget { Kind: ir.TargetSimple, Src: br }))
    l.PushBack(ir.NewInsnEntry(ir.NewInsn(ir.OpReturnVoid)))
    run.Def().Code = rc
    cls.AddMethod(run)

    b, err := WriteStore([]*ir.Class{cls})
    require.NoError(t, err)

    ctx2 := ir.NewContext()
    store, err := Read(ctx2, "classes", b)
    require.NoError(t, err)
    require.Len(t, store.Classes(), 1)

    got := store.Classes()[0].FindMethod(ctx2.MakeString("run"), ctx2.MakeMethod("La/Flow;", "run", "V").Proto())
    require.NotNil(t, got)
    require.NotNil(t, got.Def().Code)
    spew.Dump(insnTrace(got.Def().Code))
    assert.Equal(t, insnTrace(rc), insnTrace(got.Def().Code))

    /* the branch edge must come back as a target on the return */
    var targets int
    got.Def().Code.List().ForEach(func(e *ir.Entry) bool {
        if e.Kind() == ir.EntryTarget {
            targets++
            assert.Equal(t, ir.OpIfEqz, e.Target.Src.Insn.Op())
        }
        return true
    })
    assert.Equal(t, 1, targets)
}

func TestWriteStore_RejectsUnloweredInitClass(t *testing.T) {
    ctx := ir.NewContext()
    cls := ir.NewClass(ctx.MakeType("La/Bad;"), ctx.MakeType("Ljava/lang/Object;"), ir.AccPublic)
    addStatic(ctx, cls, "run", "V", nil, 1,
        ir.NewInsn(ir.OpInitClass).SetType(cls.Type()),
        ir.NewInsn(ir.OpMoveResultPseudo).SetDest(0),
        ir.NewInsn(ir.OpReturnVoid))

    _, err := WriteStore([]*ir.Class{cls})
    require.Error(t, err)
    assert.Contains(t, err.Error(), "init-class")
}

func TestLowerInitClasses(t *testing.T) {
    ctx := ir.NewContext()
    quiet := ir.NewClass(ctx.MakeType("La/Quiet;"), ctx.MakeType("Ljava/lang/Object;"), ir.AccPublic)
    noisy := ir.NewClass(ctx.MakeType("La/Noisy;"), ctx.MakeType("Ljava/lang/Object;"), ir.AccPublic)
    noisy.AddField(ctx.MakeField("La/Noisy;", "seed", "J").MakeConcrete(&ir.FieldDef { Access: ir.AccPublic | ir.AccStatic }))
    noisy.AddField(ctx.MakeField("La/Noisy;", "flag", "Z").MakeConcrete(&ir.FieldDef { Access: ir.AccPublic | ir.AccStatic }))
    bare := ir.NewClass(ctx.MakeType("La/Bare;"), ctx.MakeType("Ljava/lang/Object;"), ir.AccPublic)

    user := ir.NewClass(ctx.MakeType("La/User;"), ctx.MakeType("Ljava/lang/Object;"), ir.AccPublic)
    addStatic(ctx, user, "run", "V", nil, 0,
        ir.NewInsn(ir.OpInitClass).SetType(quiet.Type()),
        ir.NewInsn(ir.OpInitClass).SetType(noisy.Type()),
        ir.NewInsn(ir.OpInitClass).SetType(bare.Type()),
        ir.NewInsn(ir.OpReturnVoid))

    store := ir.NewDexStore("classes")
    for _, c := range []*ir.Class { quiet, noisy, bare, user } {
        store.AddClass(c)
    }
    scope := ir.NewScope(store)

    stats := LowerInitClasses(ctx, scope, map[*ir.Type]bool {
        noisy.Type() : true,
        bare.Type()  : true,
    })
    assert.Equal(t, LowerStats { Lowered: 2, Removed: 1, Fields: 1 }, stats)

    run := user.FindMethod(ctx.MakeString("run"), ctx.MakeMethod("La/User;", "run", "V").Proto())
    require.NotNil(t, run)
    trace := insnTrace(run.Def().Code)
    require.Len(t, trace, 5)
    /* wide seed is skipped, the boolean carries the trigger */
    assert.Equal(t, "sget-boolean d=0 s=[] l=0 La/Noisy;.flag:Z", trace[0])
    assert.Equal(t, "move-result-pseudo d=0 s=[] l=0", trace[1])
    /* no static on La/Bare;, so a synthetic int one appears */
    assert.Equal(t, "sget d=0 s=[] l=0 La/Bare;.$init$:I", trace[2])
    assert.Equal(t, "move-result-pseudo d=0 s=[] l=0", trace[3])
    assert.Equal(t, "return-void d=0 s=[] l=0", trace[4])

    require.Len(t, bare.StaticFields(), 1)
    init := bare.StaticFields()[0]
    assert.Equal(t, "$init$", init.Name())
    assert.True(t, init.Def().Access.Has(ir.AccSynthetic))

    /* the rewrite must encode cleanly */
    _, err := WriteStore(scope.Classes())
    require.NoError(t, err)
}
