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
    `errors`
    `os`
    `path/filepath`
    `testing`

    `github.com/bytedance/dexter/internal/config`
    `github.com/bytedance/dexter/internal/ir`
    `github.com/stretchr/testify/assert`
    `github.com/stretchr/testify/require`
)

func newClass(ctx *ir.Context, name string) *ir.Class {
    return ir.NewClass(ctx.MakeType(name), ctx.MakeType("Ljava/lang/Object;"), ir.AccPublic)
}

// staticIn attaches a static name()V with the given body, return-void
// appended.
func staticIn(ctx *ir.Context, cls *ir.Class, name string, regs uint32, insns ...*ir.Instruction) *ir.MethodRef {
    m := ctx.MakeMethod(cls.Type().Name(), name, "V").MakeConcrete(&ir.MethodDef { Access: ir.AccPublic | ir.AccStatic })
    code := ir.NewCodeForMethod(m, regs)
    for _, p := range insns {
        code.List().PushBack(ir.NewInsnEntry(p))
    }
    code.List().PushBack(ir.NewInsnEntry(ir.NewInsn(ir.OpReturnVoid)))
    m.Def().Code = code
    cls.AddMethod(m)
    return m
}

func runWith(ctx *ir.Context, classes ...*ir.Class) *Run {
    store := ir.NewDexStore("classes")
    for _, c := range classes {
        store.AddClass(c)
    }
    return NewRun(ctx, ir.NewScope(store), config.New())
}

func TestDefaultSchedule_SmokePipeline(t *testing.T) {
    ctx := ir.NewContext()
    cls := newClass(ctx, "La/A;")

    // const v0, #0
    // if-eqz v0 -> L1       always taken, constprop folds it
    // const v1, #1          becomes unreachable
    // L1: return-void
    br := ir.NewInsnEntry(ir.NewInsn(ir.OpIfEqz).SetSrcs(0))
    code := ir.NewCodeForMethod(ctx.MakeMethod("La/A;", "run", "V").MakeConcrete(&ir.MethodDef { Access: ir.AccPublic | ir.AccStatic }), 2)
    l := code.List()
    l.PushBack(ir.NewInsnEntry(ir.NewInsn(ir.OpConst).SetDest(0).SetLiteral(0)))
    l.PushBack(br)
    l.PushBack(ir.NewInsnEntry(ir.NewInsn(ir.OpConst).SetDest(1).SetLiteral(1)))
    l.PushBack(ir.NewTargetEntry(&ir.BranchTarget { Kind: ir.TargetSimple, Src: br }))
    l.PushBack(ir.NewInsnEntry(ir.NewInsn(ir.OpReturnVoid)))
    m := ctx.MakeMethod("La/A;", "run", "V")
    m.Def().Code = code
    cls.AddMethod(m)

    run := runWith(ctx, cls)
    mgr, err := NewManager(DefaultSchedule())
    require.NoError(t, err)
    require.NoError(t, mgr.Run(run))

    require.Len(t, run.Dexes, 1)
    assert.Equal(t, []*ir.Class { cls }, run.Dexes[0].Classes)
    assert.True(t, run.Dexes[0].Info.Primary)

    folded := run.MetricsOf("ConstantPropagationPass")
    assert.Equal(t, int64(1), folded["folded_branches"])

    var ops []ir.Op
    code.ForEachInsn(func(p *ir.Instruction) bool {
        ops = append(ops, p.Op())
        return true
    })
    assert.NotContains(t, ops, ir.OpIfEqz)
}

func TestBreadcrumbs_DanglingMethodRef(t *testing.T) {
    ctx := ir.NewContext()
    a := newClass(ctx, "La/A;")
    b := newClass(ctx, "Lb/B;")
    gone := ctx.MakeMethod("Lb/B;", "gone", "V")
    staticIn(ctx, a, "run", 0, ir.NewInsn(ir.OpInvokeStatic).SetMethod(gone))

    run := runWith(ctx, a, b)
    pass := new(BreadcrumbsPass)
    err := pass.Run(run)

    var crumbs *BreadcrumbError
    require.True(t, errors.As(err, &crumbs))
    assert.Equal(t, 1, crumbs.Count)
    assert.Contains(t, crumbs.First, "Lb/B;.gone")
}

func TestBreadcrumbs_LibraryRefsPass(t *testing.T) {
    ctx := ir.NewContext()
    a := newClass(ctx, "La/A;")
    lib := ctx.MakeMethod("Ljava/lang/System;", "gc", "V")
    staticIn(ctx, a, "run", 0, ir.NewInsn(ir.OpInvokeStatic).SetMethod(lib))

    run := runWith(ctx, a)
    require.NoError(t, new(BreadcrumbsPass).Run(run))
    assert.Equal(t, int64(0), run.MetricsOf("CheckBreadcrumbsPass")["dangling_refs"])
}

func TestBreadcrumbs_ReportOnlyCounts(t *testing.T) {
    ctx := ir.NewContext()
    a := newClass(ctx, "La/A;")
    b := newClass(ctx, "Lb/B;")
    gone := ctx.MakeMethod("Lb/B;", "gone", "V")
    staticIn(ctx, a, "run", 0, ir.NewInsn(ir.OpInvokeStatic).SetMethod(gone))

    run := runWith(ctx, a, b)
    run.Config.Set("CheckBreadcrumbsPass.report_only", true)
    require.NoError(t, new(BreadcrumbsPass).Run(run))
    assert.Equal(t, int64(1), run.MetricsOf("CheckBreadcrumbsPass")["dangling_refs"])
}

func TestBreadcrumbs_CrossStoreRefs(t *testing.T) {
    ctx := ir.NewContext()
    a := newClass(ctx, "La/A;")
    b := newClass(ctx, "Lb/B;")
    late := ctx.MakeMethod("Lb/B;", "run", "V")
    staticIn(ctx, b, "run", 0)
    staticIn(ctx, a, "run", 0, ir.NewInsn(ir.OpInvokeStatic).SetMethod(late))

    primary := ir.NewDexStore("classes")
    primary.AddClass(a)
    feature := ir.NewDexStore("feature")
    feature.AddClass(b)

    run := NewRun(ctx, ir.NewScope(primary, feature), config.New())
    run.Config.Set("CheckBreadcrumbsPass.fail_if_illegal_refs", true)
    err := new(BreadcrumbsPass).Run(run)

    var crumbs *BreadcrumbError
    require.True(t, errors.As(err, &crumbs))
    assert.Equal(t, int64(1), run.MetricsOf("CheckBreadcrumbsPass")["illegal_cross_store_refs"])
}

func TestSideEffectInits(t *testing.T) {
    ctx := ir.NewContext()

    // quiet: <clinit> only stores a constant into its own statics
    quiet := newClass(ctx, "Lq/Q;")
    own := ctx.MakeField("Lq/Q;", "x", "I").MakeConcrete(&ir.FieldDef { Access: ir.AccPublic | ir.AccStatic })
    quiet.AddField(own)
    clinit := ctx.MakeMethod("Lq/Q;", "<clinit>", "V").MakeConcrete(&ir.MethodDef { Access: ir.AccStatic | ir.AccConstructor })
    qc := ir.NewCodeForMethod(clinit, 1)
    qc.List().PushBack(ir.NewInsnEntry(ir.NewInsn(ir.OpConst).SetDest(0).SetLiteral(7)))
    qc.List().PushBack(ir.NewInsnEntry(ir.NewInsn(ir.OpSput).SetSrcs(0).SetField(own)))
    qc.List().PushBack(ir.NewInsnEntry(ir.NewInsn(ir.OpReturnVoid)))
    clinit.Def().Code = qc
    quiet.AddMethod(clinit)

    // loud: <clinit> calls out
    loud := newClass(ctx, "Ll/L;")
    sideEffect := ctx.MakeMethod("Ljava/lang/System;", "gc", "V")
    noisy := ctx.MakeMethod("Ll/L;", "<clinit>", "V").MakeConcrete(&ir.MethodDef { Access: ir.AccStatic | ir.AccConstructor })
    lc := ir.NewCodeForMethod(noisy, 0)
    lc.List().PushBack(ir.NewInsnEntry(ir.NewInsn(ir.OpInvokeStatic).SetMethod(sideEffect)))
    lc.List().PushBack(ir.NewInsnEntry(ir.NewInsn(ir.OpReturnVoid)))
    noisy.Def().Code = lc
    loud.AddMethod(noisy)

    run := runWith(ctx, quiet, loud)
    effects := SideEffectInits(run.Scope)
    assert.False(t, effects[quiet.Type()])
    assert.True(t, effects[loud.Type()])
}

func TestColdstartOrdering(t *testing.T) {
    assert.Equal(t, "La/B;", classDescriptor("a/B.class"))
    assert.Equal(t, "La/B;", classDescriptor("a.B"))
    assert.Equal(t, "La/B;", classDescriptor("La/B;"))
}

func TestProfiledOrdering(t *testing.T) {
    ctx := ir.NewContext()
    cold := newClass(ctx, "La/Cold;")
    warm := newClass(ctx, "La/Warm;")
    rest := newClass(ctx, "La/Rest;")
    for _, c := range []*ir.Class { cold, warm, rest } {
        staticIn(ctx, c, "run", 0)
    }

    dir := t.TempDir()
    coldFile := filepath.Join(dir, "coldstart.txt")
    profFile := filepath.Join(dir, "profiled.txt")
    require.NoError(t, os.WriteFile(coldFile, []byte("a/Cold.class\n"), 0o644))
    require.NoError(t, os.WriteFile(profFile, []byte("La/Rest;.skipped:()V\nLa/Warm;.run:()V\n"), 0o644))

    run := runWith(ctx, rest, warm, cold)
    run.Config.Set("coldstart_classes", coldFile)
    run.Config.Set("profiled_methods_file", profFile)
    run.Config.Set("method_sorting_whitelisted_substrings", []interface{}{".run:"})

    require.NoError(t, new(InterDexPass).Run(run))
    require.Len(t, run.Dexes, 1)

    var names []string
    for _, c := range run.Dexes[0].Classes {
        names = append(names, c.Name())
    }
    assert.Equal(t, []string { "La/Cold;", "La/Warm;", "La/Rest;" }, names)
    assert.True(t, warm.PerfSensitive())
    assert.False(t, rest.PerfSensitive())
    m := run.MetricsOf("InterDexPass")
    assert.Equal(t, int64(1), m["coldstart_classes"])
    assert.Equal(t, int64(1), m["profiled_classes"])
}

func TestConstProp_ExemptAnnotation(t *testing.T) {
    ctx := ir.NewContext()
    cls := newClass(ctx, "La/A;")

    // const v0, #0; if-eqz v0 -> L1; dead const; L1: return-void
    foldable := func(name string) *ir.MethodRef {
        br := ir.NewInsn(ir.OpIfEqz).SetSrcs(0)
        m := staticIn(ctx, cls, name, 2,
            ir.NewInsn(ir.OpConst).SetDest(0).SetLiteral(0),
            br,
            ir.NewInsn(ir.OpConst).SetDest(1).SetLiteral(1))
        l := m.Code().List()
        brE := l.Front()
        for brE.Insn != br {
            brE = brE.Next()
        }
        l.InsertBefore(l.Back(), ir.NewTargetEntry(&ir.BranchTarget { Kind: ir.TargetSimple, Src: brE }))
        return m
    }
    keep := foldable("keep")
    keep.Def().Anno = &ir.AnnotationSet { Annos: []*ir.Annotation {
        { Type: ctx.MakeType("Lanno/NoOpt;") },
    }}
    foldable("fold")

    run := runWith(ctx, cls)
    run.Config.Set("no_optimizations_annotations", []interface{}{"Lanno/NoOpt;"})
    require.NoError(t, new(ConstantPropagationPass).Run(run))

    m := run.MetricsOf("ConstantPropagationPass")
    assert.Equal(t, int64(1), m["methods_exempt"])
    assert.Equal(t, int64(1), m["folded_branches"])

    /* the annotated body keeps its branch */
    var ifs int
    keep.Code().ForEachInsn(func(p *ir.Instruction) bool {
        if p.Op() == ir.OpIfEqz {
            ifs++
        }
        return true
    })
    assert.Equal(t, 1, ifs)
}

func TestTypeCheckPass_SoftDemotes(t *testing.T) {
    ctx := ir.NewContext()
    cls := newClass(ctx, "La/A;")

    // add-int on a register nothing defined
    staticIn(ctx, cls, "bad", 2, ir.NewInsn(ir.OpAddInt).SetDest(0).SetSrcs(1, 1))

    run := runWith(ctx, cls)
    require.Error(t, new(TypeCheckPass).Run(run))

    run = runWith(ctx, cls)
    run.Config.Set("IRTypeCheckerPass.soft", true)
    require.NoError(t, new(TypeCheckPass).Run(run))
    assert.Equal(t, int64(1), run.MetricsOf("IRTypeCheckerPass")["type_errors"])
}
