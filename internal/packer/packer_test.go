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

package packer

import (
    `fmt`
    `testing`

    `github.com/bytedance/dexter/internal/ir`
    `github.com/bytedance/dexter/internal/resolver`
    `github.com/stretchr/testify/assert`
    `github.com/stretchr/testify/require`
)

func scopeFor(classes ...*ir.Class) (*resolver.ClassHierarchy, *resolver.OverrideGraph) {
    store := ir.NewDexStore("classes")
    for _, c := range classes {
        store.AddClass(c)
    }
    ch := resolver.NewHierarchy(ir.NewScope(store))
    return ch, resolver.BuildOverrides(ch)
}

func newClass(ctx *ir.Context, name string, super string) *ir.Class {
    return ir.NewClass(ctx.MakeType(name), ctx.MakeType(super), ir.AccPublic)
}

func withFields(ctx *ir.Context, cls *ir.Class, n int) *ir.Class {
    for i := 0; i < n; i++ {
        f := ctx.MakeField(cls.Type().Name(), fmt.Sprintf("f%d", i), "I")
        cls.AddField(f.MakeConcrete(&ir.FieldDef { Access: ir.AccPublic }))
    }
    return cls
}

// withBody attaches a static run()V holding the given instructions, so a
// test controls exactly which refs a class's code contributes.
func withBody(ctx *ir.Context, cls *ir.Class, insns ...*ir.Instruction) *ir.Class {
    m := ctx.MakeMethod(cls.Type().Name(), "run", "V").MakeConcrete(&ir.MethodDef { Access: ir.AccPublic | ir.AccStatic })
    code := ir.NewCodeForMethod(m, 1)
    for _, p := range insns {
        code.List().PushBack(ir.NewInsnEntry(p))
    }
    code.List().PushBack(ir.NewInsnEntry(ir.NewInsn(ir.OpReturnVoid)))
    m.Def().Code = code
    cls.AddMethod(m)
    return cls
}

func virtualIn(ctx *ir.Context, cls *ir.Class, name string) *ir.MethodRef {
    m := ctx.MakeMethod(cls.Type().Name(), name, "V").MakeConcrete(&ir.MethodDef { Access: ir.AccPublic })
    cls.AddMethod(m)
    return m
}

func structFor(cfg *Config, classes ...*ir.Class) *Structure {
    cfg.Limits.fill()
    ch, ovr := scopeFor(classes...)
    return NewStructure(cfg, NewEstimator(ch, ovr))
}

func names(cs []*ir.Class) []string {
    out := make([]string, len(cs))
    for i, c := range cs {
        out[i] = c.Name()
    }
    return out
}

func TestEstimator_CountsVtableSlots(t *testing.T) {
    ctx := ir.NewContext()
    a := newClass(ctx, "La/A;", "Ljava/lang/Object;")
    virtualIn(ctx, a, "foo")
    virtualIn(ctx, a, "bar")

    b := newClass(ctx, "Lb/B;", "La/A;")
    virtualIn(ctx, b, "foo")
    virtualIn(ctx, b, "baz")

    iface := ir.NewClass(ctx.MakeType("Li/I;"), ctx.MakeType("Ljava/lang/Object;"), ir.AccPublic|ir.AccInterface|ir.AccAbstract)
    virtualIn(ctx, iface, "im")

    ch, ovr := scopeFor(a, b, iface)
    est := NewEstimator(ch, ovr)

    assert.Equal(t, 2, est.SlotsOf(a.Type()))
    assert.Equal(t, 3, est.SlotsOf(b.Type())) // foo overrides, baz is new
    assert.Equal(t, 0, est.SlotsOf(iface.Type()))
}

func TestEstimator_GuessesFrameworkBySuffix(t *testing.T) {
    ctx := ir.NewContext()
    act := newClass(ctx, "Lapp/MainActivity;", "Landroid/app/Activity;")
    ch, ovr := scopeFor(act)
    est := NewEstimator(ch, ovr)

    assert.Equal(t, 500, est.SlotsOf(ctx.MakeType("Landroid/app/Activity;")))
    assert.Equal(t, 1500, est.SlotsOf(ctx.MakeType("Landroid/view/ViewGroup;")))
    assert.Equal(t, 100, est.SlotsOf(ctx.MakeType("Landroid/view/View;")))
    assert.Equal(t, 100, est.SlotsOf(ctx.MakeType("Landroid/widget/LinearLayout;")))
    assert.Equal(t, 0, est.SlotsOf(ctx.MakeType("Ljava/lang/Object;")))

    /* the in-scope subclass inherits the guessed framework vtable */
    assert.Equal(t, 500, est.SlotsOf(act.Type()))
    assert.Equal(t, 2000, est.CostOf(act))
}

func TestEstimator_ChargesMembers(t *testing.T) {
    ctx := ir.NewContext()
    m := newClass(ctx, "Lm/M;", "Ljava/lang/Object;")
    withFields(ctx, m, 3)
    virtualIn(ctx, m, "v1")
    m.AddMethod(ctx.MakeMethod("Lm/M;", "s1", "V").MakeConcrete(&ir.MethodDef { Access: ir.AccPublic | ir.AccStatic }))
    m.AddMethod(ctx.MakeMethod("Lm/M;", "s2", "V").MakeConcrete(&ir.MethodDef { Access: ir.AccPublic | ir.AccStatic }))

    iface := ir.NewClass(ctx.MakeType("Li/I;"), ctx.MakeType("Ljava/lang/Object;"), ir.AccPublic|ir.AccInterface|ir.AccAbstract)
    virtualIn(ctx, iface, "im")

    ch, ovr := scopeFor(m, iface)
    est := NewEstimator(ch, ovr)

    /* 2 directs, 1 virtual, 3 instance fields, 1 vtable slot */
    assert.Equal(t, 2*90+38+3*16+4, est.CostOf(m))

    /* interfaces have no vtable */
    assert.Equal(t, 38, est.CostOf(iface))
}

func TestStructure_RefcountsSharedRefs(t *testing.T) {
    ctx := ir.NewContext()
    shared := ctx.MakeField("Lx/E;", "s", "I")

    a := withBody(ctx, newClass(ctx, "La/A;", "Ljava/lang/Object;"),
        ir.NewInsn(ir.OpSget).SetField(shared),
        ir.NewInsn(ir.OpMoveResultPseudo).SetDest(0))
    b := withBody(ctx, newClass(ctx, "Lb/B;", "Ljava/lang/Object;"),
        ir.NewInsn(ir.OpSget).SetField(shared),
        ir.NewInsn(ir.OpMoveResultPseudo).SetDest(0))

    cfg := &Config{}
    st := structFor(cfg, a, b)

    ok, over := st.TryAdd(a)
    require.True(t, ok)
    require.Equal(t, OverNone, over)
    assert.Equal(t, 5, st.TypeRefs()) // La/A; Object V Lx/E; I
    assert.Equal(t, 1, st.FieldRefs())
    assert.Equal(t, 1, st.MethodRefs())
    assert.Equal(t, 90, st.Alloc()) // one direct method

    ok, _ = st.TryAdd(b)
    require.True(t, ok)
    assert.Equal(t, 6, st.TypeRefs())
    assert.Equal(t, 1, st.FieldRefs())
    assert.Equal(t, 2, st.MethodRefs())
    assert.Equal(t, 180, st.Alloc())

    /* the shared field ref stays while any owner remains */
    require.True(t, st.Remove(a))
    assert.Equal(t, 5, st.TypeRefs())
    assert.Equal(t, 1, st.FieldRefs())
    assert.Equal(t, 1, st.MethodRefs())
    assert.False(t, st.Remove(a))

    require.True(t, st.Remove(b))
    assert.Equal(t, 0, st.TypeRefs())
    assert.Equal(t, 0, st.FieldRefs())
    assert.Equal(t, 0, st.MethodRefs())
    assert.Equal(t, 0, st.Alloc())
    assert.Equal(t, 0, st.Size())
}

func TestStructure_RejectLeavesLedgerUntouched(t *testing.T) {
    ctx := ir.NewContext()
    big := withFields(ctx, newClass(ctx, "Lp/Big;", "Ljava/lang/Object;"), 4)
    fit := withFields(ctx, newClass(ctx, "Lp/Fit;", "Ljava/lang/Object;"), 3)

    cfg := &Config { Limits: Limits { MaxFields: 4 } }
    st := structFor(cfg, big, fit)

    ok, over := st.TryAdd(big)
    require.False(t, ok)
    assert.Equal(t, OverFields, over)
    assert.Equal(t, 0, st.Size())
    assert.Equal(t, 0, st.TypeRefs())
    assert.Equal(t, 0, st.FieldRefs())

    ok, _ = st.TryAdd(fit)
    require.True(t, ok)
    assert.Equal(t, 3, st.FieldRefs())
}

func TestStructure_PendingInitClass(t *testing.T) {
    ctx := ir.NewContext()
    at := ctx.MakeType("La/A;")
    ax := ctx.MakeField("La/A;", "x", "I")

    b := withBody(ctx, newClass(ctx, "Lb/B;", "Ljava/lang/Object;"),
        ir.NewInsn(ir.OpInitClass).SetType(at))
    c := withBody(ctx, newClass(ctx, "Lc/C;", "Ljava/lang/Object;"),
        ir.NewInsn(ir.OpSget).SetField(ax),
        ir.NewInsn(ir.OpMoveResultPseudo).SetDest(0))

    cfg := &Config { SideEffects: map[*ir.Type]bool { at: true } }
    st := structFor(cfg, b, c)

    /* the init target has no field ref into it, so one is reserved */
    ok, _ := st.TryAdd(b)
    require.True(t, ok)
    assert.Equal(t, 1, st.PendingFields())
    assert.Equal(t, 1, st.PendingTypes())

    /* removing the only init-class user releases the reservation */
    require.True(t, st.Remove(b))
    assert.Equal(t, 0, st.PendingFields())
    assert.Equal(t, 0, st.PendingTypes())

    /* a committed field ref into the target covers the dependency */
    ok, _ = st.TryAdd(b)
    require.True(t, ok)
    ok, _ = st.TryAdd(c)
    require.True(t, ok)
    assert.Equal(t, 0, st.PendingFields())
    assert.Equal(t, 0, st.PendingTypes())

    /* losing the last covering field ref re-registers it */
    require.True(t, st.Remove(c))
    assert.Equal(t, 1, st.PendingFields())
    assert.Equal(t, 1, st.PendingTypes())

    /* commit order must not matter */
    st2 := structFor(&Config { SideEffects: map[*ir.Type]bool { at: true } }, b, c)
    ok, _ = st2.TryAdd(c)
    require.True(t, ok)
    ok, _ = st2.TryAdd(b)
    require.True(t, ok)
    assert.Equal(t, 0, st2.PendingFields())
}

func TestStructure_ReservationHoldsSlots(t *testing.T) {
    ctx := ir.NewContext()
    at := ctx.MakeType("La/A;")

    b := withBody(ctx, newClass(ctx, "Lb/B;", "Ljava/lang/Object;"),
        ir.NewInsn(ir.OpInitClass).SetType(at))
    d := withFields(ctx, newClass(ctx, "Ld/D;", "Ljava/lang/Object;"), 2)

    cfg := &Config {
        Limits:      Limits { MaxFields: 3 },
        SideEffects: map[*ir.Type]bool { at: true },
    }
    st := structFor(cfg, b, d)

    ok, _ := st.TryAdd(b)
    require.True(t, ok)
    assert.Equal(t, 0, st.FieldRefs())
    assert.Equal(t, 1, st.PendingFields())

    /* 2 new field refs + 1 reserved is not strictly below 3 */
    ok, over := st.TryAdd(d)
    require.False(t, ok)
    assert.Equal(t, OverFields, over)
    assert.Equal(t, 1, st.Size())

    require.True(t, st.Remove(b))
    ok, _ = st.TryAdd(d)
    require.True(t, ok)
}

func TestPacker_SplitsOnFieldOverflow(t *testing.T) {
    ctx := ir.NewContext()
    c1 := withFields(ctx, newClass(ctx, "Lp/C1;", "Ljava/lang/Object;"), 2)
    c2 := withFields(ctx, newClass(ctx, "Lp/C2;", "Ljava/lang/Object;"), 2)
    c3 := withFields(ctx, newClass(ctx, "Lp/C3;", "Ljava/lang/Object;"), 2)

    ch, ovr := scopeFor(c1, c2, c3)
    p := NewPacker(ch, ovr, Config {
        Primary: true,
        Limits:  Limits { MaxFields: 5 },
    })

    dexes, err := p.Pack([]*ir.Class { c1, c2, c3 })
    require.NoError(t, err)
    require.Len(t, dexes, 2)

    assert.Equal(t, []string { "Lp/C1;", "Lp/C2;" }, names(dexes[0].Classes))
    assert.Equal(t, []string { "Lp/C3;" }, names(dexes[1].Classes))

    assert.Equal(t, DexInfo { Index: 0, Primary: true }, dexes[0].Info)
    assert.Equal(t, DexInfo { Index: 1 }, dexes[1].Info)

    assert.Equal(t, 1, p.Stats().FieldOverflow)
    assert.Equal(t, 2, p.Stats().Dexes)
    assert.Equal(t, 3, p.Stats().Classes)
}

func TestPacker_SplitsOnTypeOverflow(t *testing.T) {
    ctx := ir.NewContext()
    classes := make([]*ir.Class, 65537)
    for i := range classes {
        classes[i] = newClass(ctx, fmt.Sprintf("Lc/C%05x;", i), fmt.Sprintf("Lu/U%05x;", i))
    }

    ch, ovr := scopeFor(classes...)
    p := NewPacker(ch, ovr, Config{})

    dexes, err := p.Pack(classes)
    require.NoError(t, err)
    require.Len(t, dexes, 3)

    /* 2 fresh type refs per class, ceiling 65536, strictly below */
    assert.Len(t, dexes[0].Classes, 32767)
    assert.Len(t, dexes[1].Classes, 32767)
    assert.Len(t, dexes[2].Classes, 3)
    assert.Same(t, classes[32767], dexes[1].Classes[0])

    assert.Equal(t, 2, p.Stats().TypeOverflow)
    assert.Equal(t, 3, p.Stats().Dexes)
    assert.Equal(t, 65537, p.Stats().Classes)
}

func TestPacker_FailsWhenClassAloneOverflows(t *testing.T) {
    ctx := ir.NewContext()
    big := withFields(ctx, newClass(ctx, "Lp/Big;", "Ljava/lang/Object;"), 4)

    ch, ovr := scopeFor(big)
    p := NewPacker(ch, ovr, Config { Limits: Limits { MaxFields: 4 } })

    dexes, err := p.Pack([]*ir.Class { big })
    require.Error(t, err)
    assert.Nil(t, dexes)

    ce, ok := err.(*CeilingError)
    require.True(t, ok)
    assert.Same(t, big, ce.Class)
    assert.Equal(t, OverFields, ce.Counter)
    assert.Contains(t, err.Error(), "field refs")
}

func TestEndDex_PerfPartition(t *testing.T) {
    ctx := ir.NewContext()
    c0 := newClass(ctx, "Lp/Cold0;", "Ljava/lang/Object;")
    h1 := newClass(ctx, "Lp/Hot1;", "Ljava/lang/Object;")
    k := newClass(ctx, "Lsecondary/dex01/Canary;", "Ljava/lang/Object;")
    c1 := newClass(ctx, "Lp/Cold1;", "Ljava/lang/Object;")
    h2 := newClass(ctx, "Lp/Hot2;", "Ljava/lang/Object;")
    h1.SetPerfSensitive(true)
    h2.SetPerfSensitive(true)
    k.SetPerfSensitive(true)

    input := []*ir.Class { c0, h1, k, c1, h2 }

    st := structFor(&Config { PerfFirst: true }, input...)
    for _, c := range input {
        st.ForceAdd(c)
    }
    d := st.EndDex(DexInfo { Index: 0 })

    /* hot classes lead, both groups keep order, the canary keeps its slot */
    assert.Equal(t, []string {
        "Lp/Hot1;", "Lp/Hot2;", "Lsecondary/dex01/Canary;", "Lp/Cold0;", "Lp/Cold1;",
    }, names(d.Classes))

    /* the ledger is fresh for the next DEX */
    assert.Equal(t, 0, st.Size())
    assert.Equal(t, 0, st.TypeRefs())
    assert.Equal(t, 0, st.Alloc())
}

func TestEndDex_LegacyPerfSwap(t *testing.T) {
    ctx := ir.NewContext()
    c0 := newClass(ctx, "Lp/Cold0;", "Ljava/lang/Object;")
    h1 := newClass(ctx, "Lp/Hot1;", "Ljava/lang/Object;")
    k := newClass(ctx, "Lsecondary/dex01/Canary;", "Ljava/lang/Object;")
    c1 := newClass(ctx, "Lp/Cold1;", "Ljava/lang/Object;")
    h2 := newClass(ctx, "Lp/Hot2;", "Ljava/lang/Object;")
    h1.SetPerfSensitive(true)
    h2.SetPerfSensitive(true)

    input := []*ir.Class { c0, h1, k, c1, h2 }

    st := structFor(&Config { PerfFirst: true, LegacyPerfSwap: true }, input...)
    for _, c := range input {
        st.ForceAdd(c)
    }
    d := st.EndDex(DexInfo { Index: 0 })

    /* each hot class bubbles up a single slot, never across the canary */
    assert.Equal(t, []string {
        "Lp/Hot1;", "Lp/Cold0;", "Lsecondary/dex01/Canary;", "Lp/Hot2;", "Lp/Cold1;",
    }, names(d.Classes))
}
