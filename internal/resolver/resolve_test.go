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

package resolver

import (
    `testing`

    `github.com/bytedance/dexter/internal/ir`
    `github.com/stretchr/testify/assert`
    `github.com/stretchr/testify/require`
)

// testScope builds the fixture hierarchy:
//
//     La/A;                     virtual f lone, static s, instance field x
//     Li/I;  interface          virtual g h, static field K
//     La/B;  extends A, impl I  virtual f g
//     La/C;  extends B          virtual f
//     La/D;  extends A, impl I  nothing of its own
//     La/E;  extends B, impl I  inherits the g implementation from B
func testScope(ctx *ir.Context) *ir.Scope {
    obj := ctx.MakeType("Ljava/lang/Object;")
    mkv := func(cls string, name string) *ir.MethodRef {
        return ctx.MakeMethod(cls, name, "V").MakeConcrete(&ir.MethodDef { Access: ir.AccPublic, Virtual: true })
    }

    a := ir.NewClass(ctx.MakeType("La/A;"), obj, ir.AccPublic)
    a.AddMethod(ctx.MakeMethod("La/A;", "<init>", "V").MakeConcrete(&ir.MethodDef { Access: ir.AccPublic | ir.AccConstructor }))
    a.AddMethod(ctx.MakeMethod("La/A;", "s", "I").MakeConcrete(&ir.MethodDef { Access: ir.AccPublic | ir.AccStatic }))
    a.AddMethod(mkv("La/A;", "f"))
    a.AddMethod(mkv("La/A;", "lone"))
    a.AddField(ctx.MakeField("La/A;", "x", "I").MakeConcrete(&ir.FieldDef { Access: ir.AccPublic }))

    i := ir.NewClass(ctx.MakeType("Li/I;"), obj, ir.AccPublic | ir.AccInterface | ir.AccAbstract)
    i.AddMethod(mkv("Li/I;", "g"))
    i.AddMethod(mkv("Li/I;", "h"))
    i.AddField(ctx.MakeField("Li/I;", "K", "I").MakeConcrete(&ir.FieldDef { Access: ir.AccPublic | ir.AccStatic | ir.AccFinal }))

    b := ir.NewClass(ctx.MakeType("La/B;"), a.Type(), ir.AccPublic)
    b.SetInterfaces(ctx.MakeTypeList([]*ir.Type{i.Type()}))
    b.AddMethod(mkv("La/B;", "f"))
    b.AddMethod(mkv("La/B;", "g"))

    c := ir.NewClass(ctx.MakeType("La/C;"), b.Type(), ir.AccPublic)
    c.AddMethod(mkv("La/C;", "f"))

    d := ir.NewClass(ctx.MakeType("La/D;"), a.Type(), ir.AccPublic)
    d.SetInterfaces(ctx.MakeTypeList([]*ir.Type{i.Type()}))

    e := ir.NewClass(ctx.MakeType("La/E;"), b.Type(), ir.AccPublic)
    e.SetInterfaces(ctx.MakeTypeList([]*ir.Type{i.Type()}))

    store := ir.NewDexStore("classes")
    for _, cls := range []*ir.Class{a, i, b, c, d, e} {
        store.AddClass(cls)
    }
    return ir.NewScope(store)
}

func classNames(cs []*ir.Class) []string {
    r := make([]string, 0, len(cs))
    for _, c := range cs {
        r = append(r, c.Name())
    }
    return r
}

func TestHierarchy(t *testing.T) {
    ctx := ir.NewContext()
    ch := NewHierarchy(testScope(ctx))

    ta := ctx.MakeType("La/A;")
    ti := ctx.MakeType("Li/I;")

    assert.Equal(t, []string{"La/B;", "La/D;"}, classNames(ch.Children(ta)))
    assert.Equal(t, []string{"La/B;", "La/D;", "La/E;"}, classNames(ch.Implementors(ti)))

    assert.True(t, ch.IsSubclassOf(ctx.MakeType("La/C;"), ta))
    assert.True(t, ch.IsSubclassOf(ta, ta))
    assert.False(t, ch.IsSubclassOf(ta, ctx.MakeType("La/C;")))

    var subs []string
    ch.ForEachSubclass(ta, func(c *ir.Class) { subs = append(subs, c.Name()) })
    assert.Equal(t, []string{"La/B;", "La/D;", "La/C;", "La/E;"}, subs)

    var impls []string
    ch.ForEachImplementor(ti, func(c *ir.Class) { impls = append(impls, c.Name()) })
    assert.Equal(t, []string{"La/B;", "La/D;", "La/E;", "La/C;"}, impls)
}

func TestResolveMethod(t *testing.T) {
    ctx := ir.NewContext()
    r := NewResolver(NewHierarchy(testScope(ctx)))

    /* inherited virtual resolves up the chain */
    got := r.ResolveMethod(ctx.MakeMethod("La/C;", "g", "V"), SearchVirtual)
    require.NotNil(t, got)
    assert.Same(t, ctx.MakeMethod("La/B;", "g", "V"), got)

    /* statics resolve through the direct member lists */
    got = r.ResolveMethod(ctx.MakeMethod("La/B;", "s", "I"), SearchStatic)
    require.NotNil(t, got)
    assert.Same(t, ctx.MakeMethod("La/A;", "s", "I"), got)

    /* interface defaults are found after the superclass chain */
    got = r.ResolveMethod(ctx.MakeMethod("La/B;", "h", "V"), SearchVirtual)
    require.NotNil(t, got)
    assert.Same(t, ctx.MakeMethod("Li/I;", "h", "V"), got)

    /* a concrete reference binds to itself */
    cf := ctx.MakeMethod("La/C;", "f", "V")
    assert.Same(t, cf, r.ResolveMethod(cf, SearchVirtual))

    /* unknown members stay unresolved, cached or not */
    miss := ctx.MakeMethod("La/A;", "nope", "V")
    assert.Nil(t, r.ResolveMethod(miss, SearchVirtual))
    assert.Nil(t, r.ResolveMethod(miss, SearchVirtual))
}

func TestResolveField(t *testing.T) {
    ctx := ir.NewContext()
    r := NewResolver(NewHierarchy(testScope(ctx)))

    /* instance fields resolve up the superclass chain */
    got := r.ResolveField(ctx.MakeField("La/C;", "x", "I"), FieldAny)
    require.NotNil(t, got)
    assert.Same(t, ctx.MakeField("La/A;", "x", "I"), got)

    /* interface constants are visible through the implementor */
    got = r.ResolveField(ctx.MakeField("La/B;", "K", "I"), FieldStatic)
    require.NotNil(t, got)
    assert.Same(t, ctx.MakeField("Li/I;", "K", "I"), got)

    /* kind mismatches do not resolve */
    assert.Nil(t, r.ResolveField(ctx.MakeField("La/C;", "x", "I"), FieldStatic))
}

func TestOverrideGraph(t *testing.T) {
    ctx := ir.NewContext()
    g := BuildOverrides(NewHierarchy(testScope(ctx)))

    af := ctx.MakeMethod("La/A;", "f", "V")
    bf := ctx.MakeMethod("La/B;", "f", "V")
    cf := ctx.MakeMethod("La/C;", "f", "V")
    bg := ctx.MakeMethod("La/B;", "g", "V")
    ig := ctx.MakeMethod("Li/I;", "g", "V")

    assert.Equal(t, []*ir.MethodRef{af}, g.Overrides(bf))
    assert.Equal(t, []*ir.MethodRef{bf}, g.Overrides(cf))
    assert.Equal(t, []*ir.MethodRef{ig}, g.Overrides(bg))
    assert.Equal(t, []*ir.MethodRef{bg}, g.Overriders(ig))

    assert.True(t, g.IsTrueVirtual(af))
    assert.True(t, g.IsTrueVirtual(ig))
    assert.False(t, g.IsTrueVirtual(ctx.MakeMethod("La/A;", "lone", "V")))

    var over []*ir.MethodRef
    g.ForEachOverrider(af, func(m *ir.MethodRef) { over = append(over, m) })
    assert.Equal(t, []*ir.MethodRef{bf, cf}, over)

    var up []*ir.MethodRef
    g.ForEachOverridden(cf, func(m *ir.MethodRef) { up = append(up, m) })
    assert.Equal(t, []*ir.MethodRef{bf, af}, up)
}
