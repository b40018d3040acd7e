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

package ir

import (
    `testing`

    `github.com/stretchr/testify/assert`
    `github.com/stretchr/testify/require`
)

func TestCode_LoadParams(t *testing.T) {
    ctx := NewContext()
    m := ctx.MakeMethod("La/B;", "f", "V", "I", "J", "La/B;")

    /* no definition attached reads as an instance method */
    code := NewCodeForMethod(m, 2)
    require.Equal(t, uint32(7), code.Regs())

    var ops []Op
    var dst []Reg
    code.List().ForEachInsn(func(p *Instruction) bool {
        ops = append(ops, p.Op())
        dst = append(dst, p.Dest())
        return true
    })
    assert.Equal(t, []Op{OpLoadParamObject, OpLoadParam, OpLoadParamWide, OpLoadParamObject}, ops)
    assert.Equal(t, []Reg{2, 3, 4, 6}, dst)

    /* static methods skip the receiver */
    s := ctx.MakeMethod("La/B;", "g", "V", "I")
    s.MakeConcrete(&MethodDef{Access: AccPublic | AccStatic})
    code = NewCodeForMethod(s, 0)
    require.Equal(t, uint32(1), code.Regs())
    assert.Equal(t, OpLoadParam, code.List().FirstInsn().Insn.Op())
}

func TestCode_AllocTemp(t *testing.T) {
    code := NewCode(4)
    assert.Equal(t, Reg(4), code.AllocTemp())
    assert.Equal(t, Reg(5), code.AllocTempWide())
    assert.Equal(t, uint32(7), code.Regs())
}

func TestCode_ExclusiveForms(t *testing.T) {
    code := diamondCode()
    require.NotPanics(t, func() { code.List() })
    require.Panics(t, func() { code.CFG() })

    code.BuildCFG(true, false)
    require.Panics(t, func() { code.List() })
    require.NotPanics(t, func() { code.CFG() })

    /* a second build without fresh is refused */
    require.Panics(t, func() { code.BuildCFG(true, false) })
    require.NotPanics(t, func() { code.BuildCFG(true, true) })

    code.ClearCFG()
    require.NotPanics(t, func() { code.List() })
}

func TestCode_NonEditableBounds(t *testing.T) {
    code := diamondCode()
    n := code.InsnCount()

    /* read-only graphs leave the list intact */
    cfg := code.BuildCFG(false, false)
    require.Equal(t, 4, len(cfg.Blocks()))
    require.Panics(t, func() { cfg.AllocBlock() })

    code.ClearCFG()
    assert.Equal(t, n, code.InsnCount())
}

func TestClass_MemberRouting(t *testing.T) {
    ctx := NewContext()
    ct := ctx.MakeType("La/B;")
    cls := NewClass(ct, ctx.MakeType("Ljava/lang/Object;"), AccPublic)

    sf := ctx.MakeField("La/B;", "S", "I").MakeConcrete(&FieldDef{Access: AccPublic | AccStatic})
    inf := ctx.MakeField("La/B;", "i", "I").MakeConcrete(&FieldDef{Access: AccPublic})
    cls.AddField(sf)
    cls.AddField(inf)
    require.Equal(t, []*FieldRef{sf}, cls.StaticFields())
    require.Equal(t, []*FieldRef{inf}, cls.InstanceFields())

    dm := ctx.MakeMethod("La/B;", "<clinit>", "V").MakeConcrete(&MethodDef{Access: AccStatic | AccConstructor})
    vm := ctx.MakeMethod("La/B;", "run", "V").MakeConcrete(&MethodDef{Access: AccPublic, Virtual: true})
    cls.AddMethod(dm)
    cls.AddMethod(vm)
    require.Equal(t, []*MethodRef{dm}, cls.DirectMethods())
    require.Equal(t, []*MethodRef{vm}, cls.VirtualMethods())
    require.Same(t, dm, cls.Clinit())
    require.Same(t, vm, cls.FindMethod(vm.NameString(), vm.Proto()))

    require.True(t, cls.RemoveMethod(vm))
    require.False(t, cls.RemoveMethod(vm))
    require.Empty(t, cls.VirtualMethods())
}

func TestScope_RebuildDetaches(t *testing.T) {
    ctx := NewContext()
    ct := ctx.MakeType("La/B;")
    cls := NewClass(ct, ctx.MakeType("Ljava/lang/Object;"), AccPublic)

    f := ctx.MakeField("La/B;", "x", "I").MakeConcrete(&FieldDef{Access: AccPublic | AccStatic})
    m := ctx.MakeMethod("La/B;", "go", "V").MakeConcrete(&MethodDef{Access: AccPublic})
    cls.AddField(f)
    cls.AddMethod(m)

    store := NewDexStore("classes")
    store.AddClass(cls)
    scope := NewScope(store)
    require.Same(t, cls, scope.ClassOf(ct))
    require.True(t, f.IsConcrete())
    require.True(t, m.IsConcrete())

    store.RemoveClass(cls)
    scope.Rebuild()
    require.Nil(t, scope.ClassOf(ct))
    require.False(t, f.IsConcrete())
    require.False(t, m.IsConcrete())

    /* the refs stay interned and navigable */
    require.Same(t, f, ctx.GetFieldRef(f.Class(), f.NameString(), f.Type()))
    require.Same(t, m, ctx.GetMethodRef(m.Class(), m.NameString(), m.Proto()))
}

func TestInstruction_WideSources(t *testing.T) {
    ctx := NewContext()

    add := NewInsn(OpAddLong).SetDest(0).SetSrcs(2, 4)
    assert.True(t, add.SrcIsWide(0))
    assert.True(t, add.SrcIsWide(1))
    assert.True(t, add.DestIsWide())

    shl := NewInsn(OpShlLong).SetDest(0).SetSrcs(2, 4)
    assert.True(t, shl.SrcIsWide(0))
    assert.False(t, shl.SrcIsWide(1), "shift distance is a plain int")

    /* invoke wideness follows the callee proto, receiver excluded */
    m := ctx.MakeMethod("La/B;", "f", "V", "J", "I")
    inv := NewInsn(OpInvokeVirtual).SetMethod(m).SetSrcs(0, 1, 3)
    assert.False(t, inv.SrcIsWide(0))
    assert.True(t, inv.SrcIsWide(1))
    assert.False(t, inv.SrcIsWide(2))
}
