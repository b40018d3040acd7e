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

package proguard

import (
    `strings`
    `testing`

    `github.com/bytedance/dexter/internal/ir`
    `github.com/stretchr/testify/assert`
    `github.com/stretchr/testify/require`
)

const testMap = `# compiler: R8
com.example.Upload -> a.b.c:
    int retryCount -> a
    java.lang.String[] parts -> b
    void <init>() -> <init>
    13:15:void enqueue(byte[],int) -> b
    void enqueue(long) -> b
    1:1:int size():42 -> c
untouched.Klass -> x.y.Z:
`

func TestParse_IndexesByObfuscatedNames(t *testing.T) {
    m, err := Parse(strings.NewReader(testMap))
    require.NoError(t, err)
    require.Equal(t, 2, m.Len())

    cm := m.ClassOf("La/b/c;")
    require.NotNil(t, cm)
    assert.Equal(t, "Lcom/example/Upload;", cm.Original)

    name, ok := cm.Field("a", "I")
    require.True(t, ok)
    assert.Equal(t, "retryCount", name)

    name, ok = cm.Field("b", "[Ljava/lang/String;")
    require.True(t, ok)
    assert.Equal(t, "parts", name)

    /* overloads stay distinct through the full signature */
    name, ok = cm.Method("b", "([BI)V")
    require.True(t, ok)
    assert.Equal(t, "enqueue", name)

    name, ok = cm.Method("b", "(J)V")
    require.True(t, ok)
    assert.Equal(t, "enqueue", name)

    /* debug-line prefixes and suffixes are not part of the shape */
    name, ok = cm.Method("c", "()I")
    require.True(t, ok)
    assert.Equal(t, "size", name)

    name, ok = cm.Method("<init>", "()V")
    require.True(t, ok)
    assert.Equal(t, "<init>", name)

    _, ok = cm.Method("b", "(I)V")
    assert.False(t, ok)
    assert.Nil(t, m.ClassOf("Lno/Such;"))
}

func TestParse_RejectsMalformedLines(t *testing.T) {
    _, err := Parse(strings.NewReader("    int stray -> a\n"))
    require.Error(t, err)

    pe, ok := err.(*ParseError)
    require.True(t, ok)
    assert.Equal(t, 1, pe.Line)

    _, err = Parse(strings.NewReader("com.example.Upload:\n"))
    assert.Error(t, err)

    _, err = Parse(strings.NewReader("a.C -> b.D:\n    nonsense\n"))
    require.Error(t, err)
    pe, ok = err.(*ParseError)
    require.True(t, ok)
    assert.Equal(t, 2, pe.Line)
}

func TestApply_WritesDeobfNames(t *testing.T) {
    m, err := Parse(strings.NewReader(testMap))
    require.NoError(t, err)

    ctx := ir.NewContext()
    obj := ctx.MakeType("Ljava/lang/Object;")

    cls := ir.NewClass(ctx.MakeType("La/b/c;"), obj, ir.AccPublic)
    fa := ctx.MakeField("La/b/c;", "a", "I").MakeConcrete(&ir.FieldDef { Access: ir.AccPublic })
    fz := ctx.MakeField("La/b/c;", "z", "I").MakeConcrete(&ir.FieldDef { Access: ir.AccPublic })
    mb := ctx.MakeMethod("La/b/c;", "b", "V", "J").MakeConcrete(&ir.MethodDef { Access: ir.AccPublic })
    cls.AddField(fa)
    cls.AddField(fz)
    cls.AddMethod(mb)

    other := ir.NewClass(ctx.MakeType("Lq/Q;"), obj, ir.AccPublic)

    store := ir.NewDexStore("classes")
    store.AddClass(cls)
    store.AddClass(other)
    scope := ir.NewScope(store)

    assert.Equal(t, 1, m.Apply(scope))

    assert.Equal(t, "Lcom/example/Upload;", cls.DeobfName())
    assert.Equal(t, "retryCount", fa.Def().DeobfName)
    assert.Equal(t, "enqueue", mb.Def().DeobfName)

    /* members and classes outside the map keep their raw names */
    assert.Equal(t, "", fz.Def().DeobfName)
    assert.Equal(t, "Lq/Q;", other.DeobfName())

    /* ordering keys pick the original names up */
    assert.True(t, strings.HasPrefix(mb.OrderKey(), "enqueue\x00"))
}
