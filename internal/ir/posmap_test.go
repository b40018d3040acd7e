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
    `bytes`
    `testing`

    `github.com/stretchr/testify/assert`
    `github.com/stretchr/testify/require`
)

func TestPositionMapper_ParentChain(t *testing.T) {
    ctx := NewContext()
    outer := NewPosition(ctx.MakeString("A.java"), 10)
    mid := NewPosition(ctx.MakeString("B.java"), 20)
    mid.Parent = outer
    leaf := NewPosition(nil, 30)
    leaf.Parent = mid

    pm := NewPositionMapper()
    /* registering the leaf pulls the whole chain in, parents first */
    assert.Equal(t, 3, pm.Register(leaf))
    assert.Equal(t, 3, pm.Len())

    /* re-registration keeps the original line */
    assert.Equal(t, 1, pm.Register(outer))
    assert.Equal(t, 3, pm.Register(leaf))
    assert.Equal(t, 3, pm.Len())

    var buf bytes.Buffer
    require.NoError(t, pm.WriteTo(&buf))
    assert.Equal(t, "A.java:10\nB.java:20|1\nunknown:30|2\n", buf.String())
}

func TestPositionMapper_RegisterCode(t *testing.T) {
    ctx := NewContext()
    m := ctx.MakeMethod("La/A;", "f", "V").MakeConcrete(&MethodDef { Access: AccPublic | AccStatic })
    code := NewCodeForMethod(m, 1)

    p1 := NewPosition(ctx.MakeString("A.java"), 5)
    p2 := NewPosition(ctx.MakeString("A.java"), 6)
    l := code.List()
    l.PushBack(NewPositionEntry(p1))
    l.PushBack(NewInsnEntry(NewInsn(OpConst).SetDest(0).SetLiteral(1)))
    l.PushBack(NewPositionEntry(p2))
    l.PushBack(NewInsnEntry(NewInsn(OpReturnVoid)))

    pm := NewPositionMapper()
    pm.RegisterCode(code)
    require.Equal(t, 2, pm.Len())
    assert.Equal(t, 1, pm.Register(p1))
    assert.Equal(t, 2, pm.Register(p2))

    /* nil registers to line 0 and never lands in the map */
    assert.Equal(t, 0, pm.Register(nil))
    assert.Equal(t, 2, pm.Len())
}
