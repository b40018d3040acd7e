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
    `testing`

    `github.com/bytedance/dexter/internal/ir`
    `github.com/stretchr/testify/assert`
    `github.com/stretchr/testify/require`
)

func TestRegistry_MonotonicCommit(t *testing.T) {
    ctx := ir.NewContext()
    m := ctx.MakeMethod("La/A;", "f", "V")
    reg := NewRegistry()

    assert.Nil(t, reg.Get(m))
    assert.True(t, reg.Commit(m, DepthOf(1)))
    assert.True(t, reg.Commit(m, DepthOf(3)))

    /* a commit below the current value joins away */
    assert.False(t, reg.Commit(m, DepthOf(2)))
    assert.Equal(t, DepthOf(3), reg.Get(m))
    assert.Equal(t, 1, reg.Len())
}

func TestContextMap_MergedPartition(t *testing.T) {
    ctx := ir.NewContext()
    m := ctx.MakeMethod("La/A;", "f", "V")
    cm := NewContextMap()

    c1 := NewCallContext()
    c1.SetArg(0, RefOf(AbstractObject { Kind: KindClass, Type: ctx.MakeType("La/X;") }))

    site := ir.NewInsn(ir.OpInvokeStatic).SetMethod(m)
    assert.True(t, cm.Update(m, site, c1))
    assert.False(t, cm.Update(m, site, c1))

    got, ok := cm.Of(m).(*CallContext)
    require.True(t, ok)
    obj, ok := got.Arg(0).Object()
    require.True(t, ok)
    assert.Same(t, ctx.MakeType("La/X;"), obj.Type)

    /* the plain partition never keeps per-site contexts */
    assert.False(t, cm.Partitioned())
    assert.Nil(t, cm.AtSite(m, site))
}

func TestContextMap_CallsitePartition(t *testing.T) {
    ctx := ir.NewContext()
    m := ctx.MakeMethod("La/A;", "f", "V")
    cm := NewCallsiteContextMap()

    s1 := ir.NewInsn(ir.OpInvokeStatic).SetMethod(m)
    s2 := ir.NewInsn(ir.OpInvokeStatic).SetMethod(m)

    c1 := NewCallContext()
    c1.SetArg(0, RefOf(AbstractObject { Kind: KindClass, Type: ctx.MakeType("La/X;") }))
    c2 := NewCallContext()
    c2.SetArg(0, RefOf(AbstractObject { Kind: KindClass, Type: ctx.MakeType("La/Y;") }))

    assert.True(t, cm.Update(m, s1, c1))
    assert.True(t, cm.Update(m, s2, c2))
    assert.True(t, cm.Partitioned())

    /* sites disagree, so the merged view loses the argument */
    merged := cm.Of(m).(*CallContext)
    assert.True(t, merged.Arg(0).IsTop())

    /* while each site keeps its own contribution */
    a1, _ := cm.AtSite(m, s1).(*CallContext)
    require.NotNil(t, a1)
    obj, ok := a1.Arg(0).Object()
    require.True(t, ok)
    assert.Same(t, ctx.MakeType("La/X;"), obj.Type)

    a2, _ := cm.AtSite(m, s2).(*CallContext)
    require.NotNil(t, a2)
    obj, ok = a2.Arg(0).Object()
    require.True(t, ok)
    assert.Same(t, ctx.MakeType("La/Y;"), obj.Type)
}
